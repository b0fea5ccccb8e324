package protocol

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relaychat/internal/models"
	"relaychat/internal/room"
)

func TestByName(t *testing.T) {
	tests := []struct {
		name   string
		want   string
		wantOK bool
	}{
		{SubprotocolJSON, SubprotocolJSON, true},
		{SubprotocolCBOR, SubprotocolCBOR, true},
		{"", SubprotocolJSON, true},
		{"xml", "", false},
	}
	for _, tt := range tests {
		c, ok := ByName(tt.name)
		if ok != tt.wantOK {
			t.Fatalf("ByName(%q) ok = %v, want %v", tt.name, ok, tt.wantOK)
		}
		if ok && c.Name() != tt.want {
			t.Errorf("ByName(%q) = %s, want %s", tt.name, c.Name(), tt.want)
		}
	}
}

func TestCodec_MessageType(t *testing.T) {
	assert.Equal(t, websocket.TextMessage, JSON.MessageType())
	assert.Equal(t, websocket.BinaryMessage, CBOR.MessageType())
}

// 两种编码下，事件帧经过 Emitter 编码后都能被 Dispatch 还原。
func TestEmitterDispatch(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 123, time.UTC)
	for _, c := range []Codec{JSON, CBOR} {
		t.Run(c.Name(), func(t *testing.T) {
			var frames [][]byte
			emit := Emitter(func(_ context.Context, event string, payload any) error {
				body, err := c.Marshal(payload)
				if err != nil {
					return err
				}
				frame, err := c.EncodeEnvelope(Envelope{Type: TypeEvent, Name: event, Payload: body})
				if err != nil {
					return err
				}
				frames = append(frames, frame)
				return nil
			})

			ctx := context.Background()
			require.NoError(t, emit.OnMessageReceived(ctx, MessageDTO{ID: 1, RoomRef: -4, Sender: "a", Content: "hi", Timestamp: at}))
			require.NoError(t, emit.OnUserLeftGroup(ctx, 9, "bob", true, "carol"))
			require.NoError(t, emit.OnMessageDeleted(ctx, 5, 9))
			require.NoError(t, emit.OnDisconnected(ctx, "bye"))

			rec := &recorder{}
			for _, f := range frames {
				env, err := c.DecodeEnvelope(f)
				require.NoError(t, err)
				require.NoError(t, Dispatch(ctx, c, env, rec))
			}

			require.Len(t, rec.messages, 1)
			assert.Equal(t, room.Ref(-4), rec.messages[0].RoomRef)
			assert.Equal(t, "hi", rec.messages[0].Content)
			assert.True(t, rec.messages[0].Timestamp.Equal(at))
			assert.Equal(t, UserLeftEvent{RoomID: 9, Username: "bob", WasRemoved: true, RemovedBy: "carol"}, rec.left)
			assert.Equal(t, MessageDeletedEvent{MessageID: 5, RoomRef: 9}, rec.deleted)
			assert.Equal(t, "bye", rec.reason)
		})
	}
}

func TestDecodeEnvelope_Malformed(t *testing.T) {
	for _, c := range []Codec{JSON, CBOR} {
		_, err := c.DecodeEnvelope([]byte{0xff, 0x00})
		if !errors.Is(err, ErrMalformedFrame) {
			t.Errorf("%s DecodeEnvelope(garbage) error = %v, want %v", c.Name(), err, ErrMalformedFrame)
		}
		frame, err := c.EncodeEnvelope(Envelope{Type: TypeRequest})
		require.NoError(t, err)
		if _, err := c.DecodeEnvelope(frame); !errors.Is(err, ErrMalformedFrame) {
			t.Errorf("%s DecodeEnvelope(request without name) error = %v, want %v", c.Name(), err, ErrMalformedFrame)
		}
	}
}

func TestEnvelope_ErrorRoundTrip(t *testing.T) {
	for _, c := range []Codec{JSON, CBOR} {
		frame, err := c.EncodeEnvelope(Envelope{Type: TypeResponse, ID: "r1", Error: &Error{Code: CodeForbidden, Message: "nope"}})
		require.NoError(t, err)
		env, err := c.DecodeEnvelope(frame)
		require.NoError(t, err)
		require.NotNil(t, env.Error)
		assert.Equal(t, CodeForbidden, env.Error.Code)
		assert.Equal(t, "r1", env.ID)
	}
}

func TestMessageFrom_TombstoneHidesContent(t *testing.T) {
	m := MessageFrom(models.Message{ID: 1, RoomRef: 2, Content: "secret", Deleted: true})
	assert.True(t, m.Deleted)
	assert.Empty(t, m.Content)
}

type recorder struct {
	Emitter
	messages []MessageDTO
	left     UserLeftEvent
	deleted  MessageDeletedEvent
	reason   string
}

func (r *recorder) OnMessageReceived(_ context.Context, m MessageDTO) error {
	r.messages = append(r.messages, m)
	return nil
}

func (r *recorder) OnUserLeftGroup(_ context.Context, roomID int64, username string, wasRemoved bool, removedBy string) error {
	r.left = UserLeftEvent{RoomID: roomID, Username: username, WasRemoved: wasRemoved, RemovedBy: removedBy}
	return nil
}

func (r *recorder) OnMessageDeleted(_ context.Context, id int64, ref room.Ref) error {
	r.deleted = MessageDeletedEvent{MessageID: id, RoomRef: ref}
	return nil
}

func (r *recorder) OnDisconnected(_ context.Context, reason string) error {
	r.reason = reason
	return nil
}
