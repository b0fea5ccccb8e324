package protocol

import (
	"encoding/json"
	"errors"
	"reflect"

	"github.com/fxamacker/cbor/v2"
	"github.com/gorilla/websocket"
)

// Codec 负责一种 websocket 子协议下的帧与负载编解码。
type Codec interface {
	// Name 是握手时协商的子协议名。
	Name() string
	// MessageType 是 websocket 帧类型（文本或二进制）。
	MessageType() int
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
	EncodeEnvelope(env Envelope) ([]byte, error)
	DecodeEnvelope(data []byte) (Envelope, error)
}

var ErrMalformedFrame = errors.New("malformed frame")

const (
	SubprotocolJSON = "relaychat.v1+json"
	SubprotocolCBOR = "relaychat.v1+cbor"
)

var (
	JSON Codec = jsonCodec{}
	CBOR Codec = newCBORCodec()
)

// Subprotocols 按服务端偏好顺序列出支持的子协议。
func Subprotocols() []string { return []string{SubprotocolCBOR, SubprotocolJSON} }

// ByName 返回子协议对应的编解码；空名回退到 JSON。
func ByName(name string) (Codec, bool) {
	switch name {
	case SubprotocolCBOR:
		return CBOR, true
	case SubprotocolJSON, "":
		return JSON, true
	default:
		return nil, false
	}
}

func validate(env Envelope) error {
	switch env.Type {
	case TypeRequest, TypeEvent:
		if env.Name == "" {
			return ErrMalformedFrame
		}
	case TypeResponse:
		if env.ID == "" {
			return ErrMalformedFrame
		}
	default:
		return ErrMalformedFrame
	}
	return nil
}

type jsonCodec struct{}

type jsonEnvelope struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Name    string          `json:"name,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

func (jsonCodec) Name() string     { return SubprotocolJSON }
func (jsonCodec) MessageType() int { return websocket.TextMessage }

func (jsonCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func (jsonCodec) Unmarshal(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}

func (jsonCodec) EncodeEnvelope(env Envelope) ([]byte, error) {
	return json.Marshal(jsonEnvelope{Type: env.Type, ID: env.ID, Name: env.Name, Payload: env.Payload, Error: env.Error})
}

func (jsonCodec) DecodeEnvelope(data []byte) (Envelope, error) {
	var w jsonEnvelope
	if err := json.Unmarshal(data, &w); err != nil {
		return Envelope{}, errors.Join(ErrMalformedFrame, err)
	}
	env := Envelope{Type: w.Type, ID: w.ID, Name: w.Name, Payload: w.Payload, Error: w.Error}
	return env, validate(env)
}

// cborCodec 使用核心确定性编码，时间按 RFC3339Nano 文本编码。
type cborCodec struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

type cborEnvelope struct {
	Type    string          `cbor:"type"`
	ID      string          `cbor:"id,omitempty"`
	Name    string          `cbor:"name,omitempty"`
	Payload cbor.RawMessage `cbor:"payload,omitempty"`
	Error   *Error          `cbor:"error,omitempty"`
}

func newCBORCodec() cborCodec {
	encOptions := cbor.CoreDetEncOptions()
	encOptions.Time = cbor.TimeRFC3339Nano
	encOptions.TextMarshaler = cbor.TextMarshalerTextString
	enc, err := encOptions.EncMode()
	if err != nil {
		panic("protocol: CBOR encoder initialization failed: " + err.Error())
	}
	dec, err := cbor.DecOptions{
		DefaultMapType:  reflect.TypeOf(map[string]any(nil)),
		TextUnmarshaler: cbor.TextUnmarshalerTextString,
	}.DecMode()
	if err != nil {
		panic("protocol: CBOR decoder initialization failed: " + err.Error())
	}
	return cborCodec{enc: enc, dec: dec}
}

func (cborCodec) Name() string     { return SubprotocolCBOR }
func (cborCodec) MessageType() int { return websocket.BinaryMessage }

func (c cborCodec) Marshal(v any) ([]byte, error) { return c.enc.Marshal(v) }

func (c cborCodec) Unmarshal(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	return c.dec.Unmarshal(data, v)
}

func (c cborCodec) EncodeEnvelope(env Envelope) ([]byte, error) {
	return c.enc.Marshal(cborEnvelope{Type: env.Type, ID: env.ID, Name: env.Name, Payload: env.Payload, Error: env.Error})
}

func (c cborCodec) DecodeEnvelope(data []byte) (Envelope, error) {
	var w cborEnvelope
	if err := c.dec.Unmarshal(data, &w); err != nil {
		return Envelope{}, errors.Join(ErrMalformedFrame, err)
	}
	env := Envelope{Type: w.Type, ID: w.ID, Name: w.Name, Payload: w.Payload, Error: w.Error}
	return env, validate(env)
}
