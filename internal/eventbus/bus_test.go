package eventbus

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type ping struct{ N int }
type pong struct{ N int }

// collector 记录 handler 的调用顺序。
type collector struct {
	mu  sync.Mutex
	got []string
}

func (c *collector) add(s string) {
	c.mu.Lock()
	c.got = append(c.got, s)
	c.mu.Unlock()
}

func (c *collector) snapshot() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.got...)
}

// drain 发布一个哨兵事件并等待它被处理，用于确认之前的事件都已开始分发。
func drain(t *testing.T, b *Bus) {
	t.Helper()
	type sentinel struct{}
	done := make(chan struct{})
	sub := Subscribe(b, func(sentinel) error { close(done); return nil })
	defer sub.Unsubscribe()
	require.NoError(t, b.Publish(sentinel{}))
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("bus did not drain")
	}
}

func TestBus_DeliversInPublishOrder(t *testing.T) {
	b := New(zerolog.Nop())
	defer b.Shutdown()
	var c collector

	Subscribe(b, func(e ping) error { c.add("ping" + string(rune('0'+e.N))); return nil })
	Subscribe(b, func(e pong) error { c.add("pong" + string(rune('0'+e.N))); return nil })

	require.NoError(t, b.Publish(ping{1}))
	require.NoError(t, b.Publish(pong{2}))
	require.NoError(t, b.Publish(ping{3}))
	drain(t, b)

	assert.Equal(t, []string{"ping1", "pong2", "ping3"}, c.snapshot())
}

func TestBus_HandlersRunInSubscriptionOrder(t *testing.T) {
	b := New(zerolog.Nop())
	defer b.Shutdown()
	var c collector

	Subscribe(b, func(ping) error { c.add("first"); return nil })
	Subscribe(b, func(ping) error { c.add("second"); return nil })
	Subscribe(b, func(ping) error { c.add("third"); return nil })

	require.NoError(t, b.Publish(ping{}))
	drain(t, b)
	assert.Equal(t, []string{"first", "second", "third"}, c.snapshot())
}

func TestBus_FailingHandlersAreContained(t *testing.T) {
	b := New(zerolog.Nop())
	defer b.Shutdown()
	var c collector

	Subscribe(b, func(ping) error { return errors.New("boom") })
	Subscribe(b, func(ping) error { panic("kaboom") })
	Subscribe(b, func(e ping) error { c.add("ok"); return nil })

	require.NoError(t, b.Publish(ping{}))
	require.NoError(t, b.Publish(ping{}))
	drain(t, b)
	assert.Equal(t, []string{"ok", "ok"}, c.snapshot())
}

func TestBus_Unsubscribe(t *testing.T) {
	b := New(zerolog.Nop())
	defer b.Shutdown()
	var c collector

	keep := Subscribe(b, func(ping) error { c.add("keep"); return nil })
	drop := Subscribe(b, func(ping) error { c.add("drop"); return nil })
	assert.Equal(t, 2, ListenerCount[ping](b))

	drop.Unsubscribe()
	drop.Unsubscribe()
	assert.Equal(t, 1, ListenerCount[ping](b))

	require.NoError(t, b.Publish(ping{}))
	drain(t, b)
	assert.Equal(t, []string{"keep"}, c.snapshot())

	keep.Unsubscribe()
	assert.Equal(t, 0, ListenerCount[ping](b))
}

func TestBus_Clear(t *testing.T) {
	b := New(zerolog.Nop())
	defer b.Shutdown()

	Subscribe(b, func(ping) error { return nil })
	Subscribe(b, func(pong) error { return nil })
	b.Clear()
	assert.Equal(t, 0, ListenerCount[ping](b))
	assert.Equal(t, 0, ListenerCount[pong](b))
}

func TestBus_TypesMatchExactly(t *testing.T) {
	b := New(zerolog.Nop())
	defer b.Shutdown()
	var c collector

	Subscribe(b, func(*ping) error { c.add("pointer"); return nil })
	Subscribe(b, func(ping) error { c.add("value"); return nil })

	require.NoError(t, b.Publish(&ping{}))
	drain(t, b)
	assert.Equal(t, []string{"pointer"}, c.snapshot())
}

func TestBus_PublishAfterShutdown(t *testing.T) {
	b := New(zerolog.Nop())
	b.Shutdown()
	b.Shutdown()

	assert.ErrorIs(t, b.Publish(ping{}), ErrClosed)
	select {
	case <-b.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop")
	}
	assert.Error(t, New(zerolog.Nop()).Publish(nil))
}

func TestBus_PublishDoesNotWaitForHandlers(t *testing.T) {
	b := New(zerolog.Nop())
	defer b.Shutdown()
	release := make(chan struct{})
	Subscribe(b, func(ping) error { <-release; return nil })

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			_ = b.Publish(ping{N: i})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Publish blocked on a slow handler")
	}
	close(release)
}
