package ws

import (
	"sync"

	"relaychat/internal/metrics"
)

// Hub 跟踪当前存活的连接，供停服时统一关闭。推送路由由 registry 负责。
type Hub struct {
	mu    sync.RWMutex
	conns map[*Conn]struct{}
}

func NewHub() *Hub { return &Hub{conns: make(map[*Conn]struct{})} }

func (h *Hub) add(c *Conn) {
	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.mu.Unlock()
	metrics.WsConnections.Inc()
}

func (h *Hub) remove(c *Conn) {
	h.mu.Lock()
	_, ok := h.conns[c]
	delete(h.conns, c)
	h.mu.Unlock()
	if ok {
		metrics.WsConnections.Dec()
	}
}

// Online 返回存活连接数。
func (h *Hub) Online() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// CloseAll 并发关闭所有连接，已排队的推送先写出，返回关闭的数量。
func (h *Hub) CloseAll() int {
	h.mu.RLock()
	conns := make([]*Conn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.RUnlock()
	var wg sync.WaitGroup
	for _, c := range conns {
		wg.Add(1)
		go func(c *Conn) {
			defer wg.Done()
			c.Drain(drainWait)
		}(c)
	}
	wg.Wait()
	return len(conns)
}
