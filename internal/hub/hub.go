// internal/hub/hub.go
package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Conn is one observer connection. Send must honor ctx cancellation.
type Conn interface {
	Send(ctx context.Context, data []byte) error
	Close() error
}

// TransportError reports a failed delivery to one observer.
type TransportError struct {
	Conn Conn
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("send to observer: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Hub fans events out to every registered observer. Broadcasts are
// serialized so observers see events in commit order; within one
// broadcast all sends run concurrently and a slow observer costs at
// most sendTimeout.
type Hub struct {
	mu    sync.RWMutex
	conns map[Conn]struct{}

	broadcastMu sync.Mutex
	sendTimeout time.Duration
	logger      *slog.Logger
}

// New creates a hub. A non-positive sendTimeout defaults to five seconds.
func New(sendTimeout time.Duration, logger *slog.Logger) *Hub {
	if sendTimeout <= 0 {
		sendTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		conns:       make(map[Conn]struct{}),
		sendTimeout: sendTimeout,
		logger:      logger,
	}
}

// Register adds conn to the live set. Registering twice is a no-op.
func (h *Hub) Register(conn Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[conn] = struct{}{}
}

// Unregister removes conn from the live set.
func (h *Hub) Unregister(conn Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns, conn)
}

// Len returns the number of registered observers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

func (h *Hub) snapshot() []Conn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	conns := make([]Conn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	return conns
}

// Broadcast delivers event to all observers registered when the call
// starts. Observers whose send fails are evicted and closed after every
// send has returned. Delivery failures are logged, never returned; the
// only error is a marshal failure.
func (h *Hub) Broadcast(ctx context.Context, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	h.broadcastMu.Lock()
	defer h.broadcastMu.Unlock()

	conns := h.snapshot()
	if len(conns) == 0 {
		return nil
	}

	// Sends are not tied to the caller's cancellation: a stage that is
	// shutting down still gets its final event out within sendTimeout.
	sendCtx := context.WithoutCancel(ctx)

	failures := make(chan *TransportError, len(conns))
	var wg sync.WaitGroup
	for _, c := range conns {
		wg.Add(1)
		go func(c Conn) {
			defer wg.Done()
			cctx, cancel := context.WithTimeout(sendCtx, h.sendTimeout)
			defer cancel()
			if err := c.Send(cctx, data); err != nil {
				failures <- &TransportError{Conn: c, Err: err}
			}
		}(c)
	}
	wg.Wait()
	close(failures)

	for f := range failures {
		h.logger.Warn("evicting observer", "event", event.Type, "error", f.Err)
		h.Unregister(f.Conn)
		f.Conn.Close()
	}
	return nil
}

// Close closes and removes every observer.
func (h *Hub) Close() {
	h.mu.Lock()
	conns := h.conns
	h.conns = make(map[Conn]struct{})
	h.mu.Unlock()

	for c := range conns {
		c.Close()
	}
}
