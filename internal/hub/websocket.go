// internal/hub/websocket.go
package hub

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsConn adapts a gorilla connection to Conn. gorilla allows one
// concurrent writer, so writes are serialized.
type wsConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	once    sync.Once
}

func (c *wsConn) Send(ctx context.Context, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(10 * time.Second)
	}
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() { done <- c.conn.WriteMessage(websocket.TextMessage, data) }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		// Unblocks the pending write.
		c.conn.SetWriteDeadline(time.Now())
		<-done
		return ctx.Err()
	}
}

func (c *wsConn) Close() error {
	var err error
	c.once.Do(func() { err = c.conn.Close() })
	return err
}

// ServeWS upgrades the request and registers the socket until the peer
// disconnects. Inbound messages are read and discarded.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &wsConn{conn: conn}
	h.Register(c)
	h.logger.Info("observer connected", "remote", r.RemoteAddr, "observers", h.Len())

	defer func() {
		h.Unregister(c)
		c.Close()
		h.logger.Info("observer disconnected", "remote", r.RemoteAddr, "observers", h.Len())
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debug("websocket read error", "error", err)
			}
			return
		}
	}
}

var _ Conn = (*wsConn)(nil)
