package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/okian/gavel/internal/domain/model"
	"github.com/okian/gavel/internal/session"
	"github.com/okian/gavel/pkg/logger"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 4096
)

// outbound is the envelope sent to clients.
type outbound struct {
	Type  string             `json:"type"`
	Event *model.ActionEvent `json:"event,omitempty"`
}

// inbound is the envelope read from clients. Acks carry the last seq the
// client applied; on reconnect it becomes the replay checkpoint.
type inbound struct {
	Type string `json:"type"`
	Seq  uint64 `json:"seq,omitempty"`
}

// client is one attached stream consumer.
type client struct {
	conn    *websocket.Conn
	session *session.Session
	partID  string
	acked   uint64
	logger  logger.Logger

	mu     sync.Mutex
	closed bool
}

func newClient(conn *websocket.Conn, sess *session.Session, partID string, from uint64, log logger.Logger) *client {
	return &client{
		conn:    conn,
		session: sess,
		partID:  partID,
		acked:   from,
		logger:  log,
	}
}

// run drives the stream until the connection drops or the session
// completes. The write side resubscribes from the last delivered seq
// whenever the bus cuts a lagging stream, which is exactly the
// gap-recovery path: full backlog since checkpoint, never just new events.
func (c *client) run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go c.readPump(cancel)
	c.writePump(ctx)

	c.close()
	if c.partID != "" {
		c.session.SetConnected(c.partID, false)
	}
}

func (c *client) readPump(cancel context.CancelFunc) {
	defer cancel()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug(context.Background(), "websocket read error", logger.Error(err))
			}
			return
		}
		var msg inbound
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}
		if msg.Type == "ack" && msg.Seq > c.ackedSeq() {
			c.setAcked(msg.Seq)
		}
	}
}

func (c *client) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		stream, cancelSub := c.session.Subscribe(ctx, c.ackedSeq())
		done := c.pump(ctx, ticker, stream)
		cancelSub()
		if done {
			return
		}
		// Stream was cut (slow consumer drop); resubscribe from the last
		// delivered event.
	}
}

// pump forwards one subscription until it ends. Returns true when the
// connection or session is finished and false when a resubscribe is
// warranted.
func (c *client) pump(ctx context.Context, ticker *time.Ticker, stream <-chan model.ActionEvent) bool {
	for {
		select {
		case <-ctx.Done():
			return true
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return true
			}
		case ev, ok := <-stream:
			if !ok {
				if c.session.Completed() {
					_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
					_ = c.conn.WriteMessage(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session completed"))
					return true
				}
				return false
			}
			if err := c.send(ev); err != nil {
				return true
			}
		}
	}
}

func (c *client) send(ev model.ActionEvent) error {
	data, err := json.Marshal(outbound{Type: "event", Event: &ev})
	if err != nil {
		return err
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return err
	}
	c.setAcked(ev.Seq)
	return nil
}

func (c *client) ackedSeq() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.acked
}

func (c *client) setAcked(seq uint64) {
	c.mu.Lock()
	if seq > c.acked {
		c.acked = seq
	}
	c.mu.Unlock()
}

func (c *client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	_ = c.conn.Close()
}
