package websocket

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Client is one WebSocket connection with its outbound queue and the engine
// subscriptions it holds. Subscriptions are cancelled when the client goes
// away so watchers never leak.
type Client struct {
	ID     string
	UserID string
	Conn   *websocket.Conn
	Send   chan []byte

	mu            sync.Mutex
	subscriptions map[string]func()
	closed        bool
}

func NewClient(conn *websocket.Conn, userID string) *Client {
	return &Client{
		ID:            uuid.New().String(),
		UserID:        userID,
		Conn:          conn,
		Send:          make(chan []byte, 256),
		subscriptions: make(map[string]func()),
	}
}

// AddSubscription registers a cancel func under a topic key, replacing (and
// cancelling) any previous subscription for the same topic.
func (c *Client) AddSubscription(topic string, cancel func()) {
	c.mu.Lock()
	prev := c.subscriptions[topic]
	c.subscriptions[topic] = cancel
	c.mu.Unlock()
	if prev != nil {
		prev()
	}
}

// RemoveSubscription cancels and forgets the subscription for a topic.
func (c *Client) RemoveSubscription(topic string) {
	c.mu.Lock()
	cancel := c.subscriptions[topic]
	delete(c.subscriptions, topic)
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// CancelAll releases every subscription the client holds.
func (c *Client) CancelAll() {
	c.mu.Lock()
	cancels := make([]func(), 0, len(c.subscriptions))
	for _, cancel := range c.subscriptions {
		cancels = append(cancels, cancel)
	}
	c.subscriptions = make(map[string]func())
	c.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
}

// WriteLoop drains the Send channel onto the connection with a keepalive
// ping.
func (c *Client) WriteLoop(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = c.Conn.Close()
			return
		case msg, ok := <-c.Send:
			if !ok {
				_ = c.Conn.Close()
				return
			}
			_ = c.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.Conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Close cancels every subscription and shuts the outbound queue. Safe to call
// more than once. Subscription goroutines deliver snapshots independently of
// the hub, so a delivery already past its cancel check can still call
// SendMessage; Send is only closed under the same lock that SendMessage
// holds, which turns such late deliveries into no-ops instead of sends on a
// closed channel.
func (c *Client) Close() {
	c.CancelAll()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.Send)
}

// SendMessage queues a payload without blocking; a full queue drops the
// snapshot, which the next change re-delivers anyway. After Close it is a
// no-op.
func (c *Client) SendMessage(msg []byte) {
	if msg == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.Send <- msg:
	default:
	}
}
