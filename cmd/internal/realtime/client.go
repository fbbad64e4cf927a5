package realtime

import "sync"

type outbound struct {
	env Envelope
	// closeAfter asks the writer to end the connection once env is flushed.
	closeAfter bool
}

// Client is one connected websocket.
//
// Send is never closed by the server so concurrent pushes cannot panic;
// done signals the connection goroutines to stop.
type Client struct {
	ID        string
	UserID    string
	SessionID string

	send      chan outbound
	done      chan struct{}
	closeOnce sync.Once
}

func NewClient(id, userID, sessionID string, queue int) *Client {
	if queue <= 0 {
		queue = defaultSendQueue
	}
	return &Client{
		ID:        id,
		UserID:    userID,
		SessionID: sessionID,
		send:      make(chan outbound, queue),
		done:      make(chan struct{}),
	}
}

// Done is closed when the client is shutting down.
func (c *Client) Done() <-chan struct{} {
	if c == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return c.done
}

// Close is idempotent.
func (c *Client) Close() {
	if c == nil {
		return
	}
	c.closeOnce.Do(func() { close(c.done) })
}

// offer queues m without blocking. It reports false when the queue is full or
// the client is going away.
func (c *Client) offer(m outbound) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- m:
		return true
	default:
		return false
	}
}
