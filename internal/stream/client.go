package stream

import (
	"context"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
)

// Reconnect backoff bounds. The delay starts at the initial value,
// doubles per failed attempt and is capped; a successful connection
// resets it.
const (
	initialBackoff = 500 * time.Millisecond
	maxBackoff     = 10 * time.Second

	closeGrace = time.Second
)

// Handler consumes one raw inbound frame. It runs synchronously on the
// read loop, so frames are handled strictly in arrival order.
type Handler func(frame []byte)

// Client is a self-healing WebSocket consumer. It never gives up on
// its own; only context cancellation stops it.
type Client struct {
	url     string
	handler Handler
	dialer  *websocket.Dialer
}

// NewClient creates a client for the given ws:// URL.
func NewClient(url string, handler Handler) *Client {
	return &Client{
		url:     url,
		handler: handler,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 5 * time.Second,
		},
	}
}

// Run connects and reads frames until ctx is canceled. Dial failures
// and dropped connections are retried with backoff; the only returned
// error is ctx.Err().
func (c *Client) Run(ctx context.Context) error {
	backoff := initialBackoff
	for {
		conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Warn("stream dial failed", "url", c.url, "retry_in", backoff, "err", err)
			if err := sleep(ctx, backoff); err != nil {
				return err
			}
			backoff = nextBackoff(backoff)
			continue
		}

		log.Info("stream connected", "url", c.url)
		backoff = initialBackoff

		err = c.readLoop(ctx, conn)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Warn("stream disconnected", "retry_in", backoff, "err", err)
		if err := sleep(ctx, backoff); err != nil {
			return err
		}
		backoff = nextBackoff(backoff)
	}
}

// readLoop pumps frames into the handler until the connection drops or
// ctx is canceled. On cancellation it sends a close control frame so
// the peer sees a clean shutdown.
func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) error {
	done := make(chan struct{})
	defer close(done)

	go func() {
		select {
		case <-ctx.Done():
			deadline := time.Now().Add(closeGrace)
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
			conn.Close()
		case <-done:
			conn.Close()
		}
	}()

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		c.handler(frame)
	}
}

func nextBackoff(current time.Duration) time.Duration {
	if current *= 2; current > maxBackoff {
		return maxBackoff
	}
	return current
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
