// Package stream keeps one live server-push connection for notifications.
//
// The Client is a small state machine:
//
//	disconnected --Connect--> connecting --opened--> open
//	connecting|open --error/close--> retrying --delay--> connecting
//	any --Disconnect--> disconnected
//
// Transport and decode failures never leave the package. Decoded
// notifications are delivered on the channel returned by Notifications.
package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/tunelog/notify/internal/client/auth"
	"github.com/tunelog/notify/internal/domain/notification"
	"github.com/tunelog/notify/internal/pkg/sse"
	"github.com/tunelog/notify/internal/pkg/validator"
)

// DefaultRetryDelay is the fixed pause between reconnection attempts
const DefaultRetryDelay = 3 * time.Second

// Option customises a Client
type Option func(*Client)

// WithRetryDelay sets the fixed delay between reconnection attempts
func WithRetryDelay(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.retryDelay = d
		}
	}
}

// WithLogger sets the client logger
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithBuffer sets the capacity of the notification channel
func WithBuffer(n int) Option {
	return func(c *Client) {
		if n >= 0 {
			c.buffer = n
		}
	}
}

// Client manages the logical notification stream
type Client struct {
	transport  Transport
	tokens     auth.TokenProvider
	retryDelay time.Duration
	buffer     int
	logger     *slog.Logger

	// wait pauses for d; it reports false when ctx ends first
	wait func(ctx context.Context, d time.Duration) bool

	notifications chan notification.Notification

	mu         sync.Mutex
	state      State
	retryCount int
	conn       Conn
	cancel     context.CancelFunc
	done       chan struct{}
}

// NewClient creates a disconnected client
func NewClient(transport Transport, tokens auth.TokenProvider, opts ...Option) *Client {
	c := &Client{
		transport:  transport,
		tokens:     tokens,
		retryDelay: DefaultRetryDelay,
		buffer:     64,
		logger:     slog.Default(),
		wait:       sleep,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(slog.String("component", "notification_stream"))
	c.notifications = make(chan notification.Notification, c.buffer)
	return c
}

// Notifications returns the channel decoded notifications are delivered on.
// It stays open for the life of the Client.
func (c *Client) Notifications() <-chan notification.Notification {
	return c.notifications
}

// State returns the current connection state
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// RetryCount returns the consecutive failures since the last successful open
func (c *Client) RetryCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.retryCount
}

// Connect starts the connection loop. Without a credential nothing happens and
// false is returned; the caller must call Connect again once authenticated.
// Calling Connect while already connecting, open or retrying is a no-op.
func (c *Client) Connect() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateDisconnected {
		return true
	}
	if _, ok := c.tokens.AccessToken(); !ok {
		c.logger.Info("no access token, stream not connected")
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done = make(chan struct{})
	c.retryCount = 0
	c.state = StateConnecting

	go c.run(ctx, c.done)
	return true
}

// Disconnect closes the active transport, cancels any pending retry and waits
// for the connection loop to exit. It is safe to call at any time, any number
// of times.
func (c *Client) Disconnect() {
	c.mu.Lock()
	if c.cancel == nil {
		c.state = StateDisconnected
		c.mu.Unlock()
		return
	}
	c.cancel()
	c.cancel = nil
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.state = StateDisconnected
	done := c.done
	c.mu.Unlock()

	<-done
	c.logger.Debug("stream disconnected")
}

func (c *Client) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		token, ok := c.tokens.AccessToken()
		if !ok {
			c.logger.Info("access token gone, stopping stream")
			c.stop(ctx)
			return
		}
		if !c.enter(ctx, StateConnecting) {
			return
		}

		conn, err := c.transport.Open(ctx, token)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Warn("stream connect failed", "error", err)
		} else {
			if !c.opened(ctx, conn) {
				conn.Close()
				return
			}
			err = c.consume(ctx, conn)
			c.release(conn)
			if ctx.Err() != nil {
				return
			}
			c.logger.Warn("stream interrupted", "error", err)
		}

		if !c.failed(ctx) {
			return
		}
		if !c.wait(ctx, c.retryDelay) {
			return
		}
	}
}

// enter moves to state unless the loop has been cancelled. Entering
// connecting first disposes of any transport still registered.
func (c *Client) enter(ctx context.Context, state State) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ctx.Err() != nil {
		return false
	}
	if state == StateConnecting && c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.state = state
	return true
}

func (c *Client) opened(ctx context.Context, conn Conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ctx.Err() != nil {
		return false
	}
	c.conn = conn
	c.state = StateOpen
	c.retryCount = 0
	c.logger.Info("stream open")
	return true
}

func (c *Client) failed(ctx context.Context) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ctx.Err() != nil {
		return false
	}
	c.retryCount++
	c.state = StateRetrying
	c.logger.Debug("stream retrying", "retry_count", c.retryCount, "delay", c.retryDelay)
	return true
}

func (c *Client) release(conn Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()

	conn.Close()
	if c.conn == conn {
		c.conn = nil
	}
}

// stop ends the loop on its own (credential lost) unless Disconnect got there
// first.
func (c *Client) stop(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ctx.Err() != nil {
		return
	}
	c.cancel()
	c.cancel = nil
	c.state = StateDisconnected
}

func (c *Client) consume(ctx context.Context, conn Conn) error {
	for {
		frame, err := conn.Next()
		if err != nil {
			return err
		}

		switch frame.Event {
		case notification.EventNotification:
			n, ok := c.decode(frame)
			if !ok {
				continue
			}
			select {
			case c.notifications <- n:
			case <-ctx.Done():
				return ctx.Err()
			}
		case notification.EventPing:
			// liveness only
		case notification.EventConnected:
			c.logger.Debug("stream acknowledged by server")
		default:
			c.logger.Debug("ignoring stream event", "event", frame.Event)
		}
	}
}

func (c *Client) decode(frame sse.Frame) (notification.Notification, bool) {
	var resp notification.NotificationResponse
	if err := json.Unmarshal([]byte(frame.Data), &resp); err != nil {
		c.logger.Warn("dropping malformed notification event", "error", err)
		return notification.Notification{}, false
	}
	if err := validator.Struct(resp); err != nil {
		c.logger.Warn("dropping invalid notification event", "error", err)
		return notification.Notification{}, false
	}
	return notification.FromResponse(resp), true
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
