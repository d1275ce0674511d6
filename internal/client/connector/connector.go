// Package connector ties the notification stream to the user's session.
//
// A session is the stretch of time during which the user is authenticated.
// Each session connects the stream exactly once, pumps pushed notifications
// into the store, and runs the fallback unread-count poll. Ending the session
// tears all of that down before returning, so nothing survives into the next
// one.
package connector

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/tunelog/notify/internal/client/store"
	"github.com/tunelog/notify/internal/domain/notification"
	"github.com/tunelog/notify/internal/pkg/cron"
)

// DefaultPollInterval is how often the unread count is reconciled with the server
const DefaultPollInterval = 60 * time.Second

// Stream is the part of the stream client the connector drives
type Stream interface {
	Connect() bool
	Disconnect()
	Notifications() <-chan notification.Notification
}

// Store is the part of the notification store the connector drives
type Store interface {
	FetchNotifications(ctx context.Context, reset bool) error
	FetchUnreadCount(ctx context.Context) error
	AddNotification(n notification.Notification) bool
	Clear()
}

var _ Store = (*store.Store)(nil)

// Option customises a Connector
type Option func(*Connector)

// WithPollInterval sets the fallback unread-count poll period
func WithPollInterval(d time.Duration) Option {
	return func(c *Connector) {
		if d > 0 {
			c.pollInterval = d
		}
	}
}

// WithLogger sets the connector logger
func WithLogger(l *slog.Logger) Option {
	return func(c *Connector) { c.logger = l }
}

// Connector owns the per-session resources
type Connector struct {
	stream       Stream
	store        Store
	pollInterval time.Duration
	logger       *slog.Logger

	mu      sync.Mutex
	session *session
}

type session struct {
	cancel    context.CancelFunc
	scheduler *cron.Scheduler
	pumpDone  chan struct{}
}

// New creates a connector with no active session
func New(stream Stream, st Store, opts ...Option) *Connector {
	c := &Connector{
		stream:       stream,
		store:        st,
		pollInterval: DefaultPollInterval,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(slog.String("component", "notification_connector"))
	return c
}

// SetAuthenticated reports the consumer's authentication state. A transition
// to true starts a session, a transition to false ends it and clears the
// store. Reporting true again while a session runs retries the stream
// connection, which is a no-op if it is already up.
func (c *Connector) SetAuthenticated(authenticated bool) {
	if authenticated {
		c.start()
		return
	}
	if c.end() {
		c.store.Clear()
	}
}

// Active reports whether a session is running
func (c *Connector) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session != nil
}

// Close ends any running session without clearing the store. Use it when the
// consumer is torn down rather than logged out.
func (c *Connector) Close() {
	c.end()
}

func (c *Connector) start() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session != nil {
		if c.stream.Connect() {
			c.logger.Debug("stream connection requested for running session")
		}
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &session{
		cancel:    cancel,
		scheduler: cron.NewScheduler(ctx, c.logger),
		pumpDone:  make(chan struct{}),
	}

	// The poll also runs immediately, which loads the initial count.
	s.scheduler.AddJob("refresh_unread_count", c.pollInterval, c.store.FetchUnreadCount)
	s.scheduler.Start()

	go c.pump(ctx, s.pumpDone)
	go func() {
		if err := c.store.FetchNotifications(ctx, true); err != nil && ctx.Err() == nil {
			c.logger.Warn("initial notification fetch failed", "error", err)
		}
	}()

	if !c.stream.Connect() {
		c.logger.Info("session started without live stream, polling only")
	}

	c.session = s
	c.logger.Info("notification session started")
}

// end tears the session down and reports whether one was running
func (c *Connector) end() bool {
	c.mu.Lock()
	s := c.session
	c.session = nil
	c.mu.Unlock()

	if s == nil {
		return false
	}

	c.stream.Disconnect()
	s.cancel()
	s.scheduler.Stop()
	<-s.pumpDone
	c.drain()

	c.logger.Info("notification session ended")
	return true
}

// drain discards notifications the ended session's pump left buffered
func (c *Connector) drain() {
	notifications := c.stream.Notifications()
	for {
		select {
		case n := <-notifications:
			c.logger.Debug("dropping notification from ended session", "id", n.ID)
		default:
			return
		}
	}
}

func (c *Connector) pump(ctx context.Context, done chan struct{}) {
	defer close(done)

	notifications := c.stream.Notifications()
	for {
		select {
		case <-ctx.Done():
			return
		case n := <-notifications:
			if !c.store.AddNotification(n) {
				c.logger.Debug("duplicate notification ignored", "id", n.ID)
			}
		}
	}
}
