// Package store holds the client's cached view of the user's notifications.
//
// A Store is created empty when the process starts, filled by explicit fetches
// and live pushes, and emptied by Clear on logout. It is the only writer of
// that state; consumers read it through Snapshot or Subscribe.
//
// All mutations run under one mutex and never across a network call, so the
// state behaves as if it were owned by a single event loop. Because fetches and
// pushes race, merging dedupes by notification ID and orders by created_at;
// arrival order is never trusted.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/tunelog/notify/internal/domain/notification"
)

// DefaultPageSize is used when no page size option is given
const DefaultPageSize = 20

// Gateway is the slice of the REST API the store depends on
type Gateway interface {
	ListNotifications(ctx context.Context, cursor string, limit int) (notification.Page, error)
	UnreadCount(ctx context.Context) (int, error)
	MarkAsRead(ctx context.Context, id string) error
	MarkAllAsRead(ctx context.Context) error
}

// Snapshot is a consistent copy of the store state
type Snapshot struct {
	Items       []notification.Notification
	UnreadCount int
	HasMore     bool
	IsLoading   bool
}

// Option customises a Store
type Option func(*Store)

// WithPageSize sets how many notifications each page fetch asks for
func WithPageSize(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.pageSize = n
		}
	}
}

// WithLogger sets the store logger
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// Store is the notification cache
type Store struct {
	api      Gateway
	pageSize int
	logger   *slog.Logger

	mu      sync.Mutex
	items   []notification.Notification // newest first
	ids     map[string]struct{}
	live    map[string]uint64 // pushed IDs -> fetch generation current at push time
	unread  int
	cursor  string
	hasMore bool
	loaded  bool
	loading bool

	// generation is bumped by every reset fetch and by Clear; a page fetch
	// completing under an older generation is stale and discarded.
	generation uint64
	// epoch is bumped by Clear; rollbacks and count refreshes started in an
	// older epoch are discarded.
	epoch        uint64
	countSeq     uint64
	countApplied uint64

	subsMu      sync.Mutex
	subscribers map[chan Snapshot]struct{}
}

// New creates an empty store backed by api
func New(api Gateway, opts ...Option) *Store {
	s := &Store{
		api:         api,
		pageSize:    DefaultPageSize,
		logger:      slog.Default(),
		ids:         make(map[string]struct{}),
		live:        make(map[string]uint64),
		subscribers: make(map[chan Snapshot]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(slog.String("component", "notification_store"))
	return s
}

// FetchNotifications loads a page. With reset it reloads from the first page
// and replaces the cached list once the page arrives; otherwise it loads the
// page after the current cursor.
//
// A non-reset call while another fetch is in flight returns nil immediately
// without touching the network. A non-reset call after the last page has been
// reached is also a no-op. On failure the cached state is left as it was.
func (s *Store) FetchNotifications(ctx context.Context, reset bool) error {
	s.mu.Lock()
	if !reset && (s.loading || (s.loaded && !s.hasMore)) {
		s.mu.Unlock()
		return nil
	}
	if reset {
		s.generation++
	}
	gen := s.generation
	cursor := s.cursor
	if reset {
		cursor = ""
	}
	s.loading = true
	s.mu.Unlock()
	s.publish()

	page, err := s.api.ListNotifications(ctx, cursor, s.pageSize)

	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		s.logger.Debug("discarding superseded page fetch", "reset", reset, "generation", gen)
		return nil
	}
	s.loading = false
	if err != nil {
		s.mu.Unlock()
		s.publish()
		return fmt.Errorf("fetch notifications: %w", err)
	}

	if reset {
		s.replaceWith(page.Items, gen)
	} else {
		for i := range page.Items {
			s.insert(page.Items[i])
		}
	}
	s.cursor = page.NextCursor
	s.hasMore = page.HasMore
	s.loaded = true
	s.mu.Unlock()
	s.publish()

	return nil
}

// replaceWith installs a fresh first page. Items pushed live after the reset
// started are newer than anything the page could know about and survive.
func (s *Store) replaceWith(page []notification.Notification, gen uint64) {
	var kept []notification.Notification
	for _, n := range s.items {
		if g, ok := s.live[n.ID]; ok && g == gen {
			kept = append(kept, n)
		}
	}

	s.items = s.items[:0:0]
	s.ids = make(map[string]struct{}, len(page)+len(kept))
	live := make(map[string]uint64, len(kept))
	for _, n := range kept {
		s.insert(n)
		live[n.ID] = gen
	}
	s.live = live
	for i := range page {
		s.insert(page[i])
	}
}

// FetchUnreadCount refreshes the unread count from the server. When several
// refreshes overlap, the most recently issued one wins regardless of which
// response arrives last.
func (s *Store) FetchUnreadCount(ctx context.Context) error {
	s.mu.Lock()
	s.countSeq++
	seq := s.countSeq
	epoch := s.epoch
	s.mu.Unlock()

	count, err := s.api.UnreadCount(ctx)
	if err != nil {
		return fmt.Errorf("fetch unread count: %w", err)
	}

	s.mu.Lock()
	if epoch != s.epoch || seq <= s.countApplied {
		s.mu.Unlock()
		return nil
	}
	s.countApplied = seq
	if count < 0 {
		count = 0
	}
	s.unread = count
	s.mu.Unlock()
	s.publish()

	return nil
}

// AddNotification inserts a pushed notification. It reports false, and changes
// nothing, when a notification with the same ID is already cached. An unread
// notification bumps the unread count by one; the periodic count refresh
// corrects any drift against the server.
func (s *Store) AddNotification(n notification.Notification) bool {
	s.mu.Lock()
	if _, ok := s.ids[n.ID]; ok {
		s.mu.Unlock()
		return false
	}
	s.insert(n)
	s.live[n.ID] = s.generation
	if !n.Read {
		s.unread++
	}
	s.mu.Unlock()
	s.publish()

	return true
}

// MarkAsRead optimistically marks one notification read and persists it. The
// item may be absent from the cache (not paged in yet); the count is still
// decremented, never below zero. A cached item that is already read is left
// alone and no request is sent. On server failure the local change is undone,
// except that a count refresh applied meanwhile is kept as the server's truth.
func (s *Store) MarkAsRead(ctx context.Context, id string) error {
	s.mu.Lock()
	idx := s.indexOf(id)
	if idx >= 0 && s.items[idx].Read {
		s.mu.Unlock()
		return nil
	}
	cached := idx >= 0
	if cached {
		now := time.Now()
		s.items[idx].Read = true
		s.items[idx].ReadAt = &now
	}
	decremented := false
	if s.unread > 0 {
		s.unread--
		decremented = true
	}
	epoch := s.epoch
	applied := s.countApplied
	s.mu.Unlock()
	s.publish()

	if err := s.api.MarkAsRead(ctx, id); err != nil {
		s.mu.Lock()
		if epoch == s.epoch {
			if cached {
				if i := s.indexOf(id); i >= 0 {
					s.items[i].Read = false
					s.items[i].ReadAt = nil
				}
			}
			if decremented && applied == s.countApplied {
				s.unread++
			}
		}
		s.mu.Unlock()
		s.publish()
		return fmt.Errorf("mark notification %s as read: %w", id, err)
	}

	return nil
}

// MarkAllAsRead optimistically marks every cached notification read and zeroes
// the count, then persists it with a single request. On failure the flags it
// flipped are restored, and so is the count unless a refresh was applied while
// the request was in flight.
func (s *Store) MarkAllAsRead(ctx context.Context) error {
	s.mu.Lock()
	prevUnread := s.unread
	now := time.Now()
	var flipped []string
	for i := range s.items {
		if !s.items[i].Read {
			s.items[i].Read = true
			s.items[i].ReadAt = &now
			flipped = append(flipped, s.items[i].ID)
		}
	}
	s.unread = 0
	epoch := s.epoch
	applied := s.countApplied
	s.mu.Unlock()
	s.publish()

	if err := s.api.MarkAllAsRead(ctx); err != nil {
		s.mu.Lock()
		if epoch == s.epoch {
			// Pushes that landed during the request were counted on top of zero.
			if applied == s.countApplied {
				s.unread += prevUnread
			}
			for _, id := range flipped {
				if i := s.indexOf(id); i >= 0 {
					s.items[i].Read = false
					s.items[i].ReadAt = nil
				}
			}
		}
		s.mu.Unlock()
		s.publish()
		return fmt.Errorf("mark all notifications as read: %w", err)
	}

	return nil
}

// Clear drops all cached state. Called on logout. In-flight requests started
// before Clear do not write into the cleared store.
func (s *Store) Clear() {
	s.mu.Lock()
	s.items = nil
	s.ids = make(map[string]struct{})
	s.live = make(map[string]uint64)
	s.unread = 0
	s.cursor = ""
	s.hasMore = false
	s.loaded = false
	s.loading = false
	s.generation++
	s.epoch++
	s.countApplied = s.countSeq
	s.mu.Unlock()
	s.publish()
}

// Snapshot returns a copy of the current state
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	items := make([]notification.Notification, len(s.items))
	copy(items, s.items)
	return Snapshot{
		Items:       items,
		UnreadCount: s.unread,
		HasMore:     s.hasMore,
		IsLoading:   s.loading,
	}
}

// UnreadCount returns the cached unread count
func (s *Store) UnreadCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unread
}

// Subscribe returns a channel that receives the latest snapshot after every
// change. Only the most recent snapshot is buffered; slow readers skip
// intermediate states.
func (s *Store) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)

	s.subsMu.Lock()
	s.subscribers[ch] = struct{}{}
	s.subsMu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.subsMu.Lock()
			delete(s.subscribers, ch)
			s.subsMu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

func (s *Store) publish() {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()

	if len(s.subscribers) == 0 {
		return
	}
	snap := s.Snapshot()
	for ch := range s.subscribers {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snap:
		default:
		}
	}
}

// insert places n in newest-first position unless its ID is already cached.
// Caller holds s.mu.
func (s *Store) insert(n notification.Notification) {
	if _, ok := s.ids[n.ID]; ok {
		return
	}
	idx := sort.Search(len(s.items), func(i int) bool {
		return newer(n, s.items[i])
	})
	s.items = append(s.items, notification.Notification{})
	copy(s.items[idx+1:], s.items[idx:])
	s.items[idx] = n
	s.ids[n.ID] = struct{}{}
}

func (s *Store) indexOf(id string) int {
	if _, ok := s.ids[id]; !ok {
		return -1
	}
	for i := range s.items {
		if s.items[i].ID == id {
			return i
		}
	}
	return -1
}

// newer reports whether a sorts before b in newest-first order
func newer(a, b notification.Notification) bool {
	if a.CreatedAt.Equal(b.CreatedAt) {
		return a.ID > b.ID
	}
	return a.CreatedAt.After(b.CreatedAt)
}
