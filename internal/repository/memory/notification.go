// Package memory keeps notifications in process memory. It backs the server
// when NOTIFY_STORAGE=memory and the handler tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tunelog/notify/internal/domain/notification"
)

type notificationRepository struct {
	mu    sync.RWMutex
	byID  map[string]*notification.Notification
	byRcp map[string][]*notification.Notification // newest first
	now   func() time.Time
}

// NewNotificationRepository creates an empty in-memory repository
func NewNotificationRepository() notification.Repository {
	return &notificationRepository{
		byID:  make(map[string]*notification.Notification),
		byRcp: make(map[string][]*notification.Notification),
		now:   time.Now,
	}
}

func (r *notificationRepository) Create(ctx context.Context, n *notification.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.insert(n)
}

func (r *notificationRepository) CreateBatch(ctx context.Context, notifications []*notification.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, n := range notifications {
		if n.ID != "" {
			if _, ok := r.byID[n.ID]; ok {
				return notification.ErrNotificationExists
			}
		}
	}
	for _, n := range notifications {
		if err := r.insert(n); err != nil {
			return err
		}
	}
	return nil
}

func (r *notificationRepository) GetByID(ctx context.Context, id string) (*notification.Notification, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n, ok := r.byID[id]
	if !ok {
		return nil, notification.ErrNotificationNotFound
	}
	c := *n
	return &c, nil
}

func (r *notificationRepository) ListByRecipient(ctx context.Context, recipientID string, after *notification.Cursor, limit int) ([]*notification.Notification, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := r.byRcp[recipientID]
	start := 0
	if after != nil {
		start = sort.Search(len(list), func(i int) bool { return after.Before(list[i]) })
	}

	out := make([]*notification.Notification, 0, limit)
	for i := start; i < len(list) && len(out) < limit; i++ {
		c := *list[i]
		out = append(out, &c)
	}
	return out, nil
}

func (r *notificationRepository) GetUnreadCount(ctx context.Context, recipientID string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	for _, n := range r.byRcp[recipientID] {
		if !n.Read {
			count++
		}
	}
	return count, nil
}

func (r *notificationRepository) MarkAsRead(ctx context.Context, id string, recipientID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, ok := r.byID[id]
	if !ok || n.RecipientID != recipientID {
		return notification.ErrNotificationNotFound
	}
	r.markRead(n)
	return nil
}

func (r *notificationRepository) MarkAllAsRead(ctx context.Context, recipientID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var changed int64
	for _, n := range r.byRcp[recipientID] {
		if !n.Read {
			r.markRead(n)
			changed++
		}
	}
	return changed, nil
}

// insert stores a copy of n, keeping the recipient list in
// (created_at DESC, id DESC) order
func (r *notificationRepository) insert(n *notification.Notification) error {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if _, ok := r.byID[n.ID]; ok {
		return notification.ErrNotificationExists
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = r.now().UTC()
	}
	c := *n

	list := r.byRcp[c.RecipientID]
	cur := notification.CursorOf(&c)
	i := sort.Search(len(list), func(i int) bool { return cur.Before(list[i]) })
	list = append(list, nil)
	copy(list[i+1:], list[i:])
	list[i] = &c

	r.byRcp[c.RecipientID] = list
	r.byID[c.ID] = &c
	return nil
}

func (r *notificationRepository) markRead(n *notification.Notification) {
	if n.Read {
		return
	}
	at := r.now().UTC()
	n.Read = true
	n.ReadAt = &at
}
