package notification

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tunelog/notify/internal/domain/notification"
	"github.com/tunelog/notify/internal/pkg/sse"
	"github.com/tunelog/notify/internal/pkg/validator"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// Config holds notification service configuration
type Config struct {
	BatchSize     int           // default: 100
	FlushInterval time.Duration // default: 5 seconds
	WorkerCount   int           // default: 2
	QueueSize     int           // default: 1000
	Logger        *slog.Logger
}

type service struct {
	repo   notification.Repository
	hub    *sse.Hub
	config Config
	logger *slog.Logger
	now    func() time.Time

	queue    chan notification.CreateNotificationRequest
	wg       sync.WaitGroup
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewNotificationService creates a new notification service with background workers
func NewNotificationService(repo notification.Repository, hub *sse.Hub, cfg Config) notification.Service {
	// Set defaults
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 100
	}
	if cfg.FlushInterval == 0 {
		cfg.FlushInterval = 5 * time.Second
	}
	if cfg.WorkerCount == 0 {
		cfg.WorkerCount = 2
	}
	if cfg.QueueSize == 0 {
		cfg.QueueSize = 1000
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	s := &service{
		repo:   repo,
		hub:    hub,
		config: cfg,
		logger: cfg.Logger.With(slog.String("component", "notification_service")),
		now:    time.Now,
		queue:  make(chan notification.CreateNotificationRequest, cfg.QueueSize),
		stopCh: make(chan struct{}),
	}

	for i := 0; i < cfg.WorkerCount; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}

	s.logger.Info("[NotificationService] Started",
		"workers", cfg.WorkerCount, "batch_size", cfg.BatchSize, "flush_interval", cfg.FlushInterval)

	return s
}

// worker drains the queue, inserting in batches of BatchSize or every
// FlushInterval, whichever comes first
func (s *service) worker(id int) {
	defer s.wg.Done()

	batch := make([]notification.CreateNotificationRequest, 0, s.config.BatchSize)
	ticker := time.NewTicker(s.config.FlushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		notifications := make([]*notification.Notification, len(batch))
		for i, req := range batch {
			notifications[i] = s.newEntity(req)
		}

		if err := s.repo.CreateBatch(ctx, notifications); err != nil {
			s.logger.Error("[NotificationWorker] Failed to batch insert", "worker", id, "count", len(notifications), "error", err)
		} else {
			s.logger.Debug("[NotificationWorker] Inserted notifications", "worker", id, "count", len(notifications))
			for _, n := range notifications {
				s.push(n)
			}
		}

		batch = batch[:0]
	}

	for {
		select {
		case req := <-s.queue:
			batch = append(batch, req)
			if len(batch) >= s.config.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-s.stopCh:
			// drain what is still queued before the last flush
			for {
				select {
				case req := <-s.queue:
					batch = append(batch, req)
					if len(batch) >= s.config.BatchSize {
						flush()
					}
				default:
					flush()
					return
				}
			}
		}
	}
}

// QueueNotification queues a notification for async processing. When the
// queue is full the notification is inserted directly.
func (s *service) QueueNotification(ctx context.Context, req notification.CreateNotificationRequest) error {
	if err := s.validate(req); err != nil {
		return err
	}

	select {
	case s.queue <- req:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		_, err := s.Publish(ctx, req)
		return err
	}
}

// QueueBulkNotification validates every request first, then queues them all
func (s *service) QueueBulkNotification(ctx context.Context, reqs []notification.CreateNotificationRequest) error {
	for i, req := range reqs {
		if err := s.validate(req); err != nil {
			return fmt.Errorf("notification %d: %w", i, err)
		}
	}
	for _, req := range reqs {
		if err := s.QueueNotification(ctx, req); err != nil {
			s.logger.Warn("[NotificationService] Failed to queue notification", "recipient_id", req.RecipientID, "error", err)
		}
	}
	return nil
}

// Publish stores a notification immediately and pushes it to the
// recipient's live streams
func (s *service) Publish(ctx context.Context, req notification.CreateNotificationRequest) (*notification.NotificationResponse, error) {
	if err := s.validate(req); err != nil {
		return nil, err
	}

	n := s.newEntity(req)
	if err := s.repo.Create(ctx, n); err != nil {
		return nil, err
	}
	s.push(n)

	resp := notification.ToResponse(n)
	return &resp, nil
}

// List returns one newest-first page of the user's notifications. One extra
// row is read to learn whether another page exists.
func (s *service) List(ctx context.Context, userID string, cursor string, limit int) (*notification.ListResponse, error) {
	if limit < 1 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	after, err := notification.ParseCursor(cursor)
	if err != nil {
		return nil, err
	}

	rows, err := s.repo.ListByRecipient(ctx, userID, after, limit+1)
	if err != nil {
		return nil, err
	}

	hasMore := len(rows) > limit
	if hasMore {
		rows = rows[:limit]
	}

	resp := &notification.ListResponse{
		Notifications: make([]notification.NotificationResponse, len(rows)),
		HasMore:       hasMore,
	}
	for i, n := range rows {
		resp.Notifications[i] = notification.ToResponse(n)
	}
	if hasMore {
		resp.NextCursor = notification.CursorOf(rows[len(rows)-1]).Encode()
	}
	return resp, nil
}

// GetUnreadCount returns the count of unread notifications
func (s *service) GetUnreadCount(ctx context.Context, userID string) (int, error) {
	return s.repo.GetUnreadCount(ctx, userID)
}

// MarkAsRead marks one of the user's notifications as read
func (s *service) MarkAsRead(ctx context.Context, userID string, notificationID string) error {
	return s.repo.MarkAsRead(ctx, notificationID, userID)
}

// MarkAllAsRead marks all notifications as read for a user
func (s *service) MarkAllAsRead(ctx context.Context, userID string) error {
	n, err := s.repo.MarkAllAsRead(ctx, userID)
	if err != nil {
		return err
	}
	s.logger.Debug("[NotificationService] Marked all as read", "user_id", userID, "count", n)
	return nil
}

// Subscribe creates an SSE subscription for a user. The returned channel is
// closed when ctx ends or cleanup is called.
func (s *service) Subscribe(ctx context.Context, userID string) (<-chan notification.SSEEvent, func()) {
	ch, cleanup := s.hub.Subscribe(userID)

	out := make(chan notification.SSEEvent, 10)

	go func() {
		defer close(out)
		for {
			select {
			case event, ok := <-ch:
				if !ok {
					return
				}
				resp, ok := event.Data.(notification.NotificationResponse)
				if !ok {
					continue
				}
				select {
				case out <- notification.SSEEvent{Event: event.Event, Data: resp}:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, cleanup
}

// Stop flushes queued notifications and stops the workers
func (s *service) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		s.wg.Wait()
		s.logger.Info("[NotificationService] Stopped")
	})
}

func (s *service) validate(req notification.CreateNotificationRequest) error {
	if err := validator.Struct(req); err != nil {
		return err
	}
	if !slices.Contains(notification.AllKinds(), req.Kind) {
		return notification.ErrInvalidKind
	}
	return nil
}

func (s *service) newEntity(req notification.CreateNotificationRequest) *notification.Notification {
	return &notification.Notification{
		ID:          uuid.New().String(),
		RecipientID: req.RecipientID,
		Kind:        req.Kind,
		Payload:     req.Payload,
		Read:        false,
		CreatedAt:   s.now().UTC(),
	}
}

func (s *service) push(n *notification.Notification) {
	s.hub.Publish(n.RecipientID, sse.Event{
		UserID: n.RecipientID,
		Event:  notification.EventNotification,
		Data:   notification.ToResponse(n),
	})
}
