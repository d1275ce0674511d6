package notification

import (
	"context"
)

// Repository defines the notification repository interface
type Repository interface {
	Create(ctx context.Context, notification *Notification) error
	CreateBatch(ctx context.Context, notifications []*Notification) error
	GetByID(ctx context.Context, id string) (*Notification, error)
	// ListByRecipient returns at most limit notifications older than after
	// (or the newest ones when after is nil), ordered newest first.
	ListByRecipient(ctx context.Context, recipientID string, after *Cursor, limit int) ([]*Notification, error)
	GetUnreadCount(ctx context.Context, recipientID string) (int, error)
	MarkAsRead(ctx context.Context, id string, recipientID string) error
	MarkAllAsRead(ctx context.Context, recipientID string) (int64, error)
}
