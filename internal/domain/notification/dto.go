package notification

import (
	"time"
)

// ============= Request DTOs =============

// CreateNotificationRequest represents a request to create a notification
type CreateNotificationRequest struct {
	RecipientID string  `json:"recipient_id" validate:"required"`
	Kind        Kind    `json:"kind" validate:"required"`
	Payload     Payload `json:"payload"`
}

// BulkCreateRequest represents a batch of notifications queued in one call
type BulkCreateRequest struct {
	Notifications []CreateNotificationRequest `json:"notifications" validate:"required,min=1,dive"`
}

// ============= Response DTOs =============

// NotificationResponse is the wire form of a notification, shared by the REST
// endpoints and the "notification" stream event.
type NotificationResponse struct {
	ID        string     `json:"id" validate:"required"`
	Kind      Kind       `json:"kind" validate:"required"`
	Payload   Payload    `json:"payload"`
	Read      bool       `json:"read"`
	ReadAt    *time.Time `json:"read_at,omitempty"`
	CreatedAt time.Time  `json:"created_at" validate:"required"`
}

// ListResponse represents one cursor page of notifications
type ListResponse struct {
	Notifications []NotificationResponse `json:"notifications"`
	NextCursor    string                 `json:"next_cursor,omitempty"`
	HasMore       bool                   `json:"has_more"`
}

// UnreadCountResponse represents unread count response
type UnreadCountResponse struct {
	UnreadCount int `json:"unread_count"`
}

// ============= SSE Event =============

// Stream event names
const (
	EventConnected    = "connected"
	EventNotification = "notification"
	EventPing         = "ping"
)

// SSEEvent represents a Server-Sent Event
type SSEEvent struct {
	Event string               `json:"event"`
	Data  NotificationResponse `json:"data"`
}

// ToResponse converts a Notification entity to its wire form
func ToResponse(n *Notification) NotificationResponse {
	return NotificationResponse{
		ID:        n.ID,
		Kind:      n.Kind,
		Payload:   n.Payload,
		Read:      n.Read,
		ReadAt:    n.ReadAt,
		CreatedAt: n.CreatedAt,
	}
}

// FromResponse converts the wire form back into an entity
func FromResponse(r NotificationResponse) Notification {
	return Notification{
		ID:        r.ID,
		Kind:      r.Kind,
		Payload:   r.Payload,
		Read:      r.Read,
		ReadAt:    r.ReadAt,
		CreatedAt: r.CreatedAt,
	}
}

// ToPage converts a list response into a client-side page
func (l *ListResponse) ToPage() Page {
	items := make([]Notification, len(l.Notifications))
	for i, r := range l.Notifications {
		items[i] = FromResponse(r)
	}
	return Page{
		Items:      items,
		NextCursor: l.NextCursor,
		HasMore:    l.HasMore,
	}
}
