package notification

import "errors"

// Notification domain errors
var (
	ErrNotificationNotFound = errors.New("notification not found")
	ErrNotificationExists   = errors.New("notification already exists")
	ErrInvalidCursor        = errors.New("invalid pagination cursor")
	ErrInvalidKind          = errors.New("invalid notification kind")
	ErrQueueFull            = errors.New("notification queue is full")
)
