package response

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/tunelog/notify/internal/domain/auth"
	"github.com/tunelog/notify/internal/domain/notification"
	"github.com/tunelog/notify/internal/pkg/validator"
)

// HandleError maps domain errors to HTTP responses
func HandleError(w http.ResponseWriter, err error) {
	// Check if it's a validation error
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) {
		ValidationError(w, validationErrs.ToMap())
		return
	}

	switch {
	// Auth errors
	case errors.Is(err, auth.ErrMissingToken):
		Unauthorized(w, "Missing token")
	case errors.Is(err, auth.ErrTokenExpired):
		Unauthorized(w, "Token expired")
	case errors.Is(err, auth.ErrInvalidToken):
		Unauthorized(w, "Invalid token")

	// Notification domain errors
	case errors.Is(err, notification.ErrNotificationNotFound):
		NotFound(w, "Notification not found")
	case errors.Is(err, notification.ErrNotificationExists):
		Conflict(w, "Notification already exists")
	case errors.Is(err, notification.ErrInvalidCursor):
		BadRequest(w, "Invalid cursor", nil)
	case errors.Is(err, notification.ErrInvalidKind):
		BadRequest(w, "Invalid notification kind", nil)
	case errors.Is(err, notification.ErrQueueFull):
		ServiceUnavailable(w, "Notification queue is full")

	// Default
	default:
		slog.Error("unhandled error", "error", err)
		InternalServerError(w, "An unexpected error occurred")
	}
}
