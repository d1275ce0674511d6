package http

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/tunelog/notify/internal/domain/auth"
	"github.com/tunelog/notify/internal/domain/notification"
	"github.com/tunelog/notify/internal/handler/http/middleware"
	"github.com/tunelog/notify/internal/handler/http/response"
	"github.com/tunelog/notify/internal/pkg/jwt"
	"github.com/tunelog/notify/internal/pkg/sse"
	"github.com/tunelog/notify/internal/pkg/validator"
)

// DefaultKeepalive is the ping period of the notification stream
const DefaultKeepalive = 30 * time.Second

// NotificationHandler defines the notification handler interface
type NotificationHandler interface {
	// Notifications
	List(w http.ResponseWriter, r *http.Request)
	UnreadCount(w http.ResponseWriter, r *http.Request)
	MarkAsRead(w http.ResponseWriter, r *http.Request)
	MarkAllAsRead(w http.ResponseWriter, r *http.Request)

	// Publishing
	Create(w http.ResponseWriter, r *http.Request)
	CreateBatch(w http.ResponseWriter, r *http.Request)

	// SSE
	Stream(w http.ResponseWriter, r *http.Request)
}

type notificationHandlerImpl struct {
	notifService notification.Service
	jwtService   jwt.Service
	keepalive    time.Duration
	logger       *slog.Logger
}

// NewNotificationHandler creates a new notification handler
func NewNotificationHandler(notifService notification.Service, jwtService jwt.Service, keepalive time.Duration, logger *slog.Logger) NotificationHandler {
	if keepalive <= 0 {
		keepalive = DefaultKeepalive
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &notificationHandlerImpl{
		notifService: notifService,
		jwtService:   jwtService,
		keepalive:    keepalive,
		logger:       logger.With(slog.String("component", "notification_handler")),
	}
}

// getIntQueryParam gets an int query parameter with a default value
func getIntQueryParam(r *http.Request, key string, defaultVal int) int {
	val := r.URL.Query().Get(key)
	if val == "" {
		return defaultVal
	}
	intVal, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return intVal
}

// List returns one cursor page of the caller's notifications, newest first
func (h *notificationHandlerImpl) List(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserID(r.Context())

	limit := getIntQueryParam(r, "limit", 20)
	cursor := r.URL.Query().Get("cursor")

	result, err := h.notifService.List(r.Context(), userID, cursor, limit)
	if err != nil {
		response.HandleError(w, err)
		return
	}

	response.SuccessWithMeta(w, result, &response.Meta{
		Limit:      limit,
		NextCursor: result.NextCursor,
		HasMore:    result.HasMore,
	})
}

// UnreadCount returns the count of unread notifications
func (h *notificationHandlerImpl) UnreadCount(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserID(r.Context())

	count, err := h.notifService.GetUnreadCount(r.Context(), userID)
	if err != nil {
		response.HandleError(w, err)
		return
	}

	response.Success(w, notification.UnreadCountResponse{UnreadCount: count})
}

// MarkAsRead marks one notification as read
func (h *notificationHandlerImpl) MarkAsRead(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserID(r.Context())

	notifID := chi.URLParam(r, "id")
	if notifID == "" {
		response.BadRequest(w, "Notification ID is required", nil)
		return
	}

	if err := h.notifService.MarkAsRead(r.Context(), userID, notifID); err != nil {
		response.HandleError(w, err)
		return
	}

	response.SuccessWithMessage(w, "Notification marked as read", nil)
}

// MarkAllAsRead marks all notifications as read
func (h *notificationHandlerImpl) MarkAllAsRead(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserID(r.Context())

	if err := h.notifService.MarkAllAsRead(r.Context(), userID); err != nil {
		response.HandleError(w, err)
		return
	}

	response.SuccessWithMessage(w, "All notifications marked as read", nil)
}

// Create stores a notification and pushes it to the recipient's streams
func (h *notificationHandlerImpl) Create(w http.ResponseWriter, r *http.Request) {
	var req notification.CreateNotificationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request body", nil)
		return
	}

	created, err := h.notifService.Publish(r.Context(), req)
	if err != nil {
		response.HandleError(w, err)
		return
	}

	response.Created(w, "Notification created", created)
}

// CreateBatch queues notifications for the background workers
func (h *notificationHandlerImpl) CreateBatch(w http.ResponseWriter, r *http.Request) {
	var req notification.BulkCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request body", nil)
		return
	}
	if err := validator.Struct(req); err != nil {
		response.HandleError(w, err)
		return
	}

	if err := h.notifService.QueueBulkNotification(r.Context(), req.Notifications); err != nil {
		response.HandleError(w, err)
		return
	}

	response.Accepted(w, "Notifications queued", map[string]int{"queued": len(req.Notifications)})
}

// Stream handles SSE connection for real-time notifications
func (h *notificationHandlerImpl) Stream(w http.ResponseWriter, r *http.Request) {
	// EventSource cannot send headers, so the access token rides in the query
	tokenStr := r.URL.Query().Get("token")
	if tokenStr == "" {
		response.HandleError(w, auth.ErrMissingToken)
		return
	}

	userID, err := h.jwtService.ValidateAccessToken(tokenStr)
	if err != nil {
		response.HandleError(w, auth.ErrInvalidToken)
		return
	}

	events, cleanup := h.notifService.Subscribe(r.Context(), userID)
	defer cleanup()

	stream, err := sse.NewWriter(w)
	if err != nil {
		response.InternalServerError(w, "Streaming not supported")
		return
	}

	if err := stream.Send(notification.EventConnected, map[string]string{
		"status":  "connected",
		"user_id": userID,
	}); err != nil {
		return
	}
	h.logger.Debug("stream opened", "user_id", userID)

	keepalive := time.NewTicker(h.keepalive)
	defer keepalive.Stop()

	for {
		select {
		case event, ok := <-events:
			if !ok {
				return
			}
			if err := stream.Send(event.Event, event.Data); err != nil {
				h.logger.Debug("stream write failed", "user_id", userID, "error", err)
				return
			}

		case <-keepalive.C:
			if err := stream.Send(notification.EventPing, map[string]int64{"timestamp": time.Now().Unix()}); err != nil {
				return
			}

		case <-r.Context().Done():
			h.logger.Debug("stream closed", "user_id", userID)
			return
		}
	}
}
