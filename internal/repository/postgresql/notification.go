package postgresql

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/tunelog/notify/internal/domain/notification"
	"github.com/tunelog/notify/internal/pkg/database"
)

const schema = `
	CREATE TABLE IF NOT EXISTS notifications (
		id           TEXT PRIMARY KEY,
		recipient_id TEXT NOT NULL,
		kind         TEXT NOT NULL,
		payload      JSONB NOT NULL DEFAULT '{}'::jsonb,
		is_read      BOOLEAN NOT NULL DEFAULT FALSE,
		read_at      TIMESTAMPTZ,
		created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS idx_notifications_recipient_page
		ON notifications (recipient_id, created_at DESC, id DESC);
	CREATE INDEX IF NOT EXISTS idx_notifications_recipient_unread
		ON notifications (recipient_id) WHERE NOT is_read;
`

const selectColumns = `id, recipient_id, kind, payload, is_read, read_at, created_at`

type notificationRepository struct {
	db *database.DB
}

// NewNotificationRepository creates a new notification repository
func NewNotificationRepository(db *database.DB) notification.Repository {
	return &notificationRepository{db: db}
}

// Migrate creates the notifications table and its indexes if missing
func Migrate(ctx context.Context, db *database.DB) error {
	if _, err := db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to migrate notifications: %w", err)
	}
	return nil
}

// Create creates a new notification
func (r *notificationRepository) Create(ctx context.Context, n *notification.Notification) error {
	q := GetQuerier(ctx, r.db)

	if n.ID == "" {
		n.ID = uuid.New().String()
	}

	payloadJSON, err := json.Marshal(n.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal notification payload: %w", err)
	}

	query := `
		INSERT INTO notifications (id, recipient_id, kind, payload, is_read, read_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err = q.Exec(ctx, query,
		n.ID,
		n.RecipientID,
		string(n.Kind),
		payloadJSON,
		n.Read,
		n.ReadAt,
		n.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return notification.ErrNotificationExists
		}
		return fmt.Errorf("failed to create notification: %w", err)
	}

	return nil
}

// CreateBatch inserts all notifications in one transaction
func (r *notificationRepository) CreateBatch(ctx context.Context, notifications []*notification.Notification) error {
	if len(notifications) == 0 {
		return nil
	}

	const cols = 7
	valueStrings := make([]string, 0, len(notifications))
	valueArgs := make([]interface{}, 0, len(notifications)*cols)

	for i, n := range notifications {
		if n.ID == "" {
			n.ID = uuid.New().String()
		}

		payloadJSON, err := json.Marshal(n.Payload)
		if err != nil {
			return fmt.Errorf("failed to marshal notification payload: %w", err)
		}

		base := i * cols
		valueStrings = append(valueStrings, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7,
		))
		valueArgs = append(valueArgs,
			n.ID,
			n.RecipientID,
			string(n.Kind),
			payloadJSON,
			n.Read,
			n.ReadAt,
			n.CreatedAt,
		)
	}

	query := fmt.Sprintf(`
		INSERT INTO notifications (id, recipient_id, kind, payload, is_read, read_at, created_at)
		VALUES %s
	`, strings.Join(valueStrings, ", "))

	return WithTransaction(ctx, r.db, func(ctx context.Context) error {
		if _, err := GetQuerier(ctx, r.db).Exec(ctx, query, valueArgs...); err != nil {
			if isUniqueViolation(err) {
				return notification.ErrNotificationExists
			}
			return fmt.Errorf("failed to batch create notifications: %w", err)
		}
		return nil
	})
}

// GetByID retrieves a notification by ID
func (r *notificationRepository) GetByID(ctx context.Context, id string) (*notification.Notification, error) {
	q := GetQuerier(ctx, r.db)

	query := `SELECT ` + selectColumns + ` FROM notifications WHERE id = $1`

	n, err := scanNotification(q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notification.ErrNotificationNotFound
		}
		return nil, fmt.Errorf("failed to get notification: %w", err)
	}
	return n, nil
}

// ListByRecipient pages with a keyset on (created_at, id), newest first
func (r *notificationRepository) ListByRecipient(ctx context.Context, recipientID string, after *notification.Cursor, limit int) ([]*notification.Notification, error) {
	q := GetQuerier(ctx, r.db)

	var (
		rows pgx.Rows
		err  error
	)
	if after == nil {
		query := `
			SELECT ` + selectColumns + `
			FROM notifications
			WHERE recipient_id = $1
			ORDER BY created_at DESC, id DESC
			LIMIT $2
		`
		rows, err = q.Query(ctx, query, recipientID, limit)
	} else {
		query := `
			SELECT ` + selectColumns + `
			FROM notifications
			WHERE recipient_id = $1 AND (created_at, id) < ($2, $3)
			ORDER BY created_at DESC, id DESC
			LIMIT $4
		`
		rows, err = q.Query(ctx, query, recipientID, after.CreatedAt, after.ID, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	defer rows.Close()

	notifications := make([]*notification.Notification, 0, limit)
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		notifications = append(notifications, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}

	return notifications, nil
}

// GetUnreadCount returns the count of unread notifications
func (r *notificationRepository) GetUnreadCount(ctx context.Context, recipientID string) (int, error) {
	q := GetQuerier(ctx, r.db)

	var count int
	err := q.QueryRow(ctx,
		`SELECT COUNT(*) FROM notifications WHERE recipient_id = $1 AND NOT is_read`,
		recipientID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count unread notifications: %w", err)
	}
	return count, nil
}

// MarkAsRead marks one notification as read. Marking an already read
// notification succeeds and keeps its original read_at.
func (r *notificationRepository) MarkAsRead(ctx context.Context, id string, recipientID string) error {
	q := GetQuerier(ctx, r.db)

	query := `
		UPDATE notifications
		SET is_read = TRUE, read_at = COALESCE(read_at, NOW())
		WHERE id = $1 AND recipient_id = $2
	`

	tag, err := q.Exec(ctx, query, id, recipientID)
	if err != nil {
		return fmt.Errorf("failed to mark notification as read: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return notification.ErrNotificationNotFound
	}
	return nil
}

// MarkAllAsRead marks every unread notification of the recipient as read and
// returns how many changed
func (r *notificationRepository) MarkAllAsRead(ctx context.Context, recipientID string) (int64, error) {
	q := GetQuerier(ctx, r.db)

	tag, err := q.Exec(ctx,
		`UPDATE notifications SET is_read = TRUE, read_at = NOW() WHERE recipient_id = $1 AND NOT is_read`,
		recipientID,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to mark all notifications as read: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanNotification(row pgx.Row) (*notification.Notification, error) {
	var (
		n           notification.Notification
		kind        string
		payloadJSON []byte
	)
	if err := row.Scan(
		&n.ID,
		&n.RecipientID,
		&kind,
		&payloadJSON,
		&n.Read,
		&n.ReadAt,
		&n.CreatedAt,
	); err != nil {
		return nil, err
	}

	n.Kind = notification.Kind(kind)
	if len(payloadJSON) > 0 {
		if err := json.Unmarshal(payloadJSON, &n.Payload); err != nil {
			return nil, fmt.Errorf("failed to unmarshal notification payload: %w", err)
		}
	}
	return &n, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
