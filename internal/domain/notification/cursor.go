package notification

import (
	"encoding/base64"
	"strings"
	"time"
)

// Cursor marks the last item of a page. Pages continue strictly after it in
// (created_at DESC, id DESC) order.
type Cursor struct {
	CreatedAt time.Time
	ID        string
}

// CursorOf returns the cursor pointing at n
func CursorOf(n *Notification) Cursor {
	return Cursor{CreatedAt: n.CreatedAt, ID: n.ID}
}

// Encode returns the opaque form handed to clients
func (c Cursor) Encode() string {
	raw := c.CreatedAt.UTC().Format(time.RFC3339Nano) + "|" + c.ID
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// ParseCursor decodes an opaque cursor. An empty string yields nil, meaning
// "start from the newest notification".
func ParseCursor(s string) (*Cursor, error) {
	if s == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, ErrInvalidCursor
	}
	ts, id, ok := strings.Cut(string(raw), "|")
	if !ok || id == "" {
		return nil, ErrInvalidCursor
	}
	createdAt, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return nil, ErrInvalidCursor
	}
	return &Cursor{CreatedAt: createdAt, ID: id}, nil
}

// Before reports whether n sorts strictly after the cursor position, i.e. is
// older than it in newest-first order.
func (c Cursor) Before(n *Notification) bool {
	if n.CreatedAt.Equal(c.CreatedAt) {
		return n.ID < c.ID
	}
	return n.CreatedAt.Before(c.CreatedAt)
}
