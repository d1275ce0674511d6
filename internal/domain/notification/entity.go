package notification

import (
	"time"
)

// Kind is the category tag of a notification. The set is open: clients must
// accept kinds they do not know about.
type Kind string

const (
	KindFollow  Kind = "follow"
	KindLike    Kind = "like"
	KindComment Kind = "comment"
	KindMention Kind = "mention"
	KindReview  Kind = "review"
)

// AllKinds returns the kinds the server currently emits
func AllKinds() []Kind {
	return []Kind{
		KindFollow,
		KindLike,
		KindComment,
		KindMention,
		KindReview,
	}
}

// Payload carries the kind-specific part of a notification
type Payload struct {
	ActorID    string `json:"actor_id,omitempty"`
	ActorName  string `json:"actor_name,omitempty"`
	TargetType string `json:"target_type,omitempty"` // album, review, comment, user
	TargetID   string `json:"target_id,omitempty"`
	Text       string `json:"text,omitempty"`
}

// Notification represents a notification entity
type Notification struct {
	ID          string
	RecipientID string
	Kind        Kind
	Payload     Payload
	Read        bool
	ReadAt      *time.Time
	CreatedAt   time.Time
}

// Page is one slice of a recipient's notifications, newest first
type Page struct {
	Items      []Notification
	NextCursor string
	HasMore    bool
}
