package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Identity scopes every call: the end-user subject and the conversation thread.
type Identity struct {
	SubjectID string
	ChatID    string
}

// Validate reports whether both identifiers are usable on the wire.
func (id Identity) Validate() error {
	if strings.TrimSpace(id.SubjectID) == "" {
		return InvalidInput("subject_id_missing", nil)
	}
	if !IsCanonicalUUID(id.ChatID) {
		return InvalidInput("chat_id_invalid", nil)
	}
	return nil
}

// NewChatID returns a fresh canonical (lowercase) UUID string.
func NewChatID() string {
	return uuid.NewString()
}

// IsCanonicalUUID reports whether s is a UUID in its canonical lowercase form.
func IsCanonicalUUID(s string) bool {
	parsed, err := uuid.Parse(s)
	if err != nil {
		return false
	}
	return parsed.String() == s
}

// ChatSummary is one conversation thread as returned by history listing.
type ChatSummary struct {
	ChatID       string     `json:"chat_id"`
	Title        string     `json:"title"`
	UpdatedAt    *time.Time `json:"updated_at,omitempty"`
	CreatedAt    *time.Time `json:"created_at,omitempty"`
	MessageCount *int       `json:"message_count,omitempty"`
}

// ActivityAt returns the best available activity timestamp.
func (c ChatSummary) ActivityAt() time.Time {
	if c.UpdatedAt != nil {
		return *c.UpdatedAt
	}
	if c.CreatedAt != nil {
		return *c.CreatedAt
	}
	return time.Time{}
}

// RoleKind is the classified speaker of a history message.
type RoleKind string

const (
	RoleUser      RoleKind = "user"
	RoleAssistant RoleKind = "assistant"
	RoleSystem    RoleKind = "system"
)

// HistoryMessage is a single turn of a thread.
type HistoryMessage struct {
	Role      string     `json:"role"`
	Content   string     `json:"content"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
}

// Kind classifies the free-form role string.
func (m HistoryMessage) Kind() RoleKind {
	switch strings.ToLower(strings.TrimSpace(m.Role)) {
	case "user", "human":
		return RoleUser
	case "assistant", "ai", "model", "bot":
		return RoleAssistant
	default:
		return RoleSystem
	}
}
