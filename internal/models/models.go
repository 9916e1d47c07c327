package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// RenderMode controls how a message is shown.
type RenderMode string

const (
	RenderInstant     RenderMode = "instant"
	RenderProgressive RenderMode = "progressive"
)

// ParseRenderMode parses a raw string into a known RenderMode.
func ParseRenderMode(raw string) (RenderMode, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "instant":
		return RenderInstant, true
	case "progressive":
		return RenderProgressive, true
	default:
	}
	return "", false
}

// ChatMessage is one entry of a conversation log. Content of an assistant
// message is always the full reply, never a partial reveal.
type ChatMessage struct {
	ID        string     `json:"id"`
	Role      Role       `json:"role"`
	Content   string     `json:"content"`
	Mode      RenderMode `json:"mode"`
	CreatedAt time.Time  `json:"created_at"`
}

func NewUserMessage(content string, now time.Time) ChatMessage {
	return ChatMessage{
		ID:        uuid.New().String(),
		Role:      RoleUser,
		Content:   content,
		Mode:      RenderInstant,
		CreatedAt: now,
	}
}

func NewAssistantMessage(content string, now time.Time) ChatMessage {
	return ChatMessage{
		ID:        uuid.New().String(),
		Role:      RoleAssistant,
		Content:   content,
		Mode:      RenderProgressive,
		CreatedAt: now,
	}
}

// Timestamp is the hour:minute label shown next to a message, in the
// message's own location.
func (m ChatMessage) Timestamp() string {
	return m.CreatedAt.Format("15:04")
}

// LookupStat counts how often a reply was chosen, per entry and outcome.
type LookupStat struct {
	Topic      string    `json:"topic"`
	Subtopic   string    `json:"subtopic"`
	Outcome    string    `json:"outcome"`
	Count      int64     `json:"count"`
	LastSeenAt time.Time `json:"last_seen_at"`
}
