package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewMessages(t *testing.T) {
	now := time.Date(2024, 5, 1, 9, 7, 30, 0, time.UTC)

	u := NewUserMessage("hi", now)
	a := NewAssistantMessage("hello", now)

	assert.Equal(t, RoleUser, u.Role)
	assert.Equal(t, RenderInstant, u.Mode)
	assert.Equal(t, RoleAssistant, a.Role)
	assert.Equal(t, RenderProgressive, a.Mode)
	assert.NotEmpty(t, u.ID)
	assert.NotEqual(t, u.ID, a.ID)
	assert.Equal(t, "09:07", u.Timestamp())
}

func TestParseRenderMode(t *testing.T) {
	m, ok := ParseRenderMode(" Progressive ")
	assert.True(t, ok)
	assert.Equal(t, RenderProgressive, m)

	_, ok = ParseRenderMode("fast")
	assert.False(t, ok)
}
