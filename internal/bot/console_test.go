package bot

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaenox/insta-assistant/internal/classifier"
	"github.com/xaenox/insta-assistant/internal/conversation"
	"github.com/xaenox/insta-assistant/internal/eventloop"
	"github.com/xaenox/insta-assistant/internal/knowledge"
	"github.com/xaenox/insta-assistant/internal/storage"
	"github.com/xaenox/insta-assistant/internal/typing"
)

func runConsole(t *testing.T, input string) (string, *knowledge.Registry) {
	t.Helper()
	reg, err := knowledge.Default()
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	loop := eventloop.New(64, nil)
	go loop.Run(ctx)

	mgr := conversation.NewManager(loop, classifier.NewKeywordClassifier(reg), conversation.Options{
		ThinkingDelay: time.Millisecond,
		Typing:        typing.Options{MinDelay: time.Microsecond, MaxDelay: time.Microsecond},
	})

	var out bytes.Buffer
	c := NewConsole(strings.NewReader(input), &out, mgr, reg, storage.NewMemoryStorage(), nil)
	require.NoError(t, c.Run(ctx))
	require.NoError(t, ctx.Err(), "console did not finish in time")
	return out.String(), reg
}

func TestConsole_Conversation(t *testing.T) {
	out, reg := runConsole(t, "photo\n\n/status\n/topics\nbye\nmarketing\n")

	photo, _ := reg.Lookup("content_creation", "photo_tips")
	marketing, _ := reg.Lookup("business", "marketing")

	assert.Contains(t, out, reg.Greeting())
	assert.Contains(t, out, "Assistant: "+photo+"\n")
	assert.Contains(t, out, "Status: online")
	assert.Contains(t, out, "Content creation: photo tips, video tips, story tips")
	assert.Contains(t, out, "Goodbye!")
	assert.NotContains(t, out, marketing)

	// greeting comes before the first answer
	assert.Less(t, strings.Index(out, reg.Greeting()), strings.Index(out, photo))
}

func TestConsole_EOFEnds(t *testing.T) {
	out, reg := runConsole(t, "what is instagram")

	overview, _ := reg.Lookup("general", "what_is_instagram")
	assert.Contains(t, out, overview)
	assert.NotContains(t, out, "Goodbye!")
}

func TestConsole_HelpAndStats(t *testing.T) {
	out, _ := runConsole(t, "/help\n/stats\nbye\n")

	assert.Contains(t, out, consoleHelp)
	assert.Contains(t, out, "No questions answered yet.")
}
