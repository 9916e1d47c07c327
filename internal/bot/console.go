package bot

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/xaenox/insta-assistant/internal/conversation"
	"github.com/xaenox/insta-assistant/internal/knowledge"
	"github.com/xaenox/insta-assistant/internal/models"
	"github.com/xaenox/insta-assistant/internal/storage"
	"go.uber.org/zap"
)

const consoleConversationID = "console"

// Console is a terminal chat: one conversation, replies printed character
// by character as they are revealed.
type Console struct {
	in     io.Reader
	out    io.Writer
	mgr    *conversation.Manager
	reg    *knowledge.Registry
	store  storage.Storage
	logger *zap.Logger

	idle    chan struct{}
	printed int
}

func NewConsole(in io.Reader, out io.Writer, mgr *conversation.Manager, reg *knowledge.Registry, store storage.Storage, logger *zap.Logger) *Console {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Console{
		in:     in,
		out:    out,
		mgr:    mgr,
		reg:    reg,
		store:  store,
		logger: logger,
		idle:   make(chan struct{}, 1),
	}
}

// listener writes straight to out. Run only writes while no reply is in
// flight, so the two never interleave.
func (c *Console) listener() conversation.Listener {
	return conversation.Listener{
		OnMessage: func(msg models.ChatMessage) {
			if msg.Role != models.RoleAssistant {
				return
			}
			c.printed = 0
			fmt.Fprintf(c.out, "[%s] Assistant: ", msg.Timestamp())
		},
		OnReveal: func(_ string, prefix string) {
			fmt.Fprint(c.out, prefix[c.printed:])
			c.printed = len(prefix)
		},
		OnIdle: func() {
			fmt.Fprintln(c.out)
			select {
			case c.idle <- struct{}{}:
			default:
			}
		},
		OnSelect: storage.Observer(c.store, c.logger),
	}
}

// Run greets the user and reads lines until "bye", EOF or ctx is cancelled.
func (c *Console) Run(ctx context.Context) error {
	if _, err := c.mgr.Create(ctx, consoleConversationID, c.listener()); err != nil {
		return fmt.Errorf("failed to open conversation: %w", err)
	}
	defer c.mgr.Remove(context.Background(), consoleConversationID)

	err := c.mgr.Do(ctx, consoleConversationID, func(conv *conversation.Conversation) error {
		return conv.Greet()
	})
	if err != nil {
		return fmt.Errorf("failed to greet: %w", err)
	}
	if err := c.waitIdle(ctx); err != nil {
		return nil
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		fmt.Fprint(c.out, "> ")

		var line string
		var ok bool
		select {
		case <-ctx.Done():
			return nil
		case line, ok = <-lines:
			if !ok {
				return nil
			}
		}

		done, err := c.handleLine(ctx, line)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
}

func (c *Console) handleLine(ctx context.Context, line string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "bye":
		fmt.Fprintln(c.out, "Goodbye!")
		return true, nil
	case "/help":
		fmt.Fprintln(c.out, consoleHelp)
		return false, nil
	case "/topics":
		for _, l := range topicLines(c.reg) {
			fmt.Fprintln(c.out, l)
		}
		return false, nil
	case "/stats":
		c.printStats(ctx)
		return false, nil
	case "/status":
		var status conversation.Status
		err := c.mgr.Do(ctx, consoleConversationID, func(conv *conversation.Conversation) error {
			status = conv.ToggleStatus()
			return nil
		})
		if err != nil {
			return false, err
		}
		fmt.Fprintf(c.out, "Status: %s\n", status)
		return false, nil
	}

	err := c.mgr.Submit(ctx, consoleConversationID, line)
	switch {
	case errors.Is(err, conversation.ErrEmptyUtterance):
		return false, nil
	case err != nil:
		return false, err
	}

	if err := c.waitIdle(ctx); err != nil {
		return true, nil
	}
	return false, nil
}

func (c *Console) printStats(ctx context.Context) {
	lines, err := statLines(ctx, c.store)
	if err != nil {
		c.logger.Error("Failed to list lookups", zap.Error(err))
		fmt.Fprintln(c.out, "Stats are unavailable right now.")
		return
	}
	if len(lines) == 0 {
		fmt.Fprintln(c.out, "No questions answered yet.")
		return
	}
	for _, l := range lines {
		fmt.Fprintln(c.out, l)
	}
}

func (c *Console) waitIdle(ctx context.Context) error {
	select {
	case <-c.idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

const consoleHelp = `Commands:
  /help    show this message
  /topics  list what I know about
  /stats   show the most requested answers
  /status  toggle the online indicator
  bye      quit`
