package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/xaenox/insta-assistant/internal/conversation"
	"github.com/xaenox/insta-assistant/internal/knowledge"
	"github.com/xaenox/insta-assistant/internal/storage"
	"go.uber.org/zap"
)

// telegramAPI is the part of tgbotapi.BotAPI the bot uses.
type telegramAPI interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Options tune how the bot renders replies and how long it keeps chats.
type Options struct {
	// EditEvery is how many revealed characters are batched into one edit.
	EditEvery int
	// IdleTimeout drops a chat's conversation after this long without
	// activity. Zero keeps every conversation until shutdown.
	IdleTimeout time.Duration
}

// Bot serves one conversation per Telegram chat. Replies are revealed by
// editing the bot's message as more characters become visible.
type Bot struct {
	api    telegramAPI
	mgr    *conversation.Manager
	reg    *knowledge.Registry
	store  storage.Storage
	opts   Options
	logger *zap.Logger

	// quiet chats are reported here by their renderers
	idle chan *chatRenderer

	mu        sync.Mutex
	renderers map[int64]*chatRenderer
}

func New(token string, mgr *conversation.Manager, reg *knowledge.Registry, store storage.Storage, opts Options, logger *zap.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}
	b := newBot(api, mgr, reg, store, opts, logger)
	b.logger.Info("Authorized on Telegram", zap.String("username", api.Self.UserName))
	return b, nil
}

func newBot(api telegramAPI, mgr *conversation.Manager, reg *knowledge.Registry, store storage.Storage, opts Options, logger *zap.Logger) *Bot {
	if opts.EditEvery <= 0 {
		opts.EditEvery = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bot{
		api:       api,
		mgr:       mgr,
		reg:       reg,
		store:     store,
		opts:      opts,
		logger:    logger,
		idle:      make(chan *chatRenderer),
		renderers: make(map[int64]*chatRenderer),
	}
}

// Start polls for updates until ctx is cancelled.
func (b *Bot) Start(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)
	defer b.api.StopReceivingUpdates()

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if update.Message == nil {
				continue
			}
			// handled in order so a chat's messages reach its conversation in sequence
			b.handleMessage(ctx, update.Message)
		case r := <-b.idle:
			// expiry shares this goroutine with messages so it never races a submit
			b.expire(ctx, r)
		}
	}
}

func conversationID(chatID int64) string {
	return fmt.Sprintf("telegram:%d", chatID)
}

func (b *Bot) ensure(ctx context.Context, chatID int64) (string, error) {
	id := conversationID(chatID)
	_, err := b.mgr.Ensure(ctx, id, func() conversation.Listener {
		l := b.renderer(ctx, chatID).listener()
		l.OnSelect = storage.Observer(b.store, b.logger)
		return l
	})
	return id, err
}

// renderer starts the renderer for a new conversation in chatID. It runs
// until the conversation expires or ctx is done.
func (b *Bot) renderer(ctx context.Context, chatID int64) *chatRenderer {
	b.mu.Lock()
	defer b.mu.Unlock()

	if old, ok := b.renderers[chatID]; ok {
		old.stop()
	}
	r := newChatRenderer(b.api, chatID, b.opts.EditEvery, b.logger)
	b.renderers[chatID] = r
	go r.run(ctx, b.opts.IdleTimeout, b.idle)
	return r
}

// expire forgets a quiet chat. A chat that is still thinking or typing is
// kept and reported again after another quiet period.
func (b *Bot) expire(ctx context.Context, r *chatRenderer) {
	err := b.mgr.RemoveIdle(ctx, conversationID(r.chatID))
	switch {
	case err == nil, errors.Is(err, conversation.ErrNotFound):
	case errors.Is(err, conversation.ErrBusy):
		return
	default:
		b.logger.Warn("Failed to expire conversation", zap.Error(err), zap.Int64("chat_id", r.chatID))
		return
	}

	b.mu.Lock()
	if b.renderers[r.chatID] == r {
		delete(b.renderers, r.chatID)
	}
	b.mu.Unlock()
	r.stop()
	b.logger.Debug("Conversation expired", zap.Int64("chat_id", r.chatID))
}

func (b *Bot) handleMessage(ctx context.Context, message *tgbotapi.Message) {
	if message.IsCommand() {
		b.handleCommand(ctx, message)
		return
	}

	content := message.Text
	if message.Caption != "" {
		content = message.Caption
	}

	id, err := b.ensure(ctx, message.Chat.ID)
	if err != nil {
		b.logger.Error("Failed to open conversation", zap.Error(err), zap.Int64("chat_id", message.Chat.ID))
		b.sendErrorMessage(message.Chat.ID, "Sorry, something went wrong. Please try again.")
		return
	}

	err = b.mgr.Submit(ctx, id, content)
	switch {
	case err == nil:
	case errors.Is(err, conversation.ErrBusy):
		b.sendMessage(message.Chat.ID, "I'm still typing, one moment please.")
	case errors.Is(err, conversation.ErrEmptyUtterance):
		b.sendMessage(message.Chat.ID, "Send me a text question about Instagram.")
	default:
		b.logger.Error("Failed to submit message",
			zap.Error(err),
			zap.Int64("chat_id", message.Chat.ID))
		b.sendErrorMessage(message.Chat.ID, "Sorry, something went wrong. Please try again.")
	}
}

func (b *Bot) handleCommand(ctx context.Context, message *tgbotapi.Message) {
	switch message.Command() {
	case "start":
		b.handleStart(ctx, message)
	case "help":
		b.handleHelp(message)
	case "topics":
		b.handleTopics(message)
	case "stats":
		b.handleStats(ctx, message)
	case "status":
		b.handleStatus(ctx, message)
	default:
		b.sendMessage(message.Chat.ID, "Unknown command. Use /help to see available commands.")
	}
}

func (b *Bot) handleStart(ctx context.Context, message *tgbotapi.Message) {
	id, err := b.ensure(ctx, message.Chat.ID)
	if err == nil {
		err = b.mgr.Do(ctx, id, func(c *conversation.Conversation) error {
			return c.Greet()
		})
	}
	switch {
	case err == nil:
	case errors.Is(err, conversation.ErrBusy):
		b.sendMessage(message.Chat.ID, "I'm still typing, one moment please.")
	default:
		b.logger.Error("Failed to greet", zap.Error(err), zap.Int64("chat_id", message.Chat.ID))
		b.sendErrorMessage(message.Chat.ID, "Sorry, something went wrong. Please try again.")
	}
}

func (b *Bot) handleHelp(message *tgbotapi.Message) {
	b.sendMessage(message.Chat.ID, helpText)
}

const helpText = `Available commands:
/start - Say hello
/help - Show this help message
/topics - Show what I know about
/stats - Show which answers are asked for most
/status - Toggle my online status

Ask me anything about Instagram: photos, videos, stories, the algorithm, marketing or analytics.`

func (b *Bot) handleTopics(message *tgbotapi.Message) {
	response := "*Topics I know about:*\n"
	for _, line := range topicLines(b.reg) {
		response += escapeMarkdown(line) + "\n"
	}

	msg := tgbotapi.NewMessage(message.Chat.ID, response)
	msg.ParseMode = "MarkdownV2"
	if _, err := b.api.Send(msg); err != nil {
		b.logger.Error("Failed to send topics", zap.Error(err), zap.Int64("chat_id", message.Chat.ID))
	}
}

func (b *Bot) handleStats(ctx context.Context, message *tgbotapi.Message) {
	lines, err := statLines(ctx, b.store)
	if err != nil {
		b.logger.Error("Failed to list lookups",
			zap.Error(err),
			zap.Int64("chat_id", message.Chat.ID))
		b.sendMessage(message.Chat.ID, "Sorry, failed to retrieve the stats. Please try again later.")
		return
	}

	if len(lines) == 0 {
		b.sendMessage(message.Chat.ID, "Nobody has asked me anything yet.")
		return
	}

	response := "*Most requested answers:*\n"
	for _, line := range lines {
		response += escapeMarkdown(line) + "\n"
	}

	msg := tgbotapi.NewMessage(message.Chat.ID, response)
	msg.ParseMode = "MarkdownV2"
	if _, err := b.api.Send(msg); err != nil {
		b.logger.Error("Failed to send stats", zap.Error(err), zap.Int64("chat_id", message.Chat.ID))
	}
}

func (b *Bot) handleStatus(ctx context.Context, message *tgbotapi.Message) {
	id, err := b.ensure(ctx, message.Chat.ID)
	var status conversation.Status
	if err == nil {
		err = b.mgr.Do(ctx, id, func(c *conversation.Conversation) error {
			status = c.ToggleStatus()
			return nil
		})
	}
	if err != nil {
		b.logger.Error("Failed to toggle status", zap.Error(err), zap.Int64("chat_id", message.Chat.ID))
		b.sendErrorMessage(message.Chat.ID, "Sorry, something went wrong. Please try again.")
		return
	}
	b.sendMessage(message.Chat.ID, "Status: "+string(status))
}

// escapeMarkdown escapes special characters for MarkdownV2
func escapeMarkdown(text string) string {
	specialChars := []string{"\\", "_", "*", "[", "]", "(", ")", "~", "`", ">", "#", "+", "-", "=", "|", "{", "}", ".", "!"}
	escaped := text
	for _, char := range specialChars {
		escaped = strings.ReplaceAll(escaped, char, "\\"+char)
	}
	return escaped
}

func (b *Bot) sendMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := b.api.Send(msg); err != nil {
		b.logger.Error("Failed to send message",
			zap.Error(err),
			zap.Int64("chat_id", chatID))
	}
}

func (b *Bot) sendErrorMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, "⚠️ "+text)
	if _, err := b.api.Send(msg); err != nil {
		b.logger.Error("Failed to send error message",
			zap.Error(err),
			zap.Int64("chat_id", chatID))
	}
}
