package bot

import (
	"context"
	"sync"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/xaenox/insta-assistant/internal/conversation"
	"github.com/xaenox/insta-assistant/internal/models"
	"go.uber.org/zap"
)

type reveal struct {
	msgID string
	text  string
	done  bool
}

// chatRenderer turns conversation events into Telegram calls for one chat.
// Listener callbacks only record state and never block the event loop; the
// run goroutine does the network I/O and skips intermediate prefixes it did
// not get to.
type chatRenderer struct {
	api       telegramAPI
	chatID    int64
	editEvery int
	logger    *zap.Logger

	mu     sync.Mutex
	typing bool
	queue  []*reveal
	notify chan struct{}

	stopOnce sync.Once
	done     chan struct{}

	// owned by run
	sentID   int
	sentText string
}

func newChatRenderer(api telegramAPI, chatID int64, editEvery int, logger *zap.Logger) *chatRenderer {
	return &chatRenderer{
		api:       api,
		chatID:    chatID,
		editEvery: editEvery,
		logger:    logger.With(zap.Int64("chat_id", chatID)),
		notify:    make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
}

func (r *chatRenderer) stop() {
	r.stopOnce.Do(func() { close(r.done) })
}

func (r *chatRenderer) listener() conversation.Listener {
	return conversation.Listener{
		OnMessage: func(msg models.ChatMessage) {
			r.mu.Lock()
			if msg.Role == models.RoleUser {
				r.typing = true
			} else {
				r.queue = append(r.queue, &reveal{msgID: msg.ID})
			}
			r.mu.Unlock()
			r.signal()
		},
		OnReveal: func(msgID, prefix string) {
			r.mu.Lock()
			if n := len(r.queue); n > 0 && r.queue[n-1].msgID == msgID {
				r.queue[n-1].text = prefix
			}
			r.mu.Unlock()
			r.signal()
		},
		OnIdle: func() {
			r.mu.Lock()
			if n := len(r.queue); n > 0 {
				r.queue[n-1].done = true
			}
			r.mu.Unlock()
			r.signal()
		},
	}
}

func (r *chatRenderer) signal() {
	select {
	case r.notify <- struct{}{}:
	default:
	}
}

// run renders until stopped. After idleTimeout without events it offers
// itself on idle; a zero idleTimeout never does.
func (r *chatRenderer) run(ctx context.Context, idleTimeout time.Duration, idle chan<- *chatRenderer) {
	var quiet <-chan time.Time
	var timer *time.Timer
	if idleTimeout > 0 {
		timer = time.NewTimer(idleTimeout)
		defer timer.Stop()
		quiet = timer.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.done:
			r.flush()
			return
		case <-r.notify:
			r.flush()
			if timer != nil {
				timer.Reset(idleTimeout)
			}
		case <-quiet:
			select {
			case idle <- r:
			case <-r.done:
				r.flush()
				return
			case <-ctx.Done():
				return
			}
			timer.Reset(idleTimeout)
		}
	}
}

func (r *chatRenderer) flush() {
	r.mu.Lock()
	typing := r.typing
	r.typing = false
	r.mu.Unlock()

	if typing {
		if _, err := r.api.Request(tgbotapi.NewChatAction(r.chatID, tgbotapi.ChatTyping)); err != nil {
			r.logger.Warn("Failed to send typing action", zap.Error(err))
		}
	}

	for {
		r.mu.Lock()
		if len(r.queue) == 0 {
			r.mu.Unlock()
			return
		}
		head := *r.queue[0]
		r.mu.Unlock()

		if !head.done {
			if utf8.RuneCountInString(head.text)-utf8.RuneCountInString(r.sentText) >= r.editEvery {
				r.sync(head.text)
			}
			return
		}

		r.sync(head.text)
		r.mu.Lock()
		r.queue = r.queue[1:]
		r.mu.Unlock()
		r.sentID = 0
		r.sentText = ""
	}
}

// sync makes the chat show text, sending the message on first use and
// editing it afterwards.
func (r *chatRenderer) sync(text string) {
	if text == "" || text == r.sentText {
		return
	}

	if r.sentID == 0 {
		m, err := r.api.Send(tgbotapi.NewMessage(r.chatID, text))
		if err != nil {
			r.logger.Error("Failed to send reply", zap.Error(err))
			return
		}
		r.sentID = m.MessageID
	} else {
		if _, err := r.api.Send(tgbotapi.NewEditMessageText(r.chatID, r.sentID, text)); err != nil {
			r.logger.Error("Failed to edit reply", zap.Error(err), zap.Int("message_id", r.sentID))
			return
		}
	}
	r.sentText = text
}
