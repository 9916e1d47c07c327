// Package conversation holds the state of one chat: the append-only message
// log, the busy flag and the reply currently being revealed.
//
// A Conversation is driven entirely by its scheduler's timeline and is not
// safe for concurrent use. Hosts that serve several goroutines go through a
// Manager, which funnels every call onto a single event loop.
package conversation

import (
	"errors"
	"strings"
	"time"

	"github.com/xaenox/insta-assistant/internal/classifier"
	"github.com/xaenox/insta-assistant/internal/eventloop"
	"github.com/xaenox/insta-assistant/internal/models"
	"github.com/xaenox/insta-assistant/internal/typing"
	"go.uber.org/zap"
)

const DefaultThinkingDelay = time.Second

var (
	ErrBusy           = errors.New("conversation is busy")
	ErrEmptyUtterance = errors.New("empty utterance")
	ErrClosed         = errors.New("conversation closed")
	ErrNotFound       = errors.New("conversation not found")
)

// Status is the cosmetic online indicator. It never affects replies.
type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
)

// Listener receives rendering events. Callbacks run on the scheduler's
// timeline and must not block.
type Listener struct {
	OnMessage func(msg models.ChatMessage)
	OnReveal  func(msgID, prefix string)
	OnScroll  func()
	OnIdle    func()
	OnSelect  func(res classifier.Result)
}

type Options struct {
	ThinkingDelay time.Duration
	Typing        typing.Options
	Now           func() time.Time
	Logger        *zap.Logger
}

// View is a message together with what is currently displayed for it.
type View struct {
	Message   models.ChatMessage `json:"message"`
	Display   string             `json:"display"`
	Revealing bool               `json:"revealing"`
}

type Conversation struct {
	id            string
	clf           classifier.Classifier
	sched         eventloop.Scheduler
	sim           *typing.Simulator
	thinkingDelay time.Duration
	now           func() time.Time
	logger        *zap.Logger
	listener      Listener

	log       []models.ChatMessage
	busy      bool
	closed    bool
	thinking  eventloop.Timer
	revealing string
	display   string
	status    Status
}

func New(id string, clf classifier.Classifier, sched eventloop.Scheduler, opts Options, listener Listener) *Conversation {
	if opts.ThinkingDelay < 0 {
		opts.ThinkingDelay = 0
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	logger := opts.Logger.With(zap.String("conversation_id", id))
	opts.Typing.Logger = logger

	return &Conversation{
		id:            id,
		clf:           clf,
		sched:         sched,
		sim:           typing.NewSimulator(sched, opts.Typing),
		thinkingDelay: opts.ThinkingDelay,
		now:           opts.Now,
		logger:        logger,
		listener:      listener,
		status:        StatusOffline,
	}
}

func (c *Conversation) ID() string { return c.id }

// Busy reports whether a reply is pending or being revealed.
func (c *Conversation) Busy() bool { return c.busy }

// Submit appends the user's utterance and schedules the reply after the
// thinking delay. Input is rejected, not queued, while the conversation is
// busy.
func (c *Conversation) Submit(text string) error {
	if c.closed {
		return ErrClosed
	}
	if strings.TrimSpace(text) == "" {
		return ErrEmptyUtterance
	}
	if c.busy {
		c.logger.Debug("Submission rejected", zap.String("reason", "busy"))
		return ErrBusy
	}

	c.append(models.NewUserMessage(text, c.now()))
	c.busy = true
	c.thinking = c.sched.AfterFunc(c.thinkingDelay, func() {
		c.thinking = nil
		if c.closed {
			return
		}
		res := c.clf.Resolve(text)
		if c.listener.OnSelect != nil {
			c.listener.OnSelect(res)
		}
		c.reply(res)
	})
	return nil
}

// Greet reveals the introduction message without any user input. It is not
// reported to OnSelect since nobody asked anything.
func (c *Conversation) Greet() error {
	if c.closed {
		return ErrClosed
	}
	if c.busy {
		return ErrBusy
	}
	c.busy = true
	c.reply(c.clf.Resolve(""))
	return nil
}

func (c *Conversation) reply(res classifier.Result) {
	c.logger.Info("Reply selected",
		zap.String("outcome", string(res.Outcome)),
		zap.String("topic", res.Topic),
		zap.String("subtopic", res.Subtopic))

	msg := models.NewAssistantMessage(res.Reply, c.now())
	c.append(msg)
	c.revealing = msg.ID

	c.sim.Start(msg.Content, typing.Hooks{
		OnReveal: func(_ typing.SessionID, prefix string) {
			c.display = prefix
			if c.listener.OnReveal != nil {
				c.listener.OnReveal(msg.ID, prefix)
			}
		},
		OnScroll: c.listener.OnScroll,
		OnDone: func(typing.SessionID, string) {
			c.revealing = ""
			c.display = ""
			c.busy = false
			if c.listener.OnIdle != nil {
				c.listener.OnIdle()
			}
		},
	})
}

func (c *Conversation) append(msg models.ChatMessage) {
	c.log = append(c.log, msg)
	if c.listener.OnMessage != nil {
		c.listener.OnMessage(msg)
	}
}

// Messages returns a copy of the log.
func (c *Conversation) Messages() []models.ChatMessage {
	out := make([]models.ChatMessage, len(c.log))
	copy(out, c.log)
	return out
}

// Views returns the log with the content each message currently displays.
func (c *Conversation) Views() []View {
	out := make([]View, len(c.log))
	for i, msg := range c.log {
		v := View{Message: msg, Display: msg.Content}
		if msg.ID == c.revealing {
			v.Display = c.display
			v.Revealing = true
		}
		out[i] = v
	}
	return out
}

func (c *Conversation) Status() Status { return c.status }

func (c *Conversation) SetStatus(s Status) { c.status = s }

func (c *Conversation) ToggleStatus() Status {
	if c.status == StatusOnline {
		c.status = StatusOffline
	} else {
		c.status = StatusOnline
	}
	return c.status
}

// Close tears the conversation down. A pending reply never arrives and an
// in-progress reveal stops where it is.
func (c *Conversation) Close() {
	if c.closed {
		return
	}
	c.closed = true
	if c.thinking != nil {
		c.thinking.Stop()
		c.thinking = nil
	}
	c.sim.Cancel()
	c.busy = false
}
