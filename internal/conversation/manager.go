package conversation

import (
	"context"

	"github.com/google/uuid"
	"github.com/xaenox/insta-assistant/internal/classifier"
	"github.com/xaenox/insta-assistant/internal/eventloop"
	"go.uber.org/zap"
)

// Manager keeps conversations keyed by id. All of them share one event loop,
// so replies in different conversations never run in parallel.
//
// Manager methods must not be called from inside a Listener callback: they
// wait for the loop that is running the callback.
type Manager struct {
	loop   *eventloop.Loop
	clf    classifier.Classifier
	opts   Options
	logger *zap.Logger

	convs map[string]*Conversation
}

func NewManager(loop *eventloop.Loop, clf classifier.Classifier, opts Options) *Manager {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Manager{
		loop:   loop,
		clf:    clf,
		opts:   opts,
		logger: opts.Logger,
		convs:  make(map[string]*Conversation),
	}
}

// Create starts a conversation. An empty id gets a fresh uuid.
func (m *Manager) Create(ctx context.Context, id string, listener Listener) (string, error) {
	if id == "" {
		id = uuid.New().String()
	}
	err := m.loop.Do(ctx, func() {
		if old, ok := m.convs[id]; ok {
			old.Close()
		}
		m.convs[id] = New(id, m.clf, m.loop, m.opts, listener)
	})
	if err != nil {
		return "", err
	}
	m.logger.Info("Conversation created", zap.String("conversation_id", id))
	return id, nil
}

// Ensure returns the conversation id, creating it with newListener when it
// does not exist yet.
func (m *Manager) Ensure(ctx context.Context, id string, newListener func() Listener) (created bool, err error) {
	err = m.loop.Do(ctx, func() {
		if _, ok := m.convs[id]; ok {
			return
		}
		var l Listener
		if newListener != nil {
			l = newListener()
		}
		m.convs[id] = New(id, m.clf, m.loop, m.opts, l)
		created = true
	})
	return created, err
}

// Do runs fn against the conversation on the event loop.
func (m *Manager) Do(ctx context.Context, id string, fn func(c *Conversation) error) error {
	var fnErr error
	err := m.loop.Do(ctx, func() {
		c, ok := m.convs[id]
		if !ok {
			fnErr = ErrNotFound
			return
		}
		fnErr = fn(c)
	})
	if err != nil {
		return err
	}
	return fnErr
}

func (m *Manager) Submit(ctx context.Context, id, text string) error {
	return m.Do(ctx, id, func(c *Conversation) error {
		return c.Submit(text)
	})
}

func (m *Manager) Views(ctx context.Context, id string) ([]View, error) {
	var views []View
	err := m.Do(ctx, id, func(c *Conversation) error {
		views = c.Views()
		return nil
	})
	return views, err
}

// Remove closes the conversation and forgets it.
func (m *Manager) Remove(ctx context.Context, id string) error {
	return m.Do(ctx, id, func(c *Conversation) error {
		c.Close()
		delete(m.convs, id)
		return nil
	})
}

// RemoveIdle removes the conversation unless it is thinking or typing, in
// which case it returns ErrBusy and the conversation is kept.
func (m *Manager) RemoveIdle(ctx context.Context, id string) error {
	return m.Do(ctx, id, func(c *Conversation) error {
		if c.Busy() {
			return ErrBusy
		}
		c.Close()
		delete(m.convs, id)
		return nil
	})
}

// Close tears down every conversation.
func (m *Manager) Close(ctx context.Context) error {
	return m.loop.Do(ctx, func() {
		for id, c := range m.convs {
			c.Close()
			delete(m.convs, id)
		}
	})
}
