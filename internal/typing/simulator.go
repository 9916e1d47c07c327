// Package typing reveals a reply one character at a time to imitate a live
// responder.
//
// A Simulator owns at most one session. Every scheduled advance carries the
// id of the session that scheduled it and does nothing once that session is
// no longer the active one, so a superseded session can never write into a
// newer session's display.
package typing

import (
	"math/rand/v2"
	"time"

	"github.com/xaenox/insta-assistant/internal/eventloop"
	"go.uber.org/zap"
)

const (
	DefaultMinDelay = 20 * time.Millisecond
	DefaultMaxDelay = 50 * time.Millisecond
)

type SessionID uint64

// Hooks are invoked on the scheduler's timeline. Any of them may be nil.
type Hooks struct {
	// OnReveal receives every reveal state, from the empty prefix up to the
	// full target.
	OnReveal func(id SessionID, prefix string)
	// OnScroll fires once per advance step.
	OnScroll func()
	// OnDone fires when the full target has been revealed. It does not fire
	// for cancelled sessions.
	OnDone func(id SessionID, final string)
}

type Options struct {
	MinDelay time.Duration
	MaxDelay time.Duration
	Rand     *rand.Rand
	Logger   *zap.Logger
}

type session struct {
	id     SessionID
	target []rune
	n      int
	timer  eventloop.Timer
	hooks  Hooks
}

// Simulator is not safe for concurrent use. Call it only from the goroutine
// that runs the scheduler's callbacks.
type Simulator struct {
	sched  eventloop.Scheduler
	min    time.Duration
	max    time.Duration
	rng    *rand.Rand
	logger *zap.Logger

	active *session
	lastID SessionID
}

func NewSimulator(sched eventloop.Scheduler, opts Options) *Simulator {
	if opts.MinDelay <= 0 {
		opts.MinDelay = DefaultMinDelay
	}
	if opts.MaxDelay < opts.MinDelay {
		opts.MaxDelay = opts.MinDelay
	}
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x9e3779b97f4a7c15))
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Simulator{
		sched:  sched,
		min:    opts.MinDelay,
		max:    opts.MaxDelay,
		rng:    opts.Rand,
		logger: opts.Logger,
	}
}

// Delay draws the pause before the next character, uniformly from
// [MinDelay, MaxDelay].
func (s *Simulator) Delay() time.Duration {
	span := int64(s.max - s.min)
	if span == 0 {
		return s.min
	}
	return s.min + time.Duration(s.rng.Int64N(span+1))
}

// Start cancels any active session and begins revealing target. The empty
// reveal state is delivered before Start returns.
func (s *Simulator) Start(target string, hooks Hooks) SessionID {
	s.Cancel()

	s.lastID++
	sess := &session{
		id:     s.lastID,
		target: []rune(target),
		hooks:  hooks,
	}
	s.active = sess
	s.logger.Debug("Typing session started",
		zap.Uint64("session_id", uint64(sess.id)),
		zap.Int("length", len(sess.target)))

	if hooks.OnReveal != nil {
		hooks.OnReveal(sess.id, "")
	}
	if s.active != sess {
		return sess.id
	}
	if len(sess.target) == 0 {
		s.finish(sess)
		return sess.id
	}
	s.schedule(sess)
	return sess.id
}

// Cancel stops the active session. It reports whether there was one.
func (s *Simulator) Cancel() bool {
	sess := s.active
	if sess == nil {
		return false
	}
	if sess.timer != nil {
		sess.timer.Stop()
	}
	s.active = nil
	s.logger.Debug("Typing session cancelled",
		zap.Uint64("session_id", uint64(sess.id)),
		zap.Int("revealed", sess.n))
	return true
}

func (s *Simulator) Active() (SessionID, bool) {
	if s.active == nil {
		return 0, false
	}
	return s.active.id, true
}

// Revealed returns the current prefix of the active session.
func (s *Simulator) Revealed() string {
	if s.active == nil {
		return ""
	}
	return string(s.active.target[:s.active.n])
}

func (s *Simulator) schedule(sess *session) {
	id := sess.id
	sess.timer = s.sched.AfterFunc(s.Delay(), func() { s.advance(id) })
}

func (s *Simulator) advance(id SessionID) {
	sess := s.active
	if sess == nil || sess.id != id {
		return
	}

	sess.n++
	if sess.hooks.OnReveal != nil {
		sess.hooks.OnReveal(id, string(sess.target[:sess.n]))
	}
	if sess.hooks.OnScroll != nil {
		sess.hooks.OnScroll()
	}
	// a hook may have cancelled or replaced the session
	if s.active != sess {
		return
	}

	if sess.n == len(sess.target) {
		s.finish(sess)
		return
	}
	s.schedule(sess)
}

func (s *Simulator) finish(sess *session) {
	s.active = nil
	s.logger.Debug("Typing session done", zap.Uint64("session_id", uint64(sess.id)))
	if sess.hooks.OnDone != nil {
		sess.hooks.OnDone(sess.id, string(sess.target))
	}
}
