// Package classifier maps a free-text utterance onto one canned answer of a
// knowledge.Registry by keyword membership.
//
// Known limitation: tokens are only lowercased and split on whitespace. There
// is no stemming and no punctuation stripping, so "photo?" does not match the
// trigger word "photo".
package classifier

import (
	"errors"
	"fmt"
	"strings"

	"github.com/xaenox/insta-assistant/internal/knowledge"
)

var ErrInvalidInput = errors.New("utterance must be a string")

type Outcome string

const (
	OutcomeGreeting Outcome = "greeting"
	OutcomeOverview Outcome = "overview"
	OutcomeMatched  Outcome = "matched"
	OutcomeFallback Outcome = "fallback"
)

// Result describes how a reply was chosen. Topic, Subtopic and Rule are empty
// for greeting and fallback replies.
type Result struct {
	Outcome  Outcome
	Topic    string
	Subtopic string
	Rule     string
	Reply    string
}

type Classifier interface {
	Select(utterance string) string
	Resolve(utterance string) Result
}

// KeywordClassifier is a pure function of its registry and the utterance.
type KeywordClassifier struct {
	reg      *knowledge.Registry
	rules    []knowledge.KeywordRule
	overview knowledge.Overview
	body     string
}

func NewKeywordClassifier(reg *knowledge.Registry) *KeywordClassifier {
	ov := reg.Overview()
	body, _ := reg.Lookup(ov.Entry.Topic, ov.Entry.Subtopic)
	return &KeywordClassifier{
		reg:      reg,
		rules:    reg.Rules(),
		overview: ov,
		body:     body,
	}
}

// Tokenize lowercases the utterance and splits it on whitespace. Order and
// duplicates are kept.
func Tokenize(utterance string) []string {
	return strings.Fields(strings.ToLower(utterance))
}

// TokenizeValue accepts loosely typed input from hosts that cannot guarantee
// a string. nil and a nil *string tokenize to nothing.
func TokenizeValue(v any) ([]string, error) {
	s, err := asUtterance(v)
	if err != nil {
		return nil, err
	}
	return Tokenize(s), nil
}

func (c *KeywordClassifier) Select(utterance string) string {
	return c.Resolve(utterance).Reply
}

// SelectValue is Select for loosely typed input. nil selects the greeting.
func (c *KeywordClassifier) SelectValue(v any) (string, error) {
	s, err := asUtterance(v)
	if err != nil {
		return "", err
	}
	return c.Select(s), nil
}

func (c *KeywordClassifier) Resolve(utterance string) Result {
	if utterance == "" {
		return Result{Outcome: OutcomeGreeting, Reply: c.reg.Greeting()}
	}

	tokens := Tokenize(utterance)

	// The overview rule takes precedence over every keyword rule.
	if containsAll(tokens, c.overview.Requires) {
		return Result{
			Outcome:  OutcomeOverview,
			Topic:    c.overview.Entry.Topic,
			Subtopic: c.overview.Entry.Subtopic,
			Reply:    c.body,
		}
	}

	for _, rule := range c.rules {
		if !rule.Matches(tokens) {
			continue
		}
		body, _ := c.reg.Lookup(rule.Entry.Topic, rule.Entry.Subtopic)
		return Result{
			Outcome:  OutcomeMatched,
			Topic:    rule.Entry.Topic,
			Subtopic: rule.Entry.Subtopic,
			Rule:     rule.Name,
			Reply:    body,
		}
	}

	return Result{Outcome: OutcomeFallback, Reply: c.reg.Fallback()}
}

func asUtterance(v any) (string, error) {
	switch u := v.(type) {
	case nil:
		return "", nil
	case string:
		return u, nil
	case *string:
		if u == nil {
			return "", nil
		}
		return *u, nil
	default:
		return "", fmt.Errorf("%w: got %T", ErrInvalidInput, v)
	}
}

func containsAll(tokens, words []string) bool {
	for _, w := range words {
		found := false
		for _, tok := range tokens {
			if tok == w {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
