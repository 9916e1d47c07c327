// Package knowledge holds the fixed corpus of canned answers and the keyword
// rules that select them. A Registry is built once, validated, and never
// mutated afterwards.
package knowledge

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrEmptyCorpus      = errors.New("knowledge base has no entries")
	ErrDuplicateTopic   = errors.New("duplicate topic")
	ErrDuplicateEntry   = errors.New("duplicate entry")
	ErrEmptyEntry       = errors.New("entry has empty body")
	ErrDanglingRule     = errors.New("keyword rule references a missing entry")
	ErrEmptyRule        = errors.New("keyword rule has no triggers")
	ErrDuplicateTrigger = errors.New("duplicate trigger word")
	ErrInvalidTrigger   = errors.New("trigger word must be a single non-empty token")
	ErrMissingText      = errors.New("greeting and fallback must be set")
)

// EntryKey addresses one Entry.
type EntryKey struct {
	Topic    string
	Subtopic string
}

func (k EntryKey) String() string {
	return k.Topic + "/" + k.Subtopic
}

type Topic struct {
	Name  string
	Title string
}

type Entry struct {
	Key  EntryKey
	Body string
}

// KeywordRule maps a set of trigger words onto one Entry. The entry key is
// stored on the rule rather than derived from the rule name.
type KeywordRule struct {
	Topic    string
	Name     string
	Entry    EntryKey
	Triggers []string

	set map[string]struct{}
}

// Matches reports whether any token is one of the rule's trigger words.
// Tokens are compared by exact membership, never by substring.
func (r KeywordRule) Matches(tokens []string) bool {
	for _, tok := range tokens {
		if _, ok := r.set[tok]; ok {
			return true
		}
	}
	return false
}

// Overview is the precedence rule: when every Requires word is present the
// Entry is returned before any KeywordRule is consulted.
type Overview struct {
	Entry    EntryKey
	Requires []string
}

type Registry struct {
	topics   []Topic
	entries  map[EntryKey]Entry
	order    []EntryKey
	rules    []KeywordRule
	overview Overview
	greeting string
	fallback string
}

// Build validates a decoded corpus and turns it into a Registry. Every
// configuration defect is reported here, never at query time.
func Build(c Corpus) (*Registry, error) {
	if strings.TrimSpace(c.Greeting) == "" || strings.TrimSpace(c.Fallback) == "" {
		return nil, ErrMissingText
	}

	reg := &Registry{
		entries:  make(map[EntryKey]Entry),
		greeting: c.Greeting,
		fallback: c.Fallback,
	}

	seenTopics := make(map[string]struct{}, len(c.Topics))
	for _, t := range c.Topics {
		if _, dup := seenTopics[t.Name]; dup || t.Name == "" {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateTopic, t.Name)
		}
		seenTopics[t.Name] = struct{}{}
		reg.topics = append(reg.topics, Topic{Name: t.Name, Title: t.Title})

		for _, e := range t.Entries {
			key := EntryKey{Topic: t.Name, Subtopic: e.Subtopic}
			if _, dup := reg.entries[key]; dup || e.Subtopic == "" {
				return nil, fmt.Errorf("%w: %s", ErrDuplicateEntry, key)
			}
			if strings.TrimSpace(e.Body) == "" {
				return nil, fmt.Errorf("%w: %s", ErrEmptyEntry, key)
			}
			reg.entries[key] = Entry{Key: key, Body: e.Body}
			reg.order = append(reg.order, key)
		}
	}
	if len(reg.entries) == 0 {
		return nil, ErrEmptyCorpus
	}

	// Rules are checked after all entries exist so a rule may only address
	// entries of its own topic.
	for _, t := range c.Topics {
		for _, r := range t.Rules {
			rule, err := reg.newRule(t.Name, r)
			if err != nil {
				return nil, err
			}
			reg.rules = append(reg.rules, rule)
		}
	}

	ov := EntryKey{Topic: c.Overview.Topic, Subtopic: c.Overview.Subtopic}
	if _, ok := reg.entries[ov]; !ok {
		return nil, fmt.Errorf("%w: overview %s", ErrDanglingRule, ov)
	}
	requires, err := normalizeTriggers(c.Overview.Requires)
	if err != nil {
		return nil, fmt.Errorf("overview: %w", err)
	}
	if len(requires) == 0 {
		return nil, fmt.Errorf("overview: %w", ErrEmptyRule)
	}
	reg.overview = Overview{Entry: ov, Requires: requires}

	return reg, nil
}

func (reg *Registry) newRule(topic string, r RuleSpec) (KeywordRule, error) {
	key := EntryKey{Topic: topic, Subtopic: r.Entry}
	if _, ok := reg.entries[key]; !ok {
		return KeywordRule{}, fmt.Errorf("%w: rule %s/%s -> %s", ErrDanglingRule, topic, r.Name, key)
	}

	triggers, err := normalizeTriggers(r.Triggers)
	if err != nil {
		return KeywordRule{}, fmt.Errorf("rule %s/%s: %w", topic, r.Name, err)
	}
	if len(triggers) == 0 {
		return KeywordRule{}, fmt.Errorf("rule %s/%s: %w", topic, r.Name, ErrEmptyRule)
	}

	set := make(map[string]struct{}, len(triggers))
	for _, w := range triggers {
		set[w] = struct{}{}
	}
	return KeywordRule{
		Topic:    topic,
		Name:     r.Name,
		Entry:    key,
		Triggers: triggers,
		set:      set,
	}, nil
}

func normalizeTriggers(words []string) ([]string, error) {
	out := make([]string, 0, len(words))
	seen := make(map[string]struct{}, len(words))
	for _, w := range words {
		w = strings.ToLower(w)
		if w == "" || len(strings.Fields(w)) != 1 || strings.TrimSpace(w) != w {
			return nil, fmt.Errorf("%w: %q", ErrInvalidTrigger, w)
		}
		if _, dup := seen[w]; dup {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateTrigger, w)
		}
		seen[w] = struct{}{}
		out = append(out, w)
	}
	return out, nil
}

// Lookup returns the body of the entry addressed by (topic, subtopic).
func (reg *Registry) Lookup(topic, subtopic string) (string, bool) {
	e, ok := reg.entries[EntryKey{Topic: topic, Subtopic: subtopic}]
	return e.Body, ok
}

func (reg *Registry) Entry(key EntryKey) (Entry, bool) {
	e, ok := reg.entries[key]
	return e, ok
}

// Entries returns all entries in registration order.
func (reg *Registry) Entries() []Entry {
	out := make([]Entry, 0, len(reg.order))
	for _, k := range reg.order {
		out = append(out, reg.entries[k])
	}
	return out
}

// Rules returns the keyword rules grouped by topic, then by registration
// order inside the topic. The order is the matching tie-break.
func (reg *Registry) Rules() []KeywordRule {
	out := make([]KeywordRule, len(reg.rules))
	for i, r := range reg.rules {
		r.Triggers = append([]string(nil), r.Triggers...)
		out[i] = r
	}
	return out
}

func (reg *Registry) Topics() []Topic {
	out := make([]Topic, len(reg.topics))
	copy(out, reg.topics)
	return out
}

func (reg *Registry) Overview() Overview {
	return Overview{
		Entry:    reg.overview.Entry,
		Requires: append([]string(nil), reg.overview.Requires...),
	}
}

func (reg *Registry) Greeting() string { return reg.greeting }

func (reg *Registry) Fallback() string { return reg.fallback }
