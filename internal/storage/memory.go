package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/xaenox/insta-assistant/internal/models"
)

type lookupKey struct {
	topic    string
	subtopic string
	outcome  string
}

type MemoryStorage struct {
	mu      sync.RWMutex
	lookups map[lookupKey]*models.LookupStat
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		lookups: make(map[lookupKey]*models.LookupStat),
	}
}

func (s *MemoryStorage) RecordLookup(ctx context.Context, topic, subtopic, outcome string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := lookupKey{topic: topic, subtopic: subtopic, outcome: outcome}
	stat, exists := s.lookups[key]
	if !exists {
		stat = &models.LookupStat{Topic: topic, Subtopic: subtopic, Outcome: outcome}
		s.lookups[key] = stat
	}
	stat.Count++
	if at.After(stat.LastSeenAt) {
		stat.LastSeenAt = at
	}
	return nil
}

func (s *MemoryStorage) ListLookups(ctx context.Context) ([]models.LookupStat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.LookupStat, 0, len(s.lookups))
	for _, stat := range s.lookups {
		out = append(out, *stat)
	}
	sortStats(out)
	return out, nil
}

func (s *MemoryStorage) Close() error {
	// Nothing to close for in-memory storage
	return nil
}

func sortStats(stats []models.LookupStat) {
	sort.Slice(stats, func(i, j int) bool {
		a, b := stats[i], stats[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		if a.Topic != b.Topic {
			return a.Topic < b.Topic
		}
		if a.Subtopic != b.Subtopic {
			return a.Subtopic < b.Subtopic
		}
		return a.Outcome < b.Outcome
	})
}
