// Package storage keeps counters of which replies were chosen. It never
// stores conversation content.
package storage

import (
	"context"
	"time"

	"github.com/xaenox/insta-assistant/internal/classifier"
	"github.com/xaenox/insta-assistant/internal/models"
	"go.uber.org/zap"
)

type Storage interface {
	RecordLookup(ctx context.Context, topic, subtopic, outcome string, at time.Time) error
	// ListLookups returns counters ordered by count, highest first.
	ListLookups(ctx context.Context) ([]models.LookupStat, error)
	Close() error
}

// Observer returns a callback that records every selection. Writes happen
// off the caller's goroutine and failures are only logged.
func Observer(s Storage, logger *zap.Logger) func(res classifier.Result) {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(res classifier.Result) {
		at := time.Now()
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := s.RecordLookup(ctx, res.Topic, res.Subtopic, string(res.Outcome), at); err != nil {
				logger.Error("Failed to record lookup",
					zap.Error(err),
					zap.String("outcome", string(res.Outcome)),
					zap.String("topic", res.Topic),
					zap.String("subtopic", res.Subtopic))
			}
		}()
	}
}
