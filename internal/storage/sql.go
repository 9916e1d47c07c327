package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/xaenox/insta-assistant/internal/models"
)

// sqlStorage is shared by the postgres and sqlite backends; only the query
// text differs.
type sqlStorage struct {
	db         *sql.DB
	upsertStmt string
	listStmt   string
}

func (s *sqlStorage) RecordLookup(ctx context.Context, topic, subtopic, outcome string, at time.Time) error {
	if _, err := s.db.ExecContext(ctx, s.upsertStmt, topic, subtopic, outcome, at.UTC()); err != nil {
		return fmt.Errorf("error recording lookup: %w", err)
	}
	return nil
}

func (s *sqlStorage) ListLookups(ctx context.Context) ([]models.LookupStat, error) {
	rows, err := s.db.QueryContext(ctx, s.listStmt)
	if err != nil {
		return nil, fmt.Errorf("error querying lookups: %w", err)
	}
	defer rows.Close()

	var stats []models.LookupStat
	for rows.Next() {
		var stat models.LookupStat
		if err := rows.Scan(&stat.Topic, &stat.Subtopic, &stat.Outcome, &stat.Count, &stat.LastSeenAt); err != nil {
			return nil, fmt.Errorf("error scanning lookup: %w", err)
		}
		stats = append(stats, stat)
	}
	return stats, rows.Err()
}

func (s *sqlStorage) Close() error {
	return s.db.Close()
}

const listLookupsQuery = `
	SELECT topic, subtopic, outcome, count, last_seen_at
	FROM lookup_stats
	ORDER BY count DESC, topic, subtopic, outcome`
