package bot

import (
	"context"
	"fmt"
	"strings"

	"github.com/xaenox/insta-assistant/internal/knowledge"
	"github.com/xaenox/insta-assistant/internal/storage"
)

// topicLines renders one line per topic listing its subtopics.
func topicLines(reg *knowledge.Registry) []string {
	subs := make(map[string][]string)
	for _, e := range reg.Entries() {
		subs[e.Key.Topic] = append(subs[e.Key.Topic], strings.ReplaceAll(e.Key.Subtopic, "_", " "))
	}

	topics := reg.Topics()
	lines := make([]string, 0, len(topics))
	for _, t := range topics {
		lines = append(lines, fmt.Sprintf("%s: %s", t.Title, strings.Join(subs[t.Name], ", ")))
	}
	return lines
}

func statLines(ctx context.Context, store storage.Storage) ([]string, error) {
	stats, err := store.ListLookups(ctx)
	if err != nil {
		return nil, err
	}

	lines := make([]string, 0, len(stats))
	for _, s := range stats {
		if s.Topic == "" {
			lines = append(lines, fmt.Sprintf("%s: %d", s.Outcome, s.Count))
			continue
		}
		lines = append(lines, fmt.Sprintf("%s/%s (%s): %d", s.Topic, s.Subtopic, s.Outcome, s.Count))
	}
	return lines, nil
}
