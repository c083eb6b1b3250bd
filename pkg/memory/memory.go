// Package memory projects past conversation turns into searchable entries.
// Entries are derived data: they are recomputed from the session store on
// every search and never independently persisted.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/lariat-ai/lariat/internal/observability"
	"github.com/lariat-ai/lariat/pkg/session"
	"github.com/rs/zerolog"
)

// Entry is a denormalized projection of one past conversation turn.
type Entry struct {
	SessionID string    `json:"session_id"`
	Content   string    `json:"content"`
	Author    string    `json:"author,omitempty"`
	Timestamp time.Time `json:"timestamp,omitempty"`
	Score     float64   `json:"score"`
}

// SearchOptions configures search behavior.
type SearchOptions struct {
	Limit    int     `json:"limit"`
	MinScore float64 `json:"min_score"`
}

// Service searches session events by keyword overlap.
type Service struct {
	store  session.Store
	logger zerolog.Logger
}

// Config configures a memory Service.
type Config struct {
	Store  session.Store
	Logger zerolog.Logger
}

// New creates a memory service over a session store.
func New(cfg Config) (*Service, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("session store is required")
	}

	return &Service{
		store:  cfg.Store,
		logger: cfg.Logger.With().Str("component", "memory").Logger(),
	}, nil
}

// Search scans all sessions under (appName, userID) and returns entries
// ranked by keyword overlap with the query, highest first.
func (s *Service) Search(ctx context.Context, appName, userID, query string, opts *SearchOptions) ([]Entry, error) {
	start := time.Now()
	defer func() { observability.RecordMemorySearch(time.Since(start)) }()

	limit := 10
	minScore := 0.0
	if opts != nil {
		if opts.Limit > 0 {
			limit = opts.Limit
		}
		minScore = opts.MinScore
	}

	terms := tokenize(query)
	if len(terms) == 0 {
		return []Entry{}, nil
	}

	listed, err := s.store.ListSessions(ctx, appName, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	var entries []Entry
	for _, info := range listed {
		sess, err := s.store.GetSession(ctx, appName, userID, info.ID, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to load session %s: %w", info.ID, err)
		}
		if sess == nil {
			continue
		}

		for _, ev := range sess.Events {
			if ev.Content == "" {
				continue
			}
			score := overlapScore(terms, tokenize(ev.Content))
			if score <= 0 || score < minScore {
				continue
			}
			entries = append(entries, Entry{
				SessionID: sess.ID,
				Content:   ev.Content,
				Author:    ev.Author,
				Timestamp: ev.Timestamp,
				Score:     score,
			})
		}
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Score > entries[j].Score
	})
	if len(entries) > limit {
		entries = entries[:limit]
	}

	s.logger.Debug().
		Str("app", appName).
		Str("user", userID).
		Int("results", len(entries)).
		Msg("Memory search completed")

	return entries, nil
}

// overlapScore is the fraction of query terms present in the content.
func overlapScore(queryTerms, contentTerms []string) float64 {
	if len(queryTerms) == 0 {
		return 0
	}

	contentSet := make(map[string]bool, len(contentTerms))
	for _, term := range contentTerms {
		contentSet[term] = true
	}

	matched := 0
	for _, term := range queryTerms {
		if contentSet[term] {
			matched++
		}
	}
	return float64(matched) / float64(len(queryTerms))
}

func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	})

	out := fields[:0]
	for _, f := range fields {
		if len(f) > 1 {
			out = append(out, f)
		}
	}
	return out
}
