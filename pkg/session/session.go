package session

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by operations that require an existing session.
var ErrNotFound = errors.New("session not found")

// Event represents a single conversation turn appended to a session.
type Event struct {
	ID         string                 `json:"id"`
	Author     string                 `json:"author"`
	Content    string                 `json:"content"`
	Timestamp  time.Time              `json:"timestamp"`
	StateDelta map[string]interface{} `json:"state_delta,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// Session identifies one conversation and its accumulated state.
//
// State returned from a Store is the merged three-layer view (app state,
// then user state, then the session's own keys winning on collision).
// Keys are arbitrary strings chosen by application code; values must be
// JSON-representable.
type Session struct {
	ID             string                 `json:"id"`
	AppName        string                 `json:"app_name"`
	UserID         string                 `json:"user_id"`
	State          map[string]interface{} `json:"state"`
	Events         []Event                `json:"events"`
	LastUpdateTime time.Time              `json:"last_update_time"`
}

// EventFilter restricts the events returned by GetSession. It is a read-time
// view and never mutates the stored record.
type EventFilter struct {
	// NumRecent limits the result to the last N events when positive.
	NumRecent int
	// After drops events at or before the given timestamp when non-zero.
	After time.Time
}

// Apply returns the filtered view of events.
func (f *EventFilter) Apply(events []Event) []Event {
	if f == nil {
		return events
	}

	filtered := events
	if !f.After.IsZero() {
		out := make([]Event, 0, len(filtered))
		for _, ev := range filtered {
			if ev.Timestamp.After(f.After) {
				out = append(out, ev)
			}
		}
		filtered = out
	}

	if f.NumRecent > 0 && len(filtered) > f.NumRecent {
		filtered = filtered[len(filtered)-f.NumRecent:]
	}

	return filtered
}

// Store is the session persistence boundary. Sessions are partitioned by
// application name, then user id; a session id is unique only within its
// (app, user) pair.
type Store interface {
	// CreateSession creates a session with the given initial state layered
	// over app and user state. An empty sessionID requests a generated id.
	// Supplying an already-used id overwrites the existing record.
	CreateSession(ctx context.Context, appName, userID string, initialState map[string]interface{}, sessionID string) (*Session, error)

	// GetSession returns the session with merged state, or (nil, nil) when
	// no such session exists.
	GetSession(ctx context.Context, appName, userID, sessionID string, filter *EventFilter) (*Session, error)

	// ListSessions returns all sessions for a user. The Events field of each
	// returned session is always empty; this is a listing, not a payload dump.
	ListSessions(ctx context.Context, appName, userID string) ([]*Session, error)

	// DeleteSession removes a session. Deleting an absent session is a no-op.
	DeleteSession(ctx context.Context, appName, userID, sessionID string) error

	// AppendEvent appends an event to an existing session, applies its state
	// delta to the session's own state, and bumps LastUpdateTime. Returns
	// ErrNotFound when the session does not exist.
	AppendEvent(ctx context.Context, appName, userID, sessionID string, event Event) error

	// SetAppState upserts an app-wide state key, visible to every session
	// under the app on next read.
	SetAppState(ctx context.Context, appName, key string, value interface{}) error

	// SetUserState upserts a user-wide state key, visible to every session
	// under the (app, user) pair on next read.
	SetUserState(ctx context.Context, appName, userID, key string, value interface{}) error

	Close() error
}

// mergeState overlays app, user, and session state with shallow key
// overwrite. Precedence low to high: app, user, session.
func mergeState(appState, userState, sessionState map[string]interface{}) map[string]interface{} {
	merged := make(map[string]interface{}, len(appState)+len(userState)+len(sessionState))
	for k, v := range appState {
		merged[k] = v
	}
	for k, v := range userState {
		merged[k] = v
	}
	for k, v := range sessionState {
		merged[k] = v
	}
	return merged
}

func copyState(state map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(state))
	for k, v := range state {
		out[k] = v
	}
	return out
}
