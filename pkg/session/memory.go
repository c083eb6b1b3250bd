package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lariat-ai/lariat/internal/observability"
	"github.com/lariat-ai/lariat/internal/tracing"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
)

// partition holds the sessions of one (app, user) pair behind its own lock,
// so unrelated users never serialize on each other.
type partition struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// InMemoryStore is the volatile reference Store. No durability is guaranteed;
// contents are lost when the store is discarded.
type InMemoryStore struct {
	logger zerolog.Logger

	mu         sync.RWMutex
	partitions map[string]*partition

	stateMu   sync.RWMutex
	appState  map[string]map[string]interface{}
	userState map[string]map[string]interface{}
}

// Config configures an InMemoryStore.
type Config struct {
	Logger zerolog.Logger
}

// NewInMemory creates an empty in-memory session store.
func NewInMemory(cfg Config) *InMemoryStore {
	observability.EnsureRegistered()

	return &InMemoryStore{
		logger:     cfg.Logger.With().Str("component", "session").Logger(),
		partitions: make(map[string]*partition),
		appState:   make(map[string]map[string]interface{}),
		userState:  make(map[string]map[string]interface{}),
	}
}

func partitionKey(appName, userID string) string {
	return appName + "\x00" + userID
}

func userStateKey(appName, userID string) string {
	return appName + "\x00" + userID
}

func validateScope(appName, userID string) error {
	if appName == "" {
		return fmt.Errorf("app name cannot be empty")
	}
	if userID == "" {
		return fmt.Errorf("user id cannot be empty")
	}
	return nil
}

func (s *InMemoryStore) getPartition(appName, userID string, create bool) *partition {
	key := partitionKey(appName, userID)

	s.mu.RLock()
	p := s.partitions[key]
	s.mu.RUnlock()
	if p != nil || !create {
		return p
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if p = s.partitions[key]; p == nil {
		p = &partition{sessions: make(map[string]*Session)}
		s.partitions[key] = p
	}
	return p
}

// CreateSession creates a session record. An empty sessionID requests a
// generated unique id; an explicitly supplied duplicate id overwrites the
// existing record (last write wins).
func (s *InMemoryStore) CreateSession(ctx context.Context, appName, userID string, initialState map[string]interface{}, sessionID string) (*Session, error) {
	start := time.Now()
	defer func() { observability.RecordSessionOp("create", time.Since(start)) }()

	if err := validateScope(appName, userID); err != nil {
		return nil, err
	}

	if sessionID == "" {
		sessionID = uuid.New().String()
	}

	logger := tracing.LoggerFromContext(ctx, s.logger)

	sess := &Session{
		ID:             sessionID,
		AppName:        appName,
		UserID:         userID,
		State:          copyState(initialState),
		Events:         []Event{},
		LastUpdateTime: time.Now(),
	}

	p := s.getPartition(appName, userID, true)
	p.mu.Lock()
	p.sessions[sessionID] = sess
	p.mu.Unlock()

	s.updateActiveSessionsMetric()
	logger.Info().
		Str("app", appName).
		Str("user", userID).
		Str("session_id", sessionID).
		Msg("Session created")

	return s.snapshot(sess, nil), nil
}

// GetSession returns the session with merged state, or (nil, nil) when absent.
func (s *InMemoryStore) GetSession(ctx context.Context, appName, userID, sessionID string, filter *EventFilter) (*Session, error) {
	start := time.Now()
	defer func() { observability.RecordSessionOp("get", time.Since(start)) }()

	if err := validateScope(appName, userID); err != nil {
		return nil, err
	}

	p := s.getPartition(appName, userID, false)
	if p == nil {
		return nil, nil
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	sess := p.sessions[sessionID]
	if sess == nil {
		return nil, nil
	}

	return s.snapshot(sess, filter), nil
}

// ListSessions returns every session under the (app, user) pair with events
// cleared.
func (s *InMemoryStore) ListSessions(ctx context.Context, appName, userID string) ([]*Session, error) {
	start := time.Now()
	defer func() { observability.RecordSessionOp("list", time.Since(start)) }()

	if err := validateScope(appName, userID); err != nil {
		return nil, err
	}

	p := s.getPartition(appName, userID, false)
	if p == nil {
		return []*Session{}, nil
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]*Session, 0, len(p.sessions))
	for _, sess := range p.sessions {
		snap := s.snapshot(sess, nil)
		snap.Events = []Event{}
		out = append(out, snap)
	}
	return out, nil
}

// DeleteSession removes the record; deleting an absent session is a no-op.
func (s *InMemoryStore) DeleteSession(ctx context.Context, appName, userID, sessionID string) error {
	start := time.Now()
	defer func() { observability.RecordSessionOp("delete", time.Since(start)) }()

	if err := validateScope(appName, userID); err != nil {
		return err
	}

	p := s.getPartition(appName, userID, false)
	if p == nil {
		return nil
	}

	p.mu.Lock()
	delete(p.sessions, sessionID)
	p.mu.Unlock()

	s.updateActiveSessionsMetric()
	logger := tracing.LoggerFromContext(ctx, s.logger)
	logger.Debug().
		Str("app", appName).
		Str("user", userID).
		Str("session_id", sessionID).
		Msg("Session deleted")

	return nil
}

// AppendEvent appends to an existing session. Missing sessions fail with
// ErrNotFound and are never created as a side effect.
func (s *InMemoryStore) AppendEvent(ctx context.Context, appName, userID, sessionID string, event Event) error {
	start := time.Now()
	defer func() { observability.RecordSessionOp("append_event", time.Since(start)) }()

	if err := validateScope(appName, userID); err != nil {
		return err
	}

	if event.ID == "" {
		id, err := gonanoid.New()
		if err != nil {
			return fmt.Errorf("failed to generate event id: %w", err)
		}
		event.ID = id
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	p := s.getPartition(appName, userID, false)
	if p == nil {
		return fmt.Errorf("%w: %s/%s/%s", ErrNotFound, appName, userID, sessionID)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	sess := p.sessions[sessionID]
	if sess == nil {
		return fmt.Errorf("%w: %s/%s/%s", ErrNotFound, appName, userID, sessionID)
	}

	sess.Events = append(sess.Events, event)
	for k, v := range event.StateDelta {
		sess.State[k] = v
	}
	sess.LastUpdateTime = time.Now()

	observability.RecordSessionEvent()
	logger := tracing.LoggerFromContext(ctx, s.logger)
	logger.Debug().
		Str("session_id", sessionID).
		Str("author", event.Author).
		Msg("Event appended")

	return nil
}

// SetAppState upserts an app-wide state key.
func (s *InMemoryStore) SetAppState(ctx context.Context, appName, key string, value interface{}) error {
	if appName == "" {
		return fmt.Errorf("app name cannot be empty")
	}

	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	if s.appState[appName] == nil {
		s.appState[appName] = make(map[string]interface{})
	}
	s.appState[appName][key] = value
	return nil
}

// SetUserState upserts a user-wide state key.
func (s *InMemoryStore) SetUserState(ctx context.Context, appName, userID, key string, value interface{}) error {
	if err := validateScope(appName, userID); err != nil {
		return err
	}

	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	uk := userStateKey(appName, userID)
	if s.userState[uk] == nil {
		s.userState[uk] = make(map[string]interface{})
	}
	s.userState[uk][key] = value
	return nil
}

// Sweep deletes sessions whose LastUpdateTime is before cutoff and returns
// the number removed.
func (s *InMemoryStore) Sweep(cutoff time.Time) (int, error) {
	s.mu.RLock()
	parts := make([]*partition, 0, len(s.partitions))
	for _, p := range s.partitions {
		parts = append(parts, p)
	}
	s.mu.RUnlock()

	removed := 0
	for _, p := range parts {
		p.mu.Lock()
		for id, sess := range p.sessions {
			if sess.LastUpdateTime.Before(cutoff) {
				delete(p.sessions, id)
				removed++
			}
		}
		p.mu.Unlock()
	}

	if removed > 0 {
		s.updateActiveSessionsMetric()
		s.logger.Info().Int("removed", removed).Msg("Stale sessions swept")
	}
	return removed, nil
}

// Close releases the store. The in-memory store has nothing to flush.
func (s *InMemoryStore) Close() error {
	return nil
}

// snapshot builds the caller-visible copy of a session: merged state and a
// filtered copy of the event list. Callers may mutate the result freely.
// The caller must hold at least a read lock on the session's partition, or
// own the session exclusively.
func (s *InMemoryStore) snapshot(sess *Session, filter *EventFilter) *Session {
	s.stateMu.RLock()
	appState := s.appState[sess.AppName]
	userState := s.userState[userStateKey(sess.AppName, sess.UserID)]
	s.stateMu.RUnlock()

	events := filter.Apply(sess.Events)
	eventsCopy := make([]Event, len(events))
	copy(eventsCopy, events)

	return &Session{
		ID:             sess.ID,
		AppName:        sess.AppName,
		UserID:         sess.UserID,
		State:          mergeState(appState, userState, sess.State),
		Events:         eventsCopy,
		LastUpdateTime: sess.LastUpdateTime,
	}
}

func (s *InMemoryStore) updateActiveSessionsMetric() {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, p := range s.partitions {
		p.mu.RLock()
		count += len(p.sessions)
		p.mu.RUnlock()
	}
	observability.SetActiveSessions(count)
}
