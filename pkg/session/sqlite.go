package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lariat-ai/lariat/internal/observability"
	gonanoid "github.com/matoous/go-nanoid/v2"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

// SQLiteStore is a durable Store backed by a local SQLite database. It honors
// the same contracts as InMemoryStore; durability beyond a clean Close is
// best-effort only.
type SQLiteStore struct {
	db     *sql.DB
	logger zerolog.Logger
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS sessions (
	app_name         TEXT NOT NULL,
	user_id          TEXT NOT NULL,
	session_id       TEXT NOT NULL,
	state            TEXT NOT NULL DEFAULT '{}',
	last_update_time INTEGER NOT NULL,
	PRIMARY KEY (app_name, user_id, session_id)
);

CREATE TABLE IF NOT EXISTS events (
	seq         INTEGER PRIMARY KEY AUTOINCREMENT,
	event_id    TEXT NOT NULL,
	app_name    TEXT NOT NULL,
	user_id     TEXT NOT NULL,
	session_id  TEXT NOT NULL,
	author      TEXT NOT NULL,
	content     TEXT NOT NULL,
	state_delta TEXT NOT NULL DEFAULT '{}',
	metadata    TEXT NOT NULL DEFAULT '{}',
	timestamp   INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_events_session
	ON events (app_name, user_id, session_id, seq);

CREATE TABLE IF NOT EXISTS app_state (
	app_name TEXT NOT NULL,
	key      TEXT NOT NULL,
	value    TEXT NOT NULL,
	PRIMARY KEY (app_name, key)
);

CREATE TABLE IF NOT EXISTS user_state (
	app_name TEXT NOT NULL,
	user_id  TEXT NOT NULL,
	key      TEXT NOT NULL,
	value    TEXT NOT NULL,
	PRIMARY KEY (app_name, user_id, key)
);
`

// NewSQLite opens (creating if necessary) a SQLite-backed session store.
func NewSQLite(path string, logger zerolog.Logger) (*SQLiteStore, error) {
	observability.EnsureRegistered()

	if path == "" {
		return nil, fmt.Errorf("database path cannot be empty")
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger.With().Str("component", "session_sqlite").Logger(),
	}

	s.logger.Info().Str("path", path).Msg("SQLite session store opened")
	return s, nil
}

func (s *SQLiteStore) CreateSession(ctx context.Context, appName, userID string, initialState map[string]interface{}, sessionID string) (*Session, error) {
	start := time.Now()
	defer func() { observability.RecordSessionOp("create", time.Since(start)) }()

	if err := validateScope(appName, userID); err != nil {
		return nil, err
	}

	if sessionID == "" {
		sessionID = uuid.New().String()
	}

	stateJSON, err := json.Marshal(copyState(initialState))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal state: %w", err)
	}

	now := time.Now()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (app_name, user_id, session_id, state, last_update_time)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (app_name, user_id, session_id)
		DO UPDATE SET state = excluded.state, last_update_time = excluded.last_update_time`,
		appName, userID, sessionID, string(stateJSON), now.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("failed to insert session: %w", err)
	}

	// Explicit duplicate ids overwrite; clear any prior event history too.
	if _, err := s.db.ExecContext(ctx, `
		DELETE FROM events WHERE app_name = ? AND user_id = ? AND session_id = ?`,
		appName, userID, sessionID); err != nil {
		return nil, fmt.Errorf("failed to reset events: %w", err)
	}

	s.logger.Info().
		Str("app", appName).
		Str("user", userID).
		Str("session_id", sessionID).
		Msg("Session created")

	return s.GetSession(ctx, appName, userID, sessionID, nil)
}

func (s *SQLiteStore) GetSession(ctx context.Context, appName, userID, sessionID string, filter *EventFilter) (*Session, error) {
	start := time.Now()
	defer func() { observability.RecordSessionOp("get", time.Since(start)) }()

	if err := validateScope(appName, userID); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT state, last_update_time FROM sessions
		WHERE app_name = ? AND user_id = ? AND session_id = ?`,
		appName, userID, sessionID)

	var stateJSON string
	var updateMillis int64
	if err := row.Scan(&stateJSON, &updateMillis); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	var ownState map[string]interface{}
	if err := json.Unmarshal([]byte(stateJSON), &ownState); err != nil {
		return nil, fmt.Errorf("failed to decode session state: %w", err)
	}

	events, err := s.loadEvents(ctx, appName, userID, sessionID)
	if err != nil {
		return nil, err
	}

	appState, err := s.loadSideState(ctx,
		`SELECT key, value FROM app_state WHERE app_name = ?`, appName)
	if err != nil {
		return nil, err
	}
	userState, err := s.loadSideState(ctx,
		`SELECT key, value FROM user_state WHERE app_name = ? AND user_id = ?`, appName, userID)
	if err != nil {
		return nil, err
	}

	return &Session{
		ID:             sessionID,
		AppName:        appName,
		UserID:         userID,
		State:          mergeState(appState, userState, ownState),
		Events:         filter.Apply(events),
		LastUpdateTime: time.UnixMilli(updateMillis),
	}, nil
}

func (s *SQLiteStore) ListSessions(ctx context.Context, appName, userID string) ([]*Session, error) {
	start := time.Now()
	defer func() { observability.RecordSessionOp("list", time.Since(start)) }()

	if err := validateScope(appName, userID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id FROM sessions WHERE app_name = ? AND user_id = ?`,
		appName, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan session id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sessions: %w", err)
	}

	out := make([]*Session, 0, len(ids))
	for _, id := range ids {
		sess, err := s.GetSession(ctx, appName, userID, id, nil)
		if err != nil {
			return nil, err
		}
		if sess == nil {
			continue
		}
		sess.Events = []Event{}
		out = append(out, sess)
	}
	return out, nil
}

func (s *SQLiteStore) DeleteSession(ctx context.Context, appName, userID, sessionID string) error {
	start := time.Now()
	defer func() { observability.RecordSessionOp("delete", time.Since(start)) }()

	if err := validateScope(appName, userID); err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx, `
		DELETE FROM sessions WHERE app_name = ? AND user_id = ? AND session_id = ?`,
		appName, userID, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `
		DELETE FROM events WHERE app_name = ? AND user_id = ? AND session_id = ?`,
		appName, userID, sessionID); err != nil {
		return fmt.Errorf("failed to delete events: %w", err)
	}
	return nil
}

func (s *SQLiteStore) AppendEvent(ctx context.Context, appName, userID, sessionID string, event Event) error {
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

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `
		SELECT state FROM sessions
		WHERE app_name = ? AND user_id = ? AND session_id = ?`,
		appName, userID, sessionID)

	var stateJSON string
	if err := row.Scan(&stateJSON); err != nil {
		if err == sql.ErrNoRows {
			return fmt.Errorf("%w: %s/%s/%s", ErrNotFound, appName, userID, sessionID)
		}
		return fmt.Errorf("failed to load session: %w", err)
	}

	deltaJSON, err := json.Marshal(event.StateDelta)
	if err != nil {
		return fmt.Errorf("failed to marshal state delta: %w", err)
	}
	metaJSON, err := json.Marshal(event.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO events (event_id, app_name, user_id, session_id, author, content, state_delta, metadata, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ID, appName, userID, sessionID, event.Author, event.Content,
		string(deltaJSON), string(metaJSON), event.Timestamp.UnixMilli()); err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}

	if len(event.StateDelta) > 0 {
		var ownState map[string]interface{}
		if err := json.Unmarshal([]byte(stateJSON), &ownState); err != nil {
			return fmt.Errorf("failed to decode session state: %w", err)
		}
		for k, v := range event.StateDelta {
			ownState[k] = v
		}
		updated, err := json.Marshal(ownState)
		if err != nil {
			return fmt.Errorf("failed to marshal session state: %w", err)
		}
		stateJSON = string(updated)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE sessions SET state = ?, last_update_time = ?
		WHERE app_name = ? AND user_id = ? AND session_id = ?`,
		stateJSON, time.Now().UnixMilli(), appName, userID, sessionID); err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit event: %w", err)
	}

	observability.RecordSessionEvent()
	return nil
}

func (s *SQLiteStore) SetAppState(ctx context.Context, appName, key string, value interface{}) error {
	if appName == "" {
		return fmt.Errorf("app name cannot be empty")
	}

	valueJSON, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO app_state (app_name, key, value) VALUES (?, ?, ?)
		ON CONFLICT (app_name, key) DO UPDATE SET value = excluded.value`,
		appName, key, string(valueJSON))
	if err != nil {
		return fmt.Errorf("failed to set app state: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SetUserState(ctx context.Context, appName, userID, key string, value interface{}) error {
	if err := validateScope(appName, userID); err != nil {
		return err
	}

	valueJSON, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO user_state (app_name, user_id, key, value) VALUES (?, ?, ?, ?)
		ON CONFLICT (app_name, user_id, key) DO UPDATE SET value = excluded.value`,
		appName, userID, key, string(valueJSON))
	if err != nil {
		return fmt.Errorf("failed to set user state: %w", err)
	}
	return nil
}

// Sweep deletes sessions idle since before cutoff and their events.
func (s *SQLiteStore) Sweep(cutoff time.Time) (int, error) {
	res, err := s.db.Exec(`
		DELETE FROM sessions WHERE last_update_time < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to sweep sessions: %w", err)
	}
	if _, err := s.db.Exec(`
		DELETE FROM events WHERE NOT EXISTS (
			SELECT 1 FROM sessions s
			WHERE s.app_name = events.app_name
			  AND s.user_id = events.user_id
			  AND s.session_id = events.session_id
		)`); err != nil {
		return 0, fmt.Errorf("failed to sweep events: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return int(affected), nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) loadEvents(ctx context.Context, appName, userID, sessionID string) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT event_id, author, content, state_delta, metadata, timestamp
		FROM events
		WHERE app_name = ? AND user_id = ? AND session_id = ?
		ORDER BY seq ASC`,
		appName, userID, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load events: %w", err)
	}
	defer rows.Close()

	events := []Event{}
	for rows.Next() {
		var ev Event
		var deltaJSON, metaJSON string
		var millis int64
		if err := rows.Scan(&ev.ID, &ev.Author, &ev.Content, &deltaJSON, &metaJSON, &millis); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		if err := json.Unmarshal([]byte(deltaJSON), &ev.StateDelta); err != nil {
			return nil, fmt.Errorf("failed to decode state delta: %w", err)
		}
		if err := json.Unmarshal([]byte(metaJSON), &ev.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode metadata: %w", err)
		}
		ev.Timestamp = time.UnixMilli(millis)
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate events: %w", err)
	}
	return events, nil
}

func (s *SQLiteStore) loadSideState(ctx context.Context, query string, args ...interface{}) (map[string]interface{}, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load state: %w", err)
	}
	defer rows.Close()

	state := make(map[string]interface{})
	for rows.Next() {
		var key, valueJSON string
		if err := rows.Scan(&key, &valueJSON); err != nil {
			return nil, fmt.Errorf("failed to scan state row: %w", err)
		}
		var value interface{}
		if err := json.Unmarshal([]byte(valueJSON), &value); err != nil {
			return nil, fmt.Errorf("failed to decode state value: %w", err)
		}
		state[key] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate state: %w", err)
	}
	return state, nil
}
