// Package store persists camera session lifecycle history in SQLite.
package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	customlog "github.com/unav/navclient/pkg/log"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Lifecycle event names.
const (
	EventCreated = "created"
	EventRemoved = "removed"
)

// SessionEvent is one row of session history.
type SessionEvent struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"session_id"`
	Event     string    `json:"event"`
	At        time.Time `json:"at"`
	Frames    uint64    `json:"frames"`
}

// SessionLog records session lifecycle events. It satisfies the
// multiplexer's Observer interface.
type SessionLog struct {
	db     *sql.DB
	logger customlog.Logger
}

// Open opens (or creates) the database file at path and migrates it to the
// latest schema.
func Open(path string, logger customlog.Logger) (*SessionLog, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(wal)")
	if err != nil {
		return nil, fmt.Errorf("open session log %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("open session log %s: %w", path, err)
	}

	s := &SessionLog{db: db, logger: logger}
	if err := s.migrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SessionLog) migrateUp() error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.Log = &migrateLogger{logger: s.logger}

	// Not closing m: it would close the shared *sql.DB.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("read schema version: %w", err)
	}
	s.logger.Debugf("Session log schema at version %d (dirty=%v)", version, dirty)
	return nil
}

// Record inserts an event.
func (s *SessionLog) Record(ctx context.Context, ev SessionEvent) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO session_events (session_id, event, at_unix_ns, frames) VALUES (?, ?, ?, ?)`,
		ev.SessionID, ev.Event, ev.At.UnixNano(), int64(ev.Frames))
	if err != nil {
		return fmt.Errorf("record %s %s: %w", ev.Event, ev.SessionID, err)
	}
	return nil
}

// SessionCreated records a new session.
func (s *SessionLog) SessionCreated(sessionID string, at time.Time) {
	if err := s.Record(context.Background(), SessionEvent{SessionID: sessionID, Event: EventCreated, At: at}); err != nil {
		s.logger.Errorf("%v", err)
	}
}

// SessionRemoved records a teardown with the session's frame count.
func (s *SessionLog) SessionRemoved(sessionID string, at time.Time, frames uint64) {
	if err := s.Record(context.Background(), SessionEvent{SessionID: sessionID, Event: EventRemoved, At: at, Frames: frames}); err != nil {
		s.logger.Errorf("%v", err)
	}
}

// History returns the newest events first. An empty sessionID returns all
// sessions; limit <= 0 means 100.
func (s *SessionLog) History(ctx context.Context, sessionID string, limit int) ([]SessionEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id, session_id, event, at_unix_ns, frames FROM session_events`
	args := []interface{}{}
	if sessionID != "" {
		query += ` WHERE session_id = ?`
		args = append(args, sessionID)
	}
	query += ` ORDER BY at_unix_ns DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query session history: %w", err)
	}
	defer rows.Close()

	events := []SessionEvent{}
	for rows.Next() {
		var ev SessionEvent
		var at, frames int64
		if err := rows.Scan(&ev.ID, &ev.SessionID, &ev.Event, &at, &frames); err != nil {
			return nil, fmt.Errorf("scan session event: %w", err)
		}
		ev.At = time.Unix(0, at)
		ev.Frames = uint64(frames)
		events = append(events, ev)
	}
	return events, rows.Err()
}

// Close closes the database.
func (s *SessionLog) Close() error {
	return s.db.Close()
}

// migrateLogger implements migrate.Logger on top of the app logger.
type migrateLogger struct {
	logger customlog.Logger
}

func (l *migrateLogger) Printf(format string, v ...interface{}) {
	l.logger.Infof("[migrate] "+format, v...)
}

func (l *migrateLogger) Verbose() bool {
	return false
}
