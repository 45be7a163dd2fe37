// Package historystore persists committed conversation turns in SQLite.
package historystore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"livetalk/internal/domain"
)

// Config controls where turns are stored and how long they are kept.
type Config struct {
	Path        string
	Retention   time.Duration
	MaxSessions int
}

// Store is a SQLite-backed turn history. It satisfies ports.TurnHistory.
type Store struct {
	db     *sql.DB
	cfg    Config
	logger zerolog.Logger
	clock  func() time.Time
}

// Open creates the database file and schema if needed, then prunes.
func Open(ctx context.Context, cfg Config, logger zerolog.Logger) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("history path is empty")
	}
	if dir := filepath.Dir(cfg.Path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create history dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, logger: logger, clock: time.Now}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("init history schema: %w", err)
	}
	if err := s.Prune(ctx); err != nil {
		logger.Warn().Err(err).Msg("history prune on open failed")
	}
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS sessions (
    session_id TEXT PRIMARY KEY,
    started_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS turns (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT NOT NULL,
    user_text TEXT NOT NULL,
    remote_text TEXT NOT NULL,
    completed_at INTEGER NOT NULL,
    FOREIGN KEY(session_id) REFERENCES sessions(session_id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_turns_completed ON turns(completed_at);
CREATE INDEX IF NOT EXISTS idx_turns_session ON turns(session_id, id);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveTurn appends a committed turn, creating the session row on first use.
func (s *Store) SaveTurn(ctx context.Context, sessionID string, turn domain.Turn) error {
	now := s.clock().UTC()
	if turn.CompletedAt.IsZero() {
		turn.CompletedAt = now
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO sessions(session_id, started_at) VALUES(?, ?) ON CONFLICT(session_id) DO NOTHING`,
		sessionID, now.UnixNano()); err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO turns(session_id, user_text, remote_text, completed_at) VALUES(?, ?, ?, ?)`,
		sessionID, turn.User, turn.Remote, turn.CompletedAt.UTC().UnixNano()); err != nil {
		return fmt.Errorf("insert turn: %w", err)
	}
	return tx.Commit()
}

// ListTurns returns the most recent limit turns, oldest first. A limit of
// zero or less returns every stored turn.
func (s *Store) ListTurns(ctx context.Context, limit int) ([]domain.Turn, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT user_text, remote_text, completed_at FROM (
    SELECT id, user_text, remote_text, completed_at FROM turns ORDER BY id DESC LIMIT ?
) ORDER BY id ASC`, limit)
	if err != nil {
		return nil, err
	}
	return scanTurns(rows)
}

func scanTurns(rows *sql.Rows) ([]domain.Turn, error) {
	defer rows.Close()

	var turns []domain.Turn
	for rows.Next() {
		var t domain.Turn
		var completed int64
		if err := rows.Scan(&t.User, &t.Remote, &completed); err != nil {
			return nil, err
		}
		t.CompletedAt = time.Unix(0, completed).UTC()
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

// Prune drops turns older than the retention window, sessions left empty by
// that, and sessions beyond MaxSessions (oldest first).
func (s *Store) Prune(ctx context.Context) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if s.cfg.Retention > 0 {
		cutoff := s.clock().Add(-s.cfg.Retention).UTC().UnixNano()
		if _, err = tx.ExecContext(ctx, `DELETE FROM turns WHERE completed_at < ?`, cutoff); err != nil {
			return err
		}
		if _, err = tx.ExecContext(ctx, `DELETE FROM sessions WHERE started_at < ?
			AND NOT EXISTS (SELECT 1 FROM turns WHERE turns.session_id = sessions.session_id)`, cutoff); err != nil {
			return err
		}
	}
	if s.cfg.MaxSessions > 0 {
		if _, err = tx.ExecContext(ctx, `DELETE FROM sessions WHERE session_id IN (
			SELECT session_id FROM sessions ORDER BY started_at DESC LIMIT -1 OFFSET ?
		)`, s.cfg.MaxSessions); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Clear deletes every stored turn and session.
func (s *Store) Clear(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM turns`); err != nil {
		return fmt.Errorf("clear turns: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM sessions`); err != nil {
		return fmt.Errorf("clear sessions: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	s.logger.Info().Msg("stored transcript history cleared")
	return nil
}
