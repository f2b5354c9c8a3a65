package persist

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/t77yq/solar-scheduler/internal/model"
)

// sqliteStore keeps the snapshot in a single-row table. Each save
// replaces the row; history is not kept.
type sqliteStore struct {
	logger *zap.Logger
	db     *sql.DB
}

func newSQLiteStore(path string, logger *zap.Logger) (*sqliteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite persistence requires a path")
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	s := &sqliteStore{logger: logger.Named("sqlite-store"), db: db}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *sqliteStore) initialize() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schedule_snapshot (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			state TEXT NOT NULL,
			saved_at TIMESTAMP NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create snapshot table: %w", err)
	}
	return nil
}

func (s *sqliteStore) Load(ctx context.Context) (*model.PersistedState, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		"SELECT state FROM schedule_snapshot WHERE id = 1").Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	var state model.PersistedState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &state, nil
}

func (s *sqliteStore) Save(ctx context.Context, state *model.PersistedState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO schedule_snapshot (id, state, saved_at) VALUES (1, ?, ?)
		ON CONFLICT (id) DO UPDATE SET state = excluded.state, saved_at = excluded.saved_at
	`, string(data), time.Now())
	if err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return nil
}

func (s *sqliteStore) Close() error { return s.db.Close() }
