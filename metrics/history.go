package metrics

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// History is an append-only sqlite log of finished games, for offline plotting.
type History struct {
	db *sql.DB
}

func OpenHistory(path string) (*History, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &History{db: db}, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS games (
		id TEXT PRIMARY KEY,
		game_id TEXT NOT NULL,
		outcome TEXT NOT NULL,
		score REAL NOT NULL,
		duration INTEGER NOT NULL,
		end_tick INTEGER NOT NULL,
		ended_at TEXT NOT NULL
	)`)
	return err
}

func (h *History) Record(ctx context.Context, rec GameRecord) error {
	_, err := h.db.ExecContext(ctx,
		`INSERT INTO games (id, game_id, outcome, score, duration, end_tick, ended_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.GameID, rec.Outcome, rec.Score, rec.Duration, rec.EndTick,
		rec.EndedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("record game %s: %w", rec.ID, err)
	}
	return nil
}

// Recent returns up to n games, most recently recorded first.
func (h *History) Recent(ctx context.Context, n int) ([]GameRecord, error) {
	rows, err := h.db.QueryContext(ctx,
		`SELECT id, game_id, outcome, score, duration, end_tick, ended_at
		FROM games ORDER BY rowid DESC LIMIT ?`, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []GameRecord
	for rows.Next() {
		var rec GameRecord
		var endedAt string
		if err := rows.Scan(&rec.ID, &rec.GameID, &rec.Outcome, &rec.Score, &rec.Duration, &rec.EndTick, &endedAt); err != nil {
			return nil, err
		}
		if rec.EndedAt, err = time.Parse(time.RFC3339Nano, endedAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (h *History) Close() error {
	return h.db.Close()
}
