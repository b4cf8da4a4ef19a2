package telemetry

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

var schema = []string{`
CREATE TABLE IF NOT EXISTS navigator_events (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	ts               TEXT    NOT NULL,
	conversation_id  TEXT    NOT NULL,
	route            TEXT    NOT NULL,
	complexity_score REAL    NOT NULL,
	tags             TEXT    NOT NULL,
	model            TEXT    NOT NULL,
	tokens_in        INTEGER NOT NULL,
	tokens_out       INTEGER NOT NULL,
	latency_ms       REAL    NOT NULL,
	cost_usd         REAL    NOT NULL,
	tokens_saved_est INTEGER NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_navigator_events_route ON navigator_events(route)`,
}

// SQLiteSink mirrors events into a navigator_events table.
type SQLiteSink struct {
	db *sql.DB
}

// OpenSQLiteSink opens (or creates) the database at path.
func OpenSQLiteSink(path string) (*SQLiteSink, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Single connection: SQLite serializes writers anyway.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return &SQLiteSink{db: db}, nil
}

// Write inserts one event.
func (s *SQLiteSink) Write(ctx context.Context, e Event) error {
	tags := e.Tags
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return fmt.Errorf("encode tags: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO navigator_events
			(ts, conversation_id, route, complexity_score, tags, model,
			 tokens_in, tokens_out, latency_ms, cost_usd, tokens_saved_est)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.TS.UTC().Format(time.RFC3339Nano), e.ConversationID, e.Route, e.ComplexityScore,
		string(tagsJSON), e.Model, e.TokensIn, e.TokensOut, e.LatencyMS, e.CostUSD, e.TokensSavedEst,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// Events returns stored events oldest first. limit <= 0 means all.
func (s *SQLiteSink) Events(ctx context.Context, limit int) ([]Event, error) {
	query := `SELECT ts, conversation_id, route, complexity_score, tags, model,
		tokens_in, tokens_out, latency_ms, cost_usd, tokens_saved_est
		FROM navigator_events ORDER BY id`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			e        Event
			ts, tags string
		)
		if err := rows.Scan(&ts, &e.ConversationID, &e.Route, &e.ComplexityScore, &tags, &e.Model,
			&e.TokensIn, &e.TokensOut, &e.LatencyMS, &e.CostUSD, &e.TokensSavedEst); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if e.TS, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return nil, fmt.Errorf("parse ts %q: %w", ts, err)
		}
		if err := json.Unmarshal([]byte(tags), &e.Tags); err != nil {
			return nil, fmt.Errorf("decode tags: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// Close closes the database.
func (s *SQLiteSink) Close() error {
	return s.db.Close()
}
