// Package store is the local sqlite cache: the offline fallback for
// attendance history plus persisted server configuration. The cache
// only ever holds confirmed attendance events; status is re-derived as
// attended on load.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"rollcall/attendance-server/internal/model"

	_ "modernc.org/sqlite"
)

// Store wraps the sqlite database connection and schema lifecycle.
type Store struct {
	db *sql.DB
}

// Open initializes the database connection, creating directories as
// needed.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(ON)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(5 * time.Minute)

	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// InitSchema ensures baseline tables exist.
func (s *Store) InitSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS cached_records (
			user_key TEXT NOT NULL,
			course_id TEXT NOT NULL,
			course_name TEXT NOT NULL,
			recorded_at TEXT NOT NULL,
			cached_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now')),
			PRIMARY KEY (user_key, course_id, recorded_at)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_cached_records_user ON cached_records(user_key);`,
		`CREATE TABLE IF NOT EXISTS app_config (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
		);`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}

	return nil
}

// SaveRecords replaces the cached attendance history for one user.
// Only attended events belong in the cache; absences are synthesized
// at reconcile time and are never persisted here.
func (s *Store) SaveRecords(ctx context.Context, userKey string, records []model.AttendanceRecord) error {
	if s.db == nil {
		return fmt.Errorf("store not initialized")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin cache save: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM cached_records WHERE user_key = ?;`, userKey); err != nil {
		return fmt.Errorf("clear cached records: %w", err)
	}

	for _, rec := range records {
		if rec.Status != model.StatusAttended {
			continue
		}
		_, err := tx.ExecContext(
			ctx,
			`INSERT INTO cached_records (user_key, course_id, course_name, recorded_at) VALUES (?, ?, ?, ?);`,
			userKey,
			rec.CourseID,
			rec.CourseName,
			rec.Timestamp.UTC().Format(time.RFC3339Nano),
		)
		if err != nil {
			return fmt.Errorf("insert cached record: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit cache save: %w", err)
	}
	return nil
}

// LoadRecords returns the cached history for one user, oldest first,
// with status re-derived as attended.
func (s *Store) LoadRecords(ctx context.Context, userKey string) ([]model.AttendanceRecord, error) {
	if s.db == nil {
		return nil, fmt.Errorf("store not initialized")
	}

	rows, err := s.db.QueryContext(
		ctx,
		`SELECT course_id, course_name, recorded_at FROM cached_records WHERE user_key = ? ORDER BY recorded_at ASC;`,
		userKey,
	)
	if err != nil {
		return nil, fmt.Errorf("query cached records: %w", err)
	}
	defer rows.Close()

	var records []model.AttendanceRecord
	for rows.Next() {
		var courseID, courseName, recordedAtStr string
		if err := rows.Scan(&courseID, &courseName, &recordedAtStr); err != nil {
			return nil, fmt.Errorf("scan cached record: %w", err)
		}

		recordedAt, err := time.Parse(time.RFC3339Nano, recordedAtStr)
		if err != nil {
			return nil, fmt.Errorf("parse cached record timestamp %q: %w", recordedAtStr, err)
		}

		records = append(records, model.AttendanceRecord{
			CourseID:   courseID,
			CourseName: courseName,
			Timestamp:  recordedAt,
			Status:     model.StatusAttended,
		})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cached records: %w", err)
	}

	return records, nil
}

// UpsertAppConfig stores or updates a configuration key/value pair.
func (s *Store) UpsertAppConfig(ctx context.Context, key, value string) error {
	if s.db == nil {
		return fmt.Errorf("store not initialized")
	}

	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO app_config (key, value, updated_at) VALUES (?, ?, strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at;`,
		key,
		value,
	)
	if err != nil {
		return fmt.Errorf("upsert app config: %w", err)
	}
	return nil
}

// AppConfig returns all configuration entries as a map.
func (s *Store) AppConfig(ctx context.Context) (map[string]string, error) {
	if s.db == nil {
		return nil, fmt.Errorf("store not initialized")
	}

	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM app_config;`)
	if err != nil {
		return nil, fmt.Errorf("query app config: %w", err)
	}
	defer rows.Close()

	config := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("scan app config: %w", err)
		}
		config[key] = value
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate app config: %w", err)
	}

	return config, nil
}
