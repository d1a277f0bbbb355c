// Package store persists what the alignment controller publishes.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/arloliu/go-t2sa/alignment"
	"github.com/arloliu/go-t2sa/t2sa"
)

//go:embed schema.sql
var schemaSQL string

var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA temp_store=MEMORY",
}

// Status sources recorded in the status_changes table.
const (
	SourceT2SA  = "t2sa"
	SourceLaser = "laser"
)

// SQLiteSink is an alignment.EventSink that records measurements and status
// changes in a SQLite database. Repeated telemetry with an unchanged status is
// not recorded.
type SQLiteSink struct {
	db *sql.DB

	mu         sync.Mutex
	lastStatus map[string]string
}

var _ alignment.EventSink = (*SQLiteSink)(nil)

// Open opens or creates the database at path and applies the schema.
func Open(ctx context.Context, path string) (*SQLiteSink, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// PRAGMAs are per connection.
	db.SetMaxOpenConns(1)

	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &SQLiteSink{db: db, lastStatus: make(map[string]string)}, nil
}

// Close closes the database.
func (s *SQLiteSink) Close() error {
	return s.db.Close()
}

func (s *SQLiteSink) PublishPosition(ctx context.Context, m alignment.Measurement) error {
	return s.insertMeasurement(ctx, m)
}

func (s *SQLiteSink) PublishOffset(ctx context.Context, m alignment.Measurement) error {
	return s.insertMeasurement(ctx, m)
}

func (s *SQLiteSink) PublishT2SAStatus(ctx context.Context, status t2sa.TrackerStatus) error {
	return s.recordStatus(ctx, SourceT2SA, status.String())
}

func (s *SQLiteSink) PublishLaserStatus(ctx context.Context, status t2sa.LaserStatus) error {
	return s.recordStatus(ctx, SourceLaser, status.String())
}

func (s *SQLiteSink) insertMeasurement(ctx context.Context, m alignment.Measurement) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO measurements (
			measurement_id, kind, target, reference, dx, dy, dz, drx, dry, drz, measured_at_ns
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID.String(), string(m.Kind), m.Target, m.Reference,
		m.DX, m.DY, m.DZ, m.DRX, m.DRY, m.DRZ, m.MeasuredAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert measurement %s: %w", m.ID, err)
	}

	return nil
}

func (s *SQLiteSink) recordStatus(ctx context.Context, source, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lastStatus[source] == status {
		return nil
	}

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO status_changes (source, status, changed_at_ns) VALUES (?, ?, ?)",
		source, status, time.Now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to record %s status: %w", source, err)
	}
	s.lastStatus[source] = status

	return nil
}

// Recent returns up to n measurements, newest first.
func (s *SQLiteSink) Recent(ctx context.Context, n int) ([]alignment.Measurement, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT measurement_id, kind, target, reference, dx, dy, dz, drx, dry, drz, measured_at_ns
		FROM measurements
		ORDER BY measured_at_ns DESC, rowid DESC
		LIMIT ?`, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []alignment.Measurement
	for rows.Next() {
		var (
			m          alignment.Measurement
			id, kind   string
			measuredAt int64
		)
		err := rows.Scan(&id, &kind, &m.Target, &m.Reference,
			&m.DX, &m.DY, &m.DZ, &m.DRX, &m.DRY, &m.DRZ, &measuredAt)
		if err != nil {
			return nil, err
		}

		if m.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("invalid measurement id %q: %w", id, err)
		}
		m.Kind = alignment.MeasurementKind(kind)
		m.MeasuredAt = time.Unix(0, measuredAt)
		result = append(result, m)
	}

	return result, rows.Err()
}

// StatusChange is a recorded tracker or laser status change.
type StatusChange struct {
	Source    string
	Status    string
	ChangedAt time.Time
}

// StatusHistory returns the recorded status changes of source, oldest first.
func (s *SQLiteSink) StatusHistory(ctx context.Context, source string) ([]StatusChange, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT source, status, changed_at_ns FROM status_changes WHERE source = ? ORDER BY change_id", source)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []StatusChange
	for rows.Next() {
		var (
			c         StatusChange
			changedAt int64
		)
		if err := rows.Scan(&c.Source, &c.Status, &changedAt); err != nil {
			return nil, err
		}
		c.ChangedAt = time.Unix(0, changedAt)
		result = append(result, c)
	}

	return result, rows.Err()
}
