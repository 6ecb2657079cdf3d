package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/boletin/backend/internal/grading"
	"github.com/boletin/backend/internal/storage/models"
	"github.com/boletin/backend/internal/store"
	"github.com/boletin/backend/pkg/logger"
)

type Client struct {
	db *sql.DB
}

func NewClient(dbPath string) (*Client, error) {
	if dbPath != ":memory:" && !strings.HasPrefix(dbPath, "file:") {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	_, err = db.Exec("PRAGMA foreign_keys = ON")
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	_, err = db.Exec("PRAGMA journal_mode = WAL")
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS snapshots (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		content_hash TEXT NOT NULL,
		source TEXT,
		record_count INTEGER NOT NULL,
		loaded_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_snapshots_loaded ON snapshots(loaded_at);

	CREATE TABLE IF NOT EXISTS records (
		snapshot_id INTEGER NOT NULL,
		position INTEGER NOT NULL,
		student_id TEXT NOT NULL,
		student_name TEXT,
		level TEXT,
		course TEXT,
		section TEXT,
		period TEXT,
		subject TEXT,
		teacher TEXT,
		trimester_1 REAL,
		trimester_2 REAL,
		trimester_3 REAL,
		average REAL,
		legacy_average REAL,
		status TEXT,
		PRIMARY KEY (snapshot_id, position),
		FOREIGN KEY (snapshot_id) REFERENCES snapshots(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_records_student ON records(student_id);

	CREATE TABLE IF NOT EXISTS load_history (
		id TEXT PRIMARY KEY,
		source TEXT,
		status TEXT NOT NULL,
		record_count INTEGER NOT NULL,
		content_hash TEXT,
		error TEXT,
		duration_ms INTEGER,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_load_history_created ON load_history(created_at);
	`

	_, err := c.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

// SaveSnapshot stores snap as the only persisted snapshot.
func (c *Client) SaveSnapshot(ctx context.Context, snap *store.Snapshot) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM snapshots`); err != nil {
		return fmt.Errorf("failed to clear snapshots: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO snapshots (content_hash, source, record_count, loaded_at) VALUES (?, ?, ?, ?)`,
		snap.ContentHash,
		snap.Source,
		len(snap.Records),
		snap.LoadedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert snapshot: %w", err)
	}
	snapshotID, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read snapshot id: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO records (
			snapshot_id, position, student_id, student_name, level, course, section, period,
			subject, teacher, trimester_1, trimester_2, trimester_3, average, legacy_average, status
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare record insert: %w", err)
	}
	defer stmt.Close()

	for i, r := range snap.Records {
		_, err := stmt.ExecContext(ctx,
			snapshotID,
			i,
			r.StudentID,
			r.StudentName,
			r.Level,
			r.Course,
			r.Section,
			r.Period,
			r.Subject,
			r.Teacher,
			nullGrade(r.Trimester1),
			nullGrade(r.Trimester2),
			nullGrade(r.Trimester3),
			nullGrade(r.Average),
			nullGrade(r.LegacyAverage),
			r.Status,
		)
		if err != nil {
			return fmt.Errorf("failed to insert record %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit snapshot: %w", err)
	}

	logger.Debug("Snapshot persisted", zap.Int("records", len(snap.Records)))
	return nil
}

// LatestSnapshot returns the persisted snapshot, or nil if there is none.
func (c *Client) LatestSnapshot(ctx context.Context) (*store.Snapshot, error) {
	var (
		snapshotID int64
		loadedAt   int64
		source     sql.NullString
		snap       store.Snapshot
	)

	err := c.db.QueryRowContext(ctx,
		`SELECT id, content_hash, source, loaded_at FROM snapshots ORDER BY loaded_at DESC, id DESC LIMIT 1`,
	).Scan(&snapshotID, &snap.ContentHash, &source, &loadedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}
	snap.Source = source.String
	snap.LoadedAt = time.UnixMilli(loadedAt)

	rows, err := c.db.QueryContext(ctx, `
		SELECT student_id, student_name, level, course, section, period, subject, teacher,
			trimester_1, trimester_2, trimester_3, average, legacy_average, status
		FROM records WHERE snapshot_id = ? ORDER BY position
	`, snapshotID)
	if err != nil {
		return nil, fmt.Errorf("failed to get records: %w", err)
	}
	defer rows.Close()

	snap.Records = make([]models.Record, 0)
	for rows.Next() {
		var (
			r                          models.Record
			name, level, course        sql.NullString
			section, period, subject   sql.NullString
			teacher, status            sql.NullString
			t1, t2, t3, avg, legacyAvg sql.NullFloat64
		)
		if err := rows.Scan(
			&r.StudentID, &name, &level, &course, &section, &period, &subject, &teacher,
			&t1, &t2, &t3, &avg, &legacyAvg, &status,
		); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		r.StudentName = name.String
		r.Level = level.String
		r.Course = course.String
		r.Section = section.String
		r.Period = period.String
		r.Subject = subject.String
		r.Teacher = teacher.String
		r.Status = status.String
		r.Trimester1 = gradeFrom(t1)
		r.Trimester2 = gradeFrom(t2)
		r.Trimester3 = gradeFrom(t3)
		r.Average = gradeFrom(avg)
		r.LegacyAverage = gradeFrom(legacyAvg)
		snap.Records = append(snap.Records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read records: %w", err)
	}

	return &snap, nil
}

func (c *Client) RecordLoad(ctx context.Context, ev *models.LoadEvent) error {
	query := `
		INSERT INTO load_history (id, source, status, record_count, content_hash, error, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := c.db.ExecContext(ctx, query,
		ev.ID,
		ev.Source,
		string(ev.Status),
		ev.RecordCount,
		ev.ContentHash,
		ev.Error,
		ev.DurationMS,
		ev.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to record load: %w", err)
	}
	return nil
}

// RecentLoads returns up to limit load events, newest first.
func (c *Client) RecentLoads(ctx context.Context, limit int) ([]models.LoadEvent, error) {
	query := `
		SELECT id, source, status, record_count, content_hash, error, duration_ms, created_at
		FROM load_history ORDER BY created_at DESC, rowid DESC LIMIT ?
	`

	rows, err := c.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get load history: %w", err)
	}
	defer rows.Close()

	events := make([]models.LoadEvent, 0, limit)
	for rows.Next() {
		var (
			ev                    models.LoadEvent
			status                string
			source, hash, message sql.NullString
			createdAt             int64
		)
		if err := rows.Scan(&ev.ID, &source, &status, &ev.RecordCount, &hash, &message, &ev.DurationMS, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan load event: %w", err)
		}
		ev.Source = source.String
		ev.Status = models.LoadStatus(status)
		ev.ContentHash = hash.String
		ev.Error = message.String
		ev.CreatedAt = time.UnixMilli(createdAt)
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read load history: %w", err)
	}

	return events, nil
}

// PruneLoads deletes load events older than cutoff.
func (c *Client) PruneLoads(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := c.db.ExecContext(ctx, `DELETE FROM load_history WHERE created_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to prune load history: %w", err)
	}
	return res.RowsAffected()
}

func nullGrade(g grading.Grade) sql.NullFloat64 {
	return sql.NullFloat64{Float64: g.Value, Valid: g.Present}
}

func gradeFrom(v sql.NullFloat64) grading.Grade {
	if !v.Valid {
		return grading.Absent
	}
	return grading.Of(v.Float64)
}
