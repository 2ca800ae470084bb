package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"gifconv/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS conversion_jobs (
	id               TEXT PRIMARY KEY,
	status           TEXT NOT NULL,
	source_key       TEXT NOT NULL,
	target_key       TEXT NOT NULL,
	source_sha256    TEXT NOT NULL DEFAULT '',
	cluster_job_name TEXT NOT NULL DEFAULT '',
	download_url     TEXT NOT NULL DEFAULT '',
	error_message    TEXT NOT NULL DEFAULT '',
	created_at       TIMESTAMPTZ NOT NULL
)`

// PostgresStore persists job records in Postgres. Update runs the shared
// merge inside a transaction with a row lock, so the terminal-state
// invariant holds even with the poll and callback channels writing from
// different connections.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to ensure schema: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Create(ctx context.Context, record models.JobRecord) error {
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversion_jobs
			(id, status, source_key, target_key, source_sha256, cluster_job_name, download_url, error_message, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		record.ID, record.Status, record.SourceKey, record.TargetKey,
		record.SourceSHA256, record.ClusterJobName, record.DownloadURL,
		record.ErrorMessage, record.CreatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrDuplicateJob
		}
		return fmt.Errorf("failed to insert job %s: %w", record.ID, err)
	}

	return nil
}

func (s *PostgresStore) Update(ctx context.Context, id string, upd Update) (models.JobRecord, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.JobRecord{}, fmt.Errorf("failed to begin update for job %s: %w", id, err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx,
		`SELECT id, status, source_key, target_key, source_sha256, cluster_job_name, download_url, error_message, created_at
		 FROM conversion_jobs WHERE id = $1 FOR UPDATE`, id)

	current, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.JobRecord{}, ErrUnknownJob
		}
		return models.JobRecord{}, fmt.Errorf("failed to load job %s: %w", id, err)
	}

	next := merge(current, upd)

	_, err = tx.ExecContext(ctx,
		`UPDATE conversion_jobs
		 SET status = $1, cluster_job_name = $2, download_url = $3, error_message = $4
		 WHERE id = $5`,
		next.Status, next.ClusterJobName, next.DownloadURL, next.ErrorMessage, id,
	)
	if err != nil {
		return models.JobRecord{}, fmt.Errorf("failed to update job %s: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return models.JobRecord{}, fmt.Errorf("failed to commit update for job %s: %w", id, err)
	}

	return next, nil
}

func (s *PostgresStore) List(ctx context.Context) ([]models.JobRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, status, source_key, target_key, source_sha256, cluster_job_name, download_url, error_message, created_at
		 FROM conversion_jobs ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var records []models.JobRecord
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job row: %w", err)
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read job rows: %w", err)
	}

	return records, nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (models.JobRecord, error) {
	var record models.JobRecord
	err := row.Scan(
		&record.ID, &record.Status, &record.SourceKey, &record.TargetKey,
		&record.SourceSHA256, &record.ClusterJobName, &record.DownloadURL,
		&record.ErrorMessage, &record.CreatedAt,
	)
	return record, err
}
