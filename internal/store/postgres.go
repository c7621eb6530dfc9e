package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"synthpipe/internal/models"
)

// Store mirrors tracked job statuses into Postgres. The in-memory tracker
// stays authoritative; this mirror exists so statuses survive restarts and
// remain queryable by job id with the same JobStatus shape.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a pooled connection to Postgres.
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// SaveStatus upserts the full status document keyed by job id.
func (s *Store) SaveStatus(ctx context.Context, js models.JobStatus) error {
	configJSON, err := json.Marshal(js.Config)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	stagesJSON, err := json.Marshal(js.Stages)
	if err != nil {
		return fmt.Errorf("marshal stages: %w", err)
	}
	var errJSON []byte
	if js.Error != nil {
		if errJSON, err = json.Marshal(js.Error); err != nil {
			return fmt.Errorf("marshal error: %w", err)
		}
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO pipeline_jobs (id, config, status, progress, stages, error, created_at, updated_at, started_at, completed_at, cancelled_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			progress = EXCLUDED.progress,
			stages = EXCLUDED.stages,
			error = EXCLUDED.error,
			updated_at = EXCLUDED.updated_at,
			started_at = EXCLUDED.started_at,
			completed_at = EXCLUDED.completed_at,
			cancelled_at = EXCLUDED.cancelled_at
	`, js.JobID, configJSON, string(js.Status), js.Progress, stagesJSON, errJSON,
		js.CreatedAt, js.UpdatedAt, js.StartedAt, js.CompletedAt, js.CancelledAt)
	if err != nil {
		return fmt.Errorf("upsert job status: %w", err)
	}
	return nil
}

// LoadStatus fetches a mirrored status by job id.
func (s *Store) LoadStatus(ctx context.Context, jobID string) (models.JobStatus, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, config, status, progress, stages, error, created_at, updated_at, started_at, completed_at, cancelled_at
		FROM pipeline_jobs WHERE id = $1
	`, jobID)

	var js models.JobStatus
	var status string
	var configJSON, stagesJSON, errJSON []byte

	err := row.Scan(&js.JobID, &configJSON, &status, &js.Progress, &stagesJSON, &errJSON,
		&js.CreatedAt, &js.UpdatedAt, &js.StartedAt, &js.CompletedAt, &js.CancelledAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.JobStatus{}, fmt.Errorf("load %s: %w", jobID, models.ErrJobNotFound)
	}
	if err != nil {
		return models.JobStatus{}, fmt.Errorf("scan job status: %w", err)
	}

	js.Status = models.Status(status)
	if err := json.Unmarshal(configJSON, &js.Config); err != nil {
		return models.JobStatus{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := json.Unmarshal(stagesJSON, &js.Stages); err != nil {
		return models.JobStatus{}, fmt.Errorf("unmarshal stages: %w", err)
	}
	if len(errJSON) > 0 {
		js.Error = &models.JobError{}
		if err := json.Unmarshal(errJSON, js.Error); err != nil {
			return models.JobStatus{}, fmt.Errorf("unmarshal error: %w", err)
		}
	}
	return js, nil
}

// CountByStatus tallies mirrored jobs per lifecycle state.
func (s *Store) CountByStatus(ctx context.Context) (map[models.Status]int, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT status, COUNT(*) FROM pipeline_jobs GROUP BY status
	`)
	if err != nil {
		return nil, fmt.Errorf("count by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.Status]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan count row: %w", err)
		}
		counts[models.Status(status)] = n
	}
	return counts, rows.Err()
}
