package queue

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

// List returns every stored job in delivery order.
func (s *Store) List(ctx context.Context) ([]*Job, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx, `SELECT `+jobColumns+` FROM jobs ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	now := s.now()
	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows, now)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := s.loadAttachments(ctx, jobs); err != nil {
		return nil, err
	}
	return jobs, nil
}

// Clear deletes every job and returns how many were removed. Staged files are
// left on disk.
func (s *Store) Clear(ctx context.Context) (int64, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM jobs`)
	if err != nil {
		return 0, fmt.Errorf("clear queue: %w", err)
	}
	count, err := rowsAffected(res)
	if err != nil {
		return 0, fmt.Errorf("clear queue: %w", err)
	}
	return count, nil
}

// Stats aggregates queue state for status output and metrics.
func (s *Store) Stats(ctx context.Context) (Summary, error) {
	ctx = ensureContext(ctx)
	summary := Summary{ByKind: make(map[Kind]int)}

	rows, err := s.db.QueryContext(ctx,
		`SELECT kind, COUNT(1),
		        SUM(CASE WHEN leased_until > ? THEN 1 ELSE 0 END),
		        SUM(CASE WHEN attempts > 0 THEN 1 ELSE 0 END),
		        MIN(enqueued_at)
		 FROM jobs GROUP BY kind`, s.now().UnixNano())
	if err != nil {
		return summary, fmt.Errorf("queue stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			kind     string
			count    int
			leased   int
			retrying int
			oldest   string
		)
		if err := rows.Scan(&kind, &count, &leased, &retrying, &oldest); err != nil {
			return summary, err
		}
		summary.ByKind[Kind(kind)] = count
		summary.Total += count
		summary.Leased += leased
		summary.Retrying += retrying
		if ts, err := parseTimeString(oldest); err == nil {
			if summary.OldestEnqueued.IsZero() || ts.Before(summary.OldestEnqueued) {
				summary.OldestEnqueued = ts
			}
		}
	}
	return summary, rows.Err()
}

// CheckHealth returns diagnostic information about the queue database.
func (s *Store) CheckHealth(ctx context.Context) (DatabaseHealth, error) {
	health := DatabaseHealth{DBPath: s.path}

	if s.path == "" {
		return health, errors.New("queue database path is unknown")
	}

	info, err := os.Stat(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return health, nil
		}
		return health, fmt.Errorf("stat queue database: %w", err)
	}
	if info.IsDir() {
		return health, fmt.Errorf("queue database path %q is a directory", s.path)
	}
	health.DatabaseExists = true

	connCtx, cancel := context.WithTimeout(ensureContext(ctx), 2*time.Second)
	defer cancel()

	if err := s.db.PingContext(connCtx); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("ping queue database: %w", err)
	}
	health.DatabaseReadable = true

	if err := s.db.QueryRowContext(connCtx, "SELECT version FROM schema_version LIMIT 1").Scan(&health.SchemaVersion); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("read schema version: %w", err)
	}

	if err := s.db.QueryRowContext(connCtx, "SELECT COUNT(*) FROM jobs").Scan(&health.TotalJobs); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("count jobs: %w", err)
	}

	var integrityResult string
	if err := s.db.QueryRowContext(connCtx, "PRAGMA integrity_check").Scan(&integrityResult); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("integrity check: %w", err)
	}
	health.IntegrityCheck = strings.EqualFold(integrityResult, "ok")

	return health, nil
}
