package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Enqueue durably appends job and returns it with ID and EnqueuedAt set. The
// row is committed before Enqueue returns.
func (s *Store) Enqueue(ctx context.Context, job *Job) (*Job, error) {
	if err := job.validate(); err != nil {
		return nil, fmt.Errorf("enqueue: %w", err)
	}
	ctx = ensureContext(ctx)

	saved := *job
	saved.EnqueuedAt = s.now().UTC()
	saved.Attempts = 0
	saved.LastError = ""
	saved.Leased = false

	err := retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		tags, err := encodeTags(saved.Artifact.Tags)
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO jobs (kind, artifact_kind, path, captured_at, tags_json, window_start, window_end, enqueued_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			string(saved.Kind),
			string(saved.Artifact.Kind),
			saved.Artifact.Path,
			formatTime(saved.Artifact.CapturedAt),
			tags,
			nullableTime(saved.WindowStart),
			nullableTime(saved.WindowEnd),
			formatTime(saved.EnqueuedAt),
		)
		if err != nil {
			return err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		for position, attachment := range saved.Attachments {
			attachmentTags, err := encodeTags(attachment.Tags)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO job_attachments (job_id, position, path, captured_at, tags_json) VALUES (?, ?, ?, ?, ?)`,
				id, position, attachment.Path, formatTime(attachment.CapturedAt), attachmentTags,
			); err != nil {
				return err
			}
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		saved.ID = id
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("enqueue %s job: %w", saved.Kind, err)
	}

	s.signal()
	return &saved, nil
}

// TryDequeue leases the oldest visible job. It returns (nil, nil) when no job
// is available.
func (s *Store) TryDequeue(ctx context.Context) (*Job, error) {
	ctx = ensureContext(ctx)
	now := s.now()

	var id int64
	err := retryOnBusy(ctx, func() error {
		return s.db.QueryRowContext(ctx,
			`UPDATE jobs SET leased_until = ?
			 WHERE id = (
			     SELECT id FROM jobs
			     WHERE leased_until IS NULL OR leased_until <= ?
			     ORDER BY id LIMIT 1
			 )
			 RETURNING id`,
			now.Add(s.lease).UnixNano(), now.UnixNano(),
		).Scan(&id)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lease job: %w", err)
	}
	return s.Get(ctx, id)
}

// Dequeue blocks until a job can be leased or ctx is done. The job remains
// stored until Ack.
func (s *Store) Dequeue(ctx context.Context) (*Job, error) {
	ctx = ensureContext(ctx)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		job, err := s.TryDequeue(ctx)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, err
		}
		if job != nil {
			return job, nil
		}

		timer := time.NewTimer(s.pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-s.notify:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// WaitForJobs blocks until at least one job is stored or ctx is done. It
// leases nothing.
func (s *Store) WaitForJobs(ctx context.Context) error {
	ctx = ensureContext(ctx)
	for {
		empty, err := s.IsEmpty(ctx)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return err
		}
		if !empty {
			return nil
		}

		timer := time.NewTimer(s.pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-s.notify:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// Ack permanently removes a delivered job. Acking an unknown or already
// acknowledged ID is a no-op.
func (s *Store) Ack(ctx context.Context, id int64) error {
	if _, err := s.execWithRetry(ctx, `DELETE FROM jobs WHERE id = ?`, id); err != nil {
		return fmt.Errorf("ack job %d: %w", id, err)
	}
	return nil
}

// Release returns a leased job to the queue after a failed attempt, recording
// the cause. The job becomes visible immediately.
func (s *Store) Release(ctx context.Context, id int64, cause error) error {
	message := ""
	if cause != nil {
		message = cause.Error()
	}
	if _, err := s.execWithRetry(ctx,
		`UPDATE jobs SET leased_until = NULL, attempts = attempts + 1, last_error = ? WHERE id = ?`,
		nullableString(message), id,
	); err != nil {
		return fmt.Errorf("release job %d: %w", id, err)
	}
	s.signal()
	return nil
}

// RecoverLeases clears every outstanding lease. The daemon calls it once at
// startup, after taking the instance lock, so jobs leased by a crashed
// process are delivered again.
func (s *Store) RecoverLeases(ctx context.Context) (int64, error) {
	res, err := s.execWithRetry(ctx, `UPDATE jobs SET leased_until = NULL WHERE leased_until IS NOT NULL`)
	if err != nil {
		return 0, fmt.Errorf("recover leases: %w", err)
	}
	count, err := rowsAffected(res)
	if err != nil {
		return 0, fmt.Errorf("recover leases: %w", err)
	}
	if count > 0 {
		s.signal()
	}
	return count, nil
}

// Get returns the job with the given ID, or (nil, nil) if it is gone.
func (s *Store) Get(ctx context.Context, id int64) (*Job, error) {
	ctx = ensureContext(ctx)
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row, s.now())
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job %d: %w", id, err)
	}
	if err := s.loadAttachments(ctx, []*Job{job}); err != nil {
		return nil, err
	}
	return job, nil
}

// Size returns the number of stored jobs, leased or not. Advisory only.
func (s *Store) Size(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ensureContext(ctx), `SELECT COUNT(1) FROM jobs`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count jobs: %w", err)
	}
	return count, nil
}

// IsEmpty reports whether no jobs are stored. Advisory only.
func (s *Store) IsEmpty(ctx context.Context) (bool, error) {
	var exists int
	err := s.db.QueryRowContext(ensureContext(ctx), `SELECT EXISTS(SELECT 1 FROM jobs)`).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check empty: %w", err)
	}
	return exists == 0, nil
}

func (s *Store) loadAttachments(ctx context.Context, jobs []*Job) error {
	var ids []any
	byID := make(map[int64]*Job)
	for _, job := range jobs {
		if job.Kind != KindBatch {
			continue
		}
		ids = append(ids, job.ID)
		byID[job.ID] = job
	}
	if len(ids) == 0 {
		return nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT job_id, path, captured_at, tags_json FROM job_attachments
		 WHERE job_id IN (`+makePlaceholders(len(ids))+`)
		 ORDER BY job_id, position`, ids...)
	if err != nil {
		return fmt.Errorf("load attachments: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			jobID    int64
			path     string
			captured sql.NullString
			tags     sql.NullString
		)
		if err := rows.Scan(&jobID, &path, &captured, &tags); err != nil {
			return fmt.Errorf("scan attachment: %w", err)
		}
		attachment := Artifact{Path: path, Kind: KindImage, Tags: decodeTags(tags.String)}
		if ts, err := parseTimeString(captured.String); err == nil {
			attachment.CapturedAt = ts
		}
		if job := byID[jobID]; job != nil {
			job.Attachments = append(job.Attachments, attachment)
		}
	}
	return rows.Err()
}
