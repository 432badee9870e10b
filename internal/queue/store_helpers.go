package queue

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const jobColumns = "id, kind, artifact_kind, path, captured_at, tags_json, window_start, window_end, enqueued_at, attempts, last_error, leased_until"

func scanJob(scanner interface{ Scan(dest ...any) error }, now time.Time) (*Job, error) {
	var (
		id           int64
		kind         string
		artifactKind string
		path         string
		capturedRaw  sql.NullString
		tagsRaw      sql.NullString
		startRaw     sql.NullString
		endRaw       sql.NullString
		enqueuedRaw  sql.NullString
		attempts     sql.NullInt64
		lastError    sql.NullString
		leasedUntil  sql.NullInt64
	)
	if err := scanner.Scan(
		&id,
		&kind,
		&artifactKind,
		&path,
		&capturedRaw,
		&tagsRaw,
		&startRaw,
		&endRaw,
		&enqueuedRaw,
		&attempts,
		&lastError,
		&leasedUntil,
	); err != nil {
		return nil, err
	}

	job := &Job{
		ID:   id,
		Kind: Kind(kind),
		Artifact: Artifact{
			Path: path,
			Kind: Kind(artifactKind),
			Tags: decodeTags(tagsRaw.String),
		},
		Attempts:  int(attempts.Int64),
		LastError: lastError.String,
		Leased:    leasedUntil.Valid && leasedUntil.Int64 > now.UnixNano(),
	}
	if ts, err := parseTimeString(capturedRaw.String); err == nil {
		job.Artifact.CapturedAt = ts
	}
	if ts, err := parseTimeString(startRaw.String); err == nil {
		job.WindowStart = ts
	}
	if ts, err := parseTimeString(endRaw.String); err == nil {
		job.WindowEnd = ts
	}
	if ts, err := parseTimeString(enqueuedRaw.String); err == nil {
		job.EnqueuedAt = ts
	}
	return job, nil
}

func encodeTags(tags []string) (any, error) {
	if len(tags) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(tags)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func decodeTags(raw string) []string {
	if raw == "" {
		return nil
	}
	var tags []string
	if err := json.Unmarshal([]byte(raw), &tags); err != nil {
		return nil
	}
	return tags
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func formatTime(value time.Time) string {
	return value.UTC().Format(time.RFC3339Nano)
}

func nullableTime(value time.Time) any {
	if value.IsZero() {
		return nil
	}
	return formatTime(value)
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	return time.Parse(time.RFC3339Nano, value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}

func rowsAffected(res sql.Result) (int64, error) {
	count, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return count, nil
}
