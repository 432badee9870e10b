package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"memorycam/internal/config"
)

// Store manages queue persistence backed by SQLite.
type Store struct {
	db           *sql.DB
	path         string
	lease        time.Duration
	pollInterval time.Duration
	notify       chan struct{}
	now          func() time.Time
}

// Options tunes lease and polling behaviour.
type Options struct {
	Lease        time.Duration
	PollInterval time.Duration
}

const (
	defaultLease        = 2 * time.Minute
	defaultPollInterval = 2 * time.Second
)

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code()&0xff == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

func (s *Store) execWithRetry(ctx context.Context, query string, args ...any) (sql.Result, error) {
	ctx = ensureContext(ctx)
	var (
		res     sql.Result
		execErr error
	)
	if err := retryOnBusy(ctx, func() error {
		res, execErr = s.db.ExecContext(ctx, query, args...)
		return execErr
	}); err != nil {
		return nil, err
	}
	return res, nil
}

// Open initializes or connects to the queue database configured for the daemon.
func Open(cfg *config.Config) (*Store, error) {
	if err := os.MkdirAll(cfg.Paths.QueueDir, 0o755); err != nil {
		return nil, fmt.Errorf("ensure queue directory: %w", err)
	}
	return OpenPath(cfg.QueuePath(), Options{
		Lease:        cfg.LeaseDuration(),
		PollInterval: cfg.PollInterval(),
	})
}

// OpenPath opens the queue database at dbPath.
func OpenPath(dbPath string, opts Options) (*Store, error) {
	if opts.Lease <= 0 {
		opts.Lease = defaultLease
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("ensure queue directory: %w", err)
		}
	}

	// Pragmas go through the DSN so every pooled connection gets them.
	// synchronous=FULL makes a committed enqueue survive power loss.
	pragmas := url.Values{}
	for _, pragma := range []string{
		"journal_mode(WAL)",
		"synchronous(FULL)",
		"foreign_keys(1)",
		"busy_timeout(5000)",
	} {
		pragmas.Add("_pragma", pragma)
	}
	db, err := sql.Open("sqlite", "file:"+dbPath+"?"+pragmas.Encode())
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	store := &Store{
		db:           db,
		path:         dbPath,
		lease:        opts.Lease,
		pollInterval: opts.PollInterval,
		notify:       make(chan struct{}, 1),
		now:          time.Now,
	}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.path
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// signal wakes one blocked Dequeue without blocking the caller.
func (s *Store) signal() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}
