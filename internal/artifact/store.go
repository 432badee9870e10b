package artifact

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"
)

const partSuffix = ".part"

// ErrLowDiskSpace is returned when the staging filesystem is below the
// configured free-space floor.
var ErrLowDiskSpace = errors.New("staging filesystem low on space")

// Store writes artifacts into a staging directory.
type Store struct {
	dir       string
	minFree   uint64
	freeSpace func(path string) (uint64, error)
}

// NewStore returns a Store rooted at dir. minFreeMB of zero disables the
// free-space check.
func NewStore(dir string, minFreeMB int) *Store {
	return &Store{
		dir:       dir,
		minFree:   uint64(minFreeMB) * 1024 * 1024,
		freeSpace: statfsFree,
	}
}

// Dir returns the staging directory.
func (s *Store) Dir() string {
	return s.dir
}

// Name builds a unique artifact file name such as
// image_20250102_100000_123456_1a2b3c4d.jpg.
func Name(prefix, ext string, at time.Time) string {
	ext = strings.TrimPrefix(ext, ".")
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%s_%s_%06d_%s.%s", prefix, at.Format("20060102_150405"), at.Nanosecond()/1000, suffix, ext)
}

// WriteFile produces a new artifact by handing fn a temporary path to fill.
// The file is synced and renamed to its final name only when fn succeeds and
// left nowhere on failure. External tools that write their own output file use
// this form.
func (s *Store) WriteFile(prefix, ext string, at time.Time, fn func(tmpPath string) error) (string, error) {
	if err := s.EnsureSpace(); err != nil {
		return "", err
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("ensure staging dir: %w", err)
	}

	final := filepath.Join(s.dir, Name(prefix, ext, at))
	tmp := filepath.Join(s.dir, "."+filepath.Base(final)+partSuffix)

	if err := fn(tmp); err != nil {
		_ = os.Remove(tmp)
		return "", err
	}
	if err := syncFile(tmp); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("sync artifact: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("publish artifact: %w", err)
	}
	syncDir(s.dir)
	return final, nil
}

// Write produces a new artifact from a stream writer.
func (s *Store) Write(prefix, ext string, at time.Time, fn func(w io.Writer) error) (string, error) {
	return s.WriteFile(prefix, ext, at, func(tmpPath string) error {
		file, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
		if err != nil {
			return fmt.Errorf("create artifact: %w", err)
		}
		if err := fn(file); err != nil {
			_ = file.Close()
			return err
		}
		return file.Close()
	})
}

// Remove deletes an artifact. A file that is already gone is not an error.
func Remove(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// Exists reports whether path is present on disk.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// EnsureSpace fails with ErrLowDiskSpace when the staging filesystem has less
// free space than the configured floor.
func (s *Store) EnsureSpace() error {
	if s.minFree == 0 {
		return nil
	}
	dir := s.dir
	if _, err := os.Stat(dir); err != nil {
		dir = filepath.Dir(dir)
	}
	free, err := s.freeSpace(dir)
	if err != nil {
		return fmt.Errorf("check staging free space: %w", err)
	}
	if free < s.minFree {
		return fmt.Errorf("%w: %d MiB free, need %d MiB", ErrLowDiskSpace, free>>20, s.minFree>>20)
	}
	return nil
}

func statfsFree(path string) (uint64, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return 0, err
	}
	return stat.Bavail * uint64(stat.Bsize), nil
}

func syncFile(path string) error {
	file, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return err
	}
	if err := file.Sync(); err != nil {
		_ = file.Close()
		return err
	}
	return file.Close()
}

func syncDir(dir string) {
	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}
}
