package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"
)

var (
	commandContext = exec.CommandContext
	lookPath       = exec.LookPath
)

// ErrDeviceUnavailable means the input device cannot be opened.
var ErrDeviceUnavailable = errors.New("audio device unavailable")

// Format describes the raw signed 16-bit little-endian PCM a Source delivers.
type Format struct {
	SampleRate int
	Channels   int
}

// Stream is an open capture device.
type Stream interface {
	io.Reader
	// Interrupt asks the device to stop. Data already captured stays
	// readable until io.EOF.
	Interrupt() error
	// Close releases the device once reads have finished.
	Close() error
}

// Source opens capture streams.
type Source interface {
	Format() Format
	Open(ctx context.Context) (Stream, error)
}

// CommandSource captures by running a recorder such as arecord that writes
// raw PCM to stdout. "{rate}" and "{channels}" in the argv are substituted.
type CommandSource struct {
	args   []string
	format Format
}

// NewCommandSource builds a Source from an argv template.
func NewCommandSource(args []string, format Format) *CommandSource {
	return &CommandSource{args: append([]string(nil), args...), format: format}
}

func (s *CommandSource) Format() Format {
	return s.format
}

// Open starts the recorder process.
func (s *CommandSource) Open(ctx context.Context) (Stream, error) {
	if len(s.args) == 0 {
		return nil, fmt.Errorf("%w: no capture command configured", ErrDeviceUnavailable)
	}
	if _, err := lookPath(s.args[0]); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrDeviceUnavailable, s.args[0], err)
	}

	replacer := strings.NewReplacer(
		"{rate}", strconv.Itoa(s.format.SampleRate),
		"{channels}", strconv.Itoa(s.format.Channels),
	)
	args := make([]string, len(s.args))
	for i, arg := range s.args {
		args[i] = replacer.Replace(arg)
	}

	cmd := commandContext(ctx, args[0], args[1:]...) //nolint:gosec
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	return &commandStream{cmd: cmd, stdout: stdout}, nil
}

const killGrace = 2 * time.Second

type commandStream struct {
	cmd       *exec.Cmd
	stdout    io.Reader
	interrupt sync.Once
	close     sync.Once
	closeErr  error
}

func (s *commandStream) Read(p []byte) (int, error) {
	return s.stdout.Read(p)
}

// Interrupt sends SIGINT so the recorder flushes and exits, and kills it if
// it is still running after a grace period.
func (s *commandStream) Interrupt() error {
	var err error
	s.interrupt.Do(func() {
		if s.cmd.Process == nil {
			return
		}
		err = s.cmd.Process.Signal(syscall.SIGINT)
		process := s.cmd.Process
		time.AfterFunc(killGrace, func() {
			_ = process.Kill()
		})
	})
	return err
}

func (s *commandStream) Close() error {
	s.close.Do(func() {
		err := s.cmd.Wait()
		var exitErr *exec.ExitError
		if err != nil && !errors.As(err, &exitErr) {
			s.closeErr = err
		}
	})
	return s.closeErr
}
