package camera

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

var (
	commandContext = exec.CommandContext
	lookPath       = exec.LookPath
)

// ErrCameraUnavailable means the capture device or its tooling cannot be
// opened. It is fatal to the goroutine that owns the camera.
var ErrCameraUnavailable = errors.New("camera unavailable")

// Camera writes a single JPEG frame to path.
type Camera interface {
	Open(ctx context.Context) error
	Capture(ctx context.Context, path string) error
}

// CommandCamera shells out to a still-capture tool such as rpicam-still. The
// "{output}" argument is replaced with the destination path.
type CommandCamera struct {
	args    []string
	timeout time.Duration
}

// NewCommandCamera builds a camera from an argv template.
func NewCommandCamera(args []string, timeout time.Duration) *CommandCamera {
	return &CommandCamera{args: append([]string(nil), args...), timeout: timeout}
}

// Open verifies the capture tool is installed.
func (c *CommandCamera) Open(context.Context) error {
	if len(c.args) == 0 {
		return fmt.Errorf("%w: no capture command configured", ErrCameraUnavailable)
	}
	if _, err := lookPath(c.args[0]); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrCameraUnavailable, c.args[0], err)
	}
	return nil
}

// Capture runs the tool once.
func (c *CommandCamera) Capture(ctx context.Context, path string) error {
	if len(c.args) == 0 {
		return fmt.Errorf("%w: no capture command configured", ErrCameraUnavailable)
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	args := make([]string, len(c.args))
	for i, arg := range c.args {
		args[i] = strings.ReplaceAll(arg, "{output}", path)
	}

	var stderr bytes.Buffer
	cmd := commandContext(ctx, args[0], args[1:]...) //nolint:gosec
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return fmt.Errorf("%w: %v", ErrCameraUnavailable, err)
		}
		if detail := strings.TrimSpace(stderr.String()); detail != "" {
			return fmt.Errorf("capture frame: %w: %s", err, detail)
		}
		return fmt.Errorf("capture frame: %w", err)
	}
	return nil
}
