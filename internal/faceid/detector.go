package faceid

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

var commandContext = exec.CommandContext

// Face is one detected face.
type Face struct {
	Embedding []float64 `json:"embedding"`
	// Box is top, right, bottom, left in pixels.
	Box []int `json:"box,omitempty"`
}

// Detector finds faces in a still image.
type Detector interface {
	Detect(ctx context.Context, imagePath string) ([]Face, error)
}

// CommandDetector runs an external helper that prints
// {"faces":[{"embedding":[...],"box":[t,r,b,l]}]} for the image path given in
// place of the "{image}" argument.
type CommandDetector struct {
	args    []string
	timeout time.Duration
}

// NewCommandDetector builds a detector from an argv template.
func NewCommandDetector(args []string, timeout time.Duration) (*CommandDetector, error) {
	if len(args) == 0 {
		return nil, errors.New("detector command required")
	}
	return &CommandDetector{args: append([]string(nil), args...), timeout: timeout}, nil
}

type detectorOutput struct {
	Faces []Face `json:"faces"`
	Error string `json:"error,omitempty"`
}

// Detect runs the helper against imagePath.
func (d *CommandDetector) Detect(ctx context.Context, imagePath string) ([]Face, error) {
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	args := make([]string, len(d.args))
	substituted := false
	for i, arg := range d.args {
		if strings.Contains(arg, "{image}") {
			substituted = true
		}
		args[i] = strings.ReplaceAll(arg, "{image}", imagePath)
	}
	if !substituted {
		args = append(args, imagePath)
	}

	var stdout, stderr bytes.Buffer
	cmd := commandContext(ctx, args[0], args[1:]...) //nolint:gosec
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail != "" {
			return nil, fmt.Errorf("face detector: %w: %s", err, detail)
		}
		return nil, fmt.Errorf("face detector: %w", err)
	}

	var out detectorOutput
	if err := json.Unmarshal(bytes.TrimSpace(stdout.Bytes()), &out); err != nil {
		return nil, fmt.Errorf("parse face detector output: %w", err)
	}
	if out.Error != "" {
		return nil, fmt.Errorf("face detector: %s", out.Error)
	}
	return out.Faces, nil
}

// Embeddings extracts the embedding of each face that has one.
func Embeddings(faces []Face) [][]float64 {
	out := make([][]float64, 0, len(faces))
	for _, face := range faces {
		if len(face.Embedding) > 0 {
			out = append(out, face.Embedding)
		}
	}
	return out
}
