package camera

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"memorycam/internal/artifact"
	"memorycam/internal/faceid"
	"memorycam/internal/logging"
)

// Shot is a captured image that has been published to the artifact store.
type Shot struct {
	Path       string
	CapturedAt time.Time
	Tags       []string
}

// Shooter captures full-size snapshots into the artifact store and tags them
// with recognised identities.
type Shooter struct {
	camera     Camera
	store      *artifact.Store
	detector   faceid.Detector
	identifier *faceid.Identifier
	maxWidth   int
	quality    int
	logger     *slog.Logger
	now        func() time.Time
}

// ShooterOptions configures snapshot post-processing. A zero MaxWidth keeps
// the camera's output untouched.
type ShooterOptions struct {
	MaxWidth int
	Quality  int
}

// NewShooter wires a Shooter. detector and identifier may be nil, in which
// case snapshots are not tagged.
func NewShooter(cam Camera, store *artifact.Store, detector faceid.Detector, identifier *faceid.Identifier, opts ShooterOptions, logger *slog.Logger) *Shooter {
	if opts.Quality <= 0 {
		opts.Quality = 85
	}
	return &Shooter{
		camera:     cam,
		store:      store,
		detector:   detector,
		identifier: identifier,
		maxWidth:   opts.MaxWidth,
		quality:    opts.Quality,
		logger:     logging.NewComponentLogger(logger, "snapshot"),
		now:        time.Now,
	}
}

// Open prepares the underlying camera.
func (s *Shooter) Open(ctx context.Context) error {
	return s.camera.Open(ctx)
}

// Snapshot captures one frame. The file only appears in the store once it
// is complete.
func (s *Shooter) Snapshot(ctx context.Context) (Shot, error) {
	at := s.now()
	path, err := s.store.WriteFile("image", "jpg", at, func(tmp string) error {
		if err := s.camera.Capture(ctx, tmp); err != nil {
			return err
		}
		if s.maxWidth <= 0 {
			return nil
		}
		var buf bytes.Buffer
		if err := Reencode(tmp, &buf, s.maxWidth, s.quality); err != nil {
			return err
		}
		return os.WriteFile(tmp, buf.Bytes(), 0o644)
	})
	if err != nil {
		return Shot{}, fmt.Errorf("snapshot: %w", err)
	}

	// The file is complete; cancellation must not strip its tags.
	return Shot{Path: path, CapturedAt: at, Tags: s.identify(context.WithoutCancel(ctx), path)}, nil
}

func (s *Shooter) identify(ctx context.Context, path string) []string {
	if s.detector == nil || s.identifier == nil || s.identifier.Len() == 0 {
		return nil
	}
	faces, err := s.detector.Detect(ctx, path)
	if err != nil {
		logging.WarnWithContext(s.logger, "snapshot identification failed", "identify_failed",
			logging.String(logging.FieldArtifactPath, path),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check face.detector_command"),
			logging.String(logging.FieldImpact, "snapshot uploaded without identity tags"),
		)
		return nil
	}
	return s.identifier.IdentifyAll(faceid.Embeddings(faces))
}
