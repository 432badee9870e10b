package queue

import (
	"errors"
	"fmt"
	"time"
)

// Kind identifies what a job uploads.
type Kind string

const (
	KindImage Kind = "image"
	KindAudio Kind = "audio"
	// KindBatch is an audio chunk plus the images captured inside its window.
	KindBatch Kind = "batch"
)

// Valid reports whether k is a known job kind.
func (k Kind) Valid() bool {
	switch k {
	case KindImage, KindAudio, KindBatch:
		return true
	}
	return false
}

// Artifact is one staged file awaiting upload.
type Artifact struct {
	Path       string
	Kind       Kind
	CapturedAt time.Time
	Tags       []string
}

// Job is the persisted unit of upload work.
type Job struct {
	ID          int64
	Kind        Kind
	Artifact    Artifact
	Attachments []Artifact
	WindowStart time.Time
	WindowEnd   time.Time
	EnqueuedAt  time.Time
	Attempts    int
	LastError   string
	Leased      bool
}

// NewImageJob builds an unsaved job for a single image.
func NewImageJob(path string, capturedAt time.Time, tags []string) *Job {
	return &Job{
		Kind:     KindImage,
		Artifact: Artifact{Path: path, Kind: KindImage, CapturedAt: capturedAt, Tags: tags},
	}
}

// NewAudioJob builds an unsaved job for a single audio clip.
func NewAudioJob(path string, capturedAt time.Time) *Job {
	return &Job{
		Kind:     KindAudio,
		Artifact: Artifact{Path: path, Kind: KindAudio, CapturedAt: capturedAt},
	}
}

// NewBatchJob builds an unsaved job pairing an audio chunk with its images.
func NewBatchJob(audioPath string, start, end time.Time, images []Artifact) *Job {
	return &Job{
		Kind:        KindBatch,
		Artifact:    Artifact{Path: audioPath, Kind: KindAudio, CapturedAt: start},
		Attachments: images,
		WindowStart: start,
		WindowEnd:   end,
	}
}

// Paths lists every staged file the job owns, primary artifact first.
func (j *Job) Paths() []string {
	paths := make([]string, 0, 1+len(j.Attachments))
	paths = append(paths, j.Artifact.Path)
	for _, a := range j.Attachments {
		paths = append(paths, a.Path)
	}
	return paths
}

// Tags returns the distinct identity tags across the job in first-seen order.
func (j *Job) Tags() []string {
	var out []string
	seen := make(map[string]struct{})
	add := func(tags []string) {
		for _, tag := range tags {
			if _, ok := seen[tag]; ok {
				continue
			}
			seen[tag] = struct{}{}
			out = append(out, tag)
		}
	}
	add(j.Artifact.Tags)
	for _, a := range j.Attachments {
		add(a.Tags)
	}
	return out
}

func (j *Job) validate() error {
	if j == nil {
		return errors.New("job is nil")
	}
	if !j.Kind.Valid() {
		return fmt.Errorf("unknown job kind %q", j.Kind)
	}
	if j.Artifact.Path == "" {
		return fmt.Errorf("%s job has no artifact path", j.Kind)
	}
	switch j.Kind {
	case KindImage, KindAudio:
		if len(j.Attachments) > 0 {
			return fmt.Errorf("%s job cannot carry attachments", j.Kind)
		}
	case KindBatch:
		if j.Artifact.Kind != KindAudio {
			return errors.New("batch job primary artifact must be audio")
		}
		if j.WindowEnd.Before(j.WindowStart) {
			return errors.New("batch window ends before it starts")
		}
		for _, a := range j.Attachments {
			if a.Path == "" {
				return errors.New("batch attachment has no path")
			}
		}
	}
	return nil
}

// Summary aggregates queue state for status output and metrics.
type Summary struct {
	Total          int
	Leased         int
	Retrying       int
	ByKind         map[Kind]int
	OldestEnqueued time.Time
}

// DatabaseHealth captures diagnostic information about the queue database.
type DatabaseHealth struct {
	DBPath           string
	DatabaseExists   bool
	DatabaseReadable bool
	SchemaVersion    int
	TotalJobs        int
	IntegrityCheck   bool
	Error            string
}
