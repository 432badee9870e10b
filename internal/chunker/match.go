package chunker

import (
	"time"

	"memorycam/internal/queue"
)

// AudioChunk is a completed audio window. End is when recording actually
// stopped, which may differ slightly from the nominal chunk length.
type AudioChunk struct {
	Start time.Time
	End   time.Time
	Path  string
}

// ID names the chunk by its start time.
func (c AudioChunk) ID() string {
	return c.Start.Format("20060102_150405")
}

// ImageCapture is a buffered image waiting for its chunk.
type ImageCapture struct {
	Timestamp time.Time
	Path      string
	Tags      []string
}

// Matches reports whether the image falls inside the chunk, boundaries
// included.
func (i ImageCapture) Matches(chunk AudioChunk) bool {
	return !i.Timestamp.Before(chunk.Start) && !i.Timestamp.After(chunk.End)
}

func (i ImageCapture) artifact() queue.Artifact {
	return queue.Artifact{
		Path:       i.Path,
		Kind:       queue.KindImage,
		CapturedAt: i.Timestamp,
		Tags:       i.Tags,
	}
}

// Partition splits images into those matching chunk and those that are not.
// Relative order is kept in both.
func Partition(images []ImageCapture, chunk AudioChunk) (matched, rest []ImageCapture) {
	for _, image := range images {
		if image.Matches(chunk) {
			matched = append(matched, image)
		} else {
			rest = append(rest, image)
		}
	}
	return matched, rest
}
