package chunker

import (
	"sync"
	"time"
)

// Buffer holds captured images until a chunk claims them.
type Buffer struct {
	mu     sync.Mutex
	images []ImageCapture
}

// Add appends an image.
func (b *Buffer) Add(image ImageCapture) {
	b.mu.Lock()
	b.images = append(b.images, image)
	b.mu.Unlock()
}

// TakeThrough removes and returns every image captured at or before end.
// Selection and removal happen under one lock so an image added
// concurrently is either taken or kept, never both or neither.
func (b *Buffer) TakeThrough(end time.Time) []ImageCapture {
	b.mu.Lock()
	defer b.mu.Unlock()
	var taken, kept []ImageCapture
	for _, image := range b.images {
		if image.Timestamp.After(end) {
			kept = append(kept, image)
		} else {
			taken = append(taken, image)
		}
	}
	b.images = kept
	return taken
}

// Drain removes and returns everything.
func (b *Buffer) Drain() []ImageCapture {
	b.mu.Lock()
	defer b.mu.Unlock()
	images := b.images
	b.images = nil
	return images
}

// Len returns the number of buffered images.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.images)
}
