package audio

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"memorycam/internal/artifact"
)

var (
	// ErrAlreadyRecording is returned by StartRecording while a clip is open.
	ErrAlreadyRecording = errors.New("already recording")
	// ErrNotRecording is returned by StopRecording when idle.
	ErrNotRecording = errors.New("not recording")
	// ErrStreamEnded reports that the device stopped delivering frames
	// before the clip was stopped.
	ErrStreamEnded = errors.New("audio stream ended unexpectedly")
)

const (
	bitDepth    = 16
	readBufSize = 4096
)

// State is the recorder state.
type State int

const (
	Idle State = iota
	Recording
)

func (s State) String() string {
	if s == Recording {
		return "recording"
	}
	return "idle"
}

// Clip is one finished recording.
type Clip struct {
	Path   string
	Start  time.Time
	End    time.Time
	Frames int
	// DeviceErr is set when the device failed mid-clip. Path still holds
	// everything captured before the failure.
	DeviceErr error
}

// Duration is the wall-clock span of the clip.
func (c Clip) Duration() time.Duration {
	return c.End.Sub(c.Start)
}

// Recorder captures one clip at a time.
type Recorder struct {
	source Source
	format Format
	store  *artifact.Store
	now    func() time.Time

	mu      sync.Mutex
	state   State
	stream  Stream
	done    chan struct{}
	samples []int16
	stopped bool
	readErr error
	start   time.Time
}

// NewRecorder returns an idle recorder writing clips into store.
func NewRecorder(source Source, store *artifact.Store) *Recorder {
	format := source.Format()
	if format.Channels <= 0 {
		format.Channels = 1
	}
	return &Recorder{
		source: source,
		format: format,
		store:  store,
		now:    time.Now,
	}
}

// State reports whether a clip is open.
func (r *Recorder) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Done is closed when the current stream stops delivering frames, either
// after StopRecording or because the device went away. It is nil while idle.
func (r *Recorder) Done() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.done
}

// StartRecording opens the device and begins buffering frames. The stream
// outlives ctx; only StopRecording ends it.
func (r *Recorder) StartRecording(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == Recording {
		return ErrAlreadyRecording
	}
	stream, err := r.source.Open(context.WithoutCancel(ctx))
	if err != nil {
		return err
	}
	r.state = Recording
	r.stream = stream
	r.done = make(chan struct{})
	r.samples = nil
	r.stopped = false
	r.readErr = nil
	r.start = r.now()
	go r.read(stream, r.done)
	return nil
}

// StopRecording interrupts the device, waits for the final buffered frame,
// and writes the clip. The recorder is idle afterwards even when the write
// fails.
func (r *Recorder) StopRecording() (Clip, error) {
	r.mu.Lock()
	if r.state != Recording {
		r.mu.Unlock()
		return Clip{}, ErrNotRecording
	}
	end := r.now()
	r.stopped = true
	stream, done := r.stream, r.done
	r.mu.Unlock()

	_ = stream.Interrupt()
	<-done

	r.mu.Lock()
	samples := r.samples
	clip := Clip{
		Start:     r.start,
		End:       end,
		Frames:    len(samples) / r.format.Channels,
		DeviceErr: r.readErr,
	}
	r.state = Idle
	r.stream = nil
	r.samples = nil
	r.mu.Unlock()

	path, err := r.store.WriteFile("audio", "wav", clip.Start, func(tmpPath string) error {
		return writeWAV(tmpPath, r.format, samples)
	})
	if err != nil {
		return clip, fmt.Errorf("write clip: %w", err)
	}
	clip.Path = path
	return clip, nil
}

func (r *Recorder) read(stream Stream, done chan struct{}) {
	defer close(done)
	defer func() { _ = stream.Close() }()

	buf := make([]byte, readBufSize)
	var carry []byte
	for {
		n, err := stream.Read(buf)
		if n > 0 {
			data := append(carry, buf[:n]...)
			whole := len(data) &^ 1
			decoded := decodeS16LE(data[:whole])
			carry = append([]byte(nil), data[whole:]...)
			r.mu.Lock()
			r.samples = append(r.samples, decoded...)
			r.mu.Unlock()
		}
		if err != nil {
			r.mu.Lock()
			if !r.stopped {
				if errors.Is(err, io.EOF) {
					r.readErr = ErrStreamEnded
				} else {
					r.readErr = err
				}
			}
			r.mu.Unlock()
			return
		}
	}
}

func decodeS16LE(data []byte) []int16 {
	out := make([]int16, len(data)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return out
}

// wavBlockFrames bounds the int conversion buffer used while encoding.
const wavBlockFrames = 8192

// writeWAV encodes samples as 16-bit PCM. An empty clip still yields a valid
// header-only file. Samples are widened to int one block at a time so the
// clip is only held once at two bytes per sample.
func writeWAV(path string, format Format, samples []int16) error {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create wav: %w", err)
	}
	// Drop a trailing partial frame.
	samples = samples[:len(samples)-len(samples)%format.Channels]

	enc := wav.NewEncoder(file, format.SampleRate, bitDepth, format.Channels, 1)
	block := wavBlockFrames * format.Channels
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: format.Channels, SampleRate: format.SampleRate},
		Data:           make([]int, 0, min(block, len(samples))),
		SourceBitDepth: bitDepth,
	}
	for start := 0; start == 0 || start < len(samples); start += block {
		end := min(start+block, len(samples))
		buf.Data = buf.Data[:0]
		for _, sample := range samples[start:end] {
			buf.Data = append(buf.Data, int(sample))
		}
		if err := enc.Write(buf); err != nil {
			_ = file.Close()
			return fmt.Errorf("encode wav: %w", err)
		}
	}
	if err := enc.Close(); err != nil {
		_ = file.Close()
		return fmt.Errorf("finalize wav: %w", err)
	}
	return file.Close()
}
