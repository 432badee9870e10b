package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"memorycam/internal/queue"
)

const (
	defaultHTTPTimeout = 10 * time.Second
	maxErrorBody       = 4096
)

// ErrMissingArtifact means the job's primary file is no longer on disk.
var ErrMissingArtifact = errors.New("artifact missing from staging")

// StatusError is returned for any non-2xx response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("upload rejected: http %d", e.StatusCode)
	}
	return fmt.Sprintf("upload rejected: http %d: %s", e.StatusCode, e.Body)
}

// Result describes a delivered job.
type Result struct {
	StatusCode int
	Bytes      int64
	// Skipped lists batch images that were already gone from disk.
	Skipped []string
}

// Client posts artifacts to the backend.
type Client struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
	minRate    int64
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithMinThroughput gives each upload extra time for its body at
// bytesPerSecond. Zero keeps the flat timeout.
func WithMinThroughput(bytesPerSecond int64) Option {
	return func(c *Client) {
		if bytesPerSecond > 0 {
			c.minRate = bytesPerSecond
		}
	}
}

// NewClient builds a client for baseURL. Every request gets timeout; uploads
// also get time for their body when WithMinThroughput is set.
func NewClient(baseURL string, timeout time.Duration, opts ...Option) *Client {
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	client := &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		httpClient: &http.Client{},
		timeout:    timeout,
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// Endpoint returns the URL a job kind is posted to.
func (c *Client) Endpoint(kind queue.Kind) (string, error) {
	return url.JoinPath(c.baseURL, "upload", string(kind))
}

// RequestTimeout is the budget for a request carrying size body bytes.
func (c *Client) RequestTimeout(size int64) time.Duration {
	if c.minRate <= 0 || size <= 0 {
		return c.timeout
	}
	return c.timeout + time.Duration(size)*time.Second/time.Duration(c.minRate)
}

// Health asks the backend's /health endpoint for a 2xx.
func (c *Client) Health(ctx context.Context) error {
	endpoint, err := url.JoinPath(c.baseURL, "health")
	if err != nil {
		return fmt.Errorf("health: build url: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("health: new request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health: %w", err)
	}
	return checkStatus(resp)
}

// Upload delivers job. A missing primary file yields ErrMissingArtifact
// without contacting the backend.
func (c *Client) Upload(ctx context.Context, job *queue.Job) (Result, error) {
	var result Result
	if job == nil {
		return result, errors.New("upload: nil job")
	}
	info, err := os.Stat(job.Artifact.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return result, fmt.Errorf("%w: %s", ErrMissingArtifact, job.Artifact.Path)
		}
		return result, fmt.Errorf("upload: stat artifact: %w", err)
	}

	form, skipped, err := buildForm(job, info.Size())
	if err != nil {
		return result, err
	}
	result.Skipped = skipped

	endpoint, err := c.Endpoint(job.Kind)
	if err != nil {
		return result, fmt.Errorf("upload: build url: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.RequestTimeout(form.size()))
	defer cancel()
	body, contentType, counter := streamForm(form)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		_ = body.Close()
		return result, fmt.Errorf("upload: new request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return result, fmt.Errorf("upload: %w", err)
	}
	result.StatusCode = resp.StatusCode
	result.Bytes = counter.n.Load()
	if err := checkStatus(resp); err != nil {
		return result, err
	}
	return result, nil
}

func checkStatus(resp *http.Response) error {
	defer resp.Body.Close()
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
}

type filePart struct {
	field       string
	path        string
	contentType string
	size        int64
}

type form struct {
	fields [][2]string
	files  []filePart
}

func (f form) size() int64 {
	var total int64
	for _, part := range f.files {
		total += part.size
	}
	return total
}

func contentTypeFor(kind queue.Kind) string {
	if kind == queue.KindImage {
		return "image/jpeg"
	}
	return "audio/wav"
}

func formatTime(t time.Time) string {
	return t.Format(time.RFC3339Nano)
}

func buildForm(job *queue.Job, primarySize int64) (form, []string, error) {
	var f form
	var skipped []string
	primary := filePart{
		field:       string(job.Artifact.Kind),
		path:        job.Artifact.Path,
		contentType: contentTypeFor(job.Artifact.Kind),
		size:        primarySize,
	}
	f.files = append(f.files, primary)

	switch job.Kind {
	case queue.KindImage, queue.KindAudio:
		f.fields = append(f.fields, [2]string{"captured_at", formatTime(job.Artifact.CapturedAt)})
	case queue.KindBatch:
		f.fields = append(f.fields,
			[2]string{"chunk_start", formatTime(job.WindowStart)},
			[2]string{"chunk_end", formatTime(job.WindowEnd)},
		)
		stamps := make([]string, 0, len(job.Attachments))
		for _, image := range job.Attachments {
			imageInfo, err := os.Stat(image.Path)
			if err != nil {
				skipped = append(skipped, image.Path)
				continue
			}
			f.files = append(f.files, filePart{field: "image", path: image.Path, contentType: contentTypeFor(queue.KindImage), size: imageInfo.Size()})
			stamps = append(stamps, formatTime(image.CapturedAt))
		}
		f.fields = append(f.fields, [2]string{"image_timestamps", strings.Join(stamps, ",")})
	default:
		return f, nil, fmt.Errorf("upload: unknown job kind %q", job.Kind)
	}
	if tags := job.Tags(); len(tags) > 0 {
		f.fields = append(f.fields, [2]string{"detected_persons", strings.Join(tags, ",")})
	}
	return f, skipped, nil
}

type countingWriter struct {
	w io.Writer
	n atomic.Int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n.Add(int64(n))
	return n, err
}

// streamForm encodes f through a pipe so file bodies are never held in
// memory.
func streamForm(f form) (io.ReadCloser, string, *countingWriter) {
	reader, writer := io.Pipe()
	counter := &countingWriter{w: writer}
	mw := multipart.NewWriter(counter)
	go func() {
		writer.CloseWithError(writeForm(mw, f))
	}()
	return reader, mw.FormDataContentType(), counter
}

func writeForm(mw *multipart.Writer, f form) error {
	for _, field := range f.fields {
		if err := mw.WriteField(field[0], field[1]); err != nil {
			return err
		}
	}
	for _, part := range f.files {
		if err := writeFile(mw, part); err != nil {
			return err
		}
	}
	return mw.Close()
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func writeFile(mw *multipart.Writer, part filePart) error {
	file, err := os.Open(part.path)
	if err != nil {
		return fmt.Errorf("open %s: %w", part.path, err)
	}
	defer file.Close()

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
		quoteEscaper.Replace(part.field), quoteEscaper.Replace(filepath.Base(part.path))))
	header.Set("Content-Type", part.contentType)
	w, err := mw.CreatePart(header)
	if err != nil {
		return err
	}
	_, err = io.Copy(w, file)
	return err
}
