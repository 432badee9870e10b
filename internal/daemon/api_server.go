package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"memorycam/internal/config"
	"memorycam/internal/logging"
	"memorycam/internal/queue"
)

// StatusResponse is the /api/status payload.
type StatusResponse struct {
	Running      bool                `json:"running"`
	PID          int                 `json:"pid"`
	Mode         string              `json:"mode"`
	QueueDBPath  string              `json:"queue_db_path"`
	LockFilePath string              `json:"lock_file_path"`
	Reachable    bool                `json:"reachable"`
	Delivered    int64               `json:"delivered"`
	Released     int64               `json:"released"`
	LastError    string              `json:"last_error,omitempty"`
	LastDelivery string              `json:"last_delivery,omitempty"`
	Queue        QueueSummary        `json:"queue"`
	Components   []ComponentResponse `json:"components"`
}

// QueueSummary is the queue section of the status payload.
type QueueSummary struct {
	Total          int            `json:"total"`
	Leased         int            `json:"leased"`
	Retrying       int            `json:"retrying"`
	ByKind         map[string]int `json:"by_kind"`
	OldestEnqueued string         `json:"oldest_enqueued,omitempty"`
}

// ComponentResponse describes one producer.
type ComponentResponse struct {
	Name      string `json:"name"`
	Running   bool   `json:"running"`
	Restarts  int    `json:"restarts"`
	LastError string `json:"last_error,omitempty"`
}

// JobResponse is one entry of /api/queue.
type JobResponse struct {
	ID          int64    `json:"id"`
	Kind        string   `json:"kind"`
	Path        string   `json:"path"`
	CapturedAt  string   `json:"captured_at"`
	Images      int      `json:"images,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Attempts    int      `json:"attempts"`
	LastError   string   `json:"last_error,omitempty"`
	Leased      bool     `json:"leased"`
	EnqueuedAt  string   `json:"enqueued_at"`
	WindowStart string   `json:"window_start,omitempty"`
	WindowEnd   string   `json:"window_end,omitempty"`
}

type apiServer struct {
	bind   string
	logger *slog.Logger
	daemon *Daemon

	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) (*apiServer, error) {
	if cfg == nil || d == nil {
		return nil, nil
	}
	bind := strings.TrimSpace(cfg.Metrics.Bind)
	if bind == "" {
		return nil, nil
	}

	srv := &apiServer{
		bind:   bind,
		logger: logger,
		daemon: d,
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", d.metrics.Handler())
	mux.HandleFunc("/api/status", srv.handleStatus)
	mux.HandleFunc("/api/queue", srv.handleQueue)

	srv.server = &http.Server{
		Handler:           authMiddleware(cfg.Metrics.Token, mux),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv, nil
}

func (s *apiServer) start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log().Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.log().Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	if s == nil {
		return
	}
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	status := s.daemon.Status(r.Context())
	payload := StatusResponse{
		Running:      status.Running,
		PID:          status.PID,
		Mode:         status.Mode,
		QueueDBPath:  status.QueueDBPath,
		LockFilePath: status.LockFilePath,
		Reachable:    status.Worker.Reachable,
		Delivered:    status.Worker.Delivered,
		Released:     status.Worker.Released,
		LastError:    status.Worker.LastError,
		LastDelivery: status.Worker.LastDelivery,
		Queue: QueueSummary{
			Total:    status.Queue.Total,
			Leased:   status.Queue.Leased,
			Retrying: status.Queue.Retrying,
			ByKind:   make(map[string]int, len(status.Queue.ByKind)),
		},
		Components: make([]ComponentResponse, 0, len(status.Components)),
	}
	for kind, count := range status.Queue.ByKind {
		payload.Queue.ByKind[string(kind)] = count
	}
	if !status.Queue.OldestEnqueued.IsZero() {
		payload.Queue.OldestEnqueued = status.Queue.OldestEnqueued.UTC().Format(time.RFC3339)
	}
	for _, c := range status.Components {
		payload.Components = append(payload.Components, ComponentResponse{
			Name:      c.Name,
			Running:   c.Running,
			Restarts:  c.Restarts,
			LastError: c.LastError,
		})
	}
	s.writeJSON(w, http.StatusOK, payload)
}

func (s *apiServer) handleQueue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	jobs, err := s.daemon.store.List(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if value := strings.TrimSpace(r.URL.Query().Get("limit")); value != "" {
		if limit, err := strconv.Atoi(value); err == nil && limit >= 0 && limit < len(jobs) {
			jobs = jobs[:limit]
		}
	}
	out := make([]JobResponse, 0, len(jobs))
	for _, job := range jobs {
		out = append(out, jobResponse(job))
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"jobs": out})
}

func jobResponse(job *queue.Job) JobResponse {
	resp := JobResponse{
		ID:         job.ID,
		Kind:       string(job.Kind),
		Path:       job.Artifact.Path,
		CapturedAt: job.Artifact.CapturedAt.UTC().Format(time.RFC3339Nano),
		Images:     len(job.Attachments),
		Tags:       job.Tags(),
		Attempts:   job.Attempts,
		LastError:  job.LastError,
		Leased:     job.Leased,
		EnqueuedAt: job.EnqueuedAt.UTC().Format(time.RFC3339Nano),
	}
	if job.Kind == queue.KindBatch {
		resp.WindowStart = job.WindowStart.UTC().Format(time.RFC3339Nano)
		resp.WindowEnd = job.WindowEnd.UTC().Format(time.RFC3339Nano)
	}
	return resp
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log().Error("failed to encode response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

func (s *apiServer) log() *slog.Logger {
	if s.logger != nil {
		return s.logger.With(logging.String(logging.FieldComponent, "api-server"))
	}
	return logging.NewNop()
}
