package workflow

import (
	"time"

	"memorycam/internal/queue"
)

// Status is a snapshot of worker state.
type Status struct {
	Running      bool
	Reachable    bool
	LastError    string
	LastJob      *queue.Job
	LastDelivery string
	Delivered    int64
	Released     int64
}

// Status returns the latest worker information.
func (w *Worker) Status() Status {
	w.mu.RLock()
	defer w.mu.RUnlock()
	status := Status{
		Running:   w.running,
		Reachable: w.reachable,
		Delivered: w.delivered,
		Released:  w.released,
	}
	if w.lastErr != nil {
		status.LastError = w.lastErr.Error()
	}
	if w.lastJob != nil {
		copy := *w.lastJob
		status.LastJob = &copy
	}
	if !w.lastSent.IsZero() {
		status.LastDelivery = w.lastSent.UTC().Format(time.RFC3339)
	}
	return status
}

func (w *Worker) setLastError(err error) {
	w.mu.Lock()
	w.lastErr = err
	w.mu.Unlock()
}

func (w *Worker) setLastJob(job *queue.Job) {
	w.mu.Lock()
	if job != nil {
		copy := *job
		w.lastJob = &copy
	} else {
		w.lastJob = nil
	}
	w.mu.Unlock()
}

func (w *Worker) recordDelivered() {
	w.mu.Lock()
	w.delivered++
	w.lastSent = w.now()
	w.mu.Unlock()
}

func (w *Worker) recordReleased() {
	w.mu.Lock()
	w.released++
	w.mu.Unlock()
}
