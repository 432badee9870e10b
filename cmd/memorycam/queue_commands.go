package main

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"memorycam/internal/artifact"
	"memorycam/internal/config"
	"memorycam/internal/queue"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and maintain the upload queue",
	}

	queueCmd.AddCommand(newQueueStatusCommand(ctx))
	queueCmd.AddCommand(newQueueListCommand(ctx))
	queueCmd.AddCommand(newQueueClearCommand(ctx))
	queueCmd.AddCommand(newQueueHealthCommand(ctx))

	return queueCmd
}

type queueStatusView struct {
	Total          int            `json:"total"`
	Leased         int            `json:"leased"`
	Retrying       int            `json:"retrying"`
	ByKind         map[string]int `json:"by_kind"`
	OldestEnqueued string         `json:"oldest_enqueued,omitempty"`
}

func newQueueStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show pending job counts by kind",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(_ *config.Config, store *queue.Store) error {
				summary, err := store.Stats(cmd.Context())
				if err != nil {
					return err
				}
				view := queueStatusView{
					Total:    summary.Total,
					Leased:   summary.Leased,
					Retrying: summary.Retrying,
					ByKind:   make(map[string]int, len(summary.ByKind)),
				}
				for kind, count := range summary.ByKind {
					view.ByKind[string(kind)] = count
				}
				if !summary.OldestEnqueued.IsZero() {
					view.OldestEnqueued = summary.OldestEnqueued.Local().Format(time.RFC3339)
				}
				if ctx.JSONMode() {
					return writeJSON(cmd, view)
				}

				out := cmd.OutOrStdout()
				if view.Total == 0 {
					fmt.Fprintln(out, "Queue is empty")
					return nil
				}
				kinds := make([]string, 0, len(view.ByKind))
				for kind := range view.ByKind {
					kinds = append(kinds, kind)
				}
				sort.Strings(kinds)
				rows := make([][]string, 0, len(kinds)+1)
				for _, kind := range kinds {
					rows = append(rows, []string{kind, strconv.Itoa(view.ByKind[kind])})
				}
				rows = append(rows, []string{"total", strconv.Itoa(view.Total)})
				fmt.Fprintln(out, renderTable([]column{{header: "Kind"}, {header: "Pending", right: true}}, rows))
				fmt.Fprintf(out, "In flight: %d  Retrying: %d\n", view.Leased, view.Retrying)
				if view.OldestEnqueued != "" {
					fmt.Fprintf(out, "Oldest: %s\n", view.OldestEnqueued)
				}
				return nil
			})
		},
	}
}

type queueJobView struct {
	ID         int64    `json:"id"`
	Kind       string   `json:"kind"`
	Path       string   `json:"path"`
	CapturedAt string   `json:"captured_at"`
	Images     int      `json:"images"`
	Tags       []string `json:"tags,omitempty"`
	Attempts   int      `json:"attempts"`
	LastError  string   `json:"last_error,omitempty"`
	Leased     bool     `json:"leased"`
}

func newQueueListCommand(ctx *commandContext) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List pending jobs in delivery order",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(_ *config.Config, store *queue.Store) error {
				jobs, err := store.List(cmd.Context())
				if err != nil {
					return err
				}
				if limit > 0 && limit < len(jobs) {
					jobs = jobs[:limit]
				}
				views := make([]queueJobView, 0, len(jobs))
				for _, job := range jobs {
					views = append(views, queueJobView{
						ID:         job.ID,
						Kind:       string(job.Kind),
						Path:       job.Artifact.Path,
						CapturedAt: job.Artifact.CapturedAt.Local().Format(time.RFC3339),
						Images:     len(job.Attachments),
						Tags:       job.Tags(),
						Attempts:   job.Attempts,
						LastError:  job.LastError,
						Leased:     job.Leased,
					})
				}
				if ctx.JSONMode() {
					return writeJSON(cmd, views)
				}

				out := cmd.OutOrStdout()
				if len(views) == 0 {
					fmt.Fprintln(out, "Queue is empty")
					return nil
				}
				rows := make([][]string, 0, len(views))
				for _, v := range views {
					state := "pending"
					if v.Leased {
						state = "uploading"
					}
					rows = append(rows, []string{
						strconv.FormatInt(v.ID, 10),
						v.Kind,
						v.CapturedAt,
						filepath.Base(v.Path),
						strconv.Itoa(v.Images),
						strings.Join(v.Tags, ","),
						strconv.Itoa(v.Attempts),
						state,
						v.LastError,
					})
				}
				fmt.Fprintln(out, renderTable([]column{
					{header: "ID", right: true},
					{header: "Kind"},
					{header: "Captured"},
					{header: "File"},
					{header: "Images", right: true},
					{header: "Tags"},
					{header: "Attempts", right: true},
					{header: "State"},
					{header: "Last Error", maxWidth: 40},
				}, rows))
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Show at most this many jobs")
	return cmd
}

func newQueueClearCommand(ctx *commandContext) *cobra.Command {
	var purge bool
	var yes bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every pending job",
		Long: "Clear removes every job from the queue. Staged files are kept unless\n" +
			"--purge is given. Undelivered artifacts are lost either way.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("refusing to clear the queue without --yes")
			}
			return ctx.withStore(func(_ *config.Config, store *queue.Store) error {
				var paths []string
				if purge {
					jobs, err := store.List(cmd.Context())
					if err != nil {
						return err
					}
					for _, job := range jobs {
						paths = append(paths, job.Paths()...)
					}
				}
				removed, err := store.Clear(cmd.Context())
				if err != nil {
					return err
				}
				deleted, failed := purgeFiles(cmd.Context(), paths)
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Cleared %d job(s)\n", removed)
				if purge {
					fmt.Fprintf(out, "Deleted %d staged file(s)\n", deleted)
					for _, failure := range failed {
						fmt.Fprintf(cmd.ErrOrStderr(), "warn: %s\n", failure)
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&purge, "purge", false, "Also delete the staged files the jobs referenced")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Confirm the destructive operation")
	return cmd
}

func purgeFiles(ctx context.Context, paths []string) (int, []string) {
	deleted := 0
	var failed []string
	for _, path := range paths {
		if ctx.Err() != nil {
			break
		}
		existed := artifact.Exists(path)
		if err := artifact.Remove(path); err != nil {
			failed = append(failed, fmt.Sprintf("%s: %v", path, err))
			continue
		}
		if existed {
			deleted++
		}
	}
	return deleted, failed
}

func newQueueHealthCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check queue database health (schema, integrity)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(_ *config.Config, store *queue.Store) error {
				health, err := store.CheckHealth(cmd.Context())
				if ctx.JSONMode() {
					if encErr := writeJSON(cmd, health); encErr != nil {
						return encErr
					}
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Database path: %s\n", health.DBPath)
				fmt.Fprintf(out, "Database exists: %s\n", yesNo(health.DatabaseExists))
				fmt.Fprintf(out, "Readable: %s\n", yesNo(health.DatabaseReadable))
				fmt.Fprintf(out, "Schema version: %d\n", health.SchemaVersion)
				fmt.Fprintf(out, "Jobs: %d\n", health.TotalJobs)
				fmt.Fprintf(out, "Integrity check: %s\n", passFail(health.IntegrityCheck))
				if health.Error != "" {
					fmt.Fprintf(out, "Error: %s\n", health.Error)
				}
				return err
			})
		},
	}
}

func passFail(ok bool) string {
	if ok {
		return "ok"
	}
	return "failed"
}
