package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"memorycam/internal/config"
	"memorycam/internal/deps"
	"memorycam/internal/netcheck"
	"memorycam/internal/preflight"
	"memorycam/internal/queue"
	"memorycam/internal/upload"
)

type checkView struct {
	CheckURL      string `json:"check_url"`
	Reachable     bool   `json:"reachable"`
	CheckError    string `json:"check_error,omitempty"`
	UploadURL     string `json:"upload_url"`
	BackendOK     bool   `json:"backend_ok"`
	BackendError  string `json:"backend_error,omitempty"`
	PendingUpload int    `json:"pending_upload"`

	Preflight    []preflight.Result `json:"preflight"`
	Dependencies []deps.Status      `json:"dependencies"`
}

func newCheckCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Probe network reachability and the upload backend once",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			view := checkView{CheckURL: cfg.Network.CheckURL, UploadURL: cfg.Upload.BaseURL}

			checker := netcheck.New(cfg.Network.CheckURL, cfg.CheckTimeout())
			if err := checker.Check(cmd.Context()); err != nil {
				view.CheckError = err.Error()
			} else {
				view.Reachable = true
			}

			client := upload.NewClient(cfg.Upload.BaseURL, cfg.UploadTimeout())
			if err := client.Health(cmd.Context()); err != nil {
				view.BackendError = err.Error()
			} else {
				view.BackendOK = true
			}

			if err := ctx.withStore(func(_ *config.Config, store *queue.Store) error {
				n, err := store.Size(cmd.Context())
				view.PendingUpload = n
				return err
			}); err != nil {
				return err
			}

			view.Preflight = preflight.RunAll(cmd.Context(), cfg)
			view.Dependencies = preflight.CheckSystemDeps(cmd.Context(), cfg)

			if ctx.JSONMode() {
				return writeJSON(cmd, view)
			}
			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			fmt.Fprintln(out, renderCheckLine("Network", view.Reachable, view.CheckURL, view.CheckError, colorize))
			fmt.Fprintln(out, renderCheckLine("Upload backend", view.BackendOK, view.UploadURL, view.BackendError, colorize))
			kind := statusInfo
			if view.PendingUpload > 0 && !view.Reachable {
				kind = statusWarn
			}
			fmt.Fprintln(out, renderStatusLine("Queue", kind, fmt.Sprintf("%d pending", view.PendingUpload), colorize))
			for _, result := range view.Preflight {
				fmt.Fprintln(out, renderCheckLine(result.Name, result.Passed, result.Detail, "", colorize))
			}
			for _, dep := range view.Dependencies {
				switch {
				case dep.Available:
					fmt.Fprintln(out, renderStatusLine(dep.Name, statusOK, dep.Resolved, colorize))
				case dep.Optional:
					fmt.Fprintln(out, renderStatusLine(dep.Name, statusWarn, dep.Detail, colorize))
				default:
					fmt.Fprintln(out, renderStatusLine(dep.Name, statusError, dep.Detail, colorize))
				}
			}
			return nil
		},
	}
}

func renderCheckLine(label string, ok bool, target, errText string, colorize bool) string {
	if ok {
		return renderStatusLine(label, statusOK, target, colorize)
	}
	if errText != "" {
		target = fmt.Sprintf("%s (%s)", target, errText)
	}
	return renderStatusLine(label, statusError, target, colorize)
}
