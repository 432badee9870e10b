package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"memorycam/internal/config"
	"memorycam/internal/faceid"
)

// newDetector is replaced in tests.
var newDetector = func(cfg *config.Config) (faceid.Detector, error) {
	return faceid.NewCommandDetector(cfg.Face.DetectorCommand, time.Duration(cfg.Face.DetectorTimeout)*time.Second)
}

func newFacesCommand(ctx *commandContext) *cobra.Command {
	facesCmd := &cobra.Command{
		Use:   "faces",
		Short: "Manage enrolled identities",
	}

	facesCmd.AddCommand(newFacesListCommand(ctx))
	facesCmd.AddCommand(newFacesRemoveCommand(ctx))
	facesCmd.AddCommand(newFacesEnrollCommand(ctx))

	return facesCmd
}

type identityView struct {
	Name       string `json:"name"`
	Dimensions int    `json:"dimensions"`
}

func newFacesListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List enrolled identities",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			table, err := faceid.LoadTable(cfg.Paths.EnrollmentPath)
			if err != nil {
				return err
			}
			identities := table.Identities()
			views := make([]identityView, 0, len(identities))
			for _, identity := range identities {
				views = append(views, identityView{Name: identity.Name, Dimensions: len(identity.Embedding)})
			}
			if ctx.JSONMode() {
				return writeJSON(cmd, views)
			}

			out := cmd.OutOrStdout()
			if len(views) == 0 {
				fmt.Fprintf(out, "No identities enrolled in %s\n", cfg.Paths.EnrollmentPath)
				return nil
			}
			rows := make([][]string, 0, len(views))
			for i, v := range views {
				rows = append(rows, []string{strconv.Itoa(i + 1), v.Name, strconv.Itoa(v.Dimensions)})
			}
			fmt.Fprintln(out, renderTable([]column{
				{header: "#", right: true},
				{header: "Name"},
				{header: "Dims", right: true},
			}, rows))
			return nil
		},
	}
}

func newFacesRemoveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <name>",
		Short: "Remove an enrolled identity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			table, err := faceid.LoadTable(cfg.Paths.EnrollmentPath)
			if err != nil {
				return err
			}
			if !table.Remove(args[0]) {
				return fmt.Errorf("identity %q is not enrolled", args[0])
			}
			if err := table.Save(cfg.Paths.EnrollmentPath); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %s (%d remaining)\n", args[0], table.Len())
			return nil
		},
	}
}

func newFacesEnrollCommand(ctx *commandContext) *cobra.Command {
	var samplesPath string
	var images []string

	cmd := &cobra.Command{
		Use:   "enroll <name>",
		Short: "Enroll an identity from face embeddings or photos",
		Long: "Enroll averages several embeddings into one identity. Embeddings come from\n" +
			"--samples (a JSON array of float arrays) and from each --image, which is\n" +
			"run through face.detector_command and must contain exactly one face.\n" +
			"Enrolling an existing name replaces it.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if samplesPath == "" && len(images) == 0 {
				return errors.New("provide --samples or at least one --image")
			}

			var samples [][]float64
			if samplesPath != "" {
				loaded, err := readSamples(samplesPath)
				if err != nil {
					return err
				}
				samples = append(samples, loaded...)
			}
			if len(images) > 0 {
				detected, err := embedImages(cmd.Context(), cfg, images)
				if err != nil {
					return err
				}
				samples = append(samples, detected...)
			}

			table, err := faceid.LoadTable(cfg.Paths.EnrollmentPath)
			if err != nil {
				return err
			}
			if err := table.Enroll(args[0], samples); err != nil {
				return err
			}
			if err := table.Save(cfg.Paths.EnrollmentPath); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Enrolled %s from %d sample(s)\n", args[0], len(samples))
			return nil
		},
	}
	cmd.Flags().StringVar(&samplesPath, "samples", "", "JSON file holding an array of embeddings")
	cmd.Flags().StringArrayVar(&images, "image", nil, "Photo of the person (repeatable)")
	return cmd
}

func readSamples(path string) ([][]float64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read samples: %w", err)
	}
	var samples [][]float64
	if err := json.Unmarshal(data, &samples); err != nil {
		return nil, fmt.Errorf("parse samples %s: %w", path, err)
	}
	return samples, nil
}

func embedImages(ctx context.Context, cfg *config.Config, images []string) ([][]float64, error) {
	detector, err := newDetector(cfg)
	if err != nil {
		return nil, err
	}
	samples := make([][]float64, 0, len(images))
	for _, image := range images {
		faces, err := detector.Detect(ctx, image)
		if err != nil {
			return nil, fmt.Errorf("detect %s: %w", image, err)
		}
		if len(faces) != 1 {
			return nil, fmt.Errorf("%s: expected exactly one face, found %d", image, len(faces))
		}
		samples = append(samples, faces[0].Embedding)
	}
	return samples, nil
}
