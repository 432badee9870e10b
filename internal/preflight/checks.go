package preflight

import (
	"context"
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"memorycam/internal/config"
	"memorycam/internal/deps"
	"memorycam/internal/faceid"
)

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckFreeSpace compares the free space under path with minMB. A zero floor
// only reports the figure.
func CheckFreeSpace(name, path string, minMB int) Result {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: statfs: %v)", path, err)}
	}
	freeMB := stat.Bavail * uint64(stat.Bsize) / (1024 * 1024)
	if minMB > 0 && freeMB < uint64(minMB) {
		return Result{Name: name, Detail: fmt.Sprintf("%d MB free, below the %d MB floor", freeMB, minMB)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%d MB free", freeMB)}
}

// CheckEnrollment verifies the identity table parses and reports its size.
// A missing table passes; snapshots are then uploaded untagged.
func CheckEnrollment(path string) Result {
	const name = "Enrolled identities"
	table, err := faceid.LoadTable(path)
	if err != nil {
		return Result{Name: name, Detail: err.Error()}
	}
	if table.Len() == 0 {
		return Result{Name: name, Passed: true, Detail: "none enrolled"}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%d enrolled", table.Len())}
}

// CheckSystemDeps evaluates the capture tools the enabled producers need.
// Both the daemon and the CLI check command use this.
func CheckSystemDeps(_ context.Context, cfg *config.Config) []deps.Status {
	if cfg == nil {
		return nil
	}
	var requirements []deps.Requirement
	if cfg.Camera.Enabled {
		requirements = append(requirements, deps.Requirement{
			Name:        "Camera",
			Command:     firstArg(cfg.Camera.Command),
			Description: "Still capture (camera.command)",
		})
	}
	if cfg.Audio.Enabled {
		requirements = append(requirements, deps.Requirement{
			Name:        "Microphone",
			Command:     firstArg(cfg.Audio.Command),
			Description: "PCM recording (audio.command)",
		})
	}
	if cfg.Face.Enabled {
		requirements = append(requirements, deps.Requirement{
			Name:        "Face detector",
			Command:     firstArg(cfg.Face.DetectorCommand),
			Description: "Embeddings for identification (face.detector_command)",
			Optional:    true,
		})
	}
	return deps.CheckBinaries(requirements)
}

func firstArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}
