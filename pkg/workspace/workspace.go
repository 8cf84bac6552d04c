// Package workspace owns the on-disk layout of a run: lazily created
// directories, the persisted run timestamp used for resumption, the
// per-target completion stamps, and the clean/cleanall scopes.
package workspace

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/opnlabs/crossforge/pkg/config"
	"github.com/opnlabs/crossforge/pkg/models"
)

const (
	timestampFile  = ".timestamp"
	completedStamp = "stamp_completed"

	// StepStamp is the marker file name created inside a step's build
	// directory once that step has installed successfully.
	StepStamp = "stamp-install-completed"
)

// EnsureDirs creates the work, download, build, install and deploy trees.
func EnsureDirs(cfg *config.RunConfiguration) error {
	for _, dir := range []string{cfg.WorkDir, cfg.DownloadDir, cfg.BuildDir, cfg.InstallDir, cfg.DeployDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return nil
}

// Timestamp returns the run timestamp, reusing the one persisted under
// workDir if a previous run was interrupted. A fresh timestamp is written
// atomically so a crash never leaves a half-written file behind.
func Timestamp(workDir string) (string, error) {
	path := filepath.Join(workDir, timestampFile)
	if b, err := os.ReadFile(path); err == nil {
		if ts := strings.TrimSpace(string(b)); ts != "" {
			return ts, nil
		}
	}

	ts := time.Now().UTC().Format("20060102-1504")
	tmp, err := os.CreateTemp(workDir, ".timestamp-*")
	if err != nil {
		return "", err
	}
	if _, err := tmp.WriteString(ts + "\n"); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	return ts, nil
}

// StepMarker returns the completion marker path for one build step of one
// target.
func StepMarker(buildDir string, target models.TargetSpec, step string) string {
	return filepath.Join(buildDir, target.ID(), step, StepStamp)
}

// CompletedStamp returns the path of the stamp that records a target's
// distribution as fully published.
func CompletedStamp(deployDir string, target models.TargetSpec) string {
	return filepath.Join(deployDir, target.ID(), completedStamp)
}

// TargetCompleted reports whether a target's distribution was already
// published by an earlier run.
func TargetCompleted(deployDir string, target models.TargetSpec) bool {
	_, err := os.Stat(CompletedStamp(deployDir, target))
	return err == nil
}

// Clean removes the work and build trees but preserves the download cache
// and the deploy folder.
func Clean(cfg *config.RunConfiguration) error {
	return os.RemoveAll(cfg.WorkDir)
}

// CleanAll removes everything Clean removes plus the download cache and
// the deploy folder.
func CleanAll(cfg *config.RunConfiguration) error {
	if err := Clean(cfg); err != nil {
		return err
	}
	if err := os.RemoveAll(cfg.DownloadDir); err != nil {
		return err
	}
	return os.RemoveAll(cfg.DeployDir)
}
