// Package config resolves the immutable per-run configuration from three
// sources with fixed precedence: CLI flags over environment variables over
// built-in defaults. Resolution is pure; directories are created later by
// the workspace, never here.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/opnlabs/crossforge/pkg/models"
)

var (
	ErrInvalidJobs = errors.New("config: jobs must be a positive integer")
	ErrNoTargets   = errors.New("config: no targets requested")
)

// Environment variable names recognized as a lower-precedence source for
// the matching option.
const (
	EnvWorkDir        = "CROSSFORGE_WORK_DIR"
	EnvDownloadDir    = "CROSSFORGE_DOWNLOAD_DIR"
	EnvDeployDir      = "CROSSFORGE_DEPLOY_DIR"
	EnvJobs           = "CROSSFORGE_JOBS"
	EnvReleaseVersion = "CROSSFORGE_RELEASE_VERSION"
	EnvWithoutDocs    = "CROSSFORGE_WITHOUT_DOCS"
	EnvDisableStrip   = "CROSSFORGE_DISABLE_STRIP"
	EnvDisableMulti   = "CROSSFORGE_DISABLE_MULTILIB"
	EnvDevelop        = "CROSSFORGE_DEVELOP"
)

// AllTargets is the full build matrix, in platform priority order.
var AllTargets = []string{"native", "linux64", "linux32", "win64", "win32", "macos64"}

// RunConfiguration is built once per invocation and never mutated
// afterwards; every component reads it by reference.
type RunConfiguration struct {
	AppName        string
	ReleaseVersion string
	BuildTimestamp string

	Targets []models.TargetSpec

	WorkDir     string
	DownloadDir string
	BuildDir    string
	InstallDir  string
	DeployDir   string

	ManifestPath string

	Jobs      int
	SkipDocs  bool
	SkipStrip bool
	Multilib  bool
	Develop   bool
}

// Flags carries the CLI flag values into Resolve. Zero values mean the
// flag was not given, except booleans which only ever force an option on.
// JobsSet distinguishes an explicit `--jobs 0` from an absent flag, since
// zero is both the int zero value and an invalid request.
type Flags struct {
	Targets        []string
	All            bool
	Jobs           int
	JobsSet        bool
	WorkDir        string
	DownloadDir    string
	DeployDir      string
	ReleaseVersion string
	ManifestPath   string
	WithoutDocs    bool
	DisableStrip   bool
	DisableMulti   bool
	Develop        bool
}

// Defaults returns the built-in configuration baseline, rooted at dir.
func Defaults(dir string) RunConfiguration {
	return RunConfiguration{
		AppName:        "crossforge",
		ReleaseVersion: "dev",
		ManifestPath:   "crossforge.yml",
		WorkDir:        filepath.Join(dir, "work"),
		DownloadDir:    filepath.Join(dir, "downloads"),
		DeployDir:      filepath.Join(dir, "deploy"),
		Jobs:           2,
		Multilib:       true,
	}
}

// ResolveDirs applies only the directory and version precedence rules,
// enough for the clean commands which never touch targets or jobs.
func ResolveDirs(defaults RunConfiguration, environ map[string]string, flags Flags) *RunConfiguration {
	cfg := defaults

	if v, ok := environ[EnvWorkDir]; ok && v != "" {
		cfg.WorkDir = v
	}
	if v, ok := environ[EnvDownloadDir]; ok && v != "" {
		cfg.DownloadDir = v
	}
	if v, ok := environ[EnvDeployDir]; ok && v != "" {
		cfg.DeployDir = v
	}
	if v, ok := environ[EnvReleaseVersion]; ok && v != "" {
		cfg.ReleaseVersion = v
	}
	if flags.WorkDir != "" {
		cfg.WorkDir = flags.WorkDir
	}
	if flags.DownloadDir != "" {
		cfg.DownloadDir = flags.DownloadDir
	}
	if flags.DeployDir != "" {
		cfg.DeployDir = flags.DeployDir
	}
	if flags.ReleaseVersion != "" {
		cfg.ReleaseVersion = flags.ReleaseVersion
	}

	cfg.BuildDir = filepath.Join(cfg.WorkDir, "build")
	cfg.InstallDir = filepath.Join(cfg.WorkDir, "install")
	return &cfg
}

// Resolve merges defaults, environment overrides and CLI flags into one
// RunConfiguration. Precedence: flags > environ > defaults.
func Resolve(defaults RunConfiguration, environ map[string]string, flags Flags) (*RunConfiguration, error) {
	cfg := *ResolveDirs(defaults, environ, flags)
	if v, ok := environ[EnvJobs]; ok && v != "" {
		jobs, err := strconv.Atoi(v)
		if err != nil || jobs <= 0 {
			return nil, fmt.Errorf("%w: %s=%q", ErrInvalidJobs, EnvJobs, v)
		}
		cfg.Jobs = jobs
	}
	if envBool(environ, EnvWithoutDocs) {
		cfg.SkipDocs = true
	}
	if envBool(environ, EnvDisableStrip) {
		cfg.SkipStrip = true
	}
	if envBool(environ, EnvDisableMulti) {
		cfg.Multilib = false
	}
	if envBool(environ, EnvDevelop) {
		cfg.Develop = true
	}

	if flags.ManifestPath != "" {
		cfg.ManifestPath = flags.ManifestPath
	}
	if flags.Jobs != 0 || flags.JobsSet {
		if flags.Jobs <= 0 {
			return nil, fmt.Errorf("%w: --jobs %d", ErrInvalidJobs, flags.Jobs)
		}
		cfg.Jobs = flags.Jobs
	}
	if flags.WithoutDocs {
		cfg.SkipDocs = true
	}
	if flags.DisableStrip {
		cfg.SkipStrip = true
	}
	if flags.DisableMulti {
		cfg.Multilib = false
	}
	if flags.Develop {
		cfg.Develop = true
	}

	requested := flags.Targets
	if flags.All {
		requested = AllTargets
	}
	if len(requested) == 0 {
		return nil, ErrNoTargets
	}

	seen := make(map[models.TargetSpec]bool)
	for _, raw := range requested {
		t, err := models.ParseTarget(raw)
		if err != nil {
			return nil, err
		}
		if seen[t] {
			continue
		}
		seen[t] = true
		cfg.Targets = append(cfg.Targets, t)
	}

	if cfg.Jobs <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidJobs, cfg.Jobs)
	}

	return &cfg, nil
}

// WithTimestamp returns a copy of the configuration carrying the run
// timestamp, leaving the receiver untouched.
func (c *RunConfiguration) WithTimestamp(ts string) *RunConfiguration {
	out := *c
	out.BuildTimestamp = ts
	return &out
}

func envBool(environ map[string]string, key string) bool {
	v, ok := environ[key]
	if !ok {
		return false
	}
	b, err := strconv.ParseBool(v)
	return err == nil && b
}

// EnvironMap converts os.Environ style "KEY=VALUE" pairs into a map for
// Resolve, keeping Resolve itself free of hidden globals.
func EnvironMap(environ []string) map[string]string {
	m := make(map[string]string, len(environ))
	for _, kv := range environ {
		for i := 0; i < len(kv); i++ {
			if kv[i] == '=' {
				m[kv[:i]] = kv[i+1:]
				break
			}
		}
	}
	return m
}
