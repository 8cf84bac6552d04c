// Package artifacts packages a completed build job into a distributable
// archive: sanity-checked install tree, per-component license files,
// build logs, a content checksum, and the target's completion stamp.
package artifacts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/opnlabs/crossforge/pkg/config"
	"github.com/opnlabs/crossforge/pkg/models"
	"github.com/opnlabs/crossforge/pkg/runner"
	"github.com/opnlabs/crossforge/pkg/store"
	"github.com/opnlabs/crossforge/pkg/utils"
	"github.com/opnlabs/crossforge/pkg/workspace"
)

var (
	ErrJobNotCompleted = errors.New("artifacts: job has not completed")
	ErrSanityCheck     = errors.New("artifacts: install tree failed sanity check")
)

// Distribution is the immutable result of publishing one completed job.
type Distribution struct {
	ArchivePath     string
	SHA256          string
	LicenseManifest string
	BuildLogs       []string
}

type Publisher struct {
	registry *store.Registry
	logger   *log.Logger

	// versionOf runs a compiler driver and returns its --version output.
	// Overridable in tests.
	versionOf func(ctx context.Context, driver string) (string, error)
}

func NewPublisher(registry *store.Registry, logger *log.Logger) *Publisher {
	return &Publisher{
		registry:  registry,
		logger:    logger,
		versionOf: driverVersion,
	}
}

func driverVersion(ctx context.Context, driver string) (string, error) {
	out, err := exec.CommandContext(ctx, driver, "--version").Output()
	return string(out), err
}

// Publish packages the job's install tree into a versioned archive under
// the deploy folder. It refuses jobs that are not Completed, and it runs
// a post-build sanity check first: the produced compiler driver must
// report a version. A build that silently produced a broken driver fails
// here instead of shipping.
func (p *Publisher) Publish(ctx context.Context, job *runner.BuildJob, cfg *config.RunConfiguration, m *models.Manifest, installTree string) (*Distribution, error) {
	if job.Status() != runner.StatusCompleted {
		return nil, fmt.Errorf("%w: target %s is %s", ErrJobNotCompleted, job.Target.ID(), job.Status())
	}

	if err := p.sanityCheck(ctx, job.Target, m, installTree); err != nil {
		return nil, err
	}

	manifestPath, logs, err := p.stageMetadata(cfg, m, installTree)
	if err != nil {
		return nil, err
	}

	targetDeploy := filepath.Join(cfg.DeployDir, job.Target.ID())
	if err := os.MkdirAll(targetDeploy, 0755); err != nil {
		return nil, err
	}

	archiveName := fmt.Sprintf("%s-%s-%s-%s.tar.gz",
		cfg.AppName, cfg.ReleaseVersion, job.Target.ID(), cfg.BuildTimestamp)
	archivePath := filepath.Join(targetDeploy, archiveName)

	p.logger.Info("packaging distribution", "target", job.Target.ID(), "archive", archiveName)
	if err := utils.Compress(installTree, archivePath); err != nil {
		return nil, fmt.Errorf("could not create archive %s: %w", archivePath, err)
	}

	sum, err := utils.FileSHA256(archivePath)
	if err != nil {
		return nil, err
	}
	checksumLine := fmt.Sprintf("%s  %s\n", sum, archiveName)
	if err := os.WriteFile(archivePath+".sha256", []byte(checksumLine), 0644); err != nil {
		return nil, err
	}

	stamp := workspace.CompletedStamp(cfg.DeployDir, job.Target)
	if err := os.WriteFile(stamp, []byte(cfg.BuildTimestamp+"\n"), 0644); err != nil {
		return nil, err
	}

	return &Distribution{
		ArchivePath:     archivePath,
		SHA256:          sum,
		LicenseManifest: manifestPath,
		BuildLogs:       logs,
	}, nil
}

// sanityCheck verifies the produced compiler driver. For targets whose
// binaries can run on the build machine the driver must execute and
// report a non-empty version. Windows drivers cannot execute here, so
// only their presence and non-zero size are checked.
func (p *Publisher) sanityCheck(ctx context.Context, t models.TargetSpec, m *models.Manifest, installTree string) error {
	driver := filepath.Join(installTree, "bin", m.Triple+"-gcc")
	if t.OS == models.OSWindows {
		driver += ".exe"
		info, err := os.Stat(driver)
		if err != nil {
			return fmt.Errorf("%w: %s missing: %v", ErrSanityCheck, driver, err)
		}
		if info.Size() == 0 {
			return fmt.Errorf("%w: %s is empty", ErrSanityCheck, driver)
		}
		return nil
	}

	out, err := p.versionOf(ctx, driver)
	if err != nil {
		return fmt.Errorf("%w: %s --version: %v", ErrSanityCheck, driver, err)
	}
	if strings.TrimSpace(out) == "" {
		return fmt.Errorf("%w: %s reported no version", ErrSanityCheck, driver)
	}
	p.logger.Info("sanity check passed", "driver", driver, "version", firstLine(out))
	return nil
}

// stageMetadata copies license files and build logs into the install tree
// and writes the license manifest, so the archive is self-describing.
func (p *Publisher) stageMetadata(cfg *config.RunConfiguration, m *models.Manifest, installTree string) (string, []string, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s %s (%s)\n\n", cfg.AppName, cfg.ReleaseVersion, cfg.BuildTimestamp)

	var staged []string
	for _, name := range p.registry.Components() {
		rec, err := p.registry.Component(name)
		if err != nil {
			return "", nil, err
		}
		fmt.Fprintf(&sb, "%s %s\n", name, rec.Version)

		licenseDir := filepath.Join(installTree, "licenses", name)
		if err := os.MkdirAll(licenseDir, 0755); err != nil {
			return "", nil, err
		}
		for _, src := range rec.Licenses {
			dst := filepath.Join(licenseDir, filepath.Base(src))
			if err := copyFile(src, dst); err != nil {
				return "", nil, err
			}
			fmt.Fprintf(&sb, "  licenses/%s/%s\n", name, filepath.Base(src))
		}

		logDir := filepath.Join(installTree, "buildinfo", "logs")
		if err := os.MkdirAll(logDir, 0755); err != nil {
			return "", nil, err
		}
		for _, src := range rec.Logs {
			dst := filepath.Join(logDir, filepath.Base(src))
			if err := copyFile(src, dst); err != nil {
				return "", nil, err
			}
			staged = append(staged, dst)
		}
	}

	manifestPath := filepath.Join(installTree, "buildinfo", "manifest.txt")
	if err := os.MkdirAll(filepath.Dir(manifestPath), 0755); err != nil {
		return "", nil, err
	}
	if err := os.WriteFile(manifestPath, []byte(sb.String()), 0644); err != nil {
		return "", nil, err
	}
	return manifestPath, staged, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
