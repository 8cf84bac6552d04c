package artifacts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opnlabs/crossforge/pkg/config"
	"github.com/opnlabs/crossforge/pkg/models"
	"github.com/opnlabs/crossforge/pkg/runner"
	"github.com/opnlabs/crossforge/pkg/store"
	"github.com/opnlabs/crossforge/pkg/utils"
	"github.com/opnlabs/crossforge/pkg/workspace"
)

const testTriple = "riscv-none-elf"

type fixture struct {
	cfg       *config.RunConfiguration
	manifest  *models.Manifest
	registry  *store.Registry
	publisher *Publisher
	install   string
}

func newFixture(t *testing.T, target models.TargetSpec) *fixture {
	t.Helper()

	cfg, err := config.Resolve(config.Defaults(t.TempDir()), map[string]string{}, config.Flags{
		Targets: []string{target.ID()},
	})
	require.NoError(t, err)
	cfg = cfg.WithTimestamp("20260830-1200")
	require.NoError(t, workspace.EnsureDirs(cfg))

	install := filepath.Join(cfg.InstallDir, target.ID())
	require.NoError(t, os.MkdirAll(filepath.Join(install, "bin"), 0755))

	driver := filepath.Join(install, "bin", testTriple+"-gcc")
	if target.OS == models.OSWindows {
		driver += ".exe"
	}
	require.NoError(t, os.WriteFile(driver, []byte("#!/bin/sh\necho fake\n"), 0755))

	licenseFile := filepath.Join(t.TempDir(), "COPYING")
	require.NoError(t, os.WriteFile(licenseFile, []byte("GPL"), 0644))
	logFile := filepath.Join(t.TempDir(), "build-gcc-final.log")
	require.NoError(t, os.WriteFile(logFile, []byte("done"), 0644))

	registry := store.NewRegistry()
	registry.Register("gcc", "10.2.0")
	require.NoError(t, registry.AddLicense("gcc", licenseFile))
	require.NoError(t, registry.AddLog("gcc", logFile))

	publisher := NewPublisher(registry, log.New(io.Discard))
	publisher.versionOf = func(ctx context.Context, driver string) (string, error) {
		return "riscv-none-elf-gcc (crossforge) 10.2.0\n", nil
	}

	return &fixture{
		cfg:       cfg,
		manifest:  &models.Manifest{App: "riscv-none-elf-gcc", Triple: testTriple},
		registry:  registry,
		publisher: publisher,
		install:   install,
	}
}

func completedJob(t *testing.T, target models.TargetSpec) *runner.BuildJob {
	t.Helper()
	job := runner.NewJob(target, nil)
	require.NoError(t, runner.NewRunner(log.New(io.Discard)).Run(context.Background(), job))
	require.Equal(t, runner.StatusCompleted, job.Status())
	return job
}

func TestPublishRejectsUnfinishedJob(t *testing.T) {
	native := models.TargetSpec{OS: models.OSNative}
	f := newFixture(t, native)

	job := runner.NewJob(native, nil) // still Pending
	_, err := f.publisher.Publish(context.Background(), job, f.cfg, f.manifest, f.install)
	require.ErrorIs(t, err, ErrJobNotCompleted)

	entries, readErr := os.ReadDir(f.cfg.DeployDir)
	require.NoError(t, readErr)
	assert.Empty(t, entries, "no archive may be produced for an unfinished job")
}

func TestPublishProducesArchiveAndChecksum(t *testing.T) {
	native := models.TargetSpec{OS: models.OSNative}
	f := newFixture(t, native)

	dist, err := f.publisher.Publish(context.Background(), completedJob(t, native), f.cfg, f.manifest, f.install)
	require.NoError(t, err)

	wantName := fmt.Sprintf("%s-%s-native-%s.tar.gz", f.cfg.AppName, f.cfg.ReleaseVersion, f.cfg.BuildTimestamp)
	assert.Equal(t, wantName, filepath.Base(dist.ArchivePath))
	assert.FileExists(t, dist.ArchivePath)

	sum, err := utils.FileSHA256(dist.ArchivePath)
	require.NoError(t, err)
	assert.Equal(t, sum, dist.SHA256)

	checksumFile, err := os.ReadFile(dist.ArchivePath + ".sha256")
	require.NoError(t, err)
	assert.Contains(t, string(checksumFile), sum)
	assert.Contains(t, string(checksumFile), wantName)

	assert.True(t, workspace.TargetCompleted(f.cfg.DeployDir, native))
}

func TestPublishStagesLicensesAndLogs(t *testing.T) {
	native := models.TargetSpec{OS: models.OSNative}
	f := newFixture(t, native)

	dist, err := f.publisher.Publish(context.Background(), completedJob(t, native), f.cfg, f.manifest, f.install)
	require.NoError(t, err)

	manifest, err := os.ReadFile(dist.LicenseManifest)
	require.NoError(t, err)
	assert.Contains(t, string(manifest), "gcc 10.2.0")
	assert.Contains(t, string(manifest), "licenses/gcc/COPYING")

	assert.FileExists(t, filepath.Join(f.install, "licenses", "gcc", "COPYING"))
	require.Len(t, dist.BuildLogs, 1)
	assert.FileExists(t, dist.BuildLogs[0])
}

func TestPublishFailsSanityCheck(t *testing.T) {
	native := models.TargetSpec{OS: models.OSNative}
	f := newFixture(t, native)
	f.publisher.versionOf = func(ctx context.Context, driver string) (string, error) {
		return "", errors.New("exec format error")
	}

	_, err := f.publisher.Publish(context.Background(), completedJob(t, native), f.cfg, f.manifest, f.install)
	require.ErrorIs(t, err, ErrSanityCheck)

	entries, readErr := os.ReadDir(f.cfg.DeployDir)
	require.NoError(t, readErr)
	assert.Empty(t, entries)
}

func TestPublishRejectsSilentEmptyVersion(t *testing.T) {
	native := models.TargetSpec{OS: models.OSNative}
	f := newFixture(t, native)
	f.publisher.versionOf = func(ctx context.Context, driver string) (string, error) {
		return "   \n", nil
	}

	_, err := f.publisher.Publish(context.Background(), completedJob(t, native), f.cfg, f.manifest, f.install)
	assert.ErrorIs(t, err, ErrSanityCheck)
}

func TestPublishWindowsChecksDriverPresence(t *testing.T) {
	win64 := models.TargetSpec{OS: models.OSWindows, Bits: 64}
	f := newFixture(t, win64)

	// Executing a foreign-OS binary is impossible here; presence and a
	// non-zero size stand in for the version check.
	f.publisher.versionOf = func(ctx context.Context, driver string) (string, error) {
		t.Fatal("windows sanity check must not execute the driver")
		return "", nil
	}

	dist, err := f.publisher.Publish(context.Background(), completedJob(t, win64), f.cfg, f.manifest, f.install)
	require.NoError(t, err)
	assert.FileExists(t, dist.ArchivePath)
}

func TestPublishWindowsMissingDriver(t *testing.T) {
	win64 := models.TargetSpec{OS: models.OSWindows, Bits: 64}
	f := newFixture(t, win64)
	require.NoError(t, os.Remove(filepath.Join(f.install, "bin", testTriple+"-gcc.exe")))

	_, err := f.publisher.Publish(context.Background(), completedJob(t, win64), f.cfg, f.manifest, f.install)
	assert.ErrorIs(t, err, ErrSanityCheck)
}
