// Package toolchain assembles the ordered build steps for one target:
// unpack sources, binutils, bootstrap compiler, target C library, final
// compiler, then optional strip and docs passes. The step bodies are
// shell scripts executed by a runner.Executor; the step runner only sees
// their success or failure.
package toolchain

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/opnlabs/crossforge/pkg/config"
	"github.com/opnlabs/crossforge/pkg/models"
	"github.com/opnlabs/crossforge/pkg/runner"
	"github.com/opnlabs/crossforge/pkg/store"
	"github.com/opnlabs/crossforge/pkg/utils"
	"github.com/opnlabs/crossforge/pkg/workspace"
)

// FetchComponents downloads every manifest archive into the download
// cache, verifying checksums. Downloads run in parallel; this is the one
// concurrent phase and it finishes before any build job starts.
func FetchComponents(ctx context.Context, m *models.Manifest, downloadDir string) error {
	var eg errgroup.Group
	for _, c := range m.Components {
		c := c
		eg.Go(func() error {
			return utils.Download(ctx, c.URL, filepath.Join(downloadDir, c.Archive()), c.SHA256)
		})
	}
	return eg.Wait()
}

// Builder constructs the step list for targets against one run
// configuration and manifest.
type Builder struct {
	cfg      *config.RunConfiguration
	manifest *models.Manifest
	registry *store.Registry
}

func NewBuilder(cfg *config.RunConfiguration, m *models.Manifest, reg *store.Registry) *Builder {
	return &Builder{cfg: cfg, manifest: m, registry: reg}
}

func (b *Builder) sourcesDir() string {
	return filepath.Join(b.cfg.WorkDir, "sources")
}

// InstallDir returns the install prefix for one target; the publisher
// packages this tree.
func (b *Builder) InstallDir(t models.TargetSpec) string {
	return filepath.Join(b.cfg.InstallDir, t.ID())
}

func (b *Builder) logDir(t models.TargetSpec) string {
	return filepath.Join(b.cfg.WorkDir, "logs", t.ID())
}

// Steps returns the ordered build steps for one target. The strip and
// docs steps are omitted entirely when disabled, rather than skipped at
// run time, so the marker layout reflects the requested configuration.
func (b *Builder) Steps(t models.TargetSpec, exec runner.Executor) []runner.BuildStep {
	steps := []runner.BuildStep{
		b.extractStep(t),
		b.scriptStep(t, exec, "build-binutils", b.binutilsScript(t)),
		b.scriptStep(t, exec, "build-gcc-first", b.gccFirstScript(t)),
		b.scriptStep(t, exec, "build-newlib", b.newlibScript(t)),
		b.scriptStep(t, exec, "build-gcc-final", b.gccFinalScript(t)),
	}
	if !b.cfg.SkipStrip {
		steps = append(steps, b.scriptStep(t, exec, "strip-binaries", b.stripScript(t)))
	}
	if !b.cfg.SkipDocs {
		steps = append(steps, b.scriptStep(t, exec, "build-docs", b.docsScript(t)))
	}
	return steps
}

// extractStep unpacks every component archive into the shared sources
// tree. Already unpacked components are left alone so a resumed run does
// not clobber patched sources.
func (b *Builder) extractStep(t models.TargetSpec) runner.BuildStep {
	return runner.BuildStep{
		Name:       "extract-sources",
		MarkerPath: workspace.StepMarker(b.cfg.BuildDir, t, "extract-sources"),
		Action: func(ctx context.Context) error {
			if err := os.MkdirAll(b.sourcesDir(), 0755); err != nil {
				return err
			}
			for _, c := range b.manifest.Components {
				if err := ctx.Err(); err != nil {
					return err
				}
				if _, err := os.Stat(filepath.Join(b.sourcesDir(), c.Dir())); err == nil {
					continue
				}
				archive := filepath.Join(b.cfg.DownloadDir, c.Archive())
				if err := utils.Decompress(archive, b.sourcesDir()); err != nil {
					return fmt.Errorf("could not unpack %s: %w", c.Archive(), err)
				}
			}
			return nil
		},
	}
}

// Collect fills the registry with each component's license files (from
// the unpacked sources) and the target's build logs. It reads only
// committed on-disk state, so it works identically for fresh and resumed
// runs where some or all steps were skipped.
func (b *Builder) Collect(t models.TargetSpec) error {
	for _, c := range b.manifest.Components {
		b.registry.Register(c.Name, c.Version)
		for _, pattern := range c.Licenses {
			matches, err := filepath.Glob(filepath.Join(b.sourcesDir(), c.Dir(), pattern))
			if err != nil {
				return err
			}
			for _, m := range matches {
				if err := b.registry.AddLicense(c.Name, m); err != nil {
					return err
				}
			}
		}
	}

	logs, err := filepath.Glob(filepath.Join(b.logDir(t), "*.log"))
	if err != nil {
		return err
	}
	for _, logPath := range logs {
		component := componentForStep(strings.TrimSuffix(filepath.Base(logPath), ".log"))
		if component == "" {
			continue
		}
		if err := b.registry.AddLog(component, logPath); err != nil {
			return err
		}
	}
	return nil
}

// scriptStep wraps a shell script in the check-then-act-then-mark shape:
// the script's output is teed into a per-step log file, and the marker is
// written by the runner only on success.
func (b *Builder) scriptStep(t models.TargetSpec, exec runner.Executor, name string, script runner.Script) runner.BuildStep {
	return runner.BuildStep{
		Name:       name,
		MarkerPath: workspace.StepMarker(b.cfg.BuildDir, t, name),
		Action: func(ctx context.Context) error {
			if err := os.MkdirAll(b.logDir(t), 0755); err != nil {
				return err
			}
			logFile, err := os.Create(filepath.Join(b.logDir(t), name+".log"))
			if err != nil {
				return err
			}
			defer logFile.Close()

			script.Name = name
			script.Output = logFile
			return exec.Execute(ctx, script)
		},
	}
}

func componentForStep(name string) string {
	switch {
	case strings.Contains(name, "binutils"):
		return "binutils"
	case strings.Contains(name, "gcc"), name == "strip-binaries", name == "build-docs":
		return "gcc"
	case strings.Contains(name, "newlib"):
		return "newlib"
	}
	return ""
}

func (b *Builder) component(name string) models.Component {
	c, _ := b.manifest.Component(name)
	return c
}

// hostFlags returns the configure --build/--host triplet flags for cross
// ("canadian") targets, along with the PATH extension that puts the
// prerequisite linux toolchain first.
func (b *Builder) hostFlags(t models.TargetSpec) (flags []string, env []string) {
	if t.OS != models.OSWindows {
		return nil, nil
	}

	host := "i686-w64-mingw32"
	if t.Bits == 64 {
		host = "x86_64-w64-mingw32"
	}
	dep, _ := t.DependsOn()
	depBin := filepath.Join(b.InstallDir(dep), "bin")
	return []string{"--host=" + host},
		[]string{"PATH=" + depBin + ":/usr/bin:/bin"}
}

func (b *Builder) multilibFlag() string {
	if b.cfg.Multilib {
		return "--enable-multilib"
	}
	return "--disable-multilib"
}

func (b *Builder) binutilsScript(t models.TargetSpec) runner.Script {
	c := b.component("binutils")
	buildDir := filepath.Join(b.cfg.BuildDir, t.ID(), "binutils")
	hostFlags, env := b.hostFlags(t)

	configure := append([]string{
		filepath.Join(b.sourcesDir(), c.Dir(), "configure"),
		"--prefix=" + b.InstallDir(t),
		"--target=" + b.manifest.Triple,
		"--disable-nls",
		"--disable-werror",
	}, hostFlags...)

	return runner.Script{
		Env: env,
		Commands: []string{
			"set -e",
			"mkdir -p " + buildDir,
			"cd " + buildDir,
			strings.Join(configure, " "),
			fmt.Sprintf("make -j %d", b.cfg.Jobs),
			"make install",
		},
	}
}

func (b *Builder) gccFirstScript(t models.TargetSpec) runner.Script {
	c := b.component("gcc")
	buildDir := filepath.Join(b.cfg.BuildDir, t.ID(), "gcc-first")
	hostFlags, env := b.hostFlags(t)

	configure := append([]string{
		filepath.Join(b.sourcesDir(), c.Dir(), "configure"),
		"--prefix=" + b.InstallDir(t),
		"--target=" + b.manifest.Triple,
		"--enable-languages=c",
		"--without-headers",
		"--with-newlib",
		"--disable-shared",
		"--disable-threads",
		"--disable-libssp",
		"--disable-nls",
		b.multilibFlag(),
	}, hostFlags...)

	return runner.Script{
		Env: env,
		Commands: []string{
			"set -e",
			"mkdir -p " + buildDir,
			"cd " + buildDir,
			strings.Join(configure, " "),
			fmt.Sprintf("make -j %d all-gcc all-target-libgcc", b.cfg.Jobs),
			"make install-gcc install-target-libgcc",
		},
	}
}

func (b *Builder) newlibScript(t models.TargetSpec) runner.Script {
	c := b.component("newlib")
	buildDir := filepath.Join(b.cfg.BuildDir, t.ID(), "newlib")
	hostFlags, env := b.hostFlags(t)

	// The library is compiled with the just-built cross compiler, so that
	// toolchain's bin directory leads the PATH. For a canadian cross the
	// compiler that can actually execute here is the prerequisite linux
	// one, and hostFlags already placed it on the PATH.
	if t.OS != models.OSWindows {
		env = append(env, "PATH="+filepath.Join(b.InstallDir(t), "bin")+":/usr/bin:/bin")
	}

	configure := append([]string{
		filepath.Join(b.sourcesDir(), c.Dir(), "configure"),
		"--prefix=" + b.InstallDir(t),
		"--target=" + b.manifest.Triple,
		"--enable-newlib-nano-formatted-io",
		"--enable-newlib-reent-small",
		"--disable-newlib-supplied-syscalls",
		b.multilibFlag(),
	}, hostFlags...)

	return runner.Script{
		Env: env,
		Commands: []string{
			"set -e",
			"mkdir -p " + buildDir,
			"cd " + buildDir,
			strings.Join(configure, " "),
			fmt.Sprintf("make -j %d", b.cfg.Jobs),
			"make install",
		},
	}
}

func (b *Builder) gccFinalScript(t models.TargetSpec) runner.Script {
	c := b.component("gcc")
	buildDir := filepath.Join(b.cfg.BuildDir, t.ID(), "gcc-final")
	hostFlags, env := b.hostFlags(t)

	configure := append([]string{
		filepath.Join(b.sourcesDir(), c.Dir(), "configure"),
		"--prefix=" + b.InstallDir(t),
		"--target=" + b.manifest.Triple,
		"--enable-languages=c,c++",
		"--with-newlib",
		"--disable-shared",
		"--disable-threads",
		"--disable-nls",
		b.multilibFlag(),
	}, hostFlags...)

	return runner.Script{
		Env: env,
		Commands: []string{
			"set -e",
			"mkdir -p " + buildDir,
			"cd " + buildDir,
			strings.Join(configure, " "),
			fmt.Sprintf("make -j %d", b.cfg.Jobs),
			"make install",
		},
	}
}

func (b *Builder) stripScript(t models.TargetSpec) runner.Script {
	bin := filepath.Join(b.InstallDir(t), "bin")
	strip := "strip"
	if t.OS == models.OSWindows {
		if t.Bits == 64 {
			strip = "x86_64-w64-mingw32-strip"
		} else {
			strip = "i686-w64-mingw32-strip"
		}
	}
	return runner.Script{
		Commands: []string{
			"set -e",
			fmt.Sprintf("find %s -type f -perm -u+x -exec %s --strip-unneeded {} + || true", bin, strip),
		},
	}
}

func (b *Builder) docsScript(t models.TargetSpec) runner.Script {
	buildDir := filepath.Join(b.cfg.BuildDir, t.ID(), "gcc-final")
	return runner.Script{
		Commands: []string{
			"set -e",
			"cd " + buildDir,
			"make install-html install-pdf || make install-html",
		},
	}
}
