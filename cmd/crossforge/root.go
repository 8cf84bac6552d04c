package crossforge

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/opnlabs/crossforge/pkg/artifacts"
	"github.com/opnlabs/crossforge/pkg/config"
	"github.com/opnlabs/crossforge/pkg/matrix"
	"github.com/opnlabs/crossforge/pkg/models"
	"github.com/opnlabs/crossforge/pkg/runner"
	"github.com/opnlabs/crossforge/pkg/store"
	"github.com/opnlabs/crossforge/pkg/toolchain"
	"github.com/opnlabs/crossforge/pkg/utils"
	"github.com/opnlabs/crossforge/pkg/workspace"
)

var (
	targets        []string
	buildAll       bool
	jobs           int
	workDir        string
	downloadDir    string
	deployDir      string
	releaseVersion string
	manifestPath   string
	withoutDocs    bool
	disableStrip   bool
	disableMulti   bool
	develop        bool

	validate *validator.Validate = validator.New(validator.WithRequiredStructEnabled())
	logger                       = log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		Prefix:          "crossforge",
	})
)

var rootCmd = &cobra.Command{
	Use:   "crossforge",
	Short: "Crossforge packages a cross-compilation toolchain",
	Long: `Crossforge fetches fixed-version upstream sources (binutils, GCC, newlib),
drives a staged bootstrap build for a matrix of host platforms inside Docker
containers, and packages each completed toolchain into a versioned archive
with checksums, license files and build logs. Interrupted runs resume from
per-step completion markers.`,

	SilenceUsage: true,
}

func init() {
	rootCmd.RunE = func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context())
	}
	rootCmd.Flags().StringArrayVarP(&targets, "target", "t", nil, "Target platform (native, linux32, linux64, win32, win64, macos64). Repeatable.")
	rootCmd.Flags().BoolVar(&buildAll, "all", false, "Build the full target matrix.")
	rootCmd.Flags().IntVarP(&jobs, "jobs", "j", 0, "Parallelism hint passed to the toolchain builds.")
	// Directory and version overrides are persistent so clean and cleanall
	// resolve the same trees as the build command.
	rootCmd.PersistentFlags().StringVar(&workDir, "work-dir", "", "Override the work directory.")
	rootCmd.PersistentFlags().StringVar(&downloadDir, "download-dir", "", "Override the download cache directory.")
	rootCmd.PersistentFlags().StringVar(&deployDir, "deploy-dir", "", "Override the deploy directory.")
	rootCmd.PersistentFlags().StringVar(&releaseVersion, "release-version", "", "Release version embedded in archive names.")
	rootCmd.Flags().StringVarP(&manifestPath, "manifest", "f", "", "Path to the component manifest (default crossforge.yml).")
	rootCmd.Flags().BoolVar(&withoutDocs, "without-docs", false, "Skip the documentation build.")
	rootCmd.Flags().BoolVar(&disableStrip, "disable-strip", false, "Keep debug symbols in the packaged binaries.")
	rootCmd.Flags().BoolVar(&disableMulti, "disable-multilib", false, "Build without multilib support.")
	rootCmd.Flags().BoolVar(&develop, "develop", false, "Keep verbose build trees for debugging.")

	rootCmd.AddCommand(cleanCmd)
	rootCmd.AddCommand(cleanAllCmd)
	rootCmd.AddCommand(versionCmd)
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		logger.Fatal(err)
	}
}

func cliFlags() config.Flags {
	return config.Flags{
		Targets:        targets,
		All:            buildAll,
		Jobs:           jobs,
		JobsSet:        rootCmd.Flags().Changed("jobs"),
		WorkDir:        workDir,
		DownloadDir:    downloadDir,
		DeployDir:      deployDir,
		ReleaseVersion: releaseVersion,
		ManifestPath:   manifestPath,
		WithoutDocs:    withoutDocs,
		DisableStrip:   disableStrip,
		DisableMulti:   disableMulti,
		Develop:        develop,
	}
}

func resolveConfig() (*config.RunConfiguration, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	return config.Resolve(config.Defaults(wd), config.EnvironMap(os.Environ()), cliFlags())
}

func loadManifest(path string) (*models.Manifest, error) {
	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, err
	}

	var m models.Manifest
	if err := yaml.Unmarshal(contents, &m); err != nil {
		return nil, err
	}
	if err := validate.Struct(m); err != nil {
		return nil, fmt.Errorf("invalid manifest %s:\n%+v", path, err)
	}
	return &m, nil
}

func run(ctx context.Context) error {
	cfg, err := resolveConfig()
	if err != nil {
		return err
	}

	manifest, err := loadManifest(cfg.ManifestPath)
	if err != nil {
		return err
	}

	if err := workspace.EnsureDirs(cfg); err != nil {
		return err
	}
	ts, err := workspace.Timestamp(cfg.WorkDir)
	if err != nil {
		return err
	}
	cfg = cfg.WithTimestamp(ts)
	logger.Info("starting run", "version", cfg.ReleaseVersion, "timestamp", ts, "jobs", cfg.Jobs)

	ordered, err := matrix.Expand(cfg.Targets, cfg.DeployDir)
	if err != nil {
		return err
	}

	logger.Info("fetching sources", "components", len(manifest.Components))
	if err := toolchain.FetchComponents(ctx, manifest, cfg.DownloadDir); err != nil {
		return err
	}

	registry := store.NewRegistry()
	builder := toolchain.NewBuilder(cfg, manifest, registry)
	stepRunner := runner.NewRunner(logger)
	publisher := artifacts.NewPublisher(registry, logger)

	// One job at a time: canadian targets consume the previous target's
	// install tree directly from disk.
	for _, target := range ordered {
		if workspace.TargetCompleted(cfg.DeployDir, target) {
			logger.Info("target already published, skipping", "target", target.ID())
			continue
		}

		if dep, ok := target.DependsOn(); ok {
			stamp, err := os.ReadFile(workspace.CompletedStamp(cfg.DeployDir, dep))
			if err != nil {
				return fmt.Errorf("target %s needs a completed %s toolchain: %w", target.ID(), dep.ID(), err)
			}
			logger.Info("using prerequisite toolchain", "target", target.ID(),
				"dependency", dep.ID(), "built", strings.TrimSpace(string(stamp)))
		}

		exec, err := newExecutor(target, manifest, cfg)
		if err != nil {
			return err
		}

		job := runner.NewJob(target, builder.Steps(target, exec))
		if err := stepRunner.Run(ctx, job); err != nil {
			return err
		}

		if err := builder.Collect(target); err != nil {
			return err
		}
		dist, err := publisher.Publish(ctx, job, cfg, manifest, builder.InstallDir(target))
		if err != nil {
			return err
		}
		logger.Info("published", "target", target.ID(), "archive", dist.ArchivePath, "sha256", dist.SHA256)
	}

	// Run-level marker: every requested target built and published.
	stamp := filepath.Join(cfg.WorkDir, "stamp_completed")
	if err := os.WriteFile(stamp, []byte(ts+"\n"), 0644); err != nil {
		return err
	}
	logger.Info("run completed", "timestamp", ts)
	return nil
}

func newExecutor(target models.TargetSpec, m *models.Manifest, cfg *config.RunConfiguration) (runner.Executor, error) {
	stdout := utils.NewPrefixWriter(target.ID(), os.Stdout, true)
	stderr := utils.NewPrefixWriter(target.ID(), os.Stderr, false)

	if !target.Containerized() {
		return runner.NewNativeExecutor(stdout, stderr), nil
	}

	image, ok := m.Image(target)
	if !ok {
		return nil, fmt.Errorf("no container image configured for target %s", target.ID())
	}
	return runner.NewDockerExecutor(target.ID(), runner.DockerExecutorOptions{
		Image: image,
		Mounts: []runner.Mount{
			// The work tree is mounted at its host path so the scripts'
			// absolute prefixes are valid inside and outside the container.
			{Source: cfg.WorkDir, Target: cfg.WorkDir},
			{Source: cfg.DownloadDir, Target: cfg.DownloadDir},
		},
		Workdir:       cfg.WorkDir,
		ShowImagePull: cfg.Develop,
		Stdout:        stdout,
		Stderr:        stderr,
	}), nil
}
