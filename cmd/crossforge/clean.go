package crossforge

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/opnlabs/crossforge/pkg/config"
	"github.com/opnlabs/crossforge/pkg/workspace"
)

func cleanConfig() (*config.RunConfiguration, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	return config.ResolveDirs(config.Defaults(wd), config.EnvironMap(os.Environ()), cliFlags()), nil
}

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove the work and build trees",
	Long: `Clean removes the work directory (build trees, install trees, markers and
the run timestamp) but preserves downloaded sources and the deploy folder.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := cleanConfig()
		if err != nil {
			return err
		}
		logger.Info("removing work tree", "dir", cfg.WorkDir)
		return workspace.Clean(cfg)
	},
}

var cleanAllCmd = &cobra.Command{
	Use:   "cleanall",
	Short: "Remove everything, including sources and deployed archives",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := cleanConfig()
		if err != nil {
			return err
		}
		logger.Info("removing work tree, download cache and deploy folder",
			"work", cfg.WorkDir, "downloads", cfg.DownloadDir, "deploy", cfg.DeployDir)
		return workspace.CleanAll(cfg)
	},
}
