package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/branchbot/prsweep/internal/config"
	"github.com/branchbot/prsweep/internal/logging"
)

var (
	verbose    bool
	configPath string
	appConfig  *config.Config

	rootCmd = &cobra.Command{
		Use:   "prsweep",
		Short: "Sweep open pull requests: merge the clean ones, isolate the conflicted ones",
		Long: `prsweep walks every open pull request in a repository. PRs that the
hosting service reports as mergeable are merged and their head branches
deleted. PRs with conflicts get a conflicts/<branch> snapshot ref and a
comment listing the conflicting files, detected read-only from a local
clone.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose/debug output")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Extra config file merged over user and repo config")
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		logging.Setup(verbose)

		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		appConfig = cfg
		return nil
	}

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

func Execute() error {
	return rootCmd.Execute()
}
