package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"

	"github.com/spf13/cobra"

	"github.com/branchbot/prsweep/internal/config"
	"github.com/branchbot/prsweep/internal/forge"
	"github.com/branchbot/prsweep/internal/forge/github"
	"github.com/branchbot/prsweep/internal/history"
	"github.com/branchbot/prsweep/internal/repo"
	"github.com/branchbot/prsweep/internal/report"
	"github.com/branchbot/prsweep/internal/sweep"
)

var (
	repoFlag    string
	tokenFlag   string
	workdirFlag string
	messageFlag string
)

// addSweepFlags registers the flags shared by run and serve.
func addSweepFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&repoFlag, "repo", "", "Repository to sweep (owner/repo)")
	cmd.Flags().StringVar(&tokenFlag, "token", "", "API token (overrides config and environment)")
	cmd.Flags().StringVar(&workdirFlag, "workdir", "", "Local clone used for conflict detection")
	cmd.Flags().StringVar(&messageFlag, "message", "", "Merge commit message")
}

// applySweepFlags copies sweep flags over the loaded config.
func applySweepFlags(cfg *config.Config) {
	if repoFlag != "" {
		cfg.Repo = repoFlag
	}
	if tokenFlag != "" {
		cfg.Auth.Token = tokenFlag
	}
	if workdirFlag != "" {
		cfg.Git.Workdir = workdirFlag
	}
	if messageFlag != "" {
		cfg.Merge.CommitMessage = messageFlag
	}
}

func init() {
	addSweepFlags(runCmd)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Sweep the configured repository once",
	Long: `Run one sweep: list the repository's open pull requests, merge the
mergeable ones, and isolate the conflicted ones on conflicts/ branches with
an explanatory comment.

Conflicts are expected outcomes, not failures; the command exits 0 whenever
the sweep itself completes. The summary is recorded to the local history
database unless history is disabled.`,
	Example: `  prsweep run --repo myorg/widgets
  prsweep run --repo myorg/widgets --workdir ~/src/widgets --message "auto-merge"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg := appConfig
		applySweepFlags(cfg)

		sweeper, vcs, err := buildSweeper(ctx, cfg, cmd.OutOrStdout())
		if err != nil {
			return err
		}

		if cfg.Git.ShouldFetch() {
			if err := vcs.Fetch(ctx); err != nil {
				slog.Warn("fetch failed, conflict detection may be stale", "error", err)
			}
		}

		sum, err := sweeper.Run(ctx)
		if err != nil {
			return err
		}

		if cfg.History.IsEnabled() {
			recordRun(cfg, sum, cmd.OutOrStdout())
		}
		return nil
	},
}

// resolveToken finds an API token: flag, config file, and environment are
// already folded into cfg; the gh CLI is the last resort.
func resolveToken(cfg *config.Config) string {
	if cfg.Auth.Token != "" {
		return cfg.Auth.Token
	}
	if out, err := exec.Command("gh", "auth", "token").Output(); err == nil {
		return strings.TrimSpace(string(out))
	}
	return ""
}

// buildSweeper assembles the forge backend, local VCS, and sweeper from
// config. It fails when the repository or token cannot be resolved.
func buildSweeper(ctx context.Context, cfg *config.Config, out io.Writer) (*sweep.Sweeper, *repo.Repo, error) {
	if cfg.Repo == "" {
		return nil, nil, errors.New("no repository configured: pass --repo or set repo in config")
	}
	slug, err := config.ParseSlug(cfg.Repo)
	if err != nil {
		return nil, nil, err
	}

	token := resolveToken(cfg)
	if token == "" {
		return nil, nil, errors.New("no API token found: pass --token, set GITHUB_TOKEN, or log in with gh")
	}

	workdir := cfg.Git.Workdir
	if workdir == "" {
		workdir = "."
	}
	vcs := repo.New(workdir, cfg.Git.Remote)

	reg := forge.NewRegistry()
	reg.Register(github.NewBackend(slug.Owner, slug.Name, token))

	backend, err := reg.Detect(detectHost(ctx, vcs))
	if err != nil {
		return nil, nil, fmt.Errorf("unsupported hosting service: %w", err)
	}

	return sweep.New(backend, vcs, cfg, out), vcs, nil
}

// detectHost reads the host of the workdir's origin remote so forge
// detection can route to the right backend. Falls back to github.com when
// the workdir is not a clone.
func detectHost(ctx context.Context, vcs *repo.Repo) string {
	raw, err := vcs.OriginURL(ctx)
	if err != nil {
		return "github.com"
	}
	info, err := repo.ParseRemoteURL(raw)
	if err != nil {
		return "github.com"
	}
	return info.Host
}

// recordRun persists the summary to the history database and report archive.
// Recording failures warn but never fail the sweep that produced them.
func recordRun(cfg *config.Config, sum *sweep.Summary, out io.Writer) {
	store, err := history.NewStore(cfg.History.DatabasePath())
	if err != nil {
		slog.Warn("could not open history database", "error", err)
		return
	}
	defer store.Close()

	id, err := store.RecordRun(sum)
	if err != nil {
		slog.Warn("could not record run history", "error", err)
		return
	}

	archive := report.NewArchive(cfg.History.ReportsDir())
	path, err := archive.WriteRun(id, sum)
	if err != nil {
		slog.Warn("could not write run report", "error", err)
		return
	}

	fmt.Fprintf(out, "\nRun %d recorded, report at %s\n", id, path)
}
