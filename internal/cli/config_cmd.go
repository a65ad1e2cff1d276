package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"github.com/tidwall/jsonc"
	"github.com/tidwall/sjson"

	"github.com/branchbot/prsweep/internal/config"
	"github.com/branchbot/prsweep/internal/repo"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage prsweep configuration",
	Long:  `Show and modify prsweep configuration values.`,
}

var configJSONFlag bool

func init() {
	configShowCmd.Flags().BoolVar(&configJSONFlag, "json", false, "Output raw JSON without formatting")
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configInitCmd)
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show merged configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := appConfig
		if cfg == nil {
			var err error
			cfg, err = config.Load(configPath)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
		}

		// Redact secrets before display.
		redacted := redactConfig(cfg)

		var data []byte
		var err error
		if configJSONFlag {
			data, err = json.Marshal(redacted)
		} else {
			data, err = json.MarshalIndent(redacted, "", "  ")
		}
		if err != nil {
			return fmt.Errorf("marshaling config: %w", err)
		}

		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	},
}

// redactConfig returns a copy of the config with secret fields masked.
func redactConfig(cfg *config.Config) *config.Config {
	copy := *cfg
	if copy.Auth.Token != "" {
		copy.Auth.Token = "***"
	}
	return &copy
}

// configWritePath picks where set and init write: the repo-level file when
// inside a git checkout, the user-level file otherwise.
func configWritePath() (string, error) {
	if root := config.RepoRoot(); root != "" {
		return filepath.Join(root, ".prsweep", "prsweep.jsonc"), nil
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("getting config dir: %w", err)
	}
	return filepath.Join(dir, "prsweep", "prsweep.jsonc"), nil
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a config value",
	Long: `Set a configuration value using a dotted key path.

The value is written to .prsweep/prsweep.jsonc in the repository root, or to
the user config directory when run outside a checkout. The file is created
if it does not exist.

Note: JSONC comments are not preserved on write.

Examples:
  prsweep config set repo myorg/widgets
  prsweep config set merge.delete_branches false
  prsweep config set conflicts.comment false
  prsweep config set watch.interval 15m`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key := args[0]
		rawValue := args[1]

		// Determine value type: try bool, then number, then string
		var value any
		if b, err := strconv.ParseBool(rawValue); err == nil {
			value = b
		} else if i, err := strconv.ParseInt(rawValue, 10, 64); err == nil {
			value = i
		} else if f, err := strconv.ParseFloat(rawValue, 64); err == nil {
			value = f
		} else {
			value = rawValue
		}

		path, err := configWritePath()
		if err != nil {
			return err
		}

		// Read existing file or start with empty JSON object
		var existing []byte
		if data, err := os.ReadFile(path); err == nil {
			// Strip JSONC comments before passing to sjson (which requires valid JSON).
			existing = jsonc.ToJSON(data)
		} else {
			existing = []byte("{}")
		}

		updated, err := sjson.SetBytes(existing, key, value)
		if err != nil {
			return fmt.Errorf("setting key %q: %w", key, err)
		}

		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}
		if err := os.WriteFile(path, updated, 0644); err != nil {
			return fmt.Errorf("writing config: %w", err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Set %s = %v\n", key, value)
		return nil
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a config file interactively",
	Long: `Interactively create a prsweep config file.

The repository slug is pre-filled from the origin remote of the current
directory when one exists.`,
	Example: `  prsweep config init`,
	RunE: func(cmd *cobra.Command, args []string) error {
		repoSlug := detectRepoSlug(cmd.Context())
		workdir, _ := os.Getwd()
		deleteBranches := true
		fetch := false

		form := huh.NewForm(
			huh.NewGroup(
				huh.NewInput().
					Title("Repository (owner/repo)").
					Value(&repoSlug).
					Validate(func(s string) error {
						_, err := config.ParseSlug(s)
						return err
					}),
				huh.NewInput().
					Title("Local clone for conflict detection").
					Value(&workdir),
				huh.NewConfirm().
					Title("Delete head branches after merging?").
					Value(&deleteBranches),
				huh.NewConfirm().
					Title("Fetch the remote before each sweep?").
					Value(&fetch),
			),
		)

		if err := form.Run(); err != nil {
			return fmt.Errorf("form cancelled: %w", err)
		}

		path, err := configWritePath()
		if err != nil {
			return err
		}

		data := []byte("{}")
		if existing, err := os.ReadFile(path); err == nil {
			data = jsonc.ToJSON(existing)
		}

		sets := []struct {
			key   string
			value any
		}{
			{"repo", repoSlug},
			{"git.workdir", workdir},
			{"git.fetch", fetch},
			{"merge.delete_branches", deleteBranches},
		}
		for _, s := range sets {
			data, err = sjson.SetBytes(data, s.key, s.value)
			if err != nil {
				return fmt.Errorf("setting %s: %w", s.key, err)
			}
		}

		var pretty bytes.Buffer
		if err := json.Indent(&pretty, data, "", "  "); err == nil {
			data = append(pretty.Bytes(), '\n')
		}

		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}
		if err := os.WriteFile(path, data, 0644); err != nil {
			return fmt.Errorf("writing config: %w", err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
		return nil
	},
}

// detectRepoSlug parses the origin remote of the current directory into an
// owner/repo slug. Empty when the directory is not a clone or the remote
// URL has an unrecognized shape.
func detectRepoSlug(ctx context.Context) string {
	raw, err := repo.New(".", "").OriginURL(ctx)
	if err != nil {
		return ""
	}
	info, err := repo.ParseRemoteURL(raw)
	if err != nil {
		return ""
	}
	return info.Owner + "/" + info.Name
}
