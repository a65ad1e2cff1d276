package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Config is the top-level prsweep configuration.
type Config struct {
	Repo      string          `json:"repo"`
	Auth      AuthConfig      `json:"auth"`
	Merge     MergeConfig     `json:"merge"`
	Conflicts ConflictsConfig `json:"conflicts"`
	Git       GitConfig       `json:"git"`
	History   HistoryConfig   `json:"history"`
	Watch     WatchConfig     `json:"watch"`
}

// AuthConfig holds hosting-service credentials.
type AuthConfig struct {
	Token string `json:"token,omitempty"`
}

// MergeConfig controls how mergeable PRs are merged. Merges always produce an
// ordinary merge commit; there is no squash or rebase mode.
// Boolean knobs that default to true are pointers so the deep merge can tell
// "explicitly false" from "not set" (same trick as other *bool fields below).
type MergeConfig struct {
	CommitMessage  string `json:"commit_message,omitempty"`
	DeleteBranches *bool  `json:"delete_branches,omitempty"`
}

// ShouldDeleteBranches reports whether head branches are deleted after a merge.
// Defaults to true when not explicitly set.
func (m MergeConfig) ShouldDeleteBranches() bool {
	if m.DeleteBranches == nil {
		return true
	}
	return *m.DeleteBranches
}

// ConflictsConfig controls how unmergeable PRs are handled.
type ConflictsConfig struct {
	Comment            *bool `json:"comment,omitempty"`
	MinimizeSuperseded *bool `json:"minimize_superseded,omitempty"`
}

// ShouldComment reports whether a conflict report comment is posted.
// Defaults to true.
func (c ConflictsConfig) ShouldComment() bool {
	if c.Comment == nil {
		return true
	}
	return *c.Comment
}

// ShouldMinimize reports whether prior conflict comments are minimized as
// outdated before a new one is posted. Defaults to true.
func (c ConflictsConfig) ShouldMinimize() bool {
	if c.MinimizeSuperseded == nil {
		return true
	}
	return *c.MinimizeSuperseded
}

// GitConfig controls the local working copy used for conflict detection.
type GitConfig struct {
	// Workdir is the path to a local clone of the swept repository.
	// Conflict detection reads remote-tracking refs there; it never writes.
	Workdir string `json:"workdir,omitempty"`
	// Remote is the remote whose tracking refs are inspected.
	Remote string `json:"remote"`
	// Fetch runs "git fetch <remote>" before sweeping. Off by default: the
	// working copy being up to date is the caller's responsibility, and a
	// missing clone should not abort a sweep that may not need one.
	Fetch *bool `json:"fetch,omitempty"`
}

// ShouldFetch reports whether the remote is fetched before a sweep. Defaults to false.
func (g GitConfig) ShouldFetch() bool {
	return g.Fetch != nil && *g.Fetch
}

// HistoryConfig controls the local sweep history database and report archive.
type HistoryConfig struct {
	Enabled *bool  `json:"enabled,omitempty"`
	Dir     string `json:"dir,omitempty"`
}

// IsEnabled reports whether sweep history is recorded. Defaults to true.
func (h HistoryConfig) IsEnabled() bool {
	if h.Enabled == nil {
		return true
	}
	return *h.Enabled
}

// BaseDir returns the history base directory, falling back to the default
// data directory when unset.
func (h HistoryConfig) BaseDir() string {
	if h.Dir != "" {
		return expandHome(h.Dir)
	}
	return DataDir()
}

// DatabasePath returns the path of the sweep history SQLite database.
func (h HistoryConfig) DatabasePath() string {
	return filepath.Join(h.BaseDir(), "history.db")
}

// ReportsDir returns the directory holding archived sweep reports.
func (h HistoryConfig) ReportsDir() string {
	return filepath.Join(h.BaseDir(), "reports")
}

// WatchConfig holds serve-mode settings.
type WatchConfig struct {
	Interval string `json:"interval"`
	Addr     string `json:"addr"`
	LogFile  string `json:"log_file,omitempty"`
}

// ParseInterval returns the sweep interval as a time.Duration.
func (w WatchConfig) ParseInterval() time.Duration {
	d, err := time.ParseDuration(w.Interval)
	if err != nil {
		return 30 * time.Minute
	}
	return d
}

// Slug identifies a repository as owner/name.
type Slug struct {
	Owner string
	Name  string
}

// ParseSlug parses an "owner/name" repository reference. The split happens on
// the first slash; both halves must be non-empty.
func ParseSlug(s string) (Slug, error) {
	owner, name, ok := strings.Cut(s, "/")
	if !ok || owner == "" || name == "" {
		return Slug{}, fmt.Errorf("invalid repository %q: expected owner/repo format", s)
	}
	return Slug{Owner: owner, Name: name}, nil
}

func (s Slug) String() string {
	return s.Owner + "/" + s.Name
}

// DataDir returns the prsweep data directory ($XDG_DATA_HOME/prsweep, or
// ~/.local/share/prsweep).
func DataDir() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil || home == "" {
			return filepath.Join(os.TempDir(), "prsweep")
		}
		dataDir = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataDir, "prsweep")
}

// expandHome replaces a leading "~/" in a path with the user's home directory.
// If the path does not start with "~/" or the home directory cannot be
// determined, the path is returned unchanged.
func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") && path != "~" {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return path
	}
	if path == "~" {
		return home
	}
	return filepath.Join(home, path[2:])
}

func boolPtr(b bool) *bool {
	return &b
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Merge: MergeConfig{
			DeleteBranches: boolPtr(true),
		},
		Conflicts: ConflictsConfig{
			Comment:            boolPtr(true),
			MinimizeSuperseded: boolPtr(true),
		},
		Git: GitConfig{
			Workdir: ".",
			Remote:  "origin",
		},
		History: HistoryConfig{
			Enabled: boolPtr(true),
		},
		Watch: WatchConfig{
			Interval: "30m",
			Addr:     "127.0.0.1:4180",
		},
	}
}
