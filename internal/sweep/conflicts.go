package sweep

import (
	"context"
	"log/slog"
	"regexp"
)

// branchNamePattern is the allow-list for branch names that may be passed
// to the local git tool. Names outside it could be read as options or
// injected arguments, so detection refuses to run on them.
var branchNamePattern = regexp.MustCompile(`^[a-zA-Z0-9/_.-]+$`)

// detectConflicts reports which files would conflict when merging head into
// base, by asking the local clone for a non-destructive three-way merge
// between the remote-tracking refs. It fails open: validation or tool
// failures degrade to an empty list with a logged warning, never an error.
// An empty result is therefore not proof of mergeability.
func (s *Sweeper) detectConflicts(ctx context.Context, base, head string) []string {
	if !branchNamePattern.MatchString(base) || !branchNamePattern.MatchString(head) {
		slog.Warn("invalid branch name format, skipping conflict detection",
			"base", base, "head", head)
		return nil
	}

	mergeBase, err := s.vcs.MergeBase(ctx, base, head)
	if err != nil {
		slog.Warn("could not determine merge base", "base", base, "head", head, "error", err)
		return nil
	}

	files, err := s.vcs.MergeTreeConflicts(ctx, mergeBase, base, head)
	if err != nil {
		slog.Warn("could not determine conflicting files", "base", base, "head", head, "error", err)
		return nil
	}
	return files
}
