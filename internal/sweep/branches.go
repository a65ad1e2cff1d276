package sweep

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/branchbot/prsweep/internal/forge"
)

// ConflictsBranchName returns the ref name that isolates work from source.
// It is a pure function of the source branch name: the same source always
// maps to the same conflicts branch.
func ConflictsBranchName(source string) string {
	return "conflicts/" + source
}

// createConflictsBranch snapshots source's current head SHA onto a
// conflicts/ ref. A rejected API call (the ref already exists, the source
// branch is gone) yields "", nil; the caller records the failure and the
// run keeps going. Anything else aborts the run.
func (s *Sweeper) createConflictsBranch(ctx context.Context, source string) (string, error) {
	sha, err := s.forge.BranchHeadSHA(ctx, source)
	if err != nil {
		if forge.IsAPIError(err) {
			slog.Warn("could not read branch head", "branch", source, "error", err)
			return "", nil
		}
		return "", fmt.Errorf("reading head SHA of %s: %w", source, err)
	}

	name := ConflictsBranchName(source)
	if err := s.forge.CreateBranch(ctx, name, sha); err != nil {
		if forge.IsAPIError(err) {
			slog.Warn("could not create conflicts branch", "branch", name, "error", err)
			return "", nil
		}
		return "", fmt.Errorf("creating branch %s: %w", name, err)
	}
	return name, nil
}
