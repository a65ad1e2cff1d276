// Package sweep implements the reconciliation pass over a repository's open
// pull requests: mergeable PRs are merged and their branches cleaned up,
// conflicted ones are isolated on a conflicts/ branch and reported back on
// the PR. One Run produces one Summary.
package sweep

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/branchbot/prsweep/internal/config"
	"github.com/branchbot/prsweep/internal/forge"
)

// rule separates report sections in progress output.
var rule = strings.Repeat("=", 80)

// VCS computes merge ancestry against a local clone. Implementations must
// be read-only: a sweep never writes through this interface.
type VCS interface {
	// MergeBase returns the common ancestor of the remote-tracking refs
	// for base and head.
	MergeBase(ctx context.Context, base, head string) (string, error)
	// MergeTreeConflicts returns the paths that change on both sides when
	// head is merged into base, given their common ancestor.
	MergeTreeConflicts(ctx context.Context, mergeBase, base, head string) ([]string, error)
}

// Sweeper drives one reconciliation pass at a time. PRs are processed
// strictly in listing order; nothing here runs concurrently.
type Sweeper struct {
	forge forge.Forge
	vcs   VCS
	cfg   *config.Config
	out   io.Writer

	// Notify, when set, receives progress events as the sweep proceeds.
	Notify func(Event)
}

// New returns a Sweeper writing progress output to out. A nil out discards
// progress text.
func New(f forge.Forge, vcs VCS, cfg *config.Config, out io.Writer) *Sweeper {
	if out == nil {
		out = io.Discard
	}
	return &Sweeper{forge: f, vcs: vcs, cfg: cfg, out: out}
}

// Run fetches all open pull requests and processes each one to a terminal
// state, then reports the aggregate Summary. Per-PR API rejections are
// expected outcomes and never abort the run; payload or transport errors
// do, and the partial results are discarded.
func (s *Sweeper) Run(ctx context.Context) (*Summary, error) {
	started := time.Now()
	fmt.Fprintf(s.out, "PR sweep for %s\n%s\n\n", s.cfg.Repo, rule)
	s.emit(Event{Kind: EventRunStarted})

	fmt.Fprintln(s.out, "Fetching open pull requests...")
	prs, err := s.forge.ListOpenPullRequests(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing open pull requests: %w", err)
	}

	summary := &Summary{Repo: s.cfg.Repo, Started: started, Total: len(prs)}
	if len(prs) == 0 {
		fmt.Fprintln(s.out, "No open pull requests found.")
		summary.Finished = time.Now()
		s.emit(Event{Kind: EventRunFinished, Detail: "no open pull requests"})
		return summary, nil
	}

	fmt.Fprintf(s.out, "Found %d open PR(s)\n\n", len(prs))

	defaultBranch, err := s.forge.DefaultBranch(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading default branch: %w", err)
	}
	fmt.Fprintf(s.out, "Default branch: %s\n\n", defaultBranch)

	for _, pr := range prs {
		if err := s.processPR(ctx, pr, summary); err != nil {
			return nil, err
		}
	}

	summary.Finished = time.Now()
	summary.WriteText(s.out)
	s.emit(Event{
		Kind:   EventRunFinished,
		Detail: fmt.Sprintf("%d merged, %d conflicted", len(summary.Merged), len(summary.Conflicted)),
	})
	return summary, nil
}

// processPR takes one pull request to a terminal state and appends exactly
// one record to the summary.
func (s *Sweeper) processPR(ctx context.Context, pr forge.PullRequest, summary *Summary) error {
	fmt.Fprintf(s.out, "\n%s\n", rule)
	fmt.Fprintf(s.out, "Processing PR #%d: %s\n", pr.Number, pr.Title)
	fmt.Fprintf(s.out, "  Branch: %s -> %s\n", pr.HeadBranch, pr.BaseBranch)

	report, err := s.forge.Mergeability(ctx, pr.Number)
	if err != nil {
		return fmt.Errorf("reading mergeability of PR #%d: %w", pr.Number, err)
	}
	fmt.Fprintf(s.out, "  Mergeable: %s, State: %s\n", report.MergeableLabel(), report.StateLabel())

	if report.CanMerge() {
		merged, err := s.mergePR(ctx, pr, summary)
		if err != nil {
			return err
		}
		if merged {
			return nil
		}
		// Merge rejected despite a clean report: treat like a conflict.
	} else {
		fmt.Fprintln(s.out, "  ✗ PR has conflicts or is not mergeable")
	}

	return s.isolatePR(ctx, pr, summary)
}

// mergePR attempts the merge and, on success, the best-effort branch
// cleanup. It returns false with a nil error when the merge call was
// rejected by the service, which routes the PR into conflict handling.
func (s *Sweeper) mergePR(ctx context.Context, pr forge.PullRequest, summary *Summary) (bool, error) {
	fmt.Fprintln(s.out, "  Attempting to merge...")
	if err := s.forge.MergePullRequest(ctx, pr.Number, s.cfg.Merge.CommitMessage); err != nil {
		if !forge.IsAPIError(err) {
			return false, fmt.Errorf("merging PR #%d: %w", pr.Number, err)
		}
		fmt.Fprintf(s.out, "  ✗ Failed to merge PR #%d\n", pr.Number)
		slog.Warn("merge rejected", "pr", pr.Number, "error", err)
		return false, nil
	}
	fmt.Fprintf(s.out, "  ✓ Successfully merged PR #%d\n", pr.Number)

	rec := MergedRecord{Number: pr.Number, Title: pr.Title, Branch: pr.HeadBranch}
	if s.cfg.Merge.ShouldDeleteBranches() {
		fmt.Fprintf(s.out, "  Deleting branch %s...\n", pr.HeadBranch)
		if err := s.forge.DeleteBranch(ctx, pr.HeadBranch); err != nil {
			if !forge.IsAPIError(err) {
				return false, fmt.Errorf("deleting branch %s: %w", pr.HeadBranch, err)
			}
			fmt.Fprintf(s.out, "  ✗ Failed to delete branch %s\n", pr.HeadBranch)
			slog.Warn("branch deletion failed", "branch", pr.HeadBranch, "error", err)
			rec.Note = "Merged but branch deletion failed"
		} else {
			fmt.Fprintf(s.out, "  ✓ Successfully deleted branch %s\n", pr.HeadBranch)
			rec.BranchDeleted = true
		}
	} else {
		rec.Note = "Branch deletion disabled"
	}

	summary.Merged = append(summary.Merged, rec)
	s.emit(Event{Kind: EventPRMerged, Number: pr.Number, Title: pr.Title, Detail: pr.HeadBranch})
	return true, nil
}

// isolatePR handles a PR that cannot be merged: snapshot its head onto a
// conflicts branch, work out the offending files, and report them back on
// the PR.
func (s *Sweeper) isolatePR(ctx context.Context, pr forge.PullRequest, summary *Summary) error {
	rec := ConflictRecord{Number: pr.Number, Title: pr.Title, Branch: pr.HeadBranch}

	fmt.Fprintln(s.out, "  Creating conflicts branch...")
	conflictsBranch, err := s.createConflictsBranch(ctx, pr.HeadBranch)
	if err != nil {
		return err
	}
	if conflictsBranch == "" {
		fmt.Fprintln(s.out, "  ✗ Failed to create conflicts branch")
		rec.Note = "Failed to create conflicts branch"
		summary.Conflicted = append(summary.Conflicted, rec)
		s.emit(Event{Kind: EventPRFailed, Number: pr.Number, Title: pr.Title, Detail: rec.Note})
		return nil
	}
	fmt.Fprintf(s.out, "  ✓ Created branch: %s\n", conflictsBranch)
	rec.ConflictsBranch = conflictsBranch

	rec.Files = s.detectConflicts(ctx, pr.BaseBranch, pr.HeadBranch)

	if s.cfg.Conflicts.ShouldComment() {
		if s.cfg.Conflicts.ShouldMinimize() {
			s.minimizeStaleComments(ctx, pr.Number)
		}
		fmt.Fprintln(s.out, "  Adding comment to PR...")
		body := conflictComment(pr.BaseBranch, conflictsBranch, rec.Files)
		if err := s.postComment(ctx, pr.Number, body); err != nil {
			return err
		}
	}

	summary.Conflicted = append(summary.Conflicted, rec)
	s.emit(Event{Kind: EventPRConflicted, Number: pr.Number, Title: pr.Title, Detail: conflictsBranch})
	return nil
}

// postComment posts body on the PR. Rejections are logged and tolerated:
// the conflict record stands whether or not the report landed.
func (s *Sweeper) postComment(ctx context.Context, number int, body string) error {
	if err := s.forge.PostComment(ctx, number, body); err != nil {
		if !forge.IsAPIError(err) {
			return fmt.Errorf("commenting on PR #%d: %w", number, err)
		}
		fmt.Fprintf(s.out, "  ✗ Failed to add comment to PR #%d\n", number)
		slog.Warn("comment failed", "pr", number, "error", err)
		return nil
	}
	fmt.Fprintf(s.out, "  ✓ Comment added to PR #%d\n", number)
	return nil
}
