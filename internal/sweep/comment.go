package sweep

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// conflictCommentHeader opens every conflict report comment. It doubles as
// the marker for recognizing our own earlier reports on the same PR.
const conflictCommentHeader = "## Merge Conflicts Detected"

// conflictComment builds the Markdown body posted on a conflicted PR.
func conflictComment(baseBranch, conflictsBranch string, files []string) string {
	var b strings.Builder
	b.WriteString(conflictCommentHeader)
	b.WriteString("\n\n")

	if len(files) > 0 {
		fmt.Fprintf(&b, "This PR has merge conflicts with `%s`.\n\n", baseBranch)
		b.WriteString("**Conflicting files:**\n")
		for _, f := range files {
			fmt.Fprintf(&b, "- `%s`\n", f)
		}
		b.WriteString("\n")
	} else {
		fmt.Fprintf(&b, "This PR cannot be automatically merged into `%s`.\n\n", baseBranch)
	}

	fmt.Fprintf(&b, "A conflicts branch has been created: `%s`\n\n", conflictsBranch)
	b.WriteString("Please resolve the conflicts and update this PR.")
	return b.String()
}

// minimizeStaleComments collapses earlier conflict reports on the PR so
// reviewers only see the current one. Best effort: failures are logged and
// skipped.
func (s *Sweeper) minimizeStaleComments(ctx context.Context, number int) {
	comments, err := s.forge.ListComments(ctx, number)
	if err != nil {
		slog.Warn("could not list comments", "pr", number, "error", err)
		return
	}
	for _, c := range comments {
		if c.NodeID == "" || !strings.HasPrefix(c.Body, conflictCommentHeader) {
			continue
		}
		if err := s.forge.MinimizeComment(ctx, c.NodeID); err != nil {
			slog.Warn("could not minimize comment", "pr", number, "comment", c.ID, "error", err)
		}
	}
}
