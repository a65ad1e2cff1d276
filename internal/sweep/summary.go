package sweep

import (
	"fmt"
	"io"
	"strings"
	"time"
)

// MergedRecord captures one pull request merged during a sweep.
type MergedRecord struct {
	Number        int    `json:"number"`
	Title         string `json:"title"`
	Branch        string `json:"branch"`
	BranchDeleted bool   `json:"branchDeleted"`
	Note          string `json:"note,omitempty"`
}

// ConflictRecord captures one pull request that could not be merged and was
// routed to a conflicts branch instead.
type ConflictRecord struct {
	Number          int      `json:"number"`
	Title           string   `json:"title"`
	Branch          string   `json:"branch"`
	ConflictsBranch string   `json:"conflictsBranch,omitempty"`
	Files           []string `json:"files,omitempty"`
	Note            string   `json:"note,omitempty"`
}

// Summary aggregates the outcome of one sweep over a repository's open pull
// requests. A PR number appears in at most one of the two record lists.
type Summary struct {
	Repo       string           `json:"repo"`
	Started    time.Time        `json:"started"`
	Finished   time.Time        `json:"finished"`
	Total      int              `json:"total"`
	Merged     []MergedRecord   `json:"merged"`
	Conflicted []ConflictRecord `json:"conflicted"`
}

// WriteText renders the human-readable closing report.
func (sum *Summary) WriteText(w io.Writer) {
	fmt.Fprintf(w, "\n%s\nSUMMARY\n%s\n\n", rule, rule)

	if len(sum.Merged) > 0 {
		fmt.Fprintln(w, "Successfully merged and deleted:")
		for _, m := range sum.Merged {
			note := ""
			if m.Note != "" {
				note = " (" + m.Note + ")"
			}
			fmt.Fprintf(w, "  - PR #%d: %s\n", m.Number, m.Title)
			fmt.Fprintf(w, "    Branch: %s%s\n", m.Branch, note)
		}
	} else {
		fmt.Fprintln(w, "Successfully merged and deleted: None")
	}

	fmt.Fprintln(w)

	if len(sum.Conflicted) > 0 {
		fmt.Fprintln(w, "Moved to conflicts branch:")
		for _, c := range sum.Conflicted {
			fmt.Fprintf(w, "  - PR #%d: %s\n", c.Number, c.Title)
			fmt.Fprintf(w, "    Original branch: %s\n", c.Branch)
			if c.ConflictsBranch != "" {
				fmt.Fprintf(w, "    Conflicts branch: %s\n", c.ConflictsBranch)
				if len(c.Files) > 0 {
					fmt.Fprintf(w, "    Conflicting files: %s\n", strings.Join(c.Files, ", "))
				}
			}
			if c.Note != "" {
				fmt.Fprintf(w, "    Note: %s\n", c.Note)
			}
		}
	} else {
		fmt.Fprintln(w, "Moved to conflicts branch: None")
	}
}
