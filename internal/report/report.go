// Package report archives sweep results as markdown documents with YAML
// frontmatter, one file per run. The files are plain enough to commit to a
// repo or drop into a wiki, and the frontmatter keeps them machine-readable.
package report

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/branchbot/prsweep/internal/sweep"
)

// Archive writes and reads run reports under a single directory.
type Archive struct {
	dir string
}

// NewArchive returns an archive rooted at dir. The directory is created on
// first write.
func NewArchive(dir string) *Archive {
	return &Archive{dir: dir}
}

// Path returns the report path for a run ID.
func (a *Archive) Path(runID int64) string {
	return filepath.Join(a.dir, fmt.Sprintf("run-%d.md", runID))
}

// WriteRun renders sum as a markdown report and writes it atomically under a
// file lock. Writing the same run ID again replaces the report.
func (a *Archive) WriteRun(runID int64, sum *sweep.Summary) (string, error) {
	if err := os.MkdirAll(a.dir, 0755); err != nil {
		return "", fmt.Errorf("creating reports directory: %w", err)
	}

	doc := &Document{
		Frontmatter: map[string]any{
			"repo":       sum.Repo,
			"run":        runID,
			"started":    sum.Started.Format(time.RFC3339),
			"finished":   sum.Finished.Format(time.RFC3339),
			"total":      sum.Total,
			"merged":     len(sum.Merged),
			"conflicted": len(sum.Conflicted),
		},
		Body: renderBody(sum),
	}

	path := a.Path(runID)
	err := WithLock(path, DefaultLockTimeout, func() error {
		return WriteDocument(path, doc)
	})
	if err != nil {
		return "", err
	}
	return path, nil
}

// ReadRun loads an archived report.
func (a *Archive) ReadRun(runID int64) (*Document, error) {
	path := a.Path(runID)
	var doc *Document
	err := WithReadLock(path, DefaultLockTimeout, func() error {
		var readErr error
		doc, readErr = ReadDocument(path)
		return readErr
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func renderBody(sum *sweep.Summary) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Sweep report for %s\n\n", sum.Repo)
	fmt.Fprintf(&b, "Examined %d open pull request(s): %d merged, %d conflicted.\n",
		sum.Total, len(sum.Merged), len(sum.Conflicted))

	b.WriteString("\n## Merged\n\n")
	if len(sum.Merged) == 0 {
		b.WriteString("None.\n")
	}
	for _, m := range sum.Merged {
		state := "kept"
		if m.BranchDeleted {
			state = "deleted"
		}
		fmt.Fprintf(&b, "- PR #%d: %s (branch `%s`, %s)\n", m.Number, m.Title, m.Branch, state)
		if m.Note != "" {
			fmt.Fprintf(&b, "  - Note: %s\n", m.Note)
		}
	}

	b.WriteString("\n## Conflicted\n\n")
	if len(sum.Conflicted) == 0 {
		b.WriteString("None.\n")
	}
	for _, c := range sum.Conflicted {
		if c.ConflictsBranch != "" {
			fmt.Fprintf(&b, "- PR #%d: %s (`%s` isolated on `%s`)\n", c.Number, c.Title, c.Branch, c.ConflictsBranch)
		} else {
			fmt.Fprintf(&b, "- PR #%d: %s (`%s`)\n", c.Number, c.Title, c.Branch)
		}
		for _, f := range c.Files {
			fmt.Fprintf(&b, "  - `%s`\n", f)
		}
		if c.Note != "" {
			fmt.Fprintf(&b, "  - Note: %s\n", c.Note)
		}
	}

	return b.String()
}
