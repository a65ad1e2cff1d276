// Package forge defines the hosting-service abstraction the sweeper drives.
// A backend is bound to one repository at construction time and performs the
// provider-specific API calls for PR listing, mergeability, merging, branch
// lifecycle, and commenting.
package forge

import "context"

// Forge is the interface for pull request hosting backends.
type Forge interface {
	// Name returns the short identifier for this backend (e.g., "github").
	Name() string

	// MatchesHost returns true if the given hostname belongs to this
	// backend's hosting service.
	MatchesHost(host string) bool

	// ListOpenPullRequests returns every open PR of the bound repository, in
	// the order the hosting service lists them.
	ListOpenPullRequests(ctx context.Context) ([]PullRequest, error)

	// DefaultBranch returns the repository's default branch name.
	DefaultBranch(ctx context.Context) (string, error)

	// Mergeability returns the hosting service's current mergeability verdict
	// for a PR. The verdict is computed asynchronously server-side and may
	// still be pending.
	Mergeability(ctx context.Context, number int) (Mergeability, error)

	// MergePullRequest merges a PR with a single ordinary merge commit.
	// commitMessage is optional; empty means the service default.
	MergePullRequest(ctx context.Context, number int, commitMessage string) error

	// DeleteBranch deletes the ref refs/heads/<branch>.
	DeleteBranch(ctx context.Context, branch string) error

	// BranchHeadSHA returns the commit SHA at the tip of a branch.
	BranchHeadSHA(ctx context.Context, branch string) (string, error)

	// CreateBranch creates refs/heads/<branch> pointing at sha.
	CreateBranch(ctx context.Context, branch, sha string) error

	// PostComment posts an issue comment on a PR.
	PostComment(ctx context.Context, number int, body string) error

	// ListComments returns the issue comments on a PR, oldest first.
	ListComments(ctx context.Context, number int) ([]Comment, error)

	// MinimizeComment collapses a comment as outdated. nodeID is the
	// comment's GraphQL node ID.
	MinimizeComment(ctx context.Context, nodeID string) error
}

// PullRequest is an immutable snapshot of an open PR, fetched once per sweep.
type PullRequest struct {
	Number     int    `json:"number"`
	Title      string `json:"title"`
	HeadBranch string `json:"head_branch"`
	BaseBranch string `json:"base_branch"`
	Author     string `json:"author,omitempty"`
	URL        string `json:"url,omitempty"`
}

// Mergeability is the hosting service's verdict on whether a PR merges
// cleanly into its base.
type Mergeability struct {
	// Mergeable is nil while the service is still computing the verdict.
	Mergeable *bool
	// State is the service's status string ("clean", "dirty", "unknown", ...);
	// empty when the service omitted it.
	State string
}

// CanMerge reports a definite yes. A pending verdict (nil) counts as no: PRs
// still being evaluated are routed to conflict handling rather than polled.
func (m Mergeability) CanMerge() bool {
	return m.Mergeable != nil && *m.Mergeable
}

// MergeableLabel renders the tri-state verdict for progress output.
func (m Mergeability) MergeableLabel() string {
	if m.Mergeable == nil {
		return "unknown"
	}
	if *m.Mergeable {
		return "true"
	}
	return "false"
}

// StateLabel renders the state string for progress output.
func (m Mergeability) StateLabel() string {
	if m.State == "" {
		return "unknown"
	}
	return m.State
}

// Comment is an issue comment on a PR.
type Comment struct {
	ID     int64
	NodeID string
	Body   string
}
