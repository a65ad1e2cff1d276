package sweep

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/branchbot/prsweep/internal/config"
	"github.com/branchbot/prsweep/internal/forge"
)

func ptr[T any](v T) *T { return &v }

func apiErr(status int) error {
	return &forge.APIError{Op: "test call", StatusCode: status, Body: "rejected"}
}

// fakeForge is an in-memory forge that records every call in order.
type fakeForge struct {
	prs             []forge.PullRequest
	listErr         error
	defaultBranch   string
	defaultErr      error
	reports         map[int]forge.Mergeability
	reportErr       map[int]error
	mergeErr        map[int]error
	deleteErr       map[string]error
	headSHAs        map[string]string
	headSHAErr      map[string]error
	createErr       map[string]error
	postErr         map[int]error
	comments        map[int][]forge.Comment
	listCommentsErr error

	ops       []string
	deleted   []string
	created   map[string]string
	posted    map[int][]string
	minimized []string
}

func newFakeForge() *fakeForge {
	return &fakeForge{
		defaultBranch: "main",
		reports:       map[int]forge.Mergeability{},
		reportErr:     map[int]error{},
		mergeErr:      map[int]error{},
		deleteErr:     map[string]error{},
		headSHAs:      map[string]string{},
		headSHAErr:    map[string]error{},
		createErr:     map[string]error{},
		postErr:       map[int]error{},
		comments:      map[int][]forge.Comment{},
		created:       map[string]string{},
		posted:        map[int][]string{},
	}
}

func (f *fakeForge) Name() string            { return "fake" }
func (f *fakeForge) MatchesHost(string) bool { return false }

func (f *fakeForge) ListOpenPullRequests(ctx context.Context) ([]forge.PullRequest, error) {
	f.ops = append(f.ops, "list")
	return f.prs, f.listErr
}

func (f *fakeForge) DefaultBranch(ctx context.Context) (string, error) {
	f.ops = append(f.ops, "default-branch")
	return f.defaultBranch, f.defaultErr
}

func (f *fakeForge) Mergeability(ctx context.Context, number int) (forge.Mergeability, error) {
	f.ops = append(f.ops, fmt.Sprintf("report %d", number))
	if err := f.reportErr[number]; err != nil {
		return forge.Mergeability{}, err
	}
	return f.reports[number], nil
}

func (f *fakeForge) MergePullRequest(ctx context.Context, number int, commitMessage string) error {
	f.ops = append(f.ops, fmt.Sprintf("merge %d", number))
	return f.mergeErr[number]
}

func (f *fakeForge) DeleteBranch(ctx context.Context, branch string) error {
	f.ops = append(f.ops, "delete "+branch)
	if err := f.deleteErr[branch]; err != nil {
		return err
	}
	f.deleted = append(f.deleted, branch)
	return nil
}

func (f *fakeForge) BranchHeadSHA(ctx context.Context, branch string) (string, error) {
	f.ops = append(f.ops, "sha "+branch)
	if err := f.headSHAErr[branch]; err != nil {
		return "", err
	}
	if sha, ok := f.headSHAs[branch]; ok {
		return sha, nil
	}
	return "abc123", nil
}

func (f *fakeForge) CreateBranch(ctx context.Context, branch, sha string) error {
	f.ops = append(f.ops, "create "+branch)
	if err := f.createErr[branch]; err != nil {
		return err
	}
	f.created[branch] = sha
	return nil
}

func (f *fakeForge) PostComment(ctx context.Context, number int, body string) error {
	f.ops = append(f.ops, fmt.Sprintf("comment %d", number))
	if err := f.postErr[number]; err != nil {
		return err
	}
	f.posted[number] = append(f.posted[number], body)
	return nil
}

func (f *fakeForge) ListComments(ctx context.Context, number int) ([]forge.Comment, error) {
	f.ops = append(f.ops, fmt.Sprintf("list-comments %d", number))
	return f.comments[number], f.listCommentsErr
}

func (f *fakeForge) MinimizeComment(ctx context.Context, nodeID string) error {
	f.ops = append(f.ops, "minimize "+nodeID)
	f.minimized = append(f.minimized, nodeID)
	return nil
}

// fakeVCS answers merge ancestry queries from canned data.
type fakeVCS struct {
	mergeBase    string
	mergeBaseErr error
	files        []string
	filesErr     error
	calls        int
}

func (v *fakeVCS) MergeBase(ctx context.Context, base, head string) (string, error) {
	v.calls++
	if v.mergeBaseErr != nil {
		return "", v.mergeBaseErr
	}
	if v.mergeBase == "" {
		return "ancestor", nil
	}
	return v.mergeBase, nil
}

func (v *fakeVCS) MergeTreeConflicts(ctx context.Context, mergeBase, base, head string) ([]string, error) {
	v.calls++
	return v.files, v.filesErr
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Repo = "testowner/testrepo"
	return &cfg
}

func newTestSweeper(f *fakeForge, v VCS) (*Sweeper, *bytes.Buffer) {
	var buf bytes.Buffer
	return New(f, v, testConfig(), &buf), &buf
}

func TestRun_MergesCleanPR(t *testing.T) {
	f := newFakeForge()
	f.prs = []forge.PullRequest{{Number: 42, Title: "Add widget support", HeadBranch: "feature", BaseBranch: "main"}}
	f.reports[42] = forge.Mergeability{Mergeable: ptr(true), State: "clean"}

	s, out := newTestSweeper(f, &fakeVCS{})
	sum, err := s.Run(t.Context())
	require.NoError(t, err)

	require.Len(t, sum.Merged, 1)
	assert.Equal(t, MergedRecord{
		Number:        42,
		Title:         "Add widget support",
		Branch:        "feature",
		BranchDeleted: true,
	}, sum.Merged[0])
	assert.Empty(t, sum.Conflicted)
	assert.Equal(t, 1, sum.Total)
	assert.Equal(t, []string{"feature"}, f.deleted)

	assert.Contains(t, out.String(), "✓ Successfully merged PR #42")
	assert.Contains(t, out.String(), "✓ Successfully deleted branch feature")
	assert.Contains(t, out.String(), "SUMMARY")
}

func TestRun_IsolatesConflictedPR(t *testing.T) {
	f := newFakeForge()
	f.prs = []forge.PullRequest{{Number: 7, Title: "Fix the fizzbuzz", HeadBranch: "broken-fix", BaseBranch: "main"}}
	f.reports[7] = forge.Mergeability{Mergeable: ptr(false), State: "dirty"}
	v := &fakeVCS{files: []string{"src/a.py", "src/b.py"}}

	s, out := newTestSweeper(f, v)
	sum, err := s.Run(t.Context())
	require.NoError(t, err)

	assert.Empty(t, sum.Merged)
	require.Len(t, sum.Conflicted, 1)
	assert.Equal(t, ConflictRecord{
		Number:          7,
		Title:           "Fix the fizzbuzz",
		Branch:          "broken-fix",
		ConflictsBranch: "conflicts/broken-fix",
		Files:           []string{"src/a.py", "src/b.py"},
	}, sum.Conflicted[0])

	assert.Equal(t, "abc123", f.created["conflicts/broken-fix"])

	require.Len(t, f.posted[7], 1)
	body := f.posted[7][0]
	assert.Contains(t, body, "## Merge Conflicts Detected")
	assert.Contains(t, body, "merge conflicts with `main`")
	assert.Contains(t, body, "- `src/a.py`")
	assert.Contains(t, body, "- `src/b.py`")
	assert.Contains(t, body, "`conflicts/broken-fix`")

	assert.Contains(t, out.String(), "✗ PR has conflicts or is not mergeable")
	assert.Contains(t, out.String(), "✓ Created branch: conflicts/broken-fix")
}

func TestRun_MergeRejectionFallsThroughToConflicts(t *testing.T) {
	f := newFakeForge()
	f.prs = []forge.PullRequest{{Number: 9, Title: "Racy change", HeadBranch: "racy", BaseBranch: "main"}}
	f.reports[9] = forge.Mergeability{Mergeable: ptr(true), State: "clean"}
	f.mergeErr[9] = apiErr(405)

	s, out := newTestSweeper(f, &fakeVCS{})
	sum, err := s.Run(t.Context())
	require.NoError(t, err)

	assert.Empty(t, sum.Merged)
	require.Len(t, sum.Conflicted, 1)
	assert.Equal(t, "conflicts/racy", sum.Conflicted[0].ConflictsBranch)

	require.Len(t, f.posted[9], 1)
	assert.Contains(t, f.posted[9][0], "cannot be automatically merged into `main`")
	assert.Contains(t, out.String(), "✗ Failed to merge PR #9")
}

func TestRun_BranchCreationFailureSkipsDetectionAndComment(t *testing.T) {
	f := newFakeForge()
	f.prs = []forge.PullRequest{{Number: 7, Title: "Fix the fizzbuzz", HeadBranch: "broken-fix", BaseBranch: "main"}}
	f.reports[7] = forge.Mergeability{Mergeable: ptr(false), State: "dirty"}
	f.createErr["conflicts/broken-fix"] = apiErr(422)
	v := &fakeVCS{files: []string{"src/a.py"}}

	s, out := newTestSweeper(f, v)
	sum, err := s.Run(t.Context())
	require.NoError(t, err)

	require.Len(t, sum.Conflicted, 1)
	c := sum.Conflicted[0]
	assert.Empty(t, c.ConflictsBranch)
	assert.Empty(t, c.Files)
	assert.Equal(t, "Failed to create conflicts branch", c.Note)

	assert.Zero(t, v.calls)
	assert.Empty(t, f.posted)
	assert.Contains(t, out.String(), "✗ Failed to create conflicts branch")
}

func TestRun_NoOpenPRs(t *testing.T) {
	f := newFakeForge()

	s, out := newTestSweeper(f, &fakeVCS{})
	sum, err := s.Run(t.Context())
	require.NoError(t, err)

	assert.Zero(t, sum.Total)
	assert.Empty(t, sum.Merged)
	assert.Empty(t, sum.Conflicted)
	assert.Equal(t, []string{"list"}, f.ops)

	assert.Contains(t, out.String(), "No open pull requests found.")
	assert.NotContains(t, out.String(), "SUMMARY")
}

func TestRun_UnknownMergeabilityIsTreatedAsConflict(t *testing.T) {
	f := newFakeForge()
	f.prs = []forge.PullRequest{{Number: 3, Title: "Fresh PR", HeadBranch: "new-work", BaseBranch: "main"}}
	f.reports[3] = forge.Mergeability{Mergeable: nil, State: ""}

	s, out := newTestSweeper(f, &fakeVCS{})
	sum, err := s.Run(t.Context())
	require.NoError(t, err)

	assert.Empty(t, sum.Merged)
	require.Len(t, sum.Conflicted, 1)
	assert.Equal(t, "conflicts/new-work", sum.Conflicted[0].ConflictsBranch)
	assert.Contains(t, out.String(), "Mergeable: unknown, State: unknown")
}

func TestRun_BranchDeletionFailureIsNoted(t *testing.T) {
	f := newFakeForge()
	f.prs = []forge.PullRequest{{Number: 42, Title: "Add widget support", HeadBranch: "feature", BaseBranch: "main"}}
	f.reports[42] = forge.Mergeability{Mergeable: ptr(true), State: "clean"}
	f.deleteErr["feature"] = apiErr(422)

	s, out := newTestSweeper(f, &fakeVCS{})
	sum, err := s.Run(t.Context())
	require.NoError(t, err)

	require.Len(t, sum.Merged, 1)
	assert.False(t, sum.Merged[0].BranchDeleted)
	assert.Equal(t, "Merged but branch deletion failed", sum.Merged[0].Note)
	assert.Empty(t, sum.Conflicted)
	assert.Contains(t, out.String(), "✗ Failed to delete branch feature")
}

func TestRun_BranchDeletionDisabled(t *testing.T) {
	f := newFakeForge()
	f.prs = []forge.PullRequest{{Number: 42, Title: "Add widget support", HeadBranch: "feature", BaseBranch: "main"}}
	f.reports[42] = forge.Mergeability{Mergeable: ptr(true), State: "clean"}

	cfg := testConfig()
	cfg.Merge.DeleteBranches = ptr(false)
	s := New(f, &fakeVCS{}, cfg, nil)

	sum, err := s.Run(t.Context())
	require.NoError(t, err)

	require.Len(t, sum.Merged, 1)
	assert.False(t, sum.Merged[0].BranchDeleted)
	assert.Equal(t, "Branch deletion disabled", sum.Merged[0].Note)
	assert.NotContains(t, f.ops, "delete feature")
}

func TestRun_CommentRejectionIsTolerated(t *testing.T) {
	f := newFakeForge()
	f.prs = []forge.PullRequest{{Number: 7, Title: "Fix the fizzbuzz", HeadBranch: "broken-fix", BaseBranch: "main"}}
	f.reports[7] = forge.Mergeability{Mergeable: ptr(false), State: "dirty"}
	f.postErr[7] = apiErr(502)

	s, out := newTestSweeper(f, &fakeVCS{})
	sum, err := s.Run(t.Context())
	require.NoError(t, err)

	require.Len(t, sum.Conflicted, 1)
	assert.Equal(t, "conflicts/broken-fix", sum.Conflicted[0].ConflictsBranch)
	assert.Contains(t, out.String(), "✗ Failed to add comment to PR #7")
}

func TestRun_MinimizesPriorConflictReports(t *testing.T) {
	f := newFakeForge()
	f.prs = []forge.PullRequest{{Number: 7, Title: "Fix the fizzbuzz", HeadBranch: "broken-fix", BaseBranch: "main"}}
	f.reports[7] = forge.Mergeability{Mergeable: ptr(false), State: "dirty"}
	f.comments[7] = []forge.Comment{
		{ID: 100, NodeID: "IC_100", Body: "## Merge Conflicts Detected\n\nstale report"},
		{ID: 101, NodeID: "IC_101", Body: "LGTM once conflicts are sorted"},
	}

	s, _ := newTestSweeper(f, &fakeVCS{})
	_, err := s.Run(t.Context())
	require.NoError(t, err)

	assert.Equal(t, []string{"IC_100"}, f.minimized)
}

func TestRun_TransportErrorAbortsRun(t *testing.T) {
	f := newFakeForge()
	f.prs = []forge.PullRequest{
		{Number: 1, Title: "First", HeadBranch: "one", BaseBranch: "main"},
		{Number: 2, Title: "Second", HeadBranch: "two", BaseBranch: "main"},
	}
	f.reports[1] = forge.Mergeability{Mergeable: ptr(true), State: "clean"}
	f.reportErr[2] = errors.New("connection reset")

	s, _ := newTestSweeper(f, &fakeVCS{})
	sum, err := s.Run(t.Context())
	require.Error(t, err)
	assert.Nil(t, sum)
	assert.Contains(t, err.Error(), "mergeability of PR #2")
}

func TestRun_PayloadErrorAbortsRun(t *testing.T) {
	f := newFakeForge()
	f.prs = []forge.PullRequest{{Number: 7, Title: "Fix the fizzbuzz", HeadBranch: "broken-fix", BaseBranch: "main"}}
	f.reports[7] = forge.Mergeability{Mergeable: ptr(false), State: "dirty"}
	f.headSHAErr["broken-fix"] = &forge.PayloadError{Op: "get ref", Field: "object.sha"}

	s, _ := newTestSweeper(f, &fakeVCS{})
	sum, err := s.Run(t.Context())
	require.Error(t, err)
	assert.Nil(t, sum)

	var payloadErr *forge.PayloadError
	assert.ErrorAs(t, err, &payloadErr)
}

func TestRun_ListFailureAborts(t *testing.T) {
	f := newFakeForge()
	f.listErr = apiErr(401)

	s, _ := newTestSweeper(f, &fakeVCS{})
	_, err := s.Run(t.Context())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listing open pull requests")
}

func TestRun_DefaultBranchFailureAborts(t *testing.T) {
	f := newFakeForge()
	f.prs = []forge.PullRequest{{Number: 1, Title: "First", HeadBranch: "one", BaseBranch: "main"}}
	f.defaultErr = apiErr(500)

	s, _ := newTestSweeper(f, &fakeVCS{})
	_, err := s.Run(t.Context())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "default branch")
}

func TestRun_ProcessesInListingOrder(t *testing.T) {
	f := newFakeForge()
	f.prs = []forge.PullRequest{
		{Number: 11, Title: "First", HeadBranch: "feature-11", BaseBranch: "main"},
		{Number: 12, Title: "Second", HeadBranch: "bad-12", BaseBranch: "main"},
		{Number: 13, Title: "Third", HeadBranch: "feature-13", BaseBranch: "main"},
	}
	f.reports[11] = forge.Mergeability{Mergeable: ptr(true), State: "clean"}
	f.reports[12] = forge.Mergeability{Mergeable: ptr(false), State: "dirty"}
	f.reports[13] = forge.Mergeability{Mergeable: ptr(true), State: "clean"}

	s, _ := newTestSweeper(f, &fakeVCS{})
	sum, err := s.Run(t.Context())
	require.NoError(t, err)

	assert.Equal(t, []string{
		"list",
		"default-branch",
		"report 11", "merge 11", "delete feature-11",
		"report 12", "sha bad-12", "create conflicts/bad-12", "list-comments 12", "comment 12",
		"report 13", "merge 13", "delete feature-13",
	}, f.ops)

	// Each PR lands in exactly one record list.
	assert.Len(t, sum.Merged, 2)
	assert.Len(t, sum.Conflicted, 1)
	seen := map[int]int{}
	for _, m := range sum.Merged {
		seen[m.Number]++
	}
	for _, c := range sum.Conflicted {
		seen[c.Number]++
	}
	assert.Equal(t, map[int]int{11: 1, 12: 1, 13: 1}, seen)
}

func TestRun_EmitsEvents(t *testing.T) {
	f := newFakeForge()
	f.prs = []forge.PullRequest{
		{Number: 42, Title: "Add widget support", HeadBranch: "feature", BaseBranch: "main"},
		{Number: 7, Title: "Fix the fizzbuzz", HeadBranch: "broken-fix", BaseBranch: "main"},
	}
	f.reports[42] = forge.Mergeability{Mergeable: ptr(true), State: "clean"}
	f.reports[7] = forge.Mergeability{Mergeable: ptr(false), State: "dirty"}

	s, _ := newTestSweeper(f, &fakeVCS{})
	var kinds []string
	s.Notify = func(ev Event) {
		assert.Equal(t, "testowner/testrepo", ev.Repo)
		assert.False(t, ev.Time.IsZero())
		kinds = append(kinds, ev.Kind)
	}

	_, err := s.Run(t.Context())
	require.NoError(t, err)
	assert.Equal(t, []string{EventRunStarted, EventPRMerged, EventPRConflicted, EventRunFinished}, kinds)
}

func TestConflictsBranchName(t *testing.T) {
	assert.Equal(t, "conflicts/feature", ConflictsBranchName("feature"))
	assert.Equal(t, ConflictsBranchName("feature"), ConflictsBranchName("feature"))
	assert.Equal(t, "conflicts/feat/nested", ConflictsBranchName("feat/nested"))
}

func TestDetectConflicts(t *testing.T) {
	tests := []struct {
		name      string
		base      string
		head      string
		vcs       *fakeVCS
		want      []string
		wantCalls int
	}{
		{
			name: "conflicting files reported in order",
			base: "main", head: "broken-fix",
			vcs:       &fakeVCS{files: []string{"src/a.py", "src/b.py"}},
			want:      []string{"src/a.py", "src/b.py"},
			wantCalls: 2,
		},
		{
			name: "clean merge",
			base: "main", head: "feature",
			vcs:       &fakeVCS{},
			wantCalls: 2,
		},
		{
			name: "invalid head name skips the tool",
			base: "main", head: "bad branch!",
			vcs:       &fakeVCS{files: []string{"src/a.py"}},
			wantCalls: 0,
		},
		{
			name: "invalid base name skips the tool",
			base: "main;rm -rf", head: "feature",
			vcs:       &fakeVCS{files: []string{"src/a.py"}},
			wantCalls: 0,
		},
		{
			name: "merge base failure fails open",
			base: "main", head: "orphan",
			vcs:       &fakeVCS{mergeBaseErr: errors.New("no common ancestor")},
			wantCalls: 1,
		},
		{
			name: "merge tree failure fails open",
			base: "main", head: "feature",
			vcs:       &fakeVCS{filesErr: errors.New("boom")},
			wantCalls: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(newFakeForge(), tt.vcs, testConfig(), nil)
			got := s.detectConflicts(t.Context(), tt.base, tt.head)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantCalls, tt.vcs.calls)
		})
	}
}

func TestConflictComment_WithFiles(t *testing.T) {
	want := "## Merge Conflicts Detected\n\n" +
		"This PR has merge conflicts with `main`.\n\n" +
		"**Conflicting files:**\n" +
		"- `src/a.py`\n" +
		"- `src/b.py`\n\n" +
		"A conflicts branch has been created: `conflicts/broken-fix`\n\n" +
		"Please resolve the conflicts and update this PR."
	got := conflictComment("main", "conflicts/broken-fix", []string{"src/a.py", "src/b.py"})
	assert.Equal(t, want, got)
}

func TestConflictComment_NoFiles(t *testing.T) {
	want := "## Merge Conflicts Detected\n\n" +
		"This PR cannot be automatically merged into `main`.\n\n" +
		"A conflicts branch has been created: `conflicts/mystery`\n\n" +
		"Please resolve the conflicts and update this PR."
	assert.Equal(t, want, conflictComment("main", "conflicts/mystery", nil))
}

func TestSummaryWriteText(t *testing.T) {
	sum := &Summary{
		Merged: []MergedRecord{
			{Number: 42, Title: "Add widget support", Branch: "feature", Note: "Merged but branch deletion failed"},
		},
		Conflicted: []ConflictRecord{
			{Number: 7, Title: "Fix the fizzbuzz", Branch: "broken-fix",
				ConflictsBranch: "conflicts/broken-fix", Files: []string{"src/a.py", "src/b.py"}},
		},
	}

	var buf bytes.Buffer
	sum.WriteText(&buf)

	want := "\n" + rule + "\nSUMMARY\n" + rule + "\n\n" +
		"Successfully merged and deleted:\n" +
		"  - PR #42: Add widget support\n" +
		"    Branch: feature (Merged but branch deletion failed)\n" +
		"\n" +
		"Moved to conflicts branch:\n" +
		"  - PR #7: Fix the fizzbuzz\n" +
		"    Original branch: broken-fix\n" +
		"    Conflicts branch: conflicts/broken-fix\n" +
		"    Conflicting files: src/a.py, src/b.py\n"
	assert.Equal(t, want, buf.String())
}

func TestSummaryWriteText_Empty(t *testing.T) {
	var buf bytes.Buffer
	(&Summary{}).WriteText(&buf)

	want := "\n" + rule + "\nSUMMARY\n" + rule + "\n\n" +
		"Successfully merged and deleted: None\n" +
		"\n" +
		"Moved to conflicts branch: None\n"
	assert.Equal(t, want, buf.String())
}
