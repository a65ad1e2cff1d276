// Package github implements the forge.Forge interface against the GitHub
// REST and GraphQL APIs.
package github

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	github_ratelimit "github.com/gofri/go-github-ratelimit/v2/github_ratelimit"
	gh "github.com/google/go-github/v82/github"
	"github.com/shurcooL/githubv4"
	"golang.org/x/oauth2"

	"github.com/branchbot/prsweep/internal/forge"
)

// Backend implements forge.Forge for GitHub. It is bound to a single
// owner/repo pair for its lifetime.
type Backend struct {
	client    *gh.Client
	gqlOnce   sync.Once
	gqlClient *githubv4.Client
	owner     string
	repo      string
	token     string
	baseURL   string // override for testing
}

// NewBackend creates a GitHub backend for the given owner/repo.
// Uses go-github-ratelimit middleware for automatic rate limit handling;
// a failed call is still never retried, the middleware only paces requests.
func NewBackend(owner, repo, token string) *Backend {
	rateLimiter := github_ratelimit.NewClient(nil)
	client := gh.NewClient(rateLimiter).WithAuthToken(token)
	return &Backend{
		client: client,
		owner:  owner,
		repo:   repo,
		token:  token,
	}
}

// Name returns "github".
func (b *Backend) Name() string {
	return "github"
}

// MatchesHost returns true if the hostname belongs to GitHub.
func (b *Backend) MatchesHost(host string) bool {
	host = strings.ToLower(host)
	return host == "github.com" || host == "www.github.com"
}

// ListOpenPullRequests returns all open PRs in listing order, paginating as
// needed.
func (b *Backend) ListOpenPullRequests(ctx context.Context) ([]forge.PullRequest, error) {
	const op = "list open pull requests"

	opts := &gh.PullRequestListOptions{
		State:       "open",
		ListOptions: gh.ListOptions{PerPage: 100},
	}
	var all []forge.PullRequest
	for {
		prs, resp, err := b.client.PullRequests.List(ctx, b.owner, b.repo, opts)
		if err != nil {
			return nil, apiError(op, resp, err)
		}
		for _, pr := range prs {
			rec, err := toPullRequest(op, pr)
			if err != nil {
				return nil, err
			}
			all = append(all, rec)
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return all, nil
}

// DefaultBranch returns the repository's default branch.
func (b *Backend) DefaultBranch(ctx context.Context) (string, error) {
	const op = "get default branch"

	repo, resp, err := b.client.Repositories.Get(ctx, b.owner, b.repo)
	if err != nil {
		return "", apiError(op, resp, err)
	}
	if repo.DefaultBranch == nil {
		return "", &forge.PayloadError{Op: op, Field: "default_branch"}
	}
	return *repo.DefaultBranch, nil
}

// Mergeability returns GitHub's current verdict for the PR. Both fields may
// be unset while GitHub is still computing the merge commit.
func (b *Backend) Mergeability(ctx context.Context, number int) (forge.Mergeability, error) {
	const op = "get mergeability"

	pr, resp, err := b.client.PullRequests.Get(ctx, b.owner, b.repo, number)
	if err != nil {
		return forge.Mergeability{}, apiError(op, resp, err)
	}
	return forge.Mergeability{
		Mergeable: pr.Mergeable,
		State:     pr.GetMergeableState(),
	}, nil
}

// MergePullRequest merges the PR with an ordinary merge commit.
func (b *Backend) MergePullRequest(ctx context.Context, number int, commitMessage string) error {
	const op = "merge pull request"

	opts := &gh.PullRequestOptions{MergeMethod: "merge"}
	_, resp, err := b.client.PullRequests.Merge(ctx, b.owner, b.repo, number, commitMessage, opts)
	if err != nil {
		return apiError(op, resp, err)
	}
	return nil
}

// DeleteBranch deletes refs/heads/<branch>.
func (b *Backend) DeleteBranch(ctx context.Context, branch string) error {
	const op = "delete branch"

	resp, err := b.client.Git.DeleteRef(ctx, b.owner, b.repo, "heads/"+branch)
	if err != nil {
		return apiError(op, resp, err)
	}
	return nil
}

// BranchHeadSHA returns the commit SHA at the tip of the branch.
func (b *Backend) BranchHeadSHA(ctx context.Context, branch string) (string, error) {
	const op = "get branch head"

	ref, resp, err := b.client.Git.GetRef(ctx, b.owner, b.repo, "heads/"+branch)
	if err != nil {
		return "", apiError(op, resp, err)
	}
	sha := ref.GetObject().GetSHA()
	if sha == "" {
		return "", &forge.PayloadError{Op: op, Field: "object.sha"}
	}
	return sha, nil
}

// CreateBranch creates refs/heads/<branch> at the given SHA.
func (b *Backend) CreateBranch(ctx context.Context, branch, sha string) error {
	const op = "create branch"

	ref := gh.CreateRef{
		Ref: "refs/heads/" + branch,
		SHA: sha,
	}
	_, resp, err := b.client.Git.CreateRef(ctx, b.owner, b.repo, ref)
	if err != nil {
		return apiError(op, resp, err)
	}
	return nil
}

// PostComment posts an issue comment on the PR.
func (b *Backend) PostComment(ctx context.Context, number int, body string) error {
	const op = "post comment"

	comment := &gh.IssueComment{Body: gh.Ptr(body)}
	_, resp, err := b.client.Issues.CreateComment(ctx, b.owner, b.repo, number, comment)
	if err != nil {
		return apiError(op, resp, err)
	}
	return nil
}

// ListComments returns the PR's issue comments, oldest first, paginating as
// needed.
func (b *Backend) ListComments(ctx context.Context, number int) ([]forge.Comment, error) {
	const op = "list comments"

	opts := &gh.IssueListCommentsOptions{
		ListOptions: gh.ListOptions{PerPage: 100},
	}
	var all []forge.Comment
	for {
		comments, resp, err := b.client.Issues.ListComments(ctx, b.owner, b.repo, number, opts)
		if err != nil {
			return nil, apiError(op, resp, err)
		}
		for _, c := range comments {
			all = append(all, forge.Comment{
				ID:     c.GetID(),
				NodeID: c.GetNodeID(),
				Body:   c.GetBody(),
			})
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return all, nil
}

// MinimizeComment collapses a comment as outdated using the GraphQL API.
// nodeID is the comment's node ID (e.g., "IC_..."). The REST API has no
// endpoint for minimizing comments, so this is the one GraphQL call we make.
func (b *Backend) MinimizeComment(ctx context.Context, nodeID string) error {
	gql := b.getGraphQLClient(ctx)

	var mutation struct {
		MinimizeComment struct {
			MinimizedComment struct {
				IsMinimized bool
			}
		} `graphql:"minimizeComment(input: $input)"`
	}

	input := githubv4.MinimizeCommentInput{
		SubjectID:  githubv4.ID(nodeID),
		Classifier: githubv4.ReportedContentClassifiersOutdated,
	}

	if err := gql.Mutate(ctx, &mutation, input, nil); err != nil {
		return fmt.Errorf("failed to minimize comment: %w", err)
	}
	return nil
}

// getGraphQLClient returns (and lazily creates) the GitHub GraphQL client.
func (b *Backend) getGraphQLClient(ctx context.Context) *githubv4.Client {
	b.gqlOnce.Do(func() {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: b.token})
		httpClient := oauth2.NewClient(ctx, ts)
		if b.baseURL != "" {
			b.gqlClient = githubv4.NewEnterpriseClient(b.baseURL+"/api/graphql", httpClient)
		} else {
			b.gqlClient = githubv4.NewClient(httpClient)
		}
	})
	return b.gqlClient
}

// toPullRequest converts a go-github PR into the forge record, failing loudly
// when a field the sweeper depends on is absent.
func toPullRequest(op string, pr *gh.PullRequest) (forge.PullRequest, error) {
	if pr.Number == nil {
		return forge.PullRequest{}, &forge.PayloadError{Op: op, Field: "number"}
	}
	if pr.Head == nil || pr.Head.Ref == nil {
		return forge.PullRequest{}, &forge.PayloadError{Op: op, Field: "head.ref"}
	}
	if pr.Base == nil || pr.Base.Ref == nil {
		return forge.PullRequest{}, &forge.PayloadError{Op: op, Field: "base.ref"}
	}
	return forge.PullRequest{
		Number:     *pr.Number,
		Title:      pr.GetTitle(),
		HeadBranch: *pr.Head.Ref,
		BaseBranch: *pr.Base.Ref,
		Author:     pr.GetUser().GetLogin(),
		URL:        pr.GetHTMLURL(),
	}, nil
}

// apiError converts a failed go-github call into a *forge.APIError when the
// service answered with a non-2xx status. Transport-level failures (DNS,
// timeouts, canceled contexts) pass through wrapped so they keep aborting the
// run as unexpected errors.
func apiError(op string, resp *gh.Response, err error) error {
	var ghErr *gh.ErrorResponse
	if errors.As(err, &ghErr) {
		status := 0
		if ghErr.Response != nil {
			status = ghErr.Response.StatusCode
		}
		return &forge.APIError{Op: op, StatusCode: status, Body: ghErr.Message, Err: err}
	}
	if resp != nil && (resp.StatusCode < 200 || resp.StatusCode >= 300) {
		return &forge.APIError{Op: op, StatusCode: resp.StatusCode, Err: err}
	}
	return fmt.Errorf("%s: %w", op, err)
}
