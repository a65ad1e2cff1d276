// Package repo shells out to git for read-only history inspection of a
// local clone. Nothing in this package writes to the index, the working
// tree, or any ref.
package repo

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// defaultTimeout bounds a single git invocation when the caller's context
// carries no deadline.
const defaultTimeout = 2 * time.Minute

// GitError carries the argv and captured output of a failed git invocation.
// ExitCode is the process exit status, or -1 when git never ran (missing
// binary, bad directory, context cancelled).
type GitError struct {
	Args     []string
	Stdout   string
	Stderr   string
	ExitCode int
	Err      error
}

func (e *GitError) Error() string {
	msg := fmt.Sprintf("git %s: %v", strings.Join(e.Args, " "), e.Err)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + s
	}
	return msg
}

func (e *GitError) Unwrap() error {
	return e.Err
}

// Repo is a handle on a local git working copy.
type Repo struct {
	dir    string
	remote string
}

// New returns a Repo rooted at dir. An empty remote defaults to "origin".
func New(dir, remote string) *Repo {
	if remote == "" {
		remote = "origin"
	}
	return &Repo{dir: dir, remote: remote}
}

// Dir returns the working copy root the Repo was created with.
func (r *Repo) Dir() string {
	return r.dir
}

// Remote returns the remote name used for tracking refs.
func (r *Repo) Remote() string {
	return r.remote
}

// IsWorkTree reports whether the Repo's directory is inside a git working
// tree.
func (r *Repo) IsWorkTree(ctx context.Context) bool {
	_, err := r.run(ctx, "rev-parse", "--is-inside-work-tree")
	return err == nil
}

// Fetch updates remote-tracking refs so merge-base and merge-tree see the
// same history the hosting service does.
func (r *Repo) Fetch(ctx context.Context) error {
	_, err := r.run(ctx, "fetch", r.remote, "--prune")
	return err
}

// MergeBase returns the best common ancestor of the remote-tracking refs
// for base and head.
func (r *Repo) MergeBase(ctx context.Context, base, head string) (string, error) {
	return r.run(ctx, "merge-base", r.remote+"/"+base, r.remote+"/"+head)
}

// MergeTreeConflicts performs a trivial three-way tree merge rooted at
// mergeBase and returns the paths changed on both sides, in the order the
// merge listing reports them.
func (r *Repo) MergeTreeConflicts(ctx context.Context, mergeBase, base, head string) ([]string, error) {
	out, err := r.runRaw(ctx, "merge-tree", mergeBase, r.remote+"/"+base, r.remote+"/"+head)
	if err != nil {
		return nil, err
	}
	return parseMergeTree(out), nil
}

// parseMergeTree extracts conflicting paths from trivial merge-tree output.
// Each conflict appears as a "changed in both" header followed by indented
// base/our/their attribute lines; the path is the fourth field of whichever
// of those lines carries one.
func parseMergeTree(out string) []string {
	var files []string
	lines := strings.Split(out, "\n")
	for i, line := range lines {
		if !strings.HasPrefix(line, "changed in both") {
			continue
		}
		if fields := strings.Fields(line); len(fields) > 3 {
			files = append(files, fields[3])
			continue
		}
		if i+1 < len(lines) {
			if fields := strings.Fields(lines[i+1]); len(fields) > 3 {
				files = append(files, fields[3])
			}
		}
	}
	return files
}

// OriginURL returns the configured URL of the Repo's remote.
func (r *Repo) OriginURL(ctx context.Context) (string, error) {
	return r.run(ctx, "remote", "get-url", r.remote)
}

func (r *Repo) run(ctx context.Context, args ...string) (string, error) {
	out, err := r.runRaw(ctx, args...)
	return strings.TrimSpace(out), err
}

func (r *Repo) runRaw(ctx context.Context, args ...string) (string, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultTimeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, "git", args...)
	if r.dir != "" {
		cmd.Dir = r.dir
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		code := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		}
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		return "", &GitError{
			Args:     args,
			Stdout:   stdout.String(),
			Stderr:   stderr.String(),
			ExitCode: code,
			Err:      err,
		}
	}
	return stdout.String(), nil
}
