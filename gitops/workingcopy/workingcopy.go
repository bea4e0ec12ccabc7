// Package workingcopy wraps a local git binary bound to
// one working directory. Authenticated remote calls
// embed credentials in the remote URL userinfo for a
// single invocation instead of relying on ambient
// credential helpers. One WorkingCopy per directory;
// concurrent calls against the same directory are the
// caller's problem to serialize.
package workingcopy

import (
	"bufio"
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/byte4ever/gitops_forge/gitops/exec"
	"github.com/byte4ever/gitops_forge/gitops/vault"
)

// tokenSentinelPassword accompanies a token placed in
// the URL username slot; git requires both halves of the
// userinfo even when the server ignores the password.
const tokenSentinelPassword = "x-oauth-basic"

// Runner executes one git invocation. Tests substitute a
// fake; production uses the exec helper.
type Runner func(
	ctx context.Context,
	dir string,
	name string,
	arg ...string,
) (string, error)

// WorkingCopy wraps a git client bound to one working
// directory.
type WorkingCopy struct {
	dir string
	run Runner

	// remoteURL is remembered from Clone so push/pull
	// can rebuild an authenticated URL per call.
	remoteURL string
}

// New returns a WorkingCopy for dir using the real git
// binary.
func New(dir string) *WorkingCopy {
	return NewWithRunner(dir, exec.Ex)
}

// NewWithRunner returns a WorkingCopy with a custom
// invocation runner.
func NewWithRunner(dir string, run Runner) *WorkingCopy {
	return &WorkingCopy{dir: dir, run: run}
}

// Dir returns the working directory.
func (w *WorkingCopy) Dir() string {
	return w.dir
}

// AuthURL rewrites repoURL to carry creds as URL
// userinfo: a token becomes the username with a fixed
// sentinel password, username/password are URL-encoded.
// Nil credentials and non-HTTP URLs (ssh remotes) pass
// through untouched.
func AuthURL(
	repoURL string,
	creds *vault.Credentials,
) (string, error) {
	const errCtx = "building authenticated url"

	if creds == nil {
		return repoURL, nil
	}

	// scp-style remotes (git@host:owner/repo.git) are not
	// URLs and never carry embedded credentials.
	if !strings.Contains(repoURL, "://") {
		return repoURL, nil
	}

	u, err := url.Parse(repoURL)
	if err != nil {
		return "", fmt.Errorf("%s: %w", errCtx, err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return repoURL, nil
	}

	switch creds.Method {
	case vault.MethodToken:
		u.User = url.UserPassword(
			creds.Token, tokenSentinelPassword,
		)
	case vault.MethodCredentials:
		u.User = url.UserPassword(
			creds.Username, creds.Password,
		)
	case vault.MethodSSH:
		// SSH material never goes into an HTTP URL.
		return repoURL, nil
	default:
		return "", fmt.Errorf(
			"%s: unknown credential method %q",
			errCtx, creds.Method,
		)
	}

	return u.String(), nil
}

// Clone clones repoURL into the working directory,
// optionally checking out branch.
func (w *WorkingCopy) Clone(
	ctx context.Context,
	repoURL string,
	creds *vault.Credentials,
	branch string,
) error {
	const errCtx = "cloning repository"

	authURL, err := AuthURL(repoURL, creds)
	if err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	args := []string{"clone"}
	if branch != "" {
		args = append(args, "--branch", branch)
	}

	args = append(args, authURL, w.dir)

	if _, err := w.run(
		ctx, "", "git", args...,
	); err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	w.remoteURL = repoURL

	return nil
}

// SetRemoteURL records the remote URL for a working copy
// that was not produced by Clone.
func (w *WorkingCopy) SetRemoteURL(repoURL string) {
	w.remoteURL = repoURL
}

// Checkout switches to an existing branch.
func (w *WorkingCopy) Checkout(
	ctx context.Context,
	branch string,
) error {
	const errCtx = "checking out branch"

	if _, err := w.run(
		ctx, w.dir, "git", "checkout", branch,
	); err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	return nil
}

// CheckoutNew creates and switches to a new branch.
func (w *WorkingCopy) CheckoutNew(
	ctx context.Context,
	branch string,
) error {
	const errCtx = "creating branch"

	if _, err := w.run(
		ctx, w.dir, "git", "checkout", "-b", branch,
	); err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	return nil
}

// Add stages the given paths, or everything when none
// are given.
func (w *WorkingCopy) Add(
	ctx context.Context,
	paths ...string,
) error {
	const errCtx = "staging files"

	if len(paths) == 0 {
		paths = []string{"."}
	}

	args := append([]string{"add"}, paths...)

	if _, err := w.run(
		ctx, w.dir, "git", args...,
	); err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	return nil
}

// Commit commits staged changes with the given message.
func (w *WorkingCopy) Commit(
	ctx context.Context,
	message string,
) error {
	const errCtx = "committing"

	if _, err := w.run(
		ctx, w.dir, "git", "commit", "-m", message,
	); err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	return nil
}

// Push pushes branch to the remembered remote with
// credentials embedded for this single invocation.
func (w *WorkingCopy) Push(
	ctx context.Context,
	creds *vault.Credentials,
	branch string,
) error {
	const errCtx = "pushing branch"

	authURL, err := AuthURL(w.remoteURL, creds)
	if err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	if _, err := w.run(
		ctx, w.dir, "git", "push", authURL,
		"refs/heads/"+branch,
	); err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	return nil
}

// Pull pulls branch from the remembered remote with
// credentials embedded for this single invocation.
func (w *WorkingCopy) Pull(
	ctx context.Context,
	creds *vault.Credentials,
	branch string,
) error {
	const errCtx = "pulling branch"

	authURL, err := AuthURL(w.remoteURL, creds)
	if err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	args := []string{"pull", authURL}
	if branch != "" {
		args = append(args, branch)
	}

	if _, err := w.run(
		ctx, w.dir, "git", args...,
	); err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	return nil
}

// Diff returns the unstaged diff.
func (w *WorkingCopy) Diff(
	ctx context.Context,
) (string, error) {
	const errCtx = "diffing working copy"

	out, err := w.run(ctx, w.dir, "git", "diff")
	if err != nil {
		return "", fmt.Errorf("%s: %w", errCtx, err)
	}

	return out, nil
}

// Log returns the latest n commits in oneline form.
func (w *WorkingCopy) Log(
	ctx context.Context,
	n int,
) (string, error) {
	const errCtx = "reading log"

	out, err := w.run(
		ctx, w.dir, "git", "log", "--oneline",
		fmt.Sprintf("-%d", n),
	)
	if err != nil {
		return "", fmt.Errorf("%s: %w", errCtx, err)
	}

	return out, nil
}

// Status returns porcelain status output.
func (w *WorkingCopy) Status(
	ctx context.Context,
) (string, error) {
	const errCtx = "reading status"

	out, err := w.run(
		ctx, w.dir, "git", "status", "--porcelain",
	)
	if err != nil {
		return "", fmt.Errorf("%s: %w", errCtx, err)
	}

	return out, nil
}

// IsClean reports whether the working tree has no
// uncommitted changes.
func (w *WorkingCopy) IsClean(
	ctx context.Context,
) (bool, error) {
	out, err := w.Status(ctx)
	if err != nil {
		return false, err
	}

	return strings.TrimSpace(out) == "", nil
}

// CurrentBranch returns the checked-out branch name.
func (w *WorkingCopy) CurrentBranch(
	ctx context.Context,
) (string, error) {
	const errCtx = "reading current branch"

	out, err := w.run(
		ctx, w.dir, "git",
		"rev-parse", "--abbrev-ref", "HEAD",
	)
	if err != nil {
		return "", fmt.Errorf("%s: %w", errCtx, err)
	}

	return strings.TrimSpace(out), nil
}

// ListRemoteBranches lists branch names on the remote at
// repoURL via ls-remote. It does not require the working
// directory to be a repository.
func (w *WorkingCopy) ListRemoteBranches(
	ctx context.Context,
	repoURL string,
	creds *vault.Credentials,
) ([]string, error) {
	const errCtx = "listing remote branches"

	authURL, err := AuthURL(repoURL, creds)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	out, err := w.run(
		ctx, "", "git",
		"ls-remote", "--heads", authURL,
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	var branches []string

	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) != 2 {
			continue
		}

		ref := fields[1]
		if strings.HasPrefix(ref, "refs/heads/") {
			branches = append(branches, strings.TrimPrefix(
				ref, "refs/heads/",
			))
		}
	}

	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf(
			"%s: scan output: %w", errCtx, err,
		)
	}

	return branches, nil
}
