// Package orchestrator is the single composed entry
// point for callers: it resolves the server and provider
// for a repository, loads credentials from the vault,
// delegates to the working copy controller or provider
// client, and normalizes every outcome into a uniform
// OperationResult. No provider-specific error ever
// reaches a caller as anything but a typed result.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/byte4ever/gitops_forge/gitops/bootstrap"
	"github.com/byte4ever/gitops_forge/gitops/exec"
	"github.com/byte4ever/gitops_forge/gitops/provider"
	"github.com/byte4ever/gitops_forge/gitops/registry"
	"github.com/byte4ever/gitops_forge/gitops/vault"
	"github.com/byte4ever/gitops_forge/gitops/workingcopy"
)

// OperationResult is the uniform return of every
// mutating operation. Err is a display-ready string set
// exactly when Success is false; callers never need to
// unwrap provider errors.
type OperationResult struct {
	Success   bool
	Message   string
	Err       string
	Timestamp time.Time
}

// Facade composes the registry, vault, working copy
// controller, and provider clients behind one surface.
// It holds no mutable state beyond the on-disk stores,
// so concurrent calls against different repositories are
// safe; serializing calls against one working directory
// is the caller's responsibility.
type Facade struct {
	registry *registry.Registry
	vault    *vault.Vault

	// newWorkingCopy is swapped in tests.
	newWorkingCopy func(dir string) *workingcopy.WorkingCopy
}

// New returns a Facade over the given stores.
func New(
	reg *registry.Registry,
	v *vault.Vault,
) *Facade {
	return &Facade{
		registry:       reg,
		vault:          v,
		newWorkingCopy: workingcopy.New,
	}
}

// NewWithWorkingCopyFactory returns a Facade with a
// custom working copy constructor.
func NewWithWorkingCopyFactory(
	reg *registry.Registry,
	v *vault.Vault,
	factory func(dir string) *workingcopy.WorkingCopy,
) *Facade {
	return &Facade{
		registry:       reg,
		vault:          v,
		newWorkingCopy: factory,
	}
}

// ok builds a successful result.
func ok(message string) OperationResult {
	return OperationResult{
		Success:   true,
		Message:   message,
		Timestamp: time.Now().UTC(),
	}
}

// fail builds a failed result with a redacted error
// string for direct display.
func fail(message string, err error) OperationResult {
	res := OperationResult{
		Message:   message,
		Timestamp: time.Now().UTC(),
	}

	if err != nil {
		res.Err = exec.Redact(err.Error())
	}

	return res
}

// RegisterServer upserts a server config and, when creds
// is non-nil, stores its credentials encrypted.
func (f *Facade) RegisterServer(
	cfg registry.ServerConfig,
	creds *vault.Credentials,
) OperationResult {
	stored, err := f.registry.Register(cfg)
	if err != nil {
		return fail("failed to register server", err)
	}

	if creds != nil {
		if err := f.vault.Store(
			vault.ServerKey(stored.ID), *creds,
		); err != nil {
			return fail(
				"server registered but credentials "+
					"could not be stored", err,
			)
		}
	}

	return ok(fmt.Sprintf(
		"server %s registered", stored.BaseURL,
	))
}

// RemoveServer deletes a server config, its repository
// records, and every credential tied to them. The
// repository IDs come from the removal itself, so
// credentials of records added concurrently are not
// missed.
func (f *Facade) RemoveServer(
	serverID string,
) OperationResult {
	repoIDs, err := f.registry.Remove(serverID)
	if err != nil {
		return fail("failed to remove server", err)
	}

	if err := f.vault.Delete(
		vault.ServerKey(serverID),
	); err != nil {
		return fail(
			"server removed but credentials could "+
				"not be deleted", err,
		)
	}

	for _, id := range repoIDs {
		if err := f.vault.Delete(
			vault.RepoKey(id),
		); err != nil {
			return fail(
				"server removed but repository "+
					"credentials could not be deleted",
				err,
			)
		}
	}

	return ok("server removed")
}

// TestServerAuthentication validates the stored
// credentials for a server. Missing credentials are a
// configuration problem reported in the check, not an
// error.
func (f *Facade) TestServerAuthentication(
	ctx context.Context,
	serverID string,
) provider.AuthCheck {
	server, err := f.registry.Get(serverID)
	if err != nil {
		return provider.AuthCheck{Err: err.Error()}
	}

	client, err := registry.ClientFor(server)
	if err != nil {
		return provider.AuthCheck{Err: err.Error()}
	}

	creds, err := f.vault.Get(
		vault.ServerKey(serverID),
	)
	if err != nil {
		return provider.AuthCheck{Err: err.Error()}
	}

	if creds == nil {
		return provider.AuthCheck{
			Err: "no credentials configured for " +
				"server " + server.BaseURL,
		}
	}

	return client.TestAuthentication(ctx, *creds)
}

// AddRepository stores a repository record; its ServerID
// must reference a registered server.
func (f *Facade) AddRepository(
	repo registry.Repository,
) OperationResult {
	stored, err := f.registry.AddRepository(repo)
	if err != nil {
		return fail("failed to add repository", err)
	}

	return ok(fmt.Sprintf(
		"repository %s added", stored.Name,
	))
}

// RemoveRepository deletes a repository record and its
// credentials.
func (f *Facade) RemoveRepository(
	repoID string,
) OperationResult {
	if err := f.registry.DeleteRepository(
		repoID,
	); err != nil {
		return fail(
			"failed to remove repository", err,
		)
	}

	if err := f.vault.Delete(
		vault.RepoKey(repoID),
	); err != nil {
		return fail(
			"repository removed but credentials "+
				"could not be deleted", err,
		)
	}

	return ok("repository removed")
}

// TestRepositoryAuthentication validates access to a
// registered repository and records the transient auth
// status on its record. Repository-scoped credentials
// take precedence over server credentials.
func (f *Facade) TestRepositoryAuthentication(
	ctx context.Context,
	repoID string,
) provider.AuthCheck {
	repo, err := f.registry.GetRepository(repoID)
	if err != nil {
		return provider.AuthCheck{Err: err.Error()}
	}

	res, err := f.registry.Resolve(repo.URL)
	if err != nil {
		return provider.AuthCheck{Err: err.Error()}
	}

	creds, err := f.credentialsFor(
		repoID, res.Server.ID,
	)
	if err != nil {
		return provider.AuthCheck{Err: err.Error()}
	}

	if creds == nil {
		return provider.AuthCheck{
			Err: "no credentials configured for " +
				"repository " + repo.Name,
		}
	}

	_ = f.registry.SetAuthStatus(
		repoID, registry.AuthChecking,
	)

	accessible, err := res.Client.TestRepositoryAccess(
		ctx, *creds, repo.URL,
	)

	check := provider.AuthCheck{
		IsValid:    accessible,
		CanConnect: err == nil ||
			!provider.IsNetworkError(err),
	}
	if err != nil {
		check.Err = exec.Redact(err.Error())
	}

	status := registry.AuthFailed
	if check.IsValid {
		status = registry.AuthSuccess
	}

	_ = f.registry.SetAuthStatus(repoID, status)

	return check
}

// CreateRemoteRepository creates (or recovers) a remote
// repository on the server resolved for repoURL.
func (f *Facade) CreateRemoteRepository(
	ctx context.Context,
	repoURL string,
	cfg provider.RepoConfig,
) (*provider.RemoteRepo, OperationResult) {
	res, err := f.registry.Resolve(repoURL)
	if err != nil {
		return nil, fail(
			"failed to resolve server", err,
		)
	}

	creds, err := f.vault.Get(
		vault.ServerKey(res.Server.ID),
	)
	if err != nil {
		return nil, fail(
			"failed to load credentials", err,
		)
	}

	if creds == nil {
		return nil, fail(
			"cannot create repository",
			fmt.Errorf(
				"no credentials configured for "+
					"server %s", res.Server.BaseURL,
			),
		)
	}

	remote, err := res.Client.CreateRepository(
		ctx, *creds, cfg,
	)
	if err != nil {
		return nil, fail(
			"failed to create repository", err,
		)
	}

	msg := fmt.Sprintf(
		"repository %s/%s created",
		remote.Owner, remote.Name,
	)
	if remote.PreExisting {
		msg = fmt.Sprintf(
			"repository %s/%s already existed",
			remote.Owner, remote.Name,
		)
	}

	return remote, ok(msg)
}

// SetDefaultBranch changes the default branch of the
// remote repository at repoURL.
func (f *Facade) SetDefaultBranch(
	ctx context.Context,
	repoURL string,
	branch string,
) OperationResult {
	res, err := f.registry.Resolve(repoURL)
	if err != nil {
		return fail("failed to resolve server", err)
	}

	creds, err := f.vault.Get(
		vault.ServerKey(res.Server.ID),
	)
	if err != nil {
		return fail("failed to load credentials", err)
	}

	if creds == nil {
		return fail(
			"cannot set default branch",
			fmt.Errorf(
				"no credentials configured for "+
					"server %s", res.Server.BaseURL,
			),
		)
	}

	if err := res.Client.SetDefaultBranch(
		ctx, *creds, repoURL, branch,
	); err != nil {
		return fail(
			"failed to set default branch", err,
		)
	}

	return ok(fmt.Sprintf(
		"default branch set to %s", branch,
	))
}

// CloneRepository clones repoURL into dir, using server
// credentials when configured and cloning anonymously
// otherwise.
func (f *Facade) CloneRepository(
	ctx context.Context,
	repoURL string,
	dir string,
	branch string,
) OperationResult {
	res, err := f.registry.Resolve(repoURL)
	if err != nil {
		return fail("failed to resolve server", err)
	}

	creds, err := f.vault.Get(
		vault.ServerKey(res.Server.ID),
	)
	if err != nil {
		return fail("failed to load credentials", err)
	}

	wc := f.newWorkingCopy(dir)

	if err := wc.Clone(
		ctx, repoURL, creds, branch,
	); err != nil {
		return fail("failed to clone repository", err)
	}

	return ok("repository cloned")
}

// CommitAndPush stages everything in dir, commits with
// message, and pushes branch to repoURL.
func (f *Facade) CommitAndPush(
	ctx context.Context,
	dir string,
	repoURL string,
	message string,
	branch string,
) OperationResult {
	res, err := f.registry.Resolve(repoURL)
	if err != nil {
		return fail("failed to resolve server", err)
	}

	creds, err := f.vault.Get(
		vault.ServerKey(res.Server.ID),
	)
	if err != nil {
		return fail("failed to load credentials", err)
	}

	wc := f.newWorkingCopy(dir)
	wc.SetRemoteURL(repoURL)

	if err := wc.Add(ctx); err != nil {
		return fail("failed to stage changes", err)
	}

	if err := wc.Commit(ctx, message); err != nil {
		return fail("failed to commit", err)
	}

	if err := wc.Push(ctx, creds, branch); err != nil {
		return fail("failed to push", err)
	}

	return ok(fmt.Sprintf("pushed %s", branch))
}

// Pull pulls branch from repoURL into dir.
func (f *Facade) Pull(
	ctx context.Context,
	dir string,
	repoURL string,
	branch string,
) OperationResult {
	res, err := f.registry.Resolve(repoURL)
	if err != nil {
		return fail("failed to resolve server", err)
	}

	creds, err := f.vault.Get(
		vault.ServerKey(res.Server.ID),
	)
	if err != nil {
		return fail("failed to load credentials", err)
	}

	wc := f.newWorkingCopy(dir)
	wc.SetRemoteURL(repoURL)

	if err := wc.Pull(ctx, creds, branch); err != nil {
		return fail("failed to pull", err)
	}

	return ok(fmt.Sprintf("pulled %s", branch))
}

// CheckMergeConflicts dry-runs a merge of branch into
// the current branch of dir. Conflicts are data, not
// failure: the result is successful whenever the check
// itself completed.
func (f *Facade) CheckMergeConflicts(
	ctx context.Context,
	dir string,
	branch string,
) (workingcopy.MergeConflictReport, OperationResult) {
	wc := f.newWorkingCopy(dir)

	report, err := wc.CheckMergeConflicts(ctx, branch)
	if err != nil {
		return report, fail(
			"failed to check merge conflicts", err,
		)
	}

	if report.HasConflicts {
		return report, ok(fmt.Sprintf(
			"%d conflicting files found",
			len(report.Conflicts),
		))
	}

	return report, ok("no conflicts")
}

// ResolveMergeConflicts stages the given files and
// finalizes the in-progress merge commit.
func (f *Facade) ResolveMergeConflicts(
	ctx context.Context,
	dir string,
	files []string,
) OperationResult {
	wc := f.newWorkingCopy(dir)

	if err := wc.ResolveMergeConflicts(
		ctx, files,
	); err != nil {
		return fail(
			"failed to resolve merge conflicts", err,
		)
	}

	return ok("merge conflicts resolved")
}

// AbortMerge aborts an in-progress merge in dir.
func (f *Facade) AbortMerge(
	ctx context.Context,
	dir string,
) OperationResult {
	wc := f.newWorkingCopy(dir)

	if err := wc.AbortMerge(ctx); err != nil {
		return fail("failed to abort merge", err)
	}

	return ok("merge aborted")
}

// BootstrapEnvironments runs the multi-environment
// branch creation workflow against repoURL.
func (f *Facade) BootstrapEnvironments(
	ctx context.Context,
	repoURL string,
	product string,
	customer string,
	environments []string,
) (bootstrap.Result, OperationResult) {
	res, err := f.registry.Resolve(repoURL)
	if err != nil {
		return bootstrap.Result{}, fail(
			"failed to resolve server", err,
		)
	}

	creds, err := f.vault.Get(
		vault.ServerKey(res.Server.ID),
	)
	if err != nil {
		return bootstrap.Result{}, fail(
			"failed to load credentials", err,
		)
	}

	b := bootstrap.NewWithWorkingCopyFactory(
		product, customer, f.newWorkingCopy,
	)

	outcome := b.CreateEnvironmentBranches(
		ctx, repoURL, creds, environments,
	)

	if !outcome.Success {
		return outcome, fail(
			"no environment branches created",
			fmt.Errorf(
				"%d environments failed",
				len(outcome.Errors),
			),
		)
	}

	return outcome, ok(fmt.Sprintf(
		"%d of %d environment branches created",
		len(outcome.CreatedBranches),
		len(environments),
	))
}

// credentialsFor loads repository-scoped credentials,
// falling back to the server's.
func (f *Facade) credentialsFor(
	repoID string,
	serverID string,
) (*vault.Credentials, error) {
	creds, err := f.vault.Get(vault.RepoKey(repoID))
	if err != nil {
		return nil, err
	}

	if creds != nil {
		return creds, nil
	}

	return f.vault.Get(vault.ServerKey(serverID))
}
