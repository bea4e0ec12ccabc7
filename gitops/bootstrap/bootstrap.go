// Package bootstrap creates the multi-environment GitOps
// branch scaffold in one workflow: clone into an
// isolated temporary directory, then per environment
// create a branch, materialize the scaffold, commit, and
// push. Each environment succeeds or fails on its own;
// partial success is a valid, explicitly reported
// outcome.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"slices"

	"github.com/byte4ever/gitops_forge/gitops/scaffold"
	"github.com/byte4ever/gitops_forge/gitops/vault"
	"github.com/byte4ever/gitops_forge/gitops/workingcopy"
)

// Result reports per-environment outcomes.
// CreatedBranches and Errors are disjoint: every
// requested environment lands in exactly one of them.
// Success means at least one branch was created.
type Result struct {
	Success         bool
	CreatedBranches []string
	Errors          []string
}

// Bootstrapper runs environment branch creation
// workflows against remote repositories.
type Bootstrapper struct {
	product  string
	customer string

	// newWorkingCopy is swapped in tests.
	newWorkingCopy func(dir string) *workingcopy.WorkingCopy
}

// New returns a Bootstrapper scaffolding for the given
// product. customer may be empty for product-level
// scaffolds.
func New(product string, customer string) *Bootstrapper {
	return &Bootstrapper{
		product:        product,
		customer:       customer,
		newWorkingCopy: workingcopy.New,
	}
}

// NewWithWorkingCopyFactory returns a Bootstrapper with
// a custom working copy constructor.
func NewWithWorkingCopyFactory(
	product string,
	customer string,
	factory func(dir string) *workingcopy.WorkingCopy,
) *Bootstrapper {
	return &Bootstrapper{
		product:        product,
		customer:       customer,
		newWorkingCopy: factory,
	}
}

// CustomerBranchName is the stable branch naming
// convention for customer-scoped work, so existence can
// be probed without side-channel metadata.
func CustomerBranchName(
	customer string,
	env string,
) string {
	return "customer/" + customer + "/" + env
}

// CreateEnvironmentBranches clones repoURL into a fresh
// temporary directory and, for each environment
// independently, creates a branch named after it,
// scaffolds it, commits, and pushes. One environment's
// failure never aborts the remaining ones. The temporary
// clone is removed on every exit path.
//
// Per-environment steps run sequentially against the
// single shared clone: one working copy cannot be
// branched to N states at once.
func (b *Bootstrapper) CreateEnvironmentBranches(
	ctx context.Context,
	repoURL string,
	creds *vault.Credentials,
	environments []string,
) Result {
	tmpDir, err := os.MkdirTemp(
		"", "gitops-bootstrap-*",
	)
	if err != nil {
		return failAll(
			environments,
			fmt.Errorf("create temp dir: %w", err),
		)
	}

	defer func() {
		if rmErr := os.RemoveAll(tmpDir); rmErr != nil {
			slog.Error(
				"failed to remove temporary clone",
				"dir", tmpDir,
				"error", rmErr,
			)
		}
	}()

	wc := b.newWorkingCopy(tmpDir)

	if err := wc.Clone(
		ctx, repoURL, creds, "",
	); err != nil {
		return failAll(
			environments,
			fmt.Errorf("clone repository: %w", err),
		)
	}

	baseBranch, err := wc.CurrentBranch(ctx)
	if err != nil {
		return failAll(
			environments,
			fmt.Errorf("read base branch: %w", err),
		)
	}

	var res Result

	for _, env := range environments {
		branch := b.branchName(env)

		if err := b.createOne(
			ctx, wc, creds, repoURL,
			baseBranch, branch, env,
		); err != nil {
			slog.Warn(
				"environment branch creation failed",
				"environment", env,
				"error", err,
			)

			res.Errors = append(res.Errors,
				fmt.Sprintf("%s: %v", env, err),
			)

			continue
		}

		res.CreatedBranches = append(
			res.CreatedBranches, branch,
		)
	}

	res.Success = len(res.CreatedBranches) > 0

	return res
}

// CustomerBranchExists probes the remote for the
// customer/env branch using the naming convention.
func (b *Bootstrapper) CustomerBranchExists(
	ctx context.Context,
	repoURL string,
	creds *vault.Credentials,
	customer string,
	env string,
) (bool, error) {
	const errCtx = "probing customer branch"

	wc := b.newWorkingCopy(os.TempDir())

	branches, err := wc.ListRemoteBranches(
		ctx, repoURL, creds,
	)
	if err != nil {
		return false, fmt.Errorf(
			"%s: %w", errCtx, err,
		)
	}

	return slices.Contains(
		branches, CustomerBranchName(customer, env),
	), nil
}

// createOne runs the whole branch workflow for a single
// environment. The clone is rewound to the base branch
// first so every environment branches from the same
// point.
func (b *Bootstrapper) createOne(
	ctx context.Context,
	wc *workingcopy.WorkingCopy,
	creds *vault.Credentials,
	repoURL string,
	baseBranch string,
	branch string,
	env string,
) error {
	if err := wc.Checkout(ctx, baseBranch); err != nil {
		return err
	}

	if err := wc.CheckoutNew(ctx, branch); err != nil {
		return err
	}

	res := scaffold.Generate(wc.Dir(), scaffold.Options{
		Product:                b.product,
		Environments:           []string{env},
		Customer:               b.customer,
		RepoURL:                repoURL,
		GenerateApplicationSet: true,
	})
	if !res.Success {
		return fmt.Errorf(
			"generate scaffold: %s", res.Err,
		)
	}

	if err := wc.Add(ctx); err != nil {
		return err
	}

	if err := wc.Commit(ctx, fmt.Sprintf(
		"Bootstrap %s environment for %s",
		env, b.product,
	)); err != nil {
		return err
	}

	return wc.Push(ctx, creds, branch)
}

// branchName applies the customer naming convention when
// a customer is set, plain environment names otherwise.
func (b *Bootstrapper) branchName(env string) string {
	if b.customer == "" {
		return env
	}

	return CustomerBranchName(b.customer, env)
}

// failAll reports one shared failure for every requested
// environment; used when the workflow dies before any
// per-environment step.
func failAll(environments []string, err error) Result {
	res := Result{}

	for _, env := range environments {
		res.Errors = append(res.Errors,
			fmt.Sprintf("%s: %v", env, err),
		)
	}

	return res
}
