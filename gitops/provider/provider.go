// Package provider defines the uniform capability set a
// git hosting adapter must implement, along with the
// result and error types shared by all adapters.
package provider

import (
	"context"

	"github.com/byte4ever/gitops_forge/gitops/vault"
)

// Pattern: Strategy -- one Client implementation per
// hosting provider, selected by the server registry.

// Identity describes the authenticated account as
// reported by the provider.
type Identity struct {
	Username string
	FullName string
	Email    string
}

// AuthCheck is the outcome of an authentication test.
// CanConnect distinguishes an unreachable host from a
// reachable host that rejected the credentials, so
// callers can suggest the right remediation.
type AuthCheck struct {
	IsValid    bool
	CanConnect bool
	Identity   *Identity
	Err        string
}

// RepoConfig describes a remote repository to create.
type RepoConfig struct {
	Owner         string
	Name          string
	Description   string
	Private       bool
	DefaultBranch string
	AutoInit      bool
}

// RemoteRepo describes a repository as known to the
// provider. PreExisting is set when creation recovered
// an already existing repository instead of making a
// new one.
type RemoteRepo struct {
	Owner         string
	Name          string
	CloneURL      string
	DefaultBranch string
	Private       bool
	PreExisting   bool
}

// Client is the uniform capability set over one git
// hosting provider's REST API.
type Client interface {
	// TestAuthentication verifies creds against the
	// server. Credential shapes that cannot work with
	// this provider yield IsValid=false, never an
	// error.
	TestAuthentication(
		ctx context.Context,
		creds vault.Credentials,
	) AuthCheck

	// TestRepositoryAccess reports whether creds can
	// read the repository at repoURL.
	TestRepositoryAccess(
		ctx context.Context,
		creds vault.Credentials,
		repoURL string,
	) (bool, error)

	// CreateRepository creates the repository, or
	// recovers the existing one when the provider
	// reports it already exists.
	CreateRepository(
		ctx context.Context,
		creds vault.Credentials,
		cfg RepoConfig,
	) (*RemoteRepo, error)

	// SetDefaultBranch changes the repository's
	// default branch.
	SetDefaultBranch(
		ctx context.Context,
		creds vault.Credentials,
		repoURL string,
		branch string,
	) error
}
