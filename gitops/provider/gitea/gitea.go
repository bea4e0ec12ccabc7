// Package gitea adapts a Gitea-style hosting server to
// the provider.Client capability set. Token credentials
// are sent in the Gitea token header and suffice on
// their own; basic auth is supported as an alternative.
package gitea

import (
	"context"
	"fmt"

	"code.gitea.io/sdk/gitea"

	"github.com/byte4ever/gitops_forge/gitops/provider"
	"github.com/byte4ever/gitops_forge/gitops/vault"
)

// Config holds the settings needed to create a Gitea
// provider client.
type Config struct {
	// BaseURL is the server root (e.g.
	// "https://git.example.com"). The API is expected
	// under /api/v1.
	BaseURL string
}

// Client talks to one Gitea-style server.
//
// Pattern: Strategy -- implements provider.Client.
type Client struct {
	baseURL string
}

// NewClient validates cfg and returns a Client.
func NewClient(cfg Config) (*Client, error) {
	const errCtx = "creating gitea client"

	if cfg.BaseURL == "" {
		return nil, fmt.Errorf(
			"%s: base url must be set", errCtx,
		)
	}

	return &Client{baseURL: cfg.BaseURL}, nil
}

// sdk builds a per-call SDK client carrying the given
// credentials, keeping credential scope to a single
// operation.
func (c *Client) sdk(
	ctx context.Context,
	creds vault.Credentials,
) (*gitea.Client, error) {
	const errCtx = "creating gitea sdk client"

	opts := []gitea.ClientOption{gitea.SetContext(ctx)}

	switch creds.Method {
	case vault.MethodToken:
		opts = append(opts, gitea.SetToken(creds.Token))
	case vault.MethodCredentials:
		opts = append(opts, gitea.SetBasicAuth(
			creds.Username, creds.Password,
		))
	case vault.MethodSSH:
		return nil, fmt.Errorf(
			"%s: ssh credentials cannot authenticate "+
				"REST calls", errCtx,
		)
	default:
		return nil, fmt.Errorf(
			"%s: unknown credential method %q",
			errCtx, creds.Method,
		)
	}

	cl, err := gitea.NewClient(c.baseURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	return cl, nil
}

// TestAuthentication verifies creds by fetching the
// authenticated user. A token alone is a valid shape for
// Gitea.
func (c *Client) TestAuthentication(
	ctx context.Context,
	creds vault.Credentials,
) provider.AuthCheck {
	if creds.Method == vault.MethodToken &&
		creds.Token == "" {
		return provider.AuthCheck{
			Err: "token must be set",
		}
	}

	if creds.Method == vault.MethodCredentials &&
		(creds.Username == "" || creds.Password == "") {
		return provider.AuthCheck{
			Err: "username and password must be set",
		}
	}

	cl, err := c.sdk(ctx, creds)
	if err != nil {
		return provider.AuthCheck{Err: err.Error()}
	}

	user, resp, err := cl.GetMyUserInfo()
	if err != nil {
		if resp != nil {
			// Reachable server, rejected credentials.
			return provider.AuthCheck{
				CanConnect: true,
				Err:        err.Error(),
			}
		}

		return provider.AuthCheck{Err: err.Error()}
	}

	return provider.AuthCheck{
		IsValid:    true,
		CanConnect: true,
		Identity: &provider.Identity{
			Username: user.UserName,
			FullName: user.FullName,
			Email:    user.Email,
		},
	}
}

// TestRepositoryAccess reports whether creds can read
// the repository at repoURL.
func (c *Client) TestRepositoryAccess(
	ctx context.Context,
	creds vault.Credentials,
	repoURL string,
) (bool, error) {
	const errCtx = "testing gitea repository access"

	path, err := provider.ParseRepoPath(repoURL)
	if err != nil {
		return false, fmt.Errorf(
			"%s: %w", errCtx, err,
		)
	}

	cl, err := c.sdk(ctx, creds)
	if err != nil {
		return false, fmt.Errorf(
			"%s: %w", errCtx, err,
		)
	}

	_, resp, err := cl.GetRepo(path.Owner, path.Name)
	if err != nil {
		if resp != nil {
			return false, nil
		}

		return false, fmt.Errorf(
			"%s: %w", errCtx, err,
		)
	}

	return true, nil
}

// CreateRepository creates the repository under an
// organisation when the owner is one, falling back to
// the user-scoped endpoint when the organisation probe
// fails. An already existing repository (HTTP 409) is
// recovered by re-fetching it; a failing re-fetch is an
// ambiguous ownership case and surfaces as an error.
func (c *Client) CreateRepository(
	ctx context.Context,
	creds vault.Credentials,
	cfg provider.RepoConfig,
) (*provider.RemoteRepo, error) {
	const errCtx = "creating gitea repository"

	cl, err := c.sdk(ctx, creds)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	opt := gitea.CreateRepoOption{
		Name:          cfg.Name,
		Description:   cfg.Description,
		Private:       cfg.Private,
		DefaultBranch: cfg.DefaultBranch,
		AutoInit:      cfg.AutoInit,
	}

	var (
		repo *gitea.Repository
		resp *gitea.Response
	)

	if _, _, orgErr := cl.GetOrg(
		cfg.Owner,
	); orgErr == nil {
		repo, resp, err = cl.CreateOrgRepo(
			cfg.Owner, opt,
		)
	} else {
		// Probe failure means a user namespace (or an
		// unknown owner); default to the user-scoped
		// endpoint.
		repo, resp, err = cl.CreateRepo(opt)
	}

	if err == nil {
		return toRemoteRepo(repo, false), nil
	}

	if resp == nil || resp.StatusCode != 409 {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	// Already exists: recover via one re-fetch.
	existing, _, refetchErr := cl.GetRepo(
		cfg.Owner, cfg.Name,
	)
	if refetchErr != nil {
		return nil, fmt.Errorf(
			"%s: repository exists but cannot be "+
				"fetched: %w", errCtx, refetchErr,
		)
	}

	return toRemoteRepo(existing, true), nil
}

// SetDefaultBranch changes the default branch of the
// repository at repoURL.
func (c *Client) SetDefaultBranch(
	ctx context.Context,
	creds vault.Credentials,
	repoURL string,
	branch string,
) error {
	const errCtx = "setting gitea default branch"

	path, err := provider.ParseRepoPath(repoURL)
	if err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	cl, err := c.sdk(ctx, creds)
	if err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	_, _, err = cl.EditRepo(
		path.Owner, path.Name,
		gitea.EditRepoOption{DefaultBranch: &branch},
	)
	if err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	return nil
}

// toRemoteRepo converts an SDK repository to the uniform
// descriptor.
func toRemoteRepo(
	r *gitea.Repository,
	preExisting bool,
) *provider.RemoteRepo {
	owner := ""
	if r.Owner != nil {
		owner = r.Owner.UserName
	}

	return &provider.RemoteRepo{
		Owner:         owner,
		Name:          r.Name,
		CloneURL:      r.CloneURL,
		DefaultBranch: r.DefaultBranch,
		Private:       r.Private,
		PreExisting:   preExisting,
	}
}
