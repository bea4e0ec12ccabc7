// Package github adapts GitHub (github.com or a GitHub
// Enterprise host) to the provider.Client capability
// set. A token alone is a valid credential shape; basic
// auth is supported for legacy enterprise setups.
package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	gh "github.com/google/go-github/v68/github"

	"github.com/byte4ever/gitops_forge/gitops/provider"
	"github.com/byte4ever/gitops_forge/gitops/vault"
)

// Config holds the settings needed to create a GitHub
// provider client.
type Config struct {
	// BaseURL is the server root. For "github.com" the
	// public API is used; any other host is treated as
	// GitHub Enterprise with its API under /api/v3.
	BaseURL string
}

// Client talks to one GitHub host.
//
// Pattern: Strategy -- implements provider.Client.
type Client struct {
	baseURL string
	host    string
}

// NewClient validates cfg and returns a Client.
func NewClient(cfg Config) (*Client, error) {
	const errCtx = "creating github client"

	if cfg.BaseURL == "" {
		return nil, fmt.Errorf(
			"%s: base url must be set", errCtx,
		)
	}

	u, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf(
			"%s: parse base url: %w", errCtx, err,
		)
	}

	return &Client{
		baseURL: cfg.BaseURL,
		host:    u.Hostname(),
	}, nil
}

// sdk builds a per-call SDK client carrying the given
// credentials.
func (c *Client) sdk(
	creds vault.Credentials,
) (*gh.Client, error) {
	const errCtx = "creating github sdk client"

	var cl *gh.Client

	switch creds.Method {
	case vault.MethodToken:
		if creds.Token == "" {
			return nil, fmt.Errorf(
				"%s: token must be set", errCtx,
			)
		}

		cl = gh.NewClient(nil).
			WithAuthToken(creds.Token)
	case vault.MethodCredentials:
		if creds.Username == "" ||
			creds.Password == "" {
			return nil, fmt.Errorf(
				"%s: username and password must be "+
					"set", errCtx,
			)
		}

		tp := &gh.BasicAuthTransport{
			Username: creds.Username,
			Password: creds.Password,
		}
		cl = gh.NewClient(tp.Client())
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

	if c.host == "github.com" {
		return cl, nil
	}

	cl, err := cl.WithEnterpriseURLs(
		c.baseURL, c.baseURL,
	)
	if err != nil {
		return nil, fmt.Errorf(
			"%s: enterprise urls: %w", errCtx, err,
		)
	}

	return cl, nil
}

// TestAuthentication verifies creds by fetching the
// authenticated user.
func (c *Client) TestAuthentication(
	ctx context.Context,
	creds vault.Credentials,
) provider.AuthCheck {
	cl, err := c.sdk(creds)
	if err != nil {
		return provider.AuthCheck{Err: err.Error()}
	}

	user, resp, err := cl.Users.Get(ctx, "")
	if err != nil {
		if resp != nil {
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
			Username: user.GetLogin(),
			FullName: user.GetName(),
			Email:    user.GetEmail(),
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
	const errCtx = "testing github repository access"

	path, err := provider.ParseRepoPath(repoURL)
	if err != nil {
		return false, fmt.Errorf(
			"%s: %w", errCtx, err,
		)
	}

	cl, err := c.sdk(creds)
	if err != nil {
		return false, fmt.Errorf(
			"%s: %w", errCtx, err,
		)
	}

	_, resp, err := cl.Repositories.Get(
		ctx, path.Owner, path.Name,
	)
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
// fails. An already existing repository (HTTP 422) is
// recovered by re-fetching it.
func (c *Client) CreateRepository(
	ctx context.Context,
	creds vault.Credentials,
	cfg provider.RepoConfig,
) (*provider.RemoteRepo, error) {
	const errCtx = "creating github repository"

	cl, err := c.sdk(creds)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	org := ""
	if _, _, orgErr := cl.Organizations.Get(
		ctx, cfg.Owner,
	); orgErr == nil {
		org = cfg.Owner
	}

	repo := &gh.Repository{
		Name:          gh.String(cfg.Name),
		Description:   gh.String(cfg.Description),
		Private:       gh.Bool(cfg.Private),
		DefaultBranch: gh.String(cfg.DefaultBranch),
		AutoInit:      gh.Bool(cfg.AutoInit),
	}

	created, resp, err := cl.Repositories.Create(
		ctx, org, repo,
	)
	if err == nil {
		return toRemoteRepo(created, false), nil
	}

	if resp == nil ||
		resp.StatusCode !=
			http.StatusUnprocessableEntity {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	// Already exists: recover via one re-fetch.
	existing, _, refetchErr := cl.Repositories.Get(
		ctx, cfg.Owner, cfg.Name,
	)
	if refetchErr != nil {
		return nil, fmt.Errorf(
			"%s: repository exists but cannot be "+
				"fetched: %w", errCtx,
			errors.Join(err, refetchErr),
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
	const errCtx = "setting github default branch"

	path, err := provider.ParseRepoPath(repoURL)
	if err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	cl, err := c.sdk(creds)
	if err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	_, _, err = cl.Repositories.Edit(
		ctx, path.Owner, path.Name,
		&gh.Repository{
			DefaultBranch: gh.String(branch),
		},
	)
	if err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	return nil
}

// toRemoteRepo converts an SDK repository to the uniform
// descriptor.
func toRemoteRepo(
	r *gh.Repository,
	preExisting bool,
) *provider.RemoteRepo {
	return &provider.RemoteRepo{
		Owner:         r.GetOwner().GetLogin(),
		Name:          r.GetName(),
		CloneURL:      r.GetCloneURL(),
		DefaultBranch: r.GetDefaultBranch(),
		Private:       r.GetPrivate(),
		PreExisting:   preExisting,
	}
}
