// Package gitlab adapts a GitLab host to the
// provider.Client capability set. A token alone is a
// valid credential shape; basic auth is supported for
// self-managed instances.
package gitlab

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	gl "gitlab.com/gitlab-org/api/client-go"

	"github.com/byte4ever/gitops_forge/gitops/provider"
	"github.com/byte4ever/gitops_forge/gitops/vault"
)

// Config holds the settings needed to create a GitLab
// provider client.
type Config struct {
	// BaseURL is the server root (e.g.
	// "https://gitlab.example.com"). The API is
	// expected under /api/v4.
	BaseURL string
}

// Client talks to one GitLab host.
//
// Pattern: Strategy -- implements provider.Client.
type Client struct {
	baseURL string
}

// NewClient validates cfg and returns a Client.
func NewClient(cfg Config) (*Client, error) {
	const errCtx = "creating gitlab client"

	if cfg.BaseURL == "" {
		return nil, fmt.Errorf(
			"%s: base url must be set", errCtx,
		)
	}

	return &Client{baseURL: cfg.BaseURL}, nil
}

// sdk builds a per-call SDK client carrying the given
// credentials.
func (c *Client) sdk(
	creds vault.Credentials,
) (*gl.Client, error) {
	const errCtx = "creating gitlab sdk client"

	switch creds.Method {
	case vault.MethodToken:
		if creds.Token == "" {
			return nil, fmt.Errorf(
				"%s: token must be set", errCtx,
			)
		}

		cl, err := gl.NewClient(
			creds.Token,
			gl.WithBaseURL(c.baseURL),
		)
		if err != nil {
			return nil, fmt.Errorf(
				"%s: %w", errCtx, err,
			)
		}

		return cl, nil
	case vault.MethodCredentials:
		if creds.Username == "" ||
			creds.Password == "" {
			return nil, fmt.Errorf(
				"%s: username and password must be "+
					"set", errCtx,
			)
		}

		cl, err := gl.NewBasicAuthClient(
			creds.Username,
			creds.Password,
			gl.WithBaseURL(c.baseURL),
		)
		if err != nil {
			return nil, fmt.Errorf(
				"%s: %w", errCtx, err,
			)
		}

		return cl, nil
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

	user, resp, err := cl.Users.CurrentUser(
		gl.WithContext(ctx),
	)
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
			Username: user.Username,
			FullName: user.Name,
			Email:    user.Email,
		},
	}
}

// TestRepositoryAccess reports whether creds can read
// the project at repoURL.
func (c *Client) TestRepositoryAccess(
	ctx context.Context,
	creds vault.Credentials,
	repoURL string,
) (bool, error) {
	const errCtx = "testing gitlab repository access"

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

	_, resp, err := cl.Projects.GetProject(
		path.Owner+"/"+path.Name,
		nil,
		gl.WithContext(ctx),
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

// CreateRepository creates a project under the owner
// group when it exists, falling back to the user
// namespace when the group probe fails. An already
// existing project (HTTP 400 name taken) is recovered by
// re-fetching it.
func (c *Client) CreateRepository(
	ctx context.Context,
	creds vault.Credentials,
	cfg provider.RepoConfig,
) (*provider.RemoteRepo, error) {
	const errCtx = "creating gitlab repository"

	cl, err := c.sdk(creds)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	opt := &gl.CreateProjectOptions{
		Name:          gl.Ptr(cfg.Name),
		Description:   gl.Ptr(cfg.Description),
		DefaultBranch: gl.Ptr(cfg.DefaultBranch),
		InitializeWithReadme: gl.Ptr(
			cfg.AutoInit,
		),
	}

	if cfg.Private {
		opt.Visibility = gl.Ptr(gl.PrivateVisibility)
	} else {
		opt.Visibility = gl.Ptr(gl.PublicVisibility)
	}

	if group, _, groupErr := cl.Groups.GetGroup(
		cfg.Owner, nil, gl.WithContext(ctx),
	); groupErr == nil {
		opt.NamespaceID = gl.Ptr(group.ID)
	}

	created, resp, err := cl.Projects.CreateProject(
		opt, gl.WithContext(ctx),
	)
	if err == nil {
		return toRemoteRepo(created, false), nil
	}

	if resp == nil ||
		resp.StatusCode != http.StatusBadRequest {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	// Already exists: recover via one re-fetch.
	existing, _, refetchErr := cl.Projects.GetProject(
		cfg.Owner+"/"+cfg.Name,
		nil,
		gl.WithContext(ctx),
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
// project at repoURL.
func (c *Client) SetDefaultBranch(
	ctx context.Context,
	creds vault.Credentials,
	repoURL string,
	branch string,
) error {
	const errCtx = "setting gitlab default branch"

	path, err := provider.ParseRepoPath(repoURL)
	if err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	cl, err := c.sdk(creds)
	if err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	_, _, err = cl.Projects.EditProject(
		path.Owner+"/"+path.Name,
		&gl.EditProjectOptions{
			DefaultBranch: gl.Ptr(branch),
		},
		gl.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	return nil
}

// toRemoteRepo converts an SDK project to the uniform
// descriptor.
func toRemoteRepo(
	p *gl.Project,
	preExisting bool,
) *provider.RemoteRepo {
	owner := ""
	if p.Namespace != nil {
		owner = p.Namespace.Path
	}

	return &provider.RemoteRepo{
		Owner:         owner,
		Name:          p.Path,
		CloneURL:      p.HTTPURLToRepo,
		DefaultBranch: p.DefaultBranch,
		Private: p.Visibility ==
			gl.PrivateVisibility,
		PreExisting: preExisting,
	}
}
