// Package bitbucket adapts a Bitbucket-Server-style
// hosting server to the provider.Client capability set.
// All authentication is HTTP basic; token credentials
// use the token as password, so a username is required
// even for the token method.
package bitbucket

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/byte4ever/gitops_forge/gitops/provider"
	"github.com/byte4ever/gitops_forge/gitops/vault"
)

// Config holds the settings needed to create a Bitbucket
// provider client.
type Config struct {
	// BaseURL is the server root (e.g.
	// "https://bb.example.com"). The API is expected
	// under /rest/api/1.0.
	BaseURL string

	// HTTPClient overrides the default http client.
	HTTPClient *http.Client
}

// Client talks to one Bitbucket-Server-style server.
//
// Pattern: Strategy -- implements provider.Client.
type Client struct {
	baseURL string
	httpc   *http.Client
}

type userPayload struct {
	Name         string `json:"name,omitempty"`
	DisplayName  string `json:"displayName,omitempty"`
	EmailAddress string `json:"emailAddress,omitempty"`
}

type projectPayload struct {
	Key string `json:"key,omitempty"`
}

type cloneLink struct {
	Href string `json:"href,omitempty"`
	Name string `json:"name,omitempty"`
}

type repoLinks struct {
	Clone []cloneLink `json:"clone,omitempty"`
}

type repoPayload struct {
	Slug          string          `json:"slug,omitempty"`
	Name          string          `json:"name,omitempty"`
	ScmID         string          `json:"scmId,omitempty"`
	Public        bool            `json:"public"`
	Description   string          `json:"description,omitempty"`
	DefaultBranch string          `json:"defaultBranch,omitempty"`
	Project       *projectPayload `json:"project,omitempty"`
	Links         *repoLinks      `json:"links,omitempty"`
}

type branchRef struct {
	ID string `json:"id"`
}

// NewClient validates cfg and returns a Client.
func NewClient(cfg Config) (*Client, error) {
	const errCtx = "creating bitbucket client"

	if cfg.BaseURL == "" {
		return nil, fmt.Errorf(
			"%s: base url must be set", errCtx,
		)
	}

	httpc := cfg.HTTPClient
	if httpc == nil {
		httpc = http.DefaultClient
	}

	return &Client{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		httpc:   httpc,
	}, nil
}

// basicAuth maps creds to a basic auth user/password
// pair. Token credentials require a username because
// Bitbucket accepts tokens only as a basic auth
// password.
func basicAuth(
	creds vault.Credentials,
) (string, string, error) {
	const errCtx = "building bitbucket auth"

	switch creds.Method {
	case vault.MethodToken:
		if creds.Username == "" || creds.Token == "" {
			return "", "", fmt.Errorf(
				"%s: token method requires username "+
					"and token", errCtx,
			)
		}

		return creds.Username, creds.Token, nil
	case vault.MethodCredentials:
		if creds.Username == "" ||
			creds.Password == "" {
			return "", "", fmt.Errorf(
				"%s: username and password must be "+
					"set", errCtx,
			)
		}

		return creds.Username, creds.Password, nil
	case vault.MethodSSH:
		return "", "", fmt.Errorf(
			"%s: ssh credentials cannot authenticate "+
				"REST calls", errCtx,
		)
	default:
		return "", "", fmt.Errorf(
			"%s: unknown credential method %q",
			errCtx, creds.Method,
		)
	}
}

// doJSON performs one API call and decodes a JSON
// response into out (out may be nil). Non-2xx statuses
// become *provider.StatusError carrying the body
// verbatim.
func (c *Client) doJSON(
	ctx context.Context,
	creds vault.Credentials,
	method string,
	apiPath string,
	body any,
	out any,
) error {
	const errCtx = "calling bitbucket api"

	user, pass, err := basicAuth(creds)
	if err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	var reader io.Reader

	if body != nil {
		payload, marshalErr := json.Marshal(body)
		if marshalErr != nil {
			return fmt.Errorf(
				"%s: marshal request: %w",
				errCtx, marshalErr,
			)
		}

		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(
		ctx, method, c.baseURL+apiPath, reader,
	)
	if err != nil {
		return fmt.Errorf(
			"%s: build request: %w", errCtx, err,
		)
	}

	req.Header.Set(
		"Content-Type",
		"application/json; charset=utf-8",
	)
	req.SetBasicAuth(user, pass)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf(
			"%s: send request: %w", errCtx, err,
		)
	}

	defer resp.Body.Close() //nolint:errcheck

	rb, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf(
			"%s: read response: %w", errCtx, err,
		)
	}

	if resp.StatusCode < 200 ||
		resp.StatusCode > 299 {
		return fmt.Errorf(
			"%s: %w", errCtx, &provider.StatusError{
				StatusCode: resp.StatusCode,
				Body:       string(rb),
			},
		)
	}

	if out != nil && len(rb) > 0 {
		if err := json.Unmarshal(rb, out); err != nil {
			return fmt.Errorf(
				"%s: parse response: %w", errCtx, err,
			)
		}
	}

	return nil
}

// TestAuthentication verifies creds by fetching the
// user's own profile. A token without a username is an
// invalid shape for Bitbucket.
func (c *Client) TestAuthentication(
	ctx context.Context,
	creds vault.Credentials,
) provider.AuthCheck {
	if _, _, err := basicAuth(creds); err != nil {
		return provider.AuthCheck{Err: err.Error()}
	}

	var user userPayload

	err := c.doJSON(
		ctx, creds, http.MethodGet,
		"/rest/api/1.0/users/"+
			url.PathEscape(creds.Username),
		nil, &user,
	)
	if err != nil {
		if provider.IsNetworkError(err) {
			return provider.AuthCheck{
				Err: err.Error(),
			}
		}

		return provider.AuthCheck{
			CanConnect: true,
			Err:        err.Error(),
		}
	}

	return provider.AuthCheck{
		IsValid:    true,
		CanConnect: true,
		Identity: &provider.Identity{
			Username: user.Name,
			FullName: user.DisplayName,
			Email:    user.EmailAddress,
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
	const errCtx = "testing bitbucket repository access"

	path, err := ParseRepoPath(repoURL)
	if err != nil {
		return false, fmt.Errorf(
			"%s: %w", errCtx, err,
		)
	}

	err = c.doJSON(
		ctx, creds, http.MethodGet,
		repoAPIPath(path), nil, nil,
	)
	if err != nil {
		if provider.IsNetworkError(err) {
			return false, fmt.Errorf(
				"%s: %w", errCtx, err,
			)
		}

		return false, nil
	}

	return true, nil
}

// CreateRepository creates the repository inside the
// owner project when it exists, falling back to the
// user's personal project (~username) when the project
// probe fails. HTTP 409 is recovered by re-fetching the
// existing repository.
func (c *Client) CreateRepository(
	ctx context.Context,
	creds vault.Credentials,
	cfg provider.RepoConfig,
) (*provider.RemoteRepo, error) {
	const errCtx = "creating bitbucket repository"

	projectKey := cfg.Owner

	probeErr := c.doJSON(
		ctx, creds, http.MethodGet,
		"/rest/api/1.0/projects/"+
			url.PathEscape(projectKey),
		nil, nil,
	)
	if probeErr != nil {
		if provider.IsNetworkError(probeErr) {
			return nil, fmt.Errorf(
				"%s: %w", errCtx, probeErr,
			)
		}

		// Not a project key; default to the personal
		// project namespace.
		projectKey = "~" + creds.Username
	}

	var created repoPayload

	err := c.doJSON(
		ctx, creds, http.MethodPost,
		"/rest/api/1.0/projects/"+
			url.PathEscape(projectKey)+"/repos",
		repoPayload{
			Name:          cfg.Name,
			ScmID:         "git",
			Public:        !cfg.Private,
			Description:   cfg.Description,
			DefaultBranch: cfg.DefaultBranch,
		},
		&created,
	)
	if err == nil {
		return toRemoteRepo(created, false), nil
	}

	if statusCode(err) != http.StatusConflict {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	// Already exists: recover via one re-fetch.
	var existing repoPayload

	refetchErr := c.doJSON(
		ctx, creds, http.MethodGet,
		repoAPIPath(provider.RepoPath{
			Owner: projectKey,
			Name:  cfg.Name,
		}),
		nil, &existing,
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
	const errCtx = "setting bitbucket default branch"

	path, err := ParseRepoPath(repoURL)
	if err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	err = c.doJSON(
		ctx, creds, http.MethodPut,
		repoAPIPath(path)+"/branches/default",
		branchRef{ID: "refs/heads/" + branch},
		nil,
	)
	if err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	return nil
}

// ParseRepoPath extracts project key and repository slug
// from a Bitbucket URL. Both the clone path convention
// ("/scm/KEY/slug.git") and the browse path convention
// ("/projects/KEY/repos/slug") are understood, with
// generic owner/name parsing as fallback.
func ParseRepoPath(
	repoURL string,
) (provider.RepoPath, error) {
	u, err := url.Parse(repoURL)
	if err == nil {
		segs := nonEmptySegments(u.Path)

		for i, s := range segs {
			switch {
			case s == "scm" && len(segs) >= i+3:
				return provider.RepoPath{
					Owner: segs[i+1],
					Name: strings.TrimSuffix(
						segs[i+2], ".git",
					),
				}, nil
			case s == "projects" &&
				len(segs) >= i+4 &&
				segs[i+2] == "repos":
				return provider.RepoPath{
					Owner: segs[i+1],
					Name: strings.TrimSuffix(
						segs[i+3], ".git",
					),
				}, nil
			}
		}
	}

	return provider.ParseRepoPath(repoURL)
}

// repoAPIPath builds the REST path for one repository.
func repoAPIPath(path provider.RepoPath) string {
	return "/rest/api/1.0/projects/" +
		url.PathEscape(path.Owner) +
		"/repos/" +
		url.PathEscape(path.Name)
}

// nonEmptySegments splits a URL path into its non-empty
// segments.
func nonEmptySegments(p string) []string {
	var segs []string

	for _, s := range strings.Split(p, "/") {
		if s != "" {
			segs = append(segs, s)
		}
	}

	return segs
}

// statusCode extracts the HTTP status from a wrapped
// *provider.StatusError, or 0.
func statusCode(err error) int {
	var statusErr *provider.StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode
	}

	return 0
}

// toRemoteRepo converts a repository payload to the
// uniform descriptor. The http clone link is preferred
// over ssh.
func toRemoteRepo(
	r repoPayload,
	preExisting bool,
) *provider.RemoteRepo {
	owner := ""
	if r.Project != nil {
		owner = r.Project.Key
	}

	cloneURL := ""

	if r.Links != nil {
		for _, link := range r.Links.Clone {
			if link.Name == "http" ||
				link.Name == "https" {
				cloneURL = link.Href

				break
			}
		}
	}

	name := r.Slug
	if name == "" {
		name = r.Name
	}

	return &provider.RemoteRepo{
		Owner:         owner,
		Name:          name,
		CloneURL:      cloneURL,
		DefaultBranch: r.DefaultBranch,
		Private:       !r.Public,
		PreExisting:   preExisting,
	}
}
