package registry

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	json "github.com/goccy/go-json"

	"github.com/byte4ever/gitops_forge/gitops/exec"
	"github.com/byte4ever/gitops_forge/gitops/provider"
)

// ErrNoServerConfigured is returned by Resolve when no
// registered server matches the URL. There is no
// fallback to a default provider.
var ErrNoServerConfigured = errors.New(
	"no server configured for url",
)

// ErrNotFound is returned when a record id does not
// exist.
var ErrNotFound = errors.New("record not found")

const (
	serversFile      = "servers.json"
	repositoriesFile = "repositories.json"
)

// Registry persists server configs and repository
// records as JSON files under one directory and resolves
// repository URLs to provider clients.
type Registry struct {
	dir string

	mu      sync.Mutex
	servers []ServerConfig
	repos   []Repository
}

// Resolution is the result of resolving a repository URL:
// the matching server and the provider client that
// handles it.
type Resolution struct {
	Server ServerConfig
	Client provider.Client
}

// Open loads (or initializes) a registry rooted at dir.
func Open(dir string) (*Registry, error) {
	const errCtx = "opening registry"

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf(
			"%s: create dir: %w", errCtx, err,
		)
	}

	r := &Registry{dir: dir}

	if err := loadJSON(
		filepath.Join(dir, serversFile), &r.servers,
	); err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	if err := loadJSON(
		filepath.Join(dir, repositoriesFile), &r.repos,
	); err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	return r, nil
}

// Register upserts a server config keyed by its
// normalized base URL. On update the existing id,
// provider kind, and creation time are preserved and
// UpdatedAt is refreshed. Returns the stored config.
func (r *Registry) Register(
	cfg ServerConfig,
) (ServerConfig, error) {
	const errCtx = "registering server"

	norm, err := NormalizeBaseURL(cfg.BaseURL)
	if err != nil {
		return ServerConfig{}, fmt.Errorf(
			"%s: %w", errCtx, err,
		)
	}

	now := time.Now().UTC()
	cfg.BaseURL = norm
	cfg.UpdatedAt = now

	r.mu.Lock()
	defer r.mu.Unlock()

	if cfg.IsDefault {
		for i := range r.servers {
			r.servers[i].IsDefault = false
		}
	}

	for i, existing := range r.servers {
		if existing.BaseURL != norm {
			continue
		}

		cfg.ID = existing.ID
		cfg.ProviderKind = existing.ProviderKind
		cfg.CreatedAt = existing.CreatedAt
		r.servers[i] = cfg

		if err := r.persistServers(); err != nil {
			return ServerConfig{}, fmt.Errorf(
				"%s: %w", errCtx, err,
			)
		}

		return cfg, nil
	}

	if cfg.ID == "" {
		cfg.ID = newID()
	}

	cfg.CreatedAt = now
	r.servers = append(r.servers, cfg)

	if err := r.persistServers(); err != nil {
		return ServerConfig{}, fmt.Errorf(
			"%s: %w", errCtx, err,
		)
	}

	return cfg, nil
}

// Remove deletes the server config with the given id and
// every repository record referencing it, keeping the
// serverId invariant intact. It returns the IDs of the
// cascaded repository records so the caller can clean up
// their credentials (the vault is a separate store); the
// snapshot is taken under the same lock as the removal,
// so no record slips between them.
func (r *Registry) Remove(id string) ([]string, error) {
	const errCtx = "removing server"

	r.mu.Lock()
	defer r.mu.Unlock()

	idx := -1

	for i, s := range r.servers {
		if s.ID == id {
			idx = i

			break
		}
	}

	if idx < 0 {
		return nil, fmt.Errorf(
			"%s: %w: %s", errCtx, ErrNotFound, id,
		)
	}

	r.servers = append(
		r.servers[:idx], r.servers[idx+1:]...,
	)

	var removed []string

	kept := r.repos[:0]

	for _, repo := range r.repos {
		if repo.ServerID != id {
			kept = append(kept, repo)

			continue
		}

		removed = append(removed, repo.ID)
	}

	r.repos = kept

	if err := r.persistServers(); err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	if err := r.persistRepos(); err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	return removed, nil
}

// Get returns the server config with the given id.
func (r *Registry) Get(id string) (ServerConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, s := range r.servers {
		if s.ID == id {
			return s, nil
		}
	}

	return ServerConfig{}, fmt.Errorf(
		"getting server: %w: %s", ErrNotFound, id,
	)
}

// Servers returns all registered server configs.
func (r *Registry) Servers() []ServerConfig {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]ServerConfig, len(r.servers))
	copy(out, r.servers)

	return out
}

// Resolve parses rawURL down to scheme+host+port and
// returns the matching server together with its provider
// client. Fails with ErrNoServerConfigured when nothing
// matches; there is never a silent default.
func (r *Registry) Resolve(
	rawURL string,
) (Resolution, error) {
	const errCtx = "resolving server for url"

	norm, err := NormalizeBaseURL(rawURL)
	if err != nil {
		return Resolution{}, fmt.Errorf(
			"%s: %w", errCtx, err,
		)
	}

	r.mu.Lock()

	var (
		match ServerConfig
		found bool
	)

	// Copy under the lock; Register rewrites elements in
	// place.
	for i := range r.servers {
		if r.servers[i].BaseURL == norm {
			match = r.servers[i]
			found = true

			break
		}
	}

	r.mu.Unlock()

	if !found {
		return Resolution{}, fmt.Errorf(
			"%s: %w: %s",
			errCtx,
			ErrNoServerConfigured,
			exec.Redact(rawURL),
		)
	}

	client, err := ClientFor(match)
	if err != nil {
		return Resolution{}, fmt.Errorf(
			"%s: %w", errCtx, err,
		)
	}

	return Resolution{
		Server: match,
		Client: client,
	}, nil
}

// AddRepository stores a repository record. The record's
// ServerID must reference a registered server.
func (r *Registry) AddRepository(
	repo Repository,
) (Repository, error) {
	const errCtx = "adding repository"

	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.serverExistsLocked(repo.ServerID) {
		return Repository{}, fmt.Errorf(
			"%s: server %q is not registered",
			errCtx, repo.ServerID,
		)
	}

	if repo.ID == "" {
		repo.ID = newID()
	}

	if repo.AuthStatus == "" {
		repo.AuthStatus = AuthUnknown
	}

	r.repos = append(r.repos, repo)

	if err := r.persistRepos(); err != nil {
		return Repository{}, fmt.Errorf(
			"%s: %w", errCtx, err,
		)
	}

	return repo, nil
}

// UpdateRepository replaces the stored record with the
// same id. The ServerID invariant is re-checked.
func (r *Registry) UpdateRepository(
	repo Repository,
) error {
	const errCtx = "updating repository"

	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.serverExistsLocked(repo.ServerID) {
		return fmt.Errorf(
			"%s: server %q is not registered",
			errCtx, repo.ServerID,
		)
	}

	for i, existing := range r.repos {
		if existing.ID != repo.ID {
			continue
		}

		r.repos[i] = repo

		if err := r.persistRepos(); err != nil {
			return fmt.Errorf("%s: %w", errCtx, err)
		}

		return nil
	}

	return fmt.Errorf(
		"%s: %w: %s", errCtx, ErrNotFound, repo.ID,
	)
}

// DeleteRepository removes the repository record with
// the given id.
func (r *Registry) DeleteRepository(id string) error {
	const errCtx = "deleting repository"

	r.mu.Lock()
	defer r.mu.Unlock()

	for i, existing := range r.repos {
		if existing.ID != id {
			continue
		}

		r.repos = append(
			r.repos[:i], r.repos[i+1:]...,
		)

		if err := r.persistRepos(); err != nil {
			return fmt.Errorf("%s: %w", errCtx, err)
		}

		return nil
	}

	return fmt.Errorf(
		"%s: %w: %s", errCtx, ErrNotFound, id,
	)
}

// GetRepository returns the repository record with the
// given id.
func (r *Registry) GetRepository(
	id string,
) (Repository, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, repo := range r.repos {
		if repo.ID == id {
			return repo, nil
		}
	}

	return Repository{}, fmt.Errorf(
		"getting repository: %w: %s", ErrNotFound, id,
	)
}

// Repositories returns all repository records.
func (r *Registry) Repositories() []Repository {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Repository, len(r.repos))
	copy(out, r.repos)

	return out
}

// SetAuthStatus overwrites the repository's transient
// auth status and stamps the check time.
func (r *Registry) SetAuthStatus(
	id string,
	status AuthStatus,
) error {
	const errCtx = "setting auth status"

	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.repos {
		if r.repos[i].ID != id {
			continue
		}

		r.repos[i].AuthStatus = status
		r.repos[i].LastAuthCheck = time.Now().UTC()

		if err := r.persistRepos(); err != nil {
			return fmt.Errorf("%s: %w", errCtx, err)
		}

		return nil
	}

	return fmt.Errorf(
		"%s: %w: %s", errCtx, ErrNotFound, id,
	)
}

// serverExistsLocked reports whether a server id is
// registered. Callers must hold r.mu.
func (r *Registry) serverExistsLocked(id string) bool {
	for _, s := range r.servers {
		if s.ID == id {
			return true
		}
	}

	return false
}

// persistServers writes the server list. Callers must
// hold r.mu.
func (r *Registry) persistServers() error {
	return saveJSON(
		filepath.Join(r.dir, serversFile), r.servers,
	)
}

// persistRepos writes the repository list. Callers must
// hold r.mu.
func (r *Registry) persistRepos() error {
	return saveJSON(
		filepath.Join(r.dir, repositoriesFile), r.repos,
	)
}

// loadJSON reads a JSON file into out, leaving out
// untouched when the file does not exist yet.
func loadJSON(path string, out any) error {
	const errCtx = "loading store"

	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}

	if err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf(
			"%s: parse %s: %w", errCtx, path, err,
		)
	}

	return nil
}

// saveJSON writes v as JSON via a temp file rename so a
// crash never leaves a half-written store.
func saveJSON(path string, v any) error {
	const errCtx = "saving store"

	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf(
			"%s: marshal: %w", errCtx, err,
		)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("%s: write: %w", errCtx, err)
	}

	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf(
			"%s: rename: %w", errCtx, err,
		)
	}

	return nil
}
