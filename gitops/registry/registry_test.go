package registry_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/byte4ever/gitops_forge/gitops/registry"
)

func openRegistry(t *testing.T) *registry.Registry {
	t.Helper()

	r, err := registry.Open(t.TempDir())
	require.NoError(t, err)

	return r
}

func TestNormalizeBaseURL(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "plain",
			in:   "https://git.example.com",
			want: "https://git.example.com",
		},
		{
			name: "repo path discarded",
			in:   "https://git.example.com/org/repo.git",
			want: "https://git.example.com",
		},
		{
			name: "case folded",
			in:   "HTTPS://Git.Example.COM/x",
			want: "https://git.example.com",
		},
		{
			name: "explicit port kept",
			in:   "https://git.example.com:3000/a/b",
			want: "https://git.example.com:3000",
		},
		{
			name: "default https port dropped",
			in:   "https://git.example.com:443",
			want: "https://git.example.com",
		},
		{
			name: "userinfo discarded",
			in:   "https://tok@git.example.com/a/b.git",
			want: "https://git.example.com",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got, err := registry.NormalizeBaseURL(tc.in)

			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestNormalizeBaseURL_no_host(t *testing.T) {
	t.Parallel()

	_, err := registry.NormalizeBaseURL("not-a-url")

	assert.ErrorContains(t, err, "no scheme or host")
}

func TestRegister_upsert_preserves_identity(t *testing.T) {
	t.Parallel()

	r := openRegistry(t)

	first, err := r.Register(registry.ServerConfig{
		Name:         "main",
		ProviderKind: registry.KindGitea,
		BaseURL:      "https://git.example.com",
	})
	require.NoError(t, err)
	require.NotEmpty(t, first.ID)

	second, err := r.Register(registry.ServerConfig{
		Name:         "renamed",
		ProviderKind: registry.KindBitbucket,
		BaseURL:      "https://GIT.example.com/",
	})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(
		t, registry.KindGitea, second.ProviderKind,
	)
	assert.Equal(t, "renamed", second.Name)
	assert.Equal(t, first.CreatedAt, second.CreatedAt)
	assert.False(
		t, second.UpdatedAt.Before(first.UpdatedAt),
	)
	assert.Len(t, r.Servers(), 1)
}

func TestResolve_scenario(t *testing.T) {
	t.Parallel()

	r := openRegistry(t)

	srv, err := r.Register(registry.ServerConfig{
		Name:         "gitea",
		ProviderKind: registry.KindGitea,
		BaseURL:      "https://git.example.com",
	})
	require.NoError(t, err)

	res, err := r.Resolve(
		"https://git.example.com/org/repo.git",
	)

	require.NoError(t, err)
	assert.Equal(t, srv.ID, res.Server.ID)
	assert.NotNil(t, res.Client)
}

func TestResolve_no_match_no_fallback(t *testing.T) {
	t.Parallel()

	r := openRegistry(t)

	// Even a registered default server never serves a
	// non-matching URL.
	_, err := r.Register(registry.ServerConfig{
		Name:         "default",
		ProviderKind: registry.KindGitea,
		BaseURL:      "https://git.example.com",
		IsDefault:    true,
	})
	require.NoError(t, err)

	_, err = r.Resolve("https://other.example.com/a/b")

	assert.ErrorIs(
		t, err, registry.ErrNoServerConfigured,
	)
}

func TestClientFor_unknown_kind(t *testing.T) {
	t.Parallel()

	_, err := registry.ClientFor(registry.ServerConfig{
		ProviderKind: "subversion",
		BaseURL:      "https://svn.example.com",
	})

	assert.ErrorContains(t, err, "unknown provider kind")
}

func TestAddRepository_requires_server(t *testing.T) {
	t.Parallel()

	r := openRegistry(t)

	_, err := r.AddRepository(registry.Repository{
		Name:     "app",
		URL:      "https://git.example.com/org/app.git",
		ServerID: "missing",
	})

	assert.ErrorContains(t, err, "not registered")
}

func TestRemove_cascades_repositories(t *testing.T) {
	t.Parallel()

	r := openRegistry(t)

	srv, err := r.Register(registry.ServerConfig{
		Name:         "gitea",
		ProviderKind: registry.KindGitea,
		BaseURL:      "https://git.example.com",
	})
	require.NoError(t, err)

	repo, err := r.AddRepository(registry.Repository{
		Name:     "app",
		URL:      "https://git.example.com/org/app.git",
		ServerID: srv.ID,
	})
	require.NoError(t, err)

	removed, err := r.Remove(srv.ID)
	require.NoError(t, err)

	// The removal reports the cascaded records so their
	// credentials can be cleaned up too.
	assert.Equal(t, []string{repo.ID}, removed)
	assert.Empty(t, r.Servers())
	assert.Empty(t, r.Repositories())
}

func TestResolve_concurrent_with_register(t *testing.T) {
	t.Parallel()

	r := openRegistry(t)

	_, err := r.Register(registry.ServerConfig{
		Name:         "gitea",
		ProviderKind: registry.KindGitea,
		BaseURL:      "https://git.example.com",
	})
	require.NoError(t, err)

	done := make(chan struct{})

	go func() {
		defer close(done)

		for i := 0; i < 200; i++ {
			_, err := r.Register(registry.ServerConfig{
				Name:         "renamed",
				ProviderKind: registry.KindGitea,
				BaseURL:      "https://git.example.com",
			})
			assert.NoError(t, err)
		}
	}()

	for i := 0; i < 200; i++ {
		res, err := r.Resolve(
			"https://git.example.com/org/repo.git",
		)
		require.NoError(t, err)
		assert.NotEmpty(t, res.Server.ID)
	}

	<-done
}

func TestSetAuthStatus_stamps_check_time(t *testing.T) {
	t.Parallel()

	r := openRegistry(t)

	srv, err := r.Register(registry.ServerConfig{
		Name:         "gitea",
		ProviderKind: registry.KindGitea,
		BaseURL:      "https://git.example.com",
	})
	require.NoError(t, err)

	repo, err := r.AddRepository(registry.Repository{
		Name:     "app",
		URL:      "https://git.example.com/org/app.git",
		ServerID: srv.ID,
	})
	require.NoError(t, err)
	assert.Equal(
		t, registry.AuthUnknown, repo.AuthStatus,
	)

	require.NoError(t, r.SetAuthStatus(
		repo.ID, registry.AuthSuccess,
	))

	got, err := r.GetRepository(repo.ID)
	require.NoError(t, err)
	assert.Equal(
		t, registry.AuthSuccess, got.AuthStatus,
	)
	assert.False(t, got.LastAuthCheck.IsZero())
}

func TestRegistry_reload_from_disk(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	r1, err := registry.Open(dir)
	require.NoError(t, err)

	srv, err := r1.Register(registry.ServerConfig{
		Name:         "gitea",
		ProviderKind: registry.KindGitea,
		BaseURL:      "https://git.example.com",
	})
	require.NoError(t, err)

	_, err = r1.AddRepository(registry.Repository{
		Name:     "app",
		URL:      "https://git.example.com/org/app.git",
		ServerID: srv.ID,
	})
	require.NoError(t, err)

	r2, err := registry.Open(dir)
	require.NoError(t, err)

	require.Len(t, r2.Servers(), 1)
	require.Len(t, r2.Repositories(), 1)
	assert.Equal(t, srv.ID, r2.Servers()[0].ID)
}
