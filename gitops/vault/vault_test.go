package vault_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/byte4ever/gitops_forge/gitops/vault"
)

func openVault(t *testing.T) *vault.Vault {
	t.Helper()

	v, err := vault.Open(
		t.TempDir(), []byte("test-passphrase"),
	)
	require.NoError(t, err)

	return v
}

func TestVault_round_trip(t *testing.T) {
	t.Parallel()

	v := openVault(t)

	in := vault.Credentials{
		Method:   vault.MethodCredentials,
		Username: "alice",
		Password: "s3cret",
	}

	key := vault.ServerKey("srv-1")

	require.NoError(t, v.Store(key, in))

	out, err := v.Get(key)
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Equal(t, in, *out)
}

func TestVault_get_absent_returns_nil(t *testing.T) {
	t.Parallel()

	v := openVault(t)

	out, err := v.Get(vault.ServerKey("never-stored"))

	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestVault_records_encrypted_on_disk(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	v, err := vault.Open(dir, []byte("pw"))
	require.NoError(t, err)

	require.NoError(t, v.Store(
		vault.RepoKey("r1"),
		vault.Credentials{
			Method: vault.MethodToken,
			Token:  "super-secret-token",
		},
	))

	raw, err := os.ReadFile(
		filepath.Join(dir, "repo__r1.cred"),
	)
	require.NoError(t, err)
	assert.NotContains(
		t, string(raw), "super-secret-token",
	)
}

func TestVault_tampered_record_yields_nil(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	v, err := vault.Open(dir, []byte("pw"))
	require.NoError(t, err)

	key := vault.ServerKey("s1")

	require.NoError(t, v.Store(key, vault.Credentials{
		Method: vault.MethodToken,
		Token:  "tok",
	}))

	path := filepath.Join(dir, "server__s1.cred")
	require.NoError(
		t, os.WriteFile(path, []byte("garbage"), 0o600),
	)

	out, err := v.Get(key)
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestVault_wrong_passphrase_yields_nil(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	v1, err := vault.Open(dir, []byte("right"))
	require.NoError(t, err)

	key := vault.ServerKey("s1")

	require.NoError(t, v1.Store(key, vault.Credentials{
		Method: vault.MethodToken,
		Token:  "tok",
	}))

	v2, err := vault.Open(dir, []byte("wrong"))
	require.NoError(t, err)

	out, err := v2.Get(key)
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestVault_store_without_key_fails(t *testing.T) {
	t.Parallel()

	v, err := vault.Open(t.TempDir(), nil)
	require.NoError(t, err)

	err = v.Store(vault.ServerKey("s1"), vault.Credentials{
		Method: vault.MethodToken,
		Token:  "tok",
	})

	assert.ErrorIs(t, err, vault.ErrEncryptionUnavailable)
}

func TestVault_delete_absent_is_nil(t *testing.T) {
	t.Parallel()

	v := openVault(t)

	assert.NoError(t, v.Delete(vault.RepoKey("nope")))
}

func TestVault_delete_removes_record(t *testing.T) {
	t.Parallel()

	v := openVault(t)

	key := vault.RepoKey("r1")

	require.NoError(t, v.Store(key, vault.Credentials{
		Method: vault.MethodToken,
		Token:  "tok",
	}))
	require.NoError(t, v.Delete(key))

	out, err := v.Get(key)
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestCredentials_validate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		creds   vault.Credentials
		wantErr string
	}{
		{
			name: "token ok",
			creds: vault.Credentials{
				Method: vault.MethodToken,
				Token:  "t",
			},
		},
		{
			name: "token missing",
			creds: vault.Credentials{
				Method: vault.MethodToken,
			},
			wantErr: "token must be set",
		},
		{
			name: "credentials ok",
			creds: vault.Credentials{
				Method:   vault.MethodCredentials,
				Username: "u",
				Password: "p",
			},
		},
		{
			name: "credentials missing password",
			creds: vault.Credentials{
				Method:   vault.MethodCredentials,
				Username: "u",
			},
			wantErr: "username and password",
		},
		{
			name: "ssh ok",
			creds: vault.Credentials{
				Method:     vault.MethodSSH,
				PrivateKey: "---key---",
			},
		},
		{
			name: "unknown method",
			creds: vault.Credentials{
				Method: "magic",
			},
			wantErr: "unknown method",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			err := tc.creds.Validate()

			if tc.wantErr == "" {
				assert.NoError(t, err)

				return
			}

			assert.ErrorContains(t, err, tc.wantErr)
		})
	}
}
