// Package vault stores git hosting credentials encrypted
// at rest. Records are sealed with ChaCha20-Poly1305
// under a key derived from a vault passphrase and a
// per-vault random salt, and persisted as one JSON
// envelope file per record key.
package vault

import (
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	json "github.com/goccy/go-json"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/scrypt"
)

// ErrEncryptionUnavailable is returned by Store when the
// vault has no usable encryption key. It is checked
// before every write so that secrets are never persisted
// in the clear.
var ErrEncryptionUnavailable = errors.New(
	"vault encryption unavailable",
)

const (
	saltFile = "vault.salt"
	saltSize = 16

	scryptN = 1 << 15
	scryptR = 8
	scryptP = 1
)

// envelope is the on-disk form of one encrypted record.
type envelope struct {
	Nonce []byte `json:"nonce"`
	Data  []byte `json:"data"`
}

// Vault encrypts, persists, and decrypts credentials
// keyed by namespaced record ids.
type Vault struct {
	dir  string
	aead cipher.AEAD
}

// ServerKey namespaces a server id into a vault record
// key, keeping server and repository secrets from
// colliding.
func ServerKey(serverID string) string {
	return "server/" + serverID
}

// RepoKey namespaces a repository id into a vault record
// key.
func RepoKey(repoID string) string {
	return "repo/" + repoID
}

// Open prepares a vault rooted at dir. The salt file is
// created on first use. An empty passphrase yields a
// vault whose writes fail with ErrEncryptionUnavailable
// and whose reads return nothing.
func Open(dir string, passphrase []byte) (*Vault, error) {
	const errCtx = "opening vault"

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf(
			"%s: create dir: %w", errCtx, err,
		)
	}

	v := &Vault{dir: dir}

	if len(passphrase) == 0 {
		slog.Warn(
			"vault opened without passphrase, "+
				"encryption unavailable",
			"dir", dir,
		)

		return v, nil
	}

	salt, err := loadOrCreateSalt(
		filepath.Join(dir, saltFile),
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	key, err := scrypt.Key(
		passphrase, salt,
		scryptN, scryptR, scryptP,
		chacha20poly1305.KeySize,
	)
	if err != nil {
		return nil, fmt.Errorf(
			"%s: derive key: %w", errCtx, err,
		)
	}

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf(
			"%s: init cipher: %w", errCtx, err,
		)
	}

	v.aead = aead

	return v, nil
}

// Store validates, encrypts, and persists creds under
// key. Fails with ErrEncryptionUnavailable when the
// vault has no encryption key.
func (v *Vault) Store(key string, creds Credentials) error {
	const errCtx = "storing credentials"

	if err := creds.Validate(); err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	if v.aead == nil {
		return fmt.Errorf(
			"%s: %w", errCtx, ErrEncryptionUnavailable,
		)
	}

	plain, err := json.Marshal(creds)
	if err != nil {
		return fmt.Errorf(
			"%s: marshal: %w", errCtx, err,
		)
	}

	nonce := make([]byte, v.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf(
			"%s: %w", errCtx, ErrEncryptionUnavailable,
		)
	}

	env := envelope{
		Nonce: nonce,
		Data:  v.aead.Seal(nil, nonce, plain, nil),
	}

	raw, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf(
			"%s: marshal envelope: %w", errCtx, err,
		)
	}

	path := v.recordPath(key)

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf(
			"%s: write: %w", errCtx, err,
		)
	}

	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf(
			"%s: rename: %w", errCtx, err,
		)
	}

	return nil
}

// Get decrypts and returns the credentials stored under
// key. Absent records and undecryptable records both
// yield (nil, nil); the latter logs a warning. Absence
// of a secret is an expected state, not an error.
func (v *Vault) Get(key string) (*Credentials, error) {
	raw, err := os.ReadFile(v.recordPath(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf(
			"reading credentials: %w", err,
		)
	}

	if v.aead == nil {
		slog.Warn(
			"cannot decrypt credentials, "+
				"encryption unavailable",
			"key", key,
		)

		return nil, nil
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		slog.Warn(
			"cannot parse credential envelope",
			"key", key,
			"error", err,
		)

		return nil, nil
	}

	plain, err := v.aead.Open(
		nil, env.Nonce, env.Data, nil,
	)
	if err != nil {
		slog.Warn(
			"cannot decrypt credentials",
			"key", key,
			"error", err,
		)

		return nil, nil
	}

	var creds Credentials
	if err := json.Unmarshal(plain, &creds); err != nil {
		slog.Warn(
			"cannot parse credentials",
			"key", key,
			"error", err,
		)

		return nil, nil
	}

	return &creds, nil
}

// Delete removes the record stored under key. Deleting
// an absent record is not an error.
func (v *Vault) Delete(key string) error {
	const errCtx = "deleting credentials"

	err := os.Remove(v.recordPath(key))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	return nil
}

// recordPath maps a record key to its file, encoding the
// namespace separator so records stay in one flat dir.
func (v *Vault) recordPath(key string) string {
	name := strings.ReplaceAll(key, "/", "__") + ".cred"

	return filepath.Join(v.dir, name)
}

// loadOrCreateSalt reads the vault salt, creating a
// fresh random one on first use.
func loadOrCreateSalt(path string) ([]byte, error) {
	const errCtx = "loading vault salt"

	salt, err := os.ReadFile(path)
	if err == nil && len(salt) == saltSize {
		return salt, nil
	}

	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	salt = make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf(
			"%s: generate: %w", errCtx, err,
		)
	}

	if err := os.WriteFile(
		path, salt, 0o600,
	); err != nil {
		return nil, fmt.Errorf(
			"%s: persist: %w", errCtx, err,
		)
	}

	return salt, nil
}
