// Package registry stores git hosting server configs and
// local repository records, and resolves which provider
// client handles a given repository URL. Provider
// selection is driven purely by this declarative mapping,
// never by URL heuristics at call sites.
package registry

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// ProviderKind identifies which provider adapter a
// server speaks.
type ProviderKind string

// Supported provider kinds.
const (
	KindGitea     ProviderKind = "gitea"
	KindBitbucket ProviderKind = "bitbucket"
	KindGitHub    ProviderKind = "github"
	KindGitLab    ProviderKind = "gitlab"
)

// ServerConfig is a registered git hosting endpoint,
// independent of any specific repository. Identity is
// the normalized BaseURL (scheme+host+port).
type ServerConfig struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	ProviderKind ProviderKind `json:"providerKind"`
	BaseURL      string       `json:"baseUrl"`
	IsDefault    bool         `json:"isDefault"`
	CreatedAt    time.Time    `json:"createdAt"`
	UpdatedAt    time.Time    `json:"updatedAt"`
}

// NormalizeBaseURL reduces a URL to its identity form:
// lowercased scheme and host plus any non-default port,
// with path, query, and userinfo discarded. The result
// is deterministic so equal endpoints always collide.
func NormalizeBaseURL(raw string) (string, error) {
	const errCtx = "normalizing server url"

	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("%s: %w", errCtx, err)
	}

	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf(
			"%s: %q has no scheme or host",
			errCtx, raw,
		)
	}

	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	port := u.Port()

	if port == "80" && scheme == "http" {
		port = ""
	}

	if port == "443" && scheme == "https" {
		port = ""
	}

	if port != "" {
		return scheme + "://" + host + ":" + port, nil
	}

	return scheme + "://" + host, nil
}

// newID returns a random record identifier.
func newID() string {
	raw := make([]byte, 8)

	// rand.Read never fails on supported platforms.
	_, _ = rand.Read(raw)

	return hex.EncodeToString(raw)
}
