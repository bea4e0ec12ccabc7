package provider

import (
	"fmt"
	"net/url"
	"strings"
)

// RepoPath identifies a repository within a provider
// namespace (user, organisation, or project).
type RepoPath struct {
	Owner string
	Name  string
}

// ParseRepoPath extracts owner and repository name from a
// repository URL using the generic <owner>/<name>
// convention: the last two path segments, with a ".git"
// suffix stripped. Provider adapters with their own path
// conventions fall back to this.
func ParseRepoPath(repoURL string) (RepoPath, error) {
	const errCtx = "parsing repository url"

	u, err := url.Parse(repoURL)
	if err != nil {
		return RepoPath{}, fmt.Errorf(
			"%s: %w", errCtx, err,
		)
	}

	segs := splitPath(u.Path)
	if len(segs) < 2 {
		return RepoPath{}, fmt.Errorf(
			"%s: %q has no owner/name path",
			errCtx, repoURL,
		)
	}

	return RepoPath{
		Owner: segs[len(segs)-2],
		Name: strings.TrimSuffix(
			segs[len(segs)-1], ".git",
		),
	}, nil
}

// splitPath splits a URL path into its non-empty
// segments.
func splitPath(p string) []string {
	var segs []string

	for _, s := range strings.Split(p, "/") {
		if s != "" {
			segs = append(segs, s)
		}
	}

	return segs
}
