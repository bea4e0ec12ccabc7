package registry

import (
	"fmt"

	"github.com/byte4ever/gitops_forge/gitops/provider"
	"github.com/byte4ever/gitops_forge/gitops/provider/bitbucket"
	"github.com/byte4ever/gitops_forge/gitops/provider/gitea"
	"github.com/byte4ever/gitops_forge/gitops/provider/github"
	"github.com/byte4ever/gitops_forge/gitops/provider/gitlab"
)

// ClientFor constructs the provider client for a server
// config. An unrecognized provider kind is a
// configuration error, never a guess.
func ClientFor(
	cfg ServerConfig,
) (provider.Client, error) {
	const errCtx = "selecting provider client"

	switch cfg.ProviderKind {
	case KindGitea:
		client, err := gitea.NewClient(gitea.Config{
			BaseURL: cfg.BaseURL,
		})
		if err != nil {
			return nil, fmt.Errorf(
				"%s: %w", errCtx, err,
			)
		}

		return client, nil
	case KindBitbucket:
		client, err := bitbucket.NewClient(
			bitbucket.Config{BaseURL: cfg.BaseURL},
		)
		if err != nil {
			return nil, fmt.Errorf(
				"%s: %w", errCtx, err,
			)
		}

		return client, nil
	case KindGitHub:
		client, err := github.NewClient(github.Config{
			BaseURL: cfg.BaseURL,
		})
		if err != nil {
			return nil, fmt.Errorf(
				"%s: %w", errCtx, err,
			)
		}

		return client, nil
	case KindGitLab:
		client, err := gitlab.NewClient(gitlab.Config{
			BaseURL: cfg.BaseURL,
		})
		if err != nil {
			return nil, fmt.Errorf(
				"%s: %w", errCtx, err,
			)
		}

		return client, nil
	default:
		return nil, fmt.Errorf(
			"%s: unknown provider kind %q",
			errCtx, cfg.ProviderKind,
		)
	}
}
