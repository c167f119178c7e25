// Package registry resolves mutable base image tags to registry digests so
// that rebuilds of an unchanged recipe reproduce the same environment.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/name"
	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/remote"
)

type headFunc func(ref name.Reference, options ...remote.Option) (*v1.Descriptor, error)

type Pinner struct {
	logger   *slog.Logger
	keychain authn.Keychain
	head     headFunc
}

// NewPinner uses the standard docker config keychain (~/.docker/config.json)
// for registry credentials.
func NewPinner(logger *slog.Logger) *Pinner {
	return &Pinner{
		logger:   logger,
		keychain: authn.DefaultKeychain,
		head:     remote.Head,
	}
}

// Pin resolves image to a digest-pinned reference of the form
// "repo:tag@sha256:...". References that already carry a digest are returned
// unchanged without touching the network.
func (p *Pinner) Pin(ctx context.Context, image string) (string, error) {
	if strings.Contains(image, "@sha256:") {
		return image, nil
	}

	ref, err := name.ParseReference(image)
	if err != nil {
		return "", fmt.Errorf("invalid image reference %q: %w", image, err)
	}

	desc, err := p.head(ref, remote.WithContext(ctx), remote.WithAuthFromKeychain(p.keychain))
	if err != nil {
		return "", fmt.Errorf("resolve digest for %s: %w", image, err)
	}

	pinned := fmt.Sprintf("%s@%s", image, desc.Digest)
	p.logger.Debug("Pinned base image", "image", image, "digest", desc.Digest.String())
	return pinned, nil
}
