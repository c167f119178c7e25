package registry

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/google/go-containerregistry/pkg/name"
	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/remote"
)

func testPinner(head headFunc) *Pinner {
	return &Pinner{
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		head:   head,
	}
}

func TestPinAppendsDigest(t *testing.T) {
	digest := v1.Hash{Algorithm: "sha256", Hex: strings.Repeat("ab", 32)}
	p := testPinner(func(ref name.Reference, _ ...remote.Option) (*v1.Descriptor, error) {
		if ref.Identifier() != "3.11-slim" {
			t.Errorf("unexpected identifier %q", ref.Identifier())
		}
		return &v1.Descriptor{Digest: digest}, nil
	})

	pinned, err := p.Pin(context.Background(), "python:3.11-slim")
	if err != nil {
		t.Fatalf("pin: %v", err)
	}
	want := "python:3.11-slim@" + digest.String()
	if pinned != want {
		t.Errorf("pinned = %q, want %q", pinned, want)
	}
}

func TestPinPassesThroughPinnedReference(t *testing.T) {
	p := testPinner(func(name.Reference, ...remote.Option) (*v1.Descriptor, error) {
		t.Fatal("registry must not be contacted for a pinned reference")
		return nil, nil
	})

	in := "python:3.11-slim@sha256:" + strings.Repeat("ab", 32)
	pinned, err := p.Pin(context.Background(), in)
	if err != nil {
		t.Fatalf("pin: %v", err)
	}
	if pinned != in {
		t.Errorf("pinned reference changed: %q", pinned)
	}
}

func TestPinWrapsResolveError(t *testing.T) {
	boom := errors.New("registry unreachable")
	p := testPinner(func(name.Reference, ...remote.Option) (*v1.Descriptor, error) {
		return nil, boom
	})

	if _, err := p.Pin(context.Background(), "python:3.11-slim"); !errors.Is(err, boom) {
		t.Errorf("expected wrapped resolve error, got %v", err)
	}
}

func TestPinRejectsInvalidReference(t *testing.T) {
	p := testPinner(nil)
	if _, err := p.Pin(context.Background(), "UPPER CASE"); err == nil {
		t.Error("expected error for invalid reference")
	}
}
