package build

import (
	"strings"
	"testing"

	"github.com/slipway-sh/slipway/internal/recipe"
)

func TestImageTagShape(t *testing.T) {
	tag := ImageTag(recipe.StageProduction, "FROM python\n", "digest")
	if !strings.HasPrefix(tag, "production-") {
		t.Errorf("tag = %q, want production- prefix", tag)
	}
	if got := len(strings.TrimPrefix(tag, "production-")); got != 12 {
		t.Errorf("tag suffix length = %d, want 12", got)
	}
}

func TestImageTagTracksInputs(t *testing.T) {
	base := ImageTag(recipe.StageProduction, "FROM python\n", "digest")
	if ImageTag(recipe.StageProduction, "FROM python\n", "digest") != base {
		t.Error("tag not deterministic")
	}
	if ImageTag(recipe.StageDevelopment, "FROM python\n", "digest") == base {
		t.Error("stage not part of the tag")
	}
	if ImageTag(recipe.StageProduction, "FROM python:3.12\n", "digest") == base {
		t.Error("Dockerfile change did not change the tag")
	}
	if ImageTag(recipe.StageProduction, "FROM python\n", "other") == base {
		t.Error("context change did not change the tag")
	}
}

func TestImageRef(t *testing.T) {
	ref := ImageRef("web", recipe.StageDevelopment, "FROM python\n", "digest")
	if !strings.HasPrefix(ref, "slipway/web:development-") {
		t.Errorf("ref = %q", ref)
	}
}

func TestEnvironmentHash(t *testing.T) {
	base := EnvironmentHash("FROM python\n", []byte("fastapi==0.111.0\n"))
	if EnvironmentHash("FROM python\n", []byte("fastapi==0.111.0\n")) != base {
		t.Error("environment hash not deterministic")
	}
	if EnvironmentHash("FROM python\n", []byte("fastapi==0.112.0\n")) == base {
		t.Error("manifest change did not change the environment hash")
	}
	if EnvironmentHash("FROM python:3.12\n", []byte("fastapi==0.111.0\n")) == base {
		t.Error("Dockerfile change did not change the environment hash")
	}
}
