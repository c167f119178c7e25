package state

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadWithoutStateFile(t *testing.T) {
	store := NewStore(t.TempDir())
	if _, err := store.Load(); !errors.Is(err, ErrNoState) {
		t.Errorf("Load = %v, want ErrNoState", err)
	}
}

func TestSaveLoadRoundtrip(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)

	app := &App{
		Name:       "web",
		Stage:      "production",
		PinnedBase: "python:3.11-slim@sha256:0123456789abcdef",
		Containers: []Container{
			{Name: "slipway.web.1", Image: "slipway/web:production-abc", Replica: 1},
			{Name: "slipway.web.2", Image: "slipway/web:production-abc", Replica: 2},
		},
	}
	app.SetImage(Image{
		Ref:           "slipway/web:production-abc",
		Stage:         "production",
		EnvHash:       "deadbeef",
		ContextDigest: "cafe",
		BuiltAt:       time.Now().UTC(),
	})

	if err := store.Save(app); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if app.UpdatedAt.IsZero() {
		t.Error("Save did not stamp UpdatedAt")
	}

	loaded, err := store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Name != "web" || loaded.Stage != "production" {
		t.Errorf("loaded %+v", loaded)
	}
	if loaded.PinnedBase != app.PinnedBase {
		t.Errorf("pinned base = %q", loaded.PinnedBase)
	}
	if img, ok := loaded.Images["production"]; !ok || img.EnvHash != "deadbeef" {
		t.Errorf("images = %+v", loaded.Images)
	}
	if len(loaded.Containers) != 2 || loaded.Containers[1].Replica != 2 {
		t.Errorf("containers = %+v", loaded.Containers)
	}
}

func TestStateDirOverride(t *testing.T) {
	override := t.TempDir()
	t.Setenv(EnvStateDir, override)

	store := NewStore(t.TempDir())
	if err := store.Save(&App{Name: "web"}); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(override, "state.json")); err != nil {
		t.Errorf("state not written to override dir: %v", err)
	}
}

func TestClear(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)

	if err := store.Clear(); err != nil {
		t.Errorf("Clear without state: %v", err)
	}

	if err := store.Save(&App{Name: "web"}); err != nil {
		t.Fatal(err)
	}
	if err := store.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if _, err := store.Load(); !errors.Is(err, ErrNoState) {
		t.Error("state survived Clear")
	}
}
