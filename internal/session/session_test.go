package session

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/slipway-sh/slipway/internal/engine"
	"github.com/slipway-sh/slipway/internal/recipe"
	"github.com/slipway-sh/slipway/internal/state"
)

type fakeAPI struct {
	buildCalls int
	images     []image.Summary
	containers []types.Container
	created    []string
	removed    []string
}

func (f *fakeAPI) ImageBuild(_ context.Context, buildContext io.Reader, _ types.ImageBuildOptions) (types.ImageBuildResponse, error) {
	f.buildCalls++
	io.Copy(io.Discard, buildContext)
	return types.ImageBuildResponse{Body: io.NopCloser(strings.NewReader(""))}, nil
}

func (f *fakeAPI) ImageList(context.Context, image.ListOptions) ([]image.Summary, error) {
	return f.images, nil
}

func (f *fakeAPI) ContainerCreate(_ context.Context, _ *container.Config, _ *container.HostConfig, _ *network.NetworkingConfig, _ *ocispec.Platform, name string) (container.CreateResponse, error) {
	f.created = append(f.created, name)
	return container.CreateResponse{ID: "id-" + name}, nil
}

func (f *fakeAPI) ContainerStart(context.Context, string, container.StartOptions) error { return nil }
func (f *fakeAPI) ContainerStop(context.Context, string, container.StopOptions) error  { return nil }

func (f *fakeAPI) ContainerRemove(_ context.Context, id string, _ container.RemoveOptions) error {
	f.removed = append(f.removed, id)
	return nil
}

func (f *fakeAPI) ContainerList(context.Context, container.ListOptions) ([]types.Container, error) {
	return f.containers, nil
}

func (f *fakeAPI) ContainerLogs(context.Context, string, container.LogsOptions) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader("")), nil
}

func (f *fakeAPI) ContainerWait(context.Context, string, container.WaitCondition) (<-chan container.WaitResponse, <-chan error) {
	ch := make(chan container.WaitResponse, 1)
	ch <- container.WaitResponse{}
	return ch, make(chan error, 1)
}

func testRecipe(t *testing.T, yaml string) *recipe.Recipe {
	t.Helper()
	r, err := recipe.Decode(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("recipe: %v", err)
	}
	return r
}

func testOptions(t *testing.T, fake *fakeAPI, r *recipe.Recipe) Options {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "main.py"), []byte("app = object()\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "requirements.txt"), []byte("fastapi\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return Options{
		Logger: logger,
		Engine: engine.NewWithAPI(fake, logger),
		Store:  state.NewStore(dir),
		Recipe: r,
		Dir:    dir,
	}
}

func TestRunSpecsProduction(t *testing.T) {
	r := testRecipe(t, "version: 1\nname: web\nproduction:\n  replicas: 3\n  publish: false\n  memory: 256m\n")

	specs := runSpecs(r, recipe.StageProduction, "slipway/web:production-abc", nil)
	if len(specs) != 3 {
		t.Fatalf("got %d specs, want 3", len(specs))
	}
	for i, spec := range specs {
		if spec.Name != ReplicaContainerName("web", i+1) {
			t.Errorf("spec %d name = %q", i, spec.Name)
		}
		if spec.Publish || spec.HostPort != 0 {
			t.Errorf("spec %d published despite publish: false", i)
		}
		if !spec.RestartOnFailure {
			t.Errorf("spec %d missing restart policy", i)
		}
		if spec.Memory != 256*1024*1024 {
			t.Errorf("spec %d memory = %d", i, spec.Memory)
		}
	}
}

func TestRunSpecsSingleReplicaPublishes(t *testing.T) {
	r := testRecipe(t, "version: 1\nname: web\nport: 9000\n")

	specs := runSpecs(r, recipe.StageProduction, "img", nil)
	if len(specs) != 1 {
		t.Fatalf("got %d specs", len(specs))
	}
	if !specs[0].Publish || specs[0].HostPort != 9000 {
		t.Errorf("spec = %+v, want host port 9000", specs[0])
	}
}

func TestRunSpecsDevelopment(t *testing.T) {
	r := testRecipe(t, "version: 1\nname: web\n")

	specs := runSpecs(r, recipe.StageDevelopment, "img", []string{"/src:/app"})
	if len(specs) != 1 {
		t.Fatalf("got %d specs", len(specs))
	}
	spec := specs[0]
	if spec.Name != DevContainerName("web") {
		t.Errorf("name = %q", spec.Name)
	}
	if len(spec.Binds) != 1 || spec.Binds[0] != "/src:/app" {
		t.Errorf("binds = %v", spec.Binds)
	}
	if spec.RestartOnFailure {
		t.Error("development container must not restart itself, the session supervises it")
	}
}

func TestReadyURL(t *testing.T) {
	published := testRecipe(t, "version: 1\nname: web\nport: 8080\n")
	if got := readyURL(published, recipe.StageProduction); got != "http://127.0.0.1:8080/" {
		t.Errorf("url = %q", got)
	}

	unpublished := testRecipe(t, "version: 1\nname: web\nproduction:\n  replicas: 2\n  publish: false\n")
	if got := readyURL(unpublished, recipe.StageProduction); got != "" {
		t.Errorf("url = %q, want empty for unpublished service", got)
	}
}

func TestBuildStageSkipsExistingImage(t *testing.T) {
	fake := &fakeAPI{images: []image.Summary{{ID: "sha256:cafe"}}}
	r := testRecipe(t, "version: 1\nname: web\nbase:\n  image: python:3.11-slim@sha256:abc123\n")
	opts := testOptions(t, fake, r)

	plan, err := BuildStage(context.Background(), opts, recipe.StageProduction)
	if err != nil {
		t.Fatalf("BuildStage: %v", err)
	}
	if fake.buildCalls != 0 {
		t.Error("existing image was rebuilt")
	}

	app, err := opts.Store.Load()
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	img, ok := app.Images["production"]
	if !ok || img.Ref != plan.Ref {
		t.Errorf("state images = %+v", app.Images)
	}
	if img.EnvHash != plan.EnvHash {
		t.Errorf("state env hash = %q, want %q", img.EnvHash, plan.EnvHash)
	}
}

func TestBuildStageForceRebuilds(t *testing.T) {
	fake := &fakeAPI{images: []image.Summary{{ID: "sha256:cafe"}}}
	r := testRecipe(t, "version: 1\nname: web\nbase:\n  image: python:3.11-slim@sha256:abc123\n")
	opts := testOptions(t, fake, r)
	opts.Force = true

	if _, err := BuildStage(context.Background(), opts, recipe.StageProduction); err != nil {
		t.Fatalf("BuildStage: %v", err)
	}
	if fake.buildCalls != 1 {
		t.Errorf("build calls = %d, want 1", fake.buildCalls)
	}
}

func TestDeployConvergesContainers(t *testing.T) {
	fake := &fakeAPI{
		images: []image.Summary{{ID: "sha256:cafe"}},
		containers: []types.Container{
			{ID: "stray-id", Names: []string{"/slipway.web.3"}, State: "running"},
		},
	}
	r := testRecipe(t, "version: 1\nname: web\nproduction:\n  replicas: 2\n  publish: false\n")
	opts := testOptions(t, fake, r)

	if err := Deploy(context.Background(), opts, recipe.StageProduction); err != nil {
		t.Fatalf("Deploy: %v", err)
	}

	if len(fake.created) != 2 {
		t.Errorf("created = %v, want both replicas", fake.created)
	}
	wantRemoved := false
	for _, id := range fake.removed {
		if id == "stray-id" {
			wantRemoved = true
		}
	}
	if !wantRemoved {
		t.Errorf("stray container not removed: %v", fake.removed)
	}

	app, err := opts.Store.Load()
	if err != nil {
		t.Fatal(err)
	}
	if app.Stage != "production" || len(app.Containers) != 2 {
		t.Errorf("state = %+v", app)
	}
}

func TestTeardownClearsContainers(t *testing.T) {
	fake := &fakeAPI{containers: []types.Container{
		{ID: "aaaaaaaaaaaaaaaa", Names: []string{"/slipway.web.1"}},
	}}
	r := testRecipe(t, "version: 1\nname: web\n")
	opts := testOptions(t, fake, r)

	if err := opts.Store.Save(&state.App{Name: "web", Containers: []state.Container{{Name: "slipway.web.1"}}}); err != nil {
		t.Fatal(err)
	}
	if err := Teardown(context.Background(), opts); err != nil {
		t.Fatalf("Teardown: %v", err)
	}
	if len(fake.removed) != 1 {
		t.Errorf("removed = %v", fake.removed)
	}
	app, err := opts.Store.Load()
	if err != nil {
		t.Fatal(err)
	}
	if len(app.Containers) != 0 {
		t.Errorf("state still lists containers: %+v", app.Containers)
	}
}

func TestDevRejectsRemoteSource(t *testing.T) {
	r := testRecipe(t, "version: 1\nname: web\nsource: github:acme/shop\n")
	opts := testOptions(t, &fakeAPI{}, r)

	if err := Dev(context.Background(), opts); err == nil {
		t.Fatal("dev accepted a remote source")
	}
}

func TestRebuildPaths(t *testing.T) {
	r := testRecipe(t, "version: 1\nname: web\nbase:\n  manifest: deps/requirements.txt\n")
	paths := rebuildPaths(r)

	want := map[string]bool{"deps/requirements.txt": true, "slipway.yaml": true, "slipway.yml": true, ".dockerignore": true}
	for _, p := range paths {
		delete(want, p)
	}
	if len(want) != 0 {
		t.Errorf("rebuild paths missing %v (got %v)", want, paths)
	}
}
