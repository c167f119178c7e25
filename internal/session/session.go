// Package session ties the pipeline together: resolving the source tree,
// pinning the base image, rendering and building stage images, and
// converging containers. The dev and up commands are thin wrappers around
// what lives here.
package session

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/slipway-sh/slipway/internal/build"
	"github.com/slipway-sh/slipway/internal/dockerfile"
	"github.com/slipway-sh/slipway/internal/engine"
	"github.com/slipway-sh/slipway/internal/fetch"
	"github.com/slipway-sh/slipway/internal/metrics"
	"github.com/slipway-sh/slipway/internal/recipe"
	"github.com/slipway-sh/slipway/internal/state"
)

const (
	readyTimeout  = 60 * time.Second
	readyInterval = 500 * time.Millisecond
)

// Pinner resolves a mutable image reference to a digest-pinned one.
type Pinner interface {
	Pin(ctx context.Context, image string) (string, error)
}

// Options carries the wiring every session operation needs.
type Options struct {
	Logger *slog.Logger
	Engine *engine.Client
	Store  *state.Store
	Pin    Pinner        // nil skips base pinning
	Fetch  *fetch.Client // nil disables remote sources
	Recipe *recipe.Recipe
	Dir    string // directory the recipe was loaded from
	Force  bool   // build even when the image already exists

	// Stdout/Stderr receive the dev container's output; nil skips streaming.
	Stdout io.Writer
	Stderr io.Writer
}

// BuildStage ensures the image for a stage exists and returns its plan.
// Identical inputs reuse the existing image unless Force is set.
func BuildStage(ctx context.Context, opts Options, stage recipe.Stage) (*build.Plan, error) {
	srcDir, err := resolveSource(ctx, opts)
	if err != nil {
		return nil, err
	}

	baseRef := pinBase(ctx, opts)

	text, err := dockerfile.Render(opts.Recipe, baseRef)
	if err != nil {
		return nil, err
	}
	bctx, err := build.NewContext(srcDir, opts.Recipe.IgnorePatterns())
	if err != nil {
		return nil, err
	}
	plan, err := build.NewPlan(opts.Recipe.Name, stage, text, bctx, opts.Recipe.Base.Manifest)
	if err != nil {
		return nil, err
	}

	if !opts.Force {
		exists, err := opts.Engine.ImageExists(ctx, plan.Ref)
		if err != nil {
			return nil, err
		}
		if exists {
			opts.Logger.Info("Image up to date", "ref", plan.Ref)
			recordImage(opts, plan, baseRef)
			return plan, nil
		}
	}

	opts.Logger.Info("Building image", "ref", plan.Ref, "stage", stage)
	start := time.Now()
	err = opts.Engine.BuildImage(ctx, plan)
	metrics.ObserveBuild(string(stage), start, err)
	if err != nil {
		return nil, err
	}

	recordImage(opts, plan, baseRef)
	return plan, nil
}

// pinBase swaps the recipe's base image for a digest-pinned reference. When
// the registry cannot be reached the tag is used as written; a build beats
// no build.
func pinBase(ctx context.Context, opts Options) string {
	baseRef := opts.Recipe.Base.Image
	if opts.Pin == nil {
		return baseRef
	}
	pinned, err := opts.Pin.Pin(ctx, baseRef)
	if err != nil {
		opts.Logger.Warn("Base image digest unavailable, building against the tag",
			"image", baseRef, "error", err)
		return baseRef
	}
	return pinned
}

// resolveSource returns the directory holding the application tree, fetching
// remote sources into the state directory's cache first.
func resolveSource(ctx context.Context, opts Options) (string, error) {
	r := opts.Recipe
	if !r.RemoteSource() {
		return filepath.Join(opts.Dir, filepath.FromSlash(r.Source)), nil
	}

	if opts.Fetch == nil {
		return "", fmt.Errorf("source %q needs remote fetch support", r.Source)
	}
	remote, err := fetch.ParseRemote(strings.TrimPrefix(r.Source, recipe.RemoteSourcePrefix))
	if err != nil {
		return "", err
	}
	cacheDir := filepath.Join(filepath.Dir(opts.Store.Path()), "sources")
	dir, commit, err := opts.Fetch.Materialize(ctx, remote, cacheDir)
	if err != nil {
		return "", err
	}
	opts.Logger.Info("Using remote source", "remote", remote.String(), "commit", commit[:12])
	return dir, nil
}

func recordImage(opts Options, plan *build.Plan, baseRef string) {
	app := loadOrNewApp(opts)
	app.PinnedBase = baseRef
	app.SetImage(state.Image{
		Ref:           plan.Ref,
		Stage:         string(plan.Stage),
		EnvHash:       plan.EnvHash,
		ContextDigest: plan.ContextDigest,
		BuiltAt:       time.Now().UTC(),
	})
	saveApp(opts, app)
}

func loadOrNewApp(opts Options) *state.App {
	app, err := opts.Store.Load()
	if err != nil {
		app = &state.App{}
	}
	app.Name = opts.Recipe.Name
	return app
}

func saveApp(opts Options, app *state.App) {
	if err := opts.Store.Save(app); err != nil {
		opts.Logger.Warn("State not saved", "error", err)
	}
}
