package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/slipway-sh/slipway/internal/engine"
	"github.com/slipway-sh/slipway/internal/metrics"
	"github.com/slipway-sh/slipway/internal/queue"
	"github.com/slipway-sh/slipway/internal/recipe"
	"github.com/slipway-sh/slipway/internal/state"
	"github.com/slipway-sh/slipway/internal/watch"
)

const (
	watchDebounce = 300 * time.Millisecond
	healthTick    = 5 * time.Second
)

// convergeJob asks the session to bring the dev container back in line with
// the tree on disk: build if inputs changed, then replace or restart the
// container as needed. All session work funnels through this one job so the
// queue can collapse bursts.
type convergeJob struct {
	reason string
}

type devSession struct {
	opts      Options
	srcDir    string
	name      string
	proc      *queue.Processor[convergeJob]
	healthy   atomic.Bool
	logCancel context.CancelFunc
}

// Dev runs the interactive development loop: build and start the single
// reloading container, bind-mount the source tree, then watch for changes.
// Source edits are picked up inside the container; manifest or recipe
// changes rebuild the image and replace the container. Blocks until the
// context is cancelled, then tears the container down.
func Dev(ctx context.Context, opts Options) error {
	r := opts.Recipe
	if r.RemoteSource() {
		return fmt.Errorf("development needs a local source tree to mount, not %q", r.Source)
	}
	srcDir, err := filepath.Abs(filepath.Join(opts.Dir, filepath.FromSlash(r.Source)))
	if err != nil {
		return err
	}
	if _, err := os.Stat(filepath.Join(srcDir, r.Base.Manifest)); err != nil {
		return fmt.Errorf("dependency manifest %s not found in %s", r.Base.Manifest, srcDir)
	}

	s := &devSession{
		opts:   opts,
		srcDir: srcDir,
		name:   DevContainerName(r.Name),
	}
	s.proc = queue.New(opts.Logger,
		func(convergeJob) string { return "converge" },
		s.converge)

	// first convergence is synchronous so a broken recipe fails the command
	// instead of spinning in the background
	if _, err := s.convergeOnce(ctx); err != nil {
		return err
	}
	opts.Logger.Info("Development server ready",
		"url", fmt.Sprintf("http://127.0.0.1:%d/", r.Port),
		"source", srcDir)

	watcher, err := watch.New(opts.Logger, srcDir, r.IgnorePatterns(), rebuildPaths(r), watchDebounce)
	if err != nil {
		return err
	}
	defer watcher.Close()

	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go watcher.Run(loopCtx)
	go s.proc.Run(loopCtx)
	s.streamLogs(loopCtx)

	err = s.loop(loopCtx, watcher)
	s.cleanup()
	return err
}

// streamLogs follows the current container's output onto the session's
// stdout/stderr, replacing any previous stream. Each container replacement
// starts a fresh stream; the old one ends when its container goes away.
func (s *devSession) streamLogs(ctx context.Context) {
	if s.opts.Stdout == nil {
		return
	}
	if s.logCancel != nil {
		s.logCancel()
	}
	logCtx, cancel := context.WithCancel(ctx)
	s.logCancel = cancel

	stderr := s.opts.Stderr
	if stderr == nil {
		stderr = s.opts.Stdout
	}
	go func() {
		err := s.opts.Engine.StreamLogs(logCtx, s.name, true, s.opts.Stdout, stderr)
		if err != nil && logCtx.Err() == nil {
			s.opts.Logger.Debug("Log stream ended", "error", err)
		}
	}()
}

// loop is the session's single decision point: watcher events queue
// convergence, the health tick restarts a crashed container with backoff.
func (s *devSession) loop(ctx context.Context, watcher *watch.Watcher) error {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 0
	var restartAt time.Time

	ticker := time.NewTicker(healthTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev := <-watcher.Events():
			metrics.WatchEventsTotal.WithLabelValues(ev.Kind.String()).Inc()
			switch ev.Kind {
			case watch.KindRebuild:
				s.opts.Logger.Info("Environment input changed, rebuilding", "path", ev.Path)
				s.proc.Enqueue(convergeJob{reason: "rebuild: " + ev.Path})
			default:
				// the bind mount already delivered the change; the server
				// inside the container reloads itself
				s.opts.Logger.Debug("Source changed", "path", ev.Path)
			}

		case <-ticker.C:
			if !s.healthy.Load() {
				continue
			}
			st, err := s.opts.Engine.State(ctx, s.name)
			switch {
			case errors.Is(err, engine.ErrContainerNotFound):
				st = "gone"
			case err != nil:
				s.opts.Logger.Warn("Health check failed", "error", err)
				continue
			}
			if st == "running" {
				bo.Reset()
				restartAt = time.Time{}
				continue
			}
			if restartAt.IsZero() {
				restartAt = time.Now()
			}
			if time.Now().Before(restartAt) {
				continue
			}
			s.opts.Logger.Warn("Development server stopped, restarting", "state", st)
			s.proc.Enqueue(convergeJob{reason: "restart"})
			restartAt = time.Now().Add(bo.NextBackOff())
		}
	}
}

// converge is the queue worker: rebuilds whatever changed and keeps the last
// good container running when the new build fails.
func (s *devSession) converge(ctx context.Context, job convergeJob) {
	s.healthy.Store(false)
	created, err := s.convergeOnce(ctx)
	if created {
		s.streamLogs(ctx)
	}
	switch {
	case err == nil:
		s.opts.Logger.Info("Development server updated", "reason", job.reason)
	case ctx.Err() != nil:
	case created:
		s.opts.Logger.Error("Replacement container is not answering",
			"reason", job.reason, "error", err)
	default:
		s.opts.Logger.Error("Rebuild failed, keeping the previous container",
			"reason", job.reason, "error", err)
	}
}

func (s *devSession) convergeOnce(ctx context.Context) (bool, error) {
	defer s.healthy.Store(true)

	plan, err := BuildStage(ctx, s.opts, recipe.StageDevelopment)
	if err != nil {
		return false, err
	}

	binds := []string{s.srcDir + ":/app"}
	spec := runSpecs(s.opts.Recipe, recipe.StageDevelopment, plan.Ref, binds)[0]
	created, err := s.opts.Engine.Upsert(ctx, spec)
	if err != nil {
		return false, err
	}
	if created {
		metrics.ContainersReplaced.Inc()
		url := fmt.Sprintf("http://127.0.0.1:%d/", s.opts.Recipe.Port)
		if err := engine.WaitReady(ctx, s.opts.Logger, url, readyTimeout, readyInterval); err != nil {
			return created, err
		}
	}

	app := loadOrNewApp(s.opts)
	app.Stage = string(recipe.StageDevelopment)
	app.Containers = []state.Container{{Name: spec.Name, Image: spec.Image}}
	saveApp(s.opts, app)
	return created, nil
}

// cleanup runs after the session context is gone, so it gets its own
// deadline for the engine calls.
func (s *devSession) cleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	s.opts.Logger.Info("Stopping development server", "name", s.name)
	if err := s.opts.Engine.Remove(ctx, s.name); err != nil {
		s.opts.Logger.Warn("Container not removed", "name", s.name, "error", err)
		return
	}
	app := loadOrNewApp(s.opts)
	app.Containers = nil
	saveApp(s.opts, app)
}

// rebuildPaths are the files whose changes invalidate the image instead of
// being handled by the in-container reloader.
func rebuildPaths(r *recipe.Recipe) []string {
	return []string{r.Base.Manifest, "slipway.yaml", "slipway.yml", ".dockerignore"}
}
