// Package cli is the slipway command tree. Commands stay thin: flag and
// recipe handling here, the actual work in the session, engine and build
// packages.
package cli

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/slipway-sh/slipway/internal/engine"
	"github.com/slipway-sh/slipway/internal/fetch"
	"github.com/slipway-sh/slipway/internal/metrics"
	"github.com/slipway-sh/slipway/internal/recipe"
	"github.com/slipway-sh/slipway/internal/registry"
	"github.com/slipway-sh/slipway/internal/session"
	"github.com/slipway-sh/slipway/internal/state"
)

type app struct {
	dir         string
	logLevel    string
	logFormat   string
	metricsAddr string

	logger *slog.Logger
}

// Root builds the slipway command.
func Root() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "slipway",
		Short: "Build and run a containerized Python web service from a recipe",
		Long: `Slipway turns a slipway.yaml recipe into container images and running
services. One base environment is built from the dependency manifest; a
development mode runs it with live reload on your working tree, and a
production mode runs a fixed pool of workers.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			logger, err := newLogger(a.logLevel, a.logFormat)
			if err != nil {
				return err
			}
			a.logger = logger
			if a.metricsAddr != "" {
				metrics.Serve(logger, a.metricsAddr)
			}
			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&a.dir, "dir", "C", ".", "directory containing slipway.yaml")
	pf.StringVar(&a.logLevel, "log-level", envOr("SLIPWAY_LOG_LEVEL", "info"), "debug, info, warn or error")
	pf.StringVar(&a.logFormat, "log-format", envOr("SLIPWAY_LOG_FORMAT", "text"), "text or json")
	pf.StringVar(&a.metricsAddr, "metrics-addr", os.Getenv("SLIPWAY_METRICS_ADDR"), "serve Prometheus metrics on this address (e.g. :9105)")

	root.AddCommand(
		newInitCmd(a),
		newRenderCmd(a),
		newBuildCmd(a),
		newDevCmd(a),
		newUpCmd(a),
		newDownCmd(a),
		newStatusCmd(a),
		newLogsCmd(a),
	)
	return root
}

func newLogger(level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		return nil, fmt.Errorf("unknown log level %q", level)
	}

	opts := &slog.HandlerOptions{Level: lvl}
	switch strings.ToLower(format) {
	case "json":
		return slog.New(slog.NewJSONHandler(os.Stderr, opts)), nil
	case "text":
		return slog.New(slog.NewTextHandler(os.Stderr, opts)), nil
	}
	return nil, fmt.Errorf("unknown log format %q", format)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func (a *app) loadRecipe() (*recipe.Recipe, error) {
	path, err := recipe.Find(a.dir)
	if err != nil {
		return nil, err
	}
	r, err := recipe.Load(path)
	if err != nil {
		return nil, err
	}
	a.logger.Debug("Recipe loaded", "path", path, "app", r.Name)
	return r, nil
}

// options assembles the full session wiring for commands that talk to the
// container engine.
func (a *app) options(force bool) (session.Options, error) {
	r, err := a.loadRecipe()
	if err != nil {
		return session.Options{}, err
	}
	eng, err := engine.New(a.logger)
	if err != nil {
		return session.Options{}, err
	}
	return session.Options{
		Logger: a.logger,
		Engine: eng,
		Store:  state.NewStore(a.dir),
		Pin:    registry.NewPinner(a.logger),
		Fetch:  fetch.NewGitHub(a.logger),
		Recipe: r,
		Dir:    a.dir,
		Force:  force,
	}, nil
}

func parseStageFlag(s string) (recipe.Stage, error) {
	stage, err := recipe.ParseStage(s)
	if err != nil {
		return "", err
	}
	if stage == recipe.StageBase {
		return "", fmt.Errorf("stage base is not runnable, pick development or production")
	}
	return stage, nil
}
