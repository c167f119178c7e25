// Package recipe defines the slipway.yaml schema: what gets built into the
// base stage and how the development and production modes launch the service.
package recipe

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/distribution/reference"
	"github.com/docker/go-units"
	"github.com/go-playground/validator/v10"
)

type Stage string

const (
	StageBase        Stage = "base"
	StageDevelopment Stage = "development"
	StageProduction  Stage = "production"
)

// ParseStage accepts the canonical stage names plus the short forms used on
// the command line.
func ParseStage(s string) (Stage, error) {
	switch strings.ToLower(s) {
	case "base":
		return StageBase, nil
	case "development", "dev":
		return StageDevelopment, nil
	case "production", "prod":
		return StageProduction, nil
	}
	return "", fmt.Errorf("unknown stage %q (expected development or production)", s)
}

const (
	DefaultPort       = 8000
	DefaultWorkers    = 4
	DefaultEntrypoint = "main:app"
	DefaultBaseImage  = "python:3.11-slim"
	DefaultManifest   = "requirements.txt"
)

// RemoteSourcePrefix marks a source that is fetched instead of read from disk.
const RemoteSourcePrefix = "github:"

type Recipe struct {
	Version    int      `yaml:"version" validate:"required,eq=1"`
	Name       string   `yaml:"name" validate:"required,lowercase,hostname_rfc1123"`
	Source     string   `yaml:"source"`
	Entrypoint string   `yaml:"entrypoint"`
	Port       int      `yaml:"port" validate:"min=1,max=65535"`
	Command    []string `yaml:"command"`

	Base        Base        `yaml:"base"`
	Development Development `yaml:"development"`
	Production  Production  `yaml:"production"`
}

type Base struct {
	Image    string   `yaml:"image"`
	Manifest string   `yaml:"manifest"`
	Packages []string `yaml:"packages"`
}

type Development struct {
	// Extra ignore patterns (gitignore syntax) applied to both the build
	// context and the file watcher, on top of the built-in defaults.
	Ignore []string `yaml:"ignore"`
}

type Production struct {
	Workers  int    `yaml:"workers" validate:"min=1"`
	Replicas int    `yaml:"replicas" validate:"min=1"`
	Memory   string `yaml:"memory"`
	CPUs     string `yaml:"cpus"`
	Publish  *bool  `yaml:"publish"`
}

var defaultIgnores = []string{
	".slipway/",
	".git/",
	"__pycache__/",
	"*.pyc",
	".venv/",
	"venv/",
	".mypy_cache/",
	".pytest_cache/",
	".DS_Store",
	"slipway.yaml",
	"slipway.yml",
}

var entrypointRegex = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)*:[A-Za-z_][A-Za-z0-9_]*$`)

func (r *Recipe) applyDefaults() {
	if r.Source == "" {
		r.Source = "."
	}
	if r.Entrypoint == "" {
		r.Entrypoint = DefaultEntrypoint
	}
	if r.Port == 0 {
		r.Port = DefaultPort
	}
	if r.Base.Image == "" {
		r.Base.Image = DefaultBaseImage
	}
	if r.Base.Manifest == "" {
		r.Base.Manifest = DefaultManifest
	}
	if r.Production.Workers == 0 {
		r.Production.Workers = DefaultWorkers
	}
	if r.Production.Replicas == 0 {
		r.Production.Replicas = 1
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks everything the struct tags cannot: image references,
// resource strings, the entrypoint format and cross-field constraints.
func (r *Recipe) Validate() error {
	if err := validate.Struct(r); err != nil {
		return err
	}

	if _, err := reference.ParseNormalizedNamed(strings.Split(r.Base.Image, "@")[0]); err != nil {
		return fmt.Errorf("invalid base image %q: %w", r.Base.Image, err)
	}
	if len(r.Command) == 0 && !entrypointRegex.MatchString(r.Entrypoint) {
		return fmt.Errorf("invalid entrypoint %q (expected module:attribute, e.g. main:app)", r.Entrypoint)
	}
	if strings.Contains(r.Base.Manifest, "..") || strings.HasPrefix(r.Base.Manifest, "/") {
		return fmt.Errorf("manifest path %q must be relative to the source directory", r.Base.Manifest)
	}
	if r.Production.Memory != "" {
		if _, err := units.RAMInBytes(r.Production.Memory); err != nil {
			return fmt.Errorf("invalid memory limit %q: %w", r.Production.Memory, err)
		}
	}
	if r.Production.CPUs != "" {
		if _, err := strconv.ParseFloat(r.Production.CPUs, 64); err != nil {
			return fmt.Errorf("invalid cpu limit %q: %w", r.Production.CPUs, err)
		}
	}
	if r.Production.Replicas > 1 && r.PublishPort() {
		return errors.New("production.replicas > 1 requires production.publish: false, a fixed host port cannot be shared")
	}
	if r.RemoteSource() && strings.TrimPrefix(r.Source, RemoteSourcePrefix) == "" {
		return fmt.Errorf("remote source %q is missing the owner/repo part", r.Source)
	}
	return nil
}

func (r *Recipe) RemoteSource() bool {
	return strings.HasPrefix(r.Source, RemoteSourcePrefix)
}

// PublishPort reports whether the container port is published on the host.
func (r *Recipe) PublishPort() bool {
	return r.Production.Publish == nil || *r.Production.Publish
}

// ServeCommand returns the exec-form command that launches the service for
// the given stage. Development appends the reload flag, production the fixed
// worker count; a raw command override is used verbatim for every stage.
func (r *Recipe) ServeCommand(stage Stage) []string {
	if len(r.Command) > 0 {
		out := make([]string, len(r.Command))
		copy(out, r.Command)
		return out
	}

	cmd := []string{"uvicorn", r.Entrypoint, "--host", "0.0.0.0", "--port", strconv.Itoa(r.Port)}
	switch stage {
	case StageDevelopment:
		cmd = append(cmd, "--reload")
	case StageProduction:
		cmd = append(cmd, "--workers", strconv.Itoa(r.Production.Workers))
	}
	return cmd
}

// IgnorePatterns returns the built-in ignores plus the recipe's own, in a
// fresh slice. Used for the build context and the development watcher.
func (r *Recipe) IgnorePatterns() []string {
	out := make([]string, 0, len(defaultIgnores)+len(r.Development.Ignore))
	out = append(out, defaultIgnores...)
	out = append(out, r.Development.Ignore...)
	return out
}

// MemoryBytes returns the production memory limit in bytes, 0 when unset.
func (r *Recipe) MemoryBytes() int64 {
	if r.Production.Memory == "" {
		return 0
	}
	n, err := units.RAMInBytes(r.Production.Memory)
	if err != nil {
		return 0
	}
	return n
}

// NanoCPUs returns the production cpu limit in Docker's nano-cpu unit, 0
// when unset.
func (r *Recipe) NanoCPUs() int64 {
	if r.Production.CPUs == "" {
		return 0
	}
	f, err := strconv.ParseFloat(r.Production.CPUs, 64)
	if err != nil {
		return 0
	}
	return int64(f * 1e9)
}
