// Package state persists what slipway last did for an app: the pinned base
// reference, built stage images with their environment hashes, and the
// containers it created. The file lives in .slipway/ next to the recipe so
// later invocations can report status and tear things down without asking
// the engine to reconstruct history.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const (
	dirName  = ".slipway"
	fileName = "state.json"

	// EnvStateDir overrides where the state file is kept.
	EnvStateDir = "SLIPWAY_STATE_DIR"
)

var ErrNoState = errors.New("no saved state")

// Image records one built stage image.
type Image struct {
	Ref           string    `json:"ref"`
	Stage         string    `json:"stage"`
	EnvHash       string    `json:"envHash"`
	ContextDigest string    `json:"contextDigest"`
	BuiltAt       time.Time `json:"builtAt"`
}

// Container records one container slipway created.
type Container struct {
	Name    string `json:"name"`
	Image   string `json:"image"`
	Replica int    `json:"replica,omitempty"`
}

// App is the whole persisted record for one application.
type App struct {
	Name       string           `json:"name"`
	Stage      string           `json:"stage"`
	PinnedBase string           `json:"pinnedBase,omitempty"`
	Images     map[string]Image `json:"images,omitempty"`
	Containers []Container      `json:"containers,omitempty"`
	UpdatedAt  time.Time        `json:"updatedAt"`
}

// SetImage records a built image under its stage.
func (a *App) SetImage(img Image) {
	if a.Images == nil {
		a.Images = map[string]Image{}
	}
	a.Images[img.Stage] = img
}

type Store struct {
	mu   sync.Mutex
	path string
}

// NewStore resolves the state location for an app rooted at sourceDir.
func NewStore(sourceDir string) *Store {
	dir := os.Getenv(EnvStateDir)
	if dir == "" {
		dir = filepath.Join(sourceDir, dirName)
	}
	return &Store{path: filepath.Join(dir, fileName)}
}

func (s *Store) Path() string { return s.path }

// Load reads the saved record, or ErrNoState when none exists yet.
func (s *Store) Load() (*App, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoState
	}
	if err != nil {
		return nil, fmt.Errorf("read state: %w", err)
	}
	var app App
	if err := json.Unmarshal(data, &app); err != nil {
		return nil, fmt.Errorf("parse state %s: %w", s.path, err)
	}
	return &app, nil
}

// Save writes the record atomically, stamping UpdatedAt.
func (s *Store) Save(app *App) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	app.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(app, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	return nil
}

// Clear removes the saved record. Clearing absent state is fine.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("clear state: %w", err)
	}
	return nil
}
