package recipe

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ErrNotFound is returned when a directory contains no recipe file.
var ErrNotFound = errors.New("no slipway.yaml found")

var recipeFileNames = []string{"slipway.yaml", "slipway.yml"}

// Find locates the recipe file in dir.
func Find(dir string) (string, error) {
	for _, name := range recipeFileNames {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		} else if !errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("stat %s: %w", path, err)
		}
	}
	return "", fmt.Errorf("%w in %s", ErrNotFound, dir)
}

// Load reads, defaults and validates the recipe at path. Paths inside the
// recipe (source, manifest) stay relative; callers resolve them against the
// recipe's directory.
func Load(path string) (*Recipe, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open recipe: %w", err)
	}
	defer f.Close()

	r, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode recipe %s: %w", path, err)
	}
	return r, nil
}

// Decode parses a recipe document from rd, applies defaults and validates.
func Decode(rd io.Reader) (*Recipe, error) {
	dec := yaml.NewDecoder(rd)
	dec.KnownFields(true)

	var r Recipe
	if err := dec.Decode(&r); err != nil {
		return nil, err
	}

	r.applyDefaults()
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return &r, nil
}
