package build

import (
	"archive/tar"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	ignore "github.com/sabhiram/go-gitignore"
)

// Context is a source directory prepared for building: a walk over its files
// with ignore patterns (gitignore syntax) applied, used both to stream the
// tar build context and to fingerprint the inputs.
type Context struct {
	dir     string
	matcher *ignore.GitIgnore
}

// NewContext prepares dir with the given ignore patterns. A .dockerignore
// file in dir is honored on top of the provided patterns.
func NewContext(dir string, patterns []string) (*Context, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("source directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("source %s is not a directory", dir)
	}

	merged := make([]string, 0, len(patterns))
	merged = append(merged, patterns...)
	if data, err := os.ReadFile(filepath.Join(dir, ".dockerignore")); err == nil {
		merged = append(merged, strings.Split(string(data), "\n")...)
	}

	return &Context{
		dir:     dir,
		matcher: ignore.CompileIgnoreLines(merged...),
	}, nil
}

func (c *Context) Dir() string { return c.dir }

// walk visits every non-ignored entry under the context root in lexical
// order, with slash-separated paths relative to the root.
func (c *Context) walk(fn func(rel string, d fs.DirEntry) error) error {
	return filepath.WalkDir(c.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(c.dir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if d.IsDir() {
			// directory patterns may be written with or without a trailing slash
			if c.matcher.MatchesPath(rel) || c.matcher.MatchesPath(rel+"/") {
				return filepath.SkipDir
			}
		} else if c.matcher.MatchesPath(rel) {
			return nil
		}
		return fn(rel, d)
	})
}

// WriteTar streams the context as a tar archive. Entries in extra are
// appended under their map key; the builder injects the rendered Dockerfile
// this way so the source tree is never written to.
func (c *Context) WriteTar(w io.Writer, extra map[string][]byte) error {
	tw := tar.NewWriter(w)

	err := c.walk(func(rel string, d fs.DirEntry) error {
		info, err := d.Info()
		if err != nil {
			return err
		}
		switch {
		case d.IsDir():
			hdr, err := tar.FileInfoHeader(info, "")
			if err != nil {
				return err
			}
			hdr.Name = rel + "/"
			return tw.WriteHeader(hdr)
		case info.Mode()&fs.ModeSymlink != 0:
			target, err := os.Readlink(filepath.Join(c.dir, filepath.FromSlash(rel)))
			if err != nil {
				return err
			}
			hdr, err := tar.FileInfoHeader(info, target)
			if err != nil {
				return err
			}
			hdr.Name = rel
			return tw.WriteHeader(hdr)
		case info.Mode().IsRegular():
			hdr, err := tar.FileInfoHeader(info, "")
			if err != nil {
				return err
			}
			hdr.Name = rel
			if err := tw.WriteHeader(hdr); err != nil {
				return err
			}
			f, err := os.Open(filepath.Join(c.dir, filepath.FromSlash(rel)))
			if err != nil {
				return err
			}
			_, err = io.Copy(tw, f)
			f.Close()
			return err
		default:
			// sockets, devices and the like have no place in a build context
			return nil
		}
	})
	if err != nil {
		return fmt.Errorf("write build context: %w", err)
	}

	names := make([]string, 0, len(extra))
	for name := range extra {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		hdr := &tar.Header{
			Name: name,
			Mode: 0o644,
			Size: int64(len(extra[name])),
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if _, err := tw.Write(extra[name]); err != nil {
			return err
		}
	}

	return tw.Close()
}

// Digest fingerprints the context contents: every entry's path plus, for
// regular files, a content hash, and for symlinks, the target. Two contexts
// with identical trees produce identical digests.
func (c *Context) Digest() (string, error) {
	h := sha256.New()

	err := c.walk(func(rel string, d fs.DirEntry) error {
		info, err := d.Info()
		if err != nil {
			return err
		}
		switch {
		case d.IsDir():
			fmt.Fprintf(h, "dir %s\n", rel)
			return nil
		case info.Mode()&fs.ModeSymlink != 0:
			target, err := os.Readlink(filepath.Join(c.dir, filepath.FromSlash(rel)))
			if err != nil {
				return err
			}
			fmt.Fprintf(h, "link %s -> %s\n", rel, target)
			return nil
		case info.Mode().IsRegular():
			f, err := os.Open(filepath.Join(c.dir, filepath.FromSlash(rel)))
			if err != nil {
				return err
			}
			fh := sha256.New()
			_, err = io.Copy(fh, f)
			f.Close()
			if err != nil {
				return err
			}
			fmt.Fprintf(h, "file %s %x\n", rel, fh.Sum(nil))
			return nil
		default:
			return nil
		}
	})
	if err != nil {
		return "", fmt.Errorf("digest build context: %w", err)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// ManifestBytes reads the dependency manifest from the context, for the
// environment hash. The manifest must not be ignored.
func (c *Context) ManifestBytes(manifest string) ([]byte, error) {
	if c.matcher.MatchesPath(manifest) {
		return nil, fmt.Errorf("manifest %s is excluded by ignore patterns", manifest)
	}
	data, err := os.ReadFile(filepath.Join(c.dir, filepath.FromSlash(manifest)))
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return data, nil
}
