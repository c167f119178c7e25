// Package fetch materializes remote application sources. A recipe may point
// at a GitHub repository instead of a local directory; the tree is resolved
// to a commit, downloaded as a tarball and unpacked so the rest of the
// pipeline treats it like any local source. Trees are cached per commit.
package fetch

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// Remote is a parsed github:owner/repo[@ref] source.
type Remote struct {
	Owner string
	Repo  string
	Ref   string
}

func (r Remote) String() string {
	s := r.Owner + "/" + r.Repo
	if r.Ref != "HEAD" {
		s += "@" + r.Ref
	}
	return s
}

// ParseRemote splits the remainder of a github: source. The ref defaults to
// HEAD, which GitHub resolves to the default branch.
func ParseRemote(spec string) (Remote, error) {
	ref := "HEAD"
	if at := strings.LastIndex(spec, "@"); at >= 0 {
		ref = spec[at+1:]
		spec = spec[:at]
	}
	owner, repo, ok := strings.Cut(spec, "/")
	if !ok || owner == "" || repo == "" || ref == "" || strings.Contains(repo, "/") {
		return Remote{}, fmt.Errorf("remote source %q: want owner/repo[@ref]", spec)
	}
	return Remote{Owner: owner, Repo: repo, Ref: ref}, nil
}

type Client struct {
	logger     *slog.Logger
	httpClient *http.Client
	apiBase    string
	token      string
}

// NewGitHub builds a client for the public GitHub API. A GITHUB_TOKEN in the
// environment is used for private repositories and rate limits.
func NewGitHub(logger *slog.Logger) *Client {
	return &Client{
		logger:     logger,
		httpClient: &http.Client{},
		apiBase:    "https://api.github.com",
		token:      os.Getenv("GITHUB_TOKEN"),
	}
}

func (c *Client) get(ctx context.Context, url, accept string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, fmt.Errorf("GET %s: %s: %s", url, resp.Status, strings.TrimSpace(string(body)))
	}
	return resp, nil
}

// ResolveCommit turns a ref (branch, tag, sha, HEAD) into the full commit
// sha, so the downloaded tree is identified by content rather than by a
// moving name.
func (c *Client) ResolveCommit(ctx context.Context, remote Remote) (string, error) {
	url := fmt.Sprintf("%s/repos/%s/%s/commits/%s", c.apiBase, remote.Owner, remote.Repo, remote.Ref)
	resp, err := c.get(ctx, url, "application/vnd.github.sha")
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", remote, err)
	}
	defer resp.Body.Close()

	sha, err := io.ReadAll(io.LimitReader(resp.Body, 128))
	if err != nil {
		return "", err
	}
	commit := strings.TrimSpace(string(sha))
	if len(commit) != 40 {
		return "", fmt.Errorf("resolve %s: unexpected commit %q", remote, commit)
	}
	return commit, nil
}

// Materialize ensures the tree at the remote's resolved commit exists under
// cacheDir and returns its path along with the commit. Already-downloaded
// commits are reused as-is.
func (c *Client) Materialize(ctx context.Context, remote Remote, cacheDir string) (string, string, error) {
	commit, err := c.ResolveCommit(ctx, remote)
	if err != nil {
		return "", "", err
	}

	dir := filepath.Join(cacheDir, fmt.Sprintf("%s-%s-%s", remote.Owner, remote.Repo, commit[:12]))
	if _, err := os.Stat(dir); err == nil {
		c.logger.Debug("Source already cached", "dir", dir)
		return dir, commit, nil
	}

	c.logger.Info("Downloading source", "remote", remote.String(), "commit", commit[:12])

	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return "", "", fmt.Errorf("create cache directory: %w", err)
	}
	tmp, err := os.MkdirTemp(cacheDir, ".download-*")
	if err != nil {
		return "", "", err
	}
	defer os.RemoveAll(tmp)

	url := fmt.Sprintf("%s/repos/%s/%s/tarball/%s", c.apiBase, remote.Owner, remote.Repo, commit)
	resp, err := c.get(ctx, url, "")
	if err != nil {
		return "", "", fmt.Errorf("download %s: %w", remote, err)
	}
	defer resp.Body.Close()

	if err := untar(resp.Body, tmp); err != nil {
		return "", "", fmt.Errorf("unpack %s: %w", remote, err)
	}
	if err := os.Rename(tmp, dir); err != nil {
		return "", "", fmt.Errorf("install source: %w", err)
	}
	return dir, commit, nil
}

// untar unpacks a gzipped tarball into dest, stripping the single top-level
// directory GitHub wraps the tree in. Entries that would escape dest are
// rejected.
func untar(r io.Reader, dest string) error {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return fmt.Errorf("gzip: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		name := stripRoot(hdr.Name)
		if name == "" {
			continue
		}
		if !filepath.IsLocal(filepath.FromSlash(name)) {
			return fmt.Errorf("archive entry %q escapes the target directory", hdr.Name)
		}
		target := filepath.Join(dest, filepath.FromSlash(name))

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(hdr.Mode)&0o777)
			if err != nil {
				return err
			}
			if _, err := io.Copy(f, tr); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
		default:
			// symlinks and the rest have no business in an app tarball
		}
	}
}

// stripRoot drops the "owner-repo-sha/" prefix from an archive path.
func stripRoot(name string) string {
	name = strings.TrimPrefix(name, "./")
	if _, rest, ok := strings.Cut(name, "/"); ok {
		return rest
	}
	return ""
}
