package fetch

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseRemote(t *testing.T) {
	cases := []struct {
		in   string
		want Remote
		err  bool
	}{
		{in: "acme/shop", want: Remote{Owner: "acme", Repo: "shop", Ref: "HEAD"}},
		{in: "acme/shop@main", want: Remote{Owner: "acme", Repo: "shop", Ref: "main"}},
		{in: "acme/shop@v1.2.0", want: Remote{Owner: "acme", Repo: "shop", Ref: "v1.2.0"}},
		{in: "acme", err: true},
		{in: "acme/shop/extra", err: true},
		{in: "acme/shop@", err: true},
		{in: "/shop", err: true},
	}
	for _, tc := range cases {
		got, err := ParseRemote(tc.in)
		if tc.err {
			if err == nil {
				t.Errorf("ParseRemote(%q) accepted", tc.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseRemote(%q): %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("ParseRemote(%q) = %+v, want %+v", tc.in, got, tc.want)
		}
	}
}

func tarball(t *testing.T, root string, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for name, contents := range files {
		hdr := &tar.Header{Name: root + "/" + name, Mode: 0o644, Size: int64(len(contents)), Typeflag: tar.TypeReg}
		if strings.HasSuffix(name, "/") {
			hdr = &tar.Header{Name: root + "/" + name, Mode: 0o755, Typeflag: tar.TypeDir}
		}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatal(err)
		}
		if hdr.Typeflag == tar.TypeReg {
			if _, err := tw.Write([]byte(contents)); err != nil {
				t.Fatal(err)
			}
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := gz.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

const testCommit = "0123456789abcdef0123456789abcdef01234567"

func testServer(t *testing.T, archive []byte) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/shop/commits/", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept") != "application/vnd.github.sha" {
			http.Error(w, "wrong accept header", http.StatusBadRequest)
			return
		}
		io.WriteString(w, testCommit)
	})
	mux.HandleFunc("/repos/acme/shop/tarball/"+testCommit, func(w http.ResponseWriter, _ *http.Request) {
		w.Write(archive)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func testGitHub(srv *httptest.Server) *Client {
	return &Client{
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		httpClient: srv.Client(),
		apiBase:    srv.URL,
	}
}

func TestMaterialize(t *testing.T) {
	archive := tarball(t, "acme-shop-0123456", map[string]string{
		"main.py":          "app = object()\n",
		"requirements.txt": "fastapi\n",
		"api/":             "",
		"api/routes.py":    "pass\n",
	})
	client := testGitHub(testServer(t, archive))
	cache := t.TempDir()

	dir, commit, err := client.Materialize(context.Background(), Remote{Owner: "acme", Repo: "shop", Ref: "main"}, cache)
	if err != nil {
		t.Fatalf("Materialize: %v", err)
	}
	if commit != testCommit {
		t.Errorf("commit = %q", commit)
	}
	if !strings.HasPrefix(filepath.Base(dir), "acme-shop-") {
		t.Errorf("cache dir = %q", dir)
	}

	data, err := os.ReadFile(filepath.Join(dir, "main.py"))
	if err != nil {
		t.Fatalf("unpacked tree: %v", err)
	}
	if string(data) != "app = object()\n" {
		t.Errorf("main.py = %q", data)
	}
	if _, err := os.ReadFile(filepath.Join(dir, "api", "routes.py")); err != nil {
		t.Errorf("nested file: %v", err)
	}
}

func TestMaterializeReusesCache(t *testing.T) {
	archive := tarball(t, "acme-shop-0123456", map[string]string{"main.py": "v1\n"})
	srv := testServer(t, archive)
	client := testGitHub(srv)
	cache := t.TempDir()

	remote := Remote{Owner: "acme", Repo: "shop", Ref: "main"}
	dir, _, err := client.Materialize(context.Background(), remote, cache)
	if err != nil {
		t.Fatal(err)
	}

	// poison the tarball endpoint; a cached tree must not refetch
	srv.Close()
	client.httpClient = http.DefaultClient

	srv2 := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "/commits/") {
			io.WriteString(w, testCommit)
			return
		}
		http.Error(w, "tarball fetched for cached commit", http.StatusInternalServerError)
	}))
	defer srv2.Close()
	client.apiBase = srv2.URL

	dir2, _, err := client.Materialize(context.Background(), remote, cache)
	if err != nil {
		t.Fatalf("cached Materialize: %v", err)
	}
	if dir2 != dir {
		t.Errorf("cache dir changed: %q vs %q", dir2, dir)
	}
}

func TestUntarRejectsEscapingEntries(t *testing.T) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	hdr := &tar.Header{Name: "root/../../evil.txt", Mode: 0o644, Size: 4, Typeflag: tar.TypeReg}
	if err := tw.WriteHeader(hdr); err != nil {
		t.Fatal(err)
	}
	tw.Write([]byte("evil"))
	tw.Close()
	gz.Close()

	if err := untar(&buf, t.TempDir()); err == nil {
		t.Fatal("expected error for escaping entry")
	}
}

func TestResolveCommitRejectsShortSha(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		io.WriteString(w, "abc123")
	}))
	defer srv.Close()

	client := testGitHub(srv)
	if _, err := client.ResolveCommit(context.Background(), Remote{Owner: "acme", Repo: "shop", Ref: "main"}); err == nil {
		t.Fatal("expected error for malformed sha")
	}
}
