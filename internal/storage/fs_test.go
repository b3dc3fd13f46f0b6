package storage

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/any-hub/npm-hub/internal/model"
)

func TestManifestWriteReadRoundTrip(t *testing.T) {
	backend := newTestBackend(t)
	ctx := context.Background()

	manifest := model.NewManifest("foo")
	manifest.DistTags["latest"] = "1.0.0"
	manifest.Versions["1.0.0"] = &model.Version{Name: "foo", Version: "1.0.0"}

	if err := backend.WriteManifest(ctx, "foo", manifest); err != nil {
		t.Fatalf("write error: %v", err)
	}

	read, err := backend.ReadManifest(ctx, "foo")
	if err != nil {
		t.Fatalf("read error: %v", err)
	}
	if read.DistTags["latest"] != "1.0.0" {
		t.Fatalf("round trip mismatch: %+v", read.DistTags)
	}
}

func TestReadManifestMissing(t *testing.T) {
	backend := newTestBackend(t)
	_, err := backend.ReadManifest(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestScopedPackageNesting(t *testing.T) {
	backend := newTestBackend(t)
	ctx := context.Background()

	if err := backend.WriteManifest(ctx, "@scope/pkg", model.NewManifest("@scope/pkg")); err != nil {
		t.Fatalf("write error: %v", err)
	}

	if _, err := os.Stat(filepath.Join(backend.basePath, "@scope", "pkg", "package.json")); err != nil {
		t.Fatalf("expected nested scoped layout: %v", err)
	}
}

func TestPackageDirRejectsTraversal(t *testing.T) {
	backend := newTestBackend(t)
	if _, err := backend.packageDir("../escape"); err == nil {
		t.Fatalf("expected traversal rejection")
	}
}

func TestUpdateManifestSerialized(t *testing.T) {
	backend := newTestBackend(t)
	ctx := context.Background()

	if err := backend.WriteManifest(ctx, "foo", model.NewManifest("foo")); err != nil {
		t.Fatalf("seed error: %v", err)
	}

	const workers = 16
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := backend.UpdateManifest(ctx, "foo", func(m *model.Manifest) (*model.Manifest, error) {
				m.Rev = model.GenerateRevision(m.Rev)
				return m, nil
			})
			if err != nil {
				t.Errorf("update error: %v", err)
			}
		}()
	}
	wg.Wait()

	final, err := backend.ReadManifest(ctx, "foo")
	if err != nil {
		t.Fatalf("read error: %v", err)
	}
	if model.RevisionCounter(final.Rev) != workers {
		t.Fatalf("lost updates: expected counter %d, got %s", workers, final.Rev)
	}
}

func TestUpdateManifestNilTransformSkipsWrite(t *testing.T) {
	backend := newTestBackend(t)
	ctx := context.Background()

	seed := model.NewManifest("foo")
	seed.Rev = "3-aaaaaaaaaaaaaaaa"
	if err := backend.WriteManifest(ctx, "foo", seed); err != nil {
		t.Fatalf("seed error: %v", err)
	}

	result, err := backend.UpdateManifest(ctx, "foo", func(m *model.Manifest) (*model.Manifest, error) {
		return nil, nil
	})
	if err != nil {
		t.Fatalf("update error: %v", err)
	}
	if result.Rev != "3-aaaaaaaaaaaaaaaa" {
		t.Fatalf("no-op transform must not change revision: %s", result.Rev)
	}
}

func TestTarballAtomicWrite(t *testing.T) {
	backend := newTestBackend(t)
	ctx := context.Background()

	writeTarball(t, backend, "foo", "foo-1.0.0.tgz", []byte("old bytes"))

	ws, err := backend.OpenTarballWrite(ctx, "foo", "foo-1.0.0.tgz")
	if err != nil {
		t.Fatalf("open write error: %v", err)
	}
	if _, err := ws.Write([]byte("new ")); err != nil {
		t.Fatalf("write error: %v", err)
	}

	// Commit 之前读者仍看到旧字节。
	if got := readTarball(t, backend, "foo", "foo-1.0.0.tgz"); got != "old bytes" {
		t.Fatalf("reader observed partial write: %q", got)
	}

	if _, err := ws.Write([]byte("bytes")); err != nil {
		t.Fatalf("write error: %v", err)
	}
	if err := ws.Commit(); err != nil {
		t.Fatalf("commit error: %v", err)
	}
	if got := readTarball(t, backend, "foo", "foo-1.0.0.tgz"); got != "new bytes" {
		t.Fatalf("unexpected content after commit: %q", got)
	}
}

func TestTarballAbortKeepsOldBytesAndCleansTemp(t *testing.T) {
	backend := newTestBackend(t)
	ctx := context.Background()

	writeTarball(t, backend, "foo", "foo-1.0.0.tgz", []byte("cached"))

	ws, err := backend.OpenTarballWrite(ctx, "foo", "foo-1.0.0.tgz")
	if err != nil {
		t.Fatalf("open write error: %v", err)
	}
	if _, err := ws.Write([]byte("half")); err != nil {
		t.Fatalf("write error: %v", err)
	}
	if err := ws.Abort(); err != nil {
		t.Fatalf("abort error: %v", err)
	}

	if got := readTarball(t, backend, "foo", "foo-1.0.0.tgz"); got != "cached" {
		t.Fatalf("abort must keep prior bytes: %q", got)
	}
	assertNoTempFiles(t, filepath.Join(backend.basePath, "foo"))
}

func TestTarballWriteCancelled(t *testing.T) {
	backend := newTestBackend(t)
	ctx, cancel := context.WithCancel(context.Background())

	ws, err := backend.OpenTarballWrite(ctx, "foo", "foo-1.0.0.tgz")
	if err != nil {
		t.Fatalf("open write error: %v", err)
	}
	cancel()

	if _, err := ws.Write([]byte("data")); err == nil {
		t.Fatalf("expected write after cancel to fail")
	}
	if err := ws.Commit(); err == nil {
		t.Fatalf("expected commit after cancel to fail")
	}

	if _, err := backend.OpenTarballRead(context.Background(), "foo", "foo-1.0.0.tgz"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("cancelled write must not become visible, got %v", err)
	}
	assertNoTempFiles(t, filepath.Join(backend.basePath, "foo"))
}

func TestDeleteTarball(t *testing.T) {
	backend := newTestBackend(t)
	ctx := context.Background()

	writeTarball(t, backend, "foo", "foo-1.0.0.tgz", []byte("x"))
	if err := backend.DeleteTarball(ctx, "foo", "foo-1.0.0.tgz"); err != nil {
		t.Fatalf("delete error: %v", err)
	}
	if err := backend.DeleteTarball(ctx, "foo", "foo-1.0.0.tgz"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestTarballPathRejectsManifestAndTraversal(t *testing.T) {
	backend := newTestBackend(t)
	for _, filename := range []string{"package.json", "../escape.tgz", "a/b.tgz", ".."} {
		if _, err := backend.tarballPath("foo", filename); err == nil {
			t.Fatalf("expected rejection for %s", filename)
		}
	}
}

func TestIndexAddListRemove(t *testing.T) {
	backend := newTestBackend(t)
	ctx := context.Background()

	for _, name := range []string{"b-pkg", "a-pkg", "a-pkg"} {
		if err := backend.AddPackage(ctx, name); err != nil {
			t.Fatalf("add error: %v", err)
		}
	}

	names, err := backend.ListPackages(ctx)
	if err != nil {
		t.Fatalf("list error: %v", err)
	}
	if len(names) != 2 || names[0] != "a-pkg" || names[1] != "b-pkg" {
		t.Fatalf("unexpected index contents: %v", names)
	}

	if err := backend.WriteManifest(ctx, "a-pkg", model.NewManifest("a-pkg")); err != nil {
		t.Fatalf("write error: %v", err)
	}
	if err := backend.RemovePackage(ctx, "a-pkg"); err != nil {
		t.Fatalf("remove error: %v", err)
	}

	names, err = backend.ListPackages(ctx)
	if err != nil {
		t.Fatalf("list error: %v", err)
	}
	if len(names) != 1 || names[0] != "b-pkg" {
		t.Fatalf("index entry not removed: %v", names)
	}
	if _, err := backend.ReadManifest(ctx, "a-pkg"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("package dir should be gone, got %v", err)
	}
}

func TestSearchMatchesSubstring(t *testing.T) {
	backend := newTestBackend(t)
	ctx := context.Background()

	for _, name := range []string{"react", "react-dom", "vue"} {
		if err := backend.AddPackage(ctx, name); err != nil {
			t.Fatalf("add error: %v", err)
		}
	}

	items, err := backend.Search(ctx, "react")
	if err != nil {
		t.Fatalf("search error: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 hits, got %+v", items)
	}
}

func TestTokenPersistence(t *testing.T) {
	backend := newTestBackend(t)
	ctx := context.Background()

	if err := backend.SaveToken(ctx, Token{User: "ana", Key: "k1"}); err != nil {
		t.Fatalf("save error: %v", err)
	}
	if err := backend.SaveToken(ctx, Token{User: "ana", Key: "k2", ReadOnly: true}); err != nil {
		t.Fatalf("save error: %v", err)
	}

	tokens, err := backend.ReadTokens(ctx, "ana")
	if err != nil {
		t.Fatalf("read error: %v", err)
	}
	if len(tokens) != 2 || tokens[0].Key != "k1" {
		t.Fatalf("unexpected tokens: %+v", tokens)
	}

	if err := backend.DeleteToken(ctx, "ana", "k1"); err != nil {
		t.Fatalf("delete error: %v", err)
	}
	if err := backend.DeleteToken(ctx, "ana", "k1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on double delete, got %v", err)
	}
}

// newTestBackend returns an FSBackend rooted at a temporary directory.
func newTestBackend(t *testing.T) *FSBackend {
	t.Helper()
	backend, err := NewFSBackend(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create backend: %v", err)
	}
	return backend
}

func writeTarball(t *testing.T, backend *FSBackend, name, filename string, data []byte) {
	t.Helper()
	ws, err := backend.OpenTarballWrite(context.Background(), name, filename)
	if err != nil {
		t.Fatalf("open write error: %v", err)
	}
	if _, err := ws.Write(data); err != nil {
		t.Fatalf("write error: %v", err)
	}
	if err := ws.Commit(); err != nil {
		t.Fatalf("commit error: %v", err)
	}
}

func readTarball(t *testing.T, backend *FSBackend, name, filename string) string {
	t.Helper()
	reader, err := backend.OpenTarballRead(context.Background(), name, filename)
	if err != nil {
		t.Fatalf("open read error: %v", err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		t.Fatalf("read error: %v", err)
	}
	return string(data)
}

func assertNoTempFiles(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return
		}
		t.Fatalf("read dir error: %v", err)
	}
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), ".tarball-") || strings.HasPrefix(entry.Name(), ".manifest-") {
			t.Fatalf("leftover temp file: %s", entry.Name())
		}
	}
}
