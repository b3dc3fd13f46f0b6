package store

import (
	"context"
	"net/url"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/npm-hub/internal/model"
	"github.com/any-hub/npm-hub/internal/storage"
)

func TestGetManifestMissingPackage(t *testing.T) {
	local := newTestLocal(t, nil)
	_, err := local.GetManifest(context.Background(), "missing")
	if !model.IsNotFound(err) {
		t.Fatalf("expected not-found, got %v", err)
	}
}

func TestReadOrCreateSynthesizesTemplate(t *testing.T) {
	local := newTestLocal(t, nil)
	manifest, err := local.ReadOrCreate(context.Background(), "fresh")
	if err != nil {
		t.Fatalf("read error: %v", err)
	}
	if manifest.Rev != model.InitialRevision {
		t.Fatalf("expected template revision, got %s", manifest.Rev)
	}

	// 模板不落盘。
	if _, err := local.GetManifest(context.Background(), "fresh"); !model.IsNotFound(err) {
		t.Fatalf("template must not be persisted, got %v", err)
	}
}

func TestAddVersionFirstPublish(t *testing.T) {
	local := newTestLocal(t, nil)
	ctx := context.Background()

	ver := &model.Version{
		Readme: "# hello",
		Dist:   model.Dist{Tarball: "http://localhost/foo/-/foo-1.0.0.tgz", Shasum: "abc"},
	}
	if err := local.AddVersion(ctx, "foo", "1.0.0", ver, "latest"); err != nil {
		t.Fatalf("publish error: %v", err)
	}

	manifest, err := local.GetManifest(ctx, "foo")
	if err != nil {
		t.Fatalf("read error: %v", err)
	}
	published := manifest.Versions["1.0.0"]
	if published == nil {
		t.Fatalf("version missing after publish: %+v", manifest.Versions)
	}
	if published.Readme != "" {
		t.Fatalf("version record must not carry readme")
	}
	if manifest.Readme != "# hello" {
		t.Fatalf("manifest readme not set: %q", manifest.Readme)
	}
	if manifest.DistTags["latest"] != "1.0.0" {
		t.Fatalf("latest tag missing: %+v", manifest.DistTags)
	}
	if manifest.Time["1.0.0"] == "" || manifest.Time["created"] == "" || manifest.Time["modified"] == "" {
		t.Fatalf("time stamps missing: %+v", manifest.Time)
	}
	if model.RevisionCounter(manifest.Rev) == 0 {
		t.Fatalf("revision not bumped: %s", manifest.Rev)
	}

	names, err := local.Backend().ListPackages(ctx)
	if err != nil || len(names) != 1 {
		t.Fatalf("package not registered in index: %v %v", names, err)
	}
}

func TestAddVersionConflictOnRepublish(t *testing.T) {
	local := newTestLocal(t, nil)
	ctx := context.Background()

	ver := &model.Version{Dist: model.Dist{Tarball: "http://x/foo-1.0.0.tgz"}}
	if err := local.AddVersion(ctx, "foo", "1.0.0", ver, "latest"); err != nil {
		t.Fatalf("publish error: %v", err)
	}
	err := local.AddVersion(ctx, "foo", "1.0.0", ver, "latest")
	if !model.IsKind(err, model.KindConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestAddVersionConcurrentRepublishSingleWinner(t *testing.T) {
	local := newTestLocal(t, nil)
	ctx := context.Background()
	if err := local.CreatePackage(ctx, "foo"); err != nil {
		t.Fatalf("create error: %v", err)
	}

	const attempts = 8
	results := make(chan error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ver := &model.Version{Dist: model.Dist{Tarball: "http://x/foo-1.0.0.tgz"}}
			results <- local.AddVersion(ctx, "foo", "1.0.0", ver, "latest")
		}()
	}
	wg.Wait()
	close(results)

	succeeded, conflicted := 0, 0
	for err := range results {
		switch {
		case err == nil:
			succeeded++
		case model.IsKind(err, model.KindConflict):
			conflicted++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if succeeded != 1 || conflicted != attempts-1 {
		t.Fatalf("expected exactly one winner, got ok=%d conflict=%d", succeeded, conflicted)
	}
}

func TestAddVersionShasumGuard(t *testing.T) {
	local := newTestLocal(t, nil)
	ctx := context.Background()

	if err := local.CreatePackage(ctx, "foo"); err != nil {
		t.Fatalf("create error: %v", err)
	}
	if err := local.RecordAttachment(ctx, "foo", "foo-1.0.0.tgz", "expected-sha"); err != nil {
		t.Fatalf("record error: %v", err)
	}

	ver := &model.Version{Dist: model.Dist{Tarball: "http://x/foo/-/foo-1.0.0.tgz", Shasum: "other-sha"}}
	err := local.AddVersion(ctx, "foo", "1.0.0", ver, "latest")
	if !model.IsKind(err, model.KindBadRequest) {
		t.Fatalf("expected bad-request on shasum mismatch, got %v", err)
	}

	// shasum 一致时附件被打上版本标记。
	ok := &model.Version{Dist: model.Dist{Tarball: "http://x/foo/-/foo-1.0.0.tgz", Shasum: "expected-sha"}}
	if err := local.AddVersion(ctx, "foo", "1.0.0", ok, "latest"); err != nil {
		t.Fatalf("publish error: %v", err)
	}
	manifest, _ := local.GetManifest(ctx, "foo")
	if manifest.Attachments["foo-1.0.0.tgz"].Version != "1.0.0" {
		t.Fatalf("attachment version not stamped: %+v", manifest.Attachments)
	}
}

func TestRecordAttachmentAcceptsMissingShasum(t *testing.T) {
	local := newTestLocal(t, nil)
	ctx := context.Background()

	if err := local.CreatePackage(ctx, "foo"); err != nil {
		t.Fatalf("create error: %v", err)
	}
	if err := local.RecordAttachment(ctx, "foo", "foo-1.0.0.tgz", ""); err != nil {
		t.Fatalf("record error: %v", err)
	}
	// 历史记录没有 shasum 时，新值被静默接受。
	if err := local.RecordAttachment(ctx, "foo", "foo-1.0.0.tgz", "late-sha"); err != nil {
		t.Fatalf("expected silent accept, got %v", err)
	}
}

func TestChangePackageUnpublishAndDeprecate(t *testing.T) {
	local := newTestLocal(t, nil)
	ctx := context.Background()

	publishVersion(t, local, "foo", "1.0.0")
	publishVersion(t, local, "foo", "2.0.0")

	current, _ := local.GetManifest(ctx, "foo")
	incoming := current.Clone()
	delete(incoming.Versions, "1.0.0")
	incoming.Versions["2.0.0"].Deprecated = "use 3.x"
	incoming.DistTags = map[string]string{"latest": "2.0.0"}
	incoming.Users = map[string]bool{"ana": true}

	if err := local.ChangePackage(ctx, "foo", incoming); err != nil {
		t.Fatalf("change error: %v", err)
	}

	manifest, _ := local.GetManifest(ctx, "foo")
	if _, ok := manifest.Versions["1.0.0"]; ok {
		t.Fatalf("version 1.0.0 should be unpublished")
	}
	if _, ok := manifest.Time["1.0.0"]; ok {
		t.Fatalf("time entry for unpublished version should be gone")
	}
	if manifest.Versions["2.0.0"].Deprecated != "use 3.x" {
		t.Fatalf("deprecation not applied: %+v", manifest.Versions["2.0.0"])
	}
	if !manifest.Users["ana"] {
		t.Fatalf("users not replaced: %+v", manifest.Users)
	}

	// 空字符串清除弃用标记。
	incoming = manifest.Clone()
	incoming.Versions["2.0.0"].Deprecated = ""
	if err := local.ChangePackage(ctx, "foo", incoming); err != nil {
		t.Fatalf("change error: %v", err)
	}
	manifest, _ = local.GetManifest(ctx, "foo")
	if manifest.Versions["2.0.0"].Deprecated != "" {
		t.Fatalf("deprecation flag should be cleared")
	}
}

func TestChangePackageRejectsMissingMaps(t *testing.T) {
	local := newTestLocal(t, nil)
	err := local.ChangePackage(context.Background(), "foo", &model.Manifest{Name: "foo"})
	if !model.IsKind(err, model.KindBadData) {
		t.Fatalf("expected bad-data, got %v", err)
	}
}

func TestMergeTags(t *testing.T) {
	local := newTestLocal(t, nil)
	ctx := context.Background()
	publishVersion(t, local, "foo", "1.0.0")

	beta := "1.0.0"
	if err := local.MergeTags(ctx, "foo", map[string]*string{"beta": &beta}); err != nil {
		t.Fatalf("merge error: %v", err)
	}

	manifest, _ := local.GetManifest(ctx, "foo")
	if manifest.DistTags["beta"] != "1.0.0" {
		t.Fatalf("beta tag missing: %+v", manifest.DistTags)
	}

	missing := "9.9.9"
	err := local.MergeTags(ctx, "foo", map[string]*string{"broken": &missing})
	if !model.IsNotFound(err) {
		t.Fatalf("expected not-found for unknown version, got %v", err)
	}

	if err := local.MergeTags(ctx, "foo", map[string]*string{"beta": nil}); err != nil {
		t.Fatalf("delete tag error: %v", err)
	}
	manifest, _ = local.GetManifest(ctx, "foo")
	if _, ok := manifest.DistTags["beta"]; ok {
		t.Fatalf("beta tag should be deleted")
	}
}

func TestDistTagClosureAfterMutations(t *testing.T) {
	local := newTestLocal(t, nil)
	ctx := context.Background()
	publishVersion(t, local, "foo", "1.0.0")
	publishVersion(t, local, "foo", "2.0.0")

	manifest, _ := local.GetManifest(ctx, "foo")
	for tag, target := range manifest.DistTags {
		if _, ok := manifest.Versions[target]; !ok {
			t.Fatalf("tag %s points at missing version %s", tag, target)
		}
	}
}

func TestRemoveTarball(t *testing.T) {
	local := newTestLocal(t, nil)
	ctx := context.Background()

	publishVersion(t, local, "foo", "1.0.0")
	if err := local.RecordAttachment(ctx, "foo", "foo-1.0.0.tgz", "sha"); err != nil {
		t.Fatalf("record error: %v", err)
	}

	if err := local.RemoveTarball(ctx, "foo", "foo-1.0.0.tgz", "rev"); err != nil {
		t.Fatalf("remove error: %v", err)
	}
	manifest, _ := local.GetManifest(ctx, "foo")
	if _, ok := manifest.Attachments["foo-1.0.0.tgz"]; ok {
		t.Fatalf("attachment record should be gone")
	}

	err := local.RemoveTarball(ctx, "foo", "nope.tgz", "rev")
	if !model.IsNotFound(err) {
		t.Fatalf("expected not-found, got %v", err)
	}
}

func TestRemovePackage(t *testing.T) {
	local := newTestLocal(t, nil)
	ctx := context.Background()
	publishVersion(t, local, "foo", "1.0.0")

	if err := local.RemovePackage(ctx, "foo"); err != nil {
		t.Fatalf("remove error: %v", err)
	}
	if _, err := local.GetManifest(ctx, "foo"); !model.IsNotFound(err) {
		t.Fatalf("expected not-found after removal, got %v", err)
	}
	if err := local.RemovePackage(ctx, "foo"); !model.IsNotFound(err) {
		t.Fatalf("expected not-found on double removal, got %v", err)
	}
}

// newTestLocal returns a Local store over a temp filesystem backend.
func newTestLocal(t *testing.T, uplinkURLs map[string]*url.URL) *Local {
	t.Helper()
	backend, err := storage.NewFSBackend(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create backend: %v", err)
	}
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return NewLocal(backend, logger, uplinkURLs)
}

func publishVersion(t *testing.T, local *Local, name, version string) {
	t.Helper()
	ver := &model.Version{
		Dist: model.Dist{Tarball: "http://localhost/" + name + "/-/" + model.TarballFilename(name, version)},
	}
	if err := local.AddVersion(context.Background(), name, version, ver, "latest"); err != nil {
		t.Fatalf("publish %s@%s error: %v", name, version, err)
	}
}
