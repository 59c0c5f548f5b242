package blob

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"strings"
	"testing"
)

func putString(t *testing.T, store Store, key, content string, opts PutOptions) Info {
	t.Helper()
	info, err := store.Put(context.Background(), key, strings.NewReader(content), opts)
	if err != nil {
		t.Fatalf("put %s: %v", key, err)
	}
	return info
}

func readAll(t *testing.T, rc io.ReadCloser) string {
	t.Helper()
	defer rc.Close()
	raw, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return string(raw)
}

func testStoreContract(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()
	key := DatabaseKey("feedc0de")
	content := "not really a database"

	info := putString(t, store, key, content, PutOptions{
		ContentType: "application/x-sqlite3",
		Metadata:    map[string]string{"fingerprint": "feedc0de"},
	})
	if info.Key != key || info.Size != int64(len(content)) {
		t.Fatalf("put info = %+v", info)
	}
	sum := sha256.Sum256([]byte(content))
	if info.ETag != hex.EncodeToString(sum[:]) {
		t.Fatalf("etag = %q", info.ETag)
	}

	if _, err := store.Put(ctx, key, strings.NewReader("other"), PutOptions{}); !errors.Is(err, ErrExists) {
		t.Fatalf("second put err = %v", err)
	}

	got, rc, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if body := readAll(t, rc); body != content {
		t.Fatalf("content = %q", body)
	}
	if got.ContentType != "application/x-sqlite3" || got.Metadata["fingerprint"] != "feedc0de" {
		t.Fatalf("get info = %+v", got)
	}

	head, err := store.Head(ctx, key)
	if err != nil {
		t.Fatalf("head: %v", err)
	}
	if head.Size != info.Size || head.ETag != info.ETag {
		t.Fatalf("head info = %+v", head)
	}
	if _, err := store.Head(ctx, "builds/unknown/graph.db"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("head missing err = %v", err)
	}

	putString(t, store, ManifestKey("feedc0de"), "{}", PutOptions{ContentType: "application/json"})
	putString(t, store, ReportKey("job-1", "unmapped_evidence", "csv"), "a,b\n", PutOptions{})

	builds, err := store.List(ctx, "builds/")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(builds) != 2 || builds[0].Key != key || builds[1].Key != ManifestKey("feedc0de") {
		t.Fatalf("builds list = %+v", builds)
	}
	all, err := store.List(ctx, "")
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("all list = %+v", all)
	}

	existed, err := store.Delete(ctx, key)
	if err != nil || !existed {
		t.Fatalf("delete = %v, %v", existed, err)
	}
	existed, err = store.Delete(ctx, key)
	if err != nil || existed {
		t.Fatalf("second delete = %v, %v", existed, err)
	}
	if _, _, err := store.Get(ctx, key); !errors.Is(err, ErrNotFound) {
		t.Fatalf("get after delete err = %v", err)
	}
}

func TestFSContract(t *testing.T) {
	store, err := NewFS(t.TempDir())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if store.Driver() != DriverFS {
		t.Fatalf("driver = %q", store.Driver())
	}
	testStoreContract(t, store)
}

func TestMemoryContract(t *testing.T) {
	store := NewMemory()
	if store.Driver() != DriverMemory {
		t.Fatalf("driver = %q", store.Driver())
	}
	testStoreContract(t, store)
}

func TestFSRejectsTraversal(t *testing.T) {
	store, err := NewFS(t.TempDir())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	for _, key := range []string{"", "  ", "/etc/passwd", "../escape", "builds/../../escape"} {
		if _, err := store.Put(context.Background(), key, bytes.NewReader(nil), PutOptions{}); err == nil {
			t.Fatalf("key %q accepted", key)
		}
	}
}

func TestFSPresignUnsupported(t *testing.T) {
	store, err := NewFS(t.TempDir())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, err := store.PresignURL(context.Background(), "x", SignedURLOptions{}); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("err = %v", err)
	}
	if _, err := NewMemory().PresignURL(context.Background(), "x", SignedURLOptions{}); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("memory err = %v", err)
	}
}

func TestOpenSelectsDriver(t *testing.T) {
	t.Setenv(EnvDriver, "memory")
	store, err := Open(context.Background())
	if err != nil || store.Driver() != DriverMemory {
		t.Fatalf("open memory = %v, %v", store, err)
	}

	t.Setenv(EnvDriver, "fs")
	t.Setenv(EnvFSRoot, t.TempDir())
	store, err = Open(context.Background())
	if err != nil || store.Driver() != DriverFS {
		t.Fatalf("open fs = %v, %v", store, err)
	}

	t.Setenv(EnvDriver, "tape")
	if _, err := Open(context.Background()); err == nil {
		t.Fatalf("unknown driver accepted")
	}

	t.Setenv(EnvDriver, "s3")
	t.Setenv(EnvS3Bucket, "")
	if _, err := Open(context.Background()); err == nil {
		t.Fatalf("s3 without bucket accepted")
	}
}

func TestArtifactKeys(t *testing.T) {
	if got := DatabaseKey("abc123"); got != "builds/abc123/graph.db" {
		t.Fatalf("database key = %q", got)
	}
	if got := ManifestKey("abc123"); got != "builds/abc123/manifest.json" {
		t.Fatalf("manifest key = %q", got)
	}
	if got := ReportKey("7f3a", "exclusions", "json"); got != "reports/7f3a/exclusions.json" {
		t.Fatalf("report key = %q", got)
	}
}
