package objstore

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestClientPutFileSigns(t *testing.T) {
	var (
		gotPath string
		gotBody string
		gotAuth string
		gotType string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotPath, gotBody = r.URL.Path, string(b)
		gotAuth, gotType = r.Header.Get("Authorization"), r.Header.Get("Content-Type")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c, err := New(Config{Endpoint: srv.URL, Bucket: "bkt", AccessKeyID: "AK", SecretAccessKey: "SK"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	c.now = func() time.Time { return time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC) }

	path := filepath.Join(t.TempDir(), "t.qtable.zst")
	if err := os.WriteFile(path, []byte("payload"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := c.PutFile(context.Background(), "/tables/run 1/t.qtable.zst", path); err != nil {
		t.Fatalf("PutFile: %v", err)
	}
	if gotPath != "/bkt/tables/run 1/t.qtable.zst" {
		t.Fatalf("path=%q", gotPath)
	}
	if gotBody != "payload" || gotType != "application/zstd" {
		t.Fatalf("body=%q type=%q", gotBody, gotType)
	}
	if !strings.HasPrefix(gotAuth, "AWS4-HMAC-SHA256 Credential=AK/20260301/auto/s3/aws4_request, SignedHeaders=host;x-amz-content-sha256;x-amz-date, Signature=") {
		t.Fatalf("auth=%q", gotAuth)
	}
}

func TestClientRejectsIncompleteConfig(t *testing.T) {
	if _, err := New(Config{Endpoint: "example.com", Bucket: "b"}); err == nil {
		t.Fatalf("expected error")
	}
}

type fakeUploader struct {
	mu    sync.Mutex
	fails int
	keys  []string
}

func (f *fakeUploader) PutFile(_ context.Context, key, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fails > 0 {
		f.fails--
		return errors.New("boom")
	}
	f.keys = append(f.keys, key)
	return nil
}

func TestMirrorUploadsRelativeKeys(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "events", "events-2026-03-01-10.jsonl.zst")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	up := &fakeUploader{fails: 2}
	m := NewMirror(up, MirrorConfig{DataDir: dir, Prefix: "/capflag/", Backoff: time.Millisecond})
	m.Enqueue(path)
	m.Enqueue(filepath.Join(dir, "missing.zst"))
	m.Close()

	if len(up.keys) != 1 || up.keys[0] != "capflag/events/events-2026-03-01-10.jsonl.zst" {
		t.Fatalf("keys=%v", up.keys)
	}
	st := m.Stats()
	if st.EnqueuedTotal != 2 || st.UploadSuccessTotal != 1 || st.UploadFailTotal != 1 {
		t.Fatalf("stats=%+v", st)
	}
}

func TestMirrorRejectsOutsideDataDir(t *testing.T) {
	base := t.TempDir()
	other := filepath.Join(t.TempDir(), "x.zst")
	if err := os.WriteFile(other, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	m := NewMirror(&fakeUploader{}, MirrorConfig{DataDir: base})
	defer m.Close()
	if _, err := m.ObjectKey(other); err == nil {
		t.Fatalf("expected error for a path outside the data dir")
	}
}
