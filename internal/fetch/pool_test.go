package fetch

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/avollmer/itchgrab/internal/itchio"
)

// fakeCatalog serves canned uploads and payloads, keyed by game ID.
type fakeCatalog struct {
	uploads  map[int64][]itchio.Upload
	payloads map[int64][]byte
	errs     map[int64]error

	// onOpen, when set, is invoked while a download is "in flight",
	// letting tests observe concurrency.
	onOpen func()

	mu        sync.Mutex
	inFlight  int32
	peak      int32
	openCalls []int64
}

func (f *fakeCatalog) GameUploads(ctx context.Context, gameID, keyID int64) ([]itchio.Upload, error) {
	if err := f.errs[gameID]; err != nil {
		return nil, err
	}
	return f.uploads[gameID], nil
}

func (f *fakeCatalog) OpenUpload(ctx context.Context, uploadID, keyID int64) (io.ReadCloser, int64, error) {
	cur := atomic.AddInt32(&f.inFlight, 1)
	for {
		p := atomic.LoadInt32(&f.peak)
		if cur <= p || atomic.CompareAndSwapInt32(&f.peak, p, cur) {
			break
		}
	}
	if f.onOpen != nil {
		f.onOpen()
	}
	atomic.AddInt32(&f.inFlight, -1)

	f.mu.Lock()
	f.openCalls = append(f.openCalls, uploadID)
	f.mu.Unlock()

	body := f.payloads[uploadID]
	return io.NopCloser(bytes.NewReader(body)), int64(len(body)), nil
}

type nopSink struct{}

func (nopSink) SetTotal(int64)    {}
func (nopSink) Advance(int64)     {}
func (nopSink) SetMessage(string) {}
func (nopSink) Finish(string)     {}

func nopSinks(itchio.OwnedKey) ProgressSink { return nopSink{} }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func ownedKey(id int64, title string) itchio.OwnedKey {
	return itchio.OwnedKey{ID: id, GameID: id * 10, Game: itchio.Game{ID: id * 10, Title: title}}
}

func TestPoolDownloadsAllKeys(t *testing.T) {
	dir := t.TempDir()
	cat := &fakeCatalog{
		uploads:  map[int64][]itchio.Upload{},
		payloads: map[int64][]byte{},
	}

	var keys []itchio.OwnedKey
	for i := int64(1); i <= 5; i++ {
		key := ownedKey(i, fmt.Sprintf("game-%d", i))
		keys = append(keys, key)
		cat.uploads[key.GameID] = []itchio.Upload{{ID: i, Filename: fmt.Sprintf("game-%d.bin", i)}}
		cat.payloads[i] = bytes.Repeat([]byte{byte(i)}, 100)
	}

	pool := &Pool{
		Catalog:     cat,
		OutputDir:   dir,
		Concurrency: 2,
		Sinks:       nopSinks,
		Logger:      discardLogger(),
	}

	results := pool.Run(context.Background(), keys)
	if len(results) != len(keys) {
		t.Fatalf("got %d results, want %d", len(results), len(keys))
	}

	for i, res := range results {
		if res.Err != nil {
			t.Errorf("results[%d].Err = %v, want nil", i, res.Err)
		}
		if res.Key.ID != keys[i].ID {
			t.Errorf("results[%d] belongs to key %d, want %d (slice must be index-aligned)", i, res.Key.ID, keys[i].ID)
		}
		if res.Bytes != 100 {
			t.Errorf("results[%d].Bytes = %d, want 100", i, res.Bytes)
		}
		path := filepath.Join(dir, fmt.Sprintf("game-%d.bin", i+1))
		if _, err := os.Stat(path); err != nil {
			t.Errorf("expected downloaded file %s: %v", path, err)
		}
	}
}

func TestPoolRespectsConcurrencyCap(t *testing.T) {
	dir := t.TempDir()

	const limit = 3
	gate := make(chan struct{})
	var waiting sync.WaitGroup
	waiting.Add(limit)

	cat := &fakeCatalog{
		uploads:  map[int64][]itchio.Upload{},
		payloads: map[int64][]byte{},
	}
	var arrived int32
	cat.onOpen = func() {
		// The first limit downloads park here until all of them arrive;
		// the rest can only start after the gate opens.
		if atomic.AddInt32(&arrived, 1) <= limit {
			waiting.Done()
		}
		<-gate
	}

	var keys []itchio.OwnedKey
	for i := int64(1); i <= 10; i++ {
		key := ownedKey(i, fmt.Sprintf("game-%d", i))
		keys = append(keys, key)
		cat.uploads[key.GameID] = []itchio.Upload{{ID: i, Filename: fmt.Sprintf("game-%d.bin", i)}}
		cat.payloads[i] = []byte("x")
	}

	pool := &Pool{
		Catalog:     cat,
		OutputDir:   dir,
		Concurrency: limit,
		Sinks:       nopSinks,
		Logger:      discardLogger(),
	}

	done := make(chan []Result, 1)
	go func() { done <- pool.Run(context.Background(), keys) }()

	waiting.Wait()
	if got := atomic.LoadInt32(&cat.inFlight); got != limit {
		t.Errorf("in-flight downloads = %d, want exactly %d while gated", got, limit)
	}
	close(gate)

	results := <-done
	for i, res := range results {
		if res.Err != nil {
			t.Errorf("results[%d].Err = %v, want nil", i, res.Err)
		}
	}
	if peak := atomic.LoadInt32(&cat.peak); peak > limit {
		t.Errorf("peak concurrency = %d, exceeds cap %d", peak, limit)
	}
	if len(cat.openCalls) != len(keys) {
		t.Errorf("opened %d uploads, want %d", len(cat.openCalls), len(keys))
	}
}

func TestPoolFaultIsolation(t *testing.T) {
	dir := t.TempDir()
	boom := errors.New("upstream broke")

	cat := &fakeCatalog{
		uploads: map[int64][]itchio.Upload{
			10: {{ID: 1, Filename: "a.bin"}},
			30: {{ID: 3, Filename: "c.bin"}},
		},
		payloads: map[int64][]byte{1: []byte("aaa"), 3: []byte("ccc")},
		errs:     map[int64]error{20: boom},
	}

	keys := []itchio.OwnedKey{
		ownedKey(1, "first"),
		ownedKey(2, "broken"),
		ownedKey(3, "third"),
	}

	pool := &Pool{
		Catalog:     cat,
		OutputDir:   dir,
		Concurrency: 2,
		Sinks:       nopSinks,
		Logger:      discardLogger(),
	}

	results := pool.Run(context.Background(), keys)

	if results[0].Err != nil || results[2].Err != nil {
		t.Errorf("sibling downloads failed: [0]=%v [2]=%v", results[0].Err, results[2].Err)
	}
	if !errors.Is(results[1].Err, boom) {
		t.Errorf("results[1].Err = %v, want wrapped %v", results[1].Err, boom)
	}
	for _, name := range []string{"a.bin", "c.bin"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("file %s should exist despite the failed sibling: %v", name, err)
		}
	}
}

func TestPoolRecordsMissingUploads(t *testing.T) {
	dir := t.TempDir()
	cat := &fakeCatalog{
		uploads:  map[int64][]itchio.Upload{10: nil},
		payloads: map[int64][]byte{},
	}

	pool := &Pool{
		Catalog:   cat,
		OutputDir: dir,
		Sinks:     nopSinks,
		Logger:    discardLogger(),
	}

	results := pool.Run(context.Background(), []itchio.OwnedKey{ownedKey(1, "empty")})
	if !errors.Is(results[0].Err, ErrNoUploads) {
		t.Errorf("results[0].Err = %v, want ErrNoUploads", results[0].Err)
	}
}

func TestPoolRejectsUnsafeFilename(t *testing.T) {
	dir := t.TempDir()
	cat := &fakeCatalog{
		uploads:  map[int64][]itchio.Upload{10: {{ID: 1, Filename: "../escape.bin"}}},
		payloads: map[int64][]byte{1: []byte("nope")},
	}

	pool := &Pool{
		Catalog:   cat,
		OutputDir: dir,
		Sinks:     nopSinks,
		Logger:    discardLogger(),
	}

	results := pool.Run(context.Background(), []itchio.OwnedKey{ownedKey(1, "sneaky")})
	if results[0].Err == nil {
		t.Fatal("expected error for filename escaping the output directory")
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(dir), "escape.bin")); err == nil {
		t.Error("file was written outside the output directory")
	}
}

func zipBytes(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("creating zip entry %s: %v", name, err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatalf("writing zip entry %s: %v", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("closing zip: %v", err)
	}
	return buf.Bytes()
}

func TestPoolExtractFlow(t *testing.T) {
	dir := t.TempDir()
	payload := zipBytes(t, map[string]string{
		"wrapper/readme.txt":   "hello",
		"wrapper/bin/game.exe": "binary",
	})

	cat := &fakeCatalog{
		uploads:  map[int64][]itchio.Upload{10: {{ID: 1, Filename: "game.zip", Size: int64(len(payload))}}},
		payloads: map[int64][]byte{1: payload},
	}

	pool := &Pool{
		Catalog:    cat,
		OutputDir:  dir,
		Extract:    true,
		UnwrapRoot: true,
		Sinks:      nopSinks,
		Logger:     discardLogger(),
	}

	results := pool.Run(context.Background(), []itchio.OwnedKey{ownedKey(1, "My/Game")})
	if results[0].Err != nil {
		t.Fatalf("results[0].Err = %v, want nil", results[0].Err)
	}
	if !results[0].Extracted {
		t.Error("Extracted = false, want true")
	}

	// Title separators become underscores in the extraction directory.
	gameDir := filepath.Join(dir, "My_Game")
	got, err := os.ReadFile(filepath.Join(gameDir, "readme.txt"))
	if err != nil {
		t.Fatalf("reading extracted file (wrapper directory should be unwrapped): %v", err)
	}
	if string(got) != "hello" {
		t.Errorf("extracted content = %q, want %q", got, "hello")
	}
	if _, err := os.Stat(filepath.Join(gameDir, "bin", "game.exe")); err != nil {
		t.Errorf("nested extracted file missing: %v", err)
	}

	// The archive is removed once its content is safely extracted.
	if _, err := os.Stat(filepath.Join(dir, "game.zip")); !os.IsNotExist(err) {
		t.Errorf("archive should be deleted after extraction, stat err = %v", err)
	}
}

func TestPoolKeepsArchiveWhenExtractionFails(t *testing.T) {
	dir := t.TempDir()
	payload := []byte("this is not a zip archive")

	cat := &fakeCatalog{
		uploads:  map[int64][]itchio.Upload{10: {{ID: 1, Filename: "game.zip"}}},
		payloads: map[int64][]byte{1: payload},
	}

	pool := &Pool{
		Catalog:    cat,
		OutputDir:  dir,
		Extract:    true,
		UnwrapRoot: true,
		Sinks:      nopSinks,
		Logger:     discardLogger(),
	}

	results := pool.Run(context.Background(), []itchio.OwnedKey{ownedKey(1, "corrupt")})
	if results[0].Err == nil {
		t.Fatal("expected extraction error for a corrupt archive")
	}
	if results[0].Extracted {
		t.Error("Extracted = true for a failed extraction")
	}

	got, err := os.ReadFile(filepath.Join(dir, "game.zip"))
	if err != nil {
		t.Fatalf("archive must survive a failed extraction: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Error("archive content changed after failed extraction")
	}
}

func TestSanitizeTitle(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Plain Title", "Plain Title"},
		{"Half/Life", "Half_Life"},
		{`C:\Games`, "C:_Games"},
		{"a/b\\c", "a_b_c"},
	}
	for _, tt := range tests {
		if got := SanitizeTitle(tt.in); got != tt.want {
			t.Errorf("SanitizeTitle(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
