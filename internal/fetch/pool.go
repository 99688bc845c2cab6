package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/avollmer/itchgrab/internal/archive"
	"github.com/avollmer/itchgrab/internal/itchio"
)

// ErrNoUploads indicates an entitlement offers nothing to download.
// The pool records it and moves on; it never aborts the run.
var ErrNoUploads = errors.New("no uploads found")

// Catalog is the slice of the API client the pool needs. *itchio.Client
// satisfies it; tests inject fakes.
type Catalog interface {
	GameUploads(ctx context.Context, gameID, keyID int64) ([]itchio.Upload, error)
	OpenUpload(ctx context.Context, uploadID, keyID int64) (io.ReadCloser, int64, error)
}

// SinkProvider hands out one progress sink per key before its work
// starts.
type SinkProvider func(key itchio.OwnedKey) ProgressSink

// Result is the terminal outcome of one key's download, collected
// instead of discarded so the caller can tally successes and failures.
type Result struct {
	Key       itchio.OwnedKey
	Filename  string
	Bytes     int64
	Extracted bool
	Err       error
}

// Pool downloads the uploads for a set of owned keys under a shared
// concurrency cap. Keys are fully independent: one key's failure is
// recorded in its Result and never cancels a sibling.
type Pool struct {
	Catalog     Catalog
	OutputDir   string
	Concurrency int
	Extract     bool
	UnwrapRoot  bool
	Sinks       SinkProvider
	Logger      *slog.Logger
}

// Run processes every key and blocks until all of them reach a terminal
// state. The returned slice is index-aligned with keys.
func (p *Pool) Run(ctx context.Context, keys []itchio.OwnedKey) []Result {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}

	concurrency := p.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}

	// Counting permit: acquired before a key's work begins, released
	// unconditionally so the cap is never leaked.
	sem := make(chan struct{}, concurrency)
	results := make([]Result, len(keys))
	var wg sync.WaitGroup

	for i, key := range keys {
		wg.Add(1)
		go func(idx int, key itchio.OwnedKey) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			results[idx] = p.download(ctx, logger, key)
		}(i, key)
	}

	wg.Wait()
	return results
}

// download runs one key to its terminal state. Every failure path
// reports through the key's sink and the returned Result.
func (p *Pool) download(ctx context.Context, logger *slog.Logger, key itchio.OwnedKey) Result {
	res := Result{Key: key}

	unit := uuid.New().String()[:8] // Short ID for log correlation
	log := logger.With("unit", unit, "title", key.Game.Title)
	sink := p.Sinks(key)

	uploads, err := p.Catalog.GameUploads(ctx, key.GameID, key.ID)
	if err != nil {
		log.Error("fetching uploads failed", "error", err)
		sink.Finish(fmt.Sprintf("Failed: %v", err))
		res.Err = fmt.Errorf("get uploads: %w", err)
		return res
	}

	upload, ok := PickUpload(uploads)
	if !ok {
		log.Warn("no uploads available, skipping")
		sink.Finish("No uploads found")
		res.Err = ErrNoUploads
		return res
	}
	res.Filename = upload.Filename

	// The API controls the filename; never let it escape the output
	// directory.
	if !filepath.IsLocal(upload.Filename) {
		log.Error("refusing unsafe filename", "filename", upload.Filename)
		sink.Finish(fmt.Sprintf("Failed: unsafe filename %q", upload.Filename))
		res.Err = fmt.Errorf("unsafe upload filename %q", upload.Filename)
		return res
	}

	sink.SetMessage(fmt.Sprintf("Downloading %s", upload.Filename))
	if upload.Size > 0 {
		sink.SetTotal(upload.Size)
	}

	stream, length, err := p.Catalog.OpenUpload(ctx, upload.ID, key.ID)
	if err != nil {
		log.Error("download request failed", "error", err)
		sink.Finish(fmt.Sprintf("Failed: %v", err))
		res.Err = fmt.Errorf("open upload: %w", err)
		return res
	}
	defer stream.Close()

	dest := filepath.Join(p.OutputDir, upload.Filename)
	n, err := StreamToFile(stream, length, dest, sink)
	res.Bytes = n
	if err != nil {
		log.Error("download failed", "filename", upload.Filename, "error", err)
		sink.Finish(fmt.Sprintf("Failed: %v", err))
		res.Err = fmt.Errorf("download %s: %w", upload.Filename, err)
		return res
	}
	log.Info("download complete", "filename", upload.Filename, "bytes", n)

	if !p.Extract || !IsArchive(upload.Filename) {
		return res
	}

	sink.SetMessage(fmt.Sprintf("Extracting %s", upload.Filename))
	targetDir := filepath.Join(p.OutputDir, SanitizeTitle(key.Game.Title))

	if err := archive.Extract(ctx, dest, targetDir, p.UnwrapRoot); err != nil {
		// The download itself succeeded; only extraction is lost.
		log.Error("extraction failed", "filename", upload.Filename, "error", err)
		sink.Finish(fmt.Sprintf("Downloaded %s but failed to extract: %v", upload.Filename, err))
		res.Err = fmt.Errorf("extract %s: %w", upload.Filename, err)
		return res
	}
	res.Extracted = true

	// Delete the archive only after extraction succeeded.
	if err := os.Remove(dest); err != nil {
		log.Warn("could not remove archive after extraction", "filename", upload.Filename, "error", err)
	}

	sink.Finish(fmt.Sprintf("Downloaded and extracted %s", upload.Filename))
	log.Info("extraction complete", "dir", targetDir)
	return res
}

// SanitizeTitle makes a game title usable as a directory name. Titles
// are display strings, never paths, so separators are flattened.
func SanitizeTitle(title string) string {
	title = strings.ReplaceAll(title, "/", "_")
	return strings.ReplaceAll(title, "\\", "_")
}
