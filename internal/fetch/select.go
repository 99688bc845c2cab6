package fetch

import (
	"strings"

	"github.com/avollmer/itchgrab/internal/itchio"
)

// ArchiveExt is the filename suffix that marks an upload as a zip
// archive, matched case-insensitively.
const ArchiveExt = ".zip"

// IsArchive reports whether filename names a zip archive.
func IsArchive(filename string) bool {
	return strings.HasSuffix(strings.ToLower(filename), ArchiveExt)
}

// PickUpload chooses the upload to download: the first zip archive if
// one exists, otherwise the first upload in API order. ok is false when
// the list is empty, which callers treat as a skip, not a failure of
// the run.
func PickUpload(uploads []itchio.Upload) (upload itchio.Upload, ok bool) {
	for _, u := range uploads {
		if IsArchive(u.Filename) {
			return u, true
		}
	}
	if len(uploads) > 0 {
		return uploads[0], true
	}
	return itchio.Upload{}, false
}
