// Package archive extracts downloaded zip archives, normalizing the
// common "everything inside one wrapper directory" layout.
package archive

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/mholt/archives"
)

// Extract unpacks the zip at archivePath into targetDir. Entries are
// first staged into a temporary directory next to targetDir; when
// unwrapRoot is set and the staged tree consists of exactly one
// subdirectory with no plain files beside it, that wrapper is removed
// and its children land directly in targetDir. Otherwise the archive's
// own top-level layout is preserved. The staging directory is removed
// on success; on failure staged content may be left behind along with
// the error's cause.
func Extract(ctx context.Context, archivePath, targetDir string, unwrapRoot bool) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()

	// Staging lives next to the target so the final moves are renames
	// on the same filesystem.
	parent := filepath.Dir(filepath.Clean(targetDir))
	if err := os.MkdirAll(parent, 0755); err != nil {
		return fmt.Errorf("create target parent: %w", err)
	}
	staging, err := os.MkdirTemp(parent, ".itchgrab-staging-*")
	if err != nil {
		return fmt.Errorf("create staging directory: %w", err)
	}

	format := archives.Zip{}
	if err := format.Extract(ctx, f, func(ctx context.Context, entry archives.FileInfo) error {
		return writeEntry(staging, entry)
	}); err != nil {
		return fmt.Errorf("extract archive: %w", err)
	}

	if err := moveStaged(staging, targetDir, unwrapRoot); err != nil {
		return err
	}

	if err := os.RemoveAll(staging); err != nil {
		return fmt.Errorf("remove staging directory: %w", err)
	}
	return nil
}

// writeEntry recreates one archive entry under the staging root.
// Entries whose paths cannot be safely resolved inside the root are
// skipped, guarding against path traversal.
func writeEntry(staging string, entry archives.FileInfo) error {
	name := filepath.FromSlash(entry.NameInArchive)
	if name == "" || !filepath.IsLocal(name) {
		return nil
	}
	dest := filepath.Join(staging, name)

	if entry.IsDir() {
		return os.MkdirAll(dest, 0755)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return fmt.Errorf("create parent directory: %w", err)
	}

	src, err := entry.Open()
	if err != nil {
		return fmt.Errorf("open archive entry %s: %w", entry.NameInArchive, err)
	}
	defer src.Close()

	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("create %s: %w", dest, err)
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		return fmt.Errorf("write %s: %w", entry.NameInArchive, err)
	}
	return out.Close()
}

// moveStaged moves the staged tree into targetDir, unwrapping a single
// root directory when asked to. Existing children of targetDir with
// colliding names are replaced, matching in-place extraction semantics.
func moveStaged(staging, targetDir string, unwrapRoot bool) error {
	entries, err := os.ReadDir(staging)
	if err != nil {
		return fmt.Errorf("read staging directory: %w", err)
	}

	srcRoot := staging
	if unwrapRoot && len(entries) == 1 && entries[0].IsDir() {
		// Exactly one subdirectory and no plain files: the archive
		// wraps its content one level deep, so move the wrapper's
		// children instead of the wrapper.
		srcRoot = filepath.Join(staging, entries[0].Name())
		if entries, err = os.ReadDir(srcRoot); err != nil {
			return fmt.Errorf("read wrapper directory: %w", err)
		}
	}

	if err := os.MkdirAll(targetDir, 0755); err != nil {
		return fmt.Errorf("create target directory: %w", err)
	}

	for _, e := range entries {
		from := filepath.Join(srcRoot, e.Name())
		to := filepath.Join(targetDir, e.Name())
		if _, err := os.Lstat(to); err == nil {
			if err := os.RemoveAll(to); err != nil {
				return fmt.Errorf("replace %s: %w", e.Name(), err)
			}
		}
		if err := os.Rename(from, to); err != nil {
			return fmt.Errorf("move %s into place: %w", e.Name(), err)
		}
	}
	return nil
}
