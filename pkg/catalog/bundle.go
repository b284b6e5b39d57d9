package catalog

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// bundleFileName is the verbatim copy of the uploaded blob kept inside each
// version directory. Downloads serve this file so the bytes a player gets
// are exactly the bytes the developer sent, regardless of how the archive
// was built.
const bundleFileName = "bundle.zip"

// writeBundle stores the blob at <dir>/bundle.zip and extracts the archive's
// entries next to it so a spawned game server can run from the directory.
func writeBundle(dir string, blob []byte) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("catalog: create bundle dir %s: %w", dir, err)
	}
	if err := os.WriteFile(filepath.Join(dir, bundleFileName), blob, 0644); err != nil {
		return fmt.Errorf("catalog: write bundle blob: %w", err)
	}
	if err := extractZip(dir, blob); err != nil {
		return err
	}
	return nil
}

// readBundle returns the stored blob for a version directory.
func readBundle(dir string) ([]byte, error) {
	blob, err := os.ReadFile(filepath.Join(dir, bundleFileName))
	if err != nil {
		return nil, fmt.Errorf("catalog: read bundle blob: %w", err)
	}
	return blob, nil
}

// extractZip unpacks archive entries under dir. Entries that would escape
// the directory are rejected.
func extractZip(dir string, blob []byte) error {
	zr, err := zip.NewReader(bytes.NewReader(blob), int64(len(blob)))
	if err != nil {
		return fmt.Errorf("catalog: open bundle archive: %w", err)
	}

	for _, f := range zr.File {
		name := filepath.FromSlash(f.Name)
		if strings.Contains(name, "..") || filepath.IsAbs(name) {
			return fmt.Errorf("catalog: bundle entry %q escapes the bundle directory", f.Name)
		}
		dest := filepath.Join(dir, name)

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(dest, 0755); err != nil {
				return fmt.Errorf("catalog: extract dir %s: %w", dest, err)
			}
			continue
		}

		if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
			return fmt.Errorf("catalog: extract mkdir %s: %w", dest, err)
		}
		rc, err := f.Open()
		if err != nil {
			return fmt.Errorf("catalog: extract open %s: %w", f.Name, err)
		}
		out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, f.Mode().Perm()|0600)
		if err != nil {
			rc.Close()
			return fmt.Errorf("catalog: extract create %s: %w", dest, err)
		}
		_, err = io.Copy(out, rc)
		rc.Close()
		if cerr := out.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return fmt.Errorf("catalog: extract write %s: %w", dest, err)
		}
	}
	return nil
}
