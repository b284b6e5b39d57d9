package catalog

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
)

// loadJSON reads a JSON document into dst. A missing file leaves dst at its
// zero value; a corrupt file is logged and treated as missing rather than
// taking the server down.
func loadJSON(path string, dst interface{}) error {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("catalog: read %s: %w", path, err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		log.Printf("[Store] Error loading %s: %v", path, err)
		return nil
	}
	return nil
}

// saveJSON writes a JSON document atomically: marshal, write to a temp file
// in the same directory, then rename over the target. A failed write removes
// the temp file so a partial document is never observable.
func saveJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("catalog: encode %s: %w", path, err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("catalog: mkdir for %s: %w", path, err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("catalog: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("catalog: rename %s: %w", path, err)
	}
	return nil
}
