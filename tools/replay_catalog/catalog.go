package replaycatalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"ballarena/server/internal/replay"
)

// Entry describes one bundle directory. Sealed is false while the arena is
// still writing to it.
type Entry struct {
	BundlePath   string         `json:"bundle_path"`
	ManifestPath string         `json:"manifest_path"`
	Sealed       bool           `json:"sealed"`
	Header       *replay.Header `json:"header,omitempty"`
}

// List walks root and returns every bundle ordered by arena id then path.
func List(root string) ([]Entry, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("root directory must be provided")
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root must be a directory")
	}

	var entries []Entry
	//1.- A bundle is any directory holding a manifest; the header appears once sealed.
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || d.Name() != replay.ManifestName {
			return nil
		}
		dir := filepath.Dir(path)
		entry := Entry{BundlePath: dir, ManifestPath: path}
		header, err := replay.ReadHeader(filepath.Join(dir, replay.HeaderName))
		switch {
		case err == nil:
			entry.Sealed = true
			entry.Header = &header
		case errors.Is(err, fs.ErrNotExist):
		default:
			return fmt.Errorf("%s: %w", dir, err)
		}
		entries = append(entries, entry)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool {
		a, b := arenaOf(entries[i]), arenaOf(entries[j])
		if a == b {
			return entries[i].BundlePath < entries[j].BundlePath
		}
		return a < b
	})
	return entries, nil
}

func arenaOf(entry Entry) string {
	if entry.Header == nil {
		return ""
	}
	return entry.Header.ArenaID
}

// MarshalEntries produces a stable JSON representation of the entries for CLI output.
func MarshalEntries(entries []Entry) ([]byte, error) {
	return json.MarshalIndent(entries, "", "  ")
}
