package replay

import (
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"ballarena/server/internal/logging"
)

func TestCleanerEnforcesMaxBundles(t *testing.T) {
	root := t.TempDir()
	now := time.Date(2024, 7, 15, 12, 0, 0, 0, time.UTC)
	seedBundle(t, root, "alpha", now.Add(-3*time.Hour), 64)
	seedBundle(t, root, "bravo", now.Add(-2*time.Hour), 32)
	seedBundle(t, root, "charlie", now.Add(-time.Hour), 48)

	cleaner := NewCleaner(root, RetentionPolicy{MaxBundles: 2}, logging.NewTestLogger())
	cleaner.now = func() time.Time { return now }
	cleaner.RunOnce()

	remaining := listBundles(t, root)
	if len(remaining) != 2 || remaining[0] != "bravo" || remaining[1] != "charlie" {
		t.Fatalf("unexpected retained bundles: %v", remaining)
	}
	stats := cleaner.Stats()
	if stats.Bundles != 2 || stats.Removed != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	//1.- Each seeded bundle carries a two-byte manifest next to its payload.
	if stats.Bytes != int64(48+32+2+2) {
		t.Fatalf("expected byte total 84, got %d", stats.Bytes)
	}
	if !stats.LastSweep.Equal(now) {
		t.Fatalf("expected last sweep %s, got %s", now, stats.LastSweep)
	}
}

func TestCleanerPrunesByAge(t *testing.T) {
	root := t.TempDir()
	now := time.Date(2024, 7, 16, 9, 0, 0, 0, time.UTC)
	seedBundle(t, root, "delta", now.Add(-48*time.Hour), 16)
	seedBundle(t, root, "echo", now.Add(-time.Hour), 8)

	cleaner := NewCleaner(root, RetentionPolicy{MaxAge: 36 * time.Hour, MaxBundles: 5}, logging.NewTestLogger())
	cleaner.now = func() time.Time { return now }
	cleaner.RunOnce()

	remaining := listBundles(t, root)
	if len(remaining) != 1 || remaining[0] != "echo" {
		t.Fatalf("expected only echo to remain, got %v", remaining)
	}
}

func TestCleanerKeepsActiveBundleAndForeignFiles(t *testing.T) {
	root := t.TempDir()
	now := time.Date(2024, 7, 16, 9, 0, 0, 0, time.UTC)
	active := seedBundle(t, root, "active", now.Add(-72*time.Hour), 4)
	seedBundle(t, root, "stale", now.Add(-72*time.Hour), 4)
	if err := os.Mkdir(filepath.Join(root, "scratch"), 0o755); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}

	cleaner := NewCleaner(root, RetentionPolicy{MaxAge: time.Hour}, logging.NewTestLogger())
	cleaner.now = func() time.Time { return now }
	cleaner.ProtectActive(func() string { return active })
	cleaner.RunOnce()

	remaining := listBundles(t, root)
	if len(remaining) != 2 || remaining[0] != "active" || remaining[1] != "scratch" {
		t.Fatalf("expected active bundle and unrelated directory to remain, got %v", remaining)
	}
}

func TestCleanerToleratesMissingDirectory(t *testing.T) {
	cleaner := NewCleaner(filepath.Join(t.TempDir(), "absent"), RetentionPolicy{MaxBundles: 1}, logging.NewTestLogger())
	cleaner.RunOnce()
	if stats := cleaner.Stats(); stats.Bundles != 0 || !stats.LastSweep.IsZero() {
		t.Fatalf("expected untouched stats, got %+v", stats)
	}
}

func seedBundle(t *testing.T, root, name string, mod time.Time, payload int) string {
	t.Helper()
	dir := filepath.Join(root, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	files := map[string][]byte{
		ManifestName: []byte("{}"),
		FramesName:   make([]byte, payload),
	}
	for file, data := range files {
		path := filepath.Join(dir, file)
		if err := os.WriteFile(path, data, 0o644); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}
		if err := os.Chtimes(path, mod, mod); err != nil {
			t.Fatalf("Chtimes: %v", err)
		}
	}
	if err := os.Chtimes(dir, mod, mod); err != nil {
		t.Fatalf("Chtimes dir: %v", err)
	}
	return dir
}

func listBundles(t *testing.T, root string) []string {
	t.Helper()
	entries, err := os.ReadDir(root)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	return names
}
