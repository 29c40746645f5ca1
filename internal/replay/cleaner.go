package replay

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"ballarena/server/internal/logging"
)

// RetentionPolicy defines how many replay bundles are retained on disk.
type RetentionPolicy struct {
	MaxBundles int
	MaxAge     time.Duration
}

// StorageStats summarises the disk footprint of persisted replays.
type StorageStats struct {
	Bundles   int
	Bytes     int64
	Removed   int64
	LastSweep time.Time
}

// Cleaner periodically prunes replay bundles according to a retention policy.
type Cleaner struct {
	mu     sync.RWMutex
	dir    string
	policy RetentionPolicy
	log    *logging.Logger
	now    func() time.Time
	active func() string
	stats  StorageStats
}

// NewCleaner constructs a cleaner for the provided replay directory.
func NewCleaner(dir string, policy RetentionPolicy, logger *logging.Logger) *Cleaner {
	if logger == nil {
		logger = logging.L()
	}
	return &Cleaner{dir: dir, policy: policy, log: logger, now: time.Now}
}

// ProtectActive excludes the bundle named by active from every sweep.
func (c *Cleaner) ProtectActive(active func() string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.active = active
	c.mu.Unlock()
}

// Run executes retention sweeps until the context is cancelled.
func (c *Cleaner) Run(ctx context.Context, interval time.Duration) {
	if c == nil || ctx == nil {
		return
	}
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	//1.- Sweep eagerly so retention applies on startup.
	c.sweep()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.sweep()
		}
	}
}

// RunOnce performs a single retention sweep.
func (c *Cleaner) RunOnce() {
	if c == nil {
		return
	}
	c.sweep()
}

// Stats returns the last recorded storage statistics.
func (c *Cleaner) Stats() StorageStats {
	if c == nil {
		return StorageStats{}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stats
}

type bundle struct {
	name    string
	path    string
	size    int64
	modTime time.Time
}

func (c *Cleaner) sweep() {
	if c == nil || strings.TrimSpace(c.dir) == "" {
		return
	}
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		c.log.Warn("replay retention scan failed", logging.Error(err), logging.String("directory", c.dir))
		return
	}
	c.mu.RLock()
	activeFn := c.active
	removed := c.stats.Removed
	c.mu.RUnlock()
	active := ""
	if activeFn != nil {
		active = filepath.Clean(activeFn())
	}

	now := c.now()
	stats := StorageStats{LastSweep: now, Removed: removed}
	kept := 0
	for _, b := range c.collect(entries) {
		if b.path == active {
			kept++
			stats.Bundles++
			stats.Bytes += b.size
			continue
		}
		if remove, reason := c.shouldRemove(b, now, kept); remove {
			if err := os.RemoveAll(b.path); err != nil {
				c.log.Warn("replay retention removal failed", logging.Error(err), logging.String("bundle", b.name))
			} else {
				c.log.Info("replay retention removed bundle", logging.String("bundle", b.name), logging.String("reason", reason))
				stats.Removed++
				continue
			}
		}
		kept++
		stats.Bundles++
		stats.Bytes += b.size
	}
	c.mu.Lock()
	c.stats = stats
	c.mu.Unlock()
}

// collect returns bundle directories newest first. Anything without a
// manifest is left alone.
func (c *Cleaner) collect(entries []os.DirEntry) []bundle {
	list := make([]bundle, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(c.dir, entry.Name())
		if _, err := os.Stat(filepath.Join(path, ManifestName)); err != nil {
			continue
		}
		size, latest, err := directoryUsage(path)
		if err != nil {
			c.log.Warn("replay retention size failed", logging.Error(err), logging.String("path", path))
			continue
		}
		list = append(list, bundle{name: entry.Name(), path: filepath.Clean(path), size: size, modTime: latest})
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].modTime.Equal(list[j].modTime) {
			return list[i].name > list[j].name
		}
		return list[i].modTime.After(list[j].modTime)
	})
	return list
}

func (c *Cleaner) shouldRemove(b bundle, now time.Time, kept int) (bool, string) {
	reasons := make([]string, 0, 2)
	if c.policy.MaxAge > 0 && now.Sub(b.modTime) > c.policy.MaxAge {
		reasons = append(reasons, fmt.Sprintf("age>%s", c.policy.MaxAge))
	}
	if c.policy.MaxBundles > 0 && kept >= c.policy.MaxBundles {
		reasons = append(reasons, fmt.Sprintf(">=%d bundles", c.policy.MaxBundles))
	}
	return len(reasons) > 0, strings.Join(reasons, ", ")
}

// directoryUsage sums file sizes and finds the newest modification inside root.
func directoryUsage(root string) (int64, time.Time, error) {
	var total int64
	var latest time.Time
	err := filepath.WalkDir(root, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.ModTime().After(latest) {
			latest = info.ModTime()
		}
		if !d.IsDir() {
			total += info.Size()
		}
		return nil
	})
	return total, latest, err
}
