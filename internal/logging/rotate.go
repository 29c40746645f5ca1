package logging

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"

	"ballarena/server/internal/config"
)

// rotatingWriter appends to a single log file and rotates it once it grows past maxSize.
type rotatingWriter struct {
	mu         sync.Mutex
	path       string
	maxSize    int64
	maxBackups int
	maxAge     time.Duration
	compress   bool
	now        func() time.Time
	file       *os.File
	size       int64
}

func newRotatingWriter(cfg config.LoggingConfig) (*rotatingWriter, error) {
	if cfg.MaxSizeMB <= 0 {
		return nil, errors.New("ARENA_LOG_MAX_SIZE_MB must be positive")
	}
	if cfg.MaxBackups < 0 {
		return nil, errors.New("ARENA_LOG_MAX_BACKUPS must be non-negative")
	}
	if cfg.MaxAgeDays < 0 {
		return nil, errors.New("ARENA_LOG_MAX_AGE_DAYS must be non-negative")
	}
	writer := &rotatingWriter{
		path:       cfg.Path,
		maxSize:    int64(cfg.MaxSizeMB) * 1024 * 1024,
		maxBackups: cfg.MaxBackups,
		maxAge:     time.Duration(cfg.MaxAgeDays) * 24 * time.Hour,
		compress:   cfg.Compress,
		now:        time.Now,
	}
	if err := writer.open(os.O_APPEND); err != nil {
		return nil, err
	}
	return writer, nil
}

func (w *rotatingWriter) open(mode int) error {
	if dir := filepath.Dir(w.path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	file, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|mode, 0o644)
	if err != nil {
		return err
	}
	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return err
	}
	w.file = file
	w.size = info.Size()
	return nil
}

func (w *rotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.size > 0 && w.size+int64(len(p)) > w.maxSize {
		if err := w.rotateLocked(); err != nil {
			return 0, err
		}
	}
	n, err := w.file.Write(p)
	w.size += int64(n)
	return n, err
}

func (w *rotatingWriter) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	return w.file.Sync()
}

func (w *rotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}

func (w *rotatingWriter) rotateLocked() error {
	if w.file == nil {
		return errors.New("log file not initialised")
	}
	if err := w.file.Close(); err != nil {
		return err
	}
	//1.- Park the full file under a timestamped name and optionally gzip it.
	rotated := fmt.Sprintf("%s.%s", w.path, w.now().UTC().Format("20060102T150405.000000000"))
	if err := os.Rename(w.path, rotated); err != nil {
		return err
	}
	if w.compress {
		if err := gzipFile(rotated, rotated+".gz"); err == nil {
			_ = os.Remove(rotated)
		}
	}
	//2.- Enforce retention before reopening so disk usage stays bounded.
	w.pruneLocked()
	return w.open(os.O_TRUNC)
}

func (w *rotatingWriter) pruneLocked() {
	dir := filepath.Dir(w.path)
	prefix := filepath.Base(w.path) + "."
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	type backup struct {
		path string
		mod  time.Time
	}
	backups := make([]backup, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), prefix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		backups = append(backups, backup{path: filepath.Join(dir, entry.Name()), mod: info.ModTime()})
	}
	sort.Slice(backups, func(i, j int) bool {
		if backups[i].mod.Equal(backups[j].mod) {
			return backups[i].path > backups[j].path
		}
		return backups[i].mod.After(backups[j].mod)
	})
	cutoff := time.Time{}
	if w.maxAge > 0 {
		cutoff = w.now().Add(-w.maxAge)
	}
	for idx, b := range backups {
		expired := !cutoff.IsZero() && b.mod.Before(cutoff)
		surplus := w.maxBackups > 0 && idx >= w.maxBackups
		if expired || surplus {
			_ = os.Remove(b.path)
		}
	}
}

func gzipFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	gz := gzip.NewWriter(out)
	if _, err := io.Copy(gz, in); err != nil {
		_ = gz.Close()
		_ = out.Close()
		return err
	}
	if err := gz.Close(); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
