package logger

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"
)

const backupTimeFormat = "20060102T150405.000"

// RotationConfig controls how a log file is rolled over.
type RotationConfig struct {
	Path       string
	MaxBytes   int64         // 0 never rotates on size
	MaxAge     time.Duration // 0 keeps backups regardless of age
	MaxBackups int           // 0 keeps every backup
	Compress   bool
}

// RotatingWriter appends to Path and moves it aside as
// <stem>-<timestamp><ext> once MaxBytes would be exceeded. Compression and
// pruning of backups run in the background; Close waits for them.
type RotatingWriter struct {
	cfg RotationConfig

	mu   sync.Mutex
	file *os.File
	size int64

	bg sync.WaitGroup
}

// OpenRotating opens (or creates) cfg.Path for appending and prunes stale
// backups.
func OpenRotating(cfg RotationConfig) (*RotatingWriter, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	w := &RotatingWriter{cfg: cfg}
	if err := w.openCurrent(); err != nil {
		return nil, err
	}
	w.background(func() { w.prune(time.Now()) })
	return w, nil
}

func (w *RotatingWriter) openCurrent() error {
	f, err := os.OpenFile(w.cfg.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("failed to stat log file: %w", err)
	}
	w.file, w.size = f, info.Size()
	return nil
}

func (w *RotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return 0, os.ErrClosed
	}
	if w.cfg.MaxBytes > 0 && w.size > 0 && w.size+int64(len(p)) > w.cfg.MaxBytes {
		if err := w.rotate(time.Now()); err != nil {
			return 0, err
		}
	}
	n, err := w.file.Write(p)
	w.size += int64(n)
	return n, err
}

// Close closes the current file and waits for pending compression.
func (w *RotatingWriter) Close() error {
	w.mu.Lock()
	var err error
	if w.file != nil {
		err = w.file.Close()
		w.file = nil
	}
	w.mu.Unlock()
	w.bg.Wait()
	return err
}

// backupName maps memcore.log to memcore-<ts>.log in the same directory.
func (w *RotatingWriter) backupName(now time.Time) string {
	ext := filepath.Ext(w.cfg.Path)
	stem := strings.TrimSuffix(w.cfg.Path, ext)
	return stem + "-" + now.Format(backupTimeFormat) + ext
}

// rotate must be called with mu held.
func (w *RotatingWriter) rotate(now time.Time) error {
	if err := w.file.Close(); err != nil {
		return err
	}
	backup := w.backupName(now)
	renameErr := os.Rename(w.cfg.Path, backup)
	// The live file is reopened even when the rename failed so logging
	// continues in the oversized file.
	if err := w.openCurrent(); err != nil {
		w.file = nil
		return err
	}
	if renameErr != nil {
		return renameErr
	}
	w.size = 0

	w.background(func() {
		if w.cfg.Compress {
			_ = gzipFile(backup)
		}
		w.prune(now)
	})
	return nil
}

func (w *RotatingWriter) background(fn func()) {
	w.bg.Add(1)
	go func() {
		defer w.bg.Done()
		fn()
	}()
}

type backupFile struct {
	path string
	at   time.Time
}

// backups lists rotated files for Path, newest first. The timestamp is
// read from the name, not the mtime.
func (w *RotatingWriter) backups() []backupFile {
	ext := filepath.Ext(w.cfg.Path)
	stem := strings.TrimSuffix(w.cfg.Path, ext)
	matches, err := filepath.Glob(stem + "-*" + ext + "*")
	if err != nil {
		return nil
	}
	var out []backupFile
	for _, m := range matches {
		ts := strings.TrimPrefix(m, stem+"-")
		ts = strings.TrimSuffix(strings.TrimSuffix(ts, ".gz"), ext)
		at, err := time.ParseInLocation(backupTimeFormat, ts, time.Local)
		if err != nil {
			continue
		}
		out = append(out, backupFile{path: m, at: at})
	}
	slices.SortFunc(out, func(a, b backupFile) int { return b.at.Compare(a.at) })
	return out
}

// prune removes backups beyond MaxBackups or older than MaxAge.
func (w *RotatingWriter) prune(now time.Time) {
	for i, b := range w.backups() {
		tooMany := w.cfg.MaxBackups > 0 && i >= w.cfg.MaxBackups
		tooOld := w.cfg.MaxAge > 0 && now.Sub(b.at) > w.cfg.MaxAge
		if tooMany || tooOld {
			_ = os.Remove(b.path)
		}
	}
}

// gzipFile replaces path with path.gz.
func gzipFile(path string) error {
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.Create(path + ".gz")
	if err != nil {
		return err
	}
	zw := gzip.NewWriter(dst)
	if _, err := io.Copy(zw, src); err != nil {
		dst.Close()
		os.Remove(path + ".gz")
		return err
	}
	if err := zw.Close(); err != nil {
		dst.Close()
		return err
	}
	if err := dst.Close(); err != nil {
		return err
	}
	return os.Remove(path)
}
