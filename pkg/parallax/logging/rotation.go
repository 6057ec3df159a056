package logging

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"
)

// Rotation defaults. Retention matches the history store's.
const (
	DefaultMaxSize    = 10 << 20
	DefaultMaxAge     = 30
	DefaultMaxBackups = 5
)

// backupStamp sorts lexically in time order.
const backupStamp = "20060102T150405.000000"

// RotationConfig controls when the parallax log is rolled over.
type RotationConfig struct {
	// MaxSize is the size in bytes that triggers rotation. Zero uses DefaultMaxSize.
	MaxSize int64
	// MaxAge is how many days rotated logs are kept. Zero keeps them.
	MaxAge int
	// MaxBackups is how many rotated logs are kept. Zero keeps all.
	MaxBackups int
	// Daily also rolls the log over on its first write of a new day.
	Daily bool
}

// DefaultRotationConfig returns the rotation used when nothing is configured.
func DefaultRotationConfig() RotationConfig {
	return RotationConfig{
		MaxSize:    DefaultMaxSize,
		MaxAge:     DefaultMaxAge,
		MaxBackups: DefaultMaxBackups,
	}
}

// RotatingWriter appends to a log file shared by every parallax process on
// the machine. Each write holds an advisory lock on the file. A writer whose
// file was renamed by another process follows the path to the new file
// instead of rotating a second time.
type RotatingWriter struct {
	path string
	cfg  RotationConfig

	mu   sync.Mutex
	file *os.File
}

// NewRotatingWriter opens path for appending, creating parent directories.
func NewRotatingWriter(path string, cfg RotationConfig) (*RotatingWriter, error) {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = DefaultMaxSize
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating log directory: %w", err)
	}

	w := &RotatingWriter{path: path, cfg: cfg}
	if err := w.open(); err != nil {
		return nil, err
	}
	w.prune()
	return w, nil
}

// Write appends p, rotating first when p would push the file past MaxSize
// or the file was last written on an earlier day.
func (w *RotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return 0, os.ErrClosed
	}
	if err := w.lockCurrent(); err != nil {
		return 0, err
	}
	if w.due(int64(len(p))) {
		if err := w.rotate(); err != nil {
			return 0, fmt.Errorf("rotating log file: %w", err)
		}
	}

	n, err := w.file.Write(p)
	unlockFile(w.file)
	return n, err
}

// Close flushes and closes the file. Closing twice is a no-op.
func (w *RotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return nil
	}
	f := w.file
	w.file = nil
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func (w *RotatingWriter) open() error {
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}
	w.file = f
	return nil
}

// lockCurrent locks the file currently at w.path, reopening when another
// process renamed the one this writer holds.
func (w *RotatingWriter) lockCurrent() error {
	for range 3 {
		if err := lockFile(w.file); err != nil {
			return fmt.Errorf("acquiring file lock: %w", err)
		}
		if w.current() {
			return nil
		}
		unlockFile(w.file)
		_ = w.file.Close()
		if err := w.open(); err != nil {
			w.file = nil
			return err
		}
	}
	// Still losing to other rotators; append to whatever we hold.
	if err := lockFile(w.file); err != nil {
		return fmt.Errorf("acquiring file lock: %w", err)
	}
	return nil
}

func (w *RotatingWriter) current() bool {
	held, err := w.file.Stat()
	if err != nil {
		return true
	}
	onDisk, err := os.Stat(w.path)
	if err != nil {
		return false
	}
	return os.SameFile(held, onDisk)
}

// due reports whether appending next bytes should rotate first. It reads the
// size from the file since other processes append to it too.
func (w *RotatingWriter) due(next int64) bool {
	info, err := w.file.Stat()
	if err != nil || info.Size() == 0 {
		return false
	}
	if info.Size()+next > w.cfg.MaxSize {
		return true
	}
	if w.cfg.Daily {
		y1, m1, d1 := info.ModTime().Date()
		y2, m2, d2 := time.Now().Date()
		return y1 != y2 || m1 != m2 || d1 != d2
	}
	return false
}

// rotate renames the locked file aside and leaves the writer holding a lock
// on a fresh file at w.path.
func (w *RotatingWriter) rotate() error {
	old := w.file
	renameErr := os.Rename(w.path, backupName(w.path, time.Now()))
	if renameErr != nil && !errors.Is(renameErr, fs.ErrNotExist) {
		unlockFile(old)
		return fmt.Errorf("renaming log file: %w", renameErr)
	}

	openErr := w.open()
	unlockFile(old)
	_ = old.Close()
	if openErr != nil {
		w.file = nil
		return openErr
	}
	if err := lockFile(w.file); err != nil {
		return fmt.Errorf("acquiring file lock: %w", err)
	}
	w.prune()
	return nil
}

// prune removes rotated logs beyond MaxBackups or older than MaxAge.
func (w *RotatingWriter) prune() {
	cutoff := time.Now().AddDate(0, 0, -w.cfg.MaxAge)
	for i, b := range backupsOf(w.path) {
		tooMany := w.cfg.MaxBackups > 0 && i >= w.cfg.MaxBackups
		tooOld := w.cfg.MaxAge > 0 && b.rotatedAt.Before(cutoff)
		if tooMany || tooOld {
			_ = os.Remove(b.path)
		}
	}
}

type backup struct {
	path      string
	rotatedAt time.Time
}

// backupName turns parallax.log into parallax-20261016T150405.000000.log.
func backupName(path string, at time.Time) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + "-" + at.Format(backupStamp) + ext
}

// backupsOf lists the rotated logs of path, newest first. Files whose
// stamp does not parse belong to someone else and are skipped.
func backupsOf(path string) []backup {
	dir := filepath.Dir(path)
	ext := filepath.Ext(path)
	prefix := strings.TrimSuffix(filepath.Base(path), ext) + "-"

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var out []backup
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ext) {
			continue
		}
		stamp := strings.TrimSuffix(strings.TrimPrefix(name, prefix), ext)
		at, err := time.ParseInLocation(backupStamp, stamp, time.Local)
		if err != nil {
			continue
		}
		out = append(out, backup{path: filepath.Join(dir, name), rotatedAt: at})
	}
	slices.SortFunc(out, func(a, b backup) int { return b.rotatedAt.Compare(a.rotatedAt) })
	return out
}
