// Package log provides the agent's structured, multi-sink logger.
//
// It wraps zerolog the way cuemby/warren's pkg/log does (a package-global
// Logger, component-scoped children via With), extended with the sinks
// the collection agent actually needs: console, a size-rotated file, and
// syslog.
package log

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Level mirrors the agent's --debug repeat-count semantics: 0 is info;
// 1 and 2 both select zerolog's debug level, so 2 logs nothing beyond 1.
type Level int

const (
	LevelInfo Level = iota
	LevelDebug1
	LevelDebug2
)

func (l Level) zerolog() zerolog.Level {
	if l <= LevelInfo {
		return zerolog.InfoLevel
	}
	return zerolog.DebugLevel
}

// FileConfig configures the rotating file sink.
type FileConfig struct {
	Path      string
	MaxSizeMB int // 0 disables rotation (file grows unbounded)
}

// Config configures Init. Backend selection mirrors the "logger"
// config option (comma-separated list of stderr/file/syslog).
type Config struct {
	Level   Level
	Console bool
	File    *FileConfig
	Syslog  bool
	Color   bool
}

var (
	// Logger is the process-wide logger. Init builds the new writer and
	// replaces Logger while holding mu; WithComponent and WithTarget
	// read Logger without taking mu.
	Logger zerolog.Logger
	mu     sync.Mutex
	closer io.Closer
)

func init() {
	Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
}

// Init (re)configures the global Logger. Safe to call more than once,
// e.g. on a config reload (§4.B conf-reload-interval); the previous
// file sink, if any, is closed before the new one opens.
func Init(cfg Config) error {
	mu.Lock()
	defer mu.Unlock()

	var writers []io.Writer

	if cfg.Console || (cfg.File == nil && !cfg.Syslog) {
		writers = append(writers, zerolog.ConsoleWriter{Out: os.Stderr, NoColor: !cfg.Color, TimeFormat: time.RFC3339})
	}

	if closer != nil {
		_ = closer.Close()
		closer = nil
	}

	if cfg.File != nil && cfg.File.Path != "" {
		rw, err := newRotatingWriter(cfg.File.Path, cfg.File.MaxSizeMB)
		if err != nil {
			return fmt.Errorf("log: open file sink: %w", err)
		}
		writers = append(writers, rw)
		closer = rw
	}

	if cfg.Syslog {
		sw, err := newSyslogWriter()
		if err != nil {
			return fmt.Errorf("log: open syslog sink: %w", err)
		}
		writers = append(writers, sw)
	}

	if len(writers) == 0 {
		writers = append(writers, os.Stderr)
	}

	zerolog.SetGlobalLevel(cfg.Level.zerolog())
	Logger = zerolog.New(zerolog.MultiLevelWriter(writers...)).With().Timestamp().Logger()
	return nil
}

// WithComponent creates a child logger tagged with a component field,
// mirroring the teacher's WithComponent/WithNodeID helpers.
func WithComponent(component string) *zerolog.Logger {
	l := Logger.With().Str("component", component).Logger()
	return &l
}

// WithTarget creates a child logger tagged with the target id.
func WithTarget(targetID string) *zerolog.Logger {
	l := Logger.With().Str("target", targetID).Logger()
	return &l
}

// rotatingWriter is a minimal size-based rotator: once the file exceeds
// MaxSizeMB it is renamed to "<path>.<timestamp>" and a fresh file is
// opened. No third-party rotation library appears anywhere in the
// retrieved example corpus, so this is hand-rolled; see DESIGN.md.
type rotatingWriter struct {
	mu      sync.Mutex
	path    string
	maxSize int64
	f       *os.File
	size    int64
}

func newRotatingWriter(path string, maxSizeMB int) (*rotatingWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
	if err != nil {
		return nil, err
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	return &rotatingWriter{
		path:    path,
		maxSize: int64(maxSizeMB) * 1024 * 1024,
		f:       f,
		size:    fi.Size(),
	}, nil
}

func (w *rotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.maxSize > 0 && w.size+int64(len(p)) > w.maxSize {
		if err := w.rotateLocked(); err != nil {
			return 0, err
		}
	}
	n, err := w.f.Write(p)
	w.size += int64(n)
	return n, err
}

func (w *rotatingWriter) rotateLocked() error {
	if err := w.f.Close(); err != nil {
		return err
	}
	backup := w.path + "." + time.Now().Format("20060102-150405")
	if err := os.Rename(w.path, backup); err != nil && !os.IsNotExist(err) {
		return err
	}
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
	if err != nil {
		return err
	}
	w.f = f
	w.size = 0
	return nil
}

func (w *rotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.f.Close()
}
