// Package storage implements the agent's named, opaque key → blob
// store (spec §4.A). It keeps the teacher's choice of engine — bbolt,
// as in cuemby/warren's pkg/storage/boltdb.go — but repurposes it:
// instead of one bucket per cluster resource type, each Store owns one
// bolt file for one directory (an agent's vardir, or a target's private
// subdirectory) and stores arbitrary named blobs in it. A bolt
// transaction gives the same "durable against crash mid-write"
// guarantee the spec asks of a temp-file-then-rename save, without
// reimplementing that dance by hand.
package storage

import (
	"bytes"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketBlobs = []byte("blobs")
	bucketMeta  = []byte("meta")
)

// Store is a single directory's blob store, file name "store.dump".
type Store struct {
	dir string

	mu  sync.Mutex
	db  *bolt.DB
	err error // last save error, returned by LastError

	lastAttempt map[string]time.Time
	observed    map[string]time.Time // mtimes last seen by this process, for Modified()
}

// Option configures Open.
type Option func(*openConfig)

type openConfig struct {
	oldVarDir string
}

// WithOldVarDir requests a one-time migration from a legacy directory
// (symlinks are skipped, never followed; the old directory and its
// subdirectories are pruned once the migration leaves them empty).
func WithOldVarDir(old string) Option {
	return func(c *openConfig) { c.oldVarDir = old }
}

// Open opens (creating if absent) the blob store rooted at dir.
func Open(dir string, opts ...Option) (*Store, error) {
	cfg := &openConfig{}
	for _, o := range opts {
		o(cfg)
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("storage: create %s: %w", dir, err)
	}

	db, err := openBoltCreatingBuckets(filepath.Join(dir, "store.dump"))
	if err != nil {
		return nil, err
	}

	s := &Store{
		dir:         dir,
		db:          db,
		lastAttempt: make(map[string]time.Time),
		observed:    make(map[string]time.Time),
	}

	if cfg.oldVarDir != "" {
		if err := s.migrateFrom(cfg.oldVarDir); err != nil {
			return nil, fmt.Errorf("storage: migrate from %s: %w", cfg.oldVarDir, err)
		}
	}

	return s, nil
}

// openBoltCreatingBuckets opens path as a bolt DB, removing and
// recreating it if it is corrupt (spec: "corrupt file is removed and
// nil returned" on restore — applied here at open time so every
// subsequent call sees a usable, if empty, store).
func openBoltCreatingBuckets(path string) (*bolt.DB, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		_ = os.Remove(path)
		db, err = bolt.Open(path, 0600, &bolt.Options{Timeout: 2 * time.Second})
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", path, err)
		}
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketBlobs); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bucketMeta)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// Save atomically writes blob under name. On failure the error and the
// attempt time are recorded (see LastError); a later Save is attempted
// in full whatever the time since the last failure.
func (s *Store) Save(name string, blob []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	err := s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketBlobs).Put([]byte(name), blob); err != nil {
			return err
		}
		return tx.Bucket(bucketMeta).Put([]byte(name), []byte(now.UTC().Format(time.RFC3339Nano)))
	})
	if err != nil {
		s.err = err
		s.lastAttempt[name] = now
		return fmt.Errorf("storage: save %s: %w", name, err)
	}
	s.err = nil
	s.observed[name] = now
	return nil
}

// Restore returns the blob stored under name, or nil if absent.
func (s *Store) Restore(name string) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []byte
	_ = s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketBlobs).Get([]byte(name))
		if v != nil {
			out = bytes.Clone(v)
		}
		return nil
	})
	if out != nil {
		s.observed[name] = s.metaTimeLocked(name)
	}
	return out
}

// Has reports whether name exists.
func (s *Store) Has(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	var found bool
	_ = s.db.View(func(tx *bolt.Tx) error {
		found = tx.Bucket(bucketBlobs).Get([]byte(name)) != nil
		return nil
	})
	return found
}

// Remove deletes name; removing an absent key is not an error.
func (s *Store) Remove(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketBlobs).Delete([]byte(name)); err != nil {
			return err
		}
		return tx.Bucket(bucketMeta).Delete([]byte(name))
	})
	delete(s.observed, name)
	if err != nil {
		return fmt.Errorf("storage: remove %s: %w", name, err)
	}
	return nil
}

// Modified reports whether name's stored timestamp is newer than the
// last time this process observed it via Save or Restore.
func (s *Store) Modified(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.metaTimeLocked(name)
	if current.IsZero() {
		return false
	}
	last, ok := s.observed[name]
	if !ok {
		return true
	}
	return current.After(last)
}

func (s *Store) metaTimeLocked(name string) time.Time {
	var t time.Time
	_ = s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketMeta).Get([]byte(name))
		if v == nil {
			return nil
		}
		parsed, err := time.Parse(time.RFC3339Nano, string(v))
		if err == nil {
			t = parsed
		}
		return nil
	})
	return t
}

// LastError returns the error from the most recent failed Save, if any.
func (s *Store) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close closes the underlying bolt file.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// migrateFrom imports every "<name>.dump" flat file found under old
// (the legacy one-file-per-key layout) plus any nested subdirectory of
// the same shape, one time. Symlinks are never followed and are
// removed outright; directories left empty afterwards are pruned.
func (s *Store) migrateFrom(old string) error {
	if _, err := os.Stat(old); os.IsNotExist(err) {
		return nil
	}

	var dirs []string
	err := filepath.WalkDir(old, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type()&fs.ModeSymlink != 0 {
			_ = os.Remove(path)
			return nil
		}
		if d.IsDir() {
			dirs = append(dirs, path)
			return nil
		}
		if filepath.Ext(path) != ".dump" {
			return nil
		}
		blob, err := os.ReadFile(path)
		if err != nil {
			return nil // skip unreadable legacy file, not fatal to migration
		}
		name := filepath.Base(path)
		name = name[:len(name)-len(".dump")]
		if err := s.Save(name, blob); err != nil {
			return err
		}
		return os.Remove(path)
	})
	if err != nil {
		return err
	}
	// Deepest directories first; os.Remove leaves non-empty ones alone.
	for i := len(dirs) - 1; i >= 0; i-- {
		_ = os.Remove(dirs[i])
	}
	return nil
}
