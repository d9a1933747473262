// Package store provides the FileStore: filesystem access to a directory of
// JSON documents, scoped to one root.
//
// Every document is a single file directly under the root, named by its
// document.ID. The store holds no state between calls beyond per-id write
// locks; the filesystem is the only source of truth.
//
// Writes go through a temporary file in the root followed by a rename (or a
// hard link for creates), so a concurrent reader sees either the old bytes or
// the new bytes and never a partial file.
package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/nekokan/musicwa/internal/document"
	"github.com/nekokan/musicwa/internal/jsonvalue"
)

// Config holds store configuration.
type Config struct {
	// FileMode is the permission of written documents (default: 0644).
	FileMode os.FileMode

	// Logger for store activity (default: stderr logger).
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		FileMode: 0644,
		Logger:   log.New(os.Stderr, "[store] ", log.LstdFlags),
	}
}

// Info is file metadata for one document.
type Info struct {
	ID      document.ID
	Size    int64
	ModTime time.Time
}

// Store is a FileStore rooted at one directory.
type Store struct {
	root   string
	config *Config

	// locks holds one mutex per document id with a write in progress.
	// Writes to the same id are serialized from fingerprint check to
	// rename; different ids never contend. An entry is dropped when its
	// last holder unlocks.
	locksMu sync.Mutex
	locks   map[document.ID]*idLock

	// beforeCommit runs after the temporary file is complete and before it
	// is moved into place. Tests use it to simulate a crash mid-write.
	beforeCommit func(tmpPath string) error
}

// New opens the store rooted at root. The directory must exist.
func New(root string, config *Config) (*Store, error) {
	if root == "" {
		return nil, fmt.Errorf("root cannot be empty")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[store] ", log.LstdFlags)
	}
	if config.FileMode == 0 {
		config.FileMode = 0644
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve root %s: %w", root, err)
	}
	// The root itself may be a symlink; documents below it may not.
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to resolve root %s: %v", document.ErrIO, root, err)
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to stat root %s: %v", document.ErrIO, root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: root %s is not a directory", document.ErrIO, root)
	}

	return &Store{root: resolved, config: config, locks: make(map[document.ID]*idLock)}, nil
}

// Root returns the absolute store root.
func (s *Store) Root() string {
	return s.root
}

// Path resolves id to its absolute file path. It fails with ErrPathUnsafe if
// the id would resolve anywhere other than directly inside the root.
func (s *Store) Path(id document.ID) (string, error) {
	if err := id.Validate(); err != nil {
		return "", err
	}
	path := filepath.Join(s.root, string(id))
	rel, err := filepath.Rel(s.root, path)
	if err != nil || rel != string(id) || filepath.Dir(path) != s.root {
		return "", fmt.Errorf("%w: id %q escapes the store root", document.ErrPathUnsafe, id)
	}
	return path, nil
}

// ID returns the document id for an absolute path inside the root, or false
// if the path is not a document in this store.
func (s *Store) ID(path string) (document.ID, bool) {
	if filepath.Dir(path) != s.root {
		return "", false
	}
	id := document.ID(filepath.Base(path))
	if id.Validate() != nil {
		return "", false
	}
	return id, true
}

// List enumerates documents directly under the root, sorted by id.
// Hidden files, directories, symlinks and files without the document
// extension are skipped. An empty root yields an empty listing.
func (s *Store) List(ctx context.Context) (document.Listing, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read store root: %v", document.ErrIO, err)
	}

	listing := document.Listing{}
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		id := document.ID(entry.Name())
		if id.Validate() != nil {
			continue
		}
		listing = append(listing, document.NewEntry(id))
	}
	// os.ReadDir already sorts by file name.
	return listing, nil
}

// Stat returns file metadata for id without reading its content.
func (s *Store) Stat(ctx context.Context, id document.ID) (Info, error) {
	if err := checkContext(ctx); err != nil {
		return Info{}, err
	}
	path, err := s.Path(id)
	if err != nil {
		return Info{}, err
	}
	info, err := lstatDocument(id, path)
	if err != nil {
		return Info{}, err
	}
	return Info{ID: id, Size: info.Size(), ModTime: info.ModTime()}, nil
}

// ReadRaw returns the raw bytes of id and their fingerprint. The bytes are
// not checked for JSON validity.
func (s *Store) ReadRaw(ctx context.Context, id document.ID) ([]byte, document.Fingerprint, error) {
	if err := checkContext(ctx); err != nil {
		return nil, "", err
	}
	path, err := s.Path(id)
	if err != nil {
		return nil, "", err
	}
	return readDocument(id, path)
}

// Read returns the parsed content of id and its current fingerprint.
func (s *Store) Read(ctx context.Context, id document.ID) (*document.Record, error) {
	data, fp, err := s.ReadRaw(ctx, id)
	if err != nil {
		return nil, err
	}
	content, err := jsonvalue.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", document.ErrInvalidDocument, id, err)
	}
	return &document.Record{ID: id, Content: content, Fingerprint: fp}, nil
}

// Write replaces the content of an existing document. It fails with
// ErrConflict if the file's current fingerprint differs from expected and
// with ErrNotFound if there is no file to replace.
func (s *Store) Write(ctx context.Context, id document.ID, content jsonvalue.Value, expected document.Fingerprint) (document.Fingerprint, error) {
	if err := checkContext(ctx); err != nil {
		return "", err
	}
	path, err := s.Path(id)
	if err != nil {
		return "", err
	}
	data, err := jsonvalue.Pretty(content)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", document.ErrInvalidDocument, id, err)
	}

	unlock := s.lock(id)
	defer unlock()

	_, current, err := readDocument(id, path)
	if err != nil {
		return "", err
	}
	if current != expected {
		return "", fmt.Errorf("%w: %s (expected %s, found %s)", document.ErrConflict, id, short(expected), short(current))
	}

	tmp, err := s.writeTemp(id, data)
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp)

	if err := s.commit(tmp); err != nil {
		return "", fmt.Errorf("%w: write %s: %v", document.ErrIO, id, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("%w: failed to replace %s: %v", document.ErrIO, id, err)
	}
	s.syncRoot()

	fp := document.FingerprintOf(data)
	s.config.Logger.Printf("Wrote %s (%s)", id, short(fp))
	return fp, nil
}

// Create writes a new document. It fails with ErrAlreadyExists if any file
// is already present under the id; an existing file is never overwritten.
func (s *Store) Create(ctx context.Context, id document.ID, content jsonvalue.Value) (document.Fingerprint, error) {
	if err := checkContext(ctx); err != nil {
		return "", err
	}
	path, err := s.Path(id)
	if err != nil {
		return "", err
	}
	data, err := jsonvalue.Pretty(content)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", document.ErrInvalidDocument, id, err)
	}

	unlock := s.lock(id)
	defer unlock()

	if info, err := os.Lstat(path); err == nil {
		if !info.Mode().IsRegular() {
			return "", fmt.Errorf("%w: %s is not a regular file", document.ErrPathUnsafe, id)
		}
		return "", fmt.Errorf("%w: %s", document.ErrAlreadyExists, id)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("%w: stat %s: %v", document.ErrIO, id, err)
	}

	tmp, err := s.writeTemp(id, data)
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp)

	if err := s.commit(tmp); err != nil {
		return "", fmt.Errorf("%w: create %s: %v", document.ErrIO, id, err)
	}
	// A hard link fails if the target exists, even if another process
	// created it after the Lstat above.
	if err := os.Link(tmp, path); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return "", fmt.Errorf("%w: %s", document.ErrAlreadyExists, id)
		}
		return "", fmt.Errorf("%w: failed to create %s: %v", document.ErrIO, id, err)
	}
	s.syncRoot()

	fp := document.FingerprintOf(data)
	s.config.Logger.Printf("Created %s (%s)", id, short(fp))
	return fp, nil
}

// Delete removes a document if its fingerprint still matches expected.
func (s *Store) Delete(ctx context.Context, id document.ID, expected document.Fingerprint) error {
	if err := checkContext(ctx); err != nil {
		return err
	}
	path, err := s.Path(id)
	if err != nil {
		return err
	}

	unlock := s.lock(id)
	defer unlock()

	_, current, err := readDocument(id, path)
	if err != nil {
		return err
	}
	if current != expected {
		return fmt.Errorf("%w: %s (expected %s, found %s)", document.ErrConflict, id, short(expected), short(current))
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("%w: failed to delete %s: %v", document.ErrIO, id, err)
	}
	s.syncRoot()

	s.config.Logger.Printf("Deleted %s", id)
	return nil
}

type idLock struct {
	mu   sync.Mutex
	refs int
}

func (s *Store) lock(id document.ID) func() {
	s.locksMu.Lock()
	l, ok := s.locks[id]
	if !ok {
		l = &idLock{}
		s.locks[id] = l
	}
	l.refs++
	s.locksMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.locksMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, id)
		}
		s.locksMu.Unlock()
	}
}

// writeTemp writes data to a hidden temporary file in the root and flushes
// it to stable storage. The caller removes the file.
func (s *Store) writeTemp(id document.ID, data []byte) (string, error) {
	f, err := os.CreateTemp(s.root, "."+string(id)+".tmp-*")
	if err != nil {
		return "", fmt.Errorf("%w: failed to create temp file for %s: %v", document.ErrIO, id, err)
	}
	tmp := f.Name()

	fail := func(step string, err error) (string, error) {
		_ = f.Close()
		_ = os.Remove(tmp)
		return "", fmt.Errorf("%w: failed to %s temp file for %s: %v", document.ErrIO, step, id, err)
	}
	if _, err := f.Write(data); err != nil {
		return fail("write", err)
	}
	if err := f.Chmod(s.config.FileMode); err != nil {
		return fail("chmod", err)
	}
	if err := f.Sync(); err != nil {
		return fail("sync", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("%w: failed to close temp file for %s: %v", document.ErrIO, id, err)
	}
	return tmp, nil
}

func (s *Store) commit(tmp string) error {
	if s.beforeCommit != nil {
		return s.beforeCommit(tmp)
	}
	return nil
}

// syncRoot flushes the directory entry after a rename. Not every platform
// supports syncing a directory, so failures are only logged.
func (s *Store) syncRoot() {
	dir, err := os.Open(s.root)
	if err != nil {
		return
	}
	defer dir.Close()
	if err := dir.Sync(); err != nil {
		s.config.Logger.Printf("Warning: failed to sync store root: %v", err)
	}
}

// lstatDocument checks that path is a regular file without following
// symlinks.
func lstatDocument(id document.ID, path string) (os.FileInfo, error) {
	info, err := os.Lstat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", document.ErrNotFound, id)
		}
		return nil, fmt.Errorf("%w: stat %s: %v", document.ErrIO, id, err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: %s is not a regular file", document.ErrPathUnsafe, id)
	}
	return info, nil
}

func readDocument(id document.ID, path string) ([]byte, document.Fingerprint, error) {
	if _, err := lstatDocument(id, path); err != nil {
		return nil, "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, "", fmt.Errorf("%w: %s", document.ErrNotFound, id)
		}
		return nil, "", fmt.Errorf("%w: failed to read %s: %v", document.ErrIO, id, err)
	}
	return data, document.FingerprintOf(data), nil
}

func checkContext(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", document.ErrIO, err)
	}
	return nil
}

// short trims a fingerprint for log messages.
func short(fp document.Fingerprint) string {
	s := string(fp)
	if s == "" {
		return "<none>"
	}
	if len(s) > 19 {
		return s[:19]
	}
	return s
}
