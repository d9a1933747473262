package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	jsonpatch "github.com/evanphx/json-patch"
	"github.com/google/uuid"

	"github.com/nekokan/musicwa/internal/document"
	"github.com/nekokan/musicwa/internal/jsonvalue"
)

// Service is the document service contract the session talks to. Both the
// in-process service and the HTTP client satisfy it.
type Service interface {
	GetDocument(ctx context.Context, id document.ID) (*document.Record, error)
	SaveDocument(ctx context.Context, id document.ID, content jsonvalue.Value, expected document.Fingerprint) (document.Fingerprint, error)
}

// Config holds session configuration.
type Config struct {
	// Timeout bounds each request. Zero means no timeout beyond the
	// caller's context.
	Timeout time.Duration
	Logger  *log.Logger
}

// DefaultConfig returns the default session configuration.
func DefaultConfig() *Config {
	return &Config{
		Timeout: 30 * time.Second,
		Logger:  log.New(os.Stderr, "[session] ", log.LstdFlags),
	}
}

// Session drives a Model against a Service. It is safe for concurrent use,
// but only one load or save is ever outstanding.
type Session struct {
	id     string
	svc    Service
	config *Config

	mu    sync.Mutex
	model Model
	seq   uint64
}

// New creates an empty session.
func New(svc Service, config *Config) *Session {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[session] ", log.LstdFlags)
	}
	return &Session{
		id:     uuid.NewString(),
		svc:    svc,
		config: config,
	}
}

// ID returns the session's unique id.
func (s *Session) ID() string {
	return s.id
}

// Snapshot returns the current state.
func (s *Session) Snapshot() Model {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.model
}

// State returns the current state name.
func (s *Session) State() State {
	return s.Snapshot().State
}

// HasUnsavedChanges reports whether the session holds edits not on disk.
func (s *Session) HasUnsavedChanges() bool {
	return s.Snapshot().HasUnsavedChanges()
}

// Open loads id. If another Open supersedes this one before the document
// arrives, the result is discarded and ErrSuperseded is returned. On
// failure the session returns to its prior stable state.
func (s *Session) Open(ctx context.Context, id document.ID) error {
	s.mu.Lock()
	next, err := s.model.Open(id)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	return s.load(ctx, next)
}

// ResolveReload resolves a conflict by discarding local edits and loading
// the document as it is now on disk.
func (s *Session) ResolveReload(ctx context.Context) error {
	s.mu.Lock()
	next, err := s.model.Reload()
	if err != nil {
		s.mu.Unlock()
		return err
	}
	return s.load(ctx, next)
}

// load runs a Loading model to completion. s.mu must be held; it is
// released while the request is outstanding.
func (s *Session) load(ctx context.Context, next Model) error {
	s.seq++
	seq := s.seq
	s.model = next
	id := next.Pending
	s.mu.Unlock()

	rec, err := s.get(ctx, id)

	s.mu.Lock()
	defer s.mu.Unlock()
	if seq != s.seq {
		s.config.Logger.Printf("Discarding stale load of %s", id)
		return fmt.Errorf("%w: %s", ErrSuperseded, id)
	}
	if err != nil {
		s.model = s.model.OpenFailed()
		return err
	}
	s.model = s.model.Opened(rec)
	return nil
}

// Edit replaces the in-memory content.
func (s *Session) Edit(content jsonvalue.Value) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next, err := s.model.Edit(content)
	if err != nil {
		return err
	}
	s.model = next
	return nil
}

// ApplyPatch applies an RFC 6902 JSON patch to the in-memory content.
func (s *Session) ApplyPatch(patch []byte) error {
	p, err := jsonpatch.DecodePatch(patch)
	if err != nil {
		return fmt.Errorf("%w: invalid JSON patch: %v", document.ErrInvalidRequest, err)
	}
	return s.transform(func(doc []byte) ([]byte, error) {
		return p.Apply(doc)
	})
}

// MergePatch applies an RFC 7386 merge patch to the in-memory content.
func (s *Session) MergePatch(patch []byte) error {
	return s.transform(func(doc []byte) ([]byte, error) {
		return jsonpatch.MergePatch(doc, patch)
	})
}

func (s *Session) transform(fn func([]byte) ([]byte, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.model.Edit(s.model.Content); err != nil {
		return err
	}

	doc, err := s.model.Content.MarshalJSON()
	if err != nil {
		return fmt.Errorf("%w: %v", document.ErrInvalidDocument, err)
	}
	out, err := fn(doc)
	if err != nil {
		return fmt.Errorf("%w: patch failed: %v", document.ErrInvalidRequest, err)
	}
	content, err := jsonvalue.Parse(out)
	if err != nil {
		return fmt.Errorf("%w: patch produced invalid JSON: %v", document.ErrInvalidDocument, err)
	}

	next, err := s.model.Edit(content)
	if err != nil {
		return err
	}
	s.model = next
	return nil
}

// Save writes the edited content back, checked against the fingerprint the
// document was read with. It is a no-op when there is nothing to save. A
// conflict moves the session to ConflictDetected and is returned so the
// caller can offer ResolveReload or ResolveOverwrite.
func (s *Session) Save(ctx context.Context) error {
	s.mu.Lock()
	next, noop, err := s.model.Save()
	if err != nil || noop {
		s.mu.Unlock()
		return err
	}
	s.model = next
	id, content, expected := next.Record.ID, next.Content, next.Record.Fingerprint
	s.mu.Unlock()

	return s.finishSave(s.save(ctx, id, content, expected))
}

// ResolveOverwrite resolves a conflict by saving the local content over
// whatever is on disk now. The current fingerprint is fetched first, so a
// third writer racing the overwrite still produces a conflict.
func (s *Session) ResolveOverwrite(ctx context.Context) error {
	s.mu.Lock()
	next, err := s.model.Overwrite()
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.model = next
	id, content := next.Record.ID, next.Content
	s.mu.Unlock()

	var expected document.Fingerprint
	current, err := s.get(ctx, id)
	switch {
	case errors.Is(err, document.ErrNotFound):
		// Deleted on disk: recreate it.
	case errors.Is(err, document.ErrInvalidDocument):
		err = fmt.Errorf("%w: cannot overwrite %s while it does not parse", document.ErrConflict, id)
		return s.finishSave(document.Fingerprint(""), err)
	case err != nil:
		return s.finishSave(document.Fingerprint(""), err)
	default:
		expected = current.Fingerprint
	}

	return s.finishSave(s.save(ctx, id, content, expected))
}

func (s *Session) finishSave(fp document.Fingerprint, err error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.model = s.model.SaveFailed(err)
		if errors.Is(err, document.ErrConflict) {
			s.config.Logger.Printf("Save of %s conflicted: %v", s.model.ID(), err)
		}
		return err
	}
	s.model = s.model.Saved(fp)
	return nil
}

// Discard drops local edits and any conflict.
func (s *Session) Discard() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next, err := s.model.Discard()
	if err != nil {
		return err
	}
	s.model = next
	return nil
}

// Close closes the open document. It fails with ErrUnsavedChanges while
// edits are pending. An outstanding Open is abandoned.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next, err := s.model.Close()
	if err != nil {
		return err
	}
	if s.model.State == Loading {
		s.seq++
	}
	s.model = next
	return nil
}

// MarkStale records a change notification for the open document.
func (s *Session) MarkStale(change document.Change) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.model = s.model.MarkStale(change)
}

// DocumentChanged lets a session observe a change feed.
func (s *Session) DocumentChanged(_ context.Context, change document.Change) {
	s.MarkStale(change)
}

func (s *Session) get(ctx context.Context, id document.ID) (*document.Record, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	rec, err := s.svc.GetDocument(ctx, id)
	return rec, transportError(err)
}

func (s *Session) save(ctx context.Context, id document.ID, content jsonvalue.Value, expected document.Fingerprint) (document.Fingerprint, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	fp, err := s.svc.SaveDocument(ctx, id, content, expected)
	return fp, transportError(err)
}

func (s *Session) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.config.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.config.Timeout)
}

// transportError reports timeouts and cancellation as ErrIO.
func transportError(err error) error {
	if err == nil {
		return nil
	}
	if (errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)) && !errors.Is(err, document.ErrIO) {
		return fmt.Errorf("%w: %v", document.ErrIO, err)
	}
	return err
}
