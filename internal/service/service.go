// Package service implements the document service that sits between the
// HTTP transport and the file store.
//
// The service holds no document state. It validates request shape, chooses
// between create and write on save, and reports every store failure with the
// sentinel from internal/document intact so callers can classify it with
// errors.Is.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"

	"github.com/nekokan/musicwa/internal/document"
	"github.com/nekokan/musicwa/internal/jsonvalue"
	"github.com/nekokan/musicwa/internal/music"
)

// Store is the file store the service delegates to.
type Store interface {
	List(ctx context.Context) (document.Listing, error)
	Read(ctx context.Context, id document.ID) (*document.Record, error)
	Write(ctx context.Context, id document.ID, content jsonvalue.Value, expected document.Fingerprint) (document.Fingerprint, error)
	Create(ctx context.Context, id document.ID, content jsonvalue.Value) (document.Fingerprint, error)
	Delete(ctx context.Context, id document.ID, expected document.Fingerprint) error
}

// Labeler returns the display label for a document, usually from a cache.
type Labeler interface {
	Label(ctx context.Context, id document.ID) (string, error)
}

// Searcher finds documents matching a free text query.
type Searcher interface {
	Search(ctx context.Context, q string, limit int) (document.Listing, error)
}

// Observer is notified after a save or delete succeeds.
type Observer interface {
	DocumentChanged(ctx context.Context, change document.Change)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(ctx context.Context, change document.Change)

// DocumentChanged calls f.
func (f ObserverFunc) DocumentChanged(ctx context.Context, change document.Change) {
	f(ctx, change)
}

// Config holds optional collaborators.
type Config struct {
	// Labels supplies display labels. Without it labels are computed by
	// reading every document.
	Labels Labeler
	// Search answers search queries. Without it queries scan the store.
	Search Searcher
	Logger *log.Logger
}

// DefaultConfig returns a config with no index and a stderr logger.
func DefaultConfig() *Config {
	return &Config{
		Logger: log.New(os.Stderr, "[service] ", log.LstdFlags),
	}
}

// Service is the DocumentService. It is safe for concurrent use.
type Service struct {
	store  Store
	config *Config

	mu        sync.RWMutex
	observers []Observer
}

// New creates a Service backed by st.
func New(st Store, config *Config) *Service {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[service] ", log.LstdFlags)
	}
	return &Service{store: st, config: config}
}

// Observe registers o to be notified of successful saves and deletes.
func (s *Service) Observe(o Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, o)
}

func (s *Service) notify(ctx context.Context, change document.Change) {
	s.mu.RLock()
	observers := append([]Observer(nil), s.observers...)
	s.mu.RUnlock()

	for _, o := range observers {
		o.DocumentChanged(ctx, change)
	}
}

// ListDocuments returns every document in the store, sorted by id.
func (s *Service) ListDocuments(ctx context.Context) (document.Listing, error) {
	listing, err := s.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	return listing, nil
}

// ListWithLabels returns the listing with each entry's music display label.
// Documents that no longer parse, or that vanish while the listing is built,
// are left out.
func (s *Service) ListWithLabels(ctx context.Context) (document.Listing, error) {
	listing, err := s.ListDocuments(ctx)
	if err != nil {
		return nil, err
	}

	out := make(document.Listing, 0, len(listing))
	for _, entry := range listing {
		label, err := s.label(ctx, entry.ID)
		switch {
		case errors.Is(err, document.ErrInvalidDocument), errors.Is(err, document.ErrNotFound):
			s.config.Logger.Printf("Skipping %s in labelled listing: %v", entry.ID, err)
			continue
		case err != nil:
			return nil, fmt.Errorf("failed to label %s: %w", entry.ID, err)
		}
		entry.Label = label
		out = append(out, entry)
	}
	return out, nil
}

func (s *Service) label(ctx context.Context, id document.ID) (string, error) {
	if s.config.Labels != nil {
		return s.config.Labels.Label(ctx, id)
	}
	rec, err := s.store.Read(ctx, id)
	if err != nil {
		return "", err
	}
	return music.DisplayLabel(rec.Content), nil
}

// GetDocument reads one document.
func (s *Service) GetDocument(ctx context.Context, id document.ID) (*document.Record, error) {
	if err := id.Validate(); err != nil {
		return nil, err
	}
	rec, err := s.store.Read(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", id, err)
	}
	return rec, nil
}

// SaveDocument persists content under id. An empty expected fingerprint
// means the document is new and must not already exist; otherwise the file
// must still have the expected fingerprint.
func (s *Service) SaveDocument(ctx context.Context, id document.ID, content jsonvalue.Value, expected document.Fingerprint) (document.Fingerprint, error) {
	if err := id.Validate(); err != nil {
		return "", err
	}
	if err := validateContent(content); err != nil {
		return "", err
	}

	var (
		fp  document.Fingerprint
		err error
		op  = document.ChangeUpdated
	)
	if expected.IsZero() {
		op = document.ChangeCreated
		fp, err = s.store.Create(ctx, id, content)
	} else {
		fp, err = s.store.Write(ctx, id, content, expected)
	}
	if err != nil {
		return "", fmt.Errorf("failed to save %s: %w", id, err)
	}

	s.notify(ctx, document.Change{ID: id, Op: op, Fingerprint: fp})
	return fp, nil
}

// SaveRaw is SaveDocument for content that has not been parsed yet.
func (s *Service) SaveRaw(ctx context.Context, id document.ID, raw []byte, expected document.Fingerprint) (document.Fingerprint, error) {
	content, err := jsonvalue.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", document.ErrInvalidDocument, id, err)
	}
	return s.SaveDocument(ctx, id, content, expected)
}

// DeleteDocument removes a document whose fingerprint still matches
// expected.
func (s *Service) DeleteDocument(ctx context.Context, id document.ID, expected document.Fingerprint) error {
	if err := id.Validate(); err != nil {
		return err
	}
	if expected.IsZero() {
		return fmt.Errorf("%w: delete of %s needs a fingerprint", document.ErrInvalidRequest, id)
	}
	if err := s.store.Delete(ctx, id, expected); err != nil {
		return fmt.Errorf("failed to delete %s: %w", id, err)
	}
	s.notify(ctx, document.Change{ID: id, Op: document.ChangeDeleted})
	return nil
}

// validateContent re-checks that content encodes to well-formed JSON.
func validateContent(content jsonvalue.Value) error {
	data, err := json.Marshal(content)
	if err != nil {
		return fmt.Errorf("%w: %v", document.ErrInvalidDocument, err)
	}
	if !json.Valid(data) {
		return fmt.Errorf("%w: content does not encode to valid JSON", document.ErrInvalidDocument)
	}
	return nil
}
