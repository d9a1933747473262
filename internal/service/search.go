package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nekokan/musicwa/internal/document"
	"github.com/nekokan/musicwa/internal/music"
)

// DefaultSearchLimit caps search results when the caller gives no limit.
const DefaultSearchLimit = 50

// Search returns documents whose label, text or id contain every term of q.
// An empty query is rejected with ErrInvalidRequest.
func (s *Service) Search(ctx context.Context, q string, limit int) (document.Listing, error) {
	terms := strings.Fields(q)
	if len(terms) == 0 {
		return nil, fmt.Errorf("%w: empty search query", document.ErrInvalidRequest)
	}
	if limit <= 0 {
		limit = DefaultSearchLimit
	}

	if s.config.Search != nil {
		hits, err := s.config.Search.Search(ctx, q, limit)
		if err != nil {
			return nil, fmt.Errorf("failed to search: %w", err)
		}
		if hits == nil {
			hits = document.Listing{}
		}
		return hits, nil
	}
	return s.scan(ctx, terms, limit)
}

// scan searches by reading every document.
func (s *Service) scan(ctx context.Context, terms []string, limit int) (document.Listing, error) {
	listing, err := s.ListDocuments(ctx)
	if err != nil {
		return nil, err
	}

	for i, term := range terms {
		terms[i] = strings.ToLower(term)
	}

	hits := document.Listing{}
	for _, entry := range listing {
		rec, err := s.store.Read(ctx, entry.ID)
		if errors.Is(err, document.ErrInvalidDocument) || errors.Is(err, document.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to search %s: %w", entry.ID, err)
		}

		entry.Label = music.DisplayLabel(rec.Content)
		haystack := strings.ToLower(entry.Label + "\n" + music.SearchText(rec.Content) + "\n" + string(entry.ID))
		if containsAll(haystack, terms) {
			hits = append(hits, entry)
			if len(hits) == limit {
				break
			}
		}
	}
	return hits, nil
}

func containsAll(s string, terms []string) bool {
	for _, term := range terms {
		if !strings.Contains(s, term) {
			return false
		}
	}
	return true
}
