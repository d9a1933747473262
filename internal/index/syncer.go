package index

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nekokan/musicwa/internal/document"
	"github.com/nekokan/musicwa/internal/music"
	"github.com/nekokan/musicwa/internal/store"
)

// Source is the part of the file store the syncer reads from.
type Source interface {
	List(ctx context.Context) (document.Listing, error)
	Read(ctx context.Context, id document.ID) (*document.Record, error)
	Stat(ctx context.Context, id document.ID) (store.Info, error)
}

// Stats summarizes a full sync.
type Stats struct {
	Indexed  int
	Skipped  int
	Removed  int
	Failed   int
	Duration time.Duration
}

// Syncer keeps the index in step with the store.
//
// Individual document failures never stop a full sync; they are logged and
// counted.
type Syncer struct {
	db     *DB
	src    Source
	logger *log.Logger
}

// NewSyncer creates a Syncer. If logger is nil, a default stderr logger is
// used.
func NewSyncer(database *DB, src Source, logger *log.Logger) *Syncer {
	if logger == nil {
		logger = log.New(os.Stderr, "[index] ", log.LstdFlags)
	}
	return &Syncer{db: database, src: src, logger: logger}
}

// SyncDocument re-indexes one document, or removes it from the index when
// the file is gone. Documents that do not parse are removed as well, so they
// never show up in labelled listings or search results.
func (s *Syncer) SyncDocument(ctx context.Context, id document.ID) error {
	row, err := s.build(ctx, id)
	switch {
	case errors.Is(err, document.ErrNotFound), errors.Is(err, document.ErrInvalidDocument), errors.Is(err, document.ErrPathUnsafe):
		if derr := s.db.Delete(ctx, id); derr != nil {
			return derr
		}
		return err
	case err != nil:
		return err
	}
	if err := s.db.Upsert(ctx, row); err != nil {
		return err
	}
	s.logger.Printf("Indexed %s (%s)", id, row.Label)
	return nil
}

// build reads id from the store and derives its index row.
func (s *Syncer) build(ctx context.Context, id document.ID) (*Row, error) {
	info, err := s.src.Stat(ctx, id)
	if err != nil {
		return nil, err
	}
	rec, err := s.src.Read(ctx, id)
	if err != nil {
		return nil, err
	}
	return &Row{
		ID:          id,
		Label:       music.DisplayLabel(rec.Content),
		Text:        music.SearchText(rec.Content),
		Fingerprint: rec.Fingerprint,
		Size:        info.Size,
		ModTime:     info.ModTime,
	}, nil
}

// FullSync indexes every document in the store and drops rows for
// documents that no longer exist. Rows that are still fresh are skipped.
func (s *Syncer) FullSync(ctx context.Context) (Stats, error) {
	start := time.Now()
	s.logger.Println("Starting full sync")

	listing, err := s.src.List(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to list store: %w", err)
	}

	var stats Stats
	rows := make([]*Row, len(listing))
	failed := make([]bool, len(listing))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, entry := range listing {
		g.Go(func() error {
			fresh, err := s.fresh(gctx, entry.ID)
			if err == nil && fresh {
				return nil
			}
			row, err := s.build(gctx, entry.ID)
			if err != nil {
				s.logger.Printf("Warning: skipping %s: %v", entry.ID, err)
				failed[i] = true
				return nil
			}
			rows[i] = row
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return stats, err
	}

	var changed []*Row
	for i, row := range rows {
		switch {
		case failed[i]:
			stats.Failed++
			if err := s.db.Delete(ctx, listing[i].ID); err != nil {
				return stats, err
			}
		case row == nil:
			stats.Skipped++
		default:
			changed = append(changed, row)
		}
	}
	if err := s.db.UpsertAll(ctx, changed); err != nil {
		return stats, err
	}
	stats.Indexed = len(changed)

	present := make(map[document.ID]bool, len(listing))
	for _, entry := range listing {
		present[entry.ID] = true
	}
	indexed, err := s.db.IDs(ctx)
	if err != nil {
		return stats, err
	}
	for _, id := range indexed {
		if present[id] {
			continue
		}
		if err := s.db.Delete(ctx, id); err != nil {
			return stats, err
		}
		stats.Removed++
	}

	stats.Duration = time.Since(start)
	s.logger.Printf("Full sync complete: %d indexed, %d fresh, %d removed, %d failed in %v",
		stats.Indexed, stats.Skipped, stats.Removed, stats.Failed, stats.Duration.Round(time.Millisecond))
	return stats, nil
}

// fresh reports whether the row for id still matches the file's size and
// modification time.
func (s *Syncer) fresh(ctx context.Context, id document.ID) (bool, error) {
	row, err := s.db.Get(ctx, id)
	if err != nil || row == nil {
		return false, err
	}
	info, err := s.src.Stat(ctx, id)
	if err != nil {
		return false, err
	}
	return row.Size == info.Size && row.ModTime.Equal(info.ModTime), nil
}

// Label returns the display label for id, re-indexing the document first
// if its row is missing or stale.
func (s *Syncer) Label(ctx context.Context, id document.ID) (string, error) {
	fresh, err := s.fresh(ctx, id)
	if err != nil {
		return "", err
	}
	if !fresh {
		if err := s.SyncDocument(ctx, id); err != nil {
			return "", err
		}
	}
	row, err := s.db.Get(ctx, id)
	if err != nil {
		return "", err
	}
	if row == nil {
		return "", fmt.Errorf("%w: %s", document.ErrNotFound, id)
	}
	return row.Label, nil
}

// Search returns listing entries for documents matching q.
func (s *Syncer) Search(ctx context.Context, q string, limit int) (document.Listing, error) {
	rows, err := s.db.Search(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	out := make(document.Listing, 0, len(rows))
	for _, r := range rows {
		entry := document.NewEntry(r.ID)
		entry.Label = r.Label
		out = append(out, entry)
	}
	return out, nil
}

// DocumentChanged keeps the index current when a document is saved,
// deleted or changed on disk.
func (s *Syncer) DocumentChanged(ctx context.Context, change document.Change) {
	var err error
	if change.Op == document.ChangeDeleted {
		err = s.db.Delete(ctx, change.ID)
	} else {
		err = s.SyncDocument(ctx, change.ID)
	}
	if err != nil && !errors.Is(err, document.ErrNotFound) {
		s.logger.Printf("Error indexing %s after %s: %v", change.ID, change.Op, err)
	}
}
