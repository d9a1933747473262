// Package archive moves documents in and out of a store in bulk: JSONL
// export and import, and publishing a clean copy of every document to
// another directory.
package archive

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/nekokan/musicwa/internal/document"
	"github.com/nekokan/musicwa/internal/jsonvalue"
)

// Line is one JSONL record.
type Line struct {
	ID      document.ID     `json:"id"`
	Content jsonvalue.Value `json:"content"`
}

// Source is where documents are exported or published from.
type Source interface {
	ListDocuments(ctx context.Context) (document.Listing, error)
	GetDocument(ctx context.Context, id document.ID) (*document.Record, error)
}

// Target is where documents are imported to. An empty expected
// fingerprint creates the document.
type Target interface {
	GetDocument(ctx context.Context, id document.ID) (*document.Record, error)
	SaveDocument(ctx context.Context, id document.ID, content jsonvalue.Value, expected document.Fingerprint) (document.Fingerprint, error)
}

// Result summarizes a bulk operation. Per-document failures are collected
// in Errors rather than stopping the run.
type Result struct {
	Written   int
	Unchanged int
	Skipped   int
	Errors    []string
}

// Export writes every readable document to w as JSONL, ordered by id.
// Documents that do not parse are skipped and reported.
func Export(ctx context.Context, src Source, w io.Writer) (*Result, error) {
	listing, err := src.ListDocuments(ctx)
	if err != nil {
		return nil, err
	}

	result := &Result{}
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	for _, entry := range listing {
		rec, err := src.GetDocument(ctx, entry.ID)
		if err != nil {
			if errors.Is(err, document.ErrInvalidDocument) || errors.Is(err, document.ErrNotFound) {
				result.Skipped++
				result.Errors = append(result.Errors, fmt.Sprintf("skipped %s: %v", entry.ID, err))
				continue
			}
			return result, err
		}
		if err := enc.Encode(Line{ID: rec.ID, Content: rec.Content}); err != nil {
			return result, fmt.Errorf("failed to write %s: %w", rec.ID, err)
		}
		result.Written++
	}
	if err := bw.Flush(); err != nil {
		return result, fmt.Errorf("failed to flush export: %w", err)
	}
	return result, nil
}

// ReadJSONL parses a JSONL stream. Blank lines are ignored; any other line
// must be a valid Line with a valid id.
func ReadJSONL(r io.Reader) ([]Line, error) {
	var lines []Line
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64<<10), 16<<20)

	lineNum := 0
	for sc.Scan() {
		lineNum++
		raw := strings.TrimSpace(sc.Text())
		if raw == "" {
			continue
		}
		var wire struct {
			ID      document.ID     `json:"id"`
			Content json.RawMessage `json:"content"`
		}
		if err := json.Unmarshal([]byte(raw), &wire); err != nil {
			return nil, fmt.Errorf("%w: invalid JSON at line %d: %v", document.ErrInvalidDocument, lineNum, err)
		}
		if err := wire.ID.Validate(); err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNum, err)
		}
		if len(wire.Content) == 0 {
			return nil, fmt.Errorf("%w: line %d has no content", document.ErrInvalidDocument, lineNum)
		}
		content, err := jsonvalue.Parse(wire.Content)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", document.ErrInvalidDocument, lineNum, err)
		}
		lines = append(lines, Line{ID: wire.ID, Content: content})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("%w: failed to read JSONL: %v", document.ErrIO, err)
	}
	return lines, nil
}

// ImportOptions controls Import.
type ImportOptions struct {
	DryRun    bool // Preview without writing
	Overwrite bool // Replace documents that exist with different content
}

// Import saves every line of the JSONL stream r to dst. New documents are
// created; existing ones with equal content are left alone, and ones with
// different content are replaced only with Overwrite. Every write is
// conflict-checked, so a document edited during the import is reported
// rather than clobbered.
func Import(ctx context.Context, dst Target, r io.Reader, opts ImportOptions) (*Result, error) {
	lines, err := ReadJSONL(r)
	if err != nil {
		return nil, err
	}

	result := &Result{}
	for _, line := range lines {
		var expected document.Fingerprint
		current, err := dst.GetDocument(ctx, line.ID)
		switch {
		case errors.Is(err, document.ErrNotFound):
		case err != nil:
			result.Errors = append(result.Errors, fmt.Sprintf("failed to read %s: %v", line.ID, err))
			continue
		case current.Content.Equal(line.Content):
			result.Unchanged++
			continue
		case !opts.Overwrite:
			result.Skipped++
			result.Errors = append(result.Errors, fmt.Sprintf("skipped %s: exists with different content", line.ID))
			continue
		default:
			expected = current.Fingerprint
		}

		if opts.DryRun {
			result.Written++
			continue
		}
		if _, err := dst.SaveDocument(ctx, line.ID, line.Content, expected); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("failed to save %s: %v", line.ID, err))
			continue
		}
		result.Written++
	}
	return result, nil
}

// Publish replaces the *.json files in dir with a pretty-printed copy of
// every readable document in src. Other files in dir are left alone.
func Publish(ctx context.Context, src Source, dir string) (*Result, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", dir, err)
	}
	old, err := filepath.Glob(filepath.Join(dir, "*"+document.Extension))
	if err != nil {
		return nil, err
	}
	for _, path := range old {
		if err := os.Remove(path); err != nil {
			return nil, fmt.Errorf("failed to remove %s: %w", path, err)
		}
	}

	listing, err := src.ListDocuments(ctx)
	if err != nil {
		return nil, err
	}
	result := &Result{}
	for _, entry := range listing {
		rec, err := src.GetDocument(ctx, entry.ID)
		if err != nil {
			result.Skipped++
			result.Errors = append(result.Errors, fmt.Sprintf("skipped %s: %v", entry.ID, err))
			continue
		}
		data, err := jsonvalue.Pretty(rec.Content)
		if err != nil {
			return result, err
		}
		if err := writeFile(filepath.Join(dir, string(rec.ID)), data); err != nil {
			return result, err
		}
		result.Written++
	}
	return result, nil
}

// writeFile writes atomically via a temp file.
func writeFile(path string, data []byte) error {
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}
