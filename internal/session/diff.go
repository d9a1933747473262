package session

import (
	"context"
	"errors"
	"strings"

	diffpatch "github.com/sergi/go-diff/diffmatchpatch"

	"github.com/nekokan/musicwa/internal/document"
	"github.com/nekokan/musicwa/internal/jsonvalue"
)

// ConflictDiff fetches the document as it is now on disk and returns a
// line diff from the disk version to the local edits. Lines only on disk
// are prefixed "-", local-only lines "+". A document deleted on disk diffs
// against empty content.
func (s *Session) ConflictDiff(ctx context.Context) (string, error) {
	m := s.Snapshot()
	if m.State != ConflictDetected {
		return "", ErrNotInConflict
	}

	var disk string
	current, err := s.get(ctx, m.Record.ID)
	switch {
	case errors.Is(err, document.ErrNotFound):
	case err != nil:
		return "", err
	default:
		data, err := jsonvalue.Pretty(current.Content)
		if err != nil {
			return "", err
		}
		disk = string(data)
	}

	local, err := jsonvalue.Pretty(m.Content)
	if err != nil {
		return "", err
	}
	return LineDiff(disk, string(local)), nil
}

// LineDiff renders a line-oriented diff of from and to.
func LineDiff(from, to string) string {
	dmp := diffpatch.New()
	a, b, lines := dmp.DiffLinesToChars(from, to)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lines)

	var sb strings.Builder
	for _, d := range diffs {
		prefix := " "
		switch d.Type {
		case diffpatch.DiffInsert:
			prefix = "+"
		case diffpatch.DiffDelete:
			prefix = "-"
		}
		for _, line := range strings.SplitAfter(d.Text, "\n") {
			if line == "" {
				continue
			}
			sb.WriteString(prefix)
			sb.WriteString(line)
			if !strings.HasSuffix(line, "\n") {
				sb.WriteByte('\n')
			}
		}
	}
	return sb.String()
}
