package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/nekokan/musicwa/internal/document"
	"github.com/nekokan/musicwa/internal/jsonvalue"
	"github.com/nekokan/musicwa/internal/music"
)

// CheckResult is the outcome of checking one document.
type CheckResult struct {
	ID document.ID
	// Err is set when the document cannot be read or does not parse.
	Err error
	// Problems holds advisory lint findings. It is only filled when linting
	// was requested and the document parsed.
	Problems []music.Problem
}

// OK reports whether the document parsed and had no lint findings.
func (r CheckResult) OK() bool {
	return r.Err == nil && len(r.Problems) == 0
}

// Check reads every document and reports which ones fail to parse. With lint
// set, parsed documents are also checked against the music record rules.
func (s *Service) Check(ctx context.Context, lint bool) ([]CheckResult, error) {
	listing, err := s.ListDocuments(ctx)
	if err != nil {
		return nil, err
	}

	results := make([]CheckResult, 0, len(listing))
	for _, entry := range listing {
		res := CheckResult{ID: entry.ID}
		rec, err := s.store.Read(ctx, entry.ID)
		switch {
		case err != nil:
			if !errors.Is(err, document.ErrInvalidDocument) && !errors.Is(err, document.ErrNotFound) {
				return nil, fmt.Errorf("failed to check %s: %w", entry.ID, err)
			}
			res.Err = err
		case lint:
			res.Problems = music.Lint(rec.Content)
		}
		results = append(results, res)
	}
	return results, nil
}

// Query returns the documents for which the boolean expression holds.
//
// The expression sees three variables: doc (the document content, with
// numbers as int or float64), file (the document id) and label (its display
// label). Documents that do not parse are skipped.
func (s *Service) Query(ctx context.Context, expression string) (document.Listing, error) {
	program, err := expr.Compile(expression, expr.AllowUndefinedVariables(), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("%w: invalid query: %v", document.ErrInvalidRequest, err)
	}

	listing, err := s.ListDocuments(ctx)
	if err != nil {
		return nil, err
	}

	matches := document.Listing{}
	for _, entry := range listing {
		rec, err := s.store.Read(ctx, entry.ID)
		if errors.Is(err, document.ErrInvalidDocument) || errors.Is(err, document.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to query %s: %w", entry.ID, err)
		}
		entry.Label = music.DisplayLabel(rec.Content)

		ok, err := runQuery(program, queryEnv(entry, rec.Content))
		if err != nil {
			s.config.Logger.Printf("Query failed on %s: %v", entry.ID, err)
			continue
		}
		if ok {
			matches = append(matches, entry)
		}
	}
	return matches, nil
}

func runQuery(program *vm.Program, env map[string]any) (bool, error) {
	out, err := expr.Run(program, env)
	if err != nil {
		return false, err
	}
	ok, _ := out.(bool)
	return ok, nil
}

func queryEnv(entry document.Entry, content jsonvalue.Value) map[string]any {
	return map[string]any{
		"doc":   plain(content),
		"file":  string(entry.ID),
		"label": entry.Label,
	}
}

// plain converts v for expression evaluation. Integral numbers become int so
// they compare naturally with integer literals.
func plain(v jsonvalue.Value) any {
	switch v.Kind() {
	case jsonvalue.KindNumber:
		n, _ := v.AsNumber()
		if i, err := n.Int64(); err == nil {
			return int(i)
		}
		f, _ := n.Float64()
		return f
	case jsonvalue.KindArray:
		items := v.Items()
		out := make([]any, len(items))
		for i, item := range items {
			out[i] = plain(item)
		}
		return out
	case jsonvalue.KindObject:
		out := make(map[string]any, v.Len())
		for _, k := range v.Keys() {
			m, _ := v.Get(k)
			out[k] = plain(m)
		}
		return out
	default:
		return v.ToAny()
	}
}
