// Package session implements the client-side editing session: the state
// machine that holds the one open document, tracks unsaved edits and
// mediates loads and saves against the document service.
//
// The machine itself is Model, a plain value whose methods return the next
// state without side effects. Session drives a Model against a Service and
// enforces that at most one request is outstanding.
package session

import (
	"errors"
	"fmt"

	"github.com/nekokan/musicwa/internal/document"
	"github.com/nekokan/musicwa/internal/jsonvalue"
)

// Session errors.
var (
	// ErrBusy means a load or save is outstanding.
	ErrBusy = errors.New("session busy")
	// ErrNoDocument means the operation needs an open document.
	ErrNoDocument = errors.New("no document open")
	// ErrUnsavedChanges means the operation would drop local edits. The
	// caller must save or Discard first.
	ErrUnsavedChanges = errors.New("unsaved changes pending")
	// ErrSuperseded is returned to an Open whose result arrived after a
	// newer Open or a Close. The result was discarded.
	ErrSuperseded = errors.New("open superseded")
	// ErrNotInConflict means a resolve was attempted outside ConflictDetected.
	ErrNotInConflict = errors.New("no conflict to resolve")
	// ErrIllegalState means the operation is not legal in the current state.
	ErrIllegalState = errors.New("illegal session state")
)

// State is a session state.
type State int

const (
	Empty State = iota
	Loading
	Loaded
	Editing
	Saving
	ConflictDetected
)

func (s State) String() string {
	switch s {
	case Empty:
		return "empty"
	case Loading:
		return "loading"
	case Loaded:
		return "loaded"
	case Editing:
		return "editing"
	case Saving:
		return "saving"
	case ConflictDetected:
		return "conflict"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Stable reports whether s is not a transient request state.
func (s State) Stable() bool {
	return s != Loading && s != Saving
}

// Model is the complete state of an editing session.
type Model struct {
	State State

	// Record is the open document as last known on disk. Its Fingerprint
	// is what the next save is checked against; edits never change it.
	Record *document.Record

	// Content is the in-memory content, equal to Record.Content until the
	// first edit.
	Content jsonvalue.Value

	// Dirty is set while Content holds edits that are not on disk.
	Dirty bool

	// Pending is the id being loaded while State is Loading.
	Pending document.ID

	// Stale is set when the document is known to have changed on disk
	// since it was read.
	Stale bool

	// Conflict is the error from the rejected save while State is
	// ConflictDetected.
	Conflict error

	// restore is the stable state to return to when the outstanding
	// request fails.
	restore *Model
}

// HasUnsavedChanges reports whether closing or switching documents would
// drop local edits.
func (m Model) HasUnsavedChanges() bool {
	return m.Dirty
}

// ID returns the id of the open document, or "" when none is open.
func (m Model) ID() document.ID {
	if m.Record == nil {
		return ""
	}
	return m.Record.ID
}

func (m Model) stable() Model {
	if !m.State.Stable() && m.restore != nil {
		return *m.restore
	}
	m.restore = nil
	return m
}

// Open starts loading id. Opening while another open is outstanding
// supersedes it; opening with unsaved edits is refused.
func (m Model) Open(id document.ID) (Model, error) {
	if err := id.Validate(); err != nil {
		return m, err
	}
	switch {
	case m.State == Saving:
		return m, ErrBusy
	case m.Dirty || m.State == ConflictDetected:
		return m, ErrUnsavedChanges
	}
	prior := m.stable()
	return Model{State: Loading, Pending: id, restore: &prior}, nil
}

// Reload starts reloading the open document from disk, dropping local
// edits once the load succeeds. It is the "discard and reload" resolution
// of a conflict.
func (m Model) Reload() (Model, error) {
	if m.State != ConflictDetected {
		return m, ErrNotInConflict
	}
	prior := m
	prior.restore = nil
	return Model{State: Loading, Pending: m.Record.ID, restore: &prior}, nil
}

// Opened completes a load.
func (m Model) Opened(rec *document.Record) Model {
	if m.State != Loading {
		return m
	}
	return Model{State: Loaded, Record: rec, Content: rec.Content}
}

// OpenFailed abandons a load and returns to the prior stable state.
func (m Model) OpenFailed() Model {
	if m.State != Loading {
		return m
	}
	return m.stable()
}

// Edit replaces the in-memory content.
func (m Model) Edit(content jsonvalue.Value) (Model, error) {
	switch m.State {
	case Loaded, Editing:
	case Empty:
		return m, ErrNoDocument
	case Loading, Saving:
		return m, ErrBusy
	default:
		return m, fmt.Errorf("%w: cannot edit in %s", ErrIllegalState, m.State)
	}
	m.Content = content
	m.Dirty = true
	m.State = Editing
	return m, nil
}

// Save starts saving the edited content. It reports noop when there is
// nothing to save.
func (m Model) Save() (next Model, noop bool, err error) {
	switch m.State {
	case Loaded:
		return m, true, nil
	case Editing:
	case Empty:
		return m, false, ErrNoDocument
	case Loading, Saving:
		return m, false, ErrBusy
	default:
		return m, false, fmt.Errorf("%w: resolve the conflict before saving", ErrIllegalState)
	}
	return m.saving(), false, nil
}

// Overwrite starts saving local content over a conflicting disk version.
// It is the "force overwrite" resolution of a conflict.
func (m Model) Overwrite() (Model, error) {
	if m.State != ConflictDetected {
		return m, ErrNotInConflict
	}
	return m.saving(), nil
}

func (m Model) saving() Model {
	prior := m
	prior.restore = nil
	m.State = Saving
	m.restore = &prior
	return m
}

// Saved completes a save that wrote the held content with fingerprint fp.
func (m Model) Saved(fp document.Fingerprint) Model {
	if m.State != Saving {
		return m
	}
	rec := &document.Record{ID: m.Record.ID, Content: m.Content, Fingerprint: fp}
	return Model{State: Loaded, Record: rec, Content: m.Content}
}

// SaveFailed abandons a save. A conflict moves to ConflictDetected with the
// local edits kept; any other failure returns to the prior stable state.
func (m Model) SaveFailed(err error) Model {
	if m.State != Saving {
		return m
	}
	if errors.Is(err, document.ErrConflict) {
		m.State = ConflictDetected
		m.Conflict = err
		m.Dirty = true
		m.Stale = true
		m.restore = nil
		return m
	}
	return m.stable()
}

// Discard drops local edits and any conflict, keeping the document open at
// its last known disk state.
func (m Model) Discard() (Model, error) {
	switch m.State {
	case Empty, Loaded:
		return m, nil
	case Loading, Saving:
		return m, ErrBusy
	}
	return Model{State: Loaded, Record: m.Record, Content: m.Record.Content, Stale: m.Stale}, nil
}

// Close closes the document. An outstanding load is abandoned.
func (m Model) Close() (Model, error) {
	switch {
	case m.State == Saving:
		return m, ErrBusy
	case m.Dirty || m.State == ConflictDetected:
		return m, ErrUnsavedChanges
	}
	return Model{}, nil
}

// MarkStale records that the open document changed on disk. Changes to
// other documents, or ones carrying the fingerprint already held, are
// ignored.
func (m Model) MarkStale(change document.Change) Model {
	if m.Record == nil || change.ID != m.Record.ID {
		return m
	}
	if !change.Fingerprint.IsZero() && change.Fingerprint == m.Record.Fingerprint {
		return m
	}
	m.Stale = true
	if m.restore != nil {
		prior := m.restore.MarkStale(change)
		m.restore = &prior
	}
	return m
}
