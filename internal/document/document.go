// Package document defines the model shared by every layer of the music
// document editor: ids, fingerprints, records, listings and the error
// taxonomy.
package document

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/nekokan/musicwa/internal/jsonvalue"
)

// Extension is the file extension of every document in the store.
const Extension = ".json"

// ID names a document. It is the document's file name inside the store root,
// e.g. "alone.json".
type ID string

// Validate checks that id names a plain document file directly under the
// store root. Any id that could escape the root, name a hidden file or name
// something other than a document is rejected with ErrPathUnsafe.
func (id ID) Validate() error {
	s := string(id)
	switch {
	case s == "":
		return fmt.Errorf("%w: empty id", ErrPathUnsafe)
	case strings.ContainsRune(s, 0):
		return fmt.Errorf("%w: id contains NUL", ErrPathUnsafe)
	case strings.ContainsAny(s, `/\`):
		return fmt.Errorf("%w: id %q contains a path separator", ErrPathUnsafe, s)
	case s == "." || s == ".." || strings.Contains(s, ".."):
		return fmt.Errorf("%w: id %q contains a parent reference", ErrPathUnsafe, s)
	case strings.HasPrefix(s, "."):
		return fmt.Errorf("%w: id %q names a hidden file", ErrPathUnsafe, s)
	case strings.ContainsRune(s, ':'):
		return fmt.Errorf("%w: id %q contains a volume separator", ErrPathUnsafe, s)
	case !strings.HasSuffix(s, Extension) || len(s) == len(Extension):
		return fmt.Errorf("%w: id %q is not a %s document", ErrPathUnsafe, s, Extension)
	}
	return nil
}

// DisplayName is the id without its extension.
func (id ID) DisplayName() string {
	return strings.TrimSuffix(string(id), Extension)
}

func (id ID) String() string { return string(id) }

// IDFromName turns a user-supplied name into an id, appending the extension
// when it is missing. The result still needs Validate.
func IDFromName(name string) ID {
	name = strings.TrimSpace(name)
	if strings.HasSuffix(name, Extension) {
		return ID(name)
	}
	return ID(name + Extension)
}

// Fingerprint is an opaque token for the on-disk state of a document. It is
// only ever compared for equality. The empty fingerprint means "no file".
type Fingerprint string

// FingerprintOf returns the fingerprint of a file's raw bytes.
func FingerprintOf(data []byte) Fingerprint {
	sum := sha256.Sum256(data)
	return Fingerprint("sha256:" + hex.EncodeToString(sum[:]))
}

// IsZero reports whether f is the empty fingerprint.
func (f Fingerprint) IsZero() bool { return f == "" }

func (f Fingerprint) String() string { return string(f) }

// Record is a document as read from the store.
type Record struct {
	ID          ID              `json:"id"`
	Content     jsonvalue.Value `json:"content"`
	Fingerprint Fingerprint     `json:"fingerprint"`
}

// Entry is one row of a listing.
type Entry struct {
	ID          ID     `json:"id"`
	DisplayName string `json:"displayName"`
	// Label is the music display label. It is only set by labelled listings.
	Label string `json:"label,omitempty"`
}

// Listing is the ordered set of documents in the store, sorted by id.
type Listing []Entry

// NewEntry builds the listing entry for id.
func NewEntry(id ID) Entry {
	return Entry{ID: id, DisplayName: id.DisplayName()}
}

// ChangeOp is the kind of change made to a document.
type ChangeOp string

const (
	// ChangeCreated means a new document file appeared.
	ChangeCreated ChangeOp = "created"
	// ChangeUpdated means an existing document's bytes changed.
	ChangeUpdated ChangeOp = "updated"
	// ChangeDeleted means a document file was removed.
	ChangeDeleted ChangeOp = "deleted"
)

// Change describes one document change, from a save or from the filesystem.
type Change struct {
	ID ID       `json:"id"`
	Op ChangeOp `json:"op"`
	// Fingerprint is the new fingerprint. It is empty for deletions and
	// when the file could not be read.
	Fingerprint Fingerprint `json:"fingerprint,omitempty"`
}
