package store

import (
	"context"
	"errors"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/nekokan/musicwa/internal/document"
	"github.com/nekokan/musicwa/internal/jsonvalue"
)

// setupTestStore creates a store in a temporary directory. The returned
// parent directory contains the root, so tests can check that nothing
// outside the root is touched.
func setupTestStore(t *testing.T) (*Store, string) {
	t.Helper()

	parent := t.TempDir()
	root := filepath.Join(parent, "db")
	if err := os.MkdirAll(root, 0755); err != nil {
		t.Fatalf("Failed to create root: %v", err)
	}

	s, err := New(root, &Config{Logger: log.New(io.Discard, "", 0)})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	return s, parent
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write %s: %v", name, err)
	}
}

func mustParse(t *testing.T, s string) jsonvalue.Value {
	t.Helper()
	v, err := jsonvalue.Parse([]byte(s))
	if err != nil {
		t.Fatalf("Parse(%q) failed: %v", s, err)
	}
	return v
}

func TestNew_Errors(t *testing.T) {
	if _, err := New("", nil); err == nil {
		t.Error("New(\"\") should fail")
	}
	if _, err := New(filepath.Join(t.TempDir(), "missing"), nil); !errors.Is(err, document.ErrIO) {
		t.Errorf("New(missing) error = %v, want ErrIO", err)
	}
}

func TestList(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()

	listing, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List() on empty store failed: %v", err)
	}
	if listing == nil || len(listing) != 0 {
		t.Fatalf("List() on empty store = %#v, want empty non-nil listing", listing)
	}

	writeFile(t, s.Root(), "b.json", `{}`)
	writeFile(t, s.Root(), "a.json", `{"title":"x"}`)
	writeFile(t, s.Root(), "notes.txt", `hello`)
	writeFile(t, s.Root(), ".a.json.tmp-123", `{`)
	if err := os.Mkdir(filepath.Join(s.Root(), "sub.json"), 0755); err != nil {
		t.Fatalf("Mkdir failed: %v", err)
	}
	if err := os.Symlink(filepath.Join(s.Root(), "a.json"), filepath.Join(s.Root(), "link.json")); err != nil {
		t.Fatalf("Symlink failed: %v", err)
	}

	listing, err = s.List(ctx)
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	want := document.Listing{
		{ID: "a.json", DisplayName: "a"},
		{ID: "b.json", DisplayName: "b"},
	}
	if diff := cmp.Diff(want, listing); diff != "" {
		t.Errorf("List() mismatch (-want +got):\n%s", diff)
	}

	again, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	if diff := cmp.Diff(listing, again); diff != "" {
		t.Errorf("List() not deterministic (-first +second):\n%s", diff)
	}
}

func TestRead(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()
	writeFile(t, s.Root(), "a.json", `{"title":"x"}`)
	writeFile(t, s.Root(), "broken.json", `{"title":`)

	rec, err := s.Read(ctx, "a.json")
	if err != nil {
		t.Fatalf("Read() failed: %v", err)
	}
	if !rec.Content.Equal(mustParse(t, `{"title":"x"}`)) {
		t.Errorf("Read() content = %s", rec.Content)
	}
	if rec.Fingerprint != document.FingerprintOf([]byte(`{"title":"x"}`)) {
		t.Errorf("Read() fingerprint = %s", rec.Fingerprint)
	}

	if _, err := s.Read(ctx, "missing.json"); !errors.Is(err, document.ErrNotFound) {
		t.Errorf("Read(missing) error = %v, want ErrNotFound", err)
	}
	if _, err := s.Read(ctx, "broken.json"); !errors.Is(err, document.ErrInvalidDocument) {
		t.Errorf("Read(broken) error = %v, want ErrInvalidDocument", err)
	}
}

func TestReadRejectsInvalidUTF8(t *testing.T) {
	s, _ := setupTestStore(t)
	writeFile(t, s.Root(), "b.json", "\"bad \xff byte\"")

	if _, err := s.Read(context.Background(), "b.json"); !errors.Is(err, document.ErrInvalidDocument) {
		t.Fatalf("Read() error = %v, want ErrInvalidDocument", err)
	}
}

func TestWriteKeepsHTMLCharacters(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()
	writeFile(t, s.Root(), "a.json", `{"leader":"Art Blakey & <Messengers>"}`)

	rec, err := s.Read(ctx, "a.json")
	if err != nil {
		t.Fatalf("Read() failed: %v", err)
	}
	if _, err := s.Write(ctx, "a.json", rec.Content, rec.Fingerprint); err != nil {
		t.Fatalf("Write() failed: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(s.Root(), "a.json"))
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if !strings.Contains(string(data), `"Art Blakey & <Messengers>"`) {
		t.Errorf("rewritten file escaped HTML characters:\n%s", data)
	}
}

func TestPathSafety(t *testing.T) {
	s, parent := setupTestStore(t)
	ctx := context.Background()

	outside := filepath.Join(parent, "secret.json")
	writeFile(t, parent, "secret.json", `{"secret":true}`)
	before, err := os.ReadFile(outside)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}

	content := mustParse(t, `{"pwned":true}`)
	escapes := []document.ID{
		"../secret.json",
		"./../secret.json",
		document.ID(outside),
		`..\secret.json`,
		"sub/../../secret.json",
		"..",
	}
	for _, id := range escapes {
		if _, err := s.Read(ctx, id); !errors.Is(err, document.ErrPathUnsafe) {
			t.Errorf("Read(%q) error = %v, want ErrPathUnsafe", id, err)
		}
		if _, err := s.Write(ctx, id, content, document.FingerprintOf(before)); !errors.Is(err, document.ErrPathUnsafe) {
			t.Errorf("Write(%q) error = %v, want ErrPathUnsafe", id, err)
		}
		if _, err := s.Create(ctx, id, content); !errors.Is(err, document.ErrPathUnsafe) {
			t.Errorf("Create(%q) error = %v, want ErrPathUnsafe", id, err)
		}
		if err := s.Delete(ctx, id, document.FingerprintOf(before)); !errors.Is(err, document.ErrPathUnsafe) {
			t.Errorf("Delete(%q) error = %v, want ErrPathUnsafe", id, err)
		}
	}

	after, err := os.ReadFile(outside)
	if err != nil {
		t.Fatalf("file outside root disappeared: %v", err)
	}
	if string(after) != string(before) {
		t.Errorf("file outside root was modified: %s", after)
	}
	entries, err := os.ReadDir(parent)
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	if len(entries) != 2 {
		t.Errorf("unexpected files created outside root: %v", entries)
	}
}

func TestSymlinkRejected(t *testing.T) {
	s, parent := setupTestStore(t)
	ctx := context.Background()

	writeFile(t, parent, "target.json", `{"a":1}`)
	if err := os.Symlink(filepath.Join(parent, "target.json"), filepath.Join(s.Root(), "link.json")); err != nil {
		t.Fatalf("Symlink failed: %v", err)
	}

	if _, err := s.Read(ctx, "link.json"); !errors.Is(err, document.ErrPathUnsafe) {
		t.Errorf("Read(symlink) error = %v, want ErrPathUnsafe", err)
	}
	fp := document.FingerprintOf([]byte(`{"a":1}`))
	if _, err := s.Write(ctx, "link.json", mustParse(t, `{"a":2}`), fp); !errors.Is(err, document.ErrPathUnsafe) {
		t.Errorf("Write(symlink) error = %v, want ErrPathUnsafe", err)
	}
	if _, err := s.Create(ctx, "link.json", mustParse(t, `{"a":2}`)); !errors.Is(err, document.ErrPathUnsafe) {
		t.Errorf("Create(symlink) error = %v, want ErrPathUnsafe", err)
	}

	data, err := os.ReadFile(filepath.Join(parent, "target.json"))
	if err != nil || string(data) != `{"a":1}` {
		t.Errorf("symlink target modified: %q, %v", data, err)
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()
	writeFile(t, s.Root(), "a.json", `{"title":"x"}`)

	rec, err := s.Read(ctx, "a.json")
	if err != nil {
		t.Fatalf("Read() failed: %v", err)
	}

	content := mustParse(t, `{"title":"y","tracks":[{"no":1,"length":"4:46"}]}`)
	fp, err := s.Write(ctx, "a.json", content, rec.Fingerprint)
	if err != nil {
		t.Fatalf("Write() failed: %v", err)
	}
	if fp == rec.Fingerprint {
		t.Error("fingerprint should change when bytes change")
	}

	got, err := s.Read(ctx, "a.json")
	if err != nil {
		t.Fatalf("Read() after write failed: %v", err)
	}
	if !got.Content.Equal(content) {
		t.Errorf("Read() after write = %s, want %s", got.Content, content)
	}
	if got.Fingerprint != fp {
		t.Errorf("Read() fingerprint = %s, want %s", got.Fingerprint, fp)
	}

	// Same content, same bytes, same fingerprint.
	fp2, err := s.Write(ctx, "a.json", content, fp)
	if err != nil {
		t.Fatalf("second Write() failed: %v", err)
	}
	if fp2 != fp {
		t.Errorf("identical bytes produced a new fingerprint: %s != %s", fp2, fp)
	}

	info, err := os.Stat(filepath.Join(s.Root(), "a.json"))
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if info.Mode().Perm() != 0644 {
		t.Errorf("file mode = %v, want 0644", info.Mode().Perm())
	}
}

func TestWriteIdempotentSaves(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()
	content := mustParse(t, `{"title":"x"}`)

	fp, err := s.Create(ctx, "a.json", content)
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	for i := 0; i < 3; i++ {
		fp, err = s.Write(ctx, "a.json", content, fp)
		if err != nil {
			t.Fatalf("Write #%d failed: %v", i, err)
		}
	}
}

func TestWriteConflict(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()
	writeFile(t, s.Root(), "a.json", `{"title":"x"}`)

	first, err := s.Read(ctx, "a.json")
	if err != nil {
		t.Fatalf("Read() failed: %v", err)
	}
	second, err := s.Read(ctx, "a.json")
	if err != nil {
		t.Fatalf("Read() failed: %v", err)
	}

	winner := mustParse(t, `{"title":"first"}`)
	if _, err := s.Write(ctx, "a.json", winner, first.Fingerprint); err != nil {
		t.Fatalf("first Write() failed: %v", err)
	}
	_, err = s.Write(ctx, "a.json", mustParse(t, `{"title":"second"}`), second.Fingerprint)
	if !errors.Is(err, document.ErrConflict) {
		t.Fatalf("stale Write() error = %v, want ErrConflict", err)
	}

	got, err := s.Read(ctx, "a.json")
	if err != nil {
		t.Fatalf("Read() failed: %v", err)
	}
	if !got.Content.Equal(winner) {
		t.Errorf("disk content = %s, want first writer's %s", got.Content, winner)
	}
}

func TestWriteMissing(t *testing.T) {
	s, _ := setupTestStore(t)
	_, err := s.Write(context.Background(), "missing.json", mustParse(t, `{}`), "sha256:abc")
	if !errors.Is(err, document.ErrNotFound) {
		t.Errorf("Write(missing) error = %v, want ErrNotFound", err)
	}
}

func TestCreate(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()

	fp, err := s.Create(ctx, "new.json", mustParse(t, `{"title":"new"}`))
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	rec, err := s.Read(ctx, "new.json")
	if err != nil {
		t.Fatalf("Read() failed: %v", err)
	}
	if rec.Fingerprint != fp {
		t.Errorf("Read() fingerprint = %s, want %s", rec.Fingerprint, fp)
	}

	_, err = s.Create(ctx, "new.json", mustParse(t, `{"title":"other"}`))
	if !errors.Is(err, document.ErrAlreadyExists) {
		t.Fatalf("second Create() error = %v, want ErrAlreadyExists", err)
	}
	rec, err = s.Read(ctx, "new.json")
	if err != nil {
		t.Fatalf("Read() failed: %v", err)
	}
	if got := rec.Content.Lookup("title").Text(); got != "new" {
		t.Errorf("Create overwrote existing document: title = %q", got)
	}
}

func TestInterruptedWriteLeavesOriginal(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()
	original := `{"title":"x"}`
	writeFile(t, s.Root(), "a.json", original)
	fp := document.FingerprintOf([]byte(original))

	crash := errors.New("simulated crash")
	var tmpSeen string
	s.beforeCommit = func(tmp string) error {
		tmpSeen = tmp
		if _, err := os.Stat(tmp); err != nil {
			t.Errorf("temp file missing before commit: %v", err)
		}
		return crash
	}

	_, err := s.Write(ctx, "a.json", mustParse(t, `{"title":"y"}`), fp)
	if !errors.Is(err, document.ErrIO) {
		t.Fatalf("interrupted Write() error = %v, want ErrIO", err)
	}
	if _, err := s.Create(ctx, "b.json", mustParse(t, `{}`)); !errors.Is(err, document.ErrIO) {
		t.Fatalf("interrupted Create() error = %v, want ErrIO", err)
	}

	data, err := os.ReadFile(filepath.Join(s.Root(), "a.json"))
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if string(data) != original {
		t.Errorf("original modified by interrupted write: %s", data)
	}
	if _, err := os.Stat(filepath.Join(s.Root(), "b.json")); !os.IsNotExist(err) {
		t.Errorf("interrupted Create() left a document behind: %v", err)
	}
	if tmpSeen == "" {
		t.Fatal("commit hook never ran")
	}
	if _, err := os.Stat(tmpSeen); !os.IsNotExist(err) {
		t.Errorf("temp file not cleaned up: %v", err)
	}

	s.beforeCommit = nil
	if _, err := s.Write(ctx, "a.json", mustParse(t, `{"title":"y"}`), fp); err != nil {
		t.Errorf("Write() after interrupted write failed: %v", err)
	}
}

func TestConcurrentWritersSameID(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()
	fp, err := s.Create(ctx, "a.json", mustParse(t, `{"n":0}`))
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}

	const writers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	for i := 1; i <= writers; i++ {
		wg.Add(1)
		go func(n int64) {
			defer wg.Done()
			_, err := s.Write(ctx, "a.json", jsonvalue.Object(map[string]jsonvalue.Value{"n": jsonvalue.Int(n)}), fp)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, document.ErrConflict):
				conflicts++
			default:
				t.Errorf("Write() unexpected error: %v", err)
			}
		}(int64(i))
	}
	wg.Wait()

	if successes != 1 || conflicts != writers-1 {
		t.Errorf("successes=%d conflicts=%d, want 1 and %d", successes, conflicts, writers-1)
	}
}

func TestLocksReleasedAfterWrites(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()
	for _, id := range []document.ID{"a.json", "b.json", "c.json"} {
		fp, err := s.Create(ctx, id, mustParse(t, `{}`))
		if err != nil {
			t.Fatalf("Create(%s) failed: %v", id, err)
		}
		if err := s.Delete(ctx, id, fp); err != nil {
			t.Fatalf("Delete(%s) failed: %v", id, err)
		}
	}

	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	if len(s.locks) != 0 {
		t.Errorf("%d per-document locks left after all writes finished", len(s.locks))
	}
}

func TestConcurrentReadersNeverSeeTornWrites(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()

	big := func(tag string) jsonvalue.Value {
		items := make([]jsonvalue.Value, 2000)
		for i := range items {
			items[i] = jsonvalue.String(tag)
		}
		return jsonvalue.Object(map[string]jsonvalue.Value{"items": jsonvalue.Array(items...)})
	}
	fp, err := s.Create(ctx, "a.json", big("a"))
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}

	done := make(chan struct{})
	var wg sync.WaitGroup
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				if _, err := s.Read(ctx, "a.json"); err != nil {
					t.Errorf("reader observed an invalid document: %v", err)
					return
				}
			}
		}()
	}

	for i := 0; i < 50; i++ {
		tag := "a"
		if i%2 == 0 {
			tag = "b"
		}
		fp, err = s.Write(ctx, "a.json", big(tag), fp)
		if err != nil {
			t.Fatalf("Write #%d failed: %v", i, err)
		}
	}
	close(done)
	wg.Wait()
}

func TestDelete(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()
	fp, err := s.Create(ctx, "a.json", mustParse(t, `{}`))
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}

	if err := s.Delete(ctx, "a.json", "sha256:stale"); !errors.Is(err, document.ErrConflict) {
		t.Errorf("Delete(stale) error = %v, want ErrConflict", err)
	}
	if err := s.Delete(ctx, "a.json", fp); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}
	if _, err := s.Read(ctx, "a.json"); !errors.Is(err, document.ErrNotFound) {
		t.Errorf("Read() after Delete error = %v, want ErrNotFound", err)
	}
}

func TestStatAndID(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()
	writeFile(t, s.Root(), "a.json", `{"title":"x"}`)

	info, err := s.Stat(ctx, "a.json")
	if err != nil {
		t.Fatalf("Stat() failed: %v", err)
	}
	if info.Size != int64(len(`{"title":"x"}`)) {
		t.Errorf("Stat().Size = %d", info.Size)
	}

	if id, ok := s.ID(filepath.Join(s.Root(), "a.json")); !ok || id != "a.json" {
		t.Errorf("ID() = %q, %v", id, ok)
	}
	if _, ok := s.ID(filepath.Join(s.Root(), ".a.json.tmp-1")); ok {
		t.Error("ID() should reject temp files")
	}
	if _, ok := s.ID(filepath.Join(filepath.Dir(s.Root()), "a.json")); ok {
		t.Error("ID() should reject paths outside the root")
	}
}

func TestCanceledContext(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := s.List(ctx); !errors.Is(err, document.ErrIO) {
		t.Errorf("List(canceled) error = %v, want ErrIO", err)
	}
	if _, err := s.Read(ctx, "a.json"); !errors.Is(err, document.ErrIO) {
		t.Errorf("Read(canceled) error = %v, want ErrIO", err)
	}
}
