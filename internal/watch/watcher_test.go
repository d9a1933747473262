package watch

import (
	"context"
	"io"
	"log"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nekokan/musicwa/internal/document"
	"github.com/nekokan/musicwa/internal/jsonvalue"
	"github.com/nekokan/musicwa/internal/service"
	"github.com/nekokan/musicwa/internal/session"
	"github.com/nekokan/musicwa/internal/store"
)

// setupTestWatcher starts a watcher on a fresh store.
func setupTestWatcher(t *testing.T) (*Watcher, *store.Store) {
	t.Helper()

	quiet := log.New(io.Discard, "", 0)
	s, err := store.New(t.TempDir(), &store.Config{Logger: quiet})
	if err != nil {
		t.Fatalf("store.New() failed: %v", err)
	}

	w, err := New(s, &Config{Debounce: 30 * time.Millisecond, Logger: quiet})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	t.Cleanup(func() { _ = w.Stop() })

	if err := w.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	return w, s
}

// waitForChange returns the next change, failing the test after a timeout.
func waitForChange(t *testing.T, w *Watcher) document.Change {
	t.Helper()
	select {
	case c := <-w.Events():
		return c
	case err := <-w.Errors():
		t.Fatalf("watcher error: %v", err)
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for change")
	}
	return document.Change{}
}

func expectNoChange(t *testing.T, w *Watcher) {
	t.Helper()
	select {
	case c := <-w.Events():
		t.Errorf("unexpected change: %+v", c)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestWatcher_StartStop(t *testing.T) {
	w, _ := setupTestWatcher(t)

	if !w.IsRunning() {
		t.Error("watcher should be running after Start()")
	}
	if err := w.Start(); err == nil {
		t.Error("second Start() should fail")
	}
	if err := w.Stop(); err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}
	if w.IsRunning() {
		t.Error("watcher should not be running after Stop()")
	}
}

func TestWatcher_Lifecycle(t *testing.T) {
	w, s := setupTestWatcher(t)
	ctx := context.Background()

	fp, err := s.Create(ctx, "a.json", jsonvalue.String("x"))
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	if c := waitForChange(t, w); c.ID != "a.json" || c.Op != document.ChangeCreated || c.Fingerprint != fp {
		t.Errorf("after create: %+v, want fingerprint %s", c, fp)
	}

	fp, err = s.Write(ctx, "a.json", jsonvalue.String("y"), fp)
	if err != nil {
		t.Fatalf("Write() failed: %v", err)
	}
	if c := waitForChange(t, w); c.ID != "a.json" || c.Op != document.ChangeUpdated || c.Fingerprint != fp {
		t.Errorf("after write: %+v, want fingerprint %s", c, fp)
	}

	if err := s.Delete(ctx, "a.json", fp); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}
	if c := waitForChange(t, w); c.ID != "a.json" || c.Op != document.ChangeDeleted || !c.Fingerprint.IsZero() {
		t.Errorf("after delete: %+v", c)
	}
}

func TestWatcher_IgnoresNonDocuments(t *testing.T) {
	w, s := setupTestWatcher(t)

	for _, name := range []string{"notes.txt", ".hidden.json", ".a.json.tmp-123"} {
		if err := os.WriteFile(filepath.Join(s.Root(), name), []byte("{}"), 0644); err != nil {
			t.Fatalf("failed to write %s: %v", name, err)
		}
	}
	if err := os.Mkdir(filepath.Join(s.Root(), "sub.json"), 0755); err != nil {
		t.Fatalf("Mkdir failed: %v", err)
	}
	expectNoChange(t, w)
}

func TestWatcher_DebouncesBursts(t *testing.T) {
	w, s := setupTestWatcher(t)

	path := filepath.Join(s.Root(), "b.json")
	for i := 0; i < 5; i++ {
		if err := os.WriteFile(path, []byte(`{"n":1}`), 0644); err != nil {
			t.Fatalf("WriteFile failed: %v", err)
		}
	}
	if c := waitForChange(t, w); c.ID != "b.json" || c.Op != document.ChangeCreated {
		t.Errorf("first change = %+v", c)
	}
	expectNoChange(t, w)
}

// A session that saves through the service sees the watcher report its own
// write with the fingerprint it already holds, and stays fresh. A write from
// outside still marks it stale.
func TestWatcher_OwnSaveIsNotStale(t *testing.T) {
	w, s := setupTestWatcher(t)
	ctx := context.Background()
	quiet := log.New(io.Discard, "", 0)

	if _, err := s.Create(ctx, "a.json", jsonvalue.String("x")); err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	waitForChange(t, w)

	svc := service.New(s, &service.Config{Logger: quiet})
	sess := session.New(svc, &session.Config{Timeout: 5 * time.Second, Logger: quiet})
	if err := sess.Open(ctx, "a.json"); err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	if err := sess.Edit(jsonvalue.String("y")); err != nil {
		t.Fatalf("Edit() failed: %v", err)
	}
	if err := sess.Save(ctx); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}

	sess.MarkStale(waitForChange(t, w))
	if m := sess.Snapshot(); m.Stale || m.State != session.Loaded {
		t.Errorf("after own save: state=%s stale=%v, want loaded and fresh", m.State, m.Stale)
	}

	if err := os.WriteFile(filepath.Join(s.Root(), "a.json"), []byte(`"z"`), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	sess.MarkStale(waitForChange(t, w))
	if !sess.Snapshot().Stale {
		t.Error("outside write did not mark the session stale")
	}
}
