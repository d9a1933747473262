package client

import (
	"context"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nekokan/musicwa/internal/document"
	"github.com/nekokan/musicwa/internal/jsonvalue"
	"github.com/nekokan/musicwa/internal/server"
	"github.com/nekokan/musicwa/internal/service"
	"github.com/nekokan/musicwa/internal/session"
	"github.com/nekokan/musicwa/internal/store"
)

var quiet = log.New(io.Discard, "", 0)

// setupTestClient starts a real server on a temp store and returns a client
// for it.
func setupTestClient(t *testing.T, files map[string]string) (*Client, string) {
	t.Helper()

	root := t.TempDir()
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(root, name), []byte(content), 0644))
	}
	st, err := store.New(root, &store.Config{Logger: quiet})
	require.NoError(t, err)
	svc := service.New(st, &service.Config{Logger: quiet})
	srv := server.NewServer(svc, &server.Config{Logger: quiet})
	svc.Observe(srv)
	srv.StartFeed()

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		_ = srv.Stop()
	})

	c, err := New(&Config{BaseURL: ts.URL, Timeout: 5 * time.Second, Logger: quiet})
	require.NoError(t, err)
	return c, root
}

func mustParse(t *testing.T, s string) jsonvalue.Value {
	t.Helper()
	v, err := jsonvalue.Parse([]byte(s))
	require.NoError(t, err)
	return v
}

func TestNewRejectsBadURL(t *testing.T) {
	for _, u := range []string{"", "ftp://host", "127.0.0.1:12989", "http://"} {
		_, err := New(&Config{BaseURL: u})
		require.Error(t, err, u)
	}
}

func TestListAndGet(t *testing.T) {
	c, root := setupTestClient(t, map[string]string{
		"a.json": `{"title":"x","personnel":{"leader":[{"name":"A"}]}}`,
		"b.json": `not json`,
	})
	ctx := context.Background()

	listing, err := c.ListDocuments(ctx)
	require.NoError(t, err)
	require.Equal(t, document.Listing{
		{ID: "a.json", DisplayName: "a"},
		{ID: "b.json", DisplayName: "b"},
	}, listing)

	labelled, err := c.ListWithLabels(ctx)
	require.NoError(t, err)
	require.Equal(t, document.Listing{{ID: "a.json", DisplayName: "a", Label: "A: x"}}, labelled)

	rec, err := c.GetDocument(ctx, "a.json")
	require.NoError(t, err)
	require.True(t, rec.Content.Equal(mustParse(t, `{"title":"x","personnel":{"leader":[{"name":"A"}]}}`)))
	data, err := os.ReadFile(filepath.Join(root, "a.json"))
	require.NoError(t, err)
	require.Equal(t, document.FingerprintOf(data), rec.Fingerprint)
}

func TestErrorsMapBackToSentinels(t *testing.T) {
	c, _ := setupTestClient(t, map[string]string{"b.json": `not json`, "a.json": `{}`})
	ctx := context.Background()

	_, err := c.GetDocument(ctx, "missing.json")
	require.ErrorIs(t, err, document.ErrNotFound)

	_, err = c.GetDocument(ctx, "b.json")
	require.ErrorIs(t, err, document.ErrInvalidDocument)

	_, err = c.GetDocument(ctx, "../x.json")
	require.ErrorIs(t, err, document.ErrPathUnsafe)

	_, err = c.SaveDocument(ctx, "a.json", jsonvalue.Null(), "")
	require.ErrorIs(t, err, document.ErrAlreadyExists)

	_, err = c.SaveDocument(ctx, "a.json", jsonvalue.Null(), "sha256:stale")
	require.ErrorIs(t, err, document.ErrConflict)

	_, err = c.Search(ctx, "", 0)
	require.ErrorIs(t, err, document.ErrInvalidRequest)
}

func TestTransportFailuresAreIOErrors(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer slow.Close()

	c, err := New(&Config{BaseURL: slow.URL, Timeout: 50 * time.Millisecond, Logger: quiet})
	require.NoError(t, err)
	_, err = c.GetDocument(context.Background(), "a.json")
	require.ErrorIs(t, err, document.ErrIO)

	down, err := New(&Config{BaseURL: "http://127.0.0.1:1", Timeout: time.Second, Logger: quiet})
	require.NoError(t, err)
	_, err = down.ListDocuments(context.Background())
	require.ErrorIs(t, err, document.ErrIO)

	plain := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "teapot", http.StatusTeapot)
	}))
	defer plain.Close()
	c, err = New(&Config{BaseURL: plain.URL, Logger: quiet})
	require.NoError(t, err)
	_, err = c.ListDocuments(context.Background())
	require.ErrorIs(t, err, document.ErrIO)
}

func TestSessionHeaderIsSent(t *testing.T) {
	var got string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get(SessionHeader)
		_, _ = w.Write([]byte(`[]`))
	}))
	defer ts.Close()

	c, err := New(&Config{BaseURL: ts.URL, Logger: quiet})
	require.NoError(t, err)
	c.SetSessionID("s-123")
	_, err = c.ListDocuments(context.Background())
	require.NoError(t, err)
	require.Equal(t, "s-123", got)
}

// The editing session works unchanged over HTTP.
func TestSessionOverHTTP(t *testing.T) {
	c, root := setupTestClient(t, map[string]string{"a.json": `{"title":"x"}`})
	ctx := context.Background()

	s := session.New(c, &session.Config{Timeout: 5 * time.Second, Logger: quiet})
	c.SetSessionID(s.ID())

	require.NoError(t, s.Open(ctx, "a.json"))
	require.NoError(t, s.Edit(mustParse(t, `{"title":"y"}`)))
	require.True(t, s.HasUnsavedChanges())
	require.NoError(t, s.Save(ctx))
	require.False(t, s.HasUnsavedChanges())

	data, err := os.ReadFile(filepath.Join(root, "a.json"))
	require.NoError(t, err)
	require.JSONEq(t, `{"title":"y"}`, string(data))

	// Someone else edits the file.
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.json"), []byte(`{"title":"other"}`), 0644))
	require.NoError(t, s.Edit(mustParse(t, `{"title":"mine"}`)))
	require.ErrorIs(t, s.Save(ctx), document.ErrConflict)
	require.Equal(t, session.ConflictDetected, s.State())

	require.NoError(t, s.ResolveOverwrite(ctx))
	data, err = os.ReadFile(filepath.Join(root, "a.json"))
	require.NoError(t, err)
	require.JSONEq(t, `{"title":"mine"}`, string(data))

	err = s.Open(ctx, "missing.json")
	require.ErrorIs(t, err, document.ErrNotFound)
	require.Equal(t, session.Loaded, s.State())
}

func TestDeleteDocument(t *testing.T) {
	c, root := setupTestClient(t, map[string]string{"a.json": `{}`})
	ctx := context.Background()

	rec, err := c.GetDocument(ctx, "a.json")
	require.NoError(t, err)
	require.ErrorIs(t, c.DeleteDocument(ctx, "a.json", "sha256:stale"), document.ErrConflict)
	require.NoError(t, c.DeleteDocument(ctx, "a.json", rec.Fingerprint))

	_, err = os.Stat(filepath.Join(root, "a.json"))
	require.True(t, os.IsNotExist(err))
}

func TestSubscribe(t *testing.T) {
	c, _ := setupTestClient(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		mu      sync.Mutex
		changes []document.Change
	)
	done := make(chan error, 1)
	go func() {
		done <- c.Subscribe(ctx, func(change document.Change) {
			mu.Lock()
			changes = append(changes, change)
			mu.Unlock()
		})
	}()

	// Keep saving new documents until the subscriber has seen one; the
	// first saves may land before the feed connection is registered.
	require.Eventually(t, func() bool {
		_, _ = c.SaveDocument(context.Background(), document.ID("n"+time.Now().Format("150405.000000000")+".json"), jsonvalue.Null(), "")
		mu.Lock()
		defer mu.Unlock()
		return len(changes) > 0
	}, 3*time.Second, 50*time.Millisecond)

	mu.Lock()
	require.Equal(t, document.ChangeCreated, changes[0].Op)
	mu.Unlock()

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Subscribe did not return after cancel")
	}
}
