// Package server serves the document API over HTTP.
//
// Routes:
//
//	GET    /api/list               listing of {id, displayName}
//	GET    /api/list-with-labels   listing with music display labels
//	GET    /api/files/{id}         document content, fingerprint in ETag
//	DELETE /api/files/{id}         delete, fingerprint in If-Match
//	POST   /api/save               {id, content, expectedFingerprint} -> {newFingerprint}
//	GET    /api/search?q=          search by label and text
//	GET    /health                 health check
//	GET    /ws                     websocket change feed
//
// Errors are returned as {"error": "...", "code": "..."} where code is one
// of the document error codes.
package server

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/nekokan/musicwa/internal/document"
)

// DefaultListen is the default listen address.
const DefaultListen = "127.0.0.1:12989"

// API is the document service the server exposes.
type API interface {
	ListDocuments(ctx context.Context) (document.Listing, error)
	ListWithLabels(ctx context.Context) (document.Listing, error)
	GetDocument(ctx context.Context, id document.ID) (*document.Record, error)
	SaveRaw(ctx context.Context, id document.ID, raw []byte, expected document.Fingerprint) (document.Fingerprint, error)
	DeleteDocument(ctx context.Context, id document.ID, expected document.Fingerprint) error
	Search(ctx context.Context, q string, limit int) (document.Listing, error)
}

// Config holds server configuration.
type Config struct {
	// Listen is the TCP address to listen on (default: 127.0.0.1:12989).
	Listen string

	// StaticDir, when set, is served at / for the browser front end.
	StaticDir string

	// Logger for server activity (default: stderr logger)
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Listen: DefaultListen,
		Logger: log.New(os.Stderr, "[server] ", log.LstdFlags),
	}
}

// Server is the HTTP front of the document service.
type Server struct {
	api    API
	config *Config

	listener net.Listener
	server   *http.Server
	hub      *hub
	handler  http.Handler

	mu      sync.Mutex
	started time.Time
}

// NewServer creates a server for api.
func NewServer(api API, config *Config) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Listen == "" {
		config.Listen = DefaultListen
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[server] ", log.LstdFlags)
	}

	s := &Server{
		api:    api,
		config: config,
		hub:    newHub(config.Logger),
	}
	s.handler = s.routes()
	return s
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/list", s.handleList)
	mux.HandleFunc("GET /api/list-with-labels", s.handleListWithLabels)
	mux.HandleFunc("GET /api/files/{id...}", s.handleGetFile)
	mux.HandleFunc("DELETE /api/files/{id...}", s.handleDeleteFile)
	mux.HandleFunc("POST /api/save", s.handleSave)
	mux.HandleFunc("GET /api/search", s.handleSearch)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ws", s.hub.handleWebSocket)
	if s.config.StaticDir != "" {
		mux.Handle("GET /", http.FileServer(http.Dir(s.config.StaticDir)))
	} else {
		mux.HandleFunc("GET /{$}", s.handleRoot)
	}
	return withCORS(withRequestLog(s.config.Logger, mux))
}

// Handler returns the server's HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start begins listening and serving in the background. The change feed
// starts with it.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.config.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Listen, err)
	}
	s.listener = ln

	s.server = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.mu.Lock()
	s.started = time.Now()
	s.mu.Unlock()

	s.hub.start()
	go func() {
		s.config.Logger.Printf("Listening on http://%s", ln.Addr())
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.config.Logger.Printf("Server error: %v", err)
		}
	}()
	return nil
}

// StartFeed starts only the change feed, for servers driven through
// Handler instead of Start.
func (s *Server) StartFeed() {
	s.hub.start()
}

// Stop gracefully shuts down the server and the change feed.
func (s *Server) Stop() error {
	s.config.Logger.Println("Stopping server")
	s.hub.stop()

	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}
	s.config.Logger.Println("Server stopped")
	return nil
}

// Broadcast sends msg to every change feed client.
func (s *Server) Broadcast(msg Message) {
	s.hub.send(msg)
}

// DocumentChanged broadcasts a document change on the feed.
func (s *Server) DocumentChanged(_ context.Context, change document.Change) {
	s.hub.send(ChangeMessage(change))
}

// GetAddr returns the server's listening address.
func (s *Server) GetAddr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.config.Listen
}

// ClientCount returns the number of connected change feed clients.
func (s *Server) ClientCount() int {
	return s.hub.count()
}
