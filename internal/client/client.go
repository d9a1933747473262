// Package client is the HTTP transport adapter between an editing session
// and a remote document server.
//
// Every failure is reported with a sentinel from internal/document: server
// errors are mapped back from their wire code, and transport failures,
// including timeouts, become ErrIO.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/nekokan/musicwa/internal/document"
	"github.com/nekokan/musicwa/internal/jsonvalue"
)

// SessionHeader carries the editing session id.
const SessionHeader = "X-Session-ID"

// Config holds client configuration.
type Config struct {
	// BaseURL is the server root, e.g. http://127.0.0.1:12989.
	BaseURL string

	// Timeout bounds each request (default: 30s).
	Timeout time.Duration

	// SessionID is sent with every request for server-side logging.
	SessionID string

	// HTTPClient overrides the HTTP client. Its Timeout is left alone.
	HTTPClient *http.Client

	Logger *log.Logger
}

// DefaultConfig returns a config for a local server.
func DefaultConfig() *Config {
	return &Config{
		BaseURL: "http://127.0.0.1:12989",
		Timeout: 30 * time.Second,
		Logger:  log.New(os.Stderr, "[client] ", log.LstdFlags),
	}
}

// Client talks to a document server.
type Client struct {
	base   *url.URL
	http   *http.Client
	config *Config
}

// New creates a client.
func New(config *Config) (*Client, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[client] ", log.LstdFlags)
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}

	base, err := url.Parse(strings.TrimSuffix(config.BaseURL, "/"))
	if err != nil || (base.Scheme != "http" && base.Scheme != "https") || base.Host == "" {
		return nil, fmt.Errorf("invalid server URL %q", config.BaseURL)
	}

	hc := config.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: config.Timeout}
	}
	return &Client{base: base, http: hc, config: config}, nil
}

// SetSessionID sets the session id sent with each request.
func (c *Client) SetSessionID(id string) {
	c.config.SessionID = id
}

func (c *Client) endpoint(path string, query url.Values) string {
	u := *c.base
	u.Path = c.base.Path + path
	u.RawQuery = query.Encode()
	return u.String()
}

// do sends a request and returns the response if it succeeded. Error
// responses are decoded into document errors.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body []byte, header http.Header) (*http.Response, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path, query), rd)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", document.ErrIO, err)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.config.SessionID != "" {
		req.Header.Set(SessionHeader, c.config.SessionID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %v", document.ErrIO, method, path, err)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	defer resp.Body.Close()
	return nil, decodeError(resp)
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func decodeError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var body errorBody
	if err := json.Unmarshal(data, &body); err == nil && body.Code != "" {
		return fmt.Errorf("%w: %s", document.FromCode(body.Code), strings.TrimSpace(body.Error))
	}

	var sentinel error
	switch resp.StatusCode {
	case http.StatusNotFound:
		sentinel = document.ErrNotFound
	case http.StatusConflict:
		sentinel = document.ErrConflict
	case http.StatusBadRequest:
		sentinel = document.ErrInvalidRequest
	default:
		sentinel = document.ErrIO
	}
	return fmt.Errorf("%w: server returned %s", sentinel, resp.Status)
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, v any) error {
	resp, err := c.do(ctx, http.MethodGet, path, query, nil, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: decode %s: %v", document.ErrIO, path, err)
	}
	return nil
}

// ListDocuments returns the server's document listing.
func (c *Client) ListDocuments(ctx context.Context) (document.Listing, error) {
	var listing document.Listing
	if err := c.getJSON(ctx, "/api/list", nil, &listing); err != nil {
		return nil, err
	}
	return listing, nil
}

// ListWithLabels returns the listing with music display labels.
func (c *Client) ListWithLabels(ctx context.Context) (document.Listing, error) {
	var listing document.Listing
	if err := c.getJSON(ctx, "/api/list-with-labels", nil, &listing); err != nil {
		return nil, err
	}
	return listing, nil
}

// Search queries the server's search endpoint.
func (c *Client) Search(ctx context.Context, q string, limit int) (document.Listing, error) {
	query := url.Values{"q": {q}}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	var listing document.Listing
	if err := c.getJSON(ctx, "/api/search", query, &listing); err != nil {
		return nil, err
	}
	return listing, nil
}

// GetDocument fetches one document. The fingerprint comes from the ETag.
func (c *Client) GetDocument(ctx context.Context, id document.ID) (*document.Record, error) {
	if err := id.Validate(); err != nil {
		return nil, err
	}
	resp, err := c.do(ctx, http.MethodGet, "/api/files/"+url.PathEscape(string(id)), nil, nil, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", document.ErrIO, id, err)
	}
	content, err := jsonvalue.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", document.ErrInvalidDocument, id, err)
	}
	fp := parseETag(resp.Header.Get("ETag"))
	if fp.IsZero() {
		return nil, fmt.Errorf("%w: server sent no fingerprint for %s", document.ErrIO, id)
	}
	return &document.Record{ID: id, Content: content, Fingerprint: fp}, nil
}

type saveRequest struct {
	ID                  document.ID          `json:"id"`
	Content             jsonvalue.Value      `json:"content"`
	ExpectedFingerprint document.Fingerprint `json:"expectedFingerprint"`
}

type saveResponse struct {
	NewFingerprint document.Fingerprint `json:"newFingerprint"`
}

// SaveDocument saves content. An empty expected fingerprint creates the
// document.
func (c *Client) SaveDocument(ctx context.Context, id document.ID, content jsonvalue.Value, expected document.Fingerprint) (document.Fingerprint, error) {
	if err := id.Validate(); err != nil {
		return "", err
	}
	body, err := json.Marshal(saveRequest{ID: id, Content: content, ExpectedFingerprint: expected})
	if err != nil {
		return "", fmt.Errorf("%w: %v", document.ErrInvalidDocument, err)
	}

	resp, err := c.do(ctx, http.MethodPost, "/api/save", nil, body, nil)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out saveResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: decode save response: %v", document.ErrIO, err)
	}
	if out.NewFingerprint.IsZero() {
		return "", fmt.Errorf("%w: server sent no fingerprint for %s", document.ErrIO, id)
	}
	return out.NewFingerprint, nil
}

// DeleteDocument deletes a document whose fingerprint is still expected.
func (c *Client) DeleteDocument(ctx context.Context, id document.ID, expected document.Fingerprint) error {
	if err := id.Validate(); err != nil {
		return err
	}
	header := http.Header{"If-Match": {strconv.Quote(string(expected))}}
	resp, err := c.do(ctx, http.MethodDelete, "/api/files/"+url.PathEscape(string(id)), nil, nil, header)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// Health reports whether the server answers its health check.
func (c *Client) Health(ctx context.Context) error {
	var status struct {
		Status string `json:"status"`
	}
	if err := c.getJSON(ctx, "/health", nil, &status); err != nil {
		return err
	}
	if status.Status != "ok" {
		return fmt.Errorf("%w: server status %q", document.ErrIO, status.Status)
	}
	return nil
}

func parseETag(tag string) document.Fingerprint {
	tag = strings.TrimPrefix(strings.TrimSpace(tag), "W/")
	if s, err := strconv.Unquote(tag); err == nil {
		return document.Fingerprint(s)
	}
	return document.Fingerprint(tag)
}

