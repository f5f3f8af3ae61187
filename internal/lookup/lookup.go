// Package lookup queries third-party HTTP data services (for example the
// school's grade and vacancy API) on behalf of flow handlers.
package lookup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

var (
	// ErrLookupFailed wraps transport and status failures.
	ErrLookupFailed = errors.New("lookup failed")
	// ErrInvalidResponse is returned when the body is not JSON.
	ErrInvalidResponse = errors.New("invalid lookup response")
)

// DefaultTimeout bounds a single query.
const DefaultTimeout = 10 * time.Second

// Params selects a resource and optional query parameters.
type Params struct {
	Path  string
	Query map[string]string
}

// Result is a parsed JSON document.
type Result struct {
	doc gjson.Result
}

// ParseResult wraps raw JSON.
func ParseResult(raw []byte) (Result, error) {
	if !gjson.ValidBytes(raw) {
		return Result{}, ErrInvalidResponse
	}
	return Result{doc: gjson.ParseBytes(raw)}, nil
}

// Get returns the value at a gjson path, e.g. "#(nombre==\"3 Años\").vacante".
func (r Result) Get(path string) gjson.Result {
	return r.doc.Get(path)
}

// Array returns the top-level array elements, or nil when the document is not an array.
func (r Result) Array() []gjson.Result {
	if !r.doc.IsArray() {
		return nil
	}
	return r.doc.Array()
}

// Find returns the first element of the top-level array whose fields equal
// every entry of match.
func (r Result) Find(match map[string]string) (gjson.Result, bool) {
	for _, item := range r.Array() {
		ok := true
		for k, v := range match {
			if item.Get(k).String() != v {
				ok = false
				break
			}
		}
		if ok {
			return item, true
		}
	}
	return gjson.Result{}, false
}

// Raw returns the JSON text.
func (r Result) Raw() string {
	return r.doc.Raw
}

// Client is the lookup adapter used by flow handlers.
type Client interface {
	Query(ctx context.Context, p Params) (Result, error)
}

// HTTPClient issues GET requests against a base URL.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient creates a client rooted at baseURL. A nil client gets DefaultTimeout.
func NewHTTPClient(baseURL string, client *http.Client) *HTTPClient {
	if client == nil {
		client = &http.Client{Timeout: DefaultTimeout}
	}
	return &HTTPClient{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

func (c *HTTPClient) Query(ctx context.Context, p Params) (Result, error) {
	u := c.baseURL + "/" + strings.TrimLeft(p.Path, "/")
	if len(p.Query) > 0 {
		q := url.Values{}
		for k, v := range p.Query {
			q.Set(k, v)
		}
		u += "?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrLookupFailed, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		slog.Error("HTTPClient.Query: request failed", "url", u, "error", err)
		return Result{}, fmt.Errorf("%w: %v", ErrLookupFailed, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrLookupFailed, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		slog.Warn("HTTPClient.Query: unexpected status", "url", u, "status", resp.StatusCode)
		return Result{}, fmt.Errorf("%w: %s returned status %d", ErrLookupFailed, u, resp.StatusCode)
	}
	return ParseResult(body)
}
