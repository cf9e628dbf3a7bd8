// Package postgrest implements the RemoteStore port over a PostgREST HTTP API,
// the REST dialect served by hosted Postgres backends such as Supabase.
package postgrest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gregjones/httpcache"

	"github.com/ericfisherdev/studiopanel/internal/domain/model"
	"github.com/ericfisherdev/studiopanel/internal/domain/port/driven"
)

// restPath is where the REST API is mounted under the project URL.
const restPath = "/rest/v1"

// maxErrorBody bounds how much of an error response is read.
const maxErrorBody = 64 << 10

// Compile-time interface satisfaction check.
var _ driven.RemoteStore = (*Client)(nil)

// Client implements the driven.RemoteStore port against a PostgREST endpoint.
type Client struct {
	http    *http.Client
	baseURL *url.URL // REST root, e.g. https://xyz.supabase.co/rest/v1
	apiKey  string
}

// NewClient creates a remote store client for the project at projectURL.
// Selects go through an in-memory httpcache transport, so unchanged results
// are revalidated with ETags. Throttling responses are not retried here: the
// returned RemoteError carries the backend's Retry-After for the caller.
func NewClient(projectURL, apiKey string) (*Client, error) {
	return newClient(httpcache.NewMemoryCacheTransport().Client(), projectURL, restPath, apiKey)
}

// NewClientWithHTTPClient creates a Client with a custom http.Client whose
// REST root is baseURL itself. This constructor is intended for testing,
// allowing injection of an httptest server.
func NewClientWithHTTPClient(httpClient *http.Client, baseURL, apiKey string) (*Client, error) {
	return newClient(httpClient, baseURL, "", apiKey)
}

func newClient(httpClient *http.Client, rawURL, path, apiKey string) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(rawURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parsing remote URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("parsing remote URL: unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, errors.New("parsing remote URL: missing host")
	}
	u.Path += path

	return &Client{
		http:    httpClient,
		baseURL: u,
		apiKey:  apiKey,
	}, nil
}

// BaseURL returns the REST root the client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

// Select fetches every row of collection matching the query.
func (c *Client) Select(ctx context.Context, collection string, q model.Query) ([]model.Row, error) {
	params := filterParams(q.Filter)
	params.Set("select", "*")
	if order := orderParam(q.Order); order != "" {
		params.Set("order", order)
	}

	var rows []model.Row
	if err := c.do(ctx, http.MethodGet, collection, params, nil, "", &rows); err != nil {
		return nil, fmt.Errorf("select %s: %w", collection, err)
	}
	return nonNil(rows), nil
}

// Insert adds rows and returns them as stored, ids included.
func (c *Client) Insert(ctx context.Context, collection string, rows []model.Row) ([]model.Row, error) {
	var out []model.Row
	err := c.do(ctx, http.MethodPost, collection, url.Values{}, rows, "return=representation,missing=default", &out)
	if err != nil {
		return nil, fmt.Errorf("insert %s: %w", collection, err)
	}
	return nonNil(out), nil
}

// Update applies fields to the rows matching match and returns them.
func (c *Client) Update(ctx context.Context, collection string, fields model.Row, match model.Match) ([]model.Row, error) {
	if len(match) == 0 {
		return nil, fmt.Errorf("update %s: %w", collection, unfiltered())
	}

	var out []model.Row
	if err := c.do(ctx, http.MethodPatch, collection, filterParams(match), fields, "return=representation", &out); err != nil {
		return nil, fmt.Errorf("update %s: %w", collection, err)
	}
	return nonNil(out), nil
}

// Delete removes the rows matching match.
func (c *Client) Delete(ctx context.Context, collection string, match model.Match) error {
	if len(match) == 0 {
		return fmt.Errorf("delete %s: %w", collection, unfiltered())
	}

	if err := c.do(ctx, http.MethodDelete, collection, filterParams(match), nil, "return=minimal", nil); err != nil {
		return fmt.Errorf("delete %s: %w", collection, err)
	}
	return nil
}

// Upsert inserts rows, merging into existing rows that share the values of
// conflictKeys, and returns the resulting rows.
func (c *Client) Upsert(ctx context.Context, collection string, rows []model.Row, conflictKeys []string) ([]model.Row, error) {
	params := url.Values{}
	if len(conflictKeys) > 0 {
		params.Set("on_conflict", strings.Join(conflictKeys, ","))
	}

	var out []model.Row
	err := c.do(ctx, http.MethodPost, collection, params, rows, "resolution=merge-duplicates,return=representation,missing=default", &out)
	if err != nil {
		return nil, fmt.Errorf("upsert %s: %w", collection, err)
	}
	return nonNil(out), nil
}

// Ping checks that the endpoint answers and accepts the API key.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.do(ctx, http.MethodGet, "", url.Values{}, nil, "", nil); err != nil {
		return fmt.Errorf("ping remote: %w", err)
	}
	return nil
}

// do sends one request and decodes a JSON response into out when out is non-nil.
func (c *Client) do(ctx context.Context, method, collection string, params url.Values, body any, prefer string, out any) error {
	u := *c.baseURL
	u.Path += "/" + collection
	u.RawQuery = params.Encode()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return &driven.RemoteError{Kind: driven.ErrRemoteRejected, Message: fmt.Sprintf("encode request: %v", err)}
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return &driven.RemoteError{Kind: driven.ErrRemoteRejected, Message: fmt.Sprintf("build request: %v", err)}
	}
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if prefer != "" {
		req.Header.Set("Prefer", prefer)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		slog.Debug("remote call failed", "method", method, "collection", collection, "error", err)
		return &driven.RemoteError{Kind: driven.ErrRemoteUnavailable, Message: transportMessage(err)}
	}
	defer func() { _ = resp.Body.Close() }()

	slog.Debug("remote call",
		"method", method,
		"collection", collection,
		"status", resp.StatusCode,
		"duration", time.Since(start).Round(time.Millisecond),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return responseError(resp)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return &driven.RemoteError{Kind: driven.ErrRemoteUnavailable, StatusCode: resp.StatusCode, Message: fmt.Sprintf("decode response: %v", err)}
	}
	return nil
}

// apiError is the error body PostgREST returns.
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details"`
	Hint    string `json:"hint"`
}

// responseError classifies a non-2xx response. Timeouts, throttling and
// server errors are worth retrying; every other client error is a rejection.
func responseError(resp *http.Response) error {
	kind := driven.ErrRemoteRejected
	switch {
	case resp.StatusCode == http.StatusRequestTimeout,
		resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode >= 500:
		kind = driven.ErrRemoteUnavailable
	}

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	msg := strings.TrimSpace(string(raw))

	var body apiError
	if json.Unmarshal(raw, &body) == nil && body.Message != "" {
		msg = body.Message
		if body.Details != "" {
			msg += " (" + body.Details + ")"
		}
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}

	return &driven.RemoteError{
		Kind:       kind,
		StatusCode: resp.StatusCode,
		Message:    msg,
		RetryAfter: retryAfter(resp.Header.Get("Retry-After"), time.Now()),
	}
}

// retryAfter reads a Retry-After value, either delay seconds or an HTTP date.
func retryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil && at.After(now) {
		return at.Sub(now)
	}
	return 0
}

func transportMessage(err error) string {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return urlErr.Err.Error()
	}
	return err.Error()
}

func unfiltered() error {
	return &driven.RemoteError{Kind: driven.ErrRemoteRejected, Message: "refusing to write without a filter"}
}

func nonNil(rows []model.Row) []model.Row {
	if rows == nil {
		return []model.Row{}
	}
	return rows
}
