// Package providers contains the vendor integrations: one file per
// external data vendor, a shared JSON API client, and fetch middleware
// for logging, retry, recovery, and circuit breaking.
package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

// APIRequest describes one JSON API call and how to extract items from
// its response.
type APIRequest struct {
	Method string // default GET
	URL    string
	// Headers are set on the request; ${ENV_VAR} patterns in values are
	// expanded from the environment.
	Headers map[string]string
	Body    io.Reader
	// ResultPath walks into the response with dot notation ("data.results")
	// to find the array of items. Empty means the root is the array.
	ResultPath string
	// Fields remaps item keys: canonical name to vendor key. Nil keeps the
	// raw vendor item.
	Fields map[string]string
}

// Client calls JSON APIs and extracts item lists. Shared by all vendor
// integrations; construct once per provider.
type Client struct {
	http     *http.Client
	maxBytes int64
}

// NewClient wraps an HTTP client. A nil argument gets a 30-second-timeout
// default.
func NewClient(hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{http: hc, maxBytes: 10 * 1024 * 1024}
}

// Items performs the call, walks ResultPath, and returns one map per item
// with Fields applied.
func (c *Client) Items(ctx context.Context, r APIRequest) ([]map[string]any, error) {
	raw, err := c.fetchJSON(ctx, r)
	if err != nil {
		return nil, err
	}
	items, err := walkPath(raw, r.ResultPath)
	if err != nil {
		return nil, fmt.Errorf("providers: walk path %q: %w", r.ResultPath, err)
	}
	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		out = append(out, remap(obj, r.Fields))
	}
	return out, nil
}

// Object performs the call and returns the single object at ResultPath
// (Fields applied), for vendors whose responses are not item lists.
func (c *Client) Object(ctx context.Context, r APIRequest) (map[string]any, error) {
	path := r.ResultPath
	r.ResultPath = ""
	items, err := c.call(ctx, r, path)
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (c *Client) call(ctx context.Context, r APIRequest, objPath string) (map[string]any, error) {
	raw, err := c.fetchJSON(ctx, r)
	if err != nil {
		return nil, err
	}
	node, err := walk(raw, objPath)
	if err != nil {
		return nil, fmt.Errorf("providers: walk path %q: %w", objPath, err)
	}
	obj, ok := node.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("providers: path %q is not an object", objPath)
	}
	return remap(obj, r.Fields), nil
}

func (c *Client) fetchJSON(ctx context.Context, r APIRequest) (any, error) {
	method := r.Method
	if method == "" {
		method = http.MethodGet
	}
	req, err := http.NewRequestWithContext(ctx, method, r.URL, r.Body)
	if err != nil {
		return nil, fmt.Errorf("providers: new request: %w", err)
	}
	for k, v := range r.Headers {
		req.Header.Set(k, os.Expand(v, os.Getenv))
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("providers: http: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 400 {
		return nil, fmt.Errorf("providers: http %d from %s", resp.StatusCode, req.URL.Host)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBytes))
	if err != nil {
		return nil, fmt.Errorf("providers: read body: %w", err)
	}

	var raw any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("providers: json decode: %w", err)
	}
	return raw, nil
}

// walk follows a dot-notation path into a JSON value. Numeric parts index
// into arrays ("tasks.0.result").
func walk(v any, path string) (any, error) {
	if path == "" {
		return v, nil
	}
	current := v
	for _, part := range strings.Split(path, ".") {
		if idx, err := strconv.Atoi(part); err == nil {
			arr, ok := current.([]any)
			if !ok {
				return nil, fmt.Errorf("expected array at %q, got %T", part, current)
			}
			if idx < 0 || idx >= len(arr) {
				return nil, fmt.Errorf("index %d out of range", idx)
			}
			current = arr[idx]
			continue
		}
		obj, ok := current.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("expected object at %q, got %T", part, current)
		}
		current, ok = obj[part]
		if !ok {
			return nil, fmt.Errorf("key %q not found", part)
		}
	}
	return current, nil
}

// walkPath walks to the array of items at path.
func walkPath(v any, path string) ([]any, error) {
	node, err := walk(v, path)
	if err != nil {
		return nil, err
	}
	arr, ok := node.([]any)
	if !ok {
		return nil, fmt.Errorf("path is not an array")
	}
	return arr, nil
}

// remap builds a canonical item from a vendor item. Vendor keys absent
// from the item are simply omitted.
func remap(obj map[string]any, fields map[string]string) map[string]any {
	if fields == nil {
		return obj
	}
	out := make(map[string]any, len(fields))
	for canonical, vendorKey := range fields {
		if v, ok := obj[vendorKey]; ok && v != nil {
			out[canonical] = v
		}
	}
	return out
}
