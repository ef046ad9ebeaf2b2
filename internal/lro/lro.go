// Package lro talks to Google-style REST APIs that return long-running
// operations: a start call yields an operation name which is then fetched until
// "done" is set.
package lro

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/snarg/vidsearch/internal/poll"
)

// Client is a minimal JSON-over-HTTP client with bearer auth.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewClient creates a client for baseURL (e.g. "https://speech.googleapis.com").
func NewClient(baseURL, token string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: timeout},
	}
}

// APIError is a non-2xx response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (status %d): %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 APIError.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// Do sends body (if non-nil) as JSON to path and decodes the response into out (if non-nil).
func (c *Client) Do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{StatusCode: resp.StatusCode, Message: errorMessage(data)}
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// errorMessage extracts {"error":{"message":...}} or falls back to the raw body.
func errorMessage(body []byte) string {
	var env struct {
		Error *Status `json:"error"`
	}
	if json.Unmarshal(body, &env) == nil && env.Error != nil && env.Error.Message != "" {
		return env.Error.Message
	}
	return strings.TrimSpace(string(body))
}

// Status is google.rpc.Status.
type Status struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (s *Status) Error() string {
	return fmt.Sprintf("code %d: %s", s.Code, s.Message)
}

// Operation is google.longrunning.Operation.
type Operation struct {
	Name     string          `json:"name"`
	Done     bool            `json:"done"`
	Error    *Status         `json:"error,omitempty"`
	Response json.RawMessage `json:"response,omitempty"`
}

// Start POSTs body to path and returns a pollable handle for the resulting operation.
// version is the URL prefix used to fetch the operation ("v1", "v2").
func (c *Client) Start(ctx context.Context, version, path string, body any) (*Handle, error) {
	var op Operation
	if err := c.Do(ctx, http.MethodPost, path, body, &op); err != nil {
		return nil, err
	}
	if op.Name == "" {
		return nil, errors.New("response did not include an operation name")
	}
	return &Handle{client: c, version: version, name: op.Name, last: &op}, nil
}

// Handle tracks one operation and implements poll.Operation.
type Handle struct {
	client  *Client
	version string
	name    string
	last    *Operation
}

// NewHandle resumes tracking a known operation name.
func (c *Client) NewHandle(version, name string) *Handle {
	return &Handle{client: c, version: version, name: name}
}

func (h *Handle) Name() string { return h.name }

func (h *Handle) Poll(ctx context.Context) (poll.Status, error) {
	if h.last == nil || !h.last.Done {
		var op Operation
		if err := h.client.Do(ctx, http.MethodGet, "/"+h.version+"/"+h.name, nil, &op); err != nil {
			return poll.Status{}, err
		}
		h.last = &op
	}
	switch {
	case !h.last.Done:
		return poll.Status{State: poll.Pending}, nil
	case h.last.Error != nil:
		return poll.Status{State: poll.Faulted, Fault: h.last.Error}, nil
	default:
		return poll.Status{State: poll.Done}, nil
	}
}

// Response returns the last fetched operation response, or nil before completion.
func (h *Handle) Response() json.RawMessage {
	if h.last == nil || !h.last.Done {
		return nil
	}
	return h.last.Response
}

// ParseDuration parses a protobuf JSON duration such as "1.500s" or "3s".
// An empty string is zero.
func ParseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	if !strings.HasSuffix(s, "s") {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	secs, err := strconv.ParseFloat(strings.TrimSuffix(s, "s"), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	return time.Duration(math.Round(secs * float64(time.Second))), nil
}
