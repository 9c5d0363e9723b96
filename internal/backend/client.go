package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/suniash/yolo-playground/internal/jobs"
)

// DefaultBaseURL is the analytics backend API root.
const DefaultBaseURL = "http://localhost:8000/api"

// maxErrorBody bounds how much of a failed response body is kept in StatusError.
const maxErrorBody = 4 << 10

// StatusError is returned when the backend answers with a non-2xx status.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("backend %s %s: status %d: %s", e.Method, e.Path, e.Code, e.Body)
}

// Is lets errors.Is(err, jobs.ErrNotFound) match a 404.
func (e *StatusError) Is(target error) bool {
	return target == jobs.ErrNotFound && e.Code == http.StatusNotFound
}

// IsNotFound reports whether err is a backend 404.
func IsNotFound(err error) bool {
	return errors.Is(err, jobs.ErrNotFound)
}

// Client talks to the analytics backend over REST and server-sent events.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	// stream has no overall timeout; SSE connections live until cancelled.
	stream *http.Client
}

// NewClient returns a Client for baseURL. timeout bounds each REST call.
// apiKey, when non-empty, is sent as X-API-Key.
func NewClient(baseURL string, timeout time.Duration, apiKey string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
		stream:  &http.Client{},
	}
}

// GetJob fetches the current snapshot of a job.
func (c *Client) GetJob(ctx context.Context, id string) (jobs.Snapshot, error) {
	var s jobs.Snapshot
	if err := c.getJSON(ctx, "/jobs/"+url.PathEscape(id), &s); err != nil {
		return jobs.Snapshot{}, err
	}
	return s, nil
}

// ListJobs fetches all jobs, newest first.
func (c *Client) ListJobs(ctx context.Context) ([]jobs.Snapshot, error) {
	var list []jobs.Snapshot
	if err := c.getJSON(ctx, "/jobs", &list); err != nil {
		return nil, err
	}
	return list, nil
}

// FetchArtifact returns the raw JSON of a job artifact (tracks, metrics, events).
func (c *Client) FetchArtifact(ctx context.Context, jobID, name string) ([]byte, error) {
	path := "/jobs/" + url.PathEscape(jobID) + "/" + url.PathEscape(name)
	resp, err := c.do(ctx, c.http, http.MethodGet, path)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return body, nil
}

// Rerun asks the backend to rerun analytics for a job and returns the
// updated snapshot.
func (c *Client) Rerun(ctx context.Context, id string) (jobs.Snapshot, error) {
	path := "/jobs/" + url.PathEscape(id) + "/rerun"
	resp, err := c.do(ctx, c.http, http.MethodPost, path)
	if err != nil {
		return jobs.Snapshot{}, err
	}
	defer resp.Body.Close()

	var s jobs.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		return jobs.Snapshot{}, fmt.Errorf("decode %s: %w", path, err)
	}
	return s, nil
}

func (c *Client) getJSON(ctx context.Context, path string, v any) error {
	resp, err := c.do(ctx, c.http, http.MethodGet, path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// do sends a request and returns the response when the status is 2xx.
// The caller closes the body.
func (c *Client) do(ctx context.Context, hc *http.Client, method, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("build %s %s: %w", method, path, err)
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &StatusError{Method: method, Path: path, Code: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	return resp, nil
}
