package backend

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/suniash/yolo-playground/internal/jobs"
)

// Shares reads jobs through share links. A share id stands in for the job id,
// so Shares satisfies jobs.StatusFetcher and artifacts.Fetcher with the share
// id in the job id position. The backend answers 404 for an invalid link.
type Shares struct {
	c *Client
}

// Shares returns the share-link view of the backend.
func (c *Client) Shares() *Shares {
	return &Shares{c: c}
}

// GetJob fetches the job behind a share link.
func (s *Shares) GetJob(ctx context.Context, shareID string) (jobs.Snapshot, error) {
	var js jobs.Snapshot
	if err := s.c.getJSON(ctx, sharePath(shareID, "job"), &js); err != nil {
		return jobs.Snapshot{}, err
	}
	return js, nil
}

// FetchArtifact returns the raw JSON of an artifact of a shared job.
func (s *Shares) FetchArtifact(ctx context.Context, shareID, name string) ([]byte, error) {
	path := sharePath(shareID, name)
	resp, err := s.c.do(ctx, s.c.http, http.MethodGet, path)
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

func sharePath(shareID, name string) string {
	return "/share/" + url.PathEscape(shareID) + "/" + url.PathEscape(name)
}
