package backend

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/suniash/yolo-playground/internal/jobs"
)

// updatesPath is the backend's job update stream.
const updatesPath = "/updates/jobs"

// maxEventSize bounds a single SSE line; full list snapshots can be large.
const maxEventSize = 4 << 20

// event is one dispatched server-sent event.
type event struct {
	name string
	data string
}

// Subscribe opens the job update stream and calls fn for every list or job
// event, on the calling goroutine, until ctx is done or the stream ends.
// Events that fail to decode are skipped. It always returns a non-nil error.
func (c *Client) Subscribe(ctx context.Context, fn func(jobs.Update)) error {
	resp, err := c.openStream(ctx)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	err = readEvents(resp.Body, func(ev event) {
		u, ok := decodeUpdate(ev)
		if ok {
			fn(u)
		}
	})
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err == nil {
		err = io.EOF
	}
	return fmt.Errorf("job update stream: %w", err)
}

func (c *Client) openStream(ctx context.Context) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+updatesPath, nil)
	if err != nil {
		return nil, fmt.Errorf("build stream request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.stream.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", updatesPath, err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &StatusError{Method: http.MethodGet, Path: updatesPath, Code: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	return resp, nil
}

func decodeUpdate(ev event) (jobs.Update, bool) {
	switch jobs.UpdateKind(ev.name) {
	case jobs.UpdateList:
		var list []jobs.Snapshot
		if err := json.Unmarshal([]byte(ev.data), &list); err != nil {
			return jobs.Update{}, false
		}
		return jobs.Update{Kind: jobs.UpdateList, List: list}, true
	case jobs.UpdateJob:
		var s jobs.Snapshot
		if err := json.Unmarshal([]byte(ev.data), &s); err != nil || s.ID == "" {
			return jobs.Update{}, false
		}
		return jobs.Update{Kind: jobs.UpdateJob, Job: s}, true
	}
	return jobs.Update{}, false
}

// readEvents parses a text/event-stream body and dispatches each event on a
// blank line. Comment lines and id/retry fields are ignored.
func readEvents(r io.Reader, dispatch func(event)) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64<<10), maxEventSize)

	var name string
	var data []string
	for sc.Scan() {
		line := strings.TrimSuffix(sc.Text(), "\r")
		if line == "" {
			if len(data) > 0 {
				if name == "" {
					name = "message"
				}
				dispatch(event{name: name, data: strings.Join(data, "\n")})
			}
			name, data = "", data[:0]
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			name = value
		case "data":
			data = append(data, value)
		}
	}
	return sc.Err()
}
