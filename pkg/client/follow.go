package client

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-firewatch/pkg/jobs"
)

func (c *Client) wsURL(parts ...string) string {
	u := *c.base
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	base := u.String()
	for _, p := range parts {
		base += "/" + p
	}
	return base
}

// Follow streams a job's status and progress events to fn until the job
// finishes, and returns its final state.
func (c *Client) Follow(ctx context.Context, id string, fn func(jobs.Event)) (jobs.Job, error) {
	conn, resp, err := c.dialer.DialContext(ctx, c.wsURL("ws", "jobs", id, "progress"), nil)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
			return jobs.Job{}, fmt.Errorf("follow %s: %w (http %d)", id, err, resp.StatusCode)
		}
		return jobs.Job{}, fmt.Errorf("follow %s: %w", id, err)
	}
	defer conn.Close()

	// Unblock ReadMessage when ctx ends.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return jobs.Job{}, ctx.Err()
			}
			// The server closes the feed once the job is done; confirm
			// over the API.
			job, gerr := c.Get(ctx, id)
			if gerr != nil {
				return jobs.Job{}, gerr
			}
			if job.Status.Terminal() {
				return job, nil
			}
			return job, fmt.Errorf("follow %s: feed closed while %s: %w", id, job.Status, err)
		}

		var ev jobs.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			continue
		}
		if fn != nil {
			fn(ev)
		}
		if ev.Type == jobs.EventStatus && ev.Job != nil && ev.Job.Status.Terminal() {
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return *ev.Job, nil
		}
	}
}
