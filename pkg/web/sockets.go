package web

import (
	"encoding/json"

	contribws "github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-firewatch/pkg/hub"
	"github.com/teslashibe/go-firewatch/pkg/jobs"
)

func progressHub(id string) string {
	return "progress:" + id
}

func previewHub(id string) string {
	return "preview:" + id
}

// requireJob rejects websocket upgrades for unknown jobs.
func (s *Server) requireJob(c *fiber.Ctx) error {
	if _, err := s.jobs.Get(c.Params("id")); err != nil {
		return httpError(err)
	}
	return c.Next()
}

// progressSocket streams JSON status and progress events. A job that has
// already finished gets its final state and a close frame.
func (s *Server) progressSocket() fiber.Handler {
	return contribws.New(func(c *contribws.Conn) {
		id := c.Params("id")
		job, err := s.jobs.Get(id)
		if err != nil {
			c.Close()
			return
		}
		snapshot, _ := json.Marshal(jobs.Event{Type: jobs.EventStatus, JobID: id, Job: &job})

		if job.Status.Terminal() {
			c.WriteMessage(contribws.TextMessage, snapshot)
			c.WriteMessage(contribws.CloseMessage, contribws.FormatCloseMessage(contribws.CloseNormalClosure, ""))
			c.Close()
			return
		}

		h := s.attach(id, progressHub(id))
		client := hub.NewClient(h, c)
		client.Send(hub.Text(snapshot))
		client.Run()
	})
}

// previewSocket streams annotated sampled frames as binary JPEG messages.
func (s *Server) previewSocket() fiber.Handler {
	return websocket.New(func(c *websocket.Conn) {
		id := c.Params("id")
		job, err := s.jobs.Get(id)
		if err != nil || job.Status.Terminal() {
			c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			c.Close()
			return
		}

		h := s.attach(id, previewHub(id))
		hub.NewClient(h, c).Run()
	})
}

// attach returns the named hub for a job, subscribing to the job's events
// the first time any of its hubs is needed.
func (s *Server) attach(id, name string) *hub.Hub {
	h, _ := s.hubs.Acquire(name)

	s.feedsMu.Lock()
	_, subscribed := s.feeds[id]
	if !subscribed {
		unsub, err := s.jobs.Subscribe(id, func(ev jobs.Event) { s.dispatch(ev) })
		if err != nil {
			s.feedsMu.Unlock()
			s.logger.Warn("subscribe to job", "job", id, "error", err)
			s.hubs.Remove(name)
			return h
		}
		s.feeds[id] = unsub
	}
	s.feedsMu.Unlock()

	// The job may have finished before the subscription existed.
	if job, err := s.jobs.Get(id); err != nil || job.Status.Terminal() {
		s.release(id)
	}
	return h
}

// dispatch routes one job event to the hubs watching it.
func (s *Server) dispatch(ev jobs.Event) {
	switch ev.Type {
	case jobs.EventPreview:
		if h, ok := s.hubs.Get(previewHub(ev.JobID)); ok {
			h.BroadcastBinary(ev.Image)
		}
	case jobs.EventProgress, jobs.EventStatus:
		if h, ok := s.hubs.Get(progressHub(ev.JobID)); ok {
			if err := h.BroadcastJSON(ev); err != nil {
				s.logger.Warn("encode job event", "job", ev.JobID, "error", err)
			}
		}
	}

	if ev.Type == jobs.EventStatus && ev.Job != nil && ev.Job.Status.Terminal() {
		s.release(ev.JobID)
	}
}

// release drops the job subscription and closes its hubs, which flushes
// pending messages and sends close frames.
func (s *Server) release(id string) {
	s.feedsMu.Lock()
	unsub, ok := s.feeds[id]
	delete(s.feeds, id)
	s.feedsMu.Unlock()
	if ok {
		unsub()
	}
	s.hubs.Remove(progressHub(id))
	s.hubs.Remove(previewHub(id))
}
