package web

import (
	_ "embed"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/teslashibe/go-firewatch/pkg/jobs"
)

// DownloadName is the attachment name of annotated videos.
const DownloadName = "processed_video.mp4"

//go:embed static/index.html
var indexHTML []byte

func handleIndex(c *fiber.Ctx) error {
	c.Type("html", "utf-8")
	return c.Send(indexHTML)
}

func handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

// handleSubmit accepts a multipart upload and queues a job
func (s *Server) handleSubmit(c *fiber.Ctx) error {
	fh, err := c.FormFile("video")
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "no video file uploaded")
	}
	if !strings.EqualFold(filepath.Ext(fh.Filename), ".mp4") {
		return fiber.NewError(fiber.StatusBadRequest, "only .mp4 files are supported")
	}

	params, err := s.parseParams(c)
	if err != nil {
		return err
	}

	f, err := fh.Open()
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "cannot read upload: "+err.Error())
	}
	defer f.Close()

	job, err := s.jobs.Submit(c.UserContext(), f, fh.Filename, params)
	if err != nil {
		return httpError(err)
	}
	return c.Status(fiber.StatusAccepted).JSON(job)
}

func (s *Server) parseParams(c *fiber.Ctx) (jobs.Params, error) {
	params := s.cfg.Defaults

	if v := c.FormValue("confidence"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return params, fiber.NewError(fiber.StatusBadRequest, "confidence must be a number")
		}
		params.Confidence = f
	}
	if v := c.FormValue("frame_skip"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return params, fiber.NewError(fiber.StatusBadRequest, "frame_skip must be an integer")
		}
		params.FrameSkip = n
	}
	return params, nil
}

func (s *Server) handleList(c *fiber.Ctx) error {
	return c.JSON(s.jobs.List())
}

func (s *Server) handleGet(c *fiber.Ctx) error {
	job, err := s.jobs.Get(c.Params("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(job)
}

// handleDelete cancels a job and removes its files
func (s *Server) handleDelete(c *fiber.Ctx) error {
	id := c.Params("id")
	if err := s.jobs.Delete(c.UserContext(), id); err != nil {
		return httpError(err)
	}
	s.release(id)
	return c.SendStatus(fiber.StatusNoContent)
}

// handleDownload streams the annotated video once the job completed
func (s *Server) handleDownload(c *fiber.Ctx) error {
	path, err := s.jobs.OutputPath(c.Params("id"))
	if err != nil {
		return httpError(err)
	}
	c.Set(fiber.HeaderContentType, "video/mp4")
	return c.Download(path, DownloadName)
}
