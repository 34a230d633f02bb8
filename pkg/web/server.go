// Package web serves the upload page, the job API and live job feeds.
package web

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/teslashibe/go-firewatch/internal/log"
	"github.com/teslashibe/go-firewatch/pkg/hub"
	"github.com/teslashibe/go-firewatch/pkg/jobs"
)

// Jobs is the job store the server fronts.
type Jobs interface {
	Submit(ctx context.Context, upload io.Reader, filename string, params jobs.Params) (jobs.Job, error)
	Get(id string) (jobs.Job, error)
	List() []jobs.Job
	OutputPath(id string) (string, error)
	Delete(ctx context.Context, id string) error
	Subscribe(id string, fn func(jobs.Event)) (func(), error)
}

// Config configures the server.
type Config struct {
	Addr        string
	MaxUploadMB int
	CORS        bool

	// Defaults fill in form fields the client leaves empty.
	Defaults jobs.Params
}

// Server is the HTTP host shell.
type Server struct {
	app    *fiber.App
	cfg    Config
	jobs   Jobs
	hubs   *hub.Registry
	logger *slog.Logger

	// Manager subscriptions feeding the hubs, by job ID
	feedsMu sync.Mutex
	feeds   map[string]func()
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// NewServer creates the server and registers all routes.
func NewServer(j Jobs, cfg Config, opts ...Option) *Server {
	if cfg.MaxUploadMB <= 0 {
		cfg.MaxUploadMB = 512
	}
	if cfg.Defaults == (jobs.Params{}) {
		cfg.Defaults = jobs.DefaultParams()
	}

	s := &Server{
		cfg:    cfg,
		jobs:   j,
		hubs:   hub.NewRegistry(),
		logger: log.L(),
		feeds:  make(map[string]func()),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "web")

	app := fiber.New(fiber.Config{
		AppName:               "firewatch",
		DisableStartupMessage: true,
		BodyLimit:             cfg.MaxUploadMB * 1024 * 1024,
		ErrorHandler:          errorHandler,
	})

	app.Use(recover.New())
	if cfg.CORS {
		app.Use(cors.New())
	}

	app.Get("/", handleIndex)
	app.Get("/healthz", handleHealth)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	api := app.Group("/api")
	api.Post("/jobs", s.handleSubmit)
	api.Get("/jobs", s.handleList)
	api.Get("/jobs/:id", s.handleGet)
	api.Delete("/jobs/:id", s.handleDelete)
	api.Get("/jobs/:id/download", s.handleDownload)

	// WebSocket upgrade middleware
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws/jobs/:id/progress", s.requireJob, s.progressSocket())
	app.Get("/ws/jobs/:id/preview", s.requireJob, s.previewSocket())

	s.app = app
	return s
}

// App exposes the fiber app, mainly for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Start listens on the configured address. It blocks until Shutdown.
func (s *Server) Start() error {
	s.logger.Info("listening", "addr", s.cfg.Addr)
	return s.app.Listen(s.cfg.Addr)
}

// Shutdown closes live feeds and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.feedsMu.Lock()
	for id, unsub := range s.feeds {
		unsub()
		delete(s.feeds, id)
	}
	s.feedsMu.Unlock()
	s.hubs.CloseAll()
	return s.app.ShutdownWithContext(ctx)
}

func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}
	return c.Status(code).JSON(fiber.Map{"error": err.Error()})
}

// httpError maps job errors onto HTTP statuses.
func httpError(err error) error {
	switch {
	case errors.Is(err, jobs.ErrInvalidParams):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, jobs.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, jobs.ErrNotReady):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	case errors.Is(err, jobs.ErrClosed):
		return fiber.NewError(fiber.StatusServiceUnavailable, err.Error())
	default:
		return err
	}
}
