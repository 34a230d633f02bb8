package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-firewatch/internal/log"
	"github.com/teslashibe/go-firewatch/pkg/export"
	"github.com/teslashibe/go-firewatch/pkg/jobs"
	"github.com/teslashibe/go-firewatch/pkg/pipeline"
	"github.com/teslashibe/go-firewatch/pkg/videoio"
	"github.com/teslashibe/go-firewatch/pkg/web"
)

const sweepInterval = time.Minute

func newServeCommand(ctx *commandContext) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the upload page and job API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}
			logger := log.L()

			policy, ok := pipeline.ParseErrorPolicy(cfg.Pipeline.OnDetectorError)
			if !ok {
				return fmt.Errorf("unknown pipeline.on_detector_error %q", cfg.Pipeline.OnDetectorError)
			}

			// One detector for the whole process, shared by every job.
			det, labels, err := buildDetector(cfg)
			if err != nil {
				return err
			}
			defer det.Close()
			logger.Info("detector loaded", "model", cfg.Detector.ModelPath, "labels", labels, "classes", cfg.Detector.Classes)

			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			p := pipeline.New(videoio.New(cfg.Pipeline.FourCC), videoio.NewOverlay(), pipeline.WithLogger(logger))

			quality := cfg.Server.PreviewQuality
			opts := []jobs.Option{
				jobs.WithLogger(logger),
				jobs.WithPreviewEncoder(func(f pipeline.Frame) ([]byte, error) {
					return videoio.EncodeJPEG(f, quality)
				}),
			}

			exp, err := export.New(runCtx, cfg.Export)
			if err != nil {
				return fmt.Errorf("configure export: %w", err)
			}
			if exp != nil {
				logger.Info("export enabled", "backend", exp.Name())
				opts = append(opts, jobs.WithExporter(exp))
			}

			manager, err := jobs.NewManager(p, det, jobs.Config{
				WorkDir:         cfg.Jobs.WorkDir,
				MaxConcurrent:   cfg.Jobs.MaxConcurrent,
				ResultTTL:       cfg.Jobs.ResultTTL(),
				OnDetectorError: policy,
			}, opts...)
			if err != nil {
				return err
			}
			defer manager.Close()
			manager.StartSweeper(runCtx, sweepInterval)

			srv := web.NewServer(manager, web.Config{
				Addr:        cfg.Server.Addr,
				MaxUploadMB: cfg.Server.MaxUploadMB,
				CORS:        cfg.Server.CORS,
				Defaults: jobs.Params{
					Confidence: cfg.Pipeline.Confidence,
					FrameSkip:  cfg.Pipeline.FrameSkip,
				},
			}, web.WithLogger(logger))

			errCh := make(chan error, 1)
			go func() { errCh <- srv.Start() }()

			select {
			case err := <-errCh:
				return err
			case <-runCtx.Done():
			}

			logger.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides server.addr)")
	return cmd
}
