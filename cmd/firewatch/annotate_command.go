package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-firewatch/internal/log"
	"github.com/teslashibe/go-firewatch/pkg/jobs"
	"github.com/teslashibe/go-firewatch/pkg/pipeline"
	"github.com/teslashibe/go-firewatch/pkg/videoio"
)

func newAnnotateCommand(ctx *commandContext) *cobra.Command {
	var output string
	var confidence float64
	var frameSkip int
	var onError string

	cmd := &cobra.Command{
		Use:   "annotate <input>",
		Short: "Annotate a local video file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			input := args[0]
			if output == "" {
				output = defaultOutputPath(input)
			}
			if sameFile(input, output) {
				return fmt.Errorf("output %s would overwrite the input", output)
			}
			if !cmd.Flags().Changed("confidence") {
				confidence = cfg.Pipeline.Confidence
			}
			if !cmd.Flags().Changed("frame-skip") {
				frameSkip = cfg.Pipeline.FrameSkip
			}
			if !cmd.Flags().Changed("on-detector-error") {
				onError = cfg.Pipeline.OnDetectorError
			}

			params := jobs.Params{Confidence: confidence, FrameSkip: frameSkip}
			if err := params.Validate(); err != nil {
				return err
			}
			policy, ok := pipeline.ParseErrorPolicy(onError)
			if !ok {
				return fmt.Errorf("unknown --on-detector-error %q (want pass or abort)", onError)
			}

			det, _, err := buildDetector(cfg)
			if err != nil {
				return err
			}
			defer det.Close()

			logger := log.New(cmd.ErrOrStderr(), cfg.LogLevel, false)
			p := pipeline.New(videoio.New(cfg.Pipeline.FourCC), videoio.NewOverlay(), pipeline.WithLogger(logger))

			view := newProgressView(cmd.ErrOrStderr())
			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			stats, err := p.Run(runCtx, pipeline.Request{
				InputPath:           input,
				OutputPath:          output,
				ConfidenceThreshold: params.Confidence,
				FrameSkipInterval:   params.FrameSkip,
				Detector:            det,
				OnDetectorError:     policy,
				OnProgress:          view.update,
			})
			view.finish()
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), renderStats(stats))
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Output path (default <input>_annotated.mp4)")
	cmd.Flags().Float64Var(&confidence, "confidence", 0.35, "Detection confidence threshold (0.1-1.0)")
	cmd.Flags().IntVar(&frameSkip, "frame-skip", 1, "Run detection on every Nth frame (1-10)")
	cmd.Flags().StringVar(&onError, "on-detector-error", "pass", "What a detector failure does: pass or abort")
	return cmd
}

func defaultOutputPath(input string) string {
	ext := filepath.Ext(input)
	base := strings.TrimSuffix(input, ext)
	return base + "_annotated.mp4"
}

// sameFile reports whether a and b name the same file, either as the same
// cleaned absolute path or as existing links to one file.
func sameFile(a, b string) bool {
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	if errA == nil && errB == nil && absA == absB {
		return true
	}
	infoA, errA := os.Stat(a)
	infoB, errB := os.Stat(b)
	return errA == nil && errB == nil && os.SameFile(infoA, infoB)
}
