package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-firewatch/pkg/client"
	"github.com/teslashibe/go-firewatch/pkg/jobs"
)

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	var server string
	var output string
	var confidence float64
	var frameSkip int
	var noWait bool

	cmd := &cobra.Command{
		Use:   "submit <file.mp4>",
		Short: "Upload a video to a firewatch server and fetch the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("confidence") {
				confidence = cfg.Pipeline.Confidence
			}
			if !cmd.Flags().Changed("frame-skip") {
				frameSkip = cfg.Pipeline.FrameSkip
			}

			c, err := client.New(server)
			if err != nil {
				return err
			}

			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			out := cmd.OutOrStdout()
			job, err := c.Submit(runCtx, args[0], jobs.Params{Confidence: confidence, FrameSkip: frameSkip})
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Submitted job %s\n", job.ID)
			if noWait {
				return nil
			}

			view := newProgressView(cmd.ErrOrStderr())
			final, err := c.Follow(runCtx, job.ID, func(ev jobs.Event) {
				if ev.Type == jobs.EventProgress && ev.Progress != nil {
					view.update(*ev.Progress)
				}
			})
			view.finish()
			if err != nil {
				return err
			}
			if final.Status != jobs.StatusCompleted {
				return fmt.Errorf("job %s %s: %s", final.ID, final.Status, final.Error)
			}

			if final.Stats != nil {
				fmt.Fprintln(out, renderStats(*final.Stats))
			}
			if final.ExportURL != "" {
				fmt.Fprintf(out, "Exported to %s\n", final.ExportURL)
			}

			if output == "" {
				output = defaultOutputPath(args[0])
			}
			n, err := c.DownloadFile(runCtx, job.ID, output)
			if err != nil {
				return fmt.Errorf("download result: %w", err)
			}
			fmt.Fprintf(out, "Saved %s (%d bytes)\n", output, n)
			return nil
		},
	}

	cmd.Flags().StringVarP(&server, "server", "s", defaultServerURL(), "Server URL (env "+envServer+")")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Where to save the result (default <input>_annotated.mp4)")
	cmd.Flags().Float64Var(&confidence, "confidence", 0.35, "Detection confidence threshold (0.1-1.0)")
	cmd.Flags().IntVar(&frameSkip, "frame-skip", 1, "Run detection on every Nth frame (1-10)")
	cmd.Flags().BoolVar(&noWait, "no-wait", false, "Return after the upload without following the job")
	return cmd
}
