package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"

	"github.com/teslashibe/go-firewatch/internal/config"
	"github.com/teslashibe/go-firewatch/internal/log"
	"github.com/teslashibe/go-firewatch/pkg/detection"
	"github.com/teslashibe/go-firewatch/pkg/detection/yolo"
	"github.com/teslashibe/go-firewatch/pkg/jobs"
	"github.com/teslashibe/go-firewatch/pkg/pipeline"
)

const envServer = "FIREWATCH_SERVER"

func defaultServerURL() string {
	return config.Env(envServer, "http://localhost:8080")
}

func isTerminal(w io.Writer) bool {
	file, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// buildDetector loads the YOLO model named by the configuration and
// applies the class allow-list. It also returns the model's labels.
func buildDetector(cfg *config.Config) (detection.Detector, []string, error) {
	labels := cfg.Detector.Labels
	if cfg.Detector.LabelsPath != "" {
		loaded, err := detection.LoadLabels(cfg.Detector.LabelsPath)
		if err != nil {
			return nil, nil, err
		}
		labels = loaded
	}
	if err := checkClasses(labels, cfg.Detector.Classes); err != nil {
		return nil, nil, err
	}

	det, err := yolo.New(yolo.Config{
		ModelPath:   cfg.Detector.ModelPath,
		Labels:      labels,
		NMSThresh:   float32(cfg.Detector.NMSThreshold),
		InputWidth:  cfg.Detector.InputSize,
		InputHeight: cfg.Detector.InputSize,
		Logger:      log.L(),
	})
	if err != nil {
		return nil, nil, err
	}
	return detection.OnlyLabels(det, cfg.Detector.Classes...), det.Labels(), nil
}

// checkClasses rejects allow-list entries the model cannot report.
func checkClasses(labels, classes []string) error {
	known := make(map[string]bool, len(labels))
	for _, l := range labels {
		known[l] = true
	}
	for _, c := range classes {
		if !known[c] {
			return fmt.Errorf("detector.classes: %q is not one of the model labels %v", c, labels)
		}
	}
	return nil
}

// progressView renders pipeline progress on a terminal. A nil view
// ignores updates.
type progressView struct {
	w   io.Writer
	bar *progressbar.ProgressBar
}

func newProgressView(w io.Writer) *progressView {
	if !isTerminal(w) {
		return nil
	}
	return &progressView{w: w}
}

func (v *progressView) update(p pipeline.Progress) {
	if v == nil {
		return
	}
	if v.bar == nil {
		total := int64(p.TotalFrames)
		if p.Indeterminate {
			total = -1
		}
		v.bar = progressbar.NewOptions64(total,
			progressbar.OptionSetWriter(v.w),
			progressbar.OptionSetDescription("annotating"),
			progressbar.OptionShowCount(),
			progressbar.OptionSetItsString("frames"),
			progressbar.OptionShowIts(),
			progressbar.OptionThrottle(100*time.Millisecond),
			progressbar.OptionClearOnFinish(),
		)
	}
	v.bar.Set(p.FramesDone)
}

func (v *progressView) finish() {
	if v == nil || v.bar == nil {
		return
	}
	v.bar.Finish()
	fmt.Fprintln(v.w)
}

func statsRows(s pipeline.Stats) [][]string {
	return [][]string{
		{"Output", s.OutputPath},
		{"Resolution", fmt.Sprintf("%dx%d @ %.2f fps", s.Info.Width, s.Info.Height, s.Info.FPS)},
		{"Frames written", strconv.Itoa(s.FramesWritten)},
		{"Frames sampled", strconv.Itoa(s.FramesSampled)},
		{"Frames annotated", strconv.Itoa(s.FramesAnnotated)},
		{"Detections", strconv.Itoa(s.Detections)},
		{"Detector errors", strconv.Itoa(s.DetectorErrors)},
		{"Duration", s.Duration.Round(time.Millisecond).String()},
	}
}

func renderStats(s pipeline.Stats) string {
	return renderTable([]string{"Stat", "Value"}, statsRows(s), []columnAlignment{alignLeft, alignRight})
}

func jobRows(list []jobs.Job) [][]string {
	rows := make([][]string, 0, len(list))
	for _, j := range list {
		progress := "-"
		if j.Progress.Indeterminate {
			progress = strconv.Itoa(j.Progress.FramesDone) + " frames"
		} else if j.Progress.TotalFrames > 0 {
			progress = fmt.Sprintf("%.0f%%", j.Progress.Fraction*100)
		}
		rows = append(rows, []string{
			j.ID,
			j.Filename,
			string(j.Status),
			progress,
			fmt.Sprintf("%.2f / %d", j.Params.Confidence, j.Params.FrameSkip),
			j.CreatedAt.Local().Format("2006-01-02 15:04:05"),
		})
	}
	return rows
}

func renderJobs(list []jobs.Job) string {
	return renderTable(
		[]string{"ID", "File", "Status", "Progress", "Conf / Skip", "Created"},
		jobRows(list),
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignLeft},
	)
}
