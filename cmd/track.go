package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/andresmejia3/facemark/internal/capture"
	"github.com/andresmejia3/facemark/internal/config"
	"github.com/andresmejia3/facemark/internal/display"
	"github.com/andresmejia3/facemark/internal/frame"
	"github.com/andresmejia3/facemark/internal/pipeline"
	"github.com/andresmejia3/facemark/internal/types"
	"github.com/andresmejia3/facemark/internal/utils"
	"github.com/andresmejia3/facemark/internal/worker"
	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// trackFlags mirrors config.Config; a flag only wins when it was set explicitly.
var trackFlags config.Config

var trackCmd = &cobra.Command{
	Use:   "track",
	Short: "Track facial landmarks live from a camera or video stream",
	Long: "Runs the 2D and 3D landmark models on every frame, draws the points, " +
		"prints nose, chin, eye and mouth coordinates and reports FPS once per second. Press 'q' in the window to stop.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true

		cfg := Cfg
		applyTrackFlags(cmd, &cfg)
		if err := cfg.Validate(); err != nil {
			utils.ShowError("Invalid configuration", err, nil)
			return err
		}
		return runTrack(cmd.Context(), cfg, defaultTrackDeps(), os.Stdout, Logger)
	},
}

func init() {
	def := config.Default()
	trackCmd.Flags().IntVarP(&trackFlags.Camera, "camera", "c", def.Camera, "Camera device index")
	trackCmd.Flags().StringVarP(&trackFlags.Input, "input", "i", "", "Read from a video file, URL or device through ffmpeg instead of the camera")
	trackCmd.Flags().StringVar(&trackFlags.Compute, "compute", def.Compute, "Model compute device: cuda or cpu")
	trackCmd.Flags().StringVar(&trackFlags.Python, "python", def.Python, "Python interpreter for the landmark workers")
	trackCmd.Flags().StringVar(&trackFlags.Script, "script", def.Script, "Landmark worker script")
	trackCmd.Flags().DurationVar(&trackFlags.WorkerTimeout, "worker-timeout", 0, "Per-frame inference timeout (0 waits forever)")
	trackCmd.Flags().BoolVar(&trackFlags.Concurrent, "concurrent", false, "Run the 2D and 3D models in parallel")
	trackCmd.Flags().BoolVar(&trackFlags.Headless, "headless", false, "Do not open a window; stop with Ctrl+C")
	trackCmd.Flags().IntVarP(&trackFlags.Radius, "radius", "r", def.Radius, "Landmark marker radius in pixels")
	trackCmd.Flags().BoolVar(&trackFlags.Progress, "progress", false, "Show a live frame counter on stderr")

	rootCmd.AddCommand(trackCmd)
}

func applyTrackFlags(cmd *cobra.Command, cfg *config.Config) {
	f := cmd.Flags()
	if f.Changed("camera") {
		cfg.Camera = trackFlags.Camera
	}
	if f.Changed("input") {
		cfg.Input = trackFlags.Input
	}
	if f.Changed("compute") {
		cfg.Compute = trackFlags.Compute
	}
	if f.Changed("python") {
		cfg.Python = trackFlags.Python
	}
	if f.Changed("script") {
		cfg.Script = trackFlags.Script
	}
	if f.Changed("worker-timeout") {
		cfg.WorkerTimeout = trackFlags.WorkerTimeout
	}
	if f.Changed("concurrent") {
		cfg.Concurrent = trackFlags.Concurrent
	}
	if f.Changed("headless") {
		cfg.Headless = trackFlags.Headless
	}
	if f.Changed("radius") {
		cfg.Radius = trackFlags.Radius
	}
	if f.Changed("progress") {
		cfg.Progress = trackFlags.Progress
	}
}

// predictor is one landmark model process.
type predictor interface {
	pipeline.Predictor2D[*frame.Frame]
	pipeline.Predictor3D[*frame.Frame]
	Close() error
}

// trackDeps are the collaborators runTrack opens. Tests swap them for fakes.
type trackDeps struct {
	openSource     func(ctx context.Context, cfg config.Config) (pipeline.Source[*frame.Frame], error)
	startPredictor func(ctx context.Context, id int, cfg worker.Config) (predictor, error)
	openDisplay    func(cfg config.Config) pipeline.Display[*frame.Frame]
}

func defaultTrackDeps() trackDeps {
	return trackDeps{
		openSource: func(ctx context.Context, cfg config.Config) (pipeline.Source[*frame.Frame], error) {
			if cfg.Input != "" {
				return capture.OpenFFmpeg(ctx, cfg.Input)
			}
			return capture.OpenCamera(cfg.Camera)
		},
		startPredictor: func(ctx context.Context, id int, cfg worker.Config) (predictor, error) {
			if err := utils.RequireBinary(cfg.Python); err != nil {
				return nil, err
			}
			w, err := worker.NewPythonWorker(ctx, id, cfg)
			if err != nil {
				return nil, err
			}
			return w, nil
		},
		openDisplay: func(cfg config.Config) pipeline.Display[*frame.Frame] {
			if cfg.Headless {
				return &display.Headless{}
			}
			return display.OpenWindow(display.DefaultTitle)
		},
	}
}

// runTrack opens the source first so a missing camera fails before any model
// loads or window appears, then starts both models, then runs the loop.
func runTrack(ctx context.Context, cfg config.Config, deps trackDeps, report io.Writer, logger logrus.FieldLogger) error {
	log := logger.WithField("session", uuid.NewString())

	// 1. Video source
	src, err := deps.openSource(ctx, cfg)
	if err != nil {
		utils.ShowError("Could not open video source", err, nil)
		return err
	}
	log.WithFields(logrus.Fields{"camera": cfg.Camera, "input": cfg.Input}).Debug("Video source opened")

	// 2. Landmark models, loaded once for the whole session
	fmt.Fprintf(os.Stderr, "🚀 Starting AI Engines (compute: %s)...\n", cfg.Compute)
	p2D, p3D, err := startPredictors(ctx, cfg, deps)
	if err != nil {
		src.Close()
		if errors.Is(err, worker.ErrComputeUnavailable) {
			utils.ShowError("Compute device unavailable", err, startupCommand(err))
		} else {
			utils.ShowError("Worker startup failed", err, startupCommand(err))
		}
		return err
	}
	defer p2D.Close()
	defer p3D.Close()

	// 3. Display
	disp := deps.openDisplay(cfg)

	opts := pipeline.Options{
		Marker2D:   types.MarkerStyle{Color: types.Marker2D.Color, Radius: cfg.Radius},
		Marker3D:   types.MarkerStyle{Color: types.Marker3D.Color, Radius: cfg.Radius},
		Concurrent: cfg.Concurrent,
		Report:     report,
		Logger:     log,
	}

	var bar *progressbar.ProgressBar
	if cfg.Progress {
		bar = progressbar.NewOptions(-1,
			progressbar.OptionSetDescription("🎥 Tracking"),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionShowCount(),
			progressbar.OptionSpinnerType(14),
		)
		opts.Progress = bar
		opts.OnRate = func(fps int) {
			bar.Describe(fmt.Sprintf("🎥 Tracking (%d fps)", fps))
		}
	}

	fmt.Fprintln(os.Stderr, "👁️  Tracking. Press 'q' in the window (or Ctrl+C) to stop.")
	start := time.Now()
	loop := pipeline.New[*frame.Frame](src, disp, p2D, p3D, frame.Annotator{}, opts)
	runErr := loop.Run(ctx)

	if bar != nil {
		bar.Finish()
	}
	stats := loop.Stats()
	log.WithFields(logrus.Fields{
		"frames":       stats.Frames,
		"faces_2d":     stats.Faces2D,
		"faces_3d":     stats.Faces3D,
		"malformed":    stats.Malformed,
		"model_errors": stats.ModelErrors,
		"elapsed":      time.Since(start).Round(time.Millisecond).String(),
	}).Info("Session finished")

	if runErr != nil {
		switch {
		case errors.Is(runErr, types.ErrDeviceUnavailable):
			utils.ShowError("Failed to capture frame", runErr, nil)
		case errors.Is(runErr, types.ErrPredictorCrashed):
			utils.ShowError("Landmark worker crashed", runErr, workerCommand(p2D, p3D))
		default:
			utils.ShowError("Tracking stopped unexpectedly", runErr, nil)
		}
		return runErr
	}

	fmt.Fprintf(os.Stderr, "\n🏁 Tracking stopped. Processed %d frames.\n", stats.Frames)
	return nil
}

// startPredictors loads the 2D and 3D models in parallel. If either fails the other is shut down.
func startPredictors(ctx context.Context, cfg config.Config, deps trackDeps) (predictor, predictor, error) {
	base := worker.Config{
		Compute:     cfg.Compute,
		Python:      cfg.Python,
		Script:      cfg.Script,
		ReadTimeout: cfg.WorkerTimeout,
	}
	cfg2D, cfg3D := base, base
	cfg2D.Kind = worker.Kind2D
	cfg3D.Kind = worker.Kind3D

	var p2D, p3D predictor
	var g errgroup.Group
	g.Go(func() error {
		var err error
		p2D, err = deps.startPredictor(ctx, 0, cfg2D)
		return err
	})
	g.Go(func() error {
		var err error
		p3D, err = deps.startPredictor(ctx, 1, cfg3D)
		return err
	})
	if err := g.Wait(); err != nil {
		if p2D != nil {
			p2D.Close()
		}
		if p3D != nil {
			p3D.Close()
		}
		return nil, nil, err
	}
	return p2D, p3D, nil
}

// workerCommand picks the first Python worker that captured stderr output.
func workerCommand(ps ...predictor) *utils.SafeCommand {
	for _, p := range ps {
		if w, ok := p.(*worker.PythonWorker); ok && w.Cmd != nil && w.Cmd.Stderr.Len() > 0 {
			return w.Cmd
		}
	}
	return nil
}

// startupCommand returns the process of a worker that died before its handshake,
// so its import errors and tracebacks reach the user.
func startupCommand(err error) *utils.SafeCommand {
	var se *worker.StartupError
	if errors.As(err, &se) && se.Cmd != nil && se.Cmd.Stderr != nil && se.Cmd.Stderr.Len() > 0 {
		return se.Cmd
	}
	return nil
}
