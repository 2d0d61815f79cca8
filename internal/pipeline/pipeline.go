// Package pipeline runs the per-frame loop: capture, dual landmark inference,
// annotation, display and frame-rate reporting.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/andresmejia3/facemark/internal/landmark"
	"github.com/andresmejia3/facemark/internal/rate"
	"github.com/andresmejia3/facemark/internal/types"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Frame is one captured image. The loop owns every frame it reads or converts
// and closes it at the end of the iteration.
type Frame interface {
	Close() error
}

// Source yields frames in capture order (BGR). Read errors end the loop.
type Source[F Frame] interface {
	Read(ctx context.Context) (F, error)
	Close() error
}

// Display shows annotated frames and polls for the user's exit request.
type Display[F Frame] interface {
	Show(f F) error
	PollExit() bool
	Close() error
}

// Predictor2D returns zero or more 2D landmark sets for an RGB frame.
type Predictor2D[F Frame] interface {
	Predict2D(ctx context.Context, f F) ([]types.LandmarkSet2D, error)
}

// Predictor3D returns zero or more 3D landmark sets for an RGB frame.
type Predictor3D[F Frame] interface {
	Predict3D(ctx context.Context, f F) ([]types.LandmarkSet3D, error)
}

// Annotator converts captured frames for the models and draws markers on them.
type Annotator[F Frame] interface {
	// ToRGB returns a new frame; f is not modified.
	ToRGB(f F) (F, error)
	Mark(f F, x, y float64, s types.MarkerStyle)
}

// Progress receives one Add(1) per processed frame.
type Progress interface {
	Add(num int) error
}

// Options tune a Loop. The zero value is usable.
type Options struct {
	Marker2D types.MarkerStyle
	Marker3D types.MarkerStyle

	// Concurrent runs the two predictors in parallel instead of 2D then 3D.
	Concurrent bool

	Report   io.Writer          // coordinate and FPS lines; io.Discard if nil
	Logger   logrus.FieldLogger // diagnostics; discarded if nil
	Monitor  *rate.Monitor      // a fresh one-second monitor if nil
	Progress Progress           // optional
	OnRate   func(fps int)      // optional, called after each FPS report
}

// Stats summarises a finished run.
type Stats struct {
	Frames      int
	Faces2D     int
	Faces3D     int
	Malformed   int
	ModelErrors int
	LastFPS     int
}

// Loop owns a source and a display for the duration of Run.
type Loop[F Frame] struct {
	src  Source[F]
	disp Display[F]
	p2D  Predictor2D[F]
	p3D  Predictor3D[F]
	ann  Annotator[F]
	opts Options
	log  logrus.FieldLogger

	mu          sync.Mutex // guards stats.ModelErrors in concurrent mode
	stats       Stats
	releaseOnce sync.Once
}

// New builds a loop. Ownership of src and disp passes to the loop: Run releases them.
func New[F Frame](src Source[F], disp Display[F], p2D Predictor2D[F], p3D Predictor3D[F], ann Annotator[F], opts Options) *Loop[F] {
	if opts.Marker2D == (types.MarkerStyle{}) {
		opts.Marker2D = types.Marker2D
	}
	if opts.Marker3D == (types.MarkerStyle{}) {
		opts.Marker3D = types.Marker3D
	}
	if opts.Report == nil {
		opts.Report = io.Discard
	}
	if opts.Monitor == nil {
		opts.Monitor = rate.NewMonitor()
	}
	logger := opts.Logger
	if logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		logger = l
	}
	return &Loop[F]{src: src, disp: disp, p2D: p2D, p3D: p3D, ann: ann, opts: opts, log: logger}
}

// Run processes frames until the display requests exit, ctx is cancelled, or
// a fatal error occurs. A clean stop returns nil. A source failure returns an
// error wrapping types.ErrDeviceUnavailable. A dead predictor returns an error
// wrapping types.ErrPredictorCrashed. The source and display are released exactly
// once on every path.
func (l *Loop[F]) Run(ctx context.Context) error {
	defer l.release()

	for {
		if ctx.Err() != nil {
			l.log.Info("Interrupted, stopping")
			return nil
		}
		done, err := l.step(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
}

// Stats returns counters for the frames processed so far.
func (l *Loop[F]) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stats
}

func (l *Loop[F]) release() {
	l.releaseOnce.Do(func() {
		if err := l.src.Close(); err != nil {
			l.log.WithError(err).Warn("Closing frame source failed")
		}
		if err := l.disp.Close(); err != nil {
			l.log.WithError(err).Warn("Closing display failed")
		}
	})
}

// step runs one iteration. done is true when the user asked to stop.
func (l *Loop[F]) step(ctx context.Context) (done bool, err error) {
	// 1. Acquire
	f, err := l.src.Read(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return true, nil
		}
		if !errors.Is(err, types.ErrDeviceUnavailable) {
			err = fmt.Errorf("%w: %v", types.ErrDeviceUnavailable, err)
		}
		return true, err
	}

	defer f.Close()

	// 2. Model input is RGB; f keeps BGR for display
	rgb, err := l.ann.ToRGB(f)
	if err != nil {
		return true, fmt.Errorf("convert frame: %w", err)
	}
	defer rgb.Close()

	// 3. Inference
	sets2D, sets3D, err := l.infer(ctx, rgb)
	if err != nil {
		if ctx.Err() != nil {
			return true, nil
		}
		return true, err
	}

	// 4. 2D markers
	for _, set := range sets2D {
		for _, p := range set {
			l.ann.Mark(f, p.X, p.Y, l.opts.Marker2D)
		}
	}
	l.stats.Faces2D += len(sets2D)

	// 5. 3D markers and coordinate report
	for i, set := range sets3D {
		for _, p := range set {
			l.ann.Mark(f, p.X, p.Y, l.opts.Marker3D)
		}
		feats, err := landmark.Extract(set)
		if err != nil {
			l.stats.Malformed++
			l.log.WithError(err).WithFields(logrus.Fields{
				"frame": l.stats.Frames,
				"face":  i,
			}).Warn("Skipping coordinate report")
			continue
		}
		if err := feats.WriteReport(l.opts.Report); err != nil {
			l.log.WithError(err).Warn("Writing coordinate report failed")
		}
	}
	l.stats.Faces3D += len(sets3D)

	// 6. Display
	if err := l.disp.Show(f); err != nil {
		return true, fmt.Errorf("show frame: %w", err)
	}

	// 7. Throughput
	l.stats.Frames++
	if l.opts.Progress != nil {
		l.opts.Progress.Add(1)
	}
	if fps, updated := l.opts.Monitor.Tick(); updated {
		l.stats.LastFPS = fps
		fmt.Fprintf(l.opts.Report, "FPS: %d\n", fps)
		if l.opts.OnRate != nil {
			l.opts.OnRate(fps)
		}
	}

	// 8. Exit request
	return l.disp.PollExit(), nil
}

// infer runs both predictors on rgb. A model error for one modality is logged
// and treated as no detections; only a crashed predictor is returned.
func (l *Loop[F]) infer(ctx context.Context, rgb F) ([]types.LandmarkSet2D, []types.LandmarkSet3D, error) {
	var (
		sets2D []types.LandmarkSet2D
		sets3D []types.LandmarkSet3D
	)
	run2D := func() error {
		sets, err := l.p2D.Predict2D(ctx, rgb)
		if err != nil {
			return l.classify("2D", err)
		}
		sets2D = sets
		return nil
	}
	run3D := func() error {
		sets, err := l.p3D.Predict3D(ctx, rgb)
		if err != nil {
			return l.classify("3D", err)
		}
		sets3D = sets
		return nil
	}

	if !l.opts.Concurrent {
		if err := run2D(); err != nil {
			return nil, nil, err
		}
		if err := run3D(); err != nil {
			return nil, nil, err
		}
		return sets2D, sets3D, nil
	}

	var g errgroup.Group
	g.Go(run2D)
	g.Go(run3D)
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return sets2D, sets3D, nil
}

// classify decides whether a predictor error ends the run.
func (l *Loop[F]) classify(kind string, err error) error {
	if errors.Is(err, types.ErrPredictorCrashed) || errors.Is(err, context.Canceled) {
		return err
	}
	l.log.WithError(err).WithField("landmarks", kind).Warn("Prediction failed, treating frame as no detections")
	l.mu.Lock()
	l.stats.ModelErrors++
	l.mu.Unlock()
	return nil
}
