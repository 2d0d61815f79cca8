package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/andresmejia3/facemark/internal/frame"
	"github.com/andresmejia3/facemark/internal/types"
	"github.com/andresmejia3/facemark/internal/utils"
)

// Kind selects which landmark model the worker loads.
type Kind int

const (
	Kind2D Kind = 2
	Kind3D Kind = 3
)

func (k Kind) String() string {
	switch k {
	case Kind2D:
		return "2D"
	case Kind3D:
		return "3D"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Dims is the number of coordinates per point in this kind's replies.
func (k Kind) Dims() int { return int(k) }

// Compute devices accepted by the worker.
const (
	ComputeCUDA = "cuda"
	ComputeCPU  = "cpu"
)

var (
	// ErrComputeUnavailable is returned at startup when the requested device cannot be used.
	ErrComputeUnavailable = errors.New("compute device unavailable")

	// ErrKindMismatch is returned when a 2D worker is asked for 3D landmarks or vice versa.
	ErrKindMismatch = errors.New("landmark kind mismatch")
)

// PredictionError is a model-side failure for a single frame. The worker stays usable.
type PredictionError struct {
	Msg string
}

func (e *PredictionError) Error() string { return "python worker error: " + e.Msg }

// StartupError is returned when a worker exits or refuses to serve before its
// handshake. Cmd holds whatever the interpreter wrote to stderr.
type StartupError struct {
	ID   int
	Kind Kind
	Cmd  *utils.SafeCommand
	Err  error
}

func (e *StartupError) Error() string {
	return fmt.Sprintf("worker %d (%s): %v", e.ID, e.Kind, e.Err)
}

func (e *StartupError) Unwrap() error { return e.Err }

// Config describes one landmark worker process.
type Config struct {
	Kind        Kind
	Compute     string
	Python      string
	Script      string
	ReadTimeout time.Duration // 0 disables the deadline
}

// PythonWorker owns one face_alignment model running in a child process.
type PythonWorker struct {
	ID       int
	Kind     Kind
	Cmd      *utils.SafeCommand
	Stdin    io.WriteCloser
	DataPipe io.ReadCloser

	readTimeout time.Duration
	closeOnce   sync.Once
}

// NewPythonWorker starts the worker process and waits for its model to load.
// Loading happens once; the same process then serves every frame.
func NewPythonWorker(ctx context.Context, id int, cfg Config) (*PythonWorker, error) {
	if cfg.Kind != Kind2D && cfg.Kind != Kind3D {
		return nil, fmt.Errorf("worker %d: unsupported landmark kind %v", id, cfg.Kind)
	}
	py := utils.NewSafeCommand(ctx, cfg.Python, "-u", cfg.Script,
		"--landmarks", cfg.Kind.String(),
		"--device", cfg.Compute,
	)

	// Create a side-channel pipe (FD 3) so model logs on stdout never corrupt replies
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create pipe: %w", err)
	}
	py.Cmd.ExtraFiles = []*os.File{w}

	stdin, err := py.StdinPipe()
	if err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	if err := py.Start(); err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("worker %d failed to start: %w", id, err)
	}

	// Only the child keeps the write end
	w.Close()

	pw := &PythonWorker{
		ID:          id,
		Kind:        cfg.Kind,
		Cmd:         py,
		Stdin:       stdin,
		DataPipe:    r,
		readTimeout: cfg.ReadTimeout,
	}

	if err := pw.awaitReady(); err != nil {
		// Wait inside Close flushes the child's stderr into py.Stderr
		pw.Close()
		return nil, &StartupError{ID: id, Kind: cfg.Kind, Cmd: py, Err: err}
	}
	return pw, nil
}

// awaitReady reads the startup handshake. The model load can take a while, so no deadline applies.
func (w *PythonWorker) awaitReady() error {
	body, err := w.readMessage(0)
	if err != nil {
		return fmt.Errorf("%w: no startup handshake: %v", types.ErrPredictorCrashed, err)
	}
	return decodeHandshake(body)
}

// Communicate sends one framed request and returns the framed reply body.
// Protocol: [Length][Data] in both directions.
func (w *PythonWorker) Communicate(data []byte) ([]byte, error) {
	if err := writeMessage(w.Stdin, data); err != nil {
		return nil, err
	}
	return w.readMessage(w.readTimeout)
}

func (w *PythonWorker) readMessage(timeout time.Duration) ([]byte, error) {
	if timeout > 0 {
		if d, ok := w.DataPipe.(interface{ SetReadDeadline(time.Time) error }); ok {
			if err := d.SetReadDeadline(time.Now().Add(timeout)); err != nil {
				return nil, err
			}
			defer d.SetReadDeadline(time.Time{})
		}
	}
	return readMessage(w.DataPipe)
}

// ProcessFrame runs the model on an RGB frame and returns one flat coordinate
// slice per detected face, Kind.Dims() values per point.
func (w *PythonWorker) ProcessFrame(f *frame.Frame) ([][]float64, error) {
	if f.Order != frame.RGB {
		rgb, err := f.Convert(frame.RGB)
		if err != nil {
			return nil, err
		}
		defer rgb.Close()
		f = rgb
	}
	resp, err := w.Communicate(encodeFrame(f.Width(), f.Height(), f.Bytes()))
	if err != nil {
		// The pipe is gone or stalled; this worker cannot serve more frames
		return nil, fmt.Errorf("%w: worker %d (%s): %v", types.ErrPredictorCrashed, w.ID, w.Kind, err)
	}
	return decodeReply(resp, w.Kind.Dims())
}

// Predict2D implements the 2D landmark predictor.
func (w *PythonWorker) Predict2D(ctx context.Context, f *frame.Frame) ([]types.LandmarkSet2D, error) {
	if w.Kind != Kind2D {
		return nil, fmt.Errorf("%w: worker %d is %s", ErrKindMismatch, w.ID, w.Kind)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	faces, err := w.ProcessFrame(f)
	if err != nil {
		return nil, err
	}
	out := make([]types.LandmarkSet2D, 0, len(faces))
	for _, flat := range faces {
		set := make(types.LandmarkSet2D, len(flat)/2)
		for i := range set {
			set[i] = types.Point2D{X: flat[2*i], Y: flat[2*i+1]}
		}
		out = append(out, set)
	}
	return out, nil
}

// Predict3D implements the 3D landmark predictor.
func (w *PythonWorker) Predict3D(ctx context.Context, f *frame.Frame) ([]types.LandmarkSet3D, error) {
	if w.Kind != Kind3D {
		return nil, fmt.Errorf("%w: worker %d is %s", ErrKindMismatch, w.ID, w.Kind)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	faces, err := w.ProcessFrame(f)
	if err != nil {
		return nil, err
	}
	out := make([]types.LandmarkSet3D, 0, len(faces))
	for _, flat := range faces {
		set := make(types.LandmarkSet3D, len(flat)/3)
		for i := range set {
			set[i] = types.Point3D{X: flat[3*i], Y: flat[3*i+1], Z: flat[3*i+2]}
		}
		out = append(out, set)
	}
	return out, nil
}

// Close shuts the worker down. Closing stdin tells the Python loop to exit. Safe to call twice.
func (w *PythonWorker) Close() error {
	var err error
	w.closeOnce.Do(func() {
		if w.Stdin != nil {
			w.Stdin.Close()
		}
		if w.DataPipe != nil {
			w.DataPipe.Close()
		}
		if w.Cmd != nil {
			err = w.Cmd.Wait()
		}
	})
	return err
}
