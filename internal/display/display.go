// Package display shows annotated frames and reports when the user asks to stop.
package display

import (
	"fmt"
	"sync"

	"github.com/andresmejia3/facemark/internal/frame"
	"gocv.io/x/gocv"
)

// DefaultTitle is the window caption.
const DefaultTitle = "Live Face Tracking - Full Face Coordinates"

// ExitKey ends the session when pressed in the window.
const ExitKey = 'q'

// Window is an OpenCV HighGUI window.
type Window struct {
	win *gocv.Window

	closeOnce sync.Once
}

// OpenWindow creates the window. It must be called from the thread that will show frames.
func OpenWindow(title string) *Window {
	return &Window{win: gocv.NewWindow(title)}
}

// Show draws f. Frames in RGB order are converted first, since OpenCV displays BGR.
func (w *Window) Show(f *frame.Frame) error {
	if f.Order != frame.BGR {
		bgr, err := f.Convert(frame.BGR)
		if err != nil {
			return fmt.Errorf("prepare frame for display: %w", err)
		}
		defer bgr.Close()
		f = bgr
	}
	w.win.IMShow(f.Mat)
	return nil
}

// PollExit pumps window events for 1ms. It reports true when the exit key was
// pressed or the window was closed.
func (w *Window) PollExit() bool {
	key := w.win.WaitKey(1)
	if key >= 0 && key&0xFF == ExitKey {
		return true
	}
	return !w.win.IsOpen()
}

// Close destroys the window. Safe to call more than once.
func (w *Window) Close() error {
	var err error
	w.closeOnce.Do(func() {
		err = w.win.Close()
	})
	return err
}

// Headless discards frames. It never requests exit; the session ends through
// context cancellation or end of stream.
type Headless struct {
	mu    sync.Mutex
	shown int
}

// Show counts the frame and drops it.
func (h *Headless) Show(*frame.Frame) error {
	h.mu.Lock()
	h.shown++
	h.mu.Unlock()
	return nil
}

// PollExit always returns false.
func (h *Headless) PollExit() bool { return false }

// Close is a no-op.
func (h *Headless) Close() error { return nil }

// Shown returns the number of frames passed to Show.
func (h *Headless) Shown() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.shown
}
