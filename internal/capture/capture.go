// Package capture produces BGR frames from a local camera (OpenCV) or from
// any input ffmpeg can decode.
package capture

import (
	"fmt"

	"github.com/andresmejia3/facemark/internal/frame"
	"github.com/andresmejia3/facemark/internal/types"
	"gocv.io/x/gocv"
)

// matToFrame hands m to a BGR frame. m is closed when it cannot be used.
func matToFrame(m gocv.Mat) (*frame.Frame, error) {
	if m.Empty() {
		m.Close()
		return nil, fmt.Errorf("%w: empty frame", types.ErrDeviceUnavailable)
	}
	f, err := frame.FromMat(m, frame.BGR)
	if err != nil {
		m.Close()
		return nil, err
	}
	return f, nil
}
