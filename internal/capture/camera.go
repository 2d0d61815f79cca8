package capture

import (
	"context"
	"fmt"
	"sync"

	"github.com/andresmejia3/facemark/internal/frame"
	"github.com/andresmejia3/facemark/internal/types"
	"gocv.io/x/gocv"
)

// Camera reads frames from a local capture device through OpenCV.
type Camera struct {
	Index int

	vc *gocv.VideoCapture

	closeOnce sync.Once
}

// OpenCamera opens the device at index. A missing or busy device returns ErrDeviceUnavailable.
func OpenCamera(index int) (*Camera, error) {
	vc, err := gocv.OpenVideoCapture(index)
	if err != nil {
		return nil, fmt.Errorf("%w: camera %d: %v", types.ErrDeviceUnavailable, index, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, fmt.Errorf("%w: could not open camera %d", types.ErrDeviceUnavailable, index)
	}
	return &Camera{Index: index, vc: vc}, nil
}

// Read blocks until the device delivers the next frame.
func (c *Camera) Read(ctx context.Context) (*frame.Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	// Each frame gets its own Mat; the pipeline closes it after display
	m := gocv.NewMat()
	if ok := c.vc.Read(&m); !ok {
		m.Close()
		return nil, fmt.Errorf("%w: failed to capture frame from camera %d", types.ErrDeviceUnavailable, c.Index)
	}
	return matToFrame(m)
}

// Close releases the device. Safe to call more than once.
func (c *Camera) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.vc.Close()
	})
	return err
}
