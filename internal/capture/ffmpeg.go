package capture

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"

	"github.com/andresmejia3/facemark/internal/frame"
	"github.com/andresmejia3/facemark/internal/types"
	"github.com/andresmejia3/facemark/internal/utils"
	"gocv.io/x/gocv"
)

const megabyte = 1024 * 1024

// DecodeFunc turns one encoded image into a BGR frame.
type DecodeFunc func(data []byte) (*frame.Frame, error)

// FFmpegSource reads an MJPEG stream produced by an ffmpeg child process.
type FFmpegSource struct {
	Cmd *utils.SafeCommand

	out     io.ReadCloser
	scanner *bufio.Scanner
	decode  DecodeFunc

	closeOnce sync.Once
}

// OpenFFmpeg starts ffmpeg on input. The process is killed when ctx is cancelled.
func OpenFFmpeg(ctx context.Context, input string) (*FFmpegSource, error) {
	if err := utils.RequireBinary("ffmpeg"); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrDeviceUnavailable, err)
	}

	ffmpeg := utils.NewFFmpegCmd(ctx, input)
	out, err := ffmpeg.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create FFmpeg stdout pipe: %w", err)
	}
	if err := ffmpeg.Start(); err != nil {
		return nil, fmt.Errorf("%w: failed to start FFmpeg: %v", types.ErrDeviceUnavailable, err)
	}

	src := newFFmpegSource(out, DecodeJPEG)
	src.Cmd = ffmpeg
	return src, nil
}

func newFFmpegSource(out io.ReadCloser, decode DecodeFunc) *FFmpegSource {
	scanner := bufio.NewScanner(out)
	scanner.Buffer(make([]byte, megabyte), 64*megabyte)
	scanner.Split(utils.SplitJpeg)
	return &FFmpegSource{out: out, scanner: scanner, decode: decode}
}

// Read returns the next decoded frame. End of stream is reported as ErrDeviceUnavailable.
func (s *FFmpegSource) Read(ctx context.Context) (*frame.Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !s.scanner.Scan() {
		err := s.scanner.Err()
		if err == nil {
			err = io.EOF
		}
		return nil, fmt.Errorf("%w: failed to capture frame: %v", types.ErrDeviceUnavailable, err)
	}
	f, err := s.decode(s.scanner.Bytes())
	if err != nil {
		return nil, fmt.Errorf("%w: undecodable frame: %v", types.ErrDeviceUnavailable, err)
	}
	return f, nil
}

// Close stops ffmpeg and reaps it. Safe to call more than once.
func (s *FFmpegSource) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.out.Close() // ffmpeg gets EPIPE and exits
		if s.Cmd == nil {
			return
		}
		if s.Cmd.Process != nil {
			s.Cmd.Process.Kill()
		}
		waitErr := s.Cmd.Wait()
		var exitErr *exec.ExitError
		// Killed on purpose, not a failure
		if waitErr != nil && !errors.As(waitErr, &exitErr) {
			err = waitErr
		}
	})
	return err
}

// DecodeJPEG decodes with OpenCV into a BGR frame.
func DecodeJPEG(data []byte) (*frame.Frame, error) {
	m, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err != nil {
		return nil, err
	}
	return matToFrame(m)
}
