package utils

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
)

// --- 1. Process Safety & Command Wrapping ---

// SafeCommand wraps exec.Cmd with a buffer that captures Stderr, so the
// landmark worker's Python traceback survives a crash.
type SafeCommand struct {
	*exec.Cmd
	Stderr *bytes.Buffer
}

// NewSafeCommand prepares (but does not start) a command bound to ctx.
// Cancelling ctx kills the process.
func NewSafeCommand(ctx context.Context, name string, args ...string) *SafeCommand {
	cmd := exec.CommandContext(ctx, name, args...)
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr
	return &SafeCommand{Cmd: cmd, Stderr: stderr}
}

// RequireBinary fails early with a readable message when an external tool is missing.
func RequireBinary(name string) error {
	if _, err := exec.LookPath(name); err != nil {
		return fmt.Errorf("%s not found in PATH: %w", name, err)
	}
	return nil
}

// ShowError prints the formatted error box and any worker logs without exiting.
func ShowError(context string, err error, s *SafeCommand) {
	fmt.Fprintf(os.Stderr, "\n---------------------------------------------------------\n")
	fmt.Fprintf(os.Stderr, "🚨 FACEMARK ERROR: %s\n", context)
	if err != nil {
		fmt.Fprintf(os.Stderr, "DETAILS: %v\n", err)
	}

	if s != nil && s.Stderr != nil && s.Stderr.Len() > 0 {
		fmt.Fprintf(os.Stderr, "\nWORKER LOGS:\n%s\n", s.Stderr.String())
	}
	fmt.Fprintf(os.Stderr, "---------------------------------------------------------\n")
}

// Die is ShowError followed by exit status 1.
func Die(context string, err error, s *SafeCommand) {
	ShowError(context, err, s)
	os.Exit(1)
}

// --- 2. MJPEG stream splitting ---

var (
	JpegSOI = []byte{0xFF, 0xD8} // Start of Image
	JpegEOI = []byte{0xFF, 0xD9} // End of Image
)

// SplitJpeg is a bufio.SplitFunc that yields whole JPEG images from an MJPEG
// byte stream. Bytes before a Start Of Image marker are discarded so a noisy
// stream cannot grow the scanner buffer without bound.
func SplitJpeg(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	start := bytes.Index(data, JpegSOI)
	if start == -1 {
		if atEOF {
			return len(data), nil, nil
		}
		// Keep the last byte, it may be the first half of a marker.
		if len(data) > 1 {
			return len(data) - 1, nil, nil
		}
		return 0, nil, nil
	}
	end := bytes.Index(data[start+len(JpegSOI):], JpegEOI)
	if end == -1 {
		if atEOF {
			// Truncated trailing image
			return len(data), nil, nil
		}
		return start, nil, nil
	}
	stop := start + len(JpegSOI) + end + len(JpegEOI)
	return stop, data[start:stop], nil
}

// NewFFmpegCmd decodes input (a file, URL or capture device) to an MJPEG
// stream on Stdout, one JPEG per frame.
func NewFFmpegCmd(ctx context.Context, input string) *SafeCommand {
	// -loglevel error keeps the Stderr buffer small on long runs
	return NewSafeCommand(ctx, "ffmpeg",
		"-hide_banner", "-loglevel", "error",
		"-i", input,
		"-f", "image2pipe", "-vcodec", "mjpeg", "-q:v", "2",
		"-")
}
