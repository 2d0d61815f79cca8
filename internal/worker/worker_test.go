package worker

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"image/color"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/andresmejia3/facemark/internal/frame"
	"github.com/andresmejia3/facemark/internal/types"
)

// MockCloser wraps a bytes.Buffer to satisfy io.ReadCloser and io.WriteCloser interfaces.
// This allows us to use in-memory buffers as if they were OS Pipes.
type MockCloser struct {
	*bytes.Buffer
	closed int
}

func (m *MockCloser) Close() error {
	m.closed++
	return nil
}

func newMockWorker(kind Kind) (*PythonWorker, *MockCloser, *MockCloser) {
	stdinMock := &MockCloser{Buffer: new(bytes.Buffer)}
	dataPipeMock := &MockCloser{Buffer: new(bytes.Buffer)}
	w := &PythonWorker{
		ID:       1,
		Kind:     kind,
		Stdin:    stdinMock,
		DataPipe: dataPipeMock,
		// Cmd is nil because we aren't testing process management, just the protocol
	}
	return w, stdinMock, dataPipeMock
}

// okReply builds a status-0 reply with the given faces, each a flat coordinate list.
func okReply(dims int, faces ...[]float32) []byte {
	payload := new(bytes.Buffer)
	payload.WriteByte(statusOK)
	binary.Write(payload, binary.BigEndian, uint32(len(faces)))
	for _, f := range faces {
		binary.Write(payload, binary.BigEndian, uint32(len(f)/dims))
		binary.Write(payload, binary.BigEndian, f)
	}
	return payload.Bytes()
}

func textReply(status byte, msg string) []byte {
	payload := new(bytes.Buffer)
	payload.WriteByte(status)
	binary.Write(payload, binary.BigEndian, uint32(len(msg)))
	payload.WriteString(msg)
	return payload.Bytes()
}

// frameOf returns a w x h RGB frame.
func frameOf(w, h int) *frame.Frame {
	f := frame.New(w, h)
	f.Order = frame.RGB
	return f
}

func TestPredict3D(t *testing.T) {
	w, stdinMock, dataPipeMock := newMockWorker(Kind3D)

	face := make([]float32, 68*3)
	face[30*3] = 120.5 // nose tip X
	face[30*3+2] = -7  // nose tip Z
	writeMessage(dataPipeMock, okReply(3, face))

	input := frameOf(4, 2)
	defer input.Close()
	pixels := 4 * 2 * 3
	sets, err := w.Predict3D(context.Background(), input)
	if err != nil {
		t.Fatalf("Predict3D failed: %v", err)
	}

	// Verify Go sent the correct data TO Python: [Len][W][H][Pixels]
	sent := stdinMock.Bytes()
	if want := 4 + 8 + pixels; len(sent) != want {
		t.Fatalf("Expected %d bytes sent, got %d", want, len(sent))
	}
	if got := binary.BigEndian.Uint32(sent[0:4]); got != uint32(8+pixels) {
		t.Errorf("length header = %d", got)
	}
	if binary.BigEndian.Uint32(sent[4:8]) != 4 || binary.BigEndian.Uint32(sent[8:12]) != 2 {
		t.Errorf("frame dimensions not encoded as 4x2: %X", sent[4:12])
	}

	// Verify Go read the correct data FROM Python
	if len(sets) != 1 {
		t.Fatalf("Expected 1 face, got %d", len(sets))
	}
	if len(sets[0]) != 68 {
		t.Fatalf("Expected 68 points, got %d", len(sets[0]))
	}
	if math.Abs(sets[0][30].X-120.5) > 1e-6 || sets[0][30].Z != -7 {
		t.Errorf("nose tip decoded wrong: %+v", sets[0][30])
	}
}

func TestPredict2D_MultipleFaces(t *testing.T) {
	w, _, dataPipeMock := newMockWorker(Kind2D)

	writeMessage(dataPipeMock, okReply(2,
		[]float32{1, 2, 3, 4},
		[]float32{5, 6},
	))

	sets, err := w.Predict2D(context.Background(), frameOf(1, 1))
	if err != nil {
		t.Fatalf("Predict2D failed: %v", err)
	}
	if len(sets) != 2 {
		t.Fatalf("Expected 2 faces, got %d", len(sets))
	}
	if len(sets[0]) != 2 || sets[0][1] != (types.Point2D{X: 3, Y: 4}) {
		t.Errorf("first face decoded wrong: %+v", sets[0])
	}
	if len(sets[1]) != 1 || sets[1][0] != (types.Point2D{X: 5, Y: 6}) {
		t.Errorf("second face decoded wrong: %+v", sets[1])
	}
}

func TestPredict_NoFaces(t *testing.T) {
	w, _, dataPipeMock := newMockWorker(Kind3D)
	writeMessage(dataPipeMock, okReply(3))

	sets, err := w.Predict3D(context.Background(), frameOf(1, 1))
	if err != nil {
		t.Fatalf("Predict3D failed: %v", err)
	}
	if len(sets) != 0 {
		t.Errorf("Expected no faces, got %d", len(sets))
	}
}

func TestPredict_ModelError(t *testing.T) {
	w, _, dataPipeMock := newMockWorker(Kind2D)

	errMsg := "CUDA out of memory"
	writeMessage(dataPipeMock, textReply(statusError, errMsg))

	_, err := w.Predict2D(context.Background(), frameOf(1, 1))
	if err == nil {
		t.Fatal("Expected error, got nil")
	}

	var predErr *PredictionError
	if !errors.As(err, &predErr) {
		t.Fatalf("Expected *PredictionError, got %T: %v", err, err)
	}
	if err.Error() != "python worker error: "+errMsg {
		t.Errorf("Expected error message '%s', got '%v'", "python worker error: "+errMsg, err)
	}
	if errors.Is(err, types.ErrPredictorCrashed) {
		t.Error("a model error must not be reported as a crash")
	}
}

func TestPredict_CrashedPipe(t *testing.T) {
	w, _, _ := newMockWorker(Kind3D)
	// Empty data pipe: the read hits EOF as it would after the interpreter died

	_, err := w.Predict3D(context.Background(), frameOf(1, 1))
	if !errors.Is(err, types.ErrPredictorCrashed) {
		t.Errorf("Expected ErrPredictorCrashed, got %v", err)
	}
}

func TestPredict_KindMismatch(t *testing.T) {
	w, stdinMock, _ := newMockWorker(Kind2D)

	if _, err := w.Predict3D(context.Background(), frameOf(1, 1)); !errors.Is(err, ErrKindMismatch) {
		t.Errorf("Expected ErrKindMismatch, got %v", err)
	}
	if stdinMock.Len() != 0 {
		t.Error("nothing should be sent on a kind mismatch")
	}
}

func TestPredict_CancelledContext(t *testing.T) {
	w, stdinMock, _ := newMockWorker(Kind3D)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := w.Predict3D(ctx, frameOf(1, 1)); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if stdinMock.Len() != 0 {
		t.Error("nothing should be sent after cancellation")
	}
}

func TestProcessFrame_ConvertsBGR(t *testing.T) {
	w, stdinMock, dataPipeMock := newMockWorker(Kind2D)
	writeMessage(dataPipeMock, okReply(2))

	bgr := frame.New(1, 1)
	defer bgr.Close()
	bgr.SetRGBA(0, 0, color.RGBA{R: 3, G: 2, B: 1, A: 0xFF}) // stored as B=1 G=2 R=3
	if _, err := w.ProcessFrame(bgr); err != nil {
		t.Fatal(err)
	}

	sent := stdinMock.Bytes()
	if !bytes.Equal(sent[12:], []byte{3, 2, 1}) {
		t.Errorf("Expected RGB pixels on the wire, got %X", sent[12:])
	}
	if !bytes.Equal(bgr.Bytes(), []byte{1, 2, 3}) {
		t.Error("caller's frame was modified")
	}
}

func TestDecodeReply_Malformed(t *testing.T) {
	tests := []struct {
		name string
		body []byte
	}{
		{"Empty body", nil},
		{"Unknown status", []byte{9}},
		{"Missing face count", []byte{statusOK, 0, 0}},
		{"Point count overruns body", []byte{statusOK, 0, 0, 0, 1, 0, 0, 0, 100}},
		{"Face count overruns body", []byte{statusOK, 0xFF, 0xFF, 0xFF, 0xFF}},
		{"Huge point count", []byte{statusOK, 0, 0, 0, 1, 0xFF, 0xFF, 0xFF, 0xFF}},
		{"Truncated points", func() []byte {
			b := okReply(3, []float32{1, 2, 3, 4, 5, 6})
			return b[:len(b)-4]
		}()},
		{"Trailing bytes", append(okReply(3, []float32{1, 2, 3}), 0xFF)},
		{"Error message overruns body", []byte{statusError, 0, 0, 0, 10, 'x'}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := decodeReply(tt.body, 3); err == nil {
				t.Error("Expected error, got nil")
			}
		})
	}
}

func TestDecodeHandshake(t *testing.T) {
	if err := decodeHandshake([]byte{statusOK}); err != nil {
		t.Errorf("ready handshake returned %v", err)
	}

	err := decodeHandshake(textReply(statusComputeUnavailable, "cuda requested but torch.cuda.is_available() is False"))
	if !errors.Is(err, ErrComputeUnavailable) {
		t.Errorf("Expected ErrComputeUnavailable, got %v", err)
	}

	err = decodeHandshake(textReply(statusError, "No module named 'face_alignment'"))
	if err == nil || errors.Is(err, ErrComputeUnavailable) {
		t.Errorf("Expected a plain load failure, got %v", err)
	}

	if err := decodeHandshake(nil); err == nil {
		t.Error("empty handshake must fail")
	}
}

func TestReadMessage_LengthLimit(t *testing.T) {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.BigEndian, uint32(maxMessage+1))
	if _, err := readMessage(buf); err == nil {
		t.Error("Expected oversized length to be rejected")
	}
}

func TestClose_Idempotent(t *testing.T) {
	w, stdinMock, dataPipeMock := newMockWorker(Kind3D)

	w.Close()
	w.Close()

	if stdinMock.closed != 1 || dataPipeMock.closed != 1 {
		t.Errorf("pipes closed %d/%d times, want 1/1", stdinMock.closed, dataPipeMock.closed)
	}
}

func TestKind(t *testing.T) {
	if Kind2D.String() != "2D" || Kind3D.String() != "3D" {
		t.Errorf("unexpected names %q %q", Kind2D, Kind3D)
	}
	if Kind2D.Dims() != 2 || Kind3D.Dims() != 3 {
		t.Errorf("unexpected dims %d %d", Kind2D.Dims(), Kind3D.Dims())
	}
}

func TestNewPythonWorker_StartupErrorKeepsStderr(t *testing.T) {
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not available")
	}

	// Stands in for an interpreter whose imports fail before the handshake
	script := filepath.Join(t.TempDir(), "worker.sh")
	body := "echo \"ModuleNotFoundError: No module named 'numpy'\" >&2\nexit 1\n"
	if err := os.WriteFile(script, []byte(body), 0o755); err != nil {
		t.Fatal(err)
	}

	w, err := NewPythonWorker(context.Background(), 7, Config{
		Kind:    Kind3D,
		Compute: ComputeCPU,
		Python:  sh,
		Script:  script,
	})
	if err == nil {
		w.Close()
		t.Fatal("Expected startup to fail")
	}

	var se *StartupError
	if !errors.As(err, &se) {
		t.Fatalf("Expected *StartupError, got %T: %v", err, err)
	}
	if se.ID != 7 || se.Kind != Kind3D {
		t.Errorf("unexpected worker identity %d/%s", se.ID, se.Kind)
	}
	if se.Cmd == nil || !strings.Contains(se.Cmd.Stderr.String(), "No module named 'numpy'") {
		t.Errorf("worker stderr not captured: %+v", se.Cmd)
	}
	if !errors.Is(err, types.ErrPredictorCrashed) {
		t.Errorf("Expected ErrPredictorCrashed in chain, got %v", err)
	}
}
