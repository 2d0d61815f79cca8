package worker

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Reply status bytes.
const (
	statusOK                 byte = 0
	statusError              byte = 1
	statusComputeUnavailable byte = 2
)

// maxMessage bounds a single reply so a corrupted length cannot allocate gigabytes.
const maxMessage = 64 * 1024 * 1024

func writeMessage(w io.Writer, body []byte) error {
	if err := binary.Write(w, binary.BigEndian, uint32(len(body))); err != nil {
		return err
	}
	_, err := w.Write(body)
	return err
}

func readMessage(r io.Reader) ([]byte, error) {
	header := make([]byte, 4)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err // a crashed interpreter shows up here as EOF
	}

	n := binary.BigEndian.Uint32(header)
	if n > maxMessage {
		return nil, fmt.Errorf("reply length %d exceeds limit", n)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	return body, nil
}

// encodeFrame builds a request body: [Width][Height][Pixels].
func encodeFrame(width, height int, pix []byte) []byte {
	buf := make([]byte, 8+len(pix))
	binary.BigEndian.PutUint32(buf[0:4], uint32(width))
	binary.BigEndian.PutUint32(buf[4:8], uint32(height))
	copy(buf[8:], pix)
	return buf
}

// decodeHandshake interprets the first message a worker sends after start-up.
func decodeHandshake(body []byte) error {
	if len(body) == 0 {
		return errors.New("empty handshake")
	}
	switch body[0] {
	case statusOK:
		return nil
	case statusComputeUnavailable:
		msg, err := decodeText(bytes.NewReader(body[1:]))
		if err != nil {
			return err
		}
		return fmt.Errorf("%w: %s", ErrComputeUnavailable, msg)
	case statusError:
		msg, err := decodeText(bytes.NewReader(body[1:]))
		if err != nil {
			return err
		}
		return fmt.Errorf("model failed to load: %s", msg)
	}
	return fmt.Errorf("unknown handshake status %d", body[0])
}

// decodeReply parses a prediction reply.
// OK:    [Status:0] [NumFaces] { [NumPoints] [float32 * NumPoints * dims] }...
// Error: [Status:1] [MsgLen] [Msg]
func decodeReply(body []byte, dims int) ([][]float64, error) {
	if len(body) == 0 {
		return nil, errors.New("empty reply")
	}
	r := bytes.NewReader(body[1:])

	switch body[0] {
	case statusOK:
	case statusError:
		msg, err := decodeText(r)
		if err != nil {
			return nil, err
		}
		return nil, &PredictionError{Msg: msg}
	default:
		return nil, fmt.Errorf("unknown reply status %d", body[0])
	}

	var numFaces uint32
	if err := binary.Read(r, binary.BigEndian, &numFaces); err != nil {
		return nil, fmt.Errorf("read face count: %w", err)
	}

	// Every face carries at least its point count
	if uint64(numFaces)*4 > uint64(r.Len()) {
		return nil, fmt.Errorf("%d faces do not fit in %d remaining bytes", numFaces, r.Len())
	}

	faces := make([][]float64, 0, numFaces)
	for i := uint32(0); i < numFaces; i++ {
		var numPoints uint32
		if err := binary.Read(r, binary.BigEndian, &numPoints); err != nil {
			return nil, fmt.Errorf("face %d: read point count: %w", i, err)
		}
		if uint64(numPoints)*uint64(dims)*4 > uint64(r.Len()) {
			return nil, fmt.Errorf("face %d: %d points do not fit in %d remaining bytes", i, numPoints, r.Len())
		}
		n := int(numPoints) * dims
		raw := make([]float32, n)
		if err := binary.Read(r, binary.BigEndian, raw); err != nil {
			return nil, fmt.Errorf("face %d: read points: %w", i, err)
		}
		coords := make([]float64, n)
		for j, v := range raw {
			coords[j] = float64(v)
		}
		faces = append(faces, coords)
	}

	if r.Len() != 0 {
		return nil, fmt.Errorf("%d trailing bytes in reply", r.Len())
	}
	return faces, nil
}

func decodeText(r *bytes.Reader) (string, error) {
	var n uint32
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return "", fmt.Errorf("read message length: %w", err)
	}
	if int(n) > r.Len() {
		return "", fmt.Errorf("message length %d exceeds reply", n)
	}
	msg := make([]byte, n)
	if _, err := io.ReadFull(r, msg); err != nil {
		return "", err
	}
	return string(msg), nil
}
