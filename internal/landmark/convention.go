// Package landmark holds the 68-point facial landmark convention and the
// features derived from it (nose tip, chin, eye and mouth centers).
package landmark

import (
	"errors"
	"fmt"

	"github.com/andresmejia3/facemark/internal/types"
)

// Landmark indices in the 68-point (iBUG 300-W) ordering.
const (
	Chin    = 8
	NoseTip = 30

	NumLandmarks = 68
)

// Span is a half-open index range [Start, End) into a landmark set.
type Span struct {
	Start int
	End   int
}

// Len returns the number of indices covered by the span.
func (s Span) Len() int { return s.End - s.Start }

var (
	LeftEye  = Span{Start: 36, End: 42}
	RightEye = Span{Start: 42, End: 48}
	Mouth    = Span{Start: 48, End: 60}
)

// MinPoints is the shortest landmark set that covers every index read by Extract.
var MinPoints = requiredPoints()

var (
	// ErrMalformedLandmarkSet is returned when a set is too short for the fixed indices.
	ErrMalformedLandmarkSet = errors.New("malformed landmark set")

	// ErrEmptySubset is returned when a mean is requested over zero points.
	ErrEmptySubset = errors.New("empty landmark subset")
)

func requiredPoints() int {
	n := 0
	for _, idx := range []int{Chin + 1, NoseTip + 1, LeftEye.End, RightEye.End, Mouth.End} {
		if idx > n {
			n = idx
		}
	}
	return n
}

// Validate reports whether a set of n points can be indexed with the fixed convention.
func Validate(n int) error {
	if n < MinPoints {
		return fmt.Errorf("%w: got %d points, need at least %d", ErrMalformedLandmarkSet, n, MinPoints)
	}
	return nil
}

// Slice returns the points covered by span. The caller must have validated the set.
func Slice(set types.LandmarkSet3D, span Span) []types.Point3D {
	return set[span.Start:span.End]
}
