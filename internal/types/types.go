package types

import (
	"errors"
	"image/color"
)

// Point2D is a single (x, y) landmark in pixel coordinates.
type Point2D struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Point3D is a single (x, y, z) landmark. X and Y are pixel coordinates, Z is the model's relative depth.
type Point3D struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// LandmarkSet2D is the ordered landmark list of one face returned by the 2D predictor.
type LandmarkSet2D []Point2D

// LandmarkSet3D is the ordered landmark list of one face returned by the 3D predictor.
type LandmarkSet3D []Point3D

// MarkerStyle is how one landmark point is drawn on a frame.
type MarkerStyle struct {
	Color  color.RGBA
	Radius int
}

var (
	// Marker2D draws points from the 2D predictor: green, radius 3.
	Marker2D = MarkerStyle{Color: color.RGBA{G: 0xFF, A: 0xFF}, Radius: 3}
	// Marker3D draws points from the 3D predictor: blue, radius 3.
	Marker3D = MarkerStyle{Color: color.RGBA{B: 0xFF, A: 0xFF}, Radius: 3}
)

var (
	// ErrDeviceUnavailable means the frame source could not be opened or stopped producing frames.
	ErrDeviceUnavailable = errors.New("video device unavailable")

	// ErrPredictorCrashed means a landmark predictor can no longer answer (process exit, broken pipe, timeout).
	ErrPredictorCrashed = errors.New("landmark predictor crashed")
)
