package landmark

import (
	"github.com/andresmejia3/facemark/internal/types"
	"gonum.org/v1/gonum/stat"
)

// Mean reduces points to their per-axis arithmetic mean.
func Mean(points []types.Point3D) (types.Point3D, error) {
	if len(points) == 0 {
		return types.Point3D{}, ErrEmptySubset
	}

	xs := make([]float64, len(points))
	ys := make([]float64, len(points))
	zs := make([]float64, len(points))
	for i, p := range points {
		xs[i], ys[i], zs[i] = p.X, p.Y, p.Z
	}

	return types.Point3D{
		X: stat.Mean(xs, nil),
		Y: stat.Mean(ys, nil),
		Z: stat.Mean(zs, nil),
	}, nil
}
