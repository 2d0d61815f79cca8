package landmark

import (
	"fmt"
	"io"

	"github.com/andresmejia3/facemark/internal/types"
)

// Features are the points read from, and averaged over, one 3D landmark set.
type Features struct {
	NoseTip types.Point3D
	Chin    types.Point3D

	LeftEye  []types.Point3D
	RightEye []types.Point3D
	Mouth    []types.Point3D

	LeftEyeCenter  types.Point3D
	RightEyeCenter types.Point3D
	MouthCenter    types.Point3D
}

// Extract validates set against the 68-point convention and computes its features.
func Extract(set types.LandmarkSet3D) (Features, error) {
	if err := Validate(len(set)); err != nil {
		return Features{}, err
	}

	f := Features{
		NoseTip:  set[NoseTip],
		Chin:     set[Chin],
		LeftEye:  Slice(set, LeftEye),
		RightEye: Slice(set, RightEye),
		Mouth:    Slice(set, Mouth),
	}

	var err error
	if f.LeftEyeCenter, err = Mean(f.LeftEye); err != nil {
		return Features{}, fmt.Errorf("left eye: %w", err)
	}
	if f.RightEyeCenter, err = Mean(f.RightEye); err != nil {
		return Features{}, fmt.Errorf("right eye: %w", err)
	}
	if f.MouthCenter, err = Mean(f.Mouth); err != nil {
		return Features{}, fmt.Errorf("mouth: %w", err)
	}
	return f, nil
}

// WriteReport prints the extracted and derived coordinates, one line per feature.
func (f Features) WriteReport(w io.Writer) error {
	lines := []struct {
		label string
		p     types.Point3D
	}{
		{"Nose Tip", f.NoseTip},
		{"Chin", f.Chin},
		{"Left Eye Center", f.LeftEyeCenter},
		{"Right Eye Center", f.RightEyeCenter},
		{"Mouth Center", f.MouthCenter},
	}
	for _, l := range lines {
		if _, err := fmt.Fprintf(w, "%s Coordinates: X=%.2f, Y=%.2f, Z=%.2f\n", l.label, l.p.X, l.p.Y, l.p.Z); err != nil {
			return err
		}
	}
	return nil
}
