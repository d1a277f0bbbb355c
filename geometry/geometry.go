// Package geometry models the tracked targets as rigid bodies carrying
// fiducials, so that synthetic measurements have realistic, non-degenerate values.
package geometry

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// NumFiducials is the number of fiducials on every point group.
const NumFiducials = 3

// PointGroup is a rigid body with fiducials spaced evenly on a circle in its local XY plane.
type PointGroup struct {
	// Origin is the body centre.
	Origin r3.Vec
	// Rotation is a rotation vector in radians: its direction is the rotation axis
	// and its norm the rotation angle.
	Rotation r3.Vec
	// Radius is the distance of every fiducial from Origin.
	Radius float64
}

// NumFiducials returns the number of fiducials of the group.
func (g PointGroup) NumFiducials() int {
	return NumFiducials
}

// Fiducial returns the world position of fiducial i, 0 <= i < NumFiducials.
//
// The fiducial lies at angle a = i*120° in the local frame, r*(sin a, cos a, 0).
// It is rotated by Rotation and then translated by Origin.
func (g PointGroup) Fiducial(i int) (r3.Vec, error) {
	if i < 0 || i >= NumFiducials {
		return r3.Vec{}, fmt.Errorf("fiducial index %d out of range [0, %d]", i, NumFiducials-1)
	}

	a := float64(i) * 2 * math.Pi / NumFiducials
	local := r3.Vec{X: g.Radius * math.Sin(a), Y: g.Radius * math.Cos(a)}

	return r3.Add(g.rotate(local), g.Origin), nil
}

// Fiducials returns the world positions of all fiducials.
func (g PointGroup) Fiducials() []r3.Vec {
	out := make([]r3.Vec, NumFiducials)
	for i := range out {
		out[i], _ = g.Fiducial(i)
	}

	return out
}

func (g PointGroup) rotate(p r3.Vec) r3.Vec {
	angle := r3.Norm(g.Rotation)
	if angle == 0 {
		return p
	}

	return r3.NewRotation(angle, r3.Unit(g.Rotation)).Rotate(p)
}

// Moved returns a copy of g with origin and rotation moved by fraction f toward target.
// f == 1 lands on target.
func (g PointGroup) Moved(target PointGroup, f float64) PointGroup {
	return PointGroup{
		Origin:   r3.Add(g.Origin, r3.Scale(f, r3.Sub(target.Origin, g.Origin))),
		Rotation: r3.Add(g.Rotation, r3.Scale(f, r3.Sub(target.Rotation, g.Rotation))),
		Radius:   g.Radius,
	}
}

// DegToRad converts a rotation vector given in degrees to radians.
func DegToRad(v r3.Vec) r3.Vec {
	return r3.Scale(math.Pi/180, v)
}

// RadToDeg converts a rotation vector given in radians to degrees.
func RadToDeg(v r3.Vec) r3.Vec {
	return r3.Scale(180/math.Pi, v)
}
