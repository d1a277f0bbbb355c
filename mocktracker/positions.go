package mocktracker

import (
	"math/rand"
	"strings"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/arloliu/go-t2sa/geometry"
)

// Nominal placements, in metres. Rotations are zero.
var nominalGroups = map[string]geometry.PointGroup{
	"m1m3": {Origin: r3.Vec{X: 0, Y: 0, Z: 0}, Radius: 8.40},
	"m2":   {Origin: r3.Vec{X: 0, Y: 0, Z: 3.0}, Radius: 1.74},
	"cam":  {Origin: r3.Vec{X: 0, Y: 0, Z: 2.0}, Radius: 0.85},
}

const (
	originJitter   = 1e-3 // metres
	rotationJitter = 6e-3 // degrees, roughly 20 arcsec
)

// pointGroups holds the nominal and current placement of every target, keyed by lower case name.
type pointGroups struct {
	optimum *xsync.MapOf[string, geometry.PointGroup]
	current *xsync.MapOf[string, geometry.PointGroup]
}

func newPointGroups(seed int64) *pointGroups {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed)) //nolint:gosec

	jitter := func(sigma float64) r3.Vec {
		return r3.Vec{X: rng.NormFloat64() * sigma, Y: rng.NormFloat64() * sigma, Z: rng.NormFloat64() * sigma}
	}

	groups := &pointGroups{
		optimum: xsync.NewMapOf[string, geometry.PointGroup](),
		current: xsync.NewMapOf[string, geometry.PointGroup](),
	}

	// fixed order so a seed always yields the same placements
	for _, name := range []string{"m1m3", "m2", "cam"} {
		nominal := nominalGroups[name]
		groups.optimum.Store(name, nominal)
		groups.current.Store(name, geometry.PointGroup{
			Origin:   r3.Add(nominal.Origin, jitter(originJitter)),
			Rotation: r3.Add(nominal.Rotation, geometry.DegToRad(jitter(rotationJitter))),
			Radius:   nominal.Radius,
		})
	}

	return groups
}

func (g *pointGroups) has(name string) bool {
	_, ok := g.optimum.Load(strings.ToLower(name))
	return ok
}

func (g *pointGroups) nominal(name string) (geometry.PointGroup, bool) {
	return g.optimum.Load(strings.ToLower(name))
}

func (g *pointGroups) placement(name string) (geometry.PointGroup, bool) {
	return g.current.Load(strings.ToLower(name))
}

func (g *pointGroups) move(name string, pg geometry.PointGroup) {
	g.current.Store(strings.ToLower(name), pg)
}

func (g *pointGroups) names() []string {
	names := make([]string, 0, g.optimum.Size())
	g.optimum.Range(func(name string, _ geometry.PointGroup) bool {
		names = append(names, name)
		return true
	})

	return names
}

// relativeOffset returns (target - ref) at their current placement minus the same difference
// at nominal placement. Linear values are in millimetres, angles in degrees.
func (g *pointGroups) relativeOffset(ref, target string) (lin, ang r3.Vec) {
	refCur, _ := g.placement(ref)
	tgtCur, _ := g.placement(target)
	refOpt, _ := g.nominal(ref)
	tgtOpt, _ := g.nominal(target)

	dOrigin := r3.Sub(r3.Sub(tgtCur.Origin, refCur.Origin), r3.Sub(tgtOpt.Origin, refOpt.Origin))
	dRot := r3.Sub(r3.Sub(tgtCur.Rotation, refCur.Rotation), r3.Sub(tgtOpt.Rotation, refOpt.Rotation))

	return r3.Scale(1e3, dOrigin), geometry.RadToDeg(dRot)
}

// correct moves target halfway to the placement that zeroes its offset from ref.
func (g *pointGroups) correct(ref, target string) {
	refCur, _ := g.placement(ref)
	tgtCur, _ := g.placement(target)
	refOpt, _ := g.nominal(ref)
	tgtOpt, _ := g.nominal(target)

	desired := geometry.PointGroup{
		Origin:   r3.Add(tgtOpt.Origin, r3.Sub(refCur.Origin, refOpt.Origin)),
		Rotation: r3.Add(tgtOpt.Rotation, r3.Sub(refCur.Rotation, refOpt.Rotation)),
		Radius:   tgtCur.Radius,
	}
	g.move(target, tgtCur.Moved(desired, 0.5))
}
