package world

import (
	"encoding/binary"
	"math"

	"github.com/cespare/xxhash/v2"
	"github.com/segmentio/fasthash/fnv1a"
)

// registerBuiltins installs the required built-in intensity, interaction and
// regeneration functions. Tag numbering is fixed and must not change
// (snapshot byte-compatibility).
func registerBuiltins(r *Registry) {
	r.register(KindIntensity, TagZero, funcDescriptor{
		intensity:  func(Position, []float64) float64 { return 0 },
		stationary: true, timeIndependent: true, argCount: 0,
	})
	r.register(KindIntensity, TagConstant, funcDescriptor{
		intensity:  func(_ Position, args []float64) float64 { return args[0] },
		stationary: true, timeIndependent: true, argCount: 1,
	})
	r.register(KindIntensity, TagRadialHash, funcDescriptor{
		intensity:       radialHashIntensity,
		stationary:      false,
		timeIndependent: true,
		argCount:        4,
	})

	r.register(KindInteraction, TagZero, funcDescriptor{
		interaction: func(Position, Position, []float64) float64 { return 0 },
		stationary:  true, timeIndependent: true, argCount: 0,
	})
	r.register(KindInteraction, TagPiecewiseBox, funcDescriptor{
		interaction:     piecewiseBoxInteraction,
		stationary:      true,
		timeIndependent: true,
		argCount:        4,
	})
	r.register(KindInteraction, TagCross, funcDescriptor{
		interaction:     crossInteraction,
		stationary:      true,
		timeIndependent: true,
		argCount:        6,
	})
	r.register(KindInteraction, TagCrossHash, funcDescriptor{
		interaction:     crossHashInteraction,
		stationary:      true,
		timeIndependent: true,
		argCount:        6,
	})
	r.register(KindInteraction, TagMoore, funcDescriptor{
		interaction:     mooreInteraction,
		stationary:      true,
		timeIndependent: true,
		argCount:        1,
	})
	r.register(KindInteraction, TagFour, funcDescriptor{
		interaction:     fourInteraction,
		stationary:      true,
		timeIndependent: true,
		argCount:        1,
	})
	r.register(KindInteraction, TagGaussian, funcDescriptor{
		interaction:     gaussianInteraction,
		stationary:      true,
		timeIndependent: true,
		argCount:        2,
	})

	r.register(KindRegeneration, TagZero, funcDescriptor{
		regeneration:    func(Position, int64, []float64) float64 { return 0 },
		timeIndependent: true, argCount: 0,
	})
	r.register(KindRegeneration, TagConstant, funcDescriptor{
		regeneration:    func(_ Position, _ int64, args []float64) float64 { return args[0] },
		timeIndependent: true, argCount: 1,
	})
	r.register(KindRegeneration, TagCustom, funcDescriptor{
		regeneration:    customRegeneration,
		timeIndependent: false,
		argCount:        -1,
	})
}

// radialHashIntensity implements the RADIAL_HASH built-in: a deterministic,
// position-dependent pseudo-random field derived by hashing the position
// with xxhash, adding shift, scaling the result into [0,1) as u and
// returning bias + amplitude*sin(2*pi*scale*u). It is intentionally not stationary: it
// depends on the absolute position, not a displacement.
//
// args: shift, scale, bias, amplitude.
func radialHashIntensity(pos Position, args []float64) float64 {
	shift, scale, bias, amplitude := args[0], args[1], args[2], args[3]
	var buf [16]byte
	binary.LittleEndian.PutUint64(buf[0:8], uint64(pos.X))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(pos.Y))
	h := xxhash.Sum64(buf[:]) + uint64(int64(shift))
	u := float64(h%1_000_000_007) / 1_000_000_007.0
	return bias + amplitude*math.Sin(scale*u*2*math.Pi)
}

// piecewiseBoxInteraction implements PIECEWISE_BOX(r1,r2,v1,v2): a step
// function of the displacement's squared length.
func piecewiseBoxInteraction(pos1, pos2 Position, args []float64) float64 {
	r1, r2, v1, v2 := args[0], args[1], args[2], args[3]
	d2 := float64(pos1.Sub(pos2).SquaredLength())
	switch {
	case d2 <= r1*r1:
		return v1
	case d2 <= r2*r2:
		return v2
	default:
		return 0
	}
}

// crossInteraction implements CROSS(r1,r2,vAxis1,vAxis2,vOff1,vOff2): energy
// that differs depending on whether the displacement lies (approximately) on
// an axis or off it, within two radius bands.
func crossInteraction(pos1, pos2 Position, args []float64) float64 {
	r1, r2, vAxis1, vAxis2, vOff1, vOff2 := args[0], args[1], args[2], args[3], args[4], args[5]
	d := pos1.Sub(pos2)
	onAxis := d.X == 0 || d.Y == 0
	d2 := float64(d.SquaredLength())
	var band int
	switch {
	case d2 <= r1*r1:
		band = 1
	case d2 <= r2*r2:
		band = 2
	default:
		return 0
	}
	if onAxis {
		if band == 1 {
			return vAxis1
		}
		return vAxis2
	}
	if band == 1 {
		return vOff1
	}
	return vOff2
}

// crossHashInteraction is CROSS_HASH: like CROSS, but the axis/off-axis value
// is additionally perturbed by a deterministic hash of the displacement so
// that otherwise-identical cross-shaped neighbourhoods are distinguishable.
// It uses fasthash/fnv1a rather than xxhash so that the two hashed built-ins
// (RADIAL_HASH and CROSS_HASH) mix with unrelated hash families.
func crossHashInteraction(pos1, pos2 Position, args []float64) float64 {
	base := crossInteraction(pos1, pos2, args)
	d := pos1.Sub(pos2)
	h := fnv1a.HashUint64(uint64(d.X)*31 + uint64(d.Y))
	perturb := (float64(h%1000) / 1000.0) - 0.5
	return base + perturb*0.01
}

// mooreInteraction implements MOORE(v): a constant energy v applied to any of
// the 8 Moore neighbours (displacement components each in {-1,0,1}, not both
// zero), 0 elsewhere.
func mooreInteraction(pos1, pos2 Position, args []float64) float64 {
	d := pos1.Sub(pos2)
	if d.X == 0 && d.Y == 0 {
		return 0
	}
	if d.X >= -1 && d.X <= 1 && d.Y >= -1 && d.Y <= 1 {
		return args[0]
	}
	return 0
}

// fourInteraction implements FOUR(v): a constant energy v applied to the 4
// von Neumann neighbours only.
func fourInteraction(pos1, pos2 Position, args []float64) float64 {
	d := pos1.Sub(pos2)
	if (d.X == 0 && (d.Y == 1 || d.Y == -1)) || (d.Y == 0 && (d.X == 1 || d.X == -1)) {
		return args[0]
	}
	return 0
}

// gaussianInteraction implements GAUSSIAN(sigma, a): a smooth, stationary
// Gaussian bump of amplitude a and width sigma over the displacement.
func gaussianInteraction(pos1, pos2 Position, args []float64) float64 {
	sigma, a := args[0], args[1]
	if sigma <= 0 {
		return 0
	}
	d2 := float64(pos1.Sub(pos2).SquaredLength())
	return a * math.Exp(-d2/(2*sigma*sigma))
}

// customRegeneration implements CUSTOM(args[t]): per-tick regeneration
// intensity, indexed by tick with bounds checking. Ticks outside
// [0, len(args)) return 0 rather than panicking or reading out of bounds.
func customRegeneration(_ Position, tick int64, args []float64) float64 {
	if tick < 0 || tick >= int64(len(args)) {
		return 0
	}
	return args[tick]
}
