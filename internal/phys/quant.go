package phys

import "math"

// Wire quantization for the binary snapshot form. Positions get 1/512 unit
// precision across +/-64 units from the AOI cell center, velocities 1/256,
// rotations 2*pi/1024.
const (
	PosScale = 512.0
	VelScale = 256.0
	RotSteps = 1024.0

	quantBias = 32768
)

// FloatToQ15 encodes x in [-1,1] as signed Q0.15 fixed point.
func FloatToQ15(x float64) int16 {
	if x > 1 {
		x = 1
	}
	if x < -1 {
		x = -1
	}
	return int16(math.Round(x * 32767))
}

// Q15ToFloat decodes a Q0.15 value back to [-1,1].
func Q15ToFloat(q int16) float64 {
	return float64(q) / 32767
}

// QuantizePos maps a position component into u16 wire form.
func QuantizePos(p float64) uint16 {
	v := math.Round(p*PosScale) + quantBias
	if v < 0 {
		v = 0
	}
	if v > 65535 {
		v = 65535
	}
	return uint16(v)
}

// UnquantizePos recovers a position component from wire form.
func UnquantizePos(q uint16) float64 {
	return (float64(q) - quantBias) / PosScale
}

// QuantizeVel maps a velocity component into u16 wire form.
func QuantizeVel(v float64) uint16 {
	q := math.Round(v*VelScale) + quantBias
	if q < 0 {
		q = 0
	}
	if q > 65535 {
		q = 65535
	}
	return uint16(q)
}

// UnquantizeVel recovers a velocity component from wire form.
func UnquantizeVel(q uint16) float64 {
	return (float64(q) - quantBias) / VelScale
}

// QuantizeRot maps an angle onto 1024 wire steps.
func QuantizeRot(theta float64) uint16 {
	steps := math.Round(theta * RotSteps / (2 * math.Pi))
	s := int(steps) % int(RotSteps)
	if s < 0 {
		s += int(RotSteps)
	}
	return uint16(s)
}

// UnquantizeRot recovers an angle in [-pi, pi) from wire steps.
func UnquantizeRot(q uint16) float64 {
	return NormalizeAngle(float64(q) * 2 * math.Pi / RotSteps)
}
