package phys

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQ15Roundtrip(t *testing.T) {
	for _, v := range []float64{-1, -0.5, -0.123, 0, 0.123, 0.5, 1} {
		got := Q15ToFloat(FloatToQ15(v))
		assert.InDelta(t, v, got, 1.0/32767, "value %v", v)
	}
}

func TestQ15Saturates(t *testing.T) {
	assert.Equal(t, int16(32767), FloatToQ15(2.5))
	assert.Equal(t, int16(-32767), FloatToQ15(-2.5))
}

func TestPosQuantizationPrecision(t *testing.T) {
	for _, v := range []float64{-60, -1.5, 0, 0.001, 33.33, 63.9} {
		got := UnquantizePos(QuantizePos(v))
		assert.InDelta(t, v, got, 1.0/PosScale, "value %v", v)
	}
}

func TestPosQuantizationClamps(t *testing.T) {
	assert.Equal(t, uint16(65535), QuantizePos(1e6))
	assert.Equal(t, uint16(0), QuantizePos(-1e6))
}

func TestVelQuantizationPrecision(t *testing.T) {
	for _, v := range []float64{-120, -30, 0, 30, 127.9} {
		got := UnquantizeVel(QuantizeVel(v))
		assert.InDelta(t, v, got, 1.0/VelScale, "value %v", v)
	}
}

func TestRotQuantization(t *testing.T) {
	for _, theta := range []float64{0, 1, math.Pi / 2, math.Pi - 0.01, -math.Pi / 3, -3} {
		got := UnquantizeRot(QuantizeRot(theta))
		diff := math.Abs(NormalizeAngle(got - theta))
		assert.LessOrEqual(t, diff, math.Pi/RotSteps+1e-9, "theta %v", theta)
	}
}

func TestRotQuantizationWraps(t *testing.T) {
	// 2*pi and 0 land on the same step.
	assert.Equal(t, QuantizeRot(0), QuantizeRot(2*math.Pi))
	// Negative angles map into the step range.
	assert.Less(t, int(QuantizeRot(-0.1)), int(RotSteps))
}

func TestNormalizeAngle(t *testing.T) {
	assert.InDelta(t, 0.0, NormalizeAngle(2*math.Pi), 1e-12)
	assert.InDelta(t, -math.Pi+0.5, NormalizeAngle(math.Pi+0.5), 1e-12)
	assert.InDelta(t, 1.0, NormalizeAngle(1.0), 1e-12)
}

func TestLerpAngleShortestPath(t *testing.T) {
	// Crossing the +/-pi seam takes the short way round.
	a := 3.0
	b := -3.0
	mid := LerpAngle(a, b, 0.5)
	assert.Greater(t, math.Abs(mid), 3.0)
}
