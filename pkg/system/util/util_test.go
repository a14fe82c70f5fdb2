package util

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAddUint64(t *testing.T) {
	assert.Equal(t, uint64(0), AddUint64(0, 0))
	assert.Equal(t, uint64(30), AddUint64(10, 20))
	assert.Equal(t, uint64(math.MaxUint64), AddUint64(math.MaxUint64, 0))
	assert.Equal(t, uint64(math.MaxUint64), AddUint64(math.MaxUint64, 1))
	assert.Equal(t, uint64(math.MaxUint64), AddUint64(math.MaxUint64-5, 10))
	assert.Equal(t, uint64(math.MaxUint64), AddUint64(math.MaxUint64, math.MaxUint64))
}

func TestAddUint64_NeverWraps(t *testing.T) {
	// For any sequence of adds the result equals min(true value, MaxUint64).
	operands := []uint64{0, 1, 7, 1 << 32, 1 << 62, math.MaxUint64 / 2, math.MaxUint64}
	for _, l := range operands {
		for _, r := range operands {
			got := AddUint64(l, r)
			if l > math.MaxUint64-r {
				assert.Equal(t, uint64(math.MaxUint64), got, "AddUint64(%d, %d)", l, r)
			} else {
				assert.Equal(t, l+r, got, "AddUint64(%d, %d)", l, r)
			}
			assert.GreaterOrEqual(t, got, l, "result must not wrap below an operand")
		}
	}
}

func TestMulUint64(t *testing.T) {
	assert.Equal(t, uint64(0), MulUint64(0, math.MaxUint64))
	assert.Equal(t, uint64(0), MulUint64(math.MaxUint64, 0))
	assert.Equal(t, uint64(200), MulUint64(10, 20))
	assert.Equal(t, uint64(math.MaxUint64), MulUint64(math.MaxUint64, 2))
	assert.Equal(t, uint64(math.MaxUint64), MulUint64(1<<33, 1<<33))
}

func TestMulUint64_NeverWraps(t *testing.T) {
	operands := []uint64{0, 1, 3, 1 << 20, 1 << 33, 1 << 63, math.MaxUint64}
	for _, l := range operands {
		for _, r := range operands {
			got := MulUint64(l, r)
			if l != 0 && r != 0 && l > math.MaxUint64/r {
				assert.Equal(t, uint64(math.MaxUint64), got, "MulUint64(%d, %d)", l, r)
			} else if l == 0 || r == 0 {
				assert.Equal(t, uint64(0), got)
			} else {
				assert.Equal(t, l*r, got, "MulUint64(%d, %d)", l, r)
			}
		}
	}
}

func TestSaturationIsSticky(t *testing.T) {
	// Once at the ceiling, further adds and multiplies stay there.
	v := AddUint64(math.MaxUint64-1, 100)
	assert.Equal(t, uint64(math.MaxUint64), v)
	v = AddUint64(v, 12345)
	assert.Equal(t, uint64(math.MaxUint64), v)
	v = MulUint64(v, 10)
	assert.Equal(t, uint64(math.MaxUint64), v)
}

func TestEMA(t *testing.T) {
	e := NewEMA(0.5)
	assert.Equal(t, 1.0, e.Next(1.0), "first sample passes through")
	assert.InDelta(t, 0.5, e.Next(0.0), 1e-9)
	assert.InDelta(t, 0.75, e.Next(1.0), 1e-9)
}

func TestSafeDiv(t *testing.T) {
	assert.Equal(t, 2.0, SafeDiv(4, 2))
	assert.Equal(t, 0.0, SafeDiv(4, 0))
	assert.Equal(t, 0.0, SafeDiv(0, 0))
}

func TestClamp01(t *testing.T) {
	assert.Equal(t, 0.0, Clamp01(-1))
	assert.Equal(t, 0.25, Clamp01(0.25))
	assert.Equal(t, 1.0, Clamp01(42))
	assert.Equal(t, 0.0, Clamp01(math.NaN()))
}
