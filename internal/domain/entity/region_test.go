package entity

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegionExpand_ClampsToImage(t *testing.T) {
	r := Region{X1: 5, Y1: 5, X2: 95, Y2: 95}
	expanded := r.Expand(20, 100, 100)
	require.Equal(t, Region{X1: 0, Y1: 0, X2: 100, Y2: 100}, expanded)
}

func TestRegionClamp(t *testing.T) {
	r := Region{X1: -10, Y1: 3, X2: 150, Y2: 90}
	clamped := r.Clamp(100, 80)
	require.Equal(t, 0, clamped.X1)
	require.Equal(t, 3, clamped.Y1)
	require.Equal(t, 100, clamped.X2)
	require.Equal(t, 80, clamped.Y2)
}

func TestRegionCenter(t *testing.T) {
	r := Region{X1: 10, Y1: 20, X2: 30, Y2: 60}
	x, y := r.Center()
	require.Equal(t, 20, x)
	require.Equal(t, 40, y)
}

func TestMask_OutOfBoundsIsNoop(t *testing.T) {
	m := NewMask(4, 4)
	m.Set(-1, 0, true)
	m.Set(0, 10, true)
	m.Set(2, 2, true)

	require.False(t, m.At(-1, 0))
	require.False(t, m.At(0, 10))
	require.True(t, m.At(2, 2))
	require.Equal(t, 1, m.Area())
}
