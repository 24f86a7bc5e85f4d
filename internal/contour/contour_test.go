package contour

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clothseg/internal/models"
)

func rectMask(w, h, x1, y1, x2, y2 int) models.Mask {
	m := models.NewMask(w, h)
	for y := y1; y <= y2; y++ {
		for x := x1; x <= x2; x++ {
			m.Set(x, y, true)
		}
	}
	return m
}

func TestExtractEmptyMask(t *testing.T) {
	contours := Extract(models.NewMask(20, 20), true)
	assert.Empty(t, contours)
}

func TestExtractZeroSizeMask(t *testing.T) {
	assert.Empty(t, Extract(models.Mask{}, true))
}

func TestExtractRectangle(t *testing.T) {
	m := rectMask(20, 20, 5, 5, 14, 14)

	contours := Extract(m, false)
	require.Len(t, contours, 1)
	require.GreaterOrEqual(t, len(contours[0]), 3)

	for _, p := range contours[0] {
		assert.GreaterOrEqual(t, p.X, 5)
		assert.LessOrEqual(t, p.X, 14)
		assert.GreaterOrEqual(t, p.Y, 5)
		assert.LessOrEqual(t, p.Y, 14)
	}
}

func TestExtractSinglePixelDropped(t *testing.T) {
	m := models.NewMask(10, 10)
	m.Set(4, 4, true)

	assert.Empty(t, Extract(m, true))
}

func TestExtractFiltersNoiseBlobs(t *testing.T) {
	m := rectMask(40, 40, 2, 2, 21, 21)
	// a thin 3-pixel line: traced but zero-area, filtered out
	m.Set(30, 30, true)
	m.Set(31, 30, true)
	m.Set(32, 30, true)

	contours := Extract(m, false)
	require.Len(t, contours, 1)
}

func TestExtractKeepsComparableBlobs(t *testing.T) {
	m := rectMask(60, 30, 2, 2, 21, 21)
	for y := 2; y <= 21; y++ {
		for x := 30; x <= 49; x++ {
			m.Set(x, y, true)
		}
	}

	contours := Extract(m, false)
	assert.Len(t, contours, 2)
}

func TestSimplifyReducesPoints(t *testing.T) {
	m := rectMask(100, 100, 20, 20, 59, 59)

	full := Extract(m, false)
	simplified := Extract(m, true)
	require.Len(t, full, 1)
	require.Len(t, simplified, 1)

	assert.LessOrEqual(t, len(simplified[0]), len(full[0]))
	assert.GreaterOrEqual(t, len(simplified[0]), 3)

	// simplification must not move the contour's extent
	fx1, fy1, fx2, fy2 := boundsOfContour(full[0])
	sx1, sy1, sx2, sy2 := boundsOfContour(simplified[0])
	assert.Equal(t, []int{fx1, fy1, fx2, fy2}, []int{sx1, sy1, sx2, sy2})
}

func TestExtractDonutOuterBoundaryOnly(t *testing.T) {
	m := models.NewMask(30, 30)
	for y := 0; y < 30; y++ {
		for x := 0; x < 30; x++ {
			dx, dy := x-15, y-15
			d2 := dx*dx + dy*dy
			if d2 >= 9 && d2 <= 100 {
				m.Set(x, y, true)
			}
		}
	}

	contours := Extract(m, false)
	require.Len(t, contours, 1)

	minX, minY, maxX, maxY := boundsOfContour(contours[0])
	assert.LessOrEqual(t, minX, 6)
	assert.GreaterOrEqual(t, maxX, 24)
	assert.LessOrEqual(t, minY, 6)
	assert.GreaterOrEqual(t, maxY, 24)
}

func TestExtractPointsWithinMask(t *testing.T) {
	m := rectMask(16, 16, 0, 0, 15, 15)

	contours := Extract(m, true)
	require.NotEmpty(t, contours)
	for _, c := range contours {
		for _, p := range c {
			assert.GreaterOrEqual(t, p.X, 0)
			assert.Less(t, p.X, 16)
			assert.GreaterOrEqual(t, p.Y, 0)
			assert.Less(t, p.Y, 16)
		}
	}
}

func boundsOfContour(c models.Contour) (minX, minY, maxX, maxY int) {
	minX, minY = c[0].X, c[0].Y
	maxX, maxY = c[0].X, c[0].Y
	for _, p := range c {
		if p.X < minX {
			minX = p.X
		}
		if p.Y < minY {
			minY = p.Y
		}
		if p.X > maxX {
			maxX = p.X
		}
		if p.Y > maxY {
			maxY = p.Y
		}
	}
	return
}
