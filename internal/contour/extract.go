//go:build !gocv
// +build !gocv

package contour

import "clothseg/internal/models"

// Extract finds the outer boundary of every connected foreground region and
// returns the resulting closed contours, largest area first. An all-zero
// mask yields an empty slice; regions too small to form a polygon are
// dropped. With simplify set, each contour is reduced with Douglas-Peucker
// while staying within a sub-percent deviation of its perimeter.
func Extract(mask models.Mask, simplify bool) []models.Contour {
	if mask.W <= 0 || mask.H <= 0 {
		return nil
	}

	visited := make([]bool, mask.W*mask.H)
	var contours []models.Contour

	for y := 0; y < mask.H; y++ {
		for x := 0; x < mask.W; x++ {
			if !mask.At(x, y) || visited[y*mask.W+x] {
				continue
			}
			// Row-major scan order means (x, y) is the topmost-leftmost
			// pixel of its component: everything above and to the left of
			// it in the component is background, which is exactly the
			// starting condition Moore tracing needs.
			floodFill(mask, visited, x, y)
			c := traceBoundary(mask, x, y)
			if len(c) >= 3 {
				contours = append(contours, c)
			}
		}
	}

	contours = filterByArea(contours)
	if simplify {
		for i, c := range contours {
			contours[i] = simplifyContour(c)
		}
		contours = dropDegenerate(contours)
	}
	return contours
}

// 8-neighborhood enumerated clockwise in screen coordinates (y grows down),
// starting west.
var (
	ndx = [8]int{-1, -1, 0, 1, 1, 1, 0, -1}
	ndy = [8]int{0, -1, -1, -1, 0, 1, 1, 1}

	// dirLookup[oy+1][ox+1] maps a unit offset back to its direction index.
	dirLookup = [3][3]int{
		{1, 2, 3},
		{0, -1, 4},
		{7, 6, 5},
	}
)

// floodFill marks every pixel of the 8-connected component containing
// (sx, sy) as visited.
func floodFill(m models.Mask, visited []bool, sx, sy int) {
	stack := []models.Point{{X: sx, Y: sy}}
	visited[sy*m.W+sx] = true
	for len(stack) > 0 {
		p := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for d := 0; d < 8; d++ {
			nx, ny := p.X+ndx[d], p.Y+ndy[d]
			if !m.At(nx, ny) || visited[ny*m.W+nx] {
				continue
			}
			visited[ny*m.W+nx] = true
			stack = append(stack, models.Point{X: nx, Y: ny})
		}
	}
}

// traceBoundary walks the outer boundary of the component whose
// topmost-leftmost pixel is (sx, sy) using Moore-neighbor tracing with a
// backtracking pointer. It stops when the start pixel is re-entered with
// the same continuation as the first move (Jacob's criterion), which keeps
// one-pixel-wide appendages from terminating the walk early.
func traceBoundary(m models.Mask, sx, sy int) models.Contour {
	contour := models.Contour{{X: sx, Y: sy}}

	px, py := sx, sy
	bdir := 0 // direction from current pixel to the last background seen; west of the start pixel is background
	firstMove := -1

	// Each boundary pixel is visited at most a handful of times; the cap
	// only guards against a tracing bug turning into a spin.
	for step := 0; step < 4*m.W*m.H+8; step++ {
		found := -1
		last := bdir
		for i := 1; i <= 8; i++ {
			d := (bdir + i) % 8
			if m.At(px+ndx[d], py+ndy[d]) {
				found = d
				break
			}
			last = d
		}
		if found < 0 {
			break // isolated pixel
		}

		if px == sx && py == sy {
			if firstMove < 0 {
				firstMove = found
			} else if found == firstMove {
				break
			}
		}

		// The last background cell is the clockwise predecessor of the
		// found pixel, so it stays a unit neighbor after the move.
		bx, by := px+ndx[last], py+ndy[last]
		px, py = px+ndx[found], py+ndy[found]
		bdir = dirLookup[by-py+1][bx-px+1]

		contour = append(contour, models.Point{X: px, Y: py})
	}

	if len(contour) > 1 && contour[0] == contour[len(contour)-1] {
		contour = contour[:len(contour)-1]
	}
	return contour
}
