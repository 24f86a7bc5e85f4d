// Package contour turns binary segmentation masks into closed polygon
// contours in image pixel coordinates. The default build traces boundaries
// in pure Go; building with -tags gocv routes through OpenCV instead.
package contour

import (
	"math"
	"sort"

	"clothseg/internal/models"
)

// Contours smaller than this fraction of the largest one are discarded as
// mask noise.
const minAreaRatio = 0.20

// simplifyEpsilonRatio scales the Douglas-Peucker tolerance by the contour
// perimeter, keeping deviation within a few pixels for typical garments.
const simplifyEpsilonRatio = 0.001

// filterByArea keeps the largest contour plus any contour whose area is at
// least minAreaRatio of it, largest first.
func filterByArea(cs []models.Contour) []models.Contour {
	if len(cs) <= 1 {
		return cs
	}
	sort.Slice(cs, func(i, j int) bool { return area(cs[i]) > area(cs[j]) })
	largest := area(cs[0])
	kept := cs[:1]
	for _, c := range cs[1:] {
		if area(c) >= largest*minAreaRatio {
			kept = append(kept, c)
		}
	}
	return kept
}

// area is the absolute shoelace area of a closed contour.
func area(c models.Contour) float64 {
	if len(c) < 3 {
		return 0
	}
	sum := 0.0
	for i := range c {
		j := (i + 1) % len(c)
		sum += float64(c[i].X)*float64(c[j].Y) - float64(c[j].X)*float64(c[i].Y)
	}
	return math.Abs(sum) / 2
}

func perimeter(c models.Contour) float64 {
	if len(c) < 2 {
		return 0
	}
	sum := 0.0
	for i := range c {
		j := (i + 1) % len(c)
		dx := float64(c[j].X - c[i].X)
		dy := float64(c[j].Y - c[i].Y)
		sum += math.Hypot(dx, dy)
	}
	return sum
}

// simplifyContour runs Douglas-Peucker on a closed contour. The contour is
// treated as an open polyline with the first point appended at the end so
// the closing edge participates in the reduction.
func simplifyContour(c models.Contour) models.Contour {
	if len(c) < 4 {
		return c
	}
	eps := simplifyEpsilonRatio * perimeter(c)
	pts := make([]models.Point, len(c)+1)
	copy(pts, c)
	pts[len(c)] = c[0]

	out := douglasPeucker(pts, eps)
	if len(out) > 1 && out[0] == out[len(out)-1] {
		out = out[:len(out)-1]
	}
	return out
}

func douglasPeucker(pts []models.Point, eps float64) []models.Point {
	if len(pts) < 3 {
		return pts
	}
	maxDist := 0.0
	maxIdx := 0
	for i := 1; i < len(pts)-1; i++ {
		d := perpDistance(pts[i], pts[0], pts[len(pts)-1])
		if d > maxDist {
			maxDist = d
			maxIdx = i
		}
	}
	if maxDist <= eps {
		return []models.Point{pts[0], pts[len(pts)-1]}
	}
	left := douglasPeucker(pts[:maxIdx+1], eps)
	right := douglasPeucker(pts[maxIdx:], eps)
	return append(left[:len(left)-1], right...)
}

func perpDistance(p, a, b models.Point) float64 {
	dx := float64(b.X - a.X)
	dy := float64(b.Y - a.Y)
	length := math.Hypot(dx, dy)
	if length == 0 {
		return math.Hypot(float64(p.X-a.X), float64(p.Y-a.Y))
	}
	return math.Abs(dx*float64(a.Y-p.Y)-dy*float64(a.X-p.X)) / length
}

// dropDegenerate removes contours that cannot form a polygon.
func dropDegenerate(cs []models.Contour) []models.Contour {
	kept := cs[:0]
	for _, c := range cs {
		if len(c) >= 3 {
			kept = append(kept, c)
		}
	}
	return kept
}
