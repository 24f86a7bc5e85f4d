//go:build gocv
// +build gocv

package contour

import (
	"gocv.io/x/gocv"

	"clothseg/internal/models"
)

// Extract finds external contours with OpenCV. Semantics match the pure-Go
// build: outer boundaries only, noise contours filtered by area, optional
// Douglas-Peucker simplification.
func Extract(mask models.Mask, simplify bool) []models.Contour {
	if mask.W <= 0 || mask.H <= 0 {
		return nil
	}

	bits := make([]byte, len(mask.Bits))
	for i, b := range mask.Bits {
		if b != 0 {
			bits[i] = 255
		}
	}
	mat, err := gocv.NewMatFromBytes(mask.H, mask.W, gocv.MatTypeCV8U, bits)
	if err != nil {
		return nil
	}
	defer mat.Close()

	found := gocv.FindContours(mat, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer found.Close()

	var contours []models.Contour
	for i := 0; i < found.Size(); i++ {
		pv := found.At(i)
		var c pointVectorContour = pv
		if simplify {
			eps := simplifyEpsilonRatio * gocv.ArcLength(pv, true)
			approx := gocv.ApproxPolyDP(pv, eps, true)
			c = approx
			defer approx.Close()
		}
		points := toContour(c)
		if len(points) >= 3 {
			contours = append(contours, points)
		}
	}
	return filterByArea(contours)
}

type pointVectorContour = gocv.PointVector

func toContour(pv gocv.PointVector) models.Contour {
	c := make(models.Contour, 0, pv.Size())
	for i := 0; i < pv.Size(); i++ {
		p := pv.At(i)
		c = append(c, models.Point{X: p.X, Y: p.Y})
	}
	return c
}
