package inference

import (
	"context"
	"image"

	"github.com/disintegration/imaging"

	"clothseg/internal/models"
)

// Detector is the inference collaborator: one call per image, detections
// with masks already sized to the image. Implementations must be safe to
// call repeatedly from concurrent requests.
type Detector interface {
	Detect(ctx context.Context, imageData []byte) ([]models.RawDetection, error)
	Healthy(ctx context.Context) bool
}

// prepareMask turns a model-resolution probability mask (0..255 bytes) into
// a binary mask at image resolution: bilinear resize, clamp to the
// detection's bbox expanded by 5% per side, then threshold.
func prepareMask(raw []uint8, maskW, maskH, imgW, imgH int, bbox models.BBox, threshold float64) models.Mask {
	out := models.NewMask(imgW, imgH)
	if maskW <= 0 || maskH <= 0 || len(raw) < maskW*maskH {
		return out
	}

	gray := &image.Gray{Pix: raw, Stride: maskW, Rect: image.Rect(0, 0, maskW, maskH)}
	resized := imaging.Resize(gray, imgW, imgH, imaging.Linear)

	x1, y1, x2, y2 := expandBBox(bbox, imgW, imgH)
	cut := uint8(threshold * 255)

	for y := y1; y < y2; y++ {
		row := resized.Pix[y*resized.Stride:]
		for x := x1; x < x2; x++ {
			if row[x*4] > cut {
				out.Bits[y*imgW+x] = 1
			}
		}
	}
	return out
}

// expandBBox grows the box by 5% per side, clamped to the image, and
// returns half-open pixel bounds.
func expandBBox(b models.BBox, imgW, imgH int) (x1, y1, x2, y2 int) {
	const margin = 0.05
	dx := int(float64(b.W) * margin)
	dy := int(float64(b.H) * margin)
	x1 = b.X - dx
	y1 = b.Y - dy
	x2 = b.X + b.W + dx
	y2 = b.Y + b.H + dy
	if x1 < 0 {
		x1 = 0
	}
	if y1 < 0 {
		y1 = 0
	}
	if x2 > imgW {
		x2 = imgW
	}
	if y2 > imgH {
		y2 = imgH
	}
	return x1, y1, x2, y2
}
