package pipeline

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"log"
	"os"
	"sort"

	"github.com/disintegration/imaging"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"clothseg/internal/models"
)

// Per-detection colors, cycled in order.
var palette = []color.NRGBA{
	{0, 255, 0, 255},
	{255, 0, 0, 255},
	{0, 0, 255, 255},
	{255, 255, 0, 255},
	{255, 0, 255, 255},
	{0, 255, 255, 255},
	{128, 0, 128, 255},
	{255, 128, 0, 255},
	{0, 128, 255, 255},
	{128, 255, 0, 255},
	{0, 128, 128, 255},
	{128, 128, 0, 255},
}

const fillAlpha = 0.4

// Annotator renders the review image: translucent polygon fills, contour
// outlines, and a label box per detection.
type Annotator struct {
	face font.Face
}

// NewAnnotator loads the TTF at fontPath for labels, falling back to the
// built-in bitmap face when the path is empty or unreadable.
func NewAnnotator(fontPath string) *Annotator {
	a := &Annotator{face: basicfont.Face7x13}
	if fontPath == "" {
		return a
	}
	data, err := os.ReadFile(fontPath)
	if err != nil {
		log.Printf("pipeline.NewAnnotator: %v, using built-in font", err)
		return a
	}
	f, err := truetype.Parse(data)
	if err != nil {
		log.Printf("pipeline.NewAnnotator: parse %s: %v, using built-in font", fontPath, err)
		return a
	}
	a.face = truetype.NewFace(f, &truetype.Options{Size: 14})
	return a
}

// Render draws every detection over the original image and returns it as a
// JPEG.
func (a *Annotator) Render(data []byte, dets []models.DetectionResult) ([]byte, error) {
	const op = "pipeline.Annotator.Render"

	src, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	img := imaging.Clone(src)

	for i, det := range dets {
		col := palette[i%len(palette)]
		for _, c := range det.Contours {
			fillContour(img, c, col)
			outlineContour(img, c, col)
		}
		if len(det.Contours) > 0 && len(det.Contours[0]) > 0 {
			top := det.Contours[0][0]
			a.drawLabel(img, fmt.Sprintf("%s %.2f", det.Label, det.Confidence), top, col)
		}
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(90)); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return buf.Bytes(), nil
}

// fillContour blends the polygon interior with the detection color using
// even-odd scanline filling.
func fillContour(img *image.NRGBA, c models.Contour, col color.NRGBA) {
	if len(c) < 3 {
		return
	}
	minY, maxY := c[0].Y, c[0].Y
	for _, p := range c {
		if p.Y < minY {
			minY = p.Y
		}
		if p.Y > maxY {
			maxY = p.Y
		}
	}
	b := img.Bounds()
	if minY < b.Min.Y {
		minY = b.Min.Y
	}
	if maxY >= b.Max.Y {
		maxY = b.Max.Y - 1
	}

	for y := minY; y <= maxY; y++ {
		var xs []float64
		fy := float64(y) + 0.5
		for i := range c {
			p1, p2 := c[i], c[(i+1)%len(c)]
			y1, y2 := float64(p1.Y), float64(p2.Y)
			if (y1 <= fy) == (y2 <= fy) {
				continue
			}
			t := (fy - y1) / (y2 - y1)
			xs = append(xs, float64(p1.X)+t*float64(p2.X-p1.X))
		}
		sort.Float64s(xs)
		for i := 0; i+1 < len(xs); i += 2 {
			x1, x2 := int(xs[i]), int(xs[i+1])
			if x1 < b.Min.X {
				x1 = b.Min.X
			}
			if x2 >= b.Max.X {
				x2 = b.Max.X - 1
			}
			for x := x1; x <= x2; x++ {
				blend(img, x, y, col, fillAlpha)
			}
		}
	}
}

func outlineContour(img *image.NRGBA, c models.Contour, col color.NRGBA) {
	for i := range c {
		p1, p2 := c[i], c[(i+1)%len(c)]
		drawLine(img, p1, p2, col)
	}
}

// drawLine is Bresenham with a one-pixel halo for visible thickness.
func drawLine(img *image.NRGBA, p1, p2 models.Point, col color.NRGBA) {
	dx := abs(p2.X - p1.X)
	dy := -abs(p2.Y - p1.Y)
	sx, sy := 1, 1
	if p1.X > p2.X {
		sx = -1
	}
	if p1.Y > p2.Y {
		sy = -1
	}
	err := dx + dy
	x, y := p1.X, p1.Y
	for {
		setThick(img, x, y, col)
		if x == p2.X && y == p2.Y {
			break
		}
		e2 := 2 * err
		if e2 >= dy {
			err += dy
			x += sx
		}
		if e2 <= dx {
			err += dx
			y += sy
		}
	}
}

func setThick(img *image.NRGBA, x, y int, col color.NRGBA) {
	img.SetNRGBA(clampX(img, x), clampY(img, y), col)
	for _, d := range [][2]int{{1, 0}, {0, 1}} {
		nx, ny := x+d[0], y+d[1]
		if image.Pt(nx, ny).In(img.Bounds()) {
			img.SetNRGBA(nx, ny, col)
		}
	}
}

func (a *Annotator) drawLabel(img *image.NRGBA, text string, at models.Point, col color.NRGBA) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.White,
		Face: a.face,
	}
	w := d.MeasureString(text).Ceil()
	h := a.face.Metrics().Height.Ceil()

	x := clampX(img, at.X)
	y := at.Y - 6
	if y-h < img.Bounds().Min.Y {
		y = at.Y + h + 6
	}
	y = clampY(img, y)

	// solid background box so the text stays readable on any garment
	for by := y - h; by <= y+2; by++ {
		for bx := x - 2; bx <= x+w+2; bx++ {
			if image.Pt(bx, by).In(img.Bounds()) {
				img.SetNRGBA(bx, by, col)
			}
		}
	}

	d.Dot = fixed.P(x, y)
	d.DrawString(text)
}

func blend(img *image.NRGBA, x, y int, col color.NRGBA, alpha float64) {
	if !image.Pt(x, y).In(img.Bounds()) {
		return
	}
	i := img.PixOffset(x, y)
	mix := func(dst uint8, src uint8) uint8 {
		return uint8(float64(dst)*(1-alpha) + float64(src)*alpha)
	}
	img.Pix[i] = mix(img.Pix[i], col.R)
	img.Pix[i+1] = mix(img.Pix[i+1], col.G)
	img.Pix[i+2] = mix(img.Pix[i+2], col.B)
}

func clampX(img *image.NRGBA, x int) int {
	b := img.Bounds()
	if x < b.Min.X {
		return b.Min.X
	}
	if x >= b.Max.X {
		return b.Max.X - 1
	}
	return x
}

func clampY(img *image.NRGBA, y int) int {
	b := img.Bounds()
	if y < b.Min.Y {
		return b.Min.Y
	}
	if y >= b.Max.Y {
		return b.Max.Y - 1
	}
	return y
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
