package inference

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/color"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clothseg/internal/models"
)

func encodeJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.White)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

func TestPrepareMaskThreshold(t *testing.T) {
	// full-resolution mask, no resize involved
	raw := make([]uint8, 10*10)
	raw[5*10+5] = 255
	raw[5*10+6] = 100 // below 0.75 * 255

	bbox := models.BBox{X: 0, Y: 0, W: 10, H: 10}
	m := prepareMask(raw, 10, 10, 10, 10, bbox, 0.75)

	assert.True(t, m.At(5, 5))
	assert.False(t, m.At(6, 5))
	assert.False(t, m.At(0, 0))
}

func TestPrepareMaskClampsToBBox(t *testing.T) {
	raw := make([]uint8, 20*20)
	for i := range raw {
		raw[i] = 255
	}

	// the 5% margin on a 5px box truncates to zero, so the clamp is exact
	bbox := models.BBox{X: 10, Y: 10, W: 5, H: 5}
	m := prepareMask(raw, 20, 20, 20, 20, bbox, 0.5)

	assert.True(t, m.At(12, 12))
	assert.False(t, m.At(2, 2))
	assert.False(t, m.At(19, 19))
}

func TestPrepareMaskUpscales(t *testing.T) {
	// 4x4 solid mask blown up to 16x16
	raw := make([]uint8, 4*4)
	for i := range raw {
		raw[i] = 255
	}

	bbox := models.BBox{X: 0, Y: 0, W: 16, H: 16}
	m := prepareMask(raw, 4, 4, 16, 16, bbox, 0.75)

	assert.True(t, m.At(8, 8))
	assert.False(t, m.Empty())
}

func TestPrepareMaskBadInput(t *testing.T) {
	m := prepareMask(nil, 0, 0, 10, 10, models.BBox{W: 10, H: 10}, 0.75)
	assert.True(t, m.Empty())

	// raw shorter than the declared mask size
	m = prepareMask(make([]uint8, 3), 10, 10, 10, 10, models.BBox{W: 10, H: 10}, 0.75)
	assert.True(t, m.Empty())
}

func TestHTTPDetectorDetect(t *testing.T) {
	maskData := make([]uint8, 8*8)
	for i := range maskData {
		maskData[i] = 255
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/infer", r.URL.Path)
		_, _, err := r.FormFile("file")
		require.NoError(t, err)

		json.NewEncoder(w).Encode(map[string]any{
			"detections": []map[string]any{{
				"label":      "skirt",
				"confidence": 0.88,
				"bbox":       map[string]int{"x": 2, "y": 2, "w": 12, "h": 12},
				"mask": map[string]any{
					"width":  8,
					"height": 8,
					"data":   base64.StdEncoding.EncodeToString(maskData),
				},
			}},
		})
	}))
	defer srv.Close()

	d := NewHTTPDetector(srv.URL, 0.75)
	dets, err := d.Detect(context.Background(), encodeJPEG(t, 16, 16))
	require.NoError(t, err)
	require.Len(t, dets, 1)

	got := dets[0]
	assert.Equal(t, "skirt", got.Label)
	assert.InDelta(t, 0.88, got.Confidence, 1e-9)
	assert.Equal(t, models.BBox{X: 2, Y: 2, W: 12, H: 12}, got.BBox)
	assert.Equal(t, 16, got.Mask.W)
	assert.Equal(t, 16, got.Mask.H)
	assert.False(t, got.Mask.Empty())
}

func TestHTTPDetectorServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model crashed", http.StatusInternalServerError)
	}))
	defer srv.Close()

	d := NewHTTPDetector(srv.URL, 0.75)
	_, err := d.Detect(context.Background(), encodeJPEG(t, 16, 16))
	assert.Error(t, err)
}

func TestHTTPDetectorRejectsGarbage(t *testing.T) {
	d := NewHTTPDetector("http://127.0.0.1:0", 0.75)
	_, err := d.Detect(context.Background(), []byte("not an image"))
	assert.Error(t, err)
}

func TestHTTPDetectorHealthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	d := NewHTTPDetector(srv.URL, 0.75)
	assert.True(t, d.Healthy(context.Background()))

	srv.Close()
	assert.False(t, d.Healthy(context.Background()))
}
