package pipeline

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clothseg/internal/inference"
	"clothseg/internal/models"
	"clothseg/internal/objectstore"
	"clothseg/internal/storage"
)

func testConfig() *models.Config {
	return &models.Config{
		ConfidenceThreshold: 0.5,
		MaskThreshold:       0.75,
		MaxFileSizeKB:       500,
		MaxImageSide:        4096,
	}
}

func blackJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.Black)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

func rectMask(w, h, x1, y1, x2, y2 int) models.Mask {
	m := models.NewMask(w, h)
	for y := y1; y <= y2; y++ {
		for x := x1; x <= x2; x++ {
			m.Set(x, y, true)
		}
	}
	return m
}

func newTestPipeline(t *testing.T, detector inference.Detector) (*Pipeline, *storage.MemStore) {
	t.Helper()
	store := storage.NewMemStore()
	objects, err := objectstore.NewFSStore(t.TempDir(), "http://test")
	require.NoError(t, err)
	return New(store, objects, detector, testConfig()), store
}

func TestProcessNoDetections(t *testing.T) {
	pipe, store := newTestPipeline(t, inference.NewStubDetector())
	ctx := context.Background()

	res, err := pipe.Process(ctx, blackJPEG(t, 100, 100), "black.jpg")
	require.NoError(t, err)

	assert.Empty(t, res.Detections)
	assert.NotEmpty(t, res.ImageURL)
	assert.NotEmpty(t, res.AnnotatedURL)

	img, err := store.GetImage(ctx, res.Image.ID)
	require.NoError(t, err)
	assert.Equal(t, 100, img.Width)
	assert.Equal(t, 100, img.Height)
	assert.NotEmpty(t, img.Hash)

	dets, err := store.ImageDetections(ctx, res.Image.ID)
	require.NoError(t, err)
	assert.Empty(t, dets)
}

func TestProcessOneDetection(t *testing.T) {
	det := models.RawDetection{
		Label:      "trousers",
		Confidence: 0.9,
		BBox:       models.BBox{X: 20, Y: 20, W: 31, H: 31},
		Mask:       rectMask(100, 100, 20, 20, 50, 50),
	}
	pipe, store := newTestPipeline(t, inference.NewStubDetector(det))
	ctx := context.Background()

	res, err := pipe.Process(ctx, blackJPEG(t, 100, 100), "item.jpg")
	require.NoError(t, err)
	require.Len(t, res.Detections, 1)

	got := res.Detections[0]
	assert.Equal(t, "trousers", got.Label)
	assert.InDelta(t, 0.9, got.Confidence, 1e-9)
	require.NotEmpty(t, got.Contours)
	for _, c := range got.Contours {
		for _, p := range c {
			assert.GreaterOrEqual(t, p.X, 0)
			assert.Less(t, p.X, 100)
			assert.GreaterOrEqual(t, p.Y, 0)
			assert.Less(t, p.Y, 100)
		}
	}

	// exactly one polygon and one embedding ride along with the detection
	poly, err := store.GetPolygon(ctx, got.ID)
	require.NoError(t, err)
	assert.True(t, poly.Simplified)
	assert.NotEmpty(t, poly.Contours)

	emb, err := store.GetEmbedding(ctx, got.ID)
	require.NoError(t, err)
	assert.Equal(t, "placeholder", emb.ModelName)
}

func TestProcessFiltersLowConfidence(t *testing.T) {
	det := models.RawDetection{
		Label:      "hat",
		Confidence: 0.1,
		BBox:       models.BBox{X: 10, Y: 10, W: 20, H: 20},
		Mask:       rectMask(100, 100, 10, 10, 30, 30),
	}
	pipe, _ := newTestPipeline(t, inference.NewStubDetector(det))

	res, err := pipe.Process(context.Background(), blackJPEG(t, 100, 100), "hat.jpg")
	require.NoError(t, err)
	assert.Empty(t, res.Detections)
}

func TestProcessDropsEmptyMaskDetection(t *testing.T) {
	det := models.RawDetection{
		Label:      "ghost",
		Confidence: 0.95,
		BBox:       models.BBox{X: 10, Y: 10, W: 20, H: 20},
		Mask:       models.NewMask(100, 100), // no foreground at all
	}
	pipe, _ := newTestPipeline(t, inference.NewStubDetector(det))

	res, err := pipe.Process(context.Background(), blackJPEG(t, 100, 100), "ghost.jpg")
	require.NoError(t, err)
	assert.Empty(t, res.Detections)
}

func TestProcessRejectsUndecodable(t *testing.T) {
	pipe, store := newTestPipeline(t, inference.NewStubDetector())

	_, err := pipe.Process(context.Background(), []byte("definitely not an image"), "x.jpg")
	assert.ErrorIs(t, err, models.ErrInvalidInput)

	_, total, err := store.ListImages(context.Background(), 1, 10)
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestProcessRejectsOversized(t *testing.T) {
	cfg := testConfig()
	cfg.MaxFileSizeKB = 1
	store := storage.NewMemStore()
	objects, err := objectstore.NewFSStore(t.TempDir(), "http://test")
	require.NoError(t, err)
	pipe := New(store, objects, inference.NewStubDetector(), cfg)

	_, err = pipe.Process(context.Background(), blackJPEG(t, 200, 200), "big.jpg")
	assert.ErrorIs(t, err, models.ErrInvalidInput)
}

func TestProcessInferenceFailureLeavesNoRows(t *testing.T) {
	detector := inference.NewStubDetector()
	detector.Err = errors.New("onnx session crashed")
	pipe, store := newTestPipeline(t, detector)

	_, err := pipe.Process(context.Background(), blackJPEG(t, 100, 100), "x.jpg")
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrProcessing)

	_, total, err := store.ListImages(context.Background(), 1, 10)
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestPrepareUpload(t *testing.T) {
	pipe, store := newTestPipeline(t, inference.NewStubDetector())
	ctx := context.Background()

	img, url, err := pipe.PrepareUpload(ctx, blackJPEG(t, 80, 60), "shirt.png")
	require.NoError(t, err)
	assert.NotEmpty(t, url)
	assert.Equal(t, 80, img.Width)
	assert.Equal(t, 60, img.Height)

	stored, err := store.GetImage(ctx, img.ID)
	require.NoError(t, err)
	assert.Equal(t, img.StorageKey, stored.StorageKey)
}
