package pipeline

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"
	"log"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"

	"clothseg/internal/contour"
	"clothseg/internal/inference"
	"clothseg/internal/models"
	"clothseg/internal/objectstore"
	"clothseg/internal/storage"
)

const embeddingDim = 128

// Pipeline runs one image through inference, polygon extraction, asset
// upload and persistence. Steps are strictly sequential; a failure anywhere
// after validation aborts the image with no detection or polygon rows left
// behind.
type Pipeline struct {
	store    storage.Store
	objects  objectstore.Store
	detector inference.Detector

	confThreshold float64
	maxBytes      int64
	maxSide       int
	annotator     *Annotator
}

func New(store storage.Store, objects objectstore.Store, detector inference.Detector, cfg *models.Config) *Pipeline {
	return &Pipeline{
		store:         store,
		objects:       objects,
		detector:      detector,
		confThreshold: cfg.ConfidenceThreshold,
		maxBytes:      cfg.MaxFileSizeBytes(),
		maxSide:       cfg.MaxImageSide,
		annotator:     NewAnnotator(cfg.FontPath),
	}
}

type imageMeta struct {
	width  int
	height int
	size   int64
	hash   string
}

// validate rejects undecodable or oversized uploads before any collaborator
// is touched.
func (p *Pipeline) validate(data []byte) (imageMeta, error) {
	const op = "pipeline.validate"

	if len(data) == 0 {
		return imageMeta{}, fmt.Errorf("%s: empty file: %w", op, models.ErrInvalidInput)
	}
	if int64(len(data)) > p.maxBytes {
		return imageMeta{}, fmt.Errorf("%s: file size %dKB exceeds maximum %dKB: %w",
			op, len(data)/1024, p.maxBytes/1024, models.ErrInvalidInput)
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return imageMeta{}, fmt.Errorf("%s: not a decodable image: %w", op, models.ErrInvalidInput)
	}
	if cfg.Width > p.maxSide || cfg.Height > p.maxSide {
		return imageMeta{}, fmt.Errorf("%s: dimensions %dx%d exceed maximum side %d: %w",
			op, cfg.Width, cfg.Height, p.maxSide, models.ErrInvalidInput)
	}

	sum := sha256.Sum256(data)
	return imageMeta{
		width:  cfg.Width,
		height: cfg.Height,
		size:   int64(len(data)),
		hash:   hex.EncodeToString(sum[:16]),
	}, nil
}

// Process handles a fresh upload synchronously: validate, detect, extract,
// upload, persist, respond. The image row is inserted in the same
// transaction as its detections.
func (p *Pipeline) Process(ctx context.Context, data []byte, filename string) (*models.PipelineResult, error) {
	const op = "pipeline.Process"

	meta, err := p.validate(data)
	if err != nil {
		return nil, err
	}

	id := uuid.New()
	dets, polys, embs, results, annotated, err := p.segment(ctx, data, id, meta.width, meta.height)
	if err != nil {
		return nil, err
	}

	storageKey := "uploads/" + id.String() + uploadExt(filename)
	imageURL, err := p.objects.Put(ctx, storageKey, data, "image/jpeg")
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	annotatedKey := "outputs/" + id.String() + "_annotated.jpg"
	annotatedURL, err := p.objects.Put(ctx, annotatedKey, annotated, "image/jpeg")
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	img := &models.Image{
		ID:           id,
		StorageKey:   storageKey,
		AnnotatedKey: annotatedKey,
		Width:        meta.width,
		Height:       meta.height,
		FileSize:     meta.size,
		Hash:         meta.hash,
		UploadedAt:   time.Now(),
	}
	if err := p.store.SaveResult(ctx, img, dets, polys, embs); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &models.PipelineResult{
		Image:        *img,
		ImageURL:     imageURL,
		AnnotatedURL: annotatedURL,
		Detections:   results,
	}, nil
}

// PrepareUpload validates an upload, stores its bytes, and inserts the
// image row — the front half of the async path. The job is enqueued by the
// caller so a queue failure cannot orphan stored bytes silently.
func (p *Pipeline) PrepareUpload(ctx context.Context, data []byte, filename string) (*models.Image, string, error) {
	const op = "pipeline.PrepareUpload"

	meta, err := p.validate(data)
	if err != nil {
		return nil, "", err
	}

	id := uuid.New()
	storageKey := "uploads/" + id.String() + uploadExt(filename)
	url, err := p.objects.Put(ctx, storageKey, data, "image/jpeg")
	if err != nil {
		return nil, "", fmt.Errorf("%s: %w", op, err)
	}

	img := &models.Image{
		ID:         id,
		StorageKey: storageKey,
		Width:      meta.width,
		Height:     meta.height,
		FileSize:   meta.size,
		Hash:       meta.hash,
		UploadedAt: time.Now(),
	}
	if err := p.store.CreateImage(ctx, img); err != nil {
		return nil, "", fmt.Errorf("%s: %w", op, err)
	}
	return img, url, nil
}

// ProcessStored runs the pipeline for an image whose bytes and row already
// exist (the async worker path).
func (p *Pipeline) ProcessStored(ctx context.Context, img *models.Image) (*models.PipelineResult, error) {
	const op = "pipeline.ProcessStored"

	data, err := p.objects.Get(ctx, img.StorageKey)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	width, height := img.Width, img.Height
	if width == 0 || height == 0 {
		cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("%s: not a decodable image: %w", op, models.ErrProcessing)
		}
		width, height = cfg.Width, cfg.Height
	}

	dets, polys, embs, results, annotated, err := p.segment(ctx, data, img.ID, width, height)
	if err != nil {
		return nil, err
	}

	annotatedKey := "outputs/" + img.ID.String() + "_annotated.jpg"
	annotatedURL, err := p.objects.Put(ctx, annotatedKey, annotated, "image/jpeg")
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := p.store.SaveResult(ctx, nil, dets, polys, embs); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := p.store.SetAnnotatedKey(ctx, img.ID, annotatedKey); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	imageURL, err := p.objects.URL(ctx, img.StorageKey)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &models.PipelineResult{
		Image:        *img,
		ImageURL:     imageURL,
		AnnotatedURL: annotatedURL,
		Detections:   results,
	}, nil
}

// segment is the shared middle of both paths: inference, confidence filter,
// contour extraction, annotated render. A detection whose mask yields no
// contours is dropped, not fatal; an inference failure aborts the image.
func (p *Pipeline) segment(ctx context.Context, data []byte, imageID uuid.UUID, width, height int) (
	[]models.Detection, []models.Polygon, []models.Embedding, []models.DetectionResult, []byte, error) {
	const op = "pipeline.segment"

	raw, err := p.detector.Detect(ctx, data)
	if err != nil {
		return nil, nil, nil, nil, nil, fmt.Errorf("%s: %w: %v", op, models.ErrProcessing, err)
	}

	var (
		dets    []models.Detection
		polys   []models.Polygon
		embs    []models.Embedding
		results = []models.DetectionResult{}
	)
	for _, r := range raw {
		if r.Confidence < p.confThreshold {
			continue
		}
		contours := contour.Extract(r.Mask, true)
		if len(contours) == 0 {
			log.Printf("%s: dropping %q (conf %.2f) on image %s: mask produced no contours",
				op, r.Label, r.Confidence, imageID)
			continue
		}

		bbox := r.BBox
		if bbox.W == 0 || bbox.H == 0 {
			bbox = boundsOf(contours)
		}

		det := models.Detection{
			ID:         uuid.New(),
			ImageID:    imageID,
			Label:      r.Label,
			Confidence: r.Confidence,
			BBox:       bbox,
		}
		dets = append(dets, det)
		polys = append(polys, models.Polygon{
			ID:          uuid.New(),
			DetectionID: det.ID,
			Contours:    contours,
			Simplified:  true,
		})
		embs = append(embs, models.Embedding{
			ID:          uuid.New(),
			DetectionID: det.ID,
			ModelName:   "placeholder",
			Vector:      pgvector.NewVector(make([]float32, embeddingDim)),
		})
		results = append(results, models.DetectionResult{
			Detection:  det,
			Contours:   contours,
			Simplified: true,
		})
	}

	annotated, err := p.annotator.Render(data, results)
	if err != nil {
		return nil, nil, nil, nil, nil, fmt.Errorf("%s: %w: %v", op, models.ErrProcessing, err)
	}
	return dets, polys, embs, results, annotated, nil
}

// boundsOf is the tight box around every contour point.
func boundsOf(contours []models.Contour) models.BBox {
	minX, minY := int(^uint(0)>>1), int(^uint(0)>>1)
	maxX, maxY := 0, 0
	for _, c := range contours {
		for _, pt := range c {
			if pt.X < minX {
				minX = pt.X
			}
			if pt.Y < minY {
				minY = pt.Y
			}
			if pt.X > maxX {
				maxX = pt.X
			}
			if pt.Y > maxY {
				maxY = pt.Y
			}
		}
	}
	return models.BBox{X: minX, Y: minY, W: maxX - minX, H: maxY - minY}
}

func uploadExt(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".jpg", ".jpeg", ".png":
		return ext
	default:
		return ".jpg"
	}
}
