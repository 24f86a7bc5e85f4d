package storage

import (
	"context"
	"time"

	"github.com/google/uuid"

	"clothseg/internal/models"
)

// Store is the persistence contract shared by the Postgres implementation
// and the in-memory one used in tests. Lookup misses return
// models.ErrNotFound; job guard violations return models.ErrInvalidTransition.
type Store interface {
	CreateImage(ctx context.Context, img *models.Image) error
	GetImage(ctx context.Context, id uuid.UUID) (*models.Image, error)
	// ListImages returns one newest-first page plus the total row count.
	ListImages(ctx context.Context, page, limit int) ([]models.Image, int, error)
	SetAnnotatedKey(ctx context.Context, id uuid.UUID, key string) error
	// DeleteImage removes the image row; detections, polygons, embeddings
	// and tags go with it.
	DeleteImage(ctx context.Context, id uuid.UUID) error

	// SaveResult persists one image's pipeline output in a single
	// transaction. When img is non-nil its row is inserted in the same
	// transaction (sync path); nil means the row already exists (async path).
	SaveResult(ctx context.Context, img *models.Image, dets []models.Detection, polys []models.Polygon, embs []models.Embedding) error

	ImageDetections(ctx context.Context, imageID uuid.UUID) ([]models.Detection, error)
	GetDetection(ctx context.Context, id uuid.UUID) (*models.Detection, error)
	GetPolygon(ctx context.Context, detectionID uuid.UUID) (*models.Polygon, error)
	GetEmbedding(ctx context.Context, detectionID uuid.UUID) (*models.Embedding, error)

	CreateJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error)
	// ClaimJob flips pending to processing and sets started_at. The update
	// is conditional on the current status, so of N concurrent claimers
	// exactly one sees true.
	ClaimJob(ctx context.Context, id uuid.UUID) (bool, error)
	CompleteJob(ctx context.Context, id uuid.UUID) error
	FailJob(ctx context.Context, id uuid.UUID, msg string) error
	// NextPendingJobID returns the oldest pending job, if any.
	NextPendingJobID(ctx context.Context) (uuid.UUID, bool, error)
	// ReclaimStaleJobs flips jobs stuck in processing longer than olderThan
	// back to pending and reports how many were reclaimed.
	ReclaimStaleJobs(ctx context.Context, olderThan time.Duration) (int, error)

	AddTag(ctx context.Context, tag *models.ProductTag) error
	TagsForDetection(ctx context.Context, detectionID uuid.UUID) ([]models.ProductTag, error)
	DeleteTag(ctx context.Context, id uuid.UUID) error
}
