package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"clothseg/internal/models"
)

// Storage is the Postgres-backed Store built on a pgx connection pool.
type Storage struct {
	pool *pgxpool.Pool
	db   *sql.DB // for migrations
}

func NewStorage(dsn string) (*Storage, error) {
	const op = "storage.NewStorage"

	pool, err := pgxpool.New(context.Background(), dsn)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	db := stdlib.OpenDBFromPool(pool)
	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &Storage{pool: pool, db: db}, nil
}

func (s *Storage) Close() {
	s.db.Close()
	s.pool.Close()
}

func storeErr(op string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, models.ErrNotFound)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23503" {
		// foreign key violation: the referenced parent row does not exist
		return fmt.Errorf("%s: %w", op, models.ErrNotFound)
	}
	return fmt.Errorf("%s: %w: %v", op, models.ErrStorage, err)
}

func (s *Storage) CreateImage(ctx context.Context, img *models.Image) error {
	const op = "storage.CreateImage"
	_, err := s.pool.Exec(ctx,
		`INSERT INTO images (id, storage_key, annotated_key, width, height, file_size, hash, uploaded_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		img.ID, img.StorageKey, img.AnnotatedKey, img.Width, img.Height, img.FileSize, img.Hash, img.UploadedAt)
	if err != nil {
		return storeErr(op, err)
	}
	return nil
}

func (s *Storage) GetImage(ctx context.Context, id uuid.UUID) (*models.Image, error) {
	const op = "storage.GetImage"
	var img models.Image
	err := s.pool.QueryRow(ctx,
		`SELECT id, storage_key, annotated_key, width, height, file_size, hash, uploaded_at
		 FROM images WHERE id = $1`, id).
		Scan(&img.ID, &img.StorageKey, &img.AnnotatedKey, &img.Width, &img.Height,
			&img.FileSize, &img.Hash, &img.UploadedAt)
	if err != nil {
		return nil, storeErr(op, err)
	}
	return &img, nil
}

func (s *Storage) ListImages(ctx context.Context, page, limit int) ([]models.Image, int, error) {
	const op = "storage.ListImages"
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM images`).Scan(&total); err != nil {
		return nil, 0, storeErr(op, err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, storage_key, annotated_key, width, height, file_size, hash, uploaded_at
		 FROM images ORDER BY uploaded_at DESC LIMIT $1 OFFSET $2`,
		limit, (page-1)*limit)
	if err != nil {
		return nil, 0, storeErr(op, err)
	}
	defer rows.Close()

	var images []models.Image
	for rows.Next() {
		var img models.Image
		if err := rows.Scan(&img.ID, &img.StorageKey, &img.AnnotatedKey, &img.Width, &img.Height,
			&img.FileSize, &img.Hash, &img.UploadedAt); err != nil {
			return nil, 0, storeErr(op, err)
		}
		images = append(images, img)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, storeErr(op, err)
	}
	return images, total, nil
}

func (s *Storage) SetAnnotatedKey(ctx context.Context, id uuid.UUID, key string) error {
	const op = "storage.SetAnnotatedKey"
	tag, err := s.pool.Exec(ctx, `UPDATE images SET annotated_key = $2 WHERE id = $1`, id, key)
	if err != nil {
		return storeErr(op, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", op, models.ErrNotFound)
	}
	return nil
}

func (s *Storage) DeleteImage(ctx context.Context, id uuid.UUID) error {
	const op = "storage.DeleteImage"
	tag, err := s.pool.Exec(ctx, `DELETE FROM images WHERE id = $1`, id)
	if err != nil {
		return storeErr(op, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", op, models.ErrNotFound)
	}
	return nil
}

func (s *Storage) SaveResult(ctx context.Context, img *models.Image, dets []models.Detection, polys []models.Polygon, embs []models.Embedding) error {
	const op = "storage.SaveResult"

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return storeErr(op, err)
	}
	defer tx.Rollback(ctx)

	if img != nil {
		_, err = tx.Exec(ctx,
			`INSERT INTO images (id, storage_key, annotated_key, width, height, file_size, hash, uploaded_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			img.ID, img.StorageKey, img.AnnotatedKey, img.Width, img.Height, img.FileSize, img.Hash, img.UploadedAt)
		if err != nil {
			return storeErr(op, err)
		}
	}

	for _, d := range dets {
		_, err = tx.Exec(ctx,
			`INSERT INTO detections (id, image_id, label, confidence, bbox_x, bbox_y, bbox_w, bbox_h)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			d.ID, d.ImageID, d.Label, d.Confidence, d.BBox.X, d.BBox.Y, d.BBox.W, d.BBox.H)
		if err != nil {
			return storeErr(op, err)
		}
	}

	for _, p := range polys {
		points, err := json.Marshal(p.Contours)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO polygons (id, detection_id, points_json, simplified)
			 VALUES ($1, $2, $3, $4)`,
			p.ID, p.DetectionID, points, p.Simplified)
		if err != nil {
			return storeErr(op, err)
		}
	}

	for _, e := range embs {
		_, err = tx.Exec(ctx,
			`INSERT INTO embeddings (id, detection_id, model_name, vector)
			 VALUES ($1, $2, $3, $4)`,
			e.ID, e.DetectionID, e.ModelName, e.Vector)
		if err != nil {
			return storeErr(op, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return storeErr(op, err)
	}
	return nil
}

func (s *Storage) ImageDetections(ctx context.Context, imageID uuid.UUID) ([]models.Detection, error) {
	const op = "storage.ImageDetections"
	rows, err := s.pool.Query(ctx,
		`SELECT id, image_id, label, confidence, bbox_x, bbox_y, bbox_w, bbox_h
		 FROM detections WHERE image_id = $1 ORDER BY confidence DESC`, imageID)
	if err != nil {
		return nil, storeErr(op, err)
	}
	defer rows.Close()

	var dets []models.Detection
	for rows.Next() {
		var d models.Detection
		if err := rows.Scan(&d.ID, &d.ImageID, &d.Label, &d.Confidence,
			&d.BBox.X, &d.BBox.Y, &d.BBox.W, &d.BBox.H); err != nil {
			return nil, storeErr(op, err)
		}
		dets = append(dets, d)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr(op, err)
	}
	return dets, nil
}

func (s *Storage) GetDetection(ctx context.Context, id uuid.UUID) (*models.Detection, error) {
	const op = "storage.GetDetection"
	var d models.Detection
	err := s.pool.QueryRow(ctx,
		`SELECT id, image_id, label, confidence, bbox_x, bbox_y, bbox_w, bbox_h
		 FROM detections WHERE id = $1`, id).
		Scan(&d.ID, &d.ImageID, &d.Label, &d.Confidence,
			&d.BBox.X, &d.BBox.Y, &d.BBox.W, &d.BBox.H)
	if err != nil {
		return nil, storeErr(op, err)
	}
	return &d, nil
}

func (s *Storage) GetPolygon(ctx context.Context, detectionID uuid.UUID) (*models.Polygon, error) {
	const op = "storage.GetPolygon"
	var p models.Polygon
	var points []byte
	err := s.pool.QueryRow(ctx,
		`SELECT id, detection_id, points_json, simplified FROM polygons WHERE detection_id = $1`,
		detectionID).
		Scan(&p.ID, &p.DetectionID, &points, &p.Simplified)
	if err != nil {
		return nil, storeErr(op, err)
	}
	if err := json.Unmarshal(points, &p.Contours); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &p, nil
}

func (s *Storage) GetEmbedding(ctx context.Context, detectionID uuid.UUID) (*models.Embedding, error) {
	const op = "storage.GetEmbedding"
	var e models.Embedding
	err := s.pool.QueryRow(ctx,
		`SELECT id, detection_id, model_name, vector FROM embeddings WHERE detection_id = $1`,
		detectionID).
		Scan(&e.ID, &e.DetectionID, &e.ModelName, &e.Vector)
	if err != nil {
		return nil, storeErr(op, err)
	}
	return &e, nil
}

func (s *Storage) CreateJob(ctx context.Context, job *models.Job) error {
	const op = "storage.CreateJob"
	_, err := s.pool.Exec(ctx,
		`INSERT INTO jobs (id, image_id, status, created_at) VALUES ($1, $2, $3, $4)`,
		job.ID, job.ImageID, job.Status, job.CreatedAt)
	if err != nil {
		return storeErr(op, err)
	}
	return nil
}

func (s *Storage) GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	const op = "storage.GetJob"
	var j models.Job
	err := s.pool.QueryRow(ctx,
		`SELECT id, image_id, status, error_message, created_at, started_at, completed_at
		 FROM jobs WHERE id = $1`, id).
		Scan(&j.ID, &j.ImageID, &j.Status, &j.ErrorMessage, &j.CreatedAt, &j.StartedAt, &j.CompletedAt)
	if err != nil {
		return nil, storeErr(op, err)
	}
	return &j, nil
}

func (s *Storage) ClaimJob(ctx context.Context, id uuid.UUID) (bool, error) {
	const op = "storage.ClaimJob"
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = 'processing', started_at = now()
		 WHERE id = $1 AND status = 'pending'`, id)
	if err != nil {
		return false, storeErr(op, err)
	}
	return tag.RowsAffected() == 1, nil
}

// finishJob guards the processing -> terminal transitions.
func (s *Storage) finishJob(ctx context.Context, op string, id uuid.UUID, status models.JobStatus, msg string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = $2, error_message = $3, completed_at = now()
		 WHERE id = $1 AND status = 'processing'`, id, status, msg)
	if err != nil {
		return storeErr(op, err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.GetJob(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("%s: %w", op, models.ErrInvalidTransition)
	}
	return nil
}

func (s *Storage) CompleteJob(ctx context.Context, id uuid.UUID) error {
	return s.finishJob(ctx, "storage.CompleteJob", id, models.JobDone, "")
}

func (s *Storage) FailJob(ctx context.Context, id uuid.UUID, msg string) error {
	return s.finishJob(ctx, "storage.FailJob", id, models.JobError, msg)
}

func (s *Storage) NextPendingJobID(ctx context.Context) (uuid.UUID, bool, error) {
	const op = "storage.NextPendingJobID"
	var id uuid.UUID
	err := s.pool.QueryRow(ctx,
		`SELECT id FROM jobs WHERE status = 'pending' ORDER BY created_at ASC LIMIT 1`).
		Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, false, nil
	}
	if err != nil {
		return uuid.Nil, false, storeErr(op, err)
	}
	return id, true, nil
}

func (s *Storage) ReclaimStaleJobs(ctx context.Context, olderThan time.Duration) (int, error) {
	const op = "storage.ReclaimStaleJobs"
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = 'pending', started_at = NULL
		 WHERE status = 'processing' AND started_at < now() - $1::interval`,
		olderThan.String())
	if err != nil {
		return 0, storeErr(op, err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *Storage) AddTag(ctx context.Context, t *models.ProductTag) error {
	const op = "storage.AddTag"
	_, err := s.pool.Exec(ctx,
		`INSERT INTO product_tags (id, detection_id, name, created_at) VALUES ($1, $2, $3, $4)`,
		t.ID, t.DetectionID, t.Name, t.CreatedAt)
	if err != nil {
		return storeErr(op, err)
	}
	return nil
}

func (s *Storage) TagsForDetection(ctx context.Context, detectionID uuid.UUID) ([]models.ProductTag, error) {
	const op = "storage.TagsForDetection"
	rows, err := s.pool.Query(ctx,
		`SELECT id, detection_id, name, created_at FROM product_tags
		 WHERE detection_id = $1 ORDER BY created_at ASC`, detectionID)
	if err != nil {
		return nil, storeErr(op, err)
	}
	defer rows.Close()

	var tags []models.ProductTag
	for rows.Next() {
		var t models.ProductTag
		if err := rows.Scan(&t.ID, &t.DetectionID, &t.Name, &t.CreatedAt); err != nil {
			return nil, storeErr(op, err)
		}
		tags = append(tags, t)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr(op, err)
	}
	return tags, nil
}

func (s *Storage) DeleteTag(ctx context.Context, id uuid.UUID) error {
	const op = "storage.DeleteTag"
	tag, err := s.pool.Exec(ctx, `DELETE FROM product_tags WHERE id = $1`, id)
	if err != nil {
		return storeErr(op, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", op, models.ErrNotFound)
	}
	return nil
}

var _ Store = (*Storage)(nil)
