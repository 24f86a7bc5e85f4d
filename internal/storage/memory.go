package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"clothseg/internal/models"
)

// MemStore is an in-memory Store used by tests and local development. It
// mirrors the Postgres semantics: conditional job updates under one mutex,
// cascade delete from images downward.
type MemStore struct {
	mu         sync.Mutex
	images     map[uuid.UUID]models.Image
	jobs       map[uuid.UUID]models.Job
	detections map[uuid.UUID]models.Detection
	polygons   map[uuid.UUID]models.Polygon // keyed by detection id
	embeddings map[uuid.UUID]models.Embedding
	tags       map[uuid.UUID]models.ProductTag
}

func NewMemStore() *MemStore {
	return &MemStore{
		images:     make(map[uuid.UUID]models.Image),
		jobs:       make(map[uuid.UUID]models.Job),
		detections: make(map[uuid.UUID]models.Detection),
		polygons:   make(map[uuid.UUID]models.Polygon),
		embeddings: make(map[uuid.UUID]models.Embedding),
		tags:       make(map[uuid.UUID]models.ProductTag),
	}
}

func (m *MemStore) CreateImage(ctx context.Context, img *models.Image) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.images[img.ID] = *img
	return nil
}

func (m *MemStore) GetImage(ctx context.Context, id uuid.UUID) (*models.Image, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	img, ok := m.images[id]
	if !ok {
		return nil, fmt.Errorf("storage.GetImage: %w", models.ErrNotFound)
	}
	return &img, nil
}

func (m *MemStore) ListImages(ctx context.Context, page, limit int) ([]models.Image, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	all := make([]models.Image, 0, len(m.images))
	for _, img := range m.images {
		all = append(all, img)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].UploadedAt.After(all[j].UploadedAt) })

	total := len(all)
	start := (page - 1) * limit
	if start >= total {
		return nil, total, nil
	}
	end := start + limit
	if end > total {
		end = total
	}
	return all[start:end], total, nil
}

func (m *MemStore) SetAnnotatedKey(ctx context.Context, id uuid.UUID, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	img, ok := m.images[id]
	if !ok {
		return fmt.Errorf("storage.SetAnnotatedKey: %w", models.ErrNotFound)
	}
	img.AnnotatedKey = key
	m.images[id] = img
	return nil
}

func (m *MemStore) DeleteImage(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.images[id]; !ok {
		return fmt.Errorf("storage.DeleteImage: %w", models.ErrNotFound)
	}
	delete(m.images, id)
	for jid, j := range m.jobs {
		if j.ImageID == id {
			delete(m.jobs, jid)
		}
	}
	for did, d := range m.detections {
		if d.ImageID != id {
			continue
		}
		delete(m.detections, did)
		delete(m.polygons, did)
		delete(m.embeddings, did)
		for tid, t := range m.tags {
			if t.DetectionID == did {
				delete(m.tags, tid)
			}
		}
	}
	return nil
}

func (m *MemStore) SaveResult(ctx context.Context, img *models.Image, dets []models.Detection, polys []models.Polygon, embs []models.Embedding) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if img != nil {
		m.images[img.ID] = *img
	}
	for _, d := range dets {
		m.detections[d.ID] = d
	}
	for _, p := range polys {
		m.polygons[p.DetectionID] = p
	}
	for _, e := range embs {
		m.embeddings[e.DetectionID] = e
	}
	return nil
}

func (m *MemStore) ImageDetections(ctx context.Context, imageID uuid.UUID) ([]models.Detection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var dets []models.Detection
	for _, d := range m.detections {
		if d.ImageID == imageID {
			dets = append(dets, d)
		}
	}
	sort.Slice(dets, func(i, j int) bool { return dets[i].Confidence > dets[j].Confidence })
	return dets, nil
}

func (m *MemStore) GetDetection(ctx context.Context, id uuid.UUID) (*models.Detection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.detections[id]
	if !ok {
		return nil, fmt.Errorf("storage.GetDetection: %w", models.ErrNotFound)
	}
	return &d, nil
}

func (m *MemStore) GetPolygon(ctx context.Context, detectionID uuid.UUID) (*models.Polygon, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.polygons[detectionID]
	if !ok {
		return nil, fmt.Errorf("storage.GetPolygon: %w", models.ErrNotFound)
	}
	return &p, nil
}

func (m *MemStore) GetEmbedding(ctx context.Context, detectionID uuid.UUID) (*models.Embedding, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.embeddings[detectionID]
	if !ok {
		return nil, fmt.Errorf("storage.GetEmbedding: %w", models.ErrNotFound)
	}
	return &e, nil
}

func (m *MemStore) CreateJob(ctx context.Context, job *models.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.images[job.ImageID]; !ok {
		return fmt.Errorf("storage.CreateJob: %w", models.ErrNotFound)
	}
	m.jobs[job.ID] = *job
	return nil
}

func (m *MemStore) GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, fmt.Errorf("storage.GetJob: %w", models.ErrNotFound)
	}
	return &j, nil
}

func (m *MemStore) ClaimJob(ctx context.Context, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok || j.Status != models.JobPending {
		return false, nil
	}
	now := time.Now()
	j.Status = models.JobProcessing
	j.StartedAt = &now
	m.jobs[id] = j
	return true, nil
}

func (m *MemStore) finishJob(op string, id uuid.UUID, status models.JobStatus, msg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return fmt.Errorf("%s: %w", op, models.ErrNotFound)
	}
	if j.Status != models.JobProcessing {
		return fmt.Errorf("%s: %w", op, models.ErrInvalidTransition)
	}
	now := time.Now()
	j.Status = status
	j.ErrorMessage = msg
	j.CompletedAt = &now
	m.jobs[id] = j
	return nil
}

func (m *MemStore) CompleteJob(ctx context.Context, id uuid.UUID) error {
	return m.finishJob("storage.CompleteJob", id, models.JobDone, "")
}

func (m *MemStore) FailJob(ctx context.Context, id uuid.UUID, msg string) error {
	return m.finishJob("storage.FailJob", id, models.JobError, msg)
}

func (m *MemStore) NextPendingJobID(ctx context.Context) (uuid.UUID, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var (
		oldest models.Job
		found  bool
	)
	for _, j := range m.jobs {
		if j.Status != models.JobPending {
			continue
		}
		if !found || j.CreatedAt.Before(oldest.CreatedAt) {
			oldest = j
			found = true
		}
	}
	if !found {
		return uuid.Nil, false, nil
	}
	return oldest.ID, true, nil
}

func (m *MemStore) ReclaimStaleJobs(ctx context.Context, olderThan time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := time.Now().Add(-olderThan)
	n := 0
	for id, j := range m.jobs {
		if j.Status == models.JobProcessing && j.StartedAt != nil && j.StartedAt.Before(cutoff) {
			j.Status = models.JobPending
			j.StartedAt = nil
			m.jobs[id] = j
			n++
		}
	}
	return n, nil
}

func (m *MemStore) AddTag(ctx context.Context, t *models.ProductTag) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.detections[t.DetectionID]; !ok {
		return fmt.Errorf("storage.AddTag: %w", models.ErrNotFound)
	}
	m.tags[t.ID] = *t
	return nil
}

func (m *MemStore) TagsForDetection(ctx context.Context, detectionID uuid.UUID) ([]models.ProductTag, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var tags []models.ProductTag
	for _, t := range m.tags {
		if t.DetectionID == detectionID {
			tags = append(tags, t)
		}
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i].CreatedAt.Before(tags[j].CreatedAt) })
	return tags, nil
}

func (m *MemStore) DeleteTag(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tags[id]; !ok {
		return fmt.Errorf("storage.DeleteTag: %w", models.ErrNotFound)
	}
	delete(m.tags, id)
	return nil
}

var _ Store = (*MemStore)(nil)
