package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
)

// JobStatus is the lifecycle state of an asynchronous processing job.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobDone       JobStatus = "done"
	JobError      JobStatus = "error"
)

// Terminal reports whether no further transition can leave this status.
func (s JobStatus) Terminal() bool {
	return s == JobDone || s == JobError
}

type Image struct {
	ID           uuid.UUID `db:"id" json:"id"`
	StorageKey   string    `db:"storage_key" json:"storage_key"`
	AnnotatedKey string    `db:"annotated_key" json:"annotated_key,omitempty"`
	Width        int       `db:"width" json:"width"`
	Height       int       `db:"height" json:"height"`
	FileSize     int64     `db:"file_size" json:"file_size"`
	Hash         string    `db:"hash" json:"hash"`
	UploadedAt   time.Time `db:"uploaded_at" json:"uploaded_at"`
}

type Job struct {
	ID           uuid.UUID  `db:"id" json:"id"`
	ImageID      uuid.UUID  `db:"image_id" json:"image_id"`
	Status       JobStatus  `db:"status" json:"status"`
	ErrorMessage string     `db:"error_message" json:"error_message,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	StartedAt    *time.Time `db:"started_at" json:"started_at,omitempty"`
	CompletedAt  *time.Time `db:"completed_at" json:"completed_at,omitempty"`
}

// BBox is an axis-aligned box in image pixel coordinates.
type BBox struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

type Detection struct {
	ID         uuid.UUID `db:"id" json:"id"`
	ImageID    uuid.UUID `db:"image_id" json:"image_id"`
	Label      string    `db:"label" json:"label"`
	Confidence float64   `db:"confidence" json:"confidence"`
	BBox       BBox      `json:"bbox"`
}

type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Contour is a closed boundary; the edge from the last point back to the
// first is implicit.
type Contour []Point

type Polygon struct {
	ID          uuid.UUID `db:"id" json:"id"`
	DetectionID uuid.UUID `db:"detection_id" json:"detection_id"`
	Contours    []Contour `json:"contours"`
	Simplified  bool      `db:"simplified" json:"simplified"`
}

// Embedding is a per-detection feature vector reserved for similarity
// search. The pipeline writes a placeholder vector; a real embedding model
// can replace it without schema changes.
type Embedding struct {
	ID          uuid.UUID       `db:"id" json:"id"`
	DetectionID uuid.UUID       `db:"detection_id" json:"detection_id"`
	ModelName   string          `db:"model_name" json:"model_name"`
	Vector      pgvector.Vector `db:"vector" json:"vector"`
}

type ProductTag struct {
	ID          uuid.UUID `db:"id" json:"id"`
	DetectionID uuid.UUID `db:"detection_id" json:"detection_id"`
	Name        string    `db:"name" json:"name"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// Mask is a binary pixel grid in row-major order; a non-zero byte marks
// foreground.
type Mask struct {
	W    int
	H    int
	Bits []uint8
}

func NewMask(w, h int) Mask {
	return Mask{W: w, H: h, Bits: make([]uint8, w*h)}
}

// At reports whether (x, y) is foreground. Out-of-bounds reads are
// background, so boundary tracing never needs edge checks.
func (m Mask) At(x, y int) bool {
	if x < 0 || y < 0 || x >= m.W || y >= m.H {
		return false
	}
	return m.Bits[y*m.W+x] != 0
}

func (m Mask) Set(x, y int, v bool) {
	if x < 0 || y < 0 || x >= m.W || y >= m.H {
		return
	}
	if v {
		m.Bits[y*m.W+x] = 1
	} else {
		m.Bits[y*m.W+x] = 0
	}
}

// Empty reports whether the mask has no foreground pixels.
func (m Mask) Empty() bool {
	for _, b := range m.Bits {
		if b != 0 {
			return false
		}
	}
	return true
}

// RawDetection is what the inference collaborator returns for one detected
// item: mask already resized to image resolution and binarized.
type RawDetection struct {
	Label      string
	Confidence float64
	BBox       BBox
	Mask       Mask
}

// DetectionResult is one persisted detection together with its polygon.
type DetectionResult struct {
	Detection
	Contours   []Contour `json:"contours"`
	Simplified bool      `json:"simplified"`
}

// PipelineResult is the outcome of processing one image end to end.
type PipelineResult struct {
	Image        Image             `json:"image"`
	ImageURL     string            `json:"image_url"`
	AnnotatedURL string            `json:"annotated_url,omitempty"`
	Detections   []DetectionResult `json:"detections"`
}

// ImageSummary is one gallery page entry.
type ImageSummary struct {
	Image
	URL        string      `json:"url"`
	Detections []Detection `json:"detections"`
}

// JobView is what polling a job returns: the job row plus, once done, the
// detections produced for its image.
type JobView struct {
	Job
	Detections []Detection `json:"detections,omitempty"`
}
