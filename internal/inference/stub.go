package inference

import (
	"context"

	"clothseg/internal/models"
)

// StubDetector returns canned detections. Tests and local development use
// it in place of a running model server.
type StubDetector struct {
	Detections []models.RawDetection
	Err        error
	Loaded     bool
}

func NewStubDetector(dets ...models.RawDetection) *StubDetector {
	return &StubDetector{Detections: dets, Loaded: true}
}

func (d *StubDetector) Detect(ctx context.Context, imageData []byte) ([]models.RawDetection, error) {
	if d.Err != nil {
		return nil, d.Err
	}
	out := make([]models.RawDetection, len(d.Detections))
	copy(out, d.Detections)
	return out, nil
}

func (d *StubDetector) Healthy(ctx context.Context) bool {
	return d.Loaded
}

var _ Detector = (*StubDetector)(nil)
