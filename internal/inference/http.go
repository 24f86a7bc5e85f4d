package inference

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"clothseg/internal/models"
)

// HTTPDetector posts images to an external model server and decodes its
// detections. The remote runs the segmentation model and performs non-max
// suppression; masks come back base64-encoded at model resolution and are
// resized and binarized here.
type HTTPDetector struct {
	url           string
	client        *http.Client
	maskThreshold float64
}

func NewHTTPDetector(url string, maskThreshold float64) *HTTPDetector {
	return &HTTPDetector{
		url:           url,
		client:        &http.Client{Timeout: 60 * time.Second},
		maskThreshold: maskThreshold,
	}
}

type wireMask struct {
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Data   string `json:"data"`
}

type wireDetection struct {
	Label      string      `json:"label"`
	Confidence float64     `json:"confidence"`
	BBox       models.BBox `json:"bbox"`
	Mask       wireMask    `json:"mask"`
}

type wireResponse struct {
	Detections []wireDetection `json:"detections"`
}

func (d *HTTPDetector) Detect(ctx context.Context, imageData []byte) ([]models.RawDetection, error) {
	const op = "inference.HTTPDetector.Detect"

	cfg, _, err := image.DecodeConfig(bytes.NewReader(imageData))
	if err != nil {
		return nil, fmt.Errorf("%s: decode image: %w", op, err)
	}

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", "image.jpg")
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if _, err := io.Copy(part, bytes.NewReader(imageData)); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	writer.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url+"/infer", body)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: inference responded with status %d", op, resp.StatusCode)
	}

	var wire wireResponse
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, fmt.Errorf("%s: decode response: %w", op, err)
	}

	dets := make([]models.RawDetection, 0, len(wire.Detections))
	for _, w := range wire.Detections {
		raw, err := base64.StdEncoding.DecodeString(w.Mask.Data)
		if err != nil {
			return nil, fmt.Errorf("%s: decode mask: %w", op, err)
		}
		dets = append(dets, models.RawDetection{
			Label:      w.Label,
			Confidence: w.Confidence,
			BBox:       w.BBox,
			Mask:       prepareMask(raw, w.Mask.Width, w.Mask.Height, cfg.Width, cfg.Height, w.BBox, d.maskThreshold),
		})
	}
	return dets, nil
}

func (d *HTTPDetector) Healthy(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.url+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

var _ Detector = (*HTTPDetector)(nil)
