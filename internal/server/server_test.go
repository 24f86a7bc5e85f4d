package server

import (
	"bytes"
	"encoding/json"
	"image"
	"image/color"
	"image/jpeg"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clothseg/internal/inference"
	"clothseg/internal/jobs"
	"clothseg/internal/models"
	"clothseg/internal/objectstore"
	"clothseg/internal/pipeline"
	"clothseg/internal/queue"
	"clothseg/internal/storage"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type env struct {
	server *Server
	store  *storage.MemStore
	jobs   *jobs.Service
}

func newEnv(t *testing.T, detector inference.Detector) *env {
	t.Helper()

	cfg := &models.Config{
		ServerAddr:          ":0",
		ConfidenceThreshold: 0.5,
		MaskThreshold:       0.75,
		MaxFileSizeKB:       500,
		MaxImageSide:        4096,
	}
	store := storage.NewMemStore()
	objects, err := objectstore.NewFSStore(t.TempDir(), "http://test")
	require.NoError(t, err)
	pipe := pipeline.New(store, objects, detector, cfg)
	svc := jobs.NewService(store)

	return &env{
		server: New(cfg, store, objects, detector, pipe, svc, queue.NopNotifier{}),
		store:  store,
		jobs:   svc,
	}
}

func (e *env) do(t *testing.T, method, path string, body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	if body == nil {
		body = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	e.server.Router().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func smallJPEG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			img.Set(x, y, color.Black)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

func multipartBody(t *testing.T, field, filename string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = fw.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func stubDetection() models.RawDetection {
	m := models.NewMask(64, 64)
	for y := 10; y <= 40; y++ {
		for x := 10; x <= 40; x++ {
			m.Set(x, y, true)
		}
	}
	return models.RawDetection{
		Label:      "shirt",
		Confidence: 0.85,
		BBox:       models.BBox{X: 10, Y: 10, W: 31, H: 31},
		Mask:       m,
	}
}

func TestHealth(t *testing.T) {
	e := newEnv(t, inference.NewStubDetector())

	w := e.do(t, http.MethodGet, "/api/health", nil, "")
	require.Equal(t, http.StatusOK, w.Code)

	body := decode(t, w)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, true, body["model_loaded"])
}

func TestHealthDegraded(t *testing.T) {
	detector := inference.NewStubDetector()
	detector.Loaded = false
	e := newEnv(t, detector)

	w := e.do(t, http.MethodGet, "/api/health", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "degraded", decode(t, w)["status"])
}

func TestSegmentSync(t *testing.T) {
	e := newEnv(t, inference.NewStubDetector(stubDetection()))

	buf, ct := multipartBody(t, "files", "shirt.jpg", smallJPEG(t))
	w := e.do(t, http.MethodPost, "/api/segment", buf, ct)
	require.Equal(t, http.StatusOK, w.Code)

	body := decode(t, w)
	assert.Equal(t, float64(1), body["processed_images"])
	results := body["results"].([]any)
	require.Len(t, results, 1)
	first := results[0].(map[string]any)
	assert.Equal(t, "shirt.jpg", first["filename"])
	assert.Empty(t, first["error"])
}

func TestSegmentBadFileFailsAlone(t *testing.T) {
	e := newEnv(t, inference.NewStubDetector(stubDetection()))

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("files", "good.jpg")
	require.NoError(t, err)
	_, err = fw.Write(smallJPEG(t))
	require.NoError(t, err)
	fw, err = mw.CreateFormFile("files", "bad.jpg")
	require.NoError(t, err)
	_, err = fw.Write([]byte("not an image"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	w := e.do(t, http.MethodPost, "/api/segment", &buf, mw.FormDataContentType())
	require.Equal(t, http.StatusOK, w.Code)

	body := decode(t, w)
	assert.Equal(t, float64(1), body["processed_images"])
	results := body["results"].([]any)
	require.Len(t, results, 2)
	assert.NotEmpty(t, results[1].(map[string]any)["error"])
}

func TestSegmentNoFiles(t *testing.T) {
	e := newEnv(t, inference.NewStubDetector())

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.Close())

	w := e.do(t, http.MethodPost, "/api/segment", &buf, mw.FormDataContentType())
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUploadAndPoll(t *testing.T) {
	e := newEnv(t, inference.NewStubDetector())

	buf, ct := multipartBody(t, "file", "dress.jpg", smallJPEG(t))
	w := e.do(t, http.MethodPost, "/api/upload", buf, ct)
	require.Equal(t, http.StatusOK, w.Code)

	body := decode(t, w)
	assert.Equal(t, "queued", body["status"])
	jobID := body["job_id"].(string)
	require.NotEmpty(t, body["image_id"])

	w = e.do(t, http.MethodGet, "/api/jobs/"+jobID, nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "pending", decode(t, w)["status"])
}

func TestUploadRejectsGarbage(t *testing.T) {
	e := newEnv(t, inference.NewStubDetector())

	buf, ct := multipartBody(t, "file", "x.jpg", []byte("garbage"))
	w := e.do(t, http.MethodPost, "/api/upload", buf, ct)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestJobStatusBadID(t *testing.T) {
	e := newEnv(t, inference.NewStubDetector())

	w := e.do(t, http.MethodGet, "/api/jobs/not-a-uuid", nil, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestJobStatusUnknown(t *testing.T) {
	e := newEnv(t, inference.NewStubDetector())

	w := e.do(t, http.MethodGet, "/api/jobs/"+uuid.NewString(), nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestImageDetailAndDelete(t *testing.T) {
	e := newEnv(t, inference.NewStubDetector(stubDetection()))

	buf, ct := multipartBody(t, "files", "shirt.jpg", smallJPEG(t))
	w := e.do(t, http.MethodPost, "/api/segment", buf, ct)
	require.Equal(t, http.StatusOK, w.Code)

	w = e.do(t, http.MethodGet, "/api/images", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	list := decode(t, w)
	require.Equal(t, float64(1), list["total"])
	imgID := list["images"].([]any)[0].(map[string]any)["id"].(string)

	w = e.do(t, http.MethodGet, "/api/images/"+imgID, nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	detail := decode(t, w)
	assert.NotEmpty(t, detail["image_url"])
	assert.NotEmpty(t, detail["annotated_url"])
	dets := detail["detections"].([]any)
	require.Len(t, dets, 1)

	w = e.do(t, http.MethodDelete, "/api/images/"+imgID, nil, "")
	require.Equal(t, http.StatusNoContent, w.Code)

	w = e.do(t, http.MethodGet, "/api/images/"+imgID, nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDetectionDetailAndTags(t *testing.T) {
	e := newEnv(t, inference.NewStubDetector(stubDetection()))

	buf, ct := multipartBody(t, "files", "shirt.jpg", smallJPEG(t))
	w := e.do(t, http.MethodPost, "/api/segment", buf, ct)
	require.Equal(t, http.StatusOK, w.Code)

	result := decode(t, w)["results"].([]any)[0].(map[string]any)["result"].(map[string]any)
	detID := result["detections"].([]any)[0].(map[string]any)["id"].(string)

	w = e.do(t, http.MethodGet, "/api/detections/"+detID, nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	detail := decode(t, w)
	assert.NotNil(t, detail["polygon"])
	assert.NotNil(t, detail["embedding"])

	payload := bytes.NewBufferString(`{"name":"summer-shirt"}`)
	w = e.do(t, http.MethodPost, "/api/detections/"+detID+"/tags", payload, "application/json")
	require.Equal(t, http.StatusCreated, w.Code)
	tagID := decode(t, w)["id"].(string)

	w = e.do(t, http.MethodGet, "/api/detections/"+detID+"/tags", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	tags := decode(t, w)["tags"].([]any)
	require.Len(t, tags, 1)
	assert.Equal(t, "summer-shirt", tags[0].(map[string]any)["name"])

	w = e.do(t, http.MethodDelete, "/api/tags/"+tagID, nil, "")
	require.Equal(t, http.StatusNoContent, w.Code)

	w = e.do(t, http.MethodGet, "/api/detections/"+detID+"/tags", nil, "")
	assert.Empty(t, decode(t, w)["tags"])
}

func TestAddTagUnknownDetection(t *testing.T) {
	e := newEnv(t, inference.NewStubDetector())

	payload := bytes.NewBufferString(`{"name":"x"}`)
	w := e.do(t, http.MethodPost, "/api/detections/"+uuid.NewString()+"/tags", payload, "application/json")
	assert.Equal(t, http.StatusNotFound, w.Code)
}
