package server

import (
	"errors"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"clothseg/internal/inference"
	"clothseg/internal/jobs"
	"clothseg/internal/models"
	"clothseg/internal/objectstore"
	"clothseg/internal/pipeline"
	"clothseg/internal/queue"
	"clothseg/internal/storage"
)

type Server struct {
	cfg      *models.Config
	router   *gin.Engine
	store    storage.Store
	objects  objectstore.Store
	detector inference.Detector
	pipe     *pipeline.Pipeline
	jobs     *jobs.Service
	notifier queue.Notifier
}

func New(cfg *models.Config, store storage.Store, objects objectstore.Store, detector inference.Detector, pipe *pipeline.Pipeline, jobSvc *jobs.Service, notifier queue.Notifier) *Server {
	r := gin.Default()

	s := &Server{
		cfg:      cfg,
		router:   r,
		store:    store,
		objects:  objects,
		detector: detector,
		pipe:     pipe,
		jobs:     jobSvc,
		notifier: notifier,
	}

	if fs, ok := objects.(*objectstore.FSStore); ok {
		r.Static("/files", fs.Dir())
	}

	api := r.Group("/api")
	api.GET("/health", s.handleHealth)
	api.POST("/segment", s.handleSegment)
	api.POST("/upload", s.handleUpload)
	api.GET("/jobs/:id", s.handleJobStatus)
	api.GET("/images", s.handleListImages)
	api.GET("/images/:id", s.handleImageDetail)
	api.DELETE("/images/:id", s.handleDeleteImage)
	api.GET("/detections/:id", s.handleDetectionDetail)
	api.POST("/detections/:id/tags", s.handleAddTag)
	api.GET("/detections/:id/tags", s.handleListTags)
	api.DELETE("/tags/:id", s.handleDeleteTag)

	return s
}

func (s *Server) Start() error {
	return s.router.Run(s.cfg.ServerAddr)
}

// Router exposes the handler tree for httptest.
func (s *Server) Router() http.Handler {
	return s.router
}

// statusFor maps the error taxonomy onto HTTP codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrInvalidTransition):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) abortErr(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{"error": err.Error()})
}

func (s *Server) handleHealth(c *gin.Context) {
	loaded := s.detector.Healthy(c.Request.Context())
	status := "healthy"
	if !loaded {
		status = "degraded"
	}
	c.JSON(http.StatusOK, gin.H{
		"status":       status,
		"model_loaded": loaded,
		"timestamp":    time.Now().Format(time.RFC3339),
	})
}

// handleSegment is the synchronous path: each uploaded file is processed
// independently, so one bad image fails alone and the batch partially
// succeeds.
func (s *Server) handleSegment(c *gin.Context) {
	const op = "server.handleSegment"

	form, err := c.MultipartForm()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("%s: %v", op, err)})
		return
	}
	files := form.File["files"]
	if len(files) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no files provided"})
		return
	}

	type fileResult struct {
		Filename string                 `json:"filename"`
		Result   *models.PipelineResult `json:"result,omitempty"`
		Error    string                 `json:"error,omitempty"`
	}

	results := make([]fileResult, 0, len(files))
	processed := 0
	for _, fh := range files {
		data, err := readUpload(fh)
		if err != nil {
			results = append(results, fileResult{Filename: fh.Filename, Error: err.Error()})
			continue
		}
		res, err := s.pipe.Process(c.Request.Context(), data, fh.Filename)
		if err != nil {
			results = append(results, fileResult{Filename: fh.Filename, Error: err.Error()})
			continue
		}
		results = append(results, fileResult{Filename: fh.Filename, Result: res})
		processed++
	}

	c.JSON(http.StatusOK, gin.H{
		"success":          true,
		"processed_images": processed,
		"results":          results,
	})
}

// handleUpload is the asynchronous path: store bytes, create the image row
// and a pending job, notify the queue, return immediately.
func (s *Server) handleUpload(c *gin.Context) {
	const op = "server.handleUpload"

	fh, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("%s: %v", op, err)})
		return
	}
	data, err := readUpload(fh)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	img, _, err := s.pipe.PrepareUpload(c.Request.Context(), data, fh.Filename)
	if err != nil {
		s.abortErr(c, err)
		return
	}

	jobID, err := s.jobs.Enqueue(c.Request.Context(), img.ID)
	if err != nil {
		s.abortErr(c, err)
		return
	}

	if err := s.notifier.Notify(c.Request.Context(), jobID); err != nil {
		// the worker's poll ticker will still find the job
		log.Printf("%s: notify job %s: %v", op, jobID, err)
	}

	c.JSON(http.StatusOK, gin.H{
		"job_id":   jobID,
		"image_id": img.ID,
		"status":   "queued",
	})
}

func (s *Server) handleJobStatus(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	view, err := s.jobs.Poll(c.Request.Context(), id)
	if err != nil {
		s.abortErr(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (s *Server) handleListImages(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	images, total, err := s.store.ListImages(c.Request.Context(), page, limit)
	if err != nil {
		s.abortErr(c, err)
		return
	}

	summaries := make([]models.ImageSummary, 0, len(images))
	for _, img := range images {
		url, err := s.objects.URL(c.Request.Context(), img.StorageKey)
		if err != nil {
			s.abortErr(c, err)
			return
		}
		dets, err := s.store.ImageDetections(c.Request.Context(), img.ID)
		if err != nil {
			s.abortErr(c, err)
			return
		}
		summaries = append(summaries, models.ImageSummary{Image: img, URL: url, Detections: dets})
	}

	c.JSON(http.StatusOK, gin.H{
		"images": summaries,
		"total":  total,
		"page":   page,
		"limit":  limit,
	})
}

func (s *Server) handleImageDetail(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	img, err := s.store.GetImage(c.Request.Context(), id)
	if err != nil {
		s.abortErr(c, err)
		return
	}
	url, err := s.objects.URL(c.Request.Context(), img.StorageKey)
	if err != nil {
		s.abortErr(c, err)
		return
	}
	var annotatedURL string
	if img.AnnotatedKey != "" {
		if annotatedURL, err = s.objects.URL(c.Request.Context(), img.AnnotatedKey); err != nil {
			s.abortErr(c, err)
			return
		}
	}

	dets, err := s.store.ImageDetections(c.Request.Context(), id)
	if err != nil {
		s.abortErr(c, err)
		return
	}

	details := make([]models.DetectionResult, 0, len(dets))
	for _, det := range dets {
		dr := models.DetectionResult{Detection: det}
		poly, err := s.store.GetPolygon(c.Request.Context(), det.ID)
		if err == nil {
			dr.Contours = poly.Contours
			dr.Simplified = poly.Simplified
		} else if !errors.Is(err, models.ErrNotFound) {
			s.abortErr(c, err)
			return
		}
		details = append(details, dr)
	}

	c.JSON(http.StatusOK, gin.H{
		"image":         img,
		"image_url":     url,
		"annotated_url": annotatedURL,
		"detections":    details,
	})
}

func (s *Server) handleDeleteImage(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	img, err := s.store.GetImage(c.Request.Context(), id)
	if err != nil {
		s.abortErr(c, err)
		return
	}

	// blobs first; the row delete cascades to every dependent row
	for _, key := range []string{img.StorageKey, img.AnnotatedKey} {
		if key == "" {
			continue
		}
		if err := s.objects.Delete(c.Request.Context(), key); err != nil {
			s.abortErr(c, err)
			return
		}
	}
	if err := s.store.DeleteImage(c.Request.Context(), id); err != nil {
		s.abortErr(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (s *Server) handleDetectionDetail(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	det, err := s.store.GetDetection(c.Request.Context(), id)
	if err != nil {
		s.abortErr(c, err)
		return
	}

	resp := gin.H{"detection": det}

	if poly, err := s.store.GetPolygon(c.Request.Context(), id); err == nil {
		resp["polygon"] = poly
	} else if !errors.Is(err, models.ErrNotFound) {
		s.abortErr(c, err)
		return
	}
	if emb, err := s.store.GetEmbedding(c.Request.Context(), id); err == nil {
		resp["embedding"] = emb
	} else if !errors.Is(err, models.ErrNotFound) {
		s.abortErr(c, err)
		return
	}

	tags, err := s.store.TagsForDetection(c.Request.Context(), id)
	if err != nil {
		s.abortErr(c, err)
		return
	}
	resp["tags"] = tags

	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleAddTag(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var body struct {
		Name string `json:"name" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	tag := &models.ProductTag{
		ID:          uuid.New(),
		DetectionID: id,
		Name:        body.Name,
		CreatedAt:   time.Now(),
	}
	if err := s.store.AddTag(c.Request.Context(), tag); err != nil {
		s.abortErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, tag)
}

func (s *Server) handleListTags(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	tags, err := s.store.TagsForDetection(c.Request.Context(), id)
	if err != nil {
		s.abortErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tags": tags})
}

func (s *Server) handleDeleteTag(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.store.DeleteTag(c.Request.Context(), id); err != nil {
		s.abortErr(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func readUpload(fh *multipart.FileHeader) ([]byte, error) {
	src, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer src.Close()
	return io.ReadAll(src)
}
