package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"clothseg/internal/inference"
	"clothseg/internal/jobs"
	"clothseg/internal/models"
	"clothseg/internal/objectstore"
	"clothseg/internal/pipeline"
	"clothseg/internal/queue"
	"clothseg/internal/storage"
	"clothseg/internal/worker"
)

func main() {
	cfg, err := models.LoadConfig("config.yaml")
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	db, err := storage.NewStorage(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to init storage: %v", err)
	}
	defer db.Close()

	objects, err := newObjectStore(cfg)
	if err != nil {
		log.Fatalf("failed to init object store: %v", err)
	}

	detector := newDetector(cfg)

	pipe := pipeline.New(db, objects, detector, cfg)
	jobSvc := jobs.NewService(db)

	ctx, cancel := context.WithCancel(context.Background())

	wake := make(chan struct{}, 1)
	if cfg.KafkaBroker != "" {
		go queue.Listen(ctx, cfg.KafkaBroker, cfg.KafkaTopic, "clothseg-workers", wake)
	}

	w := worker.New(db, jobSvc, pipe, cfg.WorkerPollInterval(), cfg.ReclaimAfter(), wake)
	go func() {
		if err := w.Run(ctx); err != nil && err != context.Canceled {
			log.Fatalf("worker stopped: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	cancel()
	log.Println("worker shutdown complete")
}

func newObjectStore(cfg *models.Config) (objectstore.Store, error) {
	if cfg.StorageBackend == "minio" {
		return objectstore.NewMinioStore(context.Background(), objectstore.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			Region:    cfg.MinioRegion,
			Secure:    cfg.MinioSecure,
		})
	}
	return objectstore.NewFSStore(cfg.StoragePath, cfg.PublicBaseURL)
}

func newDetector(cfg *models.Config) inference.Detector {
	if cfg.InferenceURL == "" {
		log.Println("no inference_url configured, using stub detector")
		return inference.NewStubDetector()
	}
	return inference.NewHTTPDetector(cfg.InferenceURL, cfg.MaskThreshold)
}
