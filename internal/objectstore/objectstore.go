// Package objectstore holds the binary assets: original uploads and
// annotated renders. Keys are slash-separated paths ("uploads/<id>.jpg").
package objectstore

import "context"

type Store interface {
	// Put stores data under key and returns a browser-reachable URL.
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	// URL resolves an existing key without touching the bytes.
	URL(ctx context.Context, key string) (string, error)
}
