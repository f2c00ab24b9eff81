// Package objectstore moves image files between local staging paths and
// object storage buckets.
package objectstore

import "context"

// PutRequest describes one object upload from a staged local file.
type PutRequest struct {
	Bucket      string
	Key         string
	LocalPath   string
	ContentType string
	Metadata    map[string]string
}

// Store fetches objects into local files and puts local files back as
// objects. Implementations classify failures so callers can decide
// whether a retry is worthwhile.
type Store interface {
	// Fetch downloads the object at bucket/key into localPath,
	// creating or truncating the file.
	Fetch(ctx context.Context, bucket, key, localPath string) error

	// Put uploads the local file described by req. Metadata keys are
	// stored lowercase on the object.
	Put(ctx context.Context, req PutRequest) error
}
