// Package blockstorage fetches test packages from block storage and uploads
// evidence back. Providers (local fs, S3, GCS, Azure Blob) implement a small
// raw backend interface; the fetch and upload operations are provider
// agnostic.
package blockstorage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrObjectNotFound is returned by Read for keys that do not exist.
var ErrObjectNotFound = errors.New("object not found")

// Backend is the raw object-store surface the child operations need.
// Keys are slash-separated paths relative to the backend root.
type Backend interface {
	// List returns the keys of all objects under prefix, recursively.
	List(ctx context.Context, prefix string) ([]string, error)
	// Read returns the content of one object.
	Read(ctx context.Context, key string) ([]byte, error)
	// Write stores one object, overwriting any existing content.
	Write(ctx context.Context, key string, data []byte) error
}

// Location is a parsed bucket URI: the provider scheme, the bucket or
// container name, and the object prefix inside it.
type Location struct {
	Scheme string
	Bucket string
	Prefix string
}

// ParseBucketURI splits a bucket URI like "s3://bucket/tests/suite-1" into
// its location parts. Supported schemes: s3, gs, azure, file.
func ParseBucketURI(bucket string) (Location, error) {
	u, err := url.Parse(bucket)
	if err != nil {
		return Location{}, fmt.Errorf("malformed bucket uri %q: %w", bucket, err)
	}
	switch u.Scheme {
	case "s3", "gs", "azure":
		if u.Host == "" {
			return Location{}, fmt.Errorf("bucket uri %q has no bucket name", bucket)
		}
		return Location{
			Scheme: u.Scheme,
			Bucket: u.Host,
			Prefix: strings.Trim(u.Path, "/"),
		}, nil
	case "file":
		if u.Path == "" {
			return Location{}, fmt.Errorf("bucket uri %q has no path", bucket)
		}
		return Location{Scheme: "file", Prefix: u.Path}, nil
	case "":
		if u.Path == "" {
			return Location{}, fmt.Errorf("bucket uri is empty")
		}
		// Bare paths are local filesystem locations.
		return Location{Scheme: "file", Prefix: u.Path}, nil
	default:
		return Location{}, fmt.Errorf("bucket uri %q has unsupported scheme %q", bucket, u.Scheme)
	}
}

func joinKey(parts ...string) string {
	cleaned := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.Trim(p, "/")
		if p != "" {
			cleaned = append(cleaned, p)
		}
	}
	return strings.Join(cleaned, "/")
}
