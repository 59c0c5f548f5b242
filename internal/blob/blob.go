// Package blob archives build artifacts: packed databases, manifests and
// report exports. Artifacts are immutable, so every driver enforces
// create-only puts; re-archiving a build writes under a new fingerprint
// instead of overwriting. Drivers: local filesystem (default), S3 or any
// S3-compatible endpoint, and in-memory for tests.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"
)

// Driver identifies a concrete store backend.
type Driver string

// Supported drivers.
const (
	DriverFS     Driver = "fs"
	DriverS3     Driver = "s3"
	DriverMemory Driver = "memory"
)

// Environment variables read by Open.
const (
	EnvDriver      = "FOODCORE_BLOB_DRIVER"
	EnvFSRoot      = "FOODCORE_BLOB_FS_ROOT"
	EnvS3Bucket    = "FOODCORE_BLOB_S3_BUCKET"
	EnvS3Region    = "FOODCORE_BLOB_S3_REGION"
	EnvS3Endpoint  = "FOODCORE_BLOB_S3_ENDPOINT"
	EnvS3AccessKey = "FOODCORE_BLOB_S3_ACCESS_KEY"
	EnvS3SecretKey = "FOODCORE_BLOB_S3_SECRET_KEY"
	EnvS3Session   = "FOODCORE_BLOB_S3_SESSION_TOKEN"
	EnvS3PathStyle = "FOODCORE_BLOB_S3_FORCE_PATH_STYLE"
)

// Sentinel errors shared by all drivers.
var (
	ErrExists      = errors.New("blob: key already exists")
	ErrNotFound    = errors.New("blob: key not found")
	ErrUnsupported = errors.New("blob: unsupported operation")
)

// PutOptions carries optional object attributes.
type PutOptions struct {
	ContentType string
	Metadata    map[string]string
}

// SignedURLOptions controls presigned URL generation. Only GET is supported.
type SignedURLOptions struct {
	Expiry time.Duration // default 15m
}

// Info describes a stored artifact.
type Info struct {
	Key          string            `json:"key"`
	Size         int64             `json:"size_bytes"`
	ContentType  string            `json:"content_type,omitempty"`
	ETag         string            `json:"etag,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	LastModified time.Time         `json:"last_modified"`
}

// Store is the archive surface the build and report layers write to.
type Store interface {
	Put(ctx context.Context, key string, r io.Reader, opts PutOptions) (Info, error)
	Get(ctx context.Context, key string) (Info, io.ReadCloser, error)
	Head(ctx context.Context, key string) (Info, error)
	Delete(ctx context.Context, key string) (bool, error)
	List(ctx context.Context, prefix string) ([]Info, error)
	PresignURL(ctx context.Context, key string, opts SignedURLOptions) (string, error)
	Driver() Driver
}

// DatabaseKey returns the archive key of a build's packed database.
func DatabaseKey(fingerprint string) string {
	return "builds/" + fingerprint + "/graph.db"
}

// ManifestKey returns the archive key of a build's manifest.
func ManifestKey(fingerprint string) string {
	return "builds/" + fingerprint + "/manifest.json"
}

// ReportKey returns the archive key of one rendered report artifact.
func ReportKey(jobID, name, ext string) string {
	return "reports/" + jobID + "/" + name + "." + ext
}

// Open selects a store from the environment. Defaults to the filesystem
// driver when FOODCORE_BLOB_DRIVER is unset.
func Open(ctx context.Context) (Store, error) {
	driver := os.Getenv(EnvDriver)
	if driver == "" {
		driver = string(DriverFS)
	}
	switch Driver(driver) {
	case DriverFS:
		return NewFS(os.Getenv(EnvFSRoot))
	case DriverS3:
		return OpenS3FromEnv(ctx)
	case DriverMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("blob: unknown driver %q", driver)
	}
}

func cloneMetadata(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
