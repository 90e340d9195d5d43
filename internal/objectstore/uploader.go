package objectstore

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/minio/minio-go/v7"
	"go.uber.org/zap"
)

const (
	defaultContentTypeConstant      = "application/octet-stream"
	artifactUploadedMessageConstant = "artifact uploaded"
	artifactSkippedMessageConstant  = "artifact upload skipped; object store disabled"
	artifactPathFieldNameConstant   = "path"
	artifactKeyFieldNameConstant    = "key"
	bucketFieldNameConstant         = "bucket"
	instanceFieldNameConstant       = "instance"
)

// ErrBucketClientNotConfigured indicates the uploader has no client.
var ErrBucketClientNotConfigured = errors.New("object store client not configured")

// Artifact identifies one file produced by a job instance.
type Artifact struct {
	RunID      string
	InstanceID string
	Path       string
}

// UploadResult describes where an artifact went.
type UploadResult struct {
	Location string
	Skipped  bool
}

// ArtifactMissingError reports an artifact path that does not exist. The task
// that was expected to produce it failed, so this is a task failure.
type ArtifactMissingError struct {
	Path  string
	Cause error
}

// Error describes the missing artifact.
func (missingError ArtifactMissingError) Error() string {
	return fmt.Sprintf("artifact %s not found: %v", missingError.Path, missingError.Cause)
}

// Unwrap exposes the cause.
func (missingError ArtifactMissingError) Unwrap() error {
	return missingError.Cause
}

// ArtifactUploader hands artifacts to external storage.
type ArtifactUploader interface {
	Upload(executionContext context.Context, artifact Artifact) (UploadResult, error)
}

// BucketClient is the subset of the MinIO client used for uploads.
type BucketClient interface {
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
	FPutObject(ctx context.Context, bucketName, objectName, filePath string, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// MinIOUploader stores artifacts under <prefix>/<run>/<instance>/<file>.
type MinIOUploader struct {
	client BucketClient
	config Config
	logger *zap.Logger

	bucketLock  sync.Mutex
	bucketReady bool
}

// NewMinIOUploader constructs an uploader for the configured bucket.
func NewMinIOUploader(logger *zap.Logger, client BucketClient, config Config) (*MinIOUploader, error) {
	if client == nil {
		return nil, ErrBucketClientNotConfigured
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MinIOUploader{client: client, config: config, logger: logger}, nil
}

// Upload ensures the bucket exists on first use and stores the file.
func (uploader *MinIOUploader) Upload(executionContext context.Context, artifact Artifact) (UploadResult, error) {
	fileInfo, statError := os.Stat(artifact.Path)
	if statError != nil {
		return UploadResult{}, ArtifactMissingError{Path: artifact.Path, Cause: statError}
	}
	if fileInfo.IsDir() {
		return UploadResult{}, ArtifactMissingError{Path: artifact.Path, Cause: errors.New("path is a directory")}
	}

	if bucketError := uploader.ensureBucket(executionContext); bucketError != nil {
		return UploadResult{}, fmt.Errorf("ensure artifacts bucket: %w", bucketError)
	}

	objectKey := ObjectKey(uploader.config.Prefix, artifact)
	contentType := mime.TypeByExtension(filepath.Ext(artifact.Path))
	if len(contentType) == 0 {
		contentType = defaultContentTypeConstant
	}
	if _, putError := uploader.client.FPutObject(executionContext, uploader.config.Bucket, objectKey, artifact.Path, minio.PutObjectOptions{ContentType: contentType}); putError != nil {
		return UploadResult{}, fmt.Errorf("upload artifact %s: %w", artifact.Path, putError)
	}

	uploader.logger.Info(artifactUploadedMessageConstant,
		zap.String(artifactPathFieldNameConstant, artifact.Path),
		zap.String(bucketFieldNameConstant, uploader.config.Bucket),
		zap.String(artifactKeyFieldNameConstant, objectKey),
	)
	return UploadResult{Location: uploader.config.Bucket + "/" + objectKey}, nil
}

func (uploader *MinIOUploader) ensureBucket(executionContext context.Context) error {
	uploader.bucketLock.Lock()
	defer uploader.bucketLock.Unlock()

	if uploader.bucketReady {
		return nil
	}
	exists, existsError := uploader.client.BucketExists(executionContext, uploader.config.Bucket)
	if existsError != nil {
		return existsError
	}
	if !exists {
		if makeError := uploader.client.MakeBucket(executionContext, uploader.config.Bucket, minio.MakeBucketOptions{Region: uploader.config.Region}); makeError != nil {
			return makeError
		}
	}
	uploader.bucketReady = true
	return nil
}

// ObjectKey builds the object key for an artifact.
func ObjectKey(prefix string, artifact Artifact) string {
	parts := make([]string, 0, 4)
	if trimmedPrefix := strings.Trim(strings.TrimSpace(prefix), "/"); len(trimmedPrefix) > 0 {
		parts = append(parts, trimmedPrefix)
	}
	parts = append(parts, artifact.RunID, artifact.InstanceID, filepath.Base(artifact.Path))
	return path.Join(parts...)
}

// NoopUploader records skipped uploads when no object store is configured.
type NoopUploader struct {
	logger *zap.Logger
}

// NewNoopUploader constructs a NoopUploader.
func NewNoopUploader(logger *zap.Logger) NoopUploader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return NoopUploader{logger: logger}
}

// Upload verifies the artifact exists and reports the upload as skipped.
func (uploader NoopUploader) Upload(executionContext context.Context, artifact Artifact) (UploadResult, error) {
	if _, statError := os.Stat(artifact.Path); statError != nil {
		return UploadResult{}, ArtifactMissingError{Path: artifact.Path, Cause: statError}
	}
	uploader.logger.Info(artifactSkippedMessageConstant,
		zap.String(artifactPathFieldNameConstant, artifact.Path),
		zap.String(instanceFieldNameConstant, artifact.InstanceID),
	)
	return UploadResult{Skipped: true}, nil
}
