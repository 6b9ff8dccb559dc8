package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"golang.org/x/sync/errgroup"
)

// S3Storage implements ObjectStorage for AWS S3 and S3-compatible stores.
type S3Storage struct {
	client     *s3.Client
	bucket     string
	config     S3Config
	maxRetries int
}

// S3Config holds configuration for S3 storage.
type S3Config struct {
	// Region is the AWS region for the S3 bucket.
	Region string
	// Endpoint is an optional custom endpoint (for MinIO, LocalStack, etc.).
	Endpoint string
	// UsePathStyle enables path-style addressing (required for MinIO).
	UsePathStyle bool
	// MultipartConfig holds multipart upload settings.
	MultipartConfig MultipartUploadConfig
}

// DefaultS3Config returns the default S3 configuration.
func DefaultS3Config() S3Config {
	return S3Config{
		Region:          "us-east-1",
		MultipartConfig: DefaultMultipartConfig(),
	}
}

// NewS3Storage creates a new S3 storage client.
func NewS3Storage(ctx context.Context, bucket string, cfg S3Config) (*S3Storage, error) {
	var opts []func(*config.LoadOptions) error

	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}
	if cfg.UsePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	return NewS3StorageWithClient(s3.NewFromConfig(awsCfg, s3Opts...), bucket, cfg), nil
}

// NewS3StorageWithClient creates a new S3 storage with a pre-configured client.
func NewS3StorageWithClient(client *s3.Client, bucket string, cfg S3Config) *S3Storage {
	if cfg.MultipartConfig.PartSize <= 0 {
		cfg.MultipartConfig.PartSize = DefaultMultipartConfig().PartSize
	}
	if cfg.MultipartConfig.Concurrency <= 0 {
		cfg.MultipartConfig.Concurrency = DefaultMultipartConfig().Concurrency
	}
	return &S3Storage{
		client:     client,
		bucket:     bucket,
		config:     cfg,
		maxRetries: 3,
	}
}

// Upload uploads a file to S3 with a single PutObject.
func (s *S3Storage) Upload(ctx context.Context, localPath, objectPath string) error {
	file, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}
	size := stat.Size()

	err = s.retryWithBackoff(ctx, func() error {
		// rewind for each attempt
		if _, err := file.Seek(0, io.SeekStart); err != nil {
			return err
		}

		_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:        aws.String(s.bucket),
			Key:           aws.String(objectPath),
			Body:          file,
			ContentLength: aws.Int64(size),
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}
	return nil
}

// UploadMultipart uploads a merged output and returns its ETag. Outputs no
// larger than one part go through Upload. Larger ones are sent as concurrent
// parts, each retried on its own so a transient error does not resend the
// whole file; the upload is aborted if any part finally fails.
func (s *S3Storage) UploadMultipart(ctx context.Context, localPath, objectPath string) (string, error) {
	file, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}

	if stat.Size() <= s.config.MultipartConfig.PartSize {
		if err := s.Upload(ctx, localPath, objectPath); err != nil {
			return "", err
		}
		return s.getETag(ctx, objectPath)
	}

	etag, err := s.uploadParts(ctx, file, stat.Size(), objectPath)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrUploadFailed, objectPath, err)
	}
	return etag, nil
}

func (s *S3Storage) uploadParts(ctx context.Context, file *os.File, fileSize int64, objectPath string) (string, error) {
	partSize := s.config.MultipartConfig.PartSize

	var uploadID *string
	err := s.retryWithBackoff(ctx, func() error {
		resp, err := s.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(objectPath),
		})
		if err != nil {
			return err
		}
		uploadID = resp.UploadId
		return nil
	})
	if err != nil {
		return "", err
	}

	numParts := int((fileSize + partSize - 1) / partSize)
	parts := make([]types.CompletedPart, numParts)

	// section readers use ReadAt, so parts share the file handle
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.config.MultipartConfig.Concurrency)
	for i := 0; i < numParts; i++ {
		partNumber := int32(i + 1)
		offset := int64(i) * partSize
		size := min(partSize, fileSize-offset)

		g.Go(func() error {
			return s.retryWithBackoff(gctx, func() error {
				resp, err := s.client.UploadPart(gctx, &s3.UploadPartInput{
					Bucket:        aws.String(s.bucket),
					Key:           aws.String(objectPath),
					UploadId:      uploadID,
					PartNumber:    aws.Int32(partNumber),
					Body:          io.NewSectionReader(file, offset, size),
					ContentLength: aws.Int64(size),
				})
				if err != nil {
					return fmt.Errorf("part %d of %d: %w", partNumber, numParts, err)
				}
				parts[partNumber-1] = types.CompletedPart{ETag: resp.ETag, PartNumber: aws.Int32(partNumber)}
				return nil
			})
		})
	}
	if err := g.Wait(); err != nil {
		s.abortMultipartUpload(objectPath, uploadID)
		return "", err
	}

	var etag string
	err = s.retryWithBackoff(ctx, func() error {
		resp, err := s.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
			Bucket:          aws.String(s.bucket),
			Key:             aws.String(objectPath),
			UploadId:        uploadID,
			MultipartUpload: &types.CompletedMultipartUpload{Parts: parts},
		})
		if err != nil {
			return err
		}
		etag = aws.ToString(resp.ETag)
		return nil
	})
	if err != nil {
		s.abortMultipartUpload(objectPath, uploadID)
		return "", err
	}
	return etag, nil
}

// abortMultipartUpload releases the stored parts. It runs detached from the
// caller's context, which is usually the reason the upload failed.
func (s *S3Storage) abortMultipartUpload(objectPath string, uploadID *string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_, _ = s.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(s.bucket),
		Key:      aws.String(objectPath),
		UploadId: uploadID,
	})
}

// Download fetches an object into localPath. The body is streamed into a
// temporary file next to localPath and renamed into place once its length
// matches the object's, so an interrupted transfer never leaves a file that
// looks complete. Failed transfers are retried from the start.
func (s *S3Storage) Download(ctx context.Context, objectPath, localPath string) error {
	if err := os.MkdirAll(filepath.Dir(localPath), 0755); err != nil {
		return fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}

	err := s.retryWithBackoff(ctx, func() error {
		return s.fetch(ctx, objectPath, localPath)
	})
	if errors.Is(err, ErrObjectNotFound) {
		return ErrObjectNotFound
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrDownloadFailed, objectPath, err)
	}
	return nil
}

func (s *S3Storage) fetch(ctx context.Context, objectPath, localPath string) error {
	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectPath),
	})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return ErrObjectNotFound
		}
		return err
	}
	defer resp.Body.Close()

	tmp, err := os.CreateTemp(filepath.Dir(localPath), ".download-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, resp.Body)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return err
	}
	if want := aws.ToInt64(resp.ContentLength); resp.ContentLength != nil && n != want {
		return fmt.Errorf("short read: got %d of %d bytes", n, want)
	}
	return os.Rename(tmp.Name(), localPath)
}

// Delete removes an object from S3.
func (s *S3Storage) Delete(ctx context.Context, objectPath string) error {
	err := s.retryWithBackoff(ctx, func() error {
		_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(objectPath),
		})
		return err
	})

	if err != nil {
		return fmt.Errorf("%w: %v", ErrDeleteFailed, err)
	}

	return nil
}

// Exists checks if an object exists in S3.
func (s *S3Storage) Exists(ctx context.Context, objectPath string) (bool, error) {
	_, err := s.Stat(ctx, objectPath)
	if errors.Is(err, ErrObjectNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Stat returns the object's size from a HEAD request.
func (s *S3Storage) Stat(ctx context.Context, objectPath string) (ObjectInfo, error) {
	var info ObjectInfo
	err := s.retryWithBackoff(ctx, func() error {
		resp, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(objectPath),
		})
		if err != nil {
			var notFound *types.NotFound
			if errors.As(err, &notFound) {
				return ErrObjectNotFound
			}
			return err
		}
		info = ObjectInfo{Key: objectPath, SizeBytes: aws.ToInt64(resp.ContentLength)}
		return nil
	})
	return info, err
}

// ListObjects returns all objects under the given prefix, sorted by key.
func (s *S3Storage) ListObjects(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	var objects []ObjectInfo
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list objects: %w", err)
		}
		for _, obj := range page.Contents {
			objects = append(objects, ObjectInfo{
				Key:       aws.ToString(obj.Key),
				SizeBytes: aws.ToInt64(obj.Size),
			})
		}
	}

	// ListObjectsV2 already returns keys in UTF-8 binary order; S3-compatible
	// stores are not all as strict.
	sort.Slice(objects, func(i, j int) bool { return objects[i].Key < objects[j].Key })
	return objects, nil
}

// getETag retrieves the ETag of an object.
func (s *S3Storage) getETag(ctx context.Context, objectPath string) (string, error) {
	resp, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectPath),
	})
	if err != nil {
		return "", err
	}
	return aws.ToString(resp.ETag), nil
}

// retryWithBackoff runs operation up to maxRetries+1 times, doubling the wait
// from 100ms. Missing objects and cancellation are not retried.
func (s *S3Storage) retryWithBackoff(ctx context.Context, operation func() error) error {
	var lastErr error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = operation()
		if lastErr == nil {
			return nil
		}

		if errors.Is(lastErr, ErrObjectNotFound) || ctx.Err() != nil {
			return lastErr
		}

		if attempt < s.maxRetries {
			backoff := time.Duration(math.Pow(2, float64(attempt))) * 100 * time.Millisecond
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}
	}
	return lastErr
}
