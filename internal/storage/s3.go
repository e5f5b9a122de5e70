package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	smithy "github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	"github.com/klauspost/compress/gzip"

	"decksaves/internal/core"
)

// S3Options configures the S3-backed StorageProvider.
type S3Options struct {
	Bucket          string
	Region          string
	AccessKeyID     string
	SecretAccessKey string

	// Prefix, if set, is joined onto every key so one bucket can host
	// multiple independent deployments.
	Prefix string

	// Compress, if set, gzips every blob before upload and sets its
	// Content-Encoding header accordingly; GetBlob gunzips transparently
	// based on that header, regardless of this setting at read time.
	Compress bool
}

const (
	s3RetryAttempts   = 5
	s3RetryBaseDelay  = 200 * time.Millisecond
	s3RetryFactor     = 2.0
	s3RetryJitterFrac = 0.2
	s3PerAttemptDeadline = 30 * time.Second
)

// S3 is a StorageProvider backed by an AWS S3 bucket. Uploads and
// downloads go through feature/s3/manager so large version blobs transfer
// in multipart chunks rather than a single request.
type S3 struct {
	client     *s3.Client
	uploader   *manager.Uploader
	downloader *manager.Downloader
	bucket     string
	prefix     string
	compress   bool
}

var _ core.StorageProvider = (*S3)(nil)

// NewS3 builds an S3 client from opts, resolving region via the standard
// AWS config chain but pinning static credentials from the unsealed
// config values rather than environment or instance-profile discovery.
func NewS3(ctx context.Context, opts S3Options) (*S3, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("%w: s3 bucket is required", core.ErrConfigInvalid)
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, ""),
		),
	}
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg)
	return &S3{
		client:     client,
		uploader:   manager.NewUploader(client),
		downloader: manager.NewDownloader(client),
		bucket:     opts.Bucket,
		prefix:     opts.Prefix,
		compress:   opts.Compress,
	}, nil
}

func (s *S3) fullKey(key string) string {
	if s.prefix == "" {
		return key
	}
	return strings.TrimSuffix(s.prefix, "/") + "/" + key
}

// withRetry runs op up to s3RetryAttempts times, retrying only when
// classify(err) is core.ErrStorageTransient, with exponential backoff and
// jitter between attempts.
func withRetry(ctx context.Context, op func(context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt < s3RetryAttempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, s3PerAttemptDeadline)
		lastErr = op(attemptCtx)
		cancel()

		if lastErr == nil {
			return nil
		}
		if !errors.Is(classify(lastErr), core.ErrStorageTransient) {
			return lastErr
		}
		if attempt == s3RetryAttempts-1 {
			break
		}

		delay := time.Duration(float64(s3RetryBaseDelay) * math.Pow(s3RetryFactor, float64(attempt)))
		jitter := time.Duration((rand.Float64()*2 - 1) * s3RetryJitterFrac * float64(delay))
		select {
		case <-time.After(delay + jitter):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return lastErr
}

// classify maps an AWS SDK error to the sentinel taxonomy in
// internal/core/errors.go so callers never branch on SDK-specific types.
func classify(err error) error {
	if err == nil {
		return nil
	}

	var notFound *s3types.NoSuchKey
	if errors.As(err, &notFound) {
		return fmt.Errorf("%w: %v", core.ErrNotFound, err)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return fmt.Errorf("%w: %v", core.ErrNotFound, err)
		case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch":
			return fmt.Errorf("%w: %v", core.ErrStorageAuthFailed, err)
		case "AllAccessDisabled":
			return fmt.Errorf("%w: %v", core.ErrStoragePermissionDenied, err)
		case "SlowDown", "RequestTimeout", "ServiceUnavailable", "InternalError":
			return fmt.Errorf("%w: %v", core.ErrStorageTransient, err)
		}
	}

	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) {
		switch code := respErr.HTTPStatusCode(); {
		case code == http.StatusForbidden:
			return fmt.Errorf("%w: %v", core.ErrStoragePermissionDenied, err)
		case code == http.StatusUnauthorized:
			return fmt.Errorf("%w: %v", core.ErrStorageAuthFailed, err)
		case code == http.StatusNotFound:
			return fmt.Errorf("%w: %v", core.ErrNotFound, err)
		case code == http.StatusTooManyRequests || code >= 500:
			return fmt.Errorf("%w: %v", core.ErrStorageTransient, err)
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", core.ErrStorageTransient, err)
	}

	return err
}

// PutBlob uploads content to key via the multipart manager, retrying
// transient failures with backoff. When the provider was constructed with
// Compress set, the content is gzipped before upload and the object's
// Content-Encoding header is set to "gzip" so GetBlob knows to gunzip it.
func (s *S3) PutBlob(ctx context.Context, key string, r io.Reader, size int64, metadata map[string]string) error {
	return s.putBlob(ctx, key, r, size, metadata, s.compress)
}

func (s *S3) putBlob(ctx context.Context, key string, r io.Reader, size int64, metadata map[string]string, compress bool) error {
	var body io.Reader = r
	if size >= 0 {
		body = io.LimitReader(r, size)
	}

	var meta map[string]string
	if len(metadata) > 0 {
		meta = metadata
	}

	var contentEncoding *string
	if compress {
		var buf bytes.Buffer
		gz := gzip.NewWriter(&buf)
		if _, err := io.Copy(gz, body); err != nil {
			return fmt.Errorf("compressing %s: %w", key, err)
		}
		if err := gz.Close(); err != nil {
			return fmt.Errorf("compressing %s: %w", key, err)
		}
		body = &buf
		contentEncoding = aws.String("gzip")
	}

	// Buffer the content once so every retry attempt sends it in full.
	data, err := io.ReadAll(body)
	if err != nil {
		return fmt.Errorf("reading %s: %w", key, err)
	}

	return withRetry(ctx, func(attemptCtx context.Context) error {
		_, err := s.uploader.Upload(attemptCtx, &s3.PutObjectInput{
			Bucket:          aws.String(s.bucket),
			Key:             aws.String(s.fullKey(key)),
			Body:            bytes.NewReader(data),
			Metadata:        meta,
			ContentEncoding: contentEncoding,
		})
		if err != nil {
			return classify(fmt.Errorf("uploading %s: %w", key, err))
		}
		return nil
	})
}

// GetBlob downloads key into w via the multipart downloader, transparently
// gunzipping the content if the object's Content-Encoding header says
// "gzip" — independent of this provider's current Compress setting, so an
// object written while compression was enabled still reads back correctly
// after it's turned off.
func (s *S3) GetBlob(ctx context.Context, key string, w io.Writer) error {
	var encoding string
	err := withRetry(ctx, func(attemptCtx context.Context) error {
		head, err := s.client.HeadObject(attemptCtx, &s3.HeadObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(s.fullKey(key)),
		})
		if err != nil {
			return classify(fmt.Errorf("heading %s: %w", key, err))
		}
		encoding = aws.ToString(head.ContentEncoding)
		return nil
	})
	if err != nil {
		return err
	}

	buf := manager.NewWriteAtBuffer(nil)
	err = withRetry(ctx, func(attemptCtx context.Context) error {
		_, err := s.downloader.Download(attemptCtx, buf, &s3.GetObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(s.fullKey(key)),
		})
		if err != nil {
			return classify(fmt.Errorf("downloading %s: %w", key, err))
		}
		return nil
	})
	if err != nil {
		return err
	}

	if encoding == "gzip" {
		gz, err := gzip.NewReader(bytes.NewReader(buf.Bytes()))
		if err != nil {
			return fmt.Errorf("decompressing %s: %w", key, err)
		}
		defer gz.Close()
		_, err = io.Copy(w, gz)
		return err
	}

	_, err = w.Write(buf.Bytes())
	return err
}

// DeleteBlob removes key. A missing key is treated as success.
func (s *S3) DeleteBlob(ctx context.Context, key string) error {
	err := withRetry(ctx, func(attemptCtx context.Context) error {
		_, err := s.client.DeleteObject(attemptCtx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(s.fullKey(key)),
		})
		if err != nil {
			return classify(fmt.Errorf("deleting %s: %w", key, err))
		}
		return nil
	})
	if errors.Is(err, core.ErrNotFound) {
		return nil
	}
	return err
}

// Exists reports whether key is present, via HeadObject.
func (s *S3) Exists(ctx context.Context, key string) (bool, error) {
	var exists bool
	err := withRetry(ctx, func(attemptCtx context.Context) error {
		_, err := s.client.HeadObject(attemptCtx, &s3.HeadObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(s.fullKey(key)),
		})
		if err != nil {
			classified := classify(fmt.Errorf("heading %s: %w", key, err))
			if errors.Is(classified, core.ErrNotFound) {
				exists = false
				return nil
			}
			return classified
		}
		exists = true
		return nil
	})
	return exists, err
}

// ListByPrefix returns every key under prefix, paginating through the
// bucket listing as needed.
func (s *S3) ListByPrefix(ctx context.Context, prefix string) ([]string, error) {
	var out []string
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.fullKey(prefix)),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, classify(fmt.Errorf("listing prefix %s: %w", prefix, err))
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if s.prefix != "" {
				key = strings.TrimPrefix(key, strings.TrimSuffix(s.prefix, "/")+"/")
			}
			out = append(out, key)
		}
	}
	return out, nil
}

// PutJSON marshals v and uploads it as the object at key. Like LocalFS,
// manifest and config documents never get gzipped — only version blobs do.
func (s *S3) PutJSON(ctx context.Context, key string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", key, err)
	}
	return s.putBlob(ctx, key, bytes.NewReader(data), int64(len(data)), nil, false)
}

// GetJSON downloads key and unmarshals it into v.
func (s *S3) GetJSON(ctx context.Context, key string, v any) error {
	var buf bytes.Buffer
	if err := s.GetBlob(ctx, key, &buf); err != nil {
		return err
	}
	if err := json.Unmarshal(buf.Bytes(), v); err != nil {
		return fmt.Errorf("%w: unmarshaling %s: %v", core.ErrMalformedInput, key, err)
	}
	return nil
}
