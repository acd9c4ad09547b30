// Package bucket implements the single source of truth for the scheduler:
// the static catalog, function registry, carbon forecasts and
// per-function schedules all live as objects in one S3-compatible
// bucket. Writers never hold locks; they write to a temporary key and
// atomically publish by copy-then-delete, the closest S3-native analogue
// to a POSIX rename.
package bucket

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
)

const (
	StaticConfigKey    = "static_config.json"
	FunctionMetadataKey = "function_metadata.json"
	CarbonForecastsKey = "carbon_forecasts.json"
)

// ScheduleKey returns the bucket key for a function's schedule document.
func ScheduleKey(functionID string) string {
	return fmt.Sprintf("schedule_%s.json", functionID)
}

// ArtifactKey returns the bucket key for a deployable artifact.
func ArtifactKey(functionID, hash, ext string) string {
	return fmt.Sprintf("function-source/%s/%s.%s", functionID, hash, ext)
}

// NormalizedMetadataKey returns the bucket key a planning cycle persists a
// function's canonical (post-normalization) metadata under, so independent
// Temporal activity invocations and the dispatcher can read it back
// without re-running extraction.
func NormalizedMetadataKey(functionID string) string {
	return "normalized/" + functionID + ".json"
}

// Store is a thin, typed wrapper over an S3-compatible client.
type Store struct {
	client *s3.Client
	bucket string
}

// Config describes how to reach the bucket.
type Config struct {
	Bucket    string
	Region    string
	Endpoint  string // non-empty to target a non-AWS S3-compatible store
	AccessKey string
	SecretKey string
}

// New constructs a Store. Failure to resolve credentials or construct the
// client is treated as a fatal configuration error at startup.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket: name is required")
	}

	var opts []func(*awsconfig.LoadOptions) error
	opts = append(opts, awsconfig.WithRegion(cfg.Region))
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("bucket: load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &Store{client: client, bucket: cfg.Bucket}, nil
}

// Get reads an object's full body. A missing key returns ErrNotFound.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, translateNotFound(err, key)
	}
	defer out.Body.Close()

	body, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("bucket: read %s: %w", key, err)
	}
	return body, nil
}

// Put writes an object directly (non-atomic; used for keys with no
// concurrent-reader contract, e.g. one-off artifacts).
func (s *Store) Put(ctx context.Context, key string, body []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(body),
	})
	if err != nil {
		return fmt.Errorf("bucket: put %s: %w", key, err)
	}
	return nil
}

// PutAtomic writes body to a temporary key, then atomically publishes it
// to key via server-side copy followed by deletion of the temp object.
// Readers of key either observe the previous full object or the new one,
// never a partial write.
func (s *Store) PutAtomic(ctx context.Context, key string, body []byte) error {
	tempKey := fmt.Sprintf("%s.tmp-%s", key, uuid.New().String())

	if err := s.Put(ctx, tempKey, body); err != nil {
		return fmt.Errorf("bucket: write temp object for %s: %w", key, err)
	}

	_, err := s.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(s.bucket),
		Key:        aws.String(key),
		CopySource: aws.String(fmt.Sprintf("%s/%s", s.bucket, tempKey)),
	})
	if err != nil {
		return fmt.Errorf("bucket: publish %s from temp: %w", key, err)
	}

	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(tempKey),
	}); err != nil {
		// The publish already succeeded; a leftover temp object is not a
		// torn read, just clutter. Log-and-continue belongs to the caller.
		return fmt.Errorf("bucket: %s published but temp object %s not cleaned up: %w", key, tempKey, err)
	}

	return nil
}

// Exists reports whether key is present.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if IsNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("bucket: head %s: %w", key, err)
	}
	return true, nil
}

// Delete removes an object; missing keys are not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("bucket: delete %s: %w", key, err)
	}
	return nil
}

// List returns all keys with the given prefix.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("bucket: list %s: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			if obj.Key != nil {
				keys = append(keys, *obj.Key)
			}
		}
	}
	return keys, nil
}

// Ping verifies the bucket is reachable, used by GET /health.
func (s *Store) Ping(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	if err != nil {
		return fmt.Errorf("bucket: unreachable: %w", err)
	}
	return nil
}
