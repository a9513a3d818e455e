// Package logstore persists the stdout/stderr captured by a Runner
// invocation, addressed by job id. Two drivers are provided: a local
// filesystem store for single-node deployments, and an S3-compatible
// store (works against MinIO too) for clustered ones, with a local
// cache for frequently-read logs.
package logstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// LogStore saves and retrieves the captured output of one job run.
type LogStore interface {
	// Store saves logs and returns a reference (path or URL) for later
	// Retrieve calls.
	Store(ctx context.Context, jobID string, logs []byte) (string, error)
	// Retrieve fetches logs by the reference Store returned.
	Retrieve(ctx context.Context, reference string) ([]byte, error)
}

// S3LogStore stores logs in S3-compatible object storage.
type S3LogStore struct {
	client     *s3.Client
	bucket     string
	prefix     string
	localCache string
}

// S3LogStoreConfig configures an S3LogStore.
type S3LogStoreConfig struct {
	Bucket          string
	Prefix          string // e.g. "logs/jobs/"
	Region          string
	Endpoint        string // set for MinIO/local S3
	AccessKeyID     string
	SecretAccessKey string
	LocalCacheDir   string // local cache for frequently accessed logs
}

// NewS3LogStore builds an S3-backed log store.
func NewS3LogStore(cfg S3LogStoreConfig) (*S3LogStore, error) {
	optFns := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		optFns = append(optFns, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(context.Background(), optFns...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	clientOpts := []func(*s3.Options){}
	if cfg.Endpoint != "" {
		clientOpts = append(clientOpts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true // required for MinIO
		})
	}
	client := s3.NewFromConfig(awsCfg, clientOpts...)

	if cfg.LocalCacheDir != "" {
		if err := os.MkdirAll(cfg.LocalCacheDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create cache directory: %w", err)
		}
	}

	return &S3LogStore{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix, localCache: cfg.LocalCacheDir}, nil
}

// Store uploads logs to S3, keyed by jobID under a date-partitioned prefix.
func (s *S3LogStore) Store(ctx context.Context, jobID string, logs []byte) (string, error) {
	key := s.buildKey(jobID)

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(logs),
		ContentType: aws.String("text/plain"),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload logs to S3: %w", err)
	}

	if s.localCache != "" {
		cachePath := filepath.Join(s.localCache, jobID+".log")
		_ = os.WriteFile(cachePath, logs, 0644)
	}

	return fmt.Sprintf("s3://%s/%s", s.bucket, key), nil
}

// Retrieve fetches logs from S3, checking the local cache first.
func (s *S3LogStore) Retrieve(ctx context.Context, reference string) ([]byte, error) {
	key := s.extractKey(reference)

	if s.localCache != "" {
		cachePath := filepath.Join(s.localCache, filepath.Base(key))
		if data, err := os.ReadFile(cachePath); err == nil {
			return data, nil
		}
	}

	output, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get logs from S3: %w", err)
	}
	defer output.Body.Close()

	data, err := io.ReadAll(output.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read logs: %w", err)
	}

	if s.localCache != "" {
		cachePath := filepath.Join(s.localCache, filepath.Base(key))
		_ = os.WriteFile(cachePath, data, 0644)
	}

	return data, nil
}

func (s *S3LogStore) buildKey(jobID string) string {
	timestamp := time.Now().Format("2006/01/02")
	return fmt.Sprintf("%s%s/%s.log", s.prefix, timestamp, jobID)
}

func (s *S3LogStore) extractKey(reference string) string {
	if len(reference) > 5 && reference[:5] == "s3://" {
		parts := reference[5:]
		for i, c := range parts {
			if c == '/' {
				return parts[i+1:]
			}
		}
	}
	return reference
}

// LocalLogStore stores logs on the local filesystem, for
// single-node/development deployments.
type LocalLogStore struct {
	basePath string
}

// NewLocalLogStore builds a filesystem-backed log store rooted at basePath.
func NewLocalLogStore(basePath string) (*LocalLogStore, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	return &LocalLogStore{basePath: basePath}, nil
}

// Store writes logs to basePath/jobID.log.
func (l *LocalLogStore) Store(ctx context.Context, jobID string, logs []byte) (string, error) {
	path := filepath.Join(l.basePath, jobID+".log")
	if err := os.WriteFile(path, logs, 0644); err != nil {
		return "", fmt.Errorf("failed to write logs: %w", err)
	}
	return path, nil
}

// Retrieve reads logs from the path Store returned.
func (l *LocalLogStore) Retrieve(ctx context.Context, reference string) ([]byte, error) {
	return os.ReadFile(reference)
}
