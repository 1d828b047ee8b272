package archiver

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/gast-project/gast-orchestrator/internal/config"
	"github.com/gast-project/gast-orchestrator/pkg/apierror"
)

// ColdStorage moves one result file out of the primary results
// directory and into long-term storage (spec §4.6 "removed from the
// primary results directory if copied to cold storage"). Put is keyed
// by jobID/fileName rather than a full path so both backends can shard
// or prefix the key however they like.
type ColdStorage interface {
	Put(ctx context.Context, jobID, fileName string, r io.Reader) error
	Delete(ctx context.Context, jobID, fileName string) error
}

// NewColdStorage selects a backend from config.Keys.ColdStorage.Kind,
// mirroring the teacher's pkg/archive FsArchive/S3Archive split (the
// teacher's S3Archive was only ever a stub; this wires it fully with
// PutObject/DeleteObject).
func NewColdStorage(cfg config.ColdStorageConfig) (ColdStorage, error) {
	switch cfg.Kind {
	case "s3":
		return newS3ColdStorage(cfg)
	case "file", "":
		return NewFileColdStorage(cfg.Path), nil
	default:
		return nil, apierror.Internal(fmt.Sprintf("unknown cold_storage kind %q", cfg.Kind), nil)
	}
}

// FileColdStorage copies result files into a second directory tree,
// sharded by the first two characters of the job id -- the same
// fan-out-by-prefix idea as the teacher's pkg/archive getDirectory,
// adapted from numeric job-id/1000 buckets to a string-id prefix since
// job ids here are UUIDs, not sequential integers.
type FileColdStorage struct {
	root string
}

func NewFileColdStorage(root string) *FileColdStorage {
	return &FileColdStorage{root: root}
}

func (f *FileColdStorage) shard(jobID string) string {
	prefix := jobID
	if len(prefix) > 2 {
		prefix = prefix[:2]
	}
	return filepath.Join(f.root, prefix, jobID)
}

func (f *FileColdStorage) Put(ctx context.Context, jobID, fileName string, r io.Reader) error {
	dir := f.shard(jobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return apierror.Storage("creating cold storage directory", err)
	}
	out, err := os.Create(filepath.Join(dir, fileName))
	if err != nil {
		return apierror.Storage("creating cold storage file", err)
	}
	defer out.Close()
	if _, err := io.Copy(out, r); err != nil {
		return apierror.Storage("writing cold storage file", err)
	}
	return nil
}

func (f *FileColdStorage) Delete(ctx context.Context, jobID, fileName string) error {
	err := os.Remove(filepath.Join(f.shard(jobID), fileName))
	if err != nil && !os.IsNotExist(err) {
		return apierror.Storage("deleting cold storage file", err)
	}
	return nil
}

// S3ColdStorage stores result files under <prefix>/<jobID>/<fileName>
// in a single S3 bucket, using aws-sdk-go-v2 the way the teacher's
// go.mod declares it (previously unused beyond the stub in
// pkg/archive/s3Backend.go).
type S3ColdStorage struct {
	client *s3.Client
	bucket string
	prefix string
}

func newS3ColdStorage(cfg config.ColdStorageConfig) (*S3ColdStorage, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion(cfg.S3Region),
	)
	if err != nil {
		return nil, apierror.Internal("loading aws config for cold storage", err)
	}
	if cfg.S3AccessKeyID != "" {
		awsCfg.Credentials = credentials.NewStaticCredentialsProvider(cfg.S3AccessKeyID, cfg.S3SecretAccessKey, "")
	}
	return &S3ColdStorage{
		client: s3.NewFromConfig(awsCfg),
		bucket: cfg.S3Bucket,
		prefix: cfg.S3Prefix,
	}, nil
}

func (s *S3ColdStorage) key(jobID, fileName string) string {
	if s.prefix == "" {
		return filepath.Join(jobID, fileName)
	}
	return filepath.Join(s.prefix, jobID, fileName)
}

func (s *S3ColdStorage) Put(ctx context.Context, jobID, fileName string, r io.Reader) error {
	key := s.key(jobID, fileName)
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   r,
	})
	if err != nil {
		return apierror.Storage("uploading result file to s3 cold storage", err)
	}
	return nil
}

func (s *S3ColdStorage) Delete(ctx context.Context, jobID, fileName string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(jobID, fileName)),
	})
	if err != nil {
		return apierror.Storage("deleting result file from s3 cold storage", err)
	}
	return nil
}
