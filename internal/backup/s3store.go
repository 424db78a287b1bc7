package backup

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// S3Config holds the remote archive bucket settings.
type S3Config struct {
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	KeyPrefix string `yaml:"key_prefix"`
}

// S3ArchiveStore keeps password-protected archives in an S3 bucket as an
// optional off-device destination. The bucket only ever holds the sealed
// envelope: the backup password never leaves the device.
type S3ArchiveStore struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3ArchiveStore creates a store from the ambient AWS configuration.
func NewS3ArchiveStore(ctx context.Context, cfg S3Config) (*S3ArchiveStore, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return &S3ArchiveStore{
		client: s3.NewFromConfig(awsCfg),
		bucket: cfg.Bucket,
		prefix: cfg.KeyPrefix,
	}, nil
}

// Upload stores an archive and returns its generated ID.
func (s *S3ArchiveStore) Upload(ctx context.Context, archive *Archive) (string, error) {
	data, err := archive.Marshal()
	if err != nil {
		return "", err
	}

	id := fmt.Sprintf("%s-%d", uuid.New().String(), time.Now().Unix())
	key := s.objectKey(id)

	log.Debug().Str("bucket", s.bucket).Str("key", key).Int("size", len(data)).Msg("S3 PUT archive")
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return "", fmt.Errorf("S3 PutObject failed: %w", err)
	}
	return id, nil
}

// Download retrieves an archive by ID.
func (s *S3ArchiveStore) Download(ctx context.Context, id string) (*Archive, error) {
	key := s.objectKey(id)

	log.Debug().Str("bucket", s.bucket).Str("key", key).Msg("S3 GET archive")
	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
	})
	if err != nil {
		return nil, fmt.Errorf("S3 GetObject failed: %w", err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read S3 object: %w", err)
	}
	return Unmarshal(data)
}

// List returns the IDs of the stored archives.
func (s *S3ArchiveStore) List(ctx context.Context) ([]string, error) {
	prefix := s.objectKey("")
	result, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket: &s.bucket,
		Prefix: &prefix,
	})
	if err != nil {
		return nil, fmt.Errorf("S3 ListObjectsV2 failed: %w", err)
	}

	ids := make([]string, 0, len(result.Contents))
	for _, obj := range result.Contents {
		if obj.Key == nil {
			continue
		}
		ids = append(ids, (*obj.Key)[len(prefix):])
	}
	return ids, nil
}

// Delete removes an archive by ID.
func (s *S3ArchiveStore) Delete(ctx context.Context, id string) error {
	key := s.objectKey(id)

	log.Debug().Str("bucket", s.bucket).Str("key", key).Msg("S3 DELETE archive")
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
	})
	if err != nil {
		return fmt.Errorf("S3 DeleteObject failed: %w", err)
	}
	return nil
}

func (s *S3ArchiveStore) objectKey(id string) string {
	if s.prefix == "" {
		return "archives/" + id
	}
	return s.prefix + "/archives/" + id
}
