package archive

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/dmitrijs2005/idkeeper/internal/server/models"
)

// ObjectPutter is the part of *s3.Client the store needs.
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Options configures the S3 (or MinIO) connection.
type S3Options struct {
	Region       string
	Endpoint     string
	AccessKey    string
	SecretKey    string
	Bucket       string
	UsePathStyle bool
}

var loadDefaultAWSConfig = config.LoadDefaultConfig

// NewS3Client builds an S3 client with static credentials and an optional
// custom endpoint.
func NewS3Client(ctx context.Context, o S3Options) (*s3.Client, error) {
	cfg, err := loadDefaultAWSConfig(ctx,
		config.WithRegion(o.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(o.AccessKey, o.SecretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("aws config: %w", err)
	}
	return s3.NewFromConfig(cfg, func(so *s3.Options) {
		if o.Endpoint != "" {
			so.BaseEndpoint = aws.String(o.Endpoint)
		}
		so.UsePathStyle = o.UsePathStyle
	}), nil
}

// S3Store writes each archive to archive/<table>/<id>. PutObject replaces
// an existing object, which gives overwrite semantics for repeats.
type S3Store struct {
	client ObjectPutter
	bucket string
}

func NewS3Store(client ObjectPutter, bucket string) *S3Store {
	return &S3Store{client: client, bucket: bucket}
}

// ObjectKey returns the object key for an archived record.
func ObjectKey(table, id string) string {
	return fmt.Sprintf("archive/%s/%s", table, id)
}

func (s *S3Store) Put(ctx context.Context, rec *models.ArchivedRecord) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(ObjectKey(rec.OriginalTable, rec.OriginalID)),
		Body:        bytes.NewReader(rec.Sealed),
		ContentType: aws.String("application/octet-stream"),
		Metadata: map[string]string{
			"user-id":     rec.UserID,
			"archived-at": rec.ArchivedAt.UTC().Format(time.RFC3339),
		},
	})
	if err != nil {
		return fmt.Errorf("s3 put %s/%s: %w", rec.OriginalTable, rec.OriginalID, err)
	}
	return nil
}
