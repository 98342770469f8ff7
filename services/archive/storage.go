package archive

import (
	"bytes"
	"context"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/opentracing/opentracing-go"

	"github.com/linkshield/cloaker/config"
	"github.com/linkshield/cloaker/internal/tracing"
)

// ObjectStore is the slice of object storage the archiver needs.
type ObjectStore interface {
	Upload(ctx context.Context, bucket, key string, data []byte, contentType string) error
	Delete(ctx context.Context, bucket, key string) error
}

type r2Client struct {
	uploader *s3manager.Uploader
	session  *session.Session
}

// NewR2Client builds an S3-compatible client against the Cloudflare R2
// endpoint for the configured account.
func NewR2Client(cfg *config.ArchiveConfig) (ObjectStore, error) {
	awsCfg := &aws.Config{
		Endpoint:         aws.String("https://" + cfg.AccountID + ".r2.cloudflarestorage.com"),
		Region:           aws.String("auto"), // R2 uses "auto" region
		Credentials:      credentials.NewStaticCredentials(cfg.AccessKeyID, cfg.AccessKeySecret, ""),
		S3ForcePathStyle: aws.Bool(true),
	}

	s, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, err
	}

	return &r2Client{
		uploader: s3manager.NewUploader(s),
		session:  s,
	}, nil
}

func (c *r2Client) Upload(ctx context.Context, bucket, key string, data []byte, contentType string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "r2Client.Upload")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)

	_, err := c.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	return err
}

func (c *r2Client) Delete(ctx context.Context, bucket, key string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "r2Client.Delete")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)

	svc := s3.New(c.session)
	_, err := svc.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	return err
}
