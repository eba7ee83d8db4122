package outbox

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type objectPutter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Config selects the bucket generated bills are archived to.
type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string // optional, e.g. MinIO
	AccessKeyID     string // optional; default credential chain otherwise
	SecretAccessKey string
}

// S3Sink archives an immutable JSON snapshot of every generated bill.
type S3Sink struct {
	client objectPutter
	bucket string
	types  map[string]bool
}

func NewS3Sink(ctx context.Context, cfg S3Config) (*S3Sink, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return newS3Sink(client, cfg.Bucket), nil
}

func newS3Sink(client objectPutter, bucket string) *S3Sink {
	return &S3Sink{
		client: client,
		bucket: bucket,
		types:  map[string]bool{BillGenerated: true},
	}
}

func (s *S3Sink) Name() string { return "s3:" + s.bucket }

// ObjectKey is where an event's snapshot is stored.
func ObjectKey(e *Event) string {
	return fmt.Sprintf("%s/%s/%s/%s.json",
		e.AggregateType, e.CreatedAt.Format("2006/01/02"), e.AggregateID, e.ID)
}

func (s *S3Sink) Publish(ctx context.Context, e *Event) error {
	if !s.types[e.EventType] {
		return nil
	}
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(ObjectKey(e)),
		Body:        bytes.NewReader(e.Payload),
		ContentType: aws.String("application/json"),
		Metadata: map[string]string{
			"event-type": e.EventType,
			"event-id":   e.ID.String(),
		},
	})
	if err != nil {
		return fmt.Errorf("put object: %w", err)
	}
	return nil
}
