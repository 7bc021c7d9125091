package archive

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"modbus-formatter/internal/model"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	jsoniter "github.com/json-iterator/go"
)

// ObjectPutter is the part of *s3.Client the archiver uses
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Archiver writes each input/output pair as one JSON object.
type S3Archiver struct {
	client ObjectPutter
	bucket string
	prefix string
}

// NewS3Archiver loads the default AWS credential chain.
func NewS3Archiver(ctx context.Context, bucket, prefix string) (*S3Archiver, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load AWS config for archive: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = true
	})
	return NewS3ArchiverWithClient(client, bucket, prefix), nil
}

func NewS3ArchiverWithClient(client ObjectPutter, bucket, prefix string) *S3Archiver {
	return &S3Archiver{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
	}
}

// Archive uploads entry under a date-partitioned key derived from at.
func (a *S3Archiver) Archive(ctx context.Context, entry model.ArchiveEntry, at time.Time) error {
	body, err := jsoniter.ConfigCompatibleWithStandardLibrary.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal archive entry %d: %w", entry.Sequence, err)
	}

	key := ObjectKey(a.prefix, at, entry.Sequence, entry.CorrelationID)
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("put s3://%s/%s: %w", a.bucket, key, err)
	}
	return nil
}

// ObjectKey builds <prefix>/<yyyy>/<mm>/<dd>/<sequence>-<correlation>.json
func ObjectKey(prefix string, at time.Time, sequence uint64, correlationID string) string {
	at = at.UTC()
	name := fmt.Sprintf("%d-%s.json", sequence, correlationID)
	return path.Join(prefix, at.Format("2006"), at.Format("01"), at.Format("02"), name)
}
