package objectstore

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"

	"github.com/halapix/imgpipe/internal/fault"
)

// S3Store implements Store against Amazon S3.
type S3Store struct {
	client *s3.Client
}

var _ Store = (*S3Store)(nil)

// NewS3 wraps an S3 client in a Store.
func NewS3(client *s3.Client) *S3Store {
	return &S3Store{client: client}
}

// Fetch streams the object at bucket/key into localPath without holding
// the whole body in memory.
func (s *S3Store) Fetch(ctx context.Context, bucket, key, localPath string) error {
	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &bucket,
		Key:    &key,
	})
	if err != nil {
		return fault.New(fault.KindFetch, "get object s3://%s/%s: %w", bucket, key, err)
	}
	defer resp.Body.Close()

	out, err := os.Create(localPath)
	if err != nil {
		return fault.New(fault.KindResource, "create %s: %w", localPath, err)
	}

	var written int64
	buf := make([]byte, 32*1024)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, writeErr := out.Write(buf[:n]); writeErr != nil {
				out.Close()
				return fault.New(fault.KindResource, "write %s: %w", localPath, writeErr)
			}
			written += int64(n)
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			out.Close()
			return fault.New(fault.KindFetch, "read object body s3://%s/%s: %w", bucket, key, readErr)
		}
	}
	if err := out.Close(); err != nil {
		return fault.New(fault.KindResource, "close %s: %w", localPath, err)
	}

	log.Debug().
		Str("bucket", bucket).
		Str("key", key).
		Int64("bytes", written).
		Msg("Object downloaded")
	return nil
}

// Put uploads the staged file in req to its destination bucket and key.
func (s *S3Store) Put(ctx context.Context, req PutRequest) error {
	f, err := os.Open(req.LocalPath)
	if err != nil {
		return fault.New(fault.KindResource, "open %s: %w", req.LocalPath, err)
	}
	defer f.Close()

	input := &s3.PutObjectInput{
		Bucket: &req.Bucket,
		Key:    &req.Key,
		Body:   f,
	}
	if req.ContentType != "" {
		input.ContentType = &req.ContentType
	}
	if len(req.Metadata) > 0 {
		input.Metadata = req.Metadata
	}

	if _, err := s.client.PutObject(ctx, input); err != nil {
		return fault.New(fault.KindUpload, "put object s3://%s/%s: %w", req.Bucket, req.Key, err)
	}

	log.Debug().
		Str("bucket", req.Bucket).
		Str("key", req.Key).
		Str("contentType", req.ContentType).
		Msg("Object uploaded")
	return nil
}

// PresignPut builds a presigned PUT URL for a direct client upload. The
// URL pins the content type and exact length, so a client sending
// anything else is rejected by S3 itself.
func PresignPut(ctx context.Context, presigner *s3.PresignClient, bucket, key, contentType string, contentLength int64, expiry time.Duration) (string, error) {
	req, err := presigner.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:        &bucket,
		Key:           &key,
		ContentType:   &contentType,
		ContentLength: aws.Int64(contentLength),
	}, s3.WithPresignExpires(expiry))
	if err != nil {
		return "", fmt.Errorf("presign put s3://%s/%s: %w", bucket, key, err)
	}
	return req.URL, nil
}
