package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	smithyhttp "github.com/aws/smithy-go/transport/http"
)

// s3API is the subset of *s3.Client this adapter calls, narrowed so tests
// can substitute a fake without standing up a real client.
type s3API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

type s3Adapter struct {
	client  s3API
	presign func(ctx context.Context, bucket, key, disposition string, expiresIn time.Duration) (string, error)
}

// NewS3Adapter builds an Adapter backed by an AWS SDK v2 S3 client.
func NewS3Adapter(client *s3.Client) Adapter {
	presignClient := s3.NewPresignClient(client)
	return &s3Adapter{
		client: client,
		presign: func(ctx context.Context, bucket, key, disposition string, expiresIn time.Duration) (string, error) {
			in := &s3.GetObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)}
			if disposition != "" {
				in.ResponseContentDisposition = aws.String(disposition)
			}
			req, err := presignClient.PresignGetObject(ctx, in, s3.WithPresignExpires(expiresIn))
			if err != nil {
				return "", err
			}
			return req.URL, nil
		},
	}
}

func (a *s3Adapter) PresignedDownload(ctx context.Context, bucket, key string, expiresIn time.Duration, filename string) (string, error) {
	disposition := ""
	if filename != "" {
		disposition = contentDisposition(filename)
	}
	u, err := a.presign(ctx, bucket, key, disposition, expiresIn)
	if err != nil {
		return "", classify("presigned_download", err)
	}
	return u, nil
}

func (a *s3Adapter) GetObject(ctx context.Context, bucket, key string) ([]byte, error) {
	out, err := a.client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
	if err != nil {
		return nil, classify("get_object", err)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, classify("get_object", err)
	}
	return data, nil
}

func (a *s3Adapter) DeleteObject(ctx context.Context, bucket, key string) error {
	_, err := a.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
	if err != nil {
		return classify("delete_object", err)
	}
	return nil
}

// classify folds an AWS SDK error into the single Error kind the engine
// understands, using the response metadata's HTTP status when available.
func classify(op string, err error) error {
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) {
		status := respErr.HTTPStatusCode()
		kind := KindPermanent
		switch {
		case status == 404:
			kind = KindNotFound
		case status == 0 || status >= 500:
			kind = KindTransient
		}
		return &Error{Kind: kind, Status: status, Op: op, Err: err}
	}
	return &Error{Kind: KindTransient, Op: op, Err: fmt.Errorf("transport failure: %w", err)}
}

// contentDisposition encodes filename as an attachment disposition per
// RFC 6266: an ASCII fallback plus a percent-encoded UTF-8 filename*.
func contentDisposition(filename string) string {
	return fmt.Sprintf(`attachment; filename="%s"; filename*=UTF-8''%s`, asciiFallback(filename), url.PathEscape(filename))
}

func asciiFallback(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if r > 126 || r < 32 || r == '"' {
			out = append(out, '_')
			continue
		}
		out = append(out, r)
	}
	return string(out)
}
