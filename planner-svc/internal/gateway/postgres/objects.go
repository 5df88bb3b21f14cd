package postgres

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"whattoeat/planner-svc/internal/gateway"
)

type putter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Objects keeps uploads in one S3 bucket, using the gateway bucket name as
// a key prefix.
type S3Objects struct {
	client    putter
	bucket    string
	publicURL string
}

var _ gateway.Objects = (*S3Objects)(nil)

func NewS3Objects(client putter, bucket, publicURL string) *S3Objects {
	if publicURL == "" {
		publicURL = fmt.Sprintf("https://%s.s3.amazonaws.com", bucket)
	}
	return &S3Objects{client: client, bucket: bucket, publicURL: strings.TrimRight(publicURL, "/")}
}

// LoadS3Objects builds the store from the default AWS credential chain.
func LoadS3Objects(ctx context.Context, region, bucket, publicURL string) (*S3Objects, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewS3Objects(s3.NewFromConfig(cfg), bucket, publicURL), nil
}

func (o *S3Objects) key(prefix, path string) string {
	return strings.Trim(prefix, "/") + "/" + strings.TrimLeft(path, "/")
}

func (o *S3Objects) Upload(ctx context.Context, prefix, path string, data []byte, contentType string) (string, error) {
	if o.bucket == "" {
		return "", gateway.ErrNotConfigured
	}
	_, err := o.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(o.bucket),
		Key:         aws.String(o.key(prefix, path)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
		ACL:         s3types.ObjectCannedACLPublicRead,
	})
	if err != nil {
		var noBucket *s3types.NoSuchBucket
		if errors.As(err, &noBucket) || strings.Contains(err.Error(), "NoSuchBucket") {
			return "", &gateway.Error{Op: "upload", Table: o.bucket, Message: err.Error(), Err: gateway.ErrBucketMissing}
		}
		return "", &gateway.Error{Op: "upload", Table: o.bucket, Err: errors.Join(gateway.ErrUnavailable, err)}
	}
	return o.PublicURL(prefix, path), nil
}

func (o *S3Objects) PublicURL(prefix, path string) string {
	return o.publicURL + "/" + o.key(prefix, path)
}
