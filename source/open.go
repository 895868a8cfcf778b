package source

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Stdin is the location that selects standard input.
const Stdin = "-"

// ObjectGetter is the part of the S3 client that Open uses.
type ObjectGetter interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

type openOptions struct {
	s3     ObjectGetter
	region string
	stdin  io.Reader
}

// Option configures Open.
type Option func(*openOptions) error

// WithS3Client uses client for s3:// locations instead of one built from the
// default AWS configuration chain.
func WithS3Client(client ObjectGetter) Option {
	return func(o *openOptions) error {
		if client == nil {
			return errors.New("s3 client cannot be nil")
		}
		o.s3 = client
		return nil
	}
}

// WithAWSRegion sets the region used when building the default S3 client.
func WithAWSRegion(region string) Option {
	return func(o *openOptions) error {
		o.region = region
		return nil
	}
}

// WithStdin replaces os.Stdin as the input for the "-" location.
func WithStdin(r io.Reader) Option {
	return func(o *openOptions) error {
		o.stdin = r
		return nil
	}
}

// Open returns a Reader over location: "-" for standard input, an
// s3://bucket/key URL, or a local path. Inputs whose name ends in .gz are
// decompressed.
func Open(ctx context.Context, location string, opts ...Option) (*Reader, error) {
	o := &openOptions{stdin: os.Stdin}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, err
		}
	}

	var (
		rc  io.ReadCloser
		err error
	)
	switch {
	case location == Stdin:
		rc = io.NopCloser(o.stdin)
	case strings.HasPrefix(location, "s3://"):
		rc, err = openS3(ctx, location, o)
	default:
		rc, err = os.Open(location)
	}
	if err != nil {
		return nil, err
	}

	if strings.HasSuffix(location, ".gz") {
		gz, err := gzip.NewReader(rc)
		if err != nil {
			rc.Close()
			return nil, fmt.Errorf("opening gzip stream %s: %w", location, err)
		}
		rc = &stackedCloser{Reader: gz, closers: []io.Closer{gz, rc}}
	}
	return NewReader(location, rc), nil
}

func openS3(ctx context.Context, location string, o *openOptions) (io.ReadCloser, error) {
	bucket, key, err := parseS3URL(location)
	if err != nil {
		return nil, err
	}

	client := o.s3
	if client == nil {
		var loadOpts []func(*awsconfig.LoadOptions) error
		if o.region != "" {
			loadOpts = append(loadOpts, awsconfig.WithRegion(o.region))
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		client = s3.NewFromConfig(awsCfg)
	}

	resp, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("s3 get %s failed: %w", location, err)
	}
	return resp.Body, nil
}

// parseS3URL splits s3://bucket/key into its parts.
func parseS3URL(location string) (bucket, key string, err error) {
	u, err := url.Parse(location)
	if err != nil {
		return "", "", fmt.Errorf("invalid s3 location %q: %w", location, err)
	}
	bucket = u.Host
	key = strings.TrimPrefix(u.Path, "/")
	if bucket == "" || key == "" {
		return "", "", fmt.Errorf("invalid s3 location %q: want s3://bucket/key", location)
	}
	return bucket, key, nil
}

// stackedCloser closes a decompressor and the stream beneath it.
type stackedCloser struct {
	io.Reader
	closers []io.Closer
}

func (s *stackedCloser) Close() error {
	var errs []error
	for _, c := range s.closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}
