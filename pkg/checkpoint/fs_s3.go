package checkpoint

import (
	"context"
	"errors"
	"os"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	"k8s.io/utils/pointer"
)

type S3Options struct {
	URL       string `json:"url,omitempty"`
	Region    string `json:"region,omitempty"`
	Bucket    string `json:"bucket,omitempty"`
	Prefix    string `json:"prefix,omitempty"`
	AccessKey string `json:"accessKey,omitempty"`
	SecretKey string `json:"secretKey,omitempty"`
	PathStyle bool   `json:"pathStyle,omitempty"`
}

func NewDefaultS3Options() *S3Options {
	return &S3Options{
		URL:       os.Getenv("NANODET_S3_ENDPOINT"),
		Region:    os.Getenv("NANODET_S3_REGION"),
		AccessKey: os.Getenv("NANODET_S3_ACCESS_KEY"),
		SecretKey: os.Getenv("NANODET_S3_SECRET_KEY"),
		PathStyle: true,
	}
}

var _ Provider = &S3Provider{}

// S3Provider stores bundles in an S3-compatible bucket.
type S3Provider struct {
	Bucket string
	Prefix string
	Client *s3.Client
}

func NewS3Provider(ctx context.Context, options *S3Options) (*S3Provider, error) {
	loadopts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(options.Region),
	}
	if options.AccessKey != "" {
		loadopts = append(loadopts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(options.AccessKey, options.SecretKey, ""),
		))
	}
	if options.URL != "" {
		loadopts = append(loadopts, awsconfig.WithEndpointResolverWithOptions(
			aws.EndpointResolverWithOptionsFunc(
				func(service, region string, _ ...interface{}) (aws.Endpoint, error) {
					return aws.Endpoint{URL: options.URL}, nil
				},
			),
		))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadopts...)
	if err != nil {
		return nil, err
	}
	s3cli := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = options.PathStyle
	})
	return &S3Provider{
		Bucket: options.Bucket,
		Prefix: options.Prefix,
		Client: s3cli,
	}, nil
}

func (m *S3Provider) Put(ctx context.Context, path string, content BlobContent) error {
	uploadobj := &s3.PutObjectInput{
		Bucket:        aws.String(m.Bucket),
		Key:           m.prefixedKey(path),
		Body:          content.Content,
		ContentLength: content.ContentLength,
		ContentType:   aws.String(content.ContentType),
	}
	_, err := manager.NewUploader(m.Client).Upload(ctx, uploadobj)
	return err
}

func (m *S3Provider) Get(ctx context.Context, path string) (BlobContent, error) {
	getobjout, err := m.Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(m.Bucket),
		Key:    m.prefixedKey(path),
	})
	if err != nil {
		return BlobContent{}, err
	}
	return BlobContent{
		Content:       getobjout.Body,
		ContentType:   pointer.StringDeref(getobjout.ContentType, ""),
		ContentLength: getobjout.ContentLength,
	}, nil
}

func (m *S3Provider) Exists(ctx context.Context, path string) (bool, error) {
	_, err := m.Client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(m.Bucket),
		Key:    m.prefixedKey(path),
	})
	if err != nil {
		if IsS3NotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (m *S3Provider) Remove(ctx context.Context, path string) error {
	_, err := m.Client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(m.Bucket),
		Key:    m.prefixedKey(path),
	})
	return err
}

func (m *S3Provider) List(ctx context.Context, listpath string) ([]ObjectMeta, error) {
	prefix := *m.prefixedKey(listpath)
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	listinput := &s3.ListObjectsInput{
		Bucket: aws.String(m.Bucket),
		Prefix: aws.String(prefix),
	}
	var result []ObjectMeta
	for {
		listobjout, err := m.Client.ListObjects(ctx, listinput)
		if err != nil {
			return nil, err
		}
		for _, obj := range listobjout.Contents {
			result = append(result, ObjectMeta{
				Name:         strings.TrimPrefix(*obj.Key, prefix),
				Size:         obj.Size,
				LastModified: *obj.LastModified,
			})
		}
		if !listobjout.IsTruncated {
			return result, nil
		}
		listinput.Marker = listobjout.NextMarker
	}
}

func IsS3NotFound(err error) bool {
	var apie *smithyhttp.ResponseError
	if errors.As(err, &apie) {
		return apie.HTTPStatusCode() == 404
	}
	return false
}

func (m *S3Provider) prefixedKey(key string) *string {
	return aws.String(path.Join(m.Prefix, key))
}
