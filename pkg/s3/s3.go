package s3

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"

	"messmate/pkg/media"
)

// presignTTL is the longest validity SigV4 allows.
const presignTTL = 7 * 24 * time.Hour

// Options configures a Client.
type Options struct {
	Endpoint       string
	Bucket         string
	AccessKey      string
	SecretKey      string
	Region         string
	DisableTLS     bool
	ForcePathStyle bool
	// PublicBaseURL, when set, is joined with the object key to form image
	// URLs. Otherwise URLs are presigned.
	PublicBaseURL string
}

// API is the part of the S3 SDK used by Client.
type API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// Client stores images in an S3-compatible bucket.
type Client struct {
	api     API
	presign *s3.PresignClient
	bucket  string
	public  string
	newKey  func(folder, filename string) string
}

var _ media.Store = (*Client)(nil)

// NewClient builds a Client for an S3-compatible endpoint such as SeaweedFS
// or MinIO.
func NewClient(ctx context.Context, opts Options) (*Client, error) {
	endpoint := strings.TrimSpace(opts.Endpoint)
	if endpoint == "" {
		return nil, errors.New("S3_ENDPOINT is required")
	}
	if opts.AccessKey == "" || opts.SecretKey == "" {
		return nil, errors.New("S3_ACCESS_KEY and S3_SECRET_KEY are required")
	}
	if opts.Bucket == "" {
		return nil, errors.New("S3_BUCKET is required")
	}
	region := opts.Region
	if region == "" {
		region = "us-east-1"
	}

	scheme := "https"
	if opts.DisableTLS {
		scheme = "http"
	}
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		endpoint = fmt.Sprintf("%s://%s", scheme, endpoint)
	}

	cfg, err := awsconfig.LoadDefaultConfig(
		ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, "")),
		awsconfig.WithHTTPClient(&http.Client{Timeout: 30 * time.Second}),
	)
	if err != nil {
		return nil, err
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = opts.ForcePathStyle
		o.BaseEndpoint = aws.String(endpoint)
	})

	return &Client{
		api:     client,
		presign: s3.NewPresignClient(client),
		bucket:  opts.Bucket,
		public:  strings.TrimRight(opts.PublicBaseURL, "/"),
		newKey:  objectKey,
	}, nil
}

// Upload stores data under folder and returns its URL and key.
func (c *Client) Upload(ctx context.Context, folder, filename, contentType string, data []byte) (media.Object, error) {
	if c == nil {
		return media.Object{}, errors.New("nil client")
	}
	if len(data) == 0 {
		return media.Object{}, errors.New("empty upload")
	}

	key := c.newKey(folder, filename)
	sum := sha256.Sum256(data)
	checksum := base64.StdEncoding.EncodeToString(sum[:])
	size := int64(len(data))

	input := &s3.PutObjectInput{
		Bucket:            &c.bucket,
		Key:               &key,
		Body:              bytes.NewReader(data),
		ContentLength:     &size,
		ChecksumAlgorithm: s3types.ChecksumAlgorithmSha256,
		ChecksumSHA256:    &checksum,
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	if _, err := c.api.PutObject(ctx, input); err != nil {
		return media.Object{}, fmt.Errorf("put object: %w", err)
	}

	url, err := c.url(ctx, key)
	if err != nil {
		return media.Object{}, err
	}
	return media.Object{URL: url, StorageID: key}, nil
}

// Destroy deletes the object stored under storageID.
func (c *Client) Destroy(ctx context.Context, storageID string) error {
	if c == nil {
		return errors.New("nil client")
	}
	if storageID == "" {
		return nil
	}
	_, err := c.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: &c.bucket,
		Key:    &storageID,
	})
	return err
}

func (c *Client) url(ctx context.Context, key string) (string, error) {
	if c.public != "" {
		return c.public + "/" + key, nil
	}
	if c.presign == nil {
		return "", errors.New("no public base url and no presigner")
	}
	req, err := c.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: &c.bucket,
		Key:    &key,
	}, func(opts *s3.PresignOptions) {
		opts.Expires = presignTTL
	})
	if err != nil {
		return "", err
	}
	return req.URL, nil
}

func objectKey(folder, filename string) string {
	ext := strings.ToLower(path.Ext(filename))
	return path.Join(folder, uuid.NewString()+ext)
}
