package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/greeddj/dagger-cache/internal/dagger/cache"
	"github.com/greeddj/dagger-cache/internal/dagger/config"
)

// Client implements the S3 operations the backend needs on top of the AWS SDK.
type Client struct {
	cfg config.S3CacheConfig
	api *s3.Client
}

// newClient constructs an S3 client from configuration.
func newClient(ctx context.Context, cfg config.S3CacheConfig, httpClient *http.Client) (*Client, error) {
	if cfg.Bucket == "" {
		return nil, errS3BucketIsEmpty
	}
	if httpClient == nil {
		return nil, errS3HTTPClientIsNil
	}
	if cfg.Region == "" {
		cfg.Region = defaultRegion
	}
	endpoint, err := normalizeEndpoint(cfg.Endpoint)
	if err != nil {
		return nil, err
	}
	cfg.Endpoint = endpoint

	loaders := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithHTTPClient(buildableClient(httpClient)),
	}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		loaders = append(loaders, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, cfg.SessionToken),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loaders...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	api := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
		o.ResponseChecksumValidation = aws.ResponseChecksumValidationWhenRequired
	})
	return &Client{cfg: cfg, api: api}, nil
}

// buildableClient carries the tuning of base into an SDK client. The SDK only
// applies AWS_CA_BUNDLE to a *awshttp.BuildableClient.
func buildableClient(base *http.Client) *awshttp.BuildableClient {
	client := awshttp.NewBuildableClient().WithTimeout(base.Timeout)
	tr, ok := base.Transport.(*http.Transport)
	if !ok {
		return client
	}
	return client.WithTransportOptions(func(dst *http.Transport) {
		dst.Proxy = tr.Proxy
		if tr.DialContext != nil {
			dst.DialContext = tr.DialContext
		}
		dst.ForceAttemptHTTP2 = tr.ForceAttemptHTTP2
		dst.MaxIdleConns = tr.MaxIdleConns
		dst.MaxIdleConnsPerHost = tr.MaxIdleConnsPerHost
		dst.IdleConnTimeout = tr.IdleConnTimeout
		dst.TLSHandshakeTimeout = tr.TLSHandshakeTimeout
		dst.ExpectContinueTimeout = tr.ExpectContinueTimeout
		dst.ResponseHeaderTimeout = tr.ResponseHeaderTimeout
		dst.DisableCompression = tr.DisableCompression
		if tr.TLSClientConfig != nil {
			// the CA bundle is appended to RootCAs in place
			dst.TLSClientConfig = tr.TLSClientConfig.Clone()
			if tr.TLSClientConfig.RootCAs != nil {
				dst.TLSClientConfig.RootCAs = tr.TLSClientConfig.RootCAs.Clone()
			}
		}
	})
}

// normalizeEndpoint adds a scheme to a bare host; empty keeps the AWS default.
func normalizeEndpoint(endpoint string) (string, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return "", nil
	}
	if !strings.Contains(endpoint, "://") {
		endpoint = "https://" + endpoint
	}
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return "", err
	}
	if parsed.Host == "" {
		return "", fmt.Errorf("%w: %s", errS3InvalidEndpoint, endpoint)
	}
	return strings.TrimRight(endpoint, "/"), nil
}

// getObject downloads the object key.
func (c *Client) getObject(ctx context.Context, key string) (*s3.GetObjectOutput, error) {
	out, err := c.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, classify(err)
	}
	return out, nil
}

// headObject returns the user metadata of the object key.
func (c *Client) headObject(ctx context.Context, key string) (map[string]string, error) {
	out, err := c.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, classify(err)
	}
	return out.Metadata, nil
}

// putObject uploads body under key; ifNoneMatch makes the write fail when key exists.
func (c *Client) putObject(ctx context.Context, key string, body io.Reader, size int64, meta map[string]string, ifNoneMatch bool) error {
	in := &s3.PutObjectInput{
		Bucket:        aws.String(c.cfg.Bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentLength: aws.Int64(size),
		ContentType:   aws.String(contentType),
		Metadata:      meta,
	}
	if ifNoneMatch {
		in.IfNoneMatch = aws.String("*")
	}
	if _, err := c.api.PutObject(ctx, in); err != nil {
		return classify(err)
	}
	return nil
}

// deleteObject deletes an object by key.
func (c *Client) deleteObject(ctx context.Context, key string) error {
	_, err := c.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(c.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil && !errors.Is(classify(err), errS3NotFound) {
		return err
	}
	return nil
}

// listObjects returns the objects under the given prefix.
func (c *Client) listObjects(ctx context.Context, prefix string) ([]types.Object, error) {
	var objects []types.Object
	p := s3.NewListObjectsV2Paginator(c.api, &s3.ListObjectsV2Input{
		Bucket: aws.String(c.cfg.Bucket),
		Prefix: aws.String(prefix),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, classify(err)
		}
		objects = append(objects, page.Contents...)
	}
	return objects, nil
}

// ensureBucket verifies the bucket exists and creates it when missing.
func (c *Client) ensureBucket(ctx context.Context) error {
	_, err := c.api.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(c.cfg.Bucket)})
	if err == nil {
		return nil
	}
	if !errors.Is(classify(err), errS3NotFound) {
		return err
	}
	in := &s3.CreateBucketInput{Bucket: aws.String(c.cfg.Bucket)}
	if c.cfg.Region != defaultRegion {
		in.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(c.cfg.Region),
		}
	}
	if _, err := c.api.CreateBucket(ctx, in); err != nil {
		var owned *types.BucketAlreadyOwnedByYou
		if errors.As(err, &owned) {
			return nil
		}
		return fmt.Errorf("%w: %w", errS3CreateBucketFailed, err)
	}
	return nil
}

// classify maps HTTP status codes the backend reacts to onto sentinels.
func classify(err error) error {
	var re *awshttp.ResponseError
	if !errors.As(err, &re) {
		return err
	}
	switch re.HTTPStatusCode() {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %w", errS3NotFound, err)
	case http.StatusPreconditionFailed, http.StatusConflict:
		return fmt.Errorf("%w: %w", errS3PreconditionFailed, err)
	default:
		return err
	}
}

var _ cache.Backend = (*Backend)(nil)
