package storage

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"portfolio_scraper/config"
	"portfolio_scraper/httputil"
	"portfolio_scraper/models"
)

// S3Sink uploads each run snapshot to S3-compatible storage, once under the
// run id and once as the site's latest.json.
type S3Sink struct {
	client *s3.Client
	bucket string
	prefix string
}

func NewS3Sink(ctx context.Context, cfg config.S3Config) (*S3Sink, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithHTTPClient(httputil.NewAPIClient(cfg.Timeout)),
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	var client *s3.Client
	if cfg.Endpoint != "" {
		client = s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	} else {
		client = s3.NewFromConfig(awsCfg)
	}

	return &S3Sink{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}, nil
}

func (s *S3Sink) Name() string {
	return "s3"
}

func (s *S3Sink) Write(ctx context.Context, site *config.SiteConfig, result *models.RunResult) error {
	data, err := EncodeRecords(result.Records)
	if err != nil {
		return err
	}

	for _, key := range []string{s.Key(site.ID, result.RunID), s.Key(site.ID, "latest")} {
		if err := s.upload(ctx, key, data); err != nil {
			return err
		}
	}
	return nil
}

// Key is the object key for one snapshot of a site.
func (s *S3Sink) Key(siteID, name string) string {
	return path.Join(s.prefix, siteID, name+".json")
}

func (s *S3Sink) upload(ctx context.Context, key string, data []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("put object %s: %w", key, err)
	}
	return nil
}
