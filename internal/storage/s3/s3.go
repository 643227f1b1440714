// Package s3 presigns download links against S3 or MinIO.
package s3

import (
	"context"
	"fmt"
	"mime"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	"github.com/fruitsalade/projectfiles/internal/logging"
	"github.com/fruitsalade/projectfiles/internal/metrics"
	"github.com/fruitsalade/projectfiles/internal/storage"
	"github.com/fruitsalade/projectfiles/pkg/models"
)

// Config holds S3 connection settings.
type Config struct {
	Endpoint     string // empty: AWS default endpoint
	Bucket       string
	AccessKey    string
	SecretKey    string
	Region       string
	UsePathStyle bool
	TTL          time.Duration
}

// Presigner implements storage.Signer with presigned GET requests.
type Presigner struct {
	presign *s3.PresignClient
	bucket  string
	ttl     time.Duration
}

var _ storage.Signer = (*Presigner)(nil)

// New builds a presigner. Presigning is local; no request reaches S3 here.
func New(ctx context.Context, cfg Config) (*Presigner, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	if cfg.TTL <= 0 {
		return nil, fmt.Errorf("presign ttl must be positive, got %v", cfg.TTL)
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	logging.Info("download links presigned against s3",
		zap.String("endpoint", cfg.Endpoint),
		zap.String("bucket", cfg.Bucket),
		zap.Duration("ttl", cfg.TTL))

	return &Presigner{
		presign: s3.NewPresignClient(client),
		bucket:  cfg.Bucket,
		ttl:     cfg.TTL,
	}, nil
}

func (p *Presigner) Sign(ctx context.Context, c models.Collection, n models.Node) (string, time.Time, error) {
	start := time.Now()
	defer func() { metrics.RecordS3Operation("presign_get", time.Since(start)) }()

	req, err := p.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket:                     aws.String(p.bucket),
		Key:                        aws.String(storage.ObjectKey(c, n.ID)),
		ResponseContentDisposition: aws.String(mime.FormatMediaType("attachment", map[string]string{"filename": n.Name})),
	}, s3.WithPresignExpires(p.ttl))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("presign %s: %w", n.ID, err)
	}
	return req.URL, start.Add(p.ttl), nil
}
