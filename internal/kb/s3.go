package kb

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Config holds the bucket location of a remote knowledge base. Threat
// intel pipelines commonly publish rule and pattern feeds to an S3 or
// MinIO bucket; this loader pulls the same YAML document format from
// there.
type S3Config struct {
	Region          string        `yaml:"region"`
	Bucket          string        `yaml:"bucket"`
	Key             string        `yaml:"key"`
	Endpoint        string        `yaml:"endpoint,omitempty"`
	AccessKeyID     string        `yaml:"access_key_id,omitempty"`
	SecretAccessKey string        `yaml:"secret_access_key,omitempty"`
	UsePathStyle    bool          `yaml:"use_path_style"`
	Timeout         time.Duration `yaml:"timeout"`
}

// DefaultS3Config returns the default remote knowledge-base configuration.
func DefaultS3Config() S3Config {
	return S3Config{
		Region:  "us-east-1",
		Key:     "threatlens/knowledge-base.yaml",
		Timeout: 30 * time.Second,
	}
}

// S3Loader fetches knowledge-base documents from object storage.
type S3Loader struct {
	client *s3.Client
	cfg    S3Config
	loader *Loader
}

// NewS3Loader builds the S3 client. Static credentials are used when
// provided; otherwise the default AWS credential chain applies.
func NewS3Loader(ctx context.Context, cfg S3Config) (*S3Loader, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 knowledge base requires a bucket")
	}

	var loadOpts []func(*awsconfig.LoadOptions) error
	loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	return &S3Loader{client: client, cfg: cfg, loader: NewLoader()}, nil
}

// Load fetches and parses the configured knowledge-base object.
func (l *S3Loader) Load(ctx context.Context) (*Document, error) {
	if l.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.cfg.Timeout)
		defer cancel()
	}

	out, err := l.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(l.cfg.Bucket),
		Key:    aws.String(l.cfg.Key),
	})
	if err != nil {
		return nil, fmt.Errorf("fetch knowledge base s3://%s/%s: %w", l.cfg.Bucket, l.cfg.Key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read knowledge base body: %w", err)
	}
	return l.loader.Parse(data)
}
