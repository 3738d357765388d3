package snapshot

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Config describes the remote dataset repository snapshots are mirrored
// to. Endpoint and PathStyle exist for S3-compatible stores (MinIO) as
// well as real AWS S3.
type S3Config struct {
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	Endpoint        string
	Bucket          string
	Prefix          string
	PathStyle       bool
}

// S3ConfigFromEnv reads the optional snapshot-mirror bucket settings.
// Credentials follow the SDK's default chain (AWS_ACCESS_KEY_ID etc.)
// unless the TRACKHIVE_SNAPSHOT_* static pair is set.
func S3ConfigFromEnv() S3Config {
	return S3Config{
		AccessKeyID:     os.Getenv("TRACKHIVE_SNAPSHOT_ACCESS_KEY_ID"),
		SecretAccessKey: os.Getenv("TRACKHIVE_SNAPSHOT_SECRET_ACCESS_KEY"),
		Region:          os.Getenv("TRACKHIVE_SNAPSHOT_REGION"),
		Endpoint:        os.Getenv("TRACKHIVE_SNAPSHOT_ENDPOINT"),
		Bucket:          os.Getenv("TRACKHIVE_SNAPSHOT_BUCKET"),
		Prefix:          os.Getenv("TRACKHIVE_SNAPSHOT_PREFIX"),
		PathStyle:       os.Getenv("TRACKHIVE_SNAPSHOT_PATH_STYLE") == "true",
	}
}

// UploaderFromEnv returns an S3Uploader when a snapshot bucket is
// configured in the environment, or nil (local-only snapshots) when not.
func UploaderFromEnv() Uploader {
	cfg := S3ConfigFromEnv()
	if cfg.Bucket == "" {
		return nil
	}
	return NewS3Uploader(cfg)
}

// S3Uploader uploads snapshot files to an S3-compatible bucket. The
// client is built from config.LoadDefaultConfig with optional static
// credentials and an endpoint/path-style override for MinIO-style
// deployments.
type S3Uploader struct {
	cfg S3Config

	mu     sync.Mutex
	client *s3.Client
}

// NewS3Uploader builds an S3Uploader; the client is lazily constructed on
// first use so a zero-value cfg never attempts a network call at startup.
func NewS3Uploader(cfg S3Config) *S3Uploader {
	return &S3Uploader{cfg: cfg}
}

func (u *S3Uploader) ensureClient(ctx context.Context) (*s3.Client, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.client != nil {
		return u.client, nil
	}

	var opts []func(*config.LoadOptions) error
	if u.cfg.Region != "" {
		opts = append(opts, config.WithRegion(u.cfg.Region))
	}
	if u.cfg.AccessKeyID != "" && u.cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(u.cfg.AccessKeyID, u.cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if u.cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(u.cfg.Endpoint)
		})
	}
	if u.cfg.PathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	u.client = s3.NewFromConfig(awsCfg, s3Opts...)
	return u.client, nil
}

// Upload implements Uploader.
func (u *S3Uploader) Upload(ctx context.Context, localPath, remoteKey string) error {
	client, err := u.ensureClient(ctx)
	if err != nil {
		return err
	}

	f, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer f.Close()

	key := remoteKey
	if u.cfg.Prefix != "" {
		key = strings.TrimSuffix(u.cfg.Prefix, "/") + "/" + remoteKey
	}

	_, err = client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(u.cfg.Bucket),
		Key:    aws.String(key),
		Body:   f,
	})
	return err
}
