package cloud

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"walvault/internal/config"
	errs "walvault/internal/errors"
	"walvault/internal/logger"
)

// s3Backend talks to AWS S3 or any compatible object store (MinIO,
// Ceph RGW). Uploads go through the transfer manager, so large
// snapshots become multipart uploads without extra plumbing here.
type s3Backend struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
	prefix   string
	limit    int64
	log      logger.Logger
}

const s3PartSize = 10 * 1024 * 1024

func newS3Backend(ctx context.Context, cfg *config.Config, log logger.Logger, limit int64) (*s3Backend, error) {
	if cfg.CloudBucket == "" {
		return nil, errs.NewConfigError(errs.ErrCodeInvalidConfig,
			"cloud sync is enabled but no bucket is set",
			"Set CLOUD_BUCKET or cloud.bucket in walvault.yaml")
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.CloudRegion),
	}
	if cfg.CloudAccessKey != "" && cfg.CloudSecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.CloudAccessKey, cfg.CloudSecretKey, "")))
	}
	// Without explicit keys the default chain applies: environment,
	// shared profile, instance role.
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.CloudEndpoint != "" {
			o.BaseEndpoint = aws.String(cfg.CloudEndpoint)
			// MinIO-style endpoints want the bucket in the path
			o.UsePathStyle = true
		}
	})

	concurrency := 4
	if limit > 0 {
		// Parallel parts would overshoot the rate cap
		concurrency = 1
	}
	uploader := manager.NewUploader(client, func(u *manager.Uploader) {
		u.PartSize = s3PartSize
		u.Concurrency = concurrency
	})

	return &s3Backend{
		client:   client,
		uploader: uploader,
		bucket:   cfg.CloudBucket,
		prefix:   strings.Trim(cfg.CloudPrefix, "/"),
		limit:    limit,
		log:      log,
	}, nil
}

func (b *s3Backend) Name() string {
	return "s3"
}

func (b *s3Backend) key(remotePath string) string {
	if b.prefix == "" {
		return remotePath
	}
	return path.Join(b.prefix, remotePath)
}

func (b *s3Backend) Put(ctx context.Context, localPath, remotePath string, progress ProgressFunc) error {
	key := b.key(remotePath)
	return withRetry(ctx, b.log, "s3 upload "+key, defaultPolicy(), func() error {
		// Reopen per attempt so a retry starts from byte zero
		f, err := os.Open(localPath)
		if err != nil {
			return err
		}
		defer f.Close()

		st, err := f.Stat()
		if err != nil {
			return err
		}

		var body io.Reader = f
		if progress != nil {
			body = &progressReader{r: body, total: st.Size(), fn: progress}
		}
		if b.limit > 0 {
			body = NewThrottledReader(ctx, body, b.limit)
		}

		_, err = b.uploader.Upload(ctx, &s3.PutObjectInput{
			Bucket: aws.String(b.bucket),
			Key:    aws.String(key),
			Body:   body,
		})
		if err != nil {
			return fmt.Errorf("uploading s3://%s/%s: %w", b.bucket, key, err)
		}
		return nil
	})
}

func (b *s3Backend) Stat(ctx context.Context, remotePath string) (int64, bool, error) {
	key := b.key(remotePath)
	out, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("heading s3://%s/%s: %w", b.bucket, key, err)
	}
	return aws.ToInt64(out.ContentLength), true, nil
}

// Close is a no-op; the S3 client keeps no connection state worth
// tearing down.
func (b *s3Backend) Close() error {
	return nil
}
