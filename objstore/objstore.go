package objstore

import (
	"context"
	"errors"
	"fmt"
	"io"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	"github.com/isdmx/pyexec/config"
)

// ErrNotConfigured is returned by operations that need the object
// store when no bucket is configured.
var ErrNotConfigured = errors.New("object store not configured")

// Syncer moves session files between the object store and the local
// session directory.
type Syncer interface {
	// Enabled reports whether a bucket is configured.
	Enabled() bool
	// PullAll downloads every object under the session prefix into
	// destDir, flattening remote sub-paths to their final segment.
	PullAll(ctx context.Context, sessionID, destDir string) error
	// Push uploads one file under the session prefix.
	Push(ctx context.Context, sessionID, filename string, r io.Reader) error
	// PresignGet returns a time-limited download URL for one object.
	PresignGet(ctx context.Context, sessionID, filename string) (string, error)
}

// New builds the Syncer selected by the configuration: S3 when a
// bucket is set, otherwise a disabled no-op implementation.
func New(cfg *config.Config, logger *zap.Logger) (Syncer, error) {
	if !cfg.S3Enabled() {
		logger.Info("object store not configured, session directories are the sole source of truth")
		return Disabled{}, nil
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.S3.Region),
	}
	if cfg.S3.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.S3.AccessKeyID, cfg.S3.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg)
	logger.Info("using s3 object store",
		zap.String("bucket", cfg.S3.Bucket),
		zap.String("region", cfg.S3.Region))

	return &S3Syncer{
		api:      client,
		uploader: manager.NewUploader(client),
		presign:  s3.NewPresignClient(client),
		bucket:   cfg.S3.Bucket,
		expiry:   cfg.PresignExpiry(),
		logger:   logger,
	}, nil
}

// objectKey builds the bucket key for a session file.
func objectKey(sessionID, filename string) string {
	return sessionID + "/" + filename
}

// Disabled is the Syncer used when no bucket is configured.
type Disabled struct{}

var _ Syncer = Disabled{}

func (Disabled) Enabled() bool { return false }

func (Disabled) PullAll(context.Context, string, string) error { return nil }

func (Disabled) Push(context.Context, string, string, io.Reader) error {
	return ErrNotConfigured
}

func (Disabled) PresignGet(context.Context, string, string) (string, error) {
	return "", ErrNotConfigured
}
