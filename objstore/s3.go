package objstore

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"
)

// listGetAPI is the slice of the S3 client used for sync reads.
type listGetAPI interface {
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// uploadAPI is the slice of the upload manager used for Push.
type uploadAPI interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// presignAPI is the slice of the presign client used for PresignGet.
type presignAPI interface {
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// S3Syncer implements Syncer against an S3 bucket.
type S3Syncer struct {
	api      listGetAPI
	uploader uploadAPI
	presign  presignAPI
	bucket   string
	expiry   time.Duration
	logger   *zap.Logger
}

var _ Syncer = (*S3Syncer)(nil)

func (s *S3Syncer) Enabled() bool { return true }

// PullAll lists every object under "<sessionID>/" and downloads each
// into destDir. The local filename is the final path segment of the
// key, so a remote "<session>/sub/dir/file.txt" lands at
// "destDir/file.txt". Individual download failures are logged and
// skipped; a listing failure aborts the whole sync.
func (s *S3Syncer) PullAll(ctx context.Context, sessionID, destDir string) error {
	prefix := sessionID + "/"
	paginator := s3.NewListObjectsV2Paginator(s.api, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("failed to list objects for session %s: %w", sessionID, err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if strings.HasSuffix(key, "/") {
				continue
			}
			name := path.Base(key)
			if name == "." || name == "/" {
				continue
			}
			if err := s.downloadOne(ctx, key, filepath.Join(destDir, name)); err != nil {
				s.logger.Error("failed to download object, skipping",
					zap.String("key", key), zap.Error(err))
			}
		}
	}
	return nil
}

func (s *S3Syncer) downloadOne(ctx context.Context, key, localPath string) error {
	out, err := s.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("get object: %w", err)
	}
	defer out.Body.Close()

	f, err := os.OpenFile(localPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create local file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, out.Body); err != nil {
		return fmt.Errorf("write local file: %w", err)
	}
	return nil
}

// Push uploads a single file under the session prefix.
func (s *S3Syncer) Push(ctx context.Context, sessionID, filename string, r io.Reader) error {
	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectKey(sessionID, filename)),
		Body:   r,
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", filename, err)
	}
	return nil
}

// PresignGet generates a time-limited URL for downloading one object.
func (s *S3Syncer) PresignGet(ctx context.Context, sessionID, filename string) (string, error) {
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectKey(sessionID, filename)),
	}, s3.WithPresignExpires(s.expiry))
	if err != nil {
		return "", fmt.Errorf("failed to presign download for %s: %w", filename, err)
	}
	return req.URL, nil
}
