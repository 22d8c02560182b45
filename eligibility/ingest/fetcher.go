package ingest

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// FileFetcher retrieves raw census file bytes by upload name.
type FileFetcher interface {
	Fetch(ctx context.Context, name string) ([]byte, error)
}

// S3Fetcher downloads uploads from the census bucket.
type S3Fetcher struct {
	Logger logrus.FieldLogger
	Bucket string
	sess   *session.Session
}

func NewS3Fetcher(sess *session.Session, bucket string, logger logrus.FieldLogger) *S3Fetcher {
	return &S3Fetcher{Logger: logger, Bucket: bucket, sess: sess}
}

func (f *S3Fetcher) Fetch(ctx context.Context, name string) ([]byte, error) {
	bucket, key := f.Bucket, name
	if strings.HasPrefix(name, "s3://") {
		bucket, key = ParseS3Uri(name)
	}

	f.Logger.Infof("Downloading bucket %s, key %s", bucket, key)

	downloader := s3manager.NewDownloader(f.sess)
	buff := &aws.WriteAtBuffer{}
	numBytes, err := downloader.DownloadWithContext(ctx, buff, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		f.Logger.Errorf("Failed to download bucket %s, key %s", bucket, key)
		return nil, errors.Wrapf(err, "failed to download bucket %s, key %s", bucket, key)
	}

	f.Logger.Infof("file downloaded: size=%d", numBytes)
	return buff.Bytes(), nil
}

// ParseS3Uri parses an S3 URI and returns the bucket and key.
//
// @example:
//
//	input: s3://my-bucket/path/to/file
//	output: "my-bucket", "path/to/file"
func ParseS3Uri(str string) (bucket string, key string) {
	workingString := strings.TrimPrefix(str, "s3://")
	resultArr := strings.SplitN(workingString, "/", 2)

	if len(resultArr) == 1 {
		return resultArr[0], ""
	}

	return resultArr[0], resultArr[1]
}

// LocalFetcher reads uploads from a local directory.
// This fetcher should only be used for local dev/testing now.
type LocalFetcher struct {
	Logger  logrus.FieldLogger
	BaseDir string
}

func (f *LocalFetcher) Fetch(ctx context.Context, name string) ([]byte, error) {
	path := filepath.Join(f.BaseDir, filepath.Clean(name))
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "could not read file %s", path)
	}
	return data, nil
}
