// Package objectstore moves build artifact files into S3-compatible object
// storage using short-lived credentials issued by the build API.
package objectstore

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"relay/internal/buildapi"
	"relay/internal/config"
	"relay/internal/fileutil"
	"relay/internal/logging"
	"relay/internal/services"
)

const component = "objectstore"

// Chunk reports bytes read from one file on its way to object storage.
type Chunk struct {
	File  string
	Bytes int64
	// Done is set once the file's upload was acknowledged.
	Done bool
}

// S3Transferer uploads files with the aws-sdk-go-v2 multipart upload manager.
type S3Transferer struct {
	partSize    int64
	concurrency int
	httpClient  *http.Client
	logger      *slog.Logger
}

// NewS3Transferer constructs a transferer. Part sizes below the S3 minimum are
// raised to it.
func NewS3Transferer(partSize int64, concurrency int, logger *slog.Logger) *S3Transferer {
	if partSize < manager.MinUploadPartSize {
		partSize = manager.MinUploadPartSize
	}
	if concurrency <= 0 {
		concurrency = manager.DefaultUploadConcurrency
	}
	return &S3Transferer{
		partSize:    partSize,
		concurrency: concurrency,
		httpClient:  &http.Client{},
		logger:      logging.NewComponentLogger(logger, component),
	}
}

// NewFromConfig builds a transferer from the [build] section.
func NewFromConfig(cfg *config.Config, logger *slog.Logger) *S3Transferer {
	return NewS3Transferer(int64(cfg.Build.PartSizeMiB)<<20, cfg.Build.Concurrency, logger)
}

func (t *S3Transferer) client(creds buildapi.Credentials) *s3.Client {
	region := creds.Region
	if region == "" {
		region = "us-east-1"
	}
	opts := s3.Options{
		Region:      region,
		Credentials: credentials.NewStaticCredentialsProvider(creds.AccessKeyID, creds.SecretAccessKey, creds.SessionToken),
		HTTPClient:  t.httpClient,
	}
	if endpoint := strings.TrimSpace(creds.Endpoint); endpoint != "" {
		opts.BaseEndpoint = aws.String(endpoint)
		opts.UsePathStyle = true
	}
	return s3.New(opts)
}

// ObjectKey returns the destination key for a file relative to the build root.
func ObjectKey(prefix, relPath string) string {
	prefix = strings.Trim(prefix, "/")
	relPath = strings.TrimLeft(relPath, "/")
	if prefix == "" {
		return relPath
	}
	return path.Join(prefix, relPath)
}

// Transfer uploads files in order and reports read progress through onChunk.
// The first failure aborts the remaining files.
func (t *S3Transferer) Transfer(ctx context.Context, creds buildapi.Credentials, files []fileutil.FileEntry, onChunk func(Chunk)) error {
	if onChunk == nil {
		onChunk = func(Chunk) {}
	}
	uploader := manager.NewUploader(t.client(creds), func(u *manager.Uploader) {
		u.PartSize = t.partSize
		u.Concurrency = t.concurrency
	})
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return services.Wrap(services.ErrCancelled, component, "transfer", "cancelled", err)
		}
		if err := t.uploadFile(ctx, uploader, creds, file, onChunk); err != nil {
			return err
		}
	}
	return nil
}

func (t *S3Transferer) uploadFile(ctx context.Context, uploader *manager.Uploader, creds buildapi.Credentials, file fileutil.FileEntry, onChunk func(Chunk)) error {
	f, err := os.Open(file.Path)
	if err != nil {
		return services.Wrap(services.ErrValidation, component, "open", file.RelPath, err)
	}
	defer f.Close()

	key := ObjectKey(creds.KeyPrefix, file.RelPath)
	body := &countingReader{r: f, report: func(n int64) {
		onChunk(Chunk{File: file.RelPath, Bytes: n})
	}}
	_, err = uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(creds.Bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentLength: aws.Int64(file.Size),
	})
	if err != nil {
		return classify(ctx, key, err)
	}
	t.logger.Debug("object uploaded",
		logging.String("key", key),
		logging.Int64("size_bytes", file.Size),
	)
	onChunk(Chunk{File: file.RelPath, Done: true})
	return nil
}

func classify(ctx context.Context, key string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.Canceled) {
			return services.Wrap(services.ErrCancelled, component, "upload", key, err)
		}
		return services.Wrap(services.ErrTimeout, component, "upload", key, err)
	}
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) {
		code := respErr.HTTPStatusCode()
		switch {
		case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests, code >= http.StatusInternalServerError:
			return services.Wrap(services.ErrTransient, component, "upload", key, err)
		case code == http.StatusForbidden:
			var apiErr smithy.APIError
			if errors.As(err, &apiErr) && apiErr.ErrorCode() == "ExpiredToken" {
				return services.Wrap(services.ErrTransient, component, "upload", "credentials expired", err)
			}
			return services.Wrap(services.ErrFatal, component, "upload", key, err)
		case code >= http.StatusBadRequest:
			return services.Wrap(services.ErrFatal, component, "upload", key, err)
		}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return services.Wrap(services.ErrTimeout, component, "upload", key, err)
	}
	return services.Wrap(services.ErrTransient, component, "upload", key, err)
}

type countingReader struct {
	r      io.Reader
	report func(int64)
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 {
		c.report(int64(n))
	}
	return n, err
}
