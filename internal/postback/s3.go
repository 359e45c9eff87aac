package postback

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/rpattn/loadflow/internal/apperr"
)

// S3Options configures the s3 handler.
type S3Options struct {
	Endpoint     string `mapstructure:"endpoint" validate:"required"`
	AccessKey    string `mapstructure:"access_key" validate:"required"`
	SecretKey    string `mapstructure:"secret_key" validate:"required"`
	UseSSL       bool   `mapstructure:"use_ssl"`
	Region       string `mapstructure:"region"`
	Bucket       string `mapstructure:"bucket" validate:"required"`
	Prefix       string `mapstructure:"prefix"`
	Format       string `mapstructure:"format" validate:"oneof=csv json"`
	CreateBucket bool   `mapstructure:"create_bucket"`
}

// ObjectStore is the subset of *minio.Client the handler uses.
type ObjectStore interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	MakeBucket(ctx context.Context, bucket string, opts minio.MakeBucketOptions) error
	PutObject(ctx context.Context, bucket, object string, reader io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// S3Handler uploads the batch as one CSV or JSON object.
type S3Handler struct {
	opts  S3Options
	store ObjectStore
}

func decodeS3Options(options map[string]any) (S3Options, error) {
	opts := S3Options{Format: "csv"}
	err := decodeOptions(options, &opts)
	return opts, err
}

func NewS3Handler(options map[string]any) (Handler, error) {
	opts, err := decodeS3Options(options)
	if err != nil {
		return nil, err
	}
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
		Region: opts.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: s3 client: %v", apperr.ErrConfig, err)
	}
	return &S3Handler{opts: opts, store: client}, nil
}

// NewS3HandlerWithStore builds a handler around an existing store.
func NewS3HandlerWithStore(options map[string]any, store ObjectStore) (Handler, error) {
	opts, err := decodeS3Options(options)
	if err != nil {
		return nil, err
	}
	return &S3Handler{opts: opts, store: store}, nil
}

// ObjectKey names the object for a batch: prefix/loads_<run or time>.<format>.
func (h *S3Handler) ObjectKey(batch Batch) string {
	id := batch.RunID
	if id == "" {
		id = batch.Time.UTC().Format("20060102_150405")
	}
	return path.Join(h.opts.Prefix, fmt.Sprintf("loads_%s.%s", id, h.opts.Format))
}

func (h *S3Handler) Deliver(ctx context.Context, batch Batch) (string, error) {
	if h.opts.CreateBucket {
		exists, err := h.store.BucketExists(ctx, h.opts.Bucket)
		if err != nil {
			return "", fmt.Errorf("%w: check bucket: %v", apperr.ErrPostback, err)
		}
		if !exists {
			if err := h.store.MakeBucket(ctx, h.opts.Bucket, minio.MakeBucketOptions{Region: h.opts.Region}); err != nil {
				return "", fmt.Errorf("%w: create bucket: %v", apperr.ErrPostback, err)
			}
		}
	}

	var (
		data        []byte
		contentType string
		err         error
	)
	switch h.opts.Format {
	case "json":
		data, err = json.Marshal(batch.Rows)
		contentType = "application/json"
	default:
		data, err = csvBytes(batch.Columns, batch.Rows)
		contentType = "text/csv"
	}
	if err != nil {
		return "", fmt.Errorf("%w: encode object: %v", apperr.ErrPostback, err)
	}

	key := h.ObjectKey(batch)
	_, err = h.store.PutObject(ctx, h.opts.Bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", fmt.Errorf("%w: put object: %v", apperr.ErrPostback, err)
	}
	return h.opts.Bucket + "/" + key, nil
}
