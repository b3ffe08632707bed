package storage

import (
	"context"
	"io"
	"strings"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/pkg/errors"
	"github.com/thanos-io/objstore"
	"github.com/thanos-io/objstore/providers/filesystem"
	"github.com/thanos-io/objstore/providers/gcs"
	"gopkg.in/yaml.v3"
)

type BucketType string

const (
	FILESYSTEM BucketType = "FILESYSTEM"
	GCS        BucketType = "GCS"
	MEMORY     BucketType = "MEMORY"
)

const component = "parquet-loader"

type BucketConfig struct {
	Type BucketType `yaml:"type"`
	// Directory is the root of a FILESYSTEM bucket.
	Directory string `yaml:"directory"`
	// Bucket is the name of a GCS bucket.
	Bucket string `yaml:"bucket"`
}

type GCSConfig struct {
	Bucket string `yaml:"bucket"`
}

func ParseBucketConfig(content []byte) (BucketConfig, error) {
	var cfg BucketConfig
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return BucketConfig{}, errors.Wrap(err, "failed parsing bucket config")
	}
	return cfg, nil
}

func NewBucket(ctx context.Context, logger log.Logger, cfg BucketConfig) (objstore.Bucket, error) {
	switch BucketType(strings.ToUpper(string(cfg.Type))) {
	case FILESYSTEM:
		if cfg.Directory == "" {
			return nil, errors.New("filesystem bucket requires a directory")
		}
		return filesystem.NewBucket(cfg.Directory)
	case GCS:
		conf, err := yaml.Marshal(GCSConfig{Bucket: cfg.Bucket})
		if err != nil {
			return nil, err
		}
		return gcs.NewBucket(ctx, logger, conf, component)
	case MEMORY:
		return objstore.NewInMemBucket(), nil
	default:
		return nil, errors.Errorf("unsupported bucket type %q", cfg.Type)
	}
}

// BucketReader reads a single object through ranged requests.
type BucketReader struct {
	ctx    context.Context
	logger log.Logger
	name   string
	bucket objstore.BucketReader
}

func NewBucketReader(ctx context.Context, logger log.Logger, name string, bucket objstore.BucketReader) *BucketReader {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &BucketReader{
		ctx:    ctx,
		logger: logger,
		name:   name,
		bucket: bucket,
	}
}

func (r *BucketReader) Name() string {
	return r.name
}

func (r *BucketReader) Size() (int64, error) {
	attrs, err := r.bucket.Attributes(r.ctx, r.name)
	if err != nil {
		return 0, errors.Wrap(err, "failed getting attributes for "+r.name)
	}
	return attrs.Size, nil
}

func (r *BucketReader) ReadAt(p []byte, off int64) (int, error) {
	level.Debug(r.logger).Log("msg", "reading object range", "object", r.name, "offset", off, "length", len(p))
	rangeReader, err := r.bucket.GetRange(r.ctx, r.name, off, int64(len(p)))
	if err != nil {
		return 0, err
	}
	defer rangeReader.Close()

	return io.ReadFull(rangeReader, p)
}
