package main

import (
	"context"
	stdlog "log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"time"

	gcsStorage "cloud.google.com/go/storage"
	"github.com/apache/arrow/go/v10/arrow"
	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/schollz/progressbar/v3"
	"github.com/segmentio/parquet-go"
	"github.com/thanos-io/objstore"

	"fpetkovski/parquet-loader/collate"
	"fpetkovski/parquet-loader/dataset"
	"fpetkovski/parquet-loader/loader"
	"fpetkovski/parquet-loader/storage"
)

func main() {
	app := newApp()
	opts := Options{}
	if err := opts.BindFlags(app); err != nil {
		stdlog.Fatal(err)
	}
	if _, err := app.Parse(os.Args[1:]); err != nil {
		stdlog.Fatal(err)
	}

	logger := newLogger(opts.LogLevel)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, logger, opts); err != nil {
		level.Error(logger).Log("msg", "prefetch failed", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger log.Logger, opts Options) error {
	cfg, err := opts.LoaderConfig()
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	metrics := loader.NewMetrics(reg)
	if opts.ListenAddress != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
			level.Info(logger).Log("msg", "serving metrics", "address", opts.ListenAddress)
			if err := http.ListenAndServe(opts.ListenAddress, mux); err != nil {
				level.Error(logger).Log("msg", "metrics server stopped", "err", err)
			}
		}()
	}

	loaderOpts := []loader.Option{
		loader.WithConfig(cfg),
		loader.WithLogger(logger),
		loader.WithMetrics(metrics),
	}
	switch opts.Source {
	case sourceParquet:
		bucket, err := opts.openBucket(ctx, logger)
		if err != nil {
			return err
		}
		file, err := dataset.OpenParquet(ctx, logger, bucket, opts.Object)
		if err != nil {
			return err
		}
		rows := dataset.NewParquetRows(file)
		ds, err := opts.selectRows(file, rows)
		if err != nil {
			return err
		}
		if opts.Collate == collateArrow {
			collateFunc, err := collate.Arrow(rows.Schema(), nil)
			if err != nil {
				return err
			}
			return consume(ctx, logger, loader.New[parquet.Row, arrow.Record](ds, collateFunc, loaderOpts...), func(r arrow.Record) int {
				defer r.Release()
				return int(r.NumRows())
			})
		}
		return consume(ctx, logger, loader.NewSlices[parquet.Row](ds, loaderOpts...), lenOf[parquet.Row])

	case sourceObjects:
		bucket, err := opts.openBucket(ctx, logger)
		if err != nil {
			return err
		}
		ds, err := dataset.NewObjects(ctx, bucket, opts.Prefix)
		if err != nil {
			return err
		}
		return consume(ctx, logger, loader.NewSlices[dataset.Object](ds, loaderOpts...), lenOf[dataset.Object])

	case sourceGCS:
		client, err := gcsStorage.NewClient(ctx)
		if err != nil {
			return errors.Wrap(err, "failed creating gcs client")
		}
		defer client.Close()

		ds, err := dataset.NewGCS(ctx, client, opts.GCSBucket, opts.Prefix)
		if err != nil {
			return err
		}
		return consume(ctx, logger, loader.NewSlices[dataset.Object](ds, loaderOpts...), lenOf[dataset.Object])

	case sourceSeries:
		if opts.hasBucket() && opts.Block != "" {
			bucket, err := opts.openBucket(ctx, logger)
			if err != nil {
				return err
			}
			level.Info(logger).Log("msg", "downloading block", "block", opts.Block)
			if err := dataset.DownloadBlock(ctx, logger, bucket, opts.Block, opts.DataDir); err != nil {
				return err
			}
		}
		ds, err := dataset.OpenBlockSeries(opts.DataDir, opts.Block, logger)
		if err != nil {
			return err
		}
		defer ds.Close()
		return consume(ctx, logger, loader.NewSlices[dataset.Series](ds, loaderOpts...), lenOf[dataset.Series])
	}

	return errors.Errorf("unknown source %q", opts.Source)
}

func consume[T, B any](ctx context.Context, logger log.Logger, l *loader.Loader[T, B], size func(B) int) error {
	start := time.Now()
	session, err := l.Load(ctx)
	if err != nil {
		return err
	}

	var elements int
	bar := progressbar.Default(int64(session.NumBatches()))
	err = session.Each(func(batch loader.Batch[B]) error {
		elements += size(batch.Data)
		return bar.Add(1)
	})
	if err != nil {
		return err
	}

	level.Info(logger).Log(
		"msg", "loaded dataset",
		"batches", session.NumBatches(),
		"elements", elements,
		"duration", time.Since(start),
	)
	return nil
}

func lenOf[T any](batch []T) int {
	return len(batch)
}

// selectRows narrows rows to those matching the where flags, if given.
func (o Options) selectRows(file *parquet.File, rows *dataset.ParquetRows) (dataset.Dataset[parquet.Row], error) {
	if o.WhereColumn == "" {
		return rows, nil
	}
	leaf, ok := file.Schema().Lookup(o.WhereColumn)
	if !ok {
		return nil, errors.Errorf("column %q not found", o.WhereColumn)
	}
	value, err := parseValue(leaf.Node.Type(), o.WhereValue)
	if err != nil {
		return nil, err
	}
	positions, err := dataset.SelectRows(file, o.WhereColumn, dataset.Equal(leaf.Node.Type(), value))
	if err != nil {
		return nil, err
	}
	return dataset.NewSubset[parquet.Row](rows, positions)
}

func parseValue(typ parquet.Type, value string) (parquet.Value, error) {
	switch typ.Kind() {
	case parquet.Boolean:
		v, err := strconv.ParseBool(value)
		return parquet.BooleanValue(v), err
	case parquet.Int32:
		v, err := strconv.ParseInt(value, 10, 32)
		return parquet.Int32Value(int32(v)), err
	case parquet.Int64:
		v, err := strconv.ParseInt(value, 10, 64)
		return parquet.Int64Value(v), err
	case parquet.Float:
		v, err := strconv.ParseFloat(value, 32)
		return parquet.FloatValue(float32(v)), err
	case parquet.Double:
		v, err := strconv.ParseFloat(value, 64)
		return parquet.DoubleValue(v), err
	case parquet.ByteArray:
		return parquet.ByteArrayValue([]byte(value)), nil
	}
	return parquet.Value{}, errors.Errorf("unsupported column kind %s", typ.Kind())
}

func (o Options) hasBucket() bool {
	return o.BucketConfigFile != "" || o.BucketDir != ""
}

func (o Options) openBucket(ctx context.Context, logger log.Logger) (objstore.Bucket, error) {
	cfg := storage.BucketConfig{Type: storage.FILESYSTEM, Directory: o.BucketDir}
	if o.BucketConfigFile != "" {
		content, err := os.ReadFile(o.BucketConfigFile)
		if err != nil {
			return nil, errors.Wrap(err, "failed reading bucket config")
		}
		if cfg, err = storage.ParseBucketConfig(content); err != nil {
			return nil, err
		}
	}
	return storage.NewBucket(ctx, logger, cfg)
}

func newLogger(logLevel string) log.Logger {
	logger := log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
	var filter level.Option
	switch logLevel {
	case "debug":
		filter = level.AllowDebug()
	case "warn":
		filter = level.AllowWarn()
	case "error":
		filter = level.AllowError()
	default:
		filter = level.AllowInfo()
	}
	logger = level.NewFilter(logger, filter)
	return log.With(logger, "ts", log.DefaultTimestampUTC, "caller", log.DefaultCaller)
}
