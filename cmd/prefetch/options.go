package main

import (
	"os"
	"strconv"

	"github.com/pkg/errors"
	"gopkg.in/alecthomas/kingpin.v2"

	"fpetkovski/parquet-loader/loader"
)

const (
	sourceParquet = "parquet"
	sourceObjects = "objects"
	sourceGCS     = "gcs"
	sourceSeries  = "series"

	collateNone  = "none"
	collateArrow = "arrow"
)

type Options struct {
	// Source selects the dataset to load.
	Source string
	// Loader config file. Loader flags set on the command line take precedence.
	ConfigFile string
	// Object store config file.
	BucketConfigFile string
	// Directory used as a filesystem bucket when no config file is given.
	BucketDir string
	// Parquet object to read.
	Object string
	// Prefix of objects to read.
	Prefix string
	// Name of the GCS bucket for the gcs source.
	GCSBucket string
	// TSDB block to read for the series source.
	Block string
	// Directory holding TSDB blocks.
	DataDir string
	// Column and value restricting the parquet rows that are loaded.
	WhereColumn string
	WhereValue  string
	// Collate function applied to parquet rows.
	Collate string
	// Address to expose metrics on.
	ListenAddress string
	LogLevel      string

	Loader loader.Config
	// overrides apply loader flags given on the command line on top of the config file.
	overrides []func(*loader.Config)
}

func newApp() *kingpin.Application {
	return kingpin.New("prefetch", "Load a dataset in batches using a bounded pool of workers.")
}

func (o *Options) BindFlags(app *kingpin.Application) error {
	defaults := loader.DefaultConfig()

	app.Flag("source", "Dataset to load.").
		Default(sourceParquet).EnumVar(&o.Source, sourceParquet, sourceObjects, sourceGCS, sourceSeries)
	app.Flag("config.file", "Loader config file in YAML.").
		Default("").StringVar(&o.ConfigFile)
	app.Flag("objstore.config-file", "Object store config file in YAML.").
		Default("").StringVar(&o.BucketConfigFile)
	app.Flag("objstore.dir", "Directory used as a filesystem bucket.").
		Default("").StringVar(&o.BucketDir)
	app.Flag("object", "Parquet object to read.").
		Default("data.parquet").StringVar(&o.Object)
	app.Flag("prefix", "Prefix of the objects to read.").
		Default("").StringVar(&o.Prefix)
	app.Flag("gcs.bucket", "GCS bucket to read objects from.").
		Default("").StringVar(&o.GCSBucket)
	app.Flag("block", "ULID of the TSDB block to read. Defaults to the latest block in the data dir.").
		Default("").StringVar(&o.Block)
	app.Flag("data-dir", "Directory containing TSDB blocks.").
		Default("./data").StringVar(&o.DataDir)
	app.Flag("where.column", "Only load parquet rows where this column equals --where.value.").
		Default("").StringVar(&o.WhereColumn)
	app.Flag("where.value", "Value matched against --where.column.").
		Default("").StringVar(&o.WhereValue)
	app.Flag("collate", "Collate function for parquet rows.").
		Default(collateNone).EnumVar(&o.Collate, collateNone, collateArrow)
	app.Flag("listen-address", "Address to expose metrics on.").
		Default("").StringVar(&o.ListenAddress)
	app.Flag("log.level", "Log level.").
		Default("info").EnumVar(&o.LogLevel, "debug", "info", "warn", "error")

	app.Flag("batch-size", "Number of elements per batch.").
		Default(strconv.Itoa(defaults.BatchSize)).
		Action(o.override(func(c *loader.Config) { c.BatchSize = o.Loader.BatchSize })).
		IntVar(&o.Loader.BatchSize)
	app.Flag("workers", "Number of workers materializing batches.").
		Default(strconv.Itoa(defaults.NumWorkers)).
		Action(o.override(func(c *loader.Config) { c.NumWorkers = o.Loader.NumWorkers })).
		IntVar(&o.Loader.NumWorkers)
	app.Flag("prefetch-factor", "Batches buffered per worker.").
		Default(strconv.Itoa(defaults.PrefetchFactor)).
		Action(o.override(func(c *loader.Config) { c.PrefetchFactor = o.Loader.PrefetchFactor })).
		IntVar(&o.Loader.PrefetchFactor)
	app.Flag("shuffle", "Shuffle dataset positions.").
		Action(o.override(func(c *loader.Config) { c.Shuffle = o.Loader.Shuffle })).
		BoolVar(&o.Loader.Shuffle)
	app.Flag("seed", "Seed used for shuffling.").
		Default("0").
		Action(o.override(func(c *loader.Config) { c.Seed = o.Loader.Seed })).
		Int64Var(&o.Loader.Seed)
	app.Flag("timeout", "Maximum wait for a single batch. Zero waits indefinitely.").
		Default("0s").
		Action(o.override(func(c *loader.Config) { c.Timeout = o.Loader.Timeout })).
		DurationVar(&o.Loader.Timeout)
	app.Flag("in-order", "Yield batches in dataset order.").
		Action(o.override(func(c *loader.Config) { c.InOrder = o.Loader.InOrder })).
		BoolVar(&o.Loader.InOrder)

	return nil
}

func (o *Options) override(apply func(*loader.Config)) kingpin.Action {
	return func(*kingpin.ParseContext) error {
		o.overrides = append(o.overrides, apply)
		return nil
	}
}

// LoaderConfig returns the loader flags, or the config file with any loader
// flags given on the command line applied on top.
func (o Options) LoaderConfig() (loader.Config, error) {
	if o.ConfigFile == "" {
		return o.Loader, o.Loader.Validate()
	}

	content, err := os.ReadFile(o.ConfigFile)
	if err != nil {
		return loader.Config{}, errors.Wrap(err, "failed reading loader config")
	}
	cfg, err := loader.ParseConfig(content)
	if err != nil {
		return loader.Config{}, err
	}
	for _, apply := range o.overrides {
		apply(&cfg)
	}
	return cfg, cfg.Validate()
}
