package loader

import (
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const (
	DefaultBatchSize      = 1
	DefaultNumWorkers     = 10
	DefaultPrefetchFactor = 4
)

type Config struct {
	// BatchSize is the number of elements in every batch except possibly the last one.
	BatchSize int `yaml:"batch_size"`
	// NumWorkers is the number of goroutines materializing batches.
	NumWorkers int `yaml:"num_workers"`
	// PrefetchFactor multiplied by NumWorkers gives the capacity of the result queue.
	PrefetchFactor int `yaml:"prefetch_factor"`
	// Shuffle permutes dataset positions before they are split into batches.
	Shuffle bool `yaml:"shuffle"`
	// Seed seeds the permutation used when Shuffle is set.
	Seed int64 `yaml:"seed"`
	// Timeout bounds the wait for each batch. Zero waits indefinitely.
	Timeout time.Duration `yaml:"timeout"`
	// InOrder yields batches in partition order instead of completion order.
	InOrder bool `yaml:"in_order"`
}

func DefaultConfig() Config {
	return Config{
		BatchSize:      DefaultBatchSize,
		NumWorkers:     DefaultNumWorkers,
		PrefetchFactor: DefaultPrefetchFactor,
	}
}

// ParseConfig reads a yaml document on top of DefaultConfig.
func ParseConfig(content []byte) (Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return Config{}, errors.Wrap(err, "failed parsing loader config")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.BatchSize < 1 {
		return invalidConfig("batch size must be positive, got %d", c.BatchSize)
	}
	if c.NumWorkers < 1 {
		return invalidConfig("number of workers must be positive, got %d", c.NumWorkers)
	}
	if c.PrefetchFactor < 1 {
		return invalidConfig("prefetch factor must be positive, got %d", c.PrefetchFactor)
	}
	if c.Timeout < 0 {
		return invalidConfig("timeout must not be negative, got %s", c.Timeout)
	}
	return nil
}

func (c Config) QueueCapacity() int {
	return c.PrefetchFactor * c.NumWorkers
}
