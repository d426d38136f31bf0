// Package fsconfig holds the filesystem layer's configuration.  Values come from the environment,
// then from decoders such as a YAML file, then from the defaults in the struct tags.
package fsconfig

import (
	"fmt"
	"os"
	"time"

	units "github.com/docker/go-units"
	"github.com/pachyderm/fsfs/src/internal/errors"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// ByteSize is a size in bytes, written in configuration as "64MB", "512KiB", etc.
type ByteSize int64

func (b ByteSize) String() string {
	return units.BytesSize(float64(b))
}

// Configuration is the configuration of a filesystem instance.
type Configuration struct {
	LogLevel string `env:"FSFS_LOG_LEVEL,default=info"`
	// Format is the on-disk format a new filesystem is created with.
	Format int `env:"FSFS_FORMAT,default=3"`
	// LockDir holds the cross-process lock files.  Empty means locking is process-local.
	LockDir string `env:"FSFS_LOCK_DIR"`

	Cache  CacheConfiguration
	Commit CommitConfiguration

	VerifyParallelism int `env:"FSFS_VERIFY_PARALLELISM,default=4"`
}

// CacheConfiguration sizes the node, directory, mergeinfo and node-origin caches.
type CacheConfiguration struct {
	DisableNodeCache bool `env:"FSFS_DISABLE_NODE_CACHE,default=false"`
	// NodeCacheBuckets is the number of Tier 1 buckets.  Must be a power of two.
	NodeCacheBuckets            int      `env:"FSFS_NODE_CACHE_BUCKETS,default=256"`
	NodeCacheSize               int      `env:"FSFS_NODE_CACHE_SIZE,default=16384"`
	TxnNodeCacheSize            int      `env:"FSFS_TXN_NODE_CACHE_SIZE,default=4096"`
	DirCacheSize                int      `env:"FSFS_DIR_CACHE_SIZE,default=4096"`
	MergeinfoCacheBytes         ByteSize `env:"FSFS_MERGEINFO_CACHE_BYTES,default=16MB"`
	MergeinfoExistenceCacheSize int      `env:"FSFS_MERGEINFO_EXISTENCE_CACHE_SIZE,default=65536"`
	NodeOriginCacheSize         int      `env:"FSFS_NODE_ORIGIN_CACHE_SIZE,default=16384"`
}

// CommitConfiguration controls the commit retry loop.
type CommitConfiguration struct {
	// MaxRetries bounds the number of out-of-date retries.  Zero means unbounded.
	MaxRetries     int           `env:"FSFS_MAX_COMMIT_RETRIES,default=64"`
	BackoffInitial time.Duration `env:"FSFS_COMMIT_BACKOFF_INITIAL,default=1ms"`
	BackoffMax     time.Duration `env:"FSFS_COMMIT_BACKOFF_MAX,default=250ms"`
}

// NewConfiguration returns a Configuration holding only defaults.
func NewConfiguration() *Configuration {
	c := &Configuration{}
	if err := PopulateDefaults(c); err != nil {
		// The defaults are compiled in; failing to parse them is a programming error.
		panic(fmt.Sprintf("populate configuration defaults: %v", err))
	}
	return c
}

// FromEnv returns a Configuration read from the environment and the given decoders.
func FromEnv(decoders ...Decoder) (*Configuration, error) {
	c := &Configuration{}
	if err := Populate(c, decoders...); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks values that cannot be expressed as tags.
func (c *Configuration) Validate() error {
	if n := c.Cache.NodeCacheBuckets; n <= 0 || n&(n-1) != 0 {
		return errors.Errorf("node cache buckets must be a positive power of two, got %d", n)
	}
	if c.Format < 1 || c.Format > 3 {
		return errors.Errorf("unknown filesystem format %d", c.Format)
	}
	if c.LogLevel != "" {
		if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
			return errors.Wrapf(err, "log level")
		}
	}
	if c.Commit.MaxRetries < 0 {
		return errors.Errorf("max commit retries must not be negative, got %d", c.Commit.MaxRetries)
	}
	return nil
}

// YAMLFile is a Decoder that reads KEY: value pairs from a YAML file.  A missing file decodes to
// nothing.
type YAMLFile string

// Decode implements Decoder.
func (f YAMLFile) Decode() (map[string]string, error) {
	data, err := os.ReadFile(string(f))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.EnsureStack(err)
	}
	raw := make(map[string]any)
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrapf(err, "parse %s", string(f))
	}
	result := make(map[string]string, len(raw))
	for k, v := range raw {
		result[k] = fmt.Sprint(v)
	}
	return result, nil
}

// MapDecoder is a Decoder over a fixed map.
type MapDecoder map[string]string

// Decode implements Decoder.
func (m MapDecoder) Decode() (map[string]string, error) {
	return m, nil
}
