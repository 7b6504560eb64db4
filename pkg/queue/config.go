package queue

import (
	"io"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v2"
)

// Config is the YAML-loadable form of a Driver's tunables, for deployments
// that want them externalized to a file rather than set with Options at
// construction time.
type Config struct {
	// Threshold is the queue_size below which a lone Barrier is deferred
	// rather than submitted immediately.
	Threshold int `yaml:"threshold"`

	// TableCacheSize is the number of tables the companion Table Cache
	// holds. Zero (or a zero TableSize) means no Table Cache is attached.
	TableCacheSize int `yaml:"table_cache_size"`

	// TableSize is the fixed size, in bytes, of a single cached table.
	TableSize int `yaml:"table_size"`
}

// LoadConfig reads a Config from r. Zero-value fields fall back to their
// package defaults when the Config is applied via Options.
func LoadConfig(r io.Reader) (Config, error) {
	var cfg Config
	data, err := io.ReadAll(r)
	if err != nil {
		return Config{}, errors.Wrap(err, "blockqueue: read config")
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, errors.Wrap(err, "blockqueue: parse config")
	}
	return cfg, nil
}

// Options converts non-zero fields of cfg into Driver Options.
func (cfg Config) Options() []Option {
	var opts []Option
	if cfg.Threshold > 0 {
		opts = append(opts, WithThreshold(cfg.Threshold))
	}
	if cfg.TableCacheSize > 0 && cfg.TableSize > 0 {
		opts = append(opts, WithTableCache(uint(cfg.TableCacheSize), uint(cfg.TableSize)))
	}
	return opts
}
