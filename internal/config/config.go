package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/maxiofs/dasi/internal/schema"
	"github.com/maxiofs/dasi/pkg/compression"
	"github.com/maxiofs/dasi/pkg/engine"
)

// ErrInvalidConfig is wrapped by every configuration error.
var ErrInvalidConfig = errors.New("invalid configuration")

// Catalogue engines.
const (
	CataloguePebble = "pebble"
	CatalogueBadger = "badger"
	CatalogueSQLite = "sqlite"
	CatalogueBolt   = "bolt"
	CatalogueMemory = "memory"

	// catalogueTOC is the name older configuration files use for the
	// default catalogue.
	catalogueTOC = "toc"
)

// Payload stores.
const (
	StoreFile = "file"
	StoreS3   = "s3"
)

// Config holds the engine configuration document
type Config struct {
	// Schema is either the path of a schema file or an inline rule list
	Schema any `mapstructure:"schema" yaml:"schema"`

	// Catalogue configuration
	Catalogue     string `mapstructure:"catalogue" yaml:"catalogue"`
	CataloguePath string `mapstructure:"catalogue_path" yaml:"catalogue_path,omitempty"`

	// Payload store configuration
	Store  string        `mapstructure:"store" yaml:"store"`
	Spaces []SpaceConfig `mapstructure:"spaces" yaml:"spaces,omitempty"`
	S3     S3Config      `mapstructure:"s3" yaml:"s3,omitempty"`

	Compression  CompressionConfig `mapstructure:"compression" yaml:"compression"`
	ListPageSize int               `mapstructure:"list_page_size" yaml:"list_page_size"`

	// Resolved during validation
	SchemaPath string `mapstructure:"-" yaml:"-"`
	baseDir    string
}

// SpaceConfig groups storage roots
type SpaceConfig struct {
	Handler string       `mapstructure:"handler" yaml:"handler,omitempty"`
	Roots   []RootConfig `mapstructure:"roots" yaml:"roots"`
}

// RootConfig defines one storage root
type RootConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
	Wipe *bool  `mapstructure:"wipe" yaml:"wipe,omitempty"`
}

// Wipeable reports whether payloads on this root may be deleted.
func (r RootConfig) Wipeable() bool {
	return r.Wipe == nil || *r.Wipe
}

// S3Config defines the S3 payload store
type S3Config struct {
	Endpoint  string `mapstructure:"endpoint" yaml:"endpoint,omitempty"`
	Region    string `mapstructure:"region" yaml:"region,omitempty"`
	Bucket    string `mapstructure:"bucket" yaml:"bucket,omitempty"`
	Prefix    string `mapstructure:"prefix" yaml:"prefix,omitempty"`
	AccessKey string `mapstructure:"access_key" yaml:"access_key,omitempty"`
	SecretKey string `mapstructure:"secret_key" yaml:"secret_key,omitempty"`
}

// CompressionConfig defines payload compression
type CompressionConfig struct {
	Algorithm string `mapstructure:"algorithm" yaml:"algorithm"`
	Level     int    `mapstructure:"level" yaml:"level,omitempty"`
	MinSize   int64  `mapstructure:"min_size" yaml:"min_size,omitempty"`
}

// Load reads the configuration document named by src
func Load(src engine.ConfigSource) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigType("yaml")

	var baseDir string
	switch {
	case src.Path != "":
		v.SetConfigFile(src.Path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("%w: failed to read config file: %v", ErrInvalidConfig, err)
		}
		abs, err := filepath.Abs(src.Path)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		baseDir = filepath.Dir(abs)
	case src.Document != "":
		if err := v.ReadConfig(strings.NewReader(src.Document)); err != nil {
			return nil, fmt.Errorf("%w: failed to parse config document: %v", ErrInvalidConfig, err)
		}
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		baseDir = wd
	default:
		return nil, fmt.Errorf("%w: no config file or document given", ErrInvalidConfig)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("%w: failed to unmarshal config: %v", ErrInvalidConfig, err)
	}
	cfg.baseDir = baseDir

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("catalogue", CataloguePebble)
	v.SetDefault("store", StoreFile)
	v.SetDefault("compression.algorithm", compression.AlgorithmNone)
	v.SetDefault("compression.level", 0)
	v.SetDefault("compression.min_size", 0)
	v.SetDefault("s3.region", "us-east-1")
	v.SetDefault("list_page_size", 256)
}

func validate(cfg *Config) error {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
	}

	switch s := cfg.Schema.(type) {
	case nil:
		return invalid("schema is required")
	case string:
		if s == "" {
			return invalid("schema is required")
		}
		cfg.SchemaPath = cfg.resolve(s)
	case []any:
	default:
		return invalid("schema must be a file path or a rule list, got %T", cfg.Schema)
	}

	cfg.Catalogue = strings.ToLower(cfg.Catalogue)
	switch cfg.Catalogue {
	case catalogueTOC, "":
		cfg.Catalogue = CataloguePebble
	case CataloguePebble, CatalogueBadger, CatalogueSQLite, CatalogueBolt, CatalogueMemory:
	default:
		return invalid("unsupported catalogue %q", cfg.Catalogue)
	}

	cfg.Store = strings.ToLower(cfg.Store)
	switch cfg.Store {
	case StoreFile, "":
		cfg.Store = StoreFile
	case StoreS3:
		if cfg.S3.Bucket == "" {
			return invalid("s3.bucket is required for the s3 store")
		}
	default:
		return invalid("unsupported store %q", cfg.Store)
	}

	for i := range cfg.Spaces {
		for j := range cfg.Spaces[i].Roots {
			root := &cfg.Spaces[i].Roots[j]
			if root.Path == "" {
				return invalid("space %d root %d has no path", i, j)
			}
			root.Path = cfg.resolve(root.Path)
		}
	}
	roots := cfg.Roots()
	if cfg.Store == StoreFile && len(roots) == 0 {
		return invalid("the file store needs at least one root")
	}

	if cfg.CataloguePath != "" {
		cfg.CataloguePath = cfg.resolve(cfg.CataloguePath)
	} else if cfg.Catalogue != CatalogueMemory {
		if len(roots) == 0 {
			return invalid("catalogue_path is required when no roots are configured")
		}
		cfg.CataloguePath = filepath.Join(roots[0].Path, "catalogue")
	}

	switch cfg.Compression.Algorithm {
	case "":
		cfg.Compression.Algorithm = compression.AlgorithmNone
	case compression.AlgorithmNone, compression.AlgorithmGzip, compression.AlgorithmZstd, compression.AlgorithmLZ4:
	default:
		return invalid("unsupported compression algorithm %q", cfg.Compression.Algorithm)
	}
	if cfg.Compression.MinSize < 0 {
		return invalid("compression.min_size must not be negative")
	}

	if cfg.ListPageSize <= 0 {
		return invalid("list_page_size must be positive")
	}
	return nil
}

func (cfg *Config) resolve(path string) string {
	if filepath.IsAbs(path) || cfg.baseDir == "" {
		return filepath.Clean(path)
	}
	return filepath.Join(cfg.baseDir, path)
}

// Roots returns every configured root across all spaces.
func (cfg *Config) Roots() []RootConfig {
	var out []RootConfig
	for _, s := range cfg.Spaces {
		out = append(out, s.Roots...)
	}
	return out
}

// LoadSchema parses the configured schema.
func (cfg *Config) LoadSchema() (*schema.Schema, error) {
	if cfg.SchemaPath != "" {
		return schema.Load(cfg.SchemaPath)
	}
	return schema.FromValue(cfg.Schema)
}

// Default builds the configuration used by "dasi init": a schema file, a
// single root and the pebble catalogue.
func Default(schemaPath, root string) *Config {
	return &Config{
		Schema:    schemaPath,
		Catalogue: CataloguePebble,
		Store:     StoreFile,
		Spaces: []SpaceConfig{{
			Handler: "Default",
			Roots:   []RootConfig{{Path: root}},
		}},
		Compression:  CompressionConfig{Algorithm: compression.AlgorithmNone},
		ListPageSize: 256,
	}
}

// Marshal renders the configuration as a YAML document.
func (cfg *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(cfg)
}
