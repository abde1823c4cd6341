package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
	yamlv3 "gopkg.in/yaml.v3"
)

const (
	DefaultConfigPath = "./configs/config.yaml"
	DefaultEnvFile    = ".env"

	// EnvPrefix namespaces the sectioned environment variables,
	// e.g. KAPI_SERVER_PORT -> server.port.
	EnvPrefix = "KAPI_"
)

var ErrInvalidConfig = errors.New("invalid config")

// flatEnv maps the historical un-prefixed variable names to config keys.
var flatEnv = map[string]string{
	"PROJECT_NAME":         "project_name",
	"VERSION":              "version",
	"API_V1_STR":           "api_v1_str",
	"DEBUG":                "debug",
	"PDF_MAX_PAGES":        "pdf.max_pages",
	"PDF_MAX_FILE_SIZE_MB": "pdf.max_file_size_mb",
	"OPENAI_API_KEY":       "openai_api_key",
}

// sections are the nested blocks addressable as KAPI_<SECTION>_<FIELD>.
var sections = map[string]bool{
	"server":    true,
	"pdf":       true,
	"embedding": true,
	"vector":    true,
	"worker":    true,
	"database":  true,
	"search":    true,
}

type Config struct {
	ProjectName string `koanf:"project_name" yaml:"project_name"`
	Version     string `koanf:"version" yaml:"version"`
	APIPrefix   string `koanf:"api_v1_str" yaml:"api_v1_str"`
	Debug       bool   `koanf:"debug" yaml:"debug"`

	// OpenAIAPIKey is optional; the service starts without it.
	OpenAIAPIKey string `koanf:"openai_api_key" yaml:"openai_api_key"`

	Server    ServerConfig    `koanf:"server" yaml:"server"`
	PDF       PDFConfig       `koanf:"pdf" yaml:"pdf"`
	Embedding EmbeddingConfig `koanf:"embedding" yaml:"embedding"`
	Vector    VectorConfig    `koanf:"vector" yaml:"vector"`
	Worker    WorkerConfig    `koanf:"worker" yaml:"worker"`
	Database  DatabaseConfig  `koanf:"database" yaml:"database"`
	Search    SearchConfig    `koanf:"search" yaml:"search"`
}

type ServerConfig struct {
	Host            string        `koanf:"host" yaml:"host"`
	Port            int           `koanf:"port" yaml:"port"`
	UploadDir       string        `koanf:"upload_dir" yaml:"upload_dir"`
	MaxUploadMB     int           `koanf:"max_upload_mb" yaml:"max_upload_mb"`
	UploadRateLimit float64       `koanf:"upload_rate_limit" yaml:"upload_rate_limit"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// PDFConfig holds converter limits. Zero means unlimited.
type PDFConfig struct {
	MaxPages          int           `koanf:"max_pages" yaml:"max_pages"`
	MaxFileSizeMB     int           `koanf:"max_file_size_mb" yaml:"max_file_size_mb"`
	ConversionTimeout time.Duration `koanf:"conversion_timeout" yaml:"conversion_timeout"`
}

type EmbeddingConfig struct {
	// Provider is one of fastembed, ollama, openai.
	Provider string `koanf:"provider" yaml:"provider"`
	Model    string `koanf:"model" yaml:"model"`
	BaseURL  string `koanf:"base_url" yaml:"base_url"`
	CacheDir string `koanf:"cache_dir" yaml:"cache_dir"`
}

type VectorConfig struct {
	// Store is one of chromem, qdrant.
	Store      string `koanf:"store" yaml:"store"`
	Path       string `koanf:"path" yaml:"path"`
	Collection string `koanf:"collection" yaml:"collection"`
	Compress   bool   `koanf:"compress" yaml:"compress"`
	QdrantHost string `koanf:"qdrant_host" yaml:"qdrant_host"`
	QdrantPort int    `koanf:"qdrant_port" yaml:"qdrant_port"`
	QdrantKey  string `koanf:"qdrant_api_key" yaml:"qdrant_api_key"`
	QdrantTLS  bool   `koanf:"qdrant_tls" yaml:"qdrant_tls"`
}

type WorkerConfig struct {
	Concurrency int `koanf:"concurrency" yaml:"concurrency"`
}

type DatabaseConfig struct {
	// DSN enables the PostgreSQL job store; empty keeps jobs in memory.
	DSN string `koanf:"dsn" yaml:"dsn"`
}

type SearchConfig struct {
	DefaultLimit int `koanf:"default_limit" yaml:"default_limit"`
	MaxLimit     int `koanf:"max_limit" yaml:"max_limit"`
}

// Default returns the settings used when nothing else is configured.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.ProjectName == "" {
		cfg.ProjectName = "Knowledge API"
	}
	if cfg.Version == "" {
		cfg.Version = "0.1.0"
	}
	if cfg.APIPrefix == "" {
		cfg.APIPrefix = "/api/v1"
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8000
	}
	if cfg.Server.UploadDir == "" {
		cfg.Server.UploadDir = "temp_uploads"
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 30 * time.Second
	}
	if cfg.PDF.ConversionTimeout == 0 {
		cfg.PDF.ConversionTimeout = 5 * time.Minute
	}
	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = "fastembed"
	}
	if cfg.Embedding.Model == "" {
		switch cfg.Embedding.Provider {
		case "ollama":
			cfg.Embedding.Model = "nomic-embed-text"
		case "openai":
			cfg.Embedding.Model = "text-embedding-3-small"
		default:
			cfg.Embedding.Model = "sentence-transformers/all-MiniLM-L6-v2"
		}
	}
	if cfg.Vector.Store == "" {
		cfg.Vector.Store = "chromem"
	}
	if cfg.Vector.Path == "" {
		cfg.Vector.Path = "./data/chroma"
	}
	if cfg.Vector.Collection == "" {
		cfg.Vector.Collection = "knowledge_base"
	}
	if cfg.Vector.QdrantHost == "" {
		cfg.Vector.QdrantHost = "localhost"
	}
	if cfg.Vector.QdrantPort == 0 {
		cfg.Vector.QdrantPort = 6334
	}
	if cfg.Worker.Concurrency == 0 {
		cfg.Worker.Concurrency = runtime.NumCPU()
	}
	if cfg.Search.DefaultLimit == 0 {
		cfg.Search.DefaultLimit = 3
	}
	if cfg.Search.MaxLimit == 0 {
		cfg.Search.MaxLimit = 50
	}
}

// Validate checks value ranges and enumerations.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("%w: server.port %d out of range", ErrInvalidConfig, c.Server.Port)
	}
	if c.PDF.MaxPages < 0 {
		return fmt.Errorf("%w: pdf.max_pages must not be negative", ErrInvalidConfig)
	}
	if c.PDF.MaxFileSizeMB < 0 {
		return fmt.Errorf("%w: pdf.max_file_size_mb must not be negative", ErrInvalidConfig)
	}
	if c.Server.MaxUploadMB < 0 {
		return fmt.Errorf("%w: server.max_upload_mb must not be negative", ErrInvalidConfig)
	}
	if c.Worker.Concurrency < 1 {
		return fmt.Errorf("%w: worker.concurrency must be positive", ErrInvalidConfig)
	}
	if c.Search.DefaultLimit < 1 || c.Search.MaxLimit < c.Search.DefaultLimit {
		return fmt.Errorf("%w: search limits must satisfy 1 <= default_limit <= max_limit", ErrInvalidConfig)
	}
	switch c.Embedding.Provider {
	case "fastembed", "ollama", "openai":
	default:
		return fmt.Errorf("%w: unknown embedding provider %q", ErrInvalidConfig, c.Embedding.Provider)
	}
	switch c.Vector.Store {
	case "chromem", "qdrant":
	default:
		return fmt.Errorf("%w: unknown vector store %q", ErrInvalidConfig, c.Vector.Store)
	}
	if !strings.HasPrefix(c.APIPrefix, "/") {
		return fmt.Errorf("%w: api_v1_str must start with /", ErrInvalidConfig)
	}
	return nil
}

// LoadConfig reads settings once at startup.
//
// Precedence, highest first: environment variables (including those from
// .env), the YAML file, built-in defaults. A missing file at the default path
// is fine; a missing explicit path is an error.
func LoadConfig(path string) (*Config, error) {
	if err := godotenv.Load(DefaultEnvFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("loading %s: %w", DefaultEnvFile, err)
	}

	k := koanf.New(".")

	explicit := path != ""
	if !explicit {
		path = DefaultConfigPath
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := k.Load(rawbytes.Provider(data), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}

	if err := k.Load(env.Provider("", ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("loading environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envKey maps an environment variable to a config key, or "" to skip it.
func envKey(name string) string {
	if key, ok := flatEnv[name]; ok {
		return key
	}
	if !strings.HasPrefix(name, EnvPrefix) {
		return ""
	}
	rest := strings.ToLower(strings.TrimPrefix(name, EnvPrefix))
	if section, field, ok := strings.Cut(rest, "_"); ok && sections[section] {
		return section + "." + field
	}
	// top-level keys such as openai_api_key keep their underscores
	return rest
}

// Redacted returns a copy safe to print or log.
func (c *Config) Redacted() Config {
	out := *c
	if out.OpenAIAPIKey != "" {
		out.OpenAIAPIKey = "***"
	}
	if out.Vector.QdrantKey != "" {
		out.Vector.QdrantKey = "***"
	}
	if out.Database.DSN != "" {
		out.Database.DSN = "***"
	}
	return out
}

// YAML renders the redacted settings.
func (c *Config) YAML() ([]byte, error) {
	out, err := yamlv3.Marshal(c.Redacted())
	if err != nil {
		return nil, fmt.Errorf("encoding config: %w", err)
	}
	return out, nil
}
