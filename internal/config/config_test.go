package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, ""))
	require.NoError(t, err)

	assert.Equal(t, "Knowledge API", cfg.ProjectName)
	assert.Equal(t, "0.1.0", cfg.Version)
	assert.Equal(t, "/api/v1", cfg.APIPrefix)
	assert.False(t, cfg.Debug)
	assert.Zero(t, cfg.PDF.MaxPages)
	assert.Zero(t, cfg.PDF.MaxFileSizeMB)
	assert.Equal(t, 5*time.Minute, cfg.PDF.ConversionTimeout)
	assert.Empty(t, cfg.OpenAIAPIKey)
	assert.Equal(t, "fastembed", cfg.Embedding.Provider)
	assert.Equal(t, "sentence-transformers/all-MiniLM-L6-v2", cfg.Embedding.Model)
	assert.Equal(t, "chromem", cfg.Vector.Store)
	assert.Equal(t, "./data/chroma", cfg.Vector.Path)
	assert.Equal(t, "knowledge_base", cfg.Vector.Collection)
	assert.Equal(t, runtime.NumCPU(), cfg.Worker.Concurrency)
	assert.Equal(t, 3, cfg.Search.DefaultLimit)
}

func TestLoadConfigFile(t *testing.T) {
	path := writeConfig(t, `
project_name: Docs
debug: true
server:
  port: 9000
  upload_dir: /tmp/uploads
pdf:
  max_pages: 40
  conversion_timeout: 30s
embedding:
  provider: ollama
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "Docs", cfg.ProjectName)
	assert.True(t, cfg.Debug)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "/tmp/uploads", cfg.Server.UploadDir)
	assert.Equal(t, 40, cfg.PDF.MaxPages)
	assert.Equal(t, 30*time.Second, cfg.PDF.ConversionTimeout)
	assert.Equal(t, "ollama", cfg.Embedding.Provider)
	assert.Equal(t, "nomic-embed-text", cfg.Embedding.Model)
}

func TestLoadConfigEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
version: 1.0.0
pdf:
  max_pages: 40
server:
  port: 9000
`)
	t.Setenv("VERSION", "2.0.0")
	t.Setenv("PDF_MAX_PAGES", "10")
	t.Setenv("PDF_MAX_FILE_SIZE_MB", "25")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("DEBUG", "true")
	t.Setenv("KAPI_SERVER_PORT", "9100")
	t.Setenv("KAPI_VECTOR_COLLECTION", "manuals")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "2.0.0", cfg.Version)
	assert.Equal(t, 10, cfg.PDF.MaxPages)
	assert.Equal(t, 25, cfg.PDF.MaxFileSizeMB)
	assert.Equal(t, "sk-test", cfg.OpenAIAPIKey)
	assert.True(t, cfg.Debug)
	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, "manuals", cfg.Vector.Collection)
}

func TestLoadConfigMissingExplicitFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"negative pages", "pdf:\n  max_pages: -1\n"},
		{"negative size", "pdf:\n  max_file_size_mb: -5\n"},
		{"bad port", "server:\n  port: 70000\n"},
		{"unknown provider", "embedding:\n  provider: word2vec\n"},
		{"unknown store", "vector:\n  store: faiss\n"},
		{"limits inverted", "search:\n  default_limit: 10\n  max_limit: 5\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.body))
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestEnvKey(t *testing.T) {
	assert.Equal(t, "pdf.max_pages", envKey("PDF_MAX_PAGES"))
	assert.Equal(t, "server.upload_dir", envKey("KAPI_SERVER_UPLOAD_DIR"))
	assert.Equal(t, "debug", envKey("KAPI_DEBUG"))
	assert.Equal(t, "openai_api_key", envKey("KAPI_OPENAI_API_KEY"))
	assert.Equal(t, "api_v1_str", envKey("KAPI_API_V1_STR"))
	assert.Equal(t, "project_name", envKey("KAPI_PROJECT_NAME"))
	assert.Equal(t, "vector.qdrant_api_key", envKey("KAPI_VECTOR_QDRANT_API_KEY"))
	assert.Equal(t, "", envKey("HOME"))
}

func TestYAMLRedactsSecrets(t *testing.T) {
	cfg := Default()
	cfg.OpenAIAPIKey = "sk-secret"
	cfg.Database.DSN = "postgres://u:p@db/jobs"

	out, err := cfg.YAML()
	require.NoError(t, err)
	assert.NotContains(t, string(out), "sk-secret")
	assert.NotContains(t, string(out), "u:p@db")
	assert.Contains(t, string(out), "project_name: Knowledge API")
	assert.Equal(t, "sk-secret", cfg.OpenAIAPIKey)
}
