package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// OpenAIEmbedderConfig holds configuration for the OpenAI-compatible embedder.
type OpenAIEmbedderConfig struct {
	BaseURL           string  `yaml:"base_url"`
	APIKeyEnv         string  `yaml:"api_key_env"`
	Model             string  `yaml:"model"`
	TimeoutSecs       int     `yaml:"timeout_secs"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

// HashingEmbedderConfig configures the offline hashing embedder.
type HashingEmbedderConfig struct {
	Dimension int `yaml:"dimension"`
}

// RetryConfig configures retries around embedding calls.
type RetryConfig struct {
	MaxAttempts   int     `yaml:"max_attempts"`
	BaseDelaySecs float64 `yaml:"base_delay_secs"`
	MaxDelaySecs  float64 `yaml:"max_delay_secs"`
	Jitter        float64 `yaml:"jitter"`
}

// BaseDelay returns BaseDelaySecs as a duration.
func (r RetryConfig) BaseDelay() time.Duration { return secs(r.BaseDelaySecs) }

// MaxDelay returns MaxDelaySecs as a duration.
func (r RetryConfig) MaxDelay() time.Duration { return secs(r.MaxDelaySecs) }

// EmbedderConfig selects and configures the text embedder implementation.
type EmbedderConfig struct {
	Type    string                 `yaml:"type"`
	OpenAI  *OpenAIEmbedderConfig  `yaml:"openai,omitempty"`
	Hashing *HashingEmbedderConfig `yaml:"hashing,omitempty"`
	Retry   RetryConfig            `yaml:"retry"`
}

// ChunkerConfig configures how documents are split into chunks.
type ChunkerConfig struct {
	Type              string `yaml:"type"`
	Size              int    `yaml:"size"`
	Overlap           int    `yaml:"overlap"`
	SentencesPerChunk int    `yaml:"sentences_per_chunk"`
	OverlapSentences  int    `yaml:"overlap_sentences"`
}

// BuildConfig tunes the ingestion loop.
type BuildConfig struct {
	Streaming      bool `yaml:"streaming"`
	FlushThreshold int  `yaml:"flush_threshold"`
	EmbedBatch     int  `yaml:"embed_batch"`
	SafeMode       bool `yaml:"safe_mode"`
	MaxChunks      int  `yaml:"max_chunks"`
}

// SourceConfig locates input documents.
type SourceConfig struct {
	InputDir string   `yaml:"input_dir"`
	Include  []string `yaml:"include,omitempty"`
	Exclude  []string `yaml:"exclude,omitempty"`
}

// SearchConfig configures the query side.
type SearchConfig struct {
	TopK int `yaml:"top_k"`
}

// AppConfig is the root application configuration structure.
type AppConfig struct {
	IndexDir string         `yaml:"index_dir"`
	Tenant   string         `yaml:"tenant"`
	Embedder EmbedderConfig `yaml:"embedder"`
	Chunker  ChunkerConfig  `yaml:"chunker"`
	Build    BuildConfig    `yaml:"build"`
	Source   SourceConfig   `yaml:"source"`
	Search   SearchConfig   `yaml:"search"`
}

// Load reads a config from a specified path. If the file does not exist, returns defaults.
// Environment overrides are applied in both cases.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			cfg := defaultConfig()
			if err := ApplyEnv(cfg, os.LookupEnv); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, err
	}
	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	applyConfigDefaults(cfg)
	if err := ApplyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDefault tries ./ragindex.yaml first, then ~/.config/ragindex/config.yaml.
// If neither exists, it writes defaults to ~/.config/ragindex/config.yaml and returns them.
func LoadDefault() (*AppConfig, string, error) {
	cwdPath := "ragindex.yaml"
	if _, err := os.Stat(cwdPath); err == nil {
		cfg, err := Load(cwdPath)
		return cfg, cwdPath, err
	}
	userPath, err := defaultUserConfigPath()
	if err != nil {
		return nil, "", err
	}
	if _, err := os.Stat(userPath); err == nil {
		cfg, err := Load(userPath)
		return cfg, userPath, err
	}
	if err := Save(userPath, defaultConfig()); err != nil {
		return nil, "", err
	}
	cfg, err := Load(userPath)
	return cfg, userPath, err
}

// Save writes the config to the given path, creating directories as needed.
func Save(path string, cfg *AppConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate rejects settings the build or search path cannot run with.
func (c *AppConfig) Validate() error {
	var errs []error
	if c.IndexDir == "" {
		errs = append(errs, errors.New("index_dir must be set"))
	}
	switch c.Chunker.Type {
	case "window":
		if c.Chunker.Size <= 0 {
			errs = append(errs, fmt.Errorf("chunker.size must be positive, got %d", c.Chunker.Size))
		}
		if c.Chunker.Overlap < 0 || c.Chunker.Overlap >= c.Chunker.Size {
			errs = append(errs, fmt.Errorf("chunker.overlap must be in [0, size), got %d with size %d", c.Chunker.Overlap, c.Chunker.Size))
		}
	case "sentence":
		if c.Chunker.SentencesPerChunk <= 0 {
			errs = append(errs, fmt.Errorf("chunker.sentences_per_chunk must be positive, got %d", c.Chunker.SentencesPerChunk))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown chunker type %q", c.Chunker.Type))
	}
	switch c.Embedder.Type {
	case "openai", "hashing":
	default:
		errs = append(errs, fmt.Errorf("unknown embedder type %q", c.Embedder.Type))
	}
	if c.Build.FlushThreshold <= 0 {
		errs = append(errs, fmt.Errorf("build.flush_threshold must be positive, got %d", c.Build.FlushThreshold))
	}
	if c.Build.EmbedBatch <= 0 {
		errs = append(errs, fmt.Errorf("build.embed_batch must be positive, got %d", c.Build.EmbedBatch))
	}
	if c.Build.MaxChunks < 0 {
		errs = append(errs, fmt.Errorf("build.max_chunks must not be negative, got %d", c.Build.MaxChunks))
	}
	if c.Embedder.Retry.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("embedder.retry.max_attempts must be at least 1, got %d", c.Embedder.Retry.MaxAttempts))
	}
	if c.Embedder.Retry.BaseDelaySecs < 0 || c.Embedder.Retry.MaxDelaySecs < 0 {
		errs = append(errs, errors.New("embedder.retry delays must not be negative"))
	}
	if c.Embedder.Retry.Jitter < 0 || c.Embedder.Retry.Jitter >= 1 {
		errs = append(errs, fmt.Errorf("embedder.retry.jitter must be in [0, 1), got %g", c.Embedder.Retry.Jitter))
	}
	return errors.Join(errs...)
}

// ApplyEnv overrides cfg with the indexer's environment variables.
func ApplyEnv(cfg *AppConfig, lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	var errs []error
	num := func(key string, dst *int) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = n
	}

	str("INDEX_DIR", &cfg.IndexDir)
	str("INPUT_DIR", &cfg.Source.InputDir)
	str("TENANT_ID", &cfg.Tenant)
	num("CHUNK_SIZE", &cfg.Chunker.Size)
	num("CHUNK_OVERLAP", &cfg.Chunker.Overlap)
	num("STREAM_FLUSH", &cfg.Build.FlushThreshold)
	num("EMBED_BATCH", &cfg.Build.EmbedBatch)
	num("MAX_CHUNKS", &cfg.Build.MaxChunks)
	num("TOP_K", &cfg.Search.TopK)
	if v, ok := lookup("STREAM_EMBED"); ok {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "0", "false", "no":
			cfg.Build.Streaming = false
		default:
			cfg.Build.Streaming = true
		}
	}
	if v, ok := lookup("SAFE_MODE"); ok && v != "" {
		cfg.Build.SafeMode = true
	}
	if v, ok := lookup("OFFLINE_EMBED"); ok && v != "" {
		cfg.Embedder.Type = "hashing"
	}
	if cfg.Embedder.OpenAI != nil {
		str("EMBEDDING_MODEL", &cfg.Embedder.OpenAI.Model)
		str("OPENAI_BASE_URL", &cfg.Embedder.OpenAI.BaseURL)
	}
	return errors.Join(errs...)
}

func defaultUserConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "ragindex", "config.yaml"), nil
}

func defaultConfig() *AppConfig {
	cfg := &AppConfig{
		IndexDir: "data/index",
		Tenant:   "default",
		Embedder: EmbedderConfig{
			Type:    "openai",
			OpenAI:  &OpenAIEmbedderConfig{},
			Hashing: &HashingEmbedderConfig{},
			// Retry values are all meaningful at zero, so they are only
			// defaulted here, before the file is read.
			Retry: RetryConfig{MaxAttempts: 5, BaseDelaySecs: 2, MaxDelaySecs: 30, Jitter: 0.2},
		},
		Chunker: ChunkerConfig{Type: "window", Size: 1000, Overlap: 200},
		Build:   BuildConfig{Streaming: true},
		Source:  SourceConfig{InputDir: "data/input"},
	}
	applyConfigDefaults(cfg)
	return cfg
}

func applyConfigDefaults(cfg *AppConfig) {
	if cfg.Chunker.Type == "" {
		cfg.Chunker.Type = "window"
	}
	if cfg.Chunker.Size == 0 {
		cfg.Chunker.Size = 1000
	}
	if cfg.Chunker.SentencesPerChunk == 0 {
		cfg.Chunker.SentencesPerChunk = 5
	}
	if cfg.Build.FlushThreshold == 0 {
		cfg.Build.FlushThreshold = 64
	}
	if cfg.Build.EmbedBatch == 0 {
		cfg.Build.EmbedBatch = 32
	}
	if cfg.Search.TopK == 0 {
		cfg.Search.TopK = 5
	}
	if cfg.Embedder.Type == "" {
		cfg.Embedder.Type = "openai"
	}
	if cfg.Embedder.OpenAI == nil {
		cfg.Embedder.OpenAI = &OpenAIEmbedderConfig{}
	}
	if cfg.Embedder.OpenAI.BaseURL == "" {
		cfg.Embedder.OpenAI.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Embedder.OpenAI.APIKeyEnv == "" {
		cfg.Embedder.OpenAI.APIKeyEnv = "OPENAI_API_KEY"
	}
	if cfg.Embedder.OpenAI.Model == "" {
		cfg.Embedder.OpenAI.Model = "text-embedding-3-large"
	}
	if cfg.Embedder.OpenAI.TimeoutSecs == 0 {
		cfg.Embedder.OpenAI.TimeoutSecs = 60
	}
	if cfg.Embedder.Hashing == nil {
		cfg.Embedder.Hashing = &HashingEmbedderConfig{}
	}
	if cfg.Embedder.Hashing.Dimension == 0 {
		cfg.Embedder.Hashing.Dimension = 256
	}
}

func secs(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
