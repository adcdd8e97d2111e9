package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// OpenAIEmbedderConfig holds configuration for the OpenAI-compatible embedder.
type OpenAIEmbedderConfig struct {
	BaseURL     string `yaml:"base_url"`
	APIKeyEnv   string `yaml:"api_key_env"`
	Model       string `yaml:"model"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

// GoogleAIEmbedderConfig holds configuration for the Gemini embedder.
type GoogleAIEmbedderConfig struct {
	APIKeyEnv string `yaml:"api_key_env"`
	Model     string `yaml:"model"`
	BatchSize int    `yaml:"batch_size"`
}

// EmbedderConfig selects and configures the text embedder implementation.
type EmbedderConfig struct {
	Type      string                  `yaml:"type"`
	CacheSize int                     `yaml:"cache_size"`
	OpenAI    *OpenAIEmbedderConfig   `yaml:"openai,omitempty"`
	GoogleAI  *GoogleAIEmbedderConfig `yaml:"googleai,omitempty"`
}

// VectorStoreConfig selects and configures the vector store implementation.
type VectorStoreConfig struct {
	Type     string          `yaml:"type"`
	Qdrant   *QdrantConfig   `yaml:"qdrant,omitempty"`
	PGVector *PGVectorConfig `yaml:"pgvector,omitempty"`
}

// QdrantConfig contains connection details for a Qdrant vector store.
type QdrantConfig struct {
	URL         string `yaml:"url"`
	APIKey      string `yaml:"api_key"`
	Collection  string `yaml:"collection"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

// PGVectorConfig contains connection details for a Postgres pgvector store.
type PGVectorConfig struct {
	DSN    string `yaml:"dsn"`
	DSNEnv string `yaml:"dsn_env"`
	Table  string `yaml:"table"`
}

// CorpusConfig binds one reference corpus to its embedder and store.
type CorpusConfig struct {
	Embedder    EmbedderConfig    `yaml:"embedder"`
	VectorStore VectorStoreConfig `yaml:"vector_store"`
	TopK        int               `yaml:"top_k"`
	DataPath    string            `yaml:"data_path"`
}

// CorporaConfig holds both reference corpora.
type CorporaConfig struct {
	Tabular CorpusConfig `yaml:"tabular"`
	Index   CorpusConfig `yaml:"index"`
}

// RetrievalConfig bounds per-condition results.
type RetrievalConfig struct {
	SingleConditionCap int `yaml:"single_condition_cap"`
	MultiConditionCap  int `yaml:"multi_condition_cap"`
}

// LLMConfig selects the chat model used by the coding agent.
type LLMConfig struct {
	Provider    string  `yaml:"provider"`
	Model       string  `yaml:"model"`
	APIKeyEnv   string  `yaml:"api_key_env"`
	BaseURL     string  `yaml:"base_url"`
	Temperature float64 `yaml:"temperature"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr            string `yaml:"addr"`
	RequireApproval bool   `yaml:"require_approval"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// AppConfig is the root application configuration structure.
type AppConfig struct {
	Corpora   CorporaConfig   `yaml:"corpora"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	LLM       LLMConfig       `yaml:"llm"`
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
}

// Load reads a config from a specified path. If the file does not exist, returns defaults.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return DefaultConfig(), nil
		}
		return nil, err
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	applyConfigDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// LoadDefault tries ./config.yaml first, then ~/.config/icdcoder/config.yaml.
// If neither exists, it writes defaults to ~/.config/icdcoder/config.yaml and returns them.
func LoadDefault() (*AppConfig, string, error) {
	cwdPath := "config.yaml"
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
	cfg := DefaultConfig()
	if err := Save(userPath, cfg); err != nil {
		return nil, "", err
	}
	return cfg, userPath, nil
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

func defaultUserConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "icdcoder", "config.yaml"), nil
}

// DefaultConfig runs fully offline: TF-IDF embeddings over in-memory stores
// loaded from the extracted CSVs.
func DefaultConfig() *AppConfig {
	return &AppConfig{
		Corpora: CorporaConfig{
			Tabular: CorpusConfig{
				Embedder:    EmbedderConfig{Type: "tfidf"},
				VectorStore: VectorStoreConfig{Type: "memory"},
				TopK:        5,
				DataPath:    "data/icd10_tabular_extracted.csv",
			},
			Index: CorpusConfig{
				Embedder:    EmbedderConfig{Type: "tfidf"},
				VectorStore: VectorStoreConfig{Type: "memory"},
				TopK:        5,
				DataPath:    "data/icd10_index_extracted.csv",
			},
		},
		Retrieval: RetrievalConfig{SingleConditionCap: 5, MultiConditionCap: 3},
		LLM:       LLMConfig{Provider: "googleai", Model: "gemini-2.5-flash", Temperature: 0.1},
		Server:    ServerConfig{Addr: ":8000", RequireApproval: true},
		Log:       LogConfig{Level: "info"},
	}
}

func applyConfigDefaults(cfg *AppConfig) {
	applyCorpusDefaults(&cfg.Corpora.Tabular, "icd10cm")
	applyCorpusDefaults(&cfg.Corpora.Index, "icd10_index")
	if cfg.Retrieval.SingleConditionCap <= 0 {
		cfg.Retrieval.SingleConditionCap = 5
	}
	if cfg.Retrieval.MultiConditionCap <= 0 {
		cfg.Retrieval.MultiConditionCap = 3
	}
	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = "googleai"
	}
	if cfg.LLM.Model == "" {
		switch cfg.LLM.Provider {
		case "openai":
			cfg.LLM.Model = "gpt-4o-mini"
		default:
			cfg.LLM.Model = "gemini-2.5-flash"
		}
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8000"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}

func applyCorpusDefaults(c *CorpusConfig, collection string) {
	if c.TopK <= 0 {
		c.TopK = 5
	}
	if c.Embedder.Type == "" {
		c.Embedder.Type = "tfidf"
	}
	if c.VectorStore.Type == "" {
		c.VectorStore.Type = "memory"
	}
	switch c.Embedder.Type {
	case "openai":
		if c.Embedder.OpenAI == nil {
			c.Embedder.OpenAI = &OpenAIEmbedderConfig{}
		}
		if c.Embedder.OpenAI.BaseURL == "" {
			c.Embedder.OpenAI.BaseURL = "https://api.openai.com/v1"
		}
		if c.Embedder.OpenAI.APIKeyEnv == "" {
			c.Embedder.OpenAI.APIKeyEnv = "OPENAI_API_KEY"
		}
		if c.Embedder.OpenAI.Model == "" {
			c.Embedder.OpenAI.Model = "text-embedding-3-small"
		}
		if c.Embedder.OpenAI.TimeoutSecs == 0 {
			c.Embedder.OpenAI.TimeoutSecs = 30
		}
	case "googleai":
		if c.Embedder.GoogleAI == nil {
			c.Embedder.GoogleAI = &GoogleAIEmbedderConfig{}
		}
		if c.Embedder.GoogleAI.APIKeyEnv == "" {
			c.Embedder.GoogleAI.APIKeyEnv = "GOOGLE_API_KEY"
		}
		if c.Embedder.GoogleAI.Model == "" {
			c.Embedder.GoogleAI.Model = "models/embedding-001"
		}
	}
	switch c.VectorStore.Type {
	case "qdrant":
		if c.VectorStore.Qdrant == nil {
			c.VectorStore.Qdrant = &QdrantConfig{}
		}
		if c.VectorStore.Qdrant.URL == "" {
			c.VectorStore.Qdrant.URL = "http://localhost:6333"
		}
		if c.VectorStore.Qdrant.Collection == "" {
			c.VectorStore.Qdrant.Collection = collection
		}
	case "pgvector":
		if c.VectorStore.PGVector == nil {
			c.VectorStore.PGVector = &PGVectorConfig{}
		}
		if c.VectorStore.PGVector.Table == "" {
			c.VectorStore.PGVector.Table = collection
		}
		if c.VectorStore.PGVector.DSN == "" && c.VectorStore.PGVector.DSNEnv == "" {
			c.VectorStore.PGVector.DSNEnv = "DATABASE_URL"
		}
	}
}

// Validate rejects unknown component types.
func (c *AppConfig) Validate() error {
	var errs []error
	for name, corpus := range map[string]CorpusConfig{"tabular": c.Corpora.Tabular, "index": c.Corpora.Index} {
		if !oneOf(corpus.Embedder.Type, "tfidf", "openai", "googleai") {
			errs = append(errs, fmt.Errorf("corpora.%s.embedder.type: unknown %q", name, corpus.Embedder.Type))
		}
		if !oneOf(corpus.VectorStore.Type, "memory", "qdrant", "pgvector") {
			errs = append(errs, fmt.Errorf("corpora.%s.vector_store.type: unknown %q", name, corpus.VectorStore.Type))
		}
		if corpus.Embedder.Type == "tfidf" && corpus.VectorStore.Type != "memory" {
			errs = append(errs, fmt.Errorf("corpora.%s: tfidf embeddings only work with the memory store", name))
		}
		if corpus.Embedder.CacheSize < 0 {
			errs = append(errs, fmt.Errorf("corpora.%s.embedder.cache_size must not be negative", name))
		}
	}
	if !oneOf(c.LLM.Provider, "googleai", "openai", "none") {
		errs = append(errs, fmt.Errorf("llm.provider: unknown %q", c.LLM.Provider))
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		errs = append(errs, fmt.Errorf("llm.temperature %v out of range", c.LLM.Temperature))
	}
	return errors.Join(errs...)
}

// ResolveDSN returns the DSN, reading it from the environment when configured so.
func (p *PGVectorConfig) ResolveDSN() string {
	if p.DSN != "" {
		return p.DSN
	}
	return os.Getenv(p.DSNEnv)
}

func oneOf(v string, options ...string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	for _, o := range options {
		if v == o {
			return true
		}
	}
	return false
}
