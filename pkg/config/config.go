// Package config loads nexus settings from an optional YAML file with
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full process configuration.
type Config struct {
	DataDir string       `yaml:"data_dir"`
	Log     LogConfig    `yaml:"log"`
	HTTP    HTTPConfig   `yaml:"http"`
	Neo4j   Neo4jConfig  `yaml:"neo4j"`
	LLM     LLMConfig    `yaml:"llm"`
	Vector  VectorConfig `yaml:"vector"`
	NATS    NATSConfig   `yaml:"nats"`
	RAG     RAGConfig    `yaml:"rag"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type HTTPConfig struct {
	Port       string `yaml:"port"`
	CORSOrigin string `yaml:"cors_origin"`
}

type Neo4jConfig struct {
	URL       string `yaml:"url"`
	User      string `yaml:"user"`
	Pass      string `yaml:"pass"`
	Database  string `yaml:"database"`
	BatchSize int    `yaml:"batch_size"`
}

// LLMConfig selects the embedding and completion provider.
type LLMConfig struct {
	Provider          string        `yaml:"provider"` // ollama | openai
	OllamaURL         string        `yaml:"ollama_url"`
	OpenAIBaseURL     string        `yaml:"openai_base_url"`
	OpenAIKey         string        `yaml:"openai_api_key"`
	EmbedModel        string        `yaml:"embed_model"`
	ChatModel         string        `yaml:"chat_model"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	HTTPTimeout       time.Duration `yaml:"http_timeout"`
}

type VectorConfig struct {
	Backend     string         `yaml:"backend"` // local | qdrant
	BatchSize   int            `yaml:"batch_size"`
	Concurrency int            `yaml:"concurrency"`
	Snapshot    SnapshotConfig `yaml:"snapshot"`
	Minio       MinioConfig    `yaml:"minio"`
	Qdrant      QdrantConfig   `yaml:"qdrant"`
}

type SnapshotConfig struct {
	Store string `yaml:"store"` // file | minio | none
	Dir   string `yaml:"dir"`
	Name  string `yaml:"name"`
	Codec string `yaml:"codec"` // zstd | lz4 | none
}

type MinioConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
	UseSSL    bool   `yaml:"use_ssl"`
}

type QdrantConfig struct {
	Addr       string `yaml:"addr"`
	Collection string `yaml:"collection"`
	// Mirror upserts facts into Qdrant during ingestion even when the local
	// backend serves queries.
	Mirror bool `yaml:"mirror"`
}

type NATSConfig struct {
	URL   string `yaml:"url"` // empty disables NATS
	Queue string `yaml:"queue"`
}

// RAGConfig tunes the query pipeline.
type RAGConfig struct {
	TopK              int           `yaml:"top_k"`
	MaxTokens         int           `yaml:"max_tokens"`
	Temperature       float32       `yaml:"temperature"`
	EmbedTimeout      time.Duration `yaml:"embed_timeout"`
	GraphTimeout      time.Duration `yaml:"graph_timeout"`
	CompletionTimeout time.Duration `yaml:"completion_timeout"`
	BreakerThreshold  int           `yaml:"breaker_threshold"`
	BreakerCooldown   time.Duration `yaml:"breaker_cooldown"`
}

// Default returns settings that work against a local docker-compose stack.
func Default() Config {
	return Config{
		DataDir: "data",
		Log:     LogConfig{Level: "info"},
		HTTP:    HTTPConfig{Port: "8080", CORSOrigin: "*"},
		Neo4j: Neo4jConfig{
			URL:       "neo4j://localhost:7687",
			User:      "neo4j",
			Pass:      "password",
			BatchSize: 500,
		},
		LLM: LLMConfig{
			Provider:    "ollama",
			OllamaURL:   "http://localhost:11434",
			EmbedModel:  "nomic-embed-text",
			ChatModel:   "llama3",
			HTTPTimeout: 2 * time.Minute,
		},
		Vector: VectorConfig{
			Backend:     "local",
			BatchSize:   32,
			Concurrency: 4,
			Snapshot:    SnapshotConfig{Store: "file", Dir: "data/index", Name: "facts.nxvi", Codec: "zstd"},
			Minio:       MinioConfig{Endpoint: "localhost:9000", Bucket: "nexus", Prefix: "snapshots/"},
			Qdrant:      QdrantConfig{Addr: "localhost:6334", Collection: "nexus_facts"},
		},
		NATS: NATSConfig{Queue: "nexus"},
		RAG: RAGConfig{
			TopK:              5,
			MaxTokens:         500,
			Temperature:       0.3,
			EmbedTimeout:      30 * time.Second,
			GraphTimeout:      10 * time.Second,
			CompletionTimeout: 2 * time.Minute,
			BreakerThreshold:  3,
			BreakerCooldown:   30 * time.Second,
		},
	}
}

// Load reads path over Default and applies environment overrides. An empty
// path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	cfg.ApplyEnv(os.Getenv)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from environment variables looked up by getenv.
func (c *Config) ApplyEnv(getenv func(string) string) {
	envOr := func(key, fallback string) string {
		if v := getenv(key); v != "" {
			return v
		}
		return fallback
	}

	c.DataDir = envOr("DATA_DIR", c.DataDir)
	c.Log.Level = envOr("LOG_LEVEL", c.Log.Level)
	c.HTTP.Port = envOr("PORT", c.HTTP.Port)
	c.HTTP.CORSOrigin = envOr("CORS_ORIGIN", c.HTTP.CORSOrigin)
	c.Neo4j.URL = envOr("NEO4J_URL", c.Neo4j.URL)
	c.Neo4j.User = envOr("NEO4J_USER", c.Neo4j.User)
	c.Neo4j.Pass = envOr("NEO4J_PASS", c.Neo4j.Pass)
	c.Neo4j.Database = envOr("NEO4J_DATABASE", c.Neo4j.Database)
	c.LLM.Provider = envOr("LLM_PROVIDER", c.LLM.Provider)
	c.LLM.OllamaURL = envOr("OLLAMA_URL", c.LLM.OllamaURL)
	c.LLM.OpenAIBaseURL = envOr("OPENAI_BASE_URL", c.LLM.OpenAIBaseURL)
	c.LLM.OpenAIKey = envOr("OPENAI_API_KEY", c.LLM.OpenAIKey)
	c.LLM.EmbedModel = envOr("EMBED_MODEL", c.LLM.EmbedModel)
	c.LLM.ChatModel = envOr("CHAT_MODEL", c.LLM.ChatModel)
	c.Vector.Backend = envOr("VECTOR_BACKEND", c.Vector.Backend)
	c.Vector.Snapshot.Store = envOr("SNAPSHOT_STORE", c.Vector.Snapshot.Store)
	c.Vector.Snapshot.Dir = envOr("SNAPSHOT_DIR", c.Vector.Snapshot.Dir)
	c.Vector.Snapshot.Codec = envOr("SNAPSHOT_CODEC", c.Vector.Snapshot.Codec)
	c.Vector.Minio.Endpoint = envOr("MINIO_ENDPOINT", c.Vector.Minio.Endpoint)
	c.Vector.Minio.AccessKey = envOr("MINIO_ACCESS_KEY", c.Vector.Minio.AccessKey)
	c.Vector.Minio.SecretKey = envOr("MINIO_SECRET_KEY", c.Vector.Minio.SecretKey)
	c.Vector.Minio.Bucket = envOr("MINIO_BUCKET", c.Vector.Minio.Bucket)
	c.Vector.Qdrant.Addr = envOr("QDRANT_URL", c.Vector.Qdrant.Addr)
	c.Vector.Qdrant.Collection = envOr("QDRANT_COLLECTION", c.Vector.Qdrant.Collection)
	c.NATS.URL = envOr("NATS_URL", c.NATS.URL)

	if v, err := strconv.Atoi(getenv("RAG_TOP_K")); err == nil {
		c.RAG.TopK = v
	}
	if v, err := strconv.ParseFloat(getenv("LLM_RPS"), 64); err == nil {
		c.LLM.RequestsPerSecond = v
	}
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.DataDir != "", "data_dir is required")
	_, lvlErr := c.LogLevel()
	check(lvlErr == nil, "log.level %q is not debug, info, warn or error", c.Log.Level)
	check(c.HTTP.Port != "", "http.port is required")
	check(c.Neo4j.URL != "", "neo4j.url is required")
	check(c.Neo4j.BatchSize > 0, "neo4j.batch_size must be positive")
	check(oneOf(c.LLM.Provider, "ollama", "openai"), "llm.provider %q is not ollama or openai", c.LLM.Provider)
	check(c.LLM.Provider != "openai" || c.LLM.OpenAIKey != "", "llm.openai_api_key is required for the openai provider")
	check(c.LLM.RequestsPerSecond >= 0, "llm.requests_per_second must not be negative")
	check(oneOf(c.Vector.Backend, "local", "qdrant"), "vector.backend %q is not local or qdrant", c.Vector.Backend)
	check(c.Vector.BatchSize > 0, "vector.batch_size must be positive")
	check(c.Vector.Concurrency > 0, "vector.concurrency must be positive")
	check(oneOf(c.Vector.Snapshot.Store, "file", "minio", "none"), "vector.snapshot.store %q is not file, minio or none", c.Vector.Snapshot.Store)
	check(oneOf(c.Vector.Snapshot.Codec, "zstd", "lz4", "none"), "vector.snapshot.codec %q is not zstd, lz4 or none", c.Vector.Snapshot.Codec)
	check(c.Vector.Snapshot.Store == "none" || c.Vector.Snapshot.Name != "", "vector.snapshot.name is required")
	check(c.Vector.Backend != "local" || c.Vector.Snapshot.Store != "none", "the local vector backend needs a snapshot store")
	check(c.RAG.TopK > 0, "rag.top_k must be positive")
	check(c.RAG.MaxTokens > 0, "rag.max_tokens must be positive")
	check(c.RAG.Temperature >= 0, "rag.temperature must not be negative")
	check(c.RAG.EmbedTimeout > 0 && c.RAG.GraphTimeout > 0 && c.RAG.CompletionTimeout > 0, "rag timeouts must be positive")
	check(c.RAG.BreakerThreshold > 0, "rag.breaker_threshold must be positive")

	if len(errs) > 0 {
		return fmt.Errorf("config: invalid: %w", errors.Join(errs...))
	}
	return nil
}

// LogLevel parses Log.Level.
func (c Config) LogLevel() (slog.Level, error) {
	var lvl slog.Level
	err := lvl.UnmarshalText([]byte(c.Log.Level))
	return lvl, err
}

func oneOf(v string, options ...string) bool {
	for _, o := range options {
		if v == o {
			return true
		}
	}
	return false
}
