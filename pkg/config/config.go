package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	Neo4j     Neo4jConfig
	Milvus    MilvusConfig
	SQLite    SQLiteConfig
	Redis     RedisConfig
	LLM       LLMConfig
	RAG       RAGConfig
	Session   SessionConfig
	Cache     CacheConfig
	Ingestion IngestionConfig
	Events    EventsConfig
	Tracing   TracingConfig
	Logging   LoggingConfig
}

type ServerConfig struct {
	Host           string
	Port           int
	ReadTimeout    int
	WriteTimeout   int
	BodyLimit      int
	CORSOrigins    string
	RateLimit      float64
	RateBurst      int
	MaxQueryLength int
}

type Neo4jConfig struct {
	URI      string
	Username string
	Password string
	Database string
}

type MilvusConfig struct {
	Address        string
	APIKey         string
	CollectionName string
	VectorDim      int
	MetricType     string
	NList          int
	NProbe         int
}

type SQLiteConfig struct {
	Path string
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

type LLMConfig struct {
	BaseURL        string
	APIKey         string
	Model          string
	Temperature    float32
	MaxTokens      int
	TimeoutSec     int
	EmbeddingModel string
}

// RAGConfig drives retrieval and fusion.
type RAGConfig struct {
	TopK               int
	GraphDepth         int
	RelationCap        int
	CharBudget         int
	MinScore           float64
	MaxEntities        int
	RetrievalTimeoutMs int
	GraphRankOrder     []string
	PromptHistoryTurns int
	DefaultPersona     string
}

type SessionConfig struct {
	Backend              string
	TTLMinutes           int
	MaxTurns             int
	SweepIntervalSeconds int
}

type CacheConfig struct {
	EmbeddingTTLSeconds int
	PassageTTLSeconds   int
}

type IngestionConfig struct {
	ChunkSize    int
	ChunkOverlap int
	Topic        string
}

type EventsConfig struct {
	NATSURL string
}

type TracingConfig struct {
	Enabled     bool
	Endpoint    string
	ServiceName string
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

func (c RAGConfig) RetrievalTimeout() time.Duration {
	return time.Duration(c.RetrievalTimeoutMs) * time.Millisecond
}

func (c SessionConfig) TTL() time.Duration {
	return time.Duration(c.TTLMinutes) * time.Minute
}

func (c SessionConfig) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSeconds) * time.Second
}

func Load() (*Config, error) {
	// .env is optional; real environment variables win over it.
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/ai-tourguide")

	v.SetEnvPrefix("TOURGUIDE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the retrieval pipeline cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.RAG.TopK < 1:
		return fmt.Errorf("rag.topK must be >= 1, got %d", c.RAG.TopK)
	case c.RAG.GraphDepth < 1:
		return fmt.Errorf("rag.graphDepth must be >= 1, got %d", c.RAG.GraphDepth)
	case c.RAG.RelationCap < 1:
		return fmt.Errorf("rag.relationCap must be >= 1, got %d", c.RAG.RelationCap)
	case c.RAG.CharBudget < 1:
		return fmt.Errorf("rag.charBudget must be >= 1, got %d", c.RAG.CharBudget)
	case c.Session.MaxTurns < 1:
		return fmt.Errorf("session.maxTurns must be >= 1, got %d", c.Session.MaxTurns)
	}
	switch c.Session.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("session.backend must be memory or redis, got %q", c.Session.Backend)
	}
	if c.Session.Backend == "redis" && !c.Redis.Enabled {
		return errors.New("session.backend=redis requires redis.enabled")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 120)
	v.SetDefault("server.bodyLimit", 10485760)
	v.SetDefault("server.corsOrigins", "*")
	v.SetDefault("server.rateLimit", 5.0)
	v.SetDefault("server.rateBurst", 20)
	v.SetDefault("server.maxQueryLength", 2000)

	v.SetDefault("neo4j.uri", "bolt://localhost:7687")
	v.SetDefault("neo4j.username", "neo4j")
	v.SetDefault("neo4j.password", "password")
	v.SetDefault("neo4j.database", "neo4j")

	v.SetDefault("milvus.address", "localhost:19530")
	v.SetDefault("milvus.collectionName", "tour_knowledge")
	v.SetDefault("milvus.vectorDim", 384)
	v.SetDefault("milvus.metricType", "L2")
	v.SetDefault("milvus.nList", 128)
	v.SetDefault("milvus.nProbe", 10)

	v.SetDefault("sqlite.path", "./data/tourguide.db")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)

	v.SetDefault("llm.baseURL", "https://api.openai.com/v1")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.temperature", 0.7)
	v.SetDefault("llm.maxTokens", 1024)
	v.SetDefault("llm.timeoutSec", 60)
	v.SetDefault("llm.embeddingModel", "BAAI/bge-small-zh-v1.5")

	v.SetDefault("rag.topK", 5)
	v.SetDefault("rag.graphDepth", 2)
	v.SetDefault("rag.relationCap", 20)
	v.SetDefault("rag.charBudget", 2000)
	v.SetDefault("rag.minScore", 0.0)
	v.SetDefault("rag.maxEntities", 5)
	v.SetDefault("rag.retrievalTimeoutMs", 3000)
	v.SetDefault("rag.graphRankOrder", []string{"confidence", "degree"})
	v.SetDefault("rag.promptHistoryTurns", 20)
	v.SetDefault("rag.defaultPersona", "你是一位热情、专业的景区导游，用简洁友好的中文回答游客的问题。")

	v.SetDefault("session.backend", "memory")
	v.SetDefault("session.ttlMinutes", 120)
	v.SetDefault("session.maxTurns", 50)
	v.SetDefault("session.sweepIntervalSeconds", 60)

	v.SetDefault("cache.embeddingTTLSeconds", 1800)
	v.SetDefault("cache.passageTTLSeconds", 3600)

	v.SetDefault("ingestion.chunkSize", 500)
	v.SetDefault("ingestion.chunkOverlap", 50)
	v.SetDefault("ingestion.topic", "knowledge.upload")

	v.SetDefault("events.natsURL", "")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.endpoint", "localhost:4318")
	v.SetDefault("tracing.serviceName", "ai-tourguide")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.outputPath", "stdout")
}
