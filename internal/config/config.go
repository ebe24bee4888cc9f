// Package config 负责加载和管理应用程序的配置。
package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// 全局配置变量，存储从配置文件加载的所有设置。
var Conf Config

// Config 是整个应用程序的配置结构体，与 config.yaml 文件结构对应。
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	JWT           JWTConfig           `mapstructure:"jwt"`
	Log           LogConfig           `mapstructure:"log"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
	Parser        ParserConfig        `mapstructure:"parser"`
	Vision        VisionConfig        `mapstructure:"vision"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	MinIO         MinIOConfig         `mapstructure:"minio"`
	Embedding     EmbeddingConfig     `mapstructure:"embedding"`
	LLM           LLMConfig           `mapstructure:"llm"`
	Ingest        IngestConfig        `mapstructure:"ingest"`
	Search        SearchConfig        `mapstructure:"search"`
}

// ServerConfig 存储服务器相关的配置。
type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

// DatabaseConfig 存储所有数据库连接的配置。
type DatabaseConfig struct {
	MySQL MySQLConfig `mapstructure:"mysql"`
	Redis RedisConfig `mapstructure:"redis"`
}

// MySQLConfig 存储 MySQL 数据库的配置。
type MySQLConfig struct {
	DSN string `mapstructure:"dsn"`
}

// RedisConfig 存储 Redis 的配置。
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// JWTConfig 存储 JWT 相关的配置。
type JWTConfig struct {
	Secret                 string `mapstructure:"secret"`
	AccessTokenExpireHours int    `mapstructure:"access_token_expire_hours"`
	RefreshTokenExpireDays int    `mapstructure:"refresh_token_expire_days"`
}

// LogConfig 存储日志相关的配置。
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// KafkaConfig 存储 Kafka 相关的配置。
type KafkaConfig struct {
	Brokers string `mapstructure:"brokers"`
	Topic   string `mapstructure:"topic"`
	GroupID string `mapstructure:"group_id"`
}

// ParserConfig 存储结构化解析服务相关的配置。
// 服务不可用时，流水线会降级为纯文本抽取。
type ParserConfig struct {
	ServerURL      string `mapstructure:"server_url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// VisionConfig 存储页面视觉理解模型相关的配置。
type VisionConfig struct {
	APIKey         string `mapstructure:"api_key"`
	BaseURL        string `mapstructure:"base_url"`
	Model          string `mapstructure:"model"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// ElasticsearchConfig 存储 Elasticsearch 向量索引相关的配置。
type ElasticsearchConfig struct {
	Addresses string `mapstructure:"addresses"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	IndexName string `mapstructure:"index_name"`
}

// MinIOConfig 存储 MinIO 对象存储的配置。
type MinIOConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	BucketName      string `mapstructure:"bucket_name"`
}

// EmbeddingConfig 存储 Embedding 模型相关的配置。
// 入库与查询必须使用同一模型与维度，否则向量空间不一致。
type EmbeddingConfig struct {
	APIKey     string `mapstructure:"api_key"`
	BaseURL    string `mapstructure:"base_url"`
	Model      string `mapstructure:"model"`
	Dimensions int    `mapstructure:"dimensions"`
}

// LLMConfig 存储大语言模型相关的配置。
type LLMConfig struct {
	APIKey     string              `mapstructure:"api_key"`
	BaseURL    string              `mapstructure:"base_url"`
	Model      string              `mapstructure:"model"`
	Generation LLMGenerationConfig `mapstructure:"generation"`
	Prompt     LLMPromptConfig     `mapstructure:"prompt"`
}

// LLMGenerationConfig 配置生成相关参数（可选）。
type LLMGenerationConfig struct {
	Temperature float64 `mapstructure:"temperature"`
	TopP        float64 `mapstructure:"top_p"`
	MaxTokens   int     `mapstructure:"max_tokens"`
}

// LLMPromptConfig 配置系统提示与上下文包裹格式（可选）。
type LLMPromptConfig struct {
	Rules        string `mapstructure:"rules"`
	RefStart     string `mapstructure:"ref_start"`
	RefEnd       string `mapstructure:"ref_end"`
	NoResultText string `mapstructure:"no_result_text"`
}

// IngestConfig 存储文档摄取流水线相关的配置。
type IngestConfig struct {
	ChunkSize             int `mapstructure:"chunk_size"`
	ChunkOverlap          int `mapstructure:"chunk_overlap"`
	MinChunkSize          int `mapstructure:"min_chunk_size"`
	MaxRetries            int `mapstructure:"max_retries"`
	RetryBaseMillis       int `mapstructure:"retry_base_millis"`
	StaleAfterMinutes     int `mapstructure:"stale_after_minutes"`
	SweepIntervalMinutes  int `mapstructure:"sweep_interval_minutes"`
	VisionConcurrency     int `mapstructure:"vision_concurrency"`
	MaxUploadSizeMB       int `mapstructure:"max_upload_size_mb"`
	PageImageURLExpireMin int `mapstructure:"page_image_url_expire_min"`
}

// SearchConfig 存储检索与回答生成相关的配置。
type SearchConfig struct {
	DefaultTopK       int     `mapstructure:"default_top_k"`
	MinScore          float64 `mapstructure:"min_score"`
	AnswerCacheTTLSec int     `mapstructure:"answer_cache_ttl_sec"`
}

// Init 初始化配置加载，从指定的路径读取 YAML 文件并解析到 Conf 变量中。
func Init(configPath string) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	if err := viper.ReadInConfig(); err != nil {
		panic(fmt.Errorf("读取配置文件失败: %w", err))
	}

	if err := viper.Unmarshal(&Conf); err != nil {
		panic(fmt.Errorf("无法将配置解析到结构体中: %w", err))
	}

	applyDefaults(&Conf)
}

// applyDefaults 为缺省的流水线与检索参数补齐默认值。
func applyDefaults(c *Config) {
	if c.Ingest.ChunkSize <= 0 {
		c.Ingest.ChunkSize = 1000
	}
	if c.Ingest.ChunkOverlap <= 0 {
		c.Ingest.ChunkOverlap = 200
	}
	if c.Ingest.MinChunkSize <= 0 {
		c.Ingest.MinChunkSize = 100
	}
	if c.Ingest.MaxRetries <= 0 {
		c.Ingest.MaxRetries = 3
	}
	if c.Ingest.RetryBaseMillis <= 0 {
		c.Ingest.RetryBaseMillis = 500
	}
	if c.Ingest.StaleAfterMinutes <= 0 {
		c.Ingest.StaleAfterMinutes = 30
	}
	if c.Ingest.SweepIntervalMinutes <= 0 {
		c.Ingest.SweepIntervalMinutes = 5
	}
	if c.Ingest.VisionConcurrency <= 0 {
		c.Ingest.VisionConcurrency = 2
	}
	if c.Ingest.MaxUploadSizeMB <= 0 {
		c.Ingest.MaxUploadSizeMB = 50
	}
	if c.Ingest.PageImageURLExpireMin <= 0 {
		c.Ingest.PageImageURLExpireMin = 60
	}
	if c.Search.DefaultTopK <= 0 {
		c.Search.DefaultTopK = 5
	}
	if c.Search.MinScore <= 0 {
		c.Search.MinScore = 0.3
	}
	if c.Search.AnswerCacheTTLSec <= 0 {
		c.Search.AnswerCacheTTLSec = 300
	}
	if c.Kafka.GroupID == "" {
		c.Kafka.GroupID = "doclens-ingest-consumer"
	}
}
