// Package config 负责加载和管理应用程序的配置。
package config

import (
	"fmt"
	"strings"
	"time"

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
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	MinIO         MinIOConfig         `mapstructure:"minio"`
	LLM           LLMConfig           `mapstructure:"llm"`
	Image         ImageConfig         `mapstructure:"image"`
	Journal       JournalConfig       `mapstructure:"journal"`
	Workflow      WorkflowConfig      `mapstructure:"workflow"`
	Chat          ChatConfig          `mapstructure:"chat"`
	Session       SessionConfig       `mapstructure:"session"`
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

// JWTConfig 存储会话令牌相关的配置。
type JWTConfig struct {
	Secret      string `mapstructure:"secret"`
	ExpireHours int    `mapstructure:"expire_hours"`
}

// LogConfig 存储日志相关的配置。
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// KafkaConfig 存储 Kafka 相关的配置。Brokers 为空表示不启用。
type KafkaConfig struct {
	Brokers string `mapstructure:"brokers"`
	Topic   string `mapstructure:"topic"`
	GroupID string `mapstructure:"group_id"`
}

// Enabled 报告是否配置了 Kafka。
func (c KafkaConfig) Enabled() bool { return c.Brokers != "" }

// ElasticsearchConfig 存储 Elasticsearch 相关的配置。Addresses 为空表示不启用。
type ElasticsearchConfig struct {
	Addresses string `mapstructure:"addresses"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	IndexName string `mapstructure:"index_name"`
}

// Enabled 报告是否配置了 Elasticsearch。
func (c ElasticsearchConfig) Enabled() bool { return c.Addresses != "" }

// MinIOConfig 存储 MinIO 对象存储的配置。Endpoint 为空时梦境图片以 data URI 内联保存。
type MinIOConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	BucketName      string `mapstructure:"bucket_name"`
}

// Enabled 报告是否配置了 MinIO。
func (c MinIOConfig) Enabled() bool { return c.Endpoint != "" }

// LLMConfig 存储文本生成（解梦、对话）模型的配置。
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

// LLMPromptConfig 配置提示词模板（可选），为空时使用内置模板。
// 模板中的 %s 依次替换为梦境文本（以及对话场景下的初始解读）。
type LLMPromptConfig struct {
	Interpretation string `mapstructure:"interpretation"`
	Image          string `mapstructure:"image"`
	ChatSystem     string `mapstructure:"chat_system"`
}

// ImageConfig 存储图片生成模型的配置。APIKey/BaseURL 为空时沿用 LLM 的配置。
type ImageConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
	Model   string `mapstructure:"model"`
	Size    string `mapstructure:"size"`
}

// JournalConfig 存储梦境日志持久化的配置。
type JournalConfig struct {
	Backend string `mapstructure:"backend"` // redis 或 mysql
	SlotKey string `mapstructure:"slot_key"`
}

// WorkflowConfig 存储录音/分析流程的配置。
type WorkflowConfig struct {
	MinTranscriptLength int           `mapstructure:"min_transcript_length"`
	AnalysisTimeout     time.Duration `mapstructure:"analysis_timeout"`
	ChatTimeout         time.Duration `mapstructure:"chat_timeout"`
}

// ChatConfig 存储追问对话的配置。
type ChatConfig struct {
	// ReplayHistory 为 true 时每次请求都携带完整历史，适用于服务端不保存会话记忆的模型服务。
	ReplayHistory bool   `mapstructure:"replay_history"`
	FallbackText  string `mapstructure:"fallback_text"`
}

// SessionConfig 存储客户端会话的配置。
type SessionConfig struct {
	IdleTTL       time.Duration `mapstructure:"idle_ttl"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "release")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("database.redis.addr", "localhost:6379")
	v.SetDefault("database.mysql.dsn", "")
	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.expire_hours", 24)
	v.SetDefault("kafka.topic", "dream-index")
	v.SetDefault("kafka.group_id", "dream-weaver-go-indexer")
	v.SetDefault("elasticsearch.index_name", "dreams")
	v.SetDefault("minio.bucket_name", "dream-weaver")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("image.api_key", "")
	v.SetDefault("image.base_url", "")
	v.SetDefault("image.model", "dall-e-3")
	v.SetDefault("image.size", "1024x1024")
	v.SetDefault("journal.backend", "redis")
	v.SetDefault("journal.slot_key", "dreamJournal")
	v.SetDefault("workflow.min_transcript_length", 10)
	v.SetDefault("workflow.analysis_timeout", 90*time.Second)
	v.SetDefault("workflow.chat_timeout", 60*time.Second)
	v.SetDefault("chat.fallback_text", "I'm sorry, I lost my train of thought. Could you ask that again?")
	v.SetDefault("session.idle_ttl", 12*time.Hour)
	v.SetDefault("session.sweep_interval", 10*time.Minute)
}

// Load 从指定路径读取 YAML 配置，并允许通过 DREAM_ 前缀的环境变量覆盖（如 DREAM_LLM_API_KEY）。
func Load(configPath string) (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("DREAM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.ReadInConfig(); err != nil {
		return cfg, fmt.Errorf("读取配置文件失败: %w", err)
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("无法将配置解析到结构体中: %w", err)
	}
	return cfg, nil
}

// Init 初始化配置加载，从指定的路径读取 YAML 文件并解析到 Conf 变量中。
func Init(configPath string) {
	cfg, err := Load(configPath)
	if err != nil {
		panic(err)
	}
	Conf = cfg
}
