/*
 * @module service/config/config_manager
 * @description 配置管理器，从默认值、YAML配置文件和环境变量三层加载运行配置
 * @architecture 分层架构 - 配置层
 * @stateFlow 默认值 -> CONFIG_FILE（可选） -> 环境变量覆盖
 * @rules 环境变量优先级最高；配置文件只支持 yaml/yml
 * @dependencies gopkg.in/yaml.v3, github.com/spf13/cast
 * @refs service/init.go, main.go
 */

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"
)

// Config 服务运行配置
type Config struct {
	Server   ServerConfig   `json:"server" yaml:"server"`
	Database DatabaseConfig `json:"database" yaml:"database"`
	Pipeline PipelineConfig `json:"pipeline" yaml:"pipeline"`
	Redis    RedisConfig    `json:"redis" yaml:"redis"`
	Kafka    KafkaConfig    `json:"kafka" yaml:"kafka"`
	Minio    MinioConfig    `json:"minio" yaml:"minio"`
	Logging  LoggingConfig  `json:"logging" yaml:"logging"`
}

// ServerConfig HTTP服务配置
type ServerConfig struct {
	Port        int    `json:"port" yaml:"port"`
	BaseContext string `json:"base_context" yaml:"base_context"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	URL      string `json:"url" yaml:"url"`
	Host     string `json:"host" yaml:"host"`
	Port     string `json:"port" yaml:"port"`
	User     string `json:"user" yaml:"user"`
	Password string `json:"password" yaml:"password"`
	Name     string `json:"name" yaml:"name"`
	SSLMode  string `json:"ssl_mode" yaml:"ssl_mode"`
	Schema   string `json:"schema" yaml:"schema"`
}

// PipelineConfig 批处理管线配置
type PipelineConfig struct {
	SourceSystem          string `json:"source_system" yaml:"source_system"`
	RuleVersion           string `json:"rule_version" yaml:"rule_version"`
	ManagementCompanyCode string `json:"management_company_code" yaml:"management_company_code"`
	ChunkSize             int    `json:"chunk_size" yaml:"chunk_size"`
	LeaseSeconds          int    `json:"lease_seconds" yaml:"lease_seconds"`
	ResumeCron            string `json:"resume_cron" yaml:"resume_cron"`
}

// RedisConfig 参照解析二级缓存配置，Addr 为空时不启用
type RedisConfig struct {
	Addr       string `json:"addr" yaml:"addr"`
	Password   string `json:"password" yaml:"password"`
	DB         int    `json:"db" yaml:"db"`
	TTLSeconds int    `json:"ttl_seconds" yaml:"ttl_seconds"`
}

// KafkaConfig 批次完成事件配置，Brokers 为空时不发送
type KafkaConfig struct {
	Brokers []string `json:"brokers" yaml:"brokers"`
	Topic   string   `json:"topic" yaml:"topic"`
}

// MinioConfig 对象存储导入源配置
type MinioConfig struct {
	Endpoint  string `json:"endpoint" yaml:"endpoint"`
	AccessKey string `json:"access_key" yaml:"access_key"`
	SecretKey string `json:"secret_key" yaml:"secret_key"`
	UseSSL    bool   `json:"use_ssl" yaml:"use_ssl"`
}

// LoggingConfig 日志配置
type LoggingConfig struct {
	Level string `json:"level" yaml:"level"`
}

// Default 返回默认配置
func Default() *Config {
	return &Config{
		Server: ServerConfig{Port: 80},
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     "5432",
			User:     "postgres",
			Password: "postgres",
			Name:     "postgres",
			SSLMode:  "disable",
			Schema:   "public",
		},
		Pipeline: PipelineConfig{
			SourceSystem: "VENDOR_CSV",
			RuleVersion:  "v1",
			ChunkSize:    500,
			LeaseSeconds: 300,
			ResumeCron:   "0 */5 * * * *",
		},
		Redis:   RedisConfig{TTLSeconds: 600},
		Kafka:   KafkaConfig{Topic: "catalog.batch.finalized"},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load 加载配置：默认值，然后是 CONFIG_FILE 指定的 YAML 文件，最后是环境变量
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := loadConfigFromFile(path, cfg); err != nil {
			return nil, err
		}
	}

	applyEnv(cfg)

	if cfg.Pipeline.ChunkSize <= 0 {
		return nil, fmt.Errorf("CHUNK_SIZE 必须大于0: %d", cfg.Pipeline.ChunkSize)
	}
	if cfg.Pipeline.LeaseSeconds <= 0 {
		return nil, fmt.Errorf("LEASE_SECONDS 必须大于0: %d", cfg.Pipeline.LeaseSeconds)
	}
	return cfg, nil
}

func loadConfigFromFile(path string, cfg *Config) error {
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("不支持的配置文件格式: %s", ext)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("读取配置文件失败: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("解析配置文件失败: %w", err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	setInt(&cfg.Server.Port, "LISTEN_PORT")
	setString(&cfg.Server.BaseContext, "BASE_CONTEXT")

	setString(&cfg.Database.URL, "DATABASE_URL")
	setString(&cfg.Database.Host, "DB_HOST")
	setString(&cfg.Database.Port, "DB_PORT")
	setString(&cfg.Database.User, "DB_USER")
	setString(&cfg.Database.Password, "DB_PASSWORD")
	setString(&cfg.Database.Name, "DB_NAME")
	setString(&cfg.Database.SSLMode, "DB_SSLMODE")
	setString(&cfg.Database.Schema, "DB_SCHEMA")

	setString(&cfg.Pipeline.SourceSystem, "SOURCE_SYSTEM")
	setString(&cfg.Pipeline.RuleVersion, "RULE_VERSION")
	setString(&cfg.Pipeline.ManagementCompanyCode, "MANAGEMENT_COMPANY_CODE")
	setInt(&cfg.Pipeline.ChunkSize, "CHUNK_SIZE")
	setInt(&cfg.Pipeline.LeaseSeconds, "LEASE_SECONDS")
	setString(&cfg.Pipeline.ResumeCron, "RESUME_CRON")

	setString(&cfg.Redis.Addr, "REDIS_ADDR")
	setString(&cfg.Redis.Password, "REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "REDIS_DB")
	setInt(&cfg.Redis.TTLSeconds, "REDIS_TTL_SECONDS")

	if val := os.Getenv("KAFKA_BROKERS"); val != "" {
		cfg.Kafka.Brokers = splitList(val)
	}
	setString(&cfg.Kafka.Topic, "KAFKA_TOPIC")

	setString(&cfg.Minio.Endpoint, "MINIO_ENDPOINT")
	setString(&cfg.Minio.AccessKey, "MINIO_ACCESS_KEY")
	setString(&cfg.Minio.SecretKey, "MINIO_SECRET_KEY")
	if val := os.Getenv("MINIO_USE_SSL"); val != "" {
		cfg.Minio.UseSSL = cast.ToBool(val)
	}

	setString(&cfg.Logging.Level, "LOG_LEVEL")
}

func setString(dst *string, key string) {
	if val := os.Getenv(key); val != "" {
		*dst = val
	}
}

func setInt(dst *int, key string) {
	if val := os.Getenv(key); val != "" {
		if n, err := cast.ToIntE(val); err == nil {
			*dst = n
		}
	}
}

func splitList(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// DSN 构建 PostgreSQL 连接字符串，优先使用 DATABASE_URL
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s search_path=%s TimeZone=Asia/Shanghai",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode, c.Schema)
}

// LeaseDuration 批次租约时长
func (c PipelineConfig) LeaseDuration() time.Duration {
	return time.Duration(c.LeaseSeconds) * time.Second
}

// CacheTTL 二级缓存过期时间
func (c RedisConfig) CacheTTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}
