package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// 环境变量前缀，例如 BINANCEDASH_MYSQL_HOST 覆盖 mysql.host
const envPrefix = "BINANCEDASH"

// Config 全局配置结构
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
	MySQL    MySQLConfig    `mapstructure:"mysql"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Identity IdentityConfig `mapstructure:"identity"`
	Binance  BinanceConfig  `mapstructure:"binance"`
	Security SecurityConfig `mapstructure:"security"`
	Business BusinessConfig `mapstructure:"business"`
}

type ServerConfig struct {
	Port     int    `mapstructure:"port"`
	Mode     string `mapstructure:"mode"`
	WorkerID int64  `mapstructure:"worker_id"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type MySQLConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

type KafkaConfig struct {
	Brokers []string         `mapstructure:"brokers"`
	Topic   KafkaTopicConfig `mapstructure:"topic"`
}

type KafkaTopicConfig struct {
	AccountEvent string `mapstructure:"account_event"`
}

// StorageConfig 头像存储
type StorageConfig struct {
	Root          string `mapstructure:"root"`
	Bucket        string `mapstructure:"bucket"`
	PublicBaseURL string `mapstructure:"public_base_url"`
	PublicPath    string `mapstructure:"public_path"`
	CacheControl  int    `mapstructure:"cache_control"` // 秒
}

// IdentityConfig 身份服务（GoTrue 兼容接口）
type IdentityConfig struct {
	BaseURL  string        `mapstructure:"base_url"`
	APIKey   string        `mapstructure:"api_key"`
	Timeout  time.Duration `mapstructure:"timeout"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

type BinanceConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

type SecurityConfig struct {
	EncryptionKey string `mapstructure:"encryption_key"`
}

type BusinessConfig struct {
	AvatarMaxBytes     int64         `mapstructure:"avatar_max_bytes"`
	VerifyCredentials  bool          `mapstructure:"verify_credentials"`
	MaxRetryCount      int           `mapstructure:"max_retry_count"`
	LockTTL            time.Duration `mapstructure:"lock_ttl"`
	LockRetryInterval  time.Duration `mapstructure:"lock_retry_interval"`
	LockMaxRetries     int           `mapstructure:"lock_max_retries"`
	OutboxInterval     time.Duration `mapstructure:"outbox_interval"`
	OutboxBatchSize    int           `mapstructure:"outbox_batch_size"`
	ReconcileSpec      string        `mapstructure:"reconcile_spec"`
	ReconcileBatchSize int           `mapstructure:"reconcile_batch_size"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.worker_id", 1)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("mysql.host", "127.0.0.1")
	v.SetDefault("mysql.port", 3306)
	v.SetDefault("mysql.user", "root")
	v.SetDefault("mysql.password", "")
	v.SetDefault("mysql.database", "binancedash")
	v.SetDefault("mysql.max_open_conns", 50)
	v.SetDefault("mysql.max_idle_conns", 10)

	v.SetDefault("redis.host", "127.0.0.1")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 20)

	v.SetDefault("kafka.brokers", []string{"127.0.0.1:9092"})
	v.SetDefault("kafka.topic.account_event", "binance_account_event")

	v.SetDefault("storage.root", "./data/storage")
	v.SetDefault("storage.bucket", "binance")
	v.SetDefault("storage.public_base_url", "http://127.0.0.1:8080/storage")
	v.SetDefault("storage.public_path", "/storage")
	v.SetDefault("storage.cache_control", 3600)

	v.SetDefault("identity.base_url", "")
	v.SetDefault("identity.api_key", "")
	v.SetDefault("identity.timeout", "5s")
	v.SetDefault("identity.cache_ttl", "1m")

	v.SetDefault("binance.base_url", "")
	v.SetDefault("binance.request_timeout", "10s")

	v.SetDefault("security.encryption_key", "")

	v.SetDefault("business.avatar_max_bytes", 2*1024*1024)
	v.SetDefault("business.verify_credentials", false)
	v.SetDefault("business.max_retry_count", 5)
	v.SetDefault("business.lock_ttl", "30s")
	v.SetDefault("business.lock_retry_interval", "100ms")
	v.SetDefault("business.lock_max_retries", 30)
	v.SetDefault("business.outbox_interval", "100ms")
	v.SetDefault("business.outbox_batch_size", 100)
	v.SetDefault("business.reconcile_spec", "@every 1m")
	v.SetDefault("business.reconcile_batch_size", 100)
}

// LoadConfig 加载配置：默认值 < 配置文件 < 环境变量。
// configPath 为空时只用默认值和环境变量。
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 检查启动必需的配置项
func (c *Config) Validate() error {
	if c.Security.EncryptionKey == "" {
		return errors.New("security.encryption_key 不能为空")
	}
	if c.Business.AvatarMaxBytes <= 0 {
		return errors.New("business.avatar_max_bytes 必须大于 0")
	}
	if c.Business.LockMaxRetries <= 0 {
		return errors.New("business.lock_max_retries 必须大于 0")
	}
	if c.Business.MaxRetryCount <= 0 {
		return errors.New("business.max_retry_count 必须大于 0")
	}
	if c.Server.WorkerID < 0 || c.Server.WorkerID > 1023 {
		return fmt.Errorf("server.worker_id 必须在 0-1023 之间: %d", c.Server.WorkerID)
	}
	return nil
}
