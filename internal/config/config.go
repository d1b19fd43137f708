package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DefaultIntentTTLMinutes 支付意图默认有效期
const DefaultIntentTTLMinutes = 30

var ErrMissingPublishableKey = errors.New("缺少支付平台 publishable key")

// Config 全局配置结构
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Payment  PaymentConfig  `mapstructure:"payment"`
	Store    StoreConfig    `mapstructure:"store"`
	MySQL    MySQLConfig    `mapstructure:"mysql"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Business BusinessConfig `mapstructure:"business"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig 管理员账号由部署环境注入，不进入用户名册
type AuthConfig struct {
	AdminEmail    string `mapstructure:"admin_email"`
	AdminPassword string `mapstructure:"admin_password"`
}

type PaymentConfig struct {
	PublishableKey   string        `mapstructure:"publishable_key"`
	HomeCurrency     string        `mapstructure:"home_currency"`
	IntentLatency    time.Duration `mapstructure:"intent_latency"`
	IntentTTLMinutes int           `mapstructure:"intent_ttl_minutes"`
	RecordDeclines   bool          `mapstructure:"record_declines"`
	Rails            []RailConfig  `mapstructure:"rails"`
}

// RailConfig 单个支付通道的模拟参数
type RailConfig struct {
	Name        string        `mapstructure:"name"`
	Latency     time.Duration `mapstructure:"latency"`
	FailureRate float64       `mapstructure:"failure_rate"`
}

type StoreConfig struct {
	Driver       string        `mapstructure:"driver"` // memory | redis | mysql
	KeyPrefix    string        `mapstructure:"key_prefix"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
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
}

type KafkaConfig struct {
	Brokers []string         `mapstructure:"brokers"`
	Topic   KafkaTopicConfig `mapstructure:"topic"`
}

type KafkaTopicConfig struct {
	Verification string `mapstructure:"verification"`
}

type BusinessConfig struct {
	MaxRetryCount     int `mapstructure:"max_retry_count"`
	NotifyQueueSize   int `mapstructure:"notify_queue_size"`
	LockRetryMillis   int `mapstructure:"lock_retry_millis"`
	LockMaxRetries    int `mapstructure:"lock_max_retries"`
	LockExpireSeconds int `mapstructure:"lock_expire_seconds"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("payment.home_currency", "eur")
	v.SetDefault("payment.intent_latency", "1s")
	v.SetDefault("payment.intent_ttl_minutes", DefaultIntentTTLMinutes)
	v.SetDefault("payment.record_declines", false)
	v.SetDefault("payment.rails", []map[string]interface{}{
		{"name": "card", "latency": "2s", "failure_rate": 0.1},
		{"name": "wallet", "latency": "1500ms", "failure_rate": 0.0},
	})
	v.SetDefault("store.driver", "memory")
	v.SetDefault("store.key_prefix", "storefront:")
	v.SetDefault("store.write_timeout", "5s")
	v.SetDefault("redis.host", "127.0.0.1")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("mysql.max_open_conns", 20)
	v.SetDefault("mysql.max_idle_conns", 5)
	v.SetDefault("kafka.topic.verification", "account.verification")
	v.SetDefault("business.max_retry_count", 3)
	v.SetDefault("business.notify_queue_size", 256)
	v.SetDefault("business.lock_retry_millis", 20)
	v.SetDefault("business.lock_max_retries", 250)
	v.SetDefault("business.lock_expire_seconds", 30)
}

// Load 读取配置文件和环境变量
// 配置文件可以不存在，此时只用默认值 + 环境变量（STOREFRONT_AUTH_ADMIN_EMAIL 这种格式）
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("storefront")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// AutomaticEnv 只对已知 key 生效，没有默认值的要显式绑定
	for _, key := range []string{
		"auth.admin_email", "auth.admin_password", "payment.publishable_key",
		"mysql.host", "mysql.port", "mysql.user", "mysql.password", "mysql.database",
		"redis.password", "redis.db", "kafka.brokers",
	} {
		_ = v.BindEnv(key)
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !isMissingFile(err) {
				return nil, fmt.Errorf("读取配置文件失败: %w", err)
			}
			log.Printf("[Config] 配置文件不存在，使用默认值和环境变量: %s", configPath)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	// ttl<=0 会让超时任务把刚创建的意图也关掉
	if cfg.Payment.IntentTTLMinutes <= 0 {
		log.Printf("[Config] payment.intent_ttl_minutes=%d 无效，使用默认值 %d", cfg.Payment.IntentTTLMinutes, DefaultIntentTTLMinutes)
		cfg.Payment.IntentTTLMinutes = DefaultIntentTTLMinutes
	}
	return cfg, nil
}

// LoadConfig 加载配置，失败直接退出
func LoadConfig(configPath string) *Config {
	cfg, err := Load(configPath)
	if err != nil {
		log.Fatalf("%v", err)
	}
	return cfg
}

// Validate 检查启动必需的配置
// 缺少 publishable key 不是致命错误，调用方记录后以降级模式运行
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Payment.PublishableKey) == "" {
		return ErrMissingPublishableKey
	}
	return nil
}

func isMissingFile(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}

// Rail 按名称查找支付通道配置
func (c *PaymentConfig) Rail(name string) (RailConfig, bool) {
	for _, r := range c.Rails {
		if r.Name == name {
			return r, true
		}
	}
	return RailConfig{}, false
}
