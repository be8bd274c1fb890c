package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server struct {
		Host       string        `mapstructure:"host" json:"host,omitempty"`
		Port       int64         `mapstructure:"port" json:"port,omitempty"`
		// SessionTTL bounds the lifetime of API access tokens issued on unlock.
		SessionTTL time.Duration `mapstructure:"session_ttl" json:"session_ttl,omitempty"`
	} `mapstructure:"server" json:"server"`

	Database struct {
		// SecureDSN holds the vault config table and wallet rows.
		SecureDSN string `mapstructure:"secure_dsn" json:"secure_dsn,omitempty"`
		// PublicDSN holds non-secret data such as rpc endpoints.
		PublicDSN string `mapstructure:"public_dsn" json:"public_dsn,omitempty"`
	} `mapstructure:"database" json:"database"`

	Redis struct {
		Host     string `mapstructure:"host" json:"host,omitempty"`
		Port     string `mapstructure:"port" json:"port,omitempty"`
		User     string `mapstructure:"user" json:"user,omitempty"`
		Password string `mapstructure:"password" json:"password,omitempty"`
		DB       int    `mapstructure:"db" json:"db,omitempty"`
	} `mapstructure:"redis" json:"redis"`

	BlockStorage struct {
		Host           string        `mapstructure:"host" json:"host"`
		Region         string        `mapstructure:"region" json:"region"`
		AccessKey      string        `mapstructure:"access_key" json:"access_key"`
		SecretKey      string        `mapstructure:"secret" json:"secret"`
		Bucket         string        `mapstructure:"bucket" json:"bucket"`
		// BackupInterval schedules vault backups; zero disables them.
		BackupInterval time.Duration `mapstructure:"backup_interval" json:"backup_interval"`
		// KeepBackups is how many archives survive pruning; zero keeps all.
		KeepBackups    int           `mapstructure:"keep_backups" json:"keep_backups"`
	} `mapstructure:"block_storage" json:"block_storage"`

	Datadog struct {
		Host string `mapstructure:"host" json:"host,omitempty"`
		Port string `mapstructure:"port" json:"port,omitempty"`
	} `mapstructure:"datadog" json:"datadog"`

	Rpc struct {
		MaxFailures   int           `mapstructure:"max_failures" json:"max_failures"`
		StaleAfter    time.Duration `mapstructure:"stale_after" json:"stale_after"`
		SweepInterval time.Duration `mapstructure:"sweep_interval" json:"sweep_interval"`
		CheckInterval time.Duration `mapstructure:"check_interval" json:"check_interval"`
		CheckTimeout  time.Duration `mapstructure:"check_timeout" json:"check_timeout"`
		CacheTTL      time.Duration `mapstructure:"cache_ttl" json:"cache_ttl"`
	} `mapstructure:"rpc" json:"rpc"`

	Log struct {
		Level  string `mapstructure:"level" json:"level"`
		Format string `mapstructure:"format" json:"format"`
	} `mapstructure:"log" json:"log"`
}

func setDefaults() {
	viper.SetDefault("server.host", "127.0.0.1")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.session_ttl", time.Hour)
	viper.SetDefault("database.secure_dsn", "")
	viper.SetDefault("database.public_dsn", "")
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", "6379")
	viper.SetDefault("redis.user", "")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("block_storage.host", "")
	viper.SetDefault("block_storage.region", "us-east-1")
	viper.SetDefault("block_storage.access_key", "")
	viper.SetDefault("block_storage.secret", "")
	viper.SetDefault("block_storage.bucket", "")
	viper.SetDefault("block_storage.backup_interval", time.Duration(0))
	viper.SetDefault("block_storage.keep_backups", 0)
	viper.SetDefault("datadog.host", "localhost")
	viper.SetDefault("datadog.port", "8125")
	viper.SetDefault("rpc.max_failures", 10)
	viper.SetDefault("rpc.stale_after", 24*time.Hour)
	viper.SetDefault("rpc.sweep_interval", time.Hour)
	viper.SetDefault("rpc.check_interval", 5*time.Minute)
	viper.SetDefault("rpc.check_timeout", 5*time.Second)
	viper.SetDefault("rpc.cache_ttl", 30*time.Second)
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "text")
}

// ReadConfig loads <configName>.yaml from the working directory or ./config.
// Every key can be overridden from the environment, e.g. DATABASE_SECURE_DSN.
func ReadConfig(configName string) (*Config, error) {
	viper.SetConfigName(configName)
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("fail to reading config file, %w", err)
		}
	}
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct, %w", err)
	}
	return &cfg, nil
}

func (c *Config) RedisAddr() string {
	return c.Redis.Host + ":" + c.Redis.Port
}

func (c *Config) DatadogAddr() string {
	return c.Datadog.Host + ":" + c.Datadog.Port
}
