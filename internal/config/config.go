package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	API       APIConfig       `mapstructure:"api"`
	Redis     RedisConfig     `mapstructure:"redis"`
	MySQL     MySQLConfig     `mapstructure:"mysql"`
	Chronicle ChronicleConfig `mapstructure:"chronicle"`
	Realtime  RealtimeConfig  `mapstructure:"realtime"`
}

type ServerConfig struct {
	Port int    `mapstructure:"port"`
	Host string `mapstructure:"host"`
}

type APIConfig struct {
	Port int    `mapstructure:"port"`
	Host string `mapstructure:"host"`
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type MySQLConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

type ChronicleConfig struct {
	SourceURL    string        `mapstructure:"source_url"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	WebhookURL   string        `mapstructure:"webhook_url"`
}

type RealtimeConfig struct {
	TradeTimeout         time.Duration `mapstructure:"trade_timeout"`
	ImpersonationTimeout time.Duration `mapstructure:"impersonation_timeout"`
	StoryDebounce        time.Duration `mapstructure:"story_debounce"`
	MaxOfferEntries      int           `mapstructure:"max_offer_entries"`
	MaxOfferQuantity     int           `mapstructure:"max_offer_quantity"`
	MaxNoteLength        int           `mapstructure:"max_note_length"`
	MaxContentLength     int           `mapstructure:"max_content_length"`
}

func Load() (*Config, error) {
	// Set default values
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("api.port", 8081)
	viper.SetDefault("api.host", "0.0.0.0")
	viper.SetDefault("redis.address", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("mysql.dsn", "campaign_user:campaign_pass@tcp(localhost:3306)/campaign_db?parseTime=true")
	viper.SetDefault("mysql.max_open_conns", 25)
	viper.SetDefault("mysql.max_idle_conns", 10)
	viper.SetDefault("mysql.conn_max_lifetime", 5*time.Minute)
	viper.SetDefault("chronicle.source_url", "http://localhost:9090")
	viper.SetDefault("chronicle.poll_interval", 30*time.Second)
	viper.SetDefault("chronicle.webhook_url", "")
	viper.SetDefault("realtime.trade_timeout", 180*time.Second)
	viper.SetDefault("realtime.impersonation_timeout", 120*time.Second)
	viper.SetDefault("realtime.story_debounce", 2*time.Second)
	viper.SetDefault("realtime.max_offer_entries", 20)
	viper.SetDefault("realtime.max_offer_quantity", 9999)
	viper.SetDefault("realtime.max_note_length", 200)
	viper.SetDefault("realtime.max_content_length", 2000)

	// Configuration file settings
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/campaign-session/")

	// Environment variable support
	viper.AutomaticEnv()

	// Environment variable mappings
	viper.BindEnv("server.port", "SERVER_PORT")
	viper.BindEnv("server.host", "SERVER_HOST")
	viper.BindEnv("api.port", "API_PORT")
	viper.BindEnv("api.host", "API_HOST")
	viper.BindEnv("redis.address", "REDIS_ADDRESS")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("redis.db", "REDIS_DB")
	viper.BindEnv("mysql.dsn", "MYSQL_DSN")
	viper.BindEnv("mysql.max_open_conns", "MYSQL_MAX_OPEN_CONNS")
	viper.BindEnv("mysql.max_idle_conns", "MYSQL_MAX_IDLE_CONNS")
	viper.BindEnv("mysql.conn_max_lifetime", "MYSQL_CONN_MAX_LIFETIME")
	viper.BindEnv("chronicle.source_url", "CHRONICLE_SOURCE_URL")
	viper.BindEnv("chronicle.poll_interval", "CHRONICLE_POLL_INTERVAL")
	viper.BindEnv("chronicle.webhook_url", "CHRONICLE_WEBHOOK_URL")
	viper.BindEnv("realtime.trade_timeout", "TRADE_TIMEOUT")
	viper.BindEnv("realtime.impersonation_timeout", "IMPERSONATION_TIMEOUT")
	viper.BindEnv("realtime.story_debounce", "STORY_DEBOUNCE")

	// Read configuration file (optional - will use defaults/env vars if not found)
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		// Config file not found, continue with defaults and environment variables
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// LoadFromFile loads configuration from a specific file path
func LoadFromFile(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)

	if err := viper.ReadInConfig(); err != nil {
		return nil, err
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// GetConfigString returns a formatted string representation of the config
func (c *Config) GetConfigString() string {
	return fmt.Sprintf(
		"Server: %s:%d, API: %s:%d, Redis: %s, MySQL: %s",
		c.Server.Host,
		c.Server.Port,
		c.API.Host,
		c.API.Port,
		c.Redis.Address,
		c.MySQL.DSN,
	)
}
