package config

import (
	"log"

	"github.com/spf13/viper"
)

// Config holds all runtime configuration values.
type Config struct {
	ServerURL string `mapstructure:"SERVER_URL"`
	Token     string `mapstructure:"TOKEN"`
	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogFile   string `mapstructure:"LOG_FILE"`
	CachePath string `mapstructure:"CACHE_PATH"`

	// Realtime connection tuning.
	HeartbeatSeconds      int `mapstructure:"HEARTBEAT_SECONDS"`
	ConnectTimeoutSeconds int `mapstructure:"CONNECT_TIMEOUT_SECONDS"`
	ReconnectBaseMillis   int `mapstructure:"RECONNECT_BASE_MILLIS"`
	ReconnectMaxAttempts  int `mapstructure:"RECONNECT_MAX_ATTEMPTS"`
	TypingIdleMillis      int `mapstructure:"TYPING_IDLE_MILLIS"`

	// Conversation opened by the demo binary at startup.
	ConversationID string `mapstructure:"CONVERSATION_ID"`
}

var App Config

// Load reads config.yaml (if present) and the environment into App.
func Load() {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AutomaticEnv()

	viper.SetDefault("SERVER_URL", "http://localhost:8080")
	viper.SetDefault("TOKEN", "")
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("LOG_FILE", "")
	viper.SetDefault("CACHE_PATH", "./medsync.db")
	viper.SetDefault("HEARTBEAT_SECONDS", 30)
	viper.SetDefault("CONNECT_TIMEOUT_SECONDS", 10)
	viper.SetDefault("RECONNECT_BASE_MILLIS", 1000)
	viper.SetDefault("RECONNECT_MAX_ATTEMPTS", 10)
	viper.SetDefault("TYPING_IDLE_MILLIS", 2000)
	viper.SetDefault("CONVERSATION_ID", "")

	if err := viper.ReadInConfig(); err != nil {
		log.Println("No config file found, using environment variables only")
	}

	if err := viper.Unmarshal(&App); err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
}
