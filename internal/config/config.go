package config

import (
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds every setting the application binds from config.yaml and/or
// environment variables.
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Index         IndexConfig         `mapstructure:"index"`
	Attachment    AttachmentConfig    `mapstructure:"attachment"`
	Auth          AuthConfig          `mapstructure:"auth"`
	Log           LogConfig           `mapstructure:"log"`
	DownloadChunk DownloadChunkConfig `mapstructure:"download"`
}

type ServerConfig struct {
	Port string `mapstructure:"port"`
	Debug bool  `mapstructure:"debug"`
}

// IndexConfig is the embedded metadata store (spec.md §4.A / §6).
type IndexConfig struct {
	Path string `mapstructure:"path"`
}

// AttachmentConfig configures the chat-service attachment backend
// (spec.md §4.B), consumed by internal/attachmentstore.
type AttachmentConfig struct {
	BaseURL           string `mapstructure:"base_url"`
	BotToken          string `mapstructure:"bot_token"`
	ChannelID         string `mapstructure:"channel_id"`
	BackupChannelID   string `mapstructure:"backup_channel_id"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
}

// AuthConfig is the single shared-secret bearer comparison (spec.md §1/§6).
type AuthConfig struct {
	Secret string `mapstructure:"secret"`
}

type LogConfig struct {
	OutputPath string `mapstructure:"output_path"`
	ErrorPath  string `mapstructure:"error_path"`
	Level      string `mapstructure:"level"`
}

// DownloadChunkConfig is the fixed logical chunk size clients are told to
// use (spec.md §6); the server itself tolerates any actual chunk size.
type DownloadChunkConfig struct {
	LogicalSize int64 `mapstructure:"logical_size"`
}

var AppConfig *Config

// LoadConfig reads config.yaml (if present) then binds CHANDRIVE_*
// environment variables on top, matching the spec's env var names
// (API_SECRET, DISCORD_BOT_TOKEN, DISCORD_CHANNEL_ID,
// DISCORD_BACKUP_CHANNEL_ID, PORT, DEBUG) via explicit BindEnv calls so the
// names don't have to follow the nested-key replacer convention.
func LoadConfig() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath("/etc/chandrive/")

	viper.SetEnvPrefix("CHANDRIVE")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	viper.SetDefault("server.port", "8080")
	viper.SetDefault("index.path", "./neko.db")
	viper.SetDefault("attachment.request_timeout", 120*time.Second)
	viper.SetDefault("log.output_path", "logs/app.log")
	viper.SetDefault("log.error_path", "logs/error.log")
	viper.SetDefault("log.level", "info")
	viper.SetDefault("download.logical_size", int64(8192*1024))

	_ = viper.BindEnv("auth.secret", "API_SECRET")
	_ = viper.BindEnv("attachment.bot_token", "DISCORD_BOT_TOKEN")
	_ = viper.BindEnv("attachment.channel_id", "DISCORD_CHANNEL_ID")
	_ = viper.BindEnv("attachment.backup_channel_id", "DISCORD_BACKUP_CHANNEL_ID")
	_ = viper.BindEnv("server.port", "PORT")
	_ = viper.BindEnv("server.debug", "DEBUG")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Println("Warning: config file not found, using environment variables and defaults.")
		} else {
			return nil, err
		}
	}

	AppConfig = &Config{}
	if err := viper.Unmarshal(AppConfig); err != nil {
		return nil, err
	}

	return AppConfig, nil
}
