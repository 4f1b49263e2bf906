package config

import (
	"errors"
	"io/fs"
	"log/slog"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/disgoorg/snowflake/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	AppName   = "jukebox"
	EnvPrefix = "JUKEBOX"
)

// Config holds all configuration for the application
type Config struct {
	// Discord configuration
	Discord DiscordConfig `mapstructure:"discord"`

	// Bot behaviour
	Bot BotConfig `mapstructure:"bot"`

	// Media tools and pipeline tuning
	Media MediaConfig `mapstructure:"media"`

	// Optional now-playing announcements
	Announce AnnounceConfig `mapstructure:"announce"`

	// Logging configuration
	Logging LoggingConfig `mapstructure:"logging"`
}

// DiscordConfig holds Discord-specific configuration
type DiscordConfig struct {
	Token          string `mapstructure:"token"`
	GuildID        string `mapstructure:"guild_id"`
	VoiceChannelID string `mapstructure:"voice_channel_id"`
	TextChannelID  string `mapstructure:"text_channel_id"`
}

// BotConfig holds the bot's identity and command handling
type BotConfig struct {
	Name              string  `mapstructure:"name"`
	Prefix            string  `mapstructure:"prefix"`
	DefaultVolume     int     `mapstructure:"default_volume"`
	CommandsPerSecond float64 `mapstructure:"commands_per_second"`
	CommandBurst      int     `mapstructure:"command_burst"`
}

// MediaConfig holds the resolver and decoder settings
type MediaConfig struct {
	FFmpeg         string        `mapstructure:"ffmpeg"`
	ResolveTimeout time.Duration `mapstructure:"resolve_timeout"`
	StallTimeout   time.Duration `mapstructure:"stall_timeout"`
	CloseGrace     time.Duration `mapstructure:"close_grace"`
	ReadAhead      int           `mapstructure:"read_ahead"`
}

// AnnounceConfig holds the optional webhook target
type AnnounceConfig struct {
	WebhookURL string `mapstructure:"webhook_url"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or text
}

// SetDefaults registers every key so environment variables can override it.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("discord.token", "")
	v.SetDefault("discord.guild_id", "")
	v.SetDefault("discord.voice_channel_id", "")
	v.SetDefault("discord.text_channel_id", "")
	v.SetDefault("bot.name", AppName)
	v.SetDefault("bot.prefix", "!")
	v.SetDefault("bot.default_volume", 100)
	v.SetDefault("bot.commands_per_second", 1.0)
	v.SetDefault("bot.command_burst", 5)
	v.SetDefault("media.ffmpeg", "ffmpeg")
	v.SetDefault("media.resolve_timeout", "15s")
	v.SetDefault("media.stall_timeout", "10s")
	v.SetDefault("media.close_grace", "2s")
	v.SetDefault("media.read_ahead", 50)
	v.SetDefault("announce.webhook_url", "")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig() (*Config, error) {
	return Load(viper.GetViper())
}

// Load reads configuration into v and unmarshals it.
func Load(v *viper.Viper) (*Config, error) {
	// .env is optional
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("Failed to load .env file", slog.String("error", err.Error()))
	}

	SetDefaults(v)

	// Read config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath(filepath.Join(xdg.ConfigHome, AppName))
	v.AddConfigPath("/etc/" + AppName)

	// Allow environment variables
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read the config file
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		slog.Debug("No config file found, using defaults and environment variables")
	} else {
		slog.Info("Using config file", slog.String("file", v.ConfigFileUsed()))
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Discord.Token == "" {
		return &ConfigError{Field: "discord.token", Message: "Discord token is required"}
	}
	if _, err := snowflake.Parse(c.Discord.GuildID); err != nil {
		return &ConfigError{Field: "discord.guild_id", Message: "a numeric guild ID is required"}
	}
	if _, err := snowflake.Parse(c.Discord.VoiceChannelID); err != nil {
		return &ConfigError{Field: "discord.voice_channel_id", Message: "a numeric voice channel ID is required"}
	}
	if c.Discord.TextChannelID != "" {
		if _, err := snowflake.Parse(c.Discord.TextChannelID); err != nil {
			return &ConfigError{Field: "discord.text_channel_id", Message: "text channel ID must be numeric"}
		}
	}
	if c.Bot.DefaultVolume < 0 || c.Bot.DefaultVolume > 100 {
		return &ConfigError{Field: "bot.default_volume", Message: "must be between 0 and 100"}
	}
	if c.Bot.CommandsPerSecond < 0 {
		return &ConfigError{Field: "bot.commands_per_second", Message: "must not be negative"}
	}
	if c.Bot.CommandsPerSecond > 0 && c.Bot.CommandBurst < 1 {
		return &ConfigError{Field: "bot.command_burst", Message: "must be at least 1 when rate limiting is enabled"}
	}
	if c.Media.ReadAhead < 0 {
		return &ConfigError{Field: "media.read_ahead", Message: "must not be negative"}
	}
	for field, d := range map[string]time.Duration{
		"media.resolve_timeout": c.Media.ResolveTimeout,
		"media.stall_timeout":   c.Media.StallTimeout,
		"media.close_grace":     c.Media.CloseGrace,
	} {
		if d < 0 {
			return &ConfigError{Field: field, Message: "must not be negative"}
		}
	}
	if c.Announce.WebhookURL != "" {
		u, err := url.Parse(c.Announce.WebhookURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return &ConfigError{Field: "announce.webhook_url", Message: "must be an http(s) URL"}
		}
	}
	return nil
}

// ConfigError represents a configuration validation error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return e.Field + ": " + e.Message
}
