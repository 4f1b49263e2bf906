package cmd

import (
	"fmt"
	"log/slog"

	"jukebox/config"
	"jukebox/logger"

	"github.com/spf13/cobra"
)

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
	Long:  "Commands for managing and validating jukebox configuration.",
}

// configValidateCmd validates the current configuration
var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration",
	Long:  "Validate the current configuration file and environment variables.",
	RunE: func(cmd *cobra.Command, args []string) error {
		// Setup basic logging for validation
		if err := logger.Setup("info", "text"); err != nil {
			return fmt.Errorf("failed to setup logging: %w", err)
		}

		// Load configuration
		cfg, err := config.LoadConfig()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		// Validate configuration
		if err := cfg.Validate(); err != nil {
			slog.Error("Configuration validation failed", slog.Any("error", err))
			return err
		}

		slog.Info("Configuration is valid")
		fmt.Println("✅ Configuration is valid")
		return nil
	},
}

// configShowCmd shows the current configuration
var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  "Display the current configuration values from file and environment variables.",
	RunE: func(cmd *cobra.Command, args []string) error {
		// Setup basic logging
		if err := logger.Setup("info", "text"); err != nil {
			return fmt.Errorf("failed to setup logging: %w", err)
		}

		// Load configuration
		cfg, err := config.LoadConfig()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		fmt.Println("Current Configuration:")
		fmt.Printf("  Discord:\n")
		fmt.Printf("    Token: %s\n", maskToken(cfg.Discord.Token))
		fmt.Printf("    Guild: %s\n", cfg.Discord.GuildID)
		fmt.Printf("    Voice channel: %s\n", cfg.Discord.VoiceChannelID)
		fmt.Printf("    Text channel: %s\n", orAny(cfg.Discord.TextChannelID))
		fmt.Printf("  Bot:\n")
		fmt.Printf("    Name: %s\n", cfg.Bot.Name)
		fmt.Printf("    Prefix: %s\n", cfg.Bot.Prefix)
		fmt.Printf("    Default volume: %d\n", cfg.Bot.DefaultVolume)
		fmt.Printf("    Rate limit: %g/s (burst %d)\n", cfg.Bot.CommandsPerSecond, cfg.Bot.CommandBurst)
		fmt.Printf("  Media:\n")
		fmt.Printf("    FFmpeg: %s\n", cfg.Media.FFmpeg)
		fmt.Printf("    Resolve timeout: %s\n", cfg.Media.ResolveTimeout)
		fmt.Printf("    Stall timeout: %s\n", cfg.Media.StallTimeout)
		fmt.Printf("    Close grace: %s\n", cfg.Media.CloseGrace)
		fmt.Printf("    Read-ahead: %d frames\n", cfg.Media.ReadAhead)
		fmt.Printf("  Announce:\n")
		fmt.Printf("    Webhook URL: %s\n", maskURL(cfg.Announce.WebhookURL))
		fmt.Printf("  Logging:\n")
		fmt.Printf("    Level: %s\n", cfg.Logging.Level)
		fmt.Printf("    Format: %s\n", cfg.Logging.Format)

		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configValidateCmd)
	configCmd.AddCommand(configShowCmd)
}

// maskToken masks a Discord token for display
func maskToken(token string) string {
	if len(token) <= 8 {
		return "***"
	}
	return token[:8] + "***"
}

// maskURL masks a webhook URL for display
func maskURL(url string) string {
	if url == "" {
		return "(disabled)"
	}
	if len(url) <= 20 {
		return "***"
	}
	return url[:20] + "***"
}

func orAny(id string) string {
	if id == "" {
		return "(any)"
	}
	return id
}
