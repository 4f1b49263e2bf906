package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"jukebox/config"
	"jukebox/deps"
	"jukebox/logger"
	"jukebox/machine"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	verbose bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "jukebox",
	Short: "A Discord voice channel music bot",
	Long: `Jukebox joins a Discord voice channel and plays audio from links posted
in chat. Links are looked up with yt-dlp, decoded with ffmpeg and streamed
to the channel in real time.

Chat commands (with the default "!" prefix) queue, pause, resume, skip and
stop tracks, change the volume and show what is playing.`,
	RunE: runServer,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	// Local flags for the server command
	rootCmd.Flags().String("discord-token", "", "Discord bot token")
	rootCmd.Flags().String("guild", "", "guild (server) ID")
	rootCmd.Flags().String("voice-channel", "", "voice channel ID to join")
	rootCmd.Flags().String("text-channel", "", "only accept commands from this text channel")
	rootCmd.Flags().String("prefix", "!", "command prefix")
	rootCmd.Flags().Int("volume", 100, "initial volume (0-100)")
	rootCmd.Flags().String("ffmpeg", "ffmpeg", "path to the ffmpeg executable")
	rootCmd.Flags().String("webhook", "", "Discord webhook URL for now-playing announcements")
	rootCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.Flags().String("log-format", "text", "log format (text, json)")

	// Bind flags to viper
	viper.BindPFlag("discord.token", rootCmd.Flags().Lookup("discord-token"))
	viper.BindPFlag("discord.guild_id", rootCmd.Flags().Lookup("guild"))
	viper.BindPFlag("discord.voice_channel_id", rootCmd.Flags().Lookup("voice-channel"))
	viper.BindPFlag("discord.text_channel_id", rootCmd.Flags().Lookup("text-channel"))
	viper.BindPFlag("bot.prefix", rootCmd.Flags().Lookup("prefix"))
	viper.BindPFlag("bot.default_volume", rootCmd.Flags().Lookup("volume"))
	viper.BindPFlag("media.ffmpeg", rootCmd.Flags().Lookup("ffmpeg"))
	viper.BindPFlag("announce.webhook_url", rootCmd.Flags().Lookup("webhook"))
	viper.BindPFlag("logging.level", rootCmd.Flags().Lookup("log-level"))
	viper.BindPFlag("logging.format", rootCmd.Flags().Lookup("log-format"))
}

// initConfig reads in config file and ENV variables
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if verbose {
		viper.Set("logging.level", "debug")
	}
}

// runServer starts the main application
func runServer(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	// Setup logging
	if err := logger.Setup(cfg.Logging.Level, cfg.Logging.Format); err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}

	// The bot is useless without its media tools
	if err := deps.NewChecker(cfg.Media.FFmpeg, "yt-dlp").CheckAll(); err != nil {
		return err
	}

	// Create and initialize the machine
	m := machine.New(cfg)
	if err := m.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize machine: %w", err)
	}

	// Start the machine
	if err := m.Start(); err != nil {
		m.Stop()
		return fmt.Errorf("failed to start machine: %w", err)
	}

	// Setup graceful shutdown
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM)

	// Wait for shutdown signal, quit command or error
	select {
	case sig := <-signalChan:
		fmt.Printf("\nReceived %s, shutting down gracefully...\n", sig)
	case err := <-m.Error():
		fmt.Printf("Error occurred: %v\n", err)
	case <-m.Done():
		slog.Info("Quit requested from chat")
	}

	// Graceful shutdown
	if err := m.Stop(); err != nil {
		return fmt.Errorf("failed to stop machine gracefully: %w", err)
	}

	return nil
}
