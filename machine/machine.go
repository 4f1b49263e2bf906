package machine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"jukebox/command"
	"jukebox/config"
	"jukebox/ffmpg"
	"jukebox/playback"
	"jukebox/resolver"

	"github.com/disgoorg/snowflake/v2"
)

const (
	announceTimeout = 10 * time.Second
	closeTimeout    = 5 * time.Second
)

type replier interface {
	Reply(to *playback.Requester, text string)
}

type announcer interface {
	AnnounceNowPlaying(ctx context.Context, t *playback.Track) error
}

// Machine represents the main application state
type Machine struct {
	config     *config.Config
	discord    *DiscordManager
	voice      *VoiceSink
	webhook    *WebhookManager
	controller *playback.Controller
	formatter  *command.Formatter
	replies    replier
	announcer  announcer
	logger     *slog.Logger
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	errorChan  chan error
}

// New creates a new Machine instance
func New(cfg *config.Config) *Machine {
	ctx, cancel := context.WithCancel(context.Background())

	m := &Machine{
		config:    cfg,
		logger:    slog.With("component", "machine"),
		ctx:       ctx,
		cancel:    cancel,
		errorChan: make(chan error, 10),
	}

	m.voice = NewVoiceSink()
	m.controller = playback.NewController(
		playback.Config{
			DefaultVolume: cfg.Bot.DefaultVolume,
			ReadAhead:     cfg.Media.ReadAhead,
		},
		resolver.New(resolver.Config{Timeout: cfg.Media.ResolveTimeout}),
		ffmpg.NewOpener(ffmpg.Config{
			Exec:         cfg.Media.FFmpeg,
			StallTimeout: cfg.Media.StallTimeout,
			CloseGrace:   cfg.Media.CloseGrace,
		}),
		m.voice,
	)

	m.formatter = command.NewFormatter(cfg.Bot.Prefix, cfg.Bot.Name)
	m.discord = NewDiscordManager(cfg, command.NewParser(cfg.Bot.Prefix), m.formatter, m.controller.Submit)
	m.replies = m.discord

	if cfg.Announce.WebhookURL != "" {
		w, err := NewWebhookManager(cfg)
		if err != nil {
			m.logger.Warn("Now-playing announcements disabled", slog.Any("error", err))
		} else {
			m.webhook = w
			m.announcer = w
		}
	}

	return m
}

// Initialize sets up the machine components
func (m *Machine) Initialize() error {
	m.logger.Info("Initializing machine...")

	if err := m.discord.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize Discord: %w", err)
	}

	m.logger.Info("Machine initialized successfully")
	return nil
}

// Start connects to Discord, joins the voice channel and starts the
// playback controller.
func (m *Machine) Start() error {
	m.logger.Info("Starting machine operations...")

	if err := m.discord.Start(m.ctx); err != nil {
		return err
	}

	guildID, err := snowflake.Parse(m.config.Discord.GuildID)
	if err != nil {
		return fmt.Errorf("invalid guild id: %w", err)
	}
	channelID, err := snowflake.Parse(m.config.Discord.VoiceChannelID)
	if err != nil {
		return fmt.Errorf("invalid voice channel id: %w", err)
	}
	if err := m.voice.Connect(m.ctx, m.discord.Client(), guildID, channelID); err != nil {
		return err
	}

	m.wg.Add(2)
	go func() {
		defer m.wg.Done()
		if err := m.controller.Run(m.ctx); err != nil {
			m.logger.Error("Controller stopped", slog.Any("error", err))
			select {
			case m.errorChan <- err:
			default:
			}
		}
	}()
	go func() {
		defer m.wg.Done()
		m.pumpEvents(m.controller.Events())
	}()

	m.logger.Info("Machine started successfully")
	return nil
}

// Stop gracefully shuts down the machine
func (m *Machine) Stop() error {
	m.logger.Info("Stopping machine...")

	m.cancel()
	m.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	m.voice.Close(ctx)

	if m.webhook != nil {
		m.webhook.Close(ctx)
	}

	if m.discord != nil {
		m.discord.Stop()
	}

	m.logger.Info("Machine stopped")
	return nil
}

// Done is closed once the controller has carried out a quit request or
// been shut down.
func (m *Machine) Done() <-chan struct{} {
	return m.controller.Done()
}

// Error returns the error channel for monitoring errors
func (m *Machine) Error() <-chan error {
	return m.errorChan
}

// pumpEvents renders controller events into chat replies until the stream
// closes.
func (m *Machine) pumpEvents(events <-chan playback.Event) {
	for ev := range events {
		m.logger.Debug("Controller event", slog.String("kind", ev.Kind.String()))

		if text := m.formatter.Format(ev); text != "" {
			m.replies.Reply(ev.To, text)
		}

		if ev.Kind == playback.EventNowPlaying && ev.Track != nil && m.announcer != nil {
			m.announce(*ev.Track)
		}
	}
}

func (m *Machine) announce(t playback.Track) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), announceTimeout)
		defer cancel()
		if err := m.announcer.AnnounceNowPlaying(ctx, &t); err != nil {
			m.logger.Error("Failed to announce track",
				slog.String("title", t.DisplayTitle()),
				slog.Any("error", err))
		}
	}()
}
