package machine

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"jukebox/config"
	"jukebox/playback"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/rest"
	"github.com/disgoorg/disgo/webhook"
)

const nowPlayingColor = 0x1DB954

// WebhookManager posts now-playing announcements to a Discord webhook
type WebhookManager struct {
	config *config.Config
	logger *slog.Logger
	client webhook.Client
}

// NewWebhookManager creates a client for the configured webhook URL
func NewWebhookManager(cfg *config.Config, opts ...webhook.ConfigOpt) (*WebhookManager, error) {
	opts = append([]webhook.ConfigOpt{
		webhook.WithRestClientConfigOpts(rest.WithHTTPClient(&http.Client{Timeout: 10 * time.Second})),
	}, opts...)

	client, err := webhook.NewWithURL(cfg.Announce.WebhookURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create webhook client: %w", err)
	}

	return &WebhookManager{
		config: cfg,
		logger: slog.With("component", "webhook"),
		client: client,
	}, nil
}

// AnnounceNowPlaying posts an embed naming the track that just started.
func (w *WebhookManager) AnnounceNowPlaying(ctx context.Context, t *playback.Track) error {
	description := t.DisplayTitle()
	if t.Requester.Name != "" {
		description += fmt.Sprintf("\nRequested by %s", t.Requester.Name)
	}

	embed := discord.NewEmbedBuilder().
		SetTitle("Now playing").
		SetDescription(description).
		SetColor(nowPlayingColor)
	if t.URL != "" {
		embed.SetURL(t.URL)
	}
	if w.config.Bot.Name != "" {
		embed.SetFooterText(w.config.Bot.Name)
	}

	if _, err := w.client.CreateEmbeds([]discord.Embed{embed.Build()}, rest.WithCtx(ctx)); err != nil {
		return fmt.Errorf("failed to send webhook message: %w", err)
	}

	w.logger.Debug("Announced track", slog.String("title", t.DisplayTitle()))
	return nil
}

// Close releases the underlying REST client.
func (w *WebhookManager) Close(ctx context.Context) {
	w.client.Close(ctx)
}
