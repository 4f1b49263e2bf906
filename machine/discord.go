package machine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"jukebox/command"
	"jukebox/config"
	"jukebox/playback"

	"github.com/disgoorg/disgo"
	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/disgoorg/disgo/gateway"
	"github.com/disgoorg/snowflake/v2"
	"golang.org/x/time/rate"
)

const (
	maxMessageLength = 2000
	submitTimeout    = 5 * time.Second
	limiterIdleTTL   = 10 * time.Minute
)

// incomingMessage is the part of a chat message the dispatcher needs.
type incomingMessage struct {
	ID        snowflake.ID
	GuildID   snowflake.ID
	ChannelID snowflake.ID
	AuthorID  snowflake.ID
	Author    string
	Bot       bool
	Content   string
}

// DiscordManager handles all Discord bot operations
type DiscordManager struct {
	config    *config.Config
	client    bot.Client
	logger    *slog.Logger
	parser    *command.Parser
	formatter *command.Formatter
	submit    func(ctx context.Context, req playback.Request) error
	send      func(channelID snowflake.ID, msg discord.MessageCreate) error

	guildID       snowflake.ID
	textChannelID snowflake.ID
	lastChannel   atomic.Uint64

	mu        sync.Mutex
	limiters  map[snowflake.ID]*senderLimit
	lastSweep time.Time
	now       func() time.Time
}

type senderLimit struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewDiscordManager creates a new DiscordManager instance
func NewDiscordManager(cfg *config.Config, parser *command.Parser, formatter *command.Formatter, submit func(ctx context.Context, req playback.Request) error) *DiscordManager {
	d := &DiscordManager{
		config:    cfg,
		logger:    slog.With("component", "discord"),
		parser:    parser,
		formatter: formatter,
		submit:    submit,
		limiters:  make(map[snowflake.ID]*senderLimit),
		now:       time.Now,
	}
	d.guildID, _ = snowflake.Parse(cfg.Discord.GuildID)
	if cfg.Discord.TextChannelID != "" {
		d.textChannelID, _ = snowflake.Parse(cfg.Discord.TextChannelID)
	}
	d.send = d.restSend
	return d
}

// Initialize sets up the Discord bot client
func (d *DiscordManager) Initialize() error {
	d.logger.Info("Initializing Discord client")

	client, err := disgo.New(d.config.Discord.Token,
		bot.WithGatewayConfigOpts(
			gateway.WithIntents(
				gateway.IntentGuilds|
					gateway.IntentGuildMessages|
					gateway.IntentMessageContent|
					gateway.IntentGuildVoiceStates,
			),
		),
		bot.WithEventListenerFunc(d.messageListener),
	)
	if err != nil {
		return fmt.Errorf("failed to create Discord client: %w", err)
	}

	d.client = client
	d.logger.Info("Discord client initialized successfully")
	return nil
}

// Start opens the Discord gateway connection
func (d *DiscordManager) Start(ctx context.Context) error {
	if err := d.client.OpenGateway(ctx); err != nil {
		return fmt.Errorf("failed to connect to Discord gateway: %w", err)
	}
	return nil
}

// Stop closes the Discord connection
func (d *DiscordManager) Stop() {
	if d.client != nil {
		d.client.Close(context.Background())
	}
}

// Client returns the underlying disgo client.
func (d *DiscordManager) Client() bot.Client {
	return d.client
}

func (d *DiscordManager) messageListener(event *events.MessageCreate) {
	msg := event.Message
	in := incomingMessage{
		ID:        msg.ID,
		ChannelID: msg.ChannelID,
		AuthorID:  msg.Author.ID,
		Author:    msg.Author.Username,
		Bot:       msg.Author.Bot,
		Content:   msg.Content,
	}
	if msg.GuildID != nil {
		in.GuildID = *msg.GuildID
	}
	d.handleMessage(context.Background(), in)
}

// handleMessage turns one chat message into at most one controller request.
func (d *DiscordManager) handleMessage(ctx context.Context, msg incomingMessage) {
	if msg.Bot || msg.GuildID != d.guildID {
		return
	}
	if d.textChannelID != 0 && msg.ChannelID != d.textChannelID {
		return
	}

	from := playback.Requester{
		ID:        msg.AuthorID.String(),
		Name:      msg.Author,
		ChannelID: msg.ChannelID.String(),
		MessageID: msg.ID.String(),
	}

	req, err := d.parser.Parse(msg.Content, from)
	if errors.Is(err, command.ErrUnrecognized) {
		return
	}

	if !d.allow(msg.AuthorID) {
		d.logger.Warn("Rate limited command",
			slog.String("user", msg.Author),
			slog.String("user_id", from.ID))
		return
	}
	d.lastChannel.Store(uint64(msg.ChannelID))

	if err != nil {
		d.logger.Debug("Rejected command", slog.String("user", msg.Author), slog.String("error", err.Error()))
		d.Reply(&from, d.formatter.FormatError(err))
		return
	}

	d.logger.Info("Received command",
		slog.String("kind", req.Kind.String()),
		slog.String("user", msg.Author),
		slog.String("url", req.URL))

	ctx, cancel := context.WithTimeout(ctx, submitTimeout)
	defer cancel()
	if err := d.submit(ctx, req); err != nil {
		d.logger.Error("Failed to submit command", slog.String("kind", req.Kind.String()), slog.Any("error", err))
		d.Reply(&from, d.formatter.FormatError(err))
	}
}

// allow applies the per-sender command rate limit. Limiters idle for
// limiterIdleTTL are dropped on the next sweep.
func (d *DiscordManager) allow(user snowflake.ID) bool {
	if d.config.Bot.CommandsPerSecond <= 0 {
		return true
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if now.Sub(d.lastSweep) >= limiterIdleTTL {
		for id, l := range d.limiters {
			if now.Sub(l.lastSeen) >= limiterIdleTTL {
				delete(d.limiters, id)
			}
		}
		d.lastSweep = now
	}

	l, ok := d.limiters[user]
	if !ok {
		l = &senderLimit{
			limiter: rate.NewLimiter(rate.Limit(d.config.Bot.CommandsPerSecond), max(d.config.Bot.CommandBurst, 1)),
		}
		d.limiters[user] = l
	}
	l.lastSeen = now
	return l.limiter.AllowN(now, 1)
}

// Reply sends text as a reply to the requester's message, or to the text
// channel when to is nil.
func (d *DiscordManager) Reply(to *playback.Requester, text string) {
	if text == "" {
		return
	}

	channelID := d.textChannelID
	var messageID snowflake.ID
	if to != nil {
		if id, err := snowflake.Parse(to.ChannelID); err == nil {
			channelID = id
		}
		if id, err := snowflake.Parse(to.MessageID); err == nil {
			messageID = id
		}
	}
	if channelID == 0 {
		channelID = snowflake.ID(d.lastChannel.Load())
	}
	if channelID == 0 {
		d.logger.Debug("No channel to reply in", slog.String("text", text))
		return
	}

	b := discord.NewMessageCreateBuilder().SetContent(truncate(text, maxMessageLength))
	if messageID != 0 {
		b.SetMessageReferenceByID(messageID)
	}
	if err := d.send(channelID, b.Build()); err != nil {
		d.logger.Error("Failed to send Discord message",
			slog.String("channel", channelID.String()),
			slog.Any("error", err))
	}
}

func (d *DiscordManager) restSend(channelID snowflake.ID, msg discord.MessageCreate) error {
	if d.client == nil {
		return errors.New("discord client not initialized")
	}
	_, err := d.client.Rest().CreateMessage(channelID, msg)
	return err
}

func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	r := []rune(s)
	return string(r[:limit-1]) + "…"
}
