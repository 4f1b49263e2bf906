package machine

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"jukebox/command"
	"jukebox/config"
	"jukebox/playback"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/snowflake/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testGuild   snowflake.ID = 100
	testChannel snowflake.ID = 200
	testUser    snowflake.ID = 300
)

type sentMessage struct {
	channel snowflake.ID
	msg     discord.MessageCreate
}

type discordHarness struct {
	d *DiscordManager

	mu        sync.Mutex
	sent      []sentMessage
	submitted []playback.Request
	submitErr error
}

func newDiscordHarness(t *testing.T, mutate func(cfg *config.Config)) *discordHarness {
	t.Helper()
	cfg := &config.Config{
		Discord: config.DiscordConfig{GuildID: testGuild.String()},
		Bot:     config.BotConfig{Name: "jukebox", Prefix: "!"},
	}
	if mutate != nil {
		mutate(cfg)
	}

	h := &discordHarness{}
	h.d = NewDiscordManager(cfg, command.NewParser(cfg.Bot.Prefix), command.NewFormatter(cfg.Bot.Prefix, cfg.Bot.Name),
		func(_ context.Context, req playback.Request) error {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.submitted = append(h.submitted, req)
			return h.submitErr
		})
	h.d.send = func(channelID snowflake.ID, msg discord.MessageCreate) error {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.sent = append(h.sent, sentMessage{channel: channelID, msg: msg})
		return nil
	}
	return h
}

func message(id snowflake.ID, content string) incomingMessage {
	return incomingMessage{
		ID:        id,
		GuildID:   testGuild,
		ChannelID: testChannel,
		AuthorID:  testUser,
		Author:    "dave",
		Content:   content,
	}
}

func TestHandleMessageSubmitsRequest(t *testing.T) {
	h := newDiscordHarness(t, nil)

	h.d.handleMessage(context.Background(), message(1, "!play https://video.example/a"))

	require.Len(t, h.submitted, 1)
	req := h.submitted[0]
	assert.Equal(t, playback.RequestPlay, req.Kind)
	assert.Equal(t, "https://video.example/a", req.URL)
	assert.Equal(t, playback.Requester{
		ID:        testUser.String(),
		Name:      "dave",
		ChannelID: testChannel.String(),
		MessageID: "1",
	}, req.From)
	assert.Empty(t, h.sent)
}

func TestHandleMessageIgnores(t *testing.T) {
	h := newDiscordHarness(t, func(cfg *config.Config) {
		cfg.Discord.TextChannelID = testChannel.String()
	})

	fromBot := message(1, "!pause")
	fromBot.Bot = true
	otherGuild := message(2, "!pause")
	otherGuild.GuildID = 999
	otherChannel := message(3, "!pause")
	otherChannel.ChannelID = 999

	for _, msg := range []incomingMessage{
		fromBot,
		otherGuild,
		otherChannel,
		message(4, "just chatting"),
		message(5, "!dance"),
	} {
		h.d.handleMessage(context.Background(), msg)
	}

	assert.Empty(t, h.submitted)
	assert.Empty(t, h.sent)
}

func TestHandleMessageRepliesToBadArguments(t *testing.T) {
	h := newDiscordHarness(t, nil)

	h.d.handleMessage(context.Background(), message(7, "!volume loud"))

	assert.Empty(t, h.submitted)
	require.Len(t, h.sent, 1)
	assert.Equal(t, testChannel, h.sent[0].channel)
	assert.Contains(t, h.sent[0].msg.Content, "must be a whole number between 0 and 100")
	require.NotNil(t, h.sent[0].msg.MessageReference)
	require.NotNil(t, h.sent[0].msg.MessageReference.MessageID)
	assert.Equal(t, snowflake.ID(7), *h.sent[0].msg.MessageReference.MessageID)
}

func TestHandleMessageRepliesWhenSubmitFails(t *testing.T) {
	h := newDiscordHarness(t, nil)
	h.submitErr = playback.ErrControllerClosed

	h.d.handleMessage(context.Background(), message(1, "!skip"))

	require.Len(t, h.submitted, 1)
	require.Len(t, h.sent, 1)
	assert.NotEmpty(t, h.sent[0].msg.Content)
}

func TestHandleMessageRateLimitsPerSender(t *testing.T) {
	h := newDiscordHarness(t, func(cfg *config.Config) {
		cfg.Bot.CommandsPerSecond = 0.001
		cfg.Bot.CommandBurst = 2
	})

	for i := range 4 {
		h.d.handleMessage(context.Background(), message(snowflake.ID(i+1), "!pause"))
	}
	assert.Len(t, h.submitted, 2)

	other := message(10, "!resume")
	other.AuthorID = testUser + 1
	h.d.handleMessage(context.Background(), other)
	assert.Len(t, h.submitted, 3)
}

func TestIdleLimitersAreEvicted(t *testing.T) {
	h := newDiscordHarness(t, func(cfg *config.Config) {
		cfg.Bot.CommandsPerSecond = 0.001
		cfg.Bot.CommandBurst = 1
	})
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	h.d.now = func() time.Time { return now }

	for i := range 3 {
		other := message(snowflake.ID(i+1), "!pause")
		other.AuthorID = testUser + snowflake.ID(i)
		h.d.handleMessage(context.Background(), other)
	}
	assert.Len(t, h.d.limiters, 3)

	now = now.Add(limiterIdleTTL / 2)
	h.d.handleMessage(context.Background(), message(10, "!resume"))
	assert.Len(t, h.submitted, 3, "sender is still limited")

	now = now.Add(limiterIdleTTL)
	third := message(11, "!resume")
	third.AuthorID = testUser + 2
	h.d.handleMessage(context.Background(), third)

	assert.Len(t, h.d.limiters, 1)
	assert.Contains(t, h.d.limiters, testUser+2)
	assert.Len(t, h.submitted, 4)
}

func TestHandleMessageUnlimitedWhenRateIsZero(t *testing.T) {
	h := newDiscordHarness(t, nil)

	for i := range 20 {
		h.d.handleMessage(context.Background(), message(snowflake.ID(i+1), "!info"))
	}
	assert.Len(t, h.submitted, 20)
}

func TestReplyTargets(t *testing.T) {
	t.Run("requester channel with reference", func(t *testing.T) {
		h := newDiscordHarness(t, nil)
		h.d.Reply(&playback.Requester{ChannelID: "55", MessageID: "66"}, "Paused.")

		require.Len(t, h.sent, 1)
		assert.Equal(t, snowflake.ID(55), h.sent[0].channel)
		require.NotNil(t, h.sent[0].msg.MessageReference)
		assert.Equal(t, snowflake.ID(66), *h.sent[0].msg.MessageReference.MessageID)
	})

	t.Run("broadcast to text channel", func(t *testing.T) {
		h := newDiscordHarness(t, func(cfg *config.Config) {
			cfg.Discord.TextChannelID = "77"
		})
		h.d.Reply(nil, "The queue is empty.")

		require.Len(t, h.sent, 1)
		assert.Equal(t, snowflake.ID(77), h.sent[0].channel)
		assert.Nil(t, h.sent[0].msg.MessageReference)
	})

	t.Run("broadcast to last command channel", func(t *testing.T) {
		h := newDiscordHarness(t, nil)
		h.d.handleMessage(context.Background(), message(1, "!pause"))
		h.d.Reply(nil, "The queue is empty.")

		require.Len(t, h.sent, 1)
		assert.Equal(t, testChannel, h.sent[0].channel)
	})

	t.Run("nowhere to send", func(t *testing.T) {
		h := newDiscordHarness(t, nil)
		h.d.Reply(nil, "The queue is empty.")
		assert.Empty(t, h.sent)
	})

	t.Run("empty text", func(t *testing.T) {
		h := newDiscordHarness(t, nil)
		h.d.Reply(&playback.Requester{ChannelID: "55"}, "")
		assert.Empty(t, h.sent)
	})
}

func TestReplyTruncatesLongMessages(t *testing.T) {
	h := newDiscordHarness(t, nil)
	h.d.Reply(&playback.Requester{ChannelID: "55"}, strings.Repeat("é", 2500))

	require.Len(t, h.sent, 1)
	assert.Equal(t, maxMessageLength, len([]rune(h.sent[0].msg.Content)))
	assert.True(t, strings.HasSuffix(h.sent[0].msg.Content, "…"))
}

func TestRestSendWithoutClient(t *testing.T) {
	h := newDiscordHarness(t, nil)
	assert.Error(t, h.d.restSend(1, discord.MessageCreate{}))
}
