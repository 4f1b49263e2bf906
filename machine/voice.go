package machine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"jukebox/playback"

	"github.com/disgoorg/audio/opus"
	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/voice"
	"github.com/disgoorg/snowflake/v2"
)

const (
	maxOpusPacket = 4000
	silenceFrames = 5
)

var ErrVoiceNotConnected = errors.New("voice connection not open")

// VoiceSink encodes paced PCM frames to Opus and writes them to the voice
// connection. It never paces on its own.
type VoiceSink struct {
	mu      sync.Mutex
	conn    voice.Conn
	encoder *opus.Encoder
	packet  []byte
	logger  *slog.Logger
}

var (
	_ playback.FrameSink     = (*VoiceSink)(nil)
	_ playback.EndOfStreamer = (*VoiceSink)(nil)
)

func NewVoiceSink() *VoiceSink {
	return &VoiceSink{
		packet: make([]byte, maxOpusPacket),
		logger: slog.With("component", "voice"),
	}
}

// Connect joins the configured voice channel and marks the bot as speaking.
func (v *VoiceSink) Connect(ctx context.Context, client bot.Client, guildID, channelID snowflake.ID) error {
	encoder, err := opus.NewEncoder(playback.SampleRate, playback.Channels, opus.ApplicationAudio)
	if err != nil {
		return fmt.Errorf("error creating opus encoder: %w", err)
	}

	conn := client.VoiceManager().CreateConn(guildID)
	if err := conn.Open(ctx, channelID, false, true); err != nil {
		return fmt.Errorf("error connecting to voice channel: %w", err)
	}
	if err := conn.SetSpeaking(ctx, voice.SpeakingFlagMicrophone); err != nil {
		conn.Close(ctx)
		return fmt.Errorf("error setting speaking flag: %w", err)
	}

	conn.SetEventHandlerFunc(func(opCode voice.Opcode, _ voice.GatewayMessageData) {
		if opCode == voice.OpcodeClientDisconnect {
			v.logger.Debug("Listener left the voice channel")
		}
	})

	v.mu.Lock()
	v.conn = conn
	v.encoder = encoder
	v.mu.Unlock()

	v.logger.Info("Connected to voice channel",
		slog.String("guild", guildID.String()),
		slog.String("channel", channelID.String()))
	return nil
}

// SendFrame encodes one 20ms interleaved stereo frame and sends it.
func (v *VoiceSink) SendFrame(ctx context.Context, frame []int16) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.conn == nil {
		return ErrVoiceNotConnected
	}

	n, err := v.encoder.Encode(frame, v.packet)
	if err != nil {
		return fmt.Errorf("opus encode: %w", err)
	}
	if _, err := v.conn.UDP().Write(v.packet[:n]); err != nil {
		return fmt.Errorf("voice write: %w", err)
	}
	return nil
}

// EndOfStream sends a few silence frames so clients don't interpolate
// past the end of a track.
func (v *VoiceSink) EndOfStream(ctx context.Context) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.conn == nil {
		return
	}
	for range silenceFrames {
		if ctx.Err() != nil {
			return
		}
		if _, err := v.conn.UDP().Write(voice.SilenceAudioFrame); err != nil {
			v.logger.Debug("Failed to send silence", slog.Any("error", err))
			return
		}
	}
}

// Close leaves the voice channel.
func (v *VoiceSink) Close(ctx context.Context) {
	v.mu.Lock()
	conn := v.conn
	v.conn = nil
	v.mu.Unlock()
	if conn != nil {
		conn.Close(ctx)
	}
}
