package command

import (
	"errors"
	"testing"

	"jukebox/playback"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var dave = playback.Requester{ID: "5", Name: "dave", ChannelID: "10", MessageID: "20"}

func TestParse(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		kind   playback.RequestKind
		url    string
		volume int
	}{
		{"play", "!play https://video.example/a", playback.RequestPlay, "https://video.example/a", 0},
		{"play alias", "!yt https://video.example/a", playback.RequestPlay, "https://video.example/a", 0},
		{"verb is case-insensitive", "!PLAY https://video.example/a", playback.RequestPlay, "https://video.example/a", 0},
		{"suppressed embed", "!play <https://video.example/a>", playback.RequestPlay, "https://video.example/a", 0},
		{"url markup", "!play [URL]https://video.example/a[/URL]", playback.RequestPlay, "https://video.example/a", 0},
		{"extra whitespace", "  !play    https://video.example/a  ", playback.RequestPlay, "https://video.example/a", 0},
		{"full-width prefix", "！play https://video.example/a", playback.RequestPlay, "https://video.example/a", 0},
		{"newline separator", "!play\nhttps://video.example/a", playback.RequestPlay, "https://video.example/a", 0},
		{"next with link", "!next https://video.example/b", playback.RequestPlayNext, "https://video.example/b", 0},
		{"next alias with link", "!n https://video.example/b", playback.RequestPlayNext, "https://video.example/b", 0},
		{"bare next skips", "!next", playback.RequestSkip, "", 0},
		{"pause", "!pause", playback.RequestPause, "", 0},
		{"pause alias", "!p", playback.RequestPause, "", 0},
		{"resume", "!resume", playback.RequestResume, "", 0},
		{"continue", "!continue", playback.RequestResume, "", 0},
		{"resume alias", "!c", playback.RequestResume, "", 0},
		{"skip", "!skip", playback.RequestSkip, "", 0},
		{"skip alias", "!s", playback.RequestSkip, "", 0},
		{"stop", "!stop", playback.RequestStop, "", 0},
		{"set volume", "!volume 35", playback.RequestSetVolume, "", 35},
		{"volume zero", "!v 0", playback.RequestSetVolume, "", 0},
		{"volume max", "!v 100", playback.RequestSetVolume, "", 100},
		{"volume query", "!volume", playback.RequestGetVolume, "", 0},
		{"info", "!info", playback.RequestInfo, "", 0},
		{"info alias", "!i", playback.RequestInfo, "", 0},
		{"help", "!h", playback.RequestHelp, "", 0},
		{"quit", "!quit", playback.RequestQuit, "", 0},
		{"ignored trailing words", "!pause now please", playback.RequestPause, "", 0},
	}

	p := NewParser(DefaultPrefix)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := p.Parse(tt.input, dave)
			require.NoError(t, err)
			assert.Equal(t, tt.kind, req.Kind)
			assert.Equal(t, tt.url, req.URL)
			assert.Equal(t, tt.volume, req.Volume)
			assert.Equal(t, dave, req.From)
		})
	}
}

func TestParseUnrecognized(t *testing.T) {
	inputs := []string{
		"",
		"hello there",
		"play https://video.example/a",
		"!",
		"!dance",
		"?play https://video.example/a",
	}

	p := NewParser(DefaultPrefix)
	for _, in := range inputs {
		_, err := p.Parse(in, dave)
		assert.ErrorIs(t, err, ErrUnrecognized, "input %q", in)
	}
}

func TestParseArgumentErrors(t *testing.T) {
	tests := []struct {
		input string
		kind  ErrorKind
		verb  string
	}{
		{"!play", MissingArgument, "play"},
		{"!play not-a-link", InvalidArgument, "play"},
		{"!play ftp://files.example/a.mp3", InvalidArgument, "play"},
		{"!play https://a.example/1 https://a.example/2", InvalidArgument, "play"},
		{"!next video.example", InvalidArgument, "next"},
		{"!volume 101", InvalidArgument, "volume"},
		{"!volume -1", InvalidArgument, "volume"},
		{"!volume loud", InvalidArgument, "volume"},
		{"!volume 50.5", InvalidArgument, "volume"},
	}

	p := NewParser(DefaultPrefix)
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			_, err := p.Parse(tt.input, dave)
			var cmdErr *Error
			require.True(t, errors.As(err, &cmdErr), "got %v", err)
			assert.Equal(t, tt.kind, cmdErr.Kind)
			assert.Equal(t, tt.verb, cmdErr.Verb)
		})
	}
}

func TestCustomPrefix(t *testing.T) {
	p := NewParser("jb ")
	req, err := p.Parse("jb skip", dave)
	require.NoError(t, err)
	assert.Equal(t, playback.RequestSkip, req.Kind)

	_, err = p.Parse("!skip", dave)
	assert.ErrorIs(t, err, ErrUnrecognized)
}

func TestAliasTableCoversEveryCommand(t *testing.T) {
	for _, s := range Commands {
		assert.Equal(t, s.Name, aliasTable[s.Name])
		for _, a := range s.Aliases {
			assert.Equal(t, s.Name, aliasTable[a], "alias %q", a)
		}
	}
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "!play x", Normalize("\u0000!play\tx\u0007"))
	assert.Equal(t, "!PLAY", Normalize("！ＰＬＡＹ"))
}
