// Package resolver turns a submitted media URL into a playable track by
// asking yt-dlp for the direct stream locator and metadata.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"jukebox/playback"

	"github.com/lrstanley/go-ytdlp"
)

const (
	DefaultTimeout = 15 * time.Second
	DefaultFormat  = "bestaudio/best"

	printTemplate = "%(url)s\t%(title)s\t%(duration)s\t%(is_live)s"
)

var (
	ErrInvalidURL = errors.New("not a valid http(s) URL")
	ErrNoOutput   = errors.New("resolver produced no output")
)

// Runner executes the lookup for one URL and returns its raw output.
type Runner func(ctx context.Context, rawURL string) (string, error)

type Config struct {
	Timeout time.Duration
	Format  string
}

type Resolver struct {
	cfg    Config
	run    Runner
	logger *slog.Logger
}

var _ playback.Resolver = (*Resolver)(nil)

// New creates a resolver backed by the yt-dlp executable.
func New(cfg Config) *Resolver {
	r := NewWithRunner(cfg, nil)
	r.run = r.ytdlp
	return r
}

// NewWithRunner creates a resolver that uses run for lookups.
func NewWithRunner(cfg Config, run Runner) *Resolver {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Format == "" {
		cfg.Format = DefaultFormat
	}
	return &Resolver{
		cfg:    cfg,
		run:    run,
		logger: slog.With("component", "resolver"),
	}
}

// lookupCommand prints the locator and metadata of a single item without
// downloading it.
func lookupCommand(format string) *ytdlp.Command {
	return ytdlp.New().
		Format(format).
		NoPlaylist().
		NoWarnings().
		IgnoreConfig().
		SkipDownload().
		Print(printTemplate)
}

func (r *Resolver) ytdlp(ctx context.Context, rawURL string) (string, error) {
	res, err := lookupCommand(r.cfg.Format).Run(ctx, rawURL)
	if err != nil {
		if res != nil && strings.TrimSpace(res.Stderr) != "" {
			return "", fmt.Errorf("%w: %s", err, strings.TrimSpace(res.Stderr))
		}
		return "", err
	}
	return res.Stdout, nil
}

// Resolve looks up rawURL. Failures are *playback.ResolutionError.
func (r *Resolver) Resolve(ctx context.Context, rawURL string, by playback.Requester) (*playback.Track, error) {
	if err := ValidateURL(rawURL); err != nil {
		return nil, &playback.ResolutionError{Kind: playback.ResolutionUnavailable, URL: rawURL, Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	start := time.Now()
	out, err := r.run(ctx, rawURL)
	if err != nil {
		kind := playback.ResolutionUnavailable
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			kind = playback.ResolutionTimeout
			err = fmt.Errorf("no answer within %s", r.cfg.Timeout)
		}
		r.logger.Warn("Resolution failed",
			slog.String("url", rawURL),
			slog.String("kind", kind.String()),
			slog.String("error", err.Error()))
		return nil, &playback.ResolutionError{Kind: kind, URL: rawURL, Err: err}
	}

	track, err := parseOutput(out)
	if err != nil {
		return nil, &playback.ResolutionError{Kind: playback.ResolutionBadMetadata, URL: rawURL, Err: err}
	}
	track.URL = rawURL
	track.Requester = by

	r.logger.Debug("Resolved",
		slog.String("url", rawURL),
		slog.String("title", track.Title),
		slog.Duration("duration", track.Duration),
		slog.Duration("took", time.Since(start)))
	return track, nil
}

// ValidateURL accepts absolute http and https URLs with a host.
func ValidateURL(rawURL string) error {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return ErrInvalidURL
	}
	return nil
}

// parseOutput reads the first line printed with printTemplate.
func parseOutput(out string) (*playback.Track, error) {
	var line string
	for _, l := range strings.Split(out, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			line = l
			break
		}
	}
	if line == "" {
		return nil, ErrNoOutput
	}

	fields := strings.Split(line, "\t")
	if len(fields) < 3 {
		return nil, fmt.Errorf("expected at least 3 fields, got %d", len(fields))
	}

	locator := strings.TrimSpace(fields[0])
	if err := ValidateURL(locator); err != nil {
		return nil, fmt.Errorf("stream locator: %w", err)
	}

	t := &playback.Track{
		Locator: locator,
		Title:   unknownAsEmpty(fields[1]),
	}

	if d := unknownAsEmpty(fields[2]); d != "" {
		secs, err := strconv.ParseFloat(d, 64)
		if err != nil || secs < 0 {
			return nil, fmt.Errorf("invalid duration %q", d)
		}
		t.Duration = time.Duration(secs * float64(time.Second))
	}

	if len(fields) > 3 {
		t.Live = strings.EqualFold(strings.TrimSpace(fields[3]), "true")
	}
	return t, nil
}

func unknownAsEmpty(s string) string {
	s = strings.TrimSpace(s)
	if s == "NA" || s == "None" {
		return ""
	}
	return s
}
