// Package command turns chat messages into playback requests and playback
// events back into chat replies.
package command

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"jukebox/playback"
	"jukebox/resolver"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const DefaultPrefix = "!"

// ErrUnrecognized means the message is not a command. Callers ignore it.
var ErrUnrecognized = errors.New("unrecognized command")

type ErrorKind int

const (
	MissingArgument ErrorKind = iota
	InvalidArgument
)

func (k ErrorKind) String() string {
	switch k {
	case MissingArgument:
		return "missing argument"
	case InvalidArgument:
		return "invalid argument"
	default:
		return "unknown"
	}
}

// Error is a recognized command with unusable arguments.
type Error struct {
	Kind    ErrorKind
	Verb    string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Verb, e.Kind, e.Message)
}

// Definition describes one command for the alias table and the help text.
type Definition struct {
	Name    string
	Aliases []string
	Args    string
	Summary string
}

// Commands is the command table in help order.
var Commands = []Definition{
	{Name: "play", Aliases: []string{"yt"}, Args: "<url>", Summary: "add a track to the end of the queue"},
	{Name: "next", Aliases: []string{"n"}, Args: "[url]", Summary: "with a link, queue it to play next; without, skip"},
	{Name: "pause", Aliases: []string{"p"}, Summary: "pause playback"},
	{Name: "resume", Aliases: []string{"r", "continue", "c"}, Summary: "resume paused playback"},
	{Name: "skip", Aliases: []string{"s"}, Summary: "skip the current track"},
	{Name: "stop", Summary: "stop playback and clear the queue"},
	{Name: "volume", Aliases: []string{"v"}, Args: "[0-100]", Summary: "show or set the volume"},
	{Name: "info", Aliases: []string{"i"}, Summary: "show the current track and the queue"},
	{Name: "help", Aliases: []string{"h"}, Summary: "show this help"},
	{Name: "quit", Aliases: []string{"q"}, Summary: "stop everything and disconnect"},
}

var aliasTable = buildAliasTable(Commands)

func buildAliasTable(defs []Definition) map[string]string {
	table := make(map[string]string)
	for _, s := range defs {
		table[s.Name] = s.Name
		for _, a := range s.Aliases {
			table[a] = s.Name
		}
	}
	return table
}

var (
	normalizer = transform.Chain(
		norm.NFKC,
		runes.Map(func(r rune) rune {
			if unicode.IsControl(r) {
				return ' '
			}
			return r
		}),
	)
	markup = strings.NewReplacer("[URL]", "", "[/URL]", "", "[url]", "", "[/url]", "")
)

type Parser struct {
	Prefix string
}

func NewParser(prefix string) *Parser {
	return &Parser{Prefix: prefix}
}

// Normalize folds compatibility characters, turns control characters into
// spaces and strips link markup.
func Normalize(text string) string {
	out, _, err := transform.String(normalizer, text)
	if err != nil {
		out = text
	}
	return strings.TrimSpace(markup.Replace(out))
}

// Parse turns a message into a request.
func (p *Parser) Parse(text string, from playback.Requester) (playback.Request, error) {
	text = Normalize(text)
	if !strings.HasPrefix(text, p.Prefix) {
		return playback.Request{}, ErrUnrecognized
	}
	body := strings.Join(strings.Fields(strings.TrimPrefix(text, p.Prefix)), " ")
	word, arg, _ := strings.Cut(body, " ")

	verb, ok := aliasTable[strings.ToLower(word)]
	if !ok {
		return playback.Request{}, ErrUnrecognized
	}

	req := playback.Request{From: from}
	switch verb {
	case "play":
		if arg == "" {
			return req, &Error{Kind: MissingArgument, Verb: verb, Message: "a link is required"}
		}
		link, err := parseLink(verb, arg)
		if err != nil {
			return req, err
		}
		req.Kind, req.URL = playback.RequestPlay, link
	case "next":
		if arg == "" {
			req.Kind = playback.RequestSkip
			break
		}
		link, err := parseLink(verb, arg)
		if err != nil {
			return req, err
		}
		req.Kind, req.URL = playback.RequestPlayNext, link
	case "pause":
		req.Kind = playback.RequestPause
	case "resume":
		req.Kind = playback.RequestResume
	case "skip":
		req.Kind = playback.RequestSkip
	case "stop":
		req.Kind = playback.RequestStop
	case "volume":
		if arg == "" {
			req.Kind = playback.RequestGetVolume
			break
		}
		v, err := strconv.Atoi(arg)
		if err != nil || v < 0 || v > 100 {
			return req, &Error{Kind: InvalidArgument, Verb: verb, Message: "volume must be a whole number between 0 and 100"}
		}
		req.Kind, req.Volume = playback.RequestSetVolume, v
	case "info":
		req.Kind = playback.RequestInfo
	case "help":
		req.Kind = playback.RequestHelp
	case "quit":
		req.Kind = playback.RequestQuit
	}
	return req, nil
}

func parseLink(verb, arg string) (string, error) {
	link := strings.TrimSuffix(strings.TrimPrefix(arg, "<"), ">")
	if strings.ContainsAny(link, " \t") {
		return "", &Error{Kind: InvalidArgument, Verb: verb, Message: "expected a single link"}
	}
	if err := resolver.ValidateURL(link); err != nil {
		return "", &Error{Kind: InvalidArgument, Verb: verb, Message: "not a valid http(s) link"}
	}
	return link, nil
}
