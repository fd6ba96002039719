package bot

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"

	"rsi-reportbot/internal/model"
	"rsi-reportbot/internal/report"
)

// Trigger is the word that starts a report request.
const Trigger = "gửi"

const countSuffix = "coin"

var (
	// ErrNotCommand means the text is not addressed to the bot and is ignored.
	ErrNotCommand = errors.New("not a command")
	// ErrInvalidResolution means the requested candle size is unsupported.
	ErrInvalidResolution = errors.New("invalid resolution")
	// ErrCommandParse means the text looked like a command but was malformed.
	ErrCommandParse = errors.New("command parse error")
)

// Kind identifies a parsed command.
type Kind int

const (
	KindHelp Kind = iota + 1
	KindReport
)

func (k Kind) String() string {
	switch k {
	case KindHelp:
		return "help"
	case KindReport:
		return "report"
	default:
		return "unknown"
	}
}

// Command is the structured form of a chat message.
type Command struct {
	Kind       Kind
	Resolution model.Resolution // KindReport only
	Limit      int              // KindReport only, always > 0
}

// Parser turns chat text into commands.
type Parser struct {
	DefaultLimit int
}

var defaultParser = Parser{DefaultLimit: report.DefaultLimit}

// ParseCommand parses text with the default instrument limit.
func ParseCommand(text string) (Command, error) {
	return defaultParser.Parse(text)
}

// Parse recognises:
//
//	/start, /help (optionally /help@botname)
//	... gửi <1h|4h|1d> [<N>coin | <N>] ...
//
// Text is NFC-normalised and lower-cased first.
func (p Parser) Parse(text string) (Command, error) {
	tokens := strings.Fields(strings.ToLower(norm.NFC.String(text)))
	if len(tokens) == 0 {
		return Command{}, ErrNotCommand
	}

	if strings.HasPrefix(tokens[0], "/") {
		name, _, _ := strings.Cut(tokens[0], "@")
		switch name {
		case "/start", "/help":
			return Command{Kind: KindHelp}, nil
		}
		return Command{}, ErrNotCommand
	}

	at := -1
	for i, tok := range tokens {
		if tok == Trigger {
			at = i
			break
		}
	}
	if at < 0 {
		return Command{}, ErrNotCommand
	}

	args := tokens[at+1:]
	if len(args) == 0 {
		return Command{}, fmt.Errorf("%w: missing resolution after %q", ErrCommandParse, Trigger)
	}
	res, ok := model.ParseResolution(args[0])
	if !ok {
		return Command{}, fmt.Errorf("%w: %q", ErrInvalidResolution, args[0])
	}

	limit := p.DefaultLimit
	if limit <= 0 {
		limit = report.DefaultLimit
	}
	if len(args) > 1 {
		n, err := strconv.Atoi(strings.TrimSuffix(args[1], countSuffix))
		if err != nil {
			return Command{}, fmt.Errorf("%w: count %q is not a number", ErrCommandParse, args[1])
		}
		if n <= 0 {
			return Command{}, fmt.Errorf("%w: count must be positive, got %d", ErrCommandParse, n)
		}
		limit = n
	}

	return Command{Kind: KindReport, Resolution: res, Limit: limit}, nil
}
