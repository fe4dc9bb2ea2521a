package voice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/nlquery/nlquery/internal/nl2sql"
	"github.com/nlquery/nlquery/internal/query"
)

const (
	DefaultMaxAttempts    = 3
	DefaultAnnounceLimit  = 3
	DefaultListenTimeout  = 5 * time.Second
	DefaultConfirmTimeout = 3 * time.Second
)

// ErrUnavailable is returned when no capture or speech backend is configured.
var ErrUnavailable = errors.New("voice: backend unavailable")

// Capturer records one utterance and returns its transcript. An empty
// transcript means nothing was heard.
type Capturer interface {
	Capture(ctx context.Context) (string, error)
}

type Speaker interface {
	Speak(ctx context.Context, text string) error
}

type State string

const (
	StateListening  State = "listening"
	StateConfirming State = "confirming"
	StateAccepted   State = "accepted"
	StateRetry      State = "retry"
	StateFailed     State = "failed"
)

var confirmationWords = map[string]struct{}{
	"yes":     {},
	"correct": {},
	"right":   {},
	"yeah":    {},
	"yep":     {},
}

// IsConfirmation reports whether the reply contains one of the accepted
// confirmation words.
func IsConfirmation(reply string) bool {
	words := strings.FieldsFunc(strings.ToLower(reply), func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	for _, word := range words {
		if _, ok := confirmationWords[word]; ok {
			return true
		}
	}
	return false
}

type Options struct {
	MaxAttempts   int
	AnnounceLimit int

	// ListenTimeout bounds one question capture; ConfirmTimeout bounds the
	// yes/no reply. An expired capture counts as silence.
	ListenTimeout  time.Duration
	ConfirmTimeout time.Duration
	Logger         *slog.Logger
}

// Assistant drives spoken question capture and result announcement.
type Assistant struct {
	capturer      Capturer
	speaker       Speaker
	maxAttempts    int
	announceLimit  int
	listenTimeout  time.Duration
	confirmTimeout time.Duration
	logger         *slog.Logger
}

func NewAssistant(capturer Capturer, speaker Speaker, opts Options) *Assistant {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.AnnounceLimit <= 0 {
		opts.AnnounceLimit = DefaultAnnounceLimit
	}
	if opts.ListenTimeout <= 0 {
		opts.ListenTimeout = DefaultListenTimeout
	}
	if opts.ConfirmTimeout <= 0 {
		opts.ConfirmTimeout = DefaultConfirmTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Assistant{
		capturer:       capturer,
		speaker:        speaker,
		maxAttempts:    opts.MaxAttempts,
		announceLimit:  opts.AnnounceLimit,
		listenTimeout:  opts.ListenTimeout,
		confirmTimeout: opts.ConfirmTimeout,
		logger:         logger,
	}
}

// Listen captures a question and asks the user to confirm it. A rejected or
// inaudible attempt is retried until MaxAttempts is reached.
func (a *Assistant) Listen(ctx context.Context) (string, error) {
	if a == nil || a.capturer == nil {
		return "", nl2sql.NewError(nl2sql.KindVoiceUnavailable, "voice capture is not configured", ErrUnavailable)
	}

	var (
		state    = StateListening
		attempts int
		heard    string
		cause    error
	)
	for {
		switch state {
		case StateListening:
			attempts++
			a.say(ctx, "Listening for your command")
			transcript, err := a.capture(ctx, a.listenTimeout)
			if err != nil {
				cause = err
				state = StateFailed
				continue
			}
			heard = strings.TrimSpace(transcript)
			if heard == "" {
				a.say(ctx, "No speech detected. Please try again.")
				state = StateRetry
				continue
			}
			state = StateConfirming

		case StateConfirming:
			a.say(ctx, fmt.Sprintf("I heard: %s. Is this correct?", heard))
			reply, err := a.capture(ctx, a.confirmTimeout)
			if err != nil {
				cause = err
				state = StateFailed
				continue
			}
			if IsConfirmation(reply) {
				state = StateAccepted
				continue
			}
			a.say(ctx, "Let's try that again.")
			state = StateRetry

		case StateRetry:
			if attempts >= a.maxAttempts {
				state = StateFailed
				continue
			}
			state = StateListening

		case StateAccepted:
			a.logger.InfoContext(ctx, "voice question accepted", slog.Int("attempts", attempts))
			return heard, nil

		case StateFailed:
			if cause != nil {
				return "", nl2sql.NewError(nl2sql.KindVoiceUnavailable, "could not process voice input", cause)
			}
			return "", nl2sql.NewError(nl2sql.KindVoiceUnavailable, fmt.Sprintf("no confirmed question after %d attempts", attempts), nil)
		}
	}
}

// capture runs one bounded Capture. Hitting the bound yields an empty
// transcript; cancellation of ctx itself is still an error.
func (a *Assistant) capture(ctx context.Context, timeout time.Duration) (string, error) {
	captureCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	transcript, err := a.capturer.Capture(captureCtx)
	if err != nil && ctx.Err() == nil && errors.Is(captureCtx.Err(), context.DeadlineExceeded) {
		a.logger.InfoContext(ctx, "voice capture timed out", slog.Duration("timeout", timeout))
		return "", nil
	}
	return transcript, err
}

// Announce speaks the result count followed by the first rows.
func (a *Assistant) Announce(ctx context.Context, rows []query.Row) {
	for _, line := range AnnouncementLines(rows, a.announceLimit) {
		a.say(ctx, line)
	}
}

// AnnouncementLines renders the spoken summary of a result set.
func AnnouncementLines(rows []query.Row, limit int) []string {
	if limit <= 0 {
		limit = DefaultAnnounceLimit
	}
	lines := []string{fmt.Sprintf("Found %d results. Here they are:", len(rows))}
	for i, row := range rows {
		if i == limit {
			break
		}
		lines = append(lines, fmt.Sprintf("Result %d: %s", i+1, describeRow(row)))
	}
	if len(rows) > limit {
		lines = append(lines, fmt.Sprintf("And %d more results.", len(rows)-limit))
	}
	return lines
}

func describeRow(row query.Row) string {
	parts := make([]string, 0, len(row))
	for _, field := range row {
		parts = append(parts, fmt.Sprintf("%s %v", field.Name, field.Value))
	}
	return strings.Join(parts, ", ")
}

// say never fails the interaction; speech errors are logged and the text is
// dropped.
func (a *Assistant) say(ctx context.Context, text string) {
	if a.speaker == nil {
		return
	}
	if err := a.speaker.Speak(ctx, text); err != nil {
		a.logger.WarnContext(ctx, "speech output failed", slog.String("text", text), slog.String("error", err.Error()))
	}
}
