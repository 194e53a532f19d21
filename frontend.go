package majordomo

import (
	"context"
	"log/slog"
	"strings"
	"unicode/utf8"
)

// Frontend abstracts a messaging channel (Telegram, Twilio SMS, CLI).
// Adapters normalize their native events into InboundMessage and render
// OutboundMessage using whatever markup the platform supports. Send
// failures surface to the caller; no adapter retries silently.
type Frontend interface {
	// Platform returns the platform tag ("primary", "secondary").
	Platform() string
	// Poll returns a channel of incoming messages. Blocks until ctx is cancelled.
	Poll(ctx context.Context) (<-chan InboundMessage, error)
	// Send delivers a message, returning the platform message ID.
	Send(ctx context.Context, msg OutboundMessage) (string, error)
	// SendMedia delivers a media attachment with an optional caption.
	SendMedia(ctx context.Context, chatID, mediaURL, caption string) (string, error)
	// SendTyping shows a typing indicator where the platform supports one.
	SendTyping(ctx context.Context, chatID string) error
	// MaxMessageLength is the hard outbound length limit for this platform.
	MaxMessageLength() int
	// SupportsMarkdown reports whether bold/italic markup survives delivery.
	SupportsMarkdown() bool
}

// truncationMarker is appended when an outbound text is hard-truncated.
const truncationMarker = "... (truncated)"

// Truncate hard-truncates text to the platform limit, appending the
// truncation marker. Texts within the limit pass through unchanged.
func Truncate(text string, maxLen int) string {
	if maxLen <= 0 || len(text) <= maxLen {
		return text
	}
	cut := maxLen - len(truncationMarker)
	if cut < 0 {
		cut = 0
	}
	// Never cut mid-rune.
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	// Prefer breaking on a newline near the cut point.
	if idx := strings.LastIndex(text[:cut], "\n"); idx > cut/2 {
		cut = idx
	}
	return text[:cut] + truncationMarker
}

// nopLogger discards all output. Library components log through it unless a
// logger is injected.
var nopLogger = slog.New(discardHandler{})

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }
