// Package telegram implements the primary chat frontend over the Telegram
// Bot API using long polling. No webhook setup is required; the adapter
// owns its getUpdates offset and recovers from transient API failures with
// exponential backoff.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/giquina/majordomo"
)

const (
	maxMessageLength = 4096
	apiBaseURL       = "https://api.telegram.org/bot"
	pollTimeout      = 30 // getUpdates long-poll seconds
	maxBackoff       = 60 * time.Second
)

// Bot implements majordomo.Frontend for Telegram.
type Bot struct {
	token      string
	httpClient *http.Client
	logger     *slog.Logger
}

var _ majordomo.Frontend = (*Bot)(nil)

// BotOption configures a Bot.
type BotOption func(*Bot)

// WithHTTPClient overrides the HTTP client. The default has no overall
// timeout because getUpdates holds the connection open for 30 seconds.
func WithHTTPClient(c *http.Client) BotOption {
	return func(b *Bot) { b.httpClient = c }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) BotOption {
	return func(b *Bot) { b.logger = l }
}

// New creates a Telegram bot with the given token.
func New(token string, opts ...BotOption) *Bot {
	b := &Bot{
		token:      token,
		httpClient: &http.Client{},
		logger:     slog.New(discardHandler{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Platform returns the primary platform tag.
func (b *Bot) Platform() string { return majordomo.PlatformPrimary }

// MaxMessageLength returns Telegram's outbound text limit.
func (b *Bot) MaxMessageLength() int { return maxMessageLength }

// SupportsMarkdown reports true: Send converts markdown to Telegram HTML.
func (b *Bot) SupportsMarkdown() bool { return true }

// Poll starts long-polling and returns a channel of normalized messages.
// The channel closes when ctx is cancelled.
func (b *Bot) Poll(ctx context.Context) (<-chan majordomo.InboundMessage, error) {
	ch := make(chan majordomo.InboundMessage)
	go b.pollLoop(ctx, ch)
	return ch, nil
}

func (b *Bot) pollLoop(ctx context.Context, ch chan<- majordomo.InboundMessage) {
	defer close(ch)
	var offset int64
	backoff := time.Second

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		updates, err := b.getUpdates(ctx, offset)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			b.logger.Warn("telegram: poll error", "error", err, "backoff", backoff)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = time.Second

		for _, u := range updates {
			if u.UpdateID >= offset {
				offset = u.UpdateID + 1
			}
			if u.Message == nil {
				continue
			}
			msg := b.mapToInbound(ctx, u.Message)
			select {
			case ch <- msg:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (b *Bot) getUpdates(ctx context.Context, offset int64) ([]update, error) {
	body := map[string]any{
		"offset":          offset,
		"timeout":         pollTimeout,
		"allowed_updates": []string{"message"},
	}
	var result []update
	if err := b.callAPI(ctx, "getUpdates", body, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// Send delivers a message, splitting texts over the 4096-char limit at
// newline boundaries. Markdown is converted to Telegram HTML; if the API
// rejects the HTML the chunk is resent as plain text. Returns the ID of
// the last message sent.
func (b *Bot) Send(ctx context.Context, msg majordomo.OutboundMessage) (string, error) {
	var lastID string
	for _, chunk := range splitMessage(msg.Text) {
		body := map[string]any{
			"chat_id":    msg.ChatID,
			"text":       markdownToHTML(chunk),
			"parse_mode": "HTML",
		}
		if msg.ReplyToID != "" {
			if id, err := strconv.ParseInt(msg.ReplyToID, 10, 64); err == nil {
				body["reply_to_message_id"] = id
			}
		}
		var result message
		err := b.callAPI(ctx, "sendMessage", body, &result)
		if err != nil {
			var apiErr *apiError
			if !errors.As(err, &apiErr) || apiErr.Code != http.StatusBadRequest {
				return "", err
			}
			// HTML rejected; resend the chunk unformatted.
			delete(body, "parse_mode")
			body["text"] = chunk
			if err := b.callAPI(ctx, "sendMessage", body, &result); err != nil {
				return "", err
			}
		}
		lastID = strconv.FormatInt(result.MessageID, 10)
	}
	return lastID, nil
}

// SendMedia delivers a photo by URL with an optional caption.
func (b *Bot) SendMedia(ctx context.Context, chatID, mediaURL, caption string) (string, error) {
	body := map[string]any{
		"chat_id": chatID,
		"photo":   mediaURL,
	}
	if caption != "" {
		body["caption"] = caption
	}
	var result message
	if err := b.callAPI(ctx, "sendPhoto", body, &result); err != nil {
		return "", err
	}
	return strconv.FormatInt(result.MessageID, 10), nil
}

// SendTyping shows the typing indicator.
func (b *Bot) SendTyping(ctx context.Context, chatID string) error {
	return b.callAPI(ctx, "sendChatAction", map[string]any{
		"chat_id": chatID,
		"action":  "typing",
	}, nil)
}

// fileURL resolves a file ID to a direct download URL via getFile.
func (b *Bot) fileURL(ctx context.Context, fileID string) (string, error) {
	var f tgFile
	if err := b.callAPI(ctx, "getFile", map[string]any{"file_id": fileID}, &f); err != nil {
		return "", err
	}
	if f.FilePath == "" {
		return "", fmt.Errorf("telegram: empty file_path for file_id %s", fileID)
	}
	return fmt.Sprintf("https://api.telegram.org/file/bot%s/%s", b.token, f.FilePath), nil
}

// mapToInbound normalizes a Telegram message. Attachment and voice URLs
// are resolved eagerly so downstream code never touches the Bot API.
func (b *Bot) mapToInbound(ctx context.Context, m *message) majordomo.InboundMessage {
	msg := majordomo.InboundMessage{
		ID:         strconv.FormatInt(m.MessageID, 10),
		Platform:   majordomo.PlatformPrimary,
		ChatID:     strconv.FormatInt(m.Chat.ID, 10),
		Text:       m.Text,
		ReceivedAt: majordomo.NowMillis(),
	}
	if m.From != nil {
		msg.UserID = strconv.FormatInt(m.From.ID, 10)
	}
	if m.Chat.Type != "private" {
		msg.ChatTitle = m.Chat.Title
	}
	if m.Caption != "" && msg.Text == "" {
		msg.Text = m.Caption
	}

	if m.Voice != nil {
		if url, err := b.fileURL(ctx, m.Voice.FileID); err == nil {
			msg.VoiceURL = url
		} else {
			b.logger.Warn("telegram: resolve voice file failed", "error", err)
		}
	}
	if m.Document != nil {
		if url, err := b.fileURL(ctx, m.Document.FileID); err == nil {
			msg.Attachments = append(msg.Attachments, majordomo.Attachment{
				Kind: "document", URL: url, Mime: m.Document.MimeType,
			})
		}
	}
	if len(m.Photo) > 0 {
		// Last photo size is the largest.
		if url, err := b.fileURL(ctx, m.Photo[len(m.Photo)-1].FileID); err == nil {
			msg.Attachments = append(msg.Attachments, majordomo.Attachment{
				Kind: "photo", URL: url, Mime: "image/jpeg",
			})
		}
	}
	return msg
}

// callAPI posts JSON to a Bot API method and decodes the result envelope.
func (b *Bot) callAPI(ctx context.Context, method string, reqBody any, result any) error {
	url := apiBaseURL + b.token + "/" + method

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("telegram: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return fmt.Errorf("telegram: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("telegram: HTTP request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("telegram: read response: %w", err)
	}

	var envelope struct {
		OK          bool            `json:"ok"`
		Description string          `json:"description,omitempty"`
		ErrorCode   int             `json:"error_code,omitempty"`
		Result      json.RawMessage `json:"result,omitempty"`
	}
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return fmt.Errorf("telegram: decode response: %w (body: %s)", err, string(respBody))
	}
	if !envelope.OK {
		return &apiError{Code: envelope.ErrorCode, Description: envelope.Description}
	}
	if result != nil && len(envelope.Result) > 0 {
		if err := json.Unmarshal(envelope.Result, result); err != nil {
			return fmt.Errorf("telegram: decode result: %w", err)
		}
	}
	return nil
}

// apiError is a Telegram API error response.
type apiError struct {
	Code        int
	Description string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("telegram API error %d: %s", e.Code, e.Description)
}

// splitMessage splits text into chunks within the 4096-char limit,
// preferring newline boundaries.
func splitMessage(text string) []string {
	if len(text) <= maxMessageLength {
		return []string{text}
	}

	var chunks []string
	remaining := text
	for len(remaining) > 0 {
		if len(remaining) <= maxMessageLength {
			chunks = append(chunks, remaining)
			break
		}
		end := maxMessageLength
		// Never cut mid-rune.
		for end > 0 && !utf8.RuneStart(remaining[end]) {
			end--
		}
		splitPos := strings.LastIndex(remaining[:end], "\n")
		if splitPos == -1 {
			splitPos = end
		} else {
			splitPos++
		}
		chunks = append(chunks, remaining[:splitPos])
		remaining = remaining[splitPos:]
	}
	return chunks
}

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }
