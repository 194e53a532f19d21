// Package twilio implements the secondary chat frontend (SMS) and the
// voice tier over the Twilio REST API. Inbound SMS arrives on the ingress
// webhook, not by polling: the HTTP handler validates the request
// signature and pushes the normalized message through Inject; Poll just
// hands out the channel those messages land on.
package twilio

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/giquina/majordomo"
)

const (
	maxMessageLength = 1600 // Twilio concatenated SMS limit
	apiBaseURL       = "https://api.twilio.com/2010-04-01"
)

// Client implements majordomo.Frontend for SMS and majordomo.VoiceCaller
// for the voice alert tier.
type Client struct {
	accountSID string
	authToken  string
	fromNumber string
	httpClient *http.Client
	logger     *slog.Logger

	inbound chan majordomo.InboundMessage
}

var _ majordomo.Frontend = (*Client)(nil)
var _ majordomo.VoiceCaller = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(t *Client) { t.httpClient = c }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *Client) { t.logger = l }
}

// New creates a Twilio client sending from fromNumber.
func New(accountSID, authToken, fromNumber string, opts ...Option) *Client {
	t := &Client{
		accountSID: accountSID,
		authToken:  authToken,
		fromNumber: fromNumber,
		httpClient: &http.Client{},
		logger:     slog.New(discardHandler{}),
		inbound:    make(chan majordomo.InboundMessage, 64),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Platform returns the secondary platform tag.
func (t *Client) Platform() string { return majordomo.PlatformSecondary }

// MaxMessageLength returns the SMS length limit.
func (t *Client) MaxMessageLength() int { return maxMessageLength }

// SupportsMarkdown reports false: SMS is plain text.
func (t *Client) SupportsMarkdown() bool { return false }

// Poll returns the channel fed by Inject. The channel closes when ctx is
// cancelled.
func (t *Client) Poll(ctx context.Context) (<-chan majordomo.InboundMessage, error) {
	out := make(chan majordomo.InboundMessage)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-t.inbound:
				select {
				case out <- msg:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Inject queues an inbound message received by the webhook handler.
// Drops the message when the queue is full rather than blocking the
// HTTP handler.
func (t *Client) Inject(msg majordomo.InboundMessage) {
	select {
	case t.inbound <- msg:
	default:
		t.logger.Warn("twilio: inbound queue full, dropping message", "id", msg.ID)
	}
}

// Send delivers an SMS. Text over the limit is hard-truncated; SMS has no
// useful multi-message continuation.
func (t *Client) Send(ctx context.Context, msg majordomo.OutboundMessage) (string, error) {
	form := url.Values{
		"To":   {msg.ChatID},
		"From": {t.fromNumber},
		"Body": {majordomo.Truncate(msg.Text, maxMessageLength)},
	}
	return t.post(ctx, "Messages.json", form)
}

// SendMedia delivers an MMS with the media URL attached.
func (t *Client) SendMedia(ctx context.Context, chatID, mediaURL, caption string) (string, error) {
	form := url.Values{
		"To":       {chatID},
		"From":     {t.fromNumber},
		"MediaUrl": {mediaURL},
	}
	if caption != "" {
		form.Set("Body", majordomo.Truncate(caption, maxMessageLength))
	}
	return t.post(ctx, "Messages.json", form)
}

// SendTyping is a no-op; SMS has no typing indicator.
func (t *Client) SendTyping(context.Context, string) error { return nil }

// PlaceCall dials `to` and points Twilio at the TwiML script URL in
// scriptRef. Returns the call SID.
func (t *Client) PlaceCall(ctx context.Context, to, scriptRef string) (string, error) {
	form := url.Values{
		"To":   {to},
		"From": {t.fromNumber},
		"Url":  {scriptRef},
	}
	return t.post(ctx, "Calls.json", form)
}

// post sends a form-encoded request to a Twilio account resource and
// returns the created resource SID.
func (t *Client) post(ctx context.Context, resource string, form url.Values) (string, error) {
	endpoint := fmt.Sprintf("%s/Accounts/%s/%s", apiBaseURL, t.accountSID, resource)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("twilio: create request: %w", err)
	}
	req.SetBasicAuth(t.accountSID, t.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("twilio: HTTP request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("twilio: read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return "", &majordomo.ErrHTTP{Status: resp.StatusCode, Body: string(body)}
	}

	var result struct {
		SID string `json:"sid"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("twilio: decode response: %w", err)
	}
	return result.SID, nil
}

// ValidateSignature checks the X-Twilio-Signature header against the
// request URL and sorted POST params, per Twilio's webhook security
// scheme: HMAC-SHA1 over URL + concatenated key/value pairs.
func (t *Client) ValidateSignature(fullURL string, params url.Values, signature string) bool {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(fullURL)
	for _, k := range keys {
		b.WriteString(k)
		b.WriteString(params.Get(k))
	}

	mac := hmac.New(sha1.New, []byte(t.authToken))
	mac.Write([]byte(b.String()))
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }
