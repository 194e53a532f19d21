package ingress

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/giquina/majordomo"
)

// deliveryTTL is how long a GitHub delivery ID is remembered for dedup.
const deliveryTTL = 5 * time.Minute

// twilioWebhook receives inbound SMS. Twilio signs the full public URL
// plus the sorted form params; requests that fail the check are rejected.
// The reply body is empty TwiML so Twilio does not send an auto-response.
func (s *Server) twilioWebhook(c *gin.Context) {
	if s.sms == nil {
		c.String(http.StatusNotFound, "not configured")
		return
	}
	if err := c.Request.ParseForm(); err != nil {
		c.String(http.StatusBadRequest, "bad form")
		return
	}

	fullURL := s.publicURL + c.Request.URL.RequestURI()
	sig := c.GetHeader("X-Twilio-Signature")
	if !s.sms.ValidateSignature(fullURL, c.Request.PostForm, sig) {
		s.logger.Warn("ingress: twilio signature rejected", "from", c.PostForm("From"))
		c.String(http.StatusForbidden, "invalid signature")
		return
	}

	from := c.PostForm("From")
	msg := majordomo.InboundMessage{
		ID:         c.PostForm("MessageSid"),
		Platform:   majordomo.PlatformSecondary,
		ChatID:     from,
		UserID:     from,
		Text:       c.PostForm("Body"),
		ReceivedAt: majordomo.NowMillis(),
	}
	if c.PostForm("NumMedia") != "" && c.PostForm("NumMedia") != "0" {
		msg.Attachments = []majordomo.Attachment{{
			URL:  c.PostForm("MediaUrl0"),
			Mime: c.PostForm("MediaContentType0"),
		}}
	}
	s.sms.Inject(msg)

	c.Header("Content-Type", "text/xml")
	c.String(http.StatusOK, "<Response></Response>")
}

// githubEvent is the slice of the webhook payload the handler reads.
type githubEvent struct {
	Action     string `json:"action"`
	Ref        string `json:"ref"`
	Repository struct {
		FullName string `json:"full_name"`
	} `json:"repository"`
	Pusher struct {
		Name string `json:"name"`
	} `json:"pusher"`
	PullRequest struct {
		Title  string `json:"title"`
		Merged bool   `json:"merged"`
	} `json:"pull_request"`
	Issue struct {
		Title string `json:"title"`
	} `json:"issue"`
}

// githubWebhook turns repository events into informational alerts on the
// primary tier. Deliveries are deduplicated by X-GitHub-Delivery for five
// minutes; GitHub redelivers on slow responses.
func (s *Server) githubWebhook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil {
		c.String(http.StatusBadRequest, "read failed")
		return
	}

	if s.ghSecret != "" && !validGitHubSignature(body, c.GetHeader("X-Hub-Signature-256"), s.ghSecret) {
		c.String(http.StatusForbidden, "invalid signature")
		return
	}

	delivery := c.GetHeader("X-GitHub-Delivery")
	if delivery == "" {
		c.String(http.StatusBadRequest, "missing delivery id")
		return
	}
	if !s.deliveries.Add(delivery) {
		c.String(http.StatusOK, "duplicate")
		return
	}

	var ev githubEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		c.String(http.StatusBadRequest, "bad payload")
		return
	}

	summary := summarizeGitHubEvent(c.GetHeader("X-GitHub-Event"), ev)
	if summary == "" || s.escalator == nil {
		c.String(http.StatusOK, "ignored")
		return
	}

	if _, err := s.escalator.Raise(c.Request.Context(), "gh-"+delivery, majordomo.AlertInfo, summary); err != nil {
		s.logger.Error("ingress: github alert failed", "error", err)
		c.String(http.StatusInternalServerError, "alert failed")
		return
	}
	c.String(http.StatusOK, "ok")
}

// summarizeGitHubEvent renders the one-line notification for an event, or
// "" for event types that stay silent.
func summarizeGitHubEvent(event string, ev githubEvent) string {
	repo := ev.Repository.FullName
	switch event {
	case "push":
		return fmt.Sprintf("%s: %s pushed to %s", repo, ev.Pusher.Name, ev.Ref)
	case "pull_request":
		switch {
		case ev.Action == "opened":
			return fmt.Sprintf("%s: PR opened: %s", repo, ev.PullRequest.Title)
		case ev.Action == "closed" && ev.PullRequest.Merged:
			return fmt.Sprintf("%s: PR merged: %s", repo, ev.PullRequest.Title)
		}
	case "issues":
		if ev.Action == "opened" {
			return fmt.Sprintf("%s: issue opened: %s", repo, ev.Issue.Title)
		}
	}
	return ""
}

func validGitHubSignature(body []byte, header, secret string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(header))
}

// deliveryCache remembers webhook delivery IDs for a TTL.
type deliveryCache struct {
	mu   sync.Mutex
	ttl  time.Duration
	seen map[string]time.Time
	now  func() time.Time
}

func newDeliveryCache(ttl time.Duration) *deliveryCache {
	return &deliveryCache{ttl: ttl, seen: make(map[string]time.Time), now: time.Now}
}

// Add records id, returning false when it was already present. Expired
// entries are pruned on the way through.
func (d *deliveryCache) Add(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	for k, at := range d.seen {
		if now.Sub(at) > d.ttl {
			delete(d.seen, k)
		}
	}
	if _, dup := d.seen[id]; dup {
		return false
	}
	d.seen[id] = now
	return true
}
