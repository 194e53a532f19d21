// Package ingress is the HTTP surface: the Twilio SMS webhook, the GitHub
// webhook, voice-call TwiML endpoints, a health probe, and a small REST
// API behind an API key.
package ingress

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/giquina/majordomo"
)

const shutdownGrace = 10 * time.Second

// SMSGateway is the slice of the Twilio client the webhook handler needs.
type SMSGateway interface {
	ValidateSignature(fullURL string, params url.Values, signature string) bool
	Inject(msg majordomo.InboundMessage)
}

// Server is the ingress HTTP server.
type Server struct {
	addr      string
	publicURL string // external base URL Twilio signs requests against
	apiKey    string
	ghSecret  string

	memory    majordomo.MemoryStore
	state     majordomo.StateStore
	actions   *majordomo.Controller
	escalator *majordomo.Escalator
	sms       SMSGateway

	deliveries *deliveryCache
	logger     *slog.Logger
	engine     *gin.Engine
	httpSrv    *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithSMSGateway enables the Twilio webhook route.
func WithSMSGateway(g SMSGateway) Option {
	return func(s *Server) { s.sms = g }
}

// WithGitHubSecret enables HMAC validation on the GitHub webhook.
func WithGitHubSecret(secret string) Option {
	return func(s *Server) { s.ghSecret = secret }
}

// WithAPIKey guards the /api routes. Empty disables them.
func WithAPIKey(key string) Option {
	return func(s *Server) { s.apiKey = key }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// New builds the server and registers all routes. escalator may be nil;
// alert-raising endpoints then answer 503.
func New(addr, publicURL string, memory majordomo.MemoryStore, state majordomo.StateStore, actions *majordomo.Controller, escalator *majordomo.Escalator, opts ...Option) *Server {
	s := &Server{
		addr:       addr,
		publicURL:  strings.TrimRight(publicURL, "/"),
		memory:     memory,
		state:      state,
		actions:    actions,
		escalator:  escalator,
		deliveries: newDeliveryCache(deliveryTTL),
		logger:     slog.New(discardHandler{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	gin.SetMode(gin.ReleaseMode)
	e := gin.New()
	e.Use(gin.Recovery())

	e.GET("/health", s.health)
	e.POST("/webhook", s.twilioWebhook)
	e.POST("/github-webhook", s.githubWebhook)
	e.GET("/voice/alert/:id", s.voiceAlert)
	e.POST("/voice/alert/:id", s.voiceAlert)
	e.POST("/voice/status", s.voiceStatus)

	if s.apiKey != "" {
		api := e.Group("/api", s.requireAPIKey)
		api.GET("/status", s.apiStatus)
		api.GET("/tasks", s.apiTasks)
		api.POST("/alert", s.apiRaiseAlert)
	}

	s.engine = e
	return s
}

// Handler exposes the route tree, mainly for tests.
func (s *Server) Handler() http.Handler { return s.engine }

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	s.httpSrv = &http.Server{
		Addr:              s.addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- s.httpSrv.ListenAndServe() }()
	s.logger.Info("ingress: listening", "addr", s.addr)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		sctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return s.httpSrv.Shutdown(sctx)
	}
}

// health is the open liveness probe; it verifies the stores answer.
func (s *Server) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	if _, err := s.memory.GetConfig(ctx, "owner_user_id"); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

// requireAPIKey guards the /api group.
func (s *Server) requireAPIKey(c *gin.Context) {
	if c.GetHeader("X-API-Key") != s.apiKey {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid API key"})
		return
	}
	c.Next()
}

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }
