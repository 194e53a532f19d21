// Package config loads service configuration: defaults, then an optional
// TOML file, then environment variables. Env wins.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Telegram  TelegramConfig        `toml:"telegram"`
	Twilio    TwilioConfig          `toml:"twilio"`
	AI        AIConfig              `toml:"ai"`
	Cache     CacheConfig           `toml:"cache"`
	Database  DatabaseConfig        `toml:"database"`
	GitHub    GitHubConfig          `toml:"github"`
	Alerts    AlertsConfig          `toml:"alerts"`
	Server    ServerConfig          `toml:"server"`
	Observer  ObserverConfig        `toml:"observer"`
	Scheduler SchedulerConfig       `toml:"scheduler"`
	Deploy    map[string]DeployHook `toml:"deploy"`

	// AuthorizedUsers is the operator whitelist. Empty means the first user
	// to message the bot becomes the owner.
	AuthorizedUsers []string `toml:"authorized_users"`
	// HQChatID receives alerts and scheduled briefings on the primary platform.
	HQChatID string `toml:"hq_chat_id"`
	// EnabledSkills restricts the skill set when non-empty.
	EnabledSkills []string `toml:"enabled_skills"`
}

type TelegramConfig struct {
	Token string `toml:"token"`
}

type TwilioConfig struct {
	AccountSID string `toml:"account_sid"`
	AuthToken  string `toml:"auth_token"`
	FromNumber string `toml:"from_number"`
	// OwnerNumber is the SMS/voice destination for the secondary and voice
	// alert tiers.
	OwnerNumber string `toml:"owner_number"`
}

type AIConfig struct {
	Anthropic ModelConfig `toml:"anthropic"`
	OpenAI    ModelConfig `toml:"openai"`
	// RPM bounds provider calls per minute; 0 disables rate limiting.
	RPM int `toml:"rpm"`
}

type ModelConfig struct {
	APIKey    string   `toml:"api_key"`
	Model     string   `toml:"model"`
	MaxTokens int      `toml:"max_tokens"`
	Classes   []string `toml:"classes"`
}

type CacheConfig struct {
	Enabled    bool `toml:"enabled"`
	TTLSeconds int  `toml:"ttl_seconds"`
	MaxSize    int  `toml:"max_size"`
}

type DatabaseConfig struct {
	MemoryPath string `toml:"memory_path"`
	StatePath  string `toml:"state_path"`
	// PostgresURL switches the state store from sqlite to postgres when set.
	PostgresURL string `toml:"postgres_url"`
}

type GitHubConfig struct {
	Token         string `toml:"token"`
	WebhookSecret string `toml:"webhook_secret"`
}

type AlertsConfig struct {
	AutoCallEnabled bool   `toml:"auto_call_enabled"`
	DNDStartHour    int    `toml:"dnd_start_hour"`
	DNDEndHour      int    `toml:"dnd_end_hour"`
	Timezone        string `toml:"timezone"`
}

type ServerConfig struct {
	Addr   string `toml:"addr"`
	APIKey string `toml:"api_key"`
	// PublicURL is the externally visible base URL, used for Twilio
	// signature validation.
	PublicURL string `toml:"public_url"`
}

type ObserverConfig struct {
	Enabled bool                       `toml:"enabled"`
	Pricing map[string]ObserverPricing `toml:"pricing"`
}

type ObserverPricing struct {
	Input  float64 `toml:"input"`
	Output float64 `toml:"output"`
}

type SchedulerConfig struct {
	// NightlyCron overrides the nightly autonomous job schedule.
	NightlyCron string `toml:"nightly_cron"`
}

type DeployHook struct {
	DeployURL   string `toml:"deploy_url"`
	RollbackURL string `toml:"rollback_url"`
	RestartURL  string `toml:"restart_url"`
	LiveURL     string `toml:"live_url"`
}

// Default returns a Config with all defaults applied.
func Default() Config {
	return Config{
		AI: AIConfig{
			Anthropic: ModelConfig{Model: "claude-sonnet-4-5", MaxTokens: 4096},
			OpenAI:    ModelConfig{Model: "gpt-4o-mini"},
		},
		Cache:     CacheConfig{Enabled: true, TTLSeconds: 300, MaxSize: 100},
		Database:  DatabaseConfig{MemoryPath: "majordomo-memory.db", StatePath: "majordomo-state.db"},
		Alerts:    AlertsConfig{AutoCallEnabled: true, DNDStartHour: 23, DNDEndHour: 7, Timezone: "Local"},
		Server:    ServerConfig{Addr: ":8080"},
		Scheduler: SchedulerConfig{NightlyCron: "0 2 * * *"},
	}
}

// Load reads config: defaults -> TOML file -> env vars (env wins). A config
// file that fails to parse or an env override that fails to parse is a
// startup error, never a silently kept default.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = "majordomo.toml"
	}

	if data, err := os.ReadFile(path); err == nil {
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	// Env overrides
	if v := os.Getenv("TELEGRAM_TOKEN"); v != "" {
		cfg.Telegram.Token = v
	}
	if v := os.Getenv("TWILIO_ACCOUNT_SID"); v != "" {
		cfg.Twilio.AccountSID = v
	}
	if v := os.Getenv("TWILIO_AUTH_TOKEN"); v != "" {
		cfg.Twilio.AuthToken = v
	}
	if v := os.Getenv("TWILIO_FROM_NUMBER"); v != "" {
		cfg.Twilio.FromNumber = v
	}
	if v := os.Getenv("TWILIO_OWNER_NUMBER"); v != "" {
		cfg.Twilio.OwnerNumber = v
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		cfg.AI.Anthropic.APIKey = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.AI.OpenAI.APIKey = v
	}
	if v := os.Getenv("GITHUB_TOKEN"); v != "" {
		cfg.GitHub.Token = v
	}
	if v := os.Getenv("GITHUB_WEBHOOK_SECRET"); v != "" {
		cfg.GitHub.WebhookSecret = v
	}
	if v := os.Getenv("AUTHORIZED_USERS"); v != "" {
		cfg.AuthorizedUsers = splitList(v)
	}
	if v := os.Getenv("HQ_CHAT_ID"); v != "" {
		cfg.HQChatID = v
	}
	if v := os.Getenv("API_KEY"); v != "" {
		cfg.Server.APIKey = v
	}
	if v := os.Getenv("PUBLIC_URL"); v != "" {
		cfg.Server.PublicURL = v
	}
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.PostgresURL = v
	}
	if err := applyBool("CACHE_ENABLED", &cfg.Cache.Enabled); err != nil {
		return cfg, err
	}
	if err := applyInt("CACHE_TTL_SECONDS", &cfg.Cache.TTLSeconds); err != nil {
		return cfg, err
	}
	if err := applyInt("CACHE_MAX_SIZE", &cfg.Cache.MaxSize); err != nil {
		return cfg, err
	}
	if err := applyBool("AUTO_CALL_ENABLED", &cfg.Alerts.AutoCallEnabled); err != nil {
		return cfg, err
	}
	if err := applyBool("OBSERVER_ENABLED", &cfg.Observer.Enabled); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// Validate fails fast on configurations the service cannot start with.
func (c Config) Validate() error {
	if c.Telegram.Token == "" {
		return fmt.Errorf("config: telegram token is required (TELEGRAM_TOKEN)")
	}
	if c.AI.Anthropic.APIKey == "" && c.AI.OpenAI.APIKey == "" {
		return fmt.Errorf("config: at least one AI provider key is required (ANTHROPIC_API_KEY or OPENAI_API_KEY)")
	}
	if c.Cache.TTLSeconds < 0 {
		return fmt.Errorf("config: cache ttl_seconds must be >= 0, got %d", c.Cache.TTLSeconds)
	}
	if c.Cache.MaxSize <= 0 {
		return fmt.Errorf("config: cache max_size must be > 0, got %d", c.Cache.MaxSize)
	}
	if c.Alerts.DNDStartHour < 0 || c.Alerts.DNDStartHour > 23 ||
		c.Alerts.DNDEndHour < 0 || c.Alerts.DNDEndHour > 23 {
		return fmt.Errorf("config: DND hours must be 0-23")
	}
	if c.Twilio.AccountSID != "" && (c.Twilio.AuthToken == "" || c.Twilio.FromNumber == "") {
		return fmt.Errorf("config: twilio requires account_sid, auth_token, and from_number together")
	}
	return nil
}

// TwilioEnabled reports whether the secondary platform is configured.
func (c Config) TwilioEnabled() bool {
	return c.Twilio.AccountSID != "" && c.Twilio.AuthToken != "" && c.Twilio.FromNumber != ""
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// applyBool overrides dst when the env var is set. Anything other than a
// recognized boolean spelling is an error.
func applyBool(name string, dst *bool) error {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	switch strings.ToLower(v) {
	case "1", "true", "yes", "on":
		*dst = true
	case "0", "false", "no", "off":
		*dst = false
	default:
		return fmt.Errorf("config: %s: unrecognized boolean %q", name, v)
	}
	return nil
}

// applyInt overrides dst when the env var is set and parses as an integer.
func applyInt(name string, dst *int) error {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("config: %s: not an integer: %q", name, v)
	}
	*dst = n
	return nil
}
