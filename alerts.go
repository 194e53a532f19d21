package majordomo

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

const (
	escalateToSecondary = 15 * time.Minute // from creation
	escalateToVoice     = 30 * time.Minute // from creation
	alertDedupWindow    = 5 * time.Minute
)

// DNDWindow is the do-not-disturb quiet-hours range in local time.
// Start > End means the window wraps midnight.
type DNDWindow struct {
	StartHour int
	EndHour   int
}

// Contains reports whether t falls inside the window.
func (w DNDWindow) Contains(t time.Time) bool {
	h := t.Hour()
	if w.StartHour == w.EndHour {
		return false
	}
	if w.StartHour < w.EndHour {
		return h >= w.StartHour && h < w.EndHour
	}
	return h >= w.StartHour || h < w.EndHour
}

// Notifier delivers one alert tier. Primary and secondary are chat
// frontends; voice places a call.
type Notifier interface {
	Notify(ctx context.Context, tier string, a Alert) error
}

// Escalator runs the tiered notification ladder: primary chat, secondary
// chat, voice call. Acknowledgement halts escalation; DND suppresses
// non-bypassing tiers; duplicate keys within five minutes are dropped.
type Escalator struct {
	store    StateStore
	notifier Notifier
	dnd      DNDWindow
	local    *time.Location
	voiceOn  bool
	logger   *slog.Logger
	now      func() time.Time
}

// EscalatorOption configures an Escalator.
type EscalatorOption func(*Escalator)

// WithDND overrides the default 23:00–07:00 quiet hours.
func WithDND(w DNDWindow) EscalatorOption {
	return func(e *Escalator) { e.dnd = w }
}

// WithVoiceEnabled toggles the voice tier (AUTO_CALL_ENABLED).
func WithVoiceEnabled(on bool) EscalatorOption {
	return func(e *Escalator) { e.voiceOn = on }
}

// WithLocation sets the local timezone for DND evaluation.
func WithLocation(loc *time.Location) EscalatorOption {
	return func(e *Escalator) { e.local = loc }
}

// WithEscalatorLogger sets the structured logger.
func WithEscalatorLogger(l *slog.Logger) EscalatorOption {
	return func(e *Escalator) { e.logger = l }
}

// NewEscalator creates an Escalator over the state store.
func NewEscalator(store StateStore, notifier Notifier, opts ...EscalatorOption) *Escalator {
	e := &Escalator{
		store:    store,
		notifier: notifier,
		dnd:      DNDWindow{StartHour: 23, EndHour: 7},
		local:    time.Local,
		voiceOn:  true,
		logger:   nopLogger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Raise opens an alert and delivers its initial tier. Duplicate keys
// within the dedup window return the existing alert without re-notifying.
func (e *Escalator) Raise(ctx context.Context, key, level, body string) (Alert, error) {
	now := e.now()

	if key != "" {
		since := now.Add(-alertDedupWindow).UnixMilli()
		if existing, found, err := e.store.AlertByKey(ctx, key, since); err != nil {
			return Alert{}, fmt.Errorf("alerts: dedup lookup: %w", err)
		} else if found {
			e.logger.Debug("alert deduplicated", "key", key, "id", existing.ID)
			return existing, nil
		}
	}

	a := Alert{
		ID:        NewID(),
		Key:       key,
		Level:     level,
		Body:      body,
		CreatedAt: now.UnixMilli(),
	}

	switch level {
	case AlertEmergency:
		a.Tier = TierVoice
	default:
		a.Tier = TierPrimary
	}
	switch level {
	case AlertWarning:
		a.NextEscalateAt = now.Add(escalateToSecondary).UnixMilli()
	case AlertCritical:
		a.NextEscalateAt = now.Add(escalateToSecondary).UnixMilli()
	}

	if err := e.store.CreateAlert(ctx, a); err != nil {
		return Alert{}, fmt.Errorf("alerts: create: %w", err)
	}

	if err := e.deliver(ctx, a); err != nil {
		e.logger.Warn("alert delivery failed", "id", a.ID, "tier", a.Tier, "error", err)
	}
	return a, nil
}

// Ack acknowledges an alert and halts its escalation.
func (e *Escalator) Ack(ctx context.Context, alertID string) error {
	a, err := e.store.GetAlert(ctx, alertID)
	if err != nil {
		return fmt.Errorf("alerts: ack lookup: %w", err)
	}
	if a.AcknowledgedAt != 0 {
		return nil
	}
	a.AcknowledgedAt = e.now().UnixMilli()
	a.NextEscalateAt = 0
	if err := e.store.UpdateAlert(ctx, a); err != nil {
		return fmt.Errorf("alerts: ack update: %w", err)
	}
	e.logger.Info("alert acknowledged", "id", alertID)
	return nil
}

// Tick escalates every due unacknowledged alert one tier. Called by the
// scheduler or a dedicated loop.
func (e *Escalator) Tick(ctx context.Context) error {
	due, err := e.store.DueAlerts(ctx, e.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("alerts: due lookup: %w", err)
	}
	for _, a := range due {
		if err := e.escalate(ctx, a); err != nil {
			e.logger.Warn("escalation failed", "id", a.ID, "error", err)
		}
	}
	return nil
}

// StartLoop runs Tick every interval until ctx is cancelled.
func (e *Escalator) StartLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.Tick(ctx); err != nil {
				e.logger.Warn("alert tick failed", "error", err)
			}
		}
	}
}

// escalate moves an alert to its next tier. Past voice there is no further
// escalation: the alert stays open with NextEscalateAt cleared.
func (e *Escalator) escalate(ctx context.Context, a Alert) error {
	created := time.UnixMilli(a.CreatedAt)
	switch a.Tier {
	case TierPrimary:
		a.Tier = TierSecondary
		if a.Level == AlertCritical {
			a.NextEscalateAt = created.Add(escalateToVoice).UnixMilli()
		} else {
			a.NextEscalateAt = 0
		}
	case TierSecondary:
		if a.Level != AlertCritical {
			a.NextEscalateAt = 0
			return e.store.UpdateAlert(ctx, a)
		}
		a.Tier = TierVoice
		a.NextEscalateAt = 0
	default:
		a.NextEscalateAt = 0
		return e.store.UpdateAlert(ctx, a)
	}

	if err := e.store.UpdateAlert(ctx, a); err != nil {
		return err
	}
	if err := e.deliver(ctx, a); err != nil {
		e.logger.Warn("alert delivery failed", "id", a.ID, "tier", a.Tier, "error", err)
	}
	return nil
}

// deliver sends the alert at its current tier, honoring DND. Critical
// alerts bypass DND only at the voice tier; emergencies always bypass.
func (e *Escalator) deliver(ctx context.Context, a Alert) error {
	tier := a.Tier
	if tier == TierVoice && !e.voiceOn {
		e.logger.Info("voice tier disabled, downgrading to secondary", "id", a.ID)
		tier = TierSecondary
	}

	if e.dnd.Contains(e.now().In(e.local)) && !e.bypassesDND(a.Level, tier) {
		e.logger.Info("alert suppressed by DND", "id", a.ID, "tier", tier)
		return nil
	}
	return e.notifier.Notify(ctx, tier, a)
}

func (e *Escalator) bypassesDND(level, tier string) bool {
	switch level {
	case AlertEmergency:
		return true
	case AlertCritical:
		return tier == TierVoice
	}
	return false
}
