package majordomo

import (
	"context"
	"testing"
	"time"
)

type recordingNotifier struct {
	tiers  []string
	alerts []Alert
}

func (n *recordingNotifier) Notify(_ context.Context, tier string, a Alert) error {
	n.tiers = append(n.tiers, tier)
	n.alerts = append(n.alerts, a)
	return nil
}

// newTestEscalator pins time to 12:00 UTC, outside the default DND window.
func newTestEscalator(t *testing.T, opts ...EscalatorOption) (*Escalator, *recordingNotifier, *memState, *time.Time) {
	t.Helper()
	state := newMemState()
	notifier := &recordingNotifier{}
	opts = append([]EscalatorOption{WithLocation(time.UTC)}, opts...)
	e := NewEscalator(state, notifier, opts...)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return now }
	return e, notifier, state, &now
}

func TestRaiseInfoStaysPrimary(t *testing.T) {
	e, notifier, _, now := newTestEscalator(t)
	ctx := context.Background()

	a, err := e.Raise(ctx, "", AlertInfo, "build finished")
	if err != nil {
		t.Fatalf("raise: %v", err)
	}
	if a.Tier != TierPrimary || a.NextEscalateAt != 0 {
		t.Errorf("alert = %+v", a)
	}
	if len(notifier.tiers) != 1 || notifier.tiers[0] != TierPrimary {
		t.Errorf("tiers = %v", notifier.tiers)
	}

	// Info never escalates.
	*now = now.Add(time.Hour)
	e.Tick(ctx)
	if len(notifier.tiers) != 1 {
		t.Errorf("tiers after tick = %v", notifier.tiers)
	}
}

func TestWarningEscalatesToSecondaryOnly(t *testing.T) {
	e, notifier, _, now := newTestEscalator(t)
	ctx := context.Background()

	e.Raise(ctx, "", AlertWarning, "disk filling up")

	// Not due yet at 14 minutes.
	*now = now.Add(14 * time.Minute)
	e.Tick(ctx)
	if len(notifier.tiers) != 1 {
		t.Fatalf("escalated early: %v", notifier.tiers)
	}

	*now = now.Add(time.Minute)
	e.Tick(ctx)
	if len(notifier.tiers) != 2 || notifier.tiers[1] != TierSecondary {
		t.Fatalf("tiers = %v", notifier.tiers)
	}

	// Warnings stop at secondary.
	*now = now.Add(time.Hour)
	e.Tick(ctx)
	if len(notifier.tiers) != 2 {
		t.Errorf("warning escalated past secondary: %v", notifier.tiers)
	}
}

func TestCriticalClimbsToVoice(t *testing.T) {
	e, notifier, _, now := newTestEscalator(t)
	ctx := context.Background()

	e.Raise(ctx, "", AlertCritical, "database down")

	*now = now.Add(15 * time.Minute)
	e.Tick(ctx)
	*now = now.Add(15 * time.Minute)
	e.Tick(ctx)

	want := []string{TierPrimary, TierSecondary, TierVoice}
	if len(notifier.tiers) != 3 {
		t.Fatalf("tiers = %v", notifier.tiers)
	}
	for i, tier := range want {
		if notifier.tiers[i] != tier {
			t.Errorf("tier[%d] = %s, want %s", i, notifier.tiers[i], tier)
		}
	}

	// Voice is the top of the ladder.
	*now = now.Add(time.Hour)
	e.Tick(ctx)
	if len(notifier.tiers) != 3 {
		t.Errorf("escalated past voice: %v", notifier.tiers)
	}
}

func TestEmergencyGoesStraightToVoice(t *testing.T) {
	e, notifier, _, _ := newTestEscalator(t)

	a, err := e.Raise(context.Background(), "", AlertEmergency, "intruder detected")
	if err != nil {
		t.Fatalf("raise: %v", err)
	}
	if a.Tier != TierVoice {
		t.Errorf("tier = %s", a.Tier)
	}
	if len(notifier.tiers) != 1 || notifier.tiers[0] != TierVoice {
		t.Errorf("tiers = %v", notifier.tiers)
	}
}

func TestAckHaltsEscalation(t *testing.T) {
	e, notifier, state, now := newTestEscalator(t)
	ctx := context.Background()

	a, _ := e.Raise(ctx, "", AlertCritical, "database down")
	if err := e.Ack(ctx, a.ID); err != nil {
		t.Fatalf("ack: %v", err)
	}

	*now = now.Add(time.Hour)
	e.Tick(ctx)
	if len(notifier.tiers) != 1 {
		t.Errorf("acknowledged alert escalated: %v", notifier.tiers)
	}

	stored, _ := state.GetAlert(ctx, a.ID)
	if stored.AcknowledgedAt == 0 || stored.NextEscalateAt != 0 {
		t.Errorf("alert = %+v", stored)
	}

	// Ack is idempotent.
	if err := e.Ack(ctx, a.ID); err != nil {
		t.Errorf("second ack: %v", err)
	}
}

func TestRaiseDeduplicatesByKey(t *testing.T) {
	e, notifier, _, now := newTestEscalator(t)
	ctx := context.Background()

	first, _ := e.Raise(ctx, "disk-sda1", AlertWarning, "disk filling up")
	dup, err := e.Raise(ctx, "disk-sda1", AlertWarning, "disk filling up")
	if err != nil {
		t.Fatalf("raise: %v", err)
	}
	if dup.ID != first.ID {
		t.Error("duplicate key created a second alert")
	}
	if len(notifier.tiers) != 1 {
		t.Errorf("duplicate re-notified: %v", notifier.tiers)
	}

	// Past the dedup window the same key opens a fresh alert.
	*now = now.Add(6 * time.Minute)
	again, _ := e.Raise(ctx, "disk-sda1", AlertWarning, "disk filling up")
	if again.ID == first.ID {
		t.Error("dedup window never expired")
	}
}

func TestDNDSuppressesChatTiers(t *testing.T) {
	e, notifier, _, now := newTestEscalator(t)
	*now = time.Date(2026, 3, 1, 23, 30, 0, 0, time.UTC) // inside 23:00–07:00

	e.Raise(context.Background(), "", AlertWarning, "disk filling up")
	if len(notifier.tiers) != 0 {
		t.Errorf("DND let a warning through: %v", notifier.tiers)
	}
}

func TestDNDCriticalVoiceBypass(t *testing.T) {
	e, notifier, _, now := newTestEscalator(t)
	ctx := context.Background()
	*now = time.Date(2026, 3, 1, 23, 30, 0, 0, time.UTC)

	e.Raise(ctx, "", AlertCritical, "database down")
	// Primary and secondary are suppressed during quiet hours.
	*now = now.Add(15 * time.Minute)
	e.Tick(ctx)
	if len(notifier.tiers) != 0 {
		t.Fatalf("chat tier bypassed DND: %v", notifier.tiers)
	}

	// The voice tier of a critical alert rings through.
	*now = now.Add(15 * time.Minute)
	e.Tick(ctx)
	if len(notifier.tiers) != 1 || notifier.tiers[0] != TierVoice {
		t.Errorf("tiers = %v", notifier.tiers)
	}
}

func TestDNDEmergencyBypass(t *testing.T) {
	e, notifier, _, now := newTestEscalator(t)
	*now = time.Date(2026, 3, 1, 2, 0, 0, 0, time.UTC)

	e.Raise(context.Background(), "", AlertEmergency, "intruder detected")
	if len(notifier.tiers) != 1 || notifier.tiers[0] != TierVoice {
		t.Errorf("tiers = %v", notifier.tiers)
	}
}

func TestDNDWindowWrapsMidnight(t *testing.T) {
	w := DNDWindow{StartHour: 23, EndHour: 7}
	cases := []struct {
		hour int
		in   bool
	}{
		{22, false}, {23, true}, {0, true}, {6, true}, {7, false}, {12, false},
	}
	for _, tc := range cases {
		at := time.Date(2026, 3, 1, tc.hour, 30, 0, 0, time.UTC)
		if got := w.Contains(at); got != tc.in {
			t.Errorf("Contains(%02d:30) = %t, want %t", tc.hour, got, tc.in)
		}
	}

	// Equal start and end means no quiet hours at all.
	never := DNDWindow{StartHour: 8, EndHour: 8}
	if never.Contains(time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)) {
		t.Error("degenerate window suppressed")
	}
}

func TestVoiceDisabledDowngradesToSecondary(t *testing.T) {
	e, notifier, _, _ := newTestEscalator(t, WithVoiceEnabled(false))

	e.Raise(context.Background(), "", AlertEmergency, "intruder detected")
	if len(notifier.tiers) != 1 || notifier.tiers[0] != TierSecondary {
		t.Errorf("tiers = %v", notifier.tiers)
	}
}
