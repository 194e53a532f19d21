package bot

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/giquina/majordomo"
)

// TierNotifier delivers alerts: primary tier to the HQ chat, secondary tier
// as SMS to the owner, voice tier as an outbound call reading the alert.
type TierNotifier struct {
	primary   majordomo.Frontend
	secondary majordomo.Frontend
	voice     majordomo.VoiceCaller

	hqChatID    string
	ownerNumber string
	// voiceBaseURL is the public base URL; calls fetch TwiML from
	// <voiceBaseURL>/voice/alert/<id>.
	voiceBaseURL string
}

var _ majordomo.Notifier = (*TierNotifier)(nil)

// NewTierNotifier creates a TierNotifier. secondary and voice may be nil
// when the corresponding tier is not configured.
func NewTierNotifier(primary majordomo.Frontend, secondary majordomo.Frontend, voice majordomo.VoiceCaller, hqChatID, ownerNumber, voiceBaseURL string) *TierNotifier {
	return &TierNotifier{
		primary:      primary,
		secondary:    secondary,
		voice:        voice,
		hqChatID:     hqChatID,
		ownerNumber:  ownerNumber,
		voiceBaseURL: strings.TrimRight(voiceBaseURL, "/"),
	}
}

// Notify delivers one alert at one tier.
func (n *TierNotifier) Notify(ctx context.Context, tier string, a majordomo.Alert) error {
	switch tier {
	case majordomo.TierPrimary:
		if n.primary == nil || n.hqChatID == "" {
			return fmt.Errorf("notifier: primary tier not configured")
		}
		msgr := majordomo.NewMessenger(n.primary.SupportsMarkdown())
		body := fmt.Sprintf("[%s] %s", strings.ToUpper(a.Level), a.Body)
		if a.Level != majordomo.AlertInfo {
			body += "\nReply \"ack " + a.ID + "\" to acknowledge."
		}
		_, err := n.primary.Send(ctx, majordomo.OutboundMessage{
			ChatID: n.hqChatID,
			Text:   msgr.Info(body),
		})
		return err

	case majordomo.TierSecondary:
		if n.secondary == nil || n.ownerNumber == "" {
			return fmt.Errorf("notifier: secondary tier not configured")
		}
		_, err := n.secondary.Send(ctx, majordomo.OutboundMessage{
			ChatID: n.ownerNumber,
			Text:   fmt.Sprintf("[%s] %s (ack %s)", strings.ToUpper(a.Level), a.Body, a.ID),
		})
		return err

	case majordomo.TierVoice:
		if n.voice == nil || n.ownerNumber == "" {
			return fmt.Errorf("notifier: voice tier not configured")
		}
		script := n.voiceBaseURL + "/voice/alert/" + a.ID
		callID, err := n.voice.PlaceCall(ctx, n.ownerNumber, script)
		if err != nil {
			return err
		}
		log.Printf(" [alert] voice call placed id=%s call=%s", a.ID, callID)
		return nil
	}
	return fmt.Errorf("notifier: unknown tier %q", tier)
}
