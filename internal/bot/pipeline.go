package bot

import (
	"context"
	"errors"
	"fmt"
	"log"
	"regexp"
	"strings"

	"github.com/giquina/majordomo"
)

var (
	yesPattern = regexp.MustCompile(`(?i)^(yes|y|confirm|approve|go ahead|do it)[.!]?$`)
	noPattern  = regexp.MustCompile(`(?i)^(no|n|cancel|stop|reject)[.!]?$`)
	ackPattern = regexp.MustCompile(`(?i)^ack\s+(\S+)$`)
)

// route handles one incoming message through the pipeline.
func (a *App) route(ctx context.Context, msg majordomo.InboundMessage) {
	log.Printf(" [recv] platform=%s from=%s chat=%s", msg.Platform, msg.UserID, msg.ChatID)

	// 1. Auth check. Denied is silent: no reply, just a log line.
	if !a.isAuthorized(ctx, msg.UserID) {
		log.Printf(" [auth] DENIED user=%s", msg.UserID)
		return
	}

	// 2. First message from an unknown group chat may auto-bind to a project.
	if a.registry.AutoBind(ctx, msg) {
		log.Printf(" [bind] auto-bound chat=%s", msg.ChatID)
	}

	text := strings.TrimSpace(msg.Text)
	if text == "" {
		if msg.VoiceURL != "" {
			a.reply(ctx, msg, "Voice notes are not supported yet — please type it out.")
		}
		return
	}

	f := a.frontends[msg.Platform]
	msgr := majordomo.NewMessenger(f != nil && f.SupportsMarkdown())

	// 3. Alert acknowledgement.
	if m := ackPattern.FindStringSubmatch(text); m != nil {
		a.handleAck(ctx, msg, msgr, m[1])
		return
	}

	// 4. Confirmation words resolve the pending action.
	if yesPattern.MatchString(text) {
		a.handleConfirm(ctx, msg, msgr)
		return
	}
	if noPattern.MatchString(text) {
		a.handleReject(ctx, msg, msgr)
		return
	}

	// 5. /status built-in.
	if text == "/status" {
		a.reply(ctx, msg, a.statusReport(ctx, msg.UserID))
		log.Println(" [cmd] /status")
		return
	}

	// 6. Anything else while an action is pending gets a nudge first.
	if pending, found, err := a.actions.Pending(ctx, msg.UserID); err == nil && found {
		a.reply(ctx, msg, msgr.Reminder(pending.Summary))
	}

	if f != nil {
		_ = f.SendTyping(ctx, msg.ChatID)
	}

	// 7. Rewrite, then skill dispatch; no match falls back to the AI path.
	cmd := a.rewriter.Rewrite(text)
	if cmd != text {
		log.Printf(" [rewrite] %q -> %q", firstLine(text), firstLine(cmd))
	}

	sctx := a.skillContext(msg)
	resp, err := a.skills.Dispatch(ctx, cmd, sctx)
	switch {
	case err == nil:
		a.reply(ctx, msg, resp.Message)
		a.logConversation(ctx, msg, resp.Message)
	case errors.Is(err, majordomo.ErrNoMatch):
		a.handleAI(ctx, msg, msgr, text)
	default:
		log.Printf(" [dispatch] error: %v", err)
		a.reply(ctx, msg, msgr.Failed("Something went wrong handling that."))
	}
}

// isAuthorized checks the whitelist; an empty whitelist auto-registers the
// first sender as owner.
func (a *App) isAuthorized(ctx context.Context, userID string) bool {
	if len(a.authorized) > 0 {
		return a.authorized[userID]
	}

	owner, err := a.memory.GetConfig(ctx, "owner_user_id")
	if err == nil && owner != "" {
		return owner == userID
	}
	if err := a.memory.SetConfig(ctx, "owner_user_id", userID); err != nil {
		log.Printf(" [auth] owner registration failed: %v", err)
		return false
	}
	log.Printf(" [auth] registered owner user_id=%s", userID)
	return true
}

func (a *App) handleAck(ctx context.Context, msg majordomo.InboundMessage, msgr *majordomo.Messenger, alertID string) {
	if a.escalator == nil {
		a.reply(ctx, msg, msgr.Failed("Alerting is not configured."))
		return
	}
	if err := a.escalator.Ack(ctx, alertID); err != nil {
		a.reply(ctx, msg, msgr.Failed("Could not acknowledge that alert."))
		return
	}
	a.reply(ctx, msg, msgr.Info("Alert acknowledged."))
}

func (a *App) handleConfirm(ctx context.Context, msg majordomo.InboundMessage, msgr *majordomo.Messenger) {
	pending, found, err := a.actions.Pending(ctx, msg.UserID)
	if err != nil {
		log.Printf(" [confirm] pending read failed: %v", err)
		a.reply(ctx, msg, msgr.Failed("Could not read the pending action."))
		return
	}
	if !found {
		a.reply(ctx, msg, msgr.Info("No pending action."))
		return
	}

	a.reply(ctx, msg, msgr.Working(pending.Kind))

	_, result, err := a.actions.Confirm(ctx, msg.UserID)
	if err != nil {
		if errors.Is(err, majordomo.ErrNoPending) {
			a.reply(ctx, msg, msgr.Info("No pending action."))
			return
		}
		log.Printf(" [confirm] execute failed: %v", err)
		a.reply(ctx, msg, msgr.Failed(err.Error()))
		return
	}
	a.reply(ctx, msg, msgr.Complete(result, nil))
	a.logConversation(ctx, msg, result)
}

func (a *App) handleReject(ctx context.Context, msg majordomo.InboundMessage, msgr *majordomo.Messenger) {
	pending, err := a.actions.Reject(ctx, msg.UserID)
	if err != nil {
		if errors.Is(err, majordomo.ErrNoPending) {
			a.reply(ctx, msg, msgr.Info("No pending action."))
			return
		}
		a.reply(ctx, msg, msgr.Failed("Could not cancel the action."))
		return
	}
	a.reply(ctx, msg, msgr.Info("Cancelled: "+pending.Summary))
}

// handleAI is the fallback path: build context, route to a provider, reply.
func (a *App) handleAI(ctx context.Context, msg majordomo.InboundMessage, msgr *majordomo.Messenger, text string) {
	c, err := a.engine.Build(ctx, msg.UserID, msg.ChatID, msg.Platform)
	if err != nil {
		log.Printf(" [context] build failed: %v", err)
		a.reply(ctx, msg, msgr.Failed("Could not assemble context for that."))
		return
	}

	result, err := a.router.Run(ctx, text, majordomo.RouteOptions{
		RichContext: majordomo.FormatSystemPrompt(c),
	})
	if err != nil {
		log.Printf(" [ai] route failed: %v", err)
		a.reply(ctx, msg, msgr.Failed("The AI backend is unavailable right now."))
		return
	}
	log.Printf(" [ai] provider=%s class=%s cached=%t tokens=%d",
		result.Provider, result.Class, result.Cached, result.Tokens)

	a.reply(ctx, msg, result.Text)
	a.logConversation(ctx, msg, result.Text)
}

func (a *App) skillContext(msg majordomo.InboundMessage) majordomo.SkillContext {
	sctx := majordomo.SkillContext{
		UserID:   msg.UserID,
		ChatID:   msg.ChatID,
		Platform: msg.Platform,
		Memory:   a.memory,
		AI:       a.router,
		Registry: a.registry,
		Actions:  a.actions,
	}
	if len(msg.Attachments) > 0 {
		sctx.MediaURL = msg.Attachments[0].URL
	}
	return sctx
}

// reply sends text back on the message's platform, truncating for platforms
// that cannot split long messages themselves.
func (a *App) reply(ctx context.Context, msg majordomo.InboundMessage, text string) {
	f := a.frontends[msg.Platform]
	if f == nil || text == "" {
		return
	}
	if msg.Platform != majordomo.PlatformPrimary {
		text = majordomo.Truncate(text, f.MaxMessageLength())
	}
	if _, err := f.Send(ctx, majordomo.OutboundMessage{ChatID: msg.ChatID, Text: text}); err != nil {
		log.Printf(" [send] failed chat=%s: %v", msg.ChatID, err)
	}
}

// logConversation appends the user/assistant exchange, best-effort.
func (a *App) logConversation(ctx context.Context, msg majordomo.InboundMessage, response string) {
	now := majordomo.NowMillis()
	if err := a.memory.AppendConversation(ctx, majordomo.ConversationEntry{
		ChatID: msg.ChatID, Role: "user", Text: msg.Text, CreatedAt: now,
	}); err != nil {
		log.Printf(" [memory] conversation write failed: %v", err)
	}
	if err := a.memory.AppendConversation(ctx, majordomo.ConversationEntry{
		ChatID: msg.ChatID, Role: "assistant", Text: response, CreatedAt: now,
	}); err != nil {
		log.Printf(" [memory] conversation write failed: %v", err)
	}
}

// statusReport renders the /status summary.
func (a *App) statusReport(ctx context.Context, userID string) string {
	var b strings.Builder
	b.WriteString("majordomo status\n")

	fmt.Fprintf(&b, "skills: %d registered\n", len(a.skills.List()))

	stats := a.router.Stats()
	fmt.Fprintf(&b, "cache: %d/%d entries, hit rate %s\n", stats.Size, stats.MaxSize, stats.HitRate)

	if pending, found, err := a.actions.Pending(ctx, userID); err == nil && found {
		fmt.Fprintf(&b, "pending: %s\n", pending.Summary)
	} else {
		b.WriteString("pending: none\n")
	}

	a.mu.Lock()
	fmt.Fprintf(&b, "chats: %d active queues", len(a.queues))
	a.mu.Unlock()
	return b.String()
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 60 {
		s = s[:60]
	}
	return s
}
