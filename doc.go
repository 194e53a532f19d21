// Package majordomo is a single-operator personal assistant service.
//
// It ingests messages from chat platforms (Telegram long-polling, Twilio
// webhooks) and turns each one into a direct reply, a skill invocation, or
// a propose-confirm-execute plan. Around that pipeline it runs persistent
// scheduled jobs, reacts to repository events, and escalates unacknowledged
// alerts up to outbound voice calls.
//
// # Core building blocks
//
//   - [Frontend] — messaging adapter (Telegram, Twilio, CLI)
//   - [Provider] — AI model backend
//   - [Router] — query classification, provider selection, response caching
//   - [Skill] — pluggable command capability dispatched by priority
//   - [Controller] — per-user propose/confirm/execute state machine
//   - [Engine] — prompt context assembly from history, facts and outcomes
//   - [Tracker] — action outcome lifecycle records
//   - [Escalator] — tiered alert notification with acks and DND
//   - [Scheduler] — persistent cron jobs surviving restarts
//   - [PlanExecutor] — instruction -> branch -> commit -> pull request
//
// # Quick start
//
//	mem := sqlite.NewMemory("memory.db")
//	state := sqlite.NewState("state.db")
//
//	router := majordomo.NewRouter(
//		majordomo.WithProvider(anthropic.New(apiKey, model), majordomo.ClassCoding, majordomo.ClassPlanning),
//		majordomo.WithCache(majordomo.CacheConfig{Enabled: true, TTLSeconds: 300, MaxSize: 100}),
//	)
//
//	skills := majordomo.NewSkillSet()
//	skills.RegisterUniversal(remoteexec.New(deployer))
//
//	app := bot.New(cfg, frontend, router, skills, mem, state)
//	log.Fatal(app.Run(ctx))
//
// See cmd/majordomo for the complete service wiring.
package majordomo
