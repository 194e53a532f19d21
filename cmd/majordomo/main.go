package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/giquina/majordomo"
	"github.com/giquina/majordomo/frontend/telegram"
	"github.com/giquina/majordomo/frontend/twilio"
	"github.com/giquina/majordomo/internal/bot"
	"github.com/giquina/majordomo/internal/config"
	"github.com/giquina/majordomo/internal/ingress"
	"github.com/giquina/majordomo/observer"
	"github.com/giquina/majordomo/provider/resolve"
	"github.com/giquina/majordomo/repo/github"
	"github.com/giquina/majordomo/skills/builder"
	"github.com/giquina/majordomo/skills/projects"
	"github.com/giquina/majordomo/skills/remoteexec"
	"github.com/giquina/majordomo/skills/tasks"
	"github.com/giquina/majordomo/store/postgres"
	"github.com/giquina/majordomo/store/sqlite"
)

func main() {
	_ = godotenv.Load()

	// 1. Config.
	cfg, err := config.Load(os.Getenv("MAJORDOMO_CONFIG"))
	if err != nil {
		log.Printf(" [config] %v", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		log.Printf(" [config] %v", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	// 2. Stores. Memory is always sqlite; state switches to postgres when a
	// DATABASE_URL is configured.
	memory := sqlite.NewMemory(cfg.Database.MemoryPath, sqlite.WithLogger(logger))
	if err := memory.Init(ctx); err != nil {
		log.Printf(" [db] memory init: %v", err)
		os.Exit(2)
	}
	defer memory.Close()

	var state majordomo.StateStore
	if cfg.Database.PostgresURL != "" {
		pool, err := pgxpool.New(ctx, cfg.Database.PostgresURL)
		if err != nil {
			log.Printf(" [db] postgres pool: %v", err)
			os.Exit(2)
		}
		defer pool.Close()
		pg := postgres.New(pool)
		if err := pg.Init(ctx); err != nil {
			log.Printf(" [db] postgres init: %v", err)
			os.Exit(2)
		}
		state = pg
		log.Println(" [db] state store: postgres")
	} else {
		st := sqlite.NewState(cfg.Database.StatePath, sqlite.WithLogger(logger))
		if err := st.Init(ctx); err != nil {
			log.Printf(" [db] state init: %v", err)
			os.Exit(2)
		}
		defer st.Close()
		state = st
	}

	// 3. Observer (opt-in via config).
	var inst *observer.Instruments
	if cfg.Observer.Enabled {
		pricing := make(map[string]observer.ModelPricing, len(cfg.Observer.Pricing))
		for model, p := range cfg.Observer.Pricing {
			pricing[model] = observer.ModelPricing{InputPerMillion: p.Input, OutputPerMillion: p.Output}
		}
		var shutdown func(context.Context) error
		var err error
		inst, shutdown, err = observer.Init(ctx, pricing)
		if err != nil {
			log.Printf(" [observer] init failed: %v", err)
			os.Exit(2)
		}
		defer shutdown(context.Background())
		log.Println(" [observer] OTEL observability enabled")
	}

	// 4. AI providers and router. Anthropic covers the heavy classes and is
	// the default coder; OpenAI covers the cheap ones. Config class lists
	// override the split.
	routerOpts := []majordomo.RouterOption{majordomo.WithRouterLogger(logger)}
	addProvider := func(name string, mc config.ModelConfig, defaults []majordomo.TaskClass) {
		if mc.APIKey == "" {
			return
		}
		classes := toClasses(mc.Classes)
		if len(classes) == 0 {
			classes = defaults
		}
		p, err := resolve.Provider(resolve.Config{
			Provider:  name,
			APIKey:    mc.APIKey,
			Model:     mc.Model,
			MaxTokens: mc.MaxTokens,
			Classes:   classes,
		})
		if err != nil {
			log.Printf(" [ai] %v", err)
			os.Exit(1)
		}
		if cfg.AI.RPM > 0 {
			p = majordomo.WithRateLimit(p, majordomo.RPM(cfg.AI.RPM))
		}
		if inst != nil {
			p = observer.WrapProvider(p, mc.Model, inst)
		}
		routerOpts = append(routerOpts, majordomo.WithProvider(p, classes...))
	}
	heavy := []majordomo.TaskClass{
		majordomo.ClassCoding, majordomo.ClassPlanning, majordomo.ClassComplex, majordomo.ClassResearch,
	}
	cheap := []majordomo.TaskClass{
		majordomo.ClassGreeting, majordomo.ClassSimple, majordomo.ClassSocial,
	}
	addProvider("anthropic", cfg.AI.Anthropic, heavy)
	if cfg.AI.Anthropic.APIKey == "" {
		cheap = append(cheap, heavy...) // single-provider setup covers everything
	}
	addProvider("openai", cfg.AI.OpenAI, cheap)

	cacheCfg := majordomo.CacheConfig{
		Enabled:    cfg.Cache.Enabled,
		TTLSeconds: cfg.Cache.TTLSeconds,
		MaxSize:    cfg.Cache.MaxSize,
	}
	router, err := majordomo.NewRouter(cacheCfg, routerOpts...)
	if err != nil {
		log.Printf(" [ai] router: %v", err)
		os.Exit(1)
	}

	// 5. Frontends.
	primary := telegram.New(cfg.Telegram.Token, telegram.WithLogger(logger))
	frontends := []majordomo.Frontend{primary}

	var sms *twilio.Client
	if cfg.TwilioEnabled() {
		sms = twilio.New(cfg.Twilio.AccountSID, cfg.Twilio.AuthToken, cfg.Twilio.FromNumber,
			twilio.WithLogger(logger))
		frontends = append(frontends, sms)
		log.Println(" [twilio] secondary platform enabled")
	}

	// 6. Repo provider.
	var gh *github.Client
	if cfg.GitHub.Token != "" {
		gh = github.New(cfg.GitHub.Token, github.WithLogger(logger))
	}

	// 7. Core subsystems.
	tracker := majordomo.NewTracker(state, logger)
	ctrl := majordomo.NewController(state, tracker, majordomo.WithControllerLogger(logger))

	registry := majordomo.NewRegistry(memory, logger)
	if err := registry.Load(ctx); err != nil {
		log.Printf(" [registry] load: %v", err)
		os.Exit(2)
	}

	var summarizer majordomo.ProjectSummarizer
	if gh != nil {
		summarizer = gh
	}
	engine := majordomo.NewEngine(memory, state, tracker, registry, summarizer, logger)

	// 8. Action executors.
	if len(cfg.Deploy) > 0 {
		hooks := make(map[string]remoteexec.Hook, len(cfg.Deploy))
		for name, h := range cfg.Deploy {
			hooks[name] = remoteexec.Hook{
				DeployURL:   h.DeployURL,
				RollbackURL: h.RollbackURL,
				RestartURL:  h.RestartURL,
				LiveURL:     h.LiveURL,
			}
		}
		runner := remoteexec.NewHookRunner(hooks, remoteexec.WithLogger(logger))
		ctrl.RegisterExecutor(remoteexec.NewDeployExecutor(runner))
		ctrl.RegisterExecutor(remoteexec.NewRestartExecutor(runner))
	}
	if gh != nil {
		planner := majordomo.NewPlanExecutor(state, tracker, router, gh, majordomo.WithPlanLogger(logger))
		notify := func(chatID, platform, text string) {
			f := majordomo.Frontend(primary)
			if platform == majordomo.PlatformSecondary && sms != nil {
				f = sms
			}
			nctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if _, err := f.Send(nctx, majordomo.OutboundMessage{ChatID: chatID, Text: text}); err != nil {
				log.Printf(" [plan] progress send failed: %v", err)
			}
		}
		ctrl.RegisterExecutor(builder.NewPlanExecutor(planner, notify))
	}

	// 9. Skills.
	var skillOpts []majordomo.SkillSetOption
	if len(cfg.EnabledSkills) > 0 {
		skillOpts = append(skillOpts, majordomo.WithEnabledSkills(cfg.EnabledSkills))
	}
	skillOpts = append(skillOpts, majordomo.WithSkillLogger(logger))
	skills := majordomo.NewSkillSet(skillOpts...)
	skills.RegisterUniversal(remoteexec.New())
	skills.RegisterUniversal(tasks.New())
	skills.RegisterUniversal(projects.New(summarizer))
	if gh != nil {
		skills.RegisterUniversal(builder.New())
	}
	if err := skills.Initialize(ctx); err != nil {
		log.Printf(" [skills] init: %v", err)
		os.Exit(2)
	}
	defer skills.Shutdown(context.Background())

	// 10. Alert escalation.
	loc := time.Local
	if cfg.Alerts.Timezone != "" && cfg.Alerts.Timezone != "Local" {
		if l, err := time.LoadLocation(cfg.Alerts.Timezone); err == nil {
			loc = l
		} else {
			log.Printf(" [alerts] unknown timezone %q, using local", cfg.Alerts.Timezone)
		}
	}
	var voice majordomo.VoiceCaller
	if sms != nil {
		voice = sms
	}
	var secondary majordomo.Frontend
	if sms != nil {
		secondary = sms
	}
	notifier := bot.NewTierNotifier(primary, secondary, voice,
		cfg.HQChatID, cfg.Twilio.OwnerNumber, cfg.Server.PublicURL)
	escalator := majordomo.NewEscalator(state, notifier,
		majordomo.WithDND(majordomo.DNDWindow{StartHour: cfg.Alerts.DNDStartHour, EndHour: cfg.Alerts.DNDEndHour}),
		majordomo.WithVoiceEnabled(cfg.Alerts.AutoCallEnabled && sms != nil),
		majordomo.WithLocation(loc),
		majordomo.WithEscalatorLogger(logger))

	// 11. Scheduler and default jobs.
	scheduler := majordomo.NewScheduler(memory, majordomo.WithSchedulerLogger(logger))
	jobs := bot.NewJobs(memory, tracker, registry, router, escalator, summarizer, primary, cfg.HQChatID)
	if err := jobs.Register(ctx, scheduler, cfg.Scheduler.NightlyCron); err != nil {
		log.Printf(" [jobs] %v", err)
		os.Exit(2)
	}

	// 12. Message pipeline.
	app := bot.New(bot.Options{
		Frontends:       frontends,
		Memory:          memory,
		Registry:        registry,
		Skills:          skills,
		Rewriter:        majordomo.NewRewriter(),
		Actions:         ctrl,
		Engine:          engine,
		Router:          router,
		Escalator:       escalator,
		AuthorizedUsers: cfg.AuthorizedUsers,
	})

	// 13. HTTP ingress.
	ingressOpts := []ingress.Option{
		ingress.WithAPIKey(cfg.Server.APIKey),
		ingress.WithGitHubSecret(cfg.GitHub.WebhookSecret),
		ingress.WithLogger(logger),
	}
	if sms != nil {
		ingressOpts = append(ingressOpts, ingress.WithSMSGateway(sms))
	}
	server := ingress.New(cfg.Server.Addr, cfg.Server.PublicURL, memory, state, ctrl, escalator, ingressOpts...)

	// 14. Run everything.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return app.Run(gctx) })
	g.Go(func() error { return scheduler.Start(gctx) })
	g.Go(func() error { return server.Run(gctx) })
	g.Go(func() error { escalator.StartLoop(gctx, time.Minute); return nil })
	g.Go(func() error { ctrl.StartSweeper(gctx, time.Minute); return nil })
	g.Go(func() error { router.StartSweeper(gctx, time.Minute); return nil })

	log.Println(" [main] majordomo is up")
	if err := g.Wait(); err != nil && ctx.Err() == nil {
		log.Printf(" [main] service failed: %v", err)
		os.Exit(2)
	}
	log.Println(" [main] shut down cleanly")
}

func toClasses(names []string) []majordomo.TaskClass {
	out := make([]majordomo.TaskClass, 0, len(names))
	for _, n := range names {
		out = append(out, majordomo.TaskClass(n))
	}
	return out
}
