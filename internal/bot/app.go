// Package bot wires the message pipeline: frontend polling, per-chat FIFO
// queues, authorization, pending-action handling, skill dispatch, and the
// AI fallback path.
package bot

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/giquina/majordomo"
)

const (
	// defaultWorkers bounds messages in flight across all chats.
	defaultWorkers = 16
	// messageTimeout bounds one message's trip through the pipeline.
	messageTimeout = 120 * time.Second
	// chatQueueDepth is the per-chat backlog before new messages are dropped.
	chatQueueDepth = 32
	// panicAlertCooldown throttles panic-recovery alerts.
	panicAlertCooldown = 5 * time.Minute
)

// App is the assembled message pipeline.
type App struct {
	frontends map[string]majordomo.Frontend
	memory    majordomo.MemoryStore
	registry  *majordomo.Registry
	skills    *majordomo.SkillSet
	rewriter  *majordomo.Rewriter
	actions   *majordomo.Controller
	engine    *majordomo.Engine
	router    *majordomo.Router
	escalator *majordomo.Escalator

	authorized map[string]bool // empty = first sender becomes owner
	workers    int
	timeout    time.Duration
	now        func() time.Time

	mu     sync.Mutex
	queues map[string]chan majordomo.InboundMessage
	sem    chan struct{}
	wg     sync.WaitGroup

	panicMu   sync.Mutex
	lastPanic time.Time
}

// Options carries the pipeline's collaborators. Escalator may be nil in
// tests; everything else is required.
type Options struct {
	Frontends       []majordomo.Frontend
	Memory          majordomo.MemoryStore
	Registry        *majordomo.Registry
	Skills          *majordomo.SkillSet
	Rewriter        *majordomo.Rewriter
	Actions         *majordomo.Controller
	Engine          *majordomo.Engine
	Router          *majordomo.Router
	Escalator       *majordomo.Escalator
	AuthorizedUsers []string
	Workers         int
	Timeout         time.Duration
}

// New assembles the pipeline.
func New(opts Options) *App {
	a := &App{
		frontends:  make(map[string]majordomo.Frontend, len(opts.Frontends)),
		memory:     opts.Memory,
		registry:   opts.Registry,
		skills:     opts.Skills,
		rewriter:   opts.Rewriter,
		actions:    opts.Actions,
		engine:     opts.Engine,
		router:     opts.Router,
		escalator:  opts.Escalator,
		authorized: make(map[string]bool, len(opts.AuthorizedUsers)),
		workers:    opts.Workers,
		timeout:    opts.Timeout,
		now:        time.Now,
		queues:     make(map[string]chan majordomo.InboundMessage),
	}
	for _, f := range opts.Frontends {
		a.frontends[f.Platform()] = f
	}
	for _, u := range opts.AuthorizedUsers {
		a.authorized[u] = true
	}
	if a.workers <= 0 {
		a.workers = defaultWorkers
	}
	if a.timeout <= 0 {
		a.timeout = messageTimeout
	}
	a.sem = make(chan struct{}, a.workers)
	return a
}

// Run polls every frontend and processes messages until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for _, f := range a.frontends {
		ch, err := f.Poll(ctx)
		if err != nil {
			return err
		}
		wg.Add(1)
		go func(platform string, ch <-chan majordomo.InboundMessage) {
			defer wg.Done()
			for msg := range ch {
				a.Enqueue(ctx, msg)
			}
			log.Printf(" [poll] %s loop ended", platform)
		}(f.Platform(), ch)
	}
	wg.Wait()
	a.wg.Wait()
	return nil
}

// Enqueue places a message on its chat's FIFO queue, starting the chat's
// consumer if needed. Within a chat, messages process strictly in order;
// across chats, the worker bound applies.
func (a *App) Enqueue(ctx context.Context, msg majordomo.InboundMessage) {
	a.mu.Lock()
	q, ok := a.queues[msg.Platform+":"+msg.ChatID]
	if !ok {
		q = make(chan majordomo.InboundMessage, chatQueueDepth)
		a.queues[msg.Platform+":"+msg.ChatID] = q
		a.wg.Add(1)
		go a.consume(ctx, q)
	}
	a.mu.Unlock()

	select {
	case q <- msg:
	default:
		log.Printf(" [queue] chat %s backlog full, dropping message", msg.ChatID)
	}
}

func (a *App) consume(ctx context.Context, q chan majordomo.InboundMessage) {
	defer a.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-q:
			select {
			case a.sem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			a.process(ctx, msg)
			<-a.sem
		}
	}
}

// process runs one message through the pipeline with panic recovery and a
// hard deadline.
func (a *App) process(ctx context.Context, msg majordomo.InboundMessage) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf(" [panic] recovered: %v", r)
			a.alertPanic(r)
		}
	}()

	mctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	a.route(mctx, msg)
}

// alertPanic raises a critical alert, at most once per cooldown window.
func (a *App) alertPanic(r any) {
	if a.escalator == nil {
		return
	}
	a.panicMu.Lock()
	if a.now().Sub(a.lastPanic) < panicAlertCooldown {
		a.panicMu.Unlock()
		return
	}
	a.lastPanic = a.now()
	a.panicMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := a.escalator.Raise(ctx, "pipeline-panic", majordomo.AlertCritical,
		"message pipeline panic: "+panicString(r)); err != nil {
		log.Printf(" [panic] alert failed: %v", err)
	}
}

func panicString(r any) string {
	if err, ok := r.(error); ok {
		return err.Error()
	}
	if s, ok := r.(string); ok {
		return s
	}
	return "unknown panic"
}
