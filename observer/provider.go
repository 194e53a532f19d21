package observer

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/giquina/majordomo"
)

// Attribute keys for AI observability spans and metrics.
var (
	attrModel    = attribute.Key("ai.model")
	attrProvider = attribute.Key("ai.provider")

	attrTokensInput  = attribute.Key("ai.tokens.input")
	attrTokensOutput = attribute.Key("ai.tokens.output")
	attrCostUSD      = attribute.Key("ai.cost_usd")
)

// ObservedProvider wraps a majordomo.Provider with OTEL instrumentation.
type ObservedProvider struct {
	inner majordomo.Provider
	inst  *Instruments
	model string
}

var _ majordomo.Provider = (*ObservedProvider)(nil)

// WrapProvider returns an instrumented provider that emits a span and
// token/cost metrics for every chat call.
func WrapProvider(inner majordomo.Provider, model string, inst *Instruments) *ObservedProvider {
	return &ObservedProvider{inner: inner, inst: inst, model: model}
}

func (o *ObservedProvider) Name() string { return o.inner.Name() }

func (o *ObservedProvider) Supports(class majordomo.TaskClass) bool {
	return o.inner.Supports(class)
}

func (o *ObservedProvider) Chat(ctx context.Context, req majordomo.ChatRequest) (majordomo.ChatResponse, error) {
	ctx, span := o.inst.Tracer.Start(ctx, "ai.chat", trace.WithAttributes(
		attrModel.String(o.model),
		attrProvider.String(o.inner.Name()),
	))
	defer span.End()
	start := time.Now()

	resp, err := o.inner.Chat(ctx, req)

	durationMs := float64(time.Since(start).Milliseconds())
	status := "ok"
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	cost := o.inst.Cost.Calculate(o.model, resp.Usage.InputTokens, resp.Usage.OutputTokens)
	span.SetAttributes(
		attrTokensInput.Int(resp.Usage.InputTokens),
		attrTokensOutput.Int(resp.Usage.OutputTokens),
		attrCostUSD.Float64(cost),
	)

	base := metric.WithAttributes(
		attrModel.String(o.model),
		attrProvider.String(o.inner.Name()),
	)
	o.inst.TokenUsage.Add(ctx, int64(resp.Usage.InputTokens), metric.WithAttributes(
		attrModel.String(o.model),
		attrProvider.String(o.inner.Name()),
		attribute.String("direction", "input"),
	))
	o.inst.TokenUsage.Add(ctx, int64(resp.Usage.OutputTokens), metric.WithAttributes(
		attrModel.String(o.model),
		attrProvider.String(o.inner.Name()),
		attribute.String("direction", "output"),
	))
	o.inst.CostTotal.Add(ctx, cost, base)
	o.inst.AIRequests.Add(ctx, 1, metric.WithAttributes(
		attrModel.String(o.model),
		attrProvider.String(o.inner.Name()),
		attribute.String("status", status),
	))
	o.inst.AIDuration.Record(ctx, durationMs, base)

	return resp, err
}

// RecordCacheHit bumps the cache-hit counter; called by the router wiring
// when a response is served from cache instead of a provider.
func (i *Instruments) RecordCacheHit(ctx context.Context, class majordomo.TaskClass) {
	i.CacheHits.Add(ctx, 1, metric.WithAttributes(attribute.String("class", string(class))))
}
