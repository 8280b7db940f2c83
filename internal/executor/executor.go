package executor

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ncecere/carving_editor/internal/admission"
	"github.com/ncecere/carving_editor/internal/app"
	"github.com/ncecere/carving_editor/internal/models"
	"github.com/ncecere/carving_editor/internal/observability"
	"github.com/ncecere/carving_editor/internal/providers"
	"github.com/ncecere/carving_editor/internal/retry"
)

// Executor runs one edit: validation, admission, retried primary attempts
// and at most one fallback attempt.
type Executor struct {
	gate         admission.Gate
	primary      providers.Editor
	fallback     providers.Editor
	maxRetries   int
	initialDelay time.Duration
	maxWait      time.Duration
	sleep        retry.SleepFunc
	obs          *observability.Provider
	tracer       trace.Tracer
}

func New(container *app.Container) *Executor {
	e := &Executor{
		gate:         container.Gate,
		primary:      container.Providers.Primary,
		fallback:     container.Providers.Fallback,
		maxRetries:   retry.DefaultMaxRetries,
		initialDelay: retry.DefaultInitialDelay,
		sleep:        retry.Sleep,
		obs:          container.Observability,
		tracer:       otel.Tracer("github.com/ncecere/carving_editor/internal/executor"),
	}
	if cfg := container.Config; cfg != nil {
		e.maxRetries = cfg.Retry.MaxRetries
		e.initialDelay = cfg.Retry.InitialDelay
		e.maxWait = cfg.Retry.MaxWait
	}
	if e.gate == nil {
		e.gate = admission.NewMemoryGate()
	}
	if e.fallback != nil && e.primary != nil && e.fallback.Name() == e.primary.Name() {
		e.fallback = nil
	}
	return e
}

// WithSleep replaces the backoff wait, mainly for tests.
func (e *Executor) WithSleep(sleep retry.SleepFunc) *Executor {
	e.sleep = sleep
	return e
}

// Edit returns models.ErrInvalidRequest, admission.ErrBusy, a
// *models.ProviderError, or the result of the last provider attempt.
func (e *Executor) Edit(ctx context.Context, req models.EditRequest) (models.EditResult, error) {
	if err := req.Validate(); err != nil {
		return models.EditResult{}, err
	}
	if e.primary == nil {
		return models.EditResult{}, models.NotConfigured("", "no provider configured")
	}

	release, err := e.gate.Acquire(ctx)
	if err != nil {
		if errors.Is(err, admission.ErrBusy) {
			e.obs.RecordAdmissionRejected()
			slog.Info("edit rejected, another edit in flight")
		}
		return models.EditResult{}, err
	}
	defer release()

	primary := e.primary.Name()
	ctrl := &retry.Controller{
		MaxRetries:   e.maxRetries,
		InitialDelay: e.initialDelay,
		MaxWait:      e.maxWait,
		Sleep:        e.sleep,
		OnRetry: func(n int, wait time.Duration, err error) {
			e.obs.RecordRetry(primary)
			slog.Warn("provider quota exceeded, retrying",
				"provider", primary,
				"retry", n,
				"wait_ms", wait.Milliseconds(),
				"error", err,
			)
		},
	}

	result, err := ctrl.Do(ctx, func(ctx context.Context) (models.EditResult, error) {
		return e.attempt(ctx, e.primary, req)
	})
	if err == nil {
		return result, nil
	}
	if !models.IsQuota(err) || e.fallback == nil {
		return models.EditResult{}, err
	}

	fallback := e.fallback.Name()
	e.obs.RecordFallback(primary, fallback)
	slog.Warn("primary provider exhausted, trying fallback",
		"primary", primary,
		"fallback", fallback,
		"error", err,
	)
	return e.attempt(ctx, e.fallback, req)
}

func (e *Executor) attempt(ctx context.Context, editor providers.Editor, req models.EditRequest) (models.EditResult, error) {
	name := editor.Name()
	ctx, span := e.tracer.Start(ctx, "provider.edit", trace.WithAttributes(attribute.String("provider", name)))
	defer span.End()

	start := time.Now()
	result, err := editor.Edit(ctx, req)
	elapsed := time.Since(start)

	outcome := "success"
	if err != nil {
		outcome = string(models.KindTransport)
		var perr *models.ProviderError
		if errors.As(err, &perr) {
			outcome = string(perr.Kind)
			span.SetAttributes(attribute.Int("provider.status", perr.Status))
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
		slog.Error("provider attempt failed",
			"provider", name,
			"outcome", outcome,
			"duration_ms", elapsed.Milliseconds(),
			"error", err,
		)
	} else {
		slog.Info("provider attempt succeeded", "provider", name, "duration_ms", elapsed.Milliseconds())
	}
	e.obs.RecordAttempt(name, outcome, elapsed)

	if err != nil {
		return models.EditResult{}, err
	}
	if result.Provider == "" {
		result.Provider = name
	}
	return result, nil
}
