package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/that-cod/mixify-soundcloud-sub001/internal/core/domain"
	"github.com/that-cod/mixify-soundcloud-sub001/internal/core/ports"
)

// DefaultProviderTimeout bounds a single provider attempt.
const DefaultProviderTimeout = 30 * time.Second

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithProviderTimeout bounds each provider attempt.
func WithProviderTimeout(d time.Duration) ResolverOption {
	return func(r *Resolver) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithTickInterval sets how often decorative progress is emitted while waiting.
func WithTickInterval(d time.Duration) ResolverOption {
	return func(r *Resolver) {
		r.tickInterval = d
	}
}

// WithResolverSink routes provider progress events.
func WithResolverSink(sink ports.ProgressSink) ResolverOption {
	return func(r *Resolver) {
		if sink != nil {
			r.sink = sink
		}
	}
}

// Resolver turns a free-text mixing prompt into settings by trying each
// provider in priority order. Attempts are strictly sequential.
type Resolver struct {
	providers    []ports.PromptProvider
	timeout      time.Duration
	tickInterval time.Duration
	sink         ports.ProgressSink
}

// NewResolver builds a chain over providers, highest priority first.
func NewResolver(providers []ports.PromptProvider, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		providers:    providers,
		timeout:      DefaultProviderTimeout,
		tickInterval: defaultTickInterval,
		sink:         ports.Discard,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Providers returns the provider names in priority order.
func (r *Resolver) Providers() []string {
	names := make([]string, 0, len(r.providers))
	for _, p := range r.providers {
		names = append(names, p.Name())
	}
	return names
}

// Resolve returns a usable result for every well-formed request: when every
// provider fails it degrades to domain.FallbackAnalysis. The only error is a
// *domain.PreconditionError for missing inputs.
func (r *Resolver) Resolve(ctx context.Context, sessionID, prompt string, f1, f2 *domain.AudioFeatures) (domain.PromptAnalysisResult, error) {
	req, err := BuildPromptRequest(prompt, f1, f2)
	if err != nil {
		return domain.PromptAnalysisResult{}, err
	}

	result, err := r.Attempt(ctx, sessionID, req)
	if err == nil {
		return result, nil
	}

	log.Printf("WARN resolver: session=%s falling back to defaults: %v", sessionID, err)
	fallback := domain.FallbackAnalysis("all providers failed")
	r.sink.Emit(ports.ProgressEvent{
		SessionID: sessionID,
		Kind:      ports.EventProvider,
		Provider:  domain.FallbackSource,
		Status:    "fallback",
		Progress:  100,
		Message:   fallback.Summary,
	})
	return fallback, nil
}

// Attempt runs the chain without the default fallback and reports the
// combined failure when no provider produced a valid result.
func (r *Resolver) Attempt(ctx context.Context, sessionID string, req domain.PromptRequest) (domain.PromptAnalysisResult, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return domain.PromptAnalysisResult{}, &domain.PreconditionError{Missing: "prompt"}
	}
	if len(r.providers) == 0 {
		return domain.PromptAnalysisResult{}, &domain.ProviderError{Provider: "resolver", Err: errors.New("no providers configured")}
	}

	ticker := StartTicker(r.tickInterval, defaultTickStep, func(p float64) {
		r.sink.Emit(ports.ProgressEvent{
			SessionID: sessionID,
			Kind:      ports.EventProvider,
			Status:    "running",
			Progress:  p,
		})
	})
	defer ticker.Stop()

	var errs []error
	for _, p := range r.providers {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}

		r.sink.Emit(ports.ProgressEvent{
			SessionID: sessionID,
			Kind:      ports.EventProvider,
			Provider:  p.Name(),
			Status:    "attempt",
		})

		result, err := r.try(ctx, p, req)
		if err != nil {
			var perr *domain.ParseError
			if errors.As(err, &perr) {
				log.Printf("WARN resolver: parse: provider=%s: %v", p.Name(), err)
			} else {
				log.Printf("WARN resolver: provider=%s: %v", p.Name(), err)
			}
			r.sink.Emit(ports.ProgressEvent{
				SessionID: sessionID,
				Kind:      ports.EventProvider,
				Provider:  p.Name(),
				Status:    "failed",
				Message:   err.Error(),
			})
			errs = append(errs, err)
			continue
		}

		ticker.Stop()
		r.sink.Emit(ports.ProgressEvent{
			SessionID: sessionID,
			Kind:      ports.EventProvider,
			Provider:  p.Name(),
			Status:    "complete",
			Progress:  100,
			Message:   result.Summary,
		})
		return result, nil
	}

	return domain.PromptAnalysisResult{}, fmt.Errorf("resolver: all providers failed: %w", errors.Join(errs...))
}

func (r *Resolver) try(ctx context.Context, p ports.PromptProvider, req domain.PromptRequest) (domain.PromptAnalysisResult, error) {
	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	raw, err := p.ResolvePrompt(callCtx, req)
	if err != nil {
		if errors.Is(err, domain.ErrProvider) {
			return domain.PromptAnalysisResult{}, err
		}
		return domain.PromptAnalysisResult{}, &domain.ProviderError{Provider: p.Name(), Err: err}
	}
	return domain.ParsePromptAnalysis(p.Name(), raw)
}

// BuildPromptRequest validates the inputs of a resolution.
func BuildPromptRequest(prompt string, f1, f2 *domain.AudioFeatures) (domain.PromptRequest, error) {
	switch {
	case f1 == nil:
		return domain.PromptRequest{}, &domain.PreconditionError{Missing: "analysis of track 1"}
	case f2 == nil:
		return domain.PromptRequest{}, &domain.PreconditionError{Missing: "analysis of track 2"}
	case strings.TrimSpace(prompt) == "":
		return domain.PromptRequest{}, &domain.PreconditionError{Missing: "prompt"}
	}
	return domain.PromptRequest{Prompt: prompt, Features1: *f1, Features2: *f2}, nil
}
