package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/that-cod/mixify-soundcloud-sub001/internal/core/domain"
	"github.com/that-cod/mixify-soundcloud-sub001/internal/core/ports"
)

const (
	// DefaultAnalyzeTimeout bounds one analysis or separation call.
	DefaultAnalyzeTimeout = 90 * time.Second
	// DefaultSessionRetention is how long an idle session stays queryable.
	DefaultSessionRetention = time.Hour
)

// Collaborators are the external audio services the orchestrator drives.
// The fallbacks are used when the primary fails and may be nil.
type Collaborators struct {
	Analyzer          ports.Analyzer
	FallbackAnalyzer  ports.Analyzer
	Separator         ports.StemSeparator
	FallbackSeparator ports.StemSeparator
	Renderer          ports.Renderer
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithSink routes stage and pipeline events.
func WithSink(sink ports.ProgressSink) OrchestratorOption {
	return func(o *Orchestrator) {
		if sink != nil {
			o.sink = sink
		}
	}
}

// WithAnalyzeTimeout bounds analysis and separation calls.
func WithAnalyzeTimeout(d time.Duration) OrchestratorOption {
	return func(o *Orchestrator) {
		if d > 0 {
			o.analyzeTimeout = d
		}
	}
}

// WithRenderTimeout bounds each render call made by a pipeline.
func WithRenderTimeout(d time.Duration) OrchestratorOption {
	return func(o *Orchestrator) {
		if d > 0 {
			o.renderTimeout = d
		}
	}
}

// WithSessionIDs replaces the session id generator.
func WithSessionIDs(next func() string) OrchestratorOption {
	return func(o *Orchestrator) {
		o.newID = next
	}
}

// WithSessionRetention sets how long a finished, cancelled or stalled session
// is kept before it is released.
func WithSessionRetention(d time.Duration) OrchestratorOption {
	return func(o *Orchestrator) {
		if d > 0 {
			o.retention = d
		}
	}
}

// WithSessionClock replaces time.Now for session retention.
func WithSessionClock(now func() time.Time) OrchestratorOption {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// MixRequest starts a mix session. Staged wins over Settings; a prompt, when
// given, replaces the coarse fields with the AI recommendation.
type MixRequest struct {
	Track1   string                    `json:"track1"`
	Track2   string                    `json:"track2"`
	Prompt   string                    `json:"prompt,omitempty"`
	Settings *domain.MixSettings       `json:"settings,omitempty"`
	Staged   *domain.StagedMixSettings `json:"staged,omitempty"`
}

// MixSession is the observable state of one mix.
type MixSession struct {
	domain.PipelineSnapshot
	Analysis *domain.PromptAnalysisResult `json:"analysis,omitempty"`
}

type session struct {
	pipeline *Pipeline
	analysis *domain.PromptAnalysisResult
	idle     time.Time // zero while a run is in progress
}

// forgetter is implemented by sinks that keep per-session history.
type forgetter interface {
	Forget(sessionID string)
}

// Orchestrator coordinates analysis, prompt resolution and mix sessions.
type Orchestrator struct {
	collab   Collaborators
	cache    *AnalysisCache
	store    *PrecomputedStore
	resolver *Resolver
	sink     ports.ProgressSink

	analyzeTimeout time.Duration
	renderTimeout  time.Duration
	newID          func() string
	retention      time.Duration
	now            func() time.Time

	flight   singleflight.Group
	mu       sync.RWMutex
	sessions map[string]*session
	wg       sync.WaitGroup
}

// NewOrchestrator constructs an Orchestrator.
func NewOrchestrator(collab Collaborators, cache *AnalysisCache, store *PrecomputedStore, resolver *Resolver, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		collab:         collab,
		cache:          cache,
		store:          store,
		resolver:       resolver,
		sink:           ports.Discard,
		analyzeTimeout: DefaultAnalyzeTimeout,
		renderTimeout:  DefaultRenderTimeout,
		newID:          uuid.NewString,
		retention:      DefaultSessionRetention,
		now:            time.Now,
		sessions:       map[string]*session{},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// AnalyzeTrack returns cached features or runs the analyzer, falling back to
// the secondary analyzer. Concurrent misses on one key share a single call.
func (o *Orchestrator) AnalyzeTrack(ctx context.Context, trackRef string, options map[string]string) (domain.AudioFeatures, error) {
	if strings.TrimSpace(trackRef) == "" {
		return domain.AudioFeatures{}, &domain.PreconditionError{Missing: "track reference"}
	}
	if f, ok := o.cache.GetCachedAnalysis(ctx, trackRef, options); ok {
		return f, nil
	}

	// The shared call outlives any single caller; each attempt is bounded by
	// the analyze timeout instead.
	fctx := context.WithoutCancel(ctx)
	v, err, _ := o.flight.Do("analysis:"+AnalysisKey(trackRef, options), func() (any, error) {
		if f, ok := o.cache.GetCachedAnalysis(fctx, trackRef, options); ok {
			return f, nil
		}
		f, err := o.analyze(fctx, trackRef, options)
		if err != nil {
			return domain.AudioFeatures{}, err
		}
		f.CacheTimestamp = 0
		if err := o.cache.CacheAnalysisResults(fctx, trackRef, f, options); err != nil {
			log.Printf("WARN orchestrator: cache analysis %s: %v", trackRef, err)
		}
		if cached, ok := o.cache.GetCachedAnalysis(fctx, trackRef, options); ok {
			return cached, nil
		}
		return f, nil
	})
	if err != nil {
		return domain.AudioFeatures{}, err
	}
	return v.(domain.AudioFeatures), nil
}

func (o *Orchestrator) analyze(ctx context.Context, trackRef string, options map[string]string) (domain.AudioFeatures, error) {
	var errs []error
	for _, a := range []struct {
		name     string
		analyzer ports.Analyzer
	}{{"analyzer", o.collab.Analyzer}, {"fallback analyzer", o.collab.FallbackAnalyzer}} {
		if a.analyzer == nil {
			continue
		}
		actx, cancel := context.WithTimeout(ctx, o.analyzeTimeout)
		f, err := a.analyzer.Analyze(actx, trackRef, options)
		cancel()
		if err == nil && f.BPM <= 0 {
			err = &domain.ParseError{Provider: a.name, Reason: "missing bpm"}
		}
		if err == nil {
			return f, nil
		}
		log.Printf("WARN orchestrator: %s %s: %v", a.name, trackRef, err)
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		errs = append(errs, errors.New("no analyzer configured"))
	}
	return domain.AudioFeatures{}, &domain.ProviderError{Provider: "analysis", Err: errors.Join(errs...)}
}

// SeparateStems returns cached stems or runs the separator, falling back to
// the secondary separator.
func (o *Orchestrator) SeparateStems(ctx context.Context, trackRef string, quality domain.StemQuality) (domain.SeparatedStems, error) {
	if strings.TrimSpace(trackRef) == "" {
		return domain.SeparatedStems{}, &domain.PreconditionError{Missing: "track reference"}
	}
	if s, ok := o.cache.GetCachedStems(ctx, trackRef); ok {
		return s, nil
	}

	fctx := context.WithoutCancel(ctx)
	v, err, _ := o.flight.Do("stems:"+domain.NormalizeTrackRef(trackRef), func() (any, error) {
		if s, ok := o.cache.GetCachedStems(fctx, trackRef); ok {
			return s, nil
		}
		var errs []error
		for _, sep := range []ports.StemSeparator{o.collab.Separator, o.collab.FallbackSeparator} {
			if sep == nil {
				continue
			}
			sctx, cancel := context.WithTimeout(fctx, o.analyzeTimeout)
			stems, err := sep.Separate(sctx, trackRef, quality)
			cancel()
			if err == nil && stems.IsZero() {
				err = errors.New("separator returned no stems")
			}
			if err != nil {
				log.Printf("WARN orchestrator: separate %s: %v", trackRef, err)
				errs = append(errs, err)
				continue
			}
			if err := o.cache.CacheStemSeparation(fctx, trackRef, stems); err != nil {
				log.Printf("WARN orchestrator: cache stems %s: %v", trackRef, err)
			}
			stems.Cached = false
			return stems, nil
		}
		if len(errs) == 0 {
			errs = append(errs, errors.New("no separator configured"))
		}
		return domain.SeparatedStems{}, &domain.ProviderError{Provider: "separation", Err: errors.Join(errs...)}
	})
	if err != nil {
		return domain.SeparatedStems{}, err
	}
	return v.(domain.SeparatedStems), nil
}

func (o *Orchestrator) cachedPair(ctx context.Context, ref1, ref2 string) (*domain.AudioFeatures, *domain.AudioFeatures) {
	var f1, f2 *domain.AudioFeatures
	if f, ok := o.cache.GetCachedAnalysis(ctx, ref1, nil); ok {
		f1 = &f
	}
	if f, ok := o.cache.GetCachedAnalysis(ctx, ref2, nil); ok {
		f2 = &f
	}
	return f1, f2
}

// ResolvePrompt resolves a prompt against the cached analyses of both tracks.
func (o *Orchestrator) ResolvePrompt(ctx context.Context, prompt, ref1, ref2 string) (domain.PromptAnalysisResult, error) {
	f1, f2 := o.cachedPair(ctx, ref1, ref2)
	return o.resolver.Resolve(ctx, "", prompt, f1, f2)
}

// Compatibility assesses two analysed tracks.
func (o *Orchestrator) Compatibility(ctx context.Context, ref1, ref2 string, settings domain.MixSettings) (domain.Compatibility, error) {
	f1, f2 := o.cachedPair(ctx, ref1, ref2)
	switch {
	case f1 == nil:
		return domain.Compatibility{}, &domain.PreconditionError{Missing: "analysis of track 1"}
	case f2 == nil:
		return domain.Compatibility{}, &domain.PreconditionError{Missing: "analysis of track 2"}
	}
	return domain.Assess(*f1, *f2, settings.Normalize()), nil
}

// StartMix analyses both tracks, resolves the prompt if any, and runs a new
// pipeline in the background.
func (o *Orchestrator) StartMix(ctx context.Context, req MixRequest) (MixSession, error) {
	switch {
	case strings.TrimSpace(req.Track1) == "":
		return MixSession{}, &domain.PreconditionError{Missing: "track 1"}
	case strings.TrimSpace(req.Track2) == "":
		return MixSession{}, &domain.PreconditionError{Missing: "track 2"}
	}

	f1, err := o.AnalyzeTrack(ctx, req.Track1, nil)
	if err != nil {
		return MixSession{}, fmt.Errorf("orchestrator: analyse track 1: %w", err)
	}
	f2, err := o.AnalyzeTrack(ctx, req.Track2, nil)
	if err != nil {
		return MixSession{}, fmt.Errorf("orchestrator: analyse track 2: %w", err)
	}

	_, _ = o.PurgeExpired(ctx)

	id := o.newID()
	settings := domain.DefaultMixSettings().Staged()
	switch {
	case req.Staged != nil:
		settings = *req.Staged
	case req.Settings != nil:
		settings = req.Settings.Staged()
	}

	var analysis *domain.PromptAnalysisResult
	if strings.TrimSpace(req.Prompt) != "" {
		res, err := o.resolver.Resolve(ctx, id, req.Prompt, &f1, &f2)
		if err != nil {
			return MixSession{}, err
		}
		analysis = &res
		settings = applyRecommendation(settings, res.RecommendedSettings)
	}

	p := NewPipeline(PipelineDeps{
		Store:         o.store,
		Renderer:      o.collab.Renderer,
		Stems:         o,
		Sink:          o.sink,
		RenderTimeout: o.renderTimeout,
	})
	if err := p.Start(PipelineInput{
		SessionID: id,
		Track1:    domain.Track{Ref: req.Track1, Features: &f1},
		Track2:    domain.Track{Ref: req.Track2, Features: &f2},
		Settings:  settings,
	}); err != nil {
		return MixSession{}, err
	}

	o.mu.Lock()
	o.sessions[id] = &session{pipeline: p, analysis: analysis}
	o.mu.Unlock()

	o.run(context.WithoutCancel(ctx), id, p)
	return MixSession{PipelineSnapshot: p.Snapshot(), Analysis: analysis}, nil
}

// applyRecommendation overlays the coarse AI settings onto staged settings,
// keeping the staged-only detail.
func applyRecommendation(staged domain.StagedMixSettings, rec domain.MixSettings) domain.StagedMixSettings {
	coarse := rec.Normalize().Staged()
	staged.BPMMatch = coarse.BPMMatch
	staged.KeyMatch = coarse.KeyMatch
	staged.Tempo = coarse.Tempo
	staged.CrossfadeLength = coarse.CrossfadeLength
	staged.Vocals = coarse.Vocals
	staged.Beats = coarse.Beats
	staged.Echo.Amount = coarse.Echo.Amount
	if staged.Echo.DelayMs == 0 {
		staged.Echo = coarse.Echo
	}
	return staged
}

func (o *Orchestrator) run(ctx context.Context, id string, p *Pipeline) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		if err := p.Run(ctx); err != nil {
			log.Printf("WARN orchestrator: session=%s: %v", id, err)
		}
		o.markIdle(id)
	}()
}

func (o *Orchestrator) markIdle(id string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if s, ok := o.sessions[id]; ok && s.pipeline.Snapshot().State != domain.PipelineRunning {
		s.idle = o.now()
	}
}

// PurgeExpired releases sessions that have been done, failed, cancelled or
// stalled for longer than the retention period, together with their event
// history. It reports how many sessions were released.
func (o *Orchestrator) PurgeExpired(context.Context) (int64, error) {
	cutoff := o.now().Add(-o.retention)
	o.mu.Lock()
	var expired []string
	for id, s := range o.sessions {
		if !s.idle.IsZero() && s.idle.Before(cutoff) {
			expired = append(expired, id)
			delete(o.sessions, id)
		}
	}
	o.mu.Unlock()

	if f, ok := o.sink.(forgetter); ok {
		for _, id := range expired {
			f.Forget(id)
		}
	}
	return int64(len(expired)), nil
}

func (o *Orchestrator) lookup(id string) (*session, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	s, ok := o.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %q: %w", id, domain.ErrSessionNotFound)
	}
	return s, nil
}

// Mix returns the current state of a session.
func (o *Orchestrator) Mix(id string) (MixSession, error) {
	s, err := o.lookup(id)
	if err != nil {
		return MixSession{}, err
	}
	return MixSession{PipelineSnapshot: s.pipeline.Snapshot(), Analysis: s.analysis}, nil
}

// CancelMix cancels a session.
func (o *Orchestrator) CancelMix(id string) (MixSession, error) {
	s, err := o.lookup(id)
	if err != nil {
		return MixSession{}, err
	}
	if err := s.pipeline.Cancel(); err != nil {
		return MixSession{}, err
	}
	o.markIdle(id)
	return MixSession{PipelineSnapshot: s.pipeline.Snapshot(), Analysis: s.analysis}, nil
}

// RetryStage re-runs the failed stage of a stalled session in the background.
func (o *Orchestrator) RetryStage(ctx context.Context, id string, stage domain.Stage) (MixSession, error) {
	s, err := o.lookup(id)
	if err != nil {
		return MixSession{}, err
	}
	if err := s.pipeline.RetryStage(stage); err != nil {
		return MixSession{}, err
	}
	o.mu.Lock()
	s.idle = time.Time{}
	o.mu.Unlock()
	o.run(context.WithoutCancel(ctx), id, s.pipeline)
	return MixSession{PipelineSnapshot: s.pipeline.Snapshot(), Analysis: s.analysis}, nil
}

// InvalidateTrack drops every cached analysis, stem and precomputed entry of a track.
func (o *Orchestrator) InvalidateTrack(ctx context.Context, trackRef string) error {
	if err := errors.Join(o.cache.Invalidate(ctx, trackRef), o.store.Invalidate(ctx, trackRef)); err != nil {
		return fmt.Errorf("orchestrator: invalidate %s: %w", trackRef, err)
	}
	return nil
}

// ClearCaches empties every cache tier.
func (o *Orchestrator) ClearCaches(ctx context.Context) error {
	if err := errors.Join(o.cache.ClearAll(ctx), o.store.Clear(ctx)); err != nil {
		return fmt.Errorf("orchestrator: clear caches: %w", err)
	}
	return nil
}

// Resolver exposes the prompt resolution chain.
func (o *Orchestrator) Resolver() *Resolver {
	return o.resolver
}

// Wait blocks until every background pipeline run has returned.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}
