package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/that-cod/mixify-soundcloud-sub001/internal/core/domain"
	"github.com/that-cod/mixify-soundcloud-sub001/internal/core/ports"
)

// DefaultRenderTimeout bounds one render call.
const DefaultRenderTimeout = 2 * time.Minute

// StemSource supplies separated stems, usually through the analysis cache.
type StemSource interface {
	SeparateStems(ctx context.Context, trackRef string, quality domain.StemQuality) (domain.SeparatedStems, error)
}

// PipelineDeps are the collaborators a pipeline renders through.
type PipelineDeps struct {
	Store         *PrecomputedStore
	Renderer      ports.Renderer
	Stems         StemSource
	Sink          ports.ProgressSink
	RenderTimeout time.Duration
}

// PipelineInput is everything a run needs up front.
type PipelineInput struct {
	SessionID string
	Track1    domain.Track
	Track2    domain.Track
	Settings  domain.StagedMixSettings
}

type stageState struct {
	status    domain.StageStatus
	progress  float64
	skipped   bool
	fromCache bool
	hits      int
	renders   int
	artifacts []domain.ArtifactRef
	err       string
}

// Pipeline executes the six mixing stages in order for one session. The sink
// is called with the pipeline lock held and must not call back into it.
type Pipeline struct {
	deps PipelineDeps

	mu        sync.Mutex
	input     PipelineInput
	state     domain.PipelineState
	current   int
	stages    []stageState
	artifacts map[string]domain.ArtifactRef
	output    domain.ArtifactRef
	message   string
	running   bool
}

// NewPipeline constructs an idle pipeline.
func NewPipeline(deps PipelineDeps) *Pipeline {
	if deps.Sink == nil {
		deps.Sink = ports.Discard
	}
	if deps.RenderTimeout <= 0 {
		deps.RenderTimeout = DefaultRenderTimeout
	}
	return &Pipeline{
		deps:   deps,
		state:  domain.PipelineIdle,
		stages: make([]stageState, len(domain.Stages)),
	}
}

// Start validates input and moves the pipeline to Prepare with all progress reset.
// Missing inputs yield a *domain.PreconditionError and no transition.
func (p *Pipeline) Start(input PipelineInput) error {
	switch {
	case input.Track1.Ref == "":
		return &domain.PreconditionError{Missing: "track 1"}
	case input.Track2.Ref == "":
		return &domain.PreconditionError{Missing: "track 2"}
	case input.Track1.Features == nil:
		return &domain.PreconditionError{Missing: "analysis of track 1"}
	case input.Track2.Features == nil:
		return &domain.PreconditionError{Missing: "analysis of track 2"}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running || p.state == domain.PipelineRunning {
		return domain.ErrPipelineBusy
	}

	input.Settings = input.Settings.WithDefaults()
	p.input = input
	p.state = domain.PipelineRunning
	p.current = 0
	p.stages = make([]stageState, len(domain.Stages))
	for i := range p.stages {
		p.stages[i].status = domain.StatusPending
	}
	p.stages[0].status = domain.StatusRunning
	p.artifacts = map[string]domain.ArtifactRef{}
	p.output = ""
	p.message = ""
	p.emitPipelineLocked("started")
	p.emitStageLocked(domain.StagePrepare)
	return nil
}

// Run executes stages from the current one until the pipeline completes,
// stalls on a failed stage, or is cancelled. It returns a *domain.StageError
// when a stage fails and a *domain.FatalPipelineError when Finalize fails.
func (p *Pipeline) Run(ctx context.Context) error {
	p.mu.Lock()
	if p.running || p.state != domain.PipelineRunning {
		p.mu.Unlock()
		return nil
	}
	p.running = true
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.running = false
		p.mu.Unlock()
	}()

	for {
		p.mu.Lock()
		if p.state != domain.PipelineRunning {
			p.mu.Unlock()
			return nil
		}
		stage := domain.Stages[p.current]
		st := &p.stages[p.current]
		st.status = domain.StatusRunning
		st.err = ""
		input := p.input
		p.mu.Unlock()

		err := p.execute(ctx, stage, input)

		p.mu.Lock()
		if p.state != domain.PipelineRunning {
			// cancelled mid-stage; cache writes made by the stage are kept
			p.mu.Unlock()
			return nil
		}
		if err != nil {
			st.status = domain.StatusFailed
			st.err = err.Error()
			if stage == domain.StageFinalize {
				p.state = domain.PipelineFailed
				p.message = err.Error()
				p.emitStageLocked(stage)
				p.emitPipelineLocked(err.Error())
				p.mu.Unlock()
				return &domain.FatalPipelineError{Err: err}
			}
			p.state = domain.PipelineStalled
			p.message = fmt.Sprintf("%s failed; retry or cancel", stage)
			p.emitStageLocked(stage)
			p.emitPipelineLocked(p.message)
			p.mu.Unlock()
			return &domain.StageError{Stage: stage, Err: err}
		}

		st.status = domain.StatusComplete
		st.progress = 100
		st.fromCache = st.hits > 0 && st.renders == 0
		p.emitStageLocked(stage)
		if stage == domain.StageFinalize {
			p.state = domain.PipelineDone
			p.emitPipelineLocked("mix ready")
			p.mu.Unlock()
			return nil
		}
		p.current++
		p.stages[p.current].status = domain.StatusRunning
		p.emitStageLocked(domain.Stages[p.current])
		p.mu.Unlock()
	}
}

// Cancel stops the pipeline. Cancelling twice is a no-op; cancelling a
// finished pipeline returns domain.ErrPipelineFinished.
func (p *Pipeline) Cancel() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch p.state {
	case domain.PipelineCancelled:
		return nil
	case domain.PipelineDone, domain.PipelineFailed:
		return domain.ErrPipelineFinished
	}
	p.state = domain.PipelineCancelled
	p.message = "cancelled"
	p.emitPipelineLocked(p.message)
	return nil
}

// RetryStage re-arms a failed stage of a stalled pipeline. Call Run afterwards.
func (p *Pipeline) RetryStage(stage domain.Stage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state.Terminal() {
		return domain.ErrPipelineFinished
	}
	if p.state != domain.PipelineStalled || domain.Stages[p.current] != stage || p.stages[p.current].status != domain.StatusFailed {
		return fmt.Errorf("retry %s: %w", stage, domain.ErrStageNotFailed)
	}
	st := &p.stages[p.current]
	*st = stageState{status: domain.StatusRunning}
	p.state = domain.PipelineRunning
	p.message = ""
	p.emitStageLocked(stage)
	p.emitPipelineLocked("retrying " + stage.String())
	return nil
}

// Snapshot returns a consistent copy of the pipeline state.
func (p *Pipeline) Snapshot() domain.PipelineSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshotLocked()
}

func (p *Pipeline) snapshotLocked() domain.PipelineSnapshot {
	snap := domain.PipelineSnapshot{
		SessionID: p.input.SessionID,
		State:     p.state,
		Current:   domain.Stages[p.current],
		Stages:    make([]domain.StageSnapshot, len(p.stages)),
		Overall:   p.overallLocked(),
		Output:    p.output,
		Settings:  p.input.Settings,
		Message:   p.message,
	}
	for i, st := range p.stages {
		snap.Stages[i] = domain.StageSnapshot{
			Stage:     domain.Stages[i],
			Status:    st.status,
			Progress:  st.progress,
			Skipped:   st.skipped,
			FromCache: st.fromCache,
			Artifacts: append([]domain.ArtifactRef(nil), st.artifacts...),
			Error:     st.err,
		}
	}
	return snap
}

// overallLocked averages progress over the stages that were not skipped.
func (p *Pipeline) overallLocked() float64 {
	var sum float64
	var n int
	for _, st := range p.stages {
		if st.skipped {
			continue
		}
		sum += st.progress
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

func (p *Pipeline) emitStageLocked(stage domain.Stage) {
	st := p.stages[stage]
	s := stage
	p.deps.Sink.Emit(ports.ProgressEvent{
		SessionID: p.input.SessionID,
		Kind:      ports.EventStage,
		Stage:     &s,
		Status:    string(st.status),
		Progress:  st.progress,
		Overall:   p.overallLocked(),
		Message:   st.err,
	})
}

func (p *Pipeline) emitPipelineLocked(msg string) {
	p.deps.Sink.Emit(ports.ProgressEvent{
		SessionID: p.input.SessionID,
		Kind:      ports.EventPipeline,
		Status:    string(p.state),
		Progress:  p.overallLocked(),
		Overall:   p.overallLocked(),
		Message:   msg,
	})
}

// setProgress updates a running stage; updates after cancellation are dropped.
func (p *Pipeline) setProgress(stage domain.Stage, pct float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != domain.PipelineRunning {
		return
	}
	st := &p.stages[stage]
	if pct > st.progress {
		st.progress = pct
	}
	p.emitStageLocked(stage)
}

func (p *Pipeline) skip(stage domain.Stage) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stages[stage].skipped = true
}

func (p *Pipeline) record(stage domain.Stage, name string, ref domain.ArtifactRef, cached bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	st := &p.stages[stage]
	st.artifacts = append(st.artifacts, ref)
	if cached {
		st.hits++
	} else {
		st.renders++
	}
	if name != "" {
		p.artifacts[name] = ref
	}
}

func (p *Pipeline) execute(ctx context.Context, stage domain.Stage, in PipelineInput) error {
	switch stage {
	case domain.StagePrepare:
		return p.prepare(ctx, in)
	case domain.StageTempoMatch:
		return p.tempoMatch(ctx, in)
	case domain.StageVocalBalance:
		return p.balance(ctx, stage, in, "vocal_gain", in.Settings.Vocals, func(s domain.SeparatedStems) domain.ArtifactRef { return s.Vocals })
	case domain.StageBeatBalance:
		return p.balance(ctx, stage, in, "beat_gain", in.Settings.Beats, func(s domain.SeparatedStems) domain.ArtifactRef { return s.Drums })
	case domain.StageEffectsApply:
		return p.effects(ctx, in)
	case domain.StageFinalize:
		return p.finalize(ctx, in)
	}
	return fmt.Errorf("pipeline: unknown stage %d", stage)
}

func needsStems(s domain.StagedMixSettings) bool {
	return s.Vocals.Level1 != s.Vocals.Level2 || s.Beats.Level1 != s.Beats.Level2
}

// prepare separates stems when a balance stage will need them and renders a
// key-shifted variant of track 1 when harmonic matching asks for one.
func (p *Pipeline) prepare(ctx context.Context, in PipelineInput) error {
	if needsStems(in.Settings) {
		for i, tr := range []domain.Track{in.Track1, in.Track2} {
			if _, err := p.stemsFor(ctx, domain.StagePrepare, tr.Ref, in.Settings.StemQuality); err != nil {
				return err
			}
			p.setProgress(domain.StagePrepare, float64(i+1)*40)
		}
	}

	compat := domain.Assess(*in.Track1.Features, *in.Track2.Features, in.Settings.MixSettings())
	if !compat.NeedsKeyAdjustment {
		return nil
	}
	target := in.Track2.Features.Key
	_, err := p.variant(ctx, domain.StagePrepare, "track1.key", in.Track1.Ref,
		func(ops domain.PrecomputedOperations) (domain.ArtifactRef, bool) { return ops.KeyVariant(target) },
		domain.RenderParams{Op: domain.RenderKey, TargetKey: target, Semitones: compat.SemitoneShift},
		func(ops domain.PrecomputedOperations, ref domain.ArtifactRef) domain.PrecomputedOperations {
			return ops.WithKeyVariant(target, ref)
		})
	return err
}

func (p *Pipeline) tempoMatch(ctx context.Context, in PipelineInput) error {
	f1, f2 := in.Track1.Features, in.Track2.Features
	if !in.Settings.BPMMatch || domain.BPMsMatch(f1.BPM, f2.BPM) {
		p.skip(domain.StageTempoMatch)
		return nil
	}
	target := f2.BPM
	_, err := p.variant(ctx, domain.StageTempoMatch, "track1.tempo", in.Track1.Ref,
		func(ops domain.PrecomputedOperations) (domain.ArtifactRef, bool) { return ops.BPMVariant(target) },
		domain.RenderParams{Op: domain.RenderTempo, TargetBPM: target, Ratio: domain.TempoRatio(f1.BPM, target)},
		func(ops domain.PrecomputedOperations, ref domain.ArtifactRef) domain.PrecomputedOperations {
			return ops.WithBPMVariant(target, ref)
		})
	return err
}

// balance renders a gain variant of one stem of each track. Equal levels
// skip the stage.
func (p *Pipeline) balance(ctx context.Context, stage domain.Stage, in PipelineInput, effect string, levels domain.StageLevels, pick func(domain.SeparatedStems) domain.ArtifactRef) error {
	if levels.Level1 == levels.Level2 {
		p.skip(stage)
		return nil
	}
	for i, tr := range []domain.Track{in.Track1, in.Track2} {
		level := levels.Level1
		if i == 1 {
			level = levels.Level2
		}
		stems, err := p.stemsFor(ctx, stage, tr.Ref, in.Settings.StemQuality)
		if err != nil {
			return err
		}
		name := fmt.Sprintf("track%d.%s", i+1, effect)
		_, err = p.variant(ctx, stage, name, tr.Ref,
			func(ops domain.PrecomputedOperations) (domain.ArtifactRef, bool) {
				return ops.EffectVariant(effect, level)
			},
			domain.RenderParams{
				Op:     domain.RenderGain,
				Effect: effect,
				Gain:   level,
				Inputs: map[string]domain.ArtifactRef{"stem": pick(stems)},
			},
			func(ops domain.PrecomputedOperations, ref domain.ArtifactRef) domain.PrecomputedOperations {
				return ops.WithEffectVariant(effect, level, ref)
			})
		if err != nil {
			return err
		}
		p.setProgress(stage, float64(i+1)*50)
	}
	return nil
}

func (p *Pipeline) effects(ctx context.Context, in PipelineInput) error {
	active := in.Settings.ActiveEffects()
	if len(active) == 0 {
		p.skip(domain.StageEffectsApply)
		return nil
	}
	names := make([]string, 0, len(active))
	for name := range active {
		names = append(names, name)
	}
	sort.Strings(names)

	for i, name := range names {
		intensity := active[name]
		_, err := p.variant(ctx, domain.StageEffectsApply, "track1."+name, in.Track1.Ref,
			func(ops domain.PrecomputedOperations) (domain.ArtifactRef, bool) {
				return ops.EffectVariant(name, intensity)
			},
			domain.RenderParams{Op: domain.RenderEffect, Effect: name, Intensity: intensity},
			func(ops domain.PrecomputedOperations, ref domain.ArtifactRef) domain.PrecomputedOperations {
				return ops.WithEffectVariant(name, intensity, ref)
			})
		if err != nil {
			return err
		}
		p.setProgress(domain.StageEffectsApply, float64(i+1)/float64(len(names))*100)
	}
	return nil
}

func (p *Pipeline) finalize(ctx context.Context, in PipelineInput) error {
	p.mu.Lock()
	inputs := maps.Clone(p.artifacts)
	p.mu.Unlock()

	s := in.Settings
	ref, err := p.render(ctx, in.Track1.Ref, domain.RenderParams{
		Op:               domain.RenderMix,
		Partner:          in.Track2.Ref,
		Inputs:           inputs,
		CrossfadeSeconds: s.CrossfadeLength,
		Tempo:            s.Tempo,
		OutputGain:       s.OutputGain,
		StereoWidth:      s.StereoWidth,
	})
	if err != nil {
		return err
	}
	p.record(domain.StageFinalize, "", ref, false)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == domain.PipelineRunning {
		p.output = ref
	}
	return nil
}

// stemsFor returns the stems of trackRef from the precomputed store, falling
// back to the stem source and recording the result.
func (p *Pipeline) stemsFor(ctx context.Context, stage domain.Stage, trackRef string, quality domain.StemQuality) (domain.SeparatedStems, error) {
	if ops, ok := p.deps.Store.Get(ctx, trackRef); ok && !ops.StemCache.IsZero() {
		p.record(stage, "", ops.StemCache.Vocals, true)
		return ops.StemCache, nil
	}
	if p.deps.Stems == nil {
		return domain.SeparatedStems{}, errors.New("pipeline: no stem source configured")
	}
	stems, err := p.deps.Stems.SeparateStems(ctx, trackRef, quality)
	if err != nil {
		return domain.SeparatedStems{}, err
	}
	if err := p.deps.Store.Update(ctx, trackRef, func(ops domain.PrecomputedOperations) domain.PrecomputedOperations {
		return ops.WithStems(stems)
	}); err != nil {
		log.Printf("WARN pipeline: store stems for %s: %v", trackRef, err)
	}
	p.record(stage, "", stems.Vocals, stems.Cached)
	return stems, nil
}

// variant consults the precomputed store before rendering, and records every
// new render back into it.
func (p *Pipeline) variant(
	ctx context.Context,
	stage domain.Stage,
	name string,
	trackRef string,
	lookup func(domain.PrecomputedOperations) (domain.ArtifactRef, bool),
	params domain.RenderParams,
	extend func(domain.PrecomputedOperations, domain.ArtifactRef) domain.PrecomputedOperations,
) (domain.ArtifactRef, error) {
	if ops, ok := p.deps.Store.Get(ctx, trackRef); ok {
		if ref, hit := lookup(ops); hit {
			p.record(stage, name, ref, true)
			return ref, nil
		}
	}

	ref, err := p.render(ctx, trackRef, params)
	if err != nil {
		return "", err
	}
	if err := p.deps.Store.Update(ctx, trackRef, func(ops domain.PrecomputedOperations) domain.PrecomputedOperations {
		return extend(ops, ref)
	}); err != nil {
		log.Printf("WARN pipeline: store %s for %s: %v", name, trackRef, err)
	}
	p.record(stage, name, ref, false)
	return ref, nil
}

func (p *Pipeline) render(ctx context.Context, trackRef string, params domain.RenderParams) (domain.ArtifactRef, error) {
	if p.deps.Renderer == nil {
		return "", errors.New("pipeline: no renderer configured")
	}
	rctx, cancel := context.WithTimeout(ctx, p.deps.RenderTimeout)
	defer cancel()
	ref, err := p.deps.Renderer.Render(rctx, trackRef, params)
	if err != nil {
		return "", &domain.ProviderError{Provider: "renderer", Err: fmt.Errorf("%s %s: %w", params.Op, trackRef, err)}
	}
	if ref == "" {
		return "", &domain.ProviderError{Provider: "renderer", Err: fmt.Errorf("%s %s: empty artifact", params.Op, trackRef)}
	}
	return ref, nil
}
