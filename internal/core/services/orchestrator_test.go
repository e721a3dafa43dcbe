package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/that-cod/mixify-soundcloud-sub001/internal/core/domain"
	"github.com/that-cod/mixify-soundcloud-sub001/internal/core/ports"
)

type orchestratorFixture struct {
	analyzer  *fakeAnalyzer
	fallback  *fakeAnalyzer
	separator *fakeSeparator
	renderer  *fakeRenderer
	board     *StatusBoard
	o         *Orchestrator
}

func newOrchestratorFixture(t *testing.T, providers ...ports.PromptProvider) *orchestratorFixture {
	t.Helper()
	return newOrchestratorFixtureWith(t, nil, providers...)
}

func newOrchestratorFixtureWith(t *testing.T, opts []OrchestratorOption, providers ...ports.PromptProvider) *orchestratorFixture {
	t.Helper()
	cache, err := NewAnalysisCache()
	if err != nil {
		t.Fatal(err)
	}
	store, err := NewPrecomputedStore()
	if err != nil {
		t.Fatal(err)
	}
	fx := &orchestratorFixture{
		analyzer: &fakeAnalyzer{features: map[string]domain.AudioFeatures{
			"sc://one": features(120, "C Major"),
			"sc://two": features(128, "A Minor"),
		}},
		fallback:  &fakeAnalyzer{features: map[string]domain.AudioFeatures{}},
		separator: &fakeSeparator{},
		renderer:  &fakeRenderer{failures: map[domain.RenderOp]int{}},
		board:     NewStatusBoard(false),
	}
	ids := 0
	fx.o = NewOrchestrator(Collaborators{
		Analyzer:         fx.analyzer,
		FallbackAnalyzer: fx.fallback,
		Separator:        fx.separator,
		Renderer:         fx.renderer,
	}, cache, store, NewResolver(providers, WithTickInterval(time.Millisecond), WithResolverSink(fx.board)),
		append([]OrchestratorOption{
			WithSink(fx.board),
			WithSessionIDs(func() string {
				ids++
				return "session-" + string(rune('0'+ids))
			}),
		}, opts...)...,
	)
	return fx
}

func TestOrchestrator_AnalyzeTrack(t *testing.T) {
	tests := []struct {
		name        string
		primaryErr  error
		fallback    map[string]domain.AudioFeatures
		wantBPM     float64
		wantErr     bool
		wantErrKind error
	}{
		{name: "primary succeeds", wantBPM: 120},
		{
			name:       "fallback after primary failure",
			primaryErr: errors.New("service down"),
			fallback:   map[string]domain.AudioFeatures{"sc://one": features(118, "C Major")},
			wantBPM:    118,
		},
		{
			name:        "both fail",
			primaryErr:  errors.New("service down"),
			wantErr:     true,
			wantErrKind: domain.ErrProvider,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			fx := newOrchestratorFixture(t)
			fx.analyzer.err = tc.primaryErr
			if tc.fallback != nil {
				fx.fallback.features = tc.fallback
			}

			got, err := fx.o.AnalyzeTrack(context.Background(), "sc://one", nil)
			if (err != nil) != tc.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tc.wantErr)
			}
			if tc.wantErr {
				if !errors.Is(err, tc.wantErrKind) {
					t.Fatalf("err = %v, want %v", err, tc.wantErrKind)
				}
				return
			}
			if got.BPM != tc.wantBPM {
				t.Fatalf("BPM = %v, want %v", got.BPM, tc.wantBPM)
			}

			// second call is served from the cache
			if _, err := fx.o.AnalyzeTrack(context.Background(), "sc://one?t=2", nil); err != nil {
				t.Fatal(err)
			}
			if fx.analyzer.callCount() != 1 {
				t.Fatalf("analyzer calls = %d, want 1", fx.analyzer.callCount())
			}
		})
	}
}

func TestOrchestrator_AnalyzeTrackCoalescesMisses(t *testing.T) {
	fx := newOrchestratorFixture(t)
	fx.analyzer.delay = 50 * time.Millisecond

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := fx.o.AnalyzeTrack(context.Background(), "sc://one", nil); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	if n := fx.analyzer.callCount(); n != 1 {
		t.Fatalf("analyzer calls = %d, want 1", n)
	}
}

func TestOrchestrator_CompatibilityNeedsAnalysis(t *testing.T) {
	fx := newOrchestratorFixture(t)
	ctx := context.Background()

	if _, err := fx.o.Compatibility(ctx, "sc://one", "sc://two", domain.DefaultMixSettings()); !errors.Is(err, domain.ErrPrecondition) {
		t.Fatalf("err = %v, want precondition", err)
	}

	for _, ref := range []string{"sc://one", "sc://two"} {
		if _, err := fx.o.AnalyzeTrack(ctx, ref, nil); err != nil {
			t.Fatal(err)
		}
	}
	c, err := fx.o.Compatibility(ctx, "sc://one", "sc://two", domain.DefaultMixSettings())
	if err != nil {
		t.Fatal(err)
	}
	if !c.HarmonicallyMatched || !c.NeedsTempoAdjustment {
		t.Fatalf("compatibility = %+v", c)
	}
}

func TestOrchestrator_StartMixRunsToCompletion(t *testing.T) {
	fx := newOrchestratorFixture(t, &fakeProvider{name: "gateway", raw: validAnswer})
	ctx := context.Background()

	started, err := fx.o.StartMix(ctx, MixRequest{Track1: "sc://one", Track2: "sc://two", Prompt: "smooth blend"})
	if err != nil {
		t.Fatalf("StartMix: %v", err)
	}
	if started.Analysis == nil || started.Analysis.Source != "gateway" {
		t.Fatalf("analysis = %+v", started.Analysis)
	}
	if started.Settings.CrossfadeLength != 12 {
		t.Errorf("CrossfadeLength = %d, want AI recommendation 12", started.Settings.CrossfadeLength)
	}

	fx.o.Wait()
	got, err := fx.o.Mix(started.SessionID)
	if err != nil {
		t.Fatal(err)
	}
	if got.State != domain.PipelineDone || got.Output == "" {
		t.Fatalf("session = %+v", got.PipelineSnapshot)
	}
	if _, err := fx.o.CancelMix(started.SessionID); !errors.Is(err, domain.ErrPipelineFinished) {
		t.Fatalf("cancel finished: %v", err)
	}
	if last, ok := fx.board.Latest(started.SessionID); !ok || last.Status != string(domain.PipelineDone) {
		t.Fatalf("latest event = %+v", last)
	}
}

func TestOrchestrator_RetryStage(t *testing.T) {
	fx := newOrchestratorFixture(t)
	fx.renderer.failures[domain.RenderTempo] = 1
	ctx := context.Background()

	started, err := fx.o.StartMix(ctx, MixRequest{Track1: "sc://one", Track2: "sc://two"})
	if err != nil {
		t.Fatal(err)
	}
	fx.o.Wait()

	got, _ := fx.o.Mix(started.SessionID)
	if got.State != domain.PipelineStalled {
		t.Fatalf("State = %s, want stalled", got.State)
	}
	if _, err := fx.o.RetryStage(ctx, started.SessionID, domain.StageTempoMatch); err != nil {
		t.Fatalf("RetryStage: %v", err)
	}
	fx.o.Wait()

	got, _ = fx.o.Mix(started.SessionID)
	if got.State != domain.PipelineDone {
		t.Fatalf("State = %s, want done", got.State)
	}
}

func TestOrchestrator_UnknownSession(t *testing.T) {
	fx := newOrchestratorFixture(t)
	if _, err := fx.o.Mix("nope"); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("err = %v", err)
	}
	if _, err := fx.o.CancelMix("nope"); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("err = %v", err)
	}
}

func TestOrchestrator_InvalidateTrack(t *testing.T) {
	fx := newOrchestratorFixture(t)
	ctx := context.Background()

	if _, err := fx.o.AnalyzeTrack(ctx, "sc://one", nil); err != nil {
		t.Fatal(err)
	}
	if _, err := fx.o.SeparateStems(ctx, "sc://one", domain.StemQualityNormal); err != nil {
		t.Fatal(err)
	}
	if err := fx.o.InvalidateTrack(ctx, "sc://one"); err != nil {
		t.Fatal(err)
	}
	if _, err := fx.o.AnalyzeTrack(ctx, "sc://one", nil); err != nil {
		t.Fatal(err)
	}
	if n := fx.analyzer.callCount(); n != 2 {
		t.Fatalf("analyzer calls = %d, want 2 after invalidation", n)
	}
	stems, err := fx.o.SeparateStems(ctx, "sc://one", domain.StemQualityNormal)
	if err != nil {
		t.Fatal(err)
	}
	if stems.Cached || fx.separator.calls != 2 {
		t.Fatalf("stems = %+v after %d calls", stems, fx.separator.calls)
	}
}

func TestOrchestrator_AnalyzeTrackSurvivesCancelledCaller(t *testing.T) {
	fx := newOrchestratorFixture(t)
	fx.analyzer.delay = 100 * time.Millisecond

	first, cancel := context.WithCancel(context.Background())
	defer cancel()
	firstErr := make(chan error, 1)
	go func() {
		_, err := fx.o.AnalyzeTrack(first, "sc://one", nil)
		firstErr <- err
	}()
	for fx.analyzer.callCount() == 0 {
		time.Sleep(time.Millisecond)
	}

	second := make(chan error, 1)
	go func() {
		f, err := fx.o.AnalyzeTrack(context.Background(), "sc://one", nil)
		if err == nil && f.BPM != 120 {
			err = errors.New("unexpected features")
		}
		second <- err
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()

	if err := <-second; err != nil {
		t.Fatalf("waiter failed after the first caller was cancelled: %v", err)
	}
	<-firstErr
	if n := fx.analyzer.callCount(); n != 1 {
		t.Fatalf("analyzer calls = %d, want 1", n)
	}
	if n := fx.fallback.callCount(); n != 0 {
		t.Fatalf("fallback calls = %d, want 0", n)
	}
}

func TestOrchestrator_StartMixNormalizesStagedSettings(t *testing.T) {
	fx := newOrchestratorFixture(t)
	staged := domain.DefaultMixSettings().Staged()
	staged.Vocals = domain.StageLevels{Level1: 7, Level2: 0.4}
	staged.Echo.Amount = 42
	staged.Tempo = 9

	started, err := fx.o.StartMix(context.Background(), MixRequest{Track1: "sc://one", Track2: "sc://two", Staged: &staged})
	if err != nil {
		t.Fatal(err)
	}
	fx.o.Wait()

	if got := started.Settings; got.Vocals.Level1 != 0.8 || got.Echo.Amount != 0.3 || got.Tempo != 0 {
		t.Fatalf("settings = %+v", got)
	}
	gain, ok := fx.renderer.find(domain.RenderGain)
	if !ok || gain.params.Gain != 0.8 {
		t.Fatalf("gain render = %+v", gain)
	}
	if _, ok := fx.renderer.find(domain.RenderEffect); ok {
		t.Fatal("echo rendered from an out-of-range amount")
	}
	mix, _ := fx.renderer.find(domain.RenderMix)
	if mix.params.Tempo != 0 {
		t.Fatalf("mix tempo = %v", mix.params.Tempo)
	}
}

func TestOrchestrator_PurgeExpiredSessions(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	fx := newOrchestratorFixtureWith(t, []OrchestratorOption{
		WithSessionRetention(time.Minute),
		WithSessionClock(clock.Now),
	})
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		started, err := fx.o.StartMix(ctx, MixRequest{Track1: "sc://one", Track2: "sc://two"})
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, started.SessionID)
	}
	fx.o.Wait()

	if n, _ := fx.o.PurgeExpired(ctx); n != 0 {
		t.Fatalf("purged %d sessions inside the retention period", n)
	}
	if _, err := fx.o.Mix(ids[0]); err != nil {
		t.Fatalf("Mix before expiry: %v", err)
	}

	clock.Advance(2 * time.Minute)
	if n, _ := fx.o.PurgeExpired(ctx); n != 3 {
		t.Fatalf("purged %d sessions, want 3", n)
	}
	if len(fx.o.sessions) != 0 {
		t.Fatalf("sessions retained = %d", len(fx.o.sessions))
	}
	for _, id := range ids {
		if _, err := fx.o.Mix(id); !errors.Is(err, domain.ErrSessionNotFound) {
			t.Fatalf("Mix(%s) after expiry: %v", id, err)
		}
		if events := fx.board.Events(id); len(events) != 0 {
			t.Fatalf("board kept %d events for %s", len(events), id)
		}
	}
}

func TestOrchestrator_PurgeKeepsRunningSessions(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	fx := newOrchestratorFixtureWith(t, []OrchestratorOption{
		WithSessionRetention(time.Minute),
		WithSessionClock(clock.Now),
	})
	fx.renderer.block = make(chan struct{})
	fx.renderer.entered = make(chan domain.RenderOp, 1)
	ctx := context.Background()

	started, err := fx.o.StartMix(ctx, MixRequest{Track1: "sc://one", Track2: "sc://two"})
	if err != nil {
		t.Fatal(err)
	}
	<-fx.renderer.entered
	clock.Advance(time.Hour)
	if n, _ := fx.o.PurgeExpired(ctx); n != 0 {
		t.Fatalf("purged %d running sessions", n)
	}

	close(fx.renderer.block)
	fx.o.Wait()
	if _, err := fx.o.Mix(started.SessionID); err != nil {
		t.Fatalf("Mix: %v", err)
	}
	clock.Advance(2 * time.Minute)
	if n, _ := fx.o.PurgeExpired(ctx); n != 1 {
		t.Fatalf("purged %d sessions, want 1", n)
	}
}
