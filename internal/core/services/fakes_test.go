package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/that-cod/mixify-soundcloud-sub001/internal/core/domain"
	"github.com/that-cod/mixify-soundcloud-sub001/internal/core/ports"
)

// memTier is an in-memory ports.DurableTier.
type memTier struct {
	mu      sync.Mutex
	entries map[string][]byte
	ttls    map[string]time.Duration
	failPut bool
}

func newMemTier() *memTier {
	return &memTier{entries: map[string][]byte{}, ttls: map[string]time.Duration{}}
}

func (m *memTier) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.entries[key]
	return v, ok, nil
}

func (m *memTier) Put(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failPut {
		return errors.New("disk full")
	}
	m.entries[key] = append([]byte(nil), value...)
	m.ttls[key] = ttl
	return nil
}

func (m *memTier) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

func (m *memTier) DeletePrefix(_ context.Context, prefix string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k := range m.entries {
		if strings.HasPrefix(k, prefix) {
			delete(m.entries, k)
		}
	}
	return nil
}

func (m *memTier) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// fakeClock is a settable time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeAnalyzer struct {
	mu       sync.Mutex
	features map[string]domain.AudioFeatures
	err      error
	delay    time.Duration
	calls    int
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, trackRef string, _ map[string]string) (domain.AudioFeatures, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return domain.AudioFeatures{}, ctx.Err()
		}
	}
	if f.err != nil {
		return domain.AudioFeatures{}, f.err
	}
	feat, ok := f.features[trackRef]
	if !ok {
		return domain.AudioFeatures{}, fmt.Errorf("unknown track %s", trackRef)
	}
	return feat, nil
}

func (f *fakeAnalyzer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeSeparator struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (f *fakeSeparator) Separate(_ context.Context, trackRef string, _ domain.StemQuality) (domain.SeparatedStems, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return domain.SeparatedStems{}, f.err
	}
	return domain.SeparatedStems{
		Vocals:       domain.ArtifactRef(trackRef + "#vocals"),
		Instrumental: domain.ArtifactRef(trackRef + "#instrumental"),
		Drums:        domain.ArtifactRef(trackRef + "#drums"),
		Bass:         domain.ArtifactRef(trackRef + "#bass"),
	}, nil
}

type renderCall struct {
	trackRef string
	params   domain.RenderParams
}

// fakeRenderer fails the first failures[op] calls of each op. When block is
// set, every call signals entered (if set) and waits for block to close.
type fakeRenderer struct {
	mu       sync.Mutex
	calls    []renderCall
	failures map[domain.RenderOp]int
	block    chan struct{}
	entered  chan domain.RenderOp
}

func (f *fakeRenderer) Render(ctx context.Context, trackRef string, params domain.RenderParams) (domain.ArtifactRef, error) {
	if f.entered != nil {
		select {
		case f.entered <- params.Op:
		default:
		}
	}
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, renderCall{trackRef: trackRef, params: params})
	if f.failures[params.Op] > 0 {
		f.failures[params.Op]--
		return "", errors.New("render backend unavailable")
	}
	return domain.ArtifactRef(fmt.Sprintf("art://%s/%s/%d", params.Op, trackRef, len(f.calls))), nil
}

func (f *fakeRenderer) ops() []domain.RenderOp {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.RenderOp, 0, len(f.calls))
	for _, c := range f.calls {
		out = append(out, c.params.Op)
	}
	return out
}

func (f *fakeRenderer) find(op domain.RenderOp) (renderCall, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.calls {
		if c.params.Op == op {
			return c, true
		}
	}
	return renderCall{}, false
}

// fakeProvider records the order in which providers were attempted.
type fakeProvider struct {
	name  string
	raw   string
	err   error
	wait  bool
	order *[]string
	mu    *sync.Mutex
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) ResolvePrompt(ctx context.Context, _ domain.PromptRequest) ([]byte, error) {
	if p.mu != nil {
		p.mu.Lock()
		*p.order = append(*p.order, p.name)
		p.mu.Unlock()
	}
	if p.wait {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if p.err != nil {
		return nil, p.err
	}
	return []byte(p.raw), nil
}

// recordingSink keeps every event.
type recordingSink struct {
	mu     sync.Mutex
	events []ports.ProgressEvent
}

func (s *recordingSink) Emit(e ports.ProgressEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

func (s *recordingSink) snapshot() []ports.ProgressEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ports.ProgressEvent(nil), s.events...)
}

const validAnswer = `{
  "instructions": [{"type": "bpm", "description": "match tempo", "confidence": 0.9}],
  "summary": "Tight tempo match",
  "recommendedSettings": {"bpmMatch": true, "crossfadeLength": 12, "echo": 0.1}
}`

func features(bpm float64, key string) domain.AudioFeatures {
	return domain.AudioFeatures{BPM: bpm, Key: key, Energy: 0.7, Clarity: 0.6}
}
