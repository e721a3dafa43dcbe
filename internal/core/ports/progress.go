package ports

import "github.com/that-cod/mixify-soundcloud-sub001/internal/core/domain"

// EventKind distinguishes the sources of progress events.
type EventKind string

const (
	EventProvider EventKind = "provider"
	EventStage    EventKind = "stage"
	EventPipeline EventKind = "pipeline"
)

// ProgressEvent is a status transition or progress tick emitted by the core.
type ProgressEvent struct {
	SessionID string        `json:"sessionId"`
	Kind      EventKind     `json:"kind"`
	Provider  string        `json:"provider,omitempty"`
	Stage     *domain.Stage `json:"stage,omitempty"`
	Status    string        `json:"status"`
	Progress  float64       `json:"progress"`
	Overall   float64       `json:"overall,omitempty"`
	Message   string        `json:"message,omitempty"`
}

// ProgressSink receives progress events. Emit must not block.
type ProgressSink interface {
	Emit(event ProgressEvent)
}

// ProgressFunc adapts a function to ProgressSink.
type ProgressFunc func(ProgressEvent)

func (f ProgressFunc) Emit(event ProgressEvent) { f(event) }

// Discard drops every event.
var Discard ProgressSink = ProgressFunc(func(ProgressEvent) {})
