package domain

import (
	"fmt"
	"strings"
)

// Stage is one named step of the mixing pipeline.
type Stage int

const (
	StagePrepare Stage = iota
	StageTempoMatch
	StageVocalBalance
	StageBeatBalance
	StageEffectsApply
	StageFinalize
)

// Stages lists the pipeline stages in execution order.
var Stages = []Stage{
	StagePrepare,
	StageTempoMatch,
	StageVocalBalance,
	StageBeatBalance,
	StageEffectsApply,
	StageFinalize,
}

var stageNames = map[Stage]string{
	StagePrepare:      "prepare",
	StageTempoMatch:   "tempo_match",
	StageVocalBalance: "vocal_balance",
	StageBeatBalance:  "beat_balance",
	StageEffectsApply: "effects_apply",
	StageFinalize:     "finalize",
}

func (s Stage) String() string {
	if name, ok := stageNames[s]; ok {
		return name
	}
	return "unknown"
}

// MarshalText encodes the stage by name.
func (s Stage) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a stage name.
func (s *Stage) UnmarshalText(text []byte) error {
	v, ok := ParseStage(string(text))
	if !ok {
		return fmt.Errorf("unknown stage %q", text)
	}
	*s = v
	return nil
}

// ParseStage resolves a stage name, ignoring case, dashes and underscores.
func ParseStage(name string) (Stage, bool) {
	fold := func(v string) string {
		v = strings.ToLower(v)
		v = strings.ReplaceAll(v, "_", "")
		return strings.ReplaceAll(v, "-", "")
	}
	want := fold(name)
	for _, s := range Stages {
		if fold(s.String()) == want {
			return s, true
		}
	}
	return 0, false
}

// StageStatus is the lifecycle of a single stage.
type StageStatus string

const (
	StatusPending  StageStatus = "pending"
	StatusRunning  StageStatus = "running"
	StatusComplete StageStatus = "complete"
	StatusFailed   StageStatus = "failed"
)

// PipelineState is the lifecycle of the whole pipeline.
type PipelineState string

const (
	PipelineIdle      PipelineState = "idle"
	PipelineRunning   PipelineState = "running"
	PipelineStalled   PipelineState = "stalled"
	PipelineCancelled PipelineState = "cancelled"
	PipelineDone      PipelineState = "done"
	PipelineFailed    PipelineState = "failed"
)

// Terminal reports whether no further transition is possible.
func (s PipelineState) Terminal() bool {
	return s == PipelineCancelled || s == PipelineDone || s == PipelineFailed
}

// StageSnapshot is the observable state of one stage.
type StageSnapshot struct {
	Stage     Stage         `json:"stage"`
	Status    StageStatus   `json:"status"`
	Progress  float64       `json:"progress"`
	Skipped   bool          `json:"skipped"`
	FromCache bool          `json:"fromCache"`
	Artifacts []ArtifactRef `json:"artifacts,omitempty"`
	Error     string        `json:"error,omitempty"`
}

// PipelineSnapshot is a consistent copy of the pipeline state.
type PipelineSnapshot struct {
	SessionID string            `json:"sessionId"`
	State     PipelineState     `json:"state"`
	Current   Stage             `json:"current"`
	Stages    []StageSnapshot   `json:"stages"`
	Overall   float64           `json:"overall"`
	Output    ArtifactRef       `json:"output,omitempty"`
	Settings  StagedMixSettings `json:"settings"`
	Message   string            `json:"message,omitempty"`
}

// Stage returns the snapshot of s.
func (p PipelineSnapshot) Stage(s Stage) StageSnapshot {
	for _, st := range p.Stages {
		if st.Stage == s {
			return st
		}
	}
	return StageSnapshot{Stage: s}
}

// RenderOp names the render operation requested from the collaborator.
type RenderOp string

const (
	RenderTempo  RenderOp = "tempo"
	RenderKey    RenderOp = "key"
	RenderGain   RenderOp = "gain"
	RenderEffect RenderOp = "effect"
	RenderMix    RenderOp = "mix"
)

// RenderParams describes one render request. Only the fields relevant to Op are set.
type RenderParams struct {
	Op               RenderOp               `json:"op"`
	TargetBPM        float64                `json:"targetBpm,omitempty"`
	Ratio            float64                `json:"ratio,omitempty"`
	TargetKey        string                 `json:"targetKey,omitempty"`
	Semitones        int                    `json:"semitones,omitempty"`
	Gain             float64                `json:"gain,omitempty"`
	Effect           string                 `json:"effect,omitempty"`
	Intensity        float64                `json:"intensity,omitempty"`
	Partner          string                 `json:"partner,omitempty"`
	Inputs           map[string]ArtifactRef `json:"inputs,omitempty"`
	CrossfadeSeconds int                    `json:"crossfadeSeconds,omitempty"`
	Tempo            float64                `json:"tempo,omitempty"`
	OutputGain       float64                `json:"outputGain,omitempty"`
	StereoWidth      float64                `json:"stereoWidth,omitempty"`
}
