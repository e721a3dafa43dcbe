package domain

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

const (
	MinCrossfadeSeconds = 1
	MaxCrossfadeSeconds = 20
)

// MixSettings is the coarse mix description shared by the UI and the AI providers.
type MixSettings struct {
	BPMMatch        bool    `json:"bpmMatch"`
	KeyMatch        bool    `json:"keyMatch"`
	VocalLevel1     float64 `json:"vocalLevel1"`
	VocalLevel2     float64 `json:"vocalLevel2"`
	BeatLevel1      float64 `json:"beatLevel1"`
	BeatLevel2      float64 `json:"beatLevel2"`
	CrossfadeLength int     `json:"crossfadeLength"`
	Echo            float64 `json:"echo"`
	Tempo           float64 `json:"tempo"`
}

// DefaultMixSettings returns the settings used whenever a field is missing or invalid.
func DefaultMixSettings() MixSettings {
	return MixSettings{
		BPMMatch:        true,
		KeyMatch:        true,
		VocalLevel1:     0.8,
		VocalLevel2:     0.8,
		BeatLevel1:      0.8,
		BeatLevel2:      0.8,
		CrossfadeLength: 8,
		Echo:            0.3,
		Tempo:           0,
	}
}

// Normalize replaces every out-of-range field with its default.
func (s MixSettings) Normalize() MixSettings {
	d := DefaultMixSettings()
	s.VocalLevel1 = unitOr(s.VocalLevel1, d.VocalLevel1)
	s.VocalLevel2 = unitOr(s.VocalLevel2, d.VocalLevel2)
	s.BeatLevel1 = unitOr(s.BeatLevel1, d.BeatLevel1)
	s.BeatLevel2 = unitOr(s.BeatLevel2, d.BeatLevel2)
	s.Echo = unitOr(s.Echo, d.Echo)
	if s.CrossfadeLength < MinCrossfadeSeconds || s.CrossfadeLength > MaxCrossfadeSeconds {
		s.CrossfadeLength = d.CrossfadeLength
	}
	s.Tempo = tempoOr(s.Tempo, d.Tempo)
	return s
}

func unitOr(v, def float64) float64 {
	if math.IsNaN(v) || v < 0 || v > 1 {
		return def
	}
	return v
}

func tempoOr(v, def float64) float64 {
	if math.IsNaN(v) || v < -0.5 || v > 0.5 {
		return def
	}
	return v
}

// MergeSettings overlays a provider's loosely typed settings object onto the
// defaults field by field. Keys are matched case-insensitively and ignoring
// underscores, so "bpm_match" and "BPMMatch" both address bpmMatch. Any field
// that is absent, mistyped or out of range keeps its default.
func MergeSettings(raw map[string]json.RawMessage) MixSettings {
	s := DefaultMixSettings()
	fields := make(map[string]json.RawMessage, len(raw))
	for k, v := range raw {
		fields[foldKey(k)] = v
	}

	if v, ok := decodeBool(fields["bpmmatch"]); ok {
		s.BPMMatch = v
	}
	if v, ok := decodeBool(fields["keymatch"]); ok {
		s.KeyMatch = v
	}
	if v, ok := decodeRange(fields["vocallevel1"], 0, 1); ok {
		s.VocalLevel1 = v
	}
	if v, ok := decodeRange(fields["vocallevel2"], 0, 1); ok {
		s.VocalLevel2 = v
	}
	if v, ok := decodeRange(fields["beatlevel1"], 0, 1); ok {
		s.BeatLevel1 = v
	}
	if v, ok := decodeRange(fields["beatlevel2"], 0, 1); ok {
		s.BeatLevel2 = v
	}
	if v, ok := decodeRange(fields["crossfadelength"], MinCrossfadeSeconds, MaxCrossfadeSeconds); ok {
		s.CrossfadeLength = int(math.Round(v))
	}
	if v, ok := decodeRange(fields["echo"], 0, 1); ok {
		s.Echo = v
	}
	if v, ok := decodeRange(fields["tempo"], -0.5, 0.5); ok {
		s.Tempo = v
	}
	return s
}

func foldKey(k string) string {
	return strings.ToLower(strings.ReplaceAll(k, "_", ""))
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || strings.TrimSpace(string(raw)) == "null"
}

func decodeBool(raw json.RawMessage) (bool, bool) {
	if isNull(raw) {
		return false, false
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return b, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if parsed, err := strconv.ParseBool(strings.TrimSpace(s)); err == nil {
			return parsed, true
		}
	}
	return false, false
}

func decodeRange(raw json.RawMessage, min, max float64) (float64, bool) {
	if isNull(raw) {
		return 0, false
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, false
		}
		parsed, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	}
	if math.IsNaN(f) || f < min || f > max {
		return 0, false
	}
	return f, true
}

// EQ gains in dB per band.
type EQ struct {
	Low  float64 `json:"low"`
	Mid  float64 `json:"mid"`
	High float64 `json:"high"`
}

// StageLevels holds the per-track gain applied during a balance stage.
type StageLevels struct {
	Level1 float64 `json:"level1"`
	Level2 float64 `json:"level2"`
}

// EchoSettings configures the delay effect.
type EchoSettings struct {
	Amount   float64 `json:"amount"`
	DelayMs  int     `json:"delayMs"`
	Feedback float64 `json:"feedback"`
}

// StagedMixSettings is the fine-grained settings object consumed by the pipeline.
type StagedMixSettings struct {
	StemQuality     StemQuality  `json:"stemQuality"`
	BPMMatch        bool         `json:"bpmMatch"`
	KeyMatch        bool         `json:"keyMatch"`
	Tempo           float64      `json:"tempo"`
	CrossfadeLength int          `json:"crossfadeLength"`
	Vocals          StageLevels  `json:"vocals"`
	Beats           StageLevels  `json:"beats"`
	EQ              EQ           `json:"eq"`
	Echo            EchoSettings `json:"echo"`
	Reverb          float64      `json:"reverb"`
	Compression     float64      `json:"compression"`
	OutputGain      float64      `json:"outputGain"`
	StereoWidth     float64      `json:"stereoWidth"`
}

// Staged expands coarse settings, filling the extra detail with neutral values.
func (s MixSettings) Staged() StagedMixSettings {
	s = s.Normalize()
	return StagedMixSettings{
		StemQuality:     StemQualityNormal,
		BPMMatch:        s.BPMMatch,
		KeyMatch:        s.KeyMatch,
		Tempo:           s.Tempo,
		CrossfadeLength: s.CrossfadeLength,
		Vocals:          StageLevels{Level1: s.VocalLevel1, Level2: s.VocalLevel2},
		Beats:           StageLevels{Level1: s.BeatLevel1, Level2: s.BeatLevel2},
		Echo:            EchoSettings{Amount: s.Echo, DelayMs: 250, Feedback: 0.35},
		OutputGain:      1,
		StereoWidth:     1,
	}
}

// MixSettings projects staged settings down; EQ, reverb, compression, gain
// and stereo width are dropped.
func (s StagedMixSettings) MixSettings() MixSettings {
	return MixSettings{
		BPMMatch:        s.BPMMatch,
		KeyMatch:        s.KeyMatch,
		VocalLevel1:     s.Vocals.Level1,
		VocalLevel2:     s.Vocals.Level2,
		BeatLevel1:      s.Beats.Level1,
		BeatLevel2:      s.Beats.Level2,
		CrossfadeLength: s.CrossfadeLength,
		Echo:            s.Echo.Amount,
		Tempo:           s.Tempo,
	}.Normalize()
}

const (
	negligibleEcho       = 0.3
	negligibleAmount     = 0.05
	negligibleEQDecibels = 0.5
)

// ActiveEffects lists the effects whose intensity is above the negligible floor,
// keyed by effect name. Echo at or below the default of 0.3 is the neutral
// baseline and does not count.
func (s StagedMixSettings) ActiveEffects() map[string]float64 {
	out := map[string]float64{}
	if s.Echo.Amount > negligibleEcho {
		out["echo"] = s.Echo.Amount
	}
	if s.Reverb > negligibleAmount {
		out["reverb"] = s.Reverb
	}
	if s.Compression > negligibleAmount {
		out["compression"] = s.Compression
	}
	if math.Abs(s.EQ.Low) > negligibleEQDecibels {
		out["eq_low"] = s.EQ.Low
	}
	if math.Abs(s.EQ.Mid) > negligibleEQDecibels {
		out["eq_mid"] = s.EQ.Mid
	}
	if math.Abs(s.EQ.High) > negligibleEQDecibels {
		out["eq_high"] = s.EQ.High
	}
	return out
}

// WithDefaults replaces every out-of-range field with its default and fills
// zero-valued knobs that have no meaningful zero.
func (s StagedMixSettings) WithDefaults() StagedMixSettings {
	d := DefaultMixSettings().Staged()
	s.StemQuality = ParseStemQuality(string(s.StemQuality))
	if s.CrossfadeLength < MinCrossfadeSeconds || s.CrossfadeLength > MaxCrossfadeSeconds {
		s.CrossfadeLength = d.CrossfadeLength
	}
	s.Tempo = tempoOr(s.Tempo, d.Tempo)
	s.Vocals.Level1 = unitOr(s.Vocals.Level1, d.Vocals.Level1)
	s.Vocals.Level2 = unitOr(s.Vocals.Level2, d.Vocals.Level2)
	s.Beats.Level1 = unitOr(s.Beats.Level1, d.Beats.Level1)
	s.Beats.Level2 = unitOr(s.Beats.Level2, d.Beats.Level2)
	s.Echo.Amount = unitOr(s.Echo.Amount, d.Echo.Amount)
	if s.Echo.Feedback < 0 || s.Echo.Feedback >= 1 || math.IsNaN(s.Echo.Feedback) {
		s.Echo.Feedback = d.Echo.Feedback
	}
	if s.Echo.DelayMs <= 0 {
		s.Echo.DelayMs = d.Echo.DelayMs
	}
	s.Reverb = unitOr(s.Reverb, 0)
	s.Compression = unitOr(s.Compression, 0)
	s.EQ.Low = finiteOr(s.EQ.Low, 0)
	s.EQ.Mid = finiteOr(s.EQ.Mid, 0)
	s.EQ.High = finiteOr(s.EQ.High, 0)
	if s.OutputGain <= 0 || math.IsNaN(s.OutputGain) || math.IsInf(s.OutputGain, 0) {
		s.OutputGain = 1
	}
	if s.StereoWidth <= 0 || math.IsNaN(s.StereoWidth) || math.IsInf(s.StereoWidth, 0) {
		s.StereoWidth = 1
	}
	return s
}

func finiteOr(v, def float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return def
	}
	return v
}
