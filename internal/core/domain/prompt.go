package domain

import (
	"encoding/json"
	"errors"
	"strings"
)

// InstructionType classifies an advisory mixing instruction.
type InstructionType string

const (
	InstructionBPM        InstructionType = "bpm"
	InstructionKey        InstructionType = "key"
	InstructionVocals     InstructionType = "vocals"
	InstructionBeats      InstructionType = "beats"
	InstructionTransition InstructionType = "transition"
	InstructionEffects    InstructionType = "effects"
	InstructionTempo      InstructionType = "tempo"
	InstructionGeneral    InstructionType = "general"
)

func parseInstructionType(s string) InstructionType {
	switch t := InstructionType(strings.ToLower(strings.TrimSpace(s))); t {
	case InstructionBPM, InstructionKey, InstructionVocals, InstructionBeats,
		InstructionTransition, InstructionEffects, InstructionTempo:
		return t
	default:
		return InstructionGeneral
	}
}

// MixingInstruction annotates a prompt analysis. It never drives behaviour directly.
type MixingInstruction struct {
	Type        InstructionType `json:"type"`
	Description string          `json:"description"`
	Value       any             `json:"value,omitempty"`
	Confidence  float64         `json:"confidence"`
}

// FallbackSource identifies results synthesised after every provider failed.
const FallbackSource = "default"

// PromptAnalysisResult is what the resolution chain hands to a mix session.
type PromptAnalysisResult struct {
	Instructions        []MixingInstruction `json:"instructions"`
	Summary             string              `json:"summary"`
	RecommendedSettings MixSettings         `json:"recommendedSettings"`
	Source              string              `json:"source"`
}

// IsFallback reports whether the result carries default settings only.
func (r PromptAnalysisResult) IsFallback() bool {
	return r.Source == FallbackSource
}

// PromptRequest is the input every provider receives.
type PromptRequest struct {
	Prompt    string        `json:"prompt"`
	Features1 AudioFeatures `json:"features1"`
	Features2 AudioFeatures `json:"features2"`
}

// FallbackAnalysis is the always-available result used when no provider succeeded.
func FallbackAnalysis(reason string) PromptAnalysisResult {
	summary := "AI analysis unavailable; using default settings."
	if reason != "" {
		summary = "AI analysis unavailable (" + reason + "); using default settings."
	}
	return PromptAnalysisResult{
		Instructions: []MixingInstruction{{
			Type:        InstructionGeneral,
			Description: "default settings used",
			Confidence:  1.0,
		}},
		Summary:             summary,
		RecommendedSettings: DefaultMixSettings(),
		Source:              FallbackSource,
	}
}

type wireInstruction struct {
	Type        string   `json:"type"`
	Description string   `json:"description"`
	Value       any      `json:"value"`
	Confidence  *float64 `json:"confidence"`
}

// ParsePromptAnalysis interprets a provider payload. The payload may be a bare
// JSON object or prose with an embedded object. Missing instructions or
// settings make the whole payload unusable.
func ParsePromptAnalysis(source string, raw []byte) (PromptAnalysisResult, error) {
	obj, ok := ExtractJSONObject(string(raw))
	if !ok {
		return PromptAnalysisResult{}, &ParseError{Provider: source, Reason: "no JSON object in response"}
	}

	var top map[string]json.RawMessage
	if err := json.Unmarshal([]byte(obj), &top); err != nil {
		return PromptAnalysisResult{}, &ParseError{Provider: source, Reason: "decode response", Err: err}
	}
	fields := make(map[string]json.RawMessage, len(top))
	for k, v := range top {
		fields[foldKey(k)] = v
	}

	var instructions []wireInstruction
	if rawInstr, ok := fields["instructions"]; ok {
		if err := json.Unmarshal(rawInstr, &instructions); err != nil {
			return PromptAnalysisResult{}, &ParseError{Provider: source, Reason: "decode instructions", Err: err}
		}
	}
	if len(instructions) == 0 {
		return PromptAnalysisResult{}, &ParseError{Provider: source, Reason: "missing instructions"}
	}

	var settings map[string]json.RawMessage
	if rawSettings, ok := fields["recommendedsettings"]; ok {
		if err := json.Unmarshal(rawSettings, &settings); err != nil {
			return PromptAnalysisResult{}, &ParseError{Provider: source, Reason: "decode recommendedSettings", Err: err}
		}
	}
	if settings == nil {
		return PromptAnalysisResult{}, &ParseError{Provider: source, Reason: "missing recommendedSettings"}
	}

	result := PromptAnalysisResult{
		Instructions:        make([]MixingInstruction, 0, len(instructions)),
		RecommendedSettings: MergeSettings(settings),
		Source:              source,
	}
	for _, in := range instructions {
		conf := 0.5
		if in.Confidence != nil {
			conf = clampUnit(*in.Confidence)
		}
		result.Instructions = append(result.Instructions, MixingInstruction{
			Type:        parseInstructionType(in.Type),
			Description: strings.TrimSpace(in.Description),
			Value:       in.Value,
			Confidence:  conf,
		})
	}

	if rawSummary, ok := fields["summary"]; ok {
		_ = json.Unmarshal(rawSummary, &result.Summary)
	}
	result.Summary = strings.TrimSpace(result.Summary)
	if result.Summary == "" {
		result.Summary = summarize(result.Instructions)
	}

	return result, nil
}

func summarize(instructions []MixingInstruction) string {
	parts := make([]string, 0, len(instructions))
	for _, in := range instructions {
		if in.Description != "" {
			parts = append(parts, in.Description)
		}
	}
	if len(parts) == 0 {
		return "Mix settings derived from prompt."
	}
	return strings.Join(parts, "; ")
}

func clampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

var errUnbalanced = errors.New("unbalanced braces")

// ExtractJSONObject returns the first balanced JSON object found in text that
// decodes cleanly, skipping braces that appear in surrounding prose.
func ExtractJSONObject(text string) (string, bool) {
	for start := strings.IndexByte(text, '{'); start >= 0; {
		end, err := matchBrace(text, start)
		if err == nil {
			candidate := text[start : end+1]
			if json.Valid([]byte(candidate)) {
				return candidate, true
			}
		}
		next := strings.IndexByte(text[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return "", false
}

func matchBrace(text string, start int) (int, error) {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i, nil
			}
		}
	}
	return 0, errUnbalanced
}
