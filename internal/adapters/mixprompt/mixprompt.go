// Package mixprompt holds the prompt text shared by the direct AI providers.
package mixprompt

import (
	"fmt"
	"strings"

	"github.com/that-cod/mixify-soundcloud-sub001/internal/core/domain"
)

// SystemPrompt instructs a model to answer with the mixing JSON object.
const SystemPrompt = `You are the Mixify mixing assistant. You translate a DJ's free-text request for mixing two tracks into concrete mix settings.

Rules:
Output: Return ONLY a valid JSON object. No conversational text.
Shape: {"instructions": [{"type": "...", "description": "...", "value": ..., "confidence": 0.0-1.0}], "summary": "...", "recommendedSettings": {...}}
Instruction types: bpm, key, vocals, beats, transition, effects, tempo, general.
recommendedSettings fields: bpmMatch (bool), keyMatch (bool), vocalLevel1, vocalLevel2, beatLevel1, beatLevel2, echo (0.0 to 1.0), crossfadeLength (seconds, 1 to 20), tempo (-0.5 to 0.5).
Use the analysis of both tracks: prefer tempo matching when the BPMs differ and key matching when the keys clash.`

// UserMessage renders the request as the user turn of a chat.
func UserMessage(req domain.PromptRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Request: %s\n", strings.TrimSpace(req.Prompt))
	writeTrack(&b, 1, req.Features1)
	writeTrack(&b, 2, req.Features2)
	return b.String()
}

func writeTrack(b *strings.Builder, n int, f domain.AudioFeatures) {
	fmt.Fprintf(b, "Track %d: bpm=%.1f key=%q energy=%.2f clarity=%.2f", n, f.BPM, f.Key, f.Energy, f.Clarity)
	if f.HarmonicProfile != nil && f.HarmonicProfile.Tonality != "" {
		fmt.Fprintf(b, " tonality=%s", f.HarmonicProfile.Tonality)
	}
	b.WriteString("\n")
}
