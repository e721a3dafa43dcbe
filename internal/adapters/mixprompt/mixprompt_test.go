package mixprompt

import (
	"strings"
	"testing"

	"github.com/that-cod/mixify-soundcloud-sub001/internal/core/domain"
)

func TestUserMessage(t *testing.T) {
	msg := UserMessage(domain.PromptRequest{
		Prompt:    "  long smooth blend ",
		Features1: domain.AudioFeatures{BPM: 120, Key: "C Major", Energy: 0.7},
		Features2: domain.AudioFeatures{
			BPM: 128, Key: "A Minor",
			HarmonicProfile: &domain.HarmonicProfile{Tonality: domain.TonalityMinor},
		},
	})

	for _, want := range []string{
		"Request: long smooth blend\n",
		`Track 1: bpm=120.0 key="C Major" energy=0.70`,
		`Track 2: bpm=128.0 key="A Minor"`,
		"tonality=minor",
	} {
		if !strings.Contains(msg, want) {
			t.Errorf("message missing %q:\n%s", want, msg)
		}
	}
}
