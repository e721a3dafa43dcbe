package domain

import "testing"

func TestPrecomputedOperations_WithHelpersDoNotAlias(t *testing.T) {
	base := NewPrecomputedOperations("track-1")

	withBPM := base.WithBPMVariant(128, "art://tempo-128")
	if _, ok := base.BPMVariant(128); ok {
		t.Fatalf("WithBPMVariant mutated the receiver")
	}
	if ref, ok := withBPM.BPMVariant(128.0001); !ok || ref != "art://tempo-128" {
		t.Fatalf("BPMVariant lookup: got (%q, %v)", ref, ok)
	}

	withEcho := withBPM.WithEffectVariant("echo", 0.62, "art://echo")
	if _, ok := withBPM.EffectVariant("echo", 0.6); ok {
		t.Fatalf("WithEffectVariant mutated the receiver")
	}
	if ref, ok := withEcho.EffectVariant("echo", 0.58); !ok || ref != "art://echo" {
		t.Fatalf("effect bucket lookup: got (%q, %v)", ref, ok)
	}
	if _, ok := withEcho.BPMVariant(128); !ok {
		t.Fatalf("extension dropped earlier variants")
	}

	withKey := withEcho.WithKeyVariant("db major", "art://key")
	if ref, ok := withKey.KeyVariant("C# Major"); !ok || ref != "art://key" {
		t.Fatalf("key variant lookup should normalise names: got (%q, %v)", ref, ok)
	}

	stems := SeparatedStems{Vocals: "v", Drums: "d", Bass: "b", Instrumental: "i"}
	withStems := withKey.WithStems(stems)
	if withStems.StemCache != stems || !withKey.StemCache.IsZero() {
		t.Fatalf("WithStems should only change the copy")
	}
}

func TestPrecomputedOperations_CloneNilMaps(t *testing.T) {
	var p PrecomputedOperations
	c := p.Clone()
	c.BPMVariants["1.00"] = "x"
	c.KeyVariants["C Major"] = "y"
	if len(p.BPMVariants) != 0 || len(p.KeyVariants) != 0 {
		t.Fatalf("clone of zero value must allocate its own maps")
	}
}

func TestParseStage(t *testing.T) {
	for _, s := range Stages {
		got, ok := ParseStage(s.String())
		if !ok || got != s {
			t.Fatalf("ParseStage(%q) = (%v, %v)", s.String(), got, ok)
		}
	}
	if got, ok := ParseStage("Tempo-Match"); !ok || got != StageTempoMatch {
		t.Fatalf("ParseStage should ignore case and dashes")
	}
	if _, ok := ParseStage("mastering"); ok {
		t.Fatalf("unknown stage should not parse")
	}
}
