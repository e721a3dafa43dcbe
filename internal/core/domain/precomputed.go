package domain

import (
	"fmt"
	"maps"
	"strings"
)

// PrecomputedOperations records every variant already rendered for one track.
// Entries only ever grow: the With* helpers return extended copies.
type PrecomputedOperations struct {
	TrackID        string                            `json:"trackId"`
	BPMVariants    map[string]ArtifactRef            `json:"bpmVariants"`
	KeyVariants    map[string]ArtifactRef            `json:"keyVariants"`
	StemCache      SeparatedStems                    `json:"stemCache"`
	EffectVariants map[string]map[string]ArtifactRef `json:"effectVariants"`
	CacheTimestamp int64                             `json:"cacheTimestamp"`
}

// NewPrecomputedOperations returns an empty entry for trackID.
func NewPrecomputedOperations(trackID string) PrecomputedOperations {
	return PrecomputedOperations{
		TrackID:        trackID,
		BPMVariants:    map[string]ArtifactRef{},
		KeyVariants:    map[string]ArtifactRef{},
		EffectVariants: map[string]map[string]ArtifactRef{},
	}
}

// Clone deep-copies the variant maps.
func (p PrecomputedOperations) Clone() PrecomputedOperations {
	out := p
	out.BPMVariants = maps.Clone(p.BPMVariants)
	out.KeyVariants = maps.Clone(p.KeyVariants)
	out.EffectVariants = make(map[string]map[string]ArtifactRef, len(p.EffectVariants))
	for name, buckets := range p.EffectVariants {
		out.EffectVariants[name] = maps.Clone(buckets)
	}
	if out.BPMVariants == nil {
		out.BPMVariants = map[string]ArtifactRef{}
	}
	if out.KeyVariants == nil {
		out.KeyVariants = map[string]ArtifactRef{}
	}
	return out
}

// BPMVariantKey formats a target tempo as a variant key.
func BPMVariantKey(bpm float64) string {
	return fmt.Sprintf("%.2f", bpm)
}

// KeyVariantKey formats a target key as a variant key.
func KeyVariantKey(key string) string {
	if normalized, ok := NormalizeKey(key); ok {
		return normalized
	}
	return strings.TrimSpace(key)
}

// IntensityBucket quantises an effect intensity to one decimal.
func IntensityBucket(v float64) string {
	return fmt.Sprintf("%.1f", v)
}

// BPMVariant looks up a tempo-shifted render.
func (p PrecomputedOperations) BPMVariant(bpm float64) (ArtifactRef, bool) {
	ref, ok := p.BPMVariants[BPMVariantKey(bpm)]
	return ref, ok
}

// KeyVariant looks up a key-shifted render.
func (p PrecomputedOperations) KeyVariant(key string) (ArtifactRef, bool) {
	ref, ok := p.KeyVariants[KeyVariantKey(key)]
	return ref, ok
}

// EffectVariant looks up an effect render.
func (p PrecomputedOperations) EffectVariant(effect string, intensity float64) (ArtifactRef, bool) {
	ref, ok := p.EffectVariants[effect][IntensityBucket(intensity)]
	return ref, ok
}

// WithBPMVariant returns a copy extended with a tempo-shifted render.
func (p PrecomputedOperations) WithBPMVariant(bpm float64, ref ArtifactRef) PrecomputedOperations {
	out := p.Clone()
	out.BPMVariants[BPMVariantKey(bpm)] = ref
	return out
}

// WithKeyVariant returns a copy extended with a key-shifted render.
func (p PrecomputedOperations) WithKeyVariant(key string, ref ArtifactRef) PrecomputedOperations {
	out := p.Clone()
	out.KeyVariants[KeyVariantKey(key)] = ref
	return out
}

// WithEffectVariant returns a copy extended with an effect render.
func (p PrecomputedOperations) WithEffectVariant(effect string, intensity float64, ref ArtifactRef) PrecomputedOperations {
	out := p.Clone()
	buckets := out.EffectVariants[effect]
	if buckets == nil {
		buckets = map[string]ArtifactRef{}
		out.EffectVariants[effect] = buckets
	}
	buckets[IntensityBucket(intensity)] = ref
	return out
}

// WithStems returns a copy carrying separated stems.
func (p PrecomputedOperations) WithStems(stems SeparatedStems) PrecomputedOperations {
	out := p.Clone()
	out.StemCache = stems
	return out
}
