package domain

import "strings"

// ArtifactRef is an opaque reference to a rendered or separated audio artifact
// owned by the external audio-processing service.
type ArtifactRef string

// Tonality is the harmonic character reported by the analyzer.
type Tonality string

const (
	TonalityMajor     Tonality = "major"
	TonalityMinor     Tonality = "minor"
	TonalityAmbiguous Tonality = "ambiguous"
)

// BeatGrid holds detected beat positions in seconds.
type BeatGrid struct {
	Positions  []float64 `json:"positions"`
	Strength   []float64 `json:"strength"`
	Confidence float64   `json:"confidence"`
}

// HarmonicProfile summarises the harmonic content of a track.
type HarmonicProfile struct {
	DominantFrequencies []float64 `json:"dominantFrequencies"`
	HarmonicStructure   string    `json:"harmonicStructure"`
	Tonality            Tonality  `json:"tonality"`
}

// AudioFeatures is the per-track analysis produced by the analysis collaborator.
// A value is never mutated once cached; re-analysis produces a new value.
type AudioFeatures struct {
	BPM             float64          `json:"bpm"`
	Key             string           `json:"key"`
	Energy          float64          `json:"energy"`
	Clarity         float64          `json:"clarity"`
	BeatGrid        *BeatGrid        `json:"beatGrid,omitempty"`
	HarmonicProfile *HarmonicProfile `json:"harmonicProfile,omitempty"`
	CacheTimestamp  int64            `json:"cacheTimestamp"`
}

// StemQuality selects the separation model trade-off.
type StemQuality string

const (
	StemQualityFast   StemQuality = "fast"
	StemQualityNormal StemQuality = "normal"
	StemQualityHigh   StemQuality = "high"
	StemQualityBest   StemQuality = "best"
)

// ParseStemQuality returns the quality for s, defaulting to normal.
func ParseStemQuality(s string) StemQuality {
	switch StemQuality(s) {
	case StemQualityFast, StemQualityNormal, StemQualityHigh, StemQualityBest:
		return StemQuality(s)
	default:
		return StemQualityNormal
	}
}

// SeparatedStems references the isolated components of one track.
type SeparatedStems struct {
	Vocals       ArtifactRef `json:"vocals"`
	Instrumental ArtifactRef `json:"instrumental"`
	Drums        ArtifactRef `json:"drums"`
	Bass         ArtifactRef `json:"bass"`
	Other        ArtifactRef `json:"other,omitempty"`
	Cached       bool        `json:"cached"`
}

// IsZero reports whether no stem reference is set.
func (s SeparatedStems) IsZero() bool {
	return s.Vocals == "" && s.Instrumental == "" && s.Drums == "" && s.Bass == "" && s.Other == ""
}

// Track pairs a track reference with its analysis, when known.
type Track struct {
	Ref      string
	Features *AudioFeatures
}

// NormalizeTrackRef strips query parameters and fragments so that signed or
// cache-busted URLs of the same track share one identity.
func NormalizeTrackRef(ref string) string {
	ref = strings.TrimSpace(ref)
	if i := strings.IndexAny(ref, "?#"); i >= 0 {
		ref = ref[:i]
	}
	return ref
}
