package domain

import (
	"math"
	"strings"
)

// BPMTolerance is the largest BPM difference treated as already matched.
const BPMTolerance = 0.5

// wheel maps each key to its slot on the 12-position compatibility wheel.
// Relative major/minor pairs share a slot.
var wheel = map[string]int{
	"B Major":  1,
	"F# Major": 2,
	"C# Major": 3,
	"G# Major": 4,
	"D# Major": 5,
	"A# Major": 6,
	"F Major":  7,
	"C Major":  8,
	"G Major":  9,
	"D Major":  10,
	"A Major":  11,
	"E Major":  12,

	"G# Minor": 1,
	"D# Minor": 2,
	"A# Minor": 3,
	"F Minor":  4,
	"C Minor":  5,
	"G Minor":  6,
	"D Minor":  7,
	"A Minor":  8,
	"E Minor":  9,
	"B Minor":  10,
	"F# Minor": 11,
	"C# Minor": 12,
}

var flats = map[string]string{
	"DB": "C#",
	"EB": "D#",
	"GB": "F#",
	"AB": "G#",
	"BB": "A#",
}

var pitchClasses = map[string]int{
	"C": 0, "C#": 1, "D": 2, "D#": 3, "E": 4, "F": 5,
	"F#": 6, "G": 7, "G#": 8, "A": 9, "A#": 10, "B": 11,
}

// TempoRatio returns the playback-rate factor that brings sourceBPM to targetBPM.
// A non-positive source yields 1.
func TempoRatio(sourceBPM, targetBPM float64) float64 {
	if sourceBPM <= 0 {
		return 1
	}
	return targetBPM / sourceBPM
}

// BPMsMatch reports whether two tempos are within BPMTolerance.
func BPMsMatch(a, b float64) bool {
	return math.Abs(a-b) <= BPMTolerance
}

// NormalizeKey canonicalises a key name ("db minor" -> "C# Minor").
// The second result is false when the name cannot be parsed.
func NormalizeKey(key string) (string, bool) {
	fields := strings.Fields(key)
	if len(fields) != 2 {
		return "", false
	}

	tonic := strings.ToUpper(fields[0][:1]) + strings.ToLower(fields[0][1:])
	if sharp, ok := flats[strings.ToUpper(tonic)]; ok {
		tonic = sharp
	}
	if _, ok := pitchClasses[tonic]; !ok {
		return "", false
	}

	var mode string
	switch strings.ToLower(fields[1]) {
	case "major", "maj":
		mode = "Major"
	case "minor", "min":
		mode = "Minor"
	default:
		return "", false
	}

	return tonic + " " + mode, true
}

// WheelPosition returns the 1-12 wheel slot for key.
func WheelPosition(key string) (int, bool) {
	normalized, ok := NormalizeKey(key)
	if !ok {
		return 0, false
	}
	pos, ok := wheel[normalized]
	return pos, ok
}

// IsHarmonicallyCompatible reports whether two keys mix harmonically: same slot,
// adjacent slots, or the 12/1 wrap. Unknown keys never block a mix.
func IsHarmonicallyCompatible(key1, key2 string) bool {
	p1, ok1 := WheelPosition(key1)
	p2, ok2 := WheelPosition(key2)
	if !ok1 || !ok2 {
		return true
	}

	diff := p1 - p2
	if diff < 0 {
		diff = -diff
	}
	return diff <= 1 || diff == 11
}

// SemitoneShift returns the smallest pitch shift, in semitones within [-6, 5],
// that moves key from onto key to. Minor keys are compared through their
// relative major. Unknown keys yield 0.
func SemitoneShift(from, to string) int {
	a, ok1 := majorPitchClass(from)
	b, ok2 := majorPitchClass(to)
	if !ok1 || !ok2 {
		return 0
	}

	shift := ((b-a)%12 + 12) % 12
	if shift > 5 {
		shift -= 12
	}
	return shift
}

func majorPitchClass(key string) (int, bool) {
	normalized, ok := NormalizeKey(key)
	if !ok {
		return 0, false
	}
	tonic, mode, _ := strings.Cut(normalized, " ")
	pc := pitchClasses[tonic]
	if mode == "Minor" {
		pc = (pc + 3) % 12
	}
	return pc, true
}

// Compatibility annotates whether a pair of tracks needs tempo or key adjustment.
type Compatibility struct {
	TempoRatio           float64 `json:"tempoRatio"`
	BPMMatched           bool    `json:"bpmMatched"`
	HarmonicallyMatched  bool    `json:"harmonicallyMatched"`
	SemitoneShift        int     `json:"semitoneShift"`
	NeedsTempoAdjustment bool    `json:"needsTempoAdjustment"`
	NeedsKeyAdjustment   bool    `json:"needsKeyAdjustment"`
}

// Assess evaluates two analysed tracks against the given settings.
func Assess(f1, f2 AudioFeatures, settings MixSettings) Compatibility {
	c := Compatibility{
		TempoRatio:          TempoRatio(f1.BPM, f2.BPM),
		BPMMatched:          BPMsMatch(f1.BPM, f2.BPM),
		HarmonicallyMatched: IsHarmonicallyCompatible(f1.Key, f2.Key),
		SemitoneShift:       SemitoneShift(f1.Key, f2.Key),
	}
	c.NeedsTempoAdjustment = settings.BPMMatch && !c.BPMMatched
	c.NeedsKeyAdjustment = settings.KeyMatch && !c.HarmonicallyMatched && c.SemitoneShift != 0
	return c
}
