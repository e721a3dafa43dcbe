package localaudio

import (
	"context"
	"errors"
	"strings"

	"github.com/that-cod/mixify-soundcloud-sub001/internal/core/domain"
	"github.com/that-cod/mixify-soundcloud-sub001/internal/core/ports"
)

// Separator stands in for stem separation when the service cannot run it.
// Every stem references the unprocessed track under the sim:// scheme, so
// downstream renders still receive usable inputs.
type Separator struct{}

var _ ports.StemSeparator = Separator{}

// Separate returns simulated stems for trackRef.
func (Separator) Separate(_ context.Context, trackRef string, quality domain.StemQuality) (domain.SeparatedStems, error) {
	ref := domain.NormalizeTrackRef(trackRef)
	if ref == "" {
		return domain.SeparatedStems{}, errors.New("localaudio: empty track reference")
	}
	ref = strings.TrimPrefix(strings.TrimPrefix(ref, "https://"), "http://")
	stem := func(name string) domain.ArtifactRef {
		return domain.ArtifactRef("sim://" + ref + "/" + name + "?quality=" + string(domain.ParseStemQuality(string(quality))))
	}
	return domain.SeparatedStems{
		Vocals:       stem("vocals"),
		Instrumental: stem("instrumental"),
		Drums:        stem("drums"),
		Bass:         stem("bass"),
		Other:        stem("other"),
	}, nil
}
