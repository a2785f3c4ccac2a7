// Package explain renders persisted scorecards into human-readable
// explanations for match decisions.
//
// An Exporter never recomputes scores: it reads exactly the scorecards the
// decision path persisted, so an explanation always reflects what the matcher
// actually saw.
package explain

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/hupe1980/resolvgo/codec"
	"github.com/hupe1980/resolvgo/engine"
	"github.com/hupe1980/resolvgo/entity"
	"github.com/hupe1980/resolvgo/scoring"
)

// ScorecardSource provides read access to persisted scorecards.
// *engine.ScorecardStore satisfies it.
type ScorecardSource interface {
	Latest(pairID entity.PairID) (*scoring.Scorecard, bool)
	Versions(pairID entity.PairID) []*scoring.Scorecard
}

var _ ScorecardSource = (*engine.ScorecardStore)(nil)

// Options contains configuration for the Exporter.
type Options struct {
	// TopFeatures bounds how many features the rationale names.
	TopFeatures int

	// Codec encodes exported explanations.
	Codec codec.Codec
}

// DefaultOptions contains the default configuration for the Exporter.
var DefaultOptions = Options{
	TopFeatures: 3,
	Codec:       codec.Default,
}

// Explanation is the exportable view of one scorecard version.
type Explanation struct {
	PairID    entity.PairID           `json:"pair_id"`
	Seq       uint64                  `json:"seq"`
	Score     float64                 `json:"score"`
	Features  []scoring.FeatureResult `json:"features"`
	Rationale string                  `json:"rationale"`
}

// Exporter builds explanations from persisted scorecards.
type Exporter struct {
	src  ScorecardSource
	opts Options
}

// New creates an Exporter over a scorecard source.
func New(src ScorecardSource, optFns ...func(o *Options)) *Exporter {
	opts := DefaultOptions

	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.TopFeatures <= 0 {
		opts.TopFeatures = DefaultOptions.TopFeatures
	}
	if opts.Codec == nil {
		opts.Codec = codec.Default
	}

	return &Exporter{src: src, opts: opts}
}

// Explain returns the explanation for the latest scorecard of a pair.
func (x *Exporter) Explain(pairID entity.PairID) (*Explanation, error) {
	card, ok := x.src.Latest(pairID)
	if !ok {
		return nil, &engine.NotFoundError{Kind: "scorecard", ID: string(pairID)}
	}
	return x.explanation(card), nil
}

// History returns explanations for every scorecard version of a pair, oldest
// first.
func (x *Exporter) History(pairID entity.PairID) ([]*Explanation, error) {
	cards := x.src.Versions(pairID)
	if len(cards) == 0 {
		return nil, &engine.NotFoundError{Kind: "scorecard", ID: string(pairID)}
	}

	out := make([]*Explanation, len(cards))
	for i, card := range cards {
		out[i] = x.explanation(card)
	}
	return out, nil
}

// Export encodes the latest explanation for a pair onto w.
func (x *Exporter) Export(w io.Writer, pairID entity.PairID) error {
	exp, err := x.Explain(pairID)
	if err != nil {
		return err
	}

	data, err := x.opts.Codec.Marshal(exp)
	if err != nil {
		return fmt.Errorf("explain: encode %s: %w", pairID, err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("explain: write %s: %w", pairID, err)
	}
	return nil
}

func (x *Exporter) explanation(card *scoring.Scorecard) *Explanation {
	return &Explanation{
		PairID:    card.PairID,
		Seq:       card.Seq,
		Score:     card.Total,
		Features:  append([]scoring.FeatureResult(nil), card.Features...),
		Rationale: Rationale(card, x.opts.TopFeatures),
	}
}

// Rationale renders the top applicable features of a scorecard as a single
// deterministic line, heaviest weight first, ties broken by feature name.
func Rationale(card *scoring.Scorecard, topN int) string {
	applicable := make([]scoring.FeatureResult, 0, len(card.Features))
	for _, f := range card.Features {
		if f.Applicable {
			applicable = append(applicable, f)
		}
	}
	if len(applicable) == 0 {
		return "no applicable features"
	}

	sort.Slice(applicable, func(i, j int) bool {
		if applicable[i].Weight != applicable[j].Weight {
			return applicable[i].Weight > applicable[j].Weight
		}
		return applicable[i].Name < applicable[j].Name
	})
	if topN > 0 && len(applicable) > topN {
		applicable = applicable[:topN]
	}

	parts := make([]string, len(applicable))
	for i, f := range applicable {
		parts[i] = fmt.Sprintf("%s=%.2f (weight %g)", f.Name, f.RawScore, f.Weight)
	}
	return strings.Join(parts, "; ")
}
