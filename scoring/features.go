package scoring

import (
	"math"
	"strings"

	"github.com/agnivade/levenshtein"
	"github.com/hupe1980/resolvgo/entity"
)

// Built-in feature names.
const (
	FeatureEmailExact      = "email_exact"
	FeatureTaxIDExact      = "tax_id_exact"
	FeatureNameSimilarity  = "name_similarity"
	FeatureNamePhonetic    = "name_phonetic"
	FeatureAmountCloseness = "amount_closeness"
)

type builtin struct {
	weight float64
	fn     FeatureFunc
}

func builtins() map[string]builtin {
	return map[string]builtin{
		FeatureEmailExact:      {weight: 0.5, fn: ExactMatch("email")},
		FeatureTaxIDExact:      {weight: 0.5, fn: ExactMatch("tax_id")},
		FeatureNameSimilarity:  {weight: 0.3, fn: EditDistanceRatio("name")},
		FeatureNamePhonetic:    {weight: 0.15, fn: PhoneticEquality("name")},
		FeatureAmountCloseness: {weight: 0.1, fn: NumericCloseness("amount")},
	}
}

// ExactMatch scores 1 when both sides carry the same non-empty normalized
// value for field, 0 otherwise. Intended for identifier fields (email,
// tax id) where partial matches mean nothing.
func ExactMatch(field string) FeatureFunc {
	return func(a, b entity.Attributes) (float64, bool) {
		av, aok := a.String(field)
		bv, bok := b.String(field)
		av = normalizeString(av)
		bv = normalizeString(bv)
		if !aok || !bok || av == "" || bv == "" {
			return 0, false
		}
		if av == bv {
			return 1, true
		}
		return 0, true
	}
}

// EditDistanceRatio scores 1 - dist/maxLen over the normalized field values.
func EditDistanceRatio(field string) FeatureFunc {
	return func(a, b entity.Attributes) (float64, bool) {
		av, aok := a.String(field)
		bv, bok := b.String(field)
		av = normalizeString(av)
		bv = normalizeString(bv)
		if !aok || !bok || av == "" || bv == "" {
			return 0, false
		}
		maxLen := len([]rune(av))
		if l := len([]rune(bv)); l > maxLen {
			maxLen = l
		}
		if maxLen == 0 {
			return 0, false
		}
		dist := levenshtein.ComputeDistance(av, bv)
		ratio := 1 - float64(dist)/float64(maxLen)
		if ratio < 0 {
			ratio = 0
		}
		return ratio, true
	}
}

// PhoneticEquality scores 1 when the per-token Soundex codes of both field
// values are identical, catching misspellings that survive pronunciation.
func PhoneticEquality(field string) FeatureFunc {
	return func(a, b entity.Attributes) (float64, bool) {
		av, aok := a.String(field)
		bv, bok := b.String(field)
		if !aok || !bok {
			return 0, false
		}
		ac := phoneticKey(av)
		bc := phoneticKey(bv)
		if ac == "" || bc == "" {
			return 0, false
		}
		if ac == bc {
			return 1, true
		}
		return 0, true
	}
}

// NumericCloseness scores 1 - |a-b|/max(|a|,|b|) for the numeric field,
// so identical values score 1 and values an order of magnitude apart
// approach 0.
func NumericCloseness(field string) FeatureFunc {
	return func(a, b entity.Attributes) (float64, bool) {
		av, aok := a.Number(field)
		bv, bok := b.Number(field)
		if !aok || !bok {
			return 0, false
		}
		if av == bv {
			return 1, true
		}
		denom := math.Max(math.Abs(av), math.Abs(bv))
		if denom == 0 {
			return 1, true
		}
		score := 1 - math.Abs(av-bv)/denom
		if score < 0 {
			score = 0
		}
		return score, true
	}
}

func normalizeString(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// phoneticKey joins the Soundex codes of each token in order.
func phoneticKey(s string) string {
	tokens := strings.Fields(strings.ToLower(s))
	codes := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		if c := soundex(tok); c != "" {
			codes = append(codes, c)
		}
	}
	return strings.Join(codes, " ")
}

// soundex implements American Soundex over ASCII letters; non-letter runes
// are ignored.
func soundex(word string) string {
	code := func(r rune) byte {
		switch r {
		case 'b', 'f', 'p', 'v':
			return '1'
		case 'c', 'g', 'j', 'k', 'q', 's', 'x', 'z':
			return '2'
		case 'd', 't':
			return '3'
		case 'l':
			return '4'
		case 'm', 'n':
			return '5'
		case 'r':
			return '6'
		}
		return 0
	}

	var letters []rune
	for _, r := range word {
		if r >= 'a' && r <= 'z' {
			letters = append(letters, r)
		}
	}
	if len(letters) == 0 {
		return ""
	}

	out := []byte{byte(letters[0] - 'a' + 'A')}
	prev := code(letters[0])
	for _, r := range letters[1:] {
		c := code(r)
		// h and w do not separate repeated codes; vowels do.
		if r == 'h' || r == 'w' {
			continue
		}
		if c == 0 {
			prev = 0
			continue
		}
		if c != prev {
			out = append(out, c)
			if len(out) == 4 {
				break
			}
		}
		prev = c
	}
	for len(out) < 4 {
		out = append(out, '0')
	}
	return string(out)
}
