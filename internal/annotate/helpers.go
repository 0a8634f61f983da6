package annotate

import (
	"vcopcoach/internal/domain"
)

// ErrorPhrases returns the flagged phrases of error-pass annotations, in order,
// without duplicates.
func ErrorPhrases(located []Located) []string {
	seen := make(map[string]bool)
	var out []string
	for _, l := range located {
		if !l.Type.IsError() || seen[l.Phrase] {
			continue
		}
		seen[l.Phrase] = true
		out = append(out, l.Phrase)
	}
	return out
}

// CapPerType keeps at most max annotations of each type, in input order.
func CapPerType(located []Located, max int) []Located {
	counts := make(map[domain.AnnotationType]int)
	out := make([]Located, 0, len(located))
	for _, l := range located {
		if counts[l.Type] >= max {
			continue
		}
		counts[l.Type]++
		out = append(out, l)
	}
	return out
}

// DropPraiseOverlapping removes praise whose span intersects any error span,
// so a known mistake is never praised.
func DropPraiseOverlapping(feedback, errors []Located) []Located {
	out := make([]Located, 0, len(feedback))
	for _, f := range feedback {
		if f.Type == domain.TypePraise && f.HasSpan() && overlapsAny(f, errors) {
			continue
		}
		out = append(out, f)
	}
	return out
}

func overlapsAny(l Located, others []Located) bool {
	for _, o := range others {
		if o.overlaps(l.Start, l.End) {
			return true
		}
	}
	return false
}

// CoverageGap names an enabled dimension that is missing praise or a suggestion.
type CoverageGap struct {
	Dimension domain.Dimension
	Missing   domain.AnnotationType
}

func CoverageGaps(annotations []domain.Annotation, dims []domain.Dimension) []CoverageGap {
	type key struct {
		d domain.Dimension
		t domain.AnnotationType
	}
	have := make(map[key]bool)
	for _, a := range annotations {
		have[key{a.Dimension, a.Type}] = true
	}
	var gaps []CoverageGap
	for _, d := range dims {
		for _, t := range []domain.AnnotationType{domain.TypePraise, domain.TypeSuggestion} {
			if !have[key{d, t}] {
				gaps = append(gaps, CoverageGap{Dimension: d, Missing: t})
			}
		}
	}
	return gaps
}
