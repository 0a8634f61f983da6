package annotate

import "sort"

// ResolveOverlaps keeps a set of annotations with pairwise disjoint spans.
// Spans are ordered by start (ties keep input order) and kept greedily when
// they start at or after the end of the last kept span. Spanless annotations
// pass through after the spanned ones.
func ResolveOverlaps(located []Located) []Located {
	spanned := make([]Located, 0, len(located))
	var spanless []Located
	for _, l := range located {
		if l.HasSpan() {
			spanned = append(spanned, l)
		} else {
			spanless = append(spanless, l)
		}
	}
	sort.SliceStable(spanned, func(i, j int) bool {
		return spanned[i].Start < spanned[j].Start
	})

	out := make([]Located, 0, len(located))
	lastEnd := 0
	for _, l := range spanned {
		if l.Start >= lastEnd {
			out = append(out, l)
			lastEnd = l.End
		}
	}
	return append(out, spanless...)
}
