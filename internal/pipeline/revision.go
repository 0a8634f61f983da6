package pipeline

import (
	"strings"

	"vcopcoach/internal/annotate"
	"vcopcoach/internal/domain"
)

// RevisionResult is the bounded outcome of a revision evaluation.
type RevisionResult struct {
	Annotations []domain.Annotation
	// Counters for diagnostics.
	Duplicates  int
	Unknown     int
	Reproduced  int
	Reanchored  int
}

// OriginalIssues returns the annotations of an iteration that a revision is
// evaluated against.
func OriginalIssues(annotations []domain.Annotation) []domain.Annotation {
	var out []domain.Annotation
	for _, a := range annotations {
		if a.Type.IsIssue() && strings.TrimSpace(a.Phrase) != "" {
			out = append(out, a)
		}
	}
	return out
}

// BoundRevision reduces the model's revision output to exactly one
// classification per original issue, in original order, followed by any
// praise. validated is the model output checked against newText.
//
// Proposals that match no original issue are dropped, as are second
// classifications of an issue. An issue left without a classification is
// reproduced as untouched when its phrase still occurs in newText. When the
// phrase is gone the student changed it, so the issue is re-anchored next to
// where it stood and marked attempted, or with the status of a classification
// the validator dropped.
func BoundRevision(original []domain.Annotation, validated annotate.Result, originalText, newText string) RevisionResult {
	var res RevisionResult
	slots := make([]*domain.Annotation, len(original))
	var praise []domain.Annotation

	for _, p := range validated.Kept {
		if p.Type == domain.TypePraise {
			praise = append(praise, p.Annotation)
			continue
		}
		status := revisionStatus(p.Annotation)
		if status == "" {
			res.Unknown++
			continue
		}
		idx, dup := matchIssue(original, slots, p.Annotation)
		if dup {
			res.Duplicates++
			continue
		}
		if idx < 0 {
			res.Unknown++
			continue
		}
		a := classify(original[idx], p, status, newText)
		slots[idx] = &a
	}

	for i, orig := range original {
		if slots[i] != nil {
			res.Annotations = append(res.Annotations, *slots[i])
			continue
		}
		if !annotate.Locate(newText, orig.Phrase).Found {
			res.Reanchored++
			res.Annotations = append(res.Annotations, reanchor(orig, validated.Dropped, originalText, newText))
			continue
		}
		res.Reproduced++
		res.Annotations = append(res.Annotations, untouched(orig))
	}
	res.Annotations = append(res.Annotations, praise...)
	return res
}

func revisionStatus(a domain.Annotation) string {
	switch a.Status {
	case domain.StatusResolved, domain.StatusAttempted, domain.StatusUntouched:
		return a.Status
	}
	switch a.Type {
	case domain.TypeRevisionGood:
		return domain.StatusResolved
	case domain.TypeRevisionAttempted, domain.TypeRevisionRetry:
		return domain.StatusAttempted
	}
	return ""
}

// matchIssue finds the first unclassified original issue p refers to. dup is
// true when p only matches issues that are already classified.
func matchIssue(original []domain.Annotation, slots []*domain.Annotation, p domain.Annotation) (int, bool) {
	refPhrase, refType := p.OriginalPhrase, p.OriginalType
	if strings.TrimSpace(refPhrase) == "" {
		// An untouched issue copied verbatim may omit the back-reference.
		refPhrase, refType = p.Phrase, p.Type
	}
	seen := false
	for i, orig := range original {
		if !strings.EqualFold(strings.TrimSpace(orig.Phrase), strings.TrimSpace(refPhrase)) {
			continue
		}
		if refType != "" && refType.IsIssue() && refType != orig.Type {
			continue
		}
		if slots[i] != nil {
			seen = true
			continue
		}
		return i, false
	}
	return -1, seen
}

func classify(orig domain.Annotation, p annotate.Located, status, newText string) domain.Annotation {
	if status == domain.StatusUntouched {
		a := untouched(orig)
		if !annotate.Locate(newText, orig.Phrase).Found {
			a.Phrase = p.Phrase
		}
		return a
	}
	a := domain.Annotation{
		Phrase:         p.Phrase,
		Type:           domain.TypeRevisionGood,
		Suggestion:     p.Suggestion,
		Dimension:      p.Dimension,
		OriginalType:   orig.Type,
		OriginalPhrase: orig.Phrase,
		Status:         status,
	}
	if status == domain.StatusAttempted {
		a.Type = domain.TypeRevisionAttempted
	}
	if a.Dimension == "" {
		a.Dimension = orig.Dimension
	}
	return a
}

func untouched(orig domain.Annotation) domain.Annotation {
	a := orig
	a.OriginalType = orig.Type
	a.OriginalPhrase = orig.Phrase
	a.Status = domain.StatusUntouched
	return a
}

// reanchor builds the classification of an issue whose phrase no longer
// occurs in newText.
func reanchor(orig domain.Annotation, dropped []annotate.Drop, originalText, newText string) domain.Annotation {
	status, suggestion := domain.StatusAttempted, ""
	for _, d := range dropped {
		st := revisionStatus(d.Annotation)
		if st == "" || !refersTo(d.Annotation, orig) {
			continue
		}
		if st == domain.StatusResolved {
			status = st
		}
		suggestion = d.Annotation.Suggestion
		break
	}
	a := domain.Annotation{
		Phrase:         anchorFor(originalText, newText, orig.Phrase),
		Type:           domain.TypeRevisionAttempted,
		Suggestion:     suggestion,
		Dimension:      orig.Dimension,
		OriginalType:   orig.Type,
		OriginalPhrase: orig.Phrase,
		Status:         status,
	}
	if status == domain.StatusResolved {
		a.Type = domain.TypeRevisionGood
	}
	if a.Suggestion == "" {
		a.Suggestion = orig.Suggestion
	}
	return a
}

func refersTo(p, orig domain.Annotation) bool {
	ref := p.OriginalPhrase
	if strings.TrimSpace(ref) == "" {
		ref = p.Phrase
	}
	return strings.EqualFold(strings.TrimSpace(ref), strings.TrimSpace(orig.Phrase))
}

// anchorFor returns a span of newText standing where phrase stood in
// originalText: the longest run of up to three neighbouring words that
// survived the revision, words after the phrase first. The first word of
// newText is the last resort.
func anchorFor(originalText, newText, phrase string) string {
	if m := annotate.Locate(originalText, phrase); m.Found {
		after := strings.Fields(originalText[m.End():])
		before := strings.Fields(originalText[:m.Index])
		for n := 3; n >= 1; n-- {
			if len(after) >= n {
				if span, ok := spanIn(newText, strings.Join(after[:n], " ")); ok {
					return span
				}
			}
			if len(before) >= n {
				if span, ok := spanIn(newText, strings.Join(before[len(before)-n:], " ")); ok {
					return span
				}
			}
		}
	}
	if fields := strings.Fields(newText); len(fields) > 0 {
		return fields[0]
	}
	return ""
}

func spanIn(text, phrase string) (string, bool) {
	m := annotate.Locate(text, phrase)
	if !m.Found {
		return "", false
	}
	return text[m.Index:m.End()], true
}
