package annotate

import (
	"encoding/json"
	"strings"

	"vcopcoach/internal/domain"
	"vcopcoach/internal/logger"
)

type DropReason string

const (
	DropEmptyPhrase    DropReason = "empty_phrase"
	DropPhraseNotFound DropReason = "phrase_not_found"
	DropNoopCorrection DropReason = "noop_correction"
	DropMalformed      DropReason = "malformed"
)

// Located is a validated annotation with its span in the subject text. Spanless
// annotations (plan checks not yet achieved) have Start == End == -1.
type Located struct {
	domain.Annotation
	Start           int
	End             int
	CaseInsensitive bool
}

func (l Located) HasSpan() bool {
	return l.Start >= 0
}

func (l Located) overlaps(start, end int) bool {
	return l.HasSpan() && l.Start < end && start < l.End
}

type Drop struct {
	Annotation domain.Annotation
	Reason     DropReason
}

type Result struct {
	Kept    []Located
	Dropped []Drop
}

// Strip drops location data.
func Strip(located []Located) []domain.Annotation {
	out := make([]domain.Annotation, 0, len(located))
	for _, l := range located {
		out = append(out, l.Annotation)
	}
	return out
}

// Validator filters model-proposed annotations against the student's literal
// text. It never fails: bad candidates are dropped and logged.
type Validator struct {
	log *logger.Logger
}

func NewValidator(log *logger.Logger) *Validator {
	return &Validator{log: logger.OrNop(log)}
}

// Decode unmarshals each raw candidate on its own, so one badly typed field
// costs only that candidate. Dimensions given as names or lower case are
// normalised to their letter.
func (v *Validator) Decode(raw []json.RawMessage) ([]domain.Annotation, []Drop) {
	out := make([]domain.Annotation, 0, len(raw))
	var dropped []Drop
	for _, r := range raw {
		var a domain.Annotation
		if err := json.Unmarshal(r, &a); err != nil {
			v.log.Debug("annotation dropped", "reason", string(DropMalformed), "error", err)
			dropped = append(dropped, Drop{Reason: DropMalformed})
			continue
		}
		if d, ok := domain.ParseDimension(string(a.Dimension)); ok {
			a.Dimension = d
		}
		out = append(out, a)
	}
	return out, dropped
}

// Validate applies, in order: non-empty phrase (plan checks not yet achieved
// are exempt), phrase locatable in text, and for spelling/grammar a suggestion
// that actually changes the phrase.
func (v *Validator) Validate(text string, candidates []domain.Annotation) Result {
	var res Result
	for _, c := range candidates {
		located, reason, ok := validateOne(text, c)
		if !ok {
			v.log.Debug("annotation dropped", "reason", string(reason), "type", string(c.Type), "phrase", c.Phrase)
			res.Dropped = append(res.Dropped, Drop{Annotation: c, Reason: reason})
			continue
		}
		res.Kept = append(res.Kept, located)
	}
	return res
}

func validateOne(text string, c domain.Annotation) (Located, DropReason, bool) {
	if strings.TrimSpace(c.Phrase) == "" {
		if c.PhraseOptional() {
			return Located{Annotation: c, Start: -1, End: -1}, "", true
		}
		return Located{}, DropEmptyPhrase, false
	}
	m := Locate(text, c.Phrase)
	if !m.Found {
		return Located{}, DropPhraseNotFound, false
	}
	if (c.Type == domain.TypeSpelling || c.Type == domain.TypeGrammar) && c.Suggestion != "" {
		if CleanSuggestion(c.Suggestion) == strings.TrimSpace(c.Phrase) {
			return Located{}, DropNoopCorrection, false
		}
	}
	return Located{Annotation: c, Start: m.Index, End: m.End(), CaseInsensitive: m.CaseInsensitive}, "", true
}

// CleanSuggestion reduces "original → corrected" notation to the corrected side.
func CleanSuggestion(suggestion string) string {
	s := strings.TrimSpace(suggestion)
	for _, arrow := range []string{"→", "->"} {
		if i := strings.LastIndex(s, arrow); i >= 0 {
			s = strings.TrimSpace(s[i+len(arrow):])
		}
	}
	return s
}
