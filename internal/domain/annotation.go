package domain

import "strings"

// Dimension is one VCOP axis.
type Dimension string

const (
	DimensionVocabulary  Dimension = "V"
	DimensionConnectives Dimension = "C"
	DimensionOpeners     Dimension = "O"
	DimensionPunctuation Dimension = "P"
)

var AllDimensions = []Dimension{DimensionVocabulary, DimensionConnectives, DimensionOpeners, DimensionPunctuation}

func (d Dimension) Valid() bool {
	switch d {
	case DimensionVocabulary, DimensionConnectives, DimensionOpeners, DimensionPunctuation:
		return true
	}
	return false
}

func (d Dimension) Label() string {
	switch d {
	case DimensionVocabulary:
		return "Vocabulary"
	case DimensionConnectives:
		return "Connectives"
	case DimensionOpeners:
		return "Openers"
	case DimensionPunctuation:
		return "Punctuation"
	}
	return string(d)
}

// ParseDimension accepts a VCOP letter or name in any case ("v",
// "Vocabulary", "sentence openers").
func ParseDimension(raw string) (Dimension, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "v", "vocab", "vocabulary":
		return DimensionVocabulary, true
	case "c", "connective", "connectives":
		return DimensionConnectives, true
	case "o", "opener", "openers", "sentence opener", "sentence openers":
		return DimensionOpeners, true
	case "p", "punctuation":
		return DimensionPunctuation, true
	}
	return "", false
}

// ParseDimensions keeps the VCOP dimensions of raw in order, without
// duplicates. Other focus toggles (e.g. "spelling") are ignored.
func ParseDimensions(raw []string) []Dimension {
	seen := make(map[Dimension]bool, 4)
	var out []Dimension
	for _, r := range raw {
		d, ok := ParseDimension(r)
		if ok && !seen[d] {
			seen[d] = true
			out = append(out, d)
		}
	}
	return out
}

type AnnotationType string

const (
	TypeSpelling          AnnotationType = "spelling"
	TypeGrammar           AnnotationType = "grammar"
	TypeAmericanSpelling  AnnotationType = "american_spelling"
	TypeSuggestion        AnnotationType = "suggestion"
	TypePraise            AnnotationType = "praise"
	TypePlanCheck         AnnotationType = "plan_check"
	TypeRevisionGood      AnnotationType = "revision_good"
	TypeRevisionAttempted AnnotationType = "revision_attempted"
	TypeRevisionRetry     AnnotationType = "revision_retry"
)

// IsError reports whether t belongs to the error-detection pass.
func (t AnnotationType) IsError() bool {
	return t == TypeSpelling || t == TypeGrammar || t == TypeAmericanSpelling
}

// IsIssue reports whether an annotation of type t raises something the
// student is expected to fix, and so is tracked across revisions.
func (t AnnotationType) IsIssue() bool {
	return t.IsError() || t == TypeSuggestion
}

const (
	StatusResolved  = "resolved"
	StatusAttempted = "attempted"
	StatusUntouched = "untouched"
	StatusNotYet    = "not_yet"
	StatusAchieved  = "achieved"
)

// Annotation is one piece of feedback anchored to a phrase of the student's text.
type Annotation struct {
	Phrase     string         `json:"phrase"`
	Type       AnnotationType `json:"type"`
	Suggestion string         `json:"suggestion,omitempty"`
	Dimension  Dimension      `json:"dimension,omitempty"`

	// Set only on revision-evaluation annotations.
	OriginalType   AnnotationType `json:"originalType,omitempty"`
	OriginalPhrase string         `json:"originalPhrase,omitempty"`
	Status         string         `json:"status,omitempty"`
}

// PhraseOptional is true only for the "plan not yet achieved" variant, which
// has nothing in the text to point at.
func (a Annotation) PhraseOptional() bool {
	return a.Type == TypePlanCheck && a.Status == StatusNotYet
}
