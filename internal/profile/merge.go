package profile

import (
	"encoding/json"
	"strings"

	"vcopcoach/internal/domain"
)

var ispaced = []string{"I", "S", "P", "A", "C", "E", "D"}

// Proposal is the model's suggested profile update. Pointer fields tell
// "absent" apart from an explicit zero or empty list.
type Proposal struct {
	VCOP             *VCOPProposal `json:"vcop"`
	SpellingPatterns *[]string     `json:"spellingPatterns"`
	GrammarPatterns  *[]string     `json:"grammarPatterns"`
	GrowthNotes      *[]string     `json:"growthNotes"`

	// Teacher-owned and derived fields the model sometimes echoes back.
	// Decoded so they can be logged, never merged.
	TeacherNotes         json.RawMessage `json:"teacherNotes,omitempty"`
	PersonalInstructions *string         `json:"personalInstructions,omitempty"`
	TotalSubmissions     *int            `json:"totalSubmissions,omitempty"`
}

type VCOPProposal struct {
	Vocabulary  *VocabularyProposal  `json:"vocabulary"`
	Connectives *ConnectivesProposal `json:"connectives"`
	Openers     *OpenersProposal     `json:"openers"`
	Punctuation *PunctuationProposal `json:"punctuation"`
}

type VocabularyProposal struct {
	Level          *int      `json:"level"`
	Strengths      *[]string `json:"strengths"`
	Weaknesses     *[]string `json:"weaknesses"`
	RecentWowWords *[]string `json:"recentWowWords"`
}

type ConnectivesProposal struct {
	Level       *int    `json:"level"`
	HighestUsed *string `json:"highestUsed"`
	Pattern     *string `json:"pattern"`
}

type OpenersProposal struct {
	Level            *int      `json:"level"`
	ISPACEDUsed      *[]string `json:"ispacedUsed"`
	ISPACEDNeverUsed *[]string `json:"ispacedNeverUsed"`
	Pattern          *string   `json:"pattern"`
}

type PunctuationProposal struct {
	Level    *int      `json:"level"`
	Mastered *[]string `json:"mastered"`
	Emerging *[]string `json:"emerging"`
	NotYet   *[]string `json:"notYet"`
}

// TouchesTeacherFields reports whether the model tried to write a teacher-owned field.
func (p Proposal) TouchesTeacherFields() bool {
	return len(p.TeacherNotes) > 0 || p.PersonalInstructions != nil
}

// Merge folds a proposal into the current profile. It does not mutate its
// arguments and always counts exactly one more submission.
func Merge(current domain.StudentProfile, proposed Proposal) domain.StudentProfile {
	out := domain.StudentProfile{
		StudentID:            current.StudentID,
		LastUpdated:          current.LastUpdated,
		TotalSubmissions:     current.TotalSubmissions + 1,
		PersonalInstructions: current.PersonalInstructions,
		TeacherNotes:         append([]domain.TeacherNote{}, current.TeacherNotes...),
		SpellingPatterns:     listOr(proposed.SpellingPatterns, current.SpellingPatterns, domain.MaxPatterns),
		GrammarPatterns:      listOr(proposed.GrammarPatterns, current.GrammarPatterns, domain.MaxPatterns),
		GrowthNotes:          listOr(proposed.GrowthNotes, current.GrowthNotes, domain.MaxGrowthNotes),
	}

	cv := current.VCOP
	pv := proposed.VCOP
	if pv == nil {
		pv = &VCOPProposal{}
	}

	voc := pv.Vocabulary
	if voc == nil {
		voc = &VocabularyProposal{}
	}
	out.VCOP.Vocabulary = domain.VocabularySkill{
		Level:          stepLevel(cv.Vocabulary.Level, voc.Level),
		Strengths:      listOr(voc.Strengths, cv.Vocabulary.Strengths, domain.MaxStrengths),
		Weaknesses:     listOr(voc.Weaknesses, cv.Vocabulary.Weaknesses, domain.MaxStrengths),
		RecentWowWords: listOr(voc.RecentWowWords, cv.Vocabulary.RecentWowWords, domain.MaxWowWords),
	}

	con := pv.Connectives
	if con == nil {
		con = &ConnectivesProposal{}
	}
	out.VCOP.Connectives = domain.ConnectivesSkill{
		Level:       stepLevel(cv.Connectives.Level, con.Level),
		HighestUsed: stringOr(con.HighestUsed, cv.Connectives.HighestUsed),
		Pattern:     stringOr(con.Pattern, cv.Connectives.Pattern),
	}

	ope := pv.Openers
	if ope == nil {
		ope = &OpenersProposal{}
	}
	used := cv.Openers.ISPACEDUsed
	never := cv.Openers.ISPACEDNeverUsed
	if ope.ISPACEDUsed != nil || ope.ISPACEDNeverUsed != nil {
		used, never = reconcileISPACED(current.VCOP.Openers, ope)
	} else {
		used = append([]string{}, used...)
		never = append([]string{}, never...)
	}
	out.VCOP.Openers = domain.OpenersSkill{
		Level:            stepLevel(cv.Openers.Level, ope.Level),
		ISPACEDUsed:      used,
		ISPACEDNeverUsed: never,
		Pattern:          stringOr(ope.Pattern, cv.Openers.Pattern),
	}

	pun := pv.Punctuation
	if pun == nil {
		pun = &PunctuationProposal{}
	}
	out.VCOP.Punctuation = domain.PunctuationSkill{
		Level:    stepLevel(cv.Punctuation.Level, pun.Level),
		Mastered: listOr(pun.Mastered, cv.Punctuation.Mastered, domain.MaxPunctuationMarks),
		Emerging: listOr(pun.Emerging, cv.Punctuation.Emerging, domain.MaxPunctuationMarks),
		NotYet:   listOr(pun.NotYet, cv.Punctuation.NotYet, domain.MaxPunctuationMarks),
	}

	return out
}

// stepLevel moves current towards proposed by at most one, within 1..5.
func stepLevel(current int, proposed *int) int {
	current = domain.ClampLevel(current)
	if proposed == nil {
		return current
	}
	next := *proposed
	if next > current+1 {
		next = current + 1
	}
	if next < current-1 {
		next = current - 1
	}
	return domain.ClampLevel(next)
}

func listOr(proposed *[]string, current []string, max int) []string {
	src := current
	if proposed != nil {
		src = *proposed
	}
	var cleaned []string
	for _, s := range src {
		if s = strings.TrimSpace(s); s != "" {
			cleaned = append(cleaned, s)
		}
	}
	return append([]string{}, domain.CapList(cleaned, max)...)
}

func stringOr(proposed *string, current string) string {
	if proposed == nil {
		return current
	}
	return strings.TrimSpace(*proposed)
}

// reconcileISPACED keeps the two opener lists complementary. A type once used
// stays used.
func reconcileISPACED(current domain.OpenersSkill, p *OpenersProposal) ([]string, []string) {
	usedSet := make(map[string]bool, len(ispaced))
	for _, u := range current.ISPACEDUsed {
		usedSet[strings.ToUpper(strings.TrimSpace(u))] = true
	}
	if p.ISPACEDUsed != nil {
		for _, u := range *p.ISPACEDUsed {
			usedSet[strings.ToUpper(strings.TrimSpace(u))] = true
		}
	}
	if p.ISPACEDNeverUsed != nil && p.ISPACEDUsed == nil {
		// Only the "never" list was sent: anything dropped from it was used.
		stillNever := make(map[string]bool, len(*p.ISPACEDNeverUsed))
		for _, n := range *p.ISPACEDNeverUsed {
			stillNever[strings.ToUpper(strings.TrimSpace(n))] = true
		}
		for _, letter := range ispaced {
			if !stillNever[letter] {
				usedSet[letter] = true
			}
		}
	}

	used := []string{}
	never := []string{}
	for _, letter := range ispaced {
		if usedSet[letter] {
			used = append(used, letter)
		} else {
			never = append(never, letter)
		}
	}
	return used, never
}

// keepHighestConnective restores the stored highest connective when the
// merged one ranks lower on the connective ladder.
func keepHighestConnective(current, merged domain.StudentProfile, level func(string) int) domain.StudentProfile {
	stored := current.VCOP.Connectives.HighestUsed
	if stored != "" && level(stored) > level(merged.VCOP.Connectives.HighestUsed) {
		merged.VCOP.Connectives.HighestUsed = stored
	}
	return merged
}
