package domain

import "time"

const (
	MinSkillLevel = 1
	MaxSkillLevel = 5

	MaxStrengths        = 5
	MaxWowWords         = 5
	MaxPatterns         = 3
	MaxGrowthNotes      = 5
	MaxPunctuationMarks = 5
)

type VocabularySkill struct {
	Level          int      `json:"level"`
	Strengths      []string `json:"strengths"`
	Weaknesses     []string `json:"weaknesses"`
	RecentWowWords []string `json:"recentWowWords"`
}

type ConnectivesSkill struct {
	Level       int    `json:"level"`
	HighestUsed string `json:"highestUsed"`
	Pattern     string `json:"pattern"`
}

type OpenersSkill struct {
	Level            int      `json:"level"`
	ISPACEDUsed      []string `json:"ispacedUsed"`
	ISPACEDNeverUsed []string `json:"ispacedNeverUsed"`
	Pattern          string   `json:"pattern"`
}

type PunctuationSkill struct {
	Level    int      `json:"level"`
	Mastered []string `json:"mastered"`
	Emerging []string `json:"emerging"`
	NotYet   []string `json:"notYet"`
}

type VCOPProfile struct {
	Vocabulary  VocabularySkill  `json:"vocabulary"`
	Connectives ConnectivesSkill `json:"connectives"`
	Openers     OpenersSkill     `json:"openers"`
	Punctuation PunctuationSkill `json:"punctuation"`
}

type TeacherNote struct {
	Date         time.Time `json:"date"`
	Comment      string    `json:"comment"`
	SessionTopic string    `json:"sessionTopic"`
}

// StudentProfile is the longitudinal skill model. TeacherNotes and
// PersonalInstructions are owned by teachers; everything else is machine-updated.
type StudentProfile struct {
	StudentID        string      `json:"studentId,omitempty"`
	LastUpdated      *time.Time  `json:"lastUpdated"`
	TotalSubmissions int         `json:"totalSubmissions"`
	VCOP             VCOPProfile `json:"vcop"`
	SpellingPatterns []string    `json:"spellingPatterns"`
	GrammarPatterns  []string    `json:"grammarPatterns"`
	GrowthNotes      []string    `json:"growthNotes"`

	PersonalInstructions string        `json:"personalInstructions"`
	TeacherNotes         []TeacherNote `json:"teacherNotes"`
}

// EmptyProfile is the starting point for a student with no history.
func EmptyProfile(studentID string) StudentProfile {
	return StudentProfile{
		StudentID: studentID,
		VCOP: VCOPProfile{
			Vocabulary:  VocabularySkill{Level: 1, Strengths: []string{}, Weaknesses: []string{}, RecentWowWords: []string{}},
			Connectives: ConnectivesSkill{Level: 1},
			Openers: OpenersSkill{
				Level:            1,
				ISPACEDUsed:      []string{},
				ISPACEDNeverUsed: []string{"I", "S", "P", "A", "C", "E", "D"},
			},
			Punctuation: PunctuationSkill{Level: 1, Mastered: []string{}, Emerging: []string{}, NotYet: []string{}},
		},
		SpellingPatterns: []string{},
		GrammarPatterns:  []string{},
		GrowthNotes:      []string{},
		TeacherNotes:     []TeacherNote{},
	}
}

// CapList keeps at most max entries, evicting the oldest (front) first.
func CapList(list []string, max int) []string {
	if max <= 0 {
		return []string{}
	}
	if len(list) <= max {
		return list
	}
	out := make([]string, max)
	copy(out, list[len(list)-max:])
	return out
}

// ClampLevel bounds a skill level to MinSkillLevel..MaxSkillLevel.
func ClampLevel(level int) int {
	if level < MinSkillLevel {
		return MinSkillLevel
	}
	if level > MaxSkillLevel {
		return MaxSkillLevel
	}
	return level
}
