package prompts

import (
	"encoding/json"
	"fmt"
	"strings"

	"vcopcoach/internal/domain"
)

const maxPastSubmissionChars = 600

// Prompt is a system instruction plus the user message sent with it.
type Prompt struct {
	System string
	User   string
}

// PastWork is an earlier piece of the same student's writing, used as context.
type PastWork struct {
	Topic string
	Text  string
}

// Options drives every annotation prompt. Zero values mean "not set".
type Options struct {
	Dimensions        []domain.Dimension
	Level             int
	Amount            int
	Topic             string
	ExtraInstructions string
	Plan              *domain.Plan
	PriorProfile      *domain.StudentProfile
	ErrorPhrases      []string
	PastSubmissions   []PastWork
	ErrorCap          int
}

func (o Options) dimensions() []domain.Dimension {
	if len(o.Dimensions) == 0 {
		return domain.AllDimensions
	}
	return o.Dimensions
}

func clampScale(v int) int {
	if v < 1 {
		return 1
	}
	if v > 3 {
		return 3
	}
	return v
}

type Builder struct {
	k *Knowledge
}

func NewBuilder(k *Knowledge) *Builder {
	if k == nil {
		k = DefaultKnowledge()
	}
	return &Builder{k: k}
}

func (b *Builder) Knowledge() *Knowledge {
	return b.k
}

const persona = `You are a warm, encouraging English teacher for primary school students (ages 7-11).
Never give scores, grades, rankings or labels like "Great" or "Keep trying".`

const annotationRules = `Every "phrase" MUST be copied character-for-character from the student's writing.
Keep phrases short (one to six words). Never quote text that is not in the writing.`

// ErrorDetection builds the narrow spelling/grammar pass.
func (b *Builder) ErrorDetection(text string, opts Options) Prompt {
	errorCap := opts.ErrorCap
	if errorCap <= 0 {
		errorCap = 3
	}
	system := fmt.Sprintf(`%s

Your ONLY job is to find mistakes in a child's writing. Do not comment on style.
Flag at most %d items of EACH type:
- "spelling": a misspelt word. suggestion = the corrected word.
- "grammar": a grammar, capitalisation or punctuation mistake. suggestion = the corrected phrase.
- "american_spelling": an American spelling where British spelling is expected (color, favorite). suggestion = the British spelling.
The suggestion must differ from the phrase. Do not flag correct text.
%s

Respond with JSON only (no markdown):
{"annotations": [{"phrase": "i", "type": "grammar", "suggestion": "I"}]}
If there are no mistakes respond {"annotations": []}.`, persona, errorCap, annotationRules)

	return Prompt{System: system, User: "Check this writing for mistakes:\n\n" + text}
}

// Feedback builds the pedagogical pass over the enabled dimensions.
func (b *Builder) Feedback(text string, opts Options) Prompt {
	dims := opts.dimensions()
	amount := clampScale(opts.Amount)

	var dimLines strings.Builder
	for _, d := range dims {
		dimLines.WriteString(fmt.Sprintf("- %s (%s)\n", d, d.Label()))
	}

	var sb strings.Builder
	sb.WriteString(persona)
	sb.WriteString("\n\nYou give VCOP feedback on a child's writing.\n\n")
	sb.WriteString(b.k.VCOP)
	sb.WriteString("\nCONNECTIVE LADDER:\n")
	sb.WriteString(b.k.connectiveLadder())
	sb.WriteString("\nONLY give feedback on these dimensions:\n")
	sb.WriteString(dimLines.String())
	sb.WriteString(fmt.Sprintf(`
For EACH dimension above give:
- exactly one "praise" annotation quoting something the student did well, with a suggestion explaining why it works
- %d "suggestion" annotation(s) quoting text to up-level, with the full rewritten example as the suggestion
Set "dimension" to the dimension letter.
`, amount))
	sb.WriteString("\nLANGUAGE: " + levelRegister(opts.Level) + "\n")

	if topic := strings.TrimSpace(opts.Topic); topic != "" {
		sb.WriteString("\nThe writing task was: " + topic + "\n")
	}
	if extra := strings.TrimSpace(opts.ExtraInstructions); extra != "" {
		sb.WriteString("\nTeacher's extra instructions: " + extra + "\n")
	}
	if !opts.Plan.Empty() {
		sb.WriteString(planBlock(opts.Plan))
	}
	if len(opts.ErrorPhrases) > 0 {
		sb.WriteString("\nThese phrases contain spelling or grammar mistakes that are already flagged. Do NOT praise them or text containing them:\n")
		for _, p := range opts.ErrorPhrases {
			sb.WriteString(fmt.Sprintf("- %q\n", p))
		}
	}
	if p := opts.PriorProfile; p != nil && p.TotalSubmissions > 0 {
		sb.WriteString(profileBlock(p))
	}
	if len(opts.PastSubmissions) > 0 {
		sb.WriteString("\nEarlier writing by this student (context only, never quote it):\n")
		for _, past := range opts.PastSubmissions {
			t := strings.TrimSpace(past.Text)
			if r := []rune(t); len(r) > maxPastSubmissionChars {
				t = string(r[:maxPastSubmissionChars]) + "..."
			}
			sb.WriteString(fmt.Sprintf("- [%s] %s\n", past.Topic, t))
		}
	}
	sb.WriteString("\n" + annotationRules + "\n")
	sb.WriteString(`
Respond with JSON only (no markdown):
{"annotations": [{"phrase": "crept silently", "type": "praise", "suggestion": "...", "dimension": "V"}]}`)

	return Prompt{System: sb.String(), User: "Give VCOP feedback on this writing:\n\n" + text}
}

func levelRegister(level int) string {
	switch clampScale(level) {
	case 2:
		return "Friendly and clear. You may use simple terms like opener, connective and WOW word."
	case 3:
		return "Precise. Use proper terminology (fronted adverbial, subordinate clause, embedded clause) and explain it briefly."
	default:
		return "Very simple words and short sentences, as if talking to a 7-year-old."
	}
}

func planBlock(p *domain.Plan) string {
	var sb strings.Builder
	sb.WriteString("\nThe student made a plan before writing:\n")
	if len(p.WowWords) > 0 {
		sb.WriteString("- WOW words: " + strings.Join(p.WowWords, ", ") + "\n")
	}
	if p.OpenerType != "" {
		sb.WriteString("- Opener type: " + p.OpenerType + "\n")
	}
	if p.Connective != "" {
		sb.WriteString("- Connective: " + p.Connective + "\n")
	}
	if p.Brainstorm != "" {
		sb.WriteString("- Brainstorm: " + p.Brainstorm + "\n")
	}
	sb.WriteString(`For each planned goal add one "plan_check" annotation:
- achieved: "status": "achieved", phrase = where it was used
- not achieved: "status": "not_yet", phrase = "", suggestion = a gentle reminder
`)
	return sb.String()
}

func profileBlock(p *domain.StudentProfile) string {
	v := p.VCOP
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("\nWhat we know about this student (%d earlier pieces):\n", p.TotalSubmissions))
	sb.WriteString(fmt.Sprintf("- Levels: V%d C%d O%d P%d\n", v.Vocabulary.Level, v.Connectives.Level, v.Openers.Level, v.Punctuation.Level))
	if len(v.Vocabulary.Weaknesses) > 0 {
		sb.WriteString("- Working on: " + strings.Join(v.Vocabulary.Weaknesses, "; ") + "\n")
	}
	if len(v.Openers.ISPACEDNeverUsed) > 0 {
		sb.WriteString("- Opener types never used: " + strings.Join(v.Openers.ISPACEDNeverUsed, ", ") + "\n")
	}
	if len(p.SpellingPatterns) > 0 {
		sb.WriteString("- Spelling patterns: " + strings.Join(p.SpellingPatterns, "; ") + "\n")
	}
	if len(p.GrammarPatterns) > 0 {
		sb.WriteString("- Grammar patterns: " + strings.Join(p.GrammarPatterns, "; ") + "\n")
	}
	if pi := strings.TrimSpace(p.PersonalInstructions); pi != "" {
		sb.WriteString("- Teacher's instructions for this student: " + pi + "\n")
	}
	sb.WriteString("Prefer suggestions that build on this history.\n")
	return sb.String()
}

// Revision builds the single revision-evaluation call. Issues are numbered so
// the model can refer back to them.
func (b *Builder) Revision(opts Options, originalText string, originalIssues []domain.Annotation, newText string) Prompt {
	var issues strings.Builder
	for i, a := range originalIssues {
		issues.WriteString(fmt.Sprintf("%d. type=%s phrase=%q suggestion=%q", i+1, a.Type, a.Phrase, a.Suggestion))
		if a.Dimension != "" {
			issues.WriteString(" dimension=" + string(a.Dimension))
		}
		issues.WriteString("\n")
	}

	system := fmt.Sprintf(`%s

A student has revised their writing. Classify EACH original issue below into exactly one status:
- "resolved": the problem is gone and the new text is better, even if the student did not follow the exact suggestion.
  type = "revision_good", phrase = the improved text in the NEW writing, suggestion = short praise.
- "attempted": the student changed it but it is not fixed yet (or a new problem appeared).
  type = "revision_attempted", phrase = the changed text in the NEW writing, suggestion = a gentle hint.
- "untouched": nothing changed. Reproduce the original annotation exactly, with its original type, phrase and suggestion.

Always set "originalType" and "originalPhrase" to the original issue's type and phrase.
Return exactly one annotation per original issue. Do NOT raise any new issues.
You may add up to one "praise" annotation for a genuinely new improvement.
LANGUAGE: %s
%s

ORIGINAL ISSUES:
%s
Respond with JSON only (no markdown):
{"annotations": [{"phrase": "...", "type": "revision_good", "suggestion": "...", "originalType": "spelling", "originalPhrase": "...", "status": "resolved"}]}`,
		persona, levelRegister(opts.Level), annotationRules, issues.String())

	user := "ORIGINAL WRITING:\n" + originalText + "\n\nREVISED WRITING:\n" + newText
	return Prompt{System: system, User: user}
}

// ProfileUpdate asks for a revised learner profile given one submission's annotations.
func (b *Builder) ProfileUpdate(current domain.StudentProfile, annotations []domain.Annotation, topic string) (Prompt, error) {
	profileJSON, err := json.MarshalIndent(current, "", "  ")
	if err != nil {
		return Prompt{}, fmt.Errorf("marshal profile: %w", err)
	}
	annotationsJSON, err := json.MarshalIndent(annotations, "", "  ")
	if err != nil {
		return Prompt{}, fmt.Errorf("marshal annotations: %w", err)
	}
	if strings.TrimSpace(topic) == "" {
		topic = "Not specified"
	}

	system := `You are an educational data analyst. You update a student's learning profile from the feedback on their latest writing.

RULES:
1. VCOP levels are 1-5. Only move a level by 1 per submission, and only with clear evidence.
2. strengths come from praise annotations, weaknesses from suggestion annotations. Keep at most 5 each.
3. recentWowWords: vocabulary praised in this submission. Keep the last 5.
4. ISPACED: move opener types from ispacedNeverUsed to ispacedUsed when evidence appears.
5. spellingPatterns / grammarPatterns: recurring patterns only. At most 3 each.
6. growthNotes: add a short milestone note ONLY when something genuinely new happened. Keep the last 5.
7. Do NOT include teacherNotes or personalInstructions; teachers own them.

CONNECTIVE LADDER (for connectives.highestUsed):
` + b.k.connectiveLadder() + `
Respond with JSON only (no markdown), omitting any field you have no evidence for:
{
  "vcop": {
    "vocabulary": {"level": 2, "strengths": [], "weaknesses": [], "recentWowWords": []},
    "connectives": {"level": 2, "highestUsed": "", "pattern": ""},
    "openers": {"level": 2, "ispacedUsed": [], "ispacedNeverUsed": [], "pattern": ""},
    "punctuation": {"level": 2, "mastered": [], "emerging": [], "notYet": []}
  },
  "spellingPatterns": [],
  "grammarPatterns": [],
  "growthNotes": []
}`

	user := "CURRENT PROFILE:\n" + string(profileJSON) +
		"\n\nTHIS SESSION'S ANNOTATIONS:\n" + string(annotationsJSON) +
		"\n\nSESSION TOPIC: " + topic
	return Prompt{System: system, User: user}, nil
}

// Grading builds the one-shot level assessment. yearLabel is empty when the
// student's actual year is unknown.
func (b *Builder) Grading(text, yearLabel string) Prompt {
	yearContext := "The student's actual year level is unknown."
	if yearLabel != "" {
		yearContext = fmt.Sprintf("The student is currently in %s.", yearLabel)
	}
	system := fmt.Sprintf(`You are an experienced UK English teacher assessing a student's writing level.

%s

%s
Grade the writing at its ACTUAL level, NOT the student's year group. Be honest and accurate.

Respond with JSON only (no markdown):
{"level": "Y5", "reason": "One sentence under 25 words citing specific evidence from the writing"}
"level" is one of "Y1-2", "Y3", "Y4", "Y5", "Y6", "Y7-8", "Y9+".`, yearContext, b.k.Grading)

	return Prompt{System: system, User: "Grade this student's writing:\n\n" + text}
}

// GrammarCheck proof-reads a teacher's comment without changing its tone.
func (b *Builder) GrammarCheck(text string) Prompt {
	system := `You are a grammar checker for a teacher writing comments to primary school students.

RULES:
1. Fix grammar, spelling and punctuation errors ONLY.
2. Do NOT change the meaning, tone or style of the text.
3. Keep the language simple and warm; the teacher is writing to children.
4. If the text is already correct, return it unchanged.

Respond with JSON only (no markdown):
{"corrected": "the corrected text here", "hasChanges": true}
Set hasChanges to false if no corrections were needed.`

	return Prompt{System: system, User: "Please check and correct this teacher comment:\n\n" + strings.TrimSpace(text)}
}
