package domain

import "time"

// Plan is the student's pre-writing goals.
type Plan struct {
	Brainstorm string   `json:"brainstorm,omitempty"`
	WowWords   []string `json:"wowWords,omitempty"`
	OpenerType string   `json:"openerType,omitempty"`
	Connective string   `json:"connective,omitempty"`
}

func (p *Plan) Empty() bool {
	return p == nil || (p.Brainstorm == "" && len(p.WowWords) == 0 && p.OpenerType == "" && p.Connective == "")
}

type FeedbackMode struct {
	Level  int `json:"level"`
	Amount int `json:"amount"`
}

// Iteration is one immutable attempt at a piece of writing.
type Iteration struct {
	Version     int          `json:"version"`
	Text        string       `json:"text"`
	Annotations []Annotation `json:"annotations"`
	CreatedAt   time.Time    `json:"createdAt"`
}

// Submission is one student's work on a session. TeacherCommentOriginal is
// the comment as typed, before proof-reading.
type Submission struct {
	ID                     string       `json:"id"`
	SessionID              string       `json:"sessionId"`
	StudentID              string       `json:"studentId"`
	SessionTopic           string       `json:"sessionTopic"`
	FeedbackMode           FeedbackMode `json:"feedbackMode"`
	TeacherComment         *string      `json:"teacherComment"`
	TeacherCommentOriginal *string      `json:"teacherCommentOriginal,omitempty"`
	Iterations             []Iteration  `json:"iterations"`
	Plan                   *Plan        `json:"plan,omitempty"`
	CreatedAt              time.Time    `json:"createdAt"`
}

// Latest returns the most recent iteration, if any.
func (s Submission) Latest() (Iteration, bool) {
	if len(s.Iterations) == 0 {
		return Iteration{}, false
	}
	return s.Iterations[len(s.Iterations)-1], true
}

// Session is the teacher-defined assignment context.
type Session struct {
	ID                string      `json:"id"`
	Topic             string      `json:"topic"`
	VCOPFocus         []Dimension `json:"vcopFocus"`
	ExtraInstructions string      `json:"extraInstructions,omitempty"`
	Active            bool        `json:"active"`
	CreatedAt         time.Time   `json:"createdAt"`
}

type Student struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	PasswordHash string `json:"password"`
	YearGroup    *int   `json:"yearGroup"`
}
