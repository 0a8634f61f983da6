package grading

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"vcopcoach/internal/integrations/llm"
	"vcopcoach/internal/llmjson"
	"vcopcoach/internal/logger"
	"vcopcoach/internal/prompts"

	"github.com/tidwall/gjson"
)

var ErrEmptyText = errors.New("no text provided")

const (
	gradeMaxTokens   = 256
	grammarMaxTokens = 1024
)

// YearGroup is a student's actual school year.
type YearGroup struct {
	Year  int
	Label string
}

// Student ids start with the two-digit intake year.
var yearGroupByPrefix = map[string]YearGroup{
	"19": {Year: 6, Label: "Y6"},
	"20": {Year: 5, Label: "Y5"},
	"21": {Year: 4, Label: "Y4"},
}

// YearGroupFor derives the year group from a student id, or nil when unknown.
func YearGroupFor(studentID string) *YearGroup {
	studentID = strings.TrimSpace(studentID)
	if len(studentID) < 2 {
		return nil
	}
	yg, ok := yearGroupByPrefix[studentID[:2]]
	if !ok {
		return nil
	}
	return &yg
}

type Grade struct {
	Level      string  `json:"level"`
	Reason     string  `json:"reason"`
	ActualYear *string `json:"actualYear"`
}

type GrammarResult struct {
	Corrected  string `json:"corrected"`
	HasChanges bool   `json:"hasChanges"`
}

type Grader struct {
	completer llm.Completer
	prompts   *prompts.Builder
	log       *logger.Logger
}

func NewGrader(completer llm.Completer, builder *prompts.Builder, log *logger.Logger) *Grader {
	return &Grader{completer: completer, prompts: builder, log: logger.OrNop(log).With("component", "grading")}
}

// Grade estimates the writing level of text in one model call.
func (g *Grader) Grade(ctx context.Context, text, studentID string) (Grade, error) {
	if strings.TrimSpace(text) == "" {
		return Grade{}, ErrEmptyText
	}
	yg := YearGroupFor(studentID)
	label := ""
	if yg != nil {
		label = yg.Label
	}

	p := g.prompts.Grading(text, label)
	obj, err := g.call(ctx, "grade", p, gradeMaxTokens)
	if err != nil {
		return Grade{}, err
	}

	out := Grade{
		Level:  strings.TrimSpace(obj.Get("level").String()),
		Reason: strings.TrimSpace(obj.Get("reason").String()),
	}
	if out.Level == "" {
		out.Level = "Unknown"
	}
	if yg != nil {
		out.ActualYear = &yg.Label
	}
	g.log.Info("graded", "level", out.Level, "actual_year", label)
	return out, nil
}

// CheckGrammar proof-reads a teacher's comment.
func (g *Grader) CheckGrammar(ctx context.Context, text string) (GrammarResult, error) {
	if strings.TrimSpace(text) == "" {
		return GrammarResult{}, ErrEmptyText
	}
	obj, err := g.call(ctx, "grammar-check", g.prompts.GrammarCheck(text), grammarMaxTokens)
	if err != nil {
		return GrammarResult{}, err
	}
	corrected := obj.Get("corrected")
	if corrected.Type != gjson.String {
		return GrammarResult{}, fmt.Errorf("grammar response has no corrected text")
	}
	return GrammarResult{
		Corrected:  corrected.String(),
		HasChanges: obj.Get("hasChanges").Type == gjson.True,
	}, nil
}

func (g *Grader) call(ctx context.Context, op string, p prompts.Prompt, maxTokens int64) (gjson.Result, error) {
	completion, err := g.completer.Complete(ctx, llm.Request{
		Operation: op,
		System:    p.System,
		User:      p.User,
		MaxTokens: maxTokens,
	})
	if err != nil {
		return gjson.Result{}, fmt.Errorf("%s model call: %w", op, err)
	}
	res, err := llmjson.Parse(completion.Text, llmjson.Options{Truncated: completion.Truncated()})
	if err != nil {
		return gjson.Result{}, fmt.Errorf("%s response: %w", op, err)
	}
	return gjson.ParseBytes(res.JSON), nil
}
