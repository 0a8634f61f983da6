package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"vcopcoach/internal/annotate"
	"vcopcoach/internal/domain"
	"vcopcoach/internal/integrations/llm"
	"vcopcoach/internal/prompts"
)

// scriptedCompleter answers calls in order.
type scriptedCompleter struct {
	replies []string
	err     error
	calls   []llm.Request
}

func (s *scriptedCompleter) Complete(_ context.Context, req llm.Request) (llm.Completion, error) {
	s.calls = append(s.calls, req)
	if s.err != nil {
		return llm.Completion{}, s.err
	}
	if len(s.calls) > len(s.replies) {
		return llm.Completion{}, fmt.Errorf("unexpected call %d (%s)", len(s.calls), req.Operation)
	}
	return llm.Completion{Text: s.replies[len(s.calls)-1], StopReason: "end_turn"}, nil
}

type memStore struct {
	mu          sync.Mutex
	submissions map[string]domain.Submission
	profiles    map[string]domain.StudentProfile
	listErr     error
	nextID      int
}

func newMemStore() *memStore {
	return &memStore{submissions: map[string]domain.Submission{}, profiles: map[string]domain.StudentProfile{}}
}

func (m *memStore) CreateSubmission(_ context.Context, sub domain.Submission) (domain.Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	sub.ID = fmt.Sprintf("sub-%d", m.nextID)
	for i := range sub.Iterations {
		sub.Iterations[i].Version = i + 1
	}
	m.submissions[sub.ID] = sub
	return sub, nil
}

func (m *memStore) AppendIteration(_ context.Context, id string, it domain.Iteration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.submissions[id]
	if !ok {
		return 0, errors.New("not found")
	}
	it.Version = len(sub.Iterations) + 1
	sub.Iterations = append(sub.Iterations, it)
	m.submissions[id] = sub
	return len(sub.Iterations), nil
}

func (m *memStore) GetSubmission(_ context.Context, id string) (domain.Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.submissions[id]
	if !ok {
		return domain.Submission{}, errors.New("not found")
	}
	return sub, nil
}

func (m *memStore) ListSubmissionsByStudent(_ context.Context, studentID string, limit int) ([]domain.Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []domain.Submission
	for _, s := range m.submissions {
		if s.StudentID == studentID && len(out) < limit {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *memStore) GetProfile(_ context.Context, id string) (domain.StudentProfile, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[id]
	if !ok {
		return domain.EmptyProfile(id), false, nil
	}
	return p, true, nil
}

type recordingUpdater struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (r *recordingUpdater) Update(_ context.Context, studentID string, annotations []domain.Annotation, topic string) (domain.StudentProfile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, fmt.Sprintf("%s:%d:%s", studentID, len(annotations), topic))
	return domain.StudentProfile{}, r.err
}

func newOrchestrator(c llm.Completer, store Store, profiles ProfileUpdater, cfg Config) *Orchestrator {
	return New(c, prompts.NewBuilder(nil), store, profiles, nil, cfg)
}

const londonErrors = `{"annotations": [
  {"phrase": "i", "type": "grammar", "suggestion": "I"},
  {"phrase": "london", "type": "grammar", "suggestion": "London"},
  {"phrase": "monday", "type": "grammar", "suggestion": "Monday"},
  {"phrase": "went", "type": "grammar", "suggestion": "went"},
  {"phrase": "went to", "type": "praise", "suggestion": "nice", "dimension": "V"}
]}`

const londonFeedback = "```json\n" + `{"annotations": [
  {"phrase": "london", "type": "praise", "suggestion": "a real place", "dimension": "V"},
  {"phrase": "went to", "type": "suggestion", "suggestion": "travelled to", "dimension": "V"},
  {"phrase": "on monday", "type": "praise", "suggestion": "time phrase", "dimension": "C"},
  {"phrase": "went", "type": "praise", "suggestion": "past tense", "dimension": "O"},
  {"phrase": "Paris", "type": "praise", "suggestion": "not in the text", "dimension": "V"},
],}` + "\n```"

func TestAnalyzeFirstSubmission(t *testing.T) {
	completer := &scriptedCompleter{replies: []string{londonErrors, londonFeedback}}
	store := newMemStore()
	o := newOrchestrator(completer, store, nil, Config{PastSubmissions: 3})

	resp, err := o.Analyze(context.Background(), Request{
		Text:      "i went to london on monday",
		StudentID: "2001",
		SessionID: "sess-1",
		Topic:     "My weekend",
		VCOPFocus: []string{"V", "O", "spelling"},
	})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}

	var got []string
	for _, a := range resp.Annotations {
		got = append(got, string(a.Type)+":"+a.Phrase)
	}
	want := []string{"grammar:i", "grammar:london", "grammar:monday", "suggestion:went to"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("annotations = %v, want %v", got, want)
	}
	if resp.IterationNumber != 1 || resp.SubmissionID == "" {
		t.Fatalf("unexpected response ids %+v", resp)
	}

	if len(completer.calls) != 2 || completer.calls[0].Operation != "error-pass" || completer.calls[1].Operation != "feedback-pass" {
		t.Fatalf("expected error pass then feedback pass, got %+v", completer.calls)
	}
	if !strings.Contains(completer.calls[1].System, `"london"`) {
		t.Fatal("expected error phrases to reach the feedback prompt")
	}

	sub := store.submissions[resp.SubmissionID]
	if len(sub.Iterations) != 1 || len(sub.Iterations[0].Annotations) != 4 || sub.StudentID != "2001" {
		t.Fatalf("unexpected stored submission %+v", sub)
	}
}

func TestAnalyzeCapsErrorsPerCategory(t *testing.T) {
	reply := `{"annotations": [
	  {"phrase": "a", "type": "spelling", "suggestion": "A"},
	  {"phrase": "b", "type": "spelling", "suggestion": "B"},
	  {"phrase": "c", "type": "spelling", "suggestion": "C"},
	  {"phrase": "d", "type": "spelling", "suggestion": "D"},
	  {"phrase": "e", "type": "grammar", "suggestion": "E"}
	]}`
	completer := &scriptedCompleter{replies: []string{reply, `{"annotations": []}`}}
	o := newOrchestrator(completer, newMemStore(), nil, Config{ErrorCap: 2})

	resp, err := o.Analyze(context.Background(), Request{Text: "a b c d e"})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	counts := map[domain.AnnotationType]int{}
	for _, a := range resp.Annotations {
		counts[a.Type]++
	}
	if counts[domain.TypeSpelling] != 2 || counts[domain.TypeGrammar] != 1 {
		t.Fatalf("unexpected per-type counts %v", counts)
	}
}

func TestAnalyzeRejectsEmptyText(t *testing.T) {
	completer := &scriptedCompleter{}
	o := newOrchestrator(completer, newMemStore(), nil, Config{})
	for _, text := range []string{"", "   \n\t"} {
		if _, err := o.Analyze(context.Background(), Request{Text: text}); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("expected ErrInvalidInput for %q, got %v", text, err)
		}
	}
	if len(completer.calls) != 0 {
		t.Fatal("expected no model calls for invalid input")
	}
}

func TestAnalyzeFailuresPersistNothing(t *testing.T) {
	tests := []struct {
		name      string
		completer *scriptedCompleter
		want      error
	}{
		{"missing key", &scriptedCompleter{err: llm.ErrMissingAPIKey}, ErrUpstreamAuth},
		{"rejected key", &scriptedCompleter{err: &llm.StatusError{Provider: "OpenAI", StatusCode: 401}}, ErrUpstreamAuth},
		{"model outage", &scriptedCompleter{err: errors.New("connection reset")}, ErrAnalysisFailed},
		{"unparsable error pass", &scriptedCompleter{replies: []string{"Sorry, I can't do that."}}, ErrAnalysisFailed},
		{"unparsable feedback pass", &scriptedCompleter{replies: []string{londonErrors, "{{{"}}, ErrAnalysisFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemStore()
			o := newOrchestrator(tt.completer, store, nil, Config{})
			_, err := o.Analyze(context.Background(), Request{Text: "i went to london on monday"})
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			if len(store.submissions) != 0 {
				t.Fatalf("expected nothing stored, got %d submissions", len(store.submissions))
			}
		})
	}
}

func TestAnalyzeToleratesContextFetchFailure(t *testing.T) {
	store := newMemStore()
	store.listErr = errors.New("index missing")
	completer := &scriptedCompleter{replies: []string{londonErrors, londonFeedback}}
	o := newOrchestrator(completer, store, nil, Config{PastSubmissions: 3})

	if _, err := o.Analyze(context.Background(), Request{Text: "i went to london on monday", StudentID: "2001"}); err != nil {
		t.Fatalf("expected context failure to be tolerated, got %v", err)
	}
}

var dragonIssues = []domain.Annotation{
	{Phrase: "dragn", Type: domain.TypeSpelling, Suggestion: "dragon"},
	{Phrase: "i ran", Type: domain.TypeGrammar, Suggestion: "I ran"},
	{Phrase: "was big", Type: domain.TypeSuggestion, Suggestion: "was colossal", Dimension: domain.DimensionVocabulary},
	{Phrase: "and it was scary", Type: domain.TypeSuggestion, Suggestion: "; it was terrifying", Dimension: domain.DimensionConnectives},
}

const dragonRevisionReply = `{"annotations": [
  {"phrase": "dragon", "type": "revision_good", "suggestion": "Fixed!", "originalType": "spelling", "originalPhrase": "dragn", "status": "resolved"},
  {"phrase": "The dragon", "type": "revision_good", "suggestion": "Again!", "originalType": "spelling", "originalPhrase": "dragn", "status": "resolved"},
  {"phrase": "was colossal", "type": "revision_good", "suggestion": "WOW word", "originalType": "suggestion", "originalPhrase": "was big"},
  {"phrase": "scary", "type": "suggestion", "suggestion": "terrifying", "dimension": "V"},
  {"phrase": "The", "type": "revision_attempted", "originalPhrase": "the", "status": "attempted"},
  {"phrase": "colossal", "type": "praise", "suggestion": "Great choice"}
]}`

func TestAnalyzeRevisionIsBoundedToOriginalIssues(t *testing.T) {
	store := newMemStore()
	original := "the dragn was big and it was scary. i ran."
	sub, _ := store.CreateSubmission(context.Background(), domain.Submission{
		StudentID: "2001",
		Iterations: []domain.Iteration{{
			Text:        original,
			Annotations: append([]domain.Annotation{{Phrase: "scary", Type: domain.TypePraise}}, dragonIssues...),
		}},
	})
	completer := &scriptedCompleter{replies: []string{dragonRevisionReply}}
	o := newOrchestrator(completer, store, nil, Config{})

	newText := "The dragon was colossal and it was scary. i ran."
	resp, err := o.Analyze(context.Background(), Request{
		Text:            newText,
		StudentID:       "2001",
		SubmissionID:    sub.ID,
		IterationNumber: 2,
		PreviousText:    original,
	})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(completer.calls) != 1 || completer.calls[0].Operation != "revision-pass" {
		t.Fatalf("expected a single revision call, got %+v", completer.calls)
	}

	perIssue := map[string]string{}
	praise := 0
	for _, a := range resp.Annotations {
		if a.Type == domain.TypePraise {
			praise++
			continue
		}
		if _, dup := perIssue[a.OriginalPhrase]; dup {
			t.Fatalf("issue %q classified twice", a.OriginalPhrase)
		}
		switch a.Status {
		case domain.StatusResolved, domain.StatusAttempted, domain.StatusUntouched:
		default:
			t.Fatalf("unexpected status %q on %+v", a.Status, a)
		}
		if !annotate.Locate(newText, a.Phrase).Found {
			t.Fatalf("phrase %q not in revised text", a.Phrase)
		}
		perIssue[a.OriginalPhrase] = a.Status
	}
	want := map[string]string{
		"dragn":            domain.StatusResolved,
		"i ran":            domain.StatusUntouched,
		"was big":          domain.StatusResolved,
		"and it was scary": domain.StatusUntouched,
	}
	if fmt.Sprint(perIssue) != fmt.Sprint(want) {
		t.Fatalf("classifications = %v, want %v", perIssue, want)
	}
	if praise != 1 {
		t.Fatalf("expected praise to be kept, got %d", praise)
	}
	if resp.IterationNumber != 2 || len(store.submissions[sub.ID].Iterations) != 2 {
		t.Fatalf("expected iteration 2 to be appended, got %d", resp.IterationNumber)
	}
}

func TestRevisionEvaluatesAgainstFirstIteration(t *testing.T) {
	store := newMemStore()
	sub, _ := store.CreateSubmission(context.Background(), domain.Submission{
		Iterations: []domain.Iteration{
			{Text: "the dragn roared", Annotations: []domain.Annotation{{Phrase: "dragn", Type: domain.TypeSpelling, Suggestion: "dragon"}}},
			{Text: "the dragen roared", Annotations: []domain.Annotation{{Phrase: "dragen", Type: domain.TypeRevisionAttempted, Status: domain.StatusAttempted}}},
		},
	})
	completer := &scriptedCompleter{replies: []string{`{"annotations": []}`}}
	o := newOrchestrator(completer, store, nil, Config{})

	resp, err := o.Analyze(context.Background(), Request{
		Text:            "the dragn roared loudly",
		SubmissionID:    sub.ID,
		IterationNumber: 3,
		PreviousText:    "the dragen roared",
	})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if !strings.Contains(completer.calls[0].System, `phrase="dragn"`) {
		t.Fatal("expected the iteration-1 issue list in the revision prompt")
	}
	if len(resp.Annotations) != 1 || resp.Annotations[0].Status != domain.StatusUntouched || resp.Annotations[0].Type != domain.TypeSpelling {
		t.Fatalf("expected the skipped issue reproduced as untouched, got %+v", resp.Annotations)
	}
	if resp.IterationNumber != 3 {
		t.Fatalf("expected iteration 3, got %d", resp.IterationNumber)
	}
}

func TestBoundRevisionReanchorsVanishedIssues(t *testing.T) {
	original := "the dragn was big. i ran home."
	tests := []struct {
		name       string
		newText    string
		validated  annotate.Result
		wantPhrase string
		wantStatus string
	}{
		{
			name:       "neighbouring words survive",
			newText:    "the dragon was big. I ran home.",
			wantPhrase: "was big. I",
			wantStatus: domain.StatusAttempted,
		},
		{
			name:    "dropped classification keeps its status",
			newText: "the dragon was big. I ran home.",
			validated: annotate.Result{Dropped: []annotate.Drop{{
				Annotation: domain.Annotation{Phrase: "dragonn", Type: domain.TypeRevisionGood, OriginalPhrase: "dragn", Status: domain.StatusResolved, Suggestion: "Fixed!"},
				Reason:     annotate.DropPhraseNotFound,
			}}},
			wantPhrase: "was big. I",
			wantStatus: domain.StatusResolved,
		},
		{
			name:       "whole text rewritten",
			newText:    "A completely rewritten story.",
			wantPhrase: "A",
			wantStatus: domain.StatusAttempted,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := BoundRevision(dragonIssues[:1], tt.validated, original, tt.newText)
			if len(res.Annotations) != 1 || res.Reanchored != 1 {
				t.Fatalf("expected exactly one re-anchored classification, got %+v", res)
			}
			a := res.Annotations[0]
			if a.Phrase != tt.wantPhrase || a.Status != tt.wantStatus || a.OriginalPhrase != "dragn" {
				t.Fatalf("unexpected classification %+v", a)
			}
			if !annotate.Locate(tt.newText, a.Phrase).Found {
				t.Fatalf("anchor %q not in revised text", a.Phrase)
			}
		})
	}
}

func TestBoundRevisionNeverDropsAnIssue(t *testing.T) {
	res := BoundRevision(dragonIssues, annotate.Result{}, "the dragn was big and it was scary. i ran.", "Totally new words here.")
	if len(res.Annotations) != len(dragonIssues) {
		t.Fatalf("expected %d classifications, got %d", len(dragonIssues), len(res.Annotations))
	}
	for i, a := range res.Annotations {
		if a.OriginalPhrase != dragonIssues[i].Phrase {
			t.Fatalf("classification %d refers to %q, want %q", i, a.OriginalPhrase, dragonIssues[i].Phrase)
		}
	}
}

func TestAnalyzeKeepsWellFormedCandidatesBesideMalformedOnes(t *testing.T) {
	reply := `[
  {"phrase": "i", "type": "grammar", "suggestion": "I"},
  {"phrase": "london", "type": "grammar", "suggestion": ["London", "LONDON"]},
  {"phrase": 12, "type": "spelling", "suggestion": "twelve"},
  {"phrase": "monday", "type": "grammar", "suggestion": "Monday"}
]`
	completer := &scriptedCompleter{replies: []string{reply, `{"annotations": []}`}}
	store := newMemStore()
	o := newOrchestrator(completer, store, nil, Config{})

	resp, err := o.Analyze(context.Background(), Request{Text: "i went to london on monday"})
	if err != nil {
		t.Fatalf("a malformed candidate must not fail the analysis: %v", err)
	}
	var got []string
	for _, a := range resp.Annotations {
		got = append(got, a.Phrase)
	}
	if strings.Join(got, "|") != "i|monday" {
		t.Fatalf("annotations = %v, want [i monday]", got)
	}
	if len(store.submissions) != 1 {
		t.Fatalf("expected the submission to be stored, got %d", len(store.submissions))
	}
}

func TestAnalyzeReadsArrayAfterCommentary(t *testing.T) {
	reply := "Here are the mistakes:\n" + `[{"phrase": "i", "type": "grammar", "suggestion": "I"}, {"phrase": "london", "type": "grammar", "suggestion": "London"}]`
	completer := &scriptedCompleter{replies: []string{reply, `{"annotations": []}`}}
	o := newOrchestrator(completer, newMemStore(), nil, Config{})

	resp, err := o.Analyze(context.Background(), Request{Text: "i went to london on monday"})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(resp.Annotations) != 2 || resp.Annotations[0].Phrase != "i" || resp.Annotations[1].Phrase != "london" {
		t.Fatalf("expected both flagged phrases, got %+v", resp.Annotations)
	}
}

func TestAnalyzeAcceptsDimensionNames(t *testing.T) {
	feedback := `{"annotations": [
  {"phrase": "london", "type": "praise", "suggestion": "a real place", "dimension": "Vocabulary"},
  {"phrase": "went to", "type": "suggestion", "suggestion": "travelled to", "dimension": "v"},
  {"phrase": "on monday", "type": "praise", "suggestion": "time phrase", "dimension": "Connectives"}
]}`
	completer := &scriptedCompleter{replies: []string{`{"annotations": []}`, feedback}}
	o := newOrchestrator(completer, newMemStore(), nil, Config{})

	resp, err := o.Analyze(context.Background(), Request{Text: "i went to london on monday", VCOPFocus: []string{"V"}})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(resp.Annotations) != 2 {
		t.Fatalf("expected both vocabulary annotations, got %+v", resp.Annotations)
	}
	for _, a := range resp.Annotations {
		if a.Dimension != domain.DimensionVocabulary {
			t.Fatalf("expected dimension V, got %q on %+v", a.Dimension, a)
		}
	}
}

func TestProfileUpdateRunsInBackground(t *testing.T) {
	updater := &recordingUpdater{err: errors.New("model down")}
	completer := &scriptedCompleter{replies: []string{londonErrors, londonFeedback}}
	o := newOrchestrator(completer, newMemStore(), updater, Config{ProfileAutoUpdate: true})

	if _, err := o.Analyze(context.Background(), Request{Text: "i went to london on monday", StudentID: "2001", Topic: "Weekend"}); err != nil {
		t.Fatalf("profile failure must not fail the analysis: %v", err)
	}
	o.Wait()
	if len(updater.calls) != 1 || updater.calls[0] != "2001:4:Weekend" {
		t.Fatalf("unexpected profile update calls %v", updater.calls)
	}
}

func TestRequestIsRevision(t *testing.T) {
	tests := []struct {
		req  Request
		want bool
	}{
		{Request{IterationNumber: 1, PreviousText: "x"}, false},
		{Request{IterationNumber: 2}, false},
		{Request{IterationNumber: 2, PreviousText: "  "}, false},
		{Request{IterationNumber: 2, PreviousText: "x"}, true},
		{Request{IterationNumber: 7, PreviousText: "x"}, true},
	}
	for _, tt := range tests {
		if got := tt.req.IsRevision(); got != tt.want {
			t.Fatalf("IsRevision(%+v) = %v, want %v", tt.req, got, tt.want)
		}
	}
}
