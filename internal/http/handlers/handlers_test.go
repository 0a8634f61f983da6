package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"

	"vcopcoach/internal/auth"
	"vcopcoach/internal/domain"
	"vcopcoach/internal/grading"
	"vcopcoach/internal/integrations/llm"
	"vcopcoach/internal/pipeline"
	"vcopcoach/internal/profile"
	"vcopcoach/internal/storage/sqlite"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeAnalyzer struct {
	resp pipeline.Response
	err  error
	got  pipeline.Request
}

func (f *fakeAnalyzer) Analyze(_ context.Context, req pipeline.Request) (pipeline.Response, error) {
	f.got = req
	return f.resp, f.err
}

type fakeGrader struct {
	grade      grading.Grade
	grammar    grading.GrammarResult
	grammarErr error
	err        error
}

func (f *fakeGrader) Grade(context.Context, string, string) (grading.Grade, error) {
	return f.grade, f.err
}

func (f *fakeGrader) CheckGrammar(context.Context, string) (grading.GrammarResult, error) {
	return f.grammar, f.grammarErr
}

type noteCall struct{ studentID, comment, topic string }

type fakeProfiles struct {
	updated domain.StudentProfile
	err     error
	noteErr error
	notes   []noteCall
}

func (f *fakeProfiles) Update(context.Context, string, []domain.Annotation, string) (domain.StudentProfile, error) {
	return f.updated, f.err
}

func (f *fakeProfiles) AddTeacherNote(_ context.Context, studentID, comment, topic string) error {
	f.notes = append(f.notes, noteCall{studentID, comment, topic})
	return f.noteErr
}

func newRepo(t *testing.T) *sqlite.Repository {
	t.Helper()
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "handlers.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return sqlite.NewRepository(store)
}

func do(t *testing.T, method, path string, handler gin.HandlerFunc, route string, body any) *httptest.ResponseRecorder {
	t.Helper()
	r := gin.New()
	r.Handle(method, route, handler)
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func errorOf(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var env struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode error envelope %q: %v", w.Body.String(), err)
	}
	return env.Error
}

func TestAnalyzeMapsErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantMsg    string
	}{
		{"empty text", fmt.Errorf("%w: nothing", pipeline.ErrInvalidInput), http.StatusBadRequest, msgNoWriting},
		{"credential", fmt.Errorf("%w: 401", pipeline.ErrUpstreamAuth), http.StatusInternalServerError, msgAPIKey},
		{"model failure", fmt.Errorf("%w: unparsable", pipeline.ErrAnalysisFailed), http.StatusInternalServerError, msgAnalysisFailed},
		{"store failure", errors.New("disk full"), http.StatusInternalServerError, msgAnalysisFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewAnalyzeHandler(&fakeAnalyzer{err: tt.err})
			w := do(t, http.MethodPost, "/api/analyze", h.Analyze, "/api/analyze", map[string]any{"text": "x"})
			if w.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d", tt.wantStatus, w.Code)
			}
			if got := errorOf(t, w); got != tt.wantMsg {
				t.Fatalf("expected message %q, got %q", tt.wantMsg, got)
			}
		})
	}
}

func TestAnalyzeReturnsAnnotations(t *testing.T) {
	fa := &fakeAnalyzer{resp: pipeline.Response{
		Annotations:     []domain.Annotation{{Phrase: "london", Type: domain.TypeSpelling, Suggestion: "London"}},
		SubmissionID:    "sub-1",
		IterationNumber: 1,
	}}
	h := NewAnalyzeHandler(fa)
	w := do(t, http.MethodPost, "/api/analyze", h.Analyze, "/api/analyze", map[string]any{
		"text":      "i went to london",
		"studentId": "20-ava",
		"vcopFocus": []string{"V", "O"},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp pipeline.Response
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.SubmissionID != "sub-1" || len(resp.Annotations) != 1 || resp.Annotations[0].Phrase != "london" {
		t.Fatalf("unexpected response %+v", resp)
	}
	if fa.got.StudentID != "20-ava" || len(fa.got.VCOPFocus) != 2 {
		t.Fatalf("request not forwarded: %+v", fa.got)
	}
}

func TestAnalyzeRejectsMalformedBody(t *testing.T) {
	h := NewAnalyzeHandler(&fakeAnalyzer{})
	w := do(t, http.MethodPost, "/api/analyze", h.Analyze, "/api/analyze", "{not json")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestUpdateProfile(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"ok", nil, http.StatusOK},
		{"missing student", profile.ErrMissingStudent, http.StatusBadRequest},
		{"no annotations", profile.ErrNoAnnotations, http.StatusBadRequest},
		{"credential", fmt.Errorf("profile model call: %w", llm.ErrMissingAPIKey), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fp := &fakeProfiles{updated: domain.StudentProfile{TotalSubmissions: 4}, err: tt.err}
			h := NewProfileHandler(fp)
			w := do(t, http.MethodPost, "/api/update-profile", h.UpdateProfile, "/api/update-profile", map[string]any{
				"studentId":   "20-ava",
				"annotations": []domain.Annotation{{Phrase: "x", Type: domain.TypePraise}},
			})
			if w.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d", tt.wantStatus, w.Code)
			}
			if tt.err == nil {
				var body struct {
					Success          bool `json:"success"`
					TotalSubmissions int  `json:"totalSubmissions"`
				}
				_ = json.Unmarshal(w.Body.Bytes(), &body)
				if !body.Success || body.TotalSubmissions != 4 {
					t.Fatalf("unexpected body %s", w.Body.String())
				}
			}
			if errors.Is(tt.err, llm.ErrMissingAPIKey) && errorOf(t, w) != msgAPIKey {
				t.Fatalf("expected credential message, got %q", errorOf(t, w))
			}
		})
	}
}

func TestGradeAndGrammarCheck(t *testing.T) {
	y5 := "Y5"
	fg := &fakeGrader{
		grade:   grading.Grade{Level: "Y6", Reason: "Uses semicolons well.", ActualYear: &y5},
		grammar: grading.GrammarResult{Corrected: "Well done.", HasChanges: true},
	}
	h := NewGradingHandler(fg)

	w := do(t, http.MethodPost, "/api/grade", h.Grade, "/api/grade", map[string]any{"text": "x", "studentId": "20-ava"})
	if w.Code != http.StatusOK {
		t.Fatalf("grade: expected 200, got %d", w.Code)
	}
	var g grading.Grade
	_ = json.Unmarshal(w.Body.Bytes(), &g)
	if g.Level != "Y6" || g.ActualYear == nil || *g.ActualYear != "Y5" {
		t.Fatalf("unexpected grade %+v", g)
	}

	w = do(t, http.MethodPost, "/api/grammar-check", h.GrammarCheck, "/api/grammar-check", map[string]any{"text": "well done"})
	if w.Code != http.StatusOK {
		t.Fatalf("grammar: expected 200, got %d", w.Code)
	}
	var gr grading.GrammarResult
	_ = json.Unmarshal(w.Body.Bytes(), &gr)
	if gr.Corrected != "Well done." || !gr.HasChanges {
		t.Fatalf("unexpected grammar result %+v", gr)
	}

	fg.err = grading.ErrEmptyText
	w = do(t, http.MethodPost, "/api/grade", h.Grade, "/api/grade", map[string]any{"text": ""})
	if w.Code != http.StatusBadRequest || errorOf(t, w) != "No text provided." {
		t.Fatalf("expected 400 No text provided., got %d %q", w.Code, w.Body.String())
	}

	fg.grammarErr = &llm.StatusError{Provider: "openai", StatusCode: 401}
	w = do(t, http.MethodPost, "/api/grammar-check", h.GrammarCheck, "/api/grammar-check", map[string]any{"text": "x"})
	if w.Code != http.StatusInternalServerError || errorOf(t, w) != msgAPIKey {
		t.Fatalf("expected credential error, got %d %q", w.Code, w.Body.String())
	}
}

func TestAuthHandlers(t *testing.T) {
	repo := newRepo(t)
	a := auth.NewAuthenticator("chalk", repo, nil)
	h := NewAuthHandler(a)

	w := do(t, http.MethodPost, "/api/students", h.CreateStudent, "/api/students", map[string]any{
		"studentId": "21-max", "name": "Max", "password": "kite",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("create: expected 200, got %d %s", w.Code, w.Body.String())
	}
	w = do(t, http.MethodPost, "/api/students", h.CreateStudent, "/api/students", map[string]any{"studentId": "21-max"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("incomplete create: expected 400, got %d", w.Code)
	}

	w = do(t, http.MethodGet, "/api/students", h.ListStudents, "/api/students", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list: expected 200, got %d", w.Code)
	}
	if bytes.Contains(w.Body.Bytes(), []byte("password")) {
		t.Fatalf("listing leaked password field: %s", w.Body.String())
	}
	var listed []map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &listed)
	if len(listed) != 1 || listed[0]["id"] != "21-max" || listed[0]["yearGroup"] != float64(21) {
		t.Fatalf("unexpected listing %v", listed)
	}

	logins := []struct {
		name string
		body map[string]any
		want int
		msg  string
	}{
		{"student ok", map[string]any{"role": "student", "password": "kite", "studentId": "21-max"}, http.StatusOK, ""},
		{"student wrong password", map[string]any{"role": "student", "password": "nope", "studentId": "21-max"}, http.StatusUnauthorized, "Incorrect password"},
		{"unknown student", map[string]any{"role": "student", "password": "kite", "studentId": "21-zed"}, http.StatusUnauthorized, "Student not found"},
		{"missing role", map[string]any{"password": "kite"}, http.StatusBadRequest, "Missing role or password"},
		{"teacher ok", map[string]any{"role": "teacher", "password": "chalk"}, http.StatusOK, ""},
		{"bad role", map[string]any{"role": "admin", "password": "chalk"}, http.StatusBadRequest, "Invalid role"},
	}
	for _, tt := range logins {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, http.MethodPost, "/api/auth", h.Login, "/api/auth", tt.body)
			if w.Code != tt.want {
				t.Fatalf("expected %d, got %d %s", tt.want, w.Code, w.Body.String())
			}
			if tt.msg != "" && errorOf(t, w) != tt.msg {
				t.Fatalf("expected %q, got %q", tt.msg, errorOf(t, w))
			}
		})
	}

	w = do(t, http.MethodDelete, "/api/students", h.DeleteStudent, "/api/students", map[string]any{"studentId": "21-max"})
	if w.Code != http.StatusOK {
		t.Fatalf("delete: expected 200, got %d", w.Code)
	}
	w = do(t, http.MethodDelete, "/api/students", h.DeleteStudent, "/api/students", map[string]any{"studentId": "21-max"})
	if w.Code != http.StatusNotFound {
		t.Fatalf("second delete: expected 404, got %d", w.Code)
	}
}

func TestSessionHandlers(t *testing.T) {
	repo := newRepo(t)
	h := NewSessionHandler(repo)

	w := do(t, http.MethodGet, "/api/sessions/active", h.Active, "/api/sessions/active", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 before any session, got %d", w.Code)
	}

	w = do(t, http.MethodPost, "/api/sessions", h.Create, "/api/sessions", map[string]any{"topic": "  "})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for blank topic, got %d", w.Code)
	}

	for _, topic := range []string{"Dragons", "The Seaside"} {
		w = do(t, http.MethodPost, "/api/sessions", h.Create, "/api/sessions", map[string]any{
			"topic": topic, "vcopFocus": []string{"V", "C", "spelling"},
		})
		if w.Code != http.StatusOK {
			t.Fatalf("create %s: expected 200, got %d", topic, w.Code)
		}
	}

	w = do(t, http.MethodGet, "/api/sessions/active", h.Active, "/api/sessions/active", nil)
	var s domain.Session
	_ = json.Unmarshal(w.Body.Bytes(), &s)
	if w.Code != http.StatusOK || s.Topic != "The Seaside" || !s.Active {
		t.Fatalf("unexpected active session %d %+v", w.Code, s)
	}
}

func TestCommentProofreadsAndSyncsNote(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)
	sub, err := repo.CreateSubmission(ctx, domain.Submission{
		StudentID:    "20-ava",
		SessionTopic: "Dragons",
		Iterations:   []domain.Iteration{{Text: "The dragon flew."}},
	})
	if err != nil {
		t.Fatalf("CreateSubmission: %v", err)
	}
	fg := &fakeGrader{grammar: grading.GrammarResult{Corrected: "Great openers, Ava!", HasChanges: true}}
	fp := &fakeProfiles{}
	h := NewSubmissionHandler(repo, fg, fp, nil)

	path := "/api/submissions/" + sub.ID + "/comment"
	w := do(t, http.MethodPost, path, h.Comment, "/api/submissions/:id/comment", map[string]any{"comment": "great openers ava"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %s", w.Code, w.Body.String())
	}

	got, err := repo.GetSubmission(ctx, sub.ID)
	if err != nil {
		t.Fatalf("GetSubmission: %v", err)
	}
	if got.TeacherComment == nil || *got.TeacherComment != "Great openers, Ava!" {
		t.Fatalf("unexpected stored comment %v", got.TeacherComment)
	}
	if got.TeacherCommentOriginal == nil || *got.TeacherCommentOriginal != "great openers ava" {
		t.Fatalf("unexpected stored original %v", got.TeacherCommentOriginal)
	}
	if len(fp.notes) != 1 || fp.notes[0] != (noteCall{"20-ava", "Great openers, Ava!", "Dragons"}) {
		t.Fatalf("unexpected note sync %+v", fp.notes)
	}

	// A failed proof-read and a failed note sync still save the comment as typed.
	fg.grammarErr = errors.New("model down")
	fp.noteErr = errors.New("store down")
	w = do(t, http.MethodPost, path, h.Comment, "/api/submissions/:id/comment", map[string]any{"comment": "see me"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 on degraded save, got %d", w.Code)
	}
	got, _ = repo.GetSubmission(ctx, sub.ID)
	if *got.TeacherComment != "see me" {
		t.Fatalf("expected original comment saved, got %q", *got.TeacherComment)
	}

	w = do(t, http.MethodPost, "/api/submissions/missing/comment", h.Comment, "/api/submissions/:id/comment", map[string]any{"comment": "x"})
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown submission, got %d", w.Code)
	}
	w = do(t, http.MethodPost, path, h.Comment, "/api/submissions/:id/comment", map[string]any{"comment": "  "})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for blank comment, got %d", w.Code)
	}
}
