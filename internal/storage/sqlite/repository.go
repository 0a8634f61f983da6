package sqlite

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"vcopcoach/internal/domain"

	"github.com/google/uuid"
)

const (
	CollectionSubmissions = "submissions"
	CollectionProfiles    = "studentProfiles"
	CollectionStudents    = "students"
	CollectionSessions    = "sessions"
)

// Repository maps the domain types onto document collections.
type Repository struct {
	store *Store
}

func NewRepository(store *Store) *Repository {
	return &Repository{store: store}
}

func decodeAll[T any](docs []json.RawMessage) ([]T, error) {
	out := make([]T, 0, len(docs))
	for _, doc := range docs {
		var v T
		if err := json.Unmarshal(doc, &v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// CreateSubmission stores a new submission, assigning an id and creation
// time when missing.
func (r *Repository) CreateSubmission(ctx context.Context, sub domain.Submission) (domain.Submission, error) {
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = r.store.now().UTC()
	}
	if sub.Iterations == nil {
		sub.Iterations = []domain.Iteration{}
	}
	for i := range sub.Iterations {
		sub.Iterations[i].Version = i + 1
	}
	if err := r.store.Set(ctx, CollectionSubmissions, sub.ID, sub); err != nil {
		return domain.Submission{}, fmt.Errorf("create submission: %w", err)
	}
	return sub, nil
}

// AppendIteration adds it to the submission's iteration log. The version is
// assigned inside the append transaction, in arrival order.
func (r *Repository) AppendIteration(ctx context.Context, submissionID string, it domain.Iteration) (int, error) {
	if it.CreatedAt.IsZero() {
		it.CreatedAt = r.store.now().UTC()
	}
	n, err := r.store.appendTx(ctx, CollectionSubmissions, submissionID, "iterations", nil, func(existing int) (any, error) {
		it.Version = existing + 1
		return it, nil
	})
	if err != nil {
		return 0, fmt.Errorf("append iteration to %s: %w", submissionID, err)
	}
	return n, nil
}

func (r *Repository) GetSubmission(ctx context.Context, id string) (domain.Submission, error) {
	var sub domain.Submission
	if err := r.store.Get(ctx, CollectionSubmissions, id, &sub); err != nil {
		return domain.Submission{}, err
	}
	return sub, nil
}

// ListSubmissionsByStudent returns the student's submissions, newest first.
func (r *Repository) ListSubmissionsByStudent(ctx context.Context, studentID string, limit int) ([]domain.Submission, error) {
	docs, err := r.store.Query(ctx, CollectionSubmissions, Query{
		Filters: []Filter{{Field: "studentId", Value: studentID}},
		Desc:    true,
		Limit:   limit,
	})
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	return decodeAll[domain.Submission](docs)
}

// SetTeacherComment stores the published comment alongside what the teacher
// originally typed.
func (r *Repository) SetTeacherComment(ctx context.Context, submissionID, comment, original string) error {
	return r.store.Merge(ctx, CollectionSubmissions, submissionID, map[string]any{
		"teacherComment":         comment,
		"teacherCommentOriginal": original,
	})
}

// GetProfile loads a student's profile. found is false when none is stored yet.
func (r *Repository) GetProfile(ctx context.Context, studentID string) (domain.StudentProfile, bool, error) {
	var p domain.StudentProfile
	err := r.store.Get(ctx, CollectionProfiles, studentID, &p)
	if errors.Is(err, ErrNotFound) {
		return domain.EmptyProfile(studentID), false, nil
	}
	if err != nil {
		return domain.StudentProfile{}, false, err
	}
	p.StudentID = studentID
	return p, true, nil
}

// SaveProfile writes the machine-owned fields of p. Teacher-owned fields
// already stored are left as they are; p's copies are used only when the
// profile is created.
func (r *Repository) SaveProfile(ctx context.Context, p domain.StudentProfile) error {
	if p.StudentID == "" {
		return errors.New("profile has no student id")
	}
	fields := map[string]any{
		"studentId":        p.StudentID,
		"lastUpdated":      p.LastUpdated,
		"totalSubmissions": p.TotalSubmissions,
		"vcop":             p.VCOP,
		"spellingPatterns": p.SpellingPatterns,
		"grammarPatterns":  p.GrammarPatterns,
		"growthNotes":      p.GrowthNotes,
	}
	return r.store.update(ctx, CollectionProfiles, p.StudentID, p, func(doc map[string]json.RawMessage) error {
		for k, v := range fields {
			raw, err := json.Marshal(v)
			if err != nil {
				return fmt.Errorf("marshal field %s: %w", k, err)
			}
			doc[k] = raw
		}
		return nil
	})
}

// AppendTeacherNote adds a note to the profile, creating an empty profile if
// the student has none yet.
func (r *Repository) AppendTeacherNote(ctx context.Context, studentID string, note domain.TeacherNote) error {
	_, err := r.store.appendTx(ctx, CollectionProfiles, studentID, "teacherNotes", domain.EmptyProfile(studentID),
		func(int) (any, error) { return note, nil })
	return err
}

func (r *Repository) PutStudent(ctx context.Context, s domain.Student) error {
	if s.ID == "" {
		return errors.New("student has no id")
	}
	return r.store.Set(ctx, CollectionStudents, s.ID, s)
}

func (r *Repository) GetStudent(ctx context.Context, id string) (domain.Student, error) {
	var s domain.Student
	if err := r.store.Get(ctx, CollectionStudents, id, &s); err != nil {
		return domain.Student{}, err
	}
	return s, nil
}

func (r *Repository) ListStudents(ctx context.Context) ([]domain.Student, error) {
	docs, err := r.store.Query(ctx, CollectionStudents, Query{OrderBy: "id"})
	if err != nil {
		return nil, fmt.Errorf("list students: %w", err)
	}
	return decodeAll[domain.Student](docs)
}

func (r *Repository) DeleteStudent(ctx context.Context, id string) error {
	return r.store.Delete(ctx, CollectionStudents, id)
}

// CreateSession stores a new active session and deactivates every other one
// in the same transaction.
func (r *Repository) CreateSession(ctx context.Context, s domain.Session) (domain.Session, error) {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = r.store.now().UTC()
	}
	s.Active = true
	body, err := json.Marshal(s)
	if err != nil {
		return domain.Session{}, err
	}

	tx, err := r.store.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Session{}, err
	}
	defer tx.Rollback()

	now := r.store.stamp()
	if _, err := tx.ExecContext(ctx,
		`UPDATE documents SET body = json_set(body, '$.active', json('false')), updated_at = ?
		 WHERE collection = ? AND json_extract(body, '$.active') = 1`,
		now, CollectionSessions,
	); err != nil {
		return domain.Session{}, fmt.Errorf("close active sessions: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO documents (collection, id, body, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		CollectionSessions, s.ID, string(body), now, now,
	); err != nil {
		return domain.Session{}, fmt.Errorf("insert session: %w", err)
	}
	return s, tx.Commit()
}

// ActiveSession returns the most recently created active session.
func (r *Repository) ActiveSession(ctx context.Context) (domain.Session, error) {
	docs, err := r.store.Query(ctx, CollectionSessions, Query{
		Filters: []Filter{{Field: "active", Value: true}},
		Desc:    true,
		Limit:   1,
	})
	if err != nil {
		return domain.Session{}, err
	}
	if len(docs) == 0 {
		return domain.Session{}, ErrNotFound
	}
	var s domain.Session
	if err := json.Unmarshal(docs[0], &s); err != nil {
		return domain.Session{}, err
	}
	return s, nil
}
