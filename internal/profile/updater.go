package profile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"vcopcoach/internal/domain"
	"vcopcoach/internal/integrations/llm"
	"vcopcoach/internal/llmjson"
	"vcopcoach/internal/logger"
	"vcopcoach/internal/prompts"
)

var (
	ErrMissingStudent = errors.New("studentId is required")
	ErrNoAnnotations  = errors.New("annotations array is required")
	ErrEmptyComment   = errors.New("comment is required")
)

const profileMaxTokens = 1024

// Store is the slice of the document store the updater needs.
type Store interface {
	GetProfile(ctx context.Context, studentID string) (domain.StudentProfile, bool, error)
	SaveProfile(ctx context.Context, p domain.StudentProfile) error
	AppendTeacherNote(ctx context.Context, studentID string, note domain.TeacherNote) error
}

type Updater struct {
	completer llm.Completer
	prompts   *prompts.Builder
	store     Store
	log       *logger.Logger
	model     string
	now       func() time.Time
}

// NewUpdater wires an updater. model may be empty to use the completer's default.
func NewUpdater(completer llm.Completer, builder *prompts.Builder, store Store, log *logger.Logger, model string) *Updater {
	return &Updater{
		completer: completer,
		prompts:   builder,
		store:     store,
		log:       logger.OrNop(log).With("component", "profile"),
		model:     model,
		now:       time.Now,
	}
}

// Update asks the model for a revised profile from one submission's
// annotations, merges it into the stored profile and saves the result.
func (u *Updater) Update(ctx context.Context, studentID string, annotations []domain.Annotation, topic string) (domain.StudentProfile, error) {
	studentID = strings.TrimSpace(studentID)
	if studentID == "" {
		return domain.StudentProfile{}, ErrMissingStudent
	}
	if len(annotations) == 0 {
		return domain.StudentProfile{}, ErrNoAnnotations
	}

	current, _, err := u.store.GetProfile(ctx, studentID)
	if err != nil {
		return domain.StudentProfile{}, fmt.Errorf("load profile %s: %w", studentID, err)
	}

	prompt, err := u.prompts.ProfileUpdate(current, annotations, topic)
	if err != nil {
		return domain.StudentProfile{}, err
	}
	completion, err := u.completer.Complete(ctx, llm.Request{
		Operation: "profile-update",
		System:    prompt.System,
		User:      prompt.User,
		MaxTokens: profileMaxTokens,
		Model:     u.model,
	})
	if err != nil {
		return domain.StudentProfile{}, fmt.Errorf("profile model call: %w", err)
	}

	var proposal Proposal
	step, err := llmjson.Decode(completion.Text, llmjson.Options{Truncated: completion.Truncated()}, &proposal)
	if err != nil {
		return domain.StudentProfile{}, fmt.Errorf("profile response: %w", err)
	}
	if proposal.TouchesTeacherFields() {
		u.log.Warn("model proposed teacher-owned fields; ignored", "student_id", studentID)
	}

	merged := keepHighestConnective(current, Merge(current, proposal), u.prompts.Knowledge().ConnectiveLevelOf)
	now := u.now().UTC()
	merged.LastUpdated = &now
	if err := u.store.SaveProfile(ctx, merged); err != nil {
		return domain.StudentProfile{}, fmt.Errorf("save profile %s: %w", studentID, err)
	}

	u.log.Info("profile updated",
		"student_id", studentID,
		"total_submissions", merged.TotalSubmissions,
		"parse_step", step,
		"tokens", completion.Usage.TotalTokens(),
	)
	return merged, nil
}

// AddTeacherNote records a teacher's comment on the student's profile.
func (u *Updater) AddTeacherNote(ctx context.Context, studentID, comment, topic string) error {
	studentID = strings.TrimSpace(studentID)
	comment = strings.TrimSpace(comment)
	if studentID == "" {
		return ErrMissingStudent
	}
	if comment == "" {
		return ErrEmptyComment
	}
	note := domain.TeacherNote{Date: u.now().UTC(), Comment: comment, SessionTopic: topic}
	if err := u.store.AppendTeacherNote(ctx, studentID, note); err != nil {
		return fmt.Errorf("append teacher note %s: %w", studentID, err)
	}
	return nil
}
