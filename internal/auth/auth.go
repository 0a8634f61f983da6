package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"vcopcoach/internal/domain"
	"vcopcoach/internal/logger"
	"vcopcoach/internal/storage/sqlite"
)

const (
	RoleTeacher = "teacher"
	RoleStudent = "student"
)

var (
	ErrMissingCredentials   = errors.New("Missing role or password")
	ErrMissingStudentID     = errors.New("Missing student ID")
	ErrIncompleteStudent    = errors.New("Missing studentId, name, or password")
	ErrInvalidRole          = errors.New("Invalid role")
	ErrBadCredentials       = errors.New("Incorrect password")
	ErrUnknownStudent       = errors.New("Student not found")
	ErrTeacherNotConfigured = errors.New("Teacher password not configured")
	ErrStudentExists        = errors.New("Student already exists")
)

// StudentStore is the roster surface backed by the students collection.
type StudentStore interface {
	PutStudent(ctx context.Context, s domain.Student) error
	GetStudent(ctx context.Context, id string) (domain.Student, error)
	ListStudents(ctx context.Context) ([]domain.Student, error)
	DeleteStudent(ctx context.Context, id string) error
}

type Identity struct {
	Role      string `json:"role"`
	Name      string `json:"name"`
	StudentID string `json:"studentId,omitempty"`
}

type Authenticator struct {
	teacherPassword string
	students        StudentStore
	log             *logger.Logger
}

func NewAuthenticator(teacherPassword string, students StudentStore, log *logger.Logger) *Authenticator {
	return &Authenticator{
		teacherPassword: teacherPassword,
		students:        students,
		log:             logger.OrNop(log).With("component", "auth"),
	}
}

func (a *Authenticator) Login(ctx context.Context, role, password, studentID string) (Identity, error) {
	if role == "" || password == "" {
		return Identity{}, ErrMissingCredentials
	}
	switch role {
	case RoleTeacher:
		if a.teacherPassword == "" {
			return Identity{}, ErrTeacherNotConfigured
		}
		if !a.TeacherPasswordMatches(password) {
			a.log.Warn("Teacher login rejected")
			return Identity{}, ErrBadCredentials
		}
		return Identity{Role: RoleTeacher, Name: "Teacher"}, nil

	case RoleStudent:
		studentID = strings.TrimSpace(studentID)
		if studentID == "" {
			return Identity{}, ErrMissingStudentID
		}
		student, err := a.students.GetStudent(ctx, studentID)
		if errors.Is(err, sqlite.ErrNotFound) {
			return Identity{}, ErrUnknownStudent
		}
		if err != nil {
			return Identity{}, fmt.Errorf("load student %s: %w", studentID, err)
		}
		if err := bcrypt.CompareHashAndPassword([]byte(student.PasswordHash), []byte(password)); err != nil {
			a.log.Warn("Student login rejected", "student_id", studentID)
			return Identity{}, ErrBadCredentials
		}
		return Identity{Role: RoleStudent, Name: student.Name, StudentID: student.ID}, nil

	default:
		return Identity{}, ErrInvalidRole
	}
}

// TeacherPasswordMatches is false whenever no teacher password is configured.
func (a *Authenticator) TeacherPasswordMatches(candidate string) bool {
	if a.teacherPassword == "" || candidate == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(candidate), []byte(a.teacherPassword)) == 1
}

func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// YearGroupFromID reads the numeric prefix before the first "-" of a
// student id ("19-ava" is year group 19).
func YearGroupFromID(studentID string) *int {
	prefix, _, _ := strings.Cut(studentID, "-")
	n, err := strconv.Atoi(prefix)
	if err != nil || n == 0 {
		return nil
	}
	return &n
}

// AddStudent hashes the password and stores a new roster entry.
func (a *Authenticator) AddStudent(ctx context.Context, studentID, name, password string) (domain.Student, error) {
	studentID = strings.TrimSpace(studentID)
	name = strings.TrimSpace(name)
	if studentID == "" || name == "" || password == "" {
		return domain.Student{}, ErrIncompleteStudent
	}
	if _, err := a.students.GetStudent(ctx, studentID); err == nil {
		return domain.Student{}, ErrStudentExists
	} else if !errors.Is(err, sqlite.ErrNotFound) {
		return domain.Student{}, fmt.Errorf("load student %s: %w", studentID, err)
	}
	hash, err := HashPassword(password)
	if err != nil {
		return domain.Student{}, fmt.Errorf("hash password: %w", err)
	}
	student := domain.Student{
		ID:           studentID,
		Name:         name,
		PasswordHash: hash,
		YearGroup:    YearGroupFromID(studentID),
	}
	if err := a.students.PutStudent(ctx, student); err != nil {
		return domain.Student{}, fmt.Errorf("store student %s: %w", studentID, err)
	}
	a.log.Info("Student added", "student_id", studentID)
	student.PasswordHash = ""
	return student, nil
}

// ListStudents returns the roster with password hashes removed.
func (a *Authenticator) ListStudents(ctx context.Context) ([]domain.Student, error) {
	students, err := a.students.ListStudents(ctx)
	if err != nil {
		return nil, err
	}
	for i := range students {
		students[i].PasswordHash = ""
	}
	return students, nil
}

func (a *Authenticator) DeleteStudent(ctx context.Context, studentID string) error {
	studentID = strings.TrimSpace(studentID)
	if studentID == "" {
		return ErrMissingStudentID
	}
	if err := a.students.DeleteStudent(ctx, studentID); err != nil {
		if errors.Is(err, sqlite.ErrNotFound) {
			return ErrUnknownStudent
		}
		return err
	}
	a.log.Info("Student deleted", "student_id", studentID)
	return nil
}
