package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	"vcopcoach/internal/annotate"
	"vcopcoach/internal/domain"
	"vcopcoach/internal/integrations/llm"
	"vcopcoach/internal/llmjson"
	"vcopcoach/internal/logger"
	"vcopcoach/internal/prompts"
)

var (
	ErrInvalidInput   = errors.New("invalid input")
	ErrUpstreamAuth   = errors.New("model API credential is missing or invalid")
	ErrAnalysisFailed = errors.New("analysis failed")
)

// Request is one analysis call from the writing client.
type Request struct {
	Text                string              `json:"text"`
	SessionID           string              `json:"sessionId"`
	StudentID           string              `json:"studentId"`
	VCOPFocus           []string            `json:"vcopFocus"`
	Topic               string              `json:"topic"`
	ExtraInstructions   string              `json:"extraInstructions"`
	FeedbackLevel       int                 `json:"feedbackLevel"`
	FeedbackAmount      int                 `json:"feedbackAmount"`
	SubmissionID        string              `json:"submissionId"`
	IterationNumber     int                 `json:"iterationNumber"`
	PreviousText        string              `json:"previousText"`
	PreviousAnnotations []domain.Annotation `json:"previousAnnotations"`
	Plan                *domain.Plan        `json:"plan"`
}

// IsRevision selects the revision state: a later iteration with the earlier
// text available.
func (r Request) IsRevision() bool {
	return r.IterationNumber > 1 && strings.TrimSpace(r.PreviousText) != ""
}

type Response struct {
	Annotations     []domain.Annotation `json:"annotations"`
	SubmissionID    string              `json:"submissionId"`
	IterationNumber int                 `json:"iterationNumber"`
}

// Store is the document-store surface the orchestrator uses.
type Store interface {
	CreateSubmission(ctx context.Context, sub domain.Submission) (domain.Submission, error)
	AppendIteration(ctx context.Context, submissionID string, it domain.Iteration) (int, error)
	GetSubmission(ctx context.Context, id string) (domain.Submission, error)
	ListSubmissionsByStudent(ctx context.Context, studentID string, limit int) ([]domain.Submission, error)
	GetProfile(ctx context.Context, studentID string) (domain.StudentProfile, bool, error)
}

type ProfileUpdater interface {
	Update(ctx context.Context, studentID string, annotations []domain.Annotation, topic string) (domain.StudentProfile, error)
}

type Config struct {
	MaxTokens         int64
	ErrorCap          int
	PastSubmissions   int
	ProfileAutoUpdate bool
	ProfileTimeout    time.Duration
}

type Orchestrator struct {
	completer llm.Completer
	prompts   *prompts.Builder
	store     Store
	validator *annotate.Validator
	profiles  ProfileUpdater
	log       *logger.Logger
	cfg       Config

	background sync.WaitGroup
	now        func() time.Time
}

func New(completer llm.Completer, builder *prompts.Builder, store Store, profiles ProfileUpdater, log *logger.Logger, cfg Config) *Orchestrator {
	log = logger.OrNop(log).With("component", "pipeline")
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}
	if cfg.ErrorCap <= 0 {
		cfg.ErrorCap = 3
	}
	if cfg.PastSubmissions < 0 {
		cfg.PastSubmissions = 0
	}
	if cfg.ProfileTimeout <= 0 {
		cfg.ProfileTimeout = time.Minute
	}
	return &Orchestrator{
		completer: completer,
		prompts:   builder,
		store:     store,
		validator: annotate.NewValidator(log),
		profiles:  profiles,
		log:       log,
		cfg:       cfg,
		now:       time.Now,
	}
}

// Wait blocks until background profile updates have finished.
func (o *Orchestrator) Wait() {
	o.background.Wait()
}

// Analyze produces the annotation set for one submission attempt and records
// it as a new iteration. Nothing is stored unless the whole analysis succeeds.
func (o *Orchestrator) Analyze(ctx context.Context, req Request) (Response, error) {
	text := req.Text
	if strings.TrimSpace(text) == "" {
		return Response{}, fmt.Errorf("%w: please provide some writing to analyse", ErrInvalidInput)
	}

	started := o.now()
	var usage llm.Usage
	var annotations []domain.Annotation
	var err error
	mode := "first"
	if req.IsRevision() {
		mode = "revision"
		annotations, err = o.revise(ctx, req, &usage)
	} else {
		annotations, err = o.firstSubmission(ctx, req, &usage)
	}
	if err != nil {
		return Response{}, err
	}

	sub, version, err := o.persist(ctx, req, annotations)
	if err != nil {
		return Response{}, err
	}

	o.log.Info("analysis complete",
		"mode", mode,
		"submission_id", sub,
		"iteration", version,
		"annotations", len(annotations),
		"tokens", usage.TotalTokens(),
		"duration", o.now().Sub(started).String(),
	)
	o.scheduleProfileUpdate(req, annotations)
	return Response{Annotations: annotations, SubmissionID: sub, IterationNumber: version}, nil
}

func (o *Orchestrator) firstSubmission(ctx context.Context, req Request, usage *llm.Usage) ([]domain.Annotation, error) {
	dims := domain.ParseDimensions(req.VCOPFocus)
	opts := prompts.Options{
		Dimensions:        dims,
		Level:             req.FeedbackLevel,
		Amount:            req.FeedbackAmount,
		Topic:             req.Topic,
		ExtraInstructions: req.ExtraInstructions,
		Plan:              req.Plan,
		ErrorCap:          o.cfg.ErrorCap,
	}

	errPrompt := o.prompts.ErrorDetection(req.Text, opts)
	errCandidates, errMalformed, err := o.callForAnnotations(ctx, "error-pass", errPrompt, usage)
	if err != nil {
		return nil, err
	}
	errCandidates = keepTypes(errCandidates, func(a domain.Annotation) bool { return a.Type.IsError() })
	errResult := o.validator.Validate(req.Text, errCandidates)
	errResult.Dropped = append(errMalformed, errResult.Dropped...)
	flagged := annotate.ResolveOverlaps(annotate.CapPerType(errResult.Kept, o.cfg.ErrorCap))
	o.logPass("error-pass", errResult, len(flagged))

	opts.ErrorPhrases = annotate.ErrorPhrases(flagged)
	o.loadContext(ctx, req, &opts)

	fbPrompt := o.prompts.Feedback(req.Text, opts)
	fbCandidates, fbMalformed, err := o.callForAnnotations(ctx, "feedback-pass", fbPrompt, usage)
	if err != nil {
		return nil, err
	}
	enabled := opts.Dimensions
	if len(enabled) == 0 {
		enabled = domain.AllDimensions
	}
	fbCandidates = keepTypes(fbCandidates, func(a domain.Annotation) bool {
		switch a.Type {
		case domain.TypePlanCheck:
			return !req.Plan.Empty()
		case domain.TypePraise, domain.TypeSuggestion:
			return a.Dimension == "" || containsDim(enabled, a.Dimension)
		}
		return false
	})
	fbResult := o.validator.Validate(req.Text, fbCandidates)
	fbResult.Dropped = append(fbMalformed, fbResult.Dropped...)
	feedback := annotate.DropPraiseOverlapping(annotate.ResolveOverlaps(fbResult.Kept), flagged)
	o.logPass("feedback-pass", fbResult, len(feedback))

	out := append(annotate.Strip(flagged), annotate.Strip(feedback)...)
	for _, gap := range annotate.CoverageGaps(out, enabled) {
		o.log.Debug("coverage gap", "dimension", string(gap.Dimension), "missing", string(gap.Missing))
	}
	return out, nil
}

// loadContext adds the prior profile and recent writing to opts. Failures
// only cost context.
func (o *Orchestrator) loadContext(ctx context.Context, req Request, opts *prompts.Options) {
	if req.StudentID == "" {
		return
	}
	if p, found, err := o.store.GetProfile(ctx, req.StudentID); err != nil {
		o.log.Warn("profile context unavailable", "student_id", req.StudentID, "error", err)
	} else if found {
		opts.PriorProfile = &p
	}

	if o.cfg.PastSubmissions == 0 {
		return
	}
	subs, err := o.store.ListSubmissionsByStudent(ctx, req.StudentID, o.cfg.PastSubmissions)
	if err != nil {
		o.log.Warn("past submissions unavailable", "student_id", req.StudentID, "error", err)
		return
	}
	for _, s := range subs {
		if latest, ok := s.Latest(); ok && strings.TrimSpace(latest.Text) != "" {
			opts.PastSubmissions = append(opts.PastSubmissions, prompts.PastWork{Topic: s.SessionTopic, Text: latest.Text})
		}
	}
}

func (o *Orchestrator) revise(ctx context.Context, req Request, usage *llm.Usage) ([]domain.Annotation, error) {
	originalText, originalAnnotations := req.PreviousText, req.PreviousAnnotations
	if req.SubmissionID != "" {
		sub, err := o.store.GetSubmission(ctx, req.SubmissionID)
		switch {
		case err != nil:
			o.log.Warn("stored submission unavailable; using client copy", "submission_id", req.SubmissionID, "error", err)
		case len(sub.Iterations) > 0:
			originalText = sub.Iterations[0].Text
			originalAnnotations = sub.Iterations[0].Annotations
		}
	}

	issues := OriginalIssues(originalAnnotations)
	if len(issues) == 0 {
		o.log.Info("revision has no original issues; skipping model call", "submission_id", req.SubmissionID)
		return []domain.Annotation{}, nil
	}

	opts := prompts.Options{Level: req.FeedbackLevel, Amount: req.FeedbackAmount}
	prompt := o.prompts.Revision(opts, originalText, issues, req.Text)
	candidates, malformed, err := o.callForAnnotations(ctx, "revision-pass", prompt, usage)
	if err != nil {
		return nil, err
	}
	validated := o.validator.Validate(req.Text, candidates)
	bounded := BoundRevision(issues, validated, originalText, req.Text)
	validated.Dropped = append(malformed, validated.Dropped...)
	o.logPass("revision-pass", validated, len(bounded.Annotations))
	if bounded.Duplicates+bounded.Unknown+bounded.Reproduced+bounded.Reanchored > 0 {
		o.log.Info("revision output bounded",
			"issues", len(issues),
			"duplicates", bounded.Duplicates,
			"unknown", bounded.Unknown,
			"reproduced", bounded.Reproduced,
			"reanchored", bounded.Reanchored,
		)
	}
	return bounded.Annotations, nil
}

// callForAnnotations runs one model pass and decodes its candidates one by
// one. Candidates that do not decode are returned as malformed drops.
func (o *Orchestrator) callForAnnotations(ctx context.Context, op string, p prompts.Prompt, usage *llm.Usage) ([]domain.Annotation, []annotate.Drop, error) {
	completion, err := o.completer.Complete(ctx, llm.Request{
		Operation: op,
		System:    p.System,
		User:      p.User,
		MaxTokens: o.cfg.MaxTokens,
	})
	if err != nil {
		if llm.IsAuthError(err) {
			return nil, nil, fmt.Errorf("%w: %v", ErrUpstreamAuth, err)
		}
		return nil, nil, fmt.Errorf("%w: %s: %w", ErrAnalysisFailed, op, err)
	}
	usage.Add(completion.Usage)

	res, err := llmjson.Parse(completion.Text, llmjson.Options{
		Truncated: completion.Truncated(),
		Salvage:   true,
		ArrayKey:  "annotations",
	})
	if err != nil {
		var perr *llmjson.UnparsableError
		if errors.As(err, &perr) {
			o.log.Error("model response unparsable", "op", op, "step", string(perr.Step), "truncated", completion.Truncated())
		}
		return nil, nil, fmt.Errorf("%w: %s: %w", ErrAnalysisFailed, op, err)
	}
	if res.Step != llmjson.StepStrict {
		o.log.Info("model response repaired", "op", op, "step", string(res.Step))
	}

	field := gjson.GetBytes(res.JSON, "annotations")
	if !field.Exists() {
		o.log.Warn("model response has no annotations", "op", op, "step", string(res.Step))
		return nil, nil, nil
	}
	if !field.IsArray() {
		err := &llmjson.UnparsableError{Step: res.Step, Err: errors.New("annotations is not an array")}
		o.log.Error("model response unparsable", "op", op, "step", string(res.Step), "truncated", completion.Truncated())
		return nil, nil, fmt.Errorf("%w: %s: %w", ErrAnalysisFailed, op, err)
	}
	var raw []json.RawMessage
	field.ForEach(func(_, v gjson.Result) bool {
		raw = append(raw, json.RawMessage(v.Raw))
		return true
	})
	candidates, malformed := o.validator.Decode(raw)
	return candidates, malformed, nil
}

func (o *Orchestrator) persist(ctx context.Context, req Request, annotations []domain.Annotation) (string, int, error) {
	it := domain.Iteration{Text: req.Text, Annotations: annotations, CreatedAt: o.now().UTC()}
	if req.SubmissionID != "" {
		n, err := o.store.AppendIteration(ctx, req.SubmissionID, it)
		if err != nil {
			return "", 0, fmt.Errorf("%w: saving iteration: %w", ErrAnalysisFailed, err)
		}
		return req.SubmissionID, n, nil
	}
	sub, err := o.store.CreateSubmission(ctx, domain.Submission{
		SessionID:    req.SessionID,
		StudentID:    req.StudentID,
		SessionTopic: req.Topic,
		FeedbackMode: domain.FeedbackMode{Level: req.FeedbackLevel, Amount: req.FeedbackAmount},
		Iterations:   []domain.Iteration{it},
		Plan:         req.Plan,
	})
	if err != nil {
		return "", 0, fmt.Errorf("%w: saving submission: %w", ErrAnalysisFailed, err)
	}
	return sub.ID, 1, nil
}

func (o *Orchestrator) scheduleProfileUpdate(req Request, annotations []domain.Annotation) {
	if !o.cfg.ProfileAutoUpdate || o.profiles == nil || req.StudentID == "" || len(annotations) == 0 {
		return
	}
	snapshot := append([]domain.Annotation(nil), annotations...)
	o.background.Add(1)
	go func() {
		defer o.background.Done()
		ctx, cancel := context.WithTimeout(context.Background(), o.cfg.ProfileTimeout)
		defer cancel()
		if _, err := o.profiles.Update(ctx, req.StudentID, snapshot, req.Topic); err != nil {
			o.log.Warn("background profile update failed", "student_id", req.StudentID, "error", err)
		}
	}()
}

func (o *Orchestrator) logPass(op string, res annotate.Result, final int) {
	o.log.Info("annotation pass",
		"op", op,
		"kept", len(res.Kept),
		"dropped", len(res.Dropped),
		"final", final,
	)
}

func keepTypes(in []domain.Annotation, keep func(domain.Annotation) bool) []domain.Annotation {
	out := make([]domain.Annotation, 0, len(in))
	for _, a := range in {
		if keep(a) {
			out = append(out, a)
		}
	}
	return out
}

func containsDim(dims []domain.Dimension, d domain.Dimension) bool {
	for _, x := range dims {
		if x == d {
			return true
		}
	}
	return false
}
