// Package session drives one examinee's exam attempt on the device: the
// phase lifecycle, the local answer sheet, the countdown, and the coalesced
// autosave pipeline feeding the server.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/examtrail/examtrail/internal/agent/api"
	"github.com/examtrail/examtrail/internal/agent/lockdown"
	"github.com/examtrail/examtrail/internal/agent/retry"
	"github.com/examtrail/examtrail/internal/model"
	"github.com/rs/zerolog"
)

// Phase is the session lifecycle position.
type Phase string

const (
	PhaseCodeValidation Phase = "CODE_VALIDATION"
	PhasePersonality    Phase = "PERSONALITY_PHASE"
	PhaseAcademic       Phase = "ACADEMIC_PHASE"
	PhaseSubmitting     Phase = "SUBMITTING"
	PhaseCompleted      Phase = "COMPLETED"
	PhaseAborted        Phase = "ABORTED"
)

var (
	// ErrWrongPhase is returned when an operation is invoked outside the
	// phase it belongs to.
	ErrWrongPhase = errors.New("session: operation not valid in current phase")
	// ErrUnknownQuestion is returned for answers to questions not in the
	// loaded papers.
	ErrUnknownQuestion = errors.New("session: unknown question")
)

// Backend is the server surface the machine depends on. *api.Client
// satisfies it; tests supply fakes.
type Backend interface {
	ValidateCode(ctx context.Context, code string) (*model.ExamMetadata, error)
	GetQuestions(ctx context.Context, refNo string, phase model.Phase) (*model.ExamPaper, error)
	Autosave(ctx context.Context, req *model.AutosaveRequest) (bool, error)
	FetchProgress(ctx context.Context, refNo string) (*model.ExamProgress, error)
	NotifyStarted(ctx context.Context, refNo string, examType model.ExamType, phase model.Phase) error
	NotifyStopped(ctx context.Context, refNo string) error
	Submit(ctx context.Context, refNo string, req *model.SubmitRequest) (*model.SubmitResponse, error)
}

// Machine is the per-attempt session state machine. All exported methods are
// safe for concurrent use; autosaves run on background goroutines.
type Machine struct {
	backend   Backend
	locker    *lockdown.Controller
	clock     func() time.Time
	retryOpts retry.Options
	log       zerolog.Logger

	mu          sync.Mutex
	phase       Phase
	meta        *model.ExamMetadata
	paper       *model.ExamPaper
	answers     map[string]string
	phaseOf     map[string]model.Phase
	deadline    time.Time
	result      *model.SubmitResponse
	cancelWatch context.CancelFunc
	seq         int // bumps on submit/abort so stale autosaves are discarded

	pending  map[string]*model.AutosaveRequest
	inflight map[string]bool
	wg       sync.WaitGroup
}

// Option configures a Machine.
type Option func(*Machine)

// WithLockdown attaches a kiosk controller engaged at session start and
// released at completion or abort.
func WithLockdown(c *lockdown.Controller) Option {
	return func(m *Machine) { m.locker = c }
}

// WithClock overrides the time source for the countdown. Tests inject this.
func WithClock(clock func() time.Time) Option {
	return func(m *Machine) { m.clock = clock }
}

// WithRetryOptions overrides the backoff policy used around backend calls.
func WithRetryOptions(opts retry.Options) Option {
	return func(m *Machine) { m.retryOpts = opts }
}

// New creates a Machine awaiting code validation.
func New(backend Backend, log zerolog.Logger, opts ...Option) *Machine {
	m := &Machine{
		backend:  backend,
		clock:    time.Now,
		log:      log.With().Str("component", "session").Logger(),
		phase:    PhaseCodeValidation,
		answers:  make(map[string]string),
		phaseOf:  make(map[string]model.Phase),
		pending:  make(map[string]*model.AutosaveRequest),
		inflight: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Phase returns the current lifecycle phase.
func (m *Machine) Phase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}

// Paper returns the currently loaded question set.
func (m *Machine) Paper() *model.ExamPaper {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.paper
}

// Meta returns the validated exam metadata, nil before Begin succeeds.
func (m *Machine) Meta() *model.ExamMetadata {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.meta
}

// RemainingSeconds reports the countdown, clamped at zero.
func (m *Machine) RemainingSeconds() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.remainingLocked()
}

func (m *Machine) remainingLocked() int {
	if m.deadline.IsZero() {
		return 0
	}
	left := m.deadline.Sub(m.clock())
	if left < 0 {
		return 0
	}
	return int(left / time.Second)
}

// Expired reports whether the countdown ran out.
func (m *Machine) Expired() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.deadline.IsZero() && m.remainingLocked() == 0
}

// Result returns the scoring response of a completed submission, nil until
// the session completes.
func (m *Machine) Result() *model.SubmitResponse {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.result
}

// permanent stops the retry loop on responses that will not change with
// another attempt: the server understood the request and refused it, or
// rejected the credentials outright.
func permanent(err error) error {
	var authErr *api.AuthError
	var valErr *api.ValidationError
	if errors.As(err, &authErr) || errors.As(err, &valErr) {
		return &retry.Permanent{Err: err}
	}
	return err
}

// abortOnAuth forces the session down when the server rejects the token.
// The device shell sends the examinee back to login.
func (m *Machine) abortOnAuth(ctx context.Context, err error) {
	var authErr *api.AuthError
	if errors.As(err, &authErr) {
		m.Abort(ctx, "session credentials rejected")
	}
}

// Begin validates the access code, engages lockdown, recovers any saved
// progress, and enters the first phase. Saved remaining-seconds shorten the
// countdown; a fresh attempt gets the full exam duration.
func (m *Machine) Begin(ctx context.Context, code string) error {
	m.mu.Lock()
	if m.phase != PhaseCodeValidation {
		m.mu.Unlock()
		return ErrWrongPhase
	}
	m.mu.Unlock()

	meta, err := retry.Do(ctx, m.retryOpts, func(ctx context.Context) (*model.ExamMetadata, error) {
		meta, err := m.backend.ValidateCode(ctx, code)
		if err != nil {
			return nil, permanent(err)
		}
		return meta, nil
	})
	if err != nil {
		m.abortOnAuth(ctx, err)
		return fmt.Errorf("validate code: %w", err)
	}

	if m.locker != nil {
		if err := m.locker.Engage(ctx); err != nil {
			return fmt.Errorf("lockdown: %w", err)
		}
	}

	remaining := meta.DurationMinutes * 60
	progress, err := retry.Do(ctx, m.retryOpts, func(ctx context.Context) (*model.ExamProgress, error) {
		progress, err := m.backend.FetchProgress(ctx, meta.RefNo)
		if err != nil {
			return nil, permanent(err)
		}
		return progress, nil
	})
	if err != nil {
		// Recovery is best-effort: a fresh sheet is better than no exam.
		m.log.Warn().Err(err).Str("exam_ref_no", meta.RefNo).Msg("Progress recovery failed, starting fresh")
		progress = &model.ExamProgress{}
	}

	answers := make(map[string]string, len(progress.Answers))
	for _, a := range progress.Answers {
		answers[a.QuestionID] = a.SelectedAnswer
	}
	if len(progress.Answers) > 0 && progress.RemainingSeconds > 0 {
		remaining = progress.RemainingSeconds
	}

	first := PhaseAcademic
	if meta.ExamType == model.ExamTypeWithPersonality {
		first = PhasePersonality
	}

	m.mu.Lock()
	m.meta = meta
	m.answers = answers
	m.deadline = m.clock().Add(time.Duration(remaining) * time.Second)
	m.phase = first
	m.mu.Unlock()

	if err := m.loadPaper(ctx, first); err != nil {
		m.abortOnAuth(ctx, err)
		return err
	}

	watchCtx, cancel := context.WithCancel(context.Background())
	m.mu.Lock()
	m.cancelWatch = cancel
	m.mu.Unlock()
	if m.locker != nil {
		go m.locker.Observe(watchCtx)
		go m.watchLockdown(watchCtx)
	}
	go m.watchDeadline(watchCtx, time.Duration(remaining)*time.Second)

	m.notifyStarted(ctx, first)
	m.log.Info().
		Str("exam_ref_no", meta.RefNo).
		Str("phase", string(first)).
		Int("recovered_answers", len(answers)).
		Int("remaining_seconds", remaining).
		Msg("Session started")
	return nil
}

// watchLockdown turns a mid-session pin break or denial into an abort. Loss
// of lockdown invalidates the attempt; saved progress stays recoverable.
func (m *Machine) watchLockdown(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-m.locker.Events():
			if ev.Type != lockdown.EventIntercepted && ev.Type != lockdown.EventDenied {
				continue
			}
			m.log.Warn().Str("event", string(ev.Type)).Msg("Lockdown lost")
			m.Abort(context.Background(), "lockdown lost")
			return
		}
	}
}

// watchDeadline submits the sheet when the countdown runs out. Whatever is
// answered at that point is what gets scored.
func (m *Machine) watchDeadline(ctx context.Context, left time.Duration) {
	timer := time.NewTimer(left)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return
	case <-timer.C:
	}

	m.mu.Lock()
	answering := m.phase == PhasePersonality || m.phase == PhaseAcademic
	m.mu.Unlock()
	if !answering {
		return
	}

	m.log.Info().Msg("Time expired, submitting the answer sheet")
	if _, err := m.Submit(context.Background()); err != nil && !errors.Is(err, ErrWrongPhase) {
		m.log.Error().Err(err).Msg("Submit on expiry failed")
	}
}

// SelectAnswer records an answer locally and schedules a coalesced autosave.
// The autosave never blocks the examinee and never fails the selection.
func (m *Machine) SelectAnswer(questionID, answer string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.phase != PhasePersonality && m.phase != PhaseAcademic {
		return ErrWrongPhase
	}
	if _, known := m.phaseOf[questionID]; !known {
		return ErrUnknownQuestion
	}

	m.answers[questionID] = answer

	ans := answer
	m.pending[questionID] = &model.AutosaveRequest{
		ExamRefNo:        m.meta.RefNo,
		QuestionID:       questionID,
		SelectedAnswer:   &ans,
		RemainingSeconds: m.remainingLocked(),
	}

	// One flusher per question: rapid re-selection overwrites the pending
	// request, so only the newest value goes out.
	if !m.inflight[questionID] {
		m.inflight[questionID] = true
		m.wg.Add(1)
		go m.flush(questionID, m.seq)
	}
	return nil
}

func (m *Machine) flush(questionID string, seq int) {
	defer m.wg.Done()
	for {
		m.mu.Lock()
		req := m.pending[questionID]
		delete(m.pending, questionID)
		if req == nil || m.seq != seq {
			m.inflight[questionID] = false
			m.mu.Unlock()
			return
		}
		m.mu.Unlock()

		// One shot, no backoff: backoff here would hold a goroutine per
		// question through venue Wi-Fi blips for answers that are already
		// superseded. A dropped save converges on the next selection, and
		// the full sheet goes out at submit regardless.
		saved, err := m.backend.Autosave(context.Background(), req)
		if err != nil {
			m.log.Warn().Err(err).Str("question_id", questionID).Msg("Autosave dropped")
		} else if !saved {
			m.log.Warn().Str("question_id", questionID).Msg("Autosave not accepted")
		}
	}
}

// Answer returns the locally recorded answer for a question.
func (m *Machine) Answer(questionID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.answers[questionID]
	return a, ok
}

// AdvancePhase moves from the personality phase to the academic phase.
func (m *Machine) AdvancePhase(ctx context.Context) error {
	m.mu.Lock()
	if m.phase != PhasePersonality {
		m.mu.Unlock()
		return ErrWrongPhase
	}
	m.phase = PhaseAcademic
	m.mu.Unlock()

	if err := m.loadPaper(ctx, PhaseAcademic); err != nil {
		m.abortOnAuth(ctx, err)
		return err
	}
	m.notifyStarted(ctx, PhaseAcademic)
	return nil
}

// Submit sends the full answer sheet for scoring. On success the session is
// complete and lockdown is released; resubmission on a completed attempt
// returns the stored result.
func (m *Machine) Submit(ctx context.Context) (*model.SubmitResponse, error) {
	m.mu.Lock()
	if m.phase != PhasePersonality && m.phase != PhaseAcademic {
		m.mu.Unlock()
		return nil, ErrWrongPhase
	}
	m.phase = PhaseSubmitting
	m.seq++ // Outstanding autosaves are superseded by the full sheet.

	req := &model.SubmitRequest{ExamType: m.meta.ExamType}
	for qid, ans := range m.answers {
		req.Answers = append(req.Answers, model.SubmittedAnswer{
			QuestionID:     qid,
			SelectedAnswer: ans,
			Phase:          m.phaseOf[qid],
		})
	}
	refNo := m.meta.RefNo
	prev := m.phaseBeforeSubmitLocked()
	m.mu.Unlock()

	resp, err := retry.Do(ctx, m.retryOpts, func(ctx context.Context) (*model.SubmitResponse, error) {
		resp, err := m.backend.Submit(ctx, refNo, req)
		if err != nil {
			return nil, permanent(err)
		}
		return resp, nil
	})
	if err != nil {
		var authErr *api.AuthError
		if errors.As(err, &authErr) {
			m.Abort(ctx, "session credentials rejected")
			return nil, fmt.Errorf("submit: %w", err)
		}
		// Stay submittable: the answers are intact and retryable later.
		m.mu.Lock()
		m.phase = prev
		m.mu.Unlock()
		return nil, fmt.Errorf("submit: %w", err)
	}

	m.mu.Lock()
	m.phase = PhaseCompleted
	m.result = resp
	cancel := m.cancelWatch
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	if err := m.backend.NotifyStopped(ctx, refNo); err != nil {
		m.log.Debug().Err(err).Msg("Stopped notify failed")
	}
	if m.locker != nil {
		m.locker.Release()
	}

	m.log.Info().
		Str("exam_ref_no", refNo).
		Bool("already_submitted", resp.AlreadySubmitted).
		Msg("Session completed")
	return resp, nil
}

// phaseBeforeSubmitLocked picks the phase to fall back to when submission
// fails. Callers hold the mutex.
func (m *Machine) phaseBeforeSubmitLocked() Phase {
	if m.meta != nil && m.meta.ExamType == model.ExamTypeWithPersonality && m.paper != nil && m.paper.Phase == model.PhasePersonality {
		return PhasePersonality
	}
	return PhaseAcademic
}

// Abort ends the session without scoring. Saved progress stays on the server
// so the attempt can resume on a fresh session.
func (m *Machine) Abort(ctx context.Context, reason string) {
	m.mu.Lock()
	if m.phase == PhaseCompleted || m.phase == PhaseAborted {
		m.mu.Unlock()
		return
	}
	m.phase = PhaseAborted
	m.seq++
	refNo := ""
	if m.meta != nil {
		refNo = m.meta.RefNo
	}
	cancel := m.cancelWatch
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	if refNo != "" {
		if err := m.backend.NotifyStopped(ctx, refNo); err != nil {
			m.log.Debug().Err(err).Msg("Stopped notify failed")
		}
	}
	if m.locker != nil {
		m.locker.Release()
	}

	m.log.Warn().Str("reason", reason).Str("exam_ref_no", refNo).Msg("Session aborted")
}

// Wait blocks until all background autosave flushers finish. Intended for
// shutdown and tests.
func (m *Machine) Wait() {
	m.wg.Wait()
}

func (m *Machine) loadPaper(ctx context.Context, phase Phase) error {
	wire := model.PhaseAcademic
	if phase == PhasePersonality {
		wire = model.PhasePersonality
	}

	m.mu.Lock()
	refNo := m.meta.RefNo
	m.mu.Unlock()

	paper, err := retry.Do(ctx, m.retryOpts, func(ctx context.Context) (*model.ExamPaper, error) {
		paper, err := m.backend.GetQuestions(ctx, refNo, wire)
		if err != nil {
			return nil, permanent(err)
		}
		return paper, nil
	})
	if err != nil {
		return fmt.Errorf("load paper: %w", err)
	}

	m.mu.Lock()
	m.paper = paper
	for _, q := range paper.Questions {
		m.phaseOf[q.ID.String()] = q.Phase
	}
	m.mu.Unlock()
	return nil
}

// notifyStarted is best-effort: monitoring must never block the examinee.
func (m *Machine) notifyStarted(ctx context.Context, phase Phase) {
	wire := model.PhaseAcademic
	if phase == PhasePersonality {
		wire = model.PhasePersonality
	}

	m.mu.Lock()
	refNo, examType := m.meta.RefNo, m.meta.ExamType
	m.mu.Unlock()

	if err := m.backend.NotifyStarted(ctx, refNo, examType, wire); err != nil {
		m.log.Debug().Err(err).Str("phase", string(phase)).Msg("Started notify failed")
	}
}
