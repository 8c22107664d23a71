package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/examtrail/examtrail/internal/agent/api"
	"github.com/examtrail/examtrail/internal/agent/lockdown"
	"github.com/examtrail/examtrail/internal/agent/retry"
	"github.com/examtrail/examtrail/internal/model"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	qid1 = uuid.New()
	qid2 = uuid.New()
	qid3 = uuid.New()
)

// fakeBackend is an in-memory Backend for machine tests.
type fakeBackend struct {
	mu sync.Mutex

	meta     *model.ExamMetadata
	progress *model.ExamProgress

	validateErr error
	autosaveErr error
	submitErr   error
	submitFails int // first N Submit calls fail transiently

	validateCalls int
	autosaves     []*model.AutosaveRequest
	autosaveCalls int
	autosaveGate  chan struct{} // when set, Autosave blocks until closed
	started       []model.Phase
	stoppedCalls  int
	submitted     *model.SubmitRequest
	submitCalls   int
	alreadySubbed bool
}

func (f *fakeBackend) ValidateCode(ctx context.Context, code string) (*model.ExamMetadata, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.validateCalls++
	if f.validateErr != nil {
		return nil, f.validateErr
	}
	return f.meta, nil
}

func (f *fakeBackend) GetQuestions(ctx context.Context, refNo string, phase model.Phase) (*model.ExamPaper, error) {
	paper := &model.ExamPaper{ExamRefNo: refNo, Phase: phase}
	switch phase {
	case model.PhasePersonality:
		paper.Questions = []model.QuestionForExaminee{
			{ID: qid3, Phase: model.PhasePersonality, OrderNum: 1},
		}
	default:
		paper.Questions = []model.QuestionForExaminee{
			{ID: qid1, Phase: model.PhaseAcademic, Category: "math", OrderNum: 1},
			{ID: qid2, Phase: model.PhaseAcademic, Category: "logic", OrderNum: 2},
		}
	}
	return paper, nil
}

func (f *fakeBackend) Autosave(ctx context.Context, req *model.AutosaveRequest) (bool, error) {
	f.mu.Lock()
	gate := f.autosaveGate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.autosaveCalls++
	if f.autosaveErr != nil {
		return false, f.autosaveErr
	}
	f.autosaves = append(f.autosaves, req)
	return true, nil
}

func (f *fakeBackend) FetchProgress(ctx context.Context, refNo string) (*model.ExamProgress, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.progress != nil {
		return f.progress, nil
	}
	return &model.ExamProgress{}, nil
}

func (f *fakeBackend) NotifyStarted(ctx context.Context, refNo string, examType model.ExamType, phase model.Phase) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, phase)
	return nil
}

func (f *fakeBackend) NotifyStopped(ctx context.Context, refNo string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stoppedCalls++
	return nil
}

func (f *fakeBackend) Submit(ctx context.Context, refNo string, req *model.SubmitRequest) (*model.SubmitResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitCalls++
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	if f.submitFails > 0 {
		f.submitFails--
		return nil, errors.New("gateway timeout")
	}
	f.submitted = req
	return &model.SubmitResponse{
		Result:           &model.ExamResult{ExamRefNo: refNo, ScorePercentage: 80},
		AlreadySubmitted: f.alreadySubbed,
	}, nil
}

func academicMeta() *model.ExamMetadata {
	return &model.ExamMetadata{
		RefNo:           "EX-2026-001",
		Title:           "Entrance Exam",
		ExamType:        model.ExamTypeAcademicOnly,
		DurationMinutes: 90,
	}
}

func fastRetry() retry.Options {
	return retry.Options{
		MaxAttempts: 3,
		Sleep:       func(context.Context, time.Duration) error { return nil },
	}
}

func newTestMachine(f *fakeBackend, opts ...Option) *Machine {
	opts = append([]Option{WithRetryOptions(fastRetry())}, opts...)
	return New(f, zerolog.Nop(), opts...)
}

func TestBeginAcademicOnly(t *testing.T) {
	f := &fakeBackend{meta: academicMeta()}
	m := newTestMachine(f)

	if err := m.Begin(context.Background(), "SECRET-CODE"); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if m.Phase() != PhaseAcademic {
		t.Fatalf("expected academic phase, got %s", m.Phase())
	}
	if m.Paper() == nil || len(m.Paper().Questions) != 2 {
		t.Fatal("expected academic paper with 2 questions")
	}
	if len(f.started) != 1 || f.started[0] != model.PhaseAcademic {
		t.Fatalf("expected one academic started notify, got %v", f.started)
	}
}

func TestBeginWithPersonalityPhase(t *testing.T) {
	meta := academicMeta()
	meta.ExamType = model.ExamTypeWithPersonality
	f := &fakeBackend{meta: meta}
	m := newTestMachine(f)

	if err := m.Begin(context.Background(), "SECRET-CODE"); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if m.Phase() != PhasePersonality {
		t.Fatalf("expected personality phase first, got %s", m.Phase())
	}

	if err := m.AdvancePhase(context.Background()); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if m.Phase() != PhaseAcademic {
		t.Fatalf("expected academic phase, got %s", m.Phase())
	}
	if len(f.started) != 2 {
		t.Fatalf("expected started notify per phase, got %v", f.started)
	}
}

func TestBeginRecoversProgress(t *testing.T) {
	f := &fakeBackend{
		meta: academicMeta(),
		progress: &model.ExamProgress{
			Answers: []model.SavedAnswer{
				{QuestionID: qid1.String(), SelectedAnswer: "B"},
			},
			RemainingSeconds: 600,
		},
	}

	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	m := newTestMachine(f, WithClock(func() time.Time { return now }))

	if err := m.Begin(context.Background(), "SECRET-CODE"); err != nil {
		t.Fatalf("begin: %v", err)
	}

	if a, ok := m.Answer(qid1.String()); !ok || a != "B" {
		t.Fatalf("expected recovered answer B, got %q (%v)", a, ok)
	}
	if got := m.RemainingSeconds(); got != 600 {
		t.Fatalf("expected countdown from saved remaining 600, got %d", got)
	}
}

func TestBeginFreshUsesFullDuration(t *testing.T) {
	f := &fakeBackend{meta: academicMeta()}
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	m := newTestMachine(f, WithClock(func() time.Time { return now }))

	if err := m.Begin(context.Background(), "SECRET-CODE"); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if got := m.RemainingSeconds(); got != 90*60 {
		t.Fatalf("expected full duration %d, got %d", 90*60, got)
	}
}

func TestBeginWrongPhase(t *testing.T) {
	f := &fakeBackend{meta: academicMeta()}
	m := newTestMachine(f)
	if err := m.Begin(context.Background(), "SECRET-CODE"); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := m.Begin(context.Background(), "SECRET-CODE"); !errors.Is(err, ErrWrongPhase) {
		t.Fatalf("expected ErrWrongPhase, got %v", err)
	}
}

func TestSelectAnswerUnknownQuestion(t *testing.T) {
	f := &fakeBackend{meta: academicMeta()}
	m := newTestMachine(f)
	if err := m.Begin(context.Background(), "SECRET-CODE"); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := m.SelectAnswer(uuid.NewString(), "A"); !errors.Is(err, ErrUnknownQuestion) {
		t.Fatalf("expected ErrUnknownQuestion, got %v", err)
	}
}

func TestSelectAnswerCoalesces(t *testing.T) {
	f := &fakeBackend{meta: academicMeta()}
	gate := make(chan struct{})
	f.autosaveGate = gate

	m := newTestMachine(f)
	if err := m.Begin(context.Background(), "SECRET-CODE"); err != nil {
		t.Fatalf("begin: %v", err)
	}

	// Rapid re-selection while the first save is in flight: intermediate
	// values must be coalesced away.
	if err := m.SelectAnswer(qid1.String(), "A"); err != nil {
		t.Fatalf("select: %v", err)
	}
	if err := m.SelectAnswer(qid1.String(), "B"); err != nil {
		t.Fatalf("select: %v", err)
	}
	if err := m.SelectAnswer(qid1.String(), "C"); err != nil {
		t.Fatalf("select: %v", err)
	}
	close(gate)
	m.Wait()

	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.autosaves) > 2 {
		t.Fatalf("expected coalesced saves, got %d", len(f.autosaves))
	}
	last := f.autosaves[len(f.autosaves)-1]
	if last.SelectedAnswer == nil || *last.SelectedAnswer != "C" {
		t.Fatalf("expected final save to carry C, got %v", last.SelectedAnswer)
	}
	if last.ExamRefNo != "EX-2026-001" || last.QuestionID != qid1.String() {
		t.Fatalf("unexpected save payload: %+v", last)
	}
}

func TestSubmitBuildsFullSheet(t *testing.T) {
	f := &fakeBackend{meta: academicMeta()}
	m := newTestMachine(f)
	if err := m.Begin(context.Background(), "SECRET-CODE"); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := m.SelectAnswer(qid1.String(), "A"); err != nil {
		t.Fatalf("select: %v", err)
	}
	if err := m.SelectAnswer(qid2.String(), "D"); err != nil {
		t.Fatalf("select: %v", err)
	}
	m.Wait()

	resp, err := m.Submit(context.Background())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if resp.AlreadySubmitted {
		t.Fatal("fresh submit should not report already submitted")
	}
	if m.Phase() != PhaseCompleted {
		t.Fatalf("expected completed, got %s", m.Phase())
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitted == nil || len(f.submitted.Answers) != 2 {
		t.Fatalf("expected 2 submitted answers, got %+v", f.submitted)
	}
	for _, a := range f.submitted.Answers {
		if a.Phase != model.PhaseAcademic {
			t.Fatalf("expected academic phase on answer, got %s", a.Phase)
		}
	}
	if f.stoppedCalls != 1 {
		t.Fatalf("expected one stopped notify, got %d", f.stoppedCalls)
	}
}

func TestSubmitRetriesTransientFailure(t *testing.T) {
	f := &fakeBackend{meta: academicMeta(), submitFails: 2}
	m := newTestMachine(f)
	if err := m.Begin(context.Background(), "SECRET-CODE"); err != nil {
		t.Fatalf("begin: %v", err)
	}

	if _, err := m.Submit(context.Background()); err != nil {
		t.Fatalf("submit should succeed on third attempt: %v", err)
	}
	if f.submitCalls != 3 {
		t.Fatalf("expected 3 submit calls, got %d", f.submitCalls)
	}
}

func TestSubmitFailureRestoresPhase(t *testing.T) {
	f := &fakeBackend{meta: academicMeta(), submitErr: errors.New("boom")}
	m := newTestMachine(f)
	if err := m.Begin(context.Background(), "SECRET-CODE"); err != nil {
		t.Fatalf("begin: %v", err)
	}

	if _, err := m.Submit(context.Background()); err == nil {
		t.Fatal("expected submit error")
	}
	if m.Phase() != PhaseAcademic {
		t.Fatalf("expected phase restored to academic, got %s", m.Phase())
	}
}

func TestSubmitDuplicateReturnsPrior(t *testing.T) {
	f := &fakeBackend{meta: academicMeta(), alreadySubbed: true}
	m := newTestMachine(f)
	if err := m.Begin(context.Background(), "SECRET-CODE"); err != nil {
		t.Fatalf("begin: %v", err)
	}

	resp, err := m.Submit(context.Background())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !resp.AlreadySubmitted {
		t.Fatal("expected already-submitted marker")
	}
	if m.Phase() != PhaseCompleted {
		t.Fatalf("expected completed, got %s", m.Phase())
	}
}

func TestAbort(t *testing.T) {
	f := &fakeBackend{meta: academicMeta()}
	m := newTestMachine(f)
	if err := m.Begin(context.Background(), "SECRET-CODE"); err != nil {
		t.Fatalf("begin: %v", err)
	}

	m.Abort(context.Background(), "proctor reset")
	if m.Phase() != PhaseAborted {
		t.Fatalf("expected aborted, got %s", m.Phase())
	}
	if f.stoppedCalls != 1 {
		t.Fatalf("expected one stopped notify, got %d", f.stoppedCalls)
	}

	// A completed or aborted session cannot submit.
	if _, err := m.Submit(context.Background()); !errors.Is(err, ErrWrongPhase) {
		t.Fatalf("expected ErrWrongPhase, got %v", err)
	}
}

func TestCountdownExpiry(t *testing.T) {
	f := &fakeBackend{meta: academicMeta()}
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	m := newTestMachine(f, WithClock(func() time.Time { return now }))

	if err := m.Begin(context.Background(), "SECRET-CODE"); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if m.Expired() {
		t.Fatal("should not be expired at start")
	}

	now = now.Add(91 * time.Minute)
	if !m.Expired() {
		t.Fatal("expected expiry after the duration elapsed")
	}
	if m.RemainingSeconds() != 0 {
		t.Fatalf("expected 0 remaining, got %d", m.RemainingSeconds())
	}
}

func TestBeginInvalidCodeNotRetried(t *testing.T) {
	f := &fakeBackend{validateErr: &api.ValidationError{
		Status: 401, Code: "INVALID_EXAM_CODE", Message: "invalid exam access code",
	}}
	m := newTestMachine(f)

	err := m.Begin(context.Background(), "WRONG-CODE")
	var valErr *api.ValidationError
	if !errors.As(err, &valErr) {
		t.Fatalf("expected the validation error surfaced, got %v", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.validateCalls != 1 {
		t.Fatalf("a rejected code must not be retried: %d validate calls", f.validateCalls)
	}
}

func TestBeginAuthRejectionAborts(t *testing.T) {
	f := &fakeBackend{validateErr: &api.AuthError{
		Status: 401, Code: "UNAUTHORIZED", Message: "token expired",
	}}
	m := newTestMachine(f)

	err := m.Begin(context.Background(), "SECRET-CODE")
	var authErr *api.AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected the auth error surfaced, got %v", err)
	}
	if m.Phase() != PhaseAborted {
		t.Fatalf("expected aborted after credential rejection, got %s", m.Phase())
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.validateCalls != 1 {
		t.Fatalf("a rejected token must not be retried: %d validate calls", f.validateCalls)
	}
}

func TestSubmitAuthRejectionAborts(t *testing.T) {
	f := &fakeBackend{meta: academicMeta()}
	m := newTestMachine(f)
	if err := m.Begin(context.Background(), "SECRET-CODE"); err != nil {
		t.Fatalf("begin: %v", err)
	}

	f.mu.Lock()
	f.submitErr = &api.AuthError{Status: 403, Code: "SESSION_CONFLICT", Message: "signed in elsewhere"}
	f.mu.Unlock()

	_, err := m.Submit(context.Background())
	var authErr *api.AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected the auth error surfaced, got %v", err)
	}
	if m.Phase() != PhaseAborted {
		t.Fatalf("expected aborted, got %s", m.Phase())
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitCalls != 1 {
		t.Fatalf("a rejected token must not be retried: %d submit calls", f.submitCalls)
	}
	if f.stoppedCalls != 1 {
		t.Fatalf("expected one stopped notify, got %d", f.stoppedCalls)
	}
}

func TestAutosaveFailureIsNotRetried(t *testing.T) {
	f := &fakeBackend{meta: academicMeta(), autosaveErr: errors.New("connection reset")}
	m := newTestMachine(f)
	if err := m.Begin(context.Background(), "SECRET-CODE"); err != nil {
		t.Fatalf("begin: %v", err)
	}

	if err := m.SelectAnswer(qid1.String(), "A"); err != nil {
		t.Fatalf("select: %v", err)
	}
	m.Wait()

	f.mu.Lock()
	calls := f.autosaveCalls
	f.mu.Unlock()
	if calls != 1 {
		t.Fatalf("a failed autosave must be dropped, not retried: %d calls", calls)
	}
	// The local sheet keeps the answer; the full submit carries it anyway.
	if a, ok := m.Answer(qid1.String()); !ok || a != "A" {
		t.Fatalf("expected local answer kept, got %q (%v)", a, ok)
	}
}

// kioskFake is a minimal lockdown.Platform whose pin can be broken from the
// test to simulate the examinee escaping the kiosk.
type kioskFake struct {
	mu     sync.Mutex
	pinned bool
}

func (k *kioskFake) RequestPin() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.pinned = true
	return nil
}

func (k *kioskFake) Unpin() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.pinned = false
	return nil
}

func (k *kioskFake) Pinned() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.pinned
}

func (k *kioskFake) SetSecureSurface(bool) error { return nil }
func (k *kioskFake) RaiseOverlay() error         { return nil }
func (k *kioskFake) LowerOverlay() error         { return nil }
func (k *kioskFake) PromptText() (string, bool)  { return "", false }
func (k *kioskFake) OpenSecuritySettings() error { return nil }

var _ lockdown.Platform = (*kioskFake)(nil)

func (k *kioskFake) breakPin() {
	k.mu.Lock()
	k.pinned = false
	k.mu.Unlock()
}

func TestLockdownLossAbortsSession(t *testing.T) {
	f := &fakeBackend{meta: academicMeta()}
	kiosk := &kioskFake{}
	locker := lockdown.New(kiosk, zerolog.Nop(), lockdown.WithPollInterval(time.Millisecond))
	m := newTestMachine(f, WithLockdown(locker))

	if err := m.Begin(context.Background(), "SECRET-CODE"); err != nil {
		t.Fatalf("begin: %v", err)
	}
	kiosk.breakPin()

	deadline := time.Now().Add(3 * time.Second)
	for {
		f.mu.Lock()
		stopped := f.stoppedCalls
		f.mu.Unlock()
		if stopped == 1 && m.Phase() == PhaseAborted {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("session not aborted after pin break: phase %s, %d stopped notifies", m.Phase(), stopped)
		}
		time.Sleep(5 * time.Millisecond)
	}

	if _, err := m.Submit(context.Background()); !errors.Is(err, ErrWrongPhase) {
		t.Fatalf("expected ErrWrongPhase after abort, got %v", err)
	}
}

func TestExpiryForcesSubmission(t *testing.T) {
	f := &fakeBackend{
		meta: academicMeta(),
		progress: &model.ExamProgress{
			Answers:          []model.SavedAnswer{{QuestionID: qid1.String(), SelectedAnswer: "A"}},
			RemainingSeconds: 1,
		},
	}
	m := newTestMachine(f)
	if err := m.Begin(context.Background(), "SECRET-CODE"); err != nil {
		t.Fatalf("begin: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for m.Phase() != PhaseCompleted {
		if time.Now().After(deadline) {
			t.Fatalf("expected submission when time ran out, phase %s", m.Phase())
		}
		time.Sleep(20 * time.Millisecond)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitCalls != 1 {
		t.Fatalf("expected one submit call, got %d", f.submitCalls)
	}
	if f.submitted == nil || len(f.submitted.Answers) != 1 {
		t.Fatalf("expected the recovered answer on the sheet, got %+v", f.submitted)
	}
	if m.Result() == nil {
		t.Fatal("expected the scoring result retained on the machine")
	}
}
