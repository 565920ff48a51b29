package wizard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	q "github.com/GoCodeAlone/onboarding/questionnaire"
	"github.com/GoCodeAlone/onboarding/store"
)

// Options configures a Session. Store, Backend and Navigator are required.
type Options struct {
	Store     ProgressStore
	Backend   Backend
	Widget    Widget
	Navigator Navigator
	Notifier  Notifier
	Confirmer Confirmer
	Logger    *slog.Logger

	// Now overrides the clock used for age checks.
	Now         func() time.Time
	PhoneRegion string

	RetryBackoff   time.Duration
	PollInterval   time.Duration
	PollAttempts   int
	RedirectTarget string
}

// Session is one open wizard. It owns the controller state, the
// submission queue and the handle to local persistence. Methods are safe
// for concurrent use.
type Session struct {
	opts   Options
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	queue  *Queue
	bg     sync.WaitGroup

	mu        sync.Mutex
	ctrl      *Controller
	record    *Progress
	pending   map[int]bool
	gen       int
	verifying bool
}

// Open loads the persisted wizard record and resumes from it. When no
// record exists the user is sent to login and ErrNoProgress is returned.
func Open(ctx context.Context, opts Options) (*Session, error) {
	if opts.Store == nil || opts.Backend == nil || opts.Navigator == nil {
		return nil, errors.New("wizard: store, backend and navigator are required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	rec, err := loadProgress(ctx, opts.Store)
	if errors.Is(err, ErrNoProgress) {
		opts.Navigator.ToLogin()
		return nil, err
	}
	if err != nil {
		return nil, err
	}
	if rec.normalize() {
		if err := saveProgress(ctx, opts.Store, rec); err != nil {
			return nil, err
		}
	}

	v := &Validator{Now: opts.Now, PhoneRegion: opts.PhoneRegion}
	if v.PhoneRegion == "" {
		v.PhoneRegion = NewValidator().PhoneRegion
	}

	sctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &Session{
		opts:    opts,
		logger:  logger,
		ctx:     sctx,
		cancel:  cancel,
		ctrl:    NewController(stateFromProgress(rec), v),
		record:  rec,
		pending: map[int]bool{},
	}
	s.queue = NewQueue(sctx, s.submit, opts.RetryBackoff, QueueHooks{
		OnSuccess:      s.submitted,
		OnUnauthorized: s.expired,
		OnFailure: func(ctx context.Context, f *SyncFailure) {
			_ = s.recover(ctx, f)
		},
	}, logger)

	s.mu.Lock()
	s.autofillCountryLocked()
	s.enterStepLocked()
	s.mu.Unlock()
	return s, nil
}

func loadProgress(ctx context.Context, st ProgressStore) (*Progress, error) {
	raw, err := st.Get(ctx, ProgressKey)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNoProgress
	}
	if err != nil {
		return nil, fmt.Errorf("wizard: load progress: %w", err)
	}
	var rec Progress
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("wizard: decode progress: %w", err)
	}
	if rec.FormData == nil {
		rec.FormData = FormData{}
	}
	return &rec, nil
}

func saveProgress(ctx context.Context, st ProgressStore, rec *Progress) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("wizard: encode progress: %w", err)
	}
	if err := st.Put(ctx, ProgressKey, raw); err != nil {
		return fmt.Errorf("wizard: save progress: %w", err)
	}
	return nil
}

// persistLocked writes the controller state over the stored record.
func (s *Session) persistLocked() error {
	st := s.ctrl.State()
	s.record.CurrentSubStepIndex = st.Index
	s.record.HighestStep = st.Highest
	s.record.FormData = st.FormData
	return saveProgress(s.ctx, s.opts.Store, s.record)
}

// Close stops background submission and polling and waits for them.
func (s *Session) Close() {
	s.cancel()
	s.queue.Wait()
	s.bg.Wait()
}

// Verifying reports whether identity verification is running.
func (s *Session) Verifying() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.verifying
}

// Wait blocks until the submission queue is idle.
func (s *Session) Wait() {
	s.queue.Wait()
}

// State returns a snapshot of the wizard state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctrl.State()
}

// Step returns the current step.
func (s *Session) Step() StepID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctrl.Step()
}

// View returns committed data overlaid with the current step's input.
func (s *Session) View() FormData {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctrl.View()
}

// Errors returns the field errors of the current step.
func (s *Session) Errors() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctrl.Errors()
}

// Pending reports whether the step at flow index i has a submission that
// has not completed yet.
func (s *Session) Pending(i int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending[i]
}

// SetText records text input on the current step.
func (s *Session) SetText(name, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ctrl.SetField(name, Text(value))
}

// SetSelect records a dropdown choice on the current step.
func (s *Session) SetSelect(name, value, label string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ctrl.SetSelect(name, value, label)
}

// SetCheckbox records a single checkbox on the current step.
func (s *Session) SetCheckbox(name, value string, checked bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ctrl.SetField(name, Checkbox(value, checked))
}

// ClearError hides the error shown for a field.
func (s *Session) ClearError(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ctrl.ClearError(name)
}

// Options returns the selectable options for question index i of the
// loaded questionnaire.
func (s *Session) Options(i int) []q.Option {
	s.mu.Lock()
	defer s.mu.Unlock()
	return QuestionOptions(s.record.Questionnaires, i)
}

// Advance validates the current step, commits it, persists, and queues it
// for submission. It returns a *ValidationError when the step is invalid
// and ErrCancelled when the user declines the risk warning.
func (s *Session) Advance(ctx context.Context) error {
	s.mu.Lock()
	t, err := s.ctrl.prepareAdvance()
	gen := s.gen
	s.mu.Unlock()
	if err != nil {
		return err
	}

	if t.risky {
		ok, err := s.confirmRisk(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return ErrCancelled
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen {
		// State was replaced by recovery while the user was deciding.
		return ErrCancelled
	}
	next := s.ctrl.commitAdvance(t)
	if err := s.persistLocked(); err != nil {
		return err
	}
	s.pending[t.from] = true
	s.queue.Enqueue(t.from)
	s.logger.Info("step completed", "step", StepAt(t.from).String(), "next", next.String())
	s.enterStepLocked()
	return nil
}

func (s *Session) confirmRisk(ctx context.Context) (bool, error) {
	if s.opts.Confirmer == nil {
		return false, nil
	}
	return s.opts.Confirmer.ConfirmRisk(ctx)
}

// Choose answers a single-choice step with an option and advances.
func (s *Session) Choose(ctx context.Context, value, label string) error {
	s.mu.Lock()
	c := Definition(s.ctrl.Step()).Choice
	if c == nil {
		s.mu.Unlock()
		return fmt.Errorf("wizard: step %s is not a choice step", s.ctrl.Step())
	}
	s.ctrl.SetSelect(c.FormKey, value, label)
	s.mu.Unlock()
	return s.Advance(ctx)
}

// Retreat moves back one screen and persists.
func (s *Session) Retreat() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ctrl.Retreat() {
		return nil
	}
	if err := s.persistLocked(); err != nil {
		return err
	}
	s.enterStepLocked()
	return nil
}

// JumpTo moves to a main step already reached and persists. It reports
// whether the jump was allowed.
func (s *Session) JumpTo(main int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ctrl.JumpTo(main) {
		return false, nil
	}
	if err := s.persistLocked(); err != nil {
		return true, err
	}
	s.enterStepLocked()
	return true, nil
}

// SetCountryByIP stores the country detected from the user's network
// location and pre-fills empty country dropdowns from it.
func (s *Session) SetCountryByIP(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ctrl.state.FormData.SetText(FieldCountryByIP, name)
	if err := s.persistLocked(); err != nil {
		return err
	}
	s.autofillCountryLocked()
	return nil
}

func (s *Session) autofillCountryLocked() {
	view := s.ctrl.View()
	name := view.Get(FieldCountryByIP)
	if name == "" {
		return
	}
	fill := func(field string, question int) {
		if view.Get(field) != "" {
			return
		}
		if opt, ok := OptionByTitle(QuestionOptions(s.record.Questionnaires, question), name); ok {
			s.ctrl.draft.SetSelect(field, string(opt.ID), opt.Label())
		}
	}
	fill(FieldNationality, NationalityQuestion)
	fill(FieldResidence, ResidenceQuestion)
}

// enterStepLocked starts verification when the wizard is on the final step.
func (s *Session) enterStepLocked() {
	if s.ctrl.Step() != StepVerification || s.verifying || s.opts.Widget == nil {
		return
	}
	s.verifying = true
	o := &Orchestrator{
		Client:   s.opts.Backend,
		Widget:   s.opts.Widget,
		Nav:      s.opts.Navigator,
		Notifier: s.opts.Notifier,
		Logger:   s.logger,
		Interval: s.opts.PollInterval,
		Attempts: s.opts.PollAttempts,
		Target:   s.opts.RedirectTarget,
	}
	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		err := o.Run(s.ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Warn("verification ended", "error", err)
		}
		s.mu.Lock()
		s.verifying = false
		s.mu.Unlock()
	}()
}

// submit is the queue's submit function: it rebuilds the cumulative payload
// from the current form data at send time.
func (s *Session) submit(ctx context.Context, index int) error {
	s.mu.Lock()
	payload := BuildPayload(s.ctrl.state.FormData, index)
	s.mu.Unlock()

	if MarkerOnly(payload) {
		s.logger.Debug("nothing to submit", "step", StepAt(index).String())
		return nil
	}
	return s.opts.Backend.SubmitAnswers(ctx, payload)
}

func (s *Session) submitted(index int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, index)
}

func (s *Session) expired() {
	s.mu.Lock()
	s.pending = map[int]bool{}
	s.mu.Unlock()
	s.notify(NoticeError, MsgSessionExpired)
	s.opts.Navigator.ToLogin()
}

func (s *Session) notify(level NoticeLevel, msg string) {
	if s.opts.Notifier != nil {
		s.opts.Notifier.Notify(Notice{Level: level, Message: msg})
	}
}
