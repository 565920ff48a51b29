package wizard

import (
	"context"
	"errors"
	"reflect"
	"slices"
	"testing"

	q "github.com/GoCodeAlone/onboarding/questionnaire"
	"github.com/GoCodeAlone/onboarding/store"
)

func TestOpenWithoutProgressRedirectsToLogin(t *testing.T) {
	nav := newFakeNav()
	_, err := Open(context.Background(), Options{
		Store:     store.NewMemoryStore(),
		Backend:   &fakeBackend{},
		Navigator: nav,
	})
	if !errors.Is(err, ErrNoProgress) {
		t.Fatalf("err = %v, want ErrNoProgress", err)
	}
	if nav.loginCount() != 1 {
		t.Errorf("logins = %d, want 1", nav.loginCount())
	}
}

func TestOpenRebuildsFormDataFromAnswers(t *testing.T) {
	h := newHarness(t, &Progress{
		FormData: FormData{},
		UserAnswers: []q.UserAnswer{
			{QuestionID: q.QFirstName, Text: "Jane"},
			{QuestionID: q.QCurrentStep, Text: "2-1"},
		},
		Questionnaires: testQuestionnaires(),
	})

	st := h.session.State()
	if st.Step() != StepIndustry {
		t.Errorf("step = %s, want 2-1", st.Step())
	}
	if st.Highest != 2 {
		t.Errorf("highest = %d, want 2", st.Highest)
	}
	if st.FormData.Get(FieldFirstName) != "Jane" {
		t.Errorf("fname = %q", st.FormData.Get(FieldFirstName))
	}
	if saved := readProgress(t, h.kv); saved.FormData.Get(FieldFirstName) != "Jane" {
		t.Error("rebuilt form data was not written back")
	}
}

func TestSetFieldClearsError(t *testing.T) {
	h := newHarness(t, nil)
	s := h.session

	var verr *ValidationError
	if err := s.Advance(context.Background()); !errors.As(err, &verr) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
	if s.Errors()[FieldFirstName] != MsgRequired {
		t.Fatalf("errors = %v", s.Errors())
	}
	s.SetText(FieldFirstName, "J")
	if _, ok := s.Errors()[FieldFirstName]; ok {
		t.Error("error should clear on input")
	}
	if _, ok := s.Errors()[FieldLastName]; !ok {
		t.Error("other errors should remain")
	}
	s.ClearError(FieldLastName)
	if _, ok := s.Errors()[FieldLastName]; ok {
		t.Error("ClearError did not clear")
	}
	if s.Step() != StepPersonal {
		t.Errorf("failed validation moved to %s", s.Step())
	}
}

func TestSouthAfricanIDFillsDateOfBirth(t *testing.T) {
	h := newHarness(t, &Progress{CurrentSubStepIndex: 1, HighestStep: 1, FormData: FormData{}})
	s := h.session
	s.SetSelect(FieldIDType, "5", IDTypeSouthAfrican)
	s.SetText(FieldIDNumber, "8001 0150 0908 7")

	view := s.View()
	if view.Get(FieldIDNumber) != "8001015009087" {
		t.Errorf("idNumber = %q, want digits only", view.Get(FieldIDNumber))
	}
	if view.Get(FieldDOBYear) != "1980" || view.Get(FieldDOBMonth) != "1" || view.Get(FieldDOBDay) != "1" {
		t.Errorf("dob = %s/%s/%s", view.Get(FieldDOBYear), view.Get(FieldDOBMonth), view.Get(FieldDOBDay))
	}

	s.SetText(FieldIDNumber, "8001015009088")
	if s.Errors()[FieldIDNumber] != MsgIDChecksum {
		t.Errorf("errors = %v", s.Errors())
	}

	s.SetSelect(FieldIDType, "6", IDTypePassport)
	if s.View().Get(FieldIDNumber) != "" {
		t.Error("changing document type should reset the number")
	}
}

func TestAdvancePersistsAndSubmits(t *testing.T) {
	h := newHarness(t, nil)
	h.fill(t)
	h.session.Wait()

	saved := readProgress(t, h.kv)
	if saved.CurrentSubStepIndex != 1 || saved.HighestStep != 1 {
		t.Errorf("saved position = %d/%d", saved.CurrentSubStepIndex, saved.HighestStep)
	}
	if saved.FormData.Get(FieldPhone) != "+27821234567" {
		t.Errorf("phone = %q, want E.164", saved.FormData.Get(FieldPhone))
	}
	if saved.FormData.Get(FieldCurrentStep) != "1-1" {
		t.Errorf("currentStep = %q", saved.FormData.Get(FieldCurrentStep))
	}
	if saved.UserID != "1001" || len(saved.Questionnaires) != 1 {
		t.Error("advance dropped fields of the stored record")
	}
	if got := h.backend.markers(); !reflect.DeepEqual(got, []string{"1-0"}) {
		t.Errorf("submitted markers = %v", got)
	}
	if h.session.Pending(0) {
		t.Error("step 0 should no longer be pending")
	}
}

func TestAdvanceIsIdempotent(t *testing.T) {
	h := newHarness(t, nil)
	h.fill(t)
	first := h.session.State().FormData

	if err := h.session.Retreat(); err != nil {
		t.Fatal(err)
	}
	h.fill(t)
	second := h.session.State().FormData

	if !reflect.DeepEqual(first, second) {
		t.Errorf("form data changed:\n first %v\nsecond %v", first, second)
	}
	if h.session.Step() != StepIdentity {
		t.Errorf("step = %s", h.session.Step())
	}
}

func TestRetreat(t *testing.T) {
	h := newHarness(t, nil)
	if err := h.session.Retreat(); err != nil {
		t.Fatal(err)
	}
	if h.session.Step() != StepPersonal {
		t.Errorf("retreat from the first step moved to %s", h.session.Step())
	}

	h.fill(t)
	if err := h.session.Retreat(); err != nil {
		t.Fatal(err)
	}
	if h.session.Step() != StepPersonal {
		t.Errorf("step = %s", h.session.Step())
	}
	if saved := readProgress(t, h.kv); saved.CurrentSubStepIndex != 0 || saved.HighestStep != 1 {
		t.Errorf("saved = %d/%d", saved.CurrentSubStepIndex, saved.HighestStep)
	}
}

func TestJumpToGuard(t *testing.T) {
	h := newHarness(t, &Progress{CurrentSubStepIndex: 3, HighestStep: 2, FormData: FormData{}})
	ok, err := h.session.JumpTo(3)
	if err != nil || ok {
		t.Fatalf("JumpTo(3) with highest 2 = %v, %v", ok, err)
	}
	if h.session.Step() != StepEmployment {
		t.Errorf("rejected jump moved to %s", h.session.Step())
	}

	h = newHarness(t, &Progress{CurrentSubStepIndex: 3, HighestStep: 3, FormData: FormData{}})
	ok, err = h.session.JumpTo(3)
	if err != nil || !ok {
		t.Fatalf("JumpTo(3) with highest 3 = %v, %v", ok, err)
	}
	if h.session.Step() != StepExperience {
		t.Errorf("step = %s, want 3-0", h.session.Step())
	}
	ok, _ = h.session.JumpTo(1)
	if !ok || h.session.Step() != StepPersonal {
		t.Errorf("JumpTo(1) = %v, step %s", ok, h.session.Step())
	}
}

func TestRiskWarningDeclined(t *testing.T) {
	h := newHarness(t, &Progress{CurrentSubStepIndex: 5, HighestStep: 3, FormData: FormData{}})
	s := h.session
	ctx := context.Background()
	if err := s.Choose(ctx, "22", "No"); err != nil {
		t.Fatal(err)
	}
	h.fill(t) // risk tolerance

	h.confirm.answer = false
	before := s.State()
	if err := s.Choose(ctx, "81", "Yes"); !errors.Is(err, ErrCancelled) {
		t.Fatalf("err = %v, want ErrCancelled", err)
	}
	if h.confirm.calls != 1 {
		t.Errorf("confirm calls = %d", h.confirm.calls)
	}
	after := s.State()
	if !reflect.DeepEqual(before, after) {
		t.Errorf("declined transition changed state")
	}

	h.confirm.answer = true
	if err := s.Choose(ctx, "81", "Yes"); err != nil {
		t.Fatal(err)
	}
	if s.Step() != StepVerification {
		t.Errorf("step = %s, want 4-0", s.Step())
	}
}

func TestCompleteWizardStartsVerification(t *testing.T) {
	h := newHarness(t, nil)
	for h.session.Step() != StepVerification {
		h.fill(t)
	}
	if h.confirm.calls != 0 {
		t.Errorf("risk warning shown %d times for clean answers", h.confirm.calls)
	}
	if tok := waitFor(t, h.widget.launched); tok != "tok-1" {
		t.Errorf("widget launched with %q", tok)
	}
	h.session.Wait()

	markers := h.backend.markers()
	want := []string{"1-0", "1-1", "1-2", "2-0", "2-1", "3-0", "3-1", "4-0"}
	if !reflect.DeepEqual(markers, want) {
		t.Errorf("markers = %v, want %v", markers, want)
	}
	last := h.backend.submitted()[len(markers)-1]
	if n := len(last); n != 15 {
		t.Errorf("final payload has %d answers, want 15", n)
	}
	st := h.session.State()
	if st.Highest != 4 || st.FormData.Get(FieldCurrentStep) != "4-0" {
		t.Errorf("state = %+v", st)
	}
}

func TestSubmissionRecoveryRestoresServerState(t *testing.T) {
	server := &ServerProgress{
		UserID: "1001",
		UserAnswers: []q.UserAnswer{
			{QuestionID: q.QFirstName, Text: "Janet"},
			{QuestionID: q.QEmployment, AnswerID: "11", Text: "Employed"},
			{QuestionID: q.QCurrentStep, Text: "2-0"},
		},
		Questionnaires: testQuestionnaires(),
	}
	data := sampleFormData()
	data.SetText(FieldCurrentStep, "3-1")
	h := newHarness(t, &Progress{UserID: "1001", CurrentSubStepIndex: 6, HighestStep: 3, FormData: data})
	h.backend.progress = server

	gate := make(chan struct{})
	started := make(chan struct{}, 1)
	h.backend.submitFn = func(call int, _ []q.Answer) error {
		if call == 1 {
			started <- struct{}{}
			<-gate
		}
		return errors.New("crm unavailable")
	}

	s := h.session
	s.mu.Lock()
	for _, idx := range []int{4, 5, 6} {
		s.pending[idx] = true
	}
	s.mu.Unlock()

	s.queue.Enqueue(4)
	waitFor(t, started)
	s.queue.Enqueue(5)
	s.queue.Enqueue(6)
	close(gate)
	s.Wait()

	if got := h.backend.markers(); !reflect.DeepEqual(got, []string{"2-1", "2-1"}) {
		t.Errorf("markers = %v, want only two attempts at 2-1", got)
	}

	st := s.State()
	if st.Index != IndexOf(StepEmployment) || st.Highest != 2 {
		t.Errorf("position = %d/%d, want server position", st.Index, st.Highest)
	}
	if !reflect.DeepEqual(st.FormData, FormDataFromAnswers(server.UserAnswers)) {
		t.Errorf("form data = %v", st.FormData)
	}
	saved := readProgress(t, h.kv)
	if saved.FormData.Get(FieldFirstName) != "Janet" || saved.CurrentSubStepIndex != 3 {
		t.Errorf("saved = %+v", saved)
	}
	if !slices.Equal(h.notes.messages(), []string{MsgSyncing, MsgRestored}) {
		t.Errorf("notices = %v", h.notes.messages())
	}
	for idx := range 7 {
		if s.Pending(idx) {
			t.Errorf("step %d still pending after recovery", idx)
		}
	}
}

func TestRecoveryDropsStepsQueuedDuringFetch(t *testing.T) {
	h := newHarness(t, nil)
	h.backend.progress = &ServerProgress{
		UserID: "1001",
		UserAnswers: []q.UserAnswer{
			{QuestionID: q.QFirstName, Text: "Janet"},
			{QuestionID: q.QCurrentStep, Text: "1-0"},
		},
		Questionnaires: testQuestionnaires(),
	}
	h.backend.fetchGate = make(chan struct{})
	h.backend.fetchStarted = make(chan struct{}, 1)
	h.backend.submitFn = func(call int, _ []q.Answer) error {
		if call <= 2 {
			return errors.New("crm unavailable")
		}
		return nil
	}

	h.fill(t) // 1-0 -> 1-1, fails twice and starts recovery
	waitFor(t, h.backend.fetchStarted)
	h.fill(t) // 1-1 -> 1-2 while the server snapshot is loading
	close(h.backend.fetchGate)
	h.session.Wait()

	if got := h.backend.markers(); !slices.Equal(got, []string{"1-0", "1-0"}) {
		t.Errorf("markers = %v, want only the two failed attempts", got)
	}
	s := h.session
	if s.Step() != StepPersonal {
		t.Errorf("step = %s, want the server position 1-0", s.Step())
	}
	if s.State().FormData.Get(FieldFirstName) != "Janet" {
		t.Errorf("form data = %v", s.State().FormData)
	}
	if s.Pending(IndexOf(StepIdentity)) {
		t.Error("step queued during recovery still pending")
	}
}

func TestSubmissionRecoveryFailure(t *testing.T) {
	h := newHarness(t, nil)
	h.backend.progressErr = errors.New("network down")
	h.backend.submitFn = func(int, []q.Answer) error { return errors.New("boom") }

	h.fill(t)
	h.session.Wait()

	msgs := h.notes.messages()
	if !slices.Equal(msgs, []string{MsgSyncing, MsgCritical}) {
		t.Errorf("notices = %v", msgs)
	}
	if h.session.Step() != StepIdentity {
		t.Errorf("failed recovery should leave local state, got %s", h.session.Step())
	}
}

func TestSubmissionUnauthorizedAbandonsQueue(t *testing.T) {
	h := newHarness(t, nil)
	h.backend.submitFn = func(int, []q.Answer) error { return ErrUnauthorized }

	h.fill(t)
	h.session.Wait()

	if len(h.backend.submitted()) != 1 {
		t.Errorf("submissions = %d, want 1 (no retry)", len(h.backend.submitted()))
	}
	if h.nav.loginCount() != 1 {
		t.Errorf("logins = %d", h.nav.loginCount())
	}
	if !slices.Contains(h.notes.messages(), MsgSessionExpired) {
		t.Errorf("notices = %v", h.notes.messages())
	}
}

func TestCountryAutofill(t *testing.T) {
	h := newHarness(t, nil)
	if err := h.session.SetCountryByIP("united kingdom"); err != nil {
		t.Fatal(err)
	}
	view := h.session.View()
	if view.Get(FieldNationality) != "44" || view.Label(FieldNationality) != "United Kingdom" {
		t.Errorf("nationality = %q/%q", view.Get(FieldNationality), view.Label(FieldNationality))
	}
	if view.Get(FieldResidence) != "44" {
		t.Errorf("residence = %q", view.Get(FieldResidence))
	}
	if readProgress(t, h.kv).FormData.Get(FieldCountryByIP) != "united kingdom" {
		t.Error("detected country not persisted")
	}
}

func TestBootstrap(t *testing.T) {
	ctx := context.Background()

	t.Run("approved user is redirected", func(t *testing.T) {
		kv := store.NewMemoryStore()
		nav := newFakeNav()
		be := &fakeBackend{redirectURL: "https://one-time.example/x"}
		open, err := Bootstrap(ctx, kv, be, nav, LoginResult{UserAnswers: []q.UserAnswer{
			{QuestionID: q.QReviewStatus, Text: "completed"},
			{QuestionID: q.QReviewAnswer, Text: "GREEN"},
		}}, "")
		if err != nil || open {
			t.Fatalf("Bootstrap = %v, %v", open, err)
		}
		if got := waitFor(t, nav.done); got != "https://one-time.example/x" {
			t.Errorf("redirect = %q", got)
		}
		if _, err := kv.Get(ctx, ProgressKey); !errors.Is(err, store.ErrNotFound) {
			t.Error("approved user should not get a wizard record")
		}
	})

	t.Run("redirect falls back to target", func(t *testing.T) {
		nav := newFakeNav()
		be := &fakeBackend{redirectErr: errors.New("crm down")}
		_, _ = Bootstrap(ctx, store.NewMemoryStore(), be, nav, LoginResult{UserAnswers: []q.UserAnswer{
			{QuestionID: q.QReviewStatus, Text: "completed"},
			{QuestionID: q.QReviewAnswer, Text: "GREEN"},
		}}, "https://platform.example")
		if got := waitFor(t, nav.done); got != "https://platform.example" {
			t.Errorf("redirect = %q", got)
		}
	})

	t.Run("new user gets a wizard record", func(t *testing.T) {
		kv := store.NewMemoryStore()
		open, err := Bootstrap(ctx, kv, &fakeBackend{}, newFakeNav(), LoginResult{
			UserID:         "77",
			Questionnaires: testQuestionnaires(),
		}, "")
		if err != nil || !open {
			t.Fatalf("Bootstrap = %v, %v", open, err)
		}
		saved := readProgress(t, kv)
		if saved.UserID != "77" || len(saved.FormData) != 0 || len(saved.Questionnaires) != 1 {
			t.Errorf("saved = %+v", saved)
		}
	})
}
