package wizard

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	q "github.com/GoCodeAlone/onboarding/questionnaire"
	"github.com/GoCodeAlone/onboarding/store"
)

var testNow = time.Date(2026, time.June, 1, 12, 0, 0, 0, time.UTC)

type fakeBackend struct {
	mu          sync.Mutex
	submits     [][]q.Answer
	submitFn    func(call int, answers []q.Answer) error
	progress    *ServerProgress
	progressErr error
	// fetchGate, when set, holds FetchProgress until it is closed.
	fetchGate    chan struct{}
	fetchStarted chan struct{}
	token       string
	tokenErr    error
	tokenCalls  int
	statuses    []KYCStatus
	statusCalls int
	// statusGate, when set, holds KYCStatus until it is closed.
	statusGate    chan struct{}
	statusStarted chan struct{}
	redirectURL string
	redirectErr error
	targets     []string
}

func (f *fakeBackend) SubmitAnswers(_ context.Context, answers []q.Answer) error {
	f.mu.Lock()
	f.submits = append(f.submits, answers)
	call := len(f.submits)
	fn := f.submitFn
	f.mu.Unlock()
	if fn != nil {
		return fn(call, answers)
	}
	return nil
}

func (f *fakeBackend) FetchProgress(context.Context) (*ServerProgress, error) {
	if f.fetchGate != nil {
		f.fetchStarted <- struct{}{}
		<-f.fetchGate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.progressErr != nil {
		return nil, f.progressErr
	}
	if f.progress == nil {
		return nil, errors.New("no progress configured")
	}
	return f.progress, nil
}

func (f *fakeBackend) KYCToken(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokenCalls++
	return f.token, f.tokenErr
}

func (f *fakeBackend) KYCStatus(context.Context) (KYCStatus, error) {
	if f.statusGate != nil {
		f.statusStarted <- struct{}{}
		<-f.statusGate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusCalls++
	if len(f.statuses) == 0 {
		return KYCStatus{Success: true, Status: "pending"}, nil
	}
	st := f.statuses[0]
	if len(f.statuses) > 1 {
		f.statuses = f.statuses[1:]
	}
	return st, nil
}

func (f *fakeBackend) GenerateRedirect(_ context.Context, target string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.targets = append(f.targets, target)
	return f.redirectURL, f.redirectErr
}

func (f *fakeBackend) submitted() [][]q.Answer {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]q.Answer(nil), f.submits...)
}

// markers returns the step marker of every submitted payload.
func (f *fakeBackend) markers() []string {
	var out []string
	for _, p := range f.submitted() {
		out = append(out, p[len(p)-1].Text)
	}
	return out
}

type fakeNav struct {
	mu        sync.Mutex
	logins    int
	redirects []string
	done      chan string
}

func newFakeNav() *fakeNav { return &fakeNav{done: make(chan string, 8)} }

func (n *fakeNav) ToLogin() {
	n.mu.Lock()
	n.logins++
	n.mu.Unlock()
	n.done <- "login"
}

func (n *fakeNav) Redirect(url string) {
	n.mu.Lock()
	n.redirects = append(n.redirects, url)
	n.mu.Unlock()
	n.done <- url
}

func (n *fakeNav) loginCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.logins
}

type fakeNotifier struct {
	mu      sync.Mutex
	notices []Notice
}

func (n *fakeNotifier) Notify(notice Notice) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, notice)
}

func (n *fakeNotifier) messages() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []string
	for _, nt := range n.notices {
		out = append(out, nt.Message)
	}
	return out
}

type fakeConfirmer struct {
	answer bool
	calls  int
}

func (c *fakeConfirmer) ConfirmRisk(context.Context) (bool, error) {
	c.calls++
	return c.answer, nil
}

type fakeWidget struct {
	events   chan WidgetEvent
	launched chan string
}

func newFakeWidget() *fakeWidget {
	return &fakeWidget{events: make(chan WidgetEvent, 8), launched: make(chan string, 1)}
}

func (w *fakeWidget) Launch(_ context.Context, token string) (<-chan WidgetEvent, error) {
	w.launched <- token
	return w.events, nil
}

func testQuestionnaires() []q.Questionnaire {
	qs := make([]q.Question, 15)
	countries := []q.Option{{ID: "27", Title: "South Africa"}, {ID: "44", Title: "United Kingdom"}}
	qs[NationalityQuestion].Answers = countries
	qs[ResidenceQuestion].Answers = countries
	qs[IDTypeQuestion].Answers = []q.Option{{ID: "5", Title: IDTypeSouthAfrican}, {ID: "6", Title: IDTypePassport}}
	qs[1].Answers = []q.Option{{ID: "11", Title: "Employed"}}
	qs[5].Answers = []q.Option{{ID: "51", Title: "Finance"}}
	qs[2].Answers = []q.Option{{ID: "21", Title: "Yes"}, {ID: "22", Title: "No"}}
	qs[4].Answers = []q.Option{{ID: "41", Title: "Yes"}, {ID: "42", Title: "No"}}
	qs[8].Answers = []q.Option{{ID: "81", Title: "Yes"}, {ID: "82", Title: "No"}}
	return []q.Questionnaire{{ID: "17", Questions: qs}}
}

func seedProgress(t *testing.T, kv *store.MemoryStore, p *Progress) {
	t.Helper()
	raw, err := json.Marshal(p)
	if err != nil {
		t.Fatal(err)
	}
	if err := kv.Put(context.Background(), ProgressKey, raw); err != nil {
		t.Fatal(err)
	}
}

func readProgress(t *testing.T, kv *store.MemoryStore) *Progress {
	t.Helper()
	raw, err := kv.Get(context.Background(), ProgressKey)
	if err != nil {
		t.Fatalf("read progress: %v", err)
	}
	var p Progress
	if err := json.Unmarshal(raw, &p); err != nil {
		t.Fatal(err)
	}
	return &p
}

type harness struct {
	kv      *store.MemoryStore
	backend *fakeBackend
	nav     *fakeNav
	notes   *fakeNotifier
	confirm *fakeConfirmer
	widget  *fakeWidget
	session *Session
}

func newHarness(t *testing.T, p *Progress) *harness {
	t.Helper()
	h := &harness{
		kv:      store.NewMemoryStore(),
		backend: &fakeBackend{token: "tok-1", redirectURL: "https://one-time.example/login"},
		nav:     newFakeNav(),
		notes:   &fakeNotifier{},
		confirm: &fakeConfirmer{},
		widget:  newFakeWidget(),
	}
	if p == nil {
		p = &Progress{UserID: "1001", FormData: FormData{}, Questionnaires: testQuestionnaires()}
	}
	seedProgress(t, h.kv, p)
	s, err := Open(context.Background(), h.options())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(s.Close)
	h.session = s
	return h
}

func (h *harness) options() Options {
	return Options{
		Store:        h.kv,
		Backend:      h.backend,
		Widget:       h.widget,
		Navigator:    h.nav,
		Notifier:     h.notes,
		Confirmer:    h.confirm,
		Now:          func() time.Time { return testNow },
		RetryBackoff: time.Millisecond,
		PollInterval: time.Millisecond,
		PollAttempts: 3,
	}
}

// fill enters valid input for the current step and advances.
func (h *harness) fill(t *testing.T) {
	t.Helper()
	s := h.session
	ctx := context.Background()
	var err error
	switch s.Step() {
	case StepPersonal:
		s.SetText(FieldFirstName, "Jane")
		s.SetText(FieldLastName, "Doe")
		s.SetSelect(FieldNationality, "27", "South Africa")
		s.SetText(FieldPhone, "082 123 4567")
		err = s.Advance(ctx)
	case StepIdentity:
		s.SetSelect(FieldIDType, "5", IDTypeSouthAfrican)
		s.SetText(FieldIDNumber, "8001015009087")
		err = s.Advance(ctx)
	case StepResidence:
		s.SetSelect(FieldResidence, "27", "South Africa")
		s.SetCheckbox(FieldNotUSCitizen, "Yes", true)
		s.SetCheckbox(FieldTerms, "agree", true)
		err = s.Advance(ctx)
	case StepEmployment:
		err = s.Choose(ctx, "11", "Employed")
	case StepIndustry:
		err = s.Choose(ctx, "51", "Finance")
	case StepExperience:
		err = s.Choose(ctx, "21", "Yes")
	case StepRisk:
		err = s.Choose(ctx, "41", "Yes")
	case StepObjective:
		err = s.Choose(ctx, "81", "Yes")
	default:
		t.Fatalf("fill: nothing to enter on %s", s.Step())
	}
	if err != nil {
		t.Fatalf("advance from %s: %v", s.Step(), err)
	}
}

func waitFor[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting")
		var zero T
		return zero
	}
}
