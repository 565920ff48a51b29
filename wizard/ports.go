package wizard

import (
	"context"

	q "github.com/GoCodeAlone/onboarding/questionnaire"
)

// ProgressStore is the durable local key-value store holding the wizard
// record. Get returns an error satisfying errors.Is(err, store.ErrNotFound)
// for a missing key.
type ProgressStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
}

// ServerProgress is the authoritative progress held by the CRM.
type ServerProgress struct {
	UserID         q.ID
	UserAnswers    []q.UserAnswer
	Questionnaires []q.Questionnaire
}

// SyncClient pushes answers to and reads answers from the server. Both
// methods return ErrUnauthorized when the session is no longer valid.
type SyncClient interface {
	SubmitAnswers(ctx context.Context, answers []q.Answer) error
	FetchProgress(ctx context.Context) (*ServerProgress, error)
}

// KYCStatus is the server's view of the identity verification.
type KYCStatus struct {
	Success bool   `json:"success"`
	Status  string `json:"status"`
	Result  string `json:"result,omitempty"`
}

// Approved reports a terminal, successful verification.
func (s KYCStatus) Approved() bool {
	return s.Success && s.Status == "completed" && s.Result == "GREEN"
}

// VerificationClient talks to the server's verification endpoints.
type VerificationClient interface {
	KYCToken(ctx context.Context) (string, error)
	KYCStatus(ctx context.Context) (KYCStatus, error)
	GenerateRedirect(ctx context.Context, target string) (string, error)
}

// Backend is everything the wizard needs from the server.
type Backend interface {
	SyncClient
	VerificationClient
}

// Widget is the embedded identity verification UI. Launch starts it with
// an access token and returns its lifecycle events. The channel is closed
// when the widget is torn down.
type Widget interface {
	Launch(ctx context.Context, token string) (<-chan WidgetEvent, error)
}

// Navigator moves the user out of the wizard.
type Navigator interface {
	ToLogin()
	Redirect(url string)
}

// NoticeLevel grades a user-facing notice.
type NoticeLevel int

const (
	NoticeInfo NoticeLevel = iota
	NoticeError
	NoticeFatal
)

// Notice is a non-technical message for the user.
type Notice struct {
	Level   NoticeLevel
	Message string
}

// Notifier shows notices to the user.
type Notifier interface {
	Notify(Notice)
}

// Confirmer asks the user to acknowledge the trading risk warning.
type Confirmer interface {
	ConfirmRisk(ctx context.Context) (bool, error)
}

// User-facing notices.
const (
	MsgSyncing          = "Syncing error. Restoring your last saved progress..."
	MsgRestored         = "There was a problem saving. Your progress has been restored to the last successful save."
	MsgCritical         = "Critical sync error. Please refresh the page."
	MsgSessionExpired   = "Session expired. Please log in again."
	MsgVerificationSlow = "Verification is taking longer than expected. We will notify you by email once it's complete."
	MsgVerificationFail = "We could not start identity verification. Please try again later."

	MsgVerificationError = "Identity verification ran into a problem. Please follow the instructions in the verification window."
)
