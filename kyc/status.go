// Package kyc tracks identity verification results between the provider's
// webhook and the user's status polling, and writes approved results to
// the CRM questionnaire.
package kyc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/GoCodeAlone/onboarding/crm"
	q "github.com/GoCodeAlone/onboarding/questionnaire"
	"github.com/GoCodeAlone/onboarding/sumsub"
	"golang.org/x/sync/singleflight"
)

// DefaultTTL is how long a webhook result waits for the user to poll.
const DefaultTTL = 5 * time.Minute

// Status values returned to the client.
const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
)

// Webhook outcomes.
const (
	OutcomeNoUser   = "no_user"
	OutcomeCached   = "cached"
	OutcomeApproved = "approved"
)

// Status is the reply to a status poll.
type Status struct {
	Success bool   `json:"success"`
	Status  string `json:"status"`
	Result  string `json:"result,omitempty"`
}

// AnswerWriter stores questionnaire answers in the CRM.
type AnswerWriter interface {
	SetAnswers(ctx context.Context, a crm.Auth, answers any) (*crm.Response, error)
}

// Recorder receives KYC events for metrics. Both methods may be called
// concurrently.
type Recorder interface {
	WebhookReceived(outcome string)
	StatusChecked(status string)
}

// Publisher announces approvals to other systems.
type Publisher interface {
	PublishApproval(ctx context.Context, a Approval) error
}

// Approval is the event published when a verification result reaches the
// CRM.
type Approval struct {
	UserID      string    `json:"userId"`
	ApplicantID string    `json:"applicantId"`
	LevelName   string    `json:"levelName"`
	Result      string    `json:"result"`
	ApprovedAt  time.Time `json:"approvedAt"`
}

// Options configures a Service. Cache and CRM are required.
type Options struct {
	Cache     Cache
	CRM       AnswerWriter
	TTL       time.Duration
	Recorder  Recorder
	Publisher Publisher
	Logger    *slog.Logger
}

// Service pairs webhook deliveries with status polls.
type Service struct {
	cache     Cache
	crm       AnswerWriter
	ttl       time.Duration
	recorder  Recorder
	publisher Publisher
	logger    *slog.Logger
	now       func() time.Time
	group     singleflight.Group
}

// NewService creates a Service.
func NewService(opts Options) *Service {
	s := &Service{
		cache:     opts.Cache,
		crm:       opts.CRM,
		ttl:       opts.TTL,
		recorder:  opts.Recorder,
		publisher: opts.Publisher,
		logger:    opts.Logger,
		now:       time.Now,
	}
	if s.ttl <= 0 {
		s.ttl = DefaultTTL
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

func payloadKey(user string) string { return "kyc:payload:" + user }
func statusKey(user string) string  { return "kyc:status:" + user }

type cachedStatus struct {
	Status string `json:"status"`
	Result string `json:"result"`
}

// HandleWebhook caches a webhook for its user. The latest payload always
// replaces the previous one; an approval also sets the completed flag.
func (s *Service) HandleWebhook(ctx context.Context, wh *sumsub.Webhook, raw []byte) (string, error) {
	if wh.ExternalUserID == "" {
		s.record(OutcomeNoUser)
		return OutcomeNoUser, nil
	}
	user := wh.ExternalUserID

	if err := s.cache.Set(ctx, payloadKey(user), string(raw), s.ttl); err != nil {
		return "", fmt.Errorf("kyc: cache webhook for %s: %w", user, err)
	}
	if !wh.Approved() {
		s.logger.InfoContext(ctx, "verification webhook cached", "user", user, "type", wh.Type, "review_status", wh.ReviewStatus)
		s.record(OutcomeCached)
		return OutcomeCached, nil
	}

	flag, _ := json.Marshal(cachedStatus{Status: StatusCompleted, Result: sumsub.AnswerGreen})
	if err := s.cache.Set(ctx, statusKey(user), string(flag), s.ttl); err != nil {
		return "", fmt.Errorf("kyc: cache status for %s: %w", user, err)
	}
	s.logger.InfoContext(ctx, "verification approved, waiting for status poll", "user", user)
	s.record(OutcomeApproved)
	return OutcomeApproved, nil
}

// CheckStatus answers a poll. When an approval and its payload are cached
// the result is written to the CRM questionnaire, the cache entries are
// cleared and completed is returned; otherwise the status is pending.
//
// The payload is claimed with Cache.Take before the CRM write, so only one
// poll across all instances writes the result. Concurrent polls for the
// same user in this process share that poll's reply.
func (s *Service) CheckStatus(ctx context.Context, a crm.Auth) (Status, error) {
	v, err, _ := s.group.Do(string(a.User), func() (any, error) {
		return s.checkStatus(ctx, a)
	})
	if err != nil {
		return Status{}, err
	}
	st := v.(Status)
	s.checked(st.Status)
	return st, nil
}

func (s *Service) checkStatus(ctx context.Context, a crm.Auth) (Status, error) {
	user := string(a.User)
	pending := Status{Success: true, Status: StatusPending}

	cs, ok, err := s.status(ctx, user)
	if err != nil {
		return Status{}, err
	}
	if !ok || cs.Status != StatusCompleted {
		return pending, nil
	}

	raw, err := s.cache.Take(ctx, payloadKey(user))
	if errors.Is(err, ErrCacheMiss) {
		return pending, nil
	}
	if err != nil {
		return Status{}, fmt.Errorf("kyc: claim webhook for %s: %w", user, err)
	}
	var wh sumsub.Webhook
	if err := json.Unmarshal([]byte(raw), &wh); err != nil {
		return Status{}, fmt.Errorf("kyc: decode cached webhook for %s: %w", user, err)
	}

	if _, err := s.crm.SetAnswers(ctx, a, ResultAnswers(&wh)); err != nil {
		if rerr := s.cache.Set(ctx, payloadKey(user), raw, s.ttl); rerr != nil {
			s.logger.ErrorContext(ctx, "could not restore verification payload", "user", user, "error", rerr)
		}
		return Status{}, fmt.Errorf("kyc: store verification result for %s: %w", user, err)
	}
	s.logger.InfoContext(ctx, "verification result stored in CRM", "user", user, "applicant", wh.ApplicantID)

	if err := s.cache.Delete(ctx, statusKey(user)); err != nil {
		s.logger.WarnContext(ctx, "could not clear verification cache", "user", user, "error", err)
	}
	s.publish(ctx, user, &wh)
	return Status{Success: true, Status: cs.Status, Result: cs.Result}, nil
}

func (s *Service) status(ctx context.Context, user string) (cachedStatus, bool, error) {
	raw, err := s.cache.Get(ctx, statusKey(user))
	if errors.Is(err, ErrCacheMiss) {
		return cachedStatus{}, false, nil
	}
	if err != nil {
		return cachedStatus{}, false, fmt.Errorf("kyc: read status for %s: %w", user, err)
	}
	var cs cachedStatus
	if err := json.Unmarshal([]byte(raw), &cs); err != nil {
		return cachedStatus{}, false, fmt.Errorf("kyc: decode status for %s: %w", user, err)
	}
	return cs, true, nil
}

func (s *Service) publish(ctx context.Context, user string, wh *sumsub.Webhook) {
	if s.publisher == nil {
		return
	}
	ev := Approval{
		UserID:      user,
		ApplicantID: wh.ApplicantID,
		LevelName:   wh.LevelName,
		Result:      wh.Answer(),
		ApprovedAt:  s.now().UTC(),
	}
	if err := s.publisher.PublishApproval(ctx, ev); err != nil {
		s.logger.WarnContext(ctx, "publish approval failed", "user", user, "error", err)
	}
}

func (s *Service) record(outcome string) {
	if s.recorder != nil {
		s.recorder.WebhookReceived(outcome)
	}
}

func (s *Service) checked(status string) {
	if s.recorder != nil {
		s.recorder.StatusChecked(status)
	}
}

// ResultAnswers maps a webhook onto the verification questions of the
// onboarding questionnaire.
func ResultAnswers(wh *sumsub.Webhook) []q.Answer {
	return []q.Answer{
		{QuestionID: q.QApplicantID, Text: wh.ApplicantID},
		{QuestionID: q.QInspectionID, Text: wh.InspectionID},
		{QuestionID: q.QApplicantType, Text: wh.ApplicantType},
		{QuestionID: q.QLevelName, Text: wh.LevelName},
		{QuestionID: q.QReviewType, Text: wh.Type},
		{QuestionID: q.QReviewAnswer, Text: wh.Answer()},
		{QuestionID: q.QReviewStatus, Text: wh.ReviewStatus},
	}
}
