// Package recaptcha gates form submissions on a reCAPTCHA Enterprise
// assessment.
package recaptcha

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"syscall"
	"time"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	recaptchaenterprise "google.golang.org/api/recaptchaenterprise/v1"
)

// DefaultThreshold is the lowest score accepted.
const DefaultThreshold = 0.5

// Errors returned by Verifier.Verify.
var (
	ErrMissingToken = errors.New("recaptcha: token is required")
	ErrLowScore     = errors.New("recaptcha: score below threshold")
)

// RejectedError means the token itself was not acceptable: it was invalid
// or minted for a different action.
type RejectedError struct {
	Reason string
}

func (e *RejectedError) Error() string {
	return "recaptcha: verification failed: " + e.Reason
}

// Assessment is the part of a reCAPTCHA assessment the gate looks at.
type Assessment struct {
	Valid         bool
	InvalidReason string
	Action        string
	Score         float64
}

// Assessor scores a token.
type Assessor interface {
	Assess(ctx context.Context, token, action string) (Assessment, error)
}

// Verifier applies the acceptance rules to an Assessor's verdict.
type Verifier struct {
	assessor    Assessor
	threshold   float64
	maxAttempts int
	backoff     func(attempt int) time.Duration
	logger      *slog.Logger
}

// NewVerifier creates a Verifier with the default threshold and two
// attempts for transient failures.
func NewVerifier(a Assessor, logger *slog.Logger) *Verifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Verifier{
		assessor:    a,
		threshold:   DefaultThreshold,
		maxAttempts: 2,
		backoff:     func(attempt int) time.Duration { return time.Duration(attempt) * 200 * time.Millisecond },
		logger:      logger,
	}
}

// Verify checks token for action. It returns nil when the request may
// proceed, ErrMissingToken, a *RejectedError, ErrLowScore, or an error
// from the assessment service.
func (v *Verifier) Verify(ctx context.Context, token, action string) error {
	if token == "" {
		return ErrMissingToken
	}

	var (
		res     Assessment
		lastErr error
	)
	for attempt := 1; attempt <= v.maxAttempts; attempt++ {
		res, lastErr = v.assessor.Assess(ctx, token, action)
		if lastErr == nil || !transient(lastErr) {
			break
		}
		v.logger.WarnContext(ctx, "reCAPTCHA assessment failed with a network error, retrying",
			"attempt", attempt, "error", lastErr)
		if attempt == v.maxAttempts {
			break
		}
		select {
		case <-time.After(v.backoff(attempt)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if lastErr != nil {
		return fmt.Errorf("recaptcha: create assessment: %w", lastErr)
	}

	if !res.Valid {
		v.logger.WarnContext(ctx, "reCAPTCHA token invalid", "reason", res.InvalidReason)
		return &RejectedError{Reason: res.InvalidReason}
	}
	if !strings.EqualFold(res.Action, action) {
		v.logger.WarnContext(ctx, "reCAPTCHA action mismatch", "expected", action, "got", res.Action)
		return &RejectedError{Reason: "Action mismatch"}
	}
	if res.Score < v.threshold {
		v.logger.InfoContext(ctx, "low reCAPTCHA score, request blocked", "action", action, "score", res.Score)
		return ErrLowScore
	}
	v.logger.DebugContext(ctx, "reCAPTCHA passed", "action", action, "score", res.Score)
	return nil
}

// transient reports errors worth retrying: the service being unavailable
// or the connection being reset.
func transient(err error) bool {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code == http.StatusServiceUnavailable {
		return true
	}
	return errors.Is(err, syscall.ECONNRESET) || strings.Contains(err.Error(), "ECONNRESET")
}

// GoogleOptions configures the reCAPTCHA Enterprise client.
type GoogleOptions struct {
	ProjectID string
	SiteKey   string
	// APIKey or CredentialsFile authenticates the client. With neither,
	// application default credentials are used.
	APIKey          string
	CredentialsFile string
}

// GoogleAssessor calls the reCAPTCHA Enterprise API.
type GoogleAssessor struct {
	svc     *recaptchaenterprise.Service
	parent  string
	siteKey string
}

// NewGoogleAssessor creates an Assessor backed by reCAPTCHA Enterprise.
func NewGoogleAssessor(ctx context.Context, opts GoogleOptions, extra ...option.ClientOption) (*GoogleAssessor, error) {
	if opts.ProjectID == "" || opts.SiteKey == "" {
		return nil, errors.New("recaptcha: project id and site key are required")
	}
	var copts []option.ClientOption
	switch {
	case opts.APIKey != "":
		copts = append(copts, option.WithAPIKey(opts.APIKey))
	case opts.CredentialsFile != "":
		copts = append(copts, option.WithAuthCredentialsFile(option.ServiceAccount, opts.CredentialsFile))
	}
	copts = append(copts, extra...)
	svc, err := recaptchaenterprise.NewService(ctx, copts...)
	if err != nil {
		return nil, fmt.Errorf("recaptcha: create client: %w", err)
	}
	return &GoogleAssessor{svc: svc, parent: "projects/" + opts.ProjectID, siteKey: opts.SiteKey}, nil
}

func (g *GoogleAssessor) Assess(ctx context.Context, token, action string) (Assessment, error) {
	req := &recaptchaenterprise.GoogleCloudRecaptchaenterpriseV1Assessment{
		Event: &recaptchaenterprise.GoogleCloudRecaptchaenterpriseV1Event{
			Token:          token,
			SiteKey:        g.siteKey,
			ExpectedAction: action,
		},
	}
	resp, err := g.svc.Projects.Assessments.Create(g.parent, req).Context(ctx).Do()
	if err != nil {
		return Assessment{}, err
	}
	var a Assessment
	if tp := resp.TokenProperties; tp != nil {
		a.Valid = tp.Valid
		a.InvalidReason = tp.InvalidReason
		a.Action = tp.Action
	}
	if ra := resp.RiskAnalysis; ra != nil {
		a.Score = ra.Score
	}
	return a, nil
}
