package wizard

import (
	"context"
	"log/slog"

	q "github.com/GoCodeAlone/onboarding/questionnaire"
)

// LoginResult is what the server returns after a successful login or
// registration.
type LoginResult struct {
	UserID         q.ID
	UserAnswers    []q.UserAnswer
	Questionnaires []q.Questionnaire
}

// Bootstrap decides where a freshly authenticated user goes. Users whose
// identity verification is already approved are redirected straight to the
// trading platform and Bootstrap returns false. Everyone else gets a fresh
// wizard record seeded from the login response and Bootstrap returns true.
func Bootstrap(ctx context.Context, st ProgressStore, client VerificationClient, nav Navigator, res LoginResult, target string) (bool, error) {
	if target == "" {
		target = DefaultRedirectTarget
	}
	if q.KYCApproved(res.UserAnswers) {
		slog.InfoContext(ctx, "verification already approved, redirecting", "user", res.UserID)
		url, err := client.GenerateRedirect(ctx, target)
		if err != nil || url == "" {
			slog.ErrorContext(ctx, "could not generate login redirect, using fallback", "error", err)
			url = target
		}
		nav.Redirect(url)
		return false, nil
	}

	rec := &Progress{
		UserID:         res.UserID,
		FormData:       FormData{},
		UserAnswers:    res.UserAnswers,
		Questionnaires: res.Questionnaires,
	}
	if err := saveProgress(ctx, st, rec); err != nil {
		return false, err
	}
	return true, nil
}
