package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/GoCodeAlone/onboarding/kyc"
	"github.com/GoCodeAlone/onboarding/sumsub"
)

// TokenIssuer creates verification SDK access tokens.
type TokenIssuer interface {
	AccessToken(ctx context.Context, userID string) (string, error)
}

// KYCHandler handles the /api/kyc endpoints.
type KYCHandler struct {
	tokens        TokenIssuer
	kyc           *kyc.Service
	webhookSecret []byte
	logger        *slog.Logger
}

// NewKYCHandler creates a KYCHandler. With a webhook secret, webhook
// deliveries must carry a valid payload digest.
func NewKYCHandler(tokens TokenIssuer, svc *kyc.Service, webhookSecret []byte, logger *slog.Logger) *KYCHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &KYCHandler{tokens: tokens, kyc: svc, webhookSecret: webhookSecret, logger: logger}
}

// Token handles POST /api/kyc/token.
func (h *KYCHandler) Token(w http.ResponseWriter, r *http.Request) {
	d, _ := SessionFromContext(r.Context())
	token, err := h.tokens.AccessToken(r.Context(), string(d.User))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to create verification token", "user", d.User, "error", err)
		WriteJSON(w, http.StatusInternalServerError, map[string]string{
			"message": "Server error while generating Sumsub token",
		})
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{
		"message": "Sumsub token generated successfully",
		"token":   token,
	})
}

// Webhook handles POST /api/kyc/webhook from the verification provider.
func (h *KYCHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		WriteJSON(w, http.StatusBadRequest, errorBody{Error: "Could not read request body"})
		return
	}
	if len(h.webhookSecret) > 0 {
		err := sumsub.VerifyDigest(h.webhookSecret, raw,
			r.Header.Get(sumsub.HeaderDigest), r.Header.Get(sumsub.HeaderDigestAlg))
		if err != nil {
			h.logger.WarnContext(r.Context(), "rejected verification webhook", "error", err)
			WriteJSON(w, http.StatusUnauthorized, map[string]string{"message": "Invalid webhook signature"})
			return
		}
	}

	var wh sumsub.Webhook
	if err := json.Unmarshal(raw, &wh); err != nil {
		writeInvalidJSON(w)
		return
	}
	outcome, err := h.kyc.HandleWebhook(r.Context(), &wh, raw)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to cache verification webhook", "user", wh.ExternalUserID, "error", err)
		WriteJSON(w, http.StatusInternalServerError, map[string]string{"message": "Server error while handling webhook"})
		return
	}
	if outcome == kyc.OutcomeNoUser {
		writeText(w, http.StatusOK, "Webhook processed (no user ID).")
		return
	}
	writeText(w, http.StatusOK, "Webhook processed and cached successfully.")
}

// Status handles POST /api/kyc/status.
func (h *KYCHandler) Status(w http.ResponseWriter, r *http.Request) {
	d, _ := SessionFromContext(r.Context())
	st, err := h.kyc.CheckStatus(r.Context(), d.Auth())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "verification status check failed", "user", d.User, "error", err)
		WriteJSON(w, http.StatusInternalServerError, map[string]string{"message": "Server error while checking KYC status"})
		return
	}
	WriteJSON(w, http.StatusOK, st)
}
