package api

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/GoCodeAlone/onboarding/crm"
	q "github.com/GoCodeAlone/onboarding/questionnaire"
)

// UserHandler handles the /api/user endpoints.
type UserHandler struct {
	crm    CRM
	logger *slog.Logger
}

// NewUserHandler creates a UserHandler.
func NewUserHandler(c CRM, logger *slog.Logger) *UserHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &UserHandler{crm: c, logger: logger}
}

// SubmitAnswers handles POST /api/user/questionnaire. The CRM reply is
// passed through unchanged.
func (h *UserHandler) SubmitAnswers(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Answers json.RawMessage `json:"answers"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeInvalidJSON(w)
		return
	}
	if a := bytes.TrimSpace(req.Answers); len(a) == 0 || a[0] != '[' {
		WriteError(w, http.StatusBadRequest, "A valid answers array is required.")
		return
	}

	d, _ := SessionFromContext(r.Context())
	resp, err := h.crm.SetAnswers(r.Context(), d.Auth(), req.Answers)
	if err != nil {
		h.logger.WarnContext(r.Context(), "failed to submit questionnaire answers", "user", d.User, "error", err)
		if ce, ok := crm.AsError(err); ok {
			WriteError(w, ce.HTTPStatus(http.StatusBadRequest), ce.Message)
			return
		}
		WriteError(w, http.StatusInternalServerError, "Failed to submit answers.")
		return
	}
	writeRaw(w, http.StatusOK, resp.Body)
}

// Progress handles POST /api/user/progress: the saved answers together
// with the progress questionnaire.
func (h *UserHandler) Progress(w http.ResponseWriter, r *http.Request) {
	d, _ := SessionFromContext(r.Context())
	body, err := fetchProgress(r.Context(), h.crm, d.Auth(), q.ProgressQuestionnaire)
	if err != nil {
		h.logger.WarnContext(r.Context(), "failed to fetch user progress", "user", d.User, "error", err)
		if ce, ok := crm.AsError(err); ok {
			WriteError(w, http.StatusUnauthorized, ce.Message)
			return
		}
		WriteError(w, http.StatusInternalServerError, "Failed to retrieve user progress.")
		return
	}
	body.Message = "User progress fetched successfully."
	WriteJSON(w, http.StatusOK, body)
}
