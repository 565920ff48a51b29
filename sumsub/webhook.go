package sumsub

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"hash"
	"io"
	"strings"
)

// Webhook signature headers.
const (
	HeaderDigest    = "X-Payload-Digest"
	HeaderDigestAlg = "X-Payload-Digest-Alg"
)

// Review outcomes.
const (
	ReviewCompleted = "completed"
	AnswerGreen     = "GREEN"
	AnswerRed       = "RED"
)

// ErrBadDigest is returned when a webhook signature does not match.
var ErrBadDigest = errors.New("sumsub: webhook digest mismatch")

// ReviewResult is the verdict attached to a review webhook.
type ReviewResult struct {
	ReviewAnswer      string   `json:"reviewAnswer"`
	RejectLabels      []string `json:"rejectLabels,omitempty"`
	ReviewRejectType  string   `json:"reviewRejectType,omitempty"`
	ModerationComment string   `json:"moderationComment,omitempty"`
}

// Webhook is a Sumsub applicant event.
type Webhook struct {
	ApplicantID    string        `json:"applicantId"`
	InspectionID   string        `json:"inspectionId"`
	ApplicantType  string        `json:"applicantType"`
	CorrelationID  string        `json:"correlationId,omitempty"`
	LevelName      string        `json:"levelName"`
	ExternalUserID string        `json:"externalUserId"`
	Type           string        `json:"type"`
	Sandbox        bool          `json:"sandboxMode,omitempty"`
	ReviewStatus   string        `json:"reviewStatus"`
	ReviewResult   *ReviewResult `json:"reviewResult,omitempty"`
	CreatedAt      string        `json:"createdAtMs,omitempty"`
}

// Answer returns the review answer, or "" when the event has no verdict.
func (w *Webhook) Answer() string {
	if w.ReviewResult == nil {
		return ""
	}
	return w.ReviewResult.ReviewAnswer
}

// Approved reports a completed review with a GREEN answer.
func (w *Webhook) Approved() bool {
	return w.ReviewStatus == ReviewCompleted && w.Answer() == AnswerGreen
}

// VerifyDigest checks a webhook body against its X-Payload-Digest header.
// alg is the X-Payload-Digest-Alg header; empty means HMAC_SHA256_HEX.
func VerifyDigest(secret, body []byte, digest, alg string) error {
	var h func() hash.Hash
	switch strings.ToUpper(alg) {
	case "", "HMAC_SHA256_HEX":
		h = sha256.New
	case "HMAC_SHA1_HEX":
		h = sha1.New
	case "HMAC_SHA512_HEX":
		h = sha512.New
	default:
		return errors.New("sumsub: unsupported digest algorithm " + alg)
	}
	want, err := hex.DecodeString(digest)
	if err != nil || len(want) == 0 {
		return ErrBadDigest
	}
	mac := hmac.New(h, secret)
	mac.Write(body)
	if !hmac.Equal(mac.Sum(nil), want) {
		return ErrBadDigest
	}
	return nil
}

func bytesReader(b []byte) io.Reader {
	if b == nil {
		return nil
	}
	return bytes.NewReader(b)
}
