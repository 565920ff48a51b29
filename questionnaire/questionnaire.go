// Package questionnaire holds the CRM questionnaire wire types shared by
// the server handlers and the wizard client.
package questionnaire

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Question identifiers (eqaq_id) used by the onboarding questionnaire.
const (
	QApplicantID    ID = "155"
	QInspectionID   ID = "156"
	QApplicantType  ID = "157"
	QLevelName      ID = "158"
	QReviewType     ID = "159"
	QReviewAnswer   ID = "160"
	QReviewStatus   ID = "161"
	QFirstName      ID = "162"
	QLastName       ID = "163"
	QNationality    ID = "164"
	QPhone          ID = "165"
	QIDType         ID = "166"
	QIDNumber       ID = "167"
	QDateOfBirth    ID = "168"
	QNotUSCitizen   ID = "169"
	QResidence      ID = "170"
	QEmployment     ID = "171"
	QIndustry       ID = "172"
	QExperience     ID = "173"
	QRiskTolerance  ID = "174"
	QObjective      ID = "175"
	QCurrentStep    ID = "176"
	NotUSCitizenYes ID = "4822"
)

// Questionnaire ids requested from the CRM.
const (
	OnboardingQuestionnaire = "17"
	ProgressQuestionnaire   = "14"
)

// ID is a CRM identifier. The CRM is inconsistent about sending ids as JSON
// numbers or strings, so both are accepted and normalised to a string.
type ID string

// UnmarshalJSON accepts a JSON string, number, or null.
func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("questionnaire: invalid id %s", b)
	}
	if i, err := n.Int64(); err == nil {
		*id = ID(strconv.FormatInt(i, 10))
		return nil
	}
	*id = ID(n.String())
	return nil
}

func (id ID) String() string { return string(id) }

// Answer is one entry of a set_questionnaire_user_answers submission.
type Answer struct {
	QuestionID ID     `json:"eqaq_id"`
	AnswerID   ID     `json:"eqaa_id,omitempty"`
	Text       string `json:"eqaa_text"`
}

// UserAnswer is a stored answer as returned by get_questionnaire_user_answers.
type UserAnswer struct {
	QuestionID ID     `json:"eqaq_id"`
	AnswerID   ID     `json:"eqaa_id,omitempty"`
	Text       string `json:"a_text"`
}

// Option is a selectable answer of a question.
type Option struct {
	ID    ID     `json:"eqaa_id"`
	Title string `json:"title,omitempty"`
	Text  string `json:"a_text,omitempty"`
}

// Label returns the display text for the option.
func (o Option) Label() string {
	if o.Text != "" {
		return o.Text
	}
	return o.Title
}

// Question is a questionnaire question with its options.
type Question struct {
	ID      ID       `json:"eqaq_id,omitempty"`
	Title   string   `json:"title,omitempty"`
	Answers []Option `json:"answers"`
}

// Questionnaire is a CRM questionnaire definition.
type Questionnaire struct {
	ID        ID         `json:"eqa_id,omitempty"`
	Title     string     `json:"title,omitempty"`
	Questions []Question `json:"questions"`
}

// Lookup returns the first answer recorded for question q.
func Lookup(answers []UserAnswer, q ID) (UserAnswer, bool) {
	for _, a := range answers {
		if a.QuestionID == q {
			return a, true
		}
	}
	return UserAnswer{}, false
}

// KYCApproved reports whether the stored answers already record an
// approved identity verification.
func KYCApproved(answers []UserAnswer) bool {
	status, ok := Lookup(answers, QReviewStatus)
	if !ok || status.Text != "completed" {
		return false
	}
	result, ok := Lookup(answers, QReviewAnswer)
	return ok && result.Text == "GREEN"
}
