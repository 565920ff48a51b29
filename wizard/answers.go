package wizard

import (
	"strings"

	q "github.com/GoCodeAlone/onboarding/questionnaire"
)

// fragments returns the CRM answers contributed by a single step, or nil
// when the step contributes nothing yet.
func fragments(step StepID, data FormData) []q.Answer {
	switch step {
	case StepPersonal:
		return []q.Answer{
			{QuestionID: q.QFirstName, Text: data.Get(FieldFirstName)},
			{QuestionID: q.QLastName, Text: data.Get(FieldLastName)},
			{QuestionID: q.QNationality, AnswerID: q.ID(data.Get(FieldNationality)), Text: data.Label(FieldNationality)},
			{QuestionID: q.QPhone, Text: data.Get(FieldPhone)},
		}
	case StepIdentity:
		dob := data.Get(FieldDOBYear) + "/" + data.Get(FieldDOBMonth) + "/" + data.Get(FieldDOBDay)
		return []q.Answer{
			{QuestionID: q.QIDType, AnswerID: q.ID(data.Get(FieldIDType)), Text: data.Label(FieldIDType)},
			{QuestionID: q.QIDNumber, Text: data.Get(FieldIDNumber)},
			{QuestionID: q.QDateOfBirth, Text: dob},
		}
	case StepResidence:
		return []q.Answer{
			{QuestionID: q.QResidence, AnswerID: q.ID(data.Get(FieldResidence)), Text: data.Label(FieldResidence)},
			{QuestionID: q.QNotUSCitizen, AnswerID: q.NotUSCitizenYes, Text: data[FieldNotUSCitizen].FirstCheck()},
		}
	}
	if c, ok := choiceSteps[step]; ok {
		v := data.Get(c.FormKey)
		if v == "" {
			return nil
		}
		return []q.Answer{{QuestionID: c.QuestionID, AnswerID: q.ID(v), Text: data.Label(c.FormKey)}}
	}
	return nil
}

// BuildPayload returns the cumulative CRM submission for the step at flow
// index upTo: the answers of every step up to and including it, followed by
// the current-step marker. Finishing the last questionnaire screen is
// recorded as having reached verification.
func BuildPayload(data FormData, upTo int) []q.Answer {
	upTo = clampIndex(upTo)
	var out []q.Answer
	for i := 0; i <= upTo; i++ {
		out = append(out, fragments(Flow[i], data)...)
	}

	marker := Flow[upTo]
	if marker == StepObjective {
		marker = StepVerification
	}
	return append(out, q.Answer{QuestionID: q.QCurrentStep, Text: marker.String()})
}

// MarkerOnly reports whether a payload carries nothing but the step marker.
func MarkerOnly(payload []q.Answer) bool {
	return len(payload) <= 1
}

// FormDataFromAnswers rebuilds form data from the answers stored in the CRM.
func FormDataFromAnswers(answers []q.UserAnswer) FormData {
	data := FormData{}
	selectOrText := func(name string, a q.UserAnswer) {
		id := string(a.AnswerID)
		if id == "" {
			id = a.Text
		}
		data.SetSelect(name, id, a.Text)
	}

	for _, a := range answers {
		switch a.QuestionID {
		case q.QFirstName:
			data.SetText(FieldFirstName, a.Text)
		case q.QLastName:
			data.SetText(FieldLastName, a.Text)
		case q.QDateOfBirth:
			parts := strings.SplitN(a.Text, "/", 3)
			for len(parts) < 3 {
				parts = append(parts, "")
			}
			data.SetText(FieldDOBYear, parts[0])
			data.SetText(FieldDOBMonth, parts[1])
			data.SetText(FieldDOBDay, parts[2])
		case q.QNationality:
			selectOrText(FieldNationality, a)
		case q.QPhone:
			data.SetSelect(FieldPhone, a.Text, a.Text)
		case q.QCurrentStep:
			data.SetText(FieldCurrentStep, a.Text)
		case q.QIDType:
			selectOrText(FieldIDType, a)
		case q.QIDNumber:
			data.SetText(FieldIDNumber, a.Text)
		case q.QResidence:
			selectOrText(FieldResidence, a)
		case q.QNotUSCitizen:
			data[FieldNotUSCitizen] = Checkbox(a.Text, a.Text == "Yes")
		default:
			for _, c := range choiceSteps {
				if c.QuestionID == a.QuestionID {
					selectOrText(c.FormKey, a)
					break
				}
			}
		}
	}
	return data
}

// QuestionOptions returns the selectable options of question index i of
// the first questionnaire.
func QuestionOptions(qs []q.Questionnaire, i int) []q.Option {
	if len(qs) == 0 || i < 0 || i >= len(qs[0].Questions) {
		return nil
	}
	return qs[0].Questions[i].Answers
}

// OptionByTitle finds the option whose title matches name under q.Fold.
func OptionByTitle(opts []q.Option, name string) (q.Option, bool) {
	for _, o := range opts {
		if o.Title != "" && q.TitleMatches(o.Title, name) {
			return o, true
		}
	}
	return q.Option{}, false
}
