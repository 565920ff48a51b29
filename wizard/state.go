package wizard

import (
	q "github.com/GoCodeAlone/onboarding/questionnaire"
)

// ProgressKey is the key the wizard record is persisted under.
const ProgressKey = "userProgress"

// Progress is the persisted wizard record. It is always written whole.
type Progress struct {
	CurrentSubStepIndex int               `json:"currentSubStepIndex"`
	HighestStep         int               `json:"highestStep"`
	FormData            FormData          `json:"formData"`
	UserID              q.ID              `json:"userId,omitempty"`
	UserAnswers         []q.UserAnswer    `json:"userAnswers"`
	Questionnaires      []q.Questionnaire `json:"questionnaires"`
}

// State is the in-memory wizard position and collected data.
type State struct {
	Index    int
	Highest  int
	FormData FormData
}

// Step returns the current step.
func (s State) Step() StepID { return StepAt(s.Index) }

// stateFromProgress normalises a loaded record into a valid state.
func stateFromProgress(p *Progress) State {
	st := State{
		Index:    clampIndex(p.CurrentSubStepIndex),
		Highest:  p.HighestStep,
		FormData: p.FormData,
	}
	if st.Highest < 1 {
		st.Highest = 1
	}
	if st.FormData == nil {
		st.FormData = FormData{}
	}
	if cur := st.Step().Main; cur > st.Highest {
		st.Highest = cur
	}
	return st
}

// normalize applies the load-time fixups to a freshly read record: form data
// is rebuilt from the stored answers when empty, and a recognised current
// step marker takes precedence over the stored index. It reports whether
// the record changed in a way that must be written back.
func (p *Progress) normalize() bool {
	changed := false
	if len(p.FormData) == 0 && len(p.UserAnswers) > 0 {
		p.FormData = FormDataFromAnswers(p.UserAnswers)
		changed = true
	}
	if marker := p.FormData.Get(FieldCurrentStep); marker != "" {
		if id, ok := ParseStepID(marker); ok {
			p.CurrentSubStepIndex = IndexOf(id)
		}
	}
	return changed
}
