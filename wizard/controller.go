package wizard

import (
	"maps"
	"strconv"
	"strings"
	"unicode"

	"github.com/GoCodeAlone/onboarding/idcheck"
	q "github.com/GoCodeAlone/onboarding/questionnaire"
)

// Controller holds the wizard position, the committed form data, the
// unsaved input of the current step, and per-field errors. It is not safe
// for concurrent use; Session serialises access to it.
type Controller struct {
	state     State
	draft     FormData
	errs      map[string]string
	validator *Validator
}

// NewController returns a controller positioned at st.
func NewController(st State, v *Validator) *Controller {
	if v == nil {
		v = NewValidator()
	}
	if st.FormData == nil {
		st.FormData = FormData{}
	}
	if st.Highest < 1 {
		st.Highest = 1
	}
	st.Index = clampIndex(st.Index)
	return &Controller{
		state:     st,
		draft:     FormData{},
		errs:      map[string]string{},
		validator: v,
	}
}

// State returns a copy of the committed state.
func (c *Controller) State() State {
	st := c.state
	st.FormData = c.state.FormData.Clone()
	return st
}

// Step returns the current step.
func (c *Controller) Step() StepID { return c.state.Step() }

// View returns the committed data overlaid with the current step's input.
func (c *Controller) View() FormData {
	v := c.state.FormData.Clone()
	v.Merge(c.draft)
	return v
}

// Errors returns the current field errors.
func (c *Controller) Errors() map[string]string {
	return maps.Clone(c.errs)
}

// ClearError removes the error shown for a field.
func (c *Controller) ClearError(name string) {
	delete(c.errs, name)
}

// SetField records input for the current step. Any error on the field is
// cleared.
func (c *Controller) SetField(name string, v Value) {
	c.ClearError(name)
	c.draft[name] = v
	switch name {
	case FieldIDType:
		c.onIDTypeChange()
	case FieldIDNumber:
		c.onIDNumberInput()
	}
}

// SetSelect records a dropdown choice and its display text.
func (c *Controller) SetSelect(name, value, label string) {
	c.draft[name+TextSuffix] = Text(label)
	c.SetField(name, Text(value))
}

// onIDTypeChange resets the document number when the document type changes.
func (c *Controller) onIDTypeChange() {
	c.ClearError(FieldIDNumber)
	if c.View().Get(FieldIDNumber) != "" {
		c.draft[FieldIDNumber] = Text("")
	}
}

// onIDNumberInput keeps South African ID numbers numeric and fills the date
// of birth from a complete, valid number.
func (c *Controller) onIDNumberInput() {
	view := c.View()
	if view.Label(FieldIDType) != IDTypeSouthAfrican {
		return
	}
	digits := strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) {
			return r
		}
		return -1
	}, view.Get(FieldIDNumber))
	c.draft[FieldIDNumber] = Text(digits)

	if len(digits) != idcheck.SAIDLength {
		return
	}
	dob, err := idcheck.ValidateSAID(digits, c.validator.now())
	if err != nil {
		c.errs[FieldIDNumber] = saidMessage(err)
		return
	}
	c.draft.SetText(FieldDOBDay, strconv.Itoa(dob.Day))
	c.draft.SetText(FieldDOBMonth, strconv.Itoa(dob.Month))
	c.draft.SetText(FieldDOBYear, strconv.Itoa(dob.Year))
}

// transition is a validated advance that has not been committed yet.
type transition struct {
	from int
	data FormData
	// risky is set when the user must acknowledge the risk warning first.
	risky bool
}

// prepareAdvance validates the current step. On failure the field errors
// are recorded and returned; state is unchanged either way.
func (c *Controller) prepareAdvance() (*transition, error) {
	step := c.Step()
	view := c.View()
	if verr := c.validator.Validate(step, view); verr != nil {
		c.errs = maps.Clone(verr.Fields)
		return nil, verr
	}
	if step == StepPersonal {
		if phone, err := idcheck.NormalizePhone(view.Get(FieldPhone), c.validator.PhoneRegion); err == nil {
			view.SetText(FieldPhone, phone)
		}
	}
	return &transition{
		from:  c.state.Index,
		data:  view,
		risky: step == StepObjective && riskFlagged(view),
	}, nil
}

// commitAdvance applies a prepared transition and returns the new step.
func (c *Controller) commitAdvance(t *transition) StepID {
	c.state.FormData = t.data
	c.draft = FormData{}
	c.errs = map[string]string{}

	if c.state.Index < LastIndex {
		c.state.Index++
		c.state.Highest = max(c.state.Highest, c.Step().Main)
	}
	c.state.FormData.SetText(FieldCurrentStep, c.Step().String())
	return c.Step()
}

// Retreat moves back one screen without validation. It reports whether
// the position changed.
func (c *Controller) Retreat() bool {
	if c.state.Index == 0 {
		return false
	}
	c.state.Index--
	c.resetInput()
	return true
}

// JumpTo moves to the first screen of main step n if that step has been
// reached before. It reports whether the jump happened.
func (c *Controller) JumpTo(n int) bool {
	if n > c.state.Highest {
		return false
	}
	idx := FirstIndexOf(n)
	if idx < 0 {
		return false
	}
	c.state.Index = idx
	c.resetInput()
	return true
}

func (c *Controller) resetInput() {
	c.draft = FormData{}
	c.errs = map[string]string{}
}

// riskFlagged reports whether any trading-suitability answer is "no".
func riskFlagged(data FormData) bool {
	for _, f := range []string{FieldExperience, FieldRiskTolerance, FieldObjective} {
		if q.TitleMatches(data.Label(f), "no") {
			return true
		}
	}
	return false
}
