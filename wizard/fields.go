package wizard

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"strings"

	"github.com/GoCodeAlone/onboarding/questionnaire"
)

// Form field names. Select and choice fields also store their display text
// under the name with TextSuffix appended.
const (
	FieldFirstName     = "fname"
	FieldLastName      = "lname"
	FieldNationality   = "country_id"
	FieldPhone         = "phone"
	FieldIDType        = "identificationType"
	FieldIDNumber      = "idNumber"
	FieldDOBYear       = "dob-year"
	FieldDOBMonth      = "dob-month"
	FieldDOBDay        = "dob-day"
	FieldResidence     = "residenceCountry"
	FieldNotUSCitizen  = "notUsCitizen"
	FieldTerms         = "terms"
	FieldEmployment    = "employmentStatus"
	FieldIndustry      = "industryStatus"
	FieldExperience    = "experience"
	FieldRiskTolerance = "riskTolerance"
	FieldObjective     = "tradingObjective"
	FieldCurrentStep   = "currentStep"
	FieldCountryByIP   = "countryByIp"

	TextSuffix = "_text"
)

// Identification type labels that switch validation rules.
const (
	IDTypeSouthAfrican = "South African ID"
	IDTypePassport     = "Passport"
)

// Check is one checkbox of a checkbox group.
type Check struct {
	Value   string `json:"value"`
	Checked bool   `json:"checked"`
}

// Value is a form value: plain text, or a checkbox group.
type Value struct {
	Text   string
	Checks []Check
}

// Text returns a text value.
func Text(s string) Value { return Value{Text: s} }

// Checkbox returns a single-checkbox group value.
func Checkbox(value string, checked bool) Value {
	return Value{Checks: []Check{{Value: value, Checked: checked}}}
}

// IsCheckbox reports whether v is a checkbox group.
func (v Value) IsCheckbox() bool { return v.Checks != nil }

// Checked reports whether any box in the group is checked.
func (v Value) Checked() bool {
	for _, c := range v.Checks {
		if c.Checked {
			return true
		}
	}
	return false
}

// Empty reports whether the value carries no input.
func (v Value) Empty() bool {
	if v.IsCheckbox() {
		return !v.Checked()
	}
	return strings.TrimSpace(v.Text) == ""
}

// FirstCheck returns the value of the first box of a checkbox group.
func (v Value) FirstCheck() string {
	if len(v.Checks) == 0 {
		return ""
	}
	return v.Checks[0].Value
}

// MarshalJSON encodes text as a JSON string and checkbox groups as an array.
func (v Value) MarshalJSON() ([]byte, error) {
	if v.IsCheckbox() {
		return json.Marshal(v.Checks)
	}
	return json.Marshal(v.Text)
}

// UnmarshalJSON accepts a string, number, boolean, array of checks or null.
func (v *Value) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	*v = Value{}
	switch {
	case len(b) == 0 || bytes.Equal(b, []byte("null")):
		return nil
	case b[0] == '"':
		return json.Unmarshal(b, &v.Text)
	case b[0] == '[':
		checks := []Check{}
		if err := json.Unmarshal(b, &checks); err != nil {
			return fmt.Errorf("wizard: decode checkbox value: %w", err)
		}
		v.Checks = checks
		return nil
	case b[0] == '{':
		return fmt.Errorf("wizard: unsupported form value %s", b)
	default:
		v.Text = string(b)
		return nil
	}
}

// FormData is the cumulative set of answers collected by the wizard.
type FormData map[string]Value

// Get returns the text of a field, or "" when unset.
func (f FormData) Get(name string) string { return f[name].Text }

// Label returns the display text stored alongside a select or choice field.
func (f FormData) Label(name string) string { return f[name+TextSuffix].Text }

// SetText sets a text field.
func (f FormData) SetText(name, value string) { f[name] = Text(value) }

// SetSelect sets a select field and its display text.
func (f FormData) SetSelect(name, value, label string) {
	f[name] = Text(value)
	f[name+TextSuffix] = Text(label)
}

// Merge copies every entry of other into f, overwriting existing keys.
func (f FormData) Merge(other FormData) {
	maps.Copy(f, other)
}

// Clone returns a copy of f. Checkbox slices are copied too.
func (f FormData) Clone() FormData {
	out := make(FormData, len(f))
	for k, v := range f {
		if v.Checks != nil {
			v.Checks = append([]Check(nil), v.Checks...)
		}
		out[k] = v
	}
	return out
}

// FieldKind describes how a field is entered.
type FieldKind int

const (
	KindText FieldKind = iota
	KindSelect
	KindCheckbox
	KindChoice
)

// Field declares one input of a step.
type Field struct {
	Name     string
	Kind     FieldKind
	Required bool
	// Message overrides the generic required-field error.
	Message string
}

// Choice describes a screen answered by picking one of the options of a
// questionnaire question.
type Choice struct {
	QuestionIndex int
	FormKey       string
	QuestionID    questionnaire.ID
}

// StepDef declares the inputs of one screen.
type StepDef struct {
	ID     StepID
	Fields []Field
	Choice *Choice
}

// Question indexes into the onboarding questionnaire for dropdown options.
const (
	NationalityQuestion = 7
	IDTypeQuestion      = 10
	ResidenceQuestion   = 14
)

// Messages shown next to invalid fields.
const (
	MsgRequired     = "This field is required."
	MsgPhoneInvalid = "Invalid phone number."
	MsgIDLength     = "ID number must be 13 digits."
	MsgIDChecksum   = "Invalid ID number. Please check the number."
	MsgIDDate       = "ID number contains an invalid date or you are under 18."
	MsgPassport     = "Passport must be 6-15 letters and numbers."
	MsgTerms        = "You must agree to the Terms & Conditions."
	MsgNotUSCitizen = "You must confirm you are not a US citizen."
)

var choiceSteps = map[StepID]*Choice{
	StepEmployment: {QuestionIndex: 1, FormKey: FieldEmployment, QuestionID: questionnaire.QEmployment},
	StepIndustry:   {QuestionIndex: 5, FormKey: FieldIndustry, QuestionID: questionnaire.QIndustry},
	StepExperience: {QuestionIndex: 2, FormKey: FieldExperience, QuestionID: questionnaire.QExperience},
	StepRisk:       {QuestionIndex: 4, FormKey: FieldRiskTolerance, QuestionID: questionnaire.QRiskTolerance},
	StepObjective:  {QuestionIndex: 8, FormKey: FieldObjective, QuestionID: questionnaire.QObjective},
}

var stepDefs = map[StepID]StepDef{
	StepPersonal: {ID: StepPersonal, Fields: []Field{
		{Name: FieldFirstName, Kind: KindText, Required: true},
		{Name: FieldLastName, Kind: KindText, Required: true},
		{Name: FieldNationality, Kind: KindSelect, Required: true},
		{Name: FieldPhone, Kind: KindText},
	}},
	StepIdentity: {ID: StepIdentity, Fields: []Field{
		{Name: FieldIDType, Kind: KindSelect, Required: true},
		{Name: FieldIDNumber, Kind: KindText},
		{Name: FieldDOBDay, Kind: KindSelect},
		{Name: FieldDOBMonth, Kind: KindSelect},
		{Name: FieldDOBYear, Kind: KindSelect},
	}},
	StepResidence: {ID: StepResidence, Fields: []Field{
		{Name: FieldResidence, Kind: KindSelect, Required: true},
		{Name: FieldNotUSCitizen, Kind: KindCheckbox, Required: true, Message: MsgNotUSCitizen},
		{Name: FieldTerms, Kind: KindCheckbox, Required: true, Message: MsgTerms},
	}},
	StepVerification: {ID: StepVerification},
}

func init() {
	for id, c := range choiceSteps {
		stepDefs[id] = StepDef{
			ID:     id,
			Fields: []Field{{Name: c.FormKey, Kind: KindChoice, Required: true}},
			Choice: c,
		}
	}
}

// Definition returns the declared inputs of a step.
func Definition(id StepID) StepDef {
	return stepDefs[id]
}
