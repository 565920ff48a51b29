package wizard

import (
	"errors"
	"time"

	"github.com/GoCodeAlone/onboarding/idcheck"
)

// Validator applies the per-step field rules.
type Validator struct {
	// Now is the clock used for the minimum age check.
	Now func() time.Time
	// PhoneRegion is the region assumed for phone numbers without a
	// country code.
	PhoneRegion string
}

// NewValidator returns a Validator using the wall clock.
func NewValidator() *Validator {
	return &Validator{Now: time.Now, PhoneRegion: idcheck.DefaultRegion}
}

func (v *Validator) now() time.Time {
	if v.Now == nil {
		return time.Now()
	}
	return v.Now()
}

// Validate checks the fields of step against data and returns nil when the
// step may be left.
func (v *Validator) Validate(step StepID, data FormData) *ValidationError {
	errs := map[string]string{}
	def := Definition(step)
	for _, f := range def.Fields {
		if f.Required && data[f.Name].Empty() {
			msg := f.Message
			if msg == "" {
				msg = MsgRequired
			}
			errs[f.Name] = msg
		}
	}

	switch step {
	case StepPersonal:
		if _, err := idcheck.NormalizePhone(data.Get(FieldPhone), v.PhoneRegion); err != nil {
			if errors.Is(err, idcheck.ErrPhoneRequired) {
				errs[FieldPhone] = MsgRequired
			} else {
				errs[FieldPhone] = MsgPhoneInvalid
			}
		}
	case StepIdentity:
		v.validateIdentity(data, errs)
	}

	if len(errs) == 0 {
		return nil
	}
	return &ValidationError{Step: step, Fields: errs}
}

func (v *Validator) validateIdentity(data FormData, errs map[string]string) {
	number := data.Get(FieldIDNumber)
	switch data.Label(FieldIDType) {
	case IDTypeSouthAfrican:
		if number == "" {
			errs[FieldIDNumber] = MsgRequired
			return
		}
		if _, err := idcheck.ValidateSAID(number, v.now()); err != nil {
			errs[FieldIDNumber] = saidMessage(err)
		}
	case IDTypePassport:
		if number == "" {
			errs[FieldIDNumber] = MsgRequired
		} else if !idcheck.ValidPassport(number) {
			errs[FieldIDNumber] = MsgPassport
		}
		if data.Get(FieldDOBDay) == "" || data.Get(FieldDOBMonth) == "" || data.Get(FieldDOBYear) == "" {
			errs[FieldDOBDay] = MsgRequired
		}
	}
}

func saidMessage(err error) string {
	switch {
	case errors.Is(err, idcheck.ErrSAIDLength):
		return MsgIDLength
	case errors.Is(err, idcheck.ErrSAIDChecksum):
		return MsgIDChecksum
	default:
		return MsgIDDate
	}
}
