// Package wizard implements the resumable onboarding questionnaire: the
// step flow, form state, validation, the background submission queue that
// syncs answers to the CRM, recovery from failed syncs, and the identity
// verification hand-off at the final step.
package wizard

import (
	"fmt"
	"strconv"
	"strings"
)

// StepID identifies a wizard screen as a main step and a zero-based
// substep within it.
type StepID struct {
	Main int
	Sub  int
}

func (s StepID) String() string { return fmt.Sprintf("%d-%d", s.Main, s.Sub) }

// Wizard screens in flow order.
var (
	StepPersonal     = StepID{1, 0}
	StepIdentity     = StepID{1, 1}
	StepResidence    = StepID{1, 2}
	StepEmployment   = StepID{2, 0}
	StepIndustry     = StepID{2, 1}
	StepExperience   = StepID{3, 0}
	StepRisk         = StepID{3, 1}
	StepObjective    = StepID{3, 2}
	StepVerification = StepID{4, 0}
)

// Flow is the fixed order of wizard screens.
var Flow = []StepID{
	StepPersonal, StepIdentity, StepResidence,
	StepEmployment, StepIndustry,
	StepExperience, StepRisk, StepObjective,
	StepVerification,
}

// substepCount is the number of screens under each main step.
var substepCount = map[int]int{1: 3, 2: 2, 3: 3, 4: 1}

// MainSteps is the number of main steps shown on the stepper.
const MainSteps = 4

// LastIndex is the flow index of the verification screen.
var LastIndex = len(Flow) - 1

// ParseStepID resolves a persisted "<main>-<sub>" marker to a step in the
// flow. Unknown markers report false.
func ParseStepID(s string) (StepID, bool) {
	main, sub, ok := strings.Cut(strings.TrimSpace(s), "-")
	if !ok {
		return StepID{}, false
	}
	m, err := strconv.Atoi(main)
	if err != nil {
		return StepID{}, false
	}
	n, err := strconv.Atoi(sub)
	if err != nil {
		return StepID{}, false
	}
	id := StepID{Main: m, Sub: n}
	if IndexOf(id) < 0 {
		return StepID{}, false
	}
	return id, true
}

// IndexOf returns the flow index of id, or -1.
func IndexOf(id StepID) int {
	for i, s := range Flow {
		if s == id {
			return i
		}
	}
	return -1
}

// FirstIndexOf returns the flow index of the first substep of a main step,
// or -1 when the main step does not exist.
func FirstIndexOf(main int) int {
	for i, s := range Flow {
		if s.Main == main {
			return i
		}
	}
	return -1
}

// StepAt returns the step at flow index i, clamping out-of-range values.
func StepAt(i int) StepID {
	return Flow[clampIndex(i)]
}

func clampIndex(i int) int {
	if i < 0 {
		return 0
	}
	if i > LastIndex {
		return LastIndex
	}
	return i
}

// StepProgress returns the fill percentage of main step n's progress bar
// while the wizard is on step current.
func StepProgress(n int, current StepID) float64 {
	switch {
	case n < current.Main:
		return 100
	case n == current.Main:
		total := substepCount[n]
		if total == 0 {
			total = 1
		}
		return float64(current.Sub) * 100 / float64(total)
	default:
		return 0
	}
}

// StepperState describes how a main step is drawn on the stepper.
type StepperState int

const (
	StepperInactive StepperState = iota
	StepperVisited
	StepperActive
	StepperCompleted
)

func (s StepperState) String() string {
	switch s {
	case StepperVisited:
		return "visited"
	case StepperActive:
		return "active"
	case StepperCompleted:
		return "completed"
	default:
		return "inactive"
	}
}

// Stepper returns the state of main step n given the current step and the
// highest main step reached.
func Stepper(n int, current StepID, highest int) StepperState {
	switch {
	case n < current.Main:
		return StepperCompleted
	case n == current.Main:
		return StepperActive
	case n <= highest:
		return StepperVisited
	default:
		return StepperInactive
	}
}
