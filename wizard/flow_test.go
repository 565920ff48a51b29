package wizard

import "testing"

func TestParseStepID(t *testing.T) {
	id, ok := ParseStepID("3-2")
	if !ok || id != StepObjective {
		t.Errorf("ParseStepID(3-2) = %v, %v", id, ok)
	}
	for _, s := range []string{"", "5-0", "1-3", "x-1", "1"} {
		if _, ok := ParseStepID(s); ok {
			t.Errorf("ParseStepID(%q) should fail", s)
		}
	}
}

func TestFirstIndexOf(t *testing.T) {
	want := map[int]int{1: 0, 2: 3, 3: 5, 4: 8, 5: -1}
	for main, idx := range want {
		if got := FirstIndexOf(main); got != idx {
			t.Errorf("FirstIndexOf(%d) = %d, want %d", main, got, idx)
		}
	}
}

func TestStepProgress(t *testing.T) {
	cur := StepRisk // 3-1
	tests := []struct {
		main int
		want float64
	}{
		{1, 100},
		{2, 100},
		{3, 100.0 / 3},
		{4, 0},
	}
	for _, tt := range tests {
		if got := StepProgress(tt.main, cur); got != tt.want {
			t.Errorf("StepProgress(%d) = %v, want %v", tt.main, got, tt.want)
		}
	}
}

func TestStepper(t *testing.T) {
	cur := StepEmployment
	if got := Stepper(1, cur, 3); got != StepperCompleted {
		t.Errorf("step 1 = %s", got)
	}
	if got := Stepper(2, cur, 3); got != StepperActive {
		t.Errorf("step 2 = %s", got)
	}
	if got := Stepper(3, cur, 3); got != StepperVisited {
		t.Errorf("step 3 = %s", got)
	}
	if got := Stepper(4, cur, 3); got != StepperInactive {
		t.Errorf("step 4 = %s", got)
	}
}
