package idcheck

import (
	"errors"
	"testing"
	"time"
)

var testNow = time.Date(2026, time.June, 1, 12, 0, 0, 0, time.UTC)

func TestValidChecksum(t *testing.T) {
	valid := []string{"8001015009087", "9001014800089"}
	for _, id := range valid {
		if !ValidChecksum(id) {
			t.Errorf("ValidChecksum(%q) = false, want true", id)
		}
	}

	invalid := []string{"9001014800086", "8001015009088", "80010150090a7", "", "7"}
	for _, id := range invalid {
		if ValidChecksum(id) {
			t.Errorf("ValidChecksum(%q) = true, want false", id)
		}
	}
}

func TestValidChecksumDetectsSingleDigitChange(t *testing.T) {
	const id = "8001015009087"
	for i := 0; i < len(id); i++ {
		b := []byte(id)
		b[i] = '0' + (b[i]-'0'+1)%10
		if ValidChecksum(string(b)) {
			t.Errorf("mutation at position %d (%s) still passes", i, b)
		}
	}
}

func TestParseDOB(t *testing.T) {
	tests := []struct {
		name string
		id   string
		want DOB
		ok   bool
	}{
		{"1900s", "9001014800086", DOB{1990, 1, 1}, true},
		{"2000s below window", "0503154800086", DOB{2005, 3, 15}, true},
		{"under eighteen", "1001014800086", DOB{}, false},
		{"month out of range", "9013014800086", DOB{}, false},
		{"day out of range", "9001324800086", DOB{}, false},
		{"non-existent date", "9002304800086", DOB{}, false},
		{"wrong length", "900101", DOB{}, false},
		{"not digits", "AB01014800086", DOB{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseDOB(tt.id, testNow)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if got != tt.want {
				t.Errorf("dob = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestParseDOBWindowBoundary(t *testing.T) {
	// 2026 gives a window of 31: "30" is 2030, "31" is 1931.
	if _, ok := ParseDOB("3001014800086", testNow); ok {
		t.Error("expected 2030 birth year to be rejected as under age")
	}
	dob, ok := ParseDOB("3101014800086", testNow)
	if !ok || dob.Year != 1931 {
		t.Errorf("got %+v ok=%v, want year 1931", dob, ok)
	}
}

func TestParseDOBEighteenthBirthday(t *testing.T) {
	now := time.Date(2026, time.March, 15, 9, 0, 0, 0, time.UTC)
	if _, ok := ParseDOB("0803154800086", now); !ok {
		t.Error("holder turning 18 today should be accepted")
	}
	if _, ok := ParseDOB("0803164800086", now); ok {
		t.Error("holder turning 18 tomorrow should be rejected")
	}
}

func TestValidateSAID(t *testing.T) {
	dob, err := ValidateSAID("8001015009087", testNow)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dob != (DOB{1980, 1, 1}) {
		t.Errorf("dob = %+v", dob)
	}

	if _, err := ValidateSAID("800101500908", testNow); !errors.Is(err, ErrSAIDLength) {
		t.Errorf("err = %v, want ErrSAIDLength", err)
	}
	if _, err := ValidateSAID("8001015009088", testNow); !errors.Is(err, ErrSAIDChecksum) {
		t.Errorf("err = %v, want ErrSAIDChecksum", err)
	}
}

func TestValidPassport(t *testing.T) {
	for _, s := range []string{"A12345", "AB1234567890123", "m00000001"} {
		if !ValidPassport(s) {
			t.Errorf("ValidPassport(%q) = false", s)
		}
	}
	for _, s := range []string{"A1234", "AB12345678901234", "AB-12345", "", "ÄB12345"} {
		if ValidPassport(s) {
			t.Errorf("ValidPassport(%q) = true", s)
		}
	}
}

func TestNormalizePhone(t *testing.T) {
	got, err := NormalizePhone("+27 82 123 4567", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "+27821234567" {
		t.Errorf("got %q", got)
	}

	got, err = NormalizePhone("082 123 4567", "za")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "+27821234567" {
		t.Errorf("got %q", got)
	}

	if _, err := NormalizePhone("   ", ""); !errors.Is(err, ErrPhoneRequired) {
		t.Errorf("err = %v, want ErrPhoneRequired", err)
	}
	if _, err := NormalizePhone("12345", ""); !errors.Is(err, ErrPhoneInvalid) {
		t.Errorf("err = %v, want ErrPhoneInvalid", err)
	}
}
