package idcheck

import (
	"errors"
	"strconv"
	"time"
)

// SAIDLength is the number of digits in a South African ID number.
const SAIDLength = 13

// MinimumAge is the youngest age accepted for onboarding.
const MinimumAge = 18

var (
	ErrSAIDLength   = errors.New("ID number must be 13 digits")
	ErrSAIDChecksum = errors.New("invalid ID number checksum")
	ErrSAIDDate     = errors.New("ID number contains an invalid date or holder is under 18")
)

// DOB is a calendar date of birth.
type DOB struct {
	Year  int
	Month int
	Day   int
}

// Time returns the date of birth at midnight UTC.
func (d DOB) Time() time.Time {
	return time.Date(d.Year, time.Month(d.Month), d.Day, 0, 0, 0, 0, time.UTC)
}

// ValidChecksum reports whether s is an all-digit string whose final digit
// is the Luhn check digit of the preceding digits.
func ValidChecksum(s string) bool {
	n := len(s)
	if n < 2 {
		return false
	}
	digits := make([]int, n)
	for i := 0; i < n; i++ {
		c := s[i]
		if c < '0' || c > '9' {
			return false
		}
		digits[i] = int(c - '0')
	}

	parity := (n - 1) % 2
	sum := 0
	for i := 0; i < n-1; i++ {
		d := digits[i]
		if i%2 != parity {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
	}
	check := (10 - sum%10) % 10
	return digits[n-1] == check
}

// ParseDOB extracts the date of birth encoded in the first six digits of a
// South African ID number (YYMMDD). Two-digit years below the current
// two-digit year plus five are placed in the 2000s, the rest in the 1900s.
// The second return value is false when the date does not exist on the
// calendar or the holder is younger than MinimumAge relative to now.
func ParseDOB(id string, now time.Time) (DOB, bool) {
	if len(id) != SAIDLength {
		return DOB{}, false
	}
	yy, err1 := strconv.Atoi(id[0:2])
	mm, err2 := strconv.Atoi(id[2:4])
	dd, err3 := strconv.Atoi(id[4:6])
	if err1 != nil || err2 != nil || err3 != nil {
		return DOB{}, false
	}

	year := yy + 1900
	if yy < now.Year()%100+5 {
		year = yy + 2000
	}
	if mm < 1 || mm > 12 || dd < 1 || dd > 31 {
		return DOB{}, false
	}

	born := time.Date(year, time.Month(mm), dd, 0, 0, 0, 0, time.UTC)
	if born.Year() != year || int(born.Month()) != mm || born.Day() != dd {
		return DOB{}, false
	}

	cutoff := time.Date(now.Year()-MinimumAge, now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	if born.After(cutoff) {
		return DOB{}, false
	}
	return DOB{Year: year, Month: mm, Day: dd}, true
}

// ValidateSAID runs the full South African ID check and returns the
// embedded date of birth on success.
func ValidateSAID(id string, now time.Time) (DOB, error) {
	if len(id) != SAIDLength {
		return DOB{}, ErrSAIDLength
	}
	if !ValidChecksum(id) {
		return DOB{}, ErrSAIDChecksum
	}
	dob, ok := ParseDOB(id, now)
	if !ok {
		return DOB{}, ErrSAIDDate
	}
	return dob, nil
}
