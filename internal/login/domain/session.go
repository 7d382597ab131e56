// Package domain holds the login-flow value types and input normalization rules.
package domain

import (
	"errors"
	"regexp"
	"strings"
)

// Step is the login flow step.
type Step int

const (
	// StepPhone is the phone-entry step; the initial step of every flow.
	StepPhone Step = iota
	// StepCode is the code-entry step, after an OTP has been dispatched.
	StepCode
)

// String returns the step name used in API responses.
func (s Step) String() string {
	if s == StepCode {
		return "code_entry"
	}
	return "phone_entry"
}

// Sentinel validation errors. Rejected locally, no upstream call is made.
var (
	ErrInvalidPhone = errors.New("phone number must be 11 digits starting with 09")
	ErrInvalidCode  = errors.New("verification code must be exactly 4 digits")
)

var phonePattern = regexp.MustCompile(`^09\d{9}$`)

// NormalizePhone strips non-digit characters and caps the result at 11 digits,
// mirroring the input filtering applied in the portal UI.
func NormalizePhone(raw string) string {
	digits := keepDigits(raw)
	if len(digits) > 11 {
		digits = digits[:11]
	}
	return digits
}

// ValidPhone reports whether phone is a normalized 11-digit 09-prefixed number.
func ValidPhone(phone string) bool {
	return phonePattern.MatchString(phone)
}

// NormalizeCode strips non-digit characters and caps the result at 4 digits.
func NormalizeCode(raw string) string {
	digits := keepDigits(raw)
	if len(digits) > 4 {
		digits = digits[:4]
	}
	return digits
}

// ValidCode reports whether code is exactly 4 digits.
func ValidCode(code string) bool {
	if len(code) != 4 {
		return false
	}
	return keepDigits(code) == code
}

func keepDigits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
