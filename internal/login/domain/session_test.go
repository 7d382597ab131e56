package domain

import "testing"

func TestNormalizePhone(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"09123456789", "09123456789"},
		{"0912-345-6789", "09123456789"},
		{"(0912) 345 6789", "09123456789"},
		{"091234567891234", "09123456789"},
		{"abc", ""},
		{"", ""},
	}
	for _, tc := range cases {
		if got := NormalizePhone(tc.in); got != tc.want {
			t.Errorf("NormalizePhone(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestValidPhone(t *testing.T) {
	valid := []string{"09123456789", "09000000000", "09999999999"}
	for _, p := range valid {
		if !ValidPhone(p) {
			t.Errorf("ValidPhone(%q) = false, want true", p)
		}
	}
	invalid := []string{"", "0912345678", "091234567890", "19123456789", "08123456789", "0912345678a"}
	for _, p := range invalid {
		if ValidPhone(p) {
			t.Errorf("ValidPhone(%q) = true, want false", p)
		}
	}
}

func TestNormalizeCode(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"1234", "1234"},
		{"12 34", "1234"},
		{"123456", "1234"},
		{"1a2b3c4d5", "1234"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := NormalizeCode(tc.in); got != tc.want {
			t.Errorf("NormalizeCode(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestValidCode(t *testing.T) {
	if !ValidCode("1234") {
		t.Error("ValidCode(1234) = false, want true")
	}
	for _, c := range []string{"", "123", "12345", "12a4"} {
		if ValidCode(c) {
			t.Errorf("ValidCode(%q) = true, want false", c)
		}
	}
}

func TestStepString(t *testing.T) {
	if StepPhone.String() != "phone_entry" {
		t.Errorf("StepPhone.String() = %q", StepPhone.String())
	}
	if StepCode.String() != "code_entry" {
		t.Errorf("StepCode.String() = %q", StepCode.String())
	}
}
