package constants

import "testing"

func TestIsValidHealthState(t *testing.T) {
	for _, s := range []string{HealthOK, HealthDegraded, HealthDown} {
		if !IsValidHealthState(s) {
			t.Errorf("%q should be valid", s)
		}
	}
	for _, s := range []string{"", "up", "OK"} {
		if IsValidHealthState(s) {
			t.Errorf("%q should be invalid", s)
		}
	}
}
