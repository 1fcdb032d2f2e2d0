package core

import (
	"testing"
)

func TestExitCodeConstants(t *testing.T) {
	// Signal exits follow the 128 + signal convention
	tests := []struct {
		name  string
		code  int
		value int
	}{
		{"ExitCodeSuccess", ExitCodeSuccess, 0},
		{"ExitCodeError", ExitCodeError, 1},
		{"ExitCodeFallback", ExitCodeFallback, 3},
		{"ExitCodeSIGINT", ExitCodeSIGINT, 130},
		{"ExitCodeSIGTERM", ExitCodeSIGTERM, 143},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.code != tt.value {
				t.Errorf("%s = %d, want %d", tt.name, tt.code, tt.value)
			}
		})
	}
}

func TestExitCodeName(t *testing.T) {
	tests := []struct {
		code int
		want string
	}{
		{ExitCodeSuccess, "success"},
		{ExitCodeError, "error"},
		{ExitCodeFallback, "placeholder fallback"},
		{ExitCodeSIGINT, "interrupted (SIGINT)"},
		{ExitCodeSIGTERM, "terminated (SIGTERM)"},
		{99, "unknown"},
	}

	for _, tt := range tests {
		if got := ExitCodeName(tt.code); got != tt.want {
			t.Errorf("ExitCodeName(%d) = %q, want %q", tt.code, got, tt.want)
		}
	}
}
