package core

// Process exit codes. Signal exits follow the 128 + signal convention.
const (
	ExitCodeSuccess = 0
	ExitCodeError   = 1

	// ExitCodeFallback means the command ran to completion but the remote
	// task failed and the blank placeholder was produced instead.
	ExitCodeFallback = 3

	ExitCodeSIGINT  = 130
	ExitCodeSIGTERM = 143
)

// ExitCodeName returns a human-readable name for an exit code.
func ExitCodeName(code int) string {
	switch code {
	case ExitCodeSuccess:
		return "success"
	case ExitCodeError:
		return "error"
	case ExitCodeFallback:
		return "placeholder fallback"
	case ExitCodeSIGINT:
		return "interrupted (SIGINT)"
	case ExitCodeSIGTERM:
		return "terminated (SIGTERM)"
	default:
		return "unknown"
	}
}
