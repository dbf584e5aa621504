package research

import "errors"

// Stable error codes surfaced in terminal error events.
const (
	ErrCodeSearchFailed    = "SEARCH_FAILED"
	ErrCodePlanningFailed  = "PLANNING_FAILED"
	ErrCodeSynthesisFailed = "SYNTHESIS_FAILED"
	ErrCodeUnknown         = "UNKNOWN"
)

// PipelineError tags a failure with a stable code for stream consumers.
type PipelineError struct {
	Code        string
	Message     string
	Recoverable bool
	Err         error
}

func (e *PipelineError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *PipelineError) Unwrap() error { return e.Err }

// errorCode maps any error to its stream code and recoverability.
func errorCode(err error) (string, bool) {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Code, pe.Recoverable
	}
	return ErrCodeUnknown, false
}
