package generation

import "fmt"

// Kind classifies a generation failure
type Kind string

const (
	KindTransport  Kind = "transport"  // network failure or non-2xx status
	KindBackend    Kind = "backend"    // body parsed but status != "success"
	KindExtraction Kind = "extraction" // no structured data in the model output
	KindContract   Kind = "contract"   // structured data lacks a required field
)

// Error is returned by every Client call.
// Error() yields Message alone, which is what ends up in per-item outcomes.
type Error struct {
	Stage      string
	Kind       Kind
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func transportError(stage string, status int, err error) *Error {
	msg := "HTTP error"
	if status != 0 {
		msg = fmt.Sprintf("HTTP error! status: %d", status)
	} else if err != nil {
		msg = err.Error()
	}
	return &Error{Stage: stage, Kind: KindTransport, StatusCode: status, Message: msg, Err: err}
}

func backendError(stage, message, fallback string) *Error {
	if message == "" {
		message = fallback
	}
	return &Error{Stage: stage, Kind: KindBackend, Message: message}
}
