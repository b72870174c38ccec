package models

import "errors"

var (
	// ErrPreconditionNotMet indicates the integration is not activated:
	// credential missing, not validated, or administratively disabled.
	// Never retried automatically; requires operator action.
	ErrPreconditionNotMet = errors.New("integration preconditions not met")
	// ErrConnectionFailed indicates a transport-level failure. Retried via
	// backoff up to the attempt cap.
	ErrConnectionFailed = errors.New("push channel connection failed")
	// ErrMalformedSnapshot indicates a snapshot payload that is not a
	// well-formed sequence of device records. Fatal to that snapshot only;
	// the connection stays up and the registry is untouched.
	ErrMalformedSnapshot = errors.New("malformed device snapshot")
	// ErrInvalidUpdate indicates an incremental update without a device
	// identifier. The update is dropped; connection and registry unaffected.
	ErrInvalidUpdate = errors.New("device update missing device identifier")
)

// ServerReportedError is an explicit session rejection from the backend,
// e.g. an invalid or expired credential. It halts automatic reconnection
// until the credential is revalidated.
type ServerReportedError struct {
	Message string
}

func (e *ServerReportedError) Error() string {
	return "server rejected session: " + e.Message
}
