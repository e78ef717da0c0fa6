package email

import "fmt"

// ErrorKind classifies why a send failed.
type ErrorKind string

const (
	KindTimeout  ErrorKind = "timeout"
	KindRejected ErrorKind = "rejected"
	KindNetwork  ErrorKind = "network"
)

// SendError is returned by Client.Send for every failed attempt.
// StatusCode is set only for KindRejected.
type SendError struct {
	Kind       ErrorKind
	StatusCode int
	Err        error
}

func (e *SendError) Error() string {
	switch e.Kind {
	case KindRejected:
		return fmt.Sprintf("email provider rejected request with status %d", e.StatusCode)
	case KindTimeout:
		return fmt.Sprintf("email provider request timed out: %v", e.Err)
	default:
		return fmt.Sprintf("email provider unreachable: %v", e.Err)
	}
}

func (e *SendError) Unwrap() error { return e.Err }
