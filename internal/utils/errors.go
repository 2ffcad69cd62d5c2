package utils

import "fmt"

// AppError tags a collection failure with the operation that produced it
// ("metrics.query", "logs.window") and the series or source involved, so a
// skipped source stays identifiable in the tick log.
type AppError struct {
	Op      string
	Subject string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Subject)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Subject, e.Err)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError wraps err with the failing operation and its subject.
func NewAppError(op, subject string, err error) error {
	return &AppError{Op: op, Subject: subject, Err: err}
}
