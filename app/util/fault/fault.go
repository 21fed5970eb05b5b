package fault

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindValidation  Kind = "validation"
	KindRecoverable Kind = "recoverable"
	KindFatal       Kind = "fatal"
	KindDegraded    Kind = "degraded"
)

// Error carries a classification that decides how the middleware treats a failure.
type Error struct {
	Kind   Kind
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newError(kind Kind, reason string, err error) *Error {
	return &Error{Kind: kind, Reason: reason, Err: err}
}

func Validation(reason string, err error) error {
	return newError(KindValidation, reason, err)
}

func Recoverable(reason string, err error) error {
	return newError(KindRecoverable, reason, err)
}

func Fatal(reason string, err error) error {
	return newError(KindFatal, reason, err)
}

func Degraded(reason string, err error) error {
	return newError(KindDegraded, reason, err)
}

// KindOf returns the outermost classification found in the chain.
// Unclassified errors are reported as recoverable.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}

	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}

	return KindRecoverable
}

func IsValidation(err error) bool {
	return err != nil && KindOf(err) == KindValidation
}

func IsRecoverable(err error) bool {
	return err != nil && KindOf(err) == KindRecoverable
}

func IsFatal(err error) bool {
	return err != nil && KindOf(err) == KindFatal
}
