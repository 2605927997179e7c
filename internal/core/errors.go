package core

import (
	"errors"
	"fmt"
)

// FatalError aborts a run. Remediation and URL tell the operator how to fix
// the machine by hand before trying again.
type FatalError struct {
	Step        string
	Remediation string
	URL         string
	Err         error
}

func (e *FatalError) Error() string {
	if e.Err == nil {
		return e.Step + ": " + e.Remediation
	}
	return fmt.Sprintf("%s: %v", e.Step, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

func fatal(step string, err error) *FatalError {
	return &FatalError{Step: step, Err: err}
}

// WithRemediation sets the operator hint.
func (e *FatalError) WithRemediation(format string, args ...any) *FatalError {
	e.Remediation = fmt.Sprintf(format, args...)
	return e
}

// WithURL sets the manual-install link shown with the remediation.
func (e *FatalError) WithURL(url string) *FatalError {
	e.URL = url
	return e
}

// AsFatal extracts the FatalError from err's chain.
func AsFatal(err error) (*FatalError, bool) {
	var fe *FatalError
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}
