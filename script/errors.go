package script

import (
	"errors"
	"fmt"
	"go/token"
	"strings"
)

// ErrAssertion is wrapped by errors from failed assert commands.
var ErrAssertion = errors.New("assertion failed")

// Error is an error in a single script line.
type Error struct {
	Pos token.Position
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Pos, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ErrorList is the list of errors from running a script.
type ErrorList struct {
	Filename string
	Errs     []*Error
}

func (l *ErrorList) Error() string {
	msgs := make([]string, len(l.Errs))
	for i, err := range l.Errs {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "\n")
}

// Unwrap returns the individual errors.
func (l *ErrorList) Unwrap() []error {
	errs := make([]error, len(l.Errs))
	for i, err := range l.Errs {
		errs[i] = err
	}
	return errs
}
