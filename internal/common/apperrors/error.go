// Package apperrors provides the error type used across floorbook. Errors
// chain (errors.Is/As see every wrapped cause), carry an HTTP status code
// for whoever serves them over HTTP, and are classified into validation,
// not found, conflict, access denied or storage failures.
package apperrors

import "errors"

// Class is the coarse category of an application error. Callers decide on
// user-facing behaviour from the class alone.
type Class int

const (
	ClassUnknown Class = iota
	ClassValidation
	ClassNotFound
	ClassConflict
	ClassAccessDenied
	ClassStorage
)

func (c Class) String() string {
	switch c {
	case ClassValidation:
		return "validation"
	case ClassNotFound:
		return "not_found"
	case ClassConflict:
		return "conflict"
	case ClassAccessDenied:
		return "access_denied"
	case ClassStorage:
		return "storage"
	default:
		return "unknown"
	}
}

// Error defines the interface for application errors. All methods that
// return Error leave the receiver untouched so package level error vars can
// be used as templates.
type Error interface {
	error
	Unwrap() error // support for errors.Is / errors.As

	New(msg string) Error                  // creates a new error using current as template
	Msg(msg string) Error                  // creates a new error with message and wraps original
	MsgErr(msg string, err ...error) Error // creates error with message and wraps extra errors
	Err(err ...error) Error                // attaches additional errors to current error
	SetExpandError(bool) Error             // controls whether ErrorAll expands wrapped errors
	SetStatusCode(int) Error               // sets HTTP status code for the error
	StatusCode() int                       // returns the current status code
	SetClass(Class) Error                  // sets the error class
	Class() Class                          // returns the class, inherited from the template chain
	Prefix(string) Error                   // adds a prefix to the error message
	Suffix(string) Error                   // adds a suffix to the error message
	Op(op string, id any) Error            // prefixes the operation name and offending id
	ErrorAll() string                      // returns full message including wrapped errors
	UnwrapAll() []error                    // returns all wrapped errors
}

// ClassOf returns the class of err when it is (or wraps) an Error, and
// ClassUnknown otherwise.
func ClassOf(err error) Class {
	if err == nil {
		return ClassUnknown
	}
	var ae Error
	if errors.As(err, &ae) {
		return ae.Class()
	}
	return ClassUnknown
}
