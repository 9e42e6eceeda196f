// Package feederrors contains the errors shared by the components that hand out rows of a shared input file.
//
// Errors come in two groups. Coordination errors (ErrRangeUnavailable, ErrStoreWrite) are recovered locally:
// callers log them and carry on reading. File and connection errors (ErrFileOpen, ErrConnectionInit) and the
// end-of-input condition (ErrEndOfInput) terminate the affected scope, either a single reader thread or the
// whole process. Use IsFatal and IsThreadTerminal rather than matching on types directly.
//
// Errors may be wrapped with github.com/pkg/errors; all predicates unwrap with errors.As.
package feederrors

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrRangeUnavailable is returned when the byte range assigned to a file cannot be determined,
// either because the coordination store could not be reached or because the run descriptor is malformed.
// Readers fall back to reading the whole file.
type ErrRangeUnavailable struct {
	// Base name of the file being resolved
	File string
	// Key the run descriptor was read from
	Key string
	// Optional message included with the error message
	Message string
	// Underlying store or decoding error, if any
	Cause error
}

func (err *ErrRangeUnavailable) Error() string {
	s := fmt.Sprintf("byte range for file %q unavailable from %q", err.File, err.Key)
	if err.Message != "" {
		s = s + fmt.Sprintf("; %s", err.Message)
	}
	if err.Cause != nil {
		s = s + fmt.Sprintf(": %s", err.Cause)
	}
	return s
}

func (err *ErrRangeUnavailable) Unwrap() error {
	return err.Cause
}

// ErrStoreWrite is returned when a checkpoint could not be published to the coordination store.
type ErrStoreWrite struct {
	Key   string
	Field string
	Cause error
}

func (err *ErrStoreWrite) Error() string {
	return fmt.Sprintf("failed to write field %q of key %q: %s", err.Field, err.Key, err.Cause)
}

func (err *ErrStoreWrite) Unwrap() error {
	return err.Cause
}

// ErrFileOpen is returned when the input file cannot be opened, seeked or decoded at reservation time.
type ErrFileOpen struct {
	// Path of the file as configured
	Path string
	// Alias the file was being reserved under
	Alias string
	Cause error
}

func (err *ErrFileOpen) Error() string {
	if err.Alias != "" {
		return fmt.Sprintf("failed to open file %q for alias %q: %s", err.Path, err.Alias, err.Cause)
	}
	return fmt.Sprintf("failed to open file %q: %s", err.Path, err.Cause)
}

func (err *ErrFileOpen) Unwrap() error {
	return err.Cause
}

// ErrConnectionInit is returned when the coordination store could not be reached the first time it was needed.
// Coordination is mandatory infrastructure for a run, so this error terminates the process.
type ErrConnectionInit struct {
	// Addresses that were tried
	Addrs []string
	// Sentinel master name, empty for single-node connections
	MasterName string
	Cause      error
}

func (err *ErrConnectionInit) Error() string {
	if err.MasterName != "" {
		return fmt.Sprintf("failed to connect to redis sentinel master %q via %v: %s", err.MasterName, err.Addrs, err.Cause)
	}
	return fmt.Sprintf("failed to connect to redis at %v: %s", err.Addrs, err.Cause)
}

func (err *ErrConnectionInit) Unwrap() error {
	return err.Cause
}

// ErrEndOfInput is returned to a reader thread that hit the end of its file while configured to stop.
type ErrEndOfInput struct {
	File       string
	DataSet    string
	StopThread bool
	Recycle    bool
}

func (err *ErrEndOfInput) Error() string {
	return fmt.Sprintf(
		"end of file %s detected for CSV data set %s configured with stopThread: %t, recycle: %t",
		err.File, err.DataSet, err.StopThread, err.Recycle,
	)
}

// ErrInvalidArgument is returned when a constructor or operation is given an unusable argument.
type ErrInvalidArgument struct {
	// Name of the field or parameter
	Name string
	// Value of that field or parameter
	Value interface{}
	// Optional message included with the error message
	Message string
}

func (err *ErrInvalidArgument) Error() string {
	if err.Message == "" {
		return fmt.Sprintf("value %v is invalid for field %q", err.Value, err.Name)
	}
	return fmt.Sprintf("value %v is invalid for field %q; %s", err.Value, err.Name, err.Message)
}

// IsFatal returns true if err must terminate the whole process.
func IsFatal(err error) bool {
	var connErr *ErrConnectionInit
	return errors.As(err, &connErr)
}

// IsThreadTerminal returns true if err should stop the reader thread that received it, but not the process.
func IsThreadTerminal(err error) bool {
	var eoi *ErrEndOfInput
	if errors.As(err, &eoi) {
		return true
	}
	var openErr *ErrFileOpen
	return errors.As(err, &openErr)
}
