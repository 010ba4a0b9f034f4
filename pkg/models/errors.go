package models

import (
	"errors"
	"fmt"
)

type ErrorKind string

const (
	KindNoCardSelected     ErrorKind = "NoCardSelected"
	KindSelectionCancelled ErrorKind = "SelectionCancelled"
	KindInvalidRegion      ErrorKind = "InvalidRegion"
	KindCaptureFailed      ErrorKind = "CaptureFailed"
	KindUploadFailed       ErrorKind = "UploadFailed"
	KindUpdateFailed       ErrorKind = "UpdateFailed"
	KindEmptyQueue         ErrorKind = "EmptyQueue"
)

var (
	ErrNoCardSelected     = &CaptureError{Kind: KindNoCardSelected}
	ErrSelectionCancelled = &CaptureError{Kind: KindSelectionCancelled}
	ErrInvalidRegion      = &CaptureError{Kind: KindInvalidRegion}
	ErrCaptureFailed      = &CaptureError{Kind: KindCaptureFailed}
	ErrUploadFailed       = &CaptureError{Kind: KindUploadFailed}
	ErrUpdateFailed       = &CaptureError{Kind: KindUpdateFailed}
	ErrEmptyQueue         = &CaptureError{Kind: KindEmptyQueue}
)

// CaptureError classifies a failure of the capture pipeline. Two errors are
// equal under errors.Is when their kinds match.
type CaptureError struct {
	Kind ErrorKind
	Err  error
}

func NewError(kind ErrorKind, err error) *CaptureError {
	return &CaptureError{Kind: kind, Err: err}
}

func Errorf(kind ErrorKind, format string, args ...interface{}) *CaptureError {
	return &CaptureError{Kind: kind, Err: fmt.Errorf(format, args...)}
}

func (e *CaptureError) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *CaptureError) Unwrap() error {
	return e.Err
}

func (e *CaptureError) Is(target error) bool {
	t, ok := target.(*CaptureError)
	return ok && t.Kind == e.Kind
}

// KindOf returns the kind of the first CaptureError in err's chain, or "".
func KindOf(err error) ErrorKind {
	var ce *CaptureError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return ""
}
