package utils

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindTransport Kind = "transport"
	KindParse     Kind = "parse"
	KindCapture   Kind = "capture"
	KindBackend   Kind = "backend"
	KindConfig    Kind = "config"
	KindStorage   Kind = "storage"
	KindSpeech    Kind = "speech"
)

// Error tags a failure with the layer it came from so the live session can
// decide between a state change and a narration.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Kind, e.Op, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Kind, e.Op, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Wrap returns nil for a nil err and keeps an existing *Error untouched.
func Wrap(kind Kind, op, message string, err error) error {
	if err == nil {
		return nil
	}
	var typed *Error
	if errors.As(err, &typed) {
		return err
	}
	return &Error{Kind: kind, Op: op, Message: message, Cause: err}
}

func NewError(kind Kind, op, message string) error {
	return &Error{Kind: kind, Op: op, Message: message}
}

func IsKind(err error, kind Kind) bool {
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Kind == kind
	}
	return false
}
