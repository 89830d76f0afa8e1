package model

import (
	"errors"
	"fmt"

	"xdao.co/kel/event"
)

type ErrorCode string

const (
	ErrInvalidRequest ErrorCode = "INVALID_REQUEST"
	ErrStructural     ErrorCode = "STRUCTURAL"
	ErrThreshold      ErrorCode = "THRESHOLD_NOT_MET"
	ErrPreRotation    ErrorCode = "PRE_ROTATION_MISMATCH"
	ErrDuplicity      ErrorCode = "DUPLICITY_SUSPECTED"
	ErrOutOfOrder     ErrorCode = "OUT_OF_ORDER"
	ErrDelegation     ErrorCode = "DELEGATION"
	ErrWitness        ErrorCode = "WITNESS"
	ErrNotFound       ErrorCode = "NOT_FOUND"
	ErrInternal       ErrorCode = "INTERNAL"
)

var kindCodes = map[event.Kind]ErrorCode{
	event.KindStructural:  ErrStructural,
	event.KindThreshold:   ErrThreshold,
	event.KindPreRotation: ErrPreRotation,
	event.KindDuplicity:   ErrDuplicity,
	event.KindOutOfOrder:  ErrOutOfOrder,
	event.KindDelegation:  ErrDelegation,
	event.KindWitness:     ErrWitness,
	event.KindNotFound:    ErrNotFound,
	event.KindInternal:    ErrInternal,
}

// CodedError is a stable error with a machine-readable code and a human message.
type CodedError struct {
	Code    ErrorCode `json:"code"`
	Rule    string    `json:"rule,omitempty"`
	Message string    `json:"message"`
}

func (e *CodedError) Error() string {
	if e == nil {
		return ""
	}
	if e.Rule != "" {
		return fmt.Sprintf("%s [%s]: %s", e.Code, e.Rule, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func NewError(code ErrorCode, message string) *CodedError {
	return &CodedError{Code: code, Message: message}
}

// FromError projects err onto a CodedError. Errors without a Kind are
// reported as internal.
func FromError(err error) *CodedError {
	if err == nil {
		return nil
	}
	var ce *CodedError
	if errors.As(err, &ce) {
		return ce
	}
	var ee *event.Error
	if !errors.As(err, &ee) {
		return &CodedError{Code: ErrInternal, Message: err.Error()}
	}
	code, ok := kindCodes[ee.Kind]
	if !ok {
		code = ErrInternal
	}
	return &CodedError{Code: code, Rule: ee.RuleID, Message: err.Error()}
}

// Err converts e back into an *event.Error so callers on the far side of a
// transport can branch with event.IsKind.
func (e *CodedError) Err() error {
	if e == nil {
		return nil
	}
	for k, c := range kindCodes {
		if c == e.Code {
			return event.NewError(k, e.Rule, e.Message)
		}
	}
	return e
}
