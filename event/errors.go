package event

import "errors"

// Kind is a stable category for programmatic error handling.
//
// Callers should branch on Kind/RuleID rather than matching error strings.
type Kind string

const (
	KindStructural  Kind = "Structural"
	KindThreshold   Kind = "ThresholdNotMet"
	KindPreRotation Kind = "PreRotationMismatch"
	KindDuplicity   Kind = "DuplicitySuspected"
	KindOutOfOrder  Kind = "OutOfOrder"
	KindDelegation  Kind = "Delegation"
	KindWitness     Kind = "Witness"
	KindNotFound    Kind = "NotFound"
	KindInternal    Kind = "Internal"
)

// Stable rule identifiers.
const (
	RuleDecode           = "KEL-STR-001"
	RuleCanonical        = "KEL-STR-002"
	RuleSequenceNumber   = "KEL-STR-003"
	RuleShape            = "KEL-STR-004"
	RuleKeySet           = "KEL-STR-005"
	RuleThresholdShape   = "KEL-STR-006"
	RuleWitnessConfig    = "KEL-STR-007"
	RuleConfigTraits     = "KEL-STR-008"
	RuleInteractionShape = "KEL-STR-009"
	RuleDelegatorField   = "KEL-STR-010"
	RuleNextCommitment   = "KEL-STR-011"
	RuleAnchors          = "KEL-STR-012"
	RuleSignature        = "KEL-STR-013"

	RuleDigest             = "KEL-SAID-001"
	RuleInvalidSelfAddress = "KEL-SAID-002"

	RulePrefix           = "KEL-SEQ-001"
	RuleOutOfOrder       = "KEL-SEQ-002"
	RuleSequenceConflict = "KEL-SEQ-003"
	RulePriorDigest      = "KEL-SEQ-004"
	RuleNotEstablished   = "KEL-SEQ-005"
	RuleEstablishOnly    = "KEL-SEQ-006"

	RuleThresholdNotMet = "KEL-THR-001"
	RulePreRotation     = "KEL-PRE-001"
	RuleDuplicity       = "KEL-DUP-001"

	RuleDoNotDelegate   = "KEL-DEL-001"
	RuleNotAnchored     = "KEL-DEL-002"
	RuleDelegatorAbsent = "KEL-DEL-003"

	RuleNotWitness     = "KEL-WIT-001"
	RuleReceiptInvalid = "KEL-WIT-002"

	RuleRegistryShape    = "KEL-TEL-001"
	RuleRegistryAnchor   = "KEL-TEL-002"
	RuleRegistryUnknown  = "KEL-TEL-003"
	RuleRegistryConflict = "KEL-TEL-004"

	RuleUnknown  = "KEL-NF-001"
	RuleInternal = "KEL-INTERNAL-001"
)

// Error is the structured error type shared by the event, kel and engine
// packages.
//
// Message is intended for humans; do not match on it.
type Error struct {
	Kind    Kind
	RuleID  string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// NewError returns a structured error.
func NewError(kind Kind, ruleID, msg string) error {
	return &Error{Kind: kind, RuleID: ruleID, Message: msg}
}

// WrapError returns a structured error carrying cause.
func WrapError(kind Kind, ruleID, msg string, cause error) error {
	if cause == nil {
		return NewError(kind, ruleID, msg)
	}
	return &Error{Kind: kind, RuleID: ruleID, Message: msg + ": " + cause.Error(), Cause: cause}
}

// IsKind reports whether err is (or wraps) a *Error with the given Kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}

// KindOf returns the Kind of a structured error, or "" if unknown.
func KindOf(err error) Kind {
	var e *Error
	if !errors.As(err, &e) {
		return ""
	}
	return e.Kind
}

// RuleID returns the stable RuleID for a structured error, or "" if unknown.
func RuleID(err error) string {
	var e *Error
	if !errors.As(err, &e) {
		return ""
	}
	return e.RuleID
}

func structural(ruleID, msg string) error {
	return NewError(KindStructural, ruleID, msg)
}
