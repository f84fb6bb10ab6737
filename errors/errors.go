// Package errors defines the error kinds surfaced by the codec, the
// association layer and the DIMSE services.
package errors

import (
	"errors"
	"fmt"
	"time"
)

// Sentinels matched with errors.Is.
var (
	ErrConnectionClosed    = errors.New("dicom: connection closed")
	ErrAssociationRejected = errors.New("dicom: association rejected")
	ErrInvalidPDU          = errors.New("dicom: invalid PDU")
	ErrUnsupportedTransfer = errors.New("dicom: unsupported transfer syntax")
	ErrNoPresentationCtx   = errors.New("dicom: no suitable presentation context")
	ErrInvalidMessage      = errors.New("dicom: invalid DIMSE message")
	ErrOperationCanceled   = errors.New("dicom: operation canceled")
	ErrProtocolViolation   = errors.New("dicom: protocol violation")
	ErrTimeout             = errors.New("dicom: timeout")
	ErrMalformed           = errors.New("dicom: malformed data")
	ErrElementNotFound     = errors.New("dicom: element not found")
)

// FormatError reports malformed encoded data at a byte offset.
type FormatError struct {
	Offset int64
	Msg    string
	Err    error
}

func (e *FormatError) Error() string {
	if e.Err != nil && e.Err != ErrMalformed {
		return fmt.Sprintf("dicom: format error at offset %d: %s: %v", e.Offset, e.Msg, e.Err)
	}
	return fmt.Sprintf("dicom: format error at offset %d: %s", e.Offset, e.Msg)
}

func (e *FormatError) Unwrap() error {
	if e.Err == nil {
		return ErrMalformed
	}
	return e.Err
}

// Is lets every FormatError match ErrMalformed.
func (e *FormatError) Is(target error) bool {
	return target == ErrMalformed
}

// NewFormatError builds a FormatError with a formatted message.
func NewFormatError(offset int, format string, args ...any) *FormatError {
	return &FormatError{Offset: int64(offset), Msg: fmt.Sprintf(format, args...)}
}

// WrapFormatError attaches an underlying cause.
func WrapFormatError(offset int, err error, format string, args ...any) *FormatError {
	return &FormatError{Offset: int64(offset), Msg: fmt.Sprintf(format, args...), Err: err}
}

// ProtocolViolation reports a PDU or message that is inconsistent with the
// association state or with earlier traffic.
type ProtocolViolation struct {
	State   string
	PDUType byte
	Msg     string
}

func (e *ProtocolViolation) Error() string {
	if e.PDUType != 0 {
		return fmt.Sprintf("dicom: protocol violation in state %s (PDU 0x%02X): %s", e.State, e.PDUType, e.Msg)
	}
	if e.State != "" {
		return fmt.Sprintf("dicom: protocol violation in state %s: %s", e.State, e.Msg)
	}
	return fmt.Sprintf("dicom: protocol violation: %s", e.Msg)
}

func (e *ProtocolViolation) Is(target error) bool {
	return target == ErrProtocolViolation
}

// NewProtocolViolation builds a ProtocolViolation.
func NewProtocolViolation(state string, pduType byte, format string, args ...any) *ProtocolViolation {
	return &ProtocolViolation{State: state, PDUType: pduType, Msg: fmt.Sprintf(format, args...)}
}

// RejectResult is the result field of an A-ASSOCIATE-RJ.
type RejectResult byte

const (
	RejectPermanent RejectResult = 0x01
	RejectTransient RejectResult = 0x02
)

func (r RejectResult) String() string {
	switch r {
	case RejectPermanent:
		return "rejected-permanent"
	case RejectTransient:
		return "rejected-transient"
	}
	return "unknown"
}

// AssociationRejectSource identifies who rejected an association.
type AssociationRejectSource byte

const (
	RejectSourceServiceUser                 AssociationRejectSource = 0x01
	RejectSourceServiceProviderACSE         AssociationRejectSource = 0x02
	RejectSourceServiceProviderPresentation AssociationRejectSource = 0x03
)

func (s AssociationRejectSource) String() string {
	switch s {
	case RejectSourceServiceUser:
		return "service-user"
	case RejectSourceServiceProviderACSE:
		return "service-provider-acse"
	case RejectSourceServiceProviderPresentation:
		return "service-provider-presentation"
	}
	return "unknown"
}

// AssociationRejectReason is the reason/diag field of an A-ASSOCIATE-RJ.
// Its meaning depends on the source.
type AssociationRejectReason byte

const (
	RejectReasonNoReasonGiven                  AssociationRejectReason = 0x01
	RejectReasonApplicationContextNotSupported AssociationRejectReason = 0x02
	RejectReasonCallingAETitleNotRecognized    AssociationRejectReason = 0x03
	RejectReasonCalledAETitleNotRecognized     AssociationRejectReason = 0x07

	// Service-provider (ACSE) reasons.
	RejectReasonProtocolVersionNotSupported AssociationRejectReason = 0x02

	// Service-provider (presentation) reasons.
	RejectReasonTemporaryCongestion AssociationRejectReason = 0x01
	RejectReasonLocalLimitExceeded  AssociationRejectReason = 0x02
)

// ReasonText describes reason as interpreted for source.
func ReasonText(source AssociationRejectSource, reason AssociationRejectReason) string {
	switch source {
	case RejectSourceServiceUser:
		switch reason {
		case RejectReasonNoReasonGiven:
			return "no-reason-given"
		case RejectReasonApplicationContextNotSupported:
			return "application-context-not-supported"
		case RejectReasonCallingAETitleNotRecognized:
			return "calling-ae-title-not-recognized"
		case RejectReasonCalledAETitleNotRecognized:
			return "called-ae-title-not-recognized"
		}
	case RejectSourceServiceProviderACSE:
		switch reason {
		case RejectReasonNoReasonGiven:
			return "no-reason-given"
		case RejectReasonProtocolVersionNotSupported:
			return "protocol-version-not-supported"
		}
	case RejectSourceServiceProviderPresentation:
		switch reason {
		case RejectReasonTemporaryCongestion:
			return "temporary-congestion"
		case RejectReasonLocalLimitExceeded:
			return "local-limit-exceeded"
		}
	}
	return fmt.Sprintf("reason-0x%02x", byte(reason))
}

// NegotiationFailure reports that association establishment did not
// produce a usable association: either the peer rejected it, or no
// presentation context needed by the caller was accepted.
type NegotiationFailure struct {
	Result RejectResult
	Source AssociationRejectSource
	Reason AssociationRejectReason
	Msg    string
}

func (e *NegotiationFailure) Error() string {
	if e.Result == 0 {
		return fmt.Sprintf("dicom: negotiation failed: %s", e.Msg)
	}
	return fmt.Sprintf("dicom: association %s by %s: %s",
		e.Result, e.Source, ReasonText(e.Source, e.Reason))
}

func (e *NegotiationFailure) Is(target error) bool {
	return target == ErrAssociationRejected
}

// NewNegotiationFailure builds the error for a received A-ASSOCIATE-RJ.
func NewNegotiationFailure(result RejectResult, source AssociationRejectSource, reason AssociationRejectReason) *NegotiationFailure {
	return &NegotiationFailure{Result: result, Source: source, Reason: reason}
}

// RemoteRejection is a non-success terminal status returned by a peer.
type RemoteRejection struct {
	Operation    string
	Status       uint16
	ErrorComment string
}

func (e *RemoteRejection) Error() string {
	if e.ErrorComment != "" {
		return fmt.Sprintf("dicom: %s returned status 0x%04X: %s", e.Operation, e.Status, e.ErrorComment)
	}
	return fmt.Sprintf("dicom: %s returned status 0x%04X", e.Operation, e.Status)
}

// NewRemoteRejection builds a RemoteRejection.
func NewRemoteRejection(operation string, status uint16, comment string) *RemoteRejection {
	return &RemoteRejection{Operation: operation, Status: status, ErrorComment: comment}
}

func (e *RemoteRejection) IsSuccess() bool {
	return e.Status == 0x0000
}

func (e *RemoteRejection) IsPending() bool {
	return e.Status == 0xFF00 || e.Status == 0xFF01
}

func (e *RemoteRejection) IsCancel() bool {
	return e.Status == 0xFE00
}

func (e *RemoteRejection) IsWarning() bool {
	return e.Status == 0x0001 || e.Status == 0x0107 || e.Status == 0x0116 || e.Status&0xF000 == 0xB000
}

func (e *RemoteRejection) IsFailure() bool {
	return !e.IsSuccess() && !e.IsPending() && !e.IsCancel() && !e.IsWarning()
}

// Phase names the stage an operation timed out in.
type Phase string

const (
	PhaseConnect   Phase = "connect"
	PhaseNegotiate Phase = "negotiate"
	PhaseOperation Phase = "operation"
	PhaseIdle      Phase = "idle"
	PhaseRelease   Phase = "release"
)

// TimeoutError reports an expired deadline.
type TimeoutError struct {
	Phase    Phase
	Duration time.Duration
}

func (e *TimeoutError) Error() string {
	if e.Duration > 0 {
		return fmt.Sprintf("dicom: %s timeout after %s", e.Phase, e.Duration)
	}
	return fmt.Sprintf("dicom: %s timeout", e.Phase)
}

// Timeout satisfies net.Error style checks.
func (e *TimeoutError) Timeout() bool {
	return true
}

func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

// NewTimeoutError builds a TimeoutError.
func NewTimeoutError(phase Phase, d time.Duration) *TimeoutError {
	return &TimeoutError{Phase: phase, Duration: d}
}

// NetworkError wraps a transport failure.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("dicom: network error during %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// NewNetworkError builds a NetworkError.
func NewNetworkError(op string, err error) *NetworkError {
	return &NetworkError{Op: op, Err: err}
}

// AbortError reports an A-ABORT received from the peer.
type AbortError struct {
	Source byte
	Reason byte
}

func (e *AbortError) Error() string {
	source := "unknown"
	switch e.Source {
	case 0x00:
		source = "service-user"
	case 0x02:
		source = "service-provider"
	}
	return fmt.Sprintf("dicom: association aborted by %s (reason 0x%02X)", source, e.Reason)
}

func (e *AbortError) Is(target error) bool {
	return target == ErrConnectionClosed
}

// NewAbortError builds an AbortError.
func NewAbortError(source, reason byte) *AbortError {
	return &AbortError{Source: source, Reason: reason}
}
