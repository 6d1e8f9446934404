package plugin

import (
	"errors"

	"github.com/fedshield/secureproc/aggregator"
	"github.com/fedshield/secureproc/crypto"
	"github.com/fedshield/secureproc/fixedpoint"
	"github.com/fedshield/secureproc/processor"
	"github.com/fedshield/secureproc/wire"
)

// Status is the stable result code surfaced to the host ABI. Values are
// append-only; existing codes never change meaning.
type Status int32

const (
	StatusOK Status = iota
	StatusRangeError
	StatusMalformedBuffer
	StatusKeyError
	StatusDecryptionError
	StatusKeyMismatch
	StatusAssignmentError
	StatusRoundMismatch
	StatusFailedState
	StatusShortBuffer
	StatusInternal
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusRangeError:
		return "range error"
	case StatusMalformedBuffer:
		return "malformed buffer"
	case StatusKeyError:
		return "key error"
	case StatusDecryptionError:
		return "decryption error"
	case StatusKeyMismatch:
		return "key mismatch"
	case StatusAssignmentError:
		return "assignment error"
	case StatusRoundMismatch:
		return "round mismatch"
	case StatusFailedState:
		return "failed state"
	case StatusShortBuffer:
		return "short output buffer"
	case StatusInternal:
		return "internal error"
	default:
		return "unknown status"
	}
}

// statusFor maps an internal error to its host-facing status code, letting
// the host distinguish data problems from protocol-misuse problems.
func statusFor(err error) Status {
	switch {
	case err == nil:
		return StatusOK
	case errors.Is(err, fixedpoint.ErrRange):
		return StatusRangeError
	case errors.Is(err, wire.ErrMalformed):
		return StatusMalformedBuffer
	case errors.Is(err, crypto.ErrKey):
		return StatusKeyError
	case errors.Is(err, crypto.ErrDecryption):
		return StatusDecryptionError
	case errors.Is(err, crypto.ErrKeyMismatch):
		return StatusKeyMismatch
	case errors.Is(err, aggregator.ErrAssignment):
		return StatusAssignmentError
	case errors.Is(err, processor.ErrRoundMismatch):
		return StatusRoundMismatch
	case errors.Is(err, processor.ErrFailed), errors.Is(err, processor.ErrClosed):
		return StatusFailedState
	default:
		return StatusInternal
	}
}
