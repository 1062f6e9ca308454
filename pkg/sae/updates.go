package sae

import "fmt"

// Timeout identifies a timer owned by the caller.
type Timeout int

const (
	// TimeoutRetransmission guards the current Commit/Confirm exchange.
	TimeoutRetransmission Timeout = iota
	// TimeoutKeyExpiration bounds the lifetime of the derived PMK.
	TimeoutKeyExpiration
)

// String returns the timeout name.
func (t Timeout) String() string {
	switch t {
	case TimeoutRetransmission:
		return "Retransmission"
	case TimeoutKeyExpiration:
		return "KeyExpiration"
	default:
		return "Unknown"
	}
}

// RejectReason explains why a handshake was aborted.
type RejectReason int

const (
	// RejectInternalError means randomness or group arithmetic failed.
	RejectInternalError RejectReason = iota
	// RejectAuthFailed means the peer's first commit was invalid.
	RejectAuthFailed
	// RejectTooManyRetries means the sync counter exceeded MaxSync.
	RejectTooManyRetries
	// RejectKeyExpired means the PMK lifetime ended.
	RejectKeyExpired
)

// String returns the reason name.
func (r RejectReason) String() string {
	switch r {
	case RejectInternalError:
		return "InternalError"
	case RejectAuthFailed:
		return "AuthFailed"
	case RejectTooManyRetries:
		return "TooManyRetries"
	case RejectKeyExpired:
		return "KeyExpired"
	default:
		return "Unknown"
	}
}

// Update is one event emitted by the handshake. The concrete types are
// SendCommit, SendConfirm, Complete, Reject, ResetTimeout and CancelTimeout.
type Update interface {
	update()
}

// SendCommit asks the caller to transmit a Commit message.
type SendCommit struct {
	Msg CommitMsg
}

// SendConfirm asks the caller to transmit a Confirm message.
type SendConfirm struct {
	Msg ConfirmMsg
}

// Complete carries the derived key. It is emitted once per handshake.
type Complete struct {
	Key Key
}

// Reject is terminal: the handshake ignores every call afterwards.
type Reject struct {
	Reason RejectReason
	// Err is the underlying cause for RejectInternalError.
	Err error
}

// Error implements error so a Reject can be returned or wrapped directly.
func (r Reject) Error() string {
	if r.Err != nil {
		return fmt.Sprintf("sae: handshake rejected: %s: %v", r.Reason, r.Err)
	}
	return fmt.Sprintf("sae: handshake rejected: %s", r.Reason)
}

// Unwrap returns the underlying cause, if any.
func (r Reject) Unwrap() error { return r.Err }

// ResetTimeout asks the caller to (re)arm a timer.
type ResetTimeout struct {
	Timeout Timeout
}

// CancelTimeout asks the caller to stop a timer.
type CancelTimeout struct {
	Timeout Timeout
}

func (SendCommit) update()    {}
func (SendConfirm) update()   {}
func (Complete) update()      {}
func (Reject) update()        {}
func (ResetTimeout) update()  {}
func (CancelTimeout) update() {}

// UpdateSink collects the updates produced by one call into a Handshake.
// The caller drains it after every call; the handshake never retains it.
type UpdateSink []Update

func (s *UpdateSink) push(u Update) {
	*s = append(*s, u)
}
