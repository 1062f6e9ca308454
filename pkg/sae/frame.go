package sae

import (
	"encoding/binary"
	"errors"
	"math/big"
)

// Authentication frame constants from IEEE Std 802.11-2016 Section 9.3.3.12.
const (
	// AuthAlgorithmSAE is the Authentication Algorithm Number for SAE.
	AuthAlgorithmSAE uint16 = 3

	// SeqCommit and SeqConfirm are the SAE authentication transaction
	// sequence numbers.
	SeqCommit  uint16 = 1
	SeqConfirm uint16 = 2

	// StatusSuccess is status code 0.
	StatusSuccess uint16 = 0

	// authHeaderSize covers algorithm, transaction sequence and status code.
	authHeaderSize = 6

	// confirmTagSize is the SHA-256 based confirm length.
	confirmTagSize = 32
)

// Frame errors.
var (
	ErrFrameTooShort       = errors.New("sae: authentication frame too short")
	ErrFrameLength         = errors.New("sae: authentication frame has unexpected length")
	ErrUnexpectedAlgorithm = errors.New("sae: not an SAE authentication frame")
	ErrUnexpectedSequence  = errors.New("sae: unknown transaction sequence number")
	ErrGroupMismatch       = errors.New("sae: commit uses a different finite cyclic group")
)

// Frame is a decoded SAE authentication frame body.
type Frame struct {
	Sequence uint16
	Status   uint16

	// GroupID, Commit are set for SeqCommit frames.
	GroupID uint16
	Commit  *CommitMsg

	// Confirm is set for SeqConfirm frames.
	Confirm *ConfirmMsg
}

// EncodeCommitFrame builds the authentication frame body for a commit:
//
//	Algorithm(2) | Seq=1(2) | Status(2) | Group(2) | Scalar | Element
func EncodeCommitFrame(g FiniteCyclicGroup, msg *CommitMsg) []byte {
	buf := make([]byte, 0, authHeaderSize+2+g.ScalarSize()+g.ElementSize())
	buf = appendAuthHeader(buf, SeqCommit, StatusSuccess)
	buf = binary.LittleEndian.AppendUint16(buf, g.GroupID())
	buf = append(buf, scalarToOctets(msg.Scalar, g.ScalarSize())...)
	buf = append(buf, g.ElementToOctets(msg.Element)...)
	return buf
}

// EncodeConfirmFrame builds the authentication frame body for a confirm:
//
//	Algorithm(2) | Seq=2(2) | Status(2) | SendConfirm(2) | Confirm
func EncodeConfirmFrame(msg *ConfirmMsg) []byte {
	buf := make([]byte, 0, authHeaderSize+2+len(msg.Confirm))
	buf = appendAuthHeader(buf, SeqConfirm, StatusSuccess)
	buf = binary.LittleEndian.AppendUint16(buf, msg.SendConfirm)
	buf = append(buf, msg.Confirm...)
	return buf
}

// DecodeFrame parses an SAE authentication frame body for group g.
//
// A commit whose element octets do not decode to a valid group member is
// returned with a nil Element rather than an error; judging the commit is the
// handshake's job. Frames with a non-success status carry no message.
func DecodeFrame(g FiniteCyclicGroup, body []byte) (*Frame, error) {
	if len(body) < authHeaderSize {
		return nil, ErrFrameTooShort
	}
	if binary.LittleEndian.Uint16(body[0:2]) != AuthAlgorithmSAE {
		return nil, ErrUnexpectedAlgorithm
	}

	f := &Frame{
		Sequence: binary.LittleEndian.Uint16(body[2:4]),
		Status:   binary.LittleEndian.Uint16(body[4:6]),
	}
	rest := body[authHeaderSize:]

	switch f.Sequence {
	case SeqCommit:
		if len(rest) < 2 {
			return nil, ErrFrameTooShort
		}
		f.GroupID = binary.LittleEndian.Uint16(rest[0:2])
		if f.Status != StatusSuccess {
			return f, nil
		}
		if f.GroupID != g.GroupID() {
			return f, ErrGroupMismatch
		}
		rest = rest[2:]
		if len(rest) != g.ScalarSize()+g.ElementSize() {
			return nil, ErrFrameLength
		}
		scalar := new(big.Int).SetBytes(rest[:g.ScalarSize()])
		element, err := g.ElementFromOctets(rest[g.ScalarSize():])
		if err != nil {
			element = nil
		}
		f.Commit = &CommitMsg{Scalar: scalar, Element: element}
	case SeqConfirm:
		if f.Status != StatusSuccess {
			return f, nil
		}
		if len(rest) != 2+confirmTagSize {
			return nil, ErrFrameLength
		}
		f.Confirm = &ConfirmMsg{
			SendConfirm: binary.LittleEndian.Uint16(rest[0:2]),
			Confirm:     copyBytes(rest[2:]),
		}
	default:
		return nil, ErrUnexpectedSequence
	}

	return f, nil
}

func appendAuthHeader(buf []byte, seq, status uint16) []byte {
	buf = binary.LittleEndian.AppendUint16(buf, AuthAlgorithmSAE)
	buf = binary.LittleEndian.AppendUint16(buf, seq)
	buf = binary.LittleEndian.AppendUint16(buf, status)
	return buf
}
