// Package sae implements the Simultaneous Authentication of Equals (SAE)
// handshake from IEEE Std 802.11-2016 Section 12.4, the password-authenticated
// key exchange at the core of WPA3.
//
// The engine is a synchronous state machine. Each entry point appends zero or
// more updates to a caller-supplied UpdateSink and returns; the engine never
// performs I/O and never starts a timer. The caller translates SendCommit and
// SendConfirm into authentication frames, ResetTimeout and CancelTimeout into
// real timers, Complete into key installation, and Reject into teardown.
//
// # Protocol Flow
//
//	Station A                                 Station B
//	---------                                 ---------
//	Initiate()            --- Commit --->     HandleCommit()
//	                      <--- Commit ---
//	HandleCommit()        <--- Confirm --
//	                      --- Confirm -->     HandleConfirm()
//	HandleConfirm()                           Complete!
//	Complete!
//
// Both stations may also call Initiate simultaneously; SAE is symmetric.
//
// # Usage
//
//	h, err := sae.NewHandshake(19, sae.AKMSAE, password, localMac, peerMac)
//	var sink sae.UpdateSink
//	h.Initiate(&sink)
//	for _, u := range sink {
//		switch u := u.(type) {
//		case sae.SendCommit:
//			// encode and transmit u.Msg
//		case sae.ResetTimeout:
//			// (re)arm the timer identified by u.Timeout
//		}
//	}
//
// A Handshake is not safe for concurrent use; callers serialize access per peer.
package sae

import (
	"bytes"
	"errors"
	"fmt"
	"net"
)

// Protocol constants.
const (
	// MaxSync is dot11RSNASAESync, the number of resynchronization events
	// tolerated before the handshake is aborted.
	MaxSync = 30

	// SendConfirmSentinel is the send-confirm value used for confirms sent
	// after the handshake has completed.
	SendConfirmSentinel uint16 = 0xFFFF

	// PMKSize is the size of the derived pairwise master key.
	PMKSize = 32

	// PMKIDSize is the size of the PMK identifier.
	PMKIDSize = 16

	// KCKSize is the size of the key confirmation key.
	KCKSize = 32
)

// Labels from IEEE Std 802.11-2016 Section 12.4.
const (
	huntingAndPeckingLabel = "SAE Hunting and Pecking"
	kckAndPMKLabel         = "SAE KCK and PMK"
)

// Errors.
var (
	ErrUnsupportedAKM   = errors.New("sae: unsupported AKM suite")
	ErrUnsupportedGroup = errors.New("sae: unsupported finite cyclic group")
	ErrInvalidAddress   = errors.New("sae: invalid MAC address")
	ErrInvalidElement   = errors.New("sae: invalid group element")
	ErrForeignElement   = errors.New("sae: element belongs to a different group")
	ErrIdentityElement  = errors.New("sae: element is the group identity")
	ErrPWENotFound      = errors.New("sae: password element not found")
)

// MacAddr is an IEEE 802 MAC-48 address.
type MacAddr [6]byte

// ParseMacAddr parses a colon- or hyphen-separated MAC-48 address.
func ParseMacAddr(s string) (MacAddr, error) {
	var m MacAddr
	hw, err := net.ParseMAC(s)
	if err != nil {
		return m, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	if len(hw) != len(m) {
		return m, fmt.Errorf("%w: %q is not a MAC-48 address", ErrInvalidAddress, s)
	}
	copy(m[:], hw)
	return m, nil
}

// String returns the address in colon-separated hex form.
func (m MacAddr) String() string {
	return net.HardwareAddr(m[:]).String()
}

// Compare orders addresses as unsigned 48-bit integers.
func (m MacAddr) Compare(other MacAddr) int {
	return bytes.Compare(m[:], other[:])
}

// AKM suite OUI and types from IEEE Std 802.11-2016 Table 9-133.
var ieeeOUI = [3]byte{0x00, 0x0F, 0xAC}

const (
	AKMSuiteTypeSAE   uint8 = 8
	AKMSuiteTypeFTSAE uint8 = 9
)

// AKM identifies an authentication and key management suite.
type AKM struct {
	OUI       [3]byte
	SuiteType uint8
}

// Well-known SAE AKMs.
var (
	AKMSAE   = AKM{OUI: ieeeOUI, SuiteType: AKMSuiteTypeSAE}
	AKMFTSAE = AKM{OUI: ieeeOUI, SuiteType: AKMSuiteTypeFTSAE}
)

// String returns the suite selector in 00-0f-ac:8 form.
func (a AKM) String() string {
	return fmt.Sprintf("%02x-%02x-%02x:%d", a.OUI[0], a.OUI[1], a.OUI[2], a.SuiteType)
}

// Key is the output of a successful handshake.
type Key struct {
	PMK   []byte
	PMKID []byte
}

func (k Key) clone() Key {
	return Key{PMK: copyBytes(k.PMK), PMKID: copyBytes(k.PMKID)}
}

// NewHandshake validates the configuration and returns an idle handshake
// between mac (local) and peerMac bound to the requested group.
//
// akm must be SAE or FT-SAE; groupID must name a supported group (currently
// only group 19, NIST P-256).
func NewHandshake(groupID uint16, akm AKM, password []byte, mac, peerMac MacAddr) (*Handshake, error) {
	switch akm.SuiteType {
	case AKMSuiteTypeSAE, AKMSuiteTypeFTSAE:
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedAKM, akm)
	}

	group, err := GroupByID(groupID)
	if err != nil {
		return nil, err
	}

	params := Parameters{
		H:        defaultH,
		CN:       defaultCN,
		Password: password,
		StaAMac:  mac,
		StaBMac:  peerMac,
	}
	return NewHandshakeWithGroup(group, params), nil
}

func copyBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	c := make([]byte, len(b))
	copy(c, b)
	return c
}
