package sae

import (
	"github.com/backkem/sae/pkg/crypto"
)

// HashFunc is the SAE hash H(salt, ikm).
type HashFunc func(salt, ikm []byte) []byte

// ConfirmFunc is the SAE confirm function CN(key, counter, data...).
type ConfirmFunc func(key []byte, counter uint16, data ...[]byte) []byte

var (
	defaultH  HashFunc    = crypto.H
	defaultCN ConfirmFunc = crypto.CN
)

// Parameters holds the immutable inputs of one handshake.
//
// StaAMac and StaBMac are the two stations' addresses. Which one is local
// does not matter: every value derived from them is symmetric.
type Parameters struct {
	H        HashFunc
	CN       ConfirmFunc
	Password []byte
	StaAMac  MacAddr
	StaBMac  MacAddr
}

// PwdSeed computes the hunting-and-pecking seed for counter:
//
//	pwd-seed = H(max(A, B) || min(A, B), password || counter)
//
// See IEEE Std 802.11-2016 Section 12.4.4.2.2.
func (p *Parameters) PwdSeed(counter uint8) []byte {
	hi, lo := p.StaAMac, p.StaBMac
	if hi.Compare(lo) < 0 {
		hi, lo = lo, hi
	}

	salt := make([]byte, 0, 2*len(hi))
	salt = append(salt, hi[:]...)
	salt = append(salt, lo[:]...)

	ikm := make([]byte, 0, len(p.Password)+1)
	ikm = append(ikm, p.Password...)
	ikm = append(ikm, counter)

	seed := p.H(salt, ikm)
	clear(ikm)
	return seed
}
