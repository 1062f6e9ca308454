package sae

import (
	"crypto/elliptic"
	"fmt"
	"math/big"
)

// Group identifiers from the IANA "Group Description" registry.
const (
	GroupP256 uint16 = 19
	GroupP384 uint16 = 20
	GroupP521 uint16 = 21
)

// Element is an opaque member of a FiniteCyclicGroup. An element may only be
// passed back to the group that produced it.
type Element interface {
	// Equal reports whether both values denote the same group member.
	Equal(other Element) bool
}

// FiniteCyclicGroup is the prime-order group SAE operates over. Elliptic-curve
// and finite-field groups both satisfy it; the handshake only uses this
// operation set.
type FiniteCyclicGroup interface {
	// GroupID returns the IANA group number.
	GroupID() uint16

	// GeneratePWE derives the password element from params.
	GeneratePWE(params *Parameters) (Element, error)

	// ScalarOp is group exponentiation (point multiplication for ECC).
	ScalarOp(scalar *big.Int, e Element) (Element, error)

	// ElemOp is the group operation (point addition for ECC).
	ElemOp(a, b Element) (Element, error)

	// InverseOp returns the group inverse of e.
	InverseOp(e Element) (Element, error)

	// Order returns the prime order r of the group.
	Order() *big.Int

	// MapToSecretValue maps e to the secret value F(e). It returns false iff
	// e is the identity element.
	MapToSecretValue(e Element) ([]byte, bool)

	// ElementToOctets encodes e in its canonical ElementSize() form.
	ElementToOctets(e Element) []byte

	// ElementFromOctets decodes and validates an encoded element.
	ElementFromOctets(b []byte) (Element, error)

	// ScalarSize is the encoded size of a scalar in octets.
	ScalarSize() int

	// ElementSize is the encoded size of an element in octets.
	ElementSize() int
}

// GroupByID returns the group implementation registered for id.
func GroupByID(id uint16) (FiniteCyclicGroup, error) {
	switch id {
	case GroupP256:
		return newECCGroup(id, elliptic.P256()), nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedGroup, id)
	}
}

// scalarToOctets encodes s as a big-endian integer of exactly size octets.
func scalarToOctets(s *big.Int, size int) []byte {
	b := make([]byte, size)
	s.FillBytes(b)
	return b
}
