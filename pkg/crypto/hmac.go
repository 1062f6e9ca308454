// Package crypto provides the keyed-hash primitives used by IEEE 802.11 SAE.
// This implements the functions referenced in IEEE Std 802.11-2016 Sections 12.4 and 12.7.1.7.
package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
)

// SHA-256 constants.
const (
	// SHA256LenBits is the SHA-256 output length in bits.
	SHA256LenBits = 256

	// SHA256LenBytes is the SHA-256 output length in bytes.
	SHA256LenBytes = 32
)

// HMACSHA256 computes the HMAC-SHA256 of a message using the given key.
func HMACSHA256(key, message []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(message)
	return h.Sum(nil)
}

// HMACEqual compares two MACs for equality in constant time.
// This should be used instead of bytes.Equal to prevent timing attacks.
func HMACEqual(mac1, mac2 []byte) bool {
	return hmac.Equal(mac1, mac2)
}

// CN is the SAE confirm function from IEEE Std 802.11-2016 Section 12.4.5.5:
//
//	CN(key, X, Y, Z, ...) = HMAC-SHA256(key, X || Y || Z || ...)
//
// X is the 16-bit send-confirm counter in little-endian order; the remaining
// arguments are appended in the order given.
func CN(key []byte, counter uint16, data ...[]byte) []byte {
	h := hmac.New(sha256.New, key)
	var c [2]byte
	binary.LittleEndian.PutUint16(c[:], counter)
	h.Write(c[:])
	for _, d := range data {
		h.Write(d)
	}
	return h.Sum(nil)
}
