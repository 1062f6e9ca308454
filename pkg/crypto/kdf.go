package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"

	"golang.org/x/crypto/hkdf"
)

// H is the SAE hash function from IEEE Std 802.11-2016 Section 12.4.2:
//
//	H(salt, ikm) = HMAC-SHA256(salt, ikm)
//
// This is exactly HKDF-Extract (RFC 5869) with SHA-256.
func H(salt, ikm []byte) []byte {
	return HKDFExtractSHA256(ikm, salt)
}

// HKDFExtractSHA256 performs only the HKDF-Extract operation.
//
// Returns a 32-byte pseudorandom key.
func HKDFExtractSHA256(inputKey, salt []byte) []byte {
	return hkdf.Extract(sha256.New, inputKey, salt)
}

// KDFSHA256 implements KDF-Hash-Length from IEEE Std 802.11-2016 Section 12.7.1.7.2
// with SHA-256:
//
//	result = ""
//	for i = 1 to iterations:
//	    result = result || HMAC-SHA256(key, i || label || context || Length)
//	return L(result, 0, Length)
//
// i and Length are 16-bit little-endian integers and Length is in bits.
// When bits is not a multiple of 8 the unused low-order bits of the last
// octet are cleared.
func KDFSHA256(key []byte, label string, context []byte, bits int) []byte {
	byteLen := (bits + 7) / 8
	iterations := (bits + SHA256LenBits - 1) / SHA256LenBits

	var lenBuf [2]byte
	binary.LittleEndian.PutUint16(lenBuf[:], uint16(bits))

	result := make([]byte, 0, iterations*SHA256LenBytes)
	h := hmac.New(sha256.New, key)
	for i := 1; i <= iterations; i++ {
		var iBuf [2]byte
		binary.LittleEndian.PutUint16(iBuf[:], uint16(i))
		h.Reset()
		h.Write(iBuf[:])
		h.Write([]byte(label))
		h.Write(context)
		h.Write(lenBuf[:])
		result = h.Sum(result)
	}

	result = result[:byteLen]
	if rem := bits % 8; rem != 0 {
		result[byteLen-1] &= 0xff << (8 - rem)
	}
	return result
}
