package crypto

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"testing"
)

// Test vectors from RFC 4231 (HMAC-SHA-256 columns only).
var hmacSHA256TestVectors = []struct {
	name     string
	key      string // hex-encoded
	data     string // hex-encoded
	expected string // hex-encoded HMAC-SHA-256
}{
	{
		name:     "RFC4231_TC1",
		key:      "0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b",
		data:     "4869205468657265", // "Hi There"
		expected: "b0344c61d8db38535ca8afceaf0bf12b881dc200c9833da726e9376c2e32cff7",
	},
	{
		name:     "RFC4231_TC2",
		key:      "4a656665",                                                 // "Jefe"
		data:     "7768617420646f2079612077616e7420666f72206e6f7468696e673f", // "what do ya want for nothing?"
		expected: "5bdcc146bf60754e6a042426089575c75a003f089d2739839dec58b964ec3843",
	},
}

func TestHMACSHA256(t *testing.T) {
	for _, tc := range hmacSHA256TestVectors {
		t.Run(tc.name, func(t *testing.T) {
			key, _ := hex.DecodeString(tc.key)
			data, _ := hex.DecodeString(tc.data)
			expected, _ := hex.DecodeString(tc.expected)

			result := HMACSHA256(key, data)
			if !bytes.Equal(result, expected) {
				t.Errorf("HMAC mismatch\ngot:  %x\nwant: %x", result, expected)
			}
		})
	}
}

func TestHMACEqual(t *testing.T) {
	mac1 := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	mac2 := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	mac3 := []byte{1, 2, 3, 4, 5, 6, 7, 9}

	if !HMACEqual(mac1, mac2) {
		t.Error("HMACEqual returned false for equal MACs")
	}
	if HMACEqual(mac1, mac3) {
		t.Error("HMACEqual returned true for different MACs")
	}
	if HMACEqual(mac1, mac1[:7]) {
		t.Error("HMACEqual returned true for different length MACs")
	}
}

func TestCN(t *testing.T) {
	key := []byte("key confirmation key 0123456789a")
	scalar := bytes.Repeat([]byte{0x11}, 32)
	element := bytes.Repeat([]byte{0x22}, 64)

	t.Run("matches_manual_layout", func(t *testing.T) {
		var msg []byte
		msg = binary.LittleEndian.AppendUint16(msg, 0x0102)
		msg = append(msg, scalar...)
		msg = append(msg, element...)

		got := CN(key, 0x0102, scalar, element)
		want := HMACSHA256(key, msg)
		if !bytes.Equal(got, want) {
			t.Errorf("CN mismatch\ngot:  %x\nwant: %x", got, want)
		}
	})

	t.Run("counter_is_little_endian", func(t *testing.T) {
		got := CN(key, 1, scalar)
		want := HMACSHA256(key, append([]byte{0x01, 0x00}, scalar...))
		if !bytes.Equal(got, want) {
			t.Errorf("CN counter encoding mismatch")
		}
	})

	t.Run("order_matters", func(t *testing.T) {
		a := CN(key, 1, scalar, element)
		b := CN(key, 1, element, scalar)
		if bytes.Equal(a, b) {
			t.Error("CN should depend on argument order")
		}
	})

	t.Run("counter_matters", func(t *testing.T) {
		a := CN(key, 1, scalar, element)
		b := CN(key, 2, scalar, element)
		if bytes.Equal(a, b) {
			t.Error("CN should depend on the counter")
		}
	})
}

func BenchmarkCN(b *testing.B) {
	key := make([]byte, 32)
	scalar := make([]byte, 32)
	element := make([]byte, 64)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		CN(key, uint16(i), scalar, element, scalar, element)
	}
}
