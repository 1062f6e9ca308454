package sae

import (
	"crypto/elliptic"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The helpers below spell out IEEE Std 802.11-2016 Section 12.4 directly on
// crypto/hmac and crypto/elliptic, independent of pkg/crypto and the group
// implementation, to pin the octet layout of every derived value.

func hmacSum(key []byte, parts ...[]byte) []byte {
	h := hmac.New(sha256.New, key)
	for _, p := range parts {
		h.Write(p)
	}
	return h.Sum(nil)
}

func le16(v int) []byte {
	return binary.LittleEndian.AppendUint16(nil, uint16(v))
}

// kdfHashLength is KDF-Hash-Length for lengths that are a multiple of 256 bits.
func kdfHashLength(key []byte, label string, context []byte, bits int) []byte {
	var out []byte
	for i := 1; len(out)*8 < bits; i++ {
		out = append(out, hmacSum(key, le16(i), []byte(label), context, le16(bits))...)
	}
	return out[:bits/8]
}

func octets32(v *big.Int) []byte {
	return v.FillBytes(make([]byte, 32))
}

func elementOctets(x, y *big.Int) []byte {
	return append(octets32(x), octets32(y)...)
}

// huntAndPeck derives the P-256 PWE for two stations, larger address first.
func huntAndPeck(password string, hi, lo MacAddr) (x, y *big.Int) {
	curve := elliptic.P256().Params()
	three := big.NewInt(3)
	for counter := 1; counter <= 40; counter++ {
		seed := hmacSum(append(hi[:], lo[:]...), []byte(password), []byte{byte(counter)})
		value := new(big.Int).SetBytes(kdfHashLength(seed, "SAE Hunting and Pecking", octets32(curve.P), 256))
		if value.Cmp(curve.P) >= 0 {
			continue
		}
		rhs := new(big.Int).Exp(value, three, curve.P)
		rhs.Sub(rhs, new(big.Int).Mul(three, value))
		rhs.Add(rhs, curve.B)
		rhs.Mod(rhs, curve.P)
		root := new(big.Int).ModSqrt(rhs, curve.P)
		if root == nil || x != nil {
			continue
		}
		x = value
		y = root
		if y.Bit(0) != uint(seed[31]&1) {
			y = new(big.Int).Sub(curve.P, y)
		}
	}
	return x, y
}

func TestDerivationOctetLayout(t *testing.T) {
	const password = "mekmitasdigoat"
	a, b := newTestPair(t, password, password)
	ex := runToCompletion(t, a, b)
	curve := elliptic.P256()

	// PWE: testMacB is the larger address.
	require.Equal(t, 1, testMacB.Compare(testMacA))
	pweX, pweY := huntAndPeck(password, testMacB, testMacA)
	require.NotNil(t, pweX)
	pwe := a.pwe.(*point)
	assert.Equal(t, 0, pweX.Cmp(pwe.x), "PWE x")
	assert.Equal(t, 0, pweY.Cmp(pwe.y), "PWE y")

	// Commit: scalar = rand + mask, element = -(mask * PWE).
	n := curve.Params().N
	scalarA := new(big.Int).Add(a.rand, a.mask)
	scalarA.Mod(scalarA, n)
	assert.Equal(t, 0, scalarA.Cmp(ex.commitA.Scalar))
	mx, my := curve.ScalarMult(pweX, pweY, a.mask.Bytes())
	elemA := ex.commitA.Element.(*point)
	assert.Equal(t, 0, mx.Cmp(elemA.x))
	assert.Equal(t, 0, new(big.Int).Sub(curve.Params().P, my).Cmp(elemA.y))

	// k = x(rand_a * (scalar_b * PWE + ELEMENT_b))
	elemB := ex.commitB.Element.(*point)
	tx, ty := curve.ScalarMult(pweX, pweY, ex.commitB.Scalar.Bytes())
	tx, ty = curve.Add(tx, ty, elemB.x, elemB.y)
	kx, _ := curve.ScalarMult(tx, ty, a.rand.Bytes())

	keyseed := hmacSum(make([]byte, 32), octets32(kx))
	context := new(big.Int).Add(ex.commitA.Scalar, ex.commitB.Scalar)
	context.Mod(context, n)
	keys := kdfHashLength(keyseed, "SAE KCK and PMK", octets32(context), 512)
	kck, pmk := keys[:32], keys[32:]

	assert.Equal(t, pmk, ex.keyA.PMK)
	assert.Equal(t, octets32(context)[:16], ex.keyA.PMKID)
	assert.Equal(t, kck, a.kck)

	// confirm = CN(KCK, send-confirm, own scalar, own element, peer scalar, peer element)
	require.Equal(t, uint16(1), ex.confirmA.SendConfirm)
	wantA := hmacSum(kck, le16(1),
		octets32(ex.commitA.Scalar), elementOctets(elemA.x, elemA.y),
		octets32(ex.commitB.Scalar), elementOctets(elemB.x, elemB.y))
	assert.Equal(t, wantA, ex.confirmA.Confirm)

	wantB := hmacSum(kck, le16(int(ex.confirmB.SendConfirm)),
		octets32(ex.commitB.Scalar), elementOctets(elemB.x, elemB.y),
		octets32(ex.commitA.Scalar), elementOctets(elemA.x, elemA.y))
	assert.Equal(t, wantB, ex.confirmB.Confirm)
}
