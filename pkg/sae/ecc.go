package sae

import (
	"crypto/elliptic"
	"math/big"

	"github.com/backkem/sae/pkg/crypto"
)

// huntingAndPeckingRounds is the minimum number of hunting-and-pecking
// iterations (k in IEEE Std 802.11-2016 Section 12.4.4.2.2). The loop always
// runs this many times so the iteration count does not depend on the password.
const huntingAndPeckingRounds = 40

// eccGroup is a NIST prime curve y^2 = x^3 - 3x + b over GF(p).
type eccGroup struct {
	id     uint16
	curve  elliptic.Curve
	params *elliptic.CurveParams

	primeLen int
	orderLen int
}

// point is an affine curve point. The identity is (0, 0), following the
// crypto/elliptic convention.
type point struct {
	x, y *big.Int
}

// Equal implements Element.
func (p *point) Equal(other Element) bool {
	o, ok := other.(*point)
	if !ok || p == nil || o == nil {
		return false
	}
	return p.x.Cmp(o.x) == 0 && p.y.Cmp(o.y) == 0
}

func (p *point) isIdentity() bool {
	return p.x.Sign() == 0 && p.y.Sign() == 0
}

func newECCGroup(id uint16, curve elliptic.Curve) *eccGroup {
	params := curve.Params()
	return &eccGroup{
		id:       id,
		curve:    curve,
		params:   params,
		primeLen: (params.P.BitLen() + 7) / 8,
		orderLen: (params.N.BitLen() + 7) / 8,
	}
}

func (g *eccGroup) GroupID() uint16 { return g.id }

func (g *eccGroup) Order() *big.Int { return new(big.Int).Set(g.params.N) }

func (g *eccGroup) ScalarSize() int { return g.orderLen }

func (g *eccGroup) ElementSize() int { return 2 * g.primeLen }

// GeneratePWE runs hunting-and-pecking (IEEE Std 802.11-2016 Section 12.4.4.2.2):
//
//	for counter = 1 .. k (or until found):
//	    pwd-seed  = H(max(A,B) || min(A,B), password || counter)
//	    pwd-value = KDF-Hash-Length(pwd-seed, "SAE Hunting and Pecking", p)
//	    if pwd-value < p and pwd-value^3 - 3*pwd-value + b is a quadratic residue:
//	        x = pwd-value, remember pwd-seed
//	PWE = (x, y) with LSB(y) == LSB(pwd-seed)
func (g *eccGroup) GeneratePWE(params *Parameters) (Element, error) {
	p := g.params.P
	bits := p.BitLen()
	primeOctets := scalarToOctets(p, g.primeLen)

	var (
		found   bool
		x       *big.Int
		seedLSB uint
	)
	for counter := 1; counter <= huntingAndPeckingRounds || !found; counter++ {
		if counter > 255 {
			return nil, ErrPWENotFound
		}

		seed := params.PwdSeed(uint8(counter))
		value := crypto.KDFSHA256(seed, huntingAndPeckingLabel, primeOctets, bits)
		candidate := new(big.Int).SetBytes(value)
		if extra := len(value)*8 - bits; extra > 0 {
			candidate.Rsh(candidate, uint(extra))
		}
		lsb := uint(seed[len(seed)-1] & 1)
		clear(seed)
		clear(value)

		if candidate.Cmp(p) >= 0 {
			continue
		}
		if big.Jacobi(g.curveRHS(candidate), p) == 1 && !found {
			x = candidate
			seedLSB = lsb
			found = true
		}
	}

	y := new(big.Int).ModSqrt(g.curveRHS(x), p)
	if y == nil {
		return nil, ErrPWENotFound
	}
	if y.Bit(0) != seedLSB {
		y.Sub(p, y)
	}
	return &point{x: x, y: y}, nil
}

// curveRHS computes x^3 - 3x + b mod p.
func (g *eccGroup) curveRHS(x *big.Int) *big.Int {
	p := g.params.P

	x3 := new(big.Int).Mul(x, x)
	x3.Mul(x3, x)

	threeX := new(big.Int).Lsh(x, 1)
	threeX.Add(threeX, x)

	x3.Sub(x3, threeX)
	x3.Add(x3, g.params.B)
	return x3.Mod(x3, p)
}

func (g *eccGroup) ScalarOp(scalar *big.Int, e Element) (Element, error) {
	p, err := g.point(e)
	if err != nil {
		return nil, err
	}
	k := new(big.Int).Mod(scalar, g.params.N)
	if p.isIdentity() || k.Sign() == 0 {
		return g.identity(), nil
	}
	x, y := g.curve.ScalarMult(p.x, p.y, k.Bytes())
	return &point{x: x, y: y}, nil
}

func (g *eccGroup) ElemOp(a, b Element) (Element, error) {
	p1, err := g.point(a)
	if err != nil {
		return nil, err
	}
	p2, err := g.point(b)
	if err != nil {
		return nil, err
	}
	switch {
	case p1.isIdentity():
		return &point{x: new(big.Int).Set(p2.x), y: new(big.Int).Set(p2.y)}, nil
	case p2.isIdentity():
		return &point{x: new(big.Int).Set(p1.x), y: new(big.Int).Set(p1.y)}, nil
	}
	x, y := g.curve.Add(p1.x, p1.y, p2.x, p2.y)
	return &point{x: x, y: y}, nil
}

func (g *eccGroup) InverseOp(e Element) (Element, error) {
	p, err := g.point(e)
	if err != nil {
		return nil, err
	}
	if p.isIdentity() {
		return g.identity(), nil
	}
	negY := new(big.Int).Sub(g.params.P, p.y)
	negY.Mod(negY, g.params.P)
	return &point{x: new(big.Int).Set(p.x), y: negY}, nil
}

// MapToSecretValue returns the x-coordinate of e.
func (g *eccGroup) MapToSecretValue(e Element) ([]byte, bool) {
	p, err := g.point(e)
	if err != nil || p.isIdentity() {
		return nil, false
	}
	return scalarToOctets(p.x, g.primeLen), true
}

// ElementToOctets encodes e as x || y, each padded to the prime length.
func (g *eccGroup) ElementToOctets(e Element) []byte {
	out := make([]byte, g.ElementSize())
	p, err := g.point(e)
	if err != nil {
		return out
	}
	p.x.FillBytes(out[:g.primeLen])
	p.y.FillBytes(out[g.primeLen:])
	return out
}

// ElementFromOctets decodes x || y and checks the point lies on the curve.
// The identity has no valid encoding.
func (g *eccGroup) ElementFromOctets(b []byte) (Element, error) {
	if len(b) != g.ElementSize() {
		return nil, ErrInvalidElement
	}
	x := new(big.Int).SetBytes(b[:g.primeLen])
	y := new(big.Int).SetBytes(b[g.primeLen:])
	if x.Cmp(g.params.P) >= 0 || y.Cmp(g.params.P) >= 0 {
		return nil, ErrInvalidElement
	}
	if !g.curve.IsOnCurve(x, y) {
		return nil, ErrInvalidElement
	}
	return &point{x: x, y: y}, nil
}

func (g *eccGroup) identity() *point {
	return &point{x: new(big.Int), y: new(big.Int)}
}

// point unwraps e, rejecting foreign and off-curve values.
func (g *eccGroup) point(e Element) (*point, error) {
	p, ok := e.(*point)
	if !ok || p == nil || p.x == nil || p.y == nil {
		return nil, ErrForeignElement
	}
	if !p.isIdentity() && !g.curve.IsOnCurve(p.x, p.y) {
		return nil, ErrInvalidElement
	}
	return p, nil
}
