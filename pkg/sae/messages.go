package sae

import (
	"crypto/subtle"
	"math/big"
)

// CommitMsg is the content of an SAE Commit message.
type CommitMsg struct {
	Scalar  *big.Int
	Element Element
}

// Equal reports whether both commits carry the same scalar and element.
func (c *CommitMsg) Equal(other *CommitMsg) bool {
	if c == nil || other == nil {
		return c == other
	}
	if c.Scalar == nil || other.Scalar == nil || c.Scalar.Cmp(other.Scalar) != 0 {
		return false
	}
	if c.Element == nil || other.Element == nil {
		return false
	}
	return c.Element.Equal(other.Element)
}

// ConfirmMsg is the content of an SAE Confirm message.
type ConfirmMsg struct {
	Confirm     []byte
	SendConfirm uint16
}

// Equal reports whether both confirms carry the same tag and counter.
func (c *ConfirmMsg) Equal(other *ConfirmMsg) bool {
	if c == nil || other == nil {
		return c == other
	}
	return c.SendConfirm == other.SendConfirm &&
		subtle.ConstantTimeCompare(c.Confirm, other.Confirm) == 1
}
