package sae

import (
	"crypto/rand"
	"fmt"
	"io"
	"math/big"

	"github.com/backkem/sae/pkg/crypto"
	"github.com/pion/logging"
)

// State is the externally visible phase of a handshake.
type State int

const (
	StateIdle State = iota
	StateCommitSent  // own commit sent, no peer commit accepted
	StateConfirmSent // peer commit accepted, own commit and confirm sent
	StateCompleted   // peer confirm verified, key derived
	StateRejected    // terminal
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateCommitSent:
		return "CommitSent"
	case StateConfirmSent:
		return "ConfirmSent"
	case StateCompleted:
		return "Completed"
	case StateRejected:
		return "Rejected"
	default:
		return "Unknown"
	}
}

// Handshake is the SAE state machine for one peer.
//
// It is created by NewHandshake or NewHandshakeWithGroup and mutated only by
// Initiate, HandleCommit, HandleConfirm and HandleTimeout. It is never reset;
// a new exchange needs a new Handshake.
type Handshake struct {
	group  FiniteCyclicGroup
	params Parameters

	// Ephemeral secrets
	pwe  Element
	rand *big.Int
	mask *big.Int

	commit     *CommitMsg // own, cached for retransmission and reflection checks
	peerCommit *CommitMsg // first valid peer commit

	kck []byte
	key *Key

	sync        uint16 // resynchronization events so far
	sendConfirm uint16 // last send-confirm value used

	// Post-completion confirm bookkeeping: the highest peer send-confirm seen
	// and whether it has been answered with a sentinel confirm.
	peerSendConfirm  uint16
	peerConfirmAcked bool

	completed bool
	rejected  bool

	rng io.Reader
	log logging.LeveledLogger
}

// NewHandshakeWithGroup returns an idle handshake over an arbitrary group
// implementation. Most callers want NewHandshake.
func NewHandshakeWithGroup(group FiniteCyclicGroup, params Parameters) *Handshake {
	if params.H == nil {
		params.H = defaultH
	}
	if params.CN == nil {
		params.CN = defaultCN
	}
	params.Password = copyBytes(params.Password)
	return &Handshake{
		group:  group,
		params: params,
		rng:    rand.Reader,
	}
}

// SetRandom sets the random source for testing purposes.
func (h *Handshake) SetRandom(r io.Reader) {
	h.rng = r
}

// SetLogger enables debug logging of dropped and resynchronized messages.
func (h *Handshake) SetLogger(log logging.LeveledLogger) {
	h.log = log
}

// Group returns the group the handshake is bound to.
func (h *Handshake) Group() FiniteCyclicGroup {
	return h.group
}

// State returns the current protocol state.
func (h *Handshake) State() State {
	switch {
	case h.rejected:
		return StateRejected
	case h.completed:
		return StateCompleted
	case h.peerCommit != nil:
		return StateConfirmSent
	case h.commit != nil:
		return StateCommitSent
	default:
		return StateIdle
	}
}

// Key returns a copy of the derived key once the handshake has completed.
func (h *Handshake) Key() *Key {
	if !h.completed || h.rejected || h.key == nil {
		return nil
	}
	k := h.key.clone()
	return &k
}

// IsNewExchange reports whether msg, received after completion, is a valid
// commit other than the accepted one or our own. The peer has then discarded
// its handshake and started over; HandleCommit still drops msg and it is up to
// the caller to replace this handshake with a fresh one.
func (h *Handshake) IsNewExchange(msg *CommitMsg) bool {
	if !h.completed || h.rejected || msg == nil {
		return false
	}
	if h.peerCommit.Equal(msg) || h.commit.Equal(msg) {
		return false
	}
	return h.validCommit(msg)
}

// Initiate starts the exchange by sending a Commit. It only has an effect in
// StateIdle.
//
// Emits: [SendCommit, ResetTimeout(Retransmission)].
func (h *Handshake) Initiate(sink *UpdateSink) {
	if h.rejected {
		return
	}
	if h.commit != nil || h.peerCommit != nil {
		h.debugf("initiate ignored in state %s", h.State())
		return
	}

	if err := h.generateCommit(); err != nil {
		h.reject(sink, RejectInternalError, err)
		return
	}

	sink.push(SendCommit{Msg: *h.commit})
	sink.push(ResetTimeout{Timeout: TimeoutRetransmission})
}

// HandleCommit processes a peer Commit. Checks run in order and the first
// match wins:
//
//  1. Reflection of our own commit: re-arm the retransmission timer only.
//  2. Invalid scalar or element: reject if we have not committed yet,
//     otherwise drop.
//  3. Duplicate of the accepted peer commit: count a resync, resend our
//     commit and a fresh confirm.
//  4. First valid commit: derive keys and send our confirm, preceded by our
//     commit if we had not sent one.
//
// Once completed, commits are dropped. A peer that missed our confirm
// retransmits its own and is answered by HandleConfirm. See IsNewExchange
// for a peer that restarted.
func (h *Handshake) HandleCommit(sink *UpdateSink, msg *CommitMsg) {
	if h.rejected || msg == nil {
		return
	}
	if h.completed {
		h.debugf("dropping commit: handshake complete")
		return
	}

	if h.commit != nil && h.commit.Equal(msg) {
		h.debugf("reflected commit")
		sink.push(ResetTimeout{Timeout: TimeoutRetransmission})
		return
	}

	if !h.validCommit(msg) {
		if h.commit == nil {
			h.reject(sink, RejectAuthFailed, nil)
			return
		}
		h.debugf("dropping invalid commit")
		return
	}

	if h.peerCommit != nil {
		if !h.peerCommit.Equal(msg) {
			h.debugf("dropping commit that differs from the accepted one")
			return
		}
		if !h.countResync(sink) {
			return
		}
		sink.push(SendCommit{Msg: *h.commit})
		h.sendNewConfirm(sink)
		sink.push(ResetTimeout{Timeout: TimeoutRetransmission})
		return
	}

	responder := h.commit == nil
	if responder {
		if err := h.generateCommit(); err != nil {
			h.reject(sink, RejectInternalError, err)
			return
		}
	}

	if err := h.deriveKeys(msg); err != nil {
		if responder {
			h.reject(sink, RejectAuthFailed, err)
			return
		}
		h.debugf("dropping commit: %v", err)
		return
	}
	h.peerCommit = &CommitMsg{Scalar: new(big.Int).Set(msg.Scalar), Element: msg.Element}

	if responder {
		sink.push(SendCommit{Msg: *h.commit})
	}
	h.sendNewConfirm(sink)
	sink.push(ResetTimeout{Timeout: TimeoutRetransmission})
}

// HandleConfirm processes a peer Confirm.
//
// Before a peer commit has been accepted the confirm cannot be verified; it
// is taken as a sign the peer missed our commit, which is resent. A confirm
// with a wrong tag is dropped. The first valid confirm completes the
// handshake with [CancelTimeout(Retransmission), ResetTimeout(KeyExpiration),
// Complete]. After completion, a valid confirm carrying a counter we have not
// answered yet is acknowledged with a SendConfirmSentinel confirm.
func (h *Handshake) HandleConfirm(sink *UpdateSink, msg *ConfirmMsg) {
	if h.rejected || msg == nil {
		return
	}

	if h.peerCommit == nil {
		if h.commit == nil {
			h.debugf("dropping confirm: nothing committed")
			return
		}
		if !h.countResync(sink) {
			return
		}
		sink.push(SendCommit{Msg: *h.commit})
		sink.push(ResetTimeout{Timeout: TimeoutRetransmission})
		return
	}

	if !h.verifyPeerConfirm(msg) {
		h.debugf("dropping confirm with bad tag (send-confirm %d)", msg.SendConfirm)
		return
	}

	if !h.completed {
		h.completed = true
		h.peerSendConfirm = msg.SendConfirm
		sink.push(CancelTimeout{Timeout: TimeoutRetransmission})
		sink.push(ResetTimeout{Timeout: TimeoutKeyExpiration})
		sink.push(Complete{Key: h.key.clone()})
		return
	}

	switch {
	case msg.SendConfirm == SendConfirmSentinel:
		return
	case msg.SendConfirm < h.peerSendConfirm:
		h.debugf("dropping stale confirm %d", msg.SendConfirm)
		return
	case msg.SendConfirm == h.peerSendConfirm && h.peerConfirmAcked:
		h.debugf("dropping confirm %d: already acknowledged", msg.SendConfirm)
		return
	}

	if !h.countResync(sink) {
		return
	}
	h.peerSendConfirm = msg.SendConfirm
	h.peerConfirmAcked = true
	sink.push(SendConfirm{Msg: ConfirmMsg{
		Confirm:     h.confirmTag(SendConfirmSentinel),
		SendConfirm: SendConfirmSentinel,
	}})
}

// HandleTimeout processes the expiry of a caller-owned timer.
//
// Retransmission resends the current flight (commit, plus a fresh confirm
// once a peer commit is accepted) and counts as a resync. KeyExpiration
// rejects a completed handshake with RejectKeyExpired.
func (h *Handshake) HandleTimeout(sink *UpdateSink, timeout Timeout) {
	if h.rejected {
		return
	}

	switch timeout {
	case TimeoutRetransmission:
		if h.completed || h.commit == nil {
			return
		}
		if !h.countResync(sink) {
			return
		}
		sink.push(SendCommit{Msg: *h.commit})
		if h.peerCommit != nil {
			h.sendNewConfirm(sink)
		}
		sink.push(ResetTimeout{Timeout: TimeoutRetransmission})
	case TimeoutKeyExpiration:
		if h.completed {
			h.reject(sink, RejectKeyExpired, nil)
		}
	}
}

// Destroy wipes secret material. The handshake is rejected afterwards.
func (h *Handshake) Destroy() {
	h.rejected = true
	h.wipe()
}

// generateCommit picks rand and mask and computes
//
//	scalar  = (rand + mask) mod r
//	element = inverse(scalar-op(mask, PWE))
func (h *Handshake) generateCommit() error {
	if h.pwe == nil {
		pwe, err := h.group.GeneratePWE(&h.params)
		if err != nil {
			return fmt.Errorf("generate PWE: %w", err)
		}
		h.pwe = pwe
	}

	order := h.group.Order()
	for {
		r, err := h.randomScalar(order)
		if err != nil {
			return err
		}
		m, err := h.randomScalar(order)
		if err != nil {
			return err
		}

		scalar := new(big.Int).Add(r, m)
		scalar.Mod(scalar, order)
		if scalar.Cmp(big.NewInt(1)) <= 0 {
			continue
		}

		masked, err := h.group.ScalarOp(m, h.pwe)
		if err != nil {
			return fmt.Errorf("scalar-op: %w", err)
		}
		element, err := h.group.InverseOp(masked)
		if err != nil {
			return fmt.Errorf("inverse-op: %w", err)
		}

		h.rand, h.mask = r, m
		h.commit = &CommitMsg{Scalar: scalar, Element: element}
		return nil
	}
}

// randomScalar returns a uniform value in [2, order).
func (h *Handshake) randomScalar(order *big.Int) (*big.Int, error) {
	b := make([]byte, h.group.ScalarSize())
	defer clear(b)
	for {
		if _, err := io.ReadFull(h.rng, b); err != nil {
			return nil, fmt.Errorf("read random: %w", err)
		}
		k := new(big.Int).SetBytes(b)
		if k.Cmp(big.NewInt(1)) > 0 && k.Cmp(order) < 0 {
			return k, nil
		}
	}
}

// validCommit checks 1 < scalar < r and that the element is a non-identity
// member of the group.
func (h *Handshake) validCommit(msg *CommitMsg) bool {
	if msg.Scalar == nil || msg.Element == nil {
		return false
	}
	if msg.Scalar.Cmp(big.NewInt(1)) <= 0 || msg.Scalar.Cmp(h.group.Order()) >= 0 {
		return false
	}
	_, ok := h.group.MapToSecretValue(msg.Element)
	return ok
}

// deriveKeys computes the shared secret and the KCK, PMK and PMKID
// (IEEE Std 802.11-2016 Section 12.4.5.4):
//
//	k       = F(scalar-op(rand, elem-op(scalar-op(peer-scalar, PWE), PEER-ELEMENT)))
//	keyseed = H(<0>32, k)
//	context = (scalar + peer-scalar) mod r
//	KCK || PMK = KDF-Hash-512(keyseed, "SAE KCK and PMK", context)
//	PMKID   = L(context, 0, 128)
func (h *Handshake) deriveKeys(peer *CommitMsg) error {
	t, err := h.group.ScalarOp(peer.Scalar, h.pwe)
	if err != nil {
		return fmt.Errorf("scalar-op: %w", err)
	}
	t, err = h.group.ElemOp(t, peer.Element)
	if err != nil {
		return fmt.Errorf("elem-op: %w", err)
	}
	t, err = h.group.ScalarOp(h.rand, t)
	if err != nil {
		return fmt.Errorf("scalar-op: %w", err)
	}
	k, ok := h.group.MapToSecretValue(t)
	if !ok {
		return ErrIdentityElement
	}
	defer clear(k)

	keyseed := h.params.H(make([]byte, crypto.SHA256LenBytes), k)
	defer clear(keyseed)

	order := h.group.Order()
	sum := new(big.Int).Add(h.commit.Scalar, peer.Scalar)
	sum.Mod(sum, order)
	context := scalarToOctets(sum, h.group.ScalarSize())

	keys := crypto.KDFSHA256(keyseed, kckAndPMKLabel, context, 8*(KCKSize+PMKSize))
	h.kck = keys[:KCKSize]
	h.key = &Key{
		PMK:   keys[KCKSize : KCKSize+PMKSize],
		PMKID: copyBytes(context[:PMKIDSize]),
	}
	return nil
}

// sendNewConfirm increments send-confirm and emits a confirm for it.
func (h *Handshake) sendNewConfirm(sink *UpdateSink) {
	if h.sendConfirm < SendConfirmSentinel-1 {
		h.sendConfirm++
	}
	sink.push(SendConfirm{Msg: ConfirmMsg{
		Confirm:     h.confirmTag(h.sendConfirm),
		SendConfirm: h.sendConfirm,
	}})
}

// confirmTag computes
//
//	CN(KCK, send-confirm, scalar, ELEMENT, peer-scalar, PEER-ELEMENT)
func (h *Handshake) confirmTag(sendConfirm uint16) []byte {
	return h.params.CN(h.kck, sendConfirm,
		h.scalarOctets(h.commit.Scalar),
		h.group.ElementToOctets(h.commit.Element),
		h.scalarOctets(h.peerCommit.Scalar),
		h.group.ElementToOctets(h.peerCommit.Element),
	)
}

// verifyPeerConfirm checks the tag the peer computed with its own values first.
func (h *Handshake) verifyPeerConfirm(msg *ConfirmMsg) bool {
	expected := h.params.CN(h.kck, msg.SendConfirm,
		h.scalarOctets(h.peerCommit.Scalar),
		h.group.ElementToOctets(h.peerCommit.Element),
		h.scalarOctets(h.commit.Scalar),
		h.group.ElementToOctets(h.commit.Element),
	)
	return crypto.HMACEqual(expected, msg.Confirm)
}

func (h *Handshake) scalarOctets(s *big.Int) []byte {
	return scalarToOctets(s, h.group.ScalarSize())
}

// countResync increments the sync counter and rejects once it exceeds MaxSync.
func (h *Handshake) countResync(sink *UpdateSink) bool {
	h.sync++
	if h.sync > MaxSync {
		h.reject(sink, RejectTooManyRetries, nil)
		return false
	}
	return true
}

func (h *Handshake) reject(sink *UpdateSink, reason RejectReason, err error) {
	if h.log != nil {
		if err != nil {
			h.log.Debugf("rejecting handshake: %s: %v", reason, err)
		} else {
			h.log.Debugf("rejecting handshake: %s", reason)
		}
	}
	h.rejected = true
	h.wipe()
	sink.push(Reject{Reason: reason, Err: err})
}

func (h *Handshake) wipe() {
	for _, v := range []*big.Int{h.rand, h.mask} {
		if v != nil {
			clear(v.Bits())
			v.SetInt64(0)
		}
	}
	clear(h.kck)
	if h.key != nil {
		clear(h.key.PMK)
		clear(h.key.PMKID)
	}
	clear(h.params.Password)
}

func (h *Handshake) debugf(format string, args ...interface{}) {
	if h.log != nil {
		h.log.Debugf(format, args...)
	}
}
