// Package station runs SAE handshakes on behalf of one 802.11 station.
//
// The Manager owns a handshake per peer MAC address and does everything the
// synchronous sae engine leaves to its caller: it encodes and transmits
// authentication frames, runs the retransmission and key-lifetime timers,
// serializes calls per peer and reports results through Callbacks.
package station

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/backkem/sae/pkg/sae"
	"github.com/backkem/sae/pkg/transport"
	"github.com/pion/logging"
	"github.com/prometheus/client_golang/prometheus"
)

// Defaults for ManagerConfig.
const (
	// DefaultRetransmitPeriod is dot11RSNASAERetransPeriod.
	DefaultRetransmitPeriod = 40 * time.Millisecond

	// DefaultKeyLifetime is dot11RSNAConfigPMKLifetime.
	DefaultKeyLifetime = 12 * time.Hour
)

// Errors returned by the Manager.
var (
	ErrNoSender    = errors.New("station: no frame sender configured")
	ErrClosed      = errors.New("station: manager closed")
	ErrUnknownPeer = errors.New("station: no handshake with peer")
	ErrSelfAddress = errors.New("station: peer address is the local address")
	ErrRemoved     = errors.New("station: handshake removed")
)

// FrameSender transmits an authentication frame body to a station.
// *transport.FrameConn implements it.
type FrameSender interface {
	WriteFrame(dst sae.MacAddr, body []byte) error
}

// FrameSource yields received authentication frames.
// *transport.FrameConn implements it.
type FrameSource interface {
	ReadFrame() (src, dst sae.MacAddr, body []byte, err error)
	SetReadDeadline(t time.Time) error
}

// Callbacks provides callback functions for Manager events. They run without
// any Manager lock held.
type Callbacks struct {
	// OnComplete is called once per handshake when the PMK is derived.
	OnComplete func(peer sae.MacAddr, key sae.Key)

	// OnReject is called when a handshake is aborted.
	OnReject func(peer sae.MacAddr, reason sae.RejectReason, err error)
}

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	// LocalAddr is this station's MAC address.
	LocalAddr sae.MacAddr

	// Password is shared with every peer.
	Password []byte

	// GroupID selects the finite cyclic group (default: 19).
	GroupID uint16

	// AKM is the negotiated AKM suite (default: SAE).
	AKM sae.AKM

	// Sender transmits frames. Required.
	Sender FrameSender

	// Callbacks for handshake events.
	Callbacks Callbacks

	// RetransmitPeriod is the retransmission timeout (default: 40ms).
	RetransmitPeriod time.Duration

	// KeyLifetime bounds how long a derived PMK stays valid (default: 12h).
	KeyLifetime time.Duration

	// Registerer receives the handshake metrics. If nil, metrics are
	// collected but not registered.
	Registerer prometheus.Registerer

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// peer tracks one handshake. All fields except addr and done are guarded
// by mu.
type peer struct {
	addr sae.MacAddr

	mu     sync.Mutex
	hs     *sae.Handshake
	timers [2]*time.Timer // indexed by sae.Timeout
	gen    [2]uint64
	gone   bool

	// done is closed on the first Complete or Reject; err is set before.
	done     chan struct{}
	finished bool
	err      error
}

func (p *peer) finish(err error) {
	if p.finished {
		return
	}
	p.finished = true
	p.err = err
	close(p.done)
}

// Manager coordinates SAE handshakes with any number of peers.
type Manager struct {
	config  ManagerConfig
	group   sae.FiniteCyclicGroup
	metrics *metrics
	log     logging.LeveledLogger
	saeLog  logging.LeveledLogger

	mu     sync.Mutex
	peers  map[sae.MacAddr]*peer
	closed bool
}

// NewManager creates a new Manager.
func NewManager(config ManagerConfig) (*Manager, error) {
	if config.Sender == nil {
		return nil, ErrNoSender
	}
	if config.GroupID == 0 {
		config.GroupID = sae.GroupP256
	}
	if config.AKM == (sae.AKM{}) {
		config.AKM = sae.AKMSAE
	}
	if config.RetransmitPeriod == 0 {
		config.RetransmitPeriod = DefaultRetransmitPeriod
	}
	if config.KeyLifetime == 0 {
		config.KeyLifetime = DefaultKeyLifetime
	}

	group, err := sae.GroupByID(config.GroupID)
	if err != nil {
		return nil, err
	}

	m := &Manager{
		config:  config,
		group:   group,
		metrics: newMetrics(config.Registerer, config.LocalAddr),
		peers:   make(map[sae.MacAddr]*peer),
	}
	if config.LoggerFactory != nil {
		m.log = config.LoggerFactory.NewLogger("station")
		m.saeLog = config.LoggerFactory.NewLogger("sae")
	}
	return m, nil
}

// LocalAddr returns the station's MAC address.
func (m *Manager) LocalAddr() sae.MacAddr {
	return m.config.LocalAddr
}

// Connect starts a handshake with addr by sending a Commit. It is a no-op if a
// handshake with addr is already under way or complete.
func (m *Manager) Connect(addr sae.MacAddr) error {
	_, err := m.connect(addr)
	return err
}

func (m *Manager) connect(addr sae.MacAddr) (*peer, error) {
	p, err := m.lookup(addr, true)
	if err != nil {
		return nil, err
	}
	if m.log != nil {
		m.log.Infof("starting SAE with %s", addr)
	}
	return p, m.run(p, func(sink *sae.UpdateSink) { p.hs.Initiate(sink) })
}

// Establish connects to addr and waits until the handshake completes or is
// rejected, or ctx ends.
func (m *Manager) Establish(ctx context.Context, addr sae.MacAddr) (*sae.Key, error) {
	p, err := m.connect(addr)
	if err != nil {
		return nil, err
	}

	select {
	case <-p.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	key := p.hs.Key()
	if key == nil {
		return nil, ErrRemoved
	}
	return key, nil
}

// HandleFrame processes an authentication frame body received from src.
// A commit from an unknown station creates a new handshake; a confirm from
// one returns ErrUnknownPeer. A commit that starts a new exchange with a peer
// whose handshake completed replaces that handshake.
func (m *Manager) HandleFrame(src sae.MacAddr, body []byte) error {
	if src == m.config.LocalAddr {
		return ErrSelfAddress
	}

	f, err := sae.DecodeFrame(m.group, body)
	if f != nil {
		m.metrics.received.WithLabelValues(frameType(f.Sequence)).Inc()
	}
	if err != nil {
		return fmt.Errorf("frame from %s: %w", src, err)
	}
	if f.Status != sae.StatusSuccess {
		m.debugf("ignoring %s from %s with status %d", frameType(f.Sequence), src, f.Status)
		return nil
	}

	switch f.Sequence {
	case sae.SeqCommit:
		p, err := m.lookup(src, true)
		if err != nil {
			return err
		}
		if p, err = m.renew(p, f.Commit); err != nil {
			return err
		}
		return m.run(p, func(sink *sae.UpdateSink) { p.hs.HandleCommit(sink, f.Commit) })
	default:
		p, err := m.lookup(src, false)
		if err != nil {
			return err
		}
		return m.run(p, func(sink *sae.UpdateSink) { p.hs.HandleConfirm(sink, f.Confirm) })
	}
}

// Serve reads frames from src and handles those addressed to this station
// until ctx ends or src fails. It returns ctx.Err() on cancellation.
func (m *Manager) Serve(ctx context.Context, src FrameSource) error {
	stop := context.AfterFunc(ctx, func() {
		_ = src.SetReadDeadline(time.Now())
	})
	defer stop()

	for {
		from, dst, body, err := src.ReadFrame()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, transport.ErrFrameTooShort) {
				continue
			}
			return err
		}
		if dst != m.config.LocalAddr && dst != transport.BroadcastAddr {
			continue
		}

		if err := m.HandleFrame(from, body); err != nil {
			if errors.Is(err, ErrClosed) {
				return err
			}
			m.debugf("dropping frame from %s: %v", from, err)
		}
	}
}

// State returns the handshake state with addr.
func (m *Manager) State(addr sae.MacAddr) (sae.State, bool) {
	p, err := m.lookup(addr, false)
	if err != nil {
		return sae.StateIdle, false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hs.State(), true
}

// Key returns the PMK and PMKID shared with addr, or nil if there is no
// completed handshake.
func (m *Manager) Key(addr sae.MacAddr) *sae.Key {
	p, err := m.lookup(addr, false)
	if err != nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hs.Key()
}

// Remove tears down the handshake with addr and wipes its secrets.
// It reports whether a handshake existed.
func (m *Manager) Remove(addr sae.MacAddr) bool {
	m.mu.Lock()
	p, ok := m.peers[addr]
	delete(m.peers, addr)
	m.mu.Unlock()
	if !ok {
		return false
	}

	p.mu.Lock()
	m.teardown(p)
	p.finish(ErrRemoved)
	p.mu.Unlock()
	return true
}

// Close tears down every handshake. Further calls return ErrClosed.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	peers := m.peers
	m.peers = make(map[sae.MacAddr]*peer)
	m.mu.Unlock()

	for _, p := range peers {
		p.mu.Lock()
		m.teardown(p)
		p.finish(ErrClosed)
		p.mu.Unlock()
	}
	return nil
}

// lookup finds the handshake with addr, creating it if create is set.
func (m *Manager) lookup(addr sae.MacAddr, create bool) (*peer, error) {
	if addr == m.config.LocalAddr {
		return nil, ErrSelfAddress
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}
	if p, ok := m.peers[addr]; ok {
		return p, nil
	}
	if !create {
		return nil, ErrUnknownPeer
	}

	hs, err := sae.NewHandshake(m.config.GroupID, m.config.AKM, m.config.Password, m.config.LocalAddr, addr)
	if err != nil {
		return nil, err
	}
	if m.saeLog != nil {
		hs.SetLogger(m.saeLog)
	}

	p := &peer{addr: addr, hs: hs, done: make(chan struct{})}
	m.peers[addr] = p
	return p, nil
}

// renew replaces a completed handshake with a fresh one when msg shows the
// peer has started a new exchange. Otherwise it returns p.
func (m *Manager) renew(p *peer, msg *sae.CommitMsg) (*peer, error) {
	p.mu.Lock()
	restart := !p.gone && p.hs.IsNewExchange(msg)
	if restart {
		m.teardown(p)
	}
	p.mu.Unlock()
	if !restart {
		return p, nil
	}

	if m.log != nil {
		m.log.Infof("%s restarted SAE, replacing completed handshake", p.addr)
	}
	m.forget(p)
	return m.lookup(p.addr, true)
}

// forget drops p from the peer table unless it was already replaced.
func (m *Manager) forget(p *peer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.peers[p.addr] == p {
		delete(m.peers, p.addr)
	}
}

// run calls fn with p locked, applies the updates it produced and then
// invokes callbacks outside the lock.
func (m *Manager) run(p *peer, fn func(sink *sae.UpdateSink)) error {
	p.mu.Lock()
	if p.gone {
		p.mu.Unlock()
		return ErrUnknownPeer
	}

	var sink sae.UpdateSink
	fn(&sink)
	notify, err := m.apply(p, sink)
	p.mu.Unlock()

	for _, f := range notify {
		f()
	}
	return err
}

// apply executes the updates of one engine call. p.mu must be held.
func (m *Manager) apply(p *peer, sink sae.UpdateSink) ([]func(), error) {
	var (
		notify   []func()
		firstErr error
	)
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	for _, u := range sink {
		switch u := u.(type) {
		case sae.SendCommit:
			keep(m.send(p.addr, sae.EncodeCommitFrame(m.group, &u.Msg), frameCommit))
		case sae.SendConfirm:
			keep(m.send(p.addr, sae.EncodeConfirmFrame(&u.Msg), frameConfirm))
		case sae.ResetTimeout:
			m.resetTimer(p, u.Timeout)
		case sae.CancelTimeout:
			m.stopTimer(p, u.Timeout)
		case sae.Complete:
			m.metrics.completed.Inc()
			if m.log != nil {
				m.log.Infof("SAE with %s complete, PMKID %x", p.addr, u.Key.PMKID)
			}
			p.finish(nil)
			if cb := m.config.Callbacks.OnComplete; cb != nil {
				addr, key := p.addr, u.Key
				notify = append(notify, func() { cb(addr, key) })
			}
		case sae.Reject:
			m.metrics.rejected.WithLabelValues(u.Reason.String()).Inc()
			if m.log != nil {
				m.log.Warnf("SAE with %s rejected: %v", p.addr, u)
			}
			m.teardown(p)
			m.forget(p)
			p.finish(u)
			if cb := m.config.Callbacks.OnReject; cb != nil {
				addr, reason, err := p.addr, u.Reason, u.Err
				notify = append(notify, func() { cb(addr, reason, err) })
			}
		}
	}
	return notify, firstErr
}

func (m *Manager) send(dst sae.MacAddr, body []byte, typ string) error {
	if err := m.config.Sender.WriteFrame(dst, body); err != nil {
		return fmt.Errorf("send %s to %s: %w", typ, dst, err)
	}
	m.metrics.sent.WithLabelValues(typ).Inc()
	return nil
}

// resetTimer (re)arms timer t. Each arm gets a new generation so a timer
// that fires after being reset or stopped is ignored. p.mu must be held.
func (m *Manager) resetTimer(p *peer, t sae.Timeout) {
	m.stopTimer(p, t)
	gen := p.gen[t]
	p.timers[t] = time.AfterFunc(m.period(t), func() {
		m.expire(p, t, gen)
	})
}

// stopTimer stops timer t. p.mu must be held.
func (m *Manager) stopTimer(p *peer, t sae.Timeout) {
	if p.timers[t] != nil {
		p.timers[t].Stop()
		p.timers[t] = nil
	}
	p.gen[t]++
}

func (m *Manager) expire(p *peer, t sae.Timeout, gen uint64) {
	err := m.run(p, func(sink *sae.UpdateSink) {
		if p.gen[t] != gen {
			return
		}
		p.timers[t] = nil
		m.debugf("%s timeout for %s", t, p.addr)
		p.hs.HandleTimeout(sink, t)
	})
	if err != nil && !errors.Is(err, ErrUnknownPeer) {
		m.debugf("timeout handling for %s: %v", p.addr, err)
	}
}

func (m *Manager) period(t sae.Timeout) time.Duration {
	if t == sae.TimeoutKeyExpiration {
		return m.config.KeyLifetime
	}
	return m.config.RetransmitPeriod
}

// teardown stops all timers and wipes the handshake. p.mu must be held.
func (m *Manager) teardown(p *peer) {
	for t := range p.timers {
		m.stopTimer(p, sae.Timeout(t))
	}
	p.gone = true
	p.hs.Destroy()
}

func (m *Manager) debugf(format string, args ...interface{}) {
	if m.log != nil {
		m.log.Debugf(format, args...)
	}
}
