package main

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/backkem/sae/pkg/sae"
	"github.com/backkem/sae/pkg/station"
	"github.com/backkem/sae/pkg/transport"
	"github.com/pion/logging"
	"github.com/prometheus/client_golang/prometheus"
)

var errHandshakeFailed = errors.New("handshake failed")

// outcome is the result of one station's side of the handshake.
type outcome struct {
	Addr     sae.MacAddr
	Key      *sae.Key
	Rejected bool
	Reason   sae.RejectReason
	Err      error
}

func (o outcome) String() string {
	if o.Key != nil {
		return fmt.Sprintf("%s: complete pmkid=%x", o.Addr, o.Key.PMKID)
	}
	if o.Rejected {
		return fmt.Sprintf("%s: rejected (%s): %v", o.Addr, o.Reason, o.Err)
	}
	return fmt.Sprintf("%s: failed: %v", o.Addr, o.Err)
}

// report summarizes a simulation run.
type report struct {
	A, B outcome
}

// Success reports whether both stations derived the same PMK.
func (r *report) Success() bool {
	return r.A.Key != nil && r.B.Key != nil &&
		string(r.A.Key.PMKID) == string(r.B.Key.PMKID)
}

// simulation is two stations sharing an impaired in-memory medium.
type simulation struct {
	cfg  *simConfig
	pipe *transport.Pipe
	a, b *station.Manager

	connA, connB *transport.FrameConn
	addrA, addrB sae.MacAddr

	mu      sync.Mutex
	results map[sae.MacAddr]*outcome
	done    map[sae.MacAddr]chan struct{}
}

func newSimulation(cfg *simConfig, lf logging.LoggerFactory, reg prometheus.Registerer) (*simulation, error) {
	addrA, err := sae.ParseMacAddr(cfg.StationA.MAC)
	if err != nil {
		return nil, fmt.Errorf("station_a.mac: %w", err)
	}
	addrB, err := sae.ParseMacAddr(cfg.StationB.MAC)
	if err != nil {
		return nil, fmt.Errorf("station_b.mac: %w", err)
	}
	if addrA == addrB {
		return nil, fmt.Errorf("stations share address %s", addrA)
	}

	s := &simulation{
		cfg:   cfg,
		addrA: addrA,
		addrB: addrB,
		pipe: transport.NewPipeWithConfig(transport.PipeConfig{
			AutoProcess:   true,
			Seed:          cfg.Seed,
			LoggerFactory: lf,
		}),
		results: map[sae.MacAddr]*outcome{},
		done: map[sae.MacAddr]chan struct{}{
			addrA: make(chan struct{}),
			addrB: make(chan struct{}),
		},
	}
	s.pipe.SetCondition(cfg.condition())
	s.connA = transport.NewFrameConn(s.pipe.Conn0(), addrA)
	s.connB = transport.NewFrameConn(s.pipe.Conn1(), addrB)

	s.a, err = s.newStation(addrA, cfg.StationA.Password, s.connA, lf, reg)
	if err != nil {
		s.pipe.Close()
		return nil, err
	}
	s.b, err = s.newStation(addrB, cfg.StationB.Password, s.connB, lf, reg)
	if err != nil {
		s.a.Close()
		s.pipe.Close()
		return nil, err
	}
	return s, nil
}

func (s *simulation) newStation(addr sae.MacAddr, password string, conn *transport.FrameConn,
	lf logging.LoggerFactory, reg prometheus.Registerer) (*station.Manager, error) {
	return station.NewManager(station.ManagerConfig{
		LocalAddr:        addr,
		Password:         []byte(password),
		GroupID:          s.cfg.Group,
		AKM:              s.cfg.akm(),
		Sender:           conn,
		RetransmitPeriod: s.cfg.Retransmit,
		Registerer:       reg,
		LoggerFactory:    lf,
		Callbacks: station.Callbacks{
			OnComplete: func(_ sae.MacAddr, key sae.Key) {
				s.record(addr, outcome{Addr: addr, Key: &key})
			},
			OnReject: func(_ sae.MacAddr, reason sae.RejectReason, err error) {
				s.record(addr, outcome{Addr: addr, Rejected: true, Reason: reason, Err: err})
			},
		},
	})
}

// record stores the first outcome for a station.
func (s *simulation) record(addr sae.MacAddr, o outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.results[addr]; ok {
		return
	}
	s.results[addr] = &o
	close(s.done[addr])
}

func (s *simulation) result(ctx context.Context, addr sae.MacAddr) outcome {
	select {
	case <-s.done[addr]:
		s.mu.Lock()
		defer s.mu.Unlock()
		return *s.results[addr]
	case <-ctx.Done():
		return outcome{Addr: addr, Err: ctx.Err()}
	}
}

// Run performs one handshake between the two stations.
func (s *simulation) Run(ctx context.Context) *report {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	serveCtx, stop := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); _ = s.a.Serve(serveCtx, s.connA) }()
	go func() { defer wg.Done(); _ = s.b.Serve(serveCtx, s.connB) }()
	defer func() {
		stop()
		wg.Wait()
	}()

	if s.cfg.InitiateBoth {
		if err := s.b.Connect(s.addrA); err != nil {
			s.record(s.addrB, outcome{Addr: s.addrB, Err: err})
		}
	}
	if err := s.a.Connect(s.addrB); err != nil {
		s.record(s.addrA, outcome{Addr: s.addrA, Err: err})
	}

	return &report{
		A: s.result(ctx, s.addrA),
		B: s.result(ctx, s.addrB),
	}
}

// Close releases both stations and the medium.
func (s *simulation) Close() error {
	return errors.Join(s.a.Close(), s.b.Close(), s.pipe.Close())
}
