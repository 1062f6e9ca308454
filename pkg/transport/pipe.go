package transport

import (
	"fmt"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/pion/logging"
	"github.com/pion/transport/v3/test"
)

// NetworkCondition configures how the simulated medium mistreats frames.
// Use this to exercise SAE retransmission and resynchronization.
type NetworkCondition struct {
	// DropRate is the probability of losing a frame (0.0 - 1.0).
	DropRate float64

	// DelayMin is the minimum delay added to each frame.
	DelayMin time.Duration

	// DelayMax is the maximum delay added to each frame.
	// Actual delay is uniformly distributed between DelayMin and DelayMax.
	// Delayed frames are delivered asynchronously and may overtake each other.
	DelayMax time.Duration

	// DuplicateRate is the probability of delivering a frame twice (0.0 - 1.0).
	DuplicateRate float64
}

// PipeConfig configures a Pipe.
type PipeConfig struct {
	// AutoProcess enables automatic frame delivery in a background goroutine.
	// Default: true
	AutoProcess bool

	// ProcessInterval is how often the auto-processor delivers frames.
	// Default: 1ms
	ProcessInterval time.Duration

	// Seed seeds the condition simulator. Zero uses the current time.
	Seed int64

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// DefaultPipeConfig returns the default pipe configuration.
func DefaultPipeConfig() PipeConfig {
	return PipeConfig{
		AutoProcess:     true,
		ProcessInterval: 1 * time.Millisecond,
	}
}

// Pipe is an in-memory wireless medium between two stations. It wraps pion's
// test.Bridge and adds loss, duplication and delay.
//
// By default, Pipe delivers frames in a background goroutine.
// Use SetAutoProcess(false) for manual control with Tick and Process.
type Pipe struct {
	bridge *test.Bridge
	ends   [2]*PipeConn
	log    logging.LeveledLogger

	mu              sync.Mutex
	condition       NetworkCondition
	closed          bool
	rng             *rand.Rand
	autoProcess     bool
	processInterval time.Duration
	stopCh          chan struct{}
	wg              sync.WaitGroup
	pending         sync.WaitGroup
}

// NewPipe creates a new medium with auto-processing enabled.
func NewPipe() *Pipe {
	return NewPipeWithConfig(DefaultPipeConfig())
}

// NewPipeWithConfig creates a new medium with the given configuration.
func NewPipeWithConfig(config PipeConfig) *Pipe {
	seed := config.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	p := &Pipe{
		bridge:          test.NewBridge(),
		rng:             rand.New(rand.NewSource(seed)),
		autoProcess:     config.AutoProcess,
		processInterval: config.ProcessInterval,
		stopCh:          make(chan struct{}),
	}
	if config.LoggerFactory != nil {
		p.log = config.LoggerFactory.NewLogger("medium")
	}
	if p.processInterval == 0 {
		p.processInterval = 1 * time.Millisecond
	}

	p.ends[0] = &PipeConn{conn: p.bridge.GetConn0(), id: 0, pipe: p}
	p.ends[1] = &PipeConn{conn: p.bridge.GetConn1(), id: 1, pipe: p}

	if p.autoProcess {
		p.startAutoProcess()
	}

	return p
}

// startAutoProcess starts the background delivery goroutine.
func (p *Pipe) startAutoProcess() {
	p.wg.Add(1)
	go func(stopCh chan struct{}) {
		defer p.wg.Done()
		ticker := time.NewTicker(p.processInterval)
		defer ticker.Stop()

		for {
			select {
			case <-stopCh:
				return
			case <-ticker.C:
				p.bridge.Tick()
			}
		}
	}(p.stopCh)
}

// SetAutoProcess enables or disables automatic frame delivery.
// When disabled, you must call Tick() or Process() manually.
func (p *Pipe) SetAutoProcess(enabled bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed || p.autoProcess == enabled {
		return
	}
	p.autoProcess = enabled

	if enabled {
		p.stopCh = make(chan struct{})
		p.startAutoProcess()
	} else {
		close(p.stopCh)
		p.wg.Wait()
	}
}

// AutoProcess returns whether auto-processing is enabled.
func (p *Pipe) AutoProcess() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.autoProcess
}

// SetCondition configures condition simulation for both directions.
func (p *Pipe) SetCondition(cond NetworkCondition) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.condition = cond
}

// Condition returns the current network condition configuration.
func (p *Pipe) Condition() NetworkCondition {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.condition
}

// Conn0 returns endpoint 0.
func (p *Pipe) Conn0() *PipeConn {
	return p.ends[0]
}

// Conn1 returns endpoint 1.
func (p *Pipe) Conn1() *PipeConn {
	return p.ends[1]
}

// Tick delivers one frame in each direction (if available).
// Returns the number of frames delivered (0, 1, or 2).
func (p *Pipe) Tick() int {
	return p.bridge.Tick()
}

// Process delivers all queued frames.
// Returns the number of frames delivered.
func (p *Pipe) Process() int {
	count := 0
	for {
		n := p.Tick()
		if n == 0 {
			break
		}
		count += n
	}
	return count
}

// Close closes both endpoints and stops auto-processing.
func (p *Pipe) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	if p.autoProcess {
		close(p.stopCh)
	}
	p.mu.Unlock()

	p.wg.Wait()
	p.pending.Wait()

	var firstErr error
	for _, end := range p.ends {
		if err := end.conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// fate decides what happens to one frame.
func (p *Pipe) fate() (drop, duplicate bool, delay time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	cond := p.condition
	if cond.DropRate > 0 && p.rng.Float64() < cond.DropRate {
		return true, false, 0
	}
	if cond.DuplicateRate > 0 && p.rng.Float64() < cond.DuplicateRate {
		duplicate = true
	}
	if cond.DelayMax > 0 {
		delay = cond.DelayMin
		if cond.DelayMax > cond.DelayMin {
			delay += time.Duration(p.rng.Int63n(int64(cond.DelayMax - cond.DelayMin)))
		}
	}
	return false, duplicate, delay
}

// schedule runs fn after delay unless the pipe is closed. Close waits for
// scheduled deliveries.
func (p *Pipe) schedule(delay time.Duration, fn func()) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	p.pending.Add(1)
	time.AfterFunc(delay, func() {
		defer p.pending.Done()
		fn()
	})
	return true
}

func (p *Pipe) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// PipeAddr implements net.Addr for pipe endpoints.
type PipeAddr struct {
	ID int // Endpoint ID (0 or 1)
}

// Network returns "pipe".
func (a PipeAddr) Network() string { return "pipe" }

// String returns a string representation of the address.
func (a PipeAddr) String() string { return fmt.Sprintf("pipe:%d", a.ID) }

// PipeConn is one endpoint of a Pipe. Each Write is delivered as one frame,
// subject to the pipe's NetworkCondition.
type PipeConn struct {
	conn net.Conn
	id   int
	pipe *Pipe
}

// Read reads one frame.
func (c *PipeConn) Read(b []byte) (int, error) {
	return c.conn.Read(b)
}

// Write queues b for delivery to the other endpoint. A dropped frame is
// reported as written.
func (c *PipeConn) Write(b []byte) (int, error) {
	if c.pipe.isClosed() {
		return 0, ErrClosed
	}

	drop, duplicate, delay := c.pipe.fate()
	if drop {
		c.tracef("dropped %d byte frame", len(b))
		return len(b), nil
	}

	copies := 1
	if duplicate {
		c.tracef("duplicating %d byte frame", len(b))
		copies = 2
	}

	if delay <= 0 {
		for i := 0; i < copies; i++ {
			if _, err := c.conn.Write(b); err != nil {
				return 0, err
			}
		}
		return len(b), nil
	}

	frame := make([]byte, len(b))
	copy(frame, b)
	if !c.pipe.schedule(delay, func() {
		for i := 0; i < copies; i++ {
			if _, err := c.conn.Write(frame); err != nil {
				c.tracef("delayed write failed: %v", err)
				return
			}
		}
	}) {
		return 0, ErrClosed
	}
	return len(b), nil
}

// Close closes this endpoint.
func (c *PipeConn) Close() error {
	return c.conn.Close()
}

// LocalAddr returns the local address.
func (c *PipeConn) LocalAddr() net.Addr {
	return PipeAddr{ID: c.id}
}

// RemoteAddr returns the other endpoint's address.
func (c *PipeConn) RemoteAddr() net.Addr {
	return PipeAddr{ID: 1 - c.id}
}

// SetDeadline sets the read and write deadlines.
func (c *PipeConn) SetDeadline(t time.Time) error {
	return c.conn.SetDeadline(t)
}

// SetReadDeadline sets the read deadline.
func (c *PipeConn) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

// SetWriteDeadline sets the write deadline.
func (c *PipeConn) SetWriteDeadline(t time.Time) error {
	return c.conn.SetWriteDeadline(t)
}

func (c *PipeConn) tracef(format string, args ...interface{}) {
	if c.pipe.log != nil {
		c.pipe.log.Tracef("pipe:%d: "+format, append([]interface{}{c.id}, args...)...)
	}
}

// Verify PipeConn implements net.Conn.
var _ net.Conn = (*PipeConn)(nil)
