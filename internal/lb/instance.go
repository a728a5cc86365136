// Package lb implements the SMLC side of the Lb interface: the SCCP user
// adapter, the per-peer RESET handshake, Lb connection objects, and the
// per-request TA-exchange engine, all driven by a single cooperative event
// loop (Instance.Run) with no per-handler preemption.
package lb

import (
	"context"
	"log/slog"
	"time"

	"github.com/osmocom-go/smlcd/internal/bssaple"
	"github.com/osmocom-go/smlcd/internal/cellloc"
	"github.com/osmocom-go/smlcd/internal/sccpsap"
	"github.com/osmocom-go/smlcd/internal/subscr"
)

// Config holds the three Lb-interface timer defaults (spec timers T-12
// through T-14), all 5s by default (smlc_data.c's g_smlc_tdefs).
type Config struct {
	// ResetTimeout is T-13: how long a peer waits passively in
	// WAIT_RX_RESET before retransmitting RESET.
	ResetTimeout time.Duration
	// ResetAckTimeout is T-14: how long a peer waits for RESET ACK after
	// sending RESET before reverting to WAIT_RX_RESET.
	ResetAckTimeout time.Duration
	// WaitTATimeout is T-12: how long a location request waits for a
	// BSSLAP TA Response before failing.
	WaitTATimeout time.Duration
}

// DefaultConfig returns the Config matching every Lb timer's 5 second
// default.
func DefaultConfig() Config {
	return Config{
		ResetTimeout:    5 * time.Second,
		ResetAckTimeout: 5 * time.Second,
		WaitTATimeout:   5 * time.Second,
	}
}

// Metrics is the subset of counters/stats the engine reports. Implemented by
// internal/metrics.Collector; a noopMetrics default is used when no
// collector is wired in.
type Metrics interface {
	IncRxPrimitive(name string)
	IncTxPrimitive(name string)
	IncLocationRequests(result string)
	SetPeersTotal(n int)
	SetPeerActive(peerAddr string, active bool)
	SetConnsTotal(n int)
	SetSubscribersTotal(n int)
}

type noopMetrics struct{}

func (noopMetrics) IncRxPrimitive(string)      {}
func (noopMetrics) IncTxPrimitive(string)      {}
func (noopMetrics) IncLocationRequests(string) {}
func (noopMetrics) SetPeersTotal(int)          {}
func (noopMetrics) SetPeerActive(string, bool) {}
func (noopMetrics) SetConnsTotal(int)          {}
func (noopMetrics) SetSubscribersTotal(int)    {}

// Instance is the single-threaded Lb engine: it owns every Peer and Conn,
// demultiplexes SCCP primitives, and drives both FSMs. All mutation happens
// on the goroutine running Run; Submit* methods are the only thread-safe
// entry points from outside that goroutine.
type Instance struct {
	cfg Config

	localAddr sccpsap.Address
	provider  sccpsap.Provider
	codec     bssaple.Codec

	cells       *cellloc.Table
	subscribers *subscr.Registry

	peers map[string]*Peer // keyed by Addr.String()
	conns map[uint32]*Conn // keyed by ConnID, across all peers

	connIDAlloc *connIDAllocator

	timers map[timerID]*timerEntry

	eventCh chan event

	metrics Metrics
	logger  *slog.Logger
}

type timerID struct {
	kind string
	key  string
}

type timerEntry struct {
	deadline time.Time
	fire     func()
}

// Option configures optional Instance parameters.
type Option func(*Instance)

// WithMetrics sets the Metrics reporter. A nil mr is ignored.
func WithMetrics(mr Metrics) Option {
	return func(i *Instance) {
		if mr != nil {
			i.metrics = mr
		}
	}
}

// WithConfig overrides the default Lb timer configuration.
func WithConfig(cfg Config) Option {
	return func(i *Instance) { i.cfg = cfg }
}

// NewInstance constructs an Instance. localAddr identifies this SMLC on the
// SCCP SAP; provider is the downward SCCP operations; codec (en/de)codes
// BSSAP-LE; cells and subscribers are the shared cell location table and
// subscriber registry.
func NewInstance(
	localAddr sccpsap.Address,
	provider sccpsap.Provider,
	codec bssaple.Codec,
	cells *cellloc.Table,
	subscribers *subscr.Registry,
	logger *slog.Logger,
	opts ...Option,
) *Instance {
	i := &Instance{
		cfg:         DefaultConfig(),
		localAddr:   localAddr,
		provider:    provider,
		codec:       codec,
		cells:       cells,
		subscribers: subscribers,
		peers:       make(map[string]*Peer),
		conns:       make(map[uint32]*Conn),
		connIDAlloc: newConnIDAllocator(),
		timers:      make(map[timerID]*timerEntry),
		eventCh:     make(chan event, 256),
		metrics:     noopMetrics{},
		logger:      logger.With(slog.String("component", "lb.instance")),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Run processes primitives and timer fires until ctx is cancelled. This is
// the only goroutine that ever mutates Instance/Peer/Conn/LocationRequest
// state: every primitive is handled to completion before the next is read,
// matching the cooperative single-threaded model the Lb engine requires.
func (i *Instance) Run(ctx context.Context) {
	for {
		var timerC <-chan time.Time
		var t *time.Timer
		if deadline, ok := i.nextDeadline(); ok {
			t = time.NewTimer(time.Until(deadline))
			timerC = t.C
		}

		select {
		case <-ctx.Done():
			if t != nil {
				t.Stop()
			}
			return
		case ev := <-i.eventCh:
			if t != nil {
				t.Stop()
			}
			i.handleEvent(ev)
		case <-timerC:
			i.fireDueTimers()
		}
	}
}

func (i *Instance) nextDeadline() (time.Time, bool) {
	var best time.Time
	found := false
	for _, e := range i.timers {
		if !found || e.deadline.Before(best) {
			best = e.deadline
			found = true
		}
	}
	return best, found
}

func (i *Instance) fireDueTimers() {
	now := time.Now()
	var due []func()
	for id, e := range i.timers {
		if !e.deadline.After(now) {
			due = append(due, e.fire)
			delete(i.timers, id)
		}
	}
	for _, fire := range due {
		fire()
	}
}

func (i *Instance) scheduleTimer(id timerID, d time.Duration, fire func()) {
	i.timers[id] = &timerEntry{deadline: time.Now().Add(d), fire: fire}
}

func (i *Instance) cancelTimer(id timerID) {
	delete(i.timers, id)
}

// findOrCreatePeer returns the peer for addr, creating one in
// WAIT_RX_RESET if none exists yet (lb_peer_up_l2's peer auto-creation).
func (i *Instance) findOrCreatePeer(addr sccpsap.Address) *Peer {
	key := addr.String()
	if p, ok := i.peers[key]; ok {
		return p
	}
	p := newPeer(i, addr)
	i.peers[key] = p
	i.metrics.SetPeersTotal(len(i.peers))
	i.logger.Info("peer created", slog.String("peer_addr", addr.String()))
	return p
}

func (i *Instance) removePeer(p *Peer) {
	delete(i.peers, p.Addr.String())
	i.metrics.SetPeersTotal(len(i.peers))
	i.logger.Info("peer removed", slog.String("peer_addr", p.Addr.String()))
}

// Peers returns a snapshot of every peer's address and state, for the
// offline CLI and diagnostics.
func (i *Instance) Peers() []struct {
	Addr  sccpsap.Address
	State PeerState
} {
	out := make([]struct {
		Addr  sccpsap.Address
		State PeerState
	}, 0, len(i.peers))
	for _, p := range i.peers {
		out = append(out, struct {
			Addr  sccpsap.Address
			State PeerState
		}{Addr: p.Addr, State: p.state})
	}
	return out
}
