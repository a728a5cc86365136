package lb

import (
	"log/slog"

	"github.com/osmocom-go/smlcd/internal/bssaple"
	"github.com/osmocom-go/smlcd/internal/sccpsap"
)

// Peer is one Lb interface peer (a BSC), tracking the RESET handshake state
// and owning every Conn currently open to it. Grounded on lb_peer.c's struct
// lb_peer and its allstate RESET handshake handling.
type Peer struct {
	Addr sccpsap.Address

	state PeerState
	conns map[uint32]*Conn

	inst *Instance

	logger *slog.Logger
}

func newPeer(inst *Instance, addr sccpsap.Address) *Peer {
	p := &Peer{
		Addr:   addr,
		state:  PeerStateWaitRxReset,
		conns:  make(map[uint32]*Conn),
		inst:   inst,
		logger: inst.logger.With(slog.String("peer_addr", addr.String())),
	}
	p.armPassiveTimer()
	return p
}

// armPassiveTimer (re-)arms T-13, the interval after which a peer sitting
// passively in WAIT_RX_RESET retransmits its own RESET (peerFSMTable's
// WAIT_RX_RESET self-loop on PeerEventTimeout).
func (p *Peer) armPassiveTimer() {
	p.inst.scheduleTimer(p.timerID(), p.inst.cfg.ResetTimeout, func() { p.applyEvent(PeerEventTimeout) })
}

// State returns the peer's current RESET handshake state.
func (p *Peer) State() PeerState { return p.state }

// StartHandshake actively initiates the RESET handshake (used when the SMLC
// itself needs to (re-)synchronize with a configured peer, rather than
// waiting passively for the peer's RESET). Grounded on lb_peer_reset.
func (p *Peer) StartHandshake() {
	p.sendReset()
	p.state = PeerStateWaitRxResetAck
	p.inst.scheduleTimer(p.timerID(), p.inst.cfg.ResetAckTimeout, func() { p.applyEvent(PeerEventTimeout) })
}

func (p *Peer) applyEvent(ev PeerEvent) {
	res := ApplyPeerEvent(p.state, ev)
	if res.Changed {
		p.logger.Debug("peer fsm transition",
			slog.String("event", ev.String()),
			slog.String("from", res.OldState.String()),
			slog.String("to", res.NewState.String()),
		)
	}
	p.state = res.NewState

	for _, a := range res.Actions {
		p.execute(a)
	}

	switch res.NewState {
	case PeerStateDiscarding:
		p.inst.removePeer(p)
	case PeerStateWaitRxReset:
		// Every transition landing back in WAIT_RX_RESET re-arms T-13, be it
		// the initial passive entry, a failed active handshake reverting
		// here, or this state's own self-loop retransmit.
		p.armPassiveTimer()
	case PeerStateWaitRxResetAck:
		// A protocol violation mid-handshake re-sends RESET and re-arms T-14
		// the same way StartHandshake does.
		p.inst.scheduleTimer(p.timerID(), p.inst.cfg.ResetAckTimeout, func() { p.applyEvent(PeerEventTimeout) })
	}
}

func (p *Peer) execute(a PeerAction) {
	switch a {
	case PeerActionSendReset:
		p.sendReset()
	case PeerActionSendResetAck:
		p.sendResetAck()
	case PeerActionNotifyReady:
		p.inst.cancelTimer(p.timerID())
		p.inst.metrics.SetPeerActive(p.Addr.String(), true)
		p.logger.Info("peer ready")
	case PeerActionNotifyNotReady:
		p.inst.metrics.SetPeerActive(p.Addr.String(), false)
		p.logger.Warn("peer not ready")
	case PeerActionDiscardConns:
		p.discardAllConns()
	}
}

func (p *Peer) timerID() timerID { return timerID{kind: "peer", key: p.Addr.String()} }

func (p *Peer) sendReset() {
	p.sendCL(bssaple.BSSMAPLE{MsgType: bssaple.MsgTypeReset, Cause: bssaple.CauseEquipmentFailure})
}

func (p *Peer) sendResetAck() {
	p.sendCL(bssaple.BSSMAPLE{MsgType: bssaple.MsgTypeResetAck})
}

func (p *Peer) sendCL(body bssaple.BSSMAPLE) {
	wire, err := p.inst.codec.EncodeBSSAPLE(bssaple.PDU{Discr: bssaple.DiscrBSSMAPLE, BSSMAPLE: body})
	if err != nil {
		p.logger.Error("encode failed", slog.String("error", err.Error()))
		return
	}
	if err := p.inst.provider.UnitdataReq(p.inst.localAddr, p.Addr, wire); err != nil {
		p.logger.Error("unitdata.req failed", slog.String("error", err.Error()))
		return
	}
	p.inst.metrics.IncTxPrimitive(body.MsgType.String())
}

// createIncomingConn registers an Lb connection whose id was assigned by the
// peer (incoming SCCP connection request). Grounded on lb_conn_create_incoming.
func (p *Peer) createIncomingConn(connID uint32, useToken string) *Conn {
	p.inst.connIDAlloc.Reserve(connID)
	c := newConn(p, connID, useToken, p.logger)
	p.conns[connID] = c
	p.inst.conns[connID] = c
	p.inst.metrics.SetConnsTotal(len(p.inst.conns))
	return c
}

// createOutgoingConn allocates a fresh connection id and registers a new Lb
// connection for an SMLC-originated association. Grounded on
// lb_conn_create_outgoing.
func (p *Peer) createOutgoingConn(useToken string) (*Conn, error) {
	connID, err := p.inst.connIDAlloc.Allocate()
	if err != nil {
		return nil, err
	}
	c := newConn(p, connID, useToken, p.logger)
	p.conns[connID] = c
	p.inst.conns[connID] = c
	p.inst.metrics.SetConnsTotal(len(p.inst.conns))
	return c, nil
}

func (p *Peer) disconnectConn(c *Conn) {
	if err := p.inst.provider.DisconnectReq(c.ConnID, causeUnspecified); err != nil {
		p.logger.Error("disconnect.req failed", slog.String("error", err.Error()))
	}
}

func (p *Peer) forgetConn(c *Conn) {
	delete(p.conns, c.ConnID)
	delete(p.inst.conns, c.ConnID)
	p.inst.connIDAlloc.Release(c.ConnID)
	p.inst.metrics.SetConnsTotal(len(p.inst.conns))
}

// discardAllConns tears down every conn on this peer without sending SCCP
// disconnects (lb_conn_discard), used when the peer itself is resetting or
// being removed.
func (p *Peer) discardAllConns() {
	for _, c := range p.conns {
		c.discard()
	}
}

// causeUnspecified is the SCCP release cause this module always uses when
// closing a connection (see DESIGN.md Open Questions).
const causeUnspecified = 0
