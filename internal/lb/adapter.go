package lb

import (
	"log/slog"

	"github.com/osmocom-go/smlcd/internal/bssaple"
	"github.com/osmocom-go/smlcd/internal/sccpsap"
)

// event carries one SCCP user primitive onto Instance.eventCh. Only one of
// the pointer fields is set, selected by kind. Grounded on lb_peer.c's
// lb_sap_up_cb switch over the primitive's SAP/primitive code pair.
type event struct {
	kind string

	connect    *sccpsap.NConnectInd
	data       *sccpsap.NDataInd
	disconnect *sccpsap.NDisconnectInd
	unitdata   *sccpsap.NUnitdataInd
	notice     *sccpsap.NNoticeInd
	pcstate    *sccpsap.NPCStateInd
	resetPeer  *sccpsap.Address
}

const (
	eventConnect    = "n-connect.ind"
	eventData       = "n-data.ind"
	eventDisconnect = "n-disconnect.ind"
	eventUnitdata   = "n-unitdata.ind"
	eventNotice     = "n-notice.ind"
	eventPCState    = "n-pcstate.ind"
	eventResetPeer  = "reset-peer"
)

// SubmitConnectInd queues an incoming N-CONNECT.ind for processing on the
// Run goroutine. Safe to call from any goroutine.
func (i *Instance) SubmitConnectInd(ind sccpsap.NConnectInd) {
	i.eventCh <- event{kind: eventConnect, connect: &ind}
}

// SubmitDataInd queues an incoming N-DATA.ind.
func (i *Instance) SubmitDataInd(ind sccpsap.NDataInd) {
	i.eventCh <- event{kind: eventData, data: &ind}
}

// SubmitDisconnectInd queues an incoming N-DISCONNECT.ind.
func (i *Instance) SubmitDisconnectInd(ind sccpsap.NDisconnectInd) {
	i.eventCh <- event{kind: eventDisconnect, disconnect: &ind}
}

// SubmitUnitdataInd queues an incoming N-UNITDATA.ind (connectionless, used
// for RESET/RESET ACK).
func (i *Instance) SubmitUnitdataInd(ind sccpsap.NUnitdataInd) {
	i.eventCh <- event{kind: eventUnitdata, unitdata: &ind}
}

// SubmitNoticeInd queues an incoming N-NOTICE.ind.
func (i *Instance) SubmitNoticeInd(ind sccpsap.NNoticeInd) {
	i.eventCh <- event{kind: eventNotice, notice: &ind}
}

// SubmitPCStateInd queues an incoming N-PCSTATE.ind (signalling point status
// change for the peer's point code).
func (i *Instance) SubmitPCStateInd(ind sccpsap.NPCStateInd) {
	i.eventCh <- event{kind: eventPCState, pcstate: &ind}
}

// ResetPeer actively (re-)initiates the RESET handshake towards addr,
// creating the peer if it is not already tracked, mirroring lb_peer_reset's
// active-side usage. Nothing in this module calls it on its own; it is the
// entry point for an administratively triggered reset.
func (i *Instance) ResetPeer(addr sccpsap.Address) {
	i.eventCh <- event{kind: eventResetPeer, resetPeer: &addr}
}

func (i *Instance) handleEvent(ev event) {
	if ev.kind != eventResetPeer {
		i.metrics.IncRxPrimitive(ev.kind)
	}

	switch ev.kind {
	case eventConnect:
		i.handleConnect(*ev.connect)
	case eventData:
		i.handleData(*ev.data)
	case eventDisconnect:
		i.handleDisconnect(*ev.disconnect)
	case eventUnitdata:
		i.handleUnitdata(*ev.unitdata)
	case eventNotice:
		i.handleNotice(*ev.notice)
	case eventPCState:
		i.handlePCState(*ev.pcstate)
	case eventResetPeer:
		i.findOrCreatePeer(*ev.resetPeer).StartHandshake()
	}
}

// handleConnect processes an incoming SCCP connection request (CR), which on
// the Lb interface always carries an initial PERFORM-LOCATION-REQUEST.
// Grounded on lb_peer.c's lb_sap_up_cb MSC_SCCP_OP_BIND handling.
func (i *Instance) handleConnect(ind sccpsap.NConnectInd) {
	peer := i.findOrCreatePeer(ind.Calling)

	// A connection-oriented message before the RESET handshake has completed
	// is a protocol violation: refuse the connection and restart the
	// handshake from this side.
	if peer.State() != PeerStateReady {
		i.logger.Warn("n-connect.ind: peer not ready, rejecting",
			slog.String("peer_addr", ind.Calling.String()),
			slog.Uint64("conn_id", uint64(ind.ConnID)))
		_ = i.provider.DisconnectReq(ind.ConnID, causeUnspecified)
		peer.applyEvent(PeerEventProtocolViolation)
		return
	}

	if _, exists := i.conns[ind.ConnID]; exists {
		i.logger.Warn("n-connect.ind: duplicate conn id, rejecting",
			slog.Uint64("conn_id", uint64(ind.ConnID)))
		_ = i.provider.DisconnectReq(ind.ConnID, causeUnspecified)
		return
	}

	conn := peer.createIncomingConn(ind.ConnID, UseSMLCLocReq)

	i.dispatchBSSAPLE(conn, ind.UserData)
}

// handleData processes data carried on an already-connected SCCP
// association: continued signalling for a pending location request (TA
// Response, PERFORM-LOCATION-ABORT).
func (i *Instance) handleData(ind sccpsap.NDataInd) {
	conn, ok := i.conns[ind.ConnID]
	if !ok {
		i.logger.Warn("n-data.ind: unknown conn id", slog.Uint64("conn_id", uint64(ind.ConnID)))
		return
	}
	i.dispatchBSSAPLE(conn, ind.Data)
}

func (i *Instance) dispatchBSSAPLE(conn *Conn, wire []byte) {
	pdu, err := i.codec.DecodeBSSAPLE(wire)
	if err != nil {
		i.logger.Warn("bssap-le decode failed", slog.String("error", err.Error()))
		return
	}
	if pdu.Discr != bssaple.DiscrBSSMAPLE {
		i.logger.Warn("unexpected bssap-le discriminator on conn", slog.Int("discr", int(pdu.Discr)))
		return
	}

	switch pdu.BSSMAPLE.MsgType {
	case bssaple.MsgTypePerformLocationRequest:
		// The initial PERFORM-LOCATION-REQUEST never carries TA data in
		// this message type; any BSSLAP TA Layer3 IE on the initial SCCP
		// association arrives as a separate CONNECTION-ORIENTED-INFORMATION
		// message, handled below.
		_, err := i.StartLocationRequest(conn, pdu.BSSMAPLE.IMSI, nil, nil)
		if err != nil {
			i.logger.Warn("location request rejected", slog.String("error", err.Error()))
		}

	case bssaple.MsgTypePerformLocationAbort:
		i.RxAbort(conn)

	case bssaple.MsgTypeConnectionOrientedInfo:
		if pdu.BSSMAPLE.BSSLAP == nil {
			return
		}
		switch pdu.BSSMAPLE.BSSLAP.Type {
		case bssaple.BSSLAPTypeTAResp:
			i.RxTAResponse(conn, pdu.BSSMAPLE.BSSLAP.TA, nil)
		case bssaple.BSSLAPTypeTALayer3:
			cellID := pdu.BSSMAPLE.BSSLAP.CellID
			i.RxTAResponse(conn, pdu.BSSMAPLE.BSSLAP.TA, &cellID)
		case bssaple.BSSLAPTypeAbort:
			i.RxBSSLAPAbort(conn)
		case bssaple.BSSLAPTypeReject:
			i.RxBSSLAPReject(conn)
		case bssaple.BSSLAPTypeReset:
			i.RxHandoverReset(conn, pdu.BSSMAPLE.BSSLAP.TA, pdu.BSSMAPLE.BSSLAP.CellID)
		}

	default:
		i.logger.Warn("unhandled bssmap-le message on conn", slog.String("msg_type", pdu.BSSMAPLE.MsgType.String()))
	}
}

// handleDisconnect tears down the conn unconditionally. Grounded on
// lb_conn.c: the SMLC never attempts to keep a conn alive across an SCCP
// disconnect indication regardless of release cause.
func (i *Instance) handleDisconnect(ind sccpsap.NDisconnectInd) {
	conn, ok := i.conns[ind.ConnID]
	if !ok {
		return
	}
	conn.discard()
}

// handleUnitdata processes connectionless BSSAP-LE: RESET and RESET ACK.
func (i *Instance) handleUnitdata(ind sccpsap.NUnitdataInd) {
	peer := i.findOrCreatePeer(ind.Calling)

	pdu, err := i.codec.DecodeBSSAPLE(ind.Data)
	if err != nil {
		i.logger.Warn("bssap-le decode failed", slog.String("error", err.Error()))
		return
	}
	if pdu.Discr != bssaple.DiscrBSSMAPLE {
		return
	}

	switch pdu.BSSMAPLE.MsgType {
	case bssaple.MsgTypeReset:
		peer.applyEvent(PeerEventRxReset)
	case bssaple.MsgTypeResetAck:
		peer.applyEvent(PeerEventRxResetAck)
	default:
		i.logger.Warn("unhandled connectionless bssmap-le message", slog.String("msg_type", pdu.BSSMAPLE.MsgType.String()))
	}
}

// handleNotice logs a transport-layer delivery failure notification and, for
// a fatal cause, tears the affected peer down (DISCARDING: its conns are
// discarded and it is removed; the next message from that address creates a
// fresh peer in WAIT_RX_RESET).
// Grounded on sccp_lb_inst.c's handle_notice_ind peer-retention logic: a
// transient cause is purely informational, a fatal one cannot be trusted to
// resolve itself.
func (i *Instance) handleNotice(ind sccpsap.NNoticeInd) {
	i.logger.Warn("n-notice.ind", slog.String("peer_addr", ind.Called.String()), slog.Int("cause", int(ind.Cause)))
	if ind.Cause != sccpsap.NoticeCauseFatal {
		return
	}
	if peer, ok := i.peers[ind.Called.String()]; ok {
		peer.applyEvent(PeerEventDisconnect)
	}
}

// handlePCState reacts to the remote point code's availability changing.
// Grounded on lb_peer.c's handling of MTP/SCCP route availability: losing the
// point code tears down every peer at that point code (DISCARDING, then
// removed), since any existing READY state can no longer be trusted; a later
// message from such an address starts over with a fresh peer.
func (i *Instance) handlePCState(ind sccpsap.NPCStateInd) {
	if ind.Status == sccpsap.ConnStatusConnected {
		return
	}
	for _, peer := range i.peers {
		if peer.Addr.PointCode == ind.AffectedPC {
			peer.applyEvent(PeerEventDisconnect)
		}
	}
}
