package lb

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/osmocom-go/smlcd/internal/bssaple"
	"github.com/osmocom-go/smlcd/internal/cellloc"
	"github.com/osmocom-go/smlcd/internal/subscr"
)

// ErrRequestPending indicates a location request is already running on this
// connection (smlc_loc_req_start's EAGAIN case).
var ErrRequestPending = errors.New("lb: location request already pending on this connection")

// LocationRequest drives a single PERFORM-LOCATION-REQUEST/RESPONSE exchange
// for one subscriber, using the TA-exchange FSM in locreqfsm.go. Grounded on
// smlc_loc_req.c's struct smlc_loc_req.
type LocationRequest struct {
	conn *Conn

	state LocReqState

	latestCellID   cellloc.CellIdentifier
	haveLatestCell bool
	inlineTA       uint8
	haveInlineTA   bool

	// lcsCause is the LCS cause sent on a FAILED transition via
	// LocReqActionSendFailure; set by whichever Rx* method is about to
	// trigger one, so that distinct failure causes (timeout/peer-reset vs.
	// BSSLAP abort/reject) reach the same action.
	lcsCause bssaple.Cause

	logger *slog.Logger
}

func (c *Conn) timerID() timerID {
	return timerID{kind: "locreq", key: fmt.Sprintf("%s/%d", c.peer.Addr.String(), c.ConnID)}
}

// StartLocationRequest begins a location request for imsi on conn.
// Grounded on smlc_loc_req_start: rejects a conn that already has a pending
// request, and reassigns the subscriber away from any other connection that
// was still holding it (the newer request wins; the older connection is
// closed).
func (i *Instance) StartLocationRequest(conn *Conn, imsi string, inlineTA *uint8, inlineCellID *cellloc.CellIdentifier) (*LocationRequest, error) {
	if conn.locReq != nil {
		return nil, ErrRequestPending
	}

	subscriber := i.subscribers.FindOrCreate(imsi, subscr.UseLbConn)
	i.metrics.SetSubscribersTotal(i.subscribers.Count())
	if otherConn, ok := i.connForSubscriber(subscriber); ok && otherConn != conn {
		otherConn.close()
	}
	conn.BindSubscriber(subscriber)

	lr := &LocationRequest{
		conn:     conn,
		state:    LocReqStateInit,
		lcsCause: bssaple.CauseSystemFailure,
		logger:   conn.logger.With(slog.String("imsi", imsi)),
	}
	conn.locReq = lr
	conn.Get(UseSMLCLocReq)

	if inlineTA != nil {
		lr.inlineTA = *inlineTA
		lr.haveInlineTA = true
	}
	if inlineCellID != nil {
		lr.latestCellID = *inlineCellID
		lr.haveLatestCell = true
	}

	lr.apply(i, LocReqEventStart)
	return lr, nil
}

// connForSubscriber finds the connection currently bound to subscriber, if
// any. Grounded on lb_conn_find_by_smlc_subscr's linear scan.
func (i *Instance) connForSubscriber(s *subscr.Subscriber) (*Conn, bool) {
	for _, c := range i.conns {
		if c.subscriber == s {
			return c, true
		}
	}
	return nil, false
}

// RxTAResponse delivers a BSSLAP TA Response for this request's connection.
// newCI is set only when the response carries a refreshed cell identity (the
// plain TA Response APDU does not; an TA Layer3 APDU mid-connection does).
func (i *Instance) RxTAResponse(conn *Conn, ta uint8, newCI *cellloc.CellIdentifier) {
	lr := conn.locReq
	if lr == nil {
		return
	}
	lr.applyTAAndCellID(ta, newCI)
	lr.apply(i, LocReqEventTAResponse)
}

// RxHandoverReset delivers a BSSLAP RESET (handover) for this request's
// connection: it carries a freshly measured TA against a new cell and
// completes the request the same way a TA Response does.
func (i *Instance) RxHandoverReset(conn *Conn, ta uint8, newCI cellloc.CellIdentifier) {
	lr := conn.locReq
	if lr == nil {
		return
	}
	lr.applyTAAndCellID(ta, &newCI)
	lr.apply(i, LocReqEventBSSLAPReset)
}

// applyTAAndCellID records a freshly reported TA and, if newCI is non-nil,
// refreshes the latest cell identifier. LAC/MCC/MNC still come from the cell
// id known when the request started; only CI is refreshed. Grounded on
// smlc_loc_req.c's update_ci.
func (lr *LocationRequest) applyTAAndCellID(ta uint8, newCI *cellloc.CellIdentifier) {
	lr.inlineTA = ta
	lr.haveInlineTA = true

	if newCI != nil {
		base := lr.latestCellID
		if !lr.haveLatestCell && lr.conn.subscriber != nil {
			base = lr.conn.subscriber.LatestCellID
		}
		lr.latestCellID = cellloc.OverlayCI(base, newCI.CI)
		lr.haveLatestCell = true
	}
}

// RxAbort delivers a BSSMAP-LE PERFORM-LOCATION-ABORT for this request's
// connection. The request terminates silently: no response PDU is sent.
func (i *Instance) RxAbort(conn *Conn) {
	if conn.locReq == nil {
		return
	}
	conn.locReq.apply(i, LocReqEventAbort)
}

// RxBSSLAPAbort delivers a BSSLAP ABORT for this request's connection.
// Unlike RxAbort, this fails the request with a REQUEST_ABORTED
// PERFORM-LOCATION-RESPONSE rather than terminating silently.
func (i *Instance) RxBSSLAPAbort(conn *Conn) {
	lr := conn.locReq
	if lr == nil {
		return
	}
	lr.lcsCause = bssaple.CauseRequestAborted
	lr.apply(i, LocReqEventBSSLAPAbort)
}

// RxBSSLAPReject delivers a BSSLAP REJECT for this request's connection,
// failing it with a REQUEST_ABORTED PERFORM-LOCATION-RESPONSE.
func (i *Instance) RxBSSLAPReject(conn *Conn) {
	lr := conn.locReq
	if lr == nil {
		return
	}
	lr.lcsCause = bssaple.CauseRequestAborted
	lr.apply(i, LocReqEventBSSLAPReject)
}

// terminate drives the FSM to FAILED via a RESET event, used when the owning
// conn/peer is torn down while a request is still outstanding.
func (lr *LocationRequest) terminate(ev LocReqEvent) {
	// No Instance reference is needed for a pure state-only termination:
	// actions that need I/O (SendFailure) are skipped because the
	// connection is already going away.
	res := ApplyLocReqEvent(lr.state, ev)
	lr.state = res.NewState
}

func (lr *LocationRequest) apply(i *Instance, ev LocReqEvent) {
	res := ApplyLocReqEvent(lr.state, ev)
	lr.state = res.NewState

	for _, a := range res.Actions {
		lr.execute(i, a)
	}

	if res.NewState.Terminal() {
		i.metrics.IncLocationRequests(locReqResultLabel(res.NewState))
		i.cancelTimer(lr.conn.timerID())
		lr.conn.locReq = nil
		if _, err := lr.conn.Put(UseSMLCLocReq); err != nil {
			lr.logger.Error("conn use count went negative", slog.String("error", err.Error()))
		}
	}
}

func locReqResultLabel(s LocReqState) string {
	switch s {
	case LocReqStateGotTA:
		return "success"
	case LocReqStateAborted:
		return "aborted"
	default:
		return "failure"
	}
}

func (lr *LocationRequest) execute(i *Instance, a LocReqAction) {
	switch a {
	case LocReqActionSendTARequest:
		lr.sendBSSMAPLE(i, bssaple.BSSMAPLE{
			MsgType: bssaple.MsgTypeConnectionOrientedInfo,
			BSSLAP:  &bssaple.BSSLAP{Type: bssaple.BSSLAPTypeTAReq},
		})
		if lr.haveInlineTA {
			lr.apply(i, LocReqEventTALayer3Inline)
		}

	case LocReqActionStartTimer:
		// Guard against scheduling a stale WAIT_TA timer for a request that
		// the inline TA Layer3 recursion above has already resolved.
		if lr.state == LocReqStateWaitTA {
			i.scheduleTimer(lr.conn.timerID(), i.cfg.WaitTATimeout, func() { lr.apply(i, LocReqEventTimeout) })
		}

	case LocReqActionUpdateCellID:
		if lr.conn.subscriber != nil && lr.haveLatestCell {
			lr.conn.subscriber.LatestCellID = lr.latestCellID
		}

	case LocReqActionComposeAndSendSuccess:
		loc, err := i.resolveLocation(lr)
		if err != nil {
			// No configured cell matches the request's cell identifier.
			lr.sendBSSMAPLE(i, bssaple.BSSMAPLE{
				MsgType:       bssaple.MsgTypePerformLocationResponse,
				ResponseCause: bssaple.CauseFacilityNotSupp,
			})
			return
		}
		lr.sendBSSMAPLE(i, bssaple.BSSMAPLE{
			MsgType:  bssaple.MsgTypePerformLocationResponse,
			Location: &loc,
		})

	case LocReqActionSendFailure:
		lr.sendBSSMAPLE(i, bssaple.BSSMAPLE{
			MsgType:       bssaple.MsgTypePerformLocationResponse,
			ResponseCause: lr.lcsCause,
		})
	}
}

func (lr *LocationRequest) sendBSSMAPLE(i *Instance, body bssaple.BSSMAPLE) {
	wire, err := i.codec.EncodeBSSAPLE(bssaple.PDU{Discr: bssaple.DiscrBSSMAPLE, BSSMAPLE: body})
	if err != nil {
		lr.logger.Error("encode failed", slog.String("error", err.Error()))
		return
	}
	if err := i.provider.DataReq(lr.conn.ConnID, wire); err != nil {
		lr.logger.Error("data.req failed", slog.String("error", err.Error()))
		return
	}
	i.metrics.IncTxPrimitive(body.MsgType.String())
}

// resolveLocation produces a location estimate for the request: the table
// entry for the best known cell id, with its uncertainty replaced by the
// TA-derived radius when a TA is available, or unchanged otherwise.
func (i *Instance) resolveLocation(lr *LocationRequest) (cellloc.Location, error) {
	cellID := lr.latestCellID
	if !lr.haveLatestCell && lr.conn.subscriber != nil {
		cellID = lr.conn.subscriber.LatestCellID
	}

	base, err := i.cells.Find(cellID)
	if err != nil {
		return cellloc.Location{}, err
	}

	if lr.haveInlineTA {
		base.UncertaintyMeters = cellloc.TAToMeters(lr.inlineTA)
	}
	return base, nil
}
