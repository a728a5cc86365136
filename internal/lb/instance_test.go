package lb_test

import (
	"context"
	"log/slog"
	"testing"
	"testing/synctest"
	"time"

	"github.com/osmocom-go/smlcd/internal/bssaple"
	"github.com/osmocom-go/smlcd/internal/cellloc"
	"github.com/osmocom-go/smlcd/internal/lb"
	"github.com/osmocom-go/smlcd/internal/sccpsap"
	"github.com/osmocom-go/smlcd/internal/sccpsap/sccpsaptest"
	"github.com/osmocom-go/smlcd/internal/subscr"
)

// -------------------------------------------------------------------------
// Test Helpers
// -------------------------------------------------------------------------

var (
	testLocalAddr = sccpsap.Address{PointCode: 1, SSN: 0x31}
	testPeerAddr  = sccpsap.Address{PointCode: 2, SSN: 0x63}
)

func newTestInstance(t *testing.T, fake *sccpsaptest.Fake, cells *cellloc.Table) *lb.Instance {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	return lb.NewInstance(
		testLocalAddr,
		fake,
		bssaple.DefaultCodec{},
		cells,
		subscr.NewRegistry(logger),
		logger,
		lb.WithConfig(lb.Config{
			ResetTimeout:    time.Second,
			ResetAckTimeout: time.Second,
			WaitTATimeout:   time.Second,
		}),
	)
}

func findCall(calls []sccpsaptest.Call, op string) (sccpsaptest.Call, bool) {
	for _, c := range calls {
		if c.Op == op {
			return c, true
		}
	}
	return sccpsaptest.Call{}, false
}

func decodeBSSMAPLE(t *testing.T, wire []byte) bssaple.PDU {
	t.Helper()
	pdu, err := (bssaple.DefaultCodec{}).DecodeBSSAPLE(wire)
	if err != nil {
		t.Fatalf("decode wire: %v", err)
	}
	return pdu
}

func encodeCO(t *testing.T, b bssaple.BSSLAP) []byte {
	t.Helper()
	wire, err := (bssaple.DefaultCodec{}).EncodeBSSAPLE(bssaple.PDU{
		Discr:    bssaple.DiscrBSSMAPLE,
		BSSMAPLE: bssaple.BSSMAPLE{MsgType: bssaple.MsgTypeConnectionOrientedInfo, BSSLAP: &b},
	})
	if err != nil {
		t.Fatalf("encode CO: %v", err)
	}
	return wire
}

// -------------------------------------------------------------------------
// TestInstanceRespondsToPeerInitiatedReset
// -------------------------------------------------------------------------

// TestInstanceRespondsToPeerInitiatedReset verifies that an unsolicited
// RESET from a peer drives the peer straight to READY with a RESET ACK
// reply (peerFSMTable's WAIT_RX_RESET -rx RESET-> READY transition).
func TestInstanceRespondsToPeerInitiatedReset(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		fake := sccpsaptest.New()
		inst := newTestInstance(t, fake, cellloc.NewTable())

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go inst.Run(ctx)

		resetWire, err := (bssaple.DefaultCodec{}).EncodeBSSAPLE(bssaple.PDU{
			Discr:    bssaple.DiscrBSSMAPLE,
			BSSMAPLE: bssaple.BSSMAPLE{MsgType: bssaple.MsgTypeReset, Cause: bssaple.CauseEquipmentFailure},
		})
		if err != nil {
			t.Fatalf("encode RESET: %v", err)
		}
		inst.SubmitUnitdataInd(sccpsap.NUnitdataInd{Calling: testPeerAddr, Called: testLocalAddr, Data: resetWire})

		time.Sleep(10 * time.Millisecond)

		peers := inst.Peers()
		if len(peers) != 1 {
			t.Fatalf("peers = %d, want 1", len(peers))
		}
		if peers[0].State != lb.PeerStateReady {
			t.Fatalf("peer state = %v, want READY", peers[0].State)
		}

		call, ok := findCall(fake.Calls(), "unitdata")
		if !ok {
			t.Fatal("no unitdata.req sent")
		}
		pdu := decodeBSSMAPLE(t, call.Data)
		if pdu.MsgType != bssaple.MsgTypeResetAck {
			t.Fatalf("sent msg type = %v, want RESET-ACK", pdu.MsgType)
		}
	})
}

// -------------------------------------------------------------------------
// TestInstanceResetAckTimeoutRetransmits
// -------------------------------------------------------------------------

// TestInstanceResetAckTimeoutRetransmits verifies that when the SMLC's own
// RESET goes unanswered for T-14, the peer reverts to WAIT_RX_RESET
// (peerFSMTable's WAIT_RX_RESET_ACK -timeout-> WAIT_RX_RESET), and the T-13
// armed there then retransmits RESET.
func TestInstanceResetAckTimeoutRetransmits(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		fake := sccpsaptest.New()
		inst := newTestInstance(t, fake, cellloc.NewTable())

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go inst.Run(ctx)

		// Actively initiate the handshake (the administrative path used for
		// a configured peer at startup), which sends RESET and arms T-14.
		inst.ResetPeer(testPeerAddr)
		time.Sleep(10 * time.Millisecond)

		if peers := inst.Peers(); len(peers) != 1 || peers[0].State != lb.PeerStateWaitRxResetAck {
			t.Fatalf("precondition failed: peer not in WAIT_RX_RESET_ACK")
		}

		// No RESET ACK ever arrives: T-14 fires at t=1s (reverting to
		// WAIT_RX_RESET, no resend), then the freshly armed T-13 fires at
		// t=2s and resends RESET.
		time.Sleep(2510 * time.Millisecond)

		if peers := inst.Peers(); len(peers) != 1 || peers[0].State != lb.PeerStateWaitRxReset {
			t.Fatalf("peer state after T-14 = %v, want WAIT_RX_RESET", inst.Peers())
		}

		calls := fake.Calls()
		resetCount := 0
		for _, c := range calls {
			if c.Op != "unitdata" {
				continue
			}
			pdu := decodeBSSMAPLE(t, c.Data)
			if pdu.MsgType == bssaple.MsgTypeReset {
				resetCount++
			}
		}
		if resetCount < 2 {
			t.Fatalf("expected at least 2 RESETs sent (initial + T-13 retransmit), got %d", resetCount)
		}
	})
}

// -------------------------------------------------------------------------
// TestInstanceLocationRequestCellOnly
// -------------------------------------------------------------------------

// TestInstanceLocationRequestCellOnly drives a full PERFORM-LOCATION-REQUEST
// with no TA data through an incoming SCCP connect, then a BSSLAP TA
// Response, and checks a successful PERFORM-LOCATION-RESPONSE is sent with
// the configured cell's location.
func TestInstanceLocationRequestCellOnly(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		fake := sccpsaptest.New()
		cells := cellloc.NewTable()
		cellID := cellloc.CellIdentifier{Discr: cellloc.DiscrLACCI, LAC: 23, CI: 1024}
		if err := cells.Set(cellID, cellloc.Location{Latitude: 48.858, Longitude: 2.294}); err != nil {
			t.Fatalf("Set: %v", err)
		}

		inst := newTestInstance(t, fake, cells)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go inst.Run(ctx)

		// Bring the peer to READY first.
		resetWire, _ := (bssaple.DefaultCodec{}).EncodeBSSAPLE(bssaple.PDU{
			Discr:    bssaple.DiscrBSSMAPLE,
			BSSMAPLE: bssaple.BSSMAPLE{MsgType: bssaple.MsgTypeReset},
		})
		inst.SubmitUnitdataInd(sccpsap.NUnitdataInd{Calling: testPeerAddr, Called: testLocalAddr, Data: resetWire})
		time.Sleep(10 * time.Millisecond)

		plrWire, err := (bssaple.DefaultCodec{}).EncodeBSSAPLE(bssaple.PDU{
			Discr:    bssaple.DiscrBSSMAPLE,
			BSSMAPLE: bssaple.BSSMAPLE{MsgType: bssaple.MsgTypePerformLocationRequest, IMSI: "001010000000001"},
		})
		if err != nil {
			t.Fatalf("encode PLR: %v", err)
		}
		inst.SubmitConnectInd(sccpsap.NConnectInd{ConnID: 42, Calling: testPeerAddr, Called: testLocalAddr, UserData: plrWire})
		time.Sleep(10 * time.Millisecond)

		taRespWire := encodeCO(t, bssaple.BSSLAP{Type: bssaple.BSSLAPTypeTAResp, TA: 10})
		inst.SubmitDataInd(sccpsap.NDataInd{ConnID: 42, Data: taRespWire})
		time.Sleep(10 * time.Millisecond)

		var plResponse *bssaple.PDU
		for _, c := range fake.Calls() {
			if c.Op != "data" {
				continue
			}
			pdu := decodeBSSMAPLE(t, c.Data)
			if pdu.MsgType == bssaple.MsgTypePerformLocationResponse {
				plResponse = &pdu
			}
		}
		if plResponse == nil {
			t.Fatal("no PERFORM-LOCATION-RESPONSE sent")
		}
		if plResponse.ResponseCause != bssaple.CauseUnspecified {
			t.Fatalf("response cause = %v, want success", plResponse.ResponseCause)
		}
	})
}

// -------------------------------------------------------------------------
// TestInstanceLocationRequestAbortIsSilent
// -------------------------------------------------------------------------

// TestInstanceLocationRequestAbortIsSilent verifies that a
// PERFORM-LOCATION-ABORT terminates the request without any
// PERFORM-LOCATION-RESPONSE being sent (locReqFSMTable's WAIT_TA -abort->
// ABORTED has no actions).
func TestInstanceLocationRequestAbortIsSilent(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		fake := sccpsaptest.New()
		inst := newTestInstance(t, fake, cellloc.NewTable())

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go inst.Run(ctx)

		resetWire, _ := (bssaple.DefaultCodec{}).EncodeBSSAPLE(bssaple.PDU{
			Discr:    bssaple.DiscrBSSMAPLE,
			BSSMAPLE: bssaple.BSSMAPLE{MsgType: bssaple.MsgTypeReset},
		})
		inst.SubmitUnitdataInd(sccpsap.NUnitdataInd{Calling: testPeerAddr, Called: testLocalAddr, Data: resetWire})
		time.Sleep(10 * time.Millisecond)

		plrWire, _ := (bssaple.DefaultCodec{}).EncodeBSSAPLE(bssaple.PDU{
			Discr:    bssaple.DiscrBSSMAPLE,
			BSSMAPLE: bssaple.BSSMAPLE{MsgType: bssaple.MsgTypePerformLocationRequest, IMSI: "001010000000002"},
		})
		inst.SubmitConnectInd(sccpsap.NConnectInd{ConnID: 99, Calling: testPeerAddr, Called: testLocalAddr, UserData: plrWire})
		time.Sleep(10 * time.Millisecond)

		fake.Reset()

		abortWire, err := (bssaple.DefaultCodec{}).EncodeBSSAPLE(bssaple.PDU{
			Discr:    bssaple.DiscrBSSMAPLE,
			BSSMAPLE: bssaple.BSSMAPLE{MsgType: bssaple.MsgTypePerformLocationAbort, AbortCause: bssaple.CauseRequestAborted},
		})
		if err != nil {
			t.Fatalf("encode abort: %v", err)
		}
		inst.SubmitDataInd(sccpsap.NDataInd{ConnID: 99, Data: abortWire})
		time.Sleep(10 * time.Millisecond)

		for _, c := range fake.Calls() {
			if c.Op != "data" {
				continue
			}
			pdu := decodeBSSMAPLE(t, c.Data)
			if pdu.MsgType == bssaple.MsgTypePerformLocationResponse {
				t.Fatal("PERFORM-LOCATION-RESPONSE sent after abort, want none")
			}
		}
	})
}

// -------------------------------------------------------------------------
// TestInstanceWaitTATimeoutSendsFailure
// -------------------------------------------------------------------------

// TestInstanceWaitTATimeoutSendsFailure verifies that a location request
// left without a BSSLAP TA Response for T-12 fails with a
// PERFORM-LOCATION-RESPONSE carrying a system failure cause
// (locReqFSMTable's WAIT_TA -timeout-> FAILED).
func TestInstanceWaitTATimeoutSendsFailure(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		fake := sccpsaptest.New()
		inst := newTestInstance(t, fake, cellloc.NewTable())

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go inst.Run(ctx)

		resetWire, _ := (bssaple.DefaultCodec{}).EncodeBSSAPLE(bssaple.PDU{
			Discr:    bssaple.DiscrBSSMAPLE,
			BSSMAPLE: bssaple.BSSMAPLE{MsgType: bssaple.MsgTypeReset},
		})
		inst.SubmitUnitdataInd(sccpsap.NUnitdataInd{Calling: testPeerAddr, Called: testLocalAddr, Data: resetWire})
		time.Sleep(10 * time.Millisecond)

		plrWire, _ := (bssaple.DefaultCodec{}).EncodeBSSAPLE(bssaple.PDU{
			Discr:    bssaple.DiscrBSSMAPLE,
			BSSMAPLE: bssaple.BSSMAPLE{MsgType: bssaple.MsgTypePerformLocationRequest, IMSI: "001010000000003"},
		})
		inst.SubmitConnectInd(sccpsap.NConnectInd{ConnID: 5, Calling: testPeerAddr, Called: testLocalAddr, UserData: plrWire})
		time.Sleep(10 * time.Millisecond)

		fake.Reset()

		time.Sleep(2010 * time.Millisecond)

		var plResponse *bssaple.PDU
		for _, c := range fake.Calls() {
			if c.Op != "data" {
				continue
			}
			pdu := decodeBSSMAPLE(t, c.Data)
			if pdu.MsgType == bssaple.MsgTypePerformLocationResponse {
				plResponse = &pdu
			}
		}
		if plResponse == nil {
			t.Fatal("no PERFORM-LOCATION-RESPONSE sent after WAIT_TA timeout")
		}
		if plResponse.ResponseCause != bssaple.CauseSystemFailure {
			t.Fatalf("response cause = %v, want system failure", plResponse.ResponseCause)
		}
	})
}

// -------------------------------------------------------------------------
// TestInstanceDisconnectDiscardsConnWithoutSCCPRelease
// -------------------------------------------------------------------------

// TestInstanceDisconnectDiscardsConnWithoutSCCPRelease verifies that an
// incoming N-DISCONNECT.ind tears down the conn without the SMLC itself
// issuing a further disconnect.req (lb_conn.c's lb_conn_discard is used on
// the receive path, not lb_conn_close).
func TestInstanceDisconnectDiscardsConnWithoutSCCPRelease(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		fake := sccpsaptest.New()
		inst := newTestInstance(t, fake, cellloc.NewTable())

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go inst.Run(ctx)

		resetWire, _ := (bssaple.DefaultCodec{}).EncodeBSSAPLE(bssaple.PDU{
			Discr:    bssaple.DiscrBSSMAPLE,
			BSSMAPLE: bssaple.BSSMAPLE{MsgType: bssaple.MsgTypeReset},
		})
		inst.SubmitUnitdataInd(sccpsap.NUnitdataInd{Calling: testPeerAddr, Called: testLocalAddr, Data: resetWire})
		time.Sleep(10 * time.Millisecond)

		plrWire, _ := (bssaple.DefaultCodec{}).EncodeBSSAPLE(bssaple.PDU{
			Discr:    bssaple.DiscrBSSMAPLE,
			BSSMAPLE: bssaple.BSSMAPLE{MsgType: bssaple.MsgTypePerformLocationRequest, IMSI: "001010000000004"},
		})
		inst.SubmitConnectInd(sccpsap.NConnectInd{ConnID: 11, Calling: testPeerAddr, Called: testLocalAddr, UserData: plrWire})
		time.Sleep(10 * time.Millisecond)

		fake.Reset()

		inst.SubmitDisconnectInd(sccpsap.NDisconnectInd{ConnID: 11, Cause: 0})
		time.Sleep(10 * time.Millisecond)

		if _, ok := findCall(fake.Calls(), "disconnect"); ok {
			t.Fatal("unexpected disconnect.req after an already-received N-DISCONNECT.ind")
		}
	})
}

// -------------------------------------------------------------------------
// TestInstancePCStateLossResetsPeer
// -------------------------------------------------------------------------

// TestInstancePCStateLossResetsPeer verifies that losing the remote point
// code tears down every peer at that point code, removing it.
func TestInstancePCStateLossResetsPeer(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		fake := sccpsaptest.New()
		inst := newTestInstance(t, fake, cellloc.NewTable())

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go inst.Run(ctx)

		resetWire, _ := (bssaple.DefaultCodec{}).EncodeBSSAPLE(bssaple.PDU{
			Discr:    bssaple.DiscrBSSMAPLE,
			BSSMAPLE: bssaple.BSSMAPLE{MsgType: bssaple.MsgTypeReset},
		})
		inst.SubmitUnitdataInd(sccpsap.NUnitdataInd{Calling: testPeerAddr, Called: testLocalAddr, Data: resetWire})
		time.Sleep(10 * time.Millisecond)

		if peers := inst.Peers(); len(peers) != 1 || peers[0].State != lb.PeerStateReady {
			t.Fatalf("precondition failed: peer not READY")
		}

		inst.SubmitPCStateInd(sccpsap.NPCStateInd{AffectedPC: testPeerAddr.PointCode, Status: sccpsap.ConnStatusDisconnected})
		time.Sleep(10 * time.Millisecond)

		peers := inst.Peers()
		if len(peers) != 0 {
			t.Fatalf("peers = %d, want 0 (peer discarded and will be recreated on next contact)", len(peers))
		}
	})
}

// -------------------------------------------------------------------------
// TestInstanceWaitTAEntrySendsBSSLAPTARequest
// -------------------------------------------------------------------------

// TestInstanceWaitTAEntrySendsBSSLAPTARequest verifies that entering WAIT_TA
// sends a CONNECTION-ORIENTED-INFORMATION carrying a BSSLAP TA_REQUEST, never
// a PERFORM-LOCATION-REQUEST (the SMLC only ever consumes that message type).
func TestInstanceWaitTAEntrySendsBSSLAPTARequest(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		fake := sccpsaptest.New()
		inst := newTestInstance(t, fake, cellloc.NewTable())

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go inst.Run(ctx)

		resetWire, _ := (bssaple.DefaultCodec{}).EncodeBSSAPLE(bssaple.PDU{
			Discr:    bssaple.DiscrBSSMAPLE,
			BSSMAPLE: bssaple.BSSMAPLE{MsgType: bssaple.MsgTypeReset},
		})
		inst.SubmitUnitdataInd(sccpsap.NUnitdataInd{Calling: testPeerAddr, Called: testLocalAddr, Data: resetWire})
		time.Sleep(10 * time.Millisecond)

		plrWire, _ := (bssaple.DefaultCodec{}).EncodeBSSAPLE(bssaple.PDU{
			Discr:    bssaple.DiscrBSSMAPLE,
			BSSMAPLE: bssaple.BSSMAPLE{MsgType: bssaple.MsgTypePerformLocationRequest, IMSI: "001010000000010"},
		})
		inst.SubmitConnectInd(sccpsap.NConnectInd{ConnID: 50, Calling: testPeerAddr, Called: testLocalAddr, UserData: plrWire})
		time.Sleep(10 * time.Millisecond)

		var taReq *bssaple.PDU
		for _, c := range fake.Calls() {
			if c.Op != "data" {
				continue
			}
			pdu := decodeBSSMAPLE(t, c.Data)
			if pdu.MsgType == bssaple.MsgTypePerformLocationRequest {
				t.Fatal("SMLC must never send PERFORM-LOCATION-REQUEST")
			}
			if pdu.MsgType == bssaple.MsgTypeConnectionOrientedInfo {
				taReq = &pdu
			}
		}
		if taReq == nil || taReq.BSSLAP == nil || taReq.BSSLAP.Type != bssaple.BSSLAPTypeTAReq {
			t.Fatal("no CONNECTION-ORIENTED-INFORMATION/TA_REQUEST sent on WAIT_TA entry")
		}
	})
}

// -------------------------------------------------------------------------
// TestInstanceLocationRequestUnknownCellFails
// -------------------------------------------------------------------------

// TestInstanceLocationRequestUnknownCellFails verifies that a TA Response
// against a cell id with no configured location fails the request with
// FACILITY_NOTSUPP rather than a generic system failure.
func TestInstanceLocationRequestUnknownCellFails(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		fake := sccpsaptest.New()
		inst := newTestInstance(t, fake, cellloc.NewTable())

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go inst.Run(ctx)

		resetWire, _ := (bssaple.DefaultCodec{}).EncodeBSSAPLE(bssaple.PDU{
			Discr:    bssaple.DiscrBSSMAPLE,
			BSSMAPLE: bssaple.BSSMAPLE{MsgType: bssaple.MsgTypeReset},
		})
		inst.SubmitUnitdataInd(sccpsap.NUnitdataInd{Calling: testPeerAddr, Called: testLocalAddr, Data: resetWire})
		time.Sleep(10 * time.Millisecond)

		plrWire, _ := (bssaple.DefaultCodec{}).EncodeBSSAPLE(bssaple.PDU{
			Discr:    bssaple.DiscrBSSMAPLE,
			BSSMAPLE: bssaple.BSSMAPLE{MsgType: bssaple.MsgTypePerformLocationRequest, IMSI: "001010000000011"},
		})
		inst.SubmitConnectInd(sccpsap.NConnectInd{ConnID: 51, Calling: testPeerAddr, Called: testLocalAddr, UserData: plrWire})
		time.Sleep(10 * time.Millisecond)

		fake.Reset()

		taRespWire := encodeCO(t, bssaple.BSSLAP{
			Type:   bssaple.BSSLAPTypeTALayer3,
			TA:     10,
			CellID: cellloc.CellIdentifier{Discr: cellloc.DiscrLACCI, LAC: 999, CI: 999},
		})
		inst.SubmitDataInd(sccpsap.NDataInd{ConnID: 51, Data: taRespWire})
		time.Sleep(10 * time.Millisecond)

		var plResponse *bssaple.PDU
		for _, c := range fake.Calls() {
			if c.Op != "data" {
				continue
			}
			pdu := decodeBSSMAPLE(t, c.Data)
			if pdu.MsgType == bssaple.MsgTypePerformLocationResponse {
				plResponse = &pdu
			}
		}
		if plResponse == nil {
			t.Fatal("no PERFORM-LOCATION-RESPONSE sent for unknown cell")
		}
		if plResponse.ResponseCause != bssaple.CauseFacilityNotSupp {
			t.Fatalf("response cause = %v, want FACILITY_NOTSUPP", plResponse.ResponseCause)
		}
	})
}

// -------------------------------------------------------------------------
// TestInstanceBSSLAPAbortAndRejectFailWithRequestAborted
// -------------------------------------------------------------------------

// TestInstanceBSSLAPAbortAndRejectFailWithRequestAborted verifies that,
// unlike a BSSMAP-LE PERFORM-LOCATION-ABORT, a BSSLAP ABORT or REJECT APDU
// fails the request with a REQUEST_ABORTED PERFORM-LOCATION-RESPONSE.
func TestInstanceBSSLAPAbortAndRejectFailWithRequestAborted(t *testing.T) {
	for _, tc := range []struct {
		name string
		typ  bssaple.BSSLAPType
	}{
		{"Abort", bssaple.BSSLAPTypeAbort},
		{"Reject", bssaple.BSSLAPTypeReject},
	} {
		t.Run(tc.name, func(t *testing.T) {
			synctest.Test(t, func(t *testing.T) {
				fake := sccpsaptest.New()
				inst := newTestInstance(t, fake, cellloc.NewTable())

				ctx, cancel := context.WithCancel(context.Background())
				defer cancel()
				go inst.Run(ctx)

				resetWire, _ := (bssaple.DefaultCodec{}).EncodeBSSAPLE(bssaple.PDU{
					Discr:    bssaple.DiscrBSSMAPLE,
					BSSMAPLE: bssaple.BSSMAPLE{MsgType: bssaple.MsgTypeReset},
				})
				inst.SubmitUnitdataInd(sccpsap.NUnitdataInd{Calling: testPeerAddr, Called: testLocalAddr, Data: resetWire})
				time.Sleep(10 * time.Millisecond)

				plrWire, _ := (bssaple.DefaultCodec{}).EncodeBSSAPLE(bssaple.PDU{
					Discr:    bssaple.DiscrBSSMAPLE,
					BSSMAPLE: bssaple.BSSMAPLE{MsgType: bssaple.MsgTypePerformLocationRequest, IMSI: "001010000000012"},
				})
				inst.SubmitConnectInd(sccpsap.NConnectInd{ConnID: 52, Calling: testPeerAddr, Called: testLocalAddr, UserData: plrWire})
				time.Sleep(10 * time.Millisecond)

				fake.Reset()

				wire := encodeCO(t, bssaple.BSSLAP{Type: tc.typ})
				inst.SubmitDataInd(sccpsap.NDataInd{ConnID: 52, Data: wire})
				time.Sleep(10 * time.Millisecond)

				var plResponse *bssaple.PDU
				for _, c := range fake.Calls() {
					if c.Op != "data" {
						continue
					}
					pdu := decodeBSSMAPLE(t, c.Data)
					if pdu.MsgType == bssaple.MsgTypePerformLocationResponse {
						plResponse = &pdu
					}
				}
				if plResponse == nil {
					t.Fatalf("no PERFORM-LOCATION-RESPONSE sent after BSSLAP %s", tc.name)
				}
				if plResponse.ResponseCause != bssaple.CauseRequestAborted {
					t.Fatalf("response cause = %v, want REQUEST_ABORTED", plResponse.ResponseCause)
				}
			})
		})
	}
}

// -------------------------------------------------------------------------
// TestInstanceBSSLAPResetCompletesLikeTAResponse
// -------------------------------------------------------------------------

// TestInstanceBSSLAPResetCompletesLikeTAResponse verifies that a BSSLAP
// RESET (handover) APDU applies the same TA+cell update as a TA Response and
// completes the request successfully.
func TestInstanceBSSLAPResetCompletesLikeTAResponse(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		fake := sccpsaptest.New()
		cells := cellloc.NewTable()
		cellID := cellloc.CellIdentifier{Discr: cellloc.DiscrLACCI, LAC: 23, CI: 2048}
		if err := cells.Set(cellID, cellloc.Location{Latitude: 51.5, Longitude: -0.12}); err != nil {
			t.Fatalf("Set: %v", err)
		}

		inst := newTestInstance(t, fake, cells)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go inst.Run(ctx)

		resetWire, _ := (bssaple.DefaultCodec{}).EncodeBSSAPLE(bssaple.PDU{
			Discr:    bssaple.DiscrBSSMAPLE,
			BSSMAPLE: bssaple.BSSMAPLE{MsgType: bssaple.MsgTypeReset},
		})
		inst.SubmitUnitdataInd(sccpsap.NUnitdataInd{Calling: testPeerAddr, Called: testLocalAddr, Data: resetWire})
		time.Sleep(10 * time.Millisecond)

		plrWire, _ := (bssaple.DefaultCodec{}).EncodeBSSAPLE(bssaple.PDU{
			Discr:    bssaple.DiscrBSSMAPLE,
			BSSMAPLE: bssaple.BSSMAPLE{MsgType: bssaple.MsgTypePerformLocationRequest, IMSI: "001010000000013"},
		})
		inst.SubmitConnectInd(sccpsap.NConnectInd{ConnID: 53, Calling: testPeerAddr, Called: testLocalAddr, UserData: plrWire})
		time.Sleep(10 * time.Millisecond)

		fake.Reset()

		resetAPDU := encodeCO(t, bssaple.BSSLAP{Type: bssaple.BSSLAPTypeReset, TA: 15, CellID: cellID})
		inst.SubmitDataInd(sccpsap.NDataInd{ConnID: 53, Data: resetAPDU})
		time.Sleep(10 * time.Millisecond)

		var plResponse *bssaple.PDU
		for _, c := range fake.Calls() {
			if c.Op != "data" {
				continue
			}
			pdu := decodeBSSMAPLE(t, c.Data)
			if pdu.MsgType == bssaple.MsgTypePerformLocationResponse {
				plResponse = &pdu
			}
		}
		if plResponse == nil {
			t.Fatal("no PERFORM-LOCATION-RESPONSE sent after BSSLAP RESET")
		}
		if plResponse.ResponseCause != bssaple.CauseUnspecified {
			t.Fatalf("response cause = %v, want success", plResponse.ResponseCause)
		}
		if plResponse.Location == nil {
			t.Fatal("success response missing Location")
		}
	})
}
