package lb_test

import (
	"testing"

	"github.com/osmocom-go/smlcd/internal/lb"
)

func TestLocReqFSMStart(t *testing.T) {
	t.Parallel()

	res := lb.ApplyLocReqEvent(lb.LocReqStateInit, lb.LocReqEventStart)
	if res.NewState != lb.LocReqStateWaitTA {
		t.Fatalf("NewState = %v, want WAIT_TA", res.NewState)
	}
}

func TestLocReqFSMTALayer3InlineDoesNotUpdateCellID(t *testing.T) {
	t.Parallel()

	res := lb.ApplyLocReqEvent(lb.LocReqStateWaitTA, lb.LocReqEventTALayer3Inline)
	if res.NewState != lb.LocReqStateGotTA {
		t.Fatalf("NewState = %v, want GOT_TA", res.NewState)
	}
	for _, a := range res.Actions {
		if a == lb.LocReqActionUpdateCellID {
			t.Fatal("TA Layer3 inline path must not update cell id")
		}
	}
}

func TestLocReqFSMTAResponseUpdatesCellID(t *testing.T) {
	t.Parallel()

	res := lb.ApplyLocReqEvent(lb.LocReqStateWaitTA, lb.LocReqEventTAResponse)
	if res.NewState != lb.LocReqStateGotTA {
		t.Fatalf("NewState = %v, want GOT_TA", res.NewState)
	}
	found := false
	for _, a := range res.Actions {
		if a == lb.LocReqActionUpdateCellID {
			found = true
		}
	}
	if !found {
		t.Fatal("TA Response path must update cell id")
	}
}

func TestLocReqFSMAbortIsSilent(t *testing.T) {
	t.Parallel()

	res := lb.ApplyLocReqEvent(lb.LocReqStateWaitTA, lb.LocReqEventAbort)
	if res.NewState != lb.LocReqStateAborted {
		t.Fatalf("NewState = %v, want ABORTED", res.NewState)
	}
	if len(res.Actions) != 0 {
		t.Fatalf("abort actions = %v, want none", res.Actions)
	}
	if !res.NewState.Terminal() {
		t.Fatal("ABORTED must be terminal")
	}
}

func TestLocReqFSMTimeoutFails(t *testing.T) {
	t.Parallel()

	res := lb.ApplyLocReqEvent(lb.LocReqStateWaitTA, lb.LocReqEventTimeout)
	if res.NewState != lb.LocReqStateFailed {
		t.Fatalf("NewState = %v, want FAILED", res.NewState)
	}
	if !containsLocReqAction(res.Actions, lb.LocReqActionSendFailure) {
		t.Fatalf("actions %v missing SendFailure", res.Actions)
	}
}

func TestLocReqFSMResetFails(t *testing.T) {
	t.Parallel()

	res := lb.ApplyLocReqEvent(lb.LocReqStateWaitTA, lb.LocReqEventReset)
	if res.NewState != lb.LocReqStateFailed {
		t.Fatalf("NewState = %v, want FAILED", res.NewState)
	}
}

func TestLocReqFSMBSSLAPAbortFails(t *testing.T) {
	t.Parallel()

	res := lb.ApplyLocReqEvent(lb.LocReqStateWaitTA, lb.LocReqEventBSSLAPAbort)
	if res.NewState != lb.LocReqStateFailed {
		t.Fatalf("NewState = %v, want FAILED", res.NewState)
	}
	if !containsLocReqAction(res.Actions, lb.LocReqActionSendFailure) {
		t.Fatalf("actions %v missing SendFailure", res.Actions)
	}
}

func TestLocReqFSMBSSLAPRejectFails(t *testing.T) {
	t.Parallel()

	res := lb.ApplyLocReqEvent(lb.LocReqStateWaitTA, lb.LocReqEventBSSLAPReject)
	if res.NewState != lb.LocReqStateFailed {
		t.Fatalf("NewState = %v, want FAILED", res.NewState)
	}
	if !containsLocReqAction(res.Actions, lb.LocReqActionSendFailure) {
		t.Fatalf("actions %v missing SendFailure", res.Actions)
	}
}

func TestLocReqFSMBSSLAPResetUpdatesCellIDLikeTAResponse(t *testing.T) {
	t.Parallel()

	res := lb.ApplyLocReqEvent(lb.LocReqStateWaitTA, lb.LocReqEventBSSLAPReset)
	if res.NewState != lb.LocReqStateGotTA {
		t.Fatalf("NewState = %v, want GOT_TA", res.NewState)
	}
	if !containsLocReqAction(res.Actions, lb.LocReqActionUpdateCellID) {
		t.Fatalf("actions %v missing UpdateCellID", res.Actions)
	}
}

func TestLocReqFSMTerminalStatesIgnoreEvents(t *testing.T) {
	t.Parallel()

	for _, state := range []lb.LocReqState{lb.LocReqStateGotTA, lb.LocReqStateFailed, lb.LocReqStateAborted} {
		res := lb.ApplyLocReqEvent(state, lb.LocReqEventTAResponse)
		if res.Changed {
			t.Errorf("state %v: unexpected transition to %v", state, res.NewState)
		}
	}
}

func containsLocReqAction(actions []lb.LocReqAction, want lb.LocReqAction) bool {
	for _, a := range actions {
		if a == want {
			return true
		}
	}
	return false
}
