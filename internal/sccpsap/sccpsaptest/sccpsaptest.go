// Package sccpsaptest provides an in-memory sccpsap.Provider fake that
// records every downward primitive for test assertions, in place of a real
// SCTP/M3UA/SCCP stack.
package sccpsaptest

import (
	"sync"

	"github.com/osmocom-go/smlcd/internal/sccpsap"
)

// Call records one downward operation invocation.
type Call struct {
	Op       string // "connect", "data", "disconnect", "unitdata"
	ConnID   uint32
	Calling  sccpsap.Address
	Called   sccpsap.Address
	Data     []byte
	Cause    uint8
}

// Fake is a sccpsap.Provider recording every call it receives.
type Fake struct {
	mu    sync.Mutex
	calls []Call

	// ConnectErr, DataErr, DisconnectErr, UnitdataErr are returned by the
	// corresponding method when non-nil, for testing the error paths.
	ConnectErr    error
	DataErr       error
	DisconnectErr error
	UnitdataErr   error
}

// New returns an empty Fake.
func New() *Fake {
	return &Fake{}
}

func (f *Fake) ConnectReq(connID uint32, calling, called sccpsap.Address, userData []byte) error {
	f.mu.Lock()
	f.calls = append(f.calls, Call{Op: "connect", ConnID: connID, Calling: calling, Called: called, Data: userData})
	f.mu.Unlock()
	return f.ConnectErr
}

func (f *Fake) DataReq(connID uint32, data []byte) error {
	f.mu.Lock()
	f.calls = append(f.calls, Call{Op: "data", ConnID: connID, Data: data})
	f.mu.Unlock()
	return f.DataErr
}

func (f *Fake) DisconnectReq(connID uint32, cause uint8) error {
	f.mu.Lock()
	f.calls = append(f.calls, Call{Op: "disconnect", ConnID: connID, Cause: cause})
	f.mu.Unlock()
	return f.DisconnectErr
}

func (f *Fake) UnitdataReq(calling, called sccpsap.Address, data []byte) error {
	f.mu.Lock()
	f.calls = append(f.calls, Call{Op: "unitdata", Calling: calling, Called: called, Data: data})
	f.mu.Unlock()
	return f.UnitdataErr
}

// Calls returns a snapshot of every call recorded so far.
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Call, len(f.calls))
	copy(out, f.calls)
	return out
}

// Reset clears all recorded calls.
func (f *Fake) Reset() {
	f.mu.Lock()
	f.calls = nil
	f.mu.Unlock()
}
