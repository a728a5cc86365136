package lb

import (
	"errors"
	"fmt"
	"sync"
)

// connIDMax is the highest valid SCCP connection id: a 24-bit value
// (sccp_lb_inst_next_conn_id in the original allocates from this range).
const connIDMax = 0xffffff

// ErrConnIDExhausted indicates the allocator scanned the full 24-bit space
// without finding a free connection id.
var ErrConnIDExhausted = errors.New("lb: connection id space exhausted")

// connIDAllocator hands out SCCP connection ids unique across every LbConn
// currently open on any peer, wrapping back to zero after connIDMax. The
// allocator is consulted from a single dispatcher goroutine (see
// Instance.Run), so it needs no internal locking beyond what's required by
// tests that exercise it directly; a mutex is kept anyway so that direct
// calls from tests on other goroutines stay safe.
type connIDAllocator struct {
	mu   sync.Mutex
	next uint32

	// inUse is the authoritative set of connection ids presently assigned
	// to an LbConn on any peer, mirroring the original allocator's
	// full-table collision scan.
	inUse map[uint32]struct{}
}

func newConnIDAllocator() *connIDAllocator {
	return &connIDAllocator{inUse: make(map[uint32]struct{})}
}

// Allocate returns the next unused connection id, scanning forward from the
// last allocated value and wrapping at connIDMax. Returns
// ErrConnIDExhausted if every id in [0, connIDMax] is in use.
func (a *connIDAllocator) Allocate() (uint32, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for attempt := uint32(0); attempt <= connIDMax; attempt++ {
		candidate := (a.next + attempt) & connIDMax
		if _, taken := a.inUse[candidate]; !taken {
			a.inUse[candidate] = struct{}{}
			a.next = (candidate + 1) & connIDMax
			return candidate, nil
		}
	}

	return 0, fmt.Errorf("allocate connection id: %w", ErrConnIDExhausted)
}

// Reserve marks connID as in use without going through Allocate, for
// incoming connections whose id is assigned by the peer.
func (a *connIDAllocator) Reserve(connID uint32) {
	a.mu.Lock()
	a.inUse[connID] = struct{}{}
	a.mu.Unlock()
}

// Release frees connID for reuse.
func (a *connIDAllocator) Release(connID uint32) {
	a.mu.Lock()
	delete(a.inUse, connID)
	a.mu.Unlock()
}
