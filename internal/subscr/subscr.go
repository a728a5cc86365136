// Package subscr implements the subscriber registry: one entry per IMSI
// currently involved in a location request or connection, reference counted
// so the entry lives as long as the longest-lived of its owners.
package subscr

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/osmocom-go/smlcd/internal/cellloc"
	"github.com/osmocom-go/smlcd/internal/refcount"
)

// UseLbConn is the use-count token an LbConn holds on a subscriber while the
// connection is associated with it (SMLC_SUBSCR_USE_LB_CONN in the original).
const UseLbConn = "Lb-conn"

// Subscriber is one registry entry, identified by IMSI.
type Subscriber struct {
	IMSI string

	// LatestCellID is the most recently known cell identifier for this
	// subscriber, carried across location requests. Not updated by the
	// TA_LAYER3 inline path (see internal/lb's location request FSM).
	LatestCellID cellloc.CellIdentifier

	use *refcount.Set

	logger *slog.Logger
}

// Get increments the use count for token and returns the new total.
func (s *Subscriber) Get(token string) int32 {
	return s.use.Get(token)
}

// Put decrements the use count for token. The caller (Registry) is
// responsible for removing the subscriber once the total use count reaches
// zero.
func (s *Subscriber) Put(token string) (int32, error) {
	return s.use.Put(token)
}

// String renders the subscriber identity for logging (smlc_subscr_to_str_buf).
func (s *Subscriber) String() string {
	return fmt.Sprintf("IMSI-%s", s.IMSI)
}

// Registry holds all subscribers currently tracked by the SMLC, indexed by
// IMSI. A subscriber is created on first reference and removed once its
// total use count returns to zero.
type Registry struct {
	mu          sync.Mutex
	subscribers map[string]*Subscriber
	logger      *slog.Logger
}

// NewRegistry returns an empty Registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		subscribers: make(map[string]*Subscriber),
		logger:      logger.With(slog.String("component", "subscr.registry")),
	}
}

// Find returns the existing subscriber for imsi without creating one.
func (r *Registry) Find(imsi string) (*Subscriber, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.subscribers[imsi]
	return s, ok
}

// FindOrCreate returns the existing subscriber for imsi, creating one if
// necessary, and increments its use count under token. Grounded on
// smlc_subscr_find_or_create's linear scan-by-identity semantics.
func (r *Registry) FindOrCreate(imsi string, useToken string) *Subscriber {
	r.mu.Lock()
	s, ok := r.subscribers[imsi]
	if !ok {
		s = &Subscriber{
			IMSI:   imsi,
			logger: r.logger,
		}
		s.use = refcount.NewSet(r.makeUseCB(s))
		r.subscribers[imsi] = s
		r.logger.Debug("subscriber created", slog.String("imsi", imsi))
	}
	r.mu.Unlock()

	s.Get(useToken)
	return s
}

// makeUseCB returns the use-count callback for s, which removes the
// subscriber from the registry once its total use count reaches zero
// (mirrors smlc_subscr_use_cb's total==0 cleanup path).
func (r *Registry) makeUseCB(s *Subscriber) refcount.UseCB {
	return func(token string, total int32) {
		r.logger.Debug("subscriber use count changed",
			slog.String("imsi", s.IMSI),
			slog.String("token", token),
			slog.Int("total", int(total)),
		)
		if total == 0 {
			r.mu.Lock()
			delete(r.subscribers, s.IMSI)
			r.mu.Unlock()
			r.logger.Debug("subscriber released", slog.String("imsi", s.IMSI))
		}
	}
}

// Count returns the number of subscribers currently tracked.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subscribers)
}
