package lb

import (
	"log/slog"

	"github.com/osmocom-go/smlcd/internal/refcount"
	"github.com/osmocom-go/smlcd/internal/subscr"
)

// Conn is an Lb connection object: one SCCP connection-oriented association
// between the SMLC and a peer BSC, carrying at most one active location
// request at a time. Grounded on lb_conn.c's struct lb_conn and its
// use-count-driven lifecycle.
type Conn struct {
	ConnID uint32

	peer *Peer

	subscriber *subscr.Subscriber
	locReq     *LocationRequest

	use *refcount.Set

	closing bool

	logger *slog.Logger
}

// UseSMLCLocReq is the use-count token a LocationRequest holds on its Conn
// (LB_CONN_USE_SMLC_LOC_REQ in the original).
const UseSMLCLocReq = "smlc_loc_req"

func newConn(peer *Peer, connID uint32, useToken string, logger *slog.Logger) *Conn {
	c := &Conn{
		ConnID: connID,
		peer:   peer,
		logger: logger.With(slog.Uint64("sccp_conn_id", uint64(connID))),
	}
	c.use = refcount.NewSet(c.onUseChange)
	c.use.Get(useToken)
	return c
}

func (c *Conn) onUseChange(token string, total int32) {
	c.logger.Debug("conn use count changed", slog.String("token", token), slog.Int("total", int(total)))
	if total == 0 {
		c.close()
	}
}

// Get increments the connection's use count under token.
func (c *Conn) Get(token string) int32 { return c.use.Get(token) }

// Put decrements the connection's use count under token. Dropping to zero
// triggers close.
func (c *Conn) Put(token string) (int32, error) { return c.use.Put(token) }

// close regularly tears down the connection: disconnects the underlying SCCP
// association (cause unspecified, see DESIGN.md Open Questions), terminates
// any bound location request, releases the subscriber reference, and detaches
// from the peer. Idempotent. Grounded on lb_conn.c's lb_conn_close.
func (c *Conn) close() {
	if c.closing {
		return
	}
	c.closing = true
	c.logger.Debug("closing conn")

	if c.peer != nil {
		c.peer.disconnectConn(c)
		c.peer.forgetConn(c)
		c.peer = nil
	}

	if c.locReq != nil {
		c.locReq.terminate(LocReqEventReset)
		c.locReq = nil
	}

	if c.subscriber != nil {
		if _, err := c.subscriber.Put(subscr.UseLbConn); err != nil {
			c.logger.Error("subscriber use count went negative", slog.String("error", err.Error()))
		}
		c.subscriber = nil
	}
}

// discard tears down the connection without notifying SCCP: used when the
// owning peer itself is being reset/removed, so there is nothing to
// disconnect. Grounded on lb_conn.c's lb_conn_discard.
func (c *Conn) discard() {
	if c.peer != nil {
		c.peer.forgetConn(c)
		c.peer = nil
	}
	c.close()
}

// BindSubscriber associates subscriber with this connection, holding a
// use-count reference until the connection closes.
func (c *Conn) BindSubscriber(s *subscr.Subscriber) {
	c.subscriber = s
}

// Subscriber returns the subscriber currently bound to this connection, if
// any.
func (c *Conn) Subscriber() *subscr.Subscriber { return c.subscriber }
