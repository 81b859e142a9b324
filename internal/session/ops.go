package session

import (
	"net/netip"

	"github.com/route-beacon/bgp-sessiond/internal/bgp"
	"github.com/route-beacon/bgp-sessiond/internal/capability"
	"go.uber.org/zap"
)

// The operations in this file run on the Routing Engine, the sole
// writer of the session state and of the fields staged before enabling.
// State transitions and the staging writes happen under the session
// lock so that status readers on other goroutines can take the lock;
// flowControl and deleteMe never leave the Routing Engine and stay
// lock-free.

// Enable builds the outbound capability set, resets the session for a
// fresh attempt and hands it to the BGP Engine. Calling Enable on an
// active session is a programming error.
func (s *Session) Enable() {
	if s.state.Active() {
		panic("session: enable while active")
	}

	p := s.peer
	open, adv := capability.BuildOpen(&p.Config)
	adv.Apply(p)

	s.mu.Lock()
	capability.Move(&s.openSend, &open)
	if s.openRecv != nil {
		s.openRecv.Release()
		s.openRecv = nil
	}

	cfg := &p.Config
	s.connect = cfg.Connect
	s.listen = cfg.Listen
	s.capSuppress = false
	s.capOverride = cfg.CapOverride
	s.capStrict = cfg.CapStrict
	s.ttl = cfg.TTL
	s.gtsm = cfg.GTSM

	s.holdTime = 0
	s.keepalive = 0
	s.as4 = false
	s.routeRefreshPre = false
	s.orfPrefixPre = false
	s.localAddr = netip.AddrPort{}
	s.remoteAddr = netip.AddrPort{}

	s.lastEvent = EventNone
	s.notification = nil
	s.lastErr = nil
	s.flowControl = XONRefresh

	// The engine-private subsection must be clean before handover.
	s.conns = [ConnCount]any{}
	s.active = false
	s.accept = false

	s.state = StateEnabled
	s.mu.Unlock()

	s.logger.Info("session enabled",
		zap.Uint32("local_as", s.openSend.ASN),
		zap.String("families", s.openSend.Families.String()),
	)

	s.toEngine.Send(Command{Session: s, Msg: Enable{}})
}

// Disable asks the BGP Engine to stop the session, sending the given
// notification if any. Returns false when there is nothing to stop
// (the session is not active, or a stop is already in flight); in that
// case no acknowledgement event will arrive.
func (s *Session) Disable(n *bgp.Notification) bool {
	s.mu.Lock()
	if !s.state.Active() || s.state == StateLimping {
		s.mu.Unlock()
		return false
	}
	s.state = StateLimping
	s.mu.Unlock()

	s.logger.Info("session disabling", zap.String("notification", n.String()))
	s.toEngine.Send(Command{Session: s, Msg: Disable{Notification: n}})
	return true
}

// Delete destroys the session, deferring if a stop has to be requested
// first. Returns true when the session is gone now; false when the
// delete is pending the BGP Engine's final stopped event.
func (s *Session) Delete() bool {
	s.mu.Lock()
	if s.state.Active() {
		s.deleteMe = true
		limping := s.state == StateLimping
		s.mu.Unlock()
		if !limping {
			s.Disable(bgp.NewNotification(bgp.NotifyCease, bgp.CeasePeerDeconfigured, nil))
		}
		return false
	}
	s.freeLocked()
	s.mu.Unlock()
	return true
}

// freeLocked releases the negotiation slots and resets to Idle. The
// caller holds the session lock.
func (s *Session) freeLocked() {
	if s.openSend != nil {
		s.openSend.Release()
		s.openSend = nil
	}
	if s.openRecv != nil {
		s.openRecv.Release()
		s.openRecv = nil
	}
	s.state = StateIdle
	s.deleteMe = false
}

// Disposition tells the Routing Engine loop what an event meant.
type Disposition uint8

const (
	DispositionNone        Disposition = iota
	DispositionEstablished             // run capability reconciliation
	DispositionLimping                 // engine stopped on its own; ack sent
	DispositionStopped                 // session fully back in Routing Engine hands
	DispositionDelete                  // deferred delete completed; drop the session
)

// HandleEvent records an event from the BGP Engine and walks the state
// machine. Routing Engine only.
//
// A stopped event while Limping is the acknowledgement of our own
// disable: the session goes Disabled. A stopped event in any other
// active state is an engine-initiated stop: the session goes Limping
// and a disable is sent as the acknowledgement, so queued messages
// drain before the session is reused.
func (s *Session) HandleEvent(ev Event) Disposition {
	s.mu.Lock()
	s.lastEvent = ev.Kind
	s.notification = ev.Notification
	s.lastErr = ev.Err
	s.ordinal = ev.Ordinal

	if ev.Stopped {
		if s.state == StateLimping || !s.state.Active() {
			s.state = StateDisabled
			if s.deleteMe {
				s.freeLocked()
				s.mu.Unlock()
				return DispositionDelete
			}
			s.mu.Unlock()
			return DispositionStopped
		}

		s.state = StateLimping
		s.mu.Unlock()
		s.toEngine.Send(Command{Session: s, Msg: Disable{}})
		return DispositionLimping
	}

	if ev.Kind == EventEstablished && s.state == StateEnabled {
		s.state = StateEstablished
		s.mu.Unlock()
		return DispositionEstablished
	}

	s.mu.Unlock()
	return DispositionNone
}

// IsXON reports whether the Routing Engine still has update credits.
func (s *Session) IsXON() bool {
	return s.flowControl > 0
}

// DecFlowCount takes one update credit. It returns true exactly when
// the credit count lands on the kick threshold: that update must carry
// the XON-kick flag.
func (s *Session) DecFlowCount() bool {
	s.flowControl--
	return s.flowControl == XONKick
}

// RefreshFlow restores the full credit allowance. Called when an XON
// grant arrives.
func (s *Session) RefreshFlow() {
	s.flowControl = XONRefresh
}

// SendUpdate queues one UPDATE body for the peer, consuming a credit.
func (s *Session) SendUpdate(buf []byte) {
	kick := s.DecFlowCount()
	s.toEngine.Send(Command{Session: s, Msg: Update{Buf: buf, XONKick: kick}})
}

// SendRouteRefresh queues a ROUTE-REFRESH for the peer.
func (s *Session) SendRouteRefresh(rr *bgp.RouteRefresh) {
	s.toEngine.Send(Command{Session: s, Msg: RouteRefresh{RR: rr}})
}

// SendEndOfRIB queues an End-of-RIB marker for the family.
func (s *Session) SendEndOfRIB(f bgp.Family) {
	s.toEngine.Send(Command{Session: s, Msg: EndOfRIB{Family: f}})
}

// SetTTL applies a new TTL/GTSM setting, live if the session is active.
func (s *Session) SetTTL(ttl int, gtsm bool) {
	s.mu.Lock()
	s.ttl = ttl
	s.gtsm = gtsm
	active := s.state.Active()
	s.mu.Unlock()

	if active {
		s.toEngine.Send(Command{Session: s, Msg: TTLChange{TTL: ttl, GTSM: gtsm}})
	}
}

// TTL returns the current TTL/GTSM setting.
func (s *Session) TTL() (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ttl, s.gtsm
}
