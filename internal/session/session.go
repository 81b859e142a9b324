// Package session implements the peering-session object shared between
// the Routing Engine and the BGP Engine, the state machine that gates
// which engine owns it, and the message catalogue the two engines
// exchange over the transport queues.
package session

import (
	"net/netip"
	"sync"
	"time"

	"github.com/route-beacon/bgp-sessiond/internal/bgp"
	"github.com/route-beacon/bgp-sessiond/internal/capability"
	"github.com/route-beacon/bgp-sessiond/internal/peer"
	"github.com/route-beacon/bgp-sessiond/internal/transport"
	"go.uber.org/zap"
)

// State of one session.
//
// While Idle or Disabled the session belongs to the Routing Engine,
// which may access it lock-free. While Enabled, Established or Limping
// it belongs to the BGP Engine: the engine-private subsection is the
// BGP Engine's alone, and any cross-subsection access takes the
// session lock.
type State uint8

const (
	StateIdle State = iota
	StateDisabled
	StateEnabled
	StateEstablished
	StateLimping
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDisabled:
		return "disabled"
	case StateEnabled:
		return "enabled"
	case StateEstablished:
		return "established"
	case StateLimping:
		return "limping"
	}
	return "invalid"
}

// Active reports whether the BGP Engine owns the session in this state.
func (s State) Active() bool {
	return s == StateEnabled || s == StateEstablished || s == StateLimping
}

// ConnOrdinal identifies which of a session's two possible connections
// an event concerns.
type ConnOrdinal uint8

const (
	ConnPrimary ConnOrdinal = iota // outbound connect
	ConnSecondary                  // inbound accept

	ConnCount
)

func (o ConnOrdinal) String() string {
	switch o {
	case ConnPrimary:
		return "primary"
	case ConnSecondary:
		return "secondary"
	}
	return "invalid"
}

// Flow-control credits: the Routing Engine may have at most XONRefresh
// updates outstanding; the update that takes the credit down to XONKick
// asks the BGP Engine for an XON grant once processed.
const (
	XONRefresh = 40
	XONKick    = 20
)

// Stats are the session's message counters, maintained by the BGP
// Engine and snapshotted by the Routing Engine under the session lock.
type Stats struct {
	OpenIn        uint32
	OpenOut       uint32
	UpdateIn      uint32
	UpdateOut     uint32
	UpdateTime    time.Time // last UPDATE received
	KeepaliveIn   uint32
	KeepaliveOut  uint32
	NotifyIn      uint32
	NotifyOut     uint32
	RefreshIn     uint32
	RefreshOut    uint32
	DynamicCapIn  uint32
	DynamicCapOut uint32
}

// Session is the shared per-peer record. One exists per configured
// peer, for the peer's lifetime; only the Routing Engine creates and
// destroys sessions.
type Session struct {
	// Set at creation, never changed: no lock needed.
	peer      *peer.Peer
	logger    *zap.Logger
	toEngine  *transport.Queue[Command]
	toRouting *transport.Queue[Notice]

	mu sync.Mutex

	// Written only by the Routing Engine. State transitions happen
	// under mu so status readers on other goroutines can take the lock;
	// flowControl and deleteMe never leave the Routing Engine.
	state       State
	flowControl int
	deleteMe    bool

	// Last event received from the BGP Engine.
	lastEvent    EventKind
	notification *bgp.Notification
	lastErr      error
	ordinal      ConnOrdinal

	// Negotiation slots. openSend is set before enabling and immutable
	// while active; openRecv is deposited by the BGP Engine when the
	// session establishes and immutable thereafter.
	openSend *capability.Set
	openRecv *capability.Set

	// Copied from peer configuration before enabling; not changed by
	// either engine while active (except ttl/gtsm, via TTLChange).
	connect     bool
	listen      bool
	capSuppress bool
	capOverride bool
	capStrict   bool
	ttl         int
	gtsm        bool

	// Deposited by the BGP Engine when the session establishes.
	holdTime        time.Duration
	keepalive       time.Duration
	as4             bool
	routeRefreshPre bool
	orfPrefixPre    bool
	localAddr       netip.AddrPort
	remoteAddr      netip.AddrPort

	stats Stats

	// BGP Engine private: cleared before enabling, untouched by the
	// Routing Engine otherwise. Connection handles are opaque here;
	// the connection layer owns their type.
	conns  [ConnCount]any
	active bool
	accept bool
}

// New creates a session for the peer, in Idle state, wired to the two
// engine queues.
func New(p *peer.Peer, logger *zap.Logger, toEngine *transport.Queue[Command], toRouting *transport.Queue[Notice]) *Session {
	return &Session{
		peer:        p,
		logger:      logger.With(zap.String("peer", p.Config.Address.String())),
		toEngine:    toEngine,
		toRouting:   toRouting,
		state:       StateIdle,
		flowControl: XONRefresh,
	}
}

// Peer returns the owning peer record.
func (s *Session) Peer() *peer.Peer { return s.peer }

// State returns the current session state. Only the Routing Engine
// transitions it, but the read is safe from any goroutine.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastEvent returns the last event fields recorded from the BGP Engine.
// Routing Engine only.
func (s *Session) LastEvent() (EventKind, *bgp.Notification, error, ConnOrdinal) {
	return s.lastEvent, s.notification, s.lastErr, s.ordinal
}

// OpenSent returns the outbound capability set. Immutable while the
// session is active.
func (s *Session) OpenSent() *capability.Set { return s.openSend }

// OpenReceived returns the inbound capability set, nil until the
// session has established. Immutable once set.
func (s *Session) OpenReceived() *capability.Set {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.openRecv
}

// IsActive reports whether the BGP Engine has connections in progress
// for the session. It gates engine-side dispatch: when false the
// engine ignores everything for the session except Enable and Disable.
// Deliberately reads only the engine-private flag, never the state.
func (s *Session) IsActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// AcceptReady reports whether the session is ready to accept inbound
// connections.
func (s *Session) AcceptReady() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accept
}

// Negotiated returns the timer values and encodings the BGP Engine
// recorded when the session established.
func (s *Session) Negotiated() (hold, keepalive time.Duration, as4, refreshPre, orfPre bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.holdTime, s.keepalive, s.as4, s.routeRefreshPre, s.orfPrefixPre
}

// Addresses returns the transport endpoints recorded at establish time.
func (s *Session) Addresses() (local, remote netip.AddrPort) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.localAddr, s.remoteAddr
}

// Suppressed reports whether capability exchange was suppressed on the
// established connection.
func (s *Session) Suppressed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.capSuppress
}

// Stats snapshots the session counters under the lock.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}
