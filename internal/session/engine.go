package session

import (
	"net/netip"
	"time"

	"github.com/route-beacon/bgp-sessiond/internal/bgp"
	"github.com/route-beacon/bgp-sessiond/internal/capability"
)

// The BGP Engine's side of the session. The engine-private subsection
// (connection handles, negotiated values, the active/accept booleans,
// statistics) is touched only through an EngineGuard, so every access
// is O(1) field work under the lock and never wire I/O.
//
// The original used a recursive mutex so connection code could re-lock
// a session it already held. Here re-entrancy is explicit instead:
// code that may already hold the guard passes it to WithEngine, which
// reuses it rather than deadlocking on a second Lock.

// EngineGuard is exclusive access to the engine-owned parts of one
// session. Valid between LockEngine and Unlock.
type EngineGuard struct {
	s *Session
}

// LockEngine acquires the session on behalf of the BGP Engine.
func (s *Session) LockEngine() *EngineGuard {
	s.mu.Lock()
	return &EngineGuard{s: s}
}

// Unlock releases the guard. The guard must not be used afterwards.
func (g *EngineGuard) Unlock() {
	s := g.s
	g.s = nil
	s.mu.Unlock()
}

// WithEngine runs fn with a guard on s. If held already guards s it is
// reused; otherwise the lock is taken for the duration of fn. This is
// the re-entrant path for engine code reached while a sibling code
// path already holds the session.
func (s *Session) WithEngine(held *EngineGuard, fn func(*EngineGuard)) {
	if held != nil && held.s == s {
		fn(held)
		return
	}
	g := s.LockEngine()
	defer g.Unlock()
	fn(g)
}

// Session returns the guarded session.
func (g *EngineGuard) Session() *Session { return g.s }

// SetActive marks whether at least one connection attempt is in
// progress. When cleared, the BGP Engine ignores everything for the
// session except Enable and Disable.
func (g *EngineGuard) SetActive(active bool) {
	g.s.active = active
	if !active {
		g.s.accept = false
	}
}

// Active reports the engine-side active flag.
func (g *EngineGuard) Active() bool { return g.s.active }

// SetAccept marks whether the listening side is ready to accept.
func (g *EngineGuard) SetAccept(accept bool) { g.s.accept = accept }

// SetConnection stores the opaque connection handle for the ordinal.
func (g *EngineGuard) SetConnection(ord ConnOrdinal, conn any) {
	g.s.conns[ord] = conn
}

// Connection returns the stored handle for the ordinal, nil if none.
func (g *EngineGuard) Connection(ord ConnOrdinal) any {
	return g.s.conns[ord]
}

// ConfigSnapshot returns the connection settings the Routing Engine
// staged before enabling.
func (g *EngineGuard) ConfigSnapshot() (connect, listen bool, ttl int, gtsm bool) {
	return g.s.connect, g.s.listen, g.s.ttl, g.s.gtsm
}

// ApplyTTL records a live TTL/GTSM change.
func (g *EngineGuard) ApplyTTL(ttl int, gtsm bool) {
	g.s.ttl = ttl
	g.s.gtsm = gtsm
}

// Establish deposits the result of a completed OPEN exchange: the
// received capability set (ownership transfers to the session), the
// negotiated timers, encodings, whether capability exchange was
// suppressed, and the transport endpoints. The inbound slot is
// immutable from here on.
func (g *EngineGuard) Establish(recv **capability.Set,
	hold, keepalive time.Duration,
	as4, refreshPre, orfPre, suppressed bool,
	local, remote netip.AddrPort) {

	s := g.s
	capability.Move(&s.openRecv, recv)
	s.holdTime = hold
	s.keepalive = keepalive
	s.as4 = as4
	s.routeRefreshPre = refreshPre
	s.orfPrefixPre = orfPre
	s.capSuppress = suppressed
	s.localAddr = local
	s.remoteAddr = remote
}

// Stats returns the counters for the BGP Engine to update in place.
func (g *EngineGuard) Stats() *Stats { return &g.s.stats }

// CountUpdateIn bumps the inbound UPDATE counter and timestamp.
func (g *EngineGuard) CountUpdateIn(now time.Time) {
	g.s.stats.UpdateIn++
	g.s.stats.UpdateTime = now
}

// The Post* operations below queue notices for the Routing Engine.
// They take no guard: the queue is its own synchronization.

// PostEvent reports a lifecycle event.
func (s *Session) PostEvent(kind EventKind, n *bgp.Notification, err error, ord ConnOrdinal, stopped bool) {
	s.toRouting.Send(Notice{Session: s, Msg: Event{
		Kind:         kind,
		Notification: n,
		Err:          err,
		Ordinal:      ord,
		Stopped:      stopped,
	}})
}

// PostUpdate hands a received UPDATE body to the Routing Engine.
func (s *Session) PostUpdate(buf []byte) {
	s.toRouting.Send(Notice{Session: s, Msg: Update{Buf: buf}})
}

// PostRouteRefresh hands a received ROUTE-REFRESH to the Routing Engine.
func (s *Session) PostRouteRefresh(rr *bgp.RouteRefresh) {
	s.toRouting.Send(Notice{Session: s, Msg: RouteRefresh{RR: rr}})
}

// PostEndOfRIB hands a received End-of-RIB marker to the Routing Engine.
func (s *Session) PostEndOfRIB(f bgp.Family) {
	s.toRouting.Send(Notice{Session: s, Msg: EndOfRIB{Family: f}})
}

// PostXON grants the Routing Engine a fresh batch of update credits.
func (s *Session) PostXON() {
	s.toRouting.Send(Notice{Session: s, Msg: XON{}})
}
