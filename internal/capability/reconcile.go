package capability

import (
	"fmt"
	"net/netip"

	"github.com/route-beacon/bgp-sessiond/internal/bgp"
	"github.com/route-beacon/bgp-sessiond/internal/peer"
)

// ReconcileInput carries the local side of a reconciliation: which
// families this side activated, the session's capability policy, and
// the timer values the connection layer negotiated during the OPEN
// exchange (already whole seconds).
type ReconcileInput struct {
	ExpectedAS  uint32 // ASN configured for the peer; must match the OPEN
	LocalActive bgp.FamilySet

	Suppressed bool // capability exchange was suppressed on the wire
	Override   bool // assume the peer supports everything we activated
	Strict     bool // recorded only; enforcement is the codec's concern

	HoldTime  uint16
	Keepalive uint16
}

// Result is the peer's effective negotiated state, computed from a
// received capability set. It is a plain value: the caller applies it
// to the peer record, after clearing any stale received flags.
type Result struct {
	RemoteID  netip.Addr
	HoldTime  uint16
	Keepalive uint16

	Received   [bgp.FamilyCount]bool
	Negotiated [bgp.FamilyCount]bool

	AS4         bool
	RefreshForm bgp.Form // FormPre or FormRFC; FormNone if not received

	ORFSendFamilies bgp.FamilySet // peer can send ORF prefix-lists
	ORFRecvFamilies bgp.FamilySet // peer will accept ORF prefix-lists
	ORFSendForm     bgp.Form      // aggregate; FormNone if no family set
	ORFRecvForm     bgp.Form

	Dynamic bool

	GracefulRestart   bool
	RestartFamilies   bgp.FamilySet // locally active and peer-preservable
	PreservedFamilies bgp.FamilySet // of those, preserved across restart
	RestartTime       uint16

	Suppressed bool
	Strict     bool
}

// formReceived picks the received encoding from an aggregate form,
// pre-standard first.
func formReceived(f bgp.Form) bgp.Form {
	if f&bgp.FormPre != 0 {
		return bgp.FormPre
	}
	if f&bgp.FormRFC != 0 {
		return bgp.FormRFC
	}
	return bgp.FormNone
}

// Reconcile computes the peer's negotiated per-family state and
// received capability flags from the set deposited by the connection
// layer when the session established.
//
// Every field of the result has a defined fallback; malformed or absent
// capabilities degrade to "not received", never to an error. The one
// exception is the negotiating ASN: the connection layer validates it
// against configuration before establishing, so a mismatch here is a
// programming error and panics.
func Reconcile(recv *Set, in ReconcileInput) Result {
	if recv.ASN != in.ExpectedAS {
		panic(fmt.Sprintf("capability: reconcile with AS %d, expected %d", recv.ASN, in.ExpectedAS))
	}

	var res Result

	res.Suppressed = in.Suppressed
	res.Strict = in.Strict

	res.HoldTime = in.HoldTime
	res.Keepalive = in.Keepalive
	res.RemoteID = recv.RouterID

	res.AS4 = recv.CanAS4

	// Per-family multiprotocol state. With no capabilities at all, or
	// under override, nothing counts as received and every locally
	// active family is assumed negotiable.
	var advertised bgp.FamilySet
	received := true
	if !recv.CanCapability || in.Override {
		received = false
		advertised = bgp.AllFamilies
	} else {
		advertised = recv.Families
	}

	for f := bgp.Family(0); f < bgp.FamilyCount; f++ {
		if advertised.Has(f) {
			res.Received[f] = received
			res.Negotiated[f] = in.LocalActive.Has(f)
		}
	}

	res.RefreshForm = formReceived(recv.RouteRefresh)

	// Per-family ORF bits are copied directly from the peer's sets.
	res.ORFSendFamilies = recv.ORFSend
	res.ORFRecvFamilies = recv.ORFRecv

	// Aggregate ORF form, only when some family carries the bit.
	if recv.ORFSend.Any() {
		res.ORFSendForm = formReceived(recv.ORFPrefix)
	}
	if recv.ORFRecv.Any() {
		res.ORFRecvForm = formReceived(recv.ORFPrefix)
	}

	res.Dynamic = recv.CanDynamic

	res.GracefulRestart = recv.CanGracefulRestart
	for f := bgp.Family(0); f < bgp.FamilyCount; f++ {
		if in.LocalActive.Has(f) && recv.CanPreserve.Has(f) {
			res.RestartFamilies = res.RestartFamilies.With(f)
			if recv.HasPreserved.Has(f) {
				res.PreservedFamilies = res.PreservedFamilies.With(f)
			}
		}
	}

	// The restart time is taken whether or not the peer claims to be
	// restarting; the Restart State flag is deliberately not consulted.
	res.RestartTime = recv.RestartTime

	return res
}

// Apply writes the result into the peer record. It only ever sets
// flags: the caller must have cleared stale received state first (see
// Peer.ClearReceived); given that, Apply is idempotent.
func (r Result) Apply(p *peer.Peer) {
	p.HoldTime = r.HoldTime
	p.Keepalive = r.Keepalive
	p.RemoteID = r.RemoteID
	p.RestartTime = r.RestartTime

	if r.Suppressed {
		p.Caps.Suppressed = true
	}
	if r.AS4 {
		p.Caps.AS4Received = true
	}
	if r.RefreshForm != bgp.FormNone {
		p.Caps.RefreshReceived = r.RefreshForm
	}
	if r.ORFSendForm != bgp.FormNone {
		p.Caps.ORFSendReceived = r.ORFSendForm
	}
	if r.ORFRecvForm != bgp.FormNone {
		p.Caps.ORFRecvReceived = r.ORFRecvForm
	}
	if r.Dynamic {
		p.Caps.DynamicReceived = true
	}
	if r.GracefulRestart {
		p.Caps.RestartReceived = true
	}

	for f := bgp.Family(0); f < bgp.FamilyCount; f++ {
		if r.Received[f] {
			p.Received[f] = true
		}
		if r.Negotiated[f] {
			p.Negotiated[f] = true
		}
		if r.ORFSendFamilies.Has(f) {
			p.Family[f].ORFSendReceived = true
		}
		if r.ORFRecvFamilies.Has(f) {
			p.Family[f].ORFRecvReceived = true
		}
		if r.RestartFamilies.Has(f) {
			p.Family[f].RestartCapable = true
		}
		if r.PreservedFamilies.Has(f) {
			p.Family[f].RestartPreserved = true
		}
	}
}
