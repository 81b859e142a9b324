// Package peer holds the long-lived per-neighbor record owned by the
// Routing Engine: the configuration a session is built from, and the
// sink the negotiated capability state is written back into once a
// session establishes.
package peer

import (
	"net/netip"

	"github.com/route-beacon/bgp-sessiond/internal/bgp"
)

// ASTrans is the reserved 2-byte placeholder sent in the OPEN "My AS"
// field when the real ASN does not fit in 16 bits (RFC 6793).
const ASTrans uint16 = 23456

// Config is the immutable per-peer configuration snapshot a session is
// created from. The Routing Engine builds one from daemon configuration
// and never mutates it while a session is active.
type Config struct {
	Address netip.Addr
	Port    uint16

	AS            uint32 // remote ASN expected in the peer's OPEN
	LocalAS       uint32 // our negotiating ASN
	ChangeLocalAS uint32 // local-as override; 0 means unset

	RouterID netip.Addr // our router ID, advertised in the OPEN

	HoldTime  uint16 // configured, seconds; 0 disables the hold timer
	Keepalive uint16 // configured, seconds

	// Families activated for this peer, and per-family ORF prefix-list
	// wishes: SendORF = we wish to send filters, RecvORF = we will
	// accept them.
	Active  bgp.FamilySet
	SendORF bgp.FamilySet
	RecvORF bgp.FamilySet

	DontCapability    bool // suppress capability advertisement entirely
	DynamicCapability bool

	// Routing-instance level settings that shape the OPEN.
	GracefulRestart bool
	RestartTime     uint16 // seconds, advertised when GracefulRestart
	AS2Only         bool   // speaker restricted to 2-byte ASN operation

	// Capability policy.
	CapOverride bool // assume peer supports every family we activated
	CapStrict   bool // require exact capability match (enforced by the
	// OPEN codec; recorded through to the negotiated state here)

	Connect bool // initiate outbound connections
	Listen  bool // accept inbound connections

	TTL           int
	GTSM          bool
	BindInterface string
	Password      string

	IdleHoldTime     uint16 // seconds
	ConnectRetryTime uint16 // seconds
	OpenHoldTime     uint16 // seconds
}

// Caps is the set of capability-exchange flags accumulated on a peer:
// what we advertised, and what the last established session received.
type Caps struct {
	AS4Advertised     bool
	RefreshAdvertised bool
	DynamicAdvertised bool
	RestartAdvertised bool

	AS4Received     bool
	RefreshReceived bgp.Form // FormPre or FormRFC, once received
	ORFSendReceived bgp.Form // aggregate, any family
	ORFRecvReceived bgp.Form
	DynamicReceived bool
	RestartReceived bool
	Suppressed      bool // capability exchange was suppressed on the wire
}

// FamilyCaps is the per-family received capability state.
type FamilyCaps struct {
	ORFSendReceived  bool // peer can send ORF prefix-lists for the family
	ORFRecvReceived  bool // peer will accept ORF prefix-lists
	RestartCapable   bool // peer preserves forwarding for the family
	RestartPreserved bool // peer has preserved forwarding across restart
}

// Peer is the mutable negotiated-state record. It is private to the
// Routing Engine; no lock is needed.
type Peer struct {
	Config Config

	Caps   Caps
	Family [bgp.FamilyCount]FamilyCaps

	Received   [bgp.FamilyCount]bool // family advertised by the peer
	Negotiated [bgp.FamilyCount]bool // family in use on the session

	HoldTime  uint16 // negotiated, seconds
	Keepalive uint16 // negotiated, seconds

	RemoteID    netip.Addr // peer's router ID from its OPEN
	RestartTime uint16     // peer's graceful-restart time, seconds
}

// New creates a peer record for the given configuration.
func New(cfg Config) *Peer {
	return &Peer{Config: cfg}
}

// ClearReceived resets every received/negotiated flag ahead of a fresh
// reconciliation. Reconciliation only ever sets flags, so the caller
// must clear first; this is that precondition.
func (p *Peer) ClearReceived() {
	adv := p.Caps
	p.Caps = Caps{
		AS4Advertised:     adv.AS4Advertised,
		RefreshAdvertised: adv.RefreshAdvertised,
		DynamicAdvertised: adv.DynamicAdvertised,
		RestartAdvertised: adv.RestartAdvertised,
	}
	p.Family = [bgp.FamilyCount]FamilyCaps{}
	p.Received = [bgp.FamilyCount]bool{}
	p.Negotiated = [bgp.FamilyCount]bool{}
	p.RemoteID = netip.Addr{}
	p.RestartTime = 0
}
