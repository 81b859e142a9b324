// Package capability models the negotiable content of one BGP OPEN
// message and the algorithm that reconciles a received set against
// local configuration. The wire TLV codec lives with the connection
// layer; this package only deals in decoded values.
package capability

import (
	"net/netip"

	"github.com/route-beacon/bgp-sessiond/internal/bgp"
)

// Unknown preserves a capability we did not recognise, verbatim, for
// diagnostics and pass-through.
type Unknown struct {
	Code  uint8
	Value []byte
}

// FamilyCap is a generic per-family capability record for capabilities
// not otherwise modelled, or carrying an (AFI, SAFI) pair we do not
// index as a Family.
type FamilyCap struct {
	AFI   uint16
	SAFI  uint8
	Known bool // (AFI, SAFI) maps to a bgp.Family
	Code  uint8
}

// Set is everything one side advertised (or will advertise) in an OPEN
// exchange. One is allocated per direction per session attempt.
//
// Invariants: Keepalive <= HoldTime/3; HoldTime is 0 or >= 3.
type Set struct {
	ASN  uint32 // negotiating ASN
	ASN2 uint16 // 2-byte encoding: the ASN, or peer.ASTrans if it does not fit

	HoldTime  uint16 // seconds; 0 disables
	Keepalive uint16 // seconds

	RouterID netip.Addr

	CanCapability bool // false => OPEN carries no capability options
	CanAS4        bool
	CanDynamic    bool

	Families bgp.FamilySet // multiprotocol: will accept, may send

	RouteRefresh bgp.Form
	ORFPrefix    bgp.Form
	ORFSend      bgp.FamilySet // wishes to send ORF prefix-lists
	ORFRecv      bgp.FamilySet // will accept ORF prefix-lists

	CanGracefulRestart bool
	RestartTime        uint16        // seconds
	CanPreserve        bgp.FamilySet // can preserve forwarding state
	HasPreserved       bgp.FamilySet // has preserved forwarding state
	HasRestarted       bool          // Restart State flag

	Unknowns   []Unknown
	FamilyCaps []FamilyCap

	released bool
}

// New returns an empty Set.
func New() *Set {
	return &Set{}
}

// AddUnknown records an unrecognised capability verbatim, in arrival
// order.
func (s *Set) AddUnknown(code uint8, value []byte) {
	u := Unknown{Code: code}
	if len(value) > 0 {
		u.Value = append([]byte(nil), value...)
	}
	s.Unknowns = append(s.Unknowns, u)
}

// AddFamilyCap records a generic per-family capability, in arrival
// order. known reports whether the (AFI, SAFI) pair maps to a Family.
func (s *Set) AddFamilyCap(afi uint16, safi uint8, known bool, code uint8) {
	s.FamilyCaps = append(s.FamilyCaps, FamilyCap{AFI: afi, SAFI: safi, Known: known, Code: code})
}

// Release marks the set dead and drops its overflow lists. Releasing a
// set twice is a programming error.
func (s *Set) Release() {
	if s.released {
		panic("capability: Set released twice")
	}
	s.released = true
	s.Unknowns = nil
	s.FamilyCaps = nil
}

// Released reports whether the set has been released.
func (s *Set) Released() bool { return s.released }

// Move transfers ownership of *src into *dst. Any set previously held
// in *dst is released, exactly once; *src is left nil. This is the only
// mutation allowed on a Set after construction.
func Move(dst, src **Set) {
	if *dst != nil {
		(*dst).Release()
	}
	*dst = *src
	*src = nil
}
