package bgp

import "fmt"

// AFI codes.
const (
	AFIIPv4 uint16 = 1
	AFIIPv6 uint16 = 2
)

// SAFI codes.
const (
	SAFIUnicast   uint8 = 1
	SAFIMulticast uint8 = 2
	SAFIMPLSVPN   uint8 = 128
)

// Family indexes one (AFI, SAFI) combination this daemon knows how to
// negotiate. It is a dense index, suitable for arrays and FamilySet bits,
// not a wire value.
type Family uint8

const (
	IPv4Unicast Family = iota
	IPv4Multicast
	IPv4MPLSVPN
	IPv6Unicast
	IPv6Multicast
	IPv6MPLSVPN

	FamilyCount
)

var familyWire = [FamilyCount]struct {
	afi  uint16
	safi uint8
	name string
}{
	IPv4Unicast:   {AFIIPv4, SAFIUnicast, "ipv4-unicast"},
	IPv4Multicast: {AFIIPv4, SAFIMulticast, "ipv4-multicast"},
	IPv4MPLSVPN:   {AFIIPv4, SAFIMPLSVPN, "ipv4-vpn"},
	IPv6Unicast:   {AFIIPv6, SAFIUnicast, "ipv6-unicast"},
	IPv6Multicast: {AFIIPv6, SAFIMulticast, "ipv6-multicast"},
	IPv6MPLSVPN:   {AFIIPv6, SAFIMPLSVPN, "ipv6-vpn"},
}

// AFI returns the wire AFI code for the family.
func (f Family) AFI() uint16 { return familyWire[f].afi }

// SAFI returns the wire SAFI code for the family.
func (f Family) SAFI() uint8 { return familyWire[f].safi }

func (f Family) String() string {
	if f >= FamilyCount {
		return fmt.Sprintf("family(%d)", uint8(f))
	}
	return familyWire[f].name
}

// FamilyFromWire maps an (AFI, SAFI) pair to its Family index. ok is false
// for combinations this daemon does not model; callers keep those as
// generic capability records instead.
func FamilyFromWire(afi uint16, safi uint8) (Family, bool) {
	for f := Family(0); f < FamilyCount; f++ {
		if familyWire[f].afi == afi && familyWire[f].safi == safi {
			return f, true
		}
	}
	return 0, false
}

// FamilyFromName parses a configuration name such as "ipv4-unicast".
func FamilyFromName(name string) (Family, bool) {
	for f := Family(0); f < FamilyCount; f++ {
		if familyWire[f].name == name {
			return f, true
		}
	}
	return 0, false
}

// FamilySet is a bitset over the known (AFI, SAFI) combinations.
type FamilySet uint16

// AllFamilies has every known family set.
const AllFamilies = FamilySet(1<<FamilyCount) - 1

// With returns the set with f added.
func (s FamilySet) With(f Family) FamilySet { return s | 1<<f }

// Without returns the set with f removed.
func (s FamilySet) Without(f Family) FamilySet { return s &^ (1 << f) }

// Has reports whether f is in the set.
func (s FamilySet) Has(f Family) bool { return s&(1<<f) != 0 }

// Any reports whether the set is non-empty.
func (s FamilySet) Any() bool { return s != 0 }

func (s FamilySet) String() string {
	out := ""
	for f := Family(0); f < FamilyCount; f++ {
		if !s.Has(f) {
			continue
		}
		if out != "" {
			out += ","
		}
		out += f.String()
	}
	if out == "" {
		return "none"
	}
	return out
}
