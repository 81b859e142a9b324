package bgp

import "testing"

func TestFamilySet_Accessors(t *testing.T) {
	var s FamilySet
	if s.Any() {
		t.Fatal("empty set reports Any")
	}

	s = s.With(IPv4Unicast).With(IPv6Unicast)
	if !s.Has(IPv4Unicast) || !s.Has(IPv6Unicast) {
		t.Fatalf("set missing members: %s", s)
	}
	if s.Has(IPv4MPLSVPN) {
		t.Fatal("set has member that was never added")
	}

	s = s.Without(IPv4Unicast)
	if s.Has(IPv4Unicast) {
		t.Fatal("Without did not remove member")
	}
	if !s.Has(IPv6Unicast) {
		t.Fatal("Without removed the wrong member")
	}
}

func TestAllFamilies_CoversEnumeration(t *testing.T) {
	for f := Family(0); f < FamilyCount; f++ {
		if !AllFamilies.Has(f) {
			t.Errorf("AllFamilies missing %s", f)
		}
	}
}

func TestFamilyFromWire_RoundTrip(t *testing.T) {
	for f := Family(0); f < FamilyCount; f++ {
		got, ok := FamilyFromWire(f.AFI(), f.SAFI())
		if !ok {
			t.Fatalf("FamilyFromWire(%d, %d) not found", f.AFI(), f.SAFI())
		}
		if got != f {
			t.Errorf("FamilyFromWire(%d, %d) = %s, want %s", f.AFI(), f.SAFI(), got, f)
		}
	}
}

func TestFamilyFromWire_Unknown(t *testing.T) {
	if _, ok := FamilyFromWire(25, 1); ok {
		t.Fatal("unknown AFI reported as known")
	}
	if _, ok := FamilyFromWire(AFIIPv4, 77); ok {
		t.Fatal("unknown SAFI reported as known")
	}
}

func TestFamilyFromName(t *testing.T) {
	f, ok := FamilyFromName("ipv4-vpn")
	if !ok || f != IPv4MPLSVPN {
		t.Fatalf("FamilyFromName(ipv4-vpn) = %v, %v", f, ok)
	}
	if _, ok := FamilyFromName("ipv5-unicast"); ok {
		t.Fatal("bogus family name accepted")
	}
}

func TestForm_Bits(t *testing.T) {
	if FormBoth&FormPre == 0 || FormBoth&FormRFC == 0 {
		t.Fatal("FormBoth does not carry both bits")
	}
	if FormNone != 0 {
		t.Fatal("FormNone is not zero")
	}
}
