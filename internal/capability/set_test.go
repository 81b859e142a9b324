package capability

import "testing"

func TestMove_TransfersOwnership(t *testing.T) {
	src := New()
	src.ASN = 65001
	var dst *Set

	Move(&dst, &src)

	if src != nil {
		t.Fatal("src not nilled after move")
	}
	if dst == nil || dst.ASN != 65001 {
		t.Fatalf("dst = %+v, want the moved set", dst)
	}
	if dst.Released() {
		t.Fatal("moved set marked released")
	}
}

func TestMove_ReleasesPriorHolder(t *testing.T) {
	old := New()
	dst := old
	src := New()

	Move(&dst, &src)

	if !old.Released() {
		t.Fatal("displaced set not released")
	}
	if dst.Released() {
		t.Fatal("incoming set released")
	}

	// A second move through the same slot must not release old again;
	// double release panics.
	src2 := New()
	Move(&dst, &src2)
}

func TestRelease_TwicePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("no panic on double release")
		}
	}()
	s := New()
	s.Release()
	s.Release()
}

func TestRelease_DropsOverflowLists(t *testing.T) {
	s := New()
	s.AddUnknown(200, []byte{0x01})
	s.AddFamilyCap(1, 1, true, 3)

	s.Release()

	if s.Unknowns != nil || s.FamilyCaps != nil {
		t.Error("overflow lists survived release")
	}
}

func TestAddUnknown_PreservesOrderAndCopies(t *testing.T) {
	s := New()
	buf := []byte{0xaa, 0xbb}
	s.AddUnknown(128, buf)
	s.AddUnknown(129, nil)
	buf[0] = 0x00 // caller's buffer must not alias the stored copy

	if len(s.Unknowns) != 2 {
		t.Fatalf("Unknowns = %d entries, want 2", len(s.Unknowns))
	}
	if s.Unknowns[0].Code != 128 || s.Unknowns[1].Code != 129 {
		t.Errorf("codes out of order: %d, %d", s.Unknowns[0].Code, s.Unknowns[1].Code)
	}
	if s.Unknowns[0].Value[0] != 0xaa {
		t.Error("stored value aliases the caller's buffer")
	}
	if s.Unknowns[1].Value != nil {
		t.Error("empty value stored as non-nil")
	}
}
