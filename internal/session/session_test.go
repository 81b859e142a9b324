package session

import (
	"context"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/route-beacon/bgp-sessiond/internal/bgp"
	"github.com/route-beacon/bgp-sessiond/internal/capability"
	"github.com/route-beacon/bgp-sessiond/internal/peer"
	"go.uber.org/zap"
)

func testSession(t *testing.T) *Session {
	t.Helper()
	p := peer.New(peer.Config{
		Address:   netip.MustParseAddr("192.0.2.1"),
		AS:        65001,
		LocalAS:   65000,
		RouterID:  netip.MustParseAddr("10.0.0.1"),
		HoldTime:  90,
		Keepalive: 30,
		Active:    bgp.FamilySet(0).With(bgp.IPv4Unicast),
		Connect:   true,
	})
	return New(p, zap.NewNop(), NewCommandQueue(), NewNoticeQueue())
}

// nextCommand drains one command for the session, failing if none is
// queued.
func nextCommand(t *testing.T, s *Session) CommandPayload {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	cmd, ok := s.toEngine.Receive(ctx)
	if !ok {
		t.Fatal("no command queued")
	}
	if cmd.Session != s {
		t.Fatal("command addressed to the wrong session")
	}
	return cmd.Msg
}

func TestEnable_SendsCommandAndResets(t *testing.T) {
	s := testSession(t)
	s.Enable()

	if s.State() != StateEnabled {
		t.Fatalf("state = %s, want enabled", s.State())
	}
	if s.OpenSent() == nil {
		t.Fatal("no outbound capability set built")
	}
	if s.OpenSent().ASN != 65000 {
		t.Errorf("outbound ASN = %d", s.OpenSent().ASN)
	}
	if !s.IsXON() {
		t.Error("credits not refreshed on enable")
	}
	if _, ok := nextCommand(t, s).(Enable); !ok {
		t.Fatal("queued command is not Enable")
	}
}

func TestEnable_ReplacesNegotiationSlots(t *testing.T) {
	s := testSession(t)
	s.Enable()
	firstOpen := s.OpenSent()

	// Simulate a completed attempt so the session comes back to the
	// Routing Engine with a received set in place.
	recv := capability.New()
	recv.ASN = 65001
	g := s.LockEngine()
	g.Establish(&recv, 90*time.Second, 30*time.Second, true, false, false, false,
		netip.AddrPort{}, netip.AddrPort{})
	g.Unlock()
	s.state = StateDisabled

	prevRecv := s.OpenReceived()
	s.Enable()

	if !firstOpen.Released() {
		t.Error("previous outbound set not released")
	}
	if !prevRecv.Released() {
		t.Error("previous inbound set not released")
	}
	if s.OpenReceived() != nil {
		t.Error("inbound slot not cleared for the new attempt")
	}
}

func TestEnable_WhileActivePanics(t *testing.T) {
	s := testSession(t)
	s.Enable()

	defer func() {
		if recover() == nil {
			t.Fatal("no panic enabling an active session")
		}
	}()
	s.Enable()
}

func TestDisable_OnlyOnce(t *testing.T) {
	s := testSession(t)

	if s.Disable(nil) {
		t.Fatal("Disable succeeded on an idle session")
	}

	s.Enable()
	nextCommand(t, s)

	if !s.Disable(nil) {
		t.Fatal("Disable failed on an enabled session")
	}
	if s.State() != StateLimping {
		t.Fatalf("state = %s, want limping", s.State())
	}
	if _, ok := nextCommand(t, s).(Disable); !ok {
		t.Fatal("queued command is not Disable")
	}

	// A second disable while limping is a no-op: one ack is pending.
	if s.Disable(nil) {
		t.Fatal("Disable succeeded while limping")
	}
}

func TestHandleEvent_DisableAcknowledged(t *testing.T) {
	s := testSession(t)
	s.Enable()
	s.Disable(bgp.NewNotification(bgp.NotifyCease, bgp.CeaseAdminShutdown, nil))

	d := s.HandleEvent(Event{Kind: EventDisabled, Stopped: true})
	if d != DispositionStopped {
		t.Fatalf("disposition = %d, want stopped", d)
	}
	if s.State() != StateDisabled {
		t.Fatalf("state = %s, want disabled", s.State())
	}

	kind, _, _, _ := s.LastEvent()
	if kind != EventDisabled {
		t.Errorf("last event = %s", kind)
	}
}

func TestHandleEvent_EngineInitiatedStop(t *testing.T) {
	s := testSession(t)
	s.Enable()
	nextCommand(t, s)

	// The far side dropped the connection while we were Enabled: the
	// session limps and we send the disable acknowledgement ourselves.
	d := s.HandleEvent(Event{Kind: EventTCPDropped, Stopped: true})
	if d != DispositionLimping {
		t.Fatalf("disposition = %d, want limping", d)
	}
	if s.State() != StateLimping {
		t.Fatalf("state = %s, want limping", s.State())
	}
	if _, ok := nextCommand(t, s).(Disable); !ok {
		t.Fatal("no disable acknowledgement queued")
	}

	// The engine's final stopped event completes the handshake.
	d = s.HandleEvent(Event{Kind: EventDisabled, Stopped: true})
	if d != DispositionStopped {
		t.Fatalf("final disposition = %d, want stopped", d)
	}
	if s.State() != StateDisabled {
		t.Fatalf("state = %s, want disabled", s.State())
	}
}

func TestHandleEvent_Established(t *testing.T) {
	s := testSession(t)
	s.Enable()

	d := s.HandleEvent(Event{Kind: EventEstablished, Ordinal: ConnPrimary})
	if d != DispositionEstablished {
		t.Fatalf("disposition = %d, want established", d)
	}
	if s.State() != StateEstablished {
		t.Fatalf("state = %s, want established", s.State())
	}

	// A second established while already established means nothing.
	if d := s.HandleEvent(Event{Kind: EventEstablished}); d != DispositionNone {
		t.Fatalf("repeat disposition = %d, want none", d)
	}
}

func TestDelete_DefersWhileActive(t *testing.T) {
	s := testSession(t)
	s.Enable()
	nextCommand(t, s)

	if s.Delete() {
		t.Fatal("Delete completed while the engine owned the session")
	}
	if s.State() != StateLimping {
		t.Fatalf("state = %s, want limping", s.State())
	}
	msg, ok := nextCommand(t, s).(Disable)
	if !ok {
		t.Fatal("no disable queued for the deferred delete")
	}
	if msg.Notification == nil || msg.Notification.Subcode != bgp.CeasePeerDeconfigured {
		t.Errorf("notification = %s, want cease/peer-deconfigured", msg.Notification)
	}

	open := s.OpenSent()
	d := s.HandleEvent(Event{Kind: EventDisabled, Stopped: true})
	if d != DispositionDelete {
		t.Fatalf("disposition = %d, want delete", d)
	}
	if s.State() != StateIdle {
		t.Fatalf("state = %s, want idle after free", s.State())
	}
	if !open.Released() {
		t.Error("outbound set not released on delete")
	}
}

func TestDelete_ImmediateWhenInactive(t *testing.T) {
	s := testSession(t)
	if !s.Delete() {
		t.Fatal("Delete deferred on an idle session")
	}
	if s.State() != StateIdle {
		t.Fatalf("state = %s", s.State())
	}
}

func TestFlowControl(t *testing.T) {
	s := testSession(t)

	if !s.IsXON() {
		t.Fatal("fresh session has no credits")
	}

	// Spending down to the kick threshold asks for a grant exactly once.
	kicks := 0
	for i := 0; i < XONRefresh-XONKick; i++ {
		if s.DecFlowCount() {
			kicks++
		}
	}
	if kicks != 1 {
		t.Fatalf("kicks = %d over the kick window, want 1", kicks)
	}

	// Credits keep draining below the threshold without further kicks.
	for i := 0; i < XONKick; i++ {
		if s.DecFlowCount() {
			t.Fatal("kick below the threshold")
		}
	}
	if s.IsXON() {
		t.Fatal("credits not exhausted")
	}

	s.RefreshFlow()
	if !s.IsXON() {
		t.Fatal("RefreshFlow did not restore credits")
	}
	if s.flowControl != XONRefresh {
		t.Fatalf("credits = %d, want %d", s.flowControl, XONRefresh)
	}
}

func TestSendUpdate_MarksKick(t *testing.T) {
	s := testSession(t)
	s.Enable()
	nextCommand(t, s)

	for i := 0; i < XONRefresh-XONKick; i++ {
		s.SendUpdate([]byte{byte(i)})
	}
	for i := 0; i < XONRefresh-XONKick; i++ {
		u, ok := nextCommand(t, s).(Update)
		if !ok {
			t.Fatalf("command %d is not Update", i)
		}
		wantKick := i == XONRefresh-XONKick-1
		if u.XONKick != wantKick {
			t.Fatalf("update %d: XONKick = %v, want %v", i, u.XONKick, wantKick)
		}
	}
}

func TestSetTTL(t *testing.T) {
	s := testSession(t)

	// Inactive: recorded but not sent.
	s.SetTTL(255, true)
	if ttl, gtsm := s.TTL(); ttl != 255 || !gtsm {
		t.Fatalf("TTL = %d/%v", ttl, gtsm)
	}
	if s.toEngine.Len() != 0 {
		t.Fatal("TTL change sent while inactive")
	}

	s.Enable()
	nextCommand(t, s)

	// Enable restages from peer configuration.
	if ttl, gtsm := s.TTL(); ttl != 0 || gtsm {
		t.Fatalf("TTL after enable = %d/%v, want config values", ttl, gtsm)
	}

	s.SetTTL(2, false)
	msg, ok := nextCommand(t, s).(TTLChange)
	if !ok {
		t.Fatal("no TTLChange queued for the live session")
	}
	if msg.TTL != 2 || msg.GTSM {
		t.Errorf("TTLChange = %d/%v", msg.TTL, msg.GTSM)
	}
}

func TestEngineGuard_Establish(t *testing.T) {
	s := testSession(t)
	s.Enable()
	nextCommand(t, s)

	recv := capability.New()
	recv.ASN = 65001
	local := netip.MustParseAddrPort("10.0.0.1:179")
	remote := netip.MustParseAddrPort("192.0.2.1:40001")

	g := s.LockEngine()
	g.SetActive(true)
	g.Establish(&recv, 90*time.Second, 30*time.Second, true, true, false, false, local, remote)
	g.Unlock()

	if recv != nil {
		t.Fatal("received set not moved out of the caller's slot")
	}
	if s.OpenReceived() == nil || s.OpenReceived().ASN != 65001 {
		t.Fatal("inbound slot not deposited")
	}

	hold, keepalive, as4, refreshPre, orfPre := s.Negotiated()
	if hold != 90*time.Second || keepalive != 30*time.Second {
		t.Errorf("timers = %s/%s", hold, keepalive)
	}
	if !as4 || !refreshPre || orfPre {
		t.Errorf("encodings = as4 %v, refreshPre %v, orfPre %v", as4, refreshPre, orfPre)
	}
	gotLocal, gotRemote := s.Addresses()
	if gotLocal != local || gotRemote != remote {
		t.Errorf("addresses = %s, %s", gotLocal, gotRemote)
	}
	if !s.IsActive() {
		t.Error("session not active after SetActive")
	}
}

func TestEngineGuard_SetActiveClearsAccept(t *testing.T) {
	s := testSession(t)
	g := s.LockEngine()
	g.SetActive(true)
	g.SetAccept(true)
	g.Unlock()

	if !s.AcceptReady() {
		t.Fatal("accept flag not set")
	}

	g = s.LockEngine()
	g.SetActive(false)
	g.Unlock()

	if s.AcceptReady() {
		t.Fatal("accept flag survived deactivation")
	}
}

func TestWithEngine_ReentrantWithHeldGuard(t *testing.T) {
	s := testSession(t)

	g := s.LockEngine()
	defer g.Unlock()

	// Reuses the held guard instead of deadlocking on a second Lock.
	ran := false
	s.WithEngine(g, func(inner *EngineGuard) {
		ran = true
		if inner != g {
			t.Error("held guard not reused")
		}
	})
	if !ran {
		t.Fatal("fn not invoked")
	}

	// A guard for a different session does not count as held.
	other := testSession(t)
	other.WithEngine(g, func(inner *EngineGuard) {
		if inner == g {
			t.Error("foreign guard reused")
		}
		if inner.Session() != other {
			t.Error("guard bound to the wrong session")
		}
	})
}

func TestStats_Snapshot(t *testing.T) {
	s := testSession(t)

	g := s.LockEngine()
	g.Stats().UpdateOut = 3
	g.CountUpdateIn(time.Unix(1700000000, 0))
	g.CountUpdateIn(time.Unix(1700000060, 0))
	g.Unlock()

	snap := s.Stats()
	if snap.UpdateOut != 3 || snap.UpdateIn != 2 {
		t.Fatalf("counters = out %d, in %d", snap.UpdateOut, snap.UpdateIn)
	}
	if !snap.UpdateTime.Equal(time.Unix(1700000060, 0)) {
		t.Fatalf("UpdateTime = %s", snap.UpdateTime)
	}

	// The snapshot is a copy.
	snap.UpdateOut = 99
	if s.Stats().UpdateOut != 3 {
		t.Fatal("snapshot aliases live counters")
	}
}

func TestSession_ConcurrentStatusReads(t *testing.T) {
	// Status endpoints and the BGP Engine read the session from other
	// goroutines while the Routing Engine walks the state machine. Run
	// under the race detector, this fails if any accessor bypasses the
	// lock.
	s := testSession(t)

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			default:
			}
			s.IsActive()
			s.State()
			s.Stats()
			s.Negotiated()
			s.Addresses()
		}
	}()

	for i := 0; i < 500; i++ {
		s.Enable()
		if d := s.HandleEvent(Event{Kind: EventTCPDropped, Stopped: true}); d != DispositionLimping {
			t.Fatalf("iteration %d: disposition = %d, want limping", i, d)
		}
		if d := s.HandleEvent(Event{Kind: EventDisabled, Stopped: true}); d != DispositionStopped {
			t.Fatalf("iteration %d: disposition = %d, want stopped", i, d)
		}
	}

	close(done)
	wg.Wait()

	if s.State() != StateDisabled {
		t.Fatalf("state = %s", s.State())
	}
}

func TestIsActive_IndependentOfState(t *testing.T) {
	// The engine-side gate follows the engine's own flag, not the
	// Routing Engine's state machine.
	s := testSession(t)
	s.Enable()

	if s.IsActive() {
		t.Fatal("active before the engine picked the session up")
	}

	g := s.LockEngine()
	g.SetActive(true)
	g.Unlock()

	// A disable transitions the state to limping, but the engine keeps
	// owning the connections until it acknowledges the stop.
	s.Disable(nil)
	if !s.IsActive() {
		t.Fatal("engine flag dropped by a state transition")
	}

	g = s.LockEngine()
	g.SetActive(false)
	g.Unlock()
	if s.IsActive() {
		t.Fatal("active after the engine released the session")
	}
}

func TestPostEvent_Routing(t *testing.T) {
	s := testSession(t)
	n := bgp.NewNotification(bgp.NotifyCease, bgp.CeaseAdminShutdown, nil)
	s.PostEvent(EventNotification, n, nil, ConnSecondary, true)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	notice, ok := s.toRouting.Receive(ctx)
	if !ok {
		t.Fatal("no notice queued")
	}
	ev, ok := notice.Msg.(Event)
	if !ok {
		t.Fatalf("notice is %T, want Event", notice.Msg)
	}
	if ev.Kind != EventNotification || !ev.Stopped || ev.Ordinal != ConnSecondary {
		t.Errorf("event = %+v", ev)
	}
	if ev.Notification != n {
		t.Error("notification not carried through")
	}
}
