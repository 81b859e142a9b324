// Package routing runs the Routing Engine side of the session core:
// the consumer of the BGP Engine's notice queue. It owns every session
// that is not active, applies capability reconciliation when sessions
// establish, and decides retry policy when they stop.
package routing

import (
	"context"
	"net/netip"
	"sync"
	"time"

	"github.com/route-beacon/bgp-sessiond/internal/bgp"
	"github.com/route-beacon/bgp-sessiond/internal/capability"
	"github.com/route-beacon/bgp-sessiond/internal/metrics"
	"github.com/route-beacon/bgp-sessiond/internal/peer"
	"github.com/route-beacon/bgp-sessiond/internal/session"
	"github.com/route-beacon/bgp-sessiond/internal/transport"
	"go.uber.org/zap"
)

// Journal receives session lifecycle records for export. Nil disables
// journaling.
type Journal interface {
	Publish(ctx context.Context, rec EventRecord)
}

// EventRecord is one journaled session event.
type EventRecord struct {
	Time         time.Time
	Peer         string
	Kind         string
	State        string
	Stopped      bool
	Err          string
	Notification *bgp.Notification
}

// UpdateHandler receives inbound UPDATE bodies, route refreshes and
// End-of-RIB markers. The RIB lives elsewhere; nil drops them after
// counting.
type UpdateHandler interface {
	HandleUpdate(p *peer.Peer, buf []byte)
	HandleRouteRefresh(p *peer.Peer, rr *bgp.RouteRefresh)
	HandleEndOfRIB(p *peer.Peer, f bgp.Family)
}

type entry struct {
	peer    *peer.Peer
	session *session.Session
	adminUp bool
	retry   *time.Timer
}

// Engine is the Routing Engine.
type Engine struct {
	in        *transport.Queue[session.Notice]
	toEngine  *transport.Queue[session.Command]
	logger    *zap.Logger
	journal   Journal
	updates   UpdateHandler
	retryWait time.Duration

	mu      sync.Mutex
	peers   map[netip.Addr]*entry
	retryCh chan *session.Session
}

// New creates a Routing Engine. retryWait is the idle hold applied
// before re-enabling a session that stopped on its own.
func New(in *transport.Queue[session.Notice], toEngine *transport.Queue[session.Command],
	retryWait time.Duration, journal Journal, updates UpdateHandler, logger *zap.Logger) *Engine {
	return &Engine{
		in:        in,
		toEngine:  toEngine,
		logger:    logger,
		journal:   journal,
		updates:   updates,
		retryWait: retryWait,
		peers:     make(map[netip.Addr]*entry),
		retryCh:   make(chan *session.Session, 16),
	}
}

// AddPeer registers a peer and creates its session, Idle. Call before
// Run, or from the Run goroutine.
func (e *Engine) AddPeer(p *peer.Peer) *session.Session {
	s := session.New(p, e.logger, e.toEngine, e.in)
	e.mu.Lock()
	e.peers[p.Config.Address] = &entry{peer: p, session: s}
	e.mu.Unlock()
	return s
}

// EnablePeer marks the peer administratively up and enables its
// session. Call before Run, or from the Run goroutine.
func (e *Engine) EnablePeer(addr netip.Addr) bool {
	e.mu.Lock()
	ent := e.peers[addr]
	if ent != nil {
		ent.adminUp = true
	}
	e.mu.Unlock()
	if ent == nil {
		return false
	}
	ent.session.Enable()
	metrics.StateTransitionsTotal.WithLabelValues(addr.String(), session.StateEnabled.String()).Inc()
	return true
}

// Sessions returns a snapshot of all sessions, for status reporting.
func (e *Engine) Sessions() []*session.Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*session.Session, 0, len(e.peers))
	for _, ent := range e.peers {
		out = append(out, ent.session)
	}
	return out
}

func (e *Engine) lookup(s *session.Session) *entry {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.peers[s.Peer().Config.Address]
}

// Run consumes notices until ctx is cancelled, then disables every
// active session and drains their final stopped events, bounded by
// drainTimeout.
func (e *Engine) Run(ctx context.Context, drainTimeout time.Duration) {
	notices := make(chan session.Notice)
	recvCtx, recvCancel := context.WithCancel(context.Background())
	defer recvCancel()
	go func() {
		defer close(notices)
		for {
			n, ok := e.in.Receive(recvCtx)
			if !ok {
				return
			}
			notices <- n
		}
	}()

	for {
		select {
		case <-ctx.Done():
			e.shutdown(notices, drainTimeout)
			return
		case s := <-e.retryCh:
			e.retryEnable(s)
		case n, ok := <-notices:
			if !ok {
				return
			}
			e.dispatch(n)
		}
	}
}

// shutdown requests a stop for every active session and keeps
// consuming notices until all acknowledgements arrived or the timeout
// hit. Sessions must not be considered inert before their final
// stopped event.
func (e *Engine) shutdown(notices <-chan session.Notice, timeout time.Duration) {
	n := bgp.NewNotification(bgp.NotifyCease, bgp.CeaseAdminShutdown, nil)

	e.mu.Lock()
	for _, ent := range e.peers {
		ent.adminUp = false
		if ent.retry != nil {
			ent.retry.Stop()
			ent.retry = nil
		}
	}
	sessions := make([]*session.Session, 0, len(e.peers))
	for _, ent := range e.peers {
		sessions = append(sessions, ent.session)
	}
	e.mu.Unlock()

	// Track the acknowledgement per session: a crossing engine-initiated
	// stop can produce more than one stopped event for the same session,
	// which must not count against another session's pending ack.
	pending := make(map[*session.Session]bool, len(sessions))
	for _, s := range sessions {
		if s.Disable(n) {
			pending[s] = true
		}
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for len(pending) > 0 {
		select {
		case <-deadline.C:
			e.logger.Warn("shutdown drain timeout", zap.Int("pending", len(pending)))
			return
		case notice, ok := <-notices:
			if !ok {
				return
			}
			if ev, isEvent := notice.Msg.(session.Event); isEvent && ev.Stopped {
				delete(pending, notice.Session)
			}
			e.dispatch(notice)
		}
	}
	e.logger.Info("all sessions stopped")
}

func (e *Engine) dispatch(n session.Notice) {
	s := n.Session
	p := s.Peer()
	peerLabel := p.Config.Address.String()

	switch msg := n.Msg.(type) {
	case session.Event:
		metrics.NoticesTotal.WithLabelValues("event").Inc()
		metrics.EventsTotal.WithLabelValues(peerLabel, msg.Kind.String()).Inc()
		metrics.LastEventTimestamp.WithLabelValues(peerLabel).SetToCurrentTime()
		e.handleEvent(s, msg)

	case session.XON:
		metrics.NoticesTotal.WithLabelValues("xon").Inc()
		s.RefreshFlow()

	case session.Update:
		metrics.NoticesTotal.WithLabelValues("update").Inc()
		if e.updates != nil {
			e.updates.HandleUpdate(p, msg.Buf)
		}

	case session.RouteRefresh:
		metrics.NoticesTotal.WithLabelValues("route_refresh").Inc()
		if e.updates != nil {
			e.updates.HandleRouteRefresh(p, msg.RR)
		}

	case session.EndOfRIB:
		metrics.NoticesTotal.WithLabelValues("end_of_rib").Inc()
		e.logger.Debug("end-of-rib received",
			zap.String("peer", peerLabel),
			zap.String("family", msg.Family.String()),
		)
		if e.updates != nil {
			e.updates.HandleEndOfRIB(p, msg.Family)
		}
	}
}

func (e *Engine) handleEvent(s *session.Session, ev session.Event) {
	p := s.Peer()
	peerLabel := p.Config.Address.String()

	disposition := s.HandleEvent(ev)
	metrics.StateTransitionsTotal.WithLabelValues(peerLabel, s.State().String()).Inc()

	e.logger.Info("session event",
		zap.String("peer", peerLabel),
		zap.String("kind", ev.Kind.String()),
		zap.Bool("stopped", ev.Stopped),
		zap.String("state", s.State().String()),
		zap.String("notification", ev.Notification.String()),
		zap.Error(ev.Err),
	)

	if e.journal != nil {
		rec := EventRecord{
			Time:         time.Now(),
			Peer:         peerLabel,
			Kind:         ev.Kind.String(),
			State:        s.State().String(),
			Stopped:      ev.Stopped,
			Notification: ev.Notification,
		}
		if ev.Err != nil {
			rec.Err = ev.Err.Error()
		}
		e.journal.Publish(context.Background(), rec)
	}

	switch disposition {
	case session.DispositionEstablished:
		e.established(s)

	case session.DispositionStopped:
		metrics.SessionUp.WithLabelValues(peerLabel).Set(0)
		for f := bgp.Family(0); f < bgp.FamilyCount; f++ {
			metrics.NegotiatedFamilies.WithLabelValues(peerLabel, f.String()).Set(0)
		}
		e.scheduleRetry(s)

	case session.DispositionDelete:
		metrics.SessionUp.DeleteLabelValues(peerLabel)
		for f := bgp.Family(0); f < bgp.FamilyCount; f++ {
			metrics.NegotiatedFamilies.DeleteLabelValues(peerLabel, f.String())
		}
		e.mu.Lock()
		delete(e.peers, p.Config.Address)
		e.mu.Unlock()
		e.logger.Info("session deleted", zap.String("peer", peerLabel))
	}
}

// established runs capability reconciliation over the received set and
// writes the outcome into the peer record.
func (e *Engine) established(s *session.Session) {
	p := s.Peer()
	peerLabel := p.Config.Address.String()

	recv := s.OpenReceived()
	hold, keepalive, _, _, _ := s.Negotiated()

	p.ClearReceived()
	res := capability.Reconcile(recv, capability.ReconcileInput{
		ExpectedAS:  p.Config.AS,
		LocalActive: p.Config.Active,
		Suppressed:  s.Suppressed(),
		Override:    p.Config.CapOverride,
		Strict:      p.Config.CapStrict,
		HoldTime:    uint16(hold / time.Second),
		Keepalive:   uint16(keepalive / time.Second),
	})
	res.Apply(p)

	metrics.SessionUp.WithLabelValues(peerLabel).Set(1)
	for f := bgp.Family(0); f < bgp.FamilyCount; f++ {
		v := 0.0
		if p.Negotiated[f] {
			v = 1.0
		}
		metrics.NegotiatedFamilies.WithLabelValues(peerLabel, f.String()).Set(v)
	}
	countCap := func(name string, got bool) {
		if got {
			metrics.CapabilitiesReceivedTotal.WithLabelValues(peerLabel, name).Inc()
		}
	}
	countCap("as4", res.AS4)
	countCap("route_refresh", res.RefreshForm != bgp.FormNone)
	countCap("orf_prefix", res.ORFSendForm != bgp.FormNone || res.ORFRecvForm != bgp.FormNone)
	countCap("dynamic", res.Dynamic)
	countCap("graceful_restart", res.GracefulRestart)

	e.logger.Info("session established",
		zap.String("peer", peerLabel),
		zap.String("remote_id", res.RemoteID.String()),
		zap.Uint16("hold_time", res.HoldTime),
		zap.Uint16("keepalive", res.Keepalive),
		zap.Bool("as4", res.AS4),
		zap.Int("unknown_caps", len(recv.Unknowns)),
	)
}

// retrySignalWait spaces re-posts when the retry channel is full.
const retrySignalWait = 10 * time.Millisecond

// scheduleRetry re-enables a stopped session after the idle hold, if
// the peer is still administratively up.
func (e *Engine) scheduleRetry(s *session.Session) {
	ent := e.lookup(s)
	if ent == nil || !ent.adminUp || e.retryWait <= 0 {
		return
	}
	e.mu.Lock()
	if ent.retry != nil {
		ent.retry.Stop()
	}
	ent.retry = time.AfterFunc(e.retryWait, func() { e.retrySignal(s) })
	e.mu.Unlock()
}

// retrySignal hands a due retry to the Run loop. A full channel re-arms
// the timer instead of dropping the retry: a dropped retry would strand
// the peer in Disabled with no later event to revive it.
func (e *Engine) retrySignal(s *session.Session) {
	select {
	case e.retryCh <- s:
		return
	default:
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	ent := e.peers[s.Peer().Config.Address]
	if ent == nil || !ent.adminUp {
		return
	}
	ent.retry = time.AfterFunc(retrySignalWait, func() { e.retrySignal(s) })
}

func (e *Engine) retryEnable(s *session.Session) {
	ent := e.lookup(s)
	if ent == nil || !ent.adminUp {
		return
	}
	if s.State().Active() {
		return
	}
	e.logger.Info("re-enabling session", zap.String("peer", s.Peer().Config.Address.String()))
	s.Enable()
	metrics.StateTransitionsTotal.WithLabelValues(
		s.Peer().Config.Address.String(), session.StateEnabled.String()).Inc()
}

// SendUpdate queues an update for the peer if credits allow; returns
// false on a flow-control stall.
func (e *Engine) SendUpdate(addr netip.Addr, buf []byte) bool {
	e.mu.Lock()
	ent := e.peers[addr]
	e.mu.Unlock()
	if ent == nil || ent.session.State() != session.StateEstablished {
		return false
	}
	if !ent.session.IsXON() {
		metrics.FlowStallsTotal.WithLabelValues(addr.String()).Inc()
		return false
	}
	ent.session.SendUpdate(buf)
	return true
}
