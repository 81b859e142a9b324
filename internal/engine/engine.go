// Package engine runs the BGP Engine: the consumer of the Routing
// Engine's command queue. It owns the engine-private subsection of
// every active session and drives an injected connection layer.
//
// TCP establishment, the wire FSM and the OPEN codec live behind the
// Driver interface; this package only routes commands, keeps the
// engine-side session bookkeeping and grants flow-control credits.
package engine

import (
	"context"
	"time"

	"github.com/route-beacon/bgp-sessiond/internal/bgp"
	"github.com/route-beacon/bgp-sessiond/internal/metrics"
	"github.com/route-beacon/bgp-sessiond/internal/session"
	"github.com/route-beacon/bgp-sessiond/internal/transport"
	"go.uber.org/zap"
)

// Driver is the connection layer. Implementations run the TCP and wire
// protocol state machines for a session: after Start they must
// eventually either deposit an established OPEN exchange (via
// EngineGuard.Establish, then PostEvent with EventEstablished) or post
// a stopped event. Stop must always end with a stopped event, which is
// the Routing Engine's acknowledgement that the session is released.
//
// Of the up to two parallel connection attempts, whichever completes
// OPEN negotiation first wins; abandoning the loser is the driver's
// job.
type Driver interface {
	Start(s *session.Session)
	Stop(s *session.Session, n *bgp.Notification)
	SendUpdate(s *session.Session, buf []byte) error
	SendRouteRefresh(s *session.Session, rr *bgp.RouteRefresh) error
	SendEndOfRIB(s *session.Session, f bgp.Family) error
	SetTTL(s *session.Session, ttl int, gtsm bool)
}

// Engine consumes session commands. Externally it is the single owner
// of all engine-private session state.
type Engine struct {
	in     *transport.Queue[session.Command]
	driver Driver
	logger *zap.Logger
}

// New creates a BGP Engine consuming commands from in.
func New(in *transport.Queue[session.Command], driver Driver, logger *zap.Logger) *Engine {
	return &Engine{in: in, driver: driver, logger: logger}
}

// Run consumes commands until ctx is cancelled or the queue closes.
func (e *Engine) Run(ctx context.Context) {
	for {
		cmd, ok := e.in.Receive(ctx)
		if !ok {
			e.logger.Info("bgp engine stopped")
			return
		}
		e.dispatch(cmd)
	}
}

func (e *Engine) dispatch(cmd session.Command) {
	s := cmd.Session

	switch msg := cmd.Msg.(type) {
	case session.Enable:
		s.WithEngine(nil, func(g *session.EngineGuard) {
			g.SetActive(true)
		})
		metrics.CommandsTotal.WithLabelValues("enable").Inc()
		e.driver.Start(s)

	case session.Disable:
		metrics.CommandsTotal.WithLabelValues("disable").Inc()
		if s.IsActive() {
			e.driver.Stop(s, msg.Notification)
			return
		}
		// Nothing running: acknowledge immediately so the Routing
		// Engine's drain completes.
		s.PostEvent(session.EventDisabled, msg.Notification, nil, session.ConnPrimary, true)

	case session.Update:
		if !s.IsActive() {
			return
		}
		metrics.CommandsTotal.WithLabelValues("update").Inc()
		if err := e.driver.SendUpdate(s, msg.Buf); err != nil {
			e.logger.Warn("update send failed", zap.Error(err))
			return
		}
		s.WithEngine(nil, func(g *session.EngineGuard) {
			g.Stats().UpdateOut++
		})
		if msg.XONKick {
			s.PostXON()
			metrics.XONGrantsTotal.Inc()
		}

	case session.RouteRefresh:
		if !s.IsActive() {
			return
		}
		metrics.CommandsTotal.WithLabelValues("route_refresh").Inc()
		if err := e.driver.SendRouteRefresh(s, msg.RR); err != nil {
			e.logger.Warn("route refresh send failed", zap.Error(err))
			return
		}
		s.WithEngine(nil, func(g *session.EngineGuard) {
			g.Stats().RefreshOut++
		})

	case session.EndOfRIB:
		if !s.IsActive() {
			return
		}
		metrics.CommandsTotal.WithLabelValues("end_of_rib").Inc()
		if err := e.driver.SendEndOfRIB(s, msg.Family); err != nil {
			e.logger.Warn("end-of-rib send failed", zap.Error(err))
			return
		}
		s.WithEngine(nil, func(g *session.EngineGuard) {
			g.Stats().UpdateOut++
		})

	case session.TTLChange:
		metrics.CommandsTotal.WithLabelValues("ttl_change").Inc()
		s.WithEngine(nil, func(g *session.EngineGuard) {
			g.ApplyTTL(msg.TTL, msg.GTSM)
		})
		if s.IsActive() {
			e.driver.SetTTL(s, msg.TTL, msg.GTSM)
		}
	}
}

// NoDriver is a Driver with no connection layer behind it. Every
// started session fails after a short delay with a TCP-open-failed
// stopped event, leaving retry policy to the Routing Engine. It stands
// in wherever the real connection layer is not wired.
type NoDriver struct {
	Delay time.Duration
}

func (d NoDriver) Start(s *session.Session) {
	go func() {
		if d.Delay > 0 {
			time.Sleep(d.Delay)
		}
		s.WithEngine(nil, func(g *session.EngineGuard) {
			g.SetActive(false)
		})
		s.PostEvent(session.EventTCPOpenFailed, nil, nil, session.ConnPrimary, true)
	}()
}

func (d NoDriver) Stop(s *session.Session, n *bgp.Notification) {
	s.WithEngine(nil, func(g *session.EngineGuard) {
		g.SetActive(false)
	})
	s.PostEvent(session.EventDisabled, n, nil, session.ConnPrimary, true)
}

func (d NoDriver) SendUpdate(*session.Session, []byte) error                  { return nil }
func (d NoDriver) SendRouteRefresh(*session.Session, *bgp.RouteRefresh) error { return nil }
func (d NoDriver) SendEndOfRIB(*session.Session, bgp.Family) error            { return nil }
func (d NoDriver) SetTTL(*session.Session, int, bool)                         {}
