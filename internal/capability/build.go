package capability

import (
	"github.com/route-beacon/bgp-sessiond/internal/bgp"
	"github.com/route-beacon/bgp-sessiond/internal/peer"
)

// AS2Max is the largest ASN expressible in the OPEN message's 2-byte
// "My Autonomous System" field.
const AS2Max = 65535

// Advertised is the diff of peer capability-advertisement flags implied
// by building an outbound set. BuildOpen computes it instead of
// mutating the peer; the caller applies it with peer-side bookkeeping.
type Advertised struct {
	AS4     bool
	Refresh bool
	Dynamic bool
	Restart bool
}

// Apply folds the advertisement diff into the peer's capability flags.
func (a Advertised) Apply(p *peer.Peer) {
	if a.AS4 {
		p.Caps.AS4Advertised = true
	}
	if a.Refresh {
		p.Caps.RefreshAdvertised = true
	}
	if a.Dynamic {
		p.Caps.DynamicAdvertised = true
	}
	if a.Restart {
		p.Caps.RestartAdvertised = true
	}
}

// BuildOpen constructs the capability set to advertise for a peering,
// from the peer's configuration snapshot. Construction is deterministic:
// the same snapshot always yields an identical set.
func BuildOpen(cfg *peer.Config) (*Set, Advertised) {
	s := New()
	var adv Advertised

	// Negotiating ASN: the local-as override wins when configured.
	if cfg.ChangeLocalAS != 0 {
		s.ASN = cfg.ChangeLocalAS
	} else {
		s.ASN = cfg.LocalAS
	}

	// Hold time floor of 3 seconds per RFC 4271, unless disabled.
	s.HoldTime = cfg.HoldTime
	if s.HoldTime < 3 && s.HoldTime != 0 {
		s.HoldTime = 3
	}

	// Keepalive never exceeds a third of the hold time. HoldTime cannot
	// be 1 or 2 here.
	s.Keepalive = cfg.Keepalive
	if s.Keepalive > s.HoldTime/3 {
		s.Keepalive = s.HoldTime / 3
	}

	s.RouterID = cfg.RouterID

	s.CanCapability = !cfg.DontCapability

	// Announce as a 4-byte-ASN speaker unless the instance is pinned to
	// 2-byte operation.
	adv.AS4 = !cfg.AS2Only
	s.CanAS4 = adv.AS4
	if s.ASN > AS2Max {
		s.ASN2 = peer.ASTrans
	} else {
		s.ASN2 = uint16(s.ASN)
	}

	s.Families = cfg.Active

	// Route refresh: always, both encodings.
	adv.Refresh = true
	s.RouteRefresh = bgp.FormBoth

	s.ORFSend = cfg.SendORF
	s.ORFRecv = cfg.RecvORF
	if (s.ORFSend | s.ORFRecv).Any() {
		s.ORFPrefix = bgp.FormBoth
	} else {
		s.ORFPrefix = bgp.FormNone
	}

	s.CanDynamic = cfg.DynamicCapability
	adv.Dynamic = s.CanDynamic

	if cfg.GracefulRestart {
		adv.Restart = true
		s.CanGracefulRestart = true
		s.RestartTime = cfg.RestartTime
	}

	// This implementation never preserves forwarding state and never
	// claims a prior restart.
	s.CanPreserve = 0
	s.HasPreserved = 0
	s.HasRestarted = false

	return s, adv
}
