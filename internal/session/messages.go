package session

import (
	"github.com/route-beacon/bgp-sessiond/internal/bgp"
	"github.com/route-beacon/bgp-sessiond/internal/transport"
)

// EventKind says what a session event reports.
type EventKind uint8

const (
	EventNone EventKind = iota
	EventEstablished
	EventStart
	EventStop
	EventRetry
	EventOpenRejected
	EventInvalidMessage
	EventFSMError
	EventNotification // NOTIFICATION received from the peer
	EventTCPDropped
	EventTCPOpenFailed
	EventTCPError
	EventDisabled // acknowledgement of a disable
)

var eventKindNames = [...]string{
	EventNone:           "none",
	EventEstablished:    "established",
	EventStart:          "start",
	EventStop:           "stop",
	EventRetry:          "retry",
	EventOpenRejected:   "open-rejected",
	EventInvalidMessage: "invalid-message",
	EventFSMError:       "fsm-error",
	EventNotification:   "notification-received",
	EventTCPDropped:     "tcp-dropped",
	EventTCPOpenFailed:  "tcp-open-failed",
	EventTCPError:       "tcp-error",
	EventDisabled:       "disabled",
}

func (k EventKind) String() string {
	if int(k) < len(eventKindNames) {
		return eventKindNames[k]
	}
	return "invalid"
}

// Command is one message to the BGP Engine, addressed to a session.
type Command struct {
	Session *Session
	Msg     CommandPayload
}

// Notice is one message to the Routing Engine, addressed to a session.
type Notice struct {
	Session *Session
	Msg     NoticePayload
}

// CommandPayload is implemented by message bodies the Routing Engine
// sends to the BGP Engine.
type CommandPayload interface{ commandPayload() }

// NoticePayload is implemented by message bodies the BGP Engine sends
// to the Routing Engine.
type NoticePayload interface{ noticePayload() }

// Enable starts connecting and/or listening for the session.
type Enable struct{}

// Disable asks the BGP Engine to stop the session, optionally sending
// the notification first. It is a request: the session is not back in
// Routing Engine hands until the final stopped Event arrives.
type Disable struct {
	Notification *bgp.Notification
}

// Update carries one UPDATE message body, opaque to the session core.
// XONKick asks the BGP Engine for an XON grant once it has processed
// this message. Flows in both directions.
type Update struct {
	Buf     []byte
	XONKick bool
}

// RouteRefresh carries one parsed ROUTE-REFRESH. Flows in both
// directions.
type RouteRefresh struct {
	RR *bgp.RouteRefresh
}

// EndOfRIB marks the End-of-RIB for one family. Flows in both
// directions.
type EndOfRIB struct {
	Family bgp.Family
}

// TTLChange applies a new TTL/GTSM setting to a live session.
type TTLChange struct {
	TTL  int
	GTSM bool
}

// Event reports a session lifecycle change from the BGP Engine.
// Stopped means the BGP Engine has released the session: it will
// ignore everything but Enable and Disable until re-enabled.
type Event struct {
	Kind         EventKind
	Notification *bgp.Notification // sent or received, if any
	Err          error
	Ordinal      ConnOrdinal
	Stopped      bool
}

// XON grants the Routing Engine a fresh batch of update credits.
type XON struct{}

func (Enable) commandPayload()       {}
func (Disable) commandPayload()      {}
func (Update) commandPayload()       {}
func (RouteRefresh) commandPayload() {}
func (EndOfRIB) commandPayload()     {}
func (TTLChange) commandPayload()    {}

func (Update) noticePayload()       {}
func (RouteRefresh) noticePayload() {}
func (EndOfRIB) noticePayload()     {}
func (Event) noticePayload()        {}
func (XON) noticePayload()          {}

// NewCommandQueue creates the Routing Engine → BGP Engine queue.
func NewCommandQueue() *transport.Queue[Command] {
	return transport.NewQueue[Command]()
}

// NewNoticeQueue creates the BGP Engine → Routing Engine queue.
func NewNoticeQueue() *transport.Queue[Notice] {
	return transport.NewQueue[Notice]()
}
