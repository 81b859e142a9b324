package bgp

import "fmt"

// NOTIFICATION error codes.
const (
	NotifyHeaderError      uint8 = 1
	NotifyOpenError        uint8 = 2
	NotifyUpdateError      uint8 = 3
	NotifyHoldTimerExpired uint8 = 4
	NotifyFSMError         uint8 = 5
	NotifyCease            uint8 = 6
)

// Cease subcodes (RFC 4486).
const (
	CeaseMaxPrefixes         uint8 = 1
	CeaseAdminShutdown       uint8 = 2
	CeasePeerDeconfigured    uint8 = 3
	CeaseAdminReset          uint8 = 4
	CeaseConnectionRejected  uint8 = 5
	CeaseConfigChange        uint8 = 6
	CeaseCollisionResolution uint8 = 7
	CeaseOutOfResources      uint8 = 8
)

var notifyCodeNames = map[uint8]string{
	NotifyHeaderError:      "Message Header Error",
	NotifyOpenError:        "OPEN Message Error",
	NotifyUpdateError:      "UPDATE Message Error",
	NotifyHoldTimerExpired: "Hold Timer Expired",
	NotifyFSMError:         "Finite State Machine Error",
	NotifyCease:            "Cease",
}

// Notification is one BGP NOTIFICATION message: error code, subcode and
// any data octets, plus whether it was received from the peer or sent
// (or is to be sent) by us.
type Notification struct {
	Code     uint8
	Subcode  uint8
	Data     []byte
	Received bool
}

// NewNotification builds a Notification to send, copying data.
func NewNotification(code, subcode uint8, data []byte) *Notification {
	n := &Notification{Code: code, Subcode: subcode}
	if len(data) > 0 {
		n.Data = append([]byte(nil), data...)
	}
	return n
}

func (n *Notification) String() string {
	if n == nil {
		return "<none>"
	}
	name, ok := notifyCodeNames[n.Code]
	if !ok {
		name = "Unknown"
	}
	return fmt.Sprintf("%s (%d/%d)", name, n.Code, n.Subcode)
}
