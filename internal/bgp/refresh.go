package bgp

// ORF actions carried in a route-refresh ORF entry.
const (
	ORFActionAdd       uint8 = 0
	ORFActionRemove    uint8 = 1
	ORFActionRemoveAll uint8 = 2
)

// ORFEntry is one outbound-route-filter instruction carried in a
// ROUTE-REFRESH message. The entry body is opaque here; the wire codec
// owns its layout.
type ORFEntry struct {
	Type   uint8
	Action uint8
	Body   []byte
}

// RouteRefresh is one parsed ROUTE-REFRESH message, passed through the
// session core between the two engines without interpretation.
type RouteRefresh struct {
	Family  Family
	Defer   bool // when-to-refresh: defer until EOR of ORF exchange
	Entries []ORFEntry
}
