package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	SessionUp = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bgpsessiond_session_up",
			Help: "Session established (0/1).",
		},
		[]string{"peer"},
	)

	StateTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bgpsessiond_state_transitions_total",
			Help: "Session state machine transitions.",
		},
		[]string{"peer", "state"},
	)

	CommandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bgpsessiond_engine_commands_total",
			Help: "Commands consumed by the BGP engine, by type.",
		},
		[]string{"type"},
	)

	NoticesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bgpsessiond_routing_notices_total",
			Help: "Notices consumed by the routing engine, by type.",
		},
		[]string{"type"},
	)

	EventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bgpsessiond_session_events_total",
			Help: "Session lifecycle events, by kind.",
		},
		[]string{"peer", "kind"},
	)

	XONGrantsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bgpsessiond_xon_grants_total",
			Help: "Flow-control credit grants issued by the BGP engine.",
		},
	)

	FlowStallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bgpsessiond_flow_stalls_total",
			Help: "Updates deferred because the session was out of credits.",
		},
		[]string{"peer"},
	)

	NegotiatedFamilies = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bgpsessiond_negotiated_family",
			Help: "Family negotiated on the session (0/1).",
		},
		[]string{"peer", "family"},
	)

	CapabilitiesReceivedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bgpsessiond_capabilities_received_total",
			Help: "Capabilities received from peers across establishes.",
		},
		[]string{"peer", "capability"},
	)

	LastEventTimestamp = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bgpsessiond_last_event_timestamp_seconds",
			Help: "Unix timestamp of the last session event.",
		},
		[]string{"peer"},
	)
)

func Register() {
	prometheus.MustRegister(
		SessionUp,
		StateTransitionsTotal,
		CommandsTotal,
		NoticesTotal,
		EventsTotal,
		XONGrantsTotal,
		FlowStallsTotal,
		NegotiatedFamilies,
		CapabilitiesReceivedTotal,
		LastEventTimestamp,
	)
}
