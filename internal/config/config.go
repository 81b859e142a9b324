package config

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/netip"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/route-beacon/bgp-sessiond/internal/bgp"
	"github.com/route-beacon/bgp-sessiond/internal/peer"
	"github.com/twmb/franz-go/pkg/sasl"
	"github.com/twmb/franz-go/pkg/sasl/plain"
)

type Config struct {
	Service Service      `koanf:"service"`
	Router  Router       `koanf:"router"`
	Events  Events       `koanf:"events"`
	Peers   []PeerConfig `koanf:"peers"`
}

type Service struct {
	InstanceID             string `koanf:"instance_id"`
	HTTPListen             string `koanf:"http_listen"`
	LogLevel               string `koanf:"log_level"`
	ShutdownTimeoutSeconds int    `koanf:"shutdown_timeout_seconds"`
	RetryWaitSeconds       int    `koanf:"retry_wait_seconds"`
}

// Router is the routing-instance level configuration every session
// inherits.
type Router struct {
	ID                 string `koanf:"id"` // router ID, IPv4
	AS                 uint32 `koanf:"as"`
	AS2Only            bool   `koanf:"as2_only"`
	GracefulRestart    bool   `koanf:"graceful_restart"`
	RestartTimeSeconds uint16 `koanf:"restart_time_seconds"`
}

type Events struct {
	Brokers          []string   `koanf:"brokers"` // empty disables the journal
	Topic            string     `koanf:"topic"`
	ClientID         string     `koanf:"client_id"`
	TLS              TLSConfig  `koanf:"tls"`
	SASL             SASLConfig `koanf:"sasl"`
	CompressPayloads bool       `koanf:"compress_payloads"`
}

type TLSConfig struct {
	Enabled  bool   `koanf:"enabled"`
	CAFile   string `koanf:"ca_file"`
	CertFile string `koanf:"cert_file"`
	KeyFile  string `koanf:"key_file"`
}

type SASLConfig struct {
	Enabled   bool   `koanf:"enabled"`
	Mechanism string `koanf:"mechanism"`
	Username  string `koanf:"username"`
	Password  string `koanf:"password"`
}

type PeerConfig struct {
	Address string `koanf:"address"`
	Port    uint16 `koanf:"port"`
	AS      uint32 `koanf:"as"`
	LocalAS uint32 `koanf:"local_as"` // local-as override; 0 means unset

	HoldTimeSeconds  uint16 `koanf:"hold_time_seconds"`
	KeepaliveSeconds uint16 `koanf:"keepalive_seconds"`

	Families []string `koanf:"families"`
	ORFSend  []string `koanf:"orf_send"`
	ORFRecv  []string `koanf:"orf_recv"`

	DontCapability    bool `koanf:"dont_capability"`
	DynamicCapability bool `koanf:"dynamic_capability"`
	CapOverride       bool `koanf:"cap_override"`
	CapStrict         bool `koanf:"cap_strict"`

	Connect bool `koanf:"connect"`
	Listen  bool `koanf:"listen"`

	TTL           int    `koanf:"ttl"`
	GTSM          bool   `koanf:"gtsm"`
	BindInterface string `koanf:"bind_interface"`
	Password      string `koanf:"password"`

	IdleHoldSeconds     uint16 `koanf:"idle_hold_seconds"`
	ConnectRetrySeconds uint16 `koanf:"connect_retry_seconds"`
	OpenHoldSeconds     uint16 `koanf:"open_hold_seconds"`
}

func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	// Overlay environment variables: BGP_SESSIOND_EVENTS__BROKERS → events.brokers
	if err := k.Load(env.Provider("BGP_SESSIOND_", ".", func(s string) string {
		s = strings.TrimPrefix(s, "BGP_SESSIOND_")
		s = strings.ToLower(s)
		s = strings.ReplaceAll(s, "__", ".")
		return s
	}), nil); err != nil {
		return nil, fmt.Errorf("loading env config: %w", err)
	}

	cfg := &Config{
		Service: Service{
			InstanceID:             "bgp-sessiond-1",
			HTTPListen:             ":8080",
			LogLevel:               "info",
			ShutdownTimeoutSeconds: 30,
			RetryWaitSeconds:       10,
		},
		Router: Router{
			RestartTimeSeconds: 120,
		},
		Events: Events{
			Topic:    "bgp.session.events",
			ClientID: "bgp-sessiond",
		},
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	// Split comma-separated env strings for slice fields.
	if len(cfg.Events.Brokers) == 1 && strings.Contains(cfg.Events.Brokers[0], ",") {
		cfg.Events.Brokers = strings.Split(cfg.Events.Brokers[0], ",")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Router.AS == 0 {
		return fmt.Errorf("config: router.as is required")
	}
	id, err := netip.ParseAddr(c.Router.ID)
	if err != nil || !id.Is4() {
		return fmt.Errorf("config: router.id must be an IPv4 address (got %q)", c.Router.ID)
	}
	if c.Service.ShutdownTimeoutSeconds <= 0 {
		return fmt.Errorf("config: service.shutdown_timeout_seconds must be > 0 (got %d)", c.Service.ShutdownTimeoutSeconds)
	}
	if c.Service.RetryWaitSeconds < 0 {
		return fmt.Errorf("config: service.retry_wait_seconds must be >= 0 (got %d)", c.Service.RetryWaitSeconds)
	}
	if len(c.Events.Brokers) > 0 && c.Events.Topic == "" {
		return fmt.Errorf("config: events.topic is required when events.brokers is set")
	}
	if len(c.Peers) == 0 {
		return fmt.Errorf("config: at least one peer is required")
	}

	seen := make(map[string]bool, len(c.Peers))
	for i := range c.Peers {
		p := &c.Peers[i]
		where := fmt.Sprintf("config: peers[%d]", i)

		addr, err := netip.ParseAddr(p.Address)
		if err != nil {
			return fmt.Errorf("%s: address %q is invalid: %w", where, p.Address, err)
		}
		if seen[addr.String()] {
			return fmt.Errorf("%s: duplicate peer address %s", where, addr)
		}
		seen[addr.String()] = true

		if p.AS == 0 {
			return fmt.Errorf("%s: as is required", where)
		}
		if !p.Connect && !p.Listen {
			return fmt.Errorf("%s: at least one of connect/listen must be set", where)
		}
		if len(p.Families) == 0 {
			return fmt.Errorf("%s: at least one family is required", where)
		}
		for _, lists := range []struct {
			name  string
			names []string
		}{
			{"families", p.Families},
			{"orf_send", p.ORFSend},
			{"orf_recv", p.ORFRecv},
		} {
			for _, name := range lists.names {
				if _, ok := bgp.FamilyFromName(name); !ok {
					return fmt.Errorf("%s: %s has unknown family %q", where, lists.name, name)
				}
			}
		}
		if p.TTL < 0 || p.TTL > 255 {
			return fmt.Errorf("%s: ttl must be 0..255 (got %d)", where, p.TTL)
		}
		if p.GTSM && p.TTL == 0 {
			return fmt.Errorf("%s: gtsm requires a nonzero ttl", where)
		}
	}
	return nil
}

func familySet(names []string) bgp.FamilySet {
	var s bgp.FamilySet
	for _, name := range names {
		if f, ok := bgp.FamilyFromName(name); ok {
			s = s.With(f)
		}
	}
	return s
}

// PeerConfigs converts the validated configuration into peer snapshots.
func (c *Config) PeerConfigs() []peer.Config {
	routerID, _ := netip.ParseAddr(c.Router.ID)

	out := make([]peer.Config, 0, len(c.Peers))
	for i := range c.Peers {
		p := &c.Peers[i]
		addr, _ := netip.ParseAddr(p.Address)

		out = append(out, peer.Config{
			Address:           addr,
			Port:              p.Port,
			AS:                p.AS,
			LocalAS:           c.Router.AS,
			ChangeLocalAS:     p.LocalAS,
			RouterID:          routerID,
			HoldTime:          p.HoldTimeSeconds,
			Keepalive:         p.KeepaliveSeconds,
			Active:            familySet(p.Families),
			SendORF:           familySet(p.ORFSend),
			RecvORF:           familySet(p.ORFRecv),
			DontCapability:    p.DontCapability,
			DynamicCapability: p.DynamicCapability,
			GracefulRestart:   c.Router.GracefulRestart,
			RestartTime:       c.Router.RestartTimeSeconds,
			AS2Only:           c.Router.AS2Only,
			CapOverride:       p.CapOverride,
			CapStrict:         p.CapStrict,
			Connect:           p.Connect,
			Listen:            p.Listen,
			TTL:               p.TTL,
			GTSM:              p.GTSM,
			BindInterface:     p.BindInterface,
			Password:          p.Password,
			IdleHoldTime:      p.IdleHoldSeconds,
			ConnectRetryTime:  p.ConnectRetrySeconds,
			OpenHoldTime:      p.OpenHoldSeconds,
		})
	}
	return out
}

// BuildTLSConfig creates a *tls.Config from the events TLS settings.
// Returns nil if TLS is disabled.
func (e *Events) BuildTLSConfig() (*tls.Config, error) {
	if !e.TLS.Enabled {
		return nil, nil
	}
	tlsCfg := &tls.Config{}
	if e.TLS.CAFile != "" {
		caPEM, err := os.ReadFile(e.TLS.CAFile)
		if err != nil {
			return nil, fmt.Errorf("reading CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caPEM) {
			return nil, fmt.Errorf("failed to parse CA certificate")
		}
		tlsCfg.RootCAs = pool
	}
	if e.TLS.CertFile != "" && e.TLS.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(e.TLS.CertFile, e.TLS.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("loading client certificate: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	}
	return tlsCfg, nil
}

// BuildSASLMechanism creates a SASL mechanism from the events SASL
// settings. Returns nil if SASL is disabled.
func (e *Events) BuildSASLMechanism() sasl.Mechanism {
	if !e.SASL.Enabled {
		return nil
	}
	switch strings.ToUpper(e.SASL.Mechanism) {
	case "PLAIN":
		return plain.Auth{User: e.SASL.Username, Pass: e.SASL.Password}.AsMechanism()
	default:
		return nil
	}
}
