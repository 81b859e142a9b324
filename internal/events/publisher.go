// Package events journals session lifecycle events to Kafka for the
// rest of the route-beacon stack. Publishing is fire-and-forget: a
// broker outage never blocks the Routing Engine.
package events

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/route-beacon/bgp-sessiond/internal/routing"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/sasl"
	"go.uber.org/zap"
)

var zstdEncoder, _ = zstd.NewWriter(nil)

type Publisher struct {
	client   *kgo.Client
	topic    string
	compress bool
	logger   *zap.Logger
}

// NewPublisher connects a producer for the given topic. tlsCfg and
// saslMech may be nil.
func NewPublisher(brokers []string, topic, clientID string, tlsCfg *tls.Config, saslMech sasl.Mechanism, compress bool, logger *zap.Logger) (*Publisher, error) {
	opts := []kgo.Opt{
		kgo.SeedBrokers(brokers...),
		kgo.ClientID(clientID),
		kgo.ProducerLinger(10 * time.Millisecond),
	}
	if tlsCfg != nil {
		opts = append(opts, kgo.DialTLSConfig(tlsCfg))
	}
	if saslMech != nil {
		opts = append(opts, kgo.SASL(saslMech))
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, err
	}
	return &Publisher{client: client, topic: topic, compress: compress, logger: logger}, nil
}

// wireEvent is the journal record layout.
type wireEvent struct {
	Time           string `json:"time"`
	Peer           string `json:"peer"`
	Kind           string `json:"kind"`
	State          string `json:"state"`
	Stopped        bool   `json:"stopped"`
	Err            string `json:"err,omitempty"`
	NotifyCode     uint8  `json:"notify_code,omitempty"`
	NotifySubcode  uint8  `json:"notify_subcode,omitempty"`
	NotifyData     []byte `json:"notify_data,omitempty"`
	DataCompressed bool   `json:"data_compressed,omitempty"`
}

// Publish journals one event record. Errors are logged, not returned.
func (p *Publisher) Publish(ctx context.Context, rec routing.EventRecord) {
	ev := wireEvent{
		Time:    rec.Time.UTC().Format(time.RFC3339Nano),
		Peer:    rec.Peer,
		Kind:    rec.Kind,
		State:   rec.State,
		Stopped: rec.Stopped,
		Err:     rec.Err,
	}
	if n := rec.Notification; n != nil {
		ev.NotifyCode = n.Code
		ev.NotifySubcode = n.Subcode
		if len(n.Data) > 0 {
			if p.compress {
				ev.NotifyData = zstdEncoder.EncodeAll(n.Data, nil)
				ev.DataCompressed = true
			} else {
				ev.NotifyData = n.Data
			}
		}
	}

	value, err := json.Marshal(ev)
	if err != nil {
		p.logger.Error("event marshal failed", zap.Error(err))
		return
	}

	p.client.Produce(ctx, &kgo.Record{
		Topic: p.topic,
		Key:   []byte(rec.Peer),
		Value: value,
	}, func(_ *kgo.Record, err error) {
		if err != nil {
			p.logger.Error("event publish failed", zap.Error(err))
		}
	})
}

// Ping checks broker connectivity, for readiness probes.
func (p *Publisher) Ping(ctx context.Context) error {
	return p.client.Ping(ctx)
}

// Close flushes and releases the producer.
func (p *Publisher) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.client.Flush(ctx); err != nil {
		p.logger.Warn("event flush on close failed", zap.Error(err))
	}
	p.client.Close()
}
