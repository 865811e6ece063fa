// Package natsbroker implements broker.Broker on top of NATS JetStream.
// NATS subjects are dot-segmented and its wildcard tokens (`*` for one
// segment, `>` for the trailing rest) are exactly the wildcard contract
// spec.md §4.A requires, so subject patterns pass through unchanged.
// JetStream consumers provide replay-by-sequence for `from-event-id` and
// durable queue-group consumers for competing-consumer semantics.
package natsbroker

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/relaymcp/relay/broker"
)

// Broker adapts a JetStream context to broker.Broker. Every publish target
// subject must fall under StreamSubjects so JetStream can persist it for
// replay; a stream named StreamName is created (or reused) at Dial time.
type Broker struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	stream jetstream.Stream

	streamName     string
	streamSubjects []string
}

// Options configures Dial.
type Options struct {
	URL            string
	StreamName     string   // default "MCP"
	StreamSubjects []string // default ["mcp.>"]
	MaxAge         time.Duration
}

// Dial connects to NATS and ensures the backing JetStream stream exists.
func Dial(ctx context.Context, opts Options) (*Broker, error) {
	if opts.StreamName == "" {
		opts.StreamName = "MCP"
	}
	if len(opts.StreamSubjects) == 0 {
		opts.StreamSubjects = []string{"mcp.>"}
	}

	nc, err := nats.Connect(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("natsbroker: connect: %w", err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("natsbroker: jetstream: %w", err)
	}
	stream, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     opts.StreamName,
		Subjects: opts.StreamSubjects,
		MaxAge:   opts.MaxAge,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("natsbroker: create stream: %w", err)
	}

	return &Broker{
		nc:             nc,
		js:             js,
		stream:         stream,
		streamName:     opts.StreamName,
		streamSubjects: opts.StreamSubjects,
	}, nil
}

func (b *Broker) Publish(ctx context.Context, subject string, payload []byte) (string, error) {
	ack, err := b.js.Publish(ctx, subject, payload)
	if err != nil {
		return "", fmt.Errorf("natsbroker: publish %s: %w", subject, err)
	}
	return strconv.FormatUint(ack.Sequence, 10), nil
}

func (b *Broker) Subscribe(ctx context.Context, subject string, opts broker.SubscribeOptions) (broker.Subscription, error) {
	cfg := jetstream.ConsumerConfig{
		FilterSubject: subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		DeliverPolicy: jetstream.DeliverNewPolicy,
	}
	if opts.QueueGroup != "" {
		cfg.Durable = opts.QueueGroup
		cfg.DeliverGroup = opts.QueueGroup
	}
	if opts.FromEventID != "" {
		seq, err := strconv.ParseUint(opts.FromEventID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("natsbroker: invalid from-event-id %q: %w", opts.FromEventID, err)
		}
		cfg.DeliverPolicy = jetstream.DeliverByStartSequencePolicy
		cfg.OptStartSeq = seq + 1
	}

	consumer, err := b.stream.CreateOrUpdateConsumer(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("natsbroker: create consumer for %s: %w", subject, err)
	}

	s := &subscription{
		ch:    make(chan broker.Message, 64),
		ready: make(chan struct{}),
	}
	close(s.ready) // jetstream.Consumer.Consume delivers asynchronously but registers synchronously

	consumeCtx, err := consumer.Consume(func(msg jetstream.Msg) {
		meta, _ := msg.Metadata()
		var seq uint64
		if meta != nil {
			seq = meta.Sequence.Stream
		}
		s.deliver(broker.Message{
			Subject: msg.Subject(),
			Payload: msg.Data(),
			EventID: strconv.FormatUint(seq, 10),
			Attempt: int(metaAttempt(meta)),
			Ack:     func() { _ = msg.Ack() },
			Nack:    func(delay bool) { _ = nakMsg(msg, delay) },
		})
	})
	if err != nil {
		return nil, fmt.Errorf("natsbroker: consume %s: %w", subject, err)
	}
	s.stop = consumeCtx.Stop

	return s, nil
}

func metaAttempt(meta *jetstream.MsgMetadata) uint64 {
	if meta == nil {
		return 1
	}
	return meta.NumDelivered
}

func nakMsg(msg jetstream.Msg, delay bool) error {
	if delay {
		return msg.NakWithDelay(5 * time.Second)
	}
	return msg.Nak()
}

// Close closes the NATS connection, which stops every consumer. It does not
// close the C channel of a subscription that is still open; only that
// subscription's Unsubscribe does.
func (b *Broker) Close() error {
	b.nc.Close()
	return nil
}

type subscription struct {
	ch    chan broker.Message
	ready chan struct{}
	stop  func()

	closeOnce sync.Once
}

func (s *subscription) Ready() <-chan struct{}   { return s.ready }
func (s *subscription) C() <-chan broker.Message { return s.ch }

func (s *subscription) deliver(m broker.Message) {
	defer func() { recover() }()
	select {
	case s.ch <- m:
	default:
	}
}

func (s *subscription) Unsubscribe() error {
	if s.stop != nil {
		s.stop()
	}
	s.closeOnce.Do(func() { close(s.ch) })
	return nil
}
