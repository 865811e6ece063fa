// Package membroker implements an in-process broker.Broker backed by a
// mutex-guarded append-only log, suitable for single-instance deployments
// and tests. Subscribe is synchronously live: Ready() returns an
// already-closed channel, matching the "in-memory brokers may omit ready"
// note in spec.md's design notes.
package membroker

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/relaymcp/relay/broker"
)

type entry struct {
	seq     int64
	subject string
	payload []byte
}

// Broker is an in-memory broker.Broker. The zero value is not usable; use
// New.
type Broker struct {
	mu      sync.Mutex
	seq     int64
	log     []entry
	logCap  int
	subs    map[*subscription]struct{}
	groupRR map[string]int // "pattern\x00group" -> round-robin cursor
	closed  bool
}

// New builds a Broker retaining up to logCap historical messages for
// replay (0 means unbounded).
func New(logCap int) *Broker {
	return &Broker{
		logCap:  logCap,
		subs:    make(map[*subscription]struct{}),
		groupRR: make(map[string]int),
	}
}

func (b *Broker) Publish(_ context.Context, subject string, payload []byte) (string, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return "", fmt.Errorf("membroker: closed")
	}
	b.seq++
	seq := b.seq
	b.log = append(b.log, entry{seq: seq, subject: subject, payload: payload})
	if b.logCap > 0 && len(b.log) > b.logCap {
		b.log = b.log[len(b.log)-b.logCap:]
	}

	// Snapshot matching subscribers under the lock, then deliver outside
	// it so a slow consumer can't block Publish callers against each
	// other via channel sends while mu is held.
	type target struct {
		sub *subscription
	}
	var directs []target
	groups := map[string][]*subscription{}
	for s := range b.subs {
		if !match(s.pattern, subject) {
			continue
		}
		if s.queueGroup == "" {
			directs = append(directs, target{s})
			continue
		}
		key := s.pattern + "\x00" + s.queueGroup
		groups[key] = append(groups[key], s)
	}
	for key, members := range groups {
		if len(members) == 0 {
			continue
		}
		idx := b.groupRR[key] % len(members)
		b.groupRR[key] = idx + 1
		directs = append(directs, target{members[idx]})
	}
	b.mu.Unlock()

	msg := b.toMessage(seq, subject, payload)
	for _, t := range directs {
		t.sub.deliver(msg)
	}
	return strconv.FormatInt(seq, 10), nil
}

func (b *Broker) toMessage(seq int64, subject string, payload []byte) broker.Message {
	id := strconv.FormatInt(seq, 10)
	return broker.Message{
		Subject: subject,
		Payload: payload,
		EventID: id,
		Attempt: 1,
		Ack:     func() {},
		Nack:    func(bool) {},
	}
}

func (b *Broker) Subscribe(_ context.Context, pattern string, opts broker.SubscribeOptions) (broker.Subscription, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, fmt.Errorf("membroker: closed")
	}

	s := &subscription{
		pattern:    pattern,
		queueGroup: opts.QueueGroup,
		ch:         make(chan broker.Message, 64),
		ready:      make(chan struct{}),
		broker:     b,
	}

	var replay []broker.Message
	if opts.FromEventID != "" {
		from, err := strconv.ParseInt(opts.FromEventID, 10, 64)
		if err != nil {
			b.mu.Unlock()
			return nil, fmt.Errorf("membroker: invalid from-event-id %q: %w", opts.FromEventID, err)
		}
		for _, e := range b.log {
			if e.seq > from && match(pattern, e.subject) {
				replay = append(replay, b.toMessage(e.seq, e.subject, e.payload))
			}
		}
	}

	b.subs[s] = struct{}{}
	b.mu.Unlock()
	close(s.ready)

	for _, m := range replay {
		s.deliver(m)
	}

	return s, nil
}

func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for s := range b.subs {
		s.closeLocked()
	}
	b.subs = nil
	return nil
}

func (b *Broker) removeSub(s *subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, s)
}

type subscription struct {
	pattern    string
	queueGroup string
	ch         chan broker.Message
	ready      chan struct{}
	broker     *Broker

	closeOnce sync.Once
}

func (s *subscription) Ready() <-chan struct{} { return s.ready }
func (s *subscription) C() <-chan broker.Message { return s.ch }

func (s *subscription) deliver(m broker.Message) {
	defer func() { recover() }() // swallow send-on-closed-channel during teardown races
	select {
	case s.ch <- m:
	default:
		// Slow consumer: drop rather than block the publisher. Backends
		// with real queues (e.g. NATS) would instead apply their own
		// backpressure/ack-wait policy.
	}
}

func (s *subscription) Unsubscribe() error {
	s.broker.removeSub(s)
	s.closeLocked()
	return nil
}

func (s *subscription) closeLocked() {
	s.closeOnce.Do(func() { close(s.ch) })
}

// match implements the `*` (one segment) / `>` (trailing rest) wildcard
// contract (spec §4.A "Wildcards").
func match(pattern, subject string) bool {
	if pattern == subject {
		return true
	}
	pSegs := strings.Split(pattern, ".")
	sSegs := strings.Split(subject, ".")
	for i, p := range pSegs {
		if p == ">" {
			return true
		}
		if i >= len(sSegs) {
			return false
		}
		if p == "*" {
			continue
		}
		if p != sSegs[i] {
			return false
		}
	}
	return len(pSegs) == len(sSegs)
}
