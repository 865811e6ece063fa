package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/relaymcp/relay/broker"
	"github.com/relaymcp/relay/engine"
	"github.com/relaymcp/relay/topic"
	"github.com/relaymcp/relay/wire"
)

// gatewayTransport is the single engine.Transport the HTTP handler connects
// to the engine at startup (spec §4.E.1). It does not itself read from a
// socket: instead the HTTP handler calls deliver() directly for each
// message it decodes off a POST body, and outgoing engine sends are routed
// onto broker subjects per the topic scheme (spec §4.D.7) rather than
// written back on an in-process channel, which is what lets many gateway
// instances share one engine's worth of routing behavior.
type gatewayTransport struct {
	brk        broker.Broker
	instanceID string

	mu        sync.RWMutex
	onMessage func(msg wire.Message, ctx context.Context, info engine.MessageInfo)
}

func newGatewayTransport(brk broker.Broker, instanceID string) *gatewayTransport {
	return &gatewayTransport{brk: brk, instanceID: instanceID}
}

func (t *gatewayTransport) Connect(onMessage func(msg wire.Message, ctx context.Context, info engine.MessageInfo)) error {
	t.mu.Lock()
	t.onMessage = onMessage
	t.mu.Unlock()
	return nil
}

func (t *gatewayTransport) Disconnect() error { return nil }

// deliver hands a message decoded from an HTTP request to the engine's
// installed callback (spec §4.D.6).
func (t *gatewayTransport) deliver(msg wire.Message, ctx context.Context, info engine.MessageInfo) {
	t.mu.RLock()
	cb := t.onMessage
	t.mu.RUnlock()
	if cb == nil {
		return
	}
	info.InstanceID = t.instanceID
	cb(msg, ctx, info)
}

// Send implements outbound routing (spec §4.D.7): any message routed with a
// request id goes on that request's outbound subject; otherwise the
// message is classified by shape onto the session's background channel.
func (t *gatewayTransport) Send(ctx context.Context, msg wire.Message, route engine.Route) error {
	if route.SessionID == "" {
		return fmt.Errorf("transport: send: sessionId is required")
	}

	var subject string
	switch {
	case route.RequestID != "":
		subject = topic.RequestOutbound(route.SessionID, route.RequestID)
	default:
		switch m := msg.(type) {
		case *wire.Request:
			if m.IsNotification() {
				subject = topic.BackgroundOutbound(route.SessionID)
			} else {
				subject = topic.BackgroundInbound(route.SessionID)
			}
		case *wire.Response:
			subject = topic.BackgroundOutbound(route.SessionID)
		default:
			return fmt.Errorf("transport: send: unknown message type %T", msg)
		}
	}

	data, err := wire.EncodeMessage(msg)
	if err != nil {
		return fmt.Errorf("transport: encode: %w", err)
	}
	_, err = t.brk.Publish(ctx, subject, data)
	return err
}
