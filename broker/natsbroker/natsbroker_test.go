//go:build integration

// These tests exercise natsbroker against a real NATS server with
// JetStream enabled and are gated behind the integration build tag, since
// this package has no meaning without a live broker to dial (mirrors how
// the pack gates tests that need a real external dependency rather than
// faking one).
package natsbroker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/relaymcp/relay/broker"
)

func dialTestBroker(t *testing.T) *Broker {
	t.Helper()
	b, err := Dial(context.Background(), Options{
		URL:            "nats://localhost:4222",
		StreamName:     "MCP_TEST",
		StreamSubjects: []string{"mcp.test.>"},
	})
	if err != nil {
		t.Skipf("nats not reachable: %v", err)
	}
	return b
}

func TestPublishSubscribeRoundTrip(t *testing.T) {
	b := dialTestBroker(t)
	defer b.Close()

	sub, err := b.Subscribe(context.Background(), "mcp.test.echo", broker.SubscribeOptions{})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	select {
	case <-sub.Ready():
	case <-time.After(5 * time.Second):
		t.Fatal("subscription never became ready")
	}

	_, err = b.Publish(context.Background(), "mcp.test.echo", []byte(`hello`))
	require.NoError(t, err)

	select {
	case msg := <-sub.C():
		require.Equal(t, "hello", string(msg.Payload))
		msg.Ack()
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for delivery")
	}
}
