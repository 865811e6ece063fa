package wire

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/require"
)

func TestDecodeMessageRequest(t *testing.T) {
	msg, err := DecodeMessage([]byte(`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"echo"}}`))
	require.NoError(t, err)
	req, ok := msg.(*Request)
	require.True(t, ok)
	require.Equal(t, "tools/call", req.Method)
	require.False(t, req.IsNotification())
}

func TestDecodeMessageNotification(t *testing.T) {
	msg, err := DecodeMessage([]byte(`{"jsonrpc":"2.0","method":"notifications/initialized"}`))
	require.NoError(t, err)
	req, ok := msg.(*Request)
	require.True(t, ok)
	require.True(t, req.IsNotification())
}

func TestDecodeMessageResponse(t *testing.T) {
	msg, err := DecodeMessage([]byte(`{"jsonrpc":"2.0","id":"abc","result":{"ok":true}}`))
	require.NoError(t, err)
	resp, ok := msg.(*Response)
	require.True(t, ok)
	require.Equal(t, "abc", resp.ID.Raw())
	require.Nil(t, resp.Error)
}

func TestDecodeMessageResponseMissingID(t *testing.T) {
	_, err := DecodeMessage([]byte(`{"jsonrpc":"2.0","result":{}}`))
	require.Error(t, err)
}

func TestDecodeBatchSingleAndArray(t *testing.T) {
	single, err := DecodeBatch([]byte(`{"jsonrpc":"2.0","id":1,"method":"ping"}`))
	require.NoError(t, err)
	require.Len(t, single, 1)

	batch, err := DecodeBatch([]byte(`[{"jsonrpc":"2.0","id":1,"method":"a"},{"jsonrpc":"2.0","method":"b"}]`))
	require.NoError(t, err)
	require.Len(t, batch, 2)
}

func TestDecodeBatchEmpty(t *testing.T) {
	_, err := DecodeBatch([]byte("   "))
	require.Error(t, err)

	_, err = DecodeBatch([]byte("[]"))
	require.Error(t, err)
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	req, err := NewRequest(IntID(7), "tools/call", map[string]string{"name": "echo"})
	require.NoError(t, err)

	data, err := EncodeMessage(req)
	require.NoError(t, err)

	msg, err := DecodeMessage(data)
	require.NoError(t, err)
	got, ok := msg.(*Request)
	require.True(t, ok)

	if diff := cmp.Diff(req.Method, got.Method); diff != "" {
		t.Errorf("method mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(req.ID.Raw(), got.ID.Raw(), cmpopts.EquateComparable()); diff != "" {
		t.Errorf("id mismatch (-want +got):\n%s", diff)
	}
}

func TestErrorResponseRoundTrip(t *testing.T) {
	resp := NewErrorResponse(StringID("x"), &Error{Code: -32601, Message: "method not found"})
	data, err := EncodeMessage(resp)
	require.NoError(t, err)

	msg, err := DecodeMessage(data)
	require.NoError(t, err)
	got, ok := msg.(*Response)
	require.True(t, ok)
	require.NotNil(t, got.Error)
	require.Equal(t, int64(-32601), got.Error.Code)
}

func TestIDZeroValueInvalid(t *testing.T) {
	var id ID
	require.False(t, id.IsValid())
	require.Equal(t, "<no-id>", id.String())
}
