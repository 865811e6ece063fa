package schemaval

import (
	"testing"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/stretchr/testify/require"
)

func echoSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"text": {Type: "string"},
		},
		Required: []string{"text"},
	}
}

func TestUnregisteredMethodAlwaysPasses(t *testing.T) {
	v := New()
	require.NoError(t, v.Validate("anything/goes", []byte(`{"whatever":1}`)))
}

func TestValidateAcceptsMatchingParams(t *testing.T) {
	v := New()
	require.NoError(t, v.Register("tools/call", echoSchema()))

	err := v.Validate("tools/call", []byte(`{"text":"hello"}`))
	require.NoError(t, err)
}

func TestValidateRejectsMissingRequired(t *testing.T) {
	v := New()
	require.NoError(t, v.Register("tools/call", echoSchema()))

	err := v.Validate("tools/call", []byte(`{}`))
	require.Error(t, err)
}

func TestRegisterTwiceErrors(t *testing.T) {
	v := New()
	require.NoError(t, v.Register("tools/call", echoSchema()))
	err := v.Register("tools/call", echoSchema())
	require.Error(t, err)
}

func TestValidatePreservesLargeIntegerPrecision(t *testing.T) {
	v := New()
	require.NoError(t, v.Register("tools/call", &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"count": {Type: "integer"},
		},
	}))

	err := v.Validate("tools/call", []byte(`{"count":9007199254740993}`))
	require.NoError(t, err, "UseNumber should avoid float64 precision loss on large integers")
}
