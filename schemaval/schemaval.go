// Package schemaval implements the optional method-params schema
// validator (spec §6.3): a JSON Schema may be registered per method and
// raw params checked against it with Validate. The engine does not call
// Validate; params reach a handler unchecked unless the caller runs it.
package schemaval

import (
	"bytes"
	"fmt"
	"sync"

	json "github.com/segmentio/encoding/json"
	stdjson "encoding/json"

	"github.com/google/jsonschema-go/jsonschema"
)

// Validator resolves and caches one schema per method, validating raw
// params against it (grounded on mcp/tool.go's unmarshalSchema/
// jsonschema.Resolved pattern, generalized from per-tool to per-method).
type Validator struct {
	mu       sync.RWMutex
	resolved map[string]*jsonschema.Resolved
}

// New returns an empty Validator; register schemas with Register.
func New() *Validator {
	return &Validator{resolved: make(map[string]*jsonschema.Resolved)}
}

// Register resolves schema and binds it to method. It is an error to
// register the same method twice (mirrors the engine's own handler
// registry semantics).
func (v *Validator) Register(method string, schema *jsonschema.Schema) error {
	resolved, err := schema.Resolve(&jsonschema.ResolveOptions{ValidateDefaults: true})
	if err != nil {
		return fmt.Errorf("schemaval: resolve schema for %q: %w", method, err)
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, exists := v.resolved[method]; exists {
		return fmt.Errorf("schemaval: method %q already has a registered schema", method)
	}
	v.resolved[method] = resolved
	return nil
}

// Validate reports whether method has a registered schema and, if so,
// whether params satisfies it. A method with no registered schema always
// passes (schema validation is opt-in per method).
func (v *Validator) Validate(method string, params json.RawMessage) error {
	v.mu.RLock()
	resolved, ok := v.resolved[method]
	v.mu.RUnlock()
	if !ok {
		return nil
	}

	var value any
	dec := stdjson.NewDecoder(bytes.NewReader(params))
	dec.UseNumber()
	if err := dec.Decode(&value); err != nil {
		return fmt.Errorf("schemaval: %s: unmarshaling params: %w", method, err)
	}
	if err := resolved.Validate(value); err != nil {
		return fmt.Errorf("schemaval: %s: params do not satisfy schema: %w", method, err)
	}
	return nil
}
