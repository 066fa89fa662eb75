package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// MethodSpec describes one control-plane method: its params schema and
// whether it is permitted before handshake completes.
type MethodSpec struct {
	Name          string
	ParamsSchema  string // raw JSON Schema document, empty = no validation
	RequiresAuth  bool
	compiled      *jsonschema.Schema
}

// MethodRegistry holds the compiled schema for every known method. It is
// built once at boot; Decode never compiles schemas on the hot path.
type MethodRegistry struct {
	methods map[string]*MethodSpec
}

// NewMethodRegistry compiles every spec's ParamsSchema (if non-empty) and
// returns a registry ready for Validate. A compile failure for any method is
// fatal — it indicates a programming error in the schema literal, not bad
// input, so the caller should treat it as a boot-time error.
func NewMethodRegistry(specs []MethodSpec) (*MethodRegistry, error) {
	reg := &MethodRegistry{methods: make(map[string]*MethodSpec, len(specs))}
	for i := range specs {
		s := specs[i]
		if s.ParamsSchema != "" {
			c := jsonschema.NewCompiler()
			url := "mem://" + s.Name + "/params.json"
			if err := c.AddResource(url, bytes.NewReader([]byte(s.ParamsSchema))); err != nil {
				return nil, fmt.Errorf("protocol: compiling schema for %s: %w", s.Name, err)
			}
			compiled, err := c.Compile(url)
			if err != nil {
				return nil, fmt.Errorf("protocol: compiling schema for %s: %w", s.Name, err)
			}
			s.compiled = compiled
		}
		reg.methods[s.Name] = &s
	}
	return reg, nil
}

// Lookup returns the MethodSpec for name, or nil if unregistered.
func (r *MethodRegistry) Lookup(name string) *MethodSpec {
	return r.methods[name]
}

// Validate checks raw params JSON against the method's schema. An unknown
// method yields ErrUnknownMethod; a known method with no registered schema
// passes unvalidated; params that fail the schema yield ErrInvalidRequest.
func (r *MethodRegistry) Validate(method string, params []byte) error {
	spec, ok := r.methods[method]
	if !ok {
		return NewErr(ErrUnknownMethod, "unknown method: "+method)
	}
	if spec.compiled == nil {
		return nil
	}
	var v any
	if len(params) == 0 {
		v = map[string]any{}
	} else if err := json.Unmarshal(params, &v); err != nil {
		return NewErr(ErrInvalidRequest, "params must be a JSON object: "+err.Error())
	}
	if err := spec.compiled.Validate(v); err != nil {
		return NewErr(ErrInvalidRequest, err.Error())
	}
	return nil
}
