package validation

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ErrUnknownSchema is returned for a name that was never registered.
var ErrUnknownSchema = errors.New("unknown schema")

// Validator validates request bodies against named JSON Schemas, compiled lazily
// via santhosh-tekuri/jsonschema and cached.
type Validator struct {
	mu          sync.RWMutex
	definitions map[string][]byte
	cache       map[string]*jsonschema.Schema
}

func NewValidator() *Validator {
	return &Validator{
		definitions: make(map[string][]byte),
		cache:       make(map[string]*jsonschema.Schema),
	}
}

// Register stores a schema definition under name, replacing any earlier one.
func (v *Validator) Register(name string, definition []byte) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.definitions[name] = append([]byte(nil), definition...)
	delete(v.cache, name)
}

// Validate decodes payload and checks it against the named schema.
// Schema violations are returned as *jsonschema.ValidationError.
func (v *Validator) Validate(name string, payload []byte) error {
	if len(bytes.TrimSpace(payload)) == 0 {
		return fmt.Errorf("payload is required for validation")
	}

	compiled, err := v.getOrCompile(name)
	if err != nil {
		return err
	}

	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	var document any
	if err := dec.Decode(&document); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}

	if err := compiled.Validate(document); err != nil {
		return fmt.Errorf("schema validation: %w", err)
	}
	return nil
}

func (v *Validator) getOrCompile(name string) (*jsonschema.Schema, error) {
	v.mu.RLock()
	compiled, ok := v.cache[name]
	v.mu.RUnlock()
	if ok {
		return compiled, nil
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	// another goroutine may have populated the cache while we were waiting
	if compiled, ok = v.cache[name]; ok {
		return compiled, nil
	}
	definition, ok := v.definitions[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSchema, name)
	}

	url := "memory://schemas/" + name
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(url, bytes.NewReader(definition)); err != nil {
		return nil, fmt.Errorf("register schema %s: %w", name, err)
	}
	newCompiled, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema %s: %w", name, err)
	}

	v.cache[name] = newCompiled
	return newCompiled, nil
}
