package dispatch

import (
	"errors"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/giantswarm/mcp-gateway/internal/mcperr"
	"github.com/giantswarm/mcp-gateway/internal/store"
)

// schemaCache compiles tool input schemas once and revalidates only when
// the stored schema text changes. Compile failures are cached too, so a
// broken schema does not recompile on every call.
type schemaCache struct {
	mu      sync.Mutex
	entries map[string]*schemaEntry
}

type schemaEntry struct {
	src      string
	compiled *jsonschema.Schema
	err      error
}

func newSchemaCache() *schemaCache {
	return &schemaCache{entries: make(map[string]*schemaEntry)}
}

// validate checks the call arguments against the tool's input schema.
// Tools without a schema accept anything.
func (c *schemaCache) validate(tool *store.Tool, args map[string]any) error {
	if len(tool.InputSchema) == 0 {
		return nil
	}
	entry := c.entry(tool.ID, string(tool.InputSchema))
	if entry.err != nil {
		return mcperr.Wrap(mcperr.KindInternal,
			"tool "+tool.Name+" has an invalid input schema", entry.err)
	}

	value := any(args)
	if args == nil {
		value = map[string]any{}
	}
	if err := entry.compiled.Validate(value); err != nil {
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			return mcperr.New(mcperr.KindInvalidRequest, validationMessage(ve))
		}
		return mcperr.Wrap(mcperr.KindInvalidRequest, "arguments do not match the tool schema", err)
	}
	return nil
}

func (c *schemaCache) entry(id, src string) *schemaEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[id]; ok && e.src == src {
		return e
	}
	compiled, err := jsonschema.CompileString(id+".json", src)
	e := &schemaEntry{src: src, compiled: compiled, err: err}
	c.entries[id] = e
	return e
}

// validationMessage walks to the most specific cause so the client sees
// "/count: expected integer" instead of the full failure tree.
func validationMessage(ve *jsonschema.ValidationError) string {
	leaf := ve
	for len(leaf.Causes) > 0 {
		leaf = leaf.Causes[0]
	}
	loc := leaf.InstanceLocation
	if loc == "" {
		loc = "/"
	}
	return fmt.Sprintf("arguments do not match the tool schema: %s: %s", loc, leaf.Message)
}
