package harness

import (
	_ "embed"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed llmobs_span_event.schema.json
var spanEventSchema string

var compiledSpanEventSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	return jsonschema.CompileString("llmobs_span_event.schema.json", spanEventSchema)
})

// ValidatePayload checks p against the LLM-observability span event schema.
func ValidatePayload(p Payload) error {
	schema, err := compiledSpanEventSchema()
	if err != nil {
		return fmt.Errorf("compile span event schema: %w", err)
	}
	v, err := p.Value()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedPayload, err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedPayload, err)
	}
	return nil
}
