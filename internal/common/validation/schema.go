// Package validation checks inbound payloads against JSON schemas before any
// domain code sees them.
package validation

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// LifecycleEventSchema describes the payload the payment processor delivers.
// period_end is required only for activation/renewal; the reconciler enforces
// that conditional, the schema covers shape and types.
const LifecycleEventSchema = `{
	"type": "object",
	"properties": {
		"event_id":               {"type": "string", "minLength": 1},
		"event_type":             {"type": "string", "enum": [
			"subscription_activated",
			"subscription_renewed",
			"subscription_cancelled",
			"subscription_expired"
		]},
		"user_id":                {"type": "integer"},
		"external_subscriber_ref": {"type": "string"},
		"period_end":             {"type": "string"}
	},
	"required": ["event_id", "event_type", "user_id"],
	"additionalProperties": true
}`

// ValidateLifecycleEvent returns nil when the raw payload conforms to the
// lifecycle event schema, or an error listing every violated constraint.
func ValidateLifecycleEvent(payload []byte) error {
	schemaLoader := gojsonschema.NewStringLoader(LifecycleEventSchema)
	documentLoader := gojsonschema.NewBytesLoader(payload)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return fmt.Errorf("schema validation: %w", err)
	}

	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			msgs = append(msgs, desc.String())
		}
		return fmt.Errorf("payload invalid: %s", strings.Join(msgs, "; "))
	}

	return nil
}
