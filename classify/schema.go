// ABOUTME: JSON schema for the model's classification tool call
// ABOUTME: Shared by the tool definition sent to the model and the validator applied to its answer
package classify

import (
	"fmt"
	"strings"

	"github.com/goccy/go-json"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

const classificationToolName = "record_contact_classification"

const classificationSchema = `{
	"type": "object",
	"properties": {
		"source_type": {
			"type": "string",
			"enum": ["coach", "teacher", "school_admin", "team", "club", "therapist", "medical", "vendor", "other"],
			"description": "The role this sender plays for the family"
		},
		"tags": {
			"type": "array",
			"items": {"type": "string", "maxLength": 40},
			"maxItems": 10,
			"description": "Lowercase activity, sport or subject tags"
		},
		"confidence": {
			"type": "number",
			"minimum": 0,
			"maximum": 1
		},
		"reasoning": {
			"type": "string",
			"maxLength": 500
		}
	},
	"required": ["source_type", "confidence", "reasoning"],
	"additionalProperties": false
}`

// toolArguments is the decoded payload of a valid tool call.
type toolArguments struct {
	SourceType string   `json:"source_type"`
	Tags       []string `json:"tags"`
	Confidence float64  `json:"confidence"`
	Reasoning  string   `json:"reasoning"`
}

func compileClassificationSchema() (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(classificationSchema))
	if err != nil {
		return nil, fmt.Errorf("failed to parse classification schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("classification.json", doc); err != nil {
		return nil, fmt.Errorf("failed to add classification schema: %w", err)
	}
	schema, err := c.Compile("classification.json")
	if err != nil {
		return nil, fmt.Errorf("failed to compile classification schema: %w", err)
	}
	return schema, nil
}

// toolParameters returns the schema as the raw JSON the chat API expects.
func toolParameters() json.RawMessage {
	return json.RawMessage(classificationSchema)
}

// decodeToolArguments validates raw tool arguments and decodes them.
func decodeToolArguments(schema *jsonschema.Schema, raw string) (*toolArguments, error) {
	inst, err := jsonschema.UnmarshalJSON(strings.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("tool arguments are not JSON: %w", err)
	}
	if err := schema.Validate(inst); err != nil {
		return nil, fmt.Errorf("tool arguments do not match schema: %w", err)
	}
	var args toolArguments
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, fmt.Errorf("failed to decode tool arguments: %w", err)
	}
	return &args, nil
}
