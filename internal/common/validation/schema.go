package validation

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// JSONSchema defines the structure for request body schemas
type JSONSchema struct {
	Type                 string              `json:"type"`
	Properties           map[string]Property `json:"properties"`
	Required             []string            `json:"required,omitempty"`
	AdditionalProperties bool                `json:"additionalProperties"`
}

type Property struct {
	Type        string     `json:"type,omitempty"`
	AnyOf       []Property `json:"anyOf,omitempty"`
	Description string     `json:"description,omitempty"`
	Format      string     `json:"format,omitempty"`
	Minimum     *float64   `json:"minimum,omitempty"`
	Maximum     *float64   `json:"maximum,omitempty"`
	Enum        []string   `json:"enum,omitempty"`
	Pattern     *string    `json:"pattern,omitempty"`
	MinLength   *int       `json:"minLength,omitempty"`
	MaxLength   *int       `json:"maxLength,omitempty"`
}

type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// Validator holds a compiled schema and is safe for concurrent use.
type Validator struct {
	schema *gojsonschema.Schema
}

// NewValidator compiles schema once for repeated validation.
func NewValidator(schema JSONSchema) (*Validator, error) {
	compiled, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(schema))
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return &Validator{schema: compiled}, nil
}

// Validate checks a decoded JSON document.
func (v *Validator) Validate(input map[string]interface{}) *ValidationResult {
	return v.validate(gojsonschema.NewGoLoader(input))
}

// ValidateBytes checks a raw JSON body.
func (v *Validator) ValidateBytes(raw []byte) *ValidationResult {
	return v.validate(gojsonschema.NewBytesLoader(raw))
}

func (v *Validator) validate(doc gojsonschema.JSONLoader) *ValidationResult {
	result, err := v.schema.Validate(doc)
	if err != nil {
		return &ValidationResult{
			Valid: false,
			Errors: []ValidationError{{
				Field:   "(root)",
				Message: err.Error(),
				Code:    "MALFORMED_DOCUMENT",
			}},
		}
	}
	return toResult(result)
}

// ValidateInput validates input against schema, compiling it on every call.
func ValidateInput(input map[string]interface{}, schema JSONSchema) *ValidationResult {
	v, err := NewValidator(schema)
	if err != nil {
		return &ValidationResult{
			Valid:  false,
			Errors: []ValidationError{{Field: "(schema)", Message: err.Error(), Code: "INVALID_SCHEMA"}},
		}
	}
	return v.Validate(input)
}

func toResult(result *gojsonschema.Result) *ValidationResult {
	if result.Valid() {
		return &ValidationResult{Valid: true}
	}

	errs := make([]ValidationError, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		field := desc.Field()
		// required and additionalProperties report against the parent object
		if prop, ok := desc.Details()["property"].(string); ok && prop != "" {
			if field == "(root)" {
				field = prop
			} else {
				field = field + "." + prop
			}
		}
		errs = append(errs, ValidationError{
			Field:   field,
			Message: desc.Description(),
			Code:    strings.ToUpper(desc.Type()),
		})
	}
	return &ValidationResult{Valid: false, Errors: errs}
}

// GetErrorMessages returns a simple list of error messages
func (vr *ValidationResult) GetErrorMessages() []string {
	messages := make([]string, len(vr.Errors))
	for i, err := range vr.Errors {
		messages[i] = fmt.Sprintf("%s: %s", err.Field, err.Message)
	}
	return messages
}

// HasErrors checks if validation has errors for specific field
func (vr *ValidationResult) HasErrors(field string) bool {
	for _, err := range vr.Errors {
		if err.Field == field {
			return true
		}
	}
	return false
}

// GetErrorsForField returns errors for a specific field
func (vr *ValidationResult) GetErrorsForField(field string) []ValidationError {
	var fieldErrors []ValidationError
	for _, err := range vr.Errors {
		if err.Field == field || strings.HasPrefix(err.Field, field+".") {
			fieldErrors = append(fieldErrors, err)
		}
	}
	return fieldErrors
}

func intPtr(v int) *int { return &v }

// HeartbeatSchema describes the POST /presence/heartbeat body.
var HeartbeatSchema = JSONSchema{
	Type: "object",
	Properties: map[string]Property{
		"kind": {
			Type:        "string",
			Description: "Caller intent",
			Enum:        []string{"online", "heartbeat", "away", "offline"},
		},
		"observedAt": {
			Description: "Client observation time, epoch milliseconds or RFC3339",
			AnyOf: []Property{
				{Type: "integer"},
				{Type: "string", Format: "date-time"},
			},
		},
		"connectionMethod": {
			Type:      "string",
			MaxLength: intPtr(64),
		},
		"userAgent": {
			Type:      "string",
			MaxLength: intPtr(512),
		},
	},
	Required:             []string{"kind"},
	AdditionalProperties: false,
}
