package tasks

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/invopop/jsonschema"
	"github.com/pkg/errors"
	validator "github.com/santhosh-tekuri/jsonschema/v6"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"gopkg.in/yaml.v3"
)

const schemaLocation = "mem://babysitter/output-schema.json"

var messages = message.NewPrinter(language.English)

// Schema is a JSON schema that can be written inline in YAML definitions.
// The document is compiled for validation; the embedded model is a typed
// view of it used to build prompts and provider response formats.
type Schema struct {
	*jsonschema.Schema

	raw      json.RawMessage
	compiled *validator.Schema
}

// NewSchema compiles a JSON schema document.
func NewSchema(raw []byte) (*Schema, error) {
	doc, err := validator.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, errors.Wrap(err, "invalid JSON schema")
	}

	c := validator.NewCompiler()
	c.DefaultDraft(validator.Draft2020)
	if err := c.AddResource(schemaLocation, doc); err != nil {
		return nil, errors.Wrap(err, "invalid JSON schema")
	}
	compiled, err := c.Compile(schemaLocation)
	if err != nil {
		return nil, errors.Wrap(err, "invalid JSON schema")
	}

	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, errors.Wrap(err, "invalid JSON schema")
	}
	modelJSON, err := json.Marshal(modelDocument(generic))
	if err != nil {
		return nil, errors.Wrap(err, "invalid JSON schema")
	}
	model := &jsonschema.Schema{}
	if err := json.Unmarshal(modelJSON, model); err != nil {
		return nil, errors.Wrap(err, "invalid JSON schema")
	}

	return &Schema{Schema: model, raw: append(json.RawMessage(nil), raw...), compiled: compiled}, nil
}

// FromModel compiles a schema built or reflected with invopop/jsonschema.
func FromModel(model *jsonschema.Schema) (*Schema, error) {
	raw, err := json.Marshal(model)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode schema")
	}
	return NewSchema(raw)
}

// modelDocument rewrites what the typed model cannot hold: a list of types
// collapses to its first non-null member.
func modelDocument(v any) any {
	switch v := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, value := range v {
			if list, ok := value.([]any); ok && key == "type" {
				out[key] = firstType(list)
				continue
			}
			out[key] = modelDocument(value)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = modelDocument(item)
		}
		return out
	default:
		return v
	}
}

func firstType(list []any) string {
	for _, t := range list {
		if s, ok := t.(string); ok && s != "null" {
			return s
		}
	}
	return ""
}

// Model returns the typed view of the schema, nil for a nil schema.
func (s *Schema) Model() *jsonschema.Schema {
	if s == nil {
		return nil
	}
	return s.Schema
}

// UnmarshalYAML decodes a YAML mapping into a JSON schema.
func (s *Schema) UnmarshalYAML(node *yaml.Node) error {
	var raw any
	if err := node.Decode(&raw); err != nil {
		return errors.Wrap(err, "failed to decode schema")
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return errors.Wrap(err, "schema is not representable as JSON")
	}
	return s.UnmarshalJSON(data)
}

// UnmarshalJSON decodes and compiles a JSON schema document.
func (s *Schema) UnmarshalJSON(data []byte) error {
	compiled, err := NewSchema(data)
	if err != nil {
		return err
	}
	*s = *compiled
	return nil
}

// MarshalJSON encodes the schema document as written.
func (s Schema) MarshalJSON() ([]byte, error) {
	if s.raw != nil {
		return s.raw, nil
	}
	if s.Schema == nil {
		return []byte("null"), nil
	}
	return json.Marshal(s.Schema)
}

// Artifact is a file or document produced by a task.
type Artifact struct {
	Path   string `json:"path" jsonschema:"description=Path of the produced file relative to the workspace"`
	Format string `json:"format,omitempty" jsonschema:"description=Content format such as markdown or json"`
	Label  string `json:"label,omitempty" jsonschema:"description=Human readable name"`
}

// Envelope is the output every task may return in addition to its own fields.
type Envelope struct {
	Summary   string     `json:"summary,omitempty" jsonschema:"description=One paragraph summary of the work done"`
	Artifacts []Artifact `json:"artifacts,omitempty" jsonschema:"description=Files produced by this task"`
}

// GenerateSchema reflects a JSON schema from a Go type.
func GenerateSchema[T any]() *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: true,
		DoNotReference:            true,
		Anonymous:                 true,
	}
	var v T
	return reflector.Reflect(v)
}

var envelopeSchema = sync.OnceValue(func() *Schema {
	s, err := FromModel(GenerateSchema[Envelope]())
	if err != nil {
		panic(fmt.Sprintf("envelope schema does not compile: %v", err))
	}
	return s
})

// EnvelopeSchema is the schema used when a task declares none.
func EnvelopeSchema() *Schema {
	return envelopeSchema()
}

// ValidateOutput checks value against schema. All violations are reported
// together, each prefixed with the path of the offending value.
func ValidateOutput(schema *Schema, value []byte) (map[string]any, error) {
	var obj map[string]any
	if err := json.Unmarshal(value, &obj); err != nil {
		var decoded any
		if json.Unmarshal(value, &decoded) != nil {
			return nil, errors.Wrap(err, "output is not valid JSON")
		}
		return nil, errors.Errorf("output must be a JSON object, got %s", jsonType(decoded))
	}
	if obj == nil {
		return nil, errors.New("output must be a JSON object, got null")
	}

	if schema == nil || schema.compiled == nil {
		return obj, nil
	}

	instance, err := validator.UnmarshalJSON(bytes.NewReader(value))
	if err != nil {
		return nil, errors.Wrap(err, "output is not valid JSON")
	}
	err = schema.compiled.Validate(instance)
	if err == nil {
		return obj, nil
	}

	var verr *validator.ValidationError
	if !errors.As(err, &verr) {
		return nil, errors.Wrap(err, "failed to validate output")
	}
	var result *multierror.Error
	for _, leaf := range leaves(verr) {
		result = multierror.Append(result, fmt.Errorf("%s: %s", instancePath(leaf.InstanceLocation), leaf.ErrorKind.LocalizedString(messages)))
	}
	return nil, errors.Wrap(result.ErrorOrNil(), "output does not match schema")
}

func leaves(err *validator.ValidationError) []*validator.ValidationError {
	if len(err.Causes) == 0 {
		return []*validator.ValidationError{err}
	}
	var out []*validator.ValidationError
	for _, cause := range err.Causes {
		out = append(out, leaves(cause)...)
	}
	return out
}

// instancePath renders a JSON pointer as $.field[0].name.
func instancePath(tokens []string) string {
	var sb strings.Builder
	sb.WriteString("$")
	for _, token := range tokens {
		if _, err := strconv.Atoi(token); err == nil {
			fmt.Fprintf(&sb, "[%s]", token)
			continue
		}
		sb.WriteString("." + token)
	}
	return sb.String()
}

func jsonType(value any) string {
	switch value.(type) {
	case nil:
		return "null"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	case string:
		return "string"
	case bool:
		return "boolean"
	case float64:
		return "number"
	default:
		return fmt.Sprintf("%T", value)
	}
}

// Artifacts returns the artifacts array of a task result, if any.
func Artifacts(result map[string]any) []any {
	items, ok := result["artifacts"].([]any)
	if !ok {
		return nil
	}
	return items
}

// RequiredFields lists the required top-level fields of schema, sorted.
func RequiredFields(schema *Schema) []string {
	model := schema.Model()
	if model == nil {
		return nil
	}
	fields := append([]string(nil), model.Required...)
	sort.Strings(fields)
	return fields
}
