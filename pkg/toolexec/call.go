package toolexec

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

var (
	// ErrUnknownTool is returned by ParseCall for names outside the closed set.
	ErrUnknownTool = errors.New("unknown tool")

	// ErrUnsupported marks tool kinds this executor cannot serve.
	ErrUnsupported = errors.New("unsupported tool")
)

// Kind is the closed set of tool call variants
type Kind string

const (
	KindReadFile  Kind = "read_file"
	KindWriteFile Kind = "write_file"
	KindListDir   Kind = "list_dir"
	KindSkill     Kind = "skill"
)

// Kinds lists every variant in advertisement order
var Kinds = []Kind{KindReadFile, KindWriteFile, KindListDir, KindSkill}

// Call is one decoded tool invocation. Only the fields of its Kind are set.
type Call struct {
	ID   string
	Kind Kind

	Path     string // read_file, write_file, list_dir
	Content  string // write_file
	Append   bool   // write_file
	MaxBytes int64  // read_file

	Skill string                 // skill
	Args  map[string]interface{} // skill
}

// Result is the outcome of a call, fed back to the model as a tool message
type Result struct {
	CallID  string
	Kind    Kind
	Output  string
	IsError bool
}

// Executor invokes tool calls
type Executor interface {
	Invoke(ctx context.Context, call Call) Result
}

type parameter struct {
	Name        string
	Type        string
	Description string
	Required    bool
}

type definition struct {
	Kind        Kind
	Description string
	Parameters  []parameter
}

var definitions = map[Kind]definition{
	KindReadFile: {
		Kind:        KindReadFile,
		Description: "Read a file from the session workspace.",
		Parameters: []parameter{
			{Name: "path", Type: "string", Description: "Relative file path", Required: true},
			{Name: "max_bytes", Type: "number", Description: "Maximum bytes to read (default 200000)"},
		},
	},
	KindWriteFile: {
		Kind:        KindWriteFile,
		Description: "Write content to a file in the session workspace.",
		Parameters: []parameter{
			{Name: "path", Type: "string", Description: "Relative file path", Required: true},
			{Name: "content", Type: "string", Description: "File content", Required: true},
			{Name: "append", Type: "boolean", Description: "Append to file (default false)"},
		},
	},
	KindListDir: {
		Kind:        KindListDir,
		Description: "List the entries of a directory in the session workspace.",
		Parameters: []parameter{
			{Name: "path", Type: "string", Description: "Relative directory path (default workspace root)"},
		},
	},
	KindSkill: {
		Kind:        KindSkill,
		Description: "Run a named skill or workflow.",
		Parameters: []parameter{
			{Name: "name", Type: "string", Description: "Skill name", Required: true},
			{Name: "args", Type: "object", Description: "Skill arguments"},
		},
	},
}

// inputSchema builds the JSON schema object for a definition
func (d definition) inputSchema() map[string]interface{} {
	properties := make(map[string]interface{}, len(d.Parameters))
	required := []string{}
	for _, p := range d.Parameters {
		properties[p.Name] = map[string]interface{}{
			"type":        p.Type,
			"description": p.Description,
		}
		if p.Required {
			required = append(required, p.Name)
		}
	}

	schema := map[string]interface{}{
		"type":                 "object",
		"additionalProperties": false,
		"properties":           properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

var schemas = func() map[Kind]*gojsonschema.Schema {
	out := make(map[Kind]*gojsonschema.Schema, len(definitions))
	for kind, def := range definitions {
		schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(def.inputSchema()))
		if err != nil {
			panic(fmt.Sprintf("toolexec: invalid schema for %s: %v", kind, err))
		}
		out[kind] = schema
	}
	return out
}()

// Spec describes a tool for advertisement to a model
type Spec struct {
	Name        string
	Description string
	InputSchema map[string]interface{}
}

// Specs returns the specs of every kind
func Specs() []Spec {
	specs := make([]Spec, 0, len(Kinds))
	for _, kind := range Kinds {
		def := definitions[kind]
		specs = append(specs, Spec{
			Name:        string(kind),
			Description: def.Description,
			InputSchema: def.inputSchema(),
		})
	}
	return specs
}

// ParseCall validates a model supplied tool call and decodes it into a Call.
func ParseCall(id, name string, input map[string]interface{}) (Call, error) {
	kind := Kind(name)
	schema, ok := schemas[kind]
	if !ok {
		return Call{}, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	if input == nil {
		input = map[string]interface{}{}
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(input))
	if err != nil {
		return Call{}, fmt.Errorf("invalid %s input: %w", name, err)
	}
	if !result.Valid() {
		var errs []string
		for _, desc := range result.Errors() {
			errs = append(errs, desc.String())
		}
		return Call{}, fmt.Errorf("invalid %s input: %s", name, strings.Join(errs, "; "))
	}

	call := Call{ID: id, Kind: kind}
	switch kind {
	case KindReadFile:
		call.Path, _ = input["path"].(string)
		if raw, ok := input["max_bytes"].(float64); ok && raw > 0 {
			call.MaxBytes = int64(raw)
		}
	case KindWriteFile:
		call.Path, _ = input["path"].(string)
		call.Content, _ = input["content"].(string)
		call.Append, _ = input["append"].(bool)
	case KindListDir:
		call.Path, _ = input["path"].(string)
	case KindSkill:
		call.Skill, _ = input["name"].(string)
		call.Args, _ = input["args"].(map[string]interface{})
	}
	return call, nil
}
