package validation

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"strconv"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"
)

//go:embed schemas/*.json
var schemaFS embed.FS

// Schema resources are registered under this base so that "$ref":
// "descriptor.json" inside workflow.json resolves.
const schemaBase = "https://autoprogress.dev/schemas/"

// Names of the embedded schemas.
const (
	schemaWorkflow   = "workflow"
	schemaDescriptor = "descriptor"
)

// Violation is one leaf JSON Schema failure. Path is dotted with indexed
// arrays, e.g. steps[0].metadata.autoProgressConditions.type; "/" is the root.
type Violation struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// JSONSchemaValidator checks workflow templates and step descriptors
// against JSON Schema Draft 2020-12. It is safe for concurrent use.
type JSONSchemaValidator struct {
	schemas map[string]*jsonschema.Schema
}

// NewJSONSchemaValidator compiles every embedded schema.
func NewJSONSchemaValidator() (*JSONSchemaValidator, error) {
	files, err := fs.Glob(schemaFS, "schemas/*.json")
	if err != nil {
		return nil, err
	}

	c := jsonschema.NewCompiler()
	c.AssertFormat()
	for _, file := range files {
		f, err := schemaFS.Open(file)
		if err != nil {
			return nil, err
		}
		doc, err := jsonschema.UnmarshalJSON(f)
		_ = f.Close()
		if err != nil {
			return nil, fmt.Errorf("parse schema %s: %w", file, err)
		}
		if err := c.AddResource(schemaBase+path.Base(file), doc); err != nil {
			return nil, fmt.Errorf("add schema %s: %w", file, err)
		}
	}

	v := &JSONSchemaValidator{schemas: make(map[string]*jsonschema.Schema, len(files))}
	for _, file := range files {
		base := path.Base(file)
		sch, err := c.Compile(schemaBase + base)
		if err != nil {
			return nil, fmt.Errorf("compile schema %s: %w", base, err)
		}
		v.schemas[strings.TrimSuffix(base, ".json")] = sch
	}
	for _, name := range []string{schemaWorkflow, schemaDescriptor} {
		if v.schemas[name] == nil {
			return nil, fmt.Errorf("schema %s.json is not embedded", name)
		}
	}
	return v, nil
}

// ValidateWorkflow checks the template structure, including every step's descriptor.
func (v *JSONSchemaValidator) ValidateWorkflow(wf any) []Violation {
	return v.check(schemaWorkflow, wf)
}

// ValidateDescriptor checks a single autoProgressConditions value.
func (v *JSONSchemaValidator) ValidateDescriptor(raw map[string]any) []Violation {
	if raw == nil {
		return []Violation{{Path: "/", Message: "descriptor is nil"}}
	}
	return v.check(schemaDescriptor, raw)
}

func (v *JSONSchemaValidator) check(name string, value any) []Violation {
	// The validator wants json.Number, not Go numeric types.
	b, err := json.Marshal(value)
	if err != nil {
		return []Violation{{Path: "/", Message: "cannot encode as JSON: " + err.Error()}}
	}
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(string(b)))
	if err != nil {
		return []Violation{{Path: "/", Message: err.Error()}}
	}

	err = v.schemas[name].Validate(doc)
	if err == nil {
		return nil
	}
	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return []Violation{{Path: "/", Message: err.Error()}}
	}
	return leafViolations(verr, nil)
}

func leafViolations(verr *jsonschema.ValidationError, out []Violation) []Violation {
	if len(verr.Causes) == 0 {
		return append(out, Violation{
			Path:    dottedPath(verr.InstanceLocation),
			Message: strings.TrimSpace(verr.Error()),
		})
	}
	for _, cause := range verr.Causes {
		out = leafViolations(cause, out)
	}
	return out
}

// dottedPath renders a JSON pointer's segments as steps[0].metadata.
func dottedPath(segments []string) string {
	if len(segments) == 0 {
		return "/"
	}
	var b strings.Builder
	for _, seg := range segments {
		if _, err := strconv.Atoi(seg); err == nil {
			b.WriteString("[" + seg + "]")
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('.')
		}
		b.WriteString(seg)
	}
	return b.String()
}
