// Package workflow loads the engine job-description template and produces
// per-request documents with the input image and seed applied.
package workflow

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/tidwall/gjson"
)

const templateSchema = `{
  "type": "object",
  "minProperties": 1,
  "additionalProperties": {
    "type": "object",
    "required": ["class_type", "inputs"],
    "properties": {
      "class_type": {"type": "string", "minLength": 1},
      "inputs": {"type": "object"}
    }
  }
}`

const schemaResource = "inmemory://workflow-template"

var compiledSchema = mustCompileSchema()

func mustCompileSchema() *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(schemaResource, strings.NewReader(templateSchema)); err != nil {
		panic(fmt.Sprintf("workflow: add schema: %v", err))
	}
	return compiler.MustCompile(schemaResource)
}

// Template is the immutable workflow loaded at startup. It is safe for
// concurrent use; callers mutate only the copies returned by Document.
type Template struct {
	raw []byte
}

// LoadTemplate reads and validates the template file at path.
func LoadTemplate(path string) (*Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("workflow: read template: %w", err)
	}
	return ParseTemplate(data)
}

// ParseTemplate validates data as an engine workflow: an object of node id to
// node descriptor, each with a class_type and an inputs object.
func ParseTemplate(data []byte) (*Template, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var decoded any
	if err := dec.Decode(&decoded); err != nil {
		return nil, fmt.Errorf("workflow: decode template: %w", err)
	}
	if err := compiledSchema.Validate(decoded); err != nil {
		return nil, fmt.Errorf("workflow: invalid template: %w", err)
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, data); err != nil {
		return nil, fmt.Errorf("workflow: compact template: %w", err)
	}
	return &Template{raw: compact.Bytes()}, nil
}

// HasNode reports whether the template defines node id.
func (t *Template) HasNode(id string) bool {
	return gjson.GetBytes(t.raw, escapeKey(id)).IsObject()
}

// NodeCount returns the number of nodes in the template.
func (t *Template) NodeCount() int {
	n := 0
	gjson.ParseBytes(t.raw).ForEach(func(_, _ gjson.Result) bool {
		n++
		return true
	})
	return n
}

// Document returns a fresh copy of the template for one request.
func (t *Template) Document() *Document {
	return &Document{raw: append([]byte(nil), t.raw...)}
}

// escapeKey escapes gjson/sjson path metacharacters so node ids such as
// "115:3" are addressed as literal object keys.
func escapeKey(key string) string {
	var b strings.Builder
	for _, r := range key {
		switch r {
		case '.', '*', '?', '|', '#', '@', '\\', ':', '!', '=', '<', '>', '%':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
