package workflow

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// FieldStatus describes what happened to one override when it was applied.
type FieldStatus string

const (
	FieldSet           FieldStatus = "set"
	FieldNodeMissing   FieldStatus = "node_missing"
	FieldNodeMalformed FieldStatus = "node_malformed"
)

// Bindings names the nodes that receive the per-request overrides.
type Bindings struct {
	InputNode string
	SeedNode  string
}

// Overrides are the two fields mutated on every request.
type Overrides struct {
	InputImage string
	Seed       uint32
}

// MutationReport records the outcome for each override. A missing node is not
// an error; the field is simply left untouched.
type MutationReport struct {
	InputImage FieldStatus
	Seed       FieldStatus
}

// Complete reports whether both overrides landed in the document.
func (r MutationReport) Complete() bool {
	return r.InputImage == FieldSet && r.Seed == FieldSet
}

// Document is a request-scoped, mutable copy of the template.
type Document struct {
	raw []byte
}

// Apply writes the overrides into the bound nodes' inputs.
func (d *Document) Apply(b Bindings, o Overrides) (MutationReport, error) {
	var report MutationReport
	var err error

	report.InputImage, err = d.setInput(b.InputNode, "image", func(path string) ([]byte, error) {
		return sjson.SetBytes(d.raw, path, o.InputImage)
	})
	if err != nil {
		return report, err
	}
	report.Seed, err = d.setInput(b.SeedNode, "seed", func(path string) ([]byte, error) {
		return sjson.SetRawBytes(d.raw, path, []byte(strconv.FormatUint(uint64(o.Seed), 10)))
	})
	if err != nil {
		return report, err
	}
	return report, nil
}

func (d *Document) setInput(node, field string, set func(path string) ([]byte, error)) (FieldStatus, error) {
	nodePath := escapeKey(node)
	descriptor := gjson.GetBytes(d.raw, nodePath)
	if !descriptor.Exists() {
		return FieldNodeMissing, nil
	}
	if !descriptor.IsObject() || !descriptor.Get("inputs").IsObject() {
		return FieldNodeMalformed, nil
	}
	updated, err := set(nodePath + ".inputs." + escapeKey(field))
	if err != nil {
		return "", fmt.Errorf("workflow: set %s.%s: %w", node, field, err)
	}
	d.raw = updated
	return FieldSet, nil
}

// Input returns the current value of a node input, for inspection.
func (d *Document) Input(node, field string) gjson.Result {
	return gjson.GetBytes(d.raw, escapeKey(node)+".inputs."+escapeKey(field))
}

// Bytes returns the document's JSON encoding.
func (d *Document) Bytes() []byte {
	return d.raw
}

// MarshalJSON embeds the document verbatim in an enclosing payload.
func (d *Document) MarshalJSON() ([]byte, error) {
	if d == nil || len(d.raw) == 0 {
		return []byte("null"), nil
	}
	return d.raw, nil
}

var _ json.Marshaler = (*Document)(nil)
