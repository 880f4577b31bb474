package iso

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/moov-io/iso8583"
	"github.com/moov-io/iso8583/specs"
)

//go:embed schema.json
var defaultSchema []byte

// RequiredResponseKey selects the required-field list applied to every
// response MTI.
const RequiredResponseKey = "response"

type fieldDoc struct {
	Type   string `json:"type"`
	Length int    `json:"length"`
	Enc    string `json:"enc"`
	Prefix string `json:"prefix"`
}

type schemaDocument struct {
	Spec     json.RawMessage  `json:"spec"`
	Required map[string][]int `json:"required"`
}

type fieldMeta struct {
	numeric bool
	binary  bool
	length  int
}

// Schema is the field table used by the codec. It is loaded from JSON so
// field layouts can change without a rebuild.
type Schema struct {
	Name     string
	spec     *iso8583.MessageSpec
	fields   map[int]fieldMeta
	required map[string][]int
}

func DefaultSchema() (*Schema, error) {
	return LoadSchema(defaultSchema)
}

// LoadSchemaFile reads a schema document from path, or the embedded default
// when path is empty.
func LoadSchemaFile(path string) (*Schema, error) {
	if path == "" {
		return DefaultSchema()
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("schema -> read %s: %w", path, err)
	}
	return LoadSchema(raw)
}

func LoadSchema(raw []byte) (*Schema, error) {
	var doc schemaDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("schema -> decode document: %w", err)
	}
	if len(doc.Spec) == 0 {
		return nil, fmt.Errorf("schema -> document has no spec")
	}

	spec, err := specs.Builder.ImportJSON(doc.Spec)
	if err != nil {
		return nil, fmt.Errorf("schema -> import spec: %w", err)
	}

	var fieldsOnly struct {
		Name   string              `json:"name"`
		Fields map[string]fieldDoc `json:"fields"`
	}
	if err := json.Unmarshal(doc.Spec, &fieldsOnly); err != nil {
		return nil, fmt.Errorf("schema -> decode fields: %w", err)
	}

	s := &Schema{
		Name:     fieldsOnly.Name,
		spec:     spec,
		fields:   make(map[int]fieldMeta, len(fieldsOnly.Fields)),
		required: doc.Required,
	}
	for key, fd := range fieldsOnly.Fields {
		id, err := strconv.Atoi(key)
		if err != nil || id < 0 || id > 128 {
			return nil, fmt.Errorf("schema -> invalid field number %q", key)
		}
		s.fields[id] = fieldMeta{
			numeric: fd.Type == "String" && fd.Enc == "BCD",
			binary:  fd.Type == "Binary",
			length:  fd.Length,
		}
	}
	if _, ok := s.fields[0]; !ok {
		return nil, fmt.Errorf("schema -> field 0 (MTI) is not defined")
	}
	if _, ok := s.fields[1]; !ok {
		return nil, fmt.Errorf("schema -> field 1 (bitmap) is not defined")
	}
	for key, ids := range s.required {
		for _, id := range ids {
			if _, ok := s.fields[id]; !ok {
				return nil, fmt.Errorf("schema -> required field %d for %q is not defined", id, key)
			}
		}
	}

	return s, nil
}

func (s *Schema) Spec() *iso8583.MessageSpec {
	return s.spec
}

func (s *Schema) HasField(id int) bool {
	_, ok := s.fields[id]
	return ok
}

// RequiredFields lists the fields that must be present before mti can be
// encoded.
func (s *Schema) RequiredFields(mti string) []int {
	var out []int
	if IsResponseMTI(mti) {
		out = append(out, s.required[RequiredResponseKey]...)
	}
	return append(out, s.required[mti]...)
}
