package iso

import (
	"fmt"
	"strconv"

	"github.com/moov-io/iso8583"
)

// Codec converts between wire bodies (MTI + bitmap + fields) and frames.
type Codec struct {
	schema *Schema
}

func NewCodec(schema *Schema) *Codec {
	return &Codec{schema: schema}
}

func (c *Codec) Schema() *Schema {
	return c.schema
}

// Decode parses one ISO body. Truncated data, fields missing from the schema
// and non-digit data in numeric fields are reported as *ProtocolError.
func (c *Codec) Decode(raw []byte) (*Frame, error) {
	if len(raw) < 2 {
		return nil, protoErr("", 0, "body shorter than MTI", nil)
	}

	msg := iso8583.NewMessage(c.schema.spec)
	if err := msg.Unpack(raw); err != nil {
		return nil, protoErr("", 0, "unpack", err)
	}

	mti, err := msg.GetMTI()
	if err != nil {
		return nil, protoErr("", 0, "read MTI", err)
	}
	if !isDigits(mti) || len(mti) != 4 {
		return nil, protoErr(mti, 0, "MTI is not 4 digits", nil)
	}

	frame := NewFrame(mti)
	frame.raw = raw
	for id, fld := range msg.GetFields() {
		if id < 2 {
			continue
		}
		val, err := fld.Bytes()
		if err != nil {
			return nil, protoErr(mti, id, "read value", err)
		}
		if c.schema.fields[id].numeric && !isDigits(string(val)) {
			return nil, protoErr(mti, id, "non-numeric data in numeric field", nil)
		}
		frame.fields[id] = val
	}
	return frame, nil
}

// Encode packs f. Every field required for f.MTI must be present.
func (c *Codec) Encode(f *Frame) ([]byte, error) {
	if len(f.MTI) != 4 || !isDigits(f.MTI) {
		return nil, protoErr(f.MTI, 0, "MTI is not 4 digits", nil)
	}
	if missing := c.Missing(f); len(missing) > 0 {
		return nil, protoErr(f.MTI, missing[0], "required field is not set", nil)
	}

	msg := iso8583.NewMessage(c.schema.spec)
	msg.MTI(f.MTI)
	for id, val := range f.fields {
		meta, ok := c.schema.fields[id]
		if !ok || id < 2 {
			return nil, protoErr(f.MTI, id, "field is not defined in schema "+strconv.Quote(c.schema.Name), nil)
		}
		if meta.numeric && !isDigits(string(val)) {
			return nil, protoErr(f.MTI, id, "non-numeric data in numeric field", nil)
		}
		if err := msg.BinaryField(id, val); err != nil {
			return nil, protoErr(f.MTI, id, "set value", err)
		}
	}

	raw, err := msg.Pack()
	if err != nil {
		return nil, protoErr(f.MTI, 0, "pack", err)
	}
	return raw, nil
}

// Missing lists the required fields absent from f, ascending.
func (c *Codec) Missing(f *Frame) []int {
	var out []int
	for _, id := range c.schema.RequiredFields(f.MTI) {
		if !f.Has(id) {
			out = append(out, id)
		}
	}
	return out
}

// Dump renders a frame for debug logging. Binary fields are hex encoded.
func (c *Codec) Dump(f *Frame) map[string]string {
	out := make(map[string]string, len(f.fields)+1)
	out["mti"] = f.MTI
	for id, val := range f.fields {
		key := fmt.Sprintf("%03d", id)
		if c.schema.fields[id].binary {
			out[key] = fmt.Sprintf("%X", val)
			continue
		}
		out[key] = string(val)
	}
	return out
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
