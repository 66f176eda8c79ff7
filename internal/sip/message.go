package sip

import (
	"strings"
	"time"
)

// DateLayout is the 18-character timestamp layout used by every
// date-bearing fixed field (local time, four literal spaces between the
// date and time halves).
const DateLayout = "20060102    150405"

// Timestamp renders the current local time in the protocol date layout.
func Timestamp() string {
	return time.Now().Format(DateLayout)
}

// FixedField is one positional field value. Its length always equals its
// spec's declared length.
type FixedField struct {
	Spec  FixedFieldSpec
	Value string
}

// Field is one variable-length field value.
type Field struct {
	Spec  FieldSpec
	Value string
}

// Message is one protocol message: a spec, the spec's fixed fields in
// order, and zero or more variable fields in append order. Duplicate field
// codes are legal and order-significant. A Message belongs to the session
// or connection that created it and is never shared across connections.
type Message struct {
	Spec        MessageSpec
	FixedFields []FixedField
	Fields      []Field
}

// NewMessage builds a message from a spec and its fixed-field values in
// spec order. Count and per-field length are validated here; a short value
// is an error, never padded.
func NewMessage(spec MessageSpec, fixedValues ...string) (*Message, error) {
	if len(fixedValues) != len(spec.FixedFields) {
		return nil, ErrFixedFieldCount
	}
	fixed := make([]FixedField, 0, len(fixedValues))
	for i, value := range fixedValues {
		fs := spec.FixedFields[i]
		if len(value) != fs.Length {
			return nil, &FixedFieldLengthError{MessageCode: spec.Code, Field: fs, Value: value}
		}
		fixed = append(fixed, FixedField{Spec: fs, Value: value})
	}
	return &Message{Spec: spec, FixedFields: fixed}, nil
}

// AddField appends one variable field. The value must not contain the
// field delimiter; there is no escape mechanism on the wire.
func (m *Message) AddField(spec FieldSpec, value string) error {
	if strings.ContainsRune(value, FieldDelimiter) {
		return ErrDelimiterInValue
	}
	m.Fields = append(m.Fields, Field{Spec: spec, Value: value})
	return nil
}

// MaybeAddField appends one variable field unless the value is empty.
func (m *Message) MaybeAddField(spec FieldSpec, value string) error {
	if value == "" {
		return nil
	}
	return m.AddField(spec, value)
}

// GetField returns the first field with the given code.
func (m *Message) GetField(code string) (Field, bool) {
	for _, f := range m.Fields {
		if f.Spec.Code == code {
			return f, true
		}
	}
	return Field{}, false
}

// GetFields returns every field with the given code, in append order.
func (m *Message) GetFields(code string) []Field {
	var out []Field
	for _, f := range m.Fields {
		if f.Spec.Code == code {
			out = append(out, f)
		}
	}
	return out
}

// FieldValue returns the first value for the given code, or "" if absent.
func (m *Message) FieldValue(code string) string {
	f, ok := m.GetField(code)
	if !ok {
		return ""
	}
	return f.Value
}

// FieldValues returns every value for the given code, in append order.
func (m *Message) FieldValues(code string) []string {
	fields := m.GetFields(code)
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		out = append(out, f.Value)
	}
	return out
}

// FixedValue returns the value of the fixed field with the given label,
// or "" if the message's spec has no such field.
func (m *Message) FixedValue(label string) string {
	for _, ff := range m.FixedFields {
		if ff.Spec.Label == label {
			return ff.Value
		}
	}
	return ""
}

// Render serializes the message to wire text: type code, fixed values
// back to back, then code+value+delimiter per variable field. The
// terminator is owned by the transport framer, not the codec.
func (m *Message) Render() (string, error) {
	var b strings.Builder
	b.WriteString(m.Spec.Code)
	if len(m.FixedFields) != len(m.Spec.FixedFields) {
		return "", ErrFixedFieldCount
	}
	for _, ff := range m.FixedFields {
		if len(ff.Value) != ff.Spec.Length {
			return "", &FixedFieldLengthError{MessageCode: m.Spec.Code, Field: ff.Spec, Value: ff.Value}
		}
		b.WriteString(ff.Value)
	}
	for _, f := range m.Fields {
		if strings.ContainsRune(f.Value, FieldDelimiter) {
			return "", ErrDelimiterInValue
		}
		b.WriteString(f.Spec.Code)
		b.WriteString(f.Value)
		b.WriteByte(FieldDelimiter)
	}
	return b.String(), nil
}
