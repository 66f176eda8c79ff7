package sip

import "strings"

// Parse decodes one wire message. The trailing terminator, if present, is
// stripped first. Fixed fields are sliced by their declared lengths in
// spec order; whatever remains is split on the field delimiter into
// variable fields. A message with no variable-field region is normal.
func (r *Registry) Parse(text string) (*Message, error) {
	text = strings.TrimSuffix(text, string(Terminator))
	if len(text) < 2 {
		return nil, ErrShortMessage
	}

	spec, ok := r.MessageSpecByCode(text[:2])
	if !ok {
		return nil, &UnknownMessageError{Code: text[:2]}
	}
	rest := text[2:]

	fixed := make([]FixedField, 0, len(spec.FixedFields))
	for _, fs := range spec.FixedFields {
		if len(rest) < fs.Length {
			return nil, &TruncatedMessageError{MessageCode: spec.Code, Field: fs, Remaining: len(rest)}
		}
		fixed = append(fixed, FixedField{Spec: fs, Value: rest[:fs.Length]})
		rest = rest[fs.Length:]
	}

	msg := &Message{Spec: spec, FixedFields: fixed}
	if len(rest) == 0 {
		return msg, nil
	}

	for _, part := range strings.Split(rest, string(FieldDelimiter)) {
		if part == "" {
			// Trailing delimiter; not an empty field.
			break
		}
		code := part
		value := ""
		if len(part) >= 2 {
			code = part[:2]
			value = part[2:]
		}
		msg.Fields = append(msg.Fields, Field{Spec: r.FieldSpecByCode(code), Value: value})
	}
	return msg, nil
}
