package sip

import "encoding/json"

// The mediator bridge exchanges messages as a JSON envelope instead of
// wire text: {"code": "..", "fixed_fields": [..], "fields": [{"CODE":
// "value"}, ..]}. Encoding walks the structured message field by field;
// decoding reverses it without going through the text codec.

type envelope struct {
	Code        string              `json:"code"`
	FixedFields []string            `json:"fixed_fields"`
	Fields      []map[string]string `json:"fields"`
}

// MarshalEnvelope encodes a message into the mediator JSON envelope.
func MarshalEnvelope(m *Message) ([]byte, error) {
	env := envelope{
		Code:        m.Spec.Code,
		FixedFields: make([]string, 0, len(m.FixedFields)),
		Fields:      make([]map[string]string, 0, len(m.Fields)),
	}
	for _, ff := range m.FixedFields {
		env.FixedFields = append(env.FixedFields, ff.Value)
	}
	for _, f := range m.Fields {
		env.Fields = append(env.Fields, map[string]string{f.Spec.Code: f.Value})
	}
	return json.Marshal(env)
}

// UnmarshalEnvelope decodes a mediator JSON envelope into a message,
// validating the fixed fields against the registered spec.
func (r *Registry) UnmarshalEnvelope(data []byte) (*Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}

	spec, ok := r.MessageSpecByCode(env.Code)
	if !ok {
		return nil, &UnknownMessageError{Code: env.Code}
	}
	msg, err := NewMessage(spec, env.FixedFields...)
	if err != nil {
		return nil, err
	}

	for _, entry := range env.Fields {
		if len(entry) != 1 {
			return nil, ErrEnvelopeFieldPair
		}
		for code, value := range entry {
			if err := msg.AddField(r.FieldSpecByCode(code), value); err != nil {
				return nil, err
			}
		}
	}
	return msg, nil
}
