package sip

import (
	"errors"
	"fmt"
)

var (
	ErrShortMessage      = errors.New("sip: message shorter than a type code")
	ErrDelimiterInValue  = errors.New("sip: field value contains the field delimiter")
	ErrFixedFieldCount   = errors.New("sip: fixed field count does not match spec")
	ErrEnvelopeFieldPair = errors.New("sip: envelope field entry must hold exactly one code/value pair")
)

// UnknownMessageError reports a wire message whose type code is not in the
// schema. It is recoverable; the caller drops the message, not the process.
type UnknownMessageError struct {
	Code string
}

func (e *UnknownMessageError) Error() string {
	return fmt.Sprintf("sip: unknown message code %q", e.Code)
}

// TruncatedMessageError reports a fixed-field region shorter than the
// message spec declares. It is fatal to the message and typically to the
// connection that produced it.
type TruncatedMessageError struct {
	MessageCode string
	Field       FixedFieldSpec
	Remaining   int
}

func (e *TruncatedMessageError) Error() string {
	return fmt.Sprintf("sip: message %q truncated: field %q wants %d bytes, %d remain",
		e.MessageCode, e.Field.Label, e.Field.Length, e.Remaining)
}

// FixedFieldLengthError reports a fixed-field value whose length does not
// match its spec. Values are never padded or clipped silently.
type FixedFieldLengthError struct {
	MessageCode string
	Field       FixedFieldSpec
	Value       string
}

func (e *FixedFieldLengthError) Error() string {
	return fmt.Sprintf("sip: message %q fixed field %q wants length %d, got %d",
		e.MessageCode, e.Field.Label, e.Field.Length, len(e.Value))
}
