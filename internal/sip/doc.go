// Package sip models the SIP2 circulation protocol: the schema tables for
// fixed and variable fields, the message structure, and the wire codec
// that converts between the two. Framing lives in the frame subpackage;
// sessions and connection handling live in internal/client and
// internal/server.
package sip
