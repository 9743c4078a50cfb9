// Package hl7 renders Australian HL7 v2.4 ORU^R01 messages carrying a
// base64-encoded source document as encapsulated data. The format is
// positional and byte-exact: the receiving system parses fields by position,
// not by label, so every slot is emitted even when empty.
package hl7

import "strings"

// Structural constants of the v2.4 wire format. The segment terminator is a
// bare carriage return, never CR+LF; any serialization layer that translates
// line endings corrupts the message.
const (
	FieldSep          = "|"
	ComponentSep      = "^"
	EncodingChars     = `^~\&`
	SegmentTerminator = "\r"
)

// escapePairs lists the reserved characters and their escape tokens in
// replacement order. Backslash comes first so the escape sequences introduced
// for the other four characters are not themselves re-escaped.
var escapePairs = [...][2]string{
	{`\`, `\E\`},
	{`|`, `\F\`},
	{`^`, `\S\`},
	{`~`, `\R\`},
	{`&`, `\T\`},
}

// Escape replaces the five reserved characters in a free-text field value.
func Escape(value string) string {
	for _, p := range escapePairs {
		value = strings.ReplaceAll(value, p[0], p[1])
	}
	return value
}
