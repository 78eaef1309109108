// Package codec implements the value (de)serialization used at the storage
// engine boundary: JSON stringification with a fail-fast error for values
// that cannot be represented, a tolerant parser that turns stored text back
// into values, and a text envelope that lets raw bytes round-trip through
// text-only backends.
package codec

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

// rawPrefix tags the text envelope produced by EncodeRaw. The envelope
// carries the byte length so a decoder can reject truncated payloads.
const rawPrefix = "raw:"

// --------------------------------------------------------------------------
// Stringify / Parse
// --------------------------------------------------------------------------

// Stringify converts a value to its text form. Strings pass through
// unchanged, nil becomes "null", byte slices are wrapped in the raw
// envelope (see EncodeRaw), everything else is encoded as JSON. Values
// implementing json.Marshaler serialize through their hook. Unrepresentable values
// (channels, funcs, cyclic structures) fail with a serialization error.
func Stringify(v any) (string, error) {
	switch val := v.(type) {
	case nil:
		return "null", nil
	case string:
		return val, nil
	case []byte:
		return EncodeRaw(val), nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("cannot stringify value of type %T: %w", v, err)
	}
	return string(b), nil
}

// Parse is the tolerant inverse of Stringify. Valid JSON text (including
// the primitive literals true, false, null and numbers) decodes to the
// corresponding value; anything else is returned as the raw string.
func Parse(s string) any {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return s
	}
	switch trimmed {
	case "true":
		return true
	case "false":
		return false
	case "null":
		return nil
	}
	if looksNumeric(trimmed) {
		if i, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
			return i
		}
		if f, err := strconv.ParseFloat(trimmed, 64); err == nil {
			return f
		}
	}
	if c := trimmed[0]; c == '{' || c == '[' || c == '"' {
		var v any
		if err := json.Unmarshal([]byte(trimmed), &v); err == nil {
			return v
		}
	}
	return s
}

// looksNumeric is a cheap pre-check so Parse does not hand arbitrary
// strings to the number parsers.
func looksNumeric(s string) bool {
	c := s[0]
	return c == '-' || c == '+' || (c >= '0' && c <= '9')
}

// --------------------------------------------------------------------------
// Raw envelope
// --------------------------------------------------------------------------

// EncodeRaw wraps opaque bytes into a text envelope ("raw:<len>:<base64>")
// so that text-only backends can store raw payloads losslessly.
func EncodeRaw(b []byte) string {
	return rawPrefix + strconv.Itoa(len(b)) + ":" + base64.StdEncoding.EncodeToString(b)
}

// DecodeRaw unwraps a text envelope produced by EncodeRaw. The boolean
// return reports whether the text was a well-formed envelope; any other
// text is not an error, the caller falls back to the text's own bytes.
func DecodeRaw(s string) ([]byte, bool) {
	if !strings.HasPrefix(s, rawPrefix) {
		return nil, false
	}
	rest := s[len(rawPrefix):]
	i := strings.IndexByte(rest, ':')
	if i < 0 {
		return nil, false
	}
	n, err := strconv.Atoi(rest[:i])
	if err != nil || n < 0 {
		return nil, false
	}
	b, err := base64.StdEncoding.DecodeString(rest[i+1:])
	if err != nil || len(b) != n {
		return nil, false
	}
	return b, true
}

// DecodeRawValue returns the raw bytes carried by text: the envelope body
// when text is a well-formed envelope, the text's UTF-8 bytes otherwise.
func DecodeRawValue(s string) []byte {
	if b, ok := DecodeRaw(s); ok {
		return b
	}
	return []byte(s)
}

// ValidText reports whether bytes can be stored through a text channel
// without the raw envelope.
func ValidText(b []byte) bool {
	return utf8.Valid(b)
}
