// Package partialjson reads string fields out of a JSON object that is still
// being streamed. It is not a parser: it locates `"field":` by first
// occurrence and scans the string value that follows it, returning whatever
// has arrived so far.
package partialjson

import (
	"strings"
	"unicode/utf16"
	"unicode/utf8"
)

const (
	FieldThought     = "thought"
	FieldAction      = "action"
	FieldCode        = "code"
	FieldReactCode   = "react_code"
	FieldFinalAnswer = "final_answer"
)

// Value is the best-known value of a single field.
type Value struct {
	Text string `json:"text"`
	// Complete is true once the closing quote of the value has been seen.
	Complete bool `json:"complete"`
}

// Extract returns the value of field in buffer. ok is false when the field
// cannot be located yet, or when its value is not a string.
func Extract(buffer string, field string) (Value, bool) {
	key := `"` + field + `"`
	idx := strings.Index(buffer, key)
	if idx < 0 {
		return Value{}, false
	}

	colon := strings.IndexByte(buffer[idx+len(key):], ':')
	if colon < 0 {
		return Value{}, false
	}
	i := idx + len(key) + colon + 1

	for i < len(buffer) && isSkippable(buffer[i]) {
		i++
	}
	if i >= len(buffer) || buffer[i] != '"' {
		return Value{}, false
	}
	start := i + 1

	escaped := false
	for j := start; j < len(buffer); j++ {
		c := buffer[j]
		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			escaped = true
		case '"':
			text, _ := decode(buffer[start:j])
			return Value{Text: text, Complete: true}, true
		}
	}

	raw := buffer[start:]
	if raw == "" {
		return Value{}, false
	}
	text, _ := decode(raw)
	if text == "" {
		return Value{}, false
	}
	return Value{Text: text}, true
}

func isSkippable(c byte) bool {
	return c == ' ' || c == '\n' || c == '\r' || c == '\t'
}

// decode resolves JSON string escapes in raw. An escape that is cut off by the
// end of the input (a lone trailing backslash, or a \u with fewer than four hex
// digits) is dropped, and held reports how many bytes were withheld.
func decode(raw string) (text string, held int) {
	if strings.IndexByte(raw, '\\') < 0 {
		return raw, 0
	}

	var sb strings.Builder
	sb.Grow(len(raw))
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		if c != '\\' {
			sb.WriteByte(c)
			continue
		}
		if i+1 >= len(raw) {
			return sb.String(), 1
		}
		i++
		switch raw[i] {
		case 'n':
			sb.WriteByte('\n')
		case 'r':
			sb.WriteByte('\r')
		case 't':
			sb.WriteByte('\t')
		case 'b':
			sb.WriteByte('\b')
		case 'f':
			sb.WriteByte('\f')
		case '"':
			sb.WriteByte('"')
		case '\\':
			sb.WriteByte('\\')
		case '/':
			sb.WriteByte('/')
		case 'u':
			r, n, st := decodeUnicode(raw[i+1:])
			switch st {
			case escIncomplete:
				return sb.String(), len(raw) - i + 1
			case escInvalid:
				sb.WriteByte('u')
			default:
				sb.WriteRune(r)
				i += n
			}
		default:
			// unknown escape, keep the character itself
			sb.WriteByte(raw[i])
		}
	}
	return sb.String(), 0
}

type escState int

const (
	escDone escState = iota
	escIncomplete
	escInvalid
)

// decodeUnicode reads the hex digits after `\u`, joining a surrogate pair when
// the low half follows.
func decodeUnicode(s string) (rune, int, escState) {
	hi, st := parseHex4(s)
	if st != escDone {
		return 0, 0, st
	}
	if !utf16.IsSurrogate(hi) {
		return hi, 4, escDone
	}

	rest := s[4:]
	if len(rest) < 6 && (strings.HasPrefix(`\u`, rest) || strings.HasPrefix(rest, `\u`)) {
		if _, st := parseHex4(rest[min(2, len(rest)):]); st != escInvalid {
			return 0, 0, escIncomplete
		}
	}
	if len(rest) < 6 || rest[0] != '\\' || rest[1] != 'u' {
		return utf8.RuneError, 4, escDone
	}
	lo, st := parseHex4(rest[2:])
	if st != escDone {
		return utf8.RuneError, 4, escDone
	}
	r := utf16.DecodeRune(hi, lo)
	if r == utf8.RuneError {
		return utf8.RuneError, 4, escDone
	}
	return r, 10, escDone
}

func parseHex4(s string) (rune, escState) {
	var r rune
	for i := 0; i < 4; i++ {
		if i >= len(s) {
			return 0, escIncomplete
		}
		c := s[i]
		var v byte
		switch {
		case c >= '0' && c <= '9':
			v = c - '0'
		case c >= 'a' && c <= 'f':
			v = c - 'a' + 10
		case c >= 'A' && c <= 'F':
			v = c - 'A' + 10
		default:
			return 0, escInvalid
		}
		r = r<<4 | rune(v)
	}
	return r, escDone
}
