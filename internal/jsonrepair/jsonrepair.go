// Package jsonrepair recovers usable documents from truncated JSON
// payloads by trimming to the last syntactically closed structure.
package jsonrepair

import (
	"bytes"
	"encoding/json"
	"errors"
)

var ErrUnrecoverable = errors.New("jsonrepair: no well-formed structure found")

// Decode parses data into v. A strict parse is attempted first; on failure
// the payload is truncated to the last position at which every opened
// object and array can be closed, the dangling tail is dropped, and the
// result is parsed again.
func Decode(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err == nil {
		return nil
	}

	repaired, ok := truncateToClosed(data)
	if !ok {
		return ErrUnrecoverable
	}
	if err := json.Unmarshal(repaired, v); err != nil {
		return ErrUnrecoverable
	}
	return nil
}

type frame struct {
	closer       byte
	openPos      int
	lastChildEnd int // position just past the last complete child, -1 if none
}

// truncateToClosed returns data cut back to the last complete element,
// with every still-open container closed in order.
func truncateToClosed(data []byte) ([]byte, bool) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || (trimmed[0] != '{' && trimmed[0] != '[') {
		return nil, false
	}
	data = trimmed

	var stack []frame
	inString := false
	escaped := false

	for i := 0; i < len(data); i++ {
		c := data[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			stack = append(stack, frame{closer: '}', openPos: i, lastChildEnd: -1})
		case '[':
			stack = append(stack, frame{closer: ']', openPos: i, lastChildEnd: -1})
		case '}', ']':
			if len(stack) == 0 || stack[len(stack)-1].closer != c {
				return nil, false
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				// Balanced document with trailing garbage.
				return data[:i+1], true
			}
			stack[len(stack)-1].lastChildEnd = i + 1
		case ',':
			if len(stack) > 0 {
				stack[len(stack)-1].lastChildEnd = i
			}
		}
	}

	if len(stack) == 0 {
		return nil, false
	}

	cut := -1

	// A tail that already forms a whole member survives the cut, so
	// `{"a": 1` keeps its field instead of collapsing to {}.
	if !inString {
		top := stack[len(stack)-1]
		tailStart := top.openPos + 1
		if top.lastChildEnd >= 0 {
			tailStart = top.lastChildEnd
			if tailStart < len(data) && data[tailStart] == ',' {
				tailStart++
			}
		}
		if tail := bytes.TrimSpace(data[tailStart:]); len(tail) > 0 && completeElement(tail, top.closer) {
			cut = len(data)
		}
	}

	// Otherwise drop dangling containers with no complete child and cut
	// back to the last complete child of the deepest survivor. An empty
	// root collapses to an empty document.
	for cut < 0 {
		top := stack[len(stack)-1]
		if top.lastChildEnd >= 0 {
			cut = top.lastChildEnd
			break
		}
		if len(stack) == 1 {
			cut = top.openPos + 1
			break
		}
		stack = stack[:len(stack)-1]
	}
	// Copy before appending closers; out still aliases the caller's buffer.
	out := append([]byte(nil), bytes.TrimRight(data[:cut], ", \t\r\n")...)
	for i := len(stack) - 1; i >= 0; i-- {
		out = append(out, stack[i].closer)
	}
	return out, true
}

// completeElement reports whether tail forms one whole member of a
// container with the given closer: a key and value for an object, a
// value for an array.
func completeElement(tail []byte, closer byte) bool {
	opener := byte('{')
	if closer == ']' {
		opener = '['
	}
	wrapped := make([]byte, 0, len(tail)+2)
	wrapped = append(wrapped, opener)
	wrapped = append(wrapped, tail...)
	wrapped = append(wrapped, closer)
	return json.Valid(wrapped)
}
