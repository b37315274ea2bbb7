package tableparse

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"strings"
)

// Table is the normalized result of a parse: every cell is text.
//
// Headers: column labels, in document order.
// Rows:    one []string per source row; lengths are not checked against Headers.
type Table struct {
	Headers []string
	Rows    [][]string
}

// ParseError reports a document that is not syntactically valid JSON.
// Error() returns the decoder's own message text.
type ParseError struct {
	Offset int64
	Err    error
}

func (e *ParseError) Error() string { return e.Err.Error() }

func (e *ParseError) Unwrap() error { return e.Err }

// Parse decodes raw and normalizes it into a Table.
//
// Only invalid JSON is an error. A document that is not an object, or whose
// "headers"/"rows" fields are missing or not arrays, yields empty lists.
// Rows that are not arrays become empty rows.
func Parse(raw []byte) (*Table, error) {
	var doc json.RawMessage
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, newParseError(err)
	}

	t := &Table{Headers: []string{}, Rows: [][]string{}}

	// map decoding keeps field matching exact (struct tags would match "HEADERS" too)
	var fields map[string]json.RawMessage
	if kind(doc) != '{' {
		return t, nil
	}
	if err := json.Unmarshal(doc, &fields); err != nil {
		return nil, newParseError(err)
	}

	if headers, ok := array(fields["headers"]); ok {
		t.Headers = make([]string, len(headers))
		for i, h := range headers {
			t.Headers[i] = coerce(h, "null")
		}
	}

	if rows, ok := array(fields["rows"]); ok {
		t.Rows = make([][]string, len(rows))
		for i, r := range rows {
			t.Rows[i] = Row(r)
		}
	}

	return t, nil
}

// Row coerces one source row. Anything that is not an array is an empty row.
func Row(raw json.RawMessage) []string {
	cells, ok := array(raw)
	if !ok {
		return []string{}
	}
	out := make([]string, len(cells))
	for i, c := range cells {
		out[i] = Cell(c)
	}
	return out
}

// Cell coerces a single JSON value to its display text.
//
//	null          -> ""
//	"text"        -> text
//	true / false  -> "true" / "false"
//	number        -> shortest decimal (exponent form outside [1e-6, 1e21))
//	array, object -> compact JSON
func Cell(raw json.RawMessage) string {
	return coerce(raw, "")
}

func coerce(raw json.RawMessage, null string) string {
	switch kind(raw) {
	case 0, 'n':
		return null
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return string(raw)
		}
		return s
	case 't':
		return "true"
	case 'f':
		return "false"
	case '[', '{':
		var buf bytes.Buffer
		if err := json.Compact(&buf, raw); err != nil {
			return string(raw)
		}
		return buf.String()
	default:
		return number(string(bytes.TrimSpace(raw)))
	}
}

// number renders a JSON number literal the way a browser's String(x) would.
func number(lit string) string {
	f, err := strconv.ParseFloat(lit, 64)
	if err != nil {
		var numErr *strconv.NumError
		if !errors.As(err, &numErr) || numErr.Err != strconv.ErrRange {
			return lit
		}
		// out of range: f is ±Inf or ±0
	}

	switch {
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	case f == 0:
		return "0"
	}

	if abs := math.Abs(f); abs >= 1e-6 && abs < 1e21 {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}

	s := strconv.FormatFloat(f, 'e', -1, 64)
	mant, exp, _ := strings.Cut(s, "e")
	sign, digits := exp[:1], strings.TrimLeft(exp[1:], "0")
	return mant + "e" + sign + digits
}

func array(raw json.RawMessage) ([]json.RawMessage, bool) {
	if kind(raw) != '[' {
		return nil, false
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, false
	}
	return items, true
}

// kind returns the first significant byte of raw, or 0 when raw is empty.
func kind(raw json.RawMessage) byte {
	raw = bytes.TrimLeft(raw, " \t\r\n")
	if len(raw) == 0 {
		return 0
	}
	return raw[0]
}

func newParseError(err error) *ParseError {
	pe := &ParseError{Err: err}
	var syn *json.SyntaxError
	if errors.As(err, &syn) {
		pe.Offset = syn.Offset
	}
	return pe
}
