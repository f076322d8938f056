// Package record implements ordered key-value records that are built by
// zipping positional JSON arrays against schema field names.
//
// Records marshal to JSON objects whose keys appear in insertion order,
// which for archive files is the order of the fields in the schema.
// When decoding JSON, nested objects become *Record, arrays become
// []interface{}, and numbers become json.Number so that numeric values
// are written back exactly as they were read.
package record

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/iancoleman/orderedmap"
)

// Record is an ordered mapping from field name to value.  The zero value
// is only useful as the target of json.Unmarshal; use New otherwise.
type Record struct {
	m *orderedmap.OrderedMap
}

var (
	ErrNotArray     = errors.New("not a JSON array")
	ErrNotObject    = errors.New("not a JSON object")
	ErrTrailingData = errors.New("trailing data after JSON value")
	ErrSyntax       = errors.New("invalid JSON")
)

// New returns an empty record.
func New() *Record {
	return &Record{m: orderedmap.New()}
}

// Decode zips the given field names and values positionally.  If the
// lengths differ, only positions present in both are used.
func Decode(names []string, values []interface{}) *Record {
	r := New()
	for i := 0; i < len(names) && i < len(values); i++ {
		r.Set(names[i], values[i])
	}
	return r
}

// BestEffort calls decode and returns its result, or nil if decode
// failed.  It never returns an error.
func BestEffort(decode func() (interface{}, error)) interface{} {
	v, err := decode()
	if err != nil {
		return nil
	}
	return v
}

// Set sets the value of key.  A new key is appended; an existing key
// keeps its position.
func (r *Record) Set(key string, value interface{}) {
	r.m.Set(key, value)
}

// Get returns the value of key and whether it exists.
func (r *Record) Get(key string) (interface{}, bool) {
	return r.m.Get(key)
}

// Keys returns the keys in order.
func (r *Record) Keys() []string {
	keys := r.m.Keys()
	return append(make([]string, 0, len(keys)), keys...)
}

// Len returns the number of keys.
func (r *Record) Len() int {
	return len(r.m.Keys())
}

// MarshalJSON implements json.Marshaler.
func (r *Record) MarshalJSON() ([]byte, error) {
	if r == nil {
		return []byte("null"), nil
	}
	b, err := r.m.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("failed to marshal record: %w", err)
	}
	// The ordered map's encoder ends every key and value with a newline.
	var buf bytes.Buffer
	if err := json.Compact(&buf, b); err != nil {
		return nil, fmt.Errorf("failed to compact record: %w", err)
	}
	return buf.Bytes(), nil
}

// UnmarshalJSON implements json.Unmarshaler.  The order of the keys in
// data is preserved.
func (r *Record) UnmarshalJSON(data []byte) error {
	v, err := parse(data)
	if err != nil {
		return err
	}
	rec, ok := v.(*Record)
	if !ok {
		return fmt.Errorf("%T: %w", v, ErrNotObject)
	}
	*r = *rec
	return nil
}

// ParseArray parses data which must be a single JSON array.  The
// non-finite numbers NaN, Infinity, and -Infinity, which Python's json
// module writes by default, are accepted and decoded as nil.
func ParseArray(data []byte) ([]interface{}, error) {
	v, err := parse(nonFiniteToNull(data))
	if err != nil {
		return nil, err
	}
	arr, ok := v.([]interface{})
	if !ok {
		return nil, fmt.Errorf("%T: %w", v, ErrNotArray)
	}
	return arr, nil
}

// parse parses data which must hold exactly one JSON value.
func parse(data []byte) (interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	v, err := decodeValue(dec)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: unexpected end of input", ErrSyntax)
		}
		return nil, fmt.Errorf("%w: %v", ErrSyntax, err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, ErrTrailingData
	}
	return v, nil
}

func decodeValue(dec *json.Decoder) (interface{}, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err //nolint:wrapcheck
	}
	delim, ok := tok.(json.Delim)
	if !ok {
		// string, json.Number, bool, or nil
		return tok, nil
	}
	switch delim {
	case '{':
		r := New()
		for dec.More() {
			keyTok, err := dec.Token()
			if err != nil {
				return nil, err //nolint:wrapcheck
			}
			key, ok := keyTok.(string)
			if !ok {
				return nil, fmt.Errorf("unexpected object key %v", keyTok) //nolint:goerr113
			}
			v, err := decodeValue(dec)
			if err != nil {
				return nil, err
			}
			r.Set(key, v)
		}
		if _, err := dec.Token(); err != nil {
			return nil, err //nolint:wrapcheck
		}
		return r, nil
	case '[':
		arr := []interface{}{}
		for dec.More() {
			v, err := decodeValue(dec)
			if err != nil {
				return nil, err
			}
			arr = append(arr, v)
		}
		if _, err := dec.Token(); err != nil {
			return nil, err //nolint:wrapcheck
		}
		return arr, nil
	}
	return nil, fmt.Errorf("unexpected delimiter %v", delim) //nolint:goerr113
}

var nonFinite = [][]byte{[]byte("-Infinity"), []byte("Infinity"), []byte("NaN")}

// nonFiniteToNull replaces every NaN, Infinity, and -Infinity token
// outside of strings with null.
func nonFiniteToNull(data []byte) []byte {
	var out []byte
	inString := false
	for i := 0; i < len(data); i++ {
		c := data[i]
		if inString {
			switch c {
			case '\\':
				if i+1 < len(data) {
					out = append(out, c)
					i++
					c = data[i]
				}
			case '"':
				inString = false
			}
			out = append(out, c)
			continue
		}
		if c == '"' {
			inString = true
		}
		matched := false
		for _, tok := range nonFinite {
			if bytes.HasPrefix(data[i:], tok) {
				out = append(out, "null"...)
				i += len(tok) - 1
				matched = true
				break
			}
		}
		if !matched {
			out = append(out, c)
		}
	}
	return out
}
