// Package record_test implements black-box unit testing for package record.
package record_test

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"

	"github.com/m-lab/wehe-archiver/internal/record"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name     string
		names    []string
		values   []interface{}
		wantKeys []string
		wantJSON string
	}{
		{
			name:     "same length",
			names:    []string{"a", "b", "c"},
			values:   []interface{}{1, "two", true},
			wantKeys: []string{"a", "b", "c"},
			wantJSON: `{"a":1,"b":"two","c":true}`,
		},
		{
			name:     "fewer values than names",
			names:    []string{"a", "b", "c"},
			values:   []interface{}{1},
			wantKeys: []string{"a"},
			wantJSON: `{"a":1}`,
		},
		{
			name:     "more values than names",
			names:    []string{"z", "y"},
			values:   []interface{}{1, 2, 3},
			wantKeys: []string{"z", "y"},
			wantJSON: `{"z":1,"y":2}`,
		},
		{
			name:     "empty",
			names:    nil,
			values:   nil,
			wantKeys: []string{},
			wantJSON: `{}`,
		},
	}
	for _, test := range tests {
		r := record.Decode(test.names, test.values)
		if got := r.Keys(); !reflect.DeepEqual(got, test.wantKeys) {
			t.Fatalf("%s: Keys() = %v, want %v", test.name, got, test.wantKeys)
		}
		got, err := json.Marshal(r)
		if err != nil {
			t.Fatalf("%s: json.Marshal() = %v, want nil", test.name, err)
		}
		if string(got) != test.wantJSON {
			t.Fatalf("%s: json.Marshal() = %s, want %s", test.name, got, test.wantJSON)
		}
	}
}

func TestSetKeepsPosition(t *testing.T) {
	r := record.New()
	r.Set("b", 1)
	r.Set("a", 2)
	r.Set("b", 3)
	if got := r.Keys(); !reflect.DeepEqual(got, []string{"b", "a"}) {
		t.Fatalf("Keys() = %v, want [b a]", got)
	}
	if v, ok := r.Get("b"); !ok || v != 3 {
		t.Fatalf("Get(b) = %v, %v, want 3, true", v, ok)
	}
	if _, ok := r.Get("c"); ok {
		t.Fatalf("Get(c) = _, true, want false")
	}
	if r.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", r.Len())
	}
}

func TestBestEffort(t *testing.T) {
	if got := record.BestEffort(func() (interface{}, error) { return "ok", nil }); got != "ok" {
		t.Fatalf("BestEffort() = %v, want ok", got)
	}
	if got := record.BestEffort(func() (interface{}, error) { return "partial", errors.New("bad") }); got != nil { //nolint:goerr113
		t.Fatalf("BestEffort() = %v, want nil", got)
	}
}

func TestParseArray(t *testing.T) {
	tests := []struct {
		name     string
		data     string
		wantJSON string
		wantErr  error
	}{
		{
			name:     "numbers round-trip exactly",
			data:     `[0.12, 10, 1e3, -0.0, 12345678901234567890]`,
			wantJSON: `[0.12,10,1e3,-0.0,12345678901234567890]`,
		},
		{
			name:     "nested objects keep their key order",
			data:     `[{"z": 1, "a": {"y": null, "b": [true, "x"]}}]`,
			wantJSON: `[{"z":1,"a":{"y":null,"b":[true,"x"]}}]`,
		},
		{
			name:     "empty array",
			data:     " [] \n",
			wantJSON: `[]`,
		},
		{
			name:     "non-finite numbers become null",
			data:     `[NaN, Infinity, -Infinity, [1, NaN], {"p": NaN}]`,
			wantJSON: `[null,null,null,[1,null],{"p":null}]`,
		},
		{
			name:     "non-finite spellings inside strings are kept",
			data:     `["NaN", "a \"Infinity\" b", "\\", -Infinity]`,
			wantJSON: `["NaN","a \"Infinity\" b","\\",null]`,
		},
		{
			name:    "object is not an array",
			data:    `{"a": 1}`,
			wantErr: record.ErrNotArray,
		},
		{
			name:    "empty input",
			data:    "",
			wantErr: record.ErrSyntax,
		},
		{
			name:    "truncated",
			data:    `[1, 2`,
			wantErr: record.ErrSyntax,
		},
		{
			name:    "trailing data",
			data:    `[1] [2]`,
			wantErr: record.ErrTrailingData,
		},
	}
	for _, test := range tests {
		got, err := record.ParseArray([]byte(test.data))
		if !errors.Is(err, test.wantErr) {
			t.Fatalf("%s: ParseArray() = %v, want %v", test.name, err, test.wantErr)
		}
		if test.wantErr != nil {
			continue
		}
		gotJSON, err := json.Marshal(got)
		if err != nil {
			t.Fatalf("%s: json.Marshal() = %v, want nil", test.name, err)
		}
		if string(gotJSON) != test.wantJSON {
			t.Fatalf("%s: got %s, want %s", test.name, gotJSON, test.wantJSON)
		}
	}
}

func TestUnmarshalJSON(t *testing.T) {
	var r record.Record
	if err := json.Unmarshal([]byte(`{"c": 3, "a": [1, {"q": 2, "p": 1}], "b": "x"}`), &r); err != nil {
		t.Fatalf("json.Unmarshal() = %v, want nil", err)
	}
	if got := r.Keys(); !reflect.DeepEqual(got, []string{"c", "a", "b"}) {
		t.Fatalf("Keys() = %v, want [c a b]", got)
	}
	a, _ := r.Get("a")
	nested, ok := a.([]interface{})[1].(*record.Record)
	if !ok {
		t.Fatalf("nested object is %T, want *record.Record", a.([]interface{})[1])
	}
	if got := nested.Keys(); !reflect.DeepEqual(got, []string{"q", "p"}) {
		t.Fatalf("nested Keys() = %v, want [q p]", got)
	}

	if err := json.Unmarshal([]byte(`[1, 2]`), &r); !errors.Is(err, record.ErrNotObject) {
		t.Fatalf("json.Unmarshal() = %v, want %v", err, record.ErrNotObject)
	}
}

func TestMarshalJSONCompact(t *testing.T) {
	r := record.New()
	r.Set("b", []interface{}{json.Number("1.50"), "x"})
	nested := record.New()
	nested.Set("z", nil)
	r.Set("a", nested)
	got, err := r.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON() = %v, want nil", err)
	}
	if want := `{"b":[1.50,"x"],"a":{"z":null}}`; string(got) != want {
		t.Fatalf("MarshalJSON() = %s, want %s", got, want)
	}
}

func TestMarshalNil(t *testing.T) {
	var r *record.Record
	got, err := r.MarshalJSON()
	if err != nil || string(got) != "null" {
		t.Fatalf("MarshalJSON() = %s, %v, want null, nil", got, err)
	}
}
