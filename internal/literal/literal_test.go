// Package literal_test implements black-box unit testing for package literal.
package literal_test

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/m-lab/wehe-archiver/internal/literal"
	"github.com/m-lab/wehe-archiver/internal/testhelper"
)

func TestParseMapping(t *testing.T) {
	tests := []struct {
		name     string
		in       string
		wantJSON string
		wantErr  error
	}{
		{
			name:     "android metadata",
			in:       `{'cellInfo': None, 'model': 'Pixel 7', 'manufacturer': u'Google', 'os': {'INCREMENTAL': 9821, 'RELEASE': '14', 'SDK_INT': 34}, 'networkType': 'WIFI', 'locationInfo': {'latitude': 42.34, 'longitude': -71.09, 'country': 'United States', 'countryCode': 'US', 'city': 'Boston', 'localTime': '2024-03-07 10:11:12-0500'}, 'updatedCarrierName': 'T-Mobile'}`,
			wantJSON: `{"cellInfo":null,"model":"Pixel 7","manufacturer":"Google","os":{"INCREMENTAL":9821,"RELEASE":"14","SDK_INT":34},"networkType":"WIFI","locationInfo":{"latitude":42.34,"longitude":-71.09,"country":"United States","countryCode":"US","city":"Boston","localTime":"2024-03-07 10:11:12-0500"},"updatedCarrierName":"T-Mobile"}`,
		},
		{
			name:     "json metadata",
			in:       `{"model": "iPhone", "ok": true, "gone": null, "n": [1, 2.5e1]}`,
			wantJSON: `{"model":"iPhone","ok":true,"gone":null,"n":[1,2.5e1]}`,
		},
		{
			name:     "tuples, escapes, and python booleans",
			in:       "{'t': (1, 'a\\'b', False,), 'x': '\\x41\\u00e9\\n', 'r': r'\\d', 'empty': {}}",
			wantJSON: `{"t":[1,"a'b",false],"x":"Aé\n","r":"\\d","empty":{}}`,
		},
		{
			name:     "floats keep their text",
			in:       "{'a': 42.0, 'b': 12345678.5, 'c': -0.0, 'd': 1., 'e': .5, 'f': 1_000.25}",
			wantJSON: `{"a":42.0,"b":12345678.5,"c":-0.0,"d":1,"e":0.5,"f":1000.25}`,
		},
		{
			name:     "whitespace around",
			in:       "  \n{ 'a' : +1_000 }\t",
			wantJSON: `{"a":1000}`,
		},
		{
			name:    "empty string",
			in:      "",
			wantErr: literal.ErrSyntax,
		},
		{
			name:    "not a mapping",
			in:      "[1, 2]",
			wantErr: literal.ErrNotMapping,
		},
		{
			name:    "non-string key",
			in:      "{1: 'a'}",
			wantErr: literal.ErrKeyType,
		},
		{
			name:    "unterminated string",
			in:      "{'a': 'b}",
			wantErr: literal.ErrSyntax,
		},
		{
			name:    "missing comma",
			in:      "{'a': 1 'b': 2}",
			wantErr: literal.ErrSyntax,
		},
		{
			name:    "function call",
			in:      "{'a': float('inf')}",
			wantErr: literal.ErrSyntax,
		},
		{
			name:    "leading zero",
			in:      "{'a': 012}",
			wantErr: literal.ErrSyntax,
		},
		{
			name:    "trailing garbage",
			in:      "{'a': 1} x",
			wantErr: literal.ErrSyntax,
		},
	}
	for i, test := range tests {
		t.Logf("%s>>> test %02d: %s%s", testhelper.ANSIPurple, i, test.name, testhelper.ANSIEnd)
		got, err := literal.ParseMapping(test.in)
		if !errors.Is(err, test.wantErr) {
			t.Fatalf("ParseMapping() = %v, want %v", err, test.wantErr)
		}
		if test.wantErr != nil {
			continue
		}
		gotJSON, err := json.Marshal(got)
		if err != nil {
			t.Fatalf("json.Marshal() = %v, want nil", err)
		}
		if string(gotJSON) != test.wantJSON {
			t.Fatalf("ParseMapping() = %s, want %s", gotJSON, test.wantJSON)
		}
	}
}

func TestParseDepth(t *testing.T) {
	deep := ""
	for i := 0; i < 100; i++ {
		deep += "["
	}
	if _, err := literal.Parse(deep); !errors.Is(err, literal.ErrSyntax) {
		t.Fatalf("Parse() = %v, want %v", err, literal.ErrSyntax)
	}
}
