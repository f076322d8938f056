// Package literal parses the textual mappings that Wehe clients send as
// replay metadata.
//
// The metadata arrives as the printed form of a dictionary, for example
//
//	{'model': 'Pixel 7', 'os': {'RELEASE': '14', 'SDK_INT': 34}, 'cellInfo': None}
//
// which is not JSON: strings may be single-quoted (optionally with a u, r,
// or b prefix), booleans and null are True, False, and None, and lists
// may be written as tuples.  The parser also accepts the JSON spellings
// true, false, and null because newer clients send JSON.
//
// Mappings are returned as *record.Record so that their key order is
// preserved, sequences as []interface{}, and numbers as json.Number.
package literal

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/m-lab/wehe-archiver/internal/record"
)

var (
	ErrSyntax     = errors.New("invalid literal")
	ErrNotMapping = errors.New("literal is not a mapping")
	ErrKeyType    = errors.New("mapping key is not a string")

	// maxDepth bounds nesting of containers.
	maxDepth = 64
)

type parser struct {
	s     string
	pos   int
	depth int
}

// ParseMapping parses s which must be a mapping literal.
func ParseMapping(s string) (*record.Record, error) {
	v, err := Parse(s)
	if err != nil {
		return nil, err
	}
	r, ok := v.(*record.Record)
	if !ok {
		return nil, fmt.Errorf("%T: %w", v, ErrNotMapping)
	}
	return r, nil
}

// Parse parses s which must hold exactly one literal.
func Parse(s string) (interface{}, error) {
	p := &parser{s: s}
	v, err := p.value()
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if p.pos != len(p.s) {
		return nil, p.errorf("unexpected %q after literal", p.s[p.pos:])
	}
	return v, nil
}

func (p *parser) errorf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: offset %d: %s", ErrSyntax, p.pos, fmt.Sprintf(format, args...))
}

func (p *parser) skipSpace() {
	for p.pos < len(p.s) {
		switch p.s[p.pos] {
		case ' ', '\t', '\n', '\r':
			p.pos++
		default:
			return
		}
	}
}

func (p *parser) peek() byte {
	if p.pos < len(p.s) {
		return p.s[p.pos]
	}
	return 0
}

func (p *parser) value() (interface{}, error) {
	p.skipSpace()
	if p.pos >= len(p.s) {
		return nil, p.errorf("unexpected end of input")
	}
	c := p.s[p.pos]
	switch {
	case c == '{':
		return p.container('{', '}')
	case c == '[':
		return p.container('[', ']')
	case c == '(':
		return p.container('(', ')')
	case c == '\'' || c == '"':
		return p.str(false)
	case c == '-' || c == '+' || c == '.' || (c >= '0' && c <= '9'):
		return p.number()
	case isNameStart(c):
		return p.name()
	}
	return nil, p.errorf("unexpected character %q", c)
}

func (p *parser) container(open, closing byte) (interface{}, error) {
	p.depth++
	defer func() { p.depth-- }()
	if p.depth > maxDepth {
		return nil, p.errorf("nesting deeper than %d", maxDepth)
	}
	p.pos++ // open
	var (
		rec = record.New()
		arr = []interface{}{}
	)
	for {
		p.skipSpace()
		if p.peek() == closing {
			p.pos++
			break
		}
		if open == '{' {
			k, err := p.value()
			if err != nil {
				return nil, err
			}
			key, ok := k.(string)
			if !ok {
				return nil, fmt.Errorf("%v: %w", k, ErrKeyType)
			}
			p.skipSpace()
			if p.peek() != ':' {
				return nil, p.errorf("expected ':' after key %q", key)
			}
			p.pos++
			v, err := p.value()
			if err != nil {
				return nil, err
			}
			rec.Set(key, v)
		} else {
			v, err := p.value()
			if err != nil {
				return nil, err
			}
			arr = append(arr, v)
		}
		p.skipSpace()
		switch p.peek() {
		case ',':
			p.pos++
		case closing:
		default:
			return nil, p.errorf("expected ',' or %q", closing)
		}
	}
	if open == '{' {
		return rec, nil
	}
	return arr, nil
}

func isNameStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func (p *parser) name() (interface{}, error) {
	start := p.pos
	for p.pos < len(p.s) && (isNameStart(p.s[p.pos]) || (p.s[p.pos] >= '0' && p.s[p.pos] <= '9')) {
		p.pos++
	}
	word := p.s[start:p.pos]
	switch word {
	case "True", "true":
		return true, nil
	case "False", "false":
		return false, nil
	case "None", "null":
		return nil, nil
	}
	// String prefixes.
	if q := p.peek(); q == '\'' || q == '"' {
		switch strings.ToLower(word) {
		case "u", "b":
			return p.str(false)
		case "r", "ur", "br", "rb":
			return p.str(true)
		}
	}
	p.pos = start
	return nil, p.errorf("unknown name %q", word)
}

func (p *parser) str(raw bool) (interface{}, error) {
	quote := p.s[p.pos]
	p.pos++
	var sb strings.Builder
	for {
		if p.pos >= len(p.s) {
			return nil, p.errorf("unterminated string")
		}
		c := p.s[p.pos]
		switch {
		case c == quote:
			p.pos++
			return sb.String(), nil
		case c == '\n':
			return nil, p.errorf("newline in string")
		case c == '\\' && p.pos+1 < len(p.s):
			if raw {
				sb.WriteString(p.s[p.pos : p.pos+2])
				p.pos += 2
				continue
			}
			if err := p.escape(&sb); err != nil {
				return nil, err
			}
		default:
			sb.WriteByte(c)
			p.pos++
		}
	}
}

// escape decodes the escape sequence at p.pos into sb.
func (p *parser) escape(sb *strings.Builder) error {
	c := p.s[p.pos+1]
	p.pos += 2
	switch c {
	case '\\', '\'', '"':
		sb.WriteByte(c)
	case 'n':
		sb.WriteByte('\n')
	case 't':
		sb.WriteByte('\t')
	case 'r':
		sb.WriteByte('\r')
	case 'b':
		sb.WriteByte('\b')
	case 'f':
		sb.WriteByte('\f')
	case '0':
		sb.WriteByte(0)
	case '\n':
		// line continuation
	case 'x', 'u', 'U':
		n := map[byte]int{'x': 2, 'u': 4, 'U': 8}[c]
		if p.pos+n > len(p.s) {
			return p.errorf("truncated \\%c escape", c)
		}
		code, err := strconv.ParseUint(p.s[p.pos:p.pos+n], 16, 32)
		if err != nil || !utf8.ValidRune(rune(code)) {
			return p.errorf("invalid \\%c escape", c)
		}
		sb.WriteRune(rune(code))
		p.pos += n
	default:
		// Unknown escapes are kept as is.
		sb.WriteByte('\\')
		sb.WriteByte(c)
	}
	return nil
}

func (p *parser) number() (interface{}, error) {
	start := p.pos
	if c := p.peek(); c == '-' || c == '+' {
		p.pos++
	}
	isFloat := false
	for p.pos < len(p.s) && p.numberByte(p.s[p.pos]) {
		if c := p.s[p.pos]; c == '.' || c == 'e' || c == 'E' {
			isFloat = true
		}
		p.pos++
	}
	orig := p.s[start:p.pos]
	text := strings.TrimPrefix(strings.ReplaceAll(orig, "_", ""), "+")
	if isFloat {
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			p.pos = start
			return nil, p.errorf("invalid number %q", orig)
		}
		// Keep the text unless JSON cannot represent it (e.g. "1." or ".5").
		if json.Valid([]byte(text)) {
			return json.Number(text), nil
		}
		return json.Number(strconv.FormatFloat(f, 'g', -1, 64)), nil
	}
	digits := strings.TrimPrefix(text, "-")
	if digits == "" || (len(digits) > 1 && digits[0] == '0') || strings.Trim(digits, "0123456789") != "" {
		p.pos = start
		return nil, p.errorf("invalid integer %q", orig)
	}
	return json.Number(text), nil
}

// numberByte reports whether c continues the number being scanned.
func (p *parser) numberByte(c byte) bool {
	switch {
	case c >= '0' && c <= '9', c == '_', c == '.', c == 'e', c == 'E':
		return true
	case c == '-' || c == '+':
		prev := p.s[p.pos-1]
		return prev == 'e' || prev == 'E'
	}
	return false
}
