package runtime

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// Coerce converts rendered template text to a typed Value. Priority: null
// literal, boolean, integer, float, bracketed list or tuple, raw string.
func Coerce(text string) Value {
	s := strings.TrimSpace(text)
	switch s {
	case "None", "null":
		return Null()
	case "True", "true":
		return Bool(true)
	case "False", "false":
		return Bool(false)
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return Int(i)
	}
	if looksNumeric(s) {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return Float(f)
		}
	}
	if isBracketed(s) {
		if v, err := parseLiteral(s); err == nil {
			return v
		}
	}
	return String(text)
}

// looksNumeric rejects words ParseFloat would accept, such as "inf" or "nan".
func looksNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !(unicode.IsDigit(r) || strings.ContainsRune("+-.eE", r)) {
			return false
		}
	}
	return strings.IndexFunc(s, unicode.IsDigit) >= 0
}

func isBracketed(s string) bool {
	if len(s) < 2 {
		return false
	}
	return (s[0] == '[' && s[len(s)-1] == ']') || (s[0] == '(' && s[len(s)-1] == ')')
}

type literalParser struct {
	src string
	pos int
}

// parseLiteral parses a bracketed sequence whose elements are numbers,
// quoted strings, the constants True/False/None or nested sequences.
func parseLiteral(s string) (Value, error) {
	p := &literalParser{src: s}
	v, err := p.value()
	if err != nil {
		return Value{}, err
	}
	p.skipSpace()
	if p.pos != len(p.src) {
		return Value{}, fmt.Errorf("unexpected %q at %d", p.src[p.pos:], p.pos)
	}
	return v, nil
}

func (p *literalParser) skipSpace() {
	for p.pos < len(p.src) && unicode.IsSpace(rune(p.src[p.pos])) {
		p.pos++
	}
}

func (p *literalParser) value() (Value, error) {
	p.skipSpace()
	if p.pos >= len(p.src) {
		return Value{}, fmt.Errorf("unexpected end of literal")
	}
	switch c := p.src[p.pos]; {
	case c == '[' || c == '(':
		return p.sequence()
	case c == '\'' || c == '"':
		return p.quoted()
	default:
		return p.atom()
	}
}

func (p *literalParser) sequence() (Value, error) {
	closing := byte(']')
	if p.src[p.pos] == '(' {
		closing = ')'
	}
	p.pos++

	var elems []Value
	for {
		p.skipSpace()
		if p.pos < len(p.src) && p.src[p.pos] == closing {
			p.pos++
			return normalizeSequence(elems), nil
		}
		v, err := p.value()
		if err != nil {
			return Value{}, err
		}
		elems = append(elems, v)

		p.skipSpace()
		if p.pos >= len(p.src) {
			return Value{}, fmt.Errorf("unterminated sequence")
		}
		switch p.src[p.pos] {
		case ',':
			p.pos++
		case closing:
		default:
			return Value{}, fmt.Errorf("expected ',' at %d", p.pos)
		}
	}
}

func (p *literalParser) quoted() (Value, error) {
	q := p.src[p.pos]
	p.pos++
	var b strings.Builder
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		switch {
		case c == '\\' && p.pos+1 < len(p.src):
			b.WriteByte(p.src[p.pos+1])
			p.pos += 2
		case c == q:
			p.pos++
			return String(b.String()), nil
		default:
			b.WriteByte(c)
			p.pos++
		}
	}
	return Value{}, fmt.Errorf("unterminated string")
}

func (p *literalParser) atom() (Value, error) {
	start := p.pos
	for p.pos < len(p.src) && !strings.ContainsRune(",)] \t\n", rune(p.src[p.pos])) {
		p.pos++
	}
	tok := p.src[start:p.pos]
	switch tok {
	case "None", "null":
		return Null(), nil
	case "True", "true":
		return Bool(true), nil
	case "False", "false":
		return Bool(false), nil
	}
	if i, err := strconv.ParseInt(tok, 10, 64); err == nil {
		return Int(i), nil
	}
	if looksNumeric(tok) {
		if f, err := strconv.ParseFloat(tok, 64); err == nil {
			return Float(f), nil
		}
	}
	return Value{}, fmt.Errorf("invalid literal element %q", tok)
}
