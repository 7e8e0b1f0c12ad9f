package schema

import (
	"fmt"
	"strings"
	"unicode"
)

// Parse reads rules in bracket notation:
//
//	[ class, stream, expver
//	    [ date, time
//	        [ step, param ] ] ]
//
// Commas are optional, '#' starts a comment running to the end of the line
// and "keyword:Type" annotations are accepted and ignored.
func Parse(text string) (*Schema, error) {
	p := &parser{input: text}
	var rules []*Rule
	for {
		p.skipSpace()
		if p.eof() {
			break
		}
		r, err := p.rule()
		if err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	return New(rules)
}

type parser struct {
	input string
	pos   int
	line  int
}

func (p *parser) eof() bool {
	return p.pos >= len(p.input)
}

func (p *parser) errorf(format string, args ...any) error {
	return fmt.Errorf("%w: line %d: %s", ErrInvalidSchema, p.line+1, fmt.Sprintf(format, args...))
}

func (p *parser) skipSpace() {
	for !p.eof() {
		c := p.input[p.pos]
		switch {
		case c == '#':
			for !p.eof() && p.input[p.pos] != '\n' {
				p.pos++
			}
		case c == ',':
			p.pos++
		case c == '\n':
			p.line++
			p.pos++
		case unicode.IsSpace(rune(c)):
			p.pos++
		default:
			return
		}
	}
}

func (p *parser) rule() (*Rule, error) {
	if p.input[p.pos] != '[' {
		return nil, p.errorf("expected '[', found %q", p.input[p.pos])
	}
	p.pos++

	r := &Rule{}
	for {
		p.skipSpace()
		if p.eof() {
			return nil, p.errorf("unterminated rule")
		}
		switch p.input[p.pos] {
		case ']':
			p.pos++
			return r, nil
		case '[':
			child, err := p.rule()
			if err != nil {
				return nil, err
			}
			r.Children = append(r.Children, child)
		default:
			word := p.word()
			if word == "" {
				return nil, p.errorf("unexpected character %q", p.input[p.pos])
			}
			if len(r.Children) > 0 {
				return nil, p.errorf("keyword %q follows a child rule", word)
			}
			r.Keywords = append(r.Keywords, stripType(word))
		}
	}
}

func (p *parser) word() string {
	start := p.pos
	for !p.eof() {
		c := p.input[p.pos]
		if c == '[' || c == ']' || c == ',' || c == '#' || unicode.IsSpace(rune(c)) {
			break
		}
		p.pos++
	}
	return strings.TrimSpace(p.input[start:p.pos])
}
