// Package lexer converts MQL5 source text into a flat token stream.
//
// Whitespace, newlines, comments and preprocessor directives are dropped.
// Statement termination is carried by ';' alone, so the stream has no
// newline tokens. The stream always ends with exactly one EOF token.
package lexer

import (
	"fmt"
	"strconv"
	"strings"

	"mqlbt/internal/mql/token"
)

// LexError reports an unterminated string or an unrecognised character. It
// is fatal to tokenization.
type LexError struct {
	Line   int
	Column int
	Msg    string
}

func (e *LexError) Error() string {
	return fmt.Sprintf("lex error at %d:%d: %s", e.Line, e.Column, e.Msg)
}

// Lexer scans one source string.
type Lexer struct {
	src    string
	pos    int
	line   int
	column int
}

// New creates a Lexer positioned at the start of src.
func New(src string) *Lexer {
	return &Lexer{src: src, line: 1, column: 1}
}

// Tokenize scans the whole of src.
func Tokenize(src string) ([]token.Token, error) {
	l := New(src)
	var toks []token.Token
	for {
		tok, err := l.Next()
		if err != nil {
			return nil, err
		}
		toks = append(toks, tok)
		if tok.Kind == token.EOF {
			return toks, nil
		}
	}
}

func (l *Lexer) peek(off int) byte {
	if l.pos+off < len(l.src) {
		return l.src[l.pos+off]
	}
	return 0
}

func (l *Lexer) advance() byte {
	c := l.src[l.pos]
	l.pos++
	if c == '\n' {
		l.line++
		l.column = 1
	} else {
		l.column++
	}
	return c
}

func (l *Lexer) errorf(line, col int, format string, args ...any) error {
	return &LexError{Line: line, Column: col, Msg: fmt.Sprintf(format, args...)}
}

// skipTrivia drops whitespace, comments and preprocessor lines.
func (l *Lexer) skipTrivia() {
	for l.pos < len(l.src) {
		c := l.peek(0)
		switch {
		case c == ' ' || c == '\t' || c == '\r' || c == '\n':
			l.advance()
		case c == '/' && l.peek(1) == '/':
			l.skipLine()
		case c == '/' && l.peek(1) == '*':
			l.advance()
			l.advance()
			for l.pos < len(l.src) && !(l.peek(0) == '*' && l.peek(1) == '/') {
				l.advance()
			}
			if l.pos < len(l.src) {
				l.advance()
				l.advance()
			}
		case c == '#':
			l.skipLine()
		default:
			return
		}
	}
}

func (l *Lexer) skipLine() {
	for l.pos < len(l.src) && l.peek(0) != '\n' {
		l.advance()
	}
}

// Next returns the next token. After EOF it keeps returning EOF.
func (l *Lexer) Next() (token.Token, error) {
	l.skipTrivia()
	line, col := l.line, l.column
	if l.pos >= len(l.src) {
		return token.Token{Kind: token.EOF, Line: line, Column: col}, nil
	}

	c := l.peek(0)
	switch {
	case isLetter(c):
		start := l.pos
		for l.pos < len(l.src) && (isLetter(l.peek(0)) || isDigit(l.peek(0))) {
			l.advance()
		}
		word := l.src[start:l.pos]
		return token.Token{Kind: token.Lookup(word), Literal: word, Line: line, Column: col}, nil

	case isDigit(c) || (c == '.' && isDigit(l.peek(1))):
		return l.number(line, col)

	case c == '"' || c == '\'':
		return l.str(line, col)
	}

	if l.pos+1 < len(l.src) {
		if k, ok := token.Operators[l.src[l.pos:l.pos+2]]; ok {
			lit := l.src[l.pos : l.pos+2]
			l.advance()
			l.advance()
			return token.Token{Kind: k, Literal: lit, Line: line, Column: col}, nil
		}
	}
	if k, ok := token.Operators[string(c)]; ok {
		l.advance()
		return token.Token{Kind: k, Literal: string(c), Line: line, Column: col}, nil
	}
	return token.Token{}, l.errorf(line, col, "unexpected character %q", c)
}

func (l *Lexer) number(line, col int) (token.Token, error) {
	start := l.pos
	if x := l.peek(1); l.peek(0) == '0' && (x == 'x' || x == 'X') && isHexDigit(l.peek(2)) {
		l.advance()
		l.advance()
		for isHexDigit(l.peek(0)) {
			l.advance()
		}
		lit := l.src[start:l.pos]
		v, err := strconv.ParseUint(lit[2:], 16, 64)
		if err != nil {
			return token.Token{}, l.errorf(line, col, "malformed number %q", lit)
		}
		return token.Token{Kind: token.NUMBER, Literal: lit, Value: float64(v), Line: line, Column: col}, nil
	}
	for isDigit(l.peek(0)) {
		l.advance()
	}
	if l.peek(0) == '.' {
		l.advance()
		for isDigit(l.peek(0)) {
			l.advance()
		}
	}
	if e := l.peek(0); e == 'e' || e == 'E' {
		off := 1
		if s := l.peek(1); s == '+' || s == '-' {
			off = 2
		}
		if isDigit(l.peek(off)) {
			for i := 0; i < off; i++ {
				l.advance()
			}
			for isDigit(l.peek(0)) {
				l.advance()
			}
		}
	}
	lit := l.src[start:l.pos]
	v, err := strconv.ParseFloat(lit, 64)
	if err != nil {
		return token.Token{}, l.errorf(line, col, "malformed number %q", lit)
	}
	return token.Token{Kind: token.NUMBER, Literal: lit, Value: v, Line: line, Column: col}, nil
}

func (l *Lexer) str(line, col int) (token.Token, error) {
	quote := l.advance()
	var b strings.Builder
	for {
		if l.pos >= len(l.src) {
			return token.Token{}, l.errorf(line, col, "unterminated string")
		}
		c := l.advance()
		if c == quote {
			break
		}
		if c != '\\' {
			b.WriteByte(c)
			continue
		}
		if l.pos >= len(l.src) {
			return token.Token{}, l.errorf(line, col, "unterminated string")
		}
		switch e := l.advance(); e {
		case 'n':
			b.WriteByte('\n')
		case 't':
			b.WriteByte('\t')
		case 'r':
			b.WriteByte('\r')
		case '0':
			b.WriteByte(0)
		default:
			// \\, \", \' and unknown escapes all yield the escaped byte.
			b.WriteByte(e)
		}
	}
	return token.Token{Kind: token.STRING, Literal: b.String(), Line: line, Column: col}, nil
}

func isLetter(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isHexDigit(c byte) bool {
	return isDigit(c) || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}
