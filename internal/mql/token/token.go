// Package token defines the lexical tokens of the MQL5 language subset
// understood by the lexer and parser.
package token

import (
	"fmt"
	"strings"
)

// Kind identifies the lexical class of a token.
type Kind int

const (
	ILLEGAL Kind = iota
	EOF

	// Literals and names.
	IDENT
	NUMBER
	STRING
	NULL

	// Operators.
	PLUS     // +
	MINUS    // -
	STAR     // *
	SLASH    // /
	PERCENT  // %
	ASSIGN   // =
	LT       // <
	GT       // >
	BANG     // !
	TILDE    // ~
	AMP      // &
	PIPE     // |
	CARET    // ^
	QUESTION // ?
	COLON    // :

	INC         // ++
	DEC         // --
	EQ          // ==
	NEQ         // !=
	GEQ         // >=
	LEQ         // <=
	AND         // &&
	OR          // ||
	SHL         // <<
	SHR         // >>
	PLUS_ASSIGN // +=
	MINUS_ASSIGN
	STAR_ASSIGN
	SLASH_ASSIGN

	// Delimiters.
	SEMICOLON
	COMMA
	DOT
	LPAREN
	RPAREN
	LBRACE
	RBRACE
	LBRACKET
	RBRACKET

	keywordBeg
	// Type keywords.
	VOID
	INT
	UINT
	LONG
	ULONG
	SHORT
	USHORT
	CHAR
	UCHAR
	DOUBLE
	FLOAT
	BOOL
	STRING_TYPE
	DATETIME
	COLOR

	// Modifiers.
	INPUT
	STATIC
	CONST

	ENUM
	STRUCT
	CLASS

	IF
	ELSE
	FOR
	WHILE
	DO
	SWITCH
	CASE
	DEFAULT
	RETURN
	BREAK
	CONTINUE

	TRUE
	FALSE
	keywordEnd
)

var lexemes = map[Kind]string{
	ILLEGAL: "ILLEGAL",
	EOF:     "EOF",
	IDENT:   "IDENT",
	NUMBER:  "NUMBER",
	STRING:  "STRING",
	NULL:    "NULL",

	PLUS:     "+",
	MINUS:    "-",
	STAR:     "*",
	SLASH:    "/",
	PERCENT:  "%",
	ASSIGN:   "=",
	LT:       "<",
	GT:       ">",
	BANG:     "!",
	TILDE:    "~",
	AMP:      "&",
	PIPE:     "|",
	CARET:    "^",
	QUESTION: "?",
	COLON:    ":",

	INC:          "++",
	DEC:          "--",
	EQ:           "==",
	NEQ:          "!=",
	GEQ:          ">=",
	LEQ:          "<=",
	AND:          "&&",
	OR:           "||",
	SHL:          "<<",
	SHR:          ">>",
	PLUS_ASSIGN:  "+=",
	MINUS_ASSIGN: "-=",
	STAR_ASSIGN:  "*=",
	SLASH_ASSIGN: "/=",

	SEMICOLON: ";",
	COMMA:     ",",
	DOT:       ".",
	LPAREN:    "(",
	RPAREN:    ")",
	LBRACE:    "{",
	RBRACE:    "}",
	LBRACKET:  "[",
	RBRACKET:  "]",

	VOID:        "void",
	INT:         "int",
	UINT:        "uint",
	LONG:        "long",
	ULONG:       "ulong",
	SHORT:       "short",
	USHORT:      "ushort",
	CHAR:        "char",
	UCHAR:       "uchar",
	DOUBLE:      "double",
	FLOAT:       "float",
	BOOL:        "bool",
	STRING_TYPE: "string",
	DATETIME:    "datetime",
	COLOR:       "color",

	INPUT:  "input",
	STATIC: "static",
	CONST:  "const",

	ENUM:   "enum",
	STRUCT: "struct",
	CLASS:  "class",

	IF:       "if",
	ELSE:     "else",
	FOR:      "for",
	WHILE:    "while",
	DO:       "do",
	SWITCH:   "switch",
	CASE:     "case",
	DEFAULT:  "default",
	RETURN:   "return",
	BREAK:    "break",
	CONTINUE: "continue",

	TRUE:  "true",
	FALSE: "false",
}

var keywords map[string]Kind

// Operators maps every operator and delimiter lexeme to its kind.
var Operators map[string]Kind

func init() {
	keywords = make(map[string]Kind, keywordEnd-keywordBeg)
	for k := keywordBeg + 1; k < keywordEnd; k++ {
		keywords[lexemes[k]] = k
	}
	Operators = make(map[string]Kind)
	for k := PLUS; k <= RBRACKET; k++ {
		Operators[lexemes[k]] = k
	}
}

// String returns the canonical lexeme for operators and keywords, or the
// class name for literal kinds.
func (k Kind) String() string {
	if s, ok := lexemes[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// IsKeyword reports whether k is a reserved word.
func (k Kind) IsKeyword() bool { return k > keywordBeg && k < keywordEnd }

// IsType reports whether k names a built-in type.
func (k Kind) IsType() bool { return k >= VOID && k <= COLOR }

// IsModifier reports whether k is one of input, static or const.
func (k Kind) IsModifier() bool { return k == INPUT || k == STATIC || k == CONST }

// IsAssign reports whether k is = or a compound assignment operator.
func (k Kind) IsAssign() bool {
	switch k {
	case ASSIGN, PLUS_ASSIGN, MINUS_ASSIGN, STAR_ASSIGN, SLASH_ASSIGN:
		return true
	}
	return false
}

// Lookup maps an identifier to its keyword kind. Keyword matching is case
// insensitive; NULL is the one case-sensitive reserved name.
func Lookup(ident string) Kind {
	if ident == "NULL" {
		return NULL
	}
	if k, ok := keywords[strings.ToLower(ident)]; ok {
		return k
	}
	return IDENT
}

// Token is a single lexical unit. Value holds the parsed number for NUMBER
// tokens; Literal holds the decoded text for STRING tokens and the source
// spelling otherwise.
type Token struct {
	Kind    Kind
	Literal string
	Value   float64
	Line    int
	Column  int
}

// Pos formats the token position as line:column.
func (t Token) Pos() string {
	return fmt.Sprintf("%d:%d", t.Line, t.Column)
}

func (t Token) String() string {
	switch t.Kind {
	case IDENT, NUMBER:
		return fmt.Sprintf("%s(%s)", t.Kind, t.Literal)
	case STRING:
		return fmt.Sprintf("STRING(%q)", t.Literal)
	}
	return t.Kind.String()
}
