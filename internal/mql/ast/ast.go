// Package ast defines the abstract syntax tree produced by the MQL5 parser.
//
// The tree is a closed sum type: every node implements Node, and the marker
// interfaces Declaration, Statement and Expression restrict where a node may
// appear. Downstream passes switch on the concrete node type. Nodes own their
// children exclusively; Program owns the whole tree.
package ast

import (
	"strconv"
	"strings"

	"mqlbt/internal/mql/token"
)

// Node is implemented by every AST node.
type Node interface {
	// Pos returns the token that starts the node.
	Pos() token.Token
	// String renders the node as compact, fully parenthesised source.
	String() string
}

// Declaration is a top-level construct.
type Declaration interface {
	Node
	declNode()
}

// Statement appears inside a function body.
type Statement interface {
	Node
	stmtNode()
}

// Expression produces a value.
type Expression interface {
	Node
	exprNode()
}

// ---------------------------------------------------------------------------
// Program and declarations
// ---------------------------------------------------------------------------

// Program is the root of every parse tree.
type Program struct {
	Declarations []Declaration
}

func (p *Program) Pos() token.Token {
	if len(p.Declarations) > 0 {
		return p.Declarations[0].Pos()
	}
	return token.Token{Kind: token.EOF, Line: 1, Column: 1}
}

func (p *Program) String() string {
	var b strings.Builder
	for _, d := range p.Declarations {
		b.WriteString(d.String())
		b.WriteByte('\n')
	}
	return b.String()
}

// Parameter is a single function parameter.
type Parameter struct {
	Token        token.Token
	Type         string
	Name         string
	IsConst      bool
	IsReference  bool
	IsArray      bool
	DefaultValue Expression // nil when absent
}

func (p *Parameter) Pos() token.Token { return p.Token }
func (p *Parameter) String() string {
	var b strings.Builder
	if p.IsConst {
		b.WriteString("const ")
	}
	b.WriteString(p.Type)
	b.WriteByte(' ')
	if p.IsReference {
		b.WriteByte('&')
	}
	b.WriteString(p.Name)
	if p.IsArray {
		b.WriteString("[]")
	}
	if p.DefaultValue != nil {
		b.WriteString(" = ")
		b.WriteString(p.DefaultValue.String())
	}
	return b.String()
}

// FunctionDeclaration is a function definition, or a prototype when Body is nil.
type FunctionDeclaration struct {
	Token      token.Token
	ReturnType string
	Name       string
	Params     []*Parameter
	Body       *BlockStatement
}

func (*FunctionDeclaration) declNode()          {}
func (f *FunctionDeclaration) Pos() token.Token { return f.Token }
func (f *FunctionDeclaration) String() string {
	params := make([]string, len(f.Params))
	for i, p := range f.Params {
		params[i] = p.String()
	}
	head := f.ReturnType + " " + f.Name + "(" + strings.Join(params, ", ") + ")"
	if f.Body == nil {
		return head + ";"
	}
	return head + " " + f.Body.String()
}

// VariableDeclaration declares a global or local variable. It is both a
// Declaration and a Statement.
type VariableDeclaration struct {
	Token        token.Token
	VarType      string
	Name         string
	IsInput      bool
	IsStatic     bool
	IsConst      bool
	DefaultValue Expression // nil when absent
	ArraySize    Expression // nil for scalars and for "[]"
	IsArray      bool
}

func (*VariableDeclaration) declNode()          {}
func (*VariableDeclaration) stmtNode()          {}
func (v *VariableDeclaration) Pos() token.Token { return v.Token }
func (v *VariableDeclaration) String() string {
	var b strings.Builder
	switch {
	case v.IsInput:
		b.WriteString("input ")
	case v.IsStatic:
		b.WriteString("static ")
	}
	if v.IsConst {
		b.WriteString("const ")
	}
	b.WriteString(v.VarType)
	b.WriteByte(' ')
	b.WriteString(v.Name)
	if v.IsArray {
		b.WriteByte('[')
		if v.ArraySize != nil {
			b.WriteString(v.ArraySize.String())
		}
		b.WriteByte(']')
	}
	if v.DefaultValue != nil {
		b.WriteString(" = ")
		b.WriteString(v.DefaultValue.String())
	}
	b.WriteByte(';')
	return b.String()
}

// EnumValue is one member of an enum; Value is nil when not assigned.
type EnumValue struct {
	Token token.Token
	Name  string
	Value Expression
}

// EnumDeclaration declares a named enumeration.
type EnumDeclaration struct {
	Token  token.Token
	Name   string
	Values []*EnumValue
}

func (*EnumDeclaration) declNode()          {}
func (e *EnumDeclaration) Pos() token.Token { return e.Token }
func (e *EnumDeclaration) String() string {
	vals := make([]string, len(e.Values))
	for i, v := range e.Values {
		vals[i] = v.Name
		if v.Value != nil {
			vals[i] += " = " + v.Value.String()
		}
	}
	return "enum " + e.Name + " { " + strings.Join(vals, ", ") + " };"
}

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

// BlockStatement is a braced statement list.
type BlockStatement struct {
	Token      token.Token
	Statements []Statement
}

func (*BlockStatement) stmtNode()          {}
func (s *BlockStatement) Pos() token.Token { return s.Token }
func (s *BlockStatement) String() string {
	if len(s.Statements) == 0 {
		return "{}"
	}
	parts := make([]string, len(s.Statements))
	for i, st := range s.Statements {
		parts[i] = st.String()
	}
	return "{ " + strings.Join(parts, " ") + " }"
}

// IfStatement; Else is nil when absent.
type IfStatement struct {
	Token     token.Token
	Condition Expression
	Then      Statement
	Else      Statement
}

func (*IfStatement) stmtNode()          {}
func (s *IfStatement) Pos() token.Token { return s.Token }
func (s *IfStatement) String() string {
	out := "if (" + s.Condition.String() + ") " + s.Then.String()
	if s.Else != nil {
		out += " else " + s.Else.String()
	}
	return out
}

// ForStatement requires all three clause expressions.
type ForStatement struct {
	Token     token.Token
	Init      Expression
	Condition Expression
	Update    Expression
	Body      Statement
}

func (*ForStatement) stmtNode()          {}
func (s *ForStatement) Pos() token.Token { return s.Token }
func (s *ForStatement) String() string {
	return "for (" + s.Init.String() + "; " + s.Condition.String() + "; " + s.Update.String() + ") " + s.Body.String()
}

// WhileStatement is a pre-tested loop.
type WhileStatement struct {
	Token     token.Token
	Condition Expression
	Body      Statement
}

func (*WhileStatement) stmtNode()          {}
func (s *WhileStatement) Pos() token.Token { return s.Token }
func (s *WhileStatement) String() string {
	return "while (" + s.Condition.String() + ") " + s.Body.String()
}

// ReturnStatement; Value is nil for a bare return.
type ReturnStatement struct {
	Token token.Token
	Value Expression
}

func (*ReturnStatement) stmtNode()          {}
func (s *ReturnStatement) Pos() token.Token { return s.Token }
func (s *ReturnStatement) String() string {
	if s.Value == nil {
		return "return;"
	}
	return "return " + s.Value.String() + ";"
}

type BreakStatement struct{ Token token.Token }

func (*BreakStatement) stmtNode()          {}
func (s *BreakStatement) Pos() token.Token { return s.Token }
func (s *BreakStatement) String() string   { return "break;" }

type ContinueStatement struct{ Token token.Token }

func (*ContinueStatement) stmtNode()          {}
func (s *ContinueStatement) Pos() token.Token { return s.Token }
func (s *ContinueStatement) String() string   { return "continue;" }

// ExpressionStatement wraps an expression evaluated for its side effects.
type ExpressionStatement struct {
	Token      token.Token
	Expression Expression
}

func (*ExpressionStatement) stmtNode()          {}
func (s *ExpressionStatement) Pos() token.Token { return s.Token }
func (s *ExpressionStatement) String() string   { return s.Expression.String() + ";" }

// ---------------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------------

// CallExpression is a call of a named function.
type CallExpression struct {
	Token     token.Token
	Callee    string
	Arguments []Expression
}

func (*CallExpression) exprNode()          {}
func (e *CallExpression) Pos() token.Token { return e.Token }
func (e *CallExpression) String() string {
	args := make([]string, len(e.Arguments))
	for i, a := range e.Arguments {
		args[i] = a.String()
	}
	return e.Callee + "(" + strings.Join(args, ", ") + ")"
}

// BinaryExpression is a left-associative binary operation.
type BinaryExpression struct {
	Token    token.Token
	Operator string
	Left     Expression
	Right    Expression
}

func (*BinaryExpression) exprNode()          {}
func (e *BinaryExpression) Pos() token.Token { return e.Token }
func (e *BinaryExpression) String() string {
	return "(" + e.Left.String() + " " + e.Operator + " " + e.Right.String() + ")"
}

// UnaryExpression is a prefix operator, or postfix ++/-- when Postfix is set.
type UnaryExpression struct {
	Token    token.Token
	Operator string
	Operand  Expression
	Postfix  bool
}

func (*UnaryExpression) exprNode()          {}
func (e *UnaryExpression) Pos() token.Token { return e.Token }
func (e *UnaryExpression) String() string {
	if e.Postfix {
		return "(" + e.Operand.String() + e.Operator + ")"
	}
	return "(" + e.Operator + e.Operand.String() + ")"
}

// AssignmentExpression covers = and the compound assignments.
type AssignmentExpression struct {
	Token    token.Token
	Operator string
	Target   Expression // *Identifier or *ArrayAccess
	Value    Expression
}

func (*AssignmentExpression) exprNode()          {}
func (e *AssignmentExpression) Pos() token.Token { return e.Token }
func (e *AssignmentExpression) String() string {
	return "(" + e.Target.String() + " " + e.Operator + " " + e.Value.String() + ")"
}

// ConditionalExpression is the ternary cond ? then : else.
type ConditionalExpression struct {
	Token     token.Token
	Condition Expression
	Then      Expression
	Else      Expression
}

func (*ConditionalExpression) exprNode()          {}
func (e *ConditionalExpression) Pos() token.Token { return e.Token }
func (e *ConditionalExpression) String() string {
	return "(" + e.Condition.String() + " ? " + e.Then.String() + " : " + e.Else.String() + ")"
}

type Identifier struct {
	Token token.Token
	Name  string
}

func (*Identifier) exprNode()          {}
func (e *Identifier) Pos() token.Token { return e.Token }
func (e *Identifier) String() string   { return e.Name }

// NumberLiteral; every numeric literal is a float64.
type NumberLiteral struct {
	Token token.Token
	Value float64
}

func (*NumberLiteral) exprNode()          {}
func (e *NumberLiteral) Pos() token.Token { return e.Token }
func (e *NumberLiteral) String() string   { return strconv.FormatFloat(e.Value, 'g', -1, 64) }

type StringLiteral struct {
	Token token.Token
	Value string
}

func (*StringLiteral) exprNode()          {}
func (e *StringLiteral) Pos() token.Token { return e.Token }
func (e *StringLiteral) String() string   { return strconv.Quote(e.Value) }

type BooleanLiteral struct {
	Token token.Token
	Value bool
}

func (*BooleanLiteral) exprNode()          {}
func (e *BooleanLiteral) Pos() token.Token { return e.Token }
func (e *BooleanLiteral) String() string   { return strconv.FormatBool(e.Value) }

// ArrayAccess indexes an array expression.
type ArrayAccess struct {
	Token token.Token
	Array Expression
	Index Expression
}

func (*ArrayAccess) exprNode()          {}
func (e *ArrayAccess) Pos() token.Token { return e.Token }
func (e *ArrayAccess) String() string   { return e.Array.String() + "[" + e.Index.String() + "]" }
