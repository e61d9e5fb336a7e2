// Package parser builds an AST from an MQL5 token stream.
//
// The parser is recursive descent with bounded lookahead. It never aborts a
// whole parse: a malformed declaration is reported through the error
// handler, the parser skips to the next declaration boundary and carries on.
package parser

import (
	"fmt"

	"mqlbt/internal/mql/ast"
	"mqlbt/internal/mql/token"
)

// ParseError is a recoverable syntax error positioned at the offending token.
type ParseError struct {
	Token token.Token
	Msg   string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error at %d:%d near %s: %s", e.Token.Line, e.Token.Column, e.Token, e.Msg)
}

// Option configures a Parser.
type Option func(*Parser)

// WithErrorHandler installs fn as the error sink. Errors are collected
// regardless and remain available from Errors.
func WithErrorHandler(fn func(*ParseError)) Option {
	return func(p *Parser) { p.onError = fn }
}

// maxDepth bounds statement and expression nesting. Deeper input is reported
// as a ParseError instead of exhausting the goroutine stack.
const maxDepth = 1000

// Parser holds the state of a single parse.
type Parser struct {
	toks    []token.Token
	pos     int
	depth   int
	errors  []*ParseError
	onError func(*ParseError)
}

// New creates a Parser over toks. A missing trailing EOF is supplied.
func New(toks []token.Token, opts ...Option) *Parser {
	if len(toks) == 0 || toks[len(toks)-1].Kind != token.EOF {
		eof := token.Token{Kind: token.EOF, Line: 1, Column: 1}
		if len(toks) > 0 {
			last := toks[len(toks)-1]
			eof.Line, eof.Column = last.Line, last.Column+len(last.Literal)
		}
		toks = append(toks[:len(toks):len(toks)], eof)
	}
	p := &Parser{toks: toks}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Parse parses toks into a Program and returns every recorded error.
func Parse(toks []token.Token, opts ...Option) (*ast.Program, []*ParseError) {
	p := New(toks, opts...)
	prog := p.ParseProgram()
	return prog, p.Errors()
}

// Errors returns the errors recorded so far.
func (p *Parser) Errors() []*ParseError { return p.errors }

// ParseProgram parses top-level declarations until EOF.
func (p *Parser) ParseProgram() *ast.Program {
	prog := &ast.Program{}
	for p.cur().Kind != token.EOF {
		prog.Declarations = append(prog.Declarations, p.parseDeclarationRecover()...)
	}
	return prog
}

// ---------------------------------------------------------------------------
// Token cursor
// ---------------------------------------------------------------------------

func (p *Parser) cur() token.Token { return p.peek(0) }

func (p *Parser) peek(n int) token.Token {
	if i := p.pos + n; i < len(p.toks) {
		return p.toks[i]
	}
	return p.toks[len(p.toks)-1]
}

func (p *Parser) advance() token.Token {
	t := p.cur()
	if t.Kind != token.EOF {
		p.pos++
	}
	return t
}

func (p *Parser) accept(k token.Kind) bool {
	if p.cur().Kind == k {
		p.advance()
		return true
	}
	return false
}

func (p *Parser) expect(k token.Kind, what string) token.Token {
	if p.cur().Kind != k {
		p.failf(p.cur(), "expected %s, found %s", what, describe(p.cur()))
	}
	return p.advance()
}

// failf aborts the current declaration; parseDeclarationRecover catches it.
func (p *Parser) failf(at token.Token, format string, args ...any) {
	panic(&ParseError{Token: at, Msg: fmt.Sprintf(format, args...)})
}

// enter records one level of nesting; every call is paired with a deferred
// leave.
func (p *Parser) enter() {
	if p.depth == maxDepth {
		p.failf(p.cur(), "nesting too deep")
	}
	p.depth++
}

func (p *Parser) leave() { p.depth-- }

func (p *Parser) report(err *ParseError) {
	p.errors = append(p.errors, err)
	if p.onError != nil {
		p.onError(err)
	}
}

func describe(t token.Token) string {
	switch t.Kind {
	case token.EOF:
		return "end of file"
	case token.IDENT, token.NUMBER:
		return fmt.Sprintf("%q", t.Literal)
	case token.STRING:
		return "string literal"
	}
	return fmt.Sprintf("'%s'", t.Kind)
}

// ---------------------------------------------------------------------------
// Declarations
// ---------------------------------------------------------------------------

func startsDeclaration(k token.Kind) bool {
	return k.IsType() || k.IsModifier() || k == token.ENUM
}

func (p *Parser) parseDeclarationRecover() (decls []ast.Declaration) {
	start := p.pos
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		pe, ok := r.(*ParseError)
		if !ok {
			pe = &ParseError{Token: p.cur(), Msg: fmt.Sprintf("internal parser failure: %v", r)}
		}
		p.report(pe)
		p.synchronize(start)
		decls = nil
	}()
	return p.parseDeclaration()
}

// synchronize skips past the next ';' or up to a token that can begin a new
// declaration, always consuming at least one token.
func (p *Parser) synchronize(start int) {
	if p.pos == start {
		p.advance()
	}
	for p.cur().Kind != token.EOF {
		if p.cur().Kind == token.SEMICOLON {
			p.advance()
			return
		}
		if startsDeclaration(p.cur().Kind) {
			return
		}
		p.advance()
	}
}

// isTypeAt reports whether the token at offset n can name a type: a type
// keyword, or an identifier immediately followed by another identifier.
func (p *Parser) isTypeAt(n int) bool {
	k := p.peek(n).Kind
	return k.IsType() || (k == token.IDENT && p.peek(n+1).Kind == token.IDENT)
}

func (p *Parser) parseDeclaration() []ast.Declaration {
	cur := p.cur()
	switch {
	case cur.Kind == token.ENUM:
		return []ast.Declaration{p.parseEnum()}

	case cur.Kind == token.STRUCT || cur.Kind == token.CLASS:
		p.skipAggregate()
		return nil

	case cur.Kind.IsModifier() || p.isTypeAt(0):
		if !cur.Kind.IsModifier() && p.peek(1).Kind == token.IDENT && p.peek(2).Kind == token.LPAREN {
			return []ast.Declaration{p.parseFunction()}
		}
		vars := p.parseVariables()
		decls := make([]ast.Declaration, len(vars))
		for i, v := range vars {
			decls[i] = v
		}
		return decls
	}

	// Unrecognised top-level token.
	p.advance()
	return nil
}

// skipAggregate drops a struct or class definition including its body.
func (p *Parser) skipAggregate() {
	p.advance()
	for p.cur().Kind != token.EOF && p.cur().Kind != token.LBRACE && p.cur().Kind != token.SEMICOLON {
		p.advance()
	}
	if p.accept(token.SEMICOLON) {
		return
	}
	depth := 0
	for p.cur().Kind != token.EOF {
		switch p.advance().Kind {
		case token.LBRACE:
			depth++
		case token.RBRACE:
			depth--
			if depth == 0 {
				p.accept(token.SEMICOLON)
				return
			}
		}
	}
}

func (p *Parser) parseTypeName() string {
	t := p.cur()
	if t.Kind.IsType() || t.Kind == token.IDENT {
		p.advance()
		if t.Kind.IsType() {
			return t.Kind.String()
		}
		return t.Literal
	}
	p.failf(t, "expected type, found %s", describe(t))
	return ""
}

// parseVariables parses "[modifiers] type name [= v] {, name [= v]} ;".
func (p *Parser) parseVariables() []*ast.VariableDeclaration {
	start := p.cur()
	var isInput, isStatic, isConst bool
	for p.cur().Kind.IsModifier() {
		switch p.advance().Kind {
		case token.INPUT:
			isInput = true
		case token.STATIC:
			isStatic = true
		case token.CONST:
			isConst = true
		}
	}
	typ := p.parseTypeName()

	var vars []*ast.VariableDeclaration
	for {
		name := p.expect(token.IDENT, "identifier")
		v := &ast.VariableDeclaration{
			Token:    start,
			VarType:  typ,
			Name:     name.Literal,
			IsInput:  isInput,
			IsStatic: isStatic,
			IsConst:  isConst,
		}
		if p.accept(token.LBRACKET) {
			v.IsArray = true
			if p.cur().Kind != token.RBRACKET {
				v.ArraySize = p.parseExpression()
			}
			p.expect(token.RBRACKET, "']'")
		}
		if p.accept(token.ASSIGN) {
			v.DefaultValue = p.parseExpression()
		}
		vars = append(vars, v)
		if !p.accept(token.COMMA) {
			break
		}
	}
	p.expect(token.SEMICOLON, "';'")
	return vars
}

func (p *Parser) parseFunction() *ast.FunctionDeclaration {
	start := p.cur()
	fn := &ast.FunctionDeclaration{Token: start, ReturnType: p.parseTypeName()}
	fn.Name = p.expect(token.IDENT, "function name").Literal
	p.expect(token.LPAREN, "'('")
	if p.cur().Kind == token.VOID && p.peek(1).Kind == token.RPAREN {
		p.advance()
	}
	for p.cur().Kind != token.RPAREN {
		fn.Params = append(fn.Params, p.parseParameter())
		if !p.accept(token.COMMA) {
			break
		}
	}
	p.expect(token.RPAREN, "')'")
	if p.accept(token.SEMICOLON) {
		return fn
	}
	fn.Body = p.parseBlock()
	return fn
}

func (p *Parser) parseParameter() *ast.Parameter {
	param := &ast.Parameter{Token: p.cur()}
	param.IsConst = p.accept(token.CONST)
	param.Type = p.parseTypeName()
	param.IsReference = p.accept(token.AMP)
	param.Name = p.expect(token.IDENT, "parameter name").Literal
	if p.accept(token.LBRACKET) {
		p.expect(token.RBRACKET, "']'")
		param.IsArray = true
	}
	if p.accept(token.ASSIGN) {
		param.DefaultValue = p.parseExpression()
	}
	return param
}

func (p *Parser) parseEnum() *ast.EnumDeclaration {
	enum := &ast.EnumDeclaration{Token: p.advance()}
	enum.Name = p.expect(token.IDENT, "enum name").Literal
	p.expect(token.LBRACE, "'{'")
	for p.cur().Kind != token.RBRACE {
		name := p.expect(token.IDENT, "enum member")
		val := &ast.EnumValue{Token: name, Name: name.Literal}
		if p.accept(token.ASSIGN) {
			val.Value = p.parseExpression()
		}
		enum.Values = append(enum.Values, val)
		if !p.accept(token.COMMA) {
			break
		}
	}
	p.expect(token.RBRACE, "'}'")
	p.accept(token.SEMICOLON)
	return enum
}

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

func (p *Parser) startsLocalDeclaration() bool {
	return p.cur().Kind.IsModifier() || (p.isTypeAt(0) && p.peek(1).Kind != token.LPAREN)
}

func (p *Parser) parseBlock() *ast.BlockStatement {
	block := &ast.BlockStatement{Token: p.expect(token.LBRACE, "'{'")}
	for p.cur().Kind != token.RBRACE {
		if p.cur().Kind == token.EOF {
			p.failf(p.cur(), "unterminated block opened at %s", block.Token.Pos())
		}
		if p.startsLocalDeclaration() {
			for _, v := range p.parseVariables() {
				block.Statements = append(block.Statements, v)
			}
			continue
		}
		block.Statements = append(block.Statements, p.parseStatement())
	}
	p.advance()
	return block
}

func (p *Parser) parseStatement() ast.Statement {
	p.enter()
	defer p.leave()
	cur := p.cur()
	switch cur.Kind {
	case token.LBRACE:
		return p.parseBlock()
	case token.SEMICOLON:
		p.advance()
		return &ast.BlockStatement{Token: cur}
	case token.IF:
		return p.parseIf()
	case token.FOR:
		return p.parseFor()
	case token.WHILE:
		p.advance()
		p.expect(token.LPAREN, "'('")
		cond := p.parseExpression()
		p.expect(token.RPAREN, "')'")
		return &ast.WhileStatement{Token: cur, Condition: cond, Body: p.parseStatement()}
	case token.RETURN:
		p.advance()
		ret := &ast.ReturnStatement{Token: cur}
		if p.cur().Kind != token.SEMICOLON {
			ret.Value = p.parseExpression()
		}
		p.expect(token.SEMICOLON, "';'")
		return ret
	case token.BREAK:
		p.advance()
		p.expect(token.SEMICOLON, "';'")
		return &ast.BreakStatement{Token: cur}
	case token.CONTINUE:
		p.advance()
		p.expect(token.SEMICOLON, "';'")
		return &ast.ContinueStatement{Token: cur}
	}

	if p.startsLocalDeclaration() {
		vars := p.parseVariables()
		if len(vars) == 1 {
			return vars[0]
		}
		block := &ast.BlockStatement{Token: cur}
		for _, v := range vars {
			block.Statements = append(block.Statements, v)
		}
		return block
	}

	expr := p.parseExpression()
	p.expect(token.SEMICOLON, "';'")
	return &ast.ExpressionStatement{Token: cur, Expression: expr}
}

func (p *Parser) parseIf() ast.Statement {
	stmt := &ast.IfStatement{Token: p.advance()}
	p.expect(token.LPAREN, "'('")
	stmt.Condition = p.parseExpression()
	p.expect(token.RPAREN, "')'")
	stmt.Then = p.parseStatement()
	if p.accept(token.ELSE) {
		stmt.Else = p.parseStatement()
	}
	return stmt
}

func (p *Parser) parseFor() ast.Statement {
	stmt := &ast.ForStatement{Token: p.advance()}
	p.expect(token.LPAREN, "'('")
	if p.startsLocalDeclaration() {
		p.failf(p.cur(), "declarations are not allowed in a for clause")
	}
	stmt.Init = p.parseExpression()
	p.expect(token.SEMICOLON, "';'")
	stmt.Condition = p.parseExpression()
	p.expect(token.SEMICOLON, "';'")
	stmt.Update = p.parseExpression()
	p.expect(token.RPAREN, "')'")
	stmt.Body = p.parseStatement()
	return stmt
}

// ---------------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------------

// binaryLevels lists the binary operators from loosest to tightest binding.
// Every level is left-associative.
var binaryLevels = [][]token.Kind{
	{token.OR},
	{token.AND},
	{token.PIPE},
	{token.CARET},
	{token.AMP},
	{token.EQ, token.NEQ},
	{token.LT, token.GT, token.LEQ, token.GEQ},
	{token.SHL, token.SHR},
	{token.PLUS, token.MINUS},
	{token.STAR, token.SLASH, token.PERCENT},
}

func (p *Parser) parseExpression() ast.Expression {
	return p.parseAssignment()
}

// parseAssignment binds loosest and associates to the right. The target must
// be an identifier or an indexed element.
func (p *Parser) parseAssignment() ast.Expression {
	p.enter()
	defer p.leave()
	left := p.parseConditional()
	if !p.cur().Kind.IsAssign() {
		return left
	}
	op := p.advance()
	switch left.(type) {
	case *ast.Identifier, *ast.ArrayAccess:
	default:
		p.failf(op, "cannot assign to %s", left)
	}
	return &ast.AssignmentExpression{Token: op, Operator: op.Kind.String(), Target: left, Value: p.parseAssignment()}
}

func (p *Parser) parseConditional() ast.Expression {
	p.enter()
	defer p.leave()
	cond := p.parseBinary(0)
	if p.cur().Kind != token.QUESTION {
		return cond
	}
	q := p.advance()
	then := p.parseExpression()
	p.expect(token.COLON, "':'")
	return &ast.ConditionalExpression{Token: q, Condition: cond, Then: then, Else: p.parseConditional()}
}

func (p *Parser) parseBinary(level int) ast.Expression {
	if level == len(binaryLevels) {
		return p.parseUnary()
	}
	left := p.parseBinary(level + 1)
	for matches(p.cur().Kind, binaryLevels[level]) {
		op := p.advance()
		right := p.parseBinary(level + 1)
		left = &ast.BinaryExpression{Token: op, Operator: op.Kind.String(), Left: left, Right: right}
	}
	return left
}

func matches(k token.Kind, set []token.Kind) bool {
	for _, s := range set {
		if k == s {
			return true
		}
	}
	return false
}

func (p *Parser) parseUnary() ast.Expression {
	p.enter()
	defer p.leave()
	switch p.cur().Kind {
	case token.BANG, token.TILDE, token.MINUS, token.PLUS, token.INC, token.DEC:
		op := p.advance()
		return &ast.UnaryExpression{Token: op, Operator: op.Kind.String(), Operand: p.parseUnary()}
	}
	return p.parsePostfix()
}

func (p *Parser) parsePostfix() ast.Expression {
	expr := p.parsePrimary()
	for {
		switch p.cur().Kind {
		case token.LBRACKET:
			lb := p.advance()
			idx := p.parseExpression()
			p.expect(token.RBRACKET, "']'")
			expr = &ast.ArrayAccess{Token: lb, Array: expr, Index: idx}
		case token.INC, token.DEC:
			op := p.advance()
			expr = &ast.UnaryExpression{Token: op, Operator: op.Kind.String(), Operand: expr, Postfix: true}
		default:
			return expr
		}
	}
}

func (p *Parser) parsePrimary() ast.Expression {
	t := p.cur()
	switch {
	case t.Kind == token.NUMBER:
		p.advance()
		return &ast.NumberLiteral{Token: t, Value: t.Value}
	case t.Kind == token.STRING:
		p.advance()
		return &ast.StringLiteral{Token: t, Value: t.Literal}
	case t.Kind == token.TRUE || t.Kind == token.FALSE:
		p.advance()
		return &ast.BooleanLiteral{Token: t, Value: t.Kind == token.TRUE}
	case t.Kind == token.NULL:
		p.advance()
		return &ast.Identifier{Token: t, Name: "NULL"}
	case t.Kind == token.IDENT:
		p.advance()
		if p.cur().Kind == token.LPAREN {
			return p.parseCall(t, t.Literal)
		}
		return &ast.Identifier{Token: t, Name: t.Literal}
	case t.Kind.IsType() && p.peek(1).Kind == token.LPAREN:
		// Functional cast, e.g. double(x).
		p.advance()
		return p.parseCall(t, t.Kind.String())
	case t.Kind == token.LPAREN:
		if p.peek(1).Kind.IsType() && p.peek(2).Kind == token.RPAREN {
			// C-style cast (int)x, kept as a call of the type name.
			typ := p.peek(1)
			p.advance()
			p.advance()
			p.advance()
			return &ast.CallExpression{Token: t, Callee: typ.Kind.String(), Arguments: []ast.Expression{p.parseUnary()}}
		}
		p.advance()
		expr := p.parseExpression()
		p.expect(token.RPAREN, "')'")
		return expr
	}
	p.failf(t, "unexpected %s in expression", describe(t))
	return nil
}

func (p *Parser) parseCall(name token.Token, callee string) ast.Expression {
	call := &ast.CallExpression{Token: name, Callee: callee}
	p.expect(token.LPAREN, "'('")
	for p.cur().Kind != token.RPAREN {
		call.Arguments = append(call.Arguments, p.parseExpression())
		if !p.accept(token.COMMA) {
			break
		}
	}
	p.expect(token.RPAREN, "')'")
	return call
}
