// Package mql ties the lexer and parser together and extracts the parts of
// an expert advisor that the rest of the system reports on: its inputs, its
// functions and which event handlers it defines.
package mql

import (
	"errors"

	"mqlbt/internal/mql/ast"
	"mqlbt/internal/mql/lexer"
	"mqlbt/internal/mql/parser"
)

// Input is one "input" variable of an expert advisor. Default holds the
// folded literal (float64, string or bool), the name of an identifier
// default, or nil when there is none or it is not a literal.
type Input struct {
	Name    string `json:"name"`
	Type    string `json:"type"`
	Default any    `json:"default,omitempty"`
}

// Handlers records which event handlers a program defines with a body.
type Handlers struct {
	OnInit   bool `json:"on_init"`
	OnTick   bool `json:"on_tick"`
	OnDeinit bool `json:"on_deinit"`
}

// Unit is the result of compiling one source file.
type Unit struct {
	Program   *ast.Program
	Errors    []*parser.ParseError
	Inputs    []Input
	Functions []string
	Enums     []string
	Handlers  Handlers
}

// Err joins the parse errors, or returns nil for a clean parse.
func (u *Unit) Err() error {
	if len(u.Errors) == 0 {
		return nil
	}
	errs := make([]error, len(u.Errors))
	for i, e := range u.Errors {
		errs[i] = e
	}
	return errors.Join(errs...)
}

// Compile lexes and parses src. Only a lexical error is returned as an
// error; syntax errors are recoverable and land in Unit.Errors.
func Compile(src string) (*Unit, error) {
	toks, err := lexer.Tokenize(src)
	if err != nil {
		return nil, err
	}
	prog, errs := parser.Parse(toks)
	u := &Unit{Program: prog, Errors: errs}

	for _, d := range prog.Declarations {
		switch d := d.(type) {
		case *ast.VariableDeclaration:
			if d.IsInput {
				u.Inputs = append(u.Inputs, Input{Name: d.Name, Type: d.VarType, Default: fold(d.DefaultValue)})
			}
		case *ast.FunctionDeclaration:
			u.Functions = append(u.Functions, d.Name)
			if d.Body == nil {
				continue
			}
			switch d.Name {
			case "OnInit":
				u.Handlers.OnInit = true
			case "OnTick":
				u.Handlers.OnTick = true
			case "OnDeinit":
				u.Handlers.OnDeinit = true
			}
		case *ast.EnumDeclaration:
			u.Enums = append(u.Enums, d.Name)
		}
	}
	return u, nil
}

func fold(e ast.Expression) any {
	switch e := e.(type) {
	case *ast.NumberLiteral:
		return e.Value
	case *ast.StringLiteral:
		return e.Value
	case *ast.BooleanLiteral:
		return e.Value
	case *ast.Identifier:
		return e.Name
	case *ast.UnaryExpression:
		if e.Postfix {
			return nil
		}
		v, ok := fold(e.Operand).(float64)
		if !ok {
			return nil
		}
		switch e.Operator {
		case "-":
			return -v
		case "+":
			return v
		}
	}
	return nil
}
