package ast

// Inspect traverses the tree rooted at node in depth-first order, calling f
// for each node. If f returns false the children of that node are skipped.
func Inspect(node Node, f func(Node) bool) {
	if node == nil || !f(node) {
		return
	}
	switch n := node.(type) {
	case *Program:
		for _, d := range n.Declarations {
			Inspect(d, f)
		}
	case *FunctionDeclaration:
		for _, p := range n.Params {
			Inspect(p, f)
		}
		if n.Body != nil {
			Inspect(n.Body, f)
		}
	case *Parameter:
		inspectExpr(n.DefaultValue, f)
	case *VariableDeclaration:
		inspectExpr(n.ArraySize, f)
		inspectExpr(n.DefaultValue, f)
	case *EnumDeclaration:
		for _, v := range n.Values {
			inspectExpr(v.Value, f)
		}
	case *BlockStatement:
		for _, s := range n.Statements {
			Inspect(s, f)
		}
	case *IfStatement:
		inspectExpr(n.Condition, f)
		Inspect(n.Then, f)
		if n.Else != nil {
			Inspect(n.Else, f)
		}
	case *ForStatement:
		inspectExpr(n.Init, f)
		inspectExpr(n.Condition, f)
		inspectExpr(n.Update, f)
		Inspect(n.Body, f)
	case *WhileStatement:
		inspectExpr(n.Condition, f)
		Inspect(n.Body, f)
	case *ReturnStatement:
		inspectExpr(n.Value, f)
	case *ExpressionStatement:
		inspectExpr(n.Expression, f)
	case *CallExpression:
		for _, a := range n.Arguments {
			Inspect(a, f)
		}
	case *BinaryExpression:
		Inspect(n.Left, f)
		Inspect(n.Right, f)
	case *UnaryExpression:
		Inspect(n.Operand, f)
	case *AssignmentExpression:
		Inspect(n.Target, f)
		Inspect(n.Value, f)
	case *ConditionalExpression:
		Inspect(n.Condition, f)
		Inspect(n.Then, f)
		Inspect(n.Else, f)
	case *ArrayAccess:
		Inspect(n.Array, f)
		Inspect(n.Index, f)
	}
}

// inspectExpr guards against typed-nil interface values for optional
// expressions.
func inspectExpr(e Expression, f func(Node) bool) {
	if e != nil {
		Inspect(e, f)
	}
}
