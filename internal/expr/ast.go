package expr

import "fmt"

type kind int

const (
	kindNumber kind = iota
	kindString
	kindBool
)

func (k kind) String() string {
	switch k {
	case kindNumber:
		return "number"
	case kindString:
		return "string"
	case kindBool:
		return "boolean"
	default:
		return "unknown"
	}
}

// value is the result of evaluating a node.
type value struct {
	kind kind
	num  float64
	str  string
	b    bool
}

func numberValue(n float64) value { return value{kind: kindNumber, num: n} }
func stringValue(s string) value  { return value{kind: kindString, str: s} }
func boolValue(b bool) value      { return value{kind: kindBool, b: b} }

type node interface {
	eval(env Env) (value, error)
}

type literalNode struct {
	val value
}

func (n *literalNode) eval(Env) (value, error) {
	return n.val, nil
}

// callNode reads live point data. Unknown points evaluate to neutral
// values instead of failing, so rules referencing points that have not
// been scanned yet stay quiet.
type callNode struct {
	fn    string
	point string
}

func (n *callNode) eval(env Env) (value, error) {
	switch n.fn {
	case "get_value":
		v, ok := env.Value(n.point)
		if !ok {
			v = 0
		}
		return numberValue(v), nil
	case "get_quality":
		q, ok := env.Quality(n.point)
		if !ok {
			q = "GOOD"
		}
		return stringValue(q), nil
	default:
		return value{}, &EvalError{Message: fmt.Sprintf("unknown function %q", n.fn)}
	}
}

type notNode struct {
	operand node
}

func (n *notNode) eval(env Env) (value, error) {
	operand, err := n.operand.eval(env)
	if err != nil {
		return value{}, err
	}
	if operand.kind != kindBool {
		return value{}, &EvalError{Message: fmt.Sprintf("'not' needs a boolean, got %s", operand.kind)}
	}
	return boolValue(!operand.b), nil
}

// logicalNode short-circuits like the comparable operators in most
// languages: the right side is not evaluated when the left side decides.
type logicalNode struct {
	op    string // "and" or "or"
	left  node
	right node
}

func (n *logicalNode) eval(env Env) (value, error) {
	left, err := n.left.eval(env)
	if err != nil {
		return value{}, err
	}
	if left.kind != kindBool {
		return value{}, &EvalError{Message: fmt.Sprintf("%q needs boolean operands, got %s", n.op, left.kind)}
	}

	if n.op == "and" && !left.b {
		return boolValue(false), nil
	}
	if n.op == "or" && left.b {
		return boolValue(true), nil
	}

	right, err := n.right.eval(env)
	if err != nil {
		return value{}, err
	}
	if right.kind != kindBool {
		return value{}, &EvalError{Message: fmt.Sprintf("%q needs boolean operands, got %s", n.op, right.kind)}
	}
	return boolValue(right.b), nil
}

type compareNode struct {
	op    string
	left  node
	right node
}

func (n *compareNode) eval(env Env) (value, error) {
	left, err := n.left.eval(env)
	if err != nil {
		return value{}, err
	}
	right, err := n.right.eval(env)
	if err != nil {
		return value{}, err
	}
	if left.kind != right.kind {
		return value{}, &EvalError{Message: fmt.Sprintf("cannot compare %s to %s", left.kind, right.kind)}
	}

	switch left.kind {
	case kindNumber:
		return boolValue(compareNumbers(n.op, left.num, right.num)), nil
	case kindString:
		switch n.op {
		case "==":
			return boolValue(left.str == right.str), nil
		case "!=":
			return boolValue(left.str != right.str), nil
		default:
			return value{}, &EvalError{Message: fmt.Sprintf("operator %q is not defined for strings", n.op)}
		}
	case kindBool:
		switch n.op {
		case "==":
			return boolValue(left.b == right.b), nil
		case "!=":
			return boolValue(left.b != right.b), nil
		default:
			return value{}, &EvalError{Message: fmt.Sprintf("operator %q is not defined for booleans", n.op)}
		}
	default:
		return value{}, &EvalError{Message: fmt.Sprintf("cannot compare %s values", left.kind)}
	}
}

func compareNumbers(op string, left, right float64) bool {
	switch op {
	case ">":
		return left > right
	case ">=":
		return left >= right
	case "<":
		return left < right
	case "<=":
		return left <= right
	case "==":
		return left == right
	case "!=":
		return left != right
	default:
		return false
	}
}
