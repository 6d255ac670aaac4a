// Package expr implements the small condition language alert rules are
// written in. Conditions read live point data through two functions and
// combine comparisons with boolean operators:
//
//	get_value('T001') > 95
//	get_value('P001') < 30 and get_quality('P001') == 'GOOD'
//	not (get_value('F001') >= 10 or get_value('F001') == 0)
//
// Points that have never been sampled read as value 0 with GOOD
// quality, so rules do not fire or fail on cold starts.
package expr

import "fmt"

// Env supplies live point data to a compiled condition.
type Env interface {
	// Value returns the current value of a point.
	Value(pointID string) (float64, bool)
	// Quality returns the current quality string of a point.
	Quality(pointID string) (string, bool)
}

// Program is a compiled condition, safe for concurrent evaluation.
type Program struct {
	root   node
	source string
	points []string
}

// Compile parses a condition into an evaluable program.
func Compile(source string) (*Program, error) {
	tokens, err := lex(source)
	if err != nil {
		return nil, err
	}

	p := &parser{source: source, tokens: tokens, seen: make(map[string]bool)}
	root, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind != tokenEOF {
		return nil, &ParseError{Pos: t.pos, Message: fmt.Sprintf("unexpected %q after expression", t.text)}
	}

	return &Program{root: root, source: source, points: p.points}, nil
}

// Eval runs the condition against the environment.
func (p *Program) Eval(env Env) (bool, error) {
	result, err := p.root.eval(env)
	if err != nil {
		return false, err
	}
	if result.kind != kindBool {
		return false, &EvalError{Message: fmt.Sprintf("condition yields %s, not a boolean", result.kind)}
	}
	return result.b, nil
}

// Points returns the point ids the condition reads, in first-reference
// order.
func (p *Program) Points() []string {
	return p.points
}

// SourcePoint returns the first point the condition reads. Alerts
// raised by the condition are attributed to it.
func (p *Program) SourcePoint() string {
	if len(p.points) == 0 {
		return ""
	}
	return p.points[0]
}

// String returns the original condition text.
func (p *Program) String() string {
	return p.source
}

// ParseError reports a syntax problem and where it starts.
type ParseError struct {
	Pos     int
	Message string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error at offset %d: %s", e.Pos, e.Message)
}

// EvalError reports a condition that could not be evaluated, such as a
// comparison between incompatible types.
type EvalError struct {
	Message string
	Err     error
}

func (e *EvalError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("evaluation error: %s: %v", e.Message, e.Err)
	}
	return fmt.Sprintf("evaluation error: %s", e.Message)
}

func (e *EvalError) Unwrap() error {
	return e.Err
}
