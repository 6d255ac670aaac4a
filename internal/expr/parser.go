package expr

import (
	"fmt"
	"strings"
)

// parser is a recursive-descent parser over the lexed tokens. Grammar,
// loosest binding first:
//
//	expression := and { ("or" | "||") and }
//	and        := unary { ("and" | "&&") unary }
//	unary      := ("not" | "!") unary | comparison
//	comparison := term [ (">" | ">=" | "<" | "<=" | "==" | "!=") term ]
//	term       := number | string | "true" | "false" | call | "(" expression ")"
//	call       := ("get_value" | "get_quality") "(" string ")"
type parser struct {
	source string
	tokens []token
	pos    int
	points []string
	seen   map[string]bool
}

func (p *parser) peek() token {
	return p.tokens[p.pos]
}

func (p *parser) next() token {
	t := p.tokens[p.pos]
	if t.kind != tokenEOF {
		p.pos++
	}
	return t
}

// acceptKeyword consumes the next token when it is the given bare word.
func (p *parser) acceptKeyword(word string) bool {
	t := p.peek()
	if t.kind == tokenIdent && strings.EqualFold(t.text, word) {
		p.pos++
		return true
	}
	return false
}

func (p *parser) accept(kind tokenKind) bool {
	if p.peek().kind == kind {
		p.pos++
		return true
	}
	return false
}

func (p *parser) parseExpression() (node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.acceptKeyword("or") || p.accept(tokenOr) {
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &logicalNode{op: "or", left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.acceptKeyword("and") || p.accept(tokenAnd) {
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &logicalNode{op: "and", left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseUnary() (node, error) {
	if p.acceptKeyword("not") || p.accept(tokenBang) {
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &notNode{operand: operand}, nil
	}
	return p.parseComparison()
}

func (p *parser) parseComparison() (node, error) {
	left, err := p.parseTerm()
	if err != nil {
		return nil, err
	}

	var op string
	switch p.peek().kind {
	case tokenGT:
		op = ">"
	case tokenGTE:
		op = ">="
	case tokenLT:
		op = "<"
	case tokenLTE:
		op = "<="
	case tokenEQ:
		op = "=="
	case tokenNEQ:
		op = "!="
	default:
		return left, nil
	}
	p.pos++

	right, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	return &compareNode{op: op, left: left, right: right}, nil
}

func (p *parser) parseTerm() (node, error) {
	t := p.next()
	switch t.kind {
	case tokenNumber:
		return &literalNode{val: numberValue(t.num)}, nil
	case tokenString:
		return &literalNode{val: stringValue(t.text)}, nil
	case tokenLParen:
		inner, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		if closing := p.next(); closing.kind != tokenRParen {
			return nil, &ParseError{Pos: closing.pos, Message: "missing ')'"}
		}
		return inner, nil
	case tokenIdent:
		switch strings.ToLower(t.text) {
		case "true":
			return &literalNode{val: boolValue(true)}, nil
		case "false":
			return &literalNode{val: boolValue(false)}, nil
		case "get_value", "get_quality":
			return p.parseCall(strings.ToLower(t.text), t.pos)
		default:
			return nil, &ParseError{Pos: t.pos, Message: fmt.Sprintf("unknown identifier %q", t.text)}
		}
	case tokenEOF:
		return nil, &ParseError{Pos: t.pos, Message: "unexpected end of condition"}
	default:
		return nil, &ParseError{Pos: t.pos, Message: fmt.Sprintf("unexpected %q", t.text)}
	}
}

func (p *parser) parseCall(fn string, pos int) (node, error) {
	if opening := p.next(); opening.kind != tokenLParen {
		return nil, &ParseError{Pos: opening.pos, Message: fmt.Sprintf("%s must be called with a point id", fn)}
	}
	arg := p.next()
	if arg.kind != tokenString {
		return nil, &ParseError{Pos: arg.pos, Message: fmt.Sprintf("%s takes a quoted point id", fn)}
	}
	if arg.text == "" {
		return nil, &ParseError{Pos: arg.pos, Message: "point id must not be empty"}
	}
	if closing := p.next(); closing.kind != tokenRParen {
		return nil, &ParseError{Pos: closing.pos, Message: "missing ')'"}
	}

	if !p.seen[arg.text] {
		p.seen[arg.text] = true
		p.points = append(p.points, arg.text)
	}
	return &callNode{fn: fn, point: arg.text}, nil
}
