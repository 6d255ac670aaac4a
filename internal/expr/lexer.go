package expr

import (
	"fmt"
	"strconv"
)

type tokenKind int

const (
	tokenEOF tokenKind = iota
	tokenIdent
	tokenNumber
	tokenString
	tokenLParen
	tokenRParen
	tokenGT
	tokenGTE
	tokenLT
	tokenLTE
	tokenEQ
	tokenNEQ
	tokenAnd  // &&
	tokenOr   // ||
	tokenBang // !
)

type token struct {
	kind tokenKind
	text string
	num  float64
	pos  int
}

func lex(source string) ([]token, error) {
	var tokens []token
	i := 0
	for i < len(source) {
		c := source[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++

		case c == '(':
			tokens = append(tokens, token{kind: tokenLParen, text: "(", pos: i})
			i++
		case c == ')':
			tokens = append(tokens, token{kind: tokenRParen, text: ")", pos: i})
			i++

		case c == '>':
			if i+1 < len(source) && source[i+1] == '=' {
				tokens = append(tokens, token{kind: tokenGTE, text: ">=", pos: i})
				i += 2
			} else {
				tokens = append(tokens, token{kind: tokenGT, text: ">", pos: i})
				i++
			}
		case c == '<':
			if i+1 < len(source) && source[i+1] == '=' {
				tokens = append(tokens, token{kind: tokenLTE, text: "<=", pos: i})
				i += 2
			} else {
				tokens = append(tokens, token{kind: tokenLT, text: "<", pos: i})
				i++
			}
		case c == '=':
			if i+1 < len(source) && source[i+1] == '=' {
				tokens = append(tokens, token{kind: tokenEQ, text: "==", pos: i})
				i += 2
			} else {
				return nil, &ParseError{Pos: i, Message: "single '=' is not an operator, use '=='"}
			}
		case c == '!':
			if i+1 < len(source) && source[i+1] == '=' {
				tokens = append(tokens, token{kind: tokenNEQ, text: "!=", pos: i})
				i += 2
			} else {
				tokens = append(tokens, token{kind: tokenBang, text: "!", pos: i})
				i++
			}
		case c == '&':
			if i+1 < len(source) && source[i+1] == '&' {
				tokens = append(tokens, token{kind: tokenAnd, text: "&&", pos: i})
				i += 2
			} else {
				return nil, &ParseError{Pos: i, Message: "single '&' is not an operator, use '&&' or 'and'"}
			}
		case c == '|':
			if i+1 < len(source) && source[i+1] == '|' {
				tokens = append(tokens, token{kind: tokenOr, text: "||", pos: i})
				i += 2
			} else {
				return nil, &ParseError{Pos: i, Message: "single '|' is not an operator, use '||' or 'or'"}
			}

		case c == '\'' || c == '"':
			quote := c
			j := i + 1
			for j < len(source) && source[j] != quote {
				j++
			}
			if j >= len(source) {
				return nil, &ParseError{Pos: i, Message: "unterminated string"}
			}
			tokens = append(tokens, token{kind: tokenString, text: source[i+1 : j], pos: i})
			i = j + 1

		case isDigit(c) || c == '.':
			t, next, err := lexNumber(source, i)
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, t)
			i = next
		case c == '-':
			if i+1 >= len(source) || !(isDigit(source[i+1]) || source[i+1] == '.') {
				return nil, &ParseError{Pos: i, Message: "'-' must start a number"}
			}
			t, next, err := lexNumber(source, i)
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, t)
			i = next

		case isIdentStart(c):
			j := i + 1
			for j < len(source) && isIdentPart(source[j]) {
				j++
			}
			tokens = append(tokens, token{kind: tokenIdent, text: source[i:j], pos: i})
			i = j

		default:
			return nil, &ParseError{Pos: i, Message: fmt.Sprintf("unexpected character %q", c)}
		}
	}

	tokens = append(tokens, token{kind: tokenEOF, pos: len(source)})
	return tokens, nil
}

func lexNumber(source string, start int) (token, int, error) {
	j := start + 1
	for j < len(source) && (isDigit(source[j]) || source[j] == '.') {
		j++
	}
	text := source[start:j]
	num, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return token{}, 0, &ParseError{Pos: start, Message: fmt.Sprintf("invalid number %q", text)}
	}
	return token{kind: tokenNumber, text: text, num: num, pos: start}, j, nil
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || isDigit(c)
}
