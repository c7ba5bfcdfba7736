package evaluator

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/google/cel-go/cel"

	"github.com/shibukawa/sqltmpl"
)

// NodeType names an AST node kind.
type NodeType string

const (
	NodeSequence NodeType = "SEQUENCE"
	NodeLiteral  NodeType = "LITERAL"
	NodeBind     NodeType = "BIND"
	NodeIf       NodeType = "IF_BLOCK"
	NodeFor      NodeType = "FOR_BLOCK"
	NodeLet      NodeType = "LET"
)

// ASTNode represents a node of a parsed template
type ASTNode struct {
	Type       NodeType   `json:"type"`
	Pos        []int      `json:"pos"`                  // Position [line, column, offset]
	Value      string     `json:"value,omitempty"`      // literal text, bind expression or let expression
	List       bool       `json:"list,omitempty"`       // list bind
	Condition  string     `json:"condition,omitempty"`  // IF_BLOCK
	Variable   string     `json:"variable,omitempty"`   // FOR_BLOCK, LET
	Collection string     `json:"collection,omitempty"` // FOR_BLOCK
	Body       *ASTNode   `json:"body,omitempty"`
	ElseBody   *ASTNode   `json:"else_body,omitempty"`
	Children   []*ASTNode `json:"children,omitempty"`
}

var (
	identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	pathPattern  = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)*$`)
	forPattern   = regexp.MustCompile(`^([A-Za-z_][A-Za-z0-9_]*)\s*:\s*(.+)$`)
	letPattern   = regexp.MustCompile(`^([A-Za-z_][A-Za-z0-9_]*)\s*=\s*(.+)$`)
)

// syntaxEnv only parses expressions; type checking happens at evaluation
// time once the parameter names are known.
var syntaxEnv = mustSyntaxEnv()

func mustSyntaxEnv() *cel.Env {
	env, err := cel.NewEnv()
	if err != nil {
		panic(fmt.Sprintf("evaluator: cannot create CEL syntax environment: %v", err))
	}

	return env
}

type position struct {
	line   int
	column int
	offset int
}

func (p position) slice() []int {
	return []int{p.line, p.column, p.offset}
}

func syntaxError(p position, format string, args ...any) error {
	return fmt.Errorf("%w at line %d, column %d: %s", sqltmpl.ErrTemplateSyntax, p.line, p.column, fmt.Sprintf(format, args...))
}

// scanner walks the template keeping track of line and column.
type scanner struct {
	src    string
	offset int
	line   int
	column int
}

func (s *scanner) pos() position {
	return position{line: s.line, column: s.column, offset: s.offset}
}

func (s *scanner) eof() bool {
	return s.offset >= len(s.src)
}

func (s *scanner) peek(n int) byte {
	if s.offset+n >= len(s.src) {
		return 0
	}

	return s.src[s.offset+n]
}

func (s *scanner) advance() {
	if s.eof() {
		return
	}

	r, size := utf8.DecodeRuneInString(s.src[s.offset:])
	s.offset += size

	if r == '\n' {
		s.line++
		s.column = 1
	} else {
		s.column++
	}
}

func (s *scanner) advanceN(n int) {
	for range n {
		s.advance()
	}
}

// skipQuoted consumes a quoted section; a doubled delimiter is an escape.
func (s *scanner) skipQuoted() error {
	start := s.pos()
	delimiter := s.src[s.offset]
	s.advance()

	for !s.eof() {
		if s.src[s.offset] == delimiter {
			if s.peek(1) == delimiter {
				s.advanceN(2)
				continue
			}

			s.advance()

			return nil
		}

		s.advance()
	}

	return syntaxError(start, "unterminated %c quote", delimiter)
}

func (s *scanner) skipLineComment() {
	for !s.eof() && s.src[s.offset] != '\n' {
		s.advance()
	}
}

// readComment consumes a block comment and returns its body.
func (s *scanner) readComment() (string, error) {
	start := s.pos()
	s.advanceN(2)
	bodyStart := s.offset

	end := strings.Index(s.src[s.offset:], "*/")
	if end < 0 {
		return "", syntaxError(start, "unterminated comment")
	}

	body := s.src[bodyStart : bodyStart+end]
	s.advanceN(utf8.RuneCountInString(body) + 2)

	return body, nil
}

// dummy describes the placeholder value that follows a bind directive.
type dummy struct {
	parens bool
}

// skipDummy drops the value written after a bind directive so that the
// template stays runnable as plain SQL. A parenthesised group keeps its
// parentheses around the bind.
func (s *scanner) skipDummy() (dummy, error) {
	if s.eof() {
		return dummy{}, nil
	}

	c := s.src[s.offset]

	switch {
	case c == '\'' || c == '"':
		return dummy{}, s.skipQuoted()
	case c == '(':
		return dummy{parens: true}, s.skipGroup()
	case c == '-' && isDigit(s.peek(1)), isDigit(c):
		s.advance()

		for !s.eof() && (isDigit(s.src[s.offset]) || s.src[s.offset] == '.') {
			s.advance()
		}
	case isWordStart(c):
		for !s.eof() && (isWordPart(s.src[s.offset]) || s.src[s.offset] == '.') {
			s.advance()
		}
	}

	return dummy{}, nil
}

func (s *scanner) skipGroup() error {
	start := s.pos()
	depth := 0

	for !s.eof() {
		switch s.src[s.offset] {
		case '\'', '"':
			if err := s.skipQuoted(); err != nil {
				return err
			}

			continue
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				s.advance()
				return nil
			}
		}

		s.advance()
	}

	return syntaxError(start, "unbalanced parenthesis in dummy value")
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func isWordStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isWordPart(c byte) bool {
	return isWordStart(c) || isDigit(c)
}

// blockFrame is an open if or for block.
type blockFrame struct {
	kind    NodeType
	pos     position
	tail    *ASTNode // innermost IF_BLOCK of an elseif chain
	seq     *ASTNode // sequence receiving children
	sawElse bool
}

type parser struct {
	scanner
	root   *ASTNode
	blocks []*blockFrame
}

func (p *parser) current() *ASTNode {
	if len(p.blocks) == 0 {
		return p.root
	}

	return p.blocks[len(p.blocks)-1].seq
}

func (p *parser) appendLiteral(text string, at position) {
	if text == "" {
		return
	}

	seq := p.current()
	if n := len(seq.Children); n > 0 && seq.Children[n-1].Type == NodeLiteral {
		seq.Children[n-1].Value += text
		return
	}

	seq.Children = append(seq.Children, &ASTNode{Type: NodeLiteral, Pos: at.slice(), Value: text})
}

func (p *parser) appendNode(node *ASTNode) {
	seq := p.current()
	seq.Children = append(seq.Children, node)
}

// Parse reads a template into an AST rooted at a SEQUENCE node.
func Parse(source string) (*ASTNode, error) {
	p := &parser{
		scanner: scanner{src: source, line: 1, column: 1},
		root:    &ASTNode{Type: NodeSequence, Pos: []int{1, 1, 0}},
	}

	literalStart := p.pos()

	flush := func() {
		p.appendLiteral(p.src[literalStart.offset:p.offset], literalStart)
	}

	for !p.eof() {
		c := p.src[p.offset]

		switch {
		case c == '\'' || c == '"' || c == '`':
			if err := p.skipQuoted(); err != nil {
				return nil, err
			}
		case c == '-' && p.peek(1) == '-':
			p.skipLineComment()
		case c == '/' && p.peek(1) == '*' && (p.peek(2) == '=' || p.peek(2) == '#'):
			flush()

			if err := p.directive(); err != nil {
				return nil, err
			}

			literalStart = p.pos()
		case c == '/' && p.peek(1) == '*':
			if _, err := p.readComment(); err != nil {
				return nil, err
			}
		default:
			p.advance()
		}
	}

	flush()

	if len(p.blocks) > 0 {
		open := p.blocks[len(p.blocks)-1]
		return nil, syntaxError(open.pos, "%s block is not closed with /*# end */", strings.ToLower(strings.TrimSuffix(string(open.kind), "_BLOCK")))
	}

	return p.root, nil
}

func (p *parser) directive() error {
	at := p.pos()

	body, err := p.readComment()
	if err != nil {
		return err
	}

	switch {
	case strings.HasPrefix(body, "=*"):
		return p.bind(at, strings.TrimSpace(body[2:]), true)
	case strings.HasPrefix(body, "="):
		return p.bind(at, strings.TrimSpace(body[1:]), false)
	default:
		return p.control(at, strings.TrimSpace(body[1:]))
	}
}

func (p *parser) bind(at position, expr string, list bool) error {
	if expr == "" {
		return syntaxError(at, "empty bind expression")
	}

	if err := checkExpression(at, expr); err != nil {
		return err
	}

	d, err := p.skipDummy()
	if err != nil {
		return err
	}

	if d.parens {
		p.appendLiteral("(", at)
	}

	p.appendNode(&ASTNode{Type: NodeBind, Pos: at.slice(), Value: expr, List: list})

	if d.parens {
		p.appendLiteral(")", at)
	}

	return nil
}

func (p *parser) control(at position, body string) error {
	keyword, rest, _ := strings.Cut(body, " ")
	rest = strings.TrimSpace(rest)

	switch keyword {
	case "if":
		return p.openIf(at, rest)
	case "elseif":
		return p.elseIf(at, rest)
	case "else":
		return p.elseBranch(at, rest)
	case "end":
		return p.end(at, rest)
	case "for":
		return p.openFor(at, rest)
	case "let":
		return p.let(at, rest)
	case "":
		return syntaxError(at, "empty directive")
	default:
		return syntaxError(at, "unknown directive %q", keyword)
	}
}

func (p *parser) openIf(at position, cond string) error {
	if cond == "" {
		return syntaxError(at, "if requires a condition")
	}

	if err := checkExpression(at, cond); err != nil {
		return err
	}

	node := &ASTNode{Type: NodeIf, Pos: at.slice(), Condition: cond, Body: &ASTNode{Type: NodeSequence, Pos: at.slice()}}
	p.appendNode(node)
	p.blocks = append(p.blocks, &blockFrame{kind: NodeIf, pos: at, tail: node, seq: node.Body})

	return nil
}

func (p *parser) innerIf(at position, directive string) (*blockFrame, error) {
	if len(p.blocks) == 0 || p.blocks[len(p.blocks)-1].kind != NodeIf {
		return nil, syntaxError(at, "%s without matching if", directive)
	}

	frame := p.blocks[len(p.blocks)-1]
	if frame.sawElse {
		return nil, syntaxError(at, "%s after else", directive)
	}

	return frame, nil
}

func (p *parser) elseIf(at position, cond string) error {
	frame, err := p.innerIf(at, "elseif")
	if err != nil {
		return err
	}

	if cond == "" {
		return syntaxError(at, "elseif requires a condition")
	}

	if err := checkExpression(at, cond); err != nil {
		return err
	}

	node := &ASTNode{Type: NodeIf, Pos: at.slice(), Condition: cond, Body: &ASTNode{Type: NodeSequence, Pos: at.slice()}}
	frame.tail.ElseBody = node
	frame.tail = node
	frame.seq = node.Body

	return nil
}

func (p *parser) elseBranch(at position, rest string) error {
	frame, err := p.innerIf(at, "else")
	if err != nil {
		return err
	}

	if rest != "" {
		return syntaxError(at, "unexpected %q after else; use elseif", rest)
	}

	frame.tail.ElseBody = &ASTNode{Type: NodeSequence, Pos: at.slice()}
	frame.seq = frame.tail.ElseBody
	frame.sawElse = true

	return nil
}

func (p *parser) end(at position, rest string) error {
	if rest != "" {
		return syntaxError(at, "unexpected %q after end", rest)
	}

	if len(p.blocks) == 0 {
		return syntaxError(at, "end without an open block")
	}

	p.blocks = p.blocks[:len(p.blocks)-1]

	return nil
}

func (p *parser) openFor(at position, header string) error {
	m := forPattern.FindStringSubmatch(header)
	if m == nil {
		return syntaxError(at, "for expects 'name : expression', got %q", header)
	}

	collection := strings.TrimSpace(m[2])
	if err := checkExpression(at, collection); err != nil {
		return err
	}

	node := &ASTNode{Type: NodeFor, Pos: at.slice(), Variable: m[1], Collection: collection, Body: &ASTNode{Type: NodeSequence, Pos: at.slice()}}
	p.appendNode(node)
	p.blocks = append(p.blocks, &blockFrame{kind: NodeFor, pos: at, tail: node, seq: node.Body})

	return nil
}

func (p *parser) let(at position, decl string) error {
	m := letPattern.FindStringSubmatch(decl)
	if m == nil {
		return syntaxError(at, "let expects 'name = expression', got %q", decl)
	}

	value := strings.TrimSpace(m[2])
	if err := checkExpression(at, value); err != nil {
		return err
	}

	p.appendNode(&ASTNode{Type: NodeLet, Pos: at.slice(), Variable: m[1], Value: value})

	return nil
}

// checkExpression reports CEL syntax errors at template position.
func checkExpression(at position, expr string) error {
	if _, issues := syntaxEnv.Parse(expr); issues != nil && issues.Err() != nil {
		return fmt.Errorf("%w at line %d, column %d: %q: %w", sqltmpl.ErrExpression, at.line, at.column, expr, issues.Err())
	}

	return nil
}
