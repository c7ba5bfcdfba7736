package evaluator

import (
	"fmt"
	"sort"
	"strings"
)

// InstructionCompiler compiles AST nodes to instruction sequences
type InstructionCompiler struct {
	instructions []Instruction
	labelCounter int
	declared     map[string]struct{}
	scopes       []map[string]struct{}
}

// NewInstructionCompiler creates a new instruction compiler
func NewInstructionCompiler() *InstructionCompiler {
	return &InstructionCompiler{}
}

// Compile compiles an AST to a Program
func (c *InstructionCompiler) Compile(ast *ASTNode) (*Program, error) {
	c.instructions = make([]Instruction, 0)
	c.labelCounter = 0
	c.declared = make(map[string]struct{})
	c.scopes = nil

	collectDeclared(ast, c.declared)

	if err := c.compileBlock(ast); err != nil {
		return nil, err
	}

	locals := make([]string, 0, len(c.declared))
	for name := range c.declared {
		locals = append(locals, name)
	}

	sort.Strings(locals)

	return newProgram(c.instructions, locals), nil
}

// collectDeclared records every name a template declares as a local.
func collectDeclared(node *ASTNode, declared map[string]struct{}) {
	if node == nil {
		return
	}

	switch node.Type {
	case NodeFor, NodeLet:
		declared[node.Variable] = struct{}{}
	}

	collectDeclared(node.Body, declared)
	collectDeclared(node.ElseBody, declared)

	for _, child := range node.Children {
		collectDeclared(child, declared)
	}
}

// compileNode compiles a single AST node
func (c *InstructionCompiler) compileNode(node *ASTNode) error {
	if node == nil {
		return nil
	}

	switch node.Type {
	case NodeLiteral:
		c.emit(Instruction{Op: OpEmitLiteral, Pos: node.Pos, Value: node.Value})
	case NodeBind:
		c.compileBind(node)
	case NodeLet:
		c.emit(Instruction{Op: OpLet, Pos: node.Pos, Variable: node.Variable, Exp: node.Value})
		c.scopes[len(c.scopes)-1][node.Variable] = struct{}{}
	case NodeIf:
		return c.compileIfBlock(node)
	case NodeFor:
		return c.compileForBlock(node)
	case NodeSequence:
		return c.compileSequence(node)
	default:
		return fmt.Errorf("%w: %s", ErrUnknownNodeType, node.Type)
	}

	return nil
}

// compileSequence compiles a sequence of nodes
func (c *InstructionCompiler) compileSequence(node *ASTNode) error {
	for _, child := range node.Children {
		if err := c.compileNode(child); err != nil {
			return err
		}
	}

	return nil
}

// compileBlock wraps a node in its own local scope.
func (c *InstructionCompiler) compileBlock(node *ASTNode) error {
	var pos []int
	if node != nil {
		pos = node.Pos
	}

	c.emit(Instruction{Op: OpScopeBegin, Pos: pos})
	c.scopes = append(c.scopes, make(map[string]struct{}))

	if err := c.compileNode(node); err != nil {
		return err
	}

	c.scopes = c.scopes[:len(c.scopes)-1]
	c.emit(Instruction{Op: OpScopeEnd, Pos: pos})

	return nil
}

// compileBind classifies a bind expression. A bare name that is not a local
// is a record field; anything rooted at a live local or computed from an
// expression becomes a template local. A name declared as a local elsewhere
// but not live here stays unbound.
func (c *InstructionCompiler) compileBind(node *ASTNode) {
	inst := Instruction{Op: OpEmitBind, Pos: node.Pos, Exp: node.Value, List: node.List}

	root := rootName(node.Value)

	switch {
	case pathPattern.MatchString(node.Value) && c.isLive(root):
		inst.Mode = BindLocal
	case pathPattern.MatchString(node.Value) && c.isDeclared(root):
		inst.Mode = BindUnbound
	case identPattern.MatchString(node.Value):
		inst.Mode = BindField
	default:
		inst.Mode = BindLocal
	}

	c.emit(inst)
}

func (c *InstructionCompiler) isLive(name string) bool {
	for _, scope := range c.scopes {
		if _, ok := scope[name]; ok {
			return true
		}
	}

	return false
}

func (c *InstructionCompiler) isDeclared(name string) bool {
	_, ok := c.declared[name]
	return ok
}

// compileIfBlock compiles an IF block to conditional jump instructions
func (c *InstructionCompiler) compileIfBlock(node *ASTNode) error {
	elseLabel := c.generateLabel("if_else")
	endLabel := c.generateLabel("if_end")

	// jump to else or end when the condition is falsy
	c.emit(Instruction{Op: OpJumpIfExp, Pos: node.Pos, Exp: node.Condition, Negate: true, Target: -1})
	jumpIndex := len(c.instructions) - 1

	if err := c.compileBlock(node.Body); err != nil {
		return err
	}

	if node.ElseBody != nil {
		c.emit(Instruction{Op: OpJump, Pos: node.Pos, Target: -1})
		jumpToEndIndex := len(c.instructions) - 1

		c.emit(Instruction{Op: OpLabel, Pos: node.Pos, Name: elseLabel})
		c.instructions[jumpIndex].Target = len(c.instructions) - 1

		if err := c.compileBlock(node.ElseBody); err != nil {
			return err
		}

		c.instructions[jumpToEndIndex].Target = len(c.instructions)
	} else {
		c.instructions[jumpIndex].Target = len(c.instructions)
	}

	c.emit(Instruction{Op: OpLabel, Pos: node.Pos, Name: endLabel})

	return nil
}

// compileForBlock compiles a FOR block to loop instructions
func (c *InstructionCompiler) compileForBlock(node *ASTNode) error {
	startLabel := c.generateLabel("loop_start")

	c.emit(Instruction{Op: OpLoopStart, Pos: node.Pos, Variable: node.Variable, Exp: node.Collection, Target: -1})
	startIndex := len(c.instructions) - 1

	c.emit(Instruction{Op: OpLabel, Pos: node.Pos, Name: startLabel})
	labelIndex := len(c.instructions) - 1

	c.scopes = append(c.scopes, map[string]struct{}{node.Variable: {}})

	if err := c.compileBlock(node.Body); err != nil {
		return err
	}

	c.scopes = c.scopes[:len(c.scopes)-1]

	c.emit(Instruction{Op: OpLoopNext, Pos: node.Pos, Target: labelIndex})
	c.emit(Instruction{Op: OpLoopEnd, Pos: node.Pos, Variable: node.Variable})

	// an empty collection skips past LOOP_END
	c.instructions[startIndex].Target = len(c.instructions)

	return nil
}

func (c *InstructionCompiler) emit(inst Instruction) {
	c.instructions = append(c.instructions, inst)
}

// generateLabel generates a unique label name
func (c *InstructionCompiler) generateLabel(prefix string) string {
	c.labelCounter++
	return fmt.Sprintf("%s_%d", prefix, c.labelCounter)
}

func rootName(expr string) string {
	root, _, _ := strings.Cut(expr, ".")
	return root
}
