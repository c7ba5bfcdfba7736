// Package evaluator turns 2-way SQL templates into segment streams.
//
// A template is plain SQL that stays runnable with its dummy values. Directives
// live in comments:
//
//	/*= path */dummy          scalar bind
//	/*=* path */(1, 2)        list bind
//	/*# if expr */ ... /*# elseif expr */ ... /*# else */ ... /*# end */
//	/*# for x : expr */ ... /*# end */
//	/*# let name = expr */
//
// Parse builds an ASTNode tree, InstructionCompiler lowers it into a flat
// instruction list and Program.Evaluate runs the instructions against a
// parameter map.
package evaluator

import (
	"errors"
)

// Sentinel errors
var (
	ErrUnknownInstruction = errors.New("unknown instruction")
	ErrUnknownNodeType    = errors.New("unknown node type")
)

// Op names an instruction.
type Op string

const (
	OpEmitLiteral Op = "EMIT_LITERAL"
	OpEmitBind    Op = "EMIT_BIND"
	OpJump        Op = "JUMP"
	OpJumpIfExp   Op = "JUMP_IF_EXP"
	OpLabel       Op = "LABEL"
	OpLoopStart   Op = "LOOP_START"
	OpLoopNext    Op = "LOOP_NEXT"
	OpLoopEnd     Op = "LOOP_END"
	OpLet         Op = "LET"
	OpScopeBegin  Op = "SCOPE_BEGIN"
	OpScopeEnd    Op = "SCOPE_END"
	OpNop         Op = "NOP"
)

// BindMode tells EMIT_BIND where its value comes from.
type BindMode string

const (
	// BindField reads a field of the record at render time.
	BindField BindMode = "field"
	// BindLocal evaluates the expression now and stores the value as a template local.
	BindLocal BindMode = "local"
	// BindUnbound names a template local that is not live at this point.
	BindUnbound BindMode = "unbound"
)

// Instruction represents a single instruction in the instruction set
type Instruction struct {
	Op       Op       `json:"op"`
	Pos      []int    `json:"pos"`                // Position [line, column, offset] in the template
	Value    string   `json:"value,omitempty"`    // For EMIT_LITERAL
	Exp      string   `json:"exp,omitempty"`      // For EMIT_BIND, JUMP_IF_EXP, LOOP_START, LET
	Mode     BindMode `json:"mode,omitempty"`     // For EMIT_BIND
	List     bool     `json:"list,omitempty"`     // For EMIT_BIND
	Negate   bool     `json:"negate,omitempty"`   // For JUMP_IF_EXP: jump when the expression is falsy
	Target   int      `json:"target,omitempty"`   // For JUMP, JUMP_IF_EXP, LOOP_START, LOOP_NEXT
	Name     string   `json:"name,omitempty"`     // For LABEL
	Variable string   `json:"variable,omitempty"` // For LOOP_START, LOOP_END, LET
}

// loopState represents the state of a loop during evaluation
type loopState struct {
	variable   string
	collection []any
	index      int
}
