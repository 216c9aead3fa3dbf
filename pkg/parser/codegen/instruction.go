package codegen

import (
	"scriptvm/pkg/bytecode"
	"scriptvm/pkg/lexer"
)

// GetLexOperation maps an operator token to its opcode
func GetLexOperation(t lexer.TokenType) bytecode.Opcode {
	switch t {
	case lexer.PLUS:
		return bytecode.OpAdd
	case lexer.MINUS:
		return bytecode.OpSub
	case lexer.MULT:
		return bytecode.OpMul
	case lexer.DIV:
		return bytecode.OpDiv
	case lexer.MOD:
		return bytecode.OpMod
	case lexer.NOT:
		return bytecode.OpNot
	case lexer.EQ:
		return bytecode.OpEq
	case lexer.NE:
		return bytecode.OpNe
	case lexer.LT:
		return bytecode.OpLt
	case lexer.LE:
		return bytecode.OpLe
	case lexer.GT:
		return bytecode.OpGt
	case lexer.GE:
		return bytecode.OpGe
	default:
		return bytecode.OpNop
	}
}

func isComparison(t lexer.TokenType) bool {
	switch t {
	case lexer.EQ, lexer.NE, lexer.LT, lexer.LE, lexer.GT, lexer.GE:
		return true
	default:
		return false
	}
}

func isEquality(t lexer.TokenType) bool {
	return t == lexer.EQ || t == lexer.NE
}
