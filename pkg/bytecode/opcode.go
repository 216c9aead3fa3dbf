package bytecode

import (
	"fmt"

	"scriptvm/pkg/value"
)

type Opcode uint8

// Stack effects are written (before -- after).
const (
	OpNop        Opcode = iota
	OpPushInt           // ( -- int)        Arg = value
	OpPushFloat         // ( -- float)      Arg = IEEE bits
	OpPushNull          // ( -- ref)
	OpPushData          // ( -- ref)        Arg = offset into own data segment
	OpPop               // (v -- )
	OpLoadGlobal        // ( -- v)          Arg = data offset, Kind = value kind
	OpStoreGlobal       // (v -- )          Arg = data offset, Kind = value kind
	OpLoadLocal         // ( -- v)          Arg = frame slot
	OpStoreLocal        // (v -- )          Arg = frame slot
	OpLoadImport        // ( -- v)          Arg = import index
	OpStoreImport       // (v -- )          Arg = import index

	OpAdd // (a b -- a+b)
	OpSub
	OpMul
	OpDiv
	OpMod
	OpNeg // (a -- -a)
	OpNot // (a -- !a)
	OpEq  // (a b -- int)
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe
	OpIntToFloat // (int -- float)   Arg = depth below the top
	OpFloatToInt // (float -- int)

	OpJump       // ( -- )            Arg = target
	OpJumpIfZero // (int -- )         Arg = target
	OpCall       // (args -- [ret])   Arg = function index
	OpCallImport // (args -- [ret])   Arg = import index
	OpReturn     // ([ret] -- )       Kind = return kind or void

	OpNewArray      // (len -- ref)       Kind = element kind
	OpIndex         // (ref idx -- ref)   element reference
	OpLoadIndirect  // (ref -- v)         Kind = value kind
	OpStoreIndirect // (ref v -- )        Kind = value kind

	opCount
)

var opNames = [...]string{
	OpNop:           "NOP",
	OpPushInt:       "PUSH_INT",
	OpPushFloat:     "PUSH_FLOAT",
	OpPushNull:      "PUSH_NULL",
	OpPushData:      "PUSH_DATA",
	OpPop:           "POP",
	OpLoadGlobal:    "LOAD_GLOBAL",
	OpStoreGlobal:   "STORE_GLOBAL",
	OpLoadLocal:     "LOAD_LOCAL",
	OpStoreLocal:    "STORE_LOCAL",
	OpLoadImport:    "LOAD_IMPORT",
	OpStoreImport:   "STORE_IMPORT",
	OpAdd:           "ADD",
	OpSub:           "SUB",
	OpMul:           "MUL",
	OpDiv:           "DIV",
	OpMod:           "MOD",
	OpNeg:           "NEG",
	OpNot:           "NOT",
	OpEq:            "EQ",
	OpNe:            "NE",
	OpLt:            "LT",
	OpLe:            "LE",
	OpGt:            "GT",
	OpGe:            "GE",
	OpIntToFloat:    "ITOF",
	OpFloatToInt:    "FTOI",
	OpJump:          "JUMP",
	OpJumpIfZero:    "JUMP_IF_ZERO",
	OpCall:          "CALL",
	OpCallImport:    "CALL_IMPORT",
	OpReturn:        "RETURN",
	OpNewArray:      "NEW_ARRAY",
	OpIndex:         "INDEX",
	OpLoadIndirect:  "LOAD_INDIRECT",
	OpStoreIndirect: "STORE_INDIRECT",
}

func (op Opcode) String() string {
	if op < opCount {
		return opNames[op]
	}
	return fmt.Sprintf("OP_0x%02X", uint8(op))
}

// IsJump reports whether Arg is an instruction index
func (op Opcode) IsJump() bool {
	return op == OpJump || op == OpJumpIfZero
}

// IsImportRef reports whether Arg is an import index
func (op Opcode) IsImportRef() bool {
	return op == OpLoadImport || op == OpStoreImport || op == OpCallImport
}

type Instruction struct {
	Op   Opcode     `cbor:"op"`
	Arg  int64      `cbor:"a,omitempty"`
	Kind value.Kind `cbor:"k,omitempty"`
	Line int        `cbor:"l,omitempty"`
}

// String returns a string representation of the instruction
func (i Instruction) String() string {
	switch i.Op {
	case OpPushFloat:
		return fmt.Sprintf("%s %g", i.Op, floatArg(i.Arg))
	case OpLoadGlobal, OpStoreGlobal:
		return fmt.Sprintf("%s %d %s", i.Op, i.Arg, i.Kind)
	case OpReturn, OpLoadIndirect, OpStoreIndirect, OpNewArray:
		return fmt.Sprintf("%s %s", i.Op, i.Kind)
	case OpNop, OpPushNull, OpPop, OpIndex, OpFloatToInt:
		return i.Op.String()
	}
	if i.Op >= OpAdd && i.Op <= OpGe {
		return i.Op.String()
	}
	return fmt.Sprintf("%s %d", i.Op, i.Arg)
}
