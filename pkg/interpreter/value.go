package interpreter

import (
	"math"

	"scriptvm/pkg/bytecode"
	"scriptvm/pkg/value"
)

// binary applies an arithmetic or comparison opcode. Operands must carry the
// same tag; the compiler inserts every int to float promotion.
func (in *Instance) binary(op bytecode.Opcode, a, b value.Value) (value.Value, error) {
	if a.Kind != b.Kind {
		return value.Value{}, in.errorf(KindType, "%s of %s and %s", op, a.Kind, b.Kind)
	}

	switch a.Kind {
	case value.Int:
		return in.intOp(op, a.I, b.I)
	case value.Float:
		return in.floatOp(op, a.F, b.F)
	case value.Ref:
		switch op {
		case bytecode.OpEq:
			return value.Bool(a == b), nil
		case bytecode.OpNe:
			return value.Bool(a != b), nil
		}
	}
	return value.Value{}, in.errorf(KindType, "%s of %s operands", op, a.Kind)
}

func (in *Instance) intOp(op bytecode.Opcode, x, y int64) (value.Value, error) {
	switch op {
	case bytecode.OpAdd:
		return value.NewInt(x + y), nil
	case bytecode.OpSub:
		return value.NewInt(x - y), nil
	case bytecode.OpMul:
		return value.NewInt(x * y), nil
	case bytecode.OpDiv:
		if y == 0 {
			return value.Value{}, in.errorf(KindDivideByZero, "%d / 0", x)
		}
		return value.NewInt(x / y), nil
	case bytecode.OpMod:
		if y == 0 {
			return value.Value{}, in.errorf(KindDivideByZero, "%d %% 0", x)
		}
		return value.NewInt(x % y), nil
	case bytecode.OpEq:
		return value.Bool(x == y), nil
	case bytecode.OpNe:
		return value.Bool(x != y), nil
	case bytecode.OpLt:
		return value.Bool(x < y), nil
	case bytecode.OpLe:
		return value.Bool(x <= y), nil
	case bytecode.OpGt:
		return value.Bool(x > y), nil
	case bytecode.OpGe:
		return value.Bool(x >= y), nil
	}
	return value.Value{}, in.errorf(KindType, "invalid int operator %s", op)
}

func (in *Instance) floatOp(op bytecode.Opcode, x, y float64) (value.Value, error) {
	switch op {
	case bytecode.OpAdd:
		return value.NewFloat(x + y), nil
	case bytecode.OpSub:
		return value.NewFloat(x - y), nil
	case bytecode.OpMul:
		return value.NewFloat(x * y), nil
	case bytecode.OpDiv:
		if y == 0 {
			return value.Value{}, in.errorf(KindDivideByZero, "%g / 0", x)
		}
		return value.NewFloat(x / y), nil
	case bytecode.OpMod:
		if y == 0 {
			return value.Value{}, in.errorf(KindDivideByZero, "%g %% 0", x)
		}
		return value.NewFloat(math.Mod(x, y)), nil
	case bytecode.OpEq:
		return value.Bool(x == y), nil
	case bytecode.OpNe:
		return value.Bool(x != y), nil
	case bytecode.OpLt:
		return value.Bool(x < y), nil
	case bytecode.OpLe:
		return value.Bool(x <= y), nil
	case bytecode.OpGt:
		return value.Bool(x > y), nil
	case bytecode.OpGe:
		return value.Bool(x >= y), nil
	}
	return value.Value{}, in.errorf(KindType, "invalid float operator %s", op)
}

func (in *Instance) negate(v value.Value) (value.Value, error) {
	switch v.Kind {
	case value.Int:
		return value.NewInt(-v.I), nil
	case value.Float:
		return value.NewFloat(-v.F), nil
	}
	return value.Value{}, in.errorf(KindType, "negation of %s", v.Kind)
}
