package interpreter

import (
	"scriptvm/pkg/bytecode"
	"scriptvm/pkg/linker"
	"scriptvm/pkg/value"
)

// step executes the instruction at the program counter of the top frame
func (in *Instance) step() error {
	f := in.top()
	unit := in.prog.Units[f.Unit]
	code := unit.Module.Code
	if f.PC < 0 || f.PC >= len(code) {
		return in.errorf(KindBounds, "program counter %d outside code of %s", f.PC, unit.Name())
	}
	if len(in.stack) >= in.maxStack {
		return in.errorf(KindStackOverflow, "evaluation stack exceeds %d values", in.maxStack)
	}

	ins := code[f.PC]
	f.PC++

	switch ins.Op {
	case bytecode.OpNop:

	case bytecode.OpPushInt:
		in.push(value.NewInt(ins.Arg))

	case bytecode.OpPushFloat:
		in.push(value.NewFloat(ins.FloatArg()))

	case bytecode.OpPushNull:
		in.push(value.Null())

	case bytecode.OpPushData:
		in.push(value.DataRef(f.Unit, int(ins.Arg)))

	case bytecode.OpPop:
		v, err := in.pop()
		if err != nil {
			return err
		}
		return in.release(v)

	case bytecode.OpLoadGlobal:
		v, err := in.loadWord(value.DataRef(f.Unit, int(ins.Arg)), ins.Kind)
		if err != nil {
			return err
		}
		return in.pushRetained(v)

	case bytecode.OpStoreGlobal:
		v, err := in.pop()
		if err != nil {
			return err
		}
		return in.consume(v, in.storeWord(value.DataRef(f.Unit, int(ins.Arg)), ins.Kind, v))

	case bytecode.OpLoadLocal:
		slot := int(ins.Arg)
		if slot < 0 || slot >= len(f.Locals) {
			return in.errorf(KindBounds, "local slot %d of %d", slot, len(f.Locals))
		}
		return in.pushRetained(f.Locals[slot])

	case bytecode.OpStoreLocal:
		v, err := in.popKind(ins.Kind)
		if err != nil {
			return err
		}
		return in.consume(v, in.storeLocal(f, int(ins.Arg), v))

	case bytecode.OpLoadImport:
		return in.loadImport(unit.Bindings[ins.Arg], ins.Kind)

	case bytecode.OpStoreImport:
		v, err := in.pop()
		if err != nil {
			return err
		}
		b := unit.Bindings[ins.Arg]
		if b.Kind == linker.BindNativeVar {
			return in.consume(v, in.storeCell(b.Native.Cell, v))
		}
		return in.consume(v, in.storeWord(value.DataRef(b.Unit, b.Index), ins.Kind, v))

	case bytecode.OpAdd, bytecode.OpSub, bytecode.OpMul, bytecode.OpDiv, bytecode.OpMod,
		bytecode.OpEq, bytecode.OpNe, bytecode.OpLt, bytecode.OpLe, bytecode.OpGt, bytecode.OpGe:
		rhs, err := in.pop()
		if err != nil {
			return err
		}
		lhs, err := in.pop()
		if err != nil {
			return in.consume(rhs, err)
		}
		res, err := in.binary(ins.Op, lhs, rhs)
		if err := in.consume(lhs, in.consume(rhs, err)); err != nil {
			return err
		}
		in.push(res)

	case bytecode.OpNeg:
		v, err := in.pop()
		if err != nil {
			return err
		}
		res, err := in.negate(v)
		if err != nil {
			return in.consume(v, err)
		}
		in.push(res)

	case bytecode.OpNot:
		v, err := in.popKind(value.Int)
		if err != nil {
			return err
		}
		in.push(value.Bool(v.I == 0))

	case bytecode.OpIntToFloat:
		idx := len(in.stack) - 1 - int(ins.Arg)
		if idx < f.Base || idx >= len(in.stack) {
			return in.errorf(KindType, "conversion of stack slot %d", ins.Arg)
		}
		v := in.stack[idx]
		if v.Kind != value.Int {
			return in.errorf(KindType, "int to float of %s", v.Kind)
		}
		in.stack[idx] = value.NewFloat(float64(v.I))

	case bytecode.OpFloatToInt:
		v, err := in.popKind(value.Float)
		if err != nil {
			return err
		}
		in.push(value.NewInt(int64(v.F)))

	case bytecode.OpJump:
		f.PC = int(ins.Arg)

	case bytecode.OpJumpIfZero:
		v, err := in.popKind(value.Int)
		if err != nil {
			return err
		}
		if v.I == 0 {
			f.PC = int(ins.Arg)
		}

	case bytecode.OpCall:
		return in.pushFrame(f.Unit, int(ins.Arg))

	case bytecode.OpCallImport:
		b := unit.Bindings[ins.Arg]
		if b.Kind == linker.BindNativeFunc {
			return in.callNative(b.Native)
		}
		return in.pushFrame(b.Unit, b.Index)

	case bytecode.OpReturn:
		return in.popFrame(ins.Kind)

	case bytecode.OpNewArray:
		return in.newArray(ins.Kind)

	case bytecode.OpIndex:
		idx, err := in.popKind(value.Int)
		if err != nil {
			return err
		}
		arr, err := in.popKind(value.Ref)
		if err != nil {
			return err
		}
		// the element reference keeps the array's count
		elem, err := in.element(arr, idx.I)
		if err != nil {
			return in.consume(arr, err)
		}
		in.push(elem)

	case bytecode.OpLoadIndirect:
		r, err := in.popKind(value.Ref)
		if err != nil {
			return err
		}
		v, err := in.loadWord(r, ins.Kind)
		if err == nil {
			err = in.retain(v)
		}
		if err := in.consume(r, err); err != nil {
			return err
		}
		in.push(v)

	case bytecode.OpStoreIndirect:
		v, err := in.pop()
		if err != nil {
			return err
		}
		r, err := in.popKind(value.Ref)
		if err != nil {
			return in.consume(v, err)
		}
		return in.consume(r, in.consume(v, in.storeWord(r, ins.Kind, v)))

	default:
		return in.errorf(KindType, "unknown opcode %s", ins.Op)
	}
	return nil
}

func (in *Instance) loadImport(b linker.Binding, k value.Kind) error {
	var v value.Value
	if b.Kind == linker.BindNativeVar {
		v = b.Native.Cell.Get()
	} else {
		w, err := in.loadWord(value.DataRef(b.Unit, b.Index), k)
		if err != nil {
			return err
		}
		v = w
	}
	v, err := in.coerce(v, k)
	if err != nil {
		return err
	}
	return in.pushRetained(v)
}

// newArray allocates an array whose only reference is the one pushed
func (in *Instance) newArray(elem value.Kind) error {
	n, err := in.popKind(value.Int)
	if err != nil {
		return err
	}
	if n.I < 0 {
		return in.errorf(KindBounds, "negative array length %d", n.I)
	}
	if n.I > MaxArrayLength {
		return in.errorf(KindOutOfMemory, "array of %d elements exceeds %d", n.I, MaxArrayLength)
	}
	h, err := in.pool.Allocate(value.NewArray(in.pool, elem, int(n.I)))
	if err != nil {
		return in.errorf(KindOutOfMemory, "%v", err)
	}
	in.push(value.HeapRef(h, 0))
	return nil
}
