package codegen

import (
	"scriptvm/pkg/bytecode"
	"scriptvm/pkg/diag"
	"scriptvm/pkg/lexer"
	"scriptvm/pkg/parser/symtab"
	"scriptvm/pkg/value"
)

// PushInt pushes an integer literal
func (c *Codegen) PushInt(v int64) symtab.Type {
	c.emit(bytecode.OpPushInt, v, value.Int)
	return symtab.IntType
}

// PushFloat pushes a float literal
func (c *Codegen) PushFloat(f float64) symtab.Type {
	c.emit(bytecode.OpPushFloat, bytecode.FloatOperand(f), value.Float)
	return symtab.FloatType
}

// PushNull pushes the null reference
func (c *Codegen) PushNull() symtab.Type {
	c.emit(bytecode.OpPushNull, 0, value.Ref)
	return symtab.NullType
}

// PushString pushes a reference to an interned string literal
func (c *Codegen) PushString(s string) symtab.Type {
	c.emit(bytecode.OpPushData, int64(c.Literal(s)), value.Ref)
	return symtab.StringType
}

// PushZero pushes the default value of t
func (c *Codegen) PushZero(t symtab.Type) {
	c.pushZero(t)
}

func (c *Codegen) pushZero(t symtab.Type) {
	switch t.Kind() {
	case value.Int:
		c.PushInt(0)
	case value.Float:
		c.PushFloat(0)
	default:
		c.PushNull()
	}
}

// Load pushes the value named by sym
func (c *Codegen) Load(sym *symtab.Symbol) (symtab.Type, error) {
	switch sym.Kind {
	case symtab.Constant:
		return c.pushConst(sym), nil
	case symtab.Function:
		return symtab.VoidType, c.errorf(diag.ErrTypeMismatch, "function `%s` used as a value", sym.Name)
	}

	switch sym.Storage {
	case symtab.Global:
		c.emit(bytecode.OpLoadGlobal, int64(sym.Offset), sym.Type.Kind())
	case symtab.Local:
		c.emit(bytecode.OpLoadLocal, int64(sym.Offset), sym.Type.Kind())
	case symtab.External:
		c.emit(bytecode.OpLoadImport, int64(sym.Offset), sym.Type.Kind())
	}
	return sym.Type, nil
}

func (c *Codegen) pushConst(sym *symtab.Symbol) symtab.Type {
	switch {
	case sym.Type.Str:
		c.emit(bytecode.OpPushData, int64(sym.Const.Offset), value.Ref)
	case sym.Const.Kind == value.Float:
		c.PushFloat(sym.Const.F)
	default:
		c.PushInt(sym.Const.I)
	}
	return sym.Type
}

// Store pops the top of the stack into the variable named by sym
func (c *Codegen) Store(sym *symtab.Symbol) error {
	switch sym.Kind {
	case symtab.Constant:
		return c.errorf(diag.ErrTypeMismatch, "cannot assign to constant `%s`", sym.Name)
	case symtab.Function:
		return c.errorf(diag.ErrTypeMismatch, "cannot assign to function `%s`", sym.Name)
	}

	switch sym.Storage {
	case symtab.Global:
		c.emit(bytecode.OpStoreGlobal, int64(sym.Offset), sym.Type.Kind())
	case symtab.Local:
		c.emit(bytecode.OpStoreLocal, int64(sym.Offset), sym.Type.Kind())
	case symtab.External:
		c.emit(bytecode.OpStoreImport, int64(sym.Offset), sym.Type.Kind())
	}
	return nil
}

// Convert makes the value depth entries below the top fit dst, widening
// ints to floats.
func (c *Codegen) Convert(dst, src symtab.Type, depth int) error {
	if dst == src {
		return nil
	}
	if dst == symtab.FloatType && src == symtab.IntType {
		c.emit(bytecode.OpIntToFloat, int64(depth), value.Float)
		return nil
	}
	if dst.AssignableFrom(src) {
		return nil
	}
	return c.typeMismatchError(dst, src)
}

// Binary emits an arithmetic or comparison operator on the two values on
// top of the stack. Mixed int and float operands are promoted to float.
func (c *Codegen) Binary(op lexer.TokenType, left, right symtab.Type) (symtab.Type, error) {
	switch {
	case left.IsNumeric() && right.IsNumeric():
		result := symtab.IntType
		if left == symtab.FloatType || right == symtab.FloatType {
			result = symtab.FloatType
			if left == symtab.IntType {
				c.emit(bytecode.OpIntToFloat, 1, value.Float)
			}
			if right == symtab.IntType {
				c.emit(bytecode.OpIntToFloat, 0, value.Float)
			}
		}
		c.emit(GetLexOperation(op), 0, result.Kind())
		if isComparison(op) {
			return symtab.IntType, nil
		}
		return result, nil

	case isEquality(op) && left.IsRef() && right.IsRef() &&
		(left.AssignableFrom(right) || right.AssignableFrom(left)):
		c.emit(GetLexOperation(op), 0, value.Ref)
		return symtab.IntType, nil
	}
	return symtab.VoidType, c.operandError(op.String(), left, right)
}

// Unary emits negation or logical not
func (c *Codegen) Unary(op lexer.TokenType, t symtab.Type) (symtab.Type, error) {
	switch {
	case op == lexer.MINUS && t.IsNumeric():
		c.emit(bytecode.OpNeg, 0, t.Kind())
		return t, nil
	case op == lexer.NOT && t == symtab.IntType:
		c.emit(bytecode.OpNot, 0, value.Int)
		return t, nil
	}
	return symtab.VoidType, c.errorf(diag.ErrTypeMismatch, "invalid operand to %s: %s", op, t)
}

// Cast emits an explicit int or float conversion
func (c *Codegen) Cast(to, from symtab.Type) (symtab.Type, error) {
	if !from.IsNumeric() {
		return symtab.VoidType, c.typeMismatchError(to, from)
	}
	switch {
	case to == symtab.IntType && from == symtab.FloatType:
		c.emit(bytecode.OpFloatToInt, 0, value.Int)
	case to == symtab.FloatType && from == symtab.IntType:
		c.emit(bytecode.OpIntToFloat, 0, value.Float)
	}
	return to, nil
}

// Condition checks that a value used as a truth value is an int
func (c *Codegen) Condition(t symtab.Type) error {
	if t != symtab.IntType {
		return c.errorf(diag.ErrTypeMismatch, "condition must be int, found %s", t)
	}
	return nil
}

// JumpIfZero emits a conditional jump to be patched later
func (c *Codegen) JumpIfZero() int {
	return c.emit(bytecode.OpJumpIfZero, 0, value.Void)
}

// Jump emits an unconditional jump to be patched later
func (c *Codegen) Jump() int {
	return c.emit(bytecode.OpJump, 0, value.Void)
}

// JumpTo emits an unconditional jump to a known target
func (c *Codegen) JumpTo(target int) {
	c.emit(bytecode.OpJump, int64(target), value.Void)
}

// Patch points the jump at idx to the next instruction
func (c *Codegen) Patch(idx int) {
	c.patch(idx)
}

// BeginLoop opens a loop whose continue target is start
func (c *Codegen) BeginLoop(start int) {
	c.loops.Push(&loop{start: start})
}

// EndLoop patches every break of the innermost loop to the next instruction
func (c *Codegen) EndLoop() {
	l, ok := c.loops.Pop()
	if !ok {
		return
	}
	for _, idx := range l.breaks {
		c.patch(idx)
	}
}

// Break leaves the innermost loop
func (c *Codegen) Break() error {
	l, ok := c.loops.Peek()
	if !ok {
		return c.errorf(diag.ErrSyntax, "break outside of a loop")
	}
	l.breaks = append(l.breaks, c.Jump())
	return nil
}

// Continue jumps back to the innermost loop condition
func (c *Codegen) Continue() error {
	l, ok := c.loops.Peek()
	if !ok {
		return c.errorf(diag.ErrSyntax, "continue outside of a loop")
	}
	c.JumpTo(l.start)
	return nil
}

// Call emits a call to a script function or an imported function. The
// arguments are already on the stack.
func (c *Codegen) Call(sym *symtab.Symbol) symtab.Type {
	if sym.Storage == symtab.External {
		c.emit(bytecode.OpCallImport, int64(sym.Offset), sym.Type.Kind())
	} else {
		c.emit(bytecode.OpCall, int64(sym.Offset), sym.Type.Kind())
	}
	return sym.Type
}

// NewArray allocates an array of elem with the length on top of the stack
func (c *Codegen) NewArray(elem, length symtab.Type) (symtab.Type, error) {
	if elem.Array || elem.Kind() == value.Void {
		return symtab.VoidType, c.errorf(diag.ErrTypeMismatch, "invalid array element type %s", elem)
	}
	if length != symtab.IntType {
		return symtab.VoidType, c.typeMismatchError(symtab.IntType, length)
	}
	c.emit(bytecode.OpNewArray, 0, elem.Kind())
	return symtab.Type{Base: elem.Base, Str: elem.Str, Array: true}, nil
}

// Index turns an array and an index on the stack into an element reference
func (c *Codegen) Index(arr, idx symtab.Type) (symtab.Type, error) {
	if !arr.Array {
		return symtab.VoidType, c.errorf(diag.ErrTypeMismatch, "cannot index a value of type %s", arr)
	}
	if idx != symtab.IntType {
		return symtab.VoidType, c.typeMismatchError(symtab.IntType, idx)
	}
	c.emit(bytecode.OpIndex, 0, value.Ref)
	return arr.Elem(), nil
}

// LoadIndirect replaces an element reference with the element value
func (c *Codegen) LoadIndirect(t symtab.Type) symtab.Type {
	c.emit(bytecode.OpLoadIndirect, 0, t.Kind())
	return t
}

// StoreIndirect stores the top value through the reference below it
func (c *Codegen) StoreIndirect(t symtab.Type) {
	c.emit(bytecode.OpStoreIndirect, 0, t.Kind())
}

// Discard drops the result of an expression statement
func (c *Codegen) Discard(t symtab.Type) {
	if t.Kind() != value.Void {
		c.emit(bytecode.OpPop, 0, value.Void)
	}
}

// Return leaves the current function, converting the value if one is given
func (c *Codegen) Return(t symtab.Type, hasValue bool) error {
	if c.fn == nil {
		return c.errorf(diag.ErrSyntax, "return outside of a function")
	}
	ret := c.fn.returns
	switch {
	case !hasValue && ret.Kind() != value.Void:
		return c.typeMismatchError(ret, symtab.VoidType)
	case hasValue && ret.Kind() == value.Void:
		return c.errorf(diag.ErrTypeMismatch, "void function returns a value")
	case hasValue:
		if err := c.Convert(ret, t, 0); err != nil {
			return err
		}
	}
	c.emit(bytecode.OpReturn, 0, ret.Kind())
	return nil
}
