package interpreter

import "scriptvm/pkg/value"

// Frame represents a function call frame.
type Frame struct {
	Unit     int           `cbor:"unit"`     // program unit of the function
	Function int           `cbor:"function"` // function index within the unit
	PC       int           `cbor:"pc"`       // next instruction
	Base     int           `cbor:"base"`     // evaluation stack height at entry
	Locals   []value.Value `cbor:"locals"`   // parameter slots, then locals
}

// Wait is the pending blocking wait of a Waiting instance.
type Wait struct {
	Token     string      `cbor:"token"`
	Satisfied bool        `cbor:"satisfied"`
	Result    value.Value `cbor:"result"`
	Kind      value.Kind  `cbor:"kind"` // value pushed on resume, void for none
}

func (in *Instance) top() *Frame {
	if len(in.frames) == 0 {
		return nil
	}
	return in.frames[len(in.frames)-1]
}

// pushFrame moves the arguments of fn from the stack into a new frame. The
// references travel with them.
func (in *Instance) pushFrame(unit, fn int) error {
	if len(in.frames) >= in.maxFrames {
		return in.errorf(KindStackOverflow, "call depth exceeds %d frames", in.maxFrames)
	}
	def := &in.prog.Units[unit].Module.Functions[fn]
	n := len(def.Params)
	if len(in.stack) < n {
		return in.errorf(KindType, "%s expects %d arguments, stack holds %d", def.Name, n, len(in.stack))
	}

	frame := &Frame{Unit: unit, Function: fn, PC: def.Entry, Locals: make([]value.Value, def.Locals)}
	for i, a := range in.stack[len(in.stack)-n:] {
		v, err := in.coerce(a, def.Params[i])
		if err != nil {
			return err
		}
		frame.Locals[i] = v
	}
	in.stack = in.stack[:len(in.stack)-n]
	frame.Base = len(in.stack)
	in.frames = append(in.frames, frame)
	return nil
}

// popFrame returns from the top frame. The result moves to the caller's
// stack, or becomes the instance result when the outermost frame returns.
func (in *Instance) popFrame(kind value.Kind) error {
	f := in.top()
	var result value.Value
	if kind != value.Void {
		v, err := in.popKind(kind)
		if err != nil {
			return err
		}
		result = v
	}

	in.releaseFrame(f)
	in.releaseValues(in.stack[f.Base:])
	in.stack = in.stack[:f.Base]
	in.frames = in.frames[:len(in.frames)-1]

	if in.top() == nil {
		in.result = result
		in.state = Finished
		return nil
	}
	if kind != value.Void {
		in.push(result)
	}
	return nil
}

// releaseFrame drops every reference the frame slots hold
func (in *Instance) releaseFrame(f *Frame) {
	in.releaseValues(f.Locals)
	f.Locals = nil
}
