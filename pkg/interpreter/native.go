package interpreter

import (
	"fmt"

	"scriptvm/pkg/linker"
	"scriptvm/pkg/pool"
	"scriptvm/pkg/value"
)

// callNative marshals the arguments of n off the stack and calls it. A wait
// requested by the native suspends the instance after the call instruction.
// Arguments are borrowed by the native and released once it returns, along
// with the temporaries it created; a result it returns is retained onto the
// stack first.
func (in *Instance) callNative(n *linker.Native) error {
	np := len(n.Params)
	if len(in.stack)-in.top().Base < np {
		return in.errorf(KindType, "%s expects %d arguments", n.Name, np)
	}
	args := make([]value.Value, np)
	copy(args, in.stack[len(in.stack)-np:])
	in.stack = in.stack[:len(in.stack)-np]

	call := &callContext{in: in}
	defer func() {
		in.releaseValues(call.temps)
		in.releaseValues(args)
	}()
	for i, k := range n.Params {
		v, err := in.coerce(args[i], k)
		if err != nil {
			return err
		}
		args[i] = v
	}

	result, err := n.Fn(call, args)
	if err != nil {
		if rt, ok := err.(*RuntimeError); ok {
			return rt
		}
		e := in.errorf(KindNative, "%s: %v", n.Name, err)
		e.Err = err
		return e
	}

	if call.waiting {
		in.wait = &Wait{Token: call.token, Kind: n.Returns}
		in.state = Waiting
		return nil
	}
	if n.Returns == value.Void {
		return nil
	}
	v, err := in.coerce(result, n.Returns)
	if err != nil {
		return in.errorf(KindType, "%s returned %s, declared %s", n.Name, result.Kind, n.Returns)
	}
	return in.pushRetained(v)
}

// callContext is the linker.Call handed to a native for one call.
type callContext struct {
	in      *Instance
	waiting bool
	token   string
	temps   []value.Value // references released when the native returns
}

func (c *callContext) ID() string { return c.in.id }

func (c *callContext) Pool() *pool.Pool { return c.in.pool }

func (c *callContext) String(v value.Value) (string, error) {
	return c.in.ReadString(v)
}

// NewString allocates a string that lives until the native returns, or
// longer if the native returns it or stores it.
func (c *callContext) NewString(s string) (value.Value, error) {
	h, err := c.in.pool.Allocate(value.NewString(s))
	if err != nil {
		return value.Value{}, c.in.errorf(KindOutOfMemory, "%v", err)
	}
	v := value.HeapRef(h, 0)
	c.temps = append(c.temps, v)
	return v, nil
}

func (c *callContext) Wait(token string) {
	c.waiting = true
	c.token = token
}

// Invoke runs a nested invocation. Without a spawner it runs on a private
// instance that must finish without waiting.
func (c *callContext) Invoke(unit, fn string, args ...value.Value) (value.Value, error) {
	in := c.in
	if in.spawner != nil {
		v, err := in.spawner.Invoke(unit, fn, args...)
		if err != nil {
			return value.Value{}, err
		}
		c.hold(v)
		return v, nil
	}

	child := New(in.prog, in.pool, WithMaxFrames(in.maxFrames), WithMaxStack(in.maxStack))
	defer child.Discard()
	if err := child.Start(unit, fn, args...); err != nil {
		return value.Value{}, err
	}
	for child.Run() == Ready {
	}
	switch child.State() {
	case Faulted:
		return value.Value{}, fmt.Errorf("%s.%s: %w", unit, fn, child.Fault())
	case Waiting:
		return value.Value{}, fmt.Errorf("nested call %s.%s waits without a scheduler", unit, fn)
	}
	v := child.Result()
	if err := in.retain(v); err != nil {
		return value.Value{}, err
	}
	c.hold(v)
	return v, nil
}

// hold keeps a counted reference until the native returns
func (c *callContext) hold(v value.Value) {
	if v.IsHeap() {
		c.temps = append(c.temps, v)
	}
}
