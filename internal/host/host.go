// Package host is the demo embedding: the natives the CLI registers and the
// timer wheel that turns Wait calls into scheduler signals.
package host

import (
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"slices"
	"strconv"

	"github.com/charmbracelet/log"

	"scriptvm/pkg/linker"
	"scriptvm/pkg/pool"
	"scriptvm/pkg/value"
)

var ErrArgument = errors.New("invalid argument")

// Signaler wakes instances waiting on a token.
type Signaler interface {
	Signal(token string, result value.Value) int
}

type timer struct {
	due   int64
	seq   int
	token string
}

// Host holds the state shared by the demo natives.
type Host struct {
	Out  io.Writer
	Root string // directory file natives are confined to

	tick   int64
	seq    int
	timers []timer
	rng    *rand.Rand
	cell   *linker.Cell
}

type Option func(*Host)

// WithOutput sets where Display writes
func WithOutput(w io.Writer) Option {
	return func(h *Host) { h.Out = w }
}

// WithRoot confines file natives to dir
func WithRoot(dir string) Option {
	return func(h *Host) { h.Root = dir }
}

// WithSeed makes Random deterministic
func WithSeed(seed uint64) Option {
	return func(h *Host) { h.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)) }
}

func New(opts ...Option) *Host {
	h := &Host{Out: os.Stdout, Root: "."}
	for _, o := range opts {
		o(h)
	}
	if h.rng == nil {
		h.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return h
}

// Register installs the natives into reg
func (h *Host) Register(reg *linker.Registry) error {
	str, integer := value.Ref, value.Int
	funcs := []struct {
		name    string
		params  []value.Kind
		returns value.Kind
		fn      linker.NativeFn
	}{
		{"Display", []value.Kind{str}, value.Void, h.display},
		{"DisplayInt", []value.Kind{integer}, value.Void, h.displayInt},
		{"Wait", []value.Kind{integer}, value.Void, h.wait},
		{"StrLen", []value.Kind{str}, integer, h.strLen},
		{"IntToString", []value.Kind{integer}, str, h.intToString},
		{"FileOpen", []value.Kind{str}, integer, h.fileOpen},
		{"FileWrite", []value.Kind{integer, str}, value.Void, h.fileWrite},
		{"FileClose", []value.Kind{integer}, value.Void, h.fileClose},
		{"Random", []value.Kind{integer}, integer, h.random},
	}
	for _, f := range funcs {
		if err := reg.RegisterFunc(f.name, f.params, f.returns, f.fn); err != nil {
			return err
		}
	}

	cell, err := reg.RegisterVar("game_tick", value.Int, value.NewInt(h.tick))
	if err != nil {
		return err
	}
	h.cell = cell
	return nil
}

// RegisterTypes lets the pool restore host objects
func (h *Host) RegisterTypes(p *pool.Pool) {
	p.RegisterType(FileType, func() pool.Object { return &File{root: h.Root} })
}

// Tick returns the current tick
func (h *Host) Tick() int64 { return h.tick }

// Pending returns the number of timers not yet fired
func (h *Host) Pending() int { return len(h.timers) }

// Advance moves to the next tick and signals every timer that became due,
// earliest first.
func (h *Host) Advance(s Signaler) int {
	h.tick++
	if h.cell != nil {
		_ = h.cell.Set(value.NewInt(h.tick))
	}

	slices.SortFunc(h.timers, func(a, b timer) int {
		if a.due != b.due {
			return int(a.due - b.due)
		}
		return a.seq - b.seq
	})
	fired := 0
	for len(h.timers) > 0 && h.timers[0].due <= h.tick {
		t := h.timers[0]
		h.timers = h.timers[1:]
		fired += s.Signal(t.token, value.Value{})
	}
	return fired
}

func (h *Host) display(call linker.Call, args []value.Value) (value.Value, error) {
	s, err := call.String(args[0])
	if err != nil {
		return value.Value{}, err
	}
	_, err = fmt.Fprintln(h.Out, s)
	return value.Value{}, err
}

func (h *Host) displayInt(_ linker.Call, args []value.Value) (value.Value, error) {
	_, err := fmt.Fprintln(h.Out, args[0].I)
	return value.Value{}, err
}

// wait suspends the caller for a number of ticks
func (h *Host) wait(call linker.Call, args []value.Value) (value.Value, error) {
	ticks := args[0].I
	if ticks < 0 {
		return value.Value{}, fmt.Errorf("%w: wait of %d ticks", ErrArgument, ticks)
	}
	h.seq++
	token := "timer:" + call.ID() + ":" + strconv.Itoa(h.seq)
	h.timers = append(h.timers, timer{due: h.tick + max(ticks, 1), seq: h.seq, token: token})
	call.Wait(token)
	log.Debug("timer armed", "token", token, "ticks", ticks)
	return value.Value{}, nil
}

func (h *Host) strLen(call linker.Call, args []value.Value) (value.Value, error) {
	s, err := call.String(args[0])
	if err != nil {
		return value.Value{}, err
	}
	return value.NewInt(int64(len(s))), nil
}

func (h *Host) intToString(call linker.Call, args []value.Value) (value.Value, error) {
	return call.NewString(strconv.FormatInt(args[0].I, 10))
}

func (h *Host) random(_ linker.Call, args []value.Value) (value.Value, error) {
	n := args[0].I
	if n <= 0 {
		return value.Value{}, fmt.Errorf("%w: Random(%d)", ErrArgument, n)
	}
	return value.NewInt(h.rng.Int64N(n)), nil
}
