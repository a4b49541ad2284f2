// Package faketest is an in-process, pure-Go implementation of
// emuadapter.Core used by internal/round and internal/match tests. It
// stands in for the real GBA core the way the teacher's nes.Bus stands in
// as "the" deterministic machine under direct test — except here the whole
// point is that the real core is external, so tests need a minimal stand-in
// rather than a real CPU.
//
// Core's "program" is a fixed, repeating cycle of addresses (the title's
// main loop, title-agnostically): each Step moves to the next address in
// the cycle and fires any trap installed there.
package faketest

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/cliffdevs/tango/internal/emuadapter"
)

const numRegs = 16

// Core is a scripted fake emulator core.
type Core struct {
	// Program is the repeating address cycle Step walks through.
	Program []uint32

	progIdx int
	pc      uint32
	regs    [numRegs]uint32
	mem     map[uint32]byte
	traps   map[uint32]emuadapter.TrapHandler
	onFrame func([]byte)

	// FrameEvery, if > 0, fires the frame callback with a snapshot of mem
	// every N steps, simulating the emulator's periodic frame delivery.
	FrameEvery int
	stepCount  int
}

// New returns a fake core whose main loop repeats the given address cycle.
func New(program []uint32) *Core {
	return &Core{
		Program: program,
		mem:     make(map[uint32]byte),
		traps:   make(map[uint32]emuadapter.TrapHandler),
	}
}

// Step ignores ctx cancellation: the fake program cycle always has a trap
// reachable within one step, so there is nothing to wait on.
func (c *Core) Step(_ context.Context) emuadapter.TrapEvent {
	if len(c.Program) == 0 {
		return emuadapter.TrapEvent{}
	}

	c.pc = c.Program[c.progIdx%len(c.Program)]
	c.progIdx++
	c.stepCount++

	if c.FrameEvery > 0 && c.stepCount%c.FrameEvery == 0 && c.onFrame != nil {
		c.onFrame(c.snapshotMem())
	}

	if h, ok := c.traps[c.pc]; ok {
		h(c)
		return emuadapter.TrapEvent{Addr: c.pc, Hit: true}
	}

	return emuadapter.TrapEvent{Addr: c.pc, Hit: false}
}

func (c *Core) snapshotMem() []byte {
	keys := make([]uint32, 0, len(c.mem))
	for k := range c.mem {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	out := make([]byte, 0, len(keys))
	for _, k := range keys {
		out = append(out, c.mem[k])
	}
	return out
}

func (c *Core) SetTrap(addr uint32, handler emuadapter.TrapHandler) error {
	c.traps[addr] = handler
	return nil
}

func (c *Core) ClearTraps() {
	c.traps = make(map[uint32]emuadapter.TrapHandler)
}

type snapshot struct {
	ProgIdx int
	PC      uint32
	Regs    [numRegs]uint32
	MemLen  uint32
	MemKeys []uint32
	MemVals []byte
}

func (c *Core) SaveState() ([]byte, error) {
	s := snapshot{
		ProgIdx: c.progIdx,
		PC:      c.pc,
		Regs:    c.regs,
	}

	for k := range c.mem {
		s.MemKeys = append(s.MemKeys, k)
	}
	sort.Slice(s.MemKeys, func(i, j int) bool { return s.MemKeys[i] < s.MemKeys[j] })

	for _, k := range s.MemKeys {
		s.MemVals = append(s.MemVals, c.mem[k])
	}
	s.MemLen = uint32(len(s.MemKeys))

	var buf bytes.Buffer
	for _, f := range []any{
		int32(s.ProgIdx), s.PC, s.Regs, s.MemLen,
	} {
		if err := binary.Write(&buf, binary.LittleEndian, f); err != nil {
			return nil, emuadapter.WrapStateError(err)
		}
	}

	for i := uint32(0); i < s.MemLen; i++ {
		if err := binary.Write(&buf, binary.LittleEndian, s.MemKeys[i]); err != nil {
			return nil, emuadapter.WrapStateError(err)
		}
		if err := buf.WriteByte(s.MemVals[i]); err != nil {
			return nil, emuadapter.WrapStateError(err)
		}
	}

	return buf.Bytes(), nil
}

func (c *Core) LoadState(state []byte) error {
	r := bytes.NewReader(state)

	var progIdx int32
	var pc uint32
	var regs [numRegs]uint32
	var memLen uint32

	for _, f := range []any{&progIdx, &pc, &regs, &memLen} {
		if err := binary.Read(r, binary.LittleEndian, f); err != nil {
			return emuadapter.WrapStateError(err)
		}
	}

	mem := make(map[uint32]byte, memLen)
	for i := uint32(0); i < memLen; i++ {
		var k uint32
		if err := binary.Read(r, binary.LittleEndian, &k); err != nil {
			return emuadapter.WrapStateError(err)
		}

		v, err := r.ReadByte()
		if err != nil {
			return emuadapter.WrapStateError(err)
		}

		mem[k] = v
	}

	c.progIdx = int(progIdx)
	c.pc = pc
	c.regs = regs
	c.mem = mem

	return nil
}

func (c *Core) ReadReg(i int) (uint32, error) {
	if i < 0 || i >= numRegs {
		return 0, fmt.Errorf("%w: %d", emuadapter.ErrIllegalRegister, i)
	}
	return c.regs[i], nil
}

func (c *Core) WriteReg(i int, v uint32) error {
	if i < 0 || i >= numRegs {
		return fmt.Errorf("%w: %d", emuadapter.ErrIllegalRegister, i)
	}
	c.regs[i] = v
	return nil
}

func (c *Core) PC() uint32 {
	return c.pc
}

func (c *Core) SetPC(v uint32) {
	for i, addr := range c.Program {
		if addr == v {
			c.progIdx += i - c.progIdx%len(c.Program)
			break
		}
	}
	c.pc = v
}

func (c *Core) Peek(addr uint32, n int) []byte {
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		out[i] = c.mem[addr+uint32(i)]
	}
	return out
}

func (c *Core) Poke(addr uint32, data []byte) {
	for i, b := range data {
		c.mem[addr+uint32(i)] = b
	}
}

func (c *Core) OnFrame(cb func(frame []byte)) {
	c.onFrame = cb
}
