// Package cpu implements the Sharp SM83 core: registers, flags, the
// opcode dispatch tables, and interrupt servicing.
package cpu

import (
	"bytes"
	"encoding/gob"

	"github.com/corvid-systems/gbc-core/internal/bus"
)

// Flags, in F's upper nibble.
const (
	flagZ byte = 1 << 7
	flagN byte = 1 << 6
	flagH byte = 1 << 5
	flagC byte = 1 << 4
)

// Interrupt vector bits, in priority order (lowest bit wins ties).
const (
	intVBlank = 0
	intLCD    = 1
	intTimer  = 2
	intSerial = 3
	intJoypad = 4
)

// CPU holds the SM83 register file and drives instruction dispatch
// through the package-level opcode tables.
type CPU struct {
	A, F byte
	B, C byte
	D, E byte
	H, L byte

	SP uint16
	PC uint16

	IME       bool
	halted    bool
	eiPending bool // EI takes effect after the instruction following it
	haltBug   bool // IME=0 HALT with a pending interrupt fails to increment PC once

	bus *bus.Bus
}

func New(b *bus.Bus) *CPU {
	return &CPU{bus: b, SP: 0xFFFE, PC: 0x0000}
}

func (c *CPU) SetPC(pc uint16) { c.PC = pc }
func (c *CPU) Bus() *bus.Bus   { return c.bus }

// ResetNoBoot seeds the typical DMG/CGB post-boot register state, for
// running ROMs without a boot ROM image.
func (c *CPU) ResetNoBoot(cgb bool) {
	c.B, c.C = 0x00, 0x13
	c.D, c.E = 0x00, 0xD8
	c.H, c.L = 0x01, 0x4D
	c.SP = 0xFFFE
	c.IME = false
	c.halted = false
	c.eiPending = false
	if cgb {
		c.A, c.F = 0x11, 0x80
	} else {
		c.A, c.F = 0x01, 0xB0
	}
}

// DoubleSpeed reports the bus's current KEY1 speed mode, which governs
// how many sub-ticks the timer and OAM/VRAM DMA receive per instruction.
func (c *CPU) DoubleSpeed() bool { return c.bus.DoubleSpeed() }

func (c *CPU) setZNHC(z, n, h, cy bool) {
	var f byte
	if z {
		f |= flagZ
	}
	if n {
		f |= flagN
	}
	if h {
		f |= flagH
	}
	if cy {
		f |= flagC
	}
	c.F = f
}

func (c *CPU) add8(a, b byte) (res byte, z, n, h, cy bool) {
	r := uint16(a) + uint16(b)
	res = byte(r)
	z = res == 0
	h = ((a & 0x0F) + (b & 0x0F)) > 0x0F
	cy = r > 0xFF
	return
}

func (c *CPU) adc8(a, b byte, carryIn bool) (res byte, z, n, h, cy bool) {
	var ci byte
	if carryIn {
		ci = 1
	}
	r := uint16(a) + uint16(b) + uint16(ci)
	res = byte(r)
	z = res == 0
	h = ((a & 0x0F) + (b & 0x0F) + ci) > 0x0F
	cy = r > 0xFF
	return
}

func (c *CPU) sub8(a, b byte) (res byte, z, n, h, cy bool) {
	r := int16(a) - int16(b)
	res = byte(r)
	z = res == 0
	n = true
	h = (a & 0x0F) < (b & 0x0F)
	cy = int16(a) < int16(b)
	return
}

func (c *CPU) sbc8(a, b byte, carryIn bool) (res byte, z, n, h, cy bool) {
	var ci byte
	if carryIn {
		ci = 1
	}
	r := int16(a) - int16(b) - int16(ci)
	res = byte(r)
	z = res == 0
	n = true
	h = (a & 0x0F) < (b&0x0F)+ci
	cy = int16(a) < int16(b)+int16(ci)
	return
}

func (c *CPU) and8(a, b byte) (res byte, z, n, h, cy bool) { res = a & b; z = res == 0; h = true; return }
func (c *CPU) xor8(a, b byte) (res byte, z, n, h, cy bool) { res = a ^ b; z = res == 0; return }
func (c *CPU) or8(a, b byte) (res byte, z, n, h, cy bool)  { res = a | b; z = res == 0; return }
func (c *CPU) cp8(a, b byte) (z, n, h, cy bool)            { _, z, n, h, cy = c.sub8(a, b); return }

func (c *CPU) read8(addr uint16) byte     { return c.bus.Read(addr) }
func (c *CPU) write8(addr uint16, v byte) { c.bus.Write(addr, v) }

func (c *CPU) fetch8() byte {
	v := c.read8(c.PC)
	c.PC++
	return v
}

func (c *CPU) fetch16() uint16 {
	lo := uint16(c.fetch8())
	hi := uint16(c.fetch8())
	return lo | (hi << 8)
}

func (c *CPU) read16(addr uint16) uint16 {
	lo := uint16(c.read8(addr))
	hi := uint16(c.read8(addr + 1))
	return lo | (hi << 8)
}

func (c *CPU) write16(addr uint16, v uint16) {
	c.write8(addr, byte(v))
	c.write8(addr+1, byte(v>>8))
}

func (c *CPU) getAF() uint16  { return uint16(c.A)<<8 | uint16(c.F&0xF0) }
func (c *CPU) setAF(v uint16) { c.A = byte(v >> 8); c.F = byte(v) & 0xF0 }
func (c *CPU) getBC() uint16  { return uint16(c.B)<<8 | uint16(c.C) }
func (c *CPU) setBC(v uint16) { c.B = byte(v >> 8); c.C = byte(v) }
func (c *CPU) getDE() uint16  { return uint16(c.D)<<8 | uint16(c.E) }
func (c *CPU) setDE(v uint16) { c.D = byte(v >> 8); c.E = byte(v) }
func (c *CPU) getHL() uint16  { return uint16(c.H)<<8 | uint16(c.L) }
func (c *CPU) setHL(v uint16) { c.H = byte(v >> 8); c.L = byte(v) }

func (c *CPU) push16(v uint16) {
	c.SP -= 2
	c.write16(c.SP, v)
}

func (c *CPU) pop16() uint16 {
	v := c.read16(c.SP)
	c.SP += 2
	return v
}

// regGet/regSet index the 8 LD-style register slots used by both
// primary-table bit-field groups (LD r,r'; ALU r) and the CB table;
// index 6 always means (HL).
func (c *CPU) regGet(idx byte) byte {
	switch idx {
	case 0:
		return c.B
	case 1:
		return c.C
	case 2:
		return c.D
	case 3:
		return c.E
	case 4:
		return c.H
	case 5:
		return c.L
	case 6:
		return c.read8(c.getHL())
	default:
		return c.A
	}
}

func (c *CPU) regSet(idx byte, v byte) {
	switch idx {
	case 0:
		c.B = v
	case 1:
		c.C = v
	case 2:
		c.D = v
	case 3:
		c.E = v
	case 4:
		c.H = v
	case 5:
		c.L = v
	case 6:
		c.write8(c.getHL(), v)
	default:
		c.A = v
	}
}

// Step executes exactly one instruction (servicing a pending interrupt
// first, if any) and advances every other subsystem by the resulting
// T-state count through Bus.Tick, which itself fans the tick out to the
// timer, OAM/VRAM DMA, and PPU at dot granularity.
func (c *CPU) Step() (cycles int) {
	defer func() {
		if c.bus != nil && cycles > 0 {
			c.bus.Tick(cycles)
		}
		if c.eiPending {
			c.IME = true
			c.eiPending = false
		}
	}()

	if c.bus.TakeStallTick() {
		return 1
	}

	if cyc, serviced := c.serviceInterrupt(); serviced {
		return cyc
	}

	if c.halted {
		return 4
	}

	op := c.fetch8()
	if c.haltBug {
		// The halt bug replays the next opcode byte because PC failed
		// to advance past it when HALT returned immediately.
		c.PC--
		c.haltBug = false
	}
	return primaryTable[op](c)
}

// serviceInterrupt implements the two-phase dispatch: if IME is set and
// a pending, enabled interrupt exists, clear IF's bit, push PC, and jump
// to the vector, charging 5 M-cycles (20 T-states) total. HALT with
// IME=0 still wakes on a pending interrupt without servicing it.
func (c *CPU) serviceInterrupt() (cycles int, serviced bool) {
	ie := c.bus.Read(0xFFFF)
	ifReg := c.bus.Read(0xFF0F) & 0x1F
	pending := ie & ifReg

	if c.halted && pending != 0 {
		c.halted = false
	}

	if !c.IME || pending == 0 {
		return 0, false
	}

	var bit uint
	for bit = 0; bit < 5; bit++ {
		if pending&(1<<bit) != 0 {
			break
		}
	}

	c.bus.Write(0xFF0F, (ifReg&^(1<<bit))&0x1F)
	c.IME = false
	c.push16(c.PC)
	c.PC = 0x40 + uint16(bit)*8
	return 20, true
}

type cpuState struct {
	A, F, B, C, D, E, H, L byte
	SP, PC                 uint16
	IME, Halted, EIPending bool
	HaltBug                bool
}

func (c *CPU) SaveState() []byte {
	var buf bytes.Buffer
	_ = gob.NewEncoder(&buf).Encode(cpuState{
		c.A, c.F, c.B, c.C, c.D, c.E, c.H, c.L,
		c.SP, c.PC, c.IME, c.halted, c.eiPending, c.haltBug,
	})
	return buf.Bytes()
}

func (c *CPU) LoadState(data []byte) {
	var s cpuState
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&s); err != nil {
		return
	}
	c.A, c.F, c.B, c.C, c.D, c.E, c.H, c.L = s.A, s.F, s.B, s.C, s.D, s.E, s.H, s.L
	c.SP, c.PC = s.SP, s.PC
	c.IME, c.halted, c.eiPending, c.haltBug = s.IME, s.Halted, s.EIPending, s.HaltBug
}
