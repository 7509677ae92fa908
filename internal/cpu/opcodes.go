package cpu

// primaryTable and cbTable are the two fixed 256-entry opcode dispatch
// tables. Regular, bit-field-structured instruction groups (LD r,r';
// 8-bit ALU r; INC/DEC r) are populated by looping over the 3-bit
// register field the same way real SM83 opcode bytes encode them;
// irregular instructions (immediates, jumps, stack ops, control) are
// assigned individually in init.
var primaryTable [256]func(*CPU) int

func init() {
	for i := range primaryTable {
		primaryTable[i] = opUndefined
	}

	// LD r,r' : 0x40-0x7F, bits [5:3]=dst, [2:0]=src. 0x76 is HALT.
	for op := 0x40; op <= 0x7F; op++ {
		op := byte(op)
		if op == 0x76 {
			primaryTable[op] = opHalt
			continue
		}
		dst := (op >> 3) & 7
		src := op & 7
		primaryTable[op] = func(c *CPU) int {
			v := c.regGet(src)
			c.regSet(dst, v)
			if dst == 6 || src == 6 {
				return 8
			}
			return 4
		}
	}

	// LD r,d8 : row 0x06,0x0E,0x16,... (dst in bits [5:3], src field fixed to imm)
	for _, dst := range []byte{0, 1, 2, 3, 4, 5, 6, 7} {
		op := byte(dst<<3 | 0x06)
		dst := dst
		cyc := 8
		if dst == 6 {
			cyc = 12
		}
		primaryTable[op] = func(c *CPU) int {
			c.regSet(dst, c.fetch8())
			return cyc
		}
	}

	// 8-bit ALU A,r : 0x80-0xBF, bits [5:3] select operation, [2:0] select src.
	aluOps := []func(*CPU, byte){
		func(c *CPU, v byte) { r, z, n, h, cy := c.add8(c.A, v); c.A = r; c.setZNHC(z, n, h, cy) },
		func(c *CPU, v byte) {
			r, z, n, h, cy := c.adc8(c.A, v, c.F&flagC != 0)
			c.A = r
			c.setZNHC(z, n, h, cy)
		},
		func(c *CPU, v byte) { r, z, n, h, cy := c.sub8(c.A, v); c.A = r; c.setZNHC(z, n, h, cy) },
		func(c *CPU, v byte) {
			r, z, n, h, cy := c.sbc8(c.A, v, c.F&flagC != 0)
			c.A = r
			c.setZNHC(z, n, h, cy)
		},
		func(c *CPU, v byte) { r, z, n, h, cy := c.and8(c.A, v); c.A = r; c.setZNHC(z, n, h, cy) },
		func(c *CPU, v byte) { r, z, n, h, cy := c.xor8(c.A, v); c.A = r; c.setZNHC(z, n, h, cy) },
		func(c *CPU, v byte) { r, z, n, h, cy := c.or8(c.A, v); c.A = r; c.setZNHC(z, n, h, cy) },
		func(c *CPU, v byte) { z, n, h, cy := c.cp8(c.A, v); c.setZNHC(z, n, h, cy) },
	}
	for group := 0; group < 8; group++ {
		for src := 0; src < 8; src++ {
			op := byte(0x80 | group<<3 | src)
			fn := aluOps[group]
			s := byte(src)
			cyc := 4
			if s == 6 {
				cyc = 8
			}
			primaryTable[op] = func(c *CPU) int {
				fn(c, c.regGet(s))
				return cyc
			}
		}
	}

	// ALU A,d8 : 0xC6,0xCE,0xD6,0xDE,0xE6,0xEE,0xF6,0xFE
	for group := 0; group < 8; group++ {
		op := byte(0xC6 | group<<3)
		fn := aluOps[group]
		primaryTable[op] = func(c *CPU) int {
			fn(c, c.fetch8())
			return 8
		}
	}

	// INC r / DEC r over the same 8-slot register field, row 0x04/0x0C/... and 0x05/0x0D/...
	for _, slot := range []byte{0, 1, 2, 3, 4, 5, 6, 7} {
		slot := slot
		incOp := byte(slot<<3 | 0x04)
		decOp := byte(slot<<3 | 0x05)
		cyc := 4
		if slot == 6 {
			cyc = 12
		}
		primaryTable[incOp] = func(c *CPU) int {
			old := c.regGet(slot)
			v := old + 1
			c.regSet(slot, v)
			c.setZNHC(v == 0, false, old&0x0F == 0x0F, c.F&flagC != 0)
			return cyc
		}
		primaryTable[decOp] = func(c *CPU) int {
			old := c.regGet(slot)
			v := old - 1
			c.regSet(slot, v)
			c.setZNHC(v == 0, true, old&0x0F == 0x00, c.F&flagC != 0)
			return cyc
		}
	}

	// Irregular opcodes.
	primaryTable[0x00] = func(c *CPU) int { return 4 } // NOP
	primaryTable[0x10] = opStop
	primaryTable[0xCB] = opCBPrefix
	primaryTable[0xF3] = func(c *CPU) int { c.IME = false; c.eiPending = false; return 4 }  // DI
	primaryTable[0xFB] = func(c *CPU) int { c.eiPending = true; return 4 }                  // EI

	// 16-bit immediate loads.
	primaryTable[0x01] = func(c *CPU) int { c.setBC(c.fetch16()); return 12 }
	primaryTable[0x11] = func(c *CPU) int { c.setDE(c.fetch16()); return 12 }
	primaryTable[0x21] = func(c *CPU) int { c.setHL(c.fetch16()); return 12 }
	primaryTable[0x31] = func(c *CPU) int { c.SP = c.fetch16(); return 12 }
	primaryTable[0x08] = func(c *CPU) int { c.write16(c.fetch16(), c.SP); return 20 }

	// Indirect 8-bit loads through BC/DE/HL.
	primaryTable[0x02] = func(c *CPU) int { c.write8(c.getBC(), c.A); return 8 }
	primaryTable[0x12] = func(c *CPU) int { c.write8(c.getDE(), c.A); return 8 }
	primaryTable[0x0A] = func(c *CPU) int { c.A = c.read8(c.getBC()); return 8 }
	primaryTable[0x1A] = func(c *CPU) int { c.A = c.read8(c.getDE()); return 8 }
	primaryTable[0x22] = func(c *CPU) int { hl := c.getHL(); c.write8(hl, c.A); c.setHL(hl + 1); return 8 }
	primaryTable[0x2A] = func(c *CPU) int { hl := c.getHL(); c.A = c.read8(hl); c.setHL(hl + 1); return 8 }
	primaryTable[0x32] = func(c *CPU) int { hl := c.getHL(); c.write8(hl, c.A); c.setHL(hl - 1); return 8 }
	primaryTable[0x3A] = func(c *CPU) int { hl := c.getHL(); c.A = c.read8(hl); c.setHL(hl - 1); return 8 }
	primaryTable[0xEA] = func(c *CPU) int { c.write8(c.fetch16(), c.A); return 16 }
	primaryTable[0xFA] = func(c *CPU) int { c.A = c.read8(c.fetch16()); return 16 }
	primaryTable[0xE0] = func(c *CPU) int { c.write8(0xFF00+uint16(c.fetch8()), c.A); return 12 }
	primaryTable[0xF0] = func(c *CPU) int { c.A = c.read8(0xFF00 + uint16(c.fetch8())); return 12 }
	primaryTable[0xE2] = func(c *CPU) int { c.write8(0xFF00+uint16(c.C), c.A); return 8 }
	primaryTable[0xF2] = func(c *CPU) int { c.A = c.read8(0xFF00 + uint16(c.C)); return 8 }

	// Accumulator rotates and flag instructions.
	primaryTable[0x07] = opRLCA
	primaryTable[0x0F] = opRRCA
	primaryTable[0x17] = opRLA
	primaryTable[0x1F] = opRRA
	primaryTable[0x27] = opDAA
	primaryTable[0x2F] = opCPL
	primaryTable[0x37] = opSCF
	primaryTable[0x3F] = opCCF

	// 16-bit INC/DEC/ADD HL,rr.
	primaryTable[0x03] = func(c *CPU) int { c.setBC(c.getBC() + 1); return 8 }
	primaryTable[0x13] = func(c *CPU) int { c.setDE(c.getDE() + 1); return 8 }
	primaryTable[0x23] = func(c *CPU) int { c.setHL(c.getHL() + 1); return 8 }
	primaryTable[0x33] = func(c *CPU) int { c.SP++; return 8 }
	primaryTable[0x0B] = func(c *CPU) int { c.setBC(c.getBC() - 1); return 8 }
	primaryTable[0x1B] = func(c *CPU) int { c.setDE(c.getDE() - 1); return 8 }
	primaryTable[0x2B] = func(c *CPU) int { c.setHL(c.getHL() - 1); return 8 }
	primaryTable[0x3B] = func(c *CPU) int { c.SP--; return 8 }
	primaryTable[0x09] = addHL(func(c *CPU) uint16 { return c.getBC() })
	primaryTable[0x19] = addHL(func(c *CPU) uint16 { return c.getDE() })
	primaryTable[0x29] = addHL(func(c *CPU) uint16 { return c.getHL() })
	primaryTable[0x39] = addHL(func(c *CPU) uint16 { return c.SP })

	// Stack-pointer arithmetic.
	primaryTable[0xF8] = opLDHLSPr8
	primaryTable[0xF9] = func(c *CPU) int { c.SP = c.getHL(); return 8 }
	primaryTable[0xE8] = opADDSPr8

	// Jumps, calls, returns.
	primaryTable[0x18] = func(c *CPU) int { off := int8(c.fetch8()); c.PC = uint16(int32(c.PC) + int32(off)); return 12 }
	primaryTable[0xC3] = func(c *CPU) int { c.PC = c.fetch16(); return 16 }
	primaryTable[0xE9] = func(c *CPU) int { c.PC = c.getHL(); return 4 }
	primaryTable[0x20] = jrCond(func(c *CPU) bool { return c.F&flagZ == 0 })
	primaryTable[0x28] = jrCond(func(c *CPU) bool { return c.F&flagZ != 0 })
	primaryTable[0x30] = jrCond(func(c *CPU) bool { return c.F&flagC == 0 })
	primaryTable[0x38] = jrCond(func(c *CPU) bool { return c.F&flagC != 0 })
	primaryTable[0xC2] = jpCond(func(c *CPU) bool { return c.F&flagZ == 0 })
	primaryTable[0xCA] = jpCond(func(c *CPU) bool { return c.F&flagZ != 0 })
	primaryTable[0xD2] = jpCond(func(c *CPU) bool { return c.F&flagC == 0 })
	primaryTable[0xDA] = jpCond(func(c *CPU) bool { return c.F&flagC != 0 })
	primaryTable[0xCD] = func(c *CPU) int { addr := c.fetch16(); c.push16(c.PC); c.PC = addr; return 24 }
	primaryTable[0xC4] = callCond(func(c *CPU) bool { return c.F&flagZ == 0 })
	primaryTable[0xCC] = callCond(func(c *CPU) bool { return c.F&flagZ != 0 })
	primaryTable[0xD4] = callCond(func(c *CPU) bool { return c.F&flagC == 0 })
	primaryTable[0xDC] = callCond(func(c *CPU) bool { return c.F&flagC != 0 })
	primaryTable[0xC9] = func(c *CPU) int { c.PC = c.pop16(); return 16 }
	primaryTable[0xD9] = func(c *CPU) int { c.PC = c.pop16(); c.IME = true; return 16 }
	primaryTable[0xC0] = retCond(func(c *CPU) bool { return c.F&flagZ == 0 })
	primaryTable[0xC8] = retCond(func(c *CPU) bool { return c.F&flagZ != 0 })
	primaryTable[0xD0] = retCond(func(c *CPU) bool { return c.F&flagC == 0 })
	primaryTable[0xD8] = retCond(func(c *CPU) bool { return c.F&flagC != 0 })

	for i, vec := range []uint16{0x00, 0x08, 0x10, 0x18, 0x20, 0x28, 0x30, 0x38} {
		vec := vec
		primaryTable[0xC7+i*8] = func(c *CPU) int { c.push16(c.PC); c.PC = vec; return 16 }
	}

	// PUSH/POP.
	primaryTable[0xC5] = func(c *CPU) int { c.push16(c.getBC()); return 16 }
	primaryTable[0xD5] = func(c *CPU) int { c.push16(c.getDE()); return 16 }
	primaryTable[0xE5] = func(c *CPU) int { c.push16(c.getHL()); return 16 }
	primaryTable[0xF5] = func(c *CPU) int { c.push16(c.getAF()); return 16 }
	primaryTable[0xC1] = func(c *CPU) int { c.setBC(c.pop16()); return 12 }
	primaryTable[0xD1] = func(c *CPU) int { c.setDE(c.pop16()); return 12 }
	primaryTable[0xE1] = func(c *CPU) int { c.setHL(c.pop16()); return 12 }
	primaryTable[0xF1] = func(c *CPU) int { c.setAF(c.pop16()); return 12 }

	primaryTable[0x36] = func(c *CPU) int { c.write8(c.getHL(), c.fetch8()); return 12 }
}

func opUndefined(c *CPU) int { return 4 }

func opHalt(c *CPU) int {
	if c.IME {
		c.halted = true
		return 4
	}
	ie := c.bus.Read(0xFFFF)
	ifReg := c.bus.Read(0xFF0F) & 0x1F
	if ie&ifReg != 0 {
		c.haltBug = true
	} else {
		c.halted = true
	}
	return 4
}

func opStop(c *CPU) int {
	c.fetch8() // STOP's second byte is conventionally 0x00
	c.bus.PerformSpeedSwitchIfArmed()
	return 4
}

func addHL(src func(*CPU) uint16) func(*CPU) int {
	return func(c *CPU) int {
		hl := c.getHL()
		v := src(c)
		r := uint32(hl) + uint32(v)
		h := (hl&0x0FFF)+(v&0x0FFF) > 0x0FFF
		c.setHL(uint16(r))
		c.setZNHC(c.F&flagZ != 0, false, h, r > 0xFFFF)
		return 8
	}
}

func jrCond(cond func(*CPU) bool) func(*CPU) int {
	return func(c *CPU) int {
		off := int8(c.fetch8())
		if cond(c) {
			c.PC = uint16(int32(c.PC) + int32(off))
			return 12
		}
		return 8
	}
}

func jpCond(cond func(*CPU) bool) func(*CPU) int {
	return func(c *CPU) int {
		addr := c.fetch16()
		if cond(c) {
			c.PC = addr
			return 16
		}
		return 12
	}
}

func callCond(cond func(*CPU) bool) func(*CPU) int {
	return func(c *CPU) int {
		addr := c.fetch16()
		if cond(c) {
			c.push16(c.PC)
			c.PC = addr
			return 24
		}
		return 12
	}
}

func retCond(cond func(*CPU) bool) func(*CPU) int {
	return func(c *CPU) int {
		if cond(c) {
			c.PC = c.pop16()
			return 20
		}
		return 8
	}
}

func opRLCA(c *CPU) int {
	cv := (c.A >> 7) & 1
	c.A = c.A<<1 | cv
	c.setZNHC(false, false, false, cv == 1)
	return 4
}

func opRRCA(c *CPU) int {
	cv := c.A & 1
	c.A = c.A>>1 | cv<<7
	c.setZNHC(false, false, false, cv == 1)
	return 4
}

func opRLA(c *CPU) int {
	cv := (c.A >> 7) & 1
	var cin byte
	if c.F&flagC != 0 {
		cin = 1
	}
	c.A = c.A<<1 | cin
	c.setZNHC(false, false, false, cv == 1)
	return 4
}

func opRRA(c *CPU) int {
	cv := c.A & 1
	var cin byte
	if c.F&flagC != 0 {
		cin = 1
	}
	c.A = c.A>>1 | cin<<7
	c.setZNHC(false, false, false, cv == 1)
	return 4
}

func opDAA(c *CPU) int {
	a := c.A
	cf := c.F&flagC != 0
	if c.F&flagN == 0 {
		if cf || a > 0x99 {
			a += 0x60
			cf = true
		}
		if c.F&flagH != 0 || a&0x0F > 9 {
			a += 0x06
		}
	} else {
		if cf {
			a -= 0x60
		}
		if c.F&flagH != 0 {
			a -= 0x06
		}
	}
	c.A = a
	c.setZNHC(c.A == 0, c.F&flagN != 0, false, cf)
	return 4
}

func opCPL(c *CPU) int {
	c.A = ^c.A
	c.F = (c.F & (flagZ | flagC)) | flagN | flagH
	return 4
}

func opSCF(c *CPU) int {
	c.F = (c.F & flagZ) | flagC
	return 4
}

func opCCF(c *CPU) int {
	c.F = (c.F & (flagZ | flagC)) ^ flagC
	return 4
}

func opLDHLSPr8(c *CPU) int {
	off := int8(c.fetch8())
	low := byte(c.SP)
	_, _, _, h, cy := c.add8(low, byte(off))
	c.setHL(uint16(int32(int16(c.SP)) + int32(off)))
	c.setZNHC(false, false, h, cy)
	return 12
}

func opADDSPr8(c *CPU) int {
	off := int8(c.fetch8())
	low := byte(c.SP)
	_, _, _, h, cy := c.add8(low, byte(off))
	c.SP = uint16(int32(int16(c.SP)) + int32(off))
	c.setZNHC(false, false, h, cy)
	return 16
}

func opCBPrefix(c *CPU) int {
	op := c.fetch8()
	return cbTable[op](c)
}
