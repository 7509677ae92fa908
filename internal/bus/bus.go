package bus

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"io"
	"os"

	"github.com/corvid-systems/gbc-core/internal/apu"
	"github.com/corvid-systems/gbc-core/internal/cart"
	"github.com/corvid-systems/gbc-core/internal/ppu"
	"github.com/corvid-systems/gbc-core/internal/timer"
)

// Bus wires CPU-visible address space to cartridge, WRAM, HRAM, PPU, APU,
// and the timer/DMA/speed-switch IO registers.
type Bus struct {
	cart cart.Cartridge

	// Work RAM: 8 fixed+switchable 4 KiB banks on CGB (SVBK selects bank
	// 1-7 for 0xD000-0xDFFF; bank 0 always maps 0xC000-0xCFFF). On DMG
	// only bank 1 is ever used.
	wram [8][0x1000]byte
	svbk byte // FF70, lower 3 bits; 0 reads back as 0 but behaves as 1

	// High RAM (HRAM) 0xFF80–0xFFFE (127 bytes)
	hram [0x7F]byte

	ppu *ppu.PPU
	apu *apu.APU
	tmr *timer.Timer

	cgb bool // CGB hardware mode, detected from the cartridge header

	// Interrupt registers
	ie    byte // IE at 0xFFFF
	ifReg byte // IF at 0xFF0F (lower 5 bits used)

	joypSelect byte
	joypad     byte
	joypLower4 byte

	// Serial
	sb byte
	sc byte
	sw io.Writer

	// OAM DMA
	dma         byte
	dmaActive   bool
	dmaSrc      uint16
	dmaIndex    int
	dmaPrescale int // counts 0..3; a byte transfers every 4th master cycle

	// VRAM (general-purpose and HBlank) DMA, CGB only
	hdmaSrc    uint16
	hdmaDst    uint16 // relative to 0x8000
	hdmaLen    int    // remaining (length/16 - 1) +1 blocks worth of bytes, 0 when idle
	hdmaActive bool
	hdmaHBlank bool

	// cpuStall counts T-states during which the CPU is blocked from
	// fetching, charged for general-purpose and HBlank VRAM DMA transfers
	// (real hardware halts the CPU while it is locked off the bus).
	cpuStall int

	// KEY1 (0xFF4D): double-speed mode
	doubleSpeed  bool
	speedArmed   bool
	speedPending bool

	// Boot ROM support
	bootROM     []byte
	bootEnabled bool

	debugTimer bool
}

// New constructs a Bus with a ROM-only cartridge for convenience, detecting
// CGB hardware mode from the cartridge header.
func New(rom []byte) *Bus {
	b := NewWithCartridge(cart.NewCartridge(rom))
	if h, err := cart.ParseHeader(rom); err == nil {
		b.SetCGBMode(h.CGBFlag&0x80 != 0)
	}
	return b
}

// NewWithCartridge wires a provided cartridge implementation.
func NewWithCartridge(c cart.Cartridge) *Bus {
	b := &Bus{cart: c}
	b.ppu = ppu.New(func(bit int) { b.ifReg |= 1 << bit })
	b.apu = apu.New(48000)
	b.tmr = timer.New(func() { b.ifReg |= 1 << 2 })
	b.ppu.SetHBlankCallback(b.onHBlank)
	if os.Getenv("GB_DEBUG_TIMER") != "" {
		b.debugTimer = true
		b.tmr.SetDebug(true, func(format string, args ...any) {
			_, _ = io.WriteString(os.Stderr, fmt.Sprintf(format, args...))
		})
	}
	return b
}

// SetCGBMode switches PPU palette/VRAM-bank behavior and enables the
// CGB-only IO registers (KEY1, SVBK, HDMA, BCPS/OCPS).
func (b *Bus) SetCGBMode(cgb bool) {
	b.cgb = cgb
	b.ppu.SetCGBMode(cgb)
}

func (b *Bus) CGBMode() bool { return b.cgb }

// PPU returns the internal PPU for read-only rendering helpers.
func (b *Bus) PPU() *ppu.PPU { return b.ppu }

// APU returns the internal APU for audio pulling by the host.
func (b *Bus) APU() *apu.APU { return b.apu }

// Cart returns the underlying cartridge for optional battery operations.
func (b *Bus) Cart() cart.Cartridge { return b.cart }

// DoubleSpeed reports whether the CPU is currently running at 2x the
// normal clock (post KEY1 speed switch).
func (b *Bus) DoubleSpeed() bool { return b.doubleSpeed }

// PerformSpeedSwitchIfArmed is invoked by the CPU when executing STOP; if
// KEY1 bit 0 was set beforehand, the speed flips and the arm bit clears.
func (b *Bus) PerformSpeedSwitchIfArmed() {
	if !b.cgb || !b.speedArmed {
		return
	}
	b.doubleSpeed = !b.doubleSpeed
	b.speedArmed = false
}

func (b *Bus) wramBank() int {
	bank := int(b.svbk & 0x07)
	if bank == 0 {
		bank = 1
	}
	return bank
}

func (b *Bus) Read(addr uint16) byte {
	switch {
	case addr < 0x8000:
		if b.bootEnabled && addr < 0x0100 && len(b.bootROM) >= 0x100 {
			return b.bootROM[addr]
		}
		if b.bootEnabled && b.cgb && addr >= 0x0200 && addr < 0x0900 && len(b.bootROM) >= 0x900 {
			return b.bootROM[addr]
		}
		return b.cart.Read(addr)
	case addr >= 0x8000 && addr <= 0x9FFF:
		return b.ppu.CPURead(addr)
	case addr >= 0xA000 && addr <= 0xBFFF:
		return b.cart.Read(addr)

	case addr >= 0xC000 && addr <= 0xCFFF:
		return b.wram[0][addr-0xC000]
	case addr >= 0xD000 && addr <= 0xDFFF:
		return b.wram[b.wramBank()][addr-0xD000]

	case addr >= 0xE000 && addr <= 0xFDFF:
		mirror := addr - 0x2000
		if mirror <= 0xCFFF {
			return b.wram[0][mirror-0xC000]
		}
		return b.wram[b.wramBank()][mirror-0xD000]

	case addr >= 0xFF80 && addr <= 0xFFFE:
		return b.hram[addr-0xFF80]
	case addr >= 0xFE00 && addr <= 0xFE9F:
		if b.dmaActive {
			return 0xFF
		}
		return b.ppu.CPURead(addr)
	case addr == 0xFF00:
		res := byte(0xC0 | (b.joypSelect & 0x30) | 0x0F)
		if (b.joypSelect & 0x10) == 0 {
			if b.joypad&JoypRight != 0 {
				res &^= 0x01
			}
			if b.joypad&JoypLeft != 0 {
				res &^= 0x02
			}
			if b.joypad&JoypUp != 0 {
				res &^= 0x04
			}
			if b.joypad&JoypDown != 0 {
				res &^= 0x08
			}
		}
		if (b.joypSelect & 0x20) == 0 {
			if b.joypad&JoypA != 0 {
				res &^= 0x01
			}
			if b.joypad&JoypB != 0 {
				res &^= 0x02
			}
			if b.joypad&JoypSelectBtn != 0 {
				res &^= 0x04
			}
			if b.joypad&JoypStart != 0 {
				res &^= 0x08
			}
		}
		return res
	case addr == 0xFF04:
		return b.tmr.ReadDIV()
	case addr == 0xFF05:
		return b.tmr.ReadTIMA()
	case addr == 0xFF06:
		return b.tmr.ReadTMA()
	case addr == 0xFF07:
		return b.tmr.ReadTAC()
	case addr == 0xFF01:
		return b.sb
	case addr == 0xFF02:
		return 0x7E | (b.sc & 0x81)
	case addr >= 0xFF10 && addr <= 0xFF26, addr >= 0xFF30 && addr <= 0xFF3F:
		return b.apu.CPURead(addr)
	case addr == 0xFF76, addr == 0xFF77:
		if b.cgb {
			return b.apu.CPURead(addr)
		}
		return 0xFF
	case addr == 0xFF40, addr == 0xFF41, addr == 0xFF42, addr == 0xFF43,
		addr == 0xFF44, addr == 0xFF45,
		addr == 0xFF47, addr == 0xFF48, addr == 0xFF49,
		addr == 0xFF4A, addr == 0xFF4B:
		return b.ppu.CPURead(addr)
	case addr == 0xFF4F:
		return b.ppu.CPURead(addr)
	case addr == 0xFF68, addr == 0xFF69, addr == 0xFF6A, addr == 0xFF6B:
		if b.cgb {
			return b.ppu.CPURead(addr)
		}
		return 0xFF
	case addr == 0xFF46:
		return b.dma
	case addr == 0xFF4D:
		if !b.cgb {
			return 0xFF
		}
		res := byte(0x7E)
		if b.doubleSpeed {
			res |= 0x80
		}
		if b.speedArmed {
			res |= 0x01
		}
		return res
	case addr == 0xFF51, addr == 0xFF52, addr == 0xFF53, addr == 0xFF54:
		return 0xFF // write-only source/destination latches
	case addr == 0xFF55:
		if !b.cgb {
			return 0xFF
		}
		if !b.hdmaActive {
			return 0xFF
		}
		return byte((b.hdmaLen/16 - 1) & 0x7F)
	case addr == 0xFF70:
		if !b.cgb {
			return 0xFF
		}
		return 0xF8 | (b.svbk & 0x07)
	case addr == 0xFF50:
		return 0xFF
	case addr == 0xFF0F:
		return 0xE0 | (b.ifReg & 0x1F)
	case addr == 0xFFFF:
		return b.ie
	}
	return 0xFF
}

func (b *Bus) Write(addr uint16, value byte) {
	switch {
	case addr < 0x8000:
		b.cart.Write(addr, value)
		return
	case addr >= 0x8000 && addr <= 0x9FFF:
		b.ppu.CPUWrite(addr, value)
		return
	case addr >= 0xA000 && addr <= 0xBFFF:
		b.cart.Write(addr, value)
		return

	case addr >= 0xC000 && addr <= 0xCFFF:
		b.wram[0][addr-0xC000] = value
		return
	case addr >= 0xD000 && addr <= 0xDFFF:
		b.wram[b.wramBank()][addr-0xD000] = value
		return

	case addr >= 0xE000 && addr <= 0xFDFF:
		mirror := addr - 0x2000
		if mirror <= 0xCFFF {
			b.wram[0][mirror-0xC000] = value
		} else {
			b.wram[b.wramBank()][mirror-0xD000] = value
		}
		return

	case addr >= 0xFF80 && addr <= 0xFFFE:
		b.hram[addr-0xFF80] = value
		return
	case addr >= 0xFE00 && addr <= 0xFE9F:
		if b.dmaActive {
			return
		}
		b.ppu.CPUWrite(addr, value)
		return
	case addr == 0xFF00:
		b.joypSelect = value & 0x30
		b.updateJoypadIRQ()
		return
	case addr == 0xFF04:
		b.tmr.WriteDIV()
		return
	case addr == 0xFF05:
		b.tmr.WriteTIMA(value)
		return
	case addr == 0xFF06:
		b.tmr.WriteTMA(value)
		return
	case addr == 0xFF07:
		b.tmr.WriteTAC(value)
		return
	case addr == 0xFF01:
		b.sb = value
		return
	case addr == 0xFF02:
		b.sc = value & 0x81
		if (b.sc & 0x80) != 0 {
			if b.sw != nil {
				_, _ = b.sw.Write([]byte{b.sb})
			}
			b.ifReg |= 1 << 3
			b.sc &^= 0x80
		}
		return
	case addr >= 0xFF10 && addr <= 0xFF26, addr >= 0xFF30 && addr <= 0xFF3F:
		b.apu.CPUWrite(addr, value)
		return
	case addr == 0xFF40, addr == 0xFF41, addr == 0xFF42, addr == 0xFF43,
		addr == 0xFF44, addr == 0xFF45,
		addr == 0xFF47, addr == 0xFF48, addr == 0xFF49,
		addr == 0xFF4A, addr == 0xFF4B:
		b.ppu.CPUWrite(addr, value)
		return
	case addr == 0xFF4F:
		b.ppu.CPUWrite(addr, value)
		return
	case addr == 0xFF68, addr == 0xFF69, addr == 0xFF6A, addr == 0xFF6B:
		if b.cgb {
			b.ppu.CPUWrite(addr, value)
		}
		return
	case addr == 0xFF46:
		b.dma = value
		b.dmaActive = true
		b.dmaSrc = uint16(value) << 8
		b.dmaIndex = 0
		b.dmaPrescale = 0
		return
	case addr == 0xFF4D:
		if b.cgb {
			b.speedArmed = value&0x01 != 0
		}
		return
	case addr == 0xFF51:
		b.hdmaSrc = (b.hdmaSrc & 0x00FF) | uint16(value)<<8
		return
	case addr == 0xFF52:
		b.hdmaSrc = (b.hdmaSrc & 0xFF00) | uint16(value&0xF0)
		return
	case addr == 0xFF53:
		b.hdmaDst = (b.hdmaDst & 0x00FF) | uint16(value&0x1F)<<8
		return
	case addr == 0xFF54:
		b.hdmaDst = (b.hdmaDst & 0xFF00) | uint16(value&0xF0)
		return
	case addr == 0xFF55:
		if !b.cgb {
			return
		}
		b.startHDMA(value)
		return
	case addr == 0xFF70:
		if b.cgb {
			b.svbk = value & 0x07
		}
		return
	case addr == 0xFF50:
		if value != 0x00 {
			b.bootEnabled = false
		}
		return
	case addr == 0xFF0F:
		b.ifReg = value & 0x1F
		return
	case addr == 0xFFFF:
		b.ie = value
		return
	}
}

// startHDMA launches a VRAM DMA transfer triggered by a write to FF55.
// Bit 7 selects HBlank-gated transfer (16 bytes per HBlank window)
// versus an immediate general-purpose transfer that blocks the CPU.
func (b *Bus) startHDMA(value byte) {
	if b.hdmaActive && b.hdmaHBlank && value&0x80 == 0 {
		b.hdmaActive = false // writing 0 to bit 7 while an HBlank transfer is running cancels it
		return
	}
	length := (int(value&0x7F) + 1) * 16
	b.hdmaHBlank = value&0x80 != 0
	b.hdmaLen = length
	b.hdmaActive = true
	if !b.hdmaHBlank {
		b.runGeneralPurposeHDMA()
	}
}

func (b *Bus) runGeneralPurposeHDMA() {
	blocks := b.hdmaLen / 16
	for b.hdmaLen > 0 {
		b.copyHDMAChunk(16)
	}
	b.hdmaActive = false
	stall := 8 * blocks
	if b.doubleSpeed {
		stall *= 2
	}
	b.RequestStall(stall)
}

// RequestStall charges the CPU n T-states during which CPU.Step must not
// fetch or execute an instruction, because a VRAM DMA transfer has the
// CPU locked off the bus.
func (b *Bus) RequestStall(n int) {
	if n > 0 {
		b.cpuStall += n
	}
}

// TakeStallTick reports whether the CPU is still being held off the bus
// for one more T-state of a pending stall, consuming it if so.
func (b *Bus) TakeStallTick() bool {
	if b.cpuStall > 0 {
		b.cpuStall--
		return true
	}
	return false
}

// copyHDMAChunk copies up to n bytes from the latched source to VRAM,
// bypassing the PPU's mode-3 lockout exactly as OAM/VRAM DMA does on
// real hardware.
func (b *Bus) copyHDMAChunk(n int) {
	for i := 0; i < n && b.hdmaLen > 0; i++ {
		v := b.Read(b.hdmaSrc)
		b.ppu.WriteVRAMDirect(0x8000+b.hdmaDst, v)
		b.hdmaSrc++
		b.hdmaDst++
		b.hdmaLen--
	}
}

// onHBlank runs one 16-byte HDMA block; registered with the PPU so it
// fires once per HBlank window while a HBlank-gated transfer is armed.
func (b *Bus) onHBlank() {
	if !b.hdmaActive || !b.hdmaHBlank {
		return
	}
	b.copyHDMAChunk(16)
	if b.hdmaLen <= 0 {
		b.hdmaActive = false
	}
	stall := 32
	if b.doubleSpeed {
		stall = 64
	}
	b.RequestStall(stall)
}

const (
	JoypRight     = 1 << 0
	JoypLeft      = 1 << 1
	JoypUp        = 1 << 2
	JoypDown      = 1 << 3
	JoypA         = 1 << 4
	JoypB         = 1 << 5
	JoypSelectBtn = 1 << 6
	JoypStart     = 1 << 7
)

// SetJoypadState sets which buttons are currently pressed.
func (b *Bus) SetJoypadState(mask byte) {
	b.joypad = mask
	b.updateJoypadIRQ()
}

// SetSerialWriter sets a sink that receives bytes written via the serial port.
func (b *Bus) SetSerialWriter(w io.Writer) { b.sw = w }

// SetBootROM loads a DMG or CGB boot ROM, mapped at 0x0000-0x00FF (DMG)
// or 0x0000-0x08FF (CGB, with a gap at 0x0100-0x01FF for the cartridge
// header) until disabled via an FF50 write.
func (b *Bus) SetBootROM(data []byte) {
	b.bootROM = nil
	b.bootEnabled = false
	if len(data) >= 0x100 {
		b.bootROM = append([]byte(nil), data...)
		b.bootEnabled = true
		b.ppu.SetHBlankCallback(b.onHBlank)
	}
}

// Tick advances all sub-timed units by the given number of T-states, as
// reported by the CPU's instruction cycle tables. The PPU, APU, timer,
// and OAM DMA all run at a fixed 4.194304 MHz regardless of CPU speed,
// so in CGB double-speed mode — where the CPU consumes the same T-state
// counts in half the real time — only every other T-state advances
// those fixed-rate units; the odd ones are the "fast" half-cycles.
func (b *Bus) Tick(cycles int) {
	if cycles <= 0 {
		return
	}
	for i := 0; i < cycles; i++ {
		if b.doubleSpeed && i%2 == 1 {
			continue
		}
		b.tmr.Tick()
		if b.ppu != nil {
			b.ppu.Tick(1)
		}
		if b.apu != nil {
			b.apu.Tick(1)
		}

		if b.dmaActive {
			b.dmaPrescale++
			if b.dmaPrescale >= 4 {
				b.dmaPrescale = 0
				if b.dmaIndex < 0xA0 {
					v := b.Read(b.dmaSrc + uint16(b.dmaIndex))
					b.ppu.CPUWrite(0xFE00+uint16(b.dmaIndex), v)
					b.dmaIndex++
				}
				if b.dmaIndex >= 0xA0 {
					b.dmaActive = false
				}
			}
		}
	}
}

// updateJoypadIRQ recomputes JOYP lower 4 bits (active-low) and raises IF bit 4 on any 1->0 transition.
func (b *Bus) updateJoypadIRQ() {
	newLower := byte(0x0F)
	if (b.joypSelect & 0x10) == 0 {
		if b.joypad&JoypRight != 0 {
			newLower &^= 0x01
		}
		if b.joypad&JoypLeft != 0 {
			newLower &^= 0x02
		}
		if b.joypad&JoypUp != 0 {
			newLower &^= 0x04
		}
		if b.joypad&JoypDown != 0 {
			newLower &^= 0x08
		}
	}
	if (b.joypSelect & 0x20) == 0 {
		if b.joypad&JoypA != 0 {
			newLower &^= 0x01
		}
		if b.joypad&JoypB != 0 {
			newLower &^= 0x02
		}
		if b.joypad&JoypSelectBtn != 0 {
			newLower &^= 0x04
		}
		if b.joypad&JoypStart != 0 {
			newLower &^= 0x08
		}
	}
	falling := b.joypLower4 &^ newLower
	if falling != 0 {
		b.ifReg |= 1 << 4
	}
	b.joypLower4 = newLower
}

// --- Save/Load state ---
type busState struct {
	WRAM      [8][0x1000]byte
	SVBK      byte
	HRAM      [0x7F]byte
	IE, IF    byte
	JoypSel   byte
	Joypad    byte
	JoypL4    byte
	SB, SC    byte
	DMA       byte
	DMAActive bool
	DMASrc    uint16
	DMAIdx    int
	DMAPre    int
	HDMASrc   uint16
	HDMADst   uint16
	HDMALen   int
	HDMAAct   bool
	HDMAHBl   bool
	CPUStall  int
	DoubleSpd bool
	SpeedArm  bool
	BootEn    bool
	CGB       bool
}

func (b *Bus) SaveState() []byte {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	s := busState{
		WRAM: b.wram, SVBK: b.svbk, HRAM: b.hram,
		IE: b.ie, IF: b.ifReg,
		JoypSel: b.joypSelect, Joypad: b.joypad, JoypL4: b.joypLower4,
		SB: b.sb, SC: b.sc,
		DMA: b.dma, DMAActive: b.dmaActive, DMASrc: b.dmaSrc, DMAIdx: b.dmaIndex, DMAPre: b.dmaPrescale,
		HDMASrc: b.hdmaSrc, HDMADst: b.hdmaDst, HDMALen: b.hdmaLen,
		HDMAAct: b.hdmaActive, HDMAHBl: b.hdmaHBlank, CPUStall: b.cpuStall,
		DoubleSpd: b.doubleSpeed, SpeedArm: b.speedArmed,
		BootEn: b.bootEnabled, CGB: b.cgb,
	}
	_ = enc.Encode(s)
	if b.tmr != nil {
		ts := b.tmr.SaveState()
		_ = enc.Encode(ts)
	} else {
		_ = enc.Encode([]byte(nil))
	}
	if b.ppu != nil {
		ps := b.ppu.SaveState()
		_ = enc.Encode(ps)
	} else {
		_ = enc.Encode([]byte(nil))
	}
	if b.apu != nil {
		as := b.apu.SaveState()
		_ = enc.Encode(as)
	} else {
		_ = enc.Encode([]byte(nil))
	}
	if bb, ok := b.cart.(interface{ SaveState() []byte }); ok {
		cs := bb.SaveState()
		_ = enc.Encode(cs)
	} else {
		_ = enc.Encode([]byte(nil))
	}
	return buf.Bytes()
}

func (b *Bus) LoadState(data []byte) {
	dec := gob.NewDecoder(bytes.NewReader(data))
	var s busState
	if err := dec.Decode(&s); err != nil {
		return
	}
	b.wram = s.WRAM
	b.svbk = s.SVBK
	b.hram = s.HRAM
	b.ie, b.ifReg = s.IE, s.IF
	b.joypSelect, b.joypad, b.joypLower4 = s.JoypSel, s.Joypad, s.JoypL4
	b.sb, b.sc = s.SB, s.SC
	b.dma, b.dmaActive, b.dmaSrc, b.dmaIndex, b.dmaPrescale = s.DMA, s.DMAActive, s.DMASrc, s.DMAIdx, s.DMAPre
	b.hdmaSrc, b.hdmaDst, b.hdmaLen = s.HDMASrc, s.HDMADst, s.HDMALen
	b.hdmaActive, b.hdmaHBlank = s.HDMAAct, s.HDMAHBl
	b.cpuStall = s.CPUStall
	b.doubleSpeed, b.speedArmed = s.DoubleSpd, s.SpeedArm
	b.bootEnabled, b.cgb = s.BootEn, s.CGB
	b.ppu.SetCGBMode(b.cgb)

	var ts []byte
	if err := dec.Decode(&ts); err == nil && b.tmr != nil {
		b.tmr.LoadState(ts)
	}
	var ps []byte
	if err := dec.Decode(&ps); err == nil && b.ppu != nil {
		b.ppu.LoadState(ps)
	}
	var as []byte
	if err := dec.Decode(&as); err == nil && b.apu != nil {
		b.apu.LoadState(as)
	}
	var cs []byte
	if err := dec.Decode(&cs); err == nil {
		if bb, ok := b.cart.(interface{ LoadState([]byte) }); ok {
			bb.LoadState(cs)
		}
	}
}
