// Package ppu models VRAM/OAM, the LCDC/STAT/palette register file, and
// the scanline timing and pixel pipeline of the DMG/CGB video unit.
package ppu

import (
	"bytes"
	"encoding/gob"
	"sort"
)

// InterruptRequester raises an IF bit (0:VBlank, 1:STAT, ...).
type InterruptRequester func(bit int)

// PPU owns VRAM (2 banks on CGB), OAM, the LCD register file, CGB
// palette RAM, and the 160x144 RGBA framebuffer.
type PPU struct {
	vram [2][0x2000]byte // 0x8000-0x9FFF, bank selected by VBK
	oam  [0xA0]byte      // 0xFE00-0xFE9F

	vbk byte // FF4F bit0: active VRAM bank

	lcdc byte // FF40
	stat byte // FF41
	scy  byte // FF42
	scx  byte // FF43
	ly   byte // FF44
	lyc  byte // FF45
	bgp  byte // FF47 (DMG)
	obp0 byte // FF48 (DMG)
	obp1 byte // FF49 (DMG)
	wy   byte // FF4A
	wx   byte // FF4B

	cgb bool // hardware/mode: enables palette RAM, dual VRAM banks, priority rules

	bgpi, obpi byte     // FF68/FF6A: index (bits 0-5) + auto-increment (bit 7)
	bgPalRAM   [64]byte  // 8 palettes x 4 colors x 2 bytes, little-endian RGB555
	objPalRAM  [64]byte

	dot        int // dot within the current scanline [0, 456)
	mode3Len   int // dots mode 3 occupies this line, computed at mode-2 exit
	windowLine int // internal window line counter, advances only on lines where the window actually drew

	oamBuf []spriteEntry // up to 10 sprites selected for the current line

	lastAttr [160]byte // CGB tile attribute byte used per column on the line just rendered

	front, back []byte // 160*144*4 RGBA, swapped at VBlank entry
	frameReady  bool   // set on VBlank entry, cleared by ConsumeFrameReady

	req            InterruptRequester
	hblankCallback func() // invoked once per HBlank entry, drives general-purpose/HBlank VRAM DMA

	useFetcherBG bool // render BG/window via the fetcher/FIFO prototype instead of the direct tile walk

	// DMG color-compatibility wash: a handful of CGB boot ROMs loaded a
	// fixed, title-keyed RGB triple per DMG shade instead of true
	// grayscale. compatEnabled selects that path for non-CGB carts.
	compatEnabled            bool
	compatBG, compatObj0     [4][3]byte
	compatObj1               [4][3]byte
}

type spriteEntry struct {
	y, x, tile, attr byte
	oamIndex         int
}

func New(req InterruptRequester) *PPU {
	p := &PPU{req: req}
	p.front = make([]byte, 160*144*4)
	p.back = make([]byte, 160*144*4)
	return p
}

// SetCGBMode switches palette/VRAM-bank/priority behavior between DMG
// and CGB semantics.
func (p *PPU) SetCGBMode(cgb bool) { p.cgb = cgb }

// SetUseFetcherBG switches the BG/window composition path between the
// direct per-pixel tile walk and the isolated fetcher/FIFO prototype
// (package-level RenderBGScanlineUsingFetcher/RenderWindowScanlineUsingFetcher).
// Both produce identical color-id output for non-CGB tile attributes;
// the fetcher path is DMG-only (CGB tile attributes/flips are not
// modeled by the prototype fetcher).
func (p *PPU) SetUseFetcherBG(v bool) { p.useFetcherBG = v }

// SetDMGCompatEnabled turns on/off the CGB color-compatibility wash for
// DMG-only cartridges (see SetDMGCompatPalette).
func (p *PPU) SetDMGCompatEnabled(v bool) { p.compatEnabled = v }

// SetDMGCompatPalette installs the RGB triples a DMG-compatibility color
// wash maps BGP/OBP0/OBP1 shades through, in place of grayscale.
func (p *PPU) SetDMGCompatPalette(bg, obj0, obj1 [4][3]byte) {
	p.compatBG, p.compatObj0, p.compatObj1 = bg, obj0, obj1
}

// SetHBlankCallback installs the hook invoked on every HBlank entry.
func (p *PPU) SetHBlankCallback(fn func()) { p.hblankCallback = fn }

func (p *PPU) Framebuffer() []byte { return p.front }

func (p *PPU) BGP() byte  { return p.bgp }
func (p *PPU) OBP0() byte { return p.obp0 }
func (p *PPU) OBP1() byte { return p.obp1 }
func (p *PPU) LCDC() byte { return p.lcdc }
func (p *PPU) SCY() byte  { return p.scy }
func (p *PPU) SCX() byte  { return p.scx }
func (p *PPU) WY() byte   { return p.wy }
func (p *PPU) WX() byte   { return p.wx }
func (p *PPU) LY() byte         { return p.ly }
func (p *PPU) Mode() byte       { return p.stat & 0x03 }
func (p *PPU) WindowLine() int  { return p.windowLine }

// ConsumeFrameReady reports whether a frame completed (VBlank entry)
// since the last call, clearing the flag.
func (p *PPU) ConsumeFrameReady() bool {
	r := p.frameReady
	p.frameReady = false
	return r
}

// Read provides VRAMReader access to the currently-selected bank, used
// by the pixel fetcher.
func (p *PPU) Read(addr uint16) byte              { return p.vram[p.vbk][addr-0x8000] }
func (p *PPU) readBank(bank int, addr uint16) byte { return p.vram[bank&1][addr-0x8000] }

func (p *PPU) CPURead(addr uint16) byte {
	switch {
	case addr >= 0x8000 && addr <= 0x9FFF:
		if p.stat&0x03 == 3 {
			return 0xFF
		}
		return p.vram[p.vbk][addr-0x8000]
	case addr >= 0xFE00 && addr <= 0xFE9F:
		m := p.stat & 0x03
		if m == 2 || m == 3 {
			return 0xFF
		}
		return p.oam[addr-0xFE00]
	case addr == 0xFF40:
		return p.lcdc
	case addr == 0xFF41:
		return 0x80 | (p.stat & 0x7F)
	case addr == 0xFF42:
		return p.scy
	case addr == 0xFF43:
		return p.scx
	case addr == 0xFF44:
		return p.ly
	case addr == 0xFF45:
		return p.lyc
	case addr == 0xFF47:
		return p.bgp
	case addr == 0xFF48:
		return p.obp0
	case addr == 0xFF49:
		return p.obp1
	case addr == 0xFF4A:
		return p.wy
	case addr == 0xFF4B:
		return p.wx
	case addr == 0xFF4F:
		return 0xFE | p.vbk
	case addr == 0xFF68:
		return p.bgpi
	case addr == 0xFF69:
		return p.bgPalRAM[p.bgpi&0x3F]
	case addr == 0xFF6A:
		return p.obpi
	case addr == 0xFF6B:
		return p.objPalRAM[p.obpi&0x3F]
	default:
		return 0xFF
	}
}

func (p *PPU) CPUWrite(addr uint16, value byte) {
	switch {
	case addr >= 0x8000 && addr <= 0x9FFF:
		if p.stat&0x03 == 3 {
			return
		}
		p.vram[p.vbk][addr-0x8000] = value
	case addr >= 0xFE00 && addr <= 0xFE9F:
		m := p.stat & 0x03
		if m == 2 || m == 3 {
			return
		}
		p.oam[addr-0xFE00] = value
	case addr == 0xFF40:
		prev := p.lcdc
		p.lcdc = value
		if value&0x80 == 0 && prev&0x80 != 0 {
			p.ly = 0
			p.dot = 0
			p.setMode(0)
			p.updateLYC()
		} else if value&0x80 != 0 && prev&0x80 == 0 {
			p.ly = 0
			p.dot = 0
			p.windowLine = 0
			p.setMode(2)
			p.updateLYC()
		}
	case addr == 0xFF41:
		p.stat = (p.stat & 0x07) | (value & 0x78)
	case addr == 0xFF42:
		p.scy = value
	case addr == 0xFF43:
		p.scx = value
	case addr == 0xFF44:
		p.ly = 0
		p.dot = 0
		p.updateLYC()
		if p.lcdc&0x80 != 0 {
			p.setMode(2)
		}
	case addr == 0xFF45:
		p.lyc = value
		p.updateLYC()
	case addr == 0xFF47:
		p.bgp = value
	case addr == 0xFF48:
		p.obp0 = value
	case addr == 0xFF49:
		p.obp1 = value
	case addr == 0xFF4A:
		p.wy = value
	case addr == 0xFF4B:
		p.wx = value
	case addr == 0xFF4F:
		if p.cgb {
			p.vbk = value & 1
		}
	case addr == 0xFF68:
		p.bgpi = value & 0xBF
	case addr == 0xFF69:
		p.bgPalRAM[p.bgpi&0x3F] = value
		if p.bgpi&0x80 != 0 {
			p.bgpi = 0x80 | ((p.bgpi + 1) & 0x3F)
		}
	case addr == 0xFF6A:
		p.obpi = value & 0xBF
	case addr == 0xFF6B:
		p.objPalRAM[p.obpi&0x3F] = value
		if p.obpi&0x80 != 0 {
			p.obpi = 0x80 | ((p.obpi + 1) & 0x3F)
		}
	}
}

// WriteVRAMDirect bypasses the mode-3 lockout; used by DMA transfers,
// which the real hardware allows to target VRAM regardless of PPU mode.
func (p *PPU) WriteVRAMDirect(addr uint16, v byte) { p.vram[p.vbk][addr-0x8000] = v }

// Tick advances the PPU by one dot (one master tick at the fixed,
// speed-independent dot rate).
func (p *PPU) Tick(dots int) {
	for i := 0; i < dots; i++ {
		if p.lcdc&0x80 == 0 {
			continue
		}
		p.dot++

		if p.ly < 144 {
			switch {
			case p.dot == 1:
				p.scanOAM()
				p.setMode(2)
			case p.dot == 80:
				p.mode3Len = p.computeMode3Len()
				p.renderScanline()
				p.setMode(3)
			case p.dot == 80+p.mode3Len:
				p.setMode(0)
				if p.hblankCallback != nil {
					p.hblankCallback()
				}
			}
		}

		if p.dot >= 456 {
			p.dot = 0
			p.ly++
			if p.ly == 144 {
				p.front, p.back = p.back, p.front
				p.frameReady = true
				p.setMode(1)
				if p.req != nil {
					p.req(0)
				}
				if p.stat&(1<<4) != 0 && p.req != nil {
					p.req(1)
				}
			} else if p.ly > 153 {
				p.ly = 0
				p.windowLine = 0
				p.setMode(2)
			} else if p.ly < 144 {
				p.setMode(2)
			}
			p.updateLYC()
		}
	}
}

// computeMode3Len approximates the real fetcher-stall-driven mode 3
// duration: a 172-dot floor, plus SCX's fractional-tile discard, plus a
// fixed per-visible-sprite fetch penalty, plus the one-time window
// fetcher restart penalty — clamped to the documented [172,289] range.
func (p *PPU) computeMode3Len() int {
	length := 172 + int(p.scx&7)
	if p.windowVisibleOnLine() {
		length += 6
	}
	length += len(p.oamBuf) * 6
	if length > 289 {
		length = 289
	}
	return length
}

func (p *PPU) windowVisibleOnLine() bool {
	return p.lcdc&0x20 != 0 && p.ly >= p.wy && p.wx <= 166
}

func (p *PPU) setMode(mode byte) {
	prev := p.stat & 0x03
	if prev == mode {
		return
	}
	p.stat = (p.stat &^ 0x03) | mode
	switch mode {
	case 0:
		if p.stat&(1<<3) != 0 && p.req != nil {
			p.req(1)
		}
	case 2:
		if p.stat&(1<<5) != 0 && p.req != nil {
			p.req(1)
		}
	}
}

func (p *PPU) updateLYC() {
	if p.ly == p.lyc {
		p.stat |= 1 << 2
		if p.stat&(1<<6) != 0 && p.req != nil {
			p.req(1)
		}
	} else {
		p.stat &^= 1 << 2
	}
}

// scanOAM selects up to 10 sprites visible on the current line, walked
// in ascending OAM order, then stably sorted by X ascending — ties
// (equal X) keep their OAM order — matching real hardware's
// sprite-over-sprite priority rule.
func (p *PPU) scanOAM() {
	height := 8
	if p.lcdc&0x04 != 0 {
		height = 16
	}
	p.oamBuf = p.oamBuf[:0]
	for i := 0; i < 40 && len(p.oamBuf) < 10; i++ {
		base := i * 4
		y := p.oam[base]
		screenY := int(y) - 16
		if int(p.ly) < screenY || int(p.ly) >= screenY+height {
			continue
		}
		p.oamBuf = append(p.oamBuf, spriteEntry{
			y: y, x: p.oam[base+1], tile: p.oam[base+2], attr: p.oam[base+3], oamIndex: i,
		})
	}
	sort.SliceStable(p.oamBuf, func(a, b int) bool {
		return p.oamBuf[a].x < p.oamBuf[b].x
	})
}

type ppuState struct {
	VRAM                   [2][0x2000]byte
	OAM                    [0xA0]byte
	VBK                    byte
	LCDC, STAT             byte
	SCY, SCX, LY, LYC      byte
	BGP, OBP0, OBP1        byte
	WY, WX                 byte
	CGB                    bool
	BGPI, OBPI             byte
	BGPalRAM, OBJPalRAM    [64]byte
	Dot, Mode3Len, WinLine int
}

func (p *PPU) SaveState() []byte {
	var buf bytes.Buffer
	_ = gob.NewEncoder(&buf).Encode(ppuState{
		VRAM: p.vram, OAM: p.oam, VBK: p.vbk,
		LCDC: p.lcdc, STAT: p.stat, SCY: p.scy, SCX: p.scx, LY: p.ly, LYC: p.lyc,
		BGP: p.bgp, OBP0: p.obp0, OBP1: p.obp1, WY: p.wy, WX: p.wx,
		CGB: p.cgb, BGPI: p.bgpi, OBPI: p.obpi, BGPalRAM: p.bgPalRAM, OBJPalRAM: p.objPalRAM,
		Dot: p.dot, Mode3Len: p.mode3Len, WinLine: p.windowLine,
	})
	return buf.Bytes()
}

func (p *PPU) LoadState(data []byte) {
	var s ppuState
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&s); err != nil {
		return
	}
	p.vram, p.oam, p.vbk = s.VRAM, s.OAM, s.VBK
	p.lcdc, p.stat, p.scy, p.scx, p.ly, p.lyc = s.LCDC, s.STAT, s.SCY, s.SCX, s.LY, s.LYC
	p.bgp, p.obp0, p.obp1, p.wy, p.wx = s.BGP, s.OBP0, s.OBP1, s.WY, s.WX
	p.cgb, p.bgpi, p.obpi, p.bgPalRAM, p.objPalRAM = s.CGB, s.BGPI, s.OBPI, s.BGPalRAM, s.OBJPalRAM
	p.dot, p.mode3Len, p.windowLine = s.Dot, s.Mode3Len, s.WinLine
}
