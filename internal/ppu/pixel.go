package ppu

// renderScanline composes the background, window, and sprite layers for
// the current LY into the back framebuffer. It is invoked once per line
// at the mode-2-to-mode-3 boundary, generalizing the isolated
// fetcher/FIFO prototype in fetcher.go/scanline.go to sprites, the
// window layer, and CGB tile attributes / dual VRAM banks / palette RAM
// — none of which the original fetcher's single-bank VRAMReader
// interface can express, so the tile walk below talks to vram directly
// instead of going through newBGFetcher.
func (p *PPU) renderScanline() {
	ly := p.ly
	rowOff := int(ly) * 160 * 4

	var bgColorID [160]byte   // raw 2-bit color index, for sprite BG-priority comparisons
	var bgIsWindow [160]bool

	bgEnabled := p.cgb || p.lcdc&0x01 != 0 // CGB: bit0 never hides BG, see renderPixelColor

	if p.lcdc&0x80 != 0 {
		p.renderBGAndWindow(ly, &bgColorID, &bgIsWindow)
	}

	var out [160][4]byte
	for x := 0; x < 160; x++ {
		ci := bgColorID[x]
		var r, g, b byte
		if p.cgb {
			r, g, b = p.bgRGB(p.tileAttrAt(x, ly, bgIsWindow[x]), ci)
		} else if p.compatEnabled {
			c := p.compatBG[(p.bgp>>(ci*2))&0x03]
			r, g, b = c[0], c[1], c[2]
		} else {
			shade := paletteShade(p.bgp, ci)
			r, g, b = shade, shade, shade
		}
		if !bgEnabled {
			ci = 0
			r, g, b = 255, 255, 255
		}
		out[x] = [4]byte{r, g, b, 255}
	}

	if p.lcdc&0x02 != 0 {
		p.renderSprites(ly, &bgColorID, &out)
	}

	for x := 0; x < 160; x++ {
		i := rowOff + x*4
		p.back[i+0] = out[x][0]
		p.back[i+1] = out[x][1]
		p.back[i+2] = out[x][2]
		p.back[i+3] = out[x][3]
	}

	if p.windowVisibleOnLine() {
		p.windowLine++
	}
}

func (p *PPU) renderBGAndWindow(ly byte, colorID *[160]byte, isWindow *[160]bool) {
	bgMapBase := uint16(0x9800)
	if p.lcdc&0x08 != 0 {
		bgMapBase = 0x9C00
	}
	winMapBase := uint16(0x9800)
	if p.lcdc&0x40 != 0 {
		winMapBase = 0x9C00
	}
	tileData8000 := p.lcdc&0x10 != 0

	if p.useFetcherBG && !p.cgb {
		p.renderBGAndWindowViaFetcher(bgMapBase, winMapBase, tileData8000, colorID, isWindow)
		return
	}

	bgY := uint16(ly) + uint16(p.scy)
	bgFineY := byte(bgY & 7)
	bgMapY := (bgY >> 3) & 31

	winActive := p.windowVisibleOnLine()
	wxStart := int(p.wx) - 7
	winFineY := byte(p.windowLine & 7)
	winMapY := uint16(p.windowLine>>3) & 31

	for x := 0; x < 160; x++ {
		if winActive && x >= wxStart && wxStart < 160 {
			tileX := uint16((x - wxStart) >> 3 & 31)
			fineX := byte((x - wxStart) & 7)
			attr, ci := p.tilePixel(winMapBase, tileData8000, tileX, winMapY, winFineY, fineX)
			p.lastAttr[x] = attr
			colorID[x] = ci
			isWindow[x] = true
			continue
		}
		bgX := uint16(x) + uint16(p.scx)
		tileX := (bgX >> 3) & 31
		fineX := byte(bgX & 7)
		attr, ci := p.tilePixel(bgMapBase, tileData8000, tileX, bgMapY, bgFineY, fineX)
		p.lastAttr[x] = attr
		colorID[x] = ci
		isWindow[x] = false
	}
}

// vramBank0 adapts VRAM bank 0 to the fetcher/scanline prototype's
// VRAMReader interface; that prototype has no notion of CGB tile
// attributes or a second VRAM bank.
type vramBank0 struct{ p *PPU }

func (v vramBank0) Read(addr uint16) byte { return v.p.vram[0][addr-0x8000] }

// renderBGAndWindowViaFetcher composes a scanline using the isolated
// fetcher/FIFO prototype (fetcher.go/scanline.go) instead of the direct
// tile walk in renderBGAndWindow. DMG-only: CGB tile attributes require
// the direct path.
func (p *PPU) renderBGAndWindowViaFetcher(bgMapBase, winMapBase uint16, tileData8000 bool, colorID *[160]byte, isWindow *[160]bool) {
	mem := vramBank0{p}
	bg := RenderBGScanlineUsingFetcher(mem, bgMapBase, tileData8000, p.scx, p.scy, p.ly)
	for x := 0; x < 160; x++ {
		colorID[x] = bg[x]
		isWindow[x] = false
		p.lastAttr[x] = 0
	}
	if p.windowVisibleOnLine() {
		wxStart := int(p.wx) - 7
		win := RenderWindowScanlineUsingFetcher(mem, winMapBase, tileData8000, wxStart, byte(p.windowLine))
		start := wxStart
		if start < 0 {
			start = 0
		}
		for x := start; x < 160; x++ {
			colorID[x] = win[x]
			isWindow[x] = true
		}
	}
}

// tilePixel resolves one pixel of a BG/window tilemap entry, honoring
// CGB tile attributes (VRAM bank, palette, flips) when enabled.
func (p *PPU) tilePixel(mapBase uint16, tileData8000 bool, tileX, mapY uint16, fineY, fineX byte) (attr byte, colorID byte) {
	mapAddr := mapBase + mapY*32 + tileX
	tileNum := p.vram[0][mapAddr-0x8000]
	if p.cgb {
		attr = p.vram[1][mapAddr-0x8000]
		if attr&0x40 != 0 { // vertical flip
			fineY = 7 - fineY
		}
		if attr&0x20 != 0 { // horizontal flip
			fineX = 7 - fineX
		}
	}
	bank := 0
	if attr&0x08 != 0 {
		bank = 1
	}
	var base uint16
	if tileData8000 {
		base = 0x8000 + uint16(tileNum)*16 + uint16(fineY)*2
	} else {
		base = 0x9000 + uint16(int8(tileNum))*16 + uint16(fineY)*2
	}
	lo := p.readBank(bank, base)
	hi := p.readBank(bank, base+1)
	bit := 7 - fineX
	colorID = ((hi>>bit)&1)<<1 | ((lo >> bit) & 1)
	return attr, colorID
}

func (p *PPU) tileAttrAt(x int, ly byte, isWindow bool) byte { return p.lastAttr[x] }

func (p *PPU) renderSprites(ly byte, bgColorID *[160]byte, out *[160][4]byte) {
	height := 8
	if p.lcdc&0x04 != 0 {
		height = 16
	}
	// Rightmost-drawn-first within the sprite buffer gives leftmost
	// OAM-order / lowest-X priority on overlap, matching hardware.
	for i := len(p.oamBuf) - 1; i >= 0; i-- {
		s := p.oamBuf[i]
		screenY := int(s.y) - 16
		screenX := int(s.x) - 8
		row := int(ly) - screenY
		if s.attr&0x40 != 0 { // Y flip
			row = height - 1 - row
		}
		tile := s.tile
		if height == 16 {
			tile &^= 1
			if row >= 8 {
				tile |= 1
				row -= 8
			}
		}
		bank := 0
		if p.cgb && s.attr&0x08 != 0 {
			bank = 1
		}
		base := 0x8000 + uint16(tile)*16 + uint16(row)*2
		lo := p.readBank(bank, base)
		hi := p.readBank(bank, base+1)

		for col := 0; col < 8; col++ {
			sx := screenX + col
			if sx < 0 || sx >= 160 {
				continue
			}
			bit := col
			if s.attr&0x20 == 0 { // X flip: unflipped reads MSB-first
				bit = 7 - col
			}
			ci := ((hi>>uint(bit))&1)<<1 | ((lo >> uint(bit)) & 1)
			if ci == 0 {
				continue
			}

			bgPriority := s.attr&0x80 != 0
			if p.cgb && p.lcdc&0x01 == 0 {
				bgPriority = false // LCDC.0=0 on CGB: sprites always win, BG priority ignored
			}
			if bgPriority && bgColorID[sx] != 0 {
				continue
			}

			var r, g, b byte
			if p.cgb {
				r, g, b = p.objRGB(s.attr, ci)
			} else if p.compatEnabled {
				pal := p.obp0
				tab := &p.compatObj0
				if s.attr&0x10 != 0 {
					pal = p.obp1
					tab = &p.compatObj1
				}
				c := tab[(pal>>(ci*2))&0x03]
				r, g, b = c[0], c[1], c[2]
			} else {
				pal := p.obp0
				if s.attr&0x10 != 0 {
					pal = p.obp1
				}
				shade := paletteShade(pal, ci)
				r, g, b = shade, shade, shade
			}
			out[sx] = [4]byte{r, g, b, 255}
		}
	}
}

// paletteShade maps a DMG 2-bit color id through a BGP/OBPx palette
// byte to a grayscale 0..255 shade (0=white, 3=black).
func paletteShade(pal byte, ci byte) byte {
	shade := (pal >> (ci * 2)) & 0x03
	return 255 - shade*85
}
