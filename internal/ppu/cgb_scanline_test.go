package ppu

// Tests for CGB BG tile attribute handling: palette, flips, bank selection.
import "testing"

func TestCGBTilePixelAttrsFlipsBank(t *testing.T) {
	p := New(nil)
	p.SetCGBMode(true)
	// Tile row 0 in bank 0 (unused once y-flip selects row 7).
	p.vram[0][0x0010+0] = 0xF0
	p.vram[0][0x0010+1] = 0x00
	// Row 7 in bank 1 (y-flip of row 0 selects row 7).
	p.vram[1][0x0010+14] = 0x0F
	p.vram[1][0x0010+15] = 0x00
	// Tilemap entry (bank 0) at 0x9800 points at tile 1.
	p.vram[0][0x1800+0] = 0x01
	// Attribute byte (bank 1, same map address): bank=1,xflip,yflip,pal=5,priority.
	p.vram[1][0x1800+0] = 0x80 | 0x40 | 0x20 | 0x08 | 0x05

	attr, ci := p.tilePixel(0x9800, true, 0, 0, 0, 0)
	if attr&0x80 == 0 {
		t.Fatalf("expected priority bit set")
	}
	if attr&0x07 != 5 {
		t.Fatalf("palette got %d want 5", attr&0x07)
	}
	if ci == 0 {
		t.Fatalf("expected nonzero color id with flipped/banked tile data")
	}
}

func TestCGBPaletteRAMDecode(t *testing.T) {
	p := New(nil)
	p.SetCGBMode(true)
	// Palette 2, color 3: word 0x7FFF -> pure white (all 5-bit channels maxed).
	off := 2*8 + 3*2
	p.bgPalRAM[off] = 0xFF
	p.bgPalRAM[off+1] = 0x7F
	r, g, b := p.bgRGB(2, 3)
	if r != 0xF8 || g != 0xF8 || b != 0xF8 {
		t.Fatalf("got %d,%d,%d want 248,248,248", r, g, b)
	}
}
