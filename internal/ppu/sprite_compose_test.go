package ppu

import "testing"

func TestSpritePriorityAndTransparency(t *testing.T) {
	p := New(nil)
	p.CPUWrite(0xFF40, 0x80|0x02) // LCD+OBJ on, 8x8 sprites
	// Sprite tile 0: single opaque leftmost pixel (bit7 set in lo byte).
	p.vram[0][0] = 0x80
	p.vram[0][1] = 0x00
	// OAM entry: Y=21 (screenY=5), X=18 (screenX=10), tile 0, no attrs.
	p.oam[0], p.oam[1], p.oam[2], p.oam[3] = 21, 18, 0, 0x00
	p.ly = 5
	p.scanOAM()

	var bgci [160]byte
	var out [160][4]byte
	for i := range out {
		out[i] = [4]byte{255, 255, 255, 255}
	}
	p.renderSprites(5, &bgci, &out)
	if out[10] == [4]byte{255, 255, 255, 255} {
		t.Fatalf("expected sprite pixel drawn at x=10")
	}

	// With BG-priority set and a non-zero BG color underneath, the sprite
	// pixel must stay hidden.
	p.oam[3] = 1 << 7
	bgci[10] = 1
	p.scanOAM()
	for i := range out {
		out[i] = [4]byte{255, 255, 255, 255}
	}
	p.renderSprites(5, &bgci, &out)
	if out[10] != [4]byte{255, 255, 255, 255} {
		t.Fatalf("expected sprite pixel hidden behind BG")
	}
}

func TestSpriteOverlapLowestXWins(t *testing.T) {
	p := New(nil)
	p.CPUWrite(0xFF40, 0x80|0x02)
	p.CPUWrite(0xFF48, 0x00) // OBP0: color id 1 -> white
	p.CPUWrite(0xFF49, 0xFF) // OBP1: color id 1 -> black
	p.vram[0][0] = 0xFF
	p.vram[0][1] = 0x00
	// Two sprites overlapping at screen column 20. The lower-raw-X
	// sprite (OAM X=21, screenX=13..20, OBP0 -> white) is placed at OAM
	// index 0 and the higher-X sprite (OAM X=28, screenX=20..27, OBP1 ->
	// black) at OAM index 1 — OAM scan order alone would put the wrong
	// sprite in front; only the by-X sort gives the correct winner.
	p.oam[0], p.oam[1], p.oam[2], p.oam[3] = 16, 28, 0, 0x10 // x=28, OBP1
	p.oam[4], p.oam[5], p.oam[6], p.oam[7] = 16, 21, 0, 0x00 // x=21, OBP0
	p.ly = 0
	p.scanOAM()
	if len(p.oamBuf) != 2 {
		t.Fatalf("expected 2 sprites selected, got %d", len(p.oamBuf))
	}
	if p.oamBuf[0].x != 21 || p.oamBuf[1].x != 28 {
		t.Fatalf("expected scanOAM to sort by x ascending, got order %d,%d", p.oamBuf[0].x, p.oamBuf[1].x)
	}

	var bgci [160]byte
	var out [160][4]byte
	p.renderSprites(0, &bgci, &out)
	want := [4]byte{255, 255, 255, 255} // the lower-X (x=21, OBP0) sprite must win
	if out[20] != want {
		t.Fatalf("expected lower-X sprite's pixel (white) at x=20, got %v", out[20])
	}
}
