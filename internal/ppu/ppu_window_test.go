package ppu

import "testing"

// advanceLines ticks the PPU forward by n full visible lines (456 dots each).
func advanceLines(p *PPU, n int) { p.Tick(456 * n) }

func TestWindowActivationAndCounter(t *testing.T) {
	p := New(nil)
	p.CPUWrite(0xFF40, 0x80|0x01|0x20) // LCD+BG+window on
	p.CPUWrite(0xFF4A, 10)             // WY = 10
	p.CPUWrite(0xFF4B, 7)              // WX = 7 -> window starts at x=0

	advanceLines(p, 10)
	if ly := p.CPURead(0xFF44); ly != 10 {
		t.Fatalf("expected LY=10, got %d", ly)
	}
	// Entering mode 3 on line 10 (WY) renders and advances the counter.
	p.Tick(80)
	if wl := p.WindowLine(); wl != 1 {
		t.Fatalf("expected WindowLine=1 after rendering WY, got %d", wl)
	}
	advanceLines(p, 1)
	p.Tick(80)
	if wl := p.WindowLine(); wl != 2 {
		t.Fatalf("expected WindowLine=2 after rendering WY+1, got %d", wl)
	}
}

func TestWindowNotVisibleWhenWXTooLarge(t *testing.T) {
	p := New(nil)
	p.CPUWrite(0xFF40, 0x80|0x01|0x20)
	p.CPUWrite(0xFF4A, 5) // WY=5
	p.CPUWrite(0xFF4B, 200)
	advanceLines(p, 8)
	p.Tick(80)
	if wl := p.WindowLine(); wl != 0 {
		t.Fatalf("expected WindowLine=0 when WX>=167, got %d", wl)
	}
}
