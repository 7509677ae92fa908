// Package hostio provides terminal-based host I/O for environments without
// a graphical display, rendering the framebuffer as half-block characters
// in a tcell screen.
package hostio

import (
	"fmt"

	"github.com/gdamore/tcell/v2"
)

const (
	gbWidth  = 160
	gbHeight = 144
)

// TermView renders successive RGBA8888 framebuffers to a tcell terminal
// screen using one character cell per two vertical pixels (a half-block
// glyph per cell), the same shade-quantized approach the pack's terminal
// Game Boy backend uses for its game area.
type TermView struct {
	screen tcell.Screen
	frame  int
}

// NewTermView initializes and enters a new tcell screen.
func NewTermView() (*TermView, error) {
	screen, err := tcell.NewScreen()
	if err != nil {
		return nil, fmt.Errorf("terminal view: %w", err)
	}
	if err := screen.Init(); err != nil {
		return nil, fmt.Errorf("terminal view: %w", err)
	}
	screen.SetStyle(tcell.StyleDefault.Background(tcell.ColorBlack).Foreground(tcell.ColorWhite))
	screen.Clear()
	return &TermView{screen: screen}, nil
}

// Close tears down the terminal screen, restoring the prior terminal mode.
func (t *TermView) Close() { t.screen.Fini() }

// PollQuit drains pending input events and reports whether the user asked
// to quit (q, Escape, or Ctrl-C) or resized the terminal.
func (t *TermView) PollQuit() bool {
	for t.screen.HasPendingEvent() {
		switch ev := t.screen.PollEvent().(type) {
		case *tcell.EventKey:
			switch ev.Key() {
			case tcell.KeyEscape, tcell.KeyCtrlC:
				return true
			case tcell.KeyRune:
				if ev.Rune() == 'q' {
					return true
				}
			}
		case *tcell.EventResize:
			t.screen.Sync()
		}
	}
	return false
}

// DrawFrame renders one RGBA8888 160x144 framebuffer (as returned by
// emu.Machine.Framebuffer) plus a one-line status footer, then flips the
// screen.
func (t *TermView) DrawFrame(fb []byte, status string) {
	if len(fb) < gbWidth*gbHeight*4 {
		return
	}
	termWidth, termHeight := t.screen.Size()
	t.frame++

	shadeAt := func(x, y int) int {
		i := (y*gbWidth + x) * 4
		// Framebuffer channels are equal for DMG grayscale and the
		// compat/CGB paths alike at the four canonical shades; average
		// the channels so non-gray CGB colors still degrade gracefully.
		lum := (int(fb[i]) + int(fb[i+1]) + int(fb[i+2])) / 3
		switch {
		case lum < 64:
			return 0
		case lum < 128:
			return 1
		case lum < 192:
			return 2
		default:
			return 3
		}
	}

	for y := 0; y < gbHeight && y/2+1 < termHeight; y += 2 {
		for x := 0; x < gbWidth && x < termWidth; x++ {
			top := shadeAt(x, y)
			bottom := 3
			if y+1 < gbHeight {
				bottom = shadeAt(x, y+1)
			}
			ch, fg, bg := halfBlock(top, bottom)
			t.screen.SetContent(x, y/2+1, ch, nil, tcell.StyleDefault.Foreground(fg).Background(bg))
		}
	}

	title := " gbc-core (q/Esc to quit) "
	for i, r := range title {
		if i < termWidth {
			t.screen.SetContent(i, 0, r, nil, tcell.StyleDefault.Foreground(tcell.ColorYellow))
		}
	}
	if termHeight > gbHeight/2+2 {
		for i, r := range status {
			if i < termWidth {
				t.screen.SetContent(i, gbHeight/2+2, r, nil, tcell.StyleDefault.Foreground(tcell.ColorGray))
			}
		}
	}

	t.screen.Show()
}

var shadeColors = [4]tcell.Color{tcell.ColorBlack, tcell.ColorGray, tcell.ColorSilver, tcell.ColorWhite}

func halfBlock(top, bottom int) (rune, tcell.Color, tcell.Color) {
	topColor, bottomColor := shadeColors[top], shadeColors[bottom]
	switch {
	case top == bottom:
		return '█', topColor, tcell.ColorDefault
	case top == 3 && bottom != 3:
		return '▄', bottomColor, topColor
	case top != 3 && bottom == 3:
		return '▀', topColor, bottomColor
	default:
		return '▀', topColor, bottomColor
	}
}
