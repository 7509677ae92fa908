package emu

// compatSet is one named DMG color-compatibility wash: an RGB triple per
// 2-bit BG shade and per 2-bit OBP0/OBP1 shade, substituting for true
// grayscale when a DMG-only cartridge runs under CGB hardware
// (SPEC_FULL.md §C.3). Index 0 of each table is the lightest shade.
type compatSet struct {
	name             string
	bg, obj0, obj1   [4][3]byte
}

// cgbCompatSetNames lists the selectable washes in palette-ID order; the
// IDs in compat_tables.go's compatTitleExact/compatTitleContains index
// into this slice (and into cgbCompatSets below).
var cgbCompatSetNames = []string{"Green", "Sepia", "Blue", "Red", "Pastel", "Gray"}

// cgbCompatSets holds the actual RGB tables, parallel to
// cgbCompatSetNames. The values approximate the fixed palettes the CGB
// boot ROM assigns DMG carts by title/licensee checksum.
var cgbCompatSets = []compatSet{
	{ // Green: the classic DMG-panel wash
		name: "Green",
		bg:   [4][3]byte{{224, 248, 208}, {136, 192, 112}, {52, 104, 86}, {8, 24, 32}},
		obj0: [4][3]byte{{224, 248, 208}, {136, 192, 112}, {52, 104, 86}, {8, 24, 32}},
		obj1: [4][3]byte{{224, 248, 208}, {248, 208, 136}, {176, 96, 56}, {32, 8, 8}},
	},
	{ // Sepia
		name: "Sepia",
		bg:   [4][3]byte{{248, 232, 200}, {216, 176, 120}, {136, 96, 56}, {48, 32, 16}},
		obj0: [4][3]byte{{248, 232, 200}, {216, 176, 120}, {136, 96, 56}, {48, 32, 16}},
		obj1: [4][3]byte{{248, 232, 200}, {176, 152, 200}, {104, 80, 136}, {24, 16, 48}},
	},
	{ // Blue
		name: "Blue",
		bg:   [4][3]byte{{224, 248, 248}, {104, 176, 232}, {48, 96, 168}, {8, 24, 56}},
		obj0: [4][3]byte{{224, 248, 248}, {104, 176, 232}, {48, 96, 168}, {8, 24, 56}},
		obj1: [4][3]byte{{248, 248, 224}, {232, 176, 104}, {168, 96, 48}, {56, 24, 8}},
	},
	{ // Red
		name: "Red",
		bg:   [4][3]byte{{248, 224, 224}, {232, 128, 112}, {168, 48, 48}, {56, 8, 8}},
		obj0: [4][3]byte{{248, 224, 224}, {232, 128, 112}, {168, 48, 48}, {56, 8, 8}},
		obj1: [4][3]byte{{224, 248, 224}, {112, 200, 128}, {48, 136, 56}, {8, 40, 8}},
	},
	{ // Pastel
		name: "Pastel",
		bg:   [4][3]byte{{248, 232, 248}, {216, 184, 232}, {152, 120, 184}, {56, 32, 72}},
		obj0: [4][3]byte{{248, 232, 248}, {216, 184, 232}, {152, 120, 184}, {56, 32, 72}},
		obj1: [4][3]byte{{232, 248, 232}, {184, 232, 184}, {120, 184, 128}, {32, 72, 40}},
	},
	{ // Gray: closest to true DMG grayscale, used as the stable fallback
		name: "Gray",
		bg:   [4][3]byte{{255, 255, 255}, {170, 170, 170}, {85, 85, 85}, {0, 0, 0}},
		obj0: [4][3]byte{{255, 255, 255}, {170, 170, 170}, {85, 85, 85}, {0, 0, 0}},
		obj1: [4][3]byte{{255, 255, 255}, {170, 170, 170}, {85, 85, 85}, {0, 0, 0}},
	},
}
