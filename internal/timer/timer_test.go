package timer

import "testing"

func newTestTimer() (*Timer, *int) {
	fired := 0
	return New(func() { fired++ }), &fired
}

func TestTimerEdge_OnDIVAndTACWrites(t *testing.T) {
	tm, _ := newTestTimer()
	tm.tac = 0x05 // enable + 01 (bit3 selected)

	tm.tima = 0x10
	tm.internal = 0x0008 // bit3=1 -> input true
	if !tm.input() {
		t.Fatalf("expected input true")
	}
	tm.WriteDIV() // resets divider -> falling edge -> increment
	if got := tm.tima; got != 0x11 {
		t.Fatalf("TIMA not incremented on DIV falling edge: got %02X want 11", got)
	}

	tm.tima = 0x20
	tm.internal = 0x0008
	tm.tac = 0x05
	if !tm.input() {
		t.Fatalf("expected input true before TAC change")
	}
	tm.WriteTAC(0x06) // switch to bit5, currently 0 -> falling edge
	if got := tm.tima; got != 0x21 {
		t.Fatalf("TIMA not incremented on TAC falling edge: got %02X want 21", got)
	}
}

func TestTimerEdges_IgnoredDuringPendingReload(t *testing.T) {
	tm, fired := newTestTimer()
	tm.WriteTAC(0x05)
	tm.tma = 0x33
	tm.tima = 0xFF
	tm.internal = 0x000F
	tm.Tick() // overflow, TIMA=00, pending reload

	tm.internal = 0x0008
	if !tm.input() {
		t.Fatalf("expected input true before DIV write")
	}
	tm.WriteDIV()
	if got := tm.tima; got != 0x00 {
		t.Fatalf("TIMA incremented during pending reload on DIV write: got %02X want 00", got)
	}
	for i := 0; i < 4; i++ {
		tm.Tick()
	}
	if got := tm.tima; got != 0x33 {
		t.Fatalf("reload did not occur: got %02X want 33", got)
	}
	if *fired != 1 {
		t.Fatalf("expected exactly one interrupt request, got %d", *fired)
	}
}

func TestTimerOverflow_ReloadTimingAndCancellation(t *testing.T) {
	tm, fired := newTestTimer()
	tm.tac = 0x05
	tm.tma = 0xAB

	tm.tima = 0xFF
	tm.internal = 0x000F
	tm.Tick()
	if got := tm.tima; got != 0x00 {
		t.Fatalf("after overflow, TIMA got %02X want 00", got)
	}
	for i := 0; i < 3; i++ {
		tm.Tick()
		if got := tm.tima; got != 0x00 {
			t.Fatalf("during delay cycle %d, TIMA got %02X want 00", i, got)
		}
	}
	if *fired != 0 {
		t.Fatalf("interrupt requested before reload completed")
	}
	tm.Tick()
	if got := tm.tima; got != 0xAB {
		t.Fatalf("after delay, TIMA got %02X want AB", got)
	}
	if *fired != 1 {
		t.Fatalf("timer interrupt not requested on reload")
	}

	// Cancellation: writing TIMA during the pending delay keeps the
	// written value instead of reloading from TMA.
	tm.tac = 0x05
	tm.tma = 0x55
	tm.tima = 0xFF
	tm.internal = 0x000F
	tm.Tick() // overflow -> pending reload
	tm.WriteTIMA(0x77)
	for i := 0; i < 8; i++ {
		tm.Tick()
	}
	if got := tm.tima; got != 0x77 {
		t.Fatalf("TIMA write during delay not retained: got %02X want 77", got)
	}

	// A TMA write during the pending delay still lands in the reload.
	tm.tac = 0x05
	tm.tima = 0xFF
	tm.tma = 0x11
	tm.internal = 0x000F
	tm.Tick()
	tm.WriteTMA(0x22)
	for i := 0; i < 4; i++ {
		tm.Tick()
	}
	if got := tm.tima; got != 0x22 {
		t.Fatalf("TMA write during delay not reflected in reload: got %02X want 22", got)
	}
}
