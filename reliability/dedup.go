package reliability

// dedupWindowSize bounds the received-set so it never grows unboundedly
// (spec §9 design note): a sliding bitmap indexed relative to the highest
// reliable message number seen so far, plus an implicit watermark below
// which anything is considered already-resolved (either genuinely
// delivered, or too old to matter).
const dedupWindowSize = 1024

// receivedWindow deduplicates incoming reliable message numbers using a
// fixed-size sliding bitmap, the classic anti-replay window shape: bit i
// records whether (highest - i) has been seen.
type receivedWindow struct {
	bits        [dedupWindowSize]bool
	highest     uint32
	initialized bool
}

// CheckAndMark reports whether n is a duplicate (already seen, or so far
// below the window that it must be treated as stale) and, if not, records
// it as seen.
func (w *receivedWindow) CheckAndMark(n uint32) (duplicate bool) {
	if !w.initialized {
		w.highest = n
		w.initialized = true
		w.bits[0] = true
		return false
	}

	if n > w.highest {
		shift := n - w.highest
		if shift >= dedupWindowSize {
			w.bits = [dedupWindowSize]bool{}
		} else {
			var shifted [dedupWindowSize]bool
			for idx, set := range w.bits {
				if !set {
					continue
				}
				newIdx := idx + int(shift)
				if newIdx < dedupWindowSize {
					shifted[newIdx] = true
				}
			}
			w.bits = shifted
		}
		w.highest = n
		w.bits[0] = true
		return false
	}

	diff := w.highest - n
	if diff >= dedupWindowSize {
		// Too far below the window to tell apart from stale; treat as a
		// duplicate so it is dropped rather than redelivered.
		return true
	}
	if w.bits[diff] {
		return true
	}
	w.bits[diff] = true
	return false
}
