package reliability

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReceivedWindowFirstSeenNeverDuplicate(t *testing.T) {
	var w receivedWindow
	assert.False(t, w.CheckAndMark(100))
}

func TestReceivedWindowRejectsExactReplay(t *testing.T) {
	var w receivedWindow
	w.CheckAndMark(5)
	assert.True(t, w.CheckAndMark(5))
}

func TestReceivedWindowAcceptsOutOfOrderWithinWindow(t *testing.T) {
	var w receivedWindow
	w.CheckAndMark(100)
	assert.False(t, w.CheckAndMark(95))
	assert.True(t, w.CheckAndMark(95))
	assert.False(t, w.CheckAndMark(101))
}

func TestReceivedWindowTreatsFarBelowWatermarkAsDuplicate(t *testing.T) {
	var w receivedWindow
	w.CheckAndMark(dedupWindowSize * 2)
	assert.True(t, w.CheckAndMark(1))
}

func TestReceivedWindowSlidesForward(t *testing.T) {
	var w receivedWindow
	w.CheckAndMark(0)
	for i := uint32(1); i <= dedupWindowSize+10; i++ {
		assert.False(t, w.CheckAndMark(i), "n=%d should be novel", i)
	}
	// The window has now slid far enough that 0 looks like a replay again.
	assert.True(t, w.CheckAndMark(0))
}
