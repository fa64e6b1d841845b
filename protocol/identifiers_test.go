package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMessageIdentifierString(t *testing.T) {
	assert.Equal(t, "ID_CONNECTION_REQUEST", IDConnectionRequest.String())
	assert.Equal(t, "ID_UNKNOWN", MessageIdentifier(0xF0).String())
}

func TestReliabilityClassification(t *testing.T) {
	cases := []struct {
		r                          Reliability
		reliable, ordered, sequenced bool
	}{
		{Unreliable, false, false, false},
		{UnreliableSequenced, false, false, true},
		{Reliable, true, false, false},
		{ReliableOrdered, true, true, false},
		{ReliableSequenced, true, false, true},
	}
	for _, c := range cases {
		assert.Equal(t, c.reliable, c.r.IsReliable(), "reliable mismatch for %v", c.r)
		assert.Equal(t, c.ordered, c.r.IsOrdered(), "ordered mismatch for %v", c.r)
		assert.Equal(t, c.sequenced, c.r.IsSequenced(), "sequenced mismatch for %v", c.r)
	}
}

func TestApplicationPayloadFitsUnderMTU(t *testing.T) {
	assert.LessOrEqual(t, MaxApplicationPayload+MaxHeaderOverhead, MaxMTU)
}
