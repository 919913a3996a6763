package ministreaming

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRecentlyClosed(t *testing.T) {
	rc := newRecentlyClosed()
	id := ConnID{1, 1, 1}

	rc.add(true, id)

	_, ok := rc.closedAt(true, id)
	assert.True(t, ok)
	_, ok = rc.closedAt(false, id)
	assert.False(t, ok, "directions are separate namespaces")

	rc.forget(true, id)
	_, ok = rc.closedAt(true, id)
	assert.False(t, ok)
}

func TestPacketJournalTruncatesPayload(t *testing.T) {
	j := newPacketJournal()

	j.record("type=0x42", bytes.Repeat([]byte{0xAB}, 100))

	s := j.String()
	assert.Contains(t, s, "type=0x42 len=100")
	assert.Contains(t, s, strings.Repeat("ab", journalPayloadMax)+"\n")
	assert.NotContains(t, s, strings.Repeat("ab", journalPayloadMax+1))
}

func TestPacketJournalIsBounded(t *testing.T) {
	j := newPacketJournal()

	for i := 0; i < 2000; i++ {
		j.record("short", []byte{1, 2})
	}

	assert.LessOrEqual(t, len(j.String()), unknownJournalSize)
	assert.Contains(t, j.String(), "short len=2 data=0102\n")
}
