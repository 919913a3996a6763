package ministreaming

import (
	"fmt"
	"sync"
	"time"

	"github.com/armon/circbuf"
	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	recentlyClosedSize = 4096
	unknownJournalSize = 16 * 1024
	journalPayloadMax  = 32
)

type closedKey struct {
	outgoing bool
	id       ConnID
}

// recentlyClosed remembers IDs of removed sockets so packets that arrive
// after a close can be told apart from packets for IDs that never existed.
type recentlyClosed struct {
	cache *lru.Cache[closedKey, time.Time]
}

func newRecentlyClosed() *recentlyClosed {
	// only errors on a non-positive size
	cache, _ := lru.New[closedKey, time.Time](recentlyClosedSize)
	return &recentlyClosed{cache: cache}
}

func (r *recentlyClosed) add(outgoing bool, id ConnID) {
	r.cache.Add(closedKey{outgoing: outgoing, id: id}, time.Now())
}

// forget drops id once it is live again.
func (r *recentlyClosed) forget(outgoing bool, id ConnID) {
	r.cache.Remove(closedKey{outgoing: outgoing, id: id})
}

// closedAt returns when id was removed, if it is remembered.
func (r *recentlyClosed) closedAt(outgoing bool, id ConnID) (time.Time, bool) {
	return r.cache.Peek(closedKey{outgoing: outgoing, id: id})
}

// packetJournal keeps a bounded text trail of packets the manager could
// not interpret, newest last.
type packetJournal struct {
	mu  sync.Mutex
	buf *circbuf.Buffer
}

func newPacketJournal() *packetJournal {
	// only errors on a non-positive size
	buf, _ := circbuf.NewBuffer(unknownJournalSize)
	return &packetJournal{buf: buf}
}

func (j *packetJournal) record(reason string, data []byte) {
	head := data
	if len(head) > journalPayloadMax {
		head = head[:journalPayloadMax]
	}
	line := fmt.Sprintf("%s %s len=%d data=%x\n", time.Now().UTC().Format(time.RFC3339Nano), reason, len(data), head)

	j.mu.Lock()
	defer j.mu.Unlock()
	j.buf.Write([]byte(line))
}

// String returns the retained journal. The first line may be cut when the
// journal wrapped.
func (j *packetJournal) String() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.buf.String()
}
