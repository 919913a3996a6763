package ministreaming

// ByteCollector is a growable byte array used as the socket send and
// receive buffer. It is not safe for concurrent use; sockets guard their
// collectors with the socket lock.
type ByteCollector struct {
	buf  []byte
	size int
}

const defaultCollectorCapacity = 80

// NewByteCollector returns an empty collector with the given initial
// capacity. A non-positive capacity selects a small default.
func NewByteCollector(capacity int) *ByteCollector {
	if capacity <= 0 {
		capacity = defaultCollectorCapacity
	}
	return &ByteCollector{buf: make([]byte, capacity)}
}

// Append copies p to the end of the collector.
func (b *ByteCollector) Append(p []byte) *ByteCollector {
	if len(p) == 0 {
		return b
	}
	b.ensureCapacity(b.size + len(p))
	copy(b.buf[b.size:], p)
	b.size += len(p)
	return b
}

// AppendByte appends a single byte.
func (b *ByteCollector) AppendByte(c byte) *ByteCollector {
	b.ensureCapacity(b.size + 1)
	b.buf[b.size] = c
	b.size++
	return b
}

// ensureCapacity grows the backing array by a factor of 1.5 until it can
// hold needed bytes.
func (b *ByteCollector) ensureCapacity(needed int) {
	if needed <= len(b.buf) {
		return
	}
	newCap := len(b.buf)
	if newCap == 0 {
		newCap = defaultCollectorCapacity
	}
	for newCap < needed {
		newCap = max(newCap*3/2, newCap+1)
	}
	grown := make([]byte, newCap)
	copy(grown, b.buf[:b.size])
	b.buf = grown
}

// StartToByteArray removes and returns a prefix of the collected bytes.
// If fewer than maxLen bytes are held, everything is returned and the
// collector is left empty. Otherwise exactly the first maxLen bytes are
// returned and the remainder shifts to the front.
func (b *ByteCollector) StartToByteArray(maxLen int) []byte {
	if b.size < maxLen {
		out := make([]byte, b.size)
		copy(out, b.buf[:b.size])
		b.size = 0
		return out
	}
	if maxLen < 0 {
		maxLen = 0
	}
	out := make([]byte, maxLen)
	copy(out, b.buf[:maxLen])
	copy(b.buf, b.buf[maxLen:b.size])
	b.size -= maxLen
	return out
}

// IndexOf returns the position of the first occurrence of p, or -1.
// An empty p matches at position 0.
func (b *ByteCollector) IndexOf(p []byte) int {
	if len(p) == 0 {
		return 0
	}
	last := b.size - len(p)
outer:
	for i := 0; i <= last; i++ {
		for j := range p {
			if b.buf[i+j] != p[j] {
				continue outer
			}
		}
		return i
	}
	return -1
}

// IndexOfByte returns the position of the first occurrence of c, or -1.
func (b *ByteCollector) IndexOfByte(c byte) int {
	for i := 0; i < b.size; i++ {
		if b.buf[i] == c {
			return i
		}
	}
	return -1
}

// Size returns the number of collected bytes.
func (b *ByteCollector) Size() int {
	return b.size
}

// Bytes returns a copy of the collected bytes.
func (b *ByteCollector) Bytes() []byte {
	out := make([]byte, b.size)
	copy(out, b.buf[:b.size])
	return out
}

// Clear discards all collected bytes and keeps the backing array.
func (b *ByteCollector) Clear() {
	b.size = 0
}

// String returns the collected bytes as a string.
func (b *ByteCollector) String() string {
	return string(b.buf[:b.size])
}
