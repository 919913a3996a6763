package ministreaming

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestByteCollectorAppendGrows(t *testing.T) {
	bc := NewByteCollector(2)
	data := bytes.Repeat([]byte("abc"), 100)

	bc.Append(data[:1]).Append(data[1:])
	bc.AppendByte('z')

	require.Equal(t, len(data)+1, bc.Size())
	assert.Equal(t, append(append([]byte{}, data...), 'z'), bc.Bytes())
}

func TestByteCollectorGrowsFromTinyCapacity(t *testing.T) {
	for _, capacity := range []int{1, 2, 3} {
		bc := NewByteCollector(capacity)
		bc.Append([]byte{1, 2})
		bc.AppendByte(3)
		assert.Equal(t, []byte{1, 2, 3}, bc.Bytes(), "capacity %d", capacity)
	}
}

func TestByteCollectorStartToByteArray(t *testing.T) {
	tests := []struct {
		name      string
		content   string
		maxLen    int
		want      string
		remaining string
	}{
		{name: "fewer than max returns all", content: "hello", maxLen: 10, want: "hello", remaining: ""},
		{name: "exactly max", content: "hello", maxLen: 5, want: "hello", remaining: ""},
		{name: "more than max shifts rest", content: "hello world", maxLen: 5, want: "hello", remaining: " world"},
		{name: "zero max", content: "abc", maxLen: 0, want: "", remaining: "abc"},
		{name: "empty collector", content: "", maxLen: 4, want: "", remaining: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bc := NewByteCollector(0)
			bc.Append([]byte(tt.content))

			got := bc.StartToByteArray(tt.maxLen)

			assert.Equal(t, tt.want, string(got))
			assert.Equal(t, tt.remaining, bc.String())
			assert.Equal(t, len(tt.remaining), bc.Size())
		})
	}
}

func TestByteCollectorStartToByteArrayReturnsCopy(t *testing.T) {
	bc := NewByteCollector(0)
	bc.Append([]byte("abcdef"))

	head := bc.StartToByteArray(3)
	bc.Append([]byte("XYZ"))

	assert.Equal(t, "abc", string(head))
	assert.Equal(t, "defXYZ", bc.String())
}

func TestByteCollectorIndexOf(t *testing.T) {
	bc := NewByteCollector(0)
	bc.Append([]byte("GET / HTTP/1.0\r\n\r\nbody"))

	assert.Equal(t, 14, bc.IndexOf([]byte("\r\n\r\n")))
	assert.Equal(t, 0, bc.IndexOf([]byte("GET")))
	assert.Equal(t, -1, bc.IndexOf([]byte("POST")))
	assert.Equal(t, 0, bc.IndexOf(nil))
	assert.Equal(t, 4, bc.IndexOfByte('/'))
	assert.Equal(t, -1, bc.IndexOfByte('#'))
}

func TestByteCollectorIndexOfIgnoresStaleBytes(t *testing.T) {
	bc := NewByteCollector(0)
	bc.Append([]byte("needle"))
	bc.Clear()
	bc.Append([]byte("ne"))

	assert.Equal(t, -1, bc.IndexOf([]byte("needle")))
	assert.Equal(t, -1, bc.IndexOfByte('d'))
}
