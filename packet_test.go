package ministreaming

import (
	"testing"

	go_i2cp "github.com/go-i2p/go-i2cp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPacketMarshalLayout(t *testing.T) {
	p := &Packet{Type: PacketSyn, ID: ConnID{0x01, 0x02, 0x03}, Payload: []byte("dest")}

	data := p.Marshal()

	require.Len(t, data, HeaderLen+4)
	assert.Equal(t, byte(0xA1), data[0])
	assert.Equal(t, []byte{0x01, 0x02, 0x03}, data[1:4])
	assert.Equal(t, "dest", string(data[4:]))

	var decoded Packet
	require.NoError(t, decoded.Unmarshal(data))
	assert.Equal(t, *p, decoded)
}

func TestPacketUnmarshalHeaderOnly(t *testing.T) {
	var p Packet
	require.NoError(t, p.Unmarshal([]byte{byte(PacketChaff), 0, 0, 0}))

	assert.Equal(t, PacketChaff, p.Type)
	assert.Empty(t, p.Payload)
}

func TestPacketUnmarshalShort(t *testing.T) {
	var p Packet
	err := p.Unmarshal([]byte{byte(PacketAck), 1})

	assert.ErrorIs(t, err, ErrShortPacket)
}

func TestPacketTypeMasking(t *testing.T) {
	tests := []struct {
		name     string
		outgoing bool
		data     PacketType
		close    PacketType
	}{
		{name: "initiator addresses in-map", outgoing: true, data: PacketDataIn, close: PacketCloseIn},
		{name: "acceptor addresses out-map", outgoing: false, data: PacketDataOut, close: PacketCloseOut},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.data, dataType(tt.outgoing))
			assert.Equal(t, tt.close, closeType(tt.outgoing))
		})
	}
}

func TestPacketTypeString(t *testing.T) {
	assert.Equal(t, "SYN", PacketSyn.String())
	assert.Equal(t, "CLOSE_OUT", PacketCloseOut.String())
	assert.Equal(t, "UNKNOWN(0x42)", PacketType(0x42).String())
}

func TestConnIDReadableForm(t *testing.T) {
	id := ConnID{0xFB, 0xFF, 0x00}

	s := id.String()
	assert.Len(t, s, 4)

	parsed, err := ParseConnID(s)
	require.NoError(t, err)
	assert.Equal(t, id, parsed)

	_, err = ParseConnID("AAAAAAAA")
	assert.Error(t, err)
}

func TestConnIDFromBytes(t *testing.T) {
	id, ok := connIDFromBytes([]byte{9, 8, 7})
	require.True(t, ok)
	assert.Equal(t, ConnID{9, 8, 7}, id)

	_, ok = connIDFromBytes(nil)
	assert.False(t, ok)
	_, ok = connIDFromBytes([]byte{1, 2, 3, 4})
	assert.False(t, ok)
}

func TestDestinationPayloadRoundTrip(t *testing.T) {
	dest, err := go_i2cp.NewDestination(go_i2cp.NewCrypto())
	require.NoError(t, err)

	data, err := marshalDestination(dest)
	require.NoError(t, err)

	parsed, err := unmarshalDestination(data)
	require.NoError(t, err)
	assert.Equal(t, dest.Base64(), parsed.Base64())

	_, err = unmarshalDestination(nil)
	assert.Error(t, err)
}
