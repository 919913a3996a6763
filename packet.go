package ministreaming

import (
	"crypto/rand"
	"fmt"

	"github.com/go-i2p/common/base64"
	go_i2cp "github.com/go-i2p/go-i2cp"
)

// PacketType is the first byte of every packet.
//
// Types with the 0x50 base travel from the accepting side to the initiating
// side and address the initiator's out-map; types with the 0xA0 base travel
// the other way and address the acceptor's in-map. ACK always lands in the
// out-map, SYN always opens a new in-socket.
type PacketType byte

const (
	PacketDataOut  PacketType = 0x50
	PacketAck      PacketType = 0x51
	PacketCloseOut PacketType = 0x52
	PacketDataIn   PacketType = 0xA0
	PacketSyn      PacketType = 0xA1
	PacketCloseIn  PacketType = 0xA2
	PacketChaff    PacketType = 0xFF
)

const (
	baseFromInitiator byte = 0xA0
	baseFromAcceptor  byte = 0x50

	offsetData  byte = 0
	offsetClose byte = 2
)

// ConnIDLen is the length of a connection ID on the wire.
const ConnIDLen = 3

// HeaderLen is the length of the packet header: type plus connection ID.
const HeaderLen = 1 + ConnIDLen

func (t PacketType) String() string {
	switch t {
	case PacketDataOut:
		return "DATA_OUT"
	case PacketAck:
		return "ACK"
	case PacketCloseOut:
		return "CLOSE_OUT"
	case PacketDataIn:
		return "DATA_IN"
	case PacketSyn:
		return "SYN"
	case PacketCloseIn:
		return "CLOSE_IN"
	case PacketChaff:
		return "CHAFF"
	default:
		return fmt.Sprintf("UNKNOWN(0x%02x)", byte(t))
	}
}

// dataType returns the DATA type a socket emits for its direction.
func dataType(outgoing bool) PacketType {
	return maskedType(outgoing, offsetData)
}

// closeType returns the CLOSE type a socket emits for its direction.
func closeType(outgoing bool) PacketType {
	return maskedType(outgoing, offsetClose)
}

func maskedType(outgoing bool, offset byte) PacketType {
	if outgoing {
		return PacketType(baseFromInitiator + offset)
	}
	return PacketType(baseFromAcceptor + offset)
}

// ConnID identifies one end of a connection within a manager. Out- and
// in-sockets live in separate namespaces, so the same value may be in use
// once in each.
type ConnID [ConnIDLen]byte

// String renders the ID in the I2P Base64 alphabet.
func (id ConnID) String() string {
	return base64.EncodeToString(id[:])
}

// ParseConnID decodes the readable form produced by ConnID.String.
func ParseConnID(s string) (ConnID, error) {
	var id ConnID
	raw, err := base64.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("parse connection id %q: %w", s, err)
	}
	if len(raw) != ConnIDLen {
		return id, fmt.Errorf("parse connection id %q: got %d bytes, want %d", s, len(raw), ConnIDLen)
	}
	copy(id[:], raw)
	return id, nil
}

// connIDFromBytes copies an ID out of a packet payload.
func connIDFromBytes(b []byte) (ConnID, bool) {
	var id ConnID
	if len(b) != ConnIDLen {
		return id, false
	}
	copy(id[:], b)
	return id, true
}

// randomConnID returns a fresh random ID.
func randomConnID() (ConnID, error) {
	var id ConnID
	if _, err := rand.Read(id[:]); err != nil {
		return id, fmt.Errorf("generate connection id: %w", err)
	}
	return id, nil
}

// Packet is one message exchanged over the session.
type Packet struct {
	Type    PacketType
	ID      ConnID
	Payload []byte
}

// Marshal encodes the packet as type, ID, payload.
func (p *Packet) Marshal() []byte {
	buf := make([]byte, HeaderLen+len(p.Payload))
	buf[0] = byte(p.Type)
	copy(buf[1:HeaderLen], p.ID[:])
	copy(buf[HeaderLen:], p.Payload)
	return buf
}

// Unmarshal decodes a packet. The payload aliases data.
func (p *Packet) Unmarshal(data []byte) error {
	if len(data) < HeaderLen {
		return fmt.Errorf("%w: %d bytes", ErrShortPacket, len(data))
	}
	p.Type = PacketType(data[0])
	copy(p.ID[:], data[1:HeaderLen])
	p.Payload = data[HeaderLen:]
	return nil
}

// marshalDestination serializes a destination in I2CP message format for
// use as a SYN payload or identity file.
func marshalDestination(dest *go_i2cp.Destination) ([]byte, error) {
	stream := go_i2cp.NewStream(make([]byte, 0, 512))
	if err := dest.WriteToMessage(stream); err != nil {
		return nil, fmt.Errorf("serialize destination: %w", err)
	}
	return stream.Bytes(), nil
}

// unmarshalDestination parses a destination written by marshalDestination.
func unmarshalDestination(data []byte) (*go_i2cp.Destination, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("parse destination: empty payload")
	}
	dest, err := go_i2cp.NewDestinationFromMessage(go_i2cp.NewStream(data), nil)
	if err != nil {
		return nil, fmt.Errorf("parse destination: %w", err)
	}
	return dest, nil
}
