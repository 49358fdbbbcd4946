package msg

import (
	"encoding/binary"
	"fmt"
)

// Frame type tags. Both frame kinds open with [u32 type][u32 size], all
// integers in network byte order.
const (
	relayType uint32 = 1
	ackType   uint32 = 2

	relayHeaderSize = 16 // type, size, round, order
	ackSize         = 12 // type, size, round
)

// MarshalBinary encodes the message as a relay frame:
// [u32 type][u32 size][u32 round][u32 order][u32 id]...
func (m Message) MarshalBinary() ([]byte, error) {
	size := relayHeaderSize + 4*len(m.IDs)
	buf := make([]byte, size)
	binary.BigEndian.PutUint32(buf[0:], relayType)
	binary.BigEndian.PutUint32(buf[4:], uint32(size))
	binary.BigEndian.PutUint32(buf[8:], m.Round)
	binary.BigEndian.PutUint32(buf[12:], uint32(m.Order))
	for i, id := range m.IDs {
		binary.BigEndian.PutUint32(buf[relayHeaderSize+4*i:], id)
	}
	return buf, nil
}

// UnmarshalMessage decodes a relay frame. It rejects buffers shorter than the
// relay header, tails that are not a whole number of ids, a wrong type tag,
// and a size field disagreeing with the buffer length. Path invariants are
// the validator's concern, not the codec's.
func UnmarshalMessage(buf []byte) (Message, error) {
	if len(buf) < relayHeaderSize {
		return Message{}, fmt.Errorf("relay frame too short: %d bytes", len(buf))
	}
	if (len(buf)-relayHeaderSize)%4 != 0 {
		return Message{}, fmt.Errorf("relay frame has ragged id tail: %d bytes", len(buf))
	}
	if typ := binary.BigEndian.Uint32(buf[0:]); typ != relayType {
		return Message{}, fmt.Errorf("unexpected frame type %d", typ)
	}
	if size := binary.BigEndian.Uint32(buf[4:]); size != uint32(len(buf)) {
		return Message{}, fmt.Errorf("relay frame size field %d does not match %d bytes", size, len(buf))
	}

	m := Message{
		Round: binary.BigEndian.Uint32(buf[8:]),
		Order: Order(binary.BigEndian.Uint32(buf[12:])),
		IDs:   make([]uint32, (len(buf)-relayHeaderSize)/4),
	}
	for i := range m.IDs {
		m.IDs[i] = binary.BigEndian.Uint32(buf[relayHeaderSize+4*i:])
	}
	return m, nil
}

// MarshalBinary encodes the ack as [u32 type][u32 size=12][u32 round].
func (a Ack) MarshalBinary() ([]byte, error) {
	buf := make([]byte, ackSize)
	binary.BigEndian.PutUint32(buf[0:], ackType)
	binary.BigEndian.PutUint32(buf[4:], ackSize)
	binary.BigEndian.PutUint32(buf[8:], a.Round)
	return buf, nil
}

// UnmarshalAck decodes an ack frame. An ack is exactly ackSize bytes.
func UnmarshalAck(buf []byte) (Ack, error) {
	if len(buf) != ackSize {
		return Ack{}, fmt.Errorf("ack frame must be %d bytes, got %d", ackSize, len(buf))
	}
	if typ := binary.BigEndian.Uint32(buf[0:]); typ != ackType {
		return Ack{}, fmt.Errorf("unexpected frame type %d", typ)
	}
	if size := binary.BigEndian.Uint32(buf[4:]); size != ackSize {
		return Ack{}, fmt.Errorf("ack frame size field %d does not match", size)
	}
	return Ack{Round: binary.BigEndian.Uint32(buf[8:])}, nil
}
