package msg

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageRoundTrip(t *testing.T) {
	m := Message{Round: 2, Order: Attack, IDs: []uint32{0, 3, 1}}

	buf, err := m.MarshalBinary()
	require.NoError(t, err)
	require.Len(t, buf, 24)

	got, err := UnmarshalMessage(buf)
	require.NoError(t, err)
	assert.Equal(t, m, got)
}

func TestMessageRoundTripCommanderProposal(t *testing.T) {
	m := Message{Round: 0, Order: Retreat, IDs: []uint32{0}}

	buf, err := m.MarshalBinary()
	require.NoError(t, err)
	require.Len(t, buf, 20)

	got, err := UnmarshalMessage(buf)
	require.NoError(t, err)
	assert.Equal(t, m, got)
}

func TestUnmarshalMessageRejectsMalformed(t *testing.T) {
	valid, err := Message{Round: 1, Order: Attack, IDs: []uint32{0, 2}}.MarshalBinary()
	require.NoError(t, err)

	tests := []struct {
		name string
		buf  []byte
	}{
		{"empty", nil},
		{"short header", valid[:12]},
		{"ragged id tail", valid[:len(valid)-2]},
		{"ack tag", append([]byte{0, 0, 0, byte(ackType)}, valid[4:]...)},
		{"size field mismatch", append(append([]byte(nil), valid...), 0, 0, 0, 9)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := UnmarshalMessage(tt.buf)
			assert.Error(t, err)
		})
	}
}

func TestAckRoundTrip(t *testing.T) {
	buf := mustMarshalAck(t, Ack{Round: 2})
	require.Len(t, buf, 12)

	got, err := UnmarshalAck(buf)
	require.NoError(t, err)
	assert.Equal(t, Ack{Round: 2}, got)
}

func TestUnmarshalAckRejectsMalformed(t *testing.T) {
	relay, err := Message{Round: 0, Order: Attack, IDs: []uint32{0}}.MarshalBinary()
	require.NoError(t, err)

	tests := []struct {
		name string
		buf  []byte
	}{
		{"empty", nil},
		{"short", mustMarshalAck(t, Ack{})[:8]},
		{"oversized", append(mustMarshalAck(t, Ack{}), 0)},
		{"relay tag", relay[:12]},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := UnmarshalAck(tt.buf)
			assert.Error(t, err)
		})
	}
}

func TestOrderString(t *testing.T) {
	assert.Equal(t, "ATTACK", Attack.String())
	assert.Equal(t, "RETREAT", Retreat.String())

	o, err := OrderFromString("attack")
	require.NoError(t, err)
	assert.Equal(t, Attack, o)
	o, err = OrderFromString("RETREAT")
	require.NoError(t, err)
	assert.Equal(t, Retreat, o)
	_, err = OrderFromString("charge")
	assert.Error(t, err)
}

func TestMessageString(t *testing.T) {
	m := Message{Round: 1, Order: Attack, IDs: []uint32{0, 2}}
	assert.Equal(t, "{round: 1, order: ATTACK, ids: [0 2]}", m.String())
}

func mustMarshalAck(t *testing.T, a Ack) []byte {
	t.Helper()
	buf, err := a.MarshalBinary()
	require.NoError(t, err)
	return buf
}
