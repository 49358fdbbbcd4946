// Package msg defines the protocol messages exchanged during a run of the
// Oral-Messages agreement protocol and their wire codec.
package msg

import (
	"fmt"
	"strings"
)

// Order is the value the processes agree on.
type Order uint32

const (
	Retreat Order = iota
	Attack
)

func (o Order) String() string {
	switch o {
	case Retreat:
		return "RETREAT"
	case Attack:
		return "ATTACK"
	default:
		return fmt.Sprintf("Order(%d)", uint32(o))
	}
}

// OrderFromString parses an Order from its textual form.
func OrderFromString(s string) (Order, error) {
	switch strings.ToUpper(s) {
	case "ATTACK":
		return Attack, nil
	case "RETREAT":
		return Retreat, nil
	default:
		return Retreat, fmt.Errorf("unknown order %q", s)
	}
}

// Message is a relayed order. IDs is the relay path: the ordered process ids
// the order has been forwarded through, starting with the Commander (id 0)
// and ending with the immediate sender. A message of round k carries a path
// of length k+1.
type Message struct {
	Round uint32
	Order Order
	IDs   []uint32
}

func (m Message) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "{round: %d, order: %s, ids: [", m.Round, m.Order)
	for i, id := range m.IDs {
		if i > 0 {
			sb.WriteString(" ")
		}
		fmt.Fprintf(&sb, "%d", id)
	}
	sb.WriteString("]}")
	return sb.String()
}

// Sender is the immediate sender of the message, the last id on the path.
func (m Message) Sender() uint32 {
	return m.IDs[len(m.IDs)-1]
}

// Ack acknowledges receipt of a relay for the given round.
type Ack struct {
	Round uint32
}
