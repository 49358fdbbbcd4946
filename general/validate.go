package general

import (
	"github.com/iykyk-syn/generals/msg"
	"github.com/iykyk-syn/generals/udp"
)

// validRelay is the acceptance predicate for an incoming relay. A false
// result discards the message silently: no ack, no state change.
func validRelay(m msg.Message, from udp.Address, currentRound, selfID uint32, participants []udp.Address) bool {
	// Invalid if from a different round.
	if m.Round != currentRound {
		return false
	}
	// Invalid unless the path grew by one id per round.
	if uint32(len(m.IDs)) != m.Round+1 {
		return false
	}
	// Invalid unless the path starts at the Commander.
	if m.IDs[0] != 0 {
		return false
	}
	seen := make(map[uint32]struct{}, len(m.IDs))
	for _, id := range m.IDs {
		// Invalid if any id is out of bounds.
		if int(id) >= len(participants) {
			return false
		}
		// Invalid if the path claims to have passed through us.
		if id == selfID {
			return false
		}
		// Invalid if any id repeats.
		if _, ok := seen[id]; ok {
			return false
		}
		seen[id] = struct{}{}
	}
	// Invalid if the last id does not match the sender. Only hostnames are
	// compared: the sending port of a peer is ephemeral, which also means
	// processes sharing one host cannot be told apart here.
	return participants[m.Sender()].Host == from.Host
}
