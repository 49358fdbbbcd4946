// Package round owns the mutable per-run state of an agreement participant:
// the current round number, the relay paths and messages accepted this round,
// and the orders observed across the whole run. State is not safe for
// concurrent use; the listen loop is its single owner.
package round

import (
	"encoding/binary"
	"fmt"

	"github.com/iykyk-syn/generals/msg"
)

// State is the round state machine of one Lieutenant.
type State struct {
	num uint32

	// ordersSeen accumulates every order accepted during the run and is the
	// only field surviving round advances.
	ordersSeen map[msg.Order]struct{}
	// retained keeps the accepted messages of the current round in acceptance
	// order, so relays to one destination leave in a stable order.
	retained []msg.Message
	// paths deduplicates relays within the round, keyed by the encoded path.
	paths map[string]struct{}
}

func NewState() *State {
	return &State{
		ordersSeen: make(map[msg.Order]struct{}),
		paths:      make(map[string]struct{}),
	}
}

// MessagesForRound is the number of distinct relay paths a correct process
// expects in the given round of an n-process run: M(n,0) = 1,
// M(n,k) = (n-1-k) * M(n,k-1).
func MessagesForRound(n int, round uint32) int {
	count := 1
	for k := uint32(1); k <= round; k++ {
		count *= n - 1 - int(k)
	}
	return count
}

// Num is the current round number.
func (s *State) Num() uint32 {
	return s.num
}

// Accept records a validated message. It reports false without any state
// change when the message's path was already accepted this round, or when a
// round-0 message was already accepted (only the Commander reaches a process
// in round 0).
func (s *State) Accept(m msg.Message) bool {
	if s.num == 0 {
		if len(s.ordersSeen) > 0 {
			return false
		}
	} else {
		if _, ok := s.paths[pathKey(m.IDs)]; ok {
			return false
		}
	}

	s.paths[pathKey(m.IDs)] = struct{}{}
	s.retained = append(s.retained, m)
	s.ordersSeen[m.Order] = struct{}{}
	return true
}

// Complete reports whether every expected path of the current round has been
// accepted.
func (s *State) Complete(n int) bool {
	return len(s.paths) == MessagesForRound(n, s.num)
}

// Advance closes the current round and opens the next, returning the closed
// round's messages in acceptance order. A retained message from any other
// round is an impossible state and panics.
func (s *State) Advance() []msg.Message {
	for _, m := range s.retained {
		if m.Round != s.num {
			panic(fmt.Sprintf("retained message %s does not belong to round %d", m, s.num))
		}
	}

	closed := s.retained
	s.num++
	s.retained = nil
	s.paths = make(map[string]struct{})
	return closed
}

// Decision applies the final rule over the observed orders: Attack only when
// Attack is the sole order ever seen, Retreat otherwise. A single dissenting
// or missing order therefore yields Retreat.
func (s *State) Decision() msg.Order {
	if len(s.ordersSeen) == 1 {
		if _, ok := s.ordersSeen[msg.Attack]; ok {
			return msg.Attack
		}
	}
	return msg.Retreat
}

func pathKey(ids []uint32) string {
	key := make([]byte, 4*len(ids))
	for i, id := range ids {
		binary.BigEndian.PutUint32(key[4*i:], id)
	}
	return string(key)
}
