// Package general implements the recursive Oral-Messages algorithm for
// Byzantine agreement. The process with id 0 acts as Commander and proposes
// an order; every other process acts as Lieutenant, relays what it hears for
// m+1 rounds, and then decides. With n >= 3m+1 processes the correct
// Lieutenants decide the same order despite up to m Byzantine participants.
package general

import (
	"errors"
	"log/slog"
	"time"

	"github.com/iykyk-syn/generals/msg"
	"github.com/iykyk-syn/generals/udp"
)

// Config wires up one participant of a run. The participant table is indexed
// by process id and must be identical at every process.
type Config struct {
	// ID of the local process. The Commander is always id 0.
	ID uint32
	// Participants is the ordered address table, one entry per process id.
	Participants []udp.Address
	// Faulty is m, the tolerated number of Byzantine processes. The run
	// lasts m+1 rounds and requires len(Participants) >= 3m+1.
	Faulty int
	// Order is the Commander's proposal. Ignored at Lieutenants.
	Order msg.Order

	// AckAttempts bounds retransmissions of an unacknowledged relay.
	AckAttempts int
	// AckTimeout is the per-attempt wait for an acknowledgement.
	AckTimeout time.Duration
	// IdleTimeout is the listen loop's quiet window; an idle window in a
	// non-initial round ends the round.
	IdleTimeout time.Duration
	// RoundBudget caps a round's wall-clock lifetime regardless of traffic,
	// so a stream of invalid datagrams cannot keep a round open. Defaults to
	// twice IdleTimeout.
	RoundBudget time.Duration

	Logger *slog.Logger
}

func (cfg *Config) Validate() error {
	n := len(cfg.Participants)
	if n == 0 {
		return errors.New("empty participant table")
	}
	if int(cfg.ID) >= n {
		return errors.New("process id outside the participant table")
	}
	if cfg.Faulty < 0 {
		return errors.New("negative fault tolerance")
	}
	if n < 3*cfg.Faulty+1 {
		return errors.New("agreement needs at least 3m+1 processes")
	}
	return nil
}

func (cfg *Config) withDefaults() Config {
	out := *cfg
	if out.AckAttempts == 0 {
		out.AckAttempts = udp.DefaultSendAttempts
	}
	if out.AckTimeout == 0 {
		out.AckTimeout = udp.DefaultTimeout
	}
	if out.IdleTimeout == 0 {
		out.IdleTimeout = udp.DefaultTimeout
	}
	if out.RoundBudget == 0 {
		out.RoundBudget = 2 * out.IdleTimeout
	}
	if out.Logger == nil {
		out.Logger = slog.Default()
	}
	return out
}

// sendRelay transmits one relay and waits for an acknowledgement of the same
// round, retransmitting within the attempt budget. Exhausting the budget is
// absorbed: peers handle the missing relay through their round timeout.
func sendRelay(client *udp.Client, m msg.Message, attempts int, log *slog.Logger) {
	buf, err := m.MarshalBinary()
	if err != nil {
		panic("encoding relay: " + err.Error())
	}

	err = client.SendWithAck(buf, attempts, func(ack []byte) bool {
		a, err := msg.UnmarshalAck(ack)
		return err == nil && a.Round == m.Round
	})
	if err != nil {
		log.Warn("relay not acknowledged", "to", client.RemoteAddress().String(), "msg", m.String(), "err", err)
	}
}

// sendAck acknowledges the current round to the source of a received relay.
func sendAck(from *udp.Client, round uint32, log *slog.Logger) {
	buf, err := msg.Ack{Round: round}.MarshalBinary()
	if err != nil {
		panic("encoding ack: " + err.Error())
	}
	if err := from.Send(buf); err != nil {
		log.Warn("sending ack", "to", from.RemoteAddress().String(), "err", err)
	}
}
