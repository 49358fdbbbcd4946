package general

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/iykyk-syn/generals/general/internal/round"
	"github.com/iykyk-syn/generals/msg"
	"github.com/iykyk-syn/generals/udp"
)

// Lieutenant is a relaying process of a run. It consumes relays through a
// blocking listen loop, forwards what it accepted on every round boundary,
// and decides after round m.
//
// All protocol state is owned by the listen goroutine; sender workers only
// perform I/O on immutable snapshots of their messages.
type Lieutenant struct {
	id           uint32
	participants []udp.Address
	faulty       int

	server  *udp.Server
	clients []*udp.Client

	state   *round.State
	senders *errgroup.Group
	// deadline caps the current round's wall-clock lifetime. Zero in round 0:
	// only the Commander's message can move a Lieutenant out of round 0.
	deadline time.Time

	attempts    int
	roundBudget time.Duration

	log *slog.Logger
}

// NewLieutenant binds the local receive socket and dials every peer.
func NewLieutenant(cfg Config) (*Lieutenant, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.ID == 0 {
		return nil, errors.New("process 0 is the commander")
	}
	cfg = cfg.withDefaults()

	server, err := udp.NewServer(cfg.Participants[cfg.ID].Port, cfg.IdleTimeout)
	if err != nil {
		return nil, err
	}

	clients := make([]*udp.Client, len(cfg.Participants))
	for pid := range cfg.Participants {
		if uint32(pid) == cfg.ID {
			continue
		}
		client, err := udp.Dial(cfg.Participants[pid])
		if err != nil {
			closeClients(clients)
			server.Close()
			return nil, fmt.Errorf("dialing p%d: %w", pid, err)
		}
		client.SetTimeout(cfg.AckTimeout)
		clients[pid] = client
	}

	return &Lieutenant{
		id:           cfg.ID,
		participants: cfg.Participants,
		faulty:       cfg.Faulty,
		server:       server,
		clients:      clients,
		state:        round.NewState(),
		senders:      &errgroup.Group{},
		attempts:     cfg.AckAttempts,
		roundBudget:  cfg.RoundBudget,
		log:          cfg.Logger.With("module", "general", "id", cfg.ID),
	}, nil
}

// Decide runs the listen loop until round m completes or times out, then
// evaluates the decision over every order observed during the run. The
// protocol absorbs peer failures, so the result is always a well-defined
// order; cancelling the context ends the run early with whatever has been
// observed.
func (l *Lieutenant) Decide(ctx context.Context) msg.Order {
	unwatch := context.AfterFunc(ctx, func() { l.server.Close() })
	defer unwatch()

	if err := l.server.Listen(l.onMessage, l.onTimeout); err != nil {
		l.log.Error("listen loop failed", "err", err)
	}
	l.awaitSenders()

	decision := l.state.Decision()
	l.log.Info("decided", "order", decision.String())
	return decision
}

// Close releases the receive socket and the per-peer sockets.
func (l *Lieutenant) Close() error {
	return errors.Join(l.server.Close(), closeClients(l.clients))
}

// onMessage is the listen loop's datagram callback and the only writer of
// the round state.
func (l *Lieutenant) onMessage(from *udp.Client, buf []byte) udp.ServerAction {
	m, err := msg.UnmarshalMessage(buf)
	if err != nil {
		l.log.Debug("dropping undecodable datagram", "from", from.RemoteAddress().String(), "err", err)
		return l.continueUnlessExpired()
	}
	if !validRelay(m, from.RemoteAddress(), l.state.Num(), l.id, l.participants) {
		l.log.Debug("dropping invalid relay", "msg", m.String(), "from", from.RemoteAddress().String())
		return l.continueUnlessExpired()
	}

	l.log.Info("received", "msg", m.String(), "from", fmt.Sprintf("p%d", m.Sender()))
	// Ack every valid relay, duplicates included, or the sender keeps
	// retransmitting a message we already hold.
	sendAck(from, l.state.Num(), l.log)

	if l.state.Accept(m) && l.state.Complete(len(l.participants)) {
		return l.moveToNewRoundOrStop()
	}
	return l.continueUnlessExpired()
}

// onTimeout handles an idle listen window: a non-initial round with silent
// peers is over.
func (l *Lieutenant) onTimeout() udp.ServerAction {
	if l.state.Num() == 0 {
		// A Lieutenant cannot declare round 0 finished, keep waiting.
		return udp.Continue
	}
	l.log.Info("timeout", "round", l.state.Num())
	return l.moveToNewRoundOrStop()
}

// continueUnlessExpired keeps the loop running while the current round is
// inside its wall-clock budget, so a steady stream of invalid or duplicate
// datagrams cannot pin a round open.
func (l *Lieutenant) continueUnlessExpired() udp.ServerAction {
	if l.state.Num() == 0 || time.Now().Before(l.deadline) {
		return udp.Continue
	}
	l.log.Info("round budget exhausted", "round", l.state.Num())
	return l.moveToNewRoundOrStop()
}

func (l *Lieutenant) lastRound() bool {
	return l.state.Num() == uint32(l.faulty)
}

func (l *Lieutenant) moveToNewRoundOrStop() udp.ServerAction {
	if l.lastRound() {
		l.awaitSenders()
		return udp.Stop
	}
	l.startNextRound()
	return udp.Continue
}

// startNextRound closes the current round and fans its messages out, each
// extended with our own id. One worker per destination sends that
// destination's messages serially in acceptance order; workers run in
// parallel across destinations so a slow peer stalls nobody else.
func (l *Lieutenant) startNextRound() {
	// No relay of the closed round may still be in flight when the next
	// round's relays are generated.
	l.awaitSenders()

	closed := l.state.Advance()
	next := l.state.Num()
	l.deadline = time.Now().Add(l.roundBudget)

	batches := make(map[uint32][]msg.Message)
	for _, m := range closed {
		m.Round = next
		m.IDs = append(append([]uint32(nil), m.IDs...), l.id)

		for pid := range l.participants {
			if onPath(m.IDs, uint32(pid)) {
				continue
			}
			batches[uint32(pid)] = append(batches[uint32(pid)], m)
			l.log.Info("sending", "msg", m.String(), "to", fmt.Sprintf("p%d", pid))
		}
	}

	for pid, batch := range batches {
		client := l.clients[pid]
		l.senders.Go(func() error {
			for _, m := range batch {
				sendRelay(client, m, l.attempts, l.log)
			}
			return nil
		})
	}
}

// awaitSenders joins the previous round's workers and resets the group for
// the next round.
func (l *Lieutenant) awaitSenders() {
	_ = l.senders.Wait()
	l.senders = &errgroup.Group{}
}

func onPath(ids []uint32, pid uint32) bool {
	for _, id := range ids {
		if id == pid {
			return true
		}
	}
	return false
}
