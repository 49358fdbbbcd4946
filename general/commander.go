package general

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/iykyk-syn/generals/msg"
	"github.com/iykyk-syn/generals/udp"
)

// Commander is the proposing process of a run, always id 0. It sends its
// order to every Lieutenant once and plays no further part in the relay
// rounds.
type Commander struct {
	order    msg.Order
	clients  []*udp.Client
	attempts int

	log *slog.Logger
}

// NewCommander dials every Lieutenant in the participant table.
func NewCommander(cfg Config) (*Commander, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.ID != 0 {
		return nil, errors.New("the commander is process 0")
	}
	cfg = cfg.withDefaults()

	clients := make([]*udp.Client, len(cfg.Participants))
	for pid := 1; pid < len(cfg.Participants); pid++ {
		client, err := udp.Dial(cfg.Participants[pid])
		if err != nil {
			closeClients(clients)
			return nil, fmt.Errorf("dialing p%d: %w", pid, err)
		}
		client.SetTimeout(cfg.AckTimeout)
		clients[pid] = client
	}

	return &Commander{
		order:    cfg.Order,
		clients:  clients,
		attempts: cfg.AckAttempts,
		log:      cfg.Logger.With("module", "general", "id", 0),
	}, nil
}

// Decide fans the proposal out to all Lieutenants in parallel, so that slow
// acknowledgements do not leave some of them a round behind, and returns the
// proposal once every sender has finished.
func (c *Commander) Decide(_ context.Context) msg.Order {
	m := msg.Message{Round: 0, Order: c.order, IDs: []uint32{0}}

	var senders errgroup.Group
	for pid := 1; pid < len(c.clients); pid++ {
		client := c.clients[pid]
		c.log.Info("sending", "msg", m.String(), "to", fmt.Sprintf("p%d", pid))
		senders.Go(func() error {
			sendRelay(client, m, c.attempts, c.log)
			return nil
		})
	}
	_ = senders.Wait()
	return c.order
}

// Close releases the per-peer sockets.
func (c *Commander) Close() error {
	return closeClients(c.clients)
}

func closeClients(clients []*udp.Client) error {
	var err error
	for _, client := range clients {
		if client != nil {
			err = errors.Join(err, client.Close())
		}
	}
	return err
}
