package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/multiformats/go-multiaddr"

	"github.com/iykyk-syn/generals/general"
	"github.com/iykyk-syn/generals/msg"
	"github.com/iykyk-syn/generals/udp"
)

var (
	id          uint
	peers       string
	order       string
	faulty      int
	ackAttempts int
	ackTimeout  time.Duration
	idleTimeout time.Duration
	verbose     bool
)

func init() {
	flag.UintVar(&id, "id", 0,
		"Process id of this participant. Id 0 is the commander",
	)
	flag.StringVar(&peers, "peers", "",
		"Ordered comma-separated participant table as multiaddrs, e.g. "+
			"/ip4/10.0.0.1/udp/4440,/dns4/p1.local/udp/4440. Index equals process id",
	)
	flag.StringVar(&order, "order", "",
		"Order the commander proposes: ATTACK or RETREAT. Required at id 0",
	)
	flag.IntVar(&faulty, "faulty", 1,
		"Number of tolerated Byzantine processes (m). The run lasts m+1 rounds",
	)
	flag.IntVar(&ackAttempts, "ack-attempts", udp.DefaultSendAttempts,
		"Send attempts per relay before giving up on the acknowledgement",
	)
	flag.DurationVar(&ackTimeout, "ack-timeout", udp.DefaultTimeout,
		"Wait per send attempt for an acknowledgement",
	)
	flag.DurationVar(&idleTimeout, "idle-timeout", udp.DefaultTimeout,
		"Quiet listen window after which a round is considered over",
	)
	flag.BoolVar(&verbose, "v", false, "Enable debug logging")
	flag.Parse()

	if verbose {
		slog.SetLogLoggerLevel(slog.LevelDebug)
	}
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	err := run(ctx)
	if err != nil {
		fmt.Println(err)
		defer os.Exit(1)
		return
	}
}

func run(ctx context.Context) error {
	table, err := parseTable(peers)
	if err != nil {
		return err
	}

	cfg := general.Config{
		ID:           uint32(id),
		Participants: table,
		Faulty:       faulty,
		AckAttempts:  ackAttempts,
		AckTimeout:   ackTimeout,
		IdleTimeout:  idleTimeout,
	}

	var decision msg.Order
	if cfg.ID == 0 {
		cfg.Order, err = msg.OrderFromString(order)
		if err != nil {
			return fmt.Errorf("the commander needs a proposal: %w", err)
		}

		cmd, err := general.NewCommander(cfg)
		if err != nil {
			return err
		}
		defer cmd.Close()
		decision = cmd.Decide(ctx)
	} else {
		lt, err := general.NewLieutenant(cfg)
		if err != nil {
			return err
		}
		defer lt.Close()
		decision = lt.Decide(ctx)
	}

	fmt.Println(decision)
	return nil
}

// parseTable turns the -peers multiaddr list into the participant table.
func parseTable(peers string) ([]udp.Address, error) {
	if peers == "" {
		return nil, fmt.Errorf("no participant table, set -peers")
	}

	var table []udp.Address
	for _, s := range strings.Split(peers, ",") {
		maddr, err := multiaddr.NewMultiaddr(strings.TrimSpace(s))
		if err != nil {
			return nil, fmt.Errorf("participant %q: %w", s, err)
		}
		addr, err := addressFrom(maddr)
		if err != nil {
			return nil, err
		}
		table = append(table, addr)
	}
	return table, nil
}

var hostProtocols = []int{
	multiaddr.P_IP4,
	multiaddr.P_IP6,
	multiaddr.P_DNS4,
	multiaddr.P_DNS6,
	multiaddr.P_DNS,
}

// addressFrom flattens a participant multiaddr to the host/port pair the
// datagram layer works with.
func addressFrom(maddr multiaddr.Multiaddr) (udp.Address, error) {
	port, err := maddr.ValueForProtocol(multiaddr.P_UDP)
	if err != nil {
		return udp.Address{}, fmt.Errorf("participant %s carries no udp port: %w", maddr, err)
	}
	portNum, err := strconv.Atoi(port)
	if err != nil {
		return udp.Address{}, fmt.Errorf("participant %s: %w", maddr, err)
	}

	for _, proto := range hostProtocols {
		host, err := maddr.ValueForProtocol(proto)
		if err == nil {
			return udp.Address{Host: host, Port: portNum}, nil
		}
	}
	return udp.Address{}, fmt.Errorf("participant %s carries no host component", maddr)
}
