package udp

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"time"
)

// ErrAckTimeout reports that an acknowledged send exhausted its attempts
// without hearing a matching acknowledgement.
var ErrAckTimeout = errors.New("no matching ack within attempt budget")

// AckPredicate decides whether a received datagram acknowledges the
// outstanding send. It receives the raw frame.
type AckPredicate func(buf []byte) bool

// Client sends datagrams to a single remote address. Clients obtained from
// [Dial] own a connected socket with an ephemeral local port and support
// acknowledged sends; reply clients handed to a [Server] listen callback
// share the server socket and only support [Client.Send].
type Client struct {
	conn    *net.UDPConn
	raddr   *net.UDPAddr
	remote  Address
	dialed  bool
	timeout time.Duration

	log *slog.Logger
}

// Dial binds a connected UDP socket to the remote address. The local port is
// ephemeral; acknowledgements come back to it.
func Dial(remote Address) (*Client, error) {
	raddr, err := net.ResolveUDPAddr("udp", remote.String())
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", remote, err)
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", remote, err)
	}
	return &Client{
		conn:    conn,
		raddr:   raddr,
		remote:  remote,
		dialed:  true,
		timeout: DefaultTimeout,
		log:     slog.With("module", "udp", "remote", remote.String()),
	}, nil
}

// replyClient wraps the server socket for answering the source of a received
// datagram.
func replyClient(conn *net.UDPConn, src *net.UDPAddr, log *slog.Logger) *Client {
	return &Client{
		conn:   conn,
		raddr:  src,
		remote: Address{Host: src.IP.String(), Port: src.Port},
		log:    log,
	}
}

// RemoteAddress is the address this client sends to. For reply clients it is
// the received packet's source, with the host in literal IP form.
func (c *Client) RemoteAddress() Address {
	return c.remote
}

// SetTimeout overrides the per-attempt ack deadline.
func (c *Client) SetTimeout(d time.Duration) {
	c.timeout = d
}

// Send transmits the frame once, fire-and-forget.
func (c *Client) Send(buf []byte) error {
	var err error
	if c.dialed {
		_, err = c.conn.Write(buf)
	} else {
		_, err = c.conn.WriteToUDP(buf, c.raddr)
	}
	if err != nil {
		return fmt.Errorf("sending to %s: %w", c.remote, err)
	}
	return nil
}

// SendWithAck transmits the frame and waits for a datagram satisfying valid.
// Each attempt opens a read window of the client timeout; datagrams failing
// the predicate are skipped within the window, and an expired window
// retransmits. After attempts windows without a match it returns
// [ErrAckTimeout].
func (c *Client) SendWithAck(buf []byte, attempts int, valid AckPredicate) error {
	if !c.dialed {
		return errors.New("acknowledged send on a reply client")
	}

	ack := make([]byte, MaxFrameSize)
	for attempt := 0; attempt < attempts; attempt++ {
		if _, err := c.conn.Write(buf); err != nil {
			return fmt.Errorf("sending to %s: %w", c.remote, err)
		}

		deadline := time.Now().Add(c.timeout)
		if err := c.conn.SetReadDeadline(deadline); err != nil {
			return fmt.Errorf("setting ack deadline: %w", err)
		}
		for time.Now().Before(deadline) {
			n, err := c.conn.Read(ack)
			if err != nil {
				if errors.Is(err, os.ErrDeadlineExceeded) {
					break
				}
				// Transient receive errors (e.g. ICMP port unreachable
				// surfacing on a connected socket) spend the attempt.
				c.log.Debug("ack read failed", "err", err)
				break
			}
			if valid(ack[:n]) {
				return nil
			}
			c.log.Debug("skipping datagram that is not a matching ack", "bytes", n)
		}
	}
	return ErrAckTimeout
}

// Close releases the socket. Reply clients share the server socket and must
// not be closed.
func (c *Client) Close() error {
	if !c.dialed {
		return nil
	}
	return c.conn.Close()
}
