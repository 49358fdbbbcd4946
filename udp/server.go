package udp

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"time"
)

// MessageHandler consumes one received datagram. from answers the packet's
// source; buf is only valid for the duration of the call.
type MessageHandler func(from *Client, buf []byte) ServerAction

// TimeoutHandler runs when a full idle window passes with no traffic.
type TimeoutHandler func() ServerAction

// Server owns a bound UDP socket and drives the blocking listen loop.
type Server struct {
	conn *net.UDPConn
	idle time.Duration

	log *slog.Logger
}

// NewServer binds a UDP socket on the port. idle is the quiet window after
// which the timeout handler fires; zero means [DefaultTimeout].
func NewServer(port int, idle time.Duration) (*Server, error) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: port})
	if err != nil {
		return nil, fmt.Errorf("binding udp port %d: %w", port, err)
	}
	if idle == 0 {
		idle = DefaultTimeout
	}
	return &Server{
		conn: conn,
		idle: idle,
		log:  slog.With("module", "udp", "port", port),
	}, nil
}

// Listen blocks, dispatching every received datagram to onMessage and every
// idle window to onTimeout, until a callback returns Stop or the socket is
// closed.
func (s *Server) Listen(onMessage MessageHandler, onTimeout TimeoutHandler) error {
	buf := make([]byte, MaxFrameSize)
	for {
		if err := s.conn.SetReadDeadline(time.Now().Add(s.idle)); err != nil {
			return fmt.Errorf("setting idle deadline: %w", err)
		}
		n, src, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				if onTimeout() == Stop {
					return nil
				}
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("receiving datagram: %w", err)
		}
		if onMessage(replyClient(s.conn, src, s.log), buf[:n]) == Stop {
			return nil
		}
	}
}

// LocalPort is the bound port, resolved after binding port 0.
func (s *Server) LocalPort() int {
	return s.conn.LocalAddr().(*net.UDPAddr).Port
}

// Close releases the socket, unblocking a concurrent Listen.
func (s *Server) Close() error {
	return s.conn.Close()
}
