package udp

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func newTestPair(t *testing.T, idle time.Duration) (*Server, *Client) {
	t.Helper()
	srv, err := NewServer(0, idle)
	require.NoError(t, err)
	t.Cleanup(func() { srv.Close() })

	cli, err := Dial(Address{Host: "127.0.0.1", Port: srv.LocalPort()})
	require.NoError(t, err)
	cli.SetTimeout(200 * time.Millisecond)
	t.Cleanup(func() { cli.Close() })
	return srv, cli
}

func TestSendWithAckMatchingAck(t *testing.T) {
	srv, cli := newTestPair(t, time.Second)

	var wg errgroup.Group
	wg.Go(func() error {
		return srv.Listen(func(from *Client, buf []byte) ServerAction {
			if err := from.Send([]byte("ack")); err != nil {
				return Stop
			}
			return Stop
		}, func() ServerAction { return Stop })
	})

	err := cli.SendWithAck([]byte("relay"), DefaultSendAttempts, func(buf []byte) bool {
		return bytes.Equal(buf, []byte("ack"))
	})
	require.NoError(t, err)
	require.NoError(t, wg.Wait())
}

func TestSendWithAckSkipsNonMatching(t *testing.T) {
	srv, cli := newTestPair(t, time.Second)

	var wg errgroup.Group
	wg.Go(func() error {
		return srv.Listen(func(from *Client, buf []byte) ServerAction {
			// a bogus datagram first, then the real ack
			from.Send([]byte("noise"))
			from.Send([]byte("ack"))
			return Stop
		}, func() ServerAction { return Stop })
	})

	err := cli.SendWithAck([]byte("relay"), DefaultSendAttempts, func(buf []byte) bool {
		return bytes.Equal(buf, []byte("ack"))
	})
	require.NoError(t, err)
	require.NoError(t, wg.Wait())
}

func TestSendWithAckExhaustsAttempts(t *testing.T) {
	srv, cli := newTestPair(t, time.Second)

	received := 0
	var wg errgroup.Group
	wg.Go(func() error {
		return srv.Listen(func(from *Client, buf []byte) ServerAction {
			// never acknowledge; every retransmission lands here
			received++
			if received == 2 {
				return Stop
			}
			return Continue
		}, func() ServerAction { return Stop })
	})

	err := cli.SendWithAck([]byte("relay"), 2, func(buf []byte) bool { return false })
	assert.ErrorIs(t, err, ErrAckTimeout)
	require.NoError(t, wg.Wait())
	assert.Equal(t, 2, received)
}

func TestListenIdleTimeout(t *testing.T) {
	srv, err := NewServer(0, 50*time.Millisecond)
	require.NoError(t, err)
	defer srv.Close()

	timeouts := 0
	err = srv.Listen(
		func(from *Client, buf []byte) ServerAction { return Continue },
		func() ServerAction {
			timeouts++
			if timeouts == 2 {
				return Stop
			}
			return Continue
		})
	require.NoError(t, err)
	assert.Equal(t, 2, timeouts)
}

func TestReplyClientReportsSource(t *testing.T) {
	srv, cli := newTestPair(t, time.Second)

	var remote Address
	var ackErr error
	var wg errgroup.Group
	wg.Go(func() error {
		return srv.Listen(func(from *Client, buf []byte) ServerAction {
			remote = from.RemoteAddress()
			ackErr = from.SendWithAck([]byte("x"), 1, func([]byte) bool { return true })
			return Stop
		}, func() ServerAction { return Stop })
	})

	require.NoError(t, cli.Send([]byte("hello")))
	require.NoError(t, wg.Wait())
	assert.Equal(t, "127.0.0.1", remote.Host)
	assert.NotZero(t, remote.Port)
	assert.Error(t, ackErr, "acknowledged sends need a dialed client")
}
