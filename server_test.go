package coro

import (
	"bytes"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
	"github.com/stretchr/testify/require"
)

// syncBuffer serializes writes from the server goroutines.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func testLogger(buf *syncBuffer) *logiface.Logger[logiface.Event] {
	return stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithWriter(buf), stumpy.WithTimeField(``)),
	).Logger()
}

func TestServerEchoEndToEnd(t *testing.T) {
	var buf syncBuffer
	s := NewServer("127.0.0.1", 0, WithServerLogger(testLogger(&buf)))
	require.NoError(t, s.Start())
	defer s.Stop()
	require.NotNil(t, s.Addr())

	c, err := net.Dial("tcp", s.Addr().String())
	require.NoError(t, err)
	defer c.Close()

	msg := []byte("hello, coroutine")
	_, err = c.Write(msg)
	require.NoError(t, err)

	require.NoError(t, c.SetReadDeadline(time.Now().Add(5*time.Second)))
	got := make([]byte, len(msg))
	_, err = io.ReadFull(c, got)
	require.NoError(t, err)
	require.Equal(t, msg, got)

	// a second round through the same coroutine
	msg2 := []byte("second edge")
	_, err = c.Write(msg2)
	require.NoError(t, err)
	got2 := make([]byte, len(msg2))
	_, err = io.ReadFull(c, got2)
	require.NoError(t, err)
	require.Equal(t, msg2, got2)

	require.Contains(t, buf.String(), "listening")
}

func TestServerCustomHandler(t *testing.T) {
	greet := []byte("hi there\n")
	s := NewServer("127.0.0.1", 0, WithHandler(func(co *Coroutine, c *Conn) any {
		// consume the first chunk, answer, hang up
		for {
			if _, ok := c.Recv(); ok {
				break
			}
			if _, done := c.ReadClosed(); done {
				return nil
			}
			co.Yield()
		}
		return c.Send(greet)
	}))
	require.NoError(t, s.Start())
	defer s.Stop()

	c, err := net.Dial("tcp", s.Addr().String())
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Write([]byte("x"))
	require.NoError(t, err)

	require.NoError(t, c.SetReadDeadline(time.Now().Add(5*time.Second)))
	got, err := io.ReadAll(c)
	require.NoError(t, err)
	require.Equal(t, greet, got)
}

func TestServerStartStopIdle(t *testing.T) {
	s := NewServer("127.0.0.1", 0)
	require.Nil(t, s.Addr())
	require.NoError(t, s.Start())
	s.Stop()
}

func TestServerManyConnections(t *testing.T) {
	s := NewServer("127.0.0.1", 0)
	require.NoError(t, s.Start())
	defer s.Stop()

	for i := 0; i < 8; i++ {
		c, err := net.Dial("tcp", s.Addr().String())
		require.NoError(t, err)
		msg := []byte{byte('a' + i)}
		_, err = c.Write(msg)
		require.NoError(t, err)
		require.NoError(t, c.SetReadDeadline(time.Now().Add(5*time.Second)))
		got := make([]byte, 1)
		_, err = io.ReadFull(c, got)
		require.NoError(t, err)
		require.Equal(t, msg, got)
		require.NoError(t, c.Close())
	}
}
