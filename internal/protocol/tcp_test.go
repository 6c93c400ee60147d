package protocol

import (
	"bufio"
	"io"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/jwrapper/internal/logger"
)

func quietLogger() *logger.Logger {
	return logger.New(logger.Config{
		Console: logger.ConsoleConfig{Level: logger.LevelNone, Writer: io.Discard},
		Warn:    io.Discard,
	})
}

func newServer(t *testing.T) *TCPServer {
	t.Helper()
	s := NewTCPServer(TCPConfig{Debug: true}, quietLogger())
	require.NoError(t, s.Listen())
	require.True(t, s.Listening())
	require.NotZero(t, s.Port())
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func dial(t *testing.T, s *TCPServer) net.Conn {
	t.Helper()
	c, err := net.Dial("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(s.Port())))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// readAll polls the server until want packets arrive or the deadline passes.
func readAll(s *TCPServer, want int) []Packet {
	var got []Packet
	deadline := time.Now().Add(2 * time.Second)
	for len(got) < want && time.Now().Before(deadline) {
		s.Read(func(p Packet) { got = append(got, p) })
	}
	return got
}

func TestCodeNames(t *testing.T) {
	assert.Equal(t, "KEY", Key.String())
	assert.Equal(t, "LOG(WARN)", (Log + 4).String())
	assert.Equal(t, "UNKNOWN(99)", Code(99).String())
	lvl, ok := (Log + 6).LogLevel()
	assert.True(t, ok)
	assert.Equal(t, 6, lvl)
	_, ok = Log.LogLevel()
	assert.False(t, ok)
}

func TestEncodeTruncates(t *testing.T) {
	b := Encode(Start, strings.Repeat("a", MaxMessage+10))
	assert.Len(t, b, MaxMessage+2)
	assert.Equal(t, byte(Start), b[0])
	assert.Equal(t, byte(0), b[len(b)-1])
}

func TestNewKey(t *testing.T) {
	a, err := NewKey()
	require.NoError(t, err)
	b, err := NewKey()
	require.NoError(t, err)
	assert.Len(t, a, KeyLength)
	assert.NotEqual(t, a, b)
	for _, r := range a {
		assert.Contains(t, keyChars, string(r))
	}
}

func TestReadWithoutConnection(t *testing.T) {
	s := NewTCPServer(TCPConfig{}, quietLogger())
	assert.False(t, s.Read(func(Packet) { t.Fatalf("unexpected packet") }))
	assert.ErrorIs(t, s.Send(Ping, "ping"), ErrNotConnected)
}

func TestReadPacketsAndStopListening(t *testing.T) {
	s := newServer(t)
	c := dial(t, s)

	_, err := c.Write(Encode(Key, "abc"))
	require.NoError(t, err)
	// split a frame across two writes
	frame := Encode(Log+2, "hello from child")
	_, err = c.Write(frame[:5])
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)
	_, err = c.Write(frame[5:])
	require.NoError(t, err)

	got := readAll(s, 2)
	require.Len(t, got, 2)
	assert.Equal(t, Packet{Code: Key, Message: "abc"}, got[0])
	assert.Equal(t, Packet{Code: Log + 2, Message: "hello from child"}, got[1])
	assert.True(t, s.Connected())
	assert.False(t, s.Listening(), "listener closes once the child connects")
}

func TestSendReachesChild(t *testing.T) {
	s := newServer(t)
	c := dial(t, s)
	require.Eventually(t, func() bool {
		s.Read(func(Packet) {})
		return s.Connected()
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, s.Send(Start, "start"))
	require.NoError(t, s.Send(Properties, "a=b"))

	r := bufio.NewReader(c)
	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	first, err := r.ReadBytes(0)
	require.NoError(t, err)
	assert.Equal(t, Encode(Start, "start"), first)
	second, err := r.ReadBytes(0)
	require.NoError(t, err)
	assert.Equal(t, Encode(Properties, "a=b"), second)
}

func TestPeerCloseDropsConnection(t *testing.T) {
	s := newServer(t)
	c := dial(t, s)
	require.Eventually(t, func() bool {
		s.Read(func(Packet) {})
		return s.Connected()
	}, 2*time.Second, 10*time.Millisecond)

	_ = c.Close()
	require.Eventually(t, func() bool {
		s.Read(func(Packet) {})
		return !s.Connected()
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, s.Listen(), "a new invocation can listen again")
	assert.True(t, s.Listening())
}

func TestOversizedMessageIsTruncated(t *testing.T) {
	s := newServer(t)
	c := dial(t, s)
	_, err := c.Write(Encode(Log+2, strings.Repeat("x", MaxMessage)))
	require.NoError(t, err)
	raw := append([]byte{byte(Log + 2)}, []byte(strings.Repeat("y", MaxMessage*2))...)
	raw = append(raw, 0)
	_, err = c.Write(raw)
	require.NoError(t, err)
	_, err = c.Write(Encode(Ping, "ok"))
	require.NoError(t, err)

	got := readAll(s, 3)
	require.Len(t, got, 3)
	assert.Len(t, got[0].Message, MaxMessage)
	assert.Len(t, got[1].Message, MaxMessage)
	assert.Equal(t, Packet{Code: Ping, Message: "ok"}, got[2])
}

func TestFixedPortFallsBackToRange(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer busy.Close()
	busyPort := busy.Addr().(*net.TCPAddr).Port

	s := NewTCPServer(TCPConfig{Port: busyPort, PortMin: 0, PortMax: 0}, quietLogger())
	require.NoError(t, s.Listen())
	defer s.Close()
	assert.NotEqual(t, busyPort, s.Port())
}

func TestRangeExhausted(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer busy.Close()
	p := busy.Addr().(*net.TCPAddr).Port

	s := NewTCPServer(TCPConfig{PortMin: p, PortMax: p}, quietLogger())
	assert.ErrorIs(t, s.Listen(), ErrNotListening)
	assert.False(t, s.Listening())
}
