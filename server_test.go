// server_test.go
// Shared test harness: an in-process Server wired to net.Pipe connections.
// Each test client runs a pump goroutine that drains server output into a
// channel, so server-side writes never block on the synchronous pipe.
//go:build !client

package main

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chathub/proto"
	"chathub/store"
)

const testServerPassword = "hubsecret"

// newTestServer builds a Server on a temp store with throttling effectively
// disabled (every pipe conn reports the same remote address, so tests would
// otherwise trip the per-IP limiter).
func newTestServer(t *testing.T, muts ...func(*Config)) *Server {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "hub.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	cfg := Config{
		Name:              "TestHub",
		Password:          testServerPassword,
		FilesDir:          t.TempDir(),
		AllowRegistration: true,
		LoginTimeout:      2 * time.Second,
		LoginEvery:        time.Hour,
		LoginBurst:        1000,
	}
	for _, m := range muts {
		m(&cfg)
	}
	return newServer(cfg, st)
}

type testClient struct {
	t     *testing.T
	conn  net.Conn
	lines chan string
}

// connect opens a pipe to the server and starts its login handler.
func connect(t *testing.T, s *Server) *testClient {
	t.Helper()
	clientEnd, serverEnd := net.Pipe()
	go s.handleLogin(serverEnd)

	c := &testClient{t: t, conn: clientEnd, lines: make(chan string, 64)}
	go func() {
		br := bufio.NewReader(clientEnd)
		for {
			line, err := br.ReadString('\n')
			if err != nil {
				close(c.lines)
				return
			}
			c.lines <- strings.TrimRight(line, "\r\n")
		}
	}()
	t.Cleanup(func() { clientEnd.Close() })
	return c
}

func (c *testClient) send(line string) {
	c.t.Helper()
	c.conn.SetWriteDeadline(time.Now().Add(3 * time.Second))
	_, err := fmt.Fprintln(c.conn, line)
	require.NoError(c.t, err)
}

// next returns the next server line, failing the test on timeout or close.
func (c *testClient) next() string {
	c.t.Helper()
	select {
	case line, ok := <-c.lines:
		require.True(c.t, ok, "server closed the connection")
		return line
	case <-time.After(3 * time.Second):
		c.t.Fatal("timed out waiting for server line")
		return ""
	}
}

func (c *testClient) expect(want string) {
	c.t.Helper()
	require.Equal(c.t, want, c.next())
}

// expectContains asserts the next line contains sub and returns it.
func (c *testClient) expectContains(sub string) string {
	c.t.Helper()
	line := c.next()
	require.Contains(c.t, line, sub)
	return line
}

// expectSilence asserts no line arrives within a short window.
func (c *testClient) expectSilence() {
	c.t.Helper()
	select {
	case line, ok := <-c.lines:
		if ok {
			c.t.Fatalf("unexpected line: %q", line)
		}
		c.t.Fatal("connection closed unexpectedly")
	case <-time.After(100 * time.Millisecond):
	}
}

// expectClosed waits for the server to drop the connection.
func (c *testClient) expectClosed() {
	c.t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case _, ok := <-c.lines:
			if !ok {
				return
			}
		case <-deadline:
			c.t.Fatal("connection was not closed")
		}
	}
}

// loginExisting walks the handshake for an already-registered user and
// consumes the welcome line. Operator notices and join broadcasts are left
// for the test to read.
func (c *testClient) loginExisting(user, pass string) {
	c.t.Helper()
	c.expect("Enter server password: ")
	c.send(testServerPassword)
	c.expect("Server password OK. Enter username: ")
	c.send(user)
	c.expect("Username OK. Enter password: ")
	c.send(pass)
	c.expect("Login successful.")
	c.expectContains("[Welcome]")
}

func TestAddSessionRejectsDuplicateUser(t *testing.T) {
	s := newTestServer(t)
	c1, s1 := net.Pipe()
	c2, s2 := net.Pipe()
	defer c1.Close()
	defer c2.Close()

	assert.True(t, s.addSession(s1, "alice"))
	assert.False(t, s.addSession(s2, "alice"))
	assert.True(t, s.addSession(s2, "bob"))
	assert.Equal(t, 2, s.sessionCount())
}

func TestRemoveSession(t *testing.T) {
	s := newTestServer(t)
	c1, s1 := net.Pipe()
	defer c1.Close()

	require.True(t, s.addSession(s1, "alice"))
	user, ok := s.removeSession(s1)
	assert.True(t, ok)
	assert.Equal(t, "alice", user)

	// Second removal reports the session already gone.
	_, ok = s.removeSession(s1)
	assert.False(t, ok)
	assert.Equal(t, 0, s.sessionCount())
}

func TestActiveUsersSorted(t *testing.T) {
	s := newTestServer(t)
	for _, name := range []string{"zed", "alice", "mike"} {
		c, sv := net.Pipe()
		defer c.Close()
		require.True(t, s.addSession(sv, name))
	}
	assert.Equal(t, []string{"alice", "mike", "zed"}, s.activeUsers())
}

func TestFindSession(t *testing.T) {
	s := newTestServer(t)
	c1, s1 := net.Pipe()
	defer c1.Close()
	require.True(t, s.addSession(s1, "alice"))

	assert.Equal(t, s1, s.findSession("alice"))
	assert.Nil(t, s.findSession("bob"))
}

func TestFormatLine(t *testing.T) {
	line := formatLine("[Info]", "hello")
	assert.Regexp(t, `^\d{2}:\d{2}:\d{2} \[Info\] hello$`, line)
}

// pausingReader yields its data in two halves, signalling and briefly
// pausing between them so a competing writer gets a window mid-frame.
type pausingReader struct {
	data      []byte
	half      int
	pos       int
	reached   chan struct{}
	signalled bool
}

func (r *pausingReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.data) {
		return 0, io.EOF
	}
	if r.pos >= r.half && !r.signalled {
		r.signalled = true
		close(r.reached)
		time.Sleep(50 * time.Millisecond)
	}
	end := r.pos + len(p)
	if r.pos < r.half && end > r.half {
		end = r.half
	}
	if end > len(r.data) {
		end = len(r.data)
	}
	n := copy(p, r.data[r.pos:end])
	r.pos += n
	return n, nil
}

func TestWriteFrameKeepsPayloadContiguous(t *testing.T) {
	clientEnd, serverEnd := net.Pipe()
	defer clientEnd.Close()
	lc := newLockedConn(serverEnd)

	payload := []byte("0123456789abcdef")
	midFrame := make(chan struct{})
	src := &pausingReader{data: payload, half: len(payload) / 2, reached: midFrame}

	lineSent := make(chan error, 1)
	go func() {
		// Competes for the socket while the frame is in flight; it must
		// queue behind the whole header+payload sequence.
		<-midFrame
		lineSent <- sendLine(lc, "chat line")
	}()

	frameDone := make(chan struct{})
	go func() {
		defer close(frameDone)
		n, err := lc.WriteFrame(proto.FileTransferHeader("blob.bin", int64(len(payload))), src, make([]byte, 4))
		assert.NoError(t, err)
		assert.Equal(t, int64(len(payload)), n)
	}()

	clientEnd.SetDeadline(time.Now().Add(5 * time.Second))
	pr := proto.NewReader(clientEnd)

	header, err := pr.ReadLine()
	require.NoError(t, err)
	name, size, ok := proto.ParseFileTransferHeader(header)
	require.True(t, ok)
	require.Equal(t, "blob.bin", name)

	var got bytes.Buffer
	require.NoError(t, pr.ReadBinary(size, &got))
	assert.Equal(t, payload, got.Bytes())

	line, err := pr.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "chat line", line)

	<-frameDone
	require.NoError(t, <-lineSent)
}
