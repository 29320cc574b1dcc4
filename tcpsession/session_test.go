package tcpsession

import (
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cyberinferno/go-tcpsession/framing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitTimeout = 2 * time.Second

type recorder struct {
	connected    chan string
	disconnected chan string
	errs         chan error
	messages     chan string
	data         chan []byte
	sent         chan string

	mu    sync.Mutex
	order []string
}

func newRecorder() *recorder {
	return &recorder{
		connected:    make(chan string, 16),
		disconnected: make(chan string, 16),
		errs:         make(chan error, 64),
		messages:     make(chan string, 64),
		data:         make(chan []byte, 64),
		sent:         make(chan string, 256),
	}
}

func (r *recorder) note(event string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.order = append(r.order, event)
}

func (r *recorder) events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.order...)
}

func (r *recorder) listeners() Listeners {
	return Listeners{
		State: StateFuncs{
			Connected: func(addr string) {
				r.note("connected")
				r.connected <- addr
			},
			Disconnected: func(addr string) {
				r.note("disconnected")
				r.disconnected <- addr
			},
			Error: func(addr string, err error) {
				r.note("error")
				r.errs <- err
			},
		},
		Message: MessageFuncs{Message: func(addr string, text string) {
			r.note("message")
			r.messages <- text
		}},
		Data: DataFuncs{Data: func(addr string, data []byte) {
			r.note("data")
			r.data <- data
		}},
		Send: SendFunc(func(addr string, description string) {
			r.note("sent")
			r.sent <- description
		}),
	}
}

func (r *recorder) install(s *Session) {
	l := r.listeners()
	s.SetStateListener(l.State)
	s.SetMessageListener(l.Message)
	s.SetDataListener(l.Data)
	s.SetSendListener(l.Send)
}

func receive[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(waitTimeout):
		var zero T
		t.Fatalf("timed out waiting for event")
		return zero
	}
}

func assertNone[T any](t *testing.T, ch <-chan T, wait time.Duration) {
	t.Helper()
	select {
	case v := <-ch:
		t.Fatalf("unexpected event: %v", v)
	case <-time.After(wait):
	}
}

func waitDone(t *testing.T, s *Session) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(waitTimeout):
		t.Fatalf("session did not finish")
	}
}

func listen(t *testing.T) (net.Listener, string, int) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	host, portStr, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	return ln, host, port
}

// dialSession connects a new session to a loopback listener and returns the
// session, its event recorder and the raw server side of the connection.
func dialSession(t *testing.T, detector framing.Detector, cfg Config) (*Session, *recorder, net.Conn) {
	t.Helper()
	ln, host, port := listen(t)

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			accepted <- conn
		}
	}()

	s := New(detector, cfg)
	rec := newRecorder()
	rec.install(s)
	require.NoError(t, s.Connect(host, port))

	server := receive(t, accepted)
	t.Cleanup(func() {
		s.Disconnect()
		_ = server.Close()
	})

	addr := receive(t, rec.connected)
	assert.Equal(t, net.JoinHostPort(host, strconv.Itoa(port)), addr)

	return s, rec, server
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "Disconnected", Disconnected.String())
	assert.Equal(t, "Connecting", Connecting.String())
	assert.Equal(t, "Connected", Connected.String())
	assert.Equal(t, "Closing", Closing.String())
	assert.Equal(t, "Unknown", State(42).String())
}

func TestNew(t *testing.T) {
	s := New(nil, Config{})
	require.NotNil(t, s)
	assert.Equal(t, Disconnected, s.State())
	assert.False(t, s.IsConnected())
	assert.Equal(t, "", s.RemoteAddr())
	assert.Equal(t, time.Duration(0), s.SendDelay())
	assert.Equal(t, DefaultReadChunkSize, s.config.ReadChunkSize)

	other := New(nil, Config{})
	assert.NotEqual(t, s.ID(), other.ID())
}

func TestSession_Connect(t *testing.T) {
	t.Run("fires connected and reports state", func(t *testing.T) {
		s, _, _ := dialSession(t, framing.LineDetector(), DefaultConfig())
		assert.True(t, s.IsConnected())
	})

	t.Run("second connect is rejected", func(t *testing.T) {
		s, _, _ := dialSession(t, framing.LineDetector(), DefaultConfig())
		assert.ErrorIs(t, s.Connect("127.0.0.1", 1), ErrSessionUsed)
	})

	t.Run("refused connection reports ConnectionError", func(t *testing.T) {
		ln, host, port := listen(t)
		require.NoError(t, ln.Close())

		s := New(framing.LineDetector(), DefaultConfig())
		rec := newRecorder()
		rec.install(s)
		require.NoError(t, s.Connect(host, port))

		err := receive(t, rec.errs)
		var connErr *ConnectionError
		require.True(t, errors.As(err, &connErr))
		assert.Equal(t, net.JoinHostPort(host, strconv.Itoa(port)), connErr.Addr)

		waitDone(t, s)
		assert.Equal(t, Disconnected, s.State())
		assertNone(t, rec.disconnected, 50*time.Millisecond)
	})
}

func TestSession_ReadLoop(t *testing.T) {
	t.Run("message fires once the predicate completes", func(t *testing.T) {
		_, rec, server := dialSession(t, framing.LineDetector(), DefaultConfig())

		_, err := server.Write([]byte("PING"))
		require.NoError(t, err)
		assertNone(t, rec.messages, 100*time.Millisecond)

		_, err = server.Write([]byte("\n"))
		require.NoError(t, err)
		assert.Equal(t, "PING\n", receive(t, rec.messages))

		_, err = server.Write([]byte("PONG\n"))
		require.NoError(t, err)
		assert.Equal(t, "PONG\n", receive(t, rec.messages), "buffer was reset after the first message")
	})

	t.Run("small chunks accumulate into one message", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.ReadChunkSize = 3
		_, rec, server := dialSession(t, framing.LineDetector(), cfg)

		_, err := server.Write([]byte("hello chunked world\n"))
		require.NoError(t, err)
		assert.Equal(t, "hello chunked world\n", receive(t, rec.messages))
		assertNone(t, rec.messages, 50*time.Millisecond)
	})

	t.Run("both paths fire on the same buffer", func(t *testing.T) {
		_, rec, server := dialSession(t, framing.Delimiter([]byte(";")), DefaultConfig())

		_, err := server.Write([]byte("abc;"))
		require.NoError(t, err)
		assert.Equal(t, "abc;", receive(t, rec.messages))
		assert.Equal(t, []byte("abc;"), receive(t, rec.data))
	})

	t.Run("text completion discards pending binary bytes", func(t *testing.T) {
		detector := framing.Funcs{
			Text:   func(text string) bool { return strings.HasSuffix(text, "\n") },
			Binary: func(data []byte) bool { return len(data) == 4 },
		}
		_, rec, server := dialSession(t, detector, DefaultConfig())

		_, err := server.Write([]byte("AB\n"))
		require.NoError(t, err)
		assert.Equal(t, "AB\n", receive(t, rec.messages))

		_, err = server.Write([]byte("WXYZ"))
		require.NoError(t, err)
		assert.Equal(t, []byte("WXYZ"), receive(t, rec.data), "count restarts from an empty buffer")
	})

	t.Run("remote close tears down without error", func(t *testing.T) {
		s, rec, server := dialSession(t, framing.LineDetector(), DefaultConfig())
		addr := s.RemoteAddr()

		require.NoError(t, server.Close())
		assert.Equal(t, addr, receive(t, rec.disconnected))
		waitDone(t, s)
		assert.Equal(t, Disconnected, s.State())
		assertNone(t, rec.errs, 50*time.Millisecond)
	})

	t.Run("buffer overflow ends the session", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.MaxBufferSize = 8
		s, rec, server := dialSession(t, framing.Never(), cfg)

		_, err := server.Write([]byte("0123456789"))
		require.NoError(t, err)

		err = receive(t, rec.errs)
		var transportErr *TransportError
		require.True(t, errors.As(err, &transportErr))
		assert.Equal(t, "read", transportErr.Op)
		assert.ErrorIs(t, err, ErrBufferOverflow)

		receive(t, rec.disconnected)
		waitDone(t, s)
	})
}

func TestSession_Send(t *testing.T) {
	t.Run("writes arrive in enqueue order", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.SendDelay = 5 * time.Millisecond
		s, rec, server := dialSession(t, framing.Never(), cfg)

		s.SendText("A")
		s.SendText("B")
		s.SendText("C")

		buf := make([]byte, 3)
		_, err := io.ReadFull(server, buf)
		require.NoError(t, err)
		assert.Equal(t, "ABC", string(buf))

		assert.Equal(t, "A", receive(t, rec.sent))
		assert.Equal(t, "B", receive(t, rec.sent))
		assert.Equal(t, "C", receive(t, rec.sent))
	})

	t.Run("many concurrent senders never interleave", func(t *testing.T) {
		s, _, server := dialSession(t, framing.Never(), DefaultConfig())

		const senders = 20
		payload := strings.Repeat("x", 100)
		var wg sync.WaitGroup
		wg.Add(senders)
		for i := 0; i < senders; i++ {
			go func() {
				defer wg.Done()
				s.SendText(payload + "\n")
			}()
		}
		wg.Wait()

		buf := make([]byte, senders*(len(payload)+1))
		_, err := io.ReadFull(server, buf)
		require.NoError(t, err)
		for _, line := range strings.Split(strings.TrimSuffix(string(buf), "\n"), "\n") {
			assert.Equal(t, payload, line)
		}
	})

	t.Run("descriptions summarize binary payloads", func(t *testing.T) {
		s, rec, server := dialSession(t, framing.Never(), DefaultConfig())

		path := filepath.Join(t.TempDir(), "payload.bin")
		require.NoError(t, os.WriteFile(path, []byte("12345"), 0644))

		s.SendBytes([]byte{1, 2, 3})
		s.SendEncodedPayload([]byte("png"), "[IMAGE image/png]")
		s.SendFile(path)

		assert.Equal(t, "[DATA Size: 3]", receive(t, rec.sent))
		assert.Equal(t, "[IMAGE image/png]", receive(t, rec.sent))
		assert.Equal(t, "[FILE Size: 5, Path: "+path+"]", receive(t, rec.sent))

		buf := make([]byte, 3+3+5)
		_, err := io.ReadFull(server, buf)
		require.NoError(t, err)
		assert.Equal(t, append([]byte{1, 2, 3}, []byte("png12345")...), buf)
	})

	t.Run("unreadable file is reported and the session survives", func(t *testing.T) {
		s, rec, _ := dialSession(t, framing.Never(), DefaultConfig())

		s.SendFile(filepath.Join(t.TempDir(), "missing"))

		err := receive(t, rec.errs)
		var transportErr *TransportError
		require.True(t, errors.As(err, &transportErr))
		assert.Equal(t, "send", transportErr.Op)
		assert.True(t, s.IsConnected())

		s.SendText("still here")
		assert.Equal(t, "still here", receive(t, rec.sent))
	})

	t.Run("send while disconnected is a silent no-op", func(t *testing.T) {
		s := New(framing.Never(), DefaultConfig())
		rec := newRecorder()
		rec.install(s)

		s.SendText("dropped")
		s.SendBytes([]byte("dropped"))
		assert.Equal(t, 0, s.queue.len())
		assertNone(t, rec.sent, 50*time.Millisecond)
		assertNone(t, rec.errs, 10*time.Millisecond)
	})

	t.Run("set send delay", func(t *testing.T) {
		s := New(framing.Never(), DefaultConfig())
		s.SetSendDelay(20 * time.Millisecond)
		assert.Equal(t, 20*time.Millisecond, s.SendDelay())
		s.SetSendDelay(-1)
		assert.Equal(t, time.Duration(0), s.SendDelay())
	})
}

func TestSession_Disconnect(t *testing.T) {
	t.Run("fires disconnected asynchronously and closes the socket", func(t *testing.T) {
		s, rec, server := dialSession(t, framing.LineDetector(), DefaultConfig())
		addr := s.RemoteAddr()

		s.Disconnect()
		assert.Equal(t, addr, receive(t, rec.disconnected))
		waitDone(t, s)
		assert.Equal(t, Disconnected, s.State())

		_ = server.SetReadDeadline(time.Now().Add(waitTimeout))
		_, err := server.Read(make([]byte, 1))
		assert.ErrorIs(t, err, io.EOF)
		assertNone(t, rec.errs, 50*time.Millisecond)
	})

	t.Run("no sent event follows disconnected", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.SendDelay = time.Millisecond
		s, rec, _ := dialSession(t, framing.Never(), cfg)

		for i := 0; i < 50; i++ {
			s.SendText("x")
		}
		s.Disconnect()
		waitDone(t, s)

		events := rec.events()
		require.NotEmpty(t, events)
		assert.Equal(t, "disconnected", events[len(events)-1])

		s.SendText("late")
		time.Sleep(50 * time.Millisecond)
		assert.Equal(t, events, rec.events())
	})

	t.Run("disconnect is a no-op when not connected", func(t *testing.T) {
		s := New(framing.Never(), DefaultConfig())
		rec := newRecorder()
		rec.install(s)

		s.Disconnect()
		assert.Equal(t, Disconnected, s.State())
		assertNone(t, rec.disconnected, 50*time.Millisecond)
	})

	t.Run("repeated disconnect fires once", func(t *testing.T) {
		s, rec, _ := dialSession(t, framing.Never(), DefaultConfig())

		s.Disconnect()
		s.Disconnect()
		receive(t, rec.disconnected)
		waitDone(t, s)
		s.Disconnect()
		assertNone(t, rec.disconnected, 50*time.Millisecond)
	})
}

func TestAdopt(t *testing.T) {
	t.Run("adopted session reads and writes once started", func(t *testing.T) {
		local, remote := net.Pipe()
		defer remote.Close()

		rec := newRecorder()
		s := Adopt(local, framing.LineDetector(), DefaultConfig(), rec.listeners())
		assert.True(t, s.IsConnected())
		assert.ErrorIs(t, s.Connect("127.0.0.1", 1), ErrSessionUsed)

		s.Start()
		s.Start()

		_, err := remote.Write([]byte("hi\n"))
		require.NoError(t, err)
		assert.Equal(t, "hi\n", receive(t, rec.messages))

		s.SendText("back")
		buf := make([]byte, 4)
		_, err = io.ReadFull(remote, buf)
		require.NoError(t, err)
		assert.Equal(t, "back", string(buf))
		assert.Equal(t, "back", receive(t, rec.sent))
		assertNone(t, rec.connected, 20*time.Millisecond)

		s.Disconnect()
		receive(t, rec.disconnected)
		waitDone(t, s)
	})

	t.Run("disconnect before start still tears down", func(t *testing.T) {
		local, remote := net.Pipe()
		defer remote.Close()

		rec := newRecorder()
		s := Adopt(local, framing.Never(), DefaultConfig(), rec.listeners())

		s.Disconnect()
		receive(t, rec.disconnected)
		waitDone(t, s)
	})
}

func TestSendQueue(t *testing.T) {
	t.Run("pops in push order", func(t *testing.T) {
		q := newSendQueue()
		for _, d := range []string{"a", "b", "c"} {
			assert.True(t, q.push(sendJob{description: d}))
		}
		assert.Equal(t, 3, q.len())

		for _, want := range []string{"a", "b", "c"} {
			job, ok := q.pop()
			require.True(t, ok)
			assert.Equal(t, want, job.description)
		}
	})

	t.Run("close wakes a blocked pop and rejects pushes", func(t *testing.T) {
		q := newSendQueue()
		result := make(chan bool, 1)
		go func() {
			_, ok := q.pop()
			result <- ok
		}()

		time.Sleep(10 * time.Millisecond)
		q.close()
		assert.False(t, receive(t, result))
		assert.False(t, q.push(sendJob{}))
		q.close()
	})

	t.Run("close drops pending jobs", func(t *testing.T) {
		q := newSendQueue()
		q.push(sendJob{description: "pending"})
		q.close()
		_, ok := q.pop()
		assert.False(t, ok)
		assert.Equal(t, 0, q.len())
	})
}
