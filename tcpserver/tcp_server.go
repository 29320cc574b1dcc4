// Package tcpserver implements the server side of the session engine: it
// accepts connections, wraps each in a tcpsession.Session, keeps a table of
// live sessions keyed by peer address and routes sends to one or all of them.
package tcpserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/cyberinferno/go-tcpsession/framing"
	"github.com/cyberinferno/go-tcpsession/logger"
	"github.com/cyberinferno/go-tcpsession/safemap"
	"github.com/cyberinferno/go-tcpsession/tcpsession"
	"golang.org/x/sync/errgroup"
)

// ErrNotStarted is returned by Adopt when the server is not started.
var ErrNotStarted = errors.New("server not started")

const maxAcceptBackoff = time.Second

// Server accepts TCP connections and tracks one session per key. The table
// is the only state shared between the accept loop and callers; it is guarded
// by a read-write lock. Server is safe for concurrent use.
type Server struct {
	config   Config
	detector framing.Detector
	log      logger.Logger
	sessions *safemap.SafeMap[string, *tcpsession.Session]

	mu         sync.RWMutex
	started    bool
	generation uint64
	listener   net.Listener
	port       int
	acceptWG   sync.WaitGroup

	lmu             sync.RWMutex
	stateListener   ServerStateListener
	messageListener tcpsession.MessageListener
	dataListener    tcpsession.DataListener
	sendListener    tcpsession.SendListener
}

// New creates a stopped Server. The detector is shared by every session.
//
// Parameters:
//   - detector: Framing policy for all sessions; nil never completes a frame
//   - config: Server settings (e.g. from DefaultConfig)
//
// Returns:
//   - A new *Server; call Start to begin accepting
func New(detector framing.Detector, config Config) *Server {
	if detector == nil {
		detector = framing.Never()
	}

	config = config.withDefaults()
	return &Server{
		config:   config,
		detector: detector,
		log:      config.Logger.With(logger.Field{Key: "server", Value: config.Name}),
		sessions: safemap.NewSafeMap[string, *tcpsession.Session](),
	}
}

// SetStateListener replaces the server state listener. Pass nil to clear it.
func (s *Server) SetStateListener(l ServerStateListener) {
	s.lmu.Lock()
	defer s.lmu.Unlock()
	s.stateListener = l
}

// SetMessageListener replaces the listener receiving every session's text
// frames. Pass nil to clear it.
func (s *Server) SetMessageListener(l tcpsession.MessageListener) {
	s.lmu.Lock()
	defer s.lmu.Unlock()
	s.messageListener = l
}

// SetDataListener replaces the listener receiving every session's binary
// frames. Pass nil to clear it.
func (s *Server) SetDataListener(l tcpsession.DataListener) {
	s.lmu.Lock()
	defer s.lmu.Unlock()
	s.dataListener = l
}

// SetSendListener replaces the listener told about every completed write on
// any session. Pass nil to clear it.
func (s *Server) SetSendListener(l tcpsession.SendListener) {
	s.lmu.Lock()
	defer s.lmu.Unlock()
	s.sendListener = l
}

// Start binds port in the background and returns immediately. OnStarted
// reports the bound port (useful with port 0); a bind failure is reported as
// a *tcpsession.BindError through OnError. Start on a started server is a
// no-op.
//
// Parameters:
//   - port: TCP port to listen on; 0 picks a free port
func (s *Server) Start(port int) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}

	s.started = true
	s.generation++
	gen := s.generation
	s.mu.Unlock()

	go s.bind(gen, port)
}

func (s *Server) bind(gen uint64, port int) {
	lc := listenConfig(s.config.ReusePort)
	ln, err := lc.Listen(context.Background(), "tcp", net.JoinHostPort(s.config.Host, strconv.Itoa(port)))
	if err != nil {
		s.mu.Lock()
		if s.generation == gen {
			s.started = false
		}
		s.mu.Unlock()

		bindErr := &tcpsession.BindError{Port: port, Err: err}
		s.log.Error("server failed to start", logger.Field{Key: "port", Value: port}, logger.Field{Key: "error", Value: err})
		s.emitError(bindErr)
		return
	}

	s.mu.Lock()
	if !s.started || s.generation != gen {
		s.mu.Unlock()
		_ = ln.Close()
		return
	}

	s.listener = ln
	s.port = ln.Addr().(*net.TCPAddr).Port
	bound := s.port
	s.acceptWG.Add(1)
	s.mu.Unlock()

	go s.acceptLoop(ln)

	s.log.Info(fmt.Sprintf("%s server started", s.config.Name), logger.Field{Key: "port", Value: bound})
	if l := s.state(); l != nil {
		l.OnStarted(bound)
	}
}

// Stop closes the listener, disconnects every tracked session, clears the
// table and fires OnStopped. It does not wait for the accept loop or the
// sessions, so it may be called from any listener callback. Each session's
// OnClientDisconnected arrives asynchronously afterwards. Stop on a stopped
// server is a no-op.
func (s *Server) Stop() {
	s.stop()
}

// Shutdown stops the server and waits until the accept loop has exited and
// every session it was tracking has finished its teardown, or ctx is done.
// It must not be called from a listener callback.
//
// Parameters:
//   - ctx: Bounds the wait
//
// Returns:
//   - ctx.Err() if something did not finish in time, nil otherwise
func (s *Server) Shutdown(ctx context.Context) error {
	drained := s.stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		accepting := make(chan struct{})
		go func() {
			s.acceptWG.Wait()
			close(accepting)
		}()

		select {
		case <-accepting:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	for _, session := range drained {
		session := session
		g.Go(func() error {
			select {
			case <-session.Done():
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	}

	return g.Wait()
}

// stop performs Stop and returns the sessions it disconnected.
func (s *Server) stop() []*tcpsession.Session {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}

	s.started = false
	ln := s.listener
	s.listener = nil
	s.port = 0
	s.mu.Unlock()

	// Adopt refuses new sessions from here on, so the accept loop needs no
	// join: it exits on net.ErrClosed.
	if ln != nil {
		if err := ln.Close(); err != nil {
			s.log.Warn("listener close failed", logger.Field{Key: "error", Value: err})
		}
	}

	drained := s.disconnectAll()

	s.log.Info(fmt.Sprintf("%s server stopped", s.config.Name))
	if l := s.state(); l != nil {
		l.OnStopped()
	}

	return drained
}

// IsStarted reports whether the server is bound and accepting.
func (s *Server) IsStarted() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listener != nil
}

// Port returns the bound port, or 0 when not started.
func (s *Server) Port() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.port
}

func (s *Server) acceptLoop(ln net.Listener) {
	defer s.acceptWG.Done()

	var backoff time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}

			s.log.Error(fmt.Sprintf("%s server accept error", s.config.Name), logger.Field{Key: "error", Value: err})
			s.emitError(&tcpsession.TransportError{Addr: ln.Addr().String(), Op: "accept", Err: err})

			if backoff == 0 {
				backoff = 5 * time.Millisecond
			} else if backoff *= 2; backoff > maxAcceptBackoff {
				backoff = maxAcceptBackoff
			}
			time.Sleep(backoff)
			continue
		}

		backoff = 0
		if _, err := s.Adopt(conn); err != nil {
			_ = conn.Close()
		}
	}
}

// Adopt wraps an established connection in a session, records it in the
// table, fires OnClientConnected and starts the session. The accept loop uses
// it for TCP connections; other transports may hand in their own net.Conn.
// An existing entry under the same key is replaced and its session
// disconnected.
//
// Parameters:
//   - conn: The connection; on success the session owns it
//
// Returns:
//   - The started session
//   - ErrNotStarted if the server is not started; conn is left untouched
func (s *Server) Adopt(conn net.Conn) (*tcpsession.Session, error) {
	key := s.config.KeyFunc(conn.RemoteAddr())

	var session *tcpsession.Session
	session = tcpsession.Adopt(conn, s.detector, s.config.Session, s.sessionListeners(key, func() *tcpsession.Session {
		return session
	}))

	s.mu.RLock()
	if !s.started {
		s.mu.RUnlock()
		return nil, ErrNotStarted
	}
	prev, replaced := s.sessions.Swap(key, session)
	s.mu.RUnlock()

	if replaced {
		s.log.Warn("session replaced", logger.Field{Key: "key", Value: key})
		prev.Disconnect()
	}

	s.log.Info("client connected", logger.Field{Key: "key", Value: key}, logger.Field{Key: "session_id", Value: session.ID()})
	if l := s.state(); l != nil {
		l.OnClientConnected(key)
	}

	session.Start()
	return session, nil
}

// sessionListeners builds the ports wired into an adopted session. They keep
// the table current before forwarding events under the session's key.
func (s *Server) sessionListeners(key string, self func() *tcpsession.Session) tcpsession.Listeners {
	return tcpsession.Listeners{
		State: tcpsession.StateFuncs{
			Disconnected: func(addr string) {
				current := self()
				removed := s.sessions.DeleteIf(key, func(v *tcpsession.Session) bool { return v == current })
				if !removed && s.sessions.Has(key) {
					// A newer session owns key; its peer is still connected.
					s.log.Info("replaced session disconnected", logger.Field{Key: "key", Value: key})
					return
				}

				s.log.Info("client disconnected", logger.Field{Key: "key", Value: key})
				if l := s.state(); l != nil {
					l.OnClientDisconnected(key)
				}
			},
			Error: func(addr string, err error) {
				if l := s.state(); l != nil {
					l.OnClientError(key, err)
				}
			},
		},
		Message: tcpsession.MessageFuncs{
			Message: func(addr string, text string) {
				if l := s.message(); l != nil {
					l.OnMessage(key, text)
				}
			},
			Error: func(addr string, err error) {
				if l := s.message(); l != nil {
					l.OnError(key, err)
				}
			},
		},
		Data: tcpsession.DataFuncs{
			Data: func(addr string, data []byte) {
				if l := s.data(); l != nil {
					l.OnData(key, data)
				}
			},
			Error: func(addr string, err error) {
				if l := s.data(); l != nil {
					l.OnError(key, err)
				}
			},
		},
		Send: tcpsession.SendFunc(func(addr string, description string) {
			if l := s.send(); l != nil {
				l.OnSent(key, description)
			}
		}),
	}
}

// Session returns the live session stored under key.
func (s *Server) Session(key string) (*tcpsession.Session, bool) {
	return s.sessions.Load(key)
}

// Sessions returns a snapshot of the tracked sessions.
func (s *Server) Sessions() []*tcpsession.Session {
	return s.sessions.Values()
}

// Keys returns a snapshot of the table keys.
func (s *Server) Keys() []string {
	return s.sessions.Keys()
}

// Len returns the number of tracked sessions.
func (s *Server) Len() int {
	return s.sessions.Len()
}

// SendText queues text on the session stored under target. An unknown target
// is a silent no-op; check Session first to tell the cases apart. The Sent
// event fires when the write completes.
func (s *Server) SendText(target string, text string) {
	if session, ok := s.sessions.Load(target); ok {
		session.SendText(text)
	}
}

// SendBytes queues data on the session stored under target. Unknown targets
// are ignored.
func (s *Server) SendBytes(target string, data []byte) {
	if session, ok := s.sessions.Load(target); ok {
		session.SendBytes(data)
	}
}

// SendEncodedPayload queues an encoded payload with its description on the
// session stored under target. Unknown targets are ignored.
func (s *Server) SendEncodedPayload(target string, data []byte, description string) {
	if session, ok := s.sessions.Load(target); ok {
		session.SendEncodedPayload(data, description)
	}
}

// SendFile queues the file at path on the session stored under target.
// Unknown targets are ignored.
func (s *Server) SendFile(target string, path string) {
	if session, ok := s.sessions.Load(target); ok {
		session.SendFile(path)
	}
}

// BroadcastText queues text on every tracked session.
func (s *Server) BroadcastText(text string) {
	s.sessions.Range(func(_ string, session *tcpsession.Session) bool {
		session.SendText(text)
		return true
	})
}

// BroadcastBytes queues data on every tracked session.
func (s *Server) BroadcastBytes(data []byte) {
	s.sessions.Range(func(_ string, session *tcpsession.Session) bool {
		session.SendBytes(data)
		return true
	})
}

// DisconnectAll empties the table and requests disconnect of every session
// that was in it. A panic from one session is logged and does not stop the
// others.
func (s *Server) DisconnectAll() {
	s.disconnectAll()
}

func (s *Server) disconnectAll() []*tcpsession.Session {
	drained := s.sessions.Drain()
	for _, session := range drained {
		s.disconnect(session)
	}

	return drained
}

func (s *Server) disconnect(session *tcpsession.Session) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("disconnect failed", logger.Field{Key: "addr", Value: session.RemoteAddr()}, logger.Field{Key: "error", Value: r})
		}
	}()

	session.Disconnect()
}

func (s *Server) emitError(err error) {
	if l := s.state(); l != nil {
		l.OnError(err)
	}
}

func (s *Server) state() ServerStateListener {
	s.lmu.RLock()
	defer s.lmu.RUnlock()
	return s.stateListener
}

func (s *Server) message() tcpsession.MessageListener {
	s.lmu.RLock()
	defer s.lmu.RUnlock()
	return s.messageListener
}

func (s *Server) data() tcpsession.DataListener {
	s.lmu.RLock()
	defer s.lmu.RUnlock()
	return s.dataListener
}

func (s *Server) send() tcpsession.SendListener {
	s.lmu.RLock()
	defer s.lmu.RUnlock()
	return s.sendListener
}
