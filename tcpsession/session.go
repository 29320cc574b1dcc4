// Package tcpsession implements a TCP session: one connected socket whose
// byte stream is segmented into messages by a caller-supplied
// framing.Detector, with a strictly ordered send queue and a single owner of
// the socket's close.
//
// Only the read loop closes the socket. Disconnect cancels the session and
// unblocks a pending read; the read loop then runs teardown, closes the
// socket, waits for the send worker and fires OnDisconnected. After that the
// Session is inert.
package tcpsession

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cyberinferno/go-tcpsession/framing"
	"github.com/cyberinferno/go-tcpsession/idgenerator"
	"github.com/cyberinferno/go-tcpsession/logger"
)

var sessionIDs = idgenerator.NewIdGenerator(0)

// Session owns one connection: its read loop, its send queue and its
// lifecycle. It is safe for concurrent use.
type Session struct {
	id       uint32
	config   Config
	detector framing.Detector
	log      logger.Logger

	mu        sync.RWMutex
	state     State
	used      bool
	addr      string
	conn      net.Conn
	listeners Listeners

	ctx       context.Context
	cancel    context.CancelFunc
	sendDelay atomic.Int64
	queue     *sendQueue
	sendWG    sync.WaitGroup
	startOnce sync.Once
	done      chan struct{}
}

// New creates a session in the Disconnected state for an outbound
// connection. Call Connect to establish it.
//
// Parameters:
//   - detector: Framing policy; nil never completes a frame
//   - config: Per-session settings (e.g. from DefaultConfig)
//
// Returns:
//   - A new *Session
func New(detector framing.Detector, config Config) *Session {
	if detector == nil {
		detector = framing.Never()
	}

	config = config.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:       sessionIDs.Id(),
		config:   config,
		detector: detector,
		state:    Disconnected,
		ctx:      ctx,
		cancel:   cancel,
		queue:    newSendQueue(),
		done:     make(chan struct{}),
	}
	s.log = config.Logger.With(logger.Field{Key: "session_id", Value: s.id})
	s.sendDelay.Store(int64(config.SendDelay))

	return s
}

// Adopt wraps an already connected conn in a session without dialing. The
// listeners are installed before anything runs, so no event is lost; call
// Start to run the read loop and the send worker.
//
// Parameters:
//   - conn: An established connection; the session takes exclusive ownership
//   - detector: Framing policy; nil never completes a frame
//   - config: Per-session settings
//   - listeners: Ports to receive the session's events
//
// Returns:
//   - A *Session in the Connected state
func Adopt(conn net.Conn, detector framing.Detector, config Config, listeners Listeners) *Session {
	s := New(detector, config)
	s.used = true
	s.state = Connected
	s.conn = conn
	s.addr = conn.RemoteAddr().String()
	s.listeners = listeners

	return s
}

// Start runs the read loop and send worker of an adopted session. Calls after
// the first, and calls on sessions created with New, do nothing.
func (s *Session) Start() {
	s.mu.RLock()
	adopted := s.conn != nil
	s.mu.RUnlock()
	if !adopted {
		return
	}

	s.startOnce.Do(s.run)
}

// Connect dials host:port in the background and returns immediately.
// Success fires OnConnected; failure reports a *ConnectionError through the
// state listener's OnError.
//
// Parameters:
//   - host: Remote host name or IP
//   - port: Remote TCP port
//
// Returns:
//   - ErrSessionUsed if the session was already connected or adopted
func (s *Session) Connect(host string, port int) error {
	return s.ConnectContext(context.Background(), host, port)
}

// ConnectContext is Connect with a context bounding the dial.
func (s *Session) ConnectContext(ctx context.Context, host string, port int) error {
	s.mu.Lock()
	if s.used {
		s.mu.Unlock()
		return ErrSessionUsed
	}

	s.used = true
	s.state = Connecting
	s.addr = net.JoinHostPort(host, strconv.Itoa(port))
	addr := s.addr
	s.mu.Unlock()

	go s.dial(ctx, addr)
	return nil
}

func (s *Session) dial(ctx context.Context, addr string) {
	dialer := net.Dialer{Timeout: s.config.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		connErr := &ConnectionError{Addr: addr, Err: err}
		s.log.Error("connect failed", logger.Field{Key: "addr", Value: addr}, logger.Field{Key: "error", Value: err})

		s.mu.Lock()
		s.state = Disconnected
		s.mu.Unlock()

		s.queue.close()
		s.cancel()
		s.emitStateError(connErr)
		close(s.done)
		return
	}

	s.mu.Lock()
	s.conn = conn
	s.state = Connected
	s.mu.Unlock()

	s.log.Info("connected", logger.Field{Key: "addr", Value: addr})
	if l := s.stateListener(); l != nil {
		l.OnConnected(addr)
	}

	s.startOnce.Do(s.run)
}

func (s *Session) run() {
	s.sendWG.Add(1)
	go s.sendLoop()
	go s.readLoop()
}

// Disconnect requests teardown and returns without waiting for it. It is a
// no-op unless the session is Connected. The socket is closed by the read
// loop, which then fires OnDisconnected; use Done to wait for that.
func (s *Session) Disconnect() {
	s.mu.Lock()
	if s.state != Connected {
		s.mu.Unlock()
		return
	}

	s.state = Closing
	conn := s.conn
	s.mu.Unlock()

	s.log.Debug("disconnect requested", logger.Field{Key: "addr", Value: s.RemoteAddr()})
	s.queue.close()
	s.cancel()
	// Unblocks a pending Read without closing the socket.
	_ = conn.SetReadDeadline(time.Now())
	// An adopted session that was never started still needs its teardown.
	s.startOnce.Do(s.run)
}

// Done returns a channel closed once the session is finished: after teardown
// has fired OnDisconnected, or after a failed Connect.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// SendText queues text for writing. It is a silent no-op when the session is
// not connected.
func (s *Session) SendText(text string) {
	s.enqueue(sendJob{payload: []byte(text), description: text})
}

// SendBytes queues a copy of data for writing. The Sent description is
// "[DATA Size: n]".
func (s *Session) SendBytes(data []byte) {
	payload := append([]byte(nil), data...)
	s.enqueue(sendJob{payload: payload, description: fmt.Sprintf("[DATA Size: %d]", len(payload))})
}

// SendEncodedPayload queues a copy of an externally encoded payload (image,
// archive, ...) and reports description in the Sent event instead of the
// bytes.
func (s *Session) SendEncodedPayload(data []byte, description string) {
	payload := append([]byte(nil), data...)
	s.enqueue(sendJob{payload: payload, description: description})
}

// SendFile queues the contents of the file at path. The file is read on the
// send worker; a read failure is reported through the state listener's
// OnError. The Sent description is "[FILE Size: n, Path: p]".
func (s *Session) SendFile(path string) {
	s.enqueue(sendJob{path: path})
}

func (s *Session) enqueue(job sendJob) {
	if !s.IsConnected() {
		return
	}

	s.queue.push(job)
}

// SetSendDelay changes the delay waited before each subsequent write.
func (s *Session) SetSendDelay(delay time.Duration) {
	if delay < 0 {
		delay = 0
	}

	s.sendDelay.Store(int64(delay))
}

// SendDelay returns the current per-send delay.
func (s *Session) SendDelay() time.Duration {
	return time.Duration(s.sendDelay.Load())
}

// ID returns the process-unique id used in log entries.
func (s *Session) ID() uint32 {
	return s.id
}

// RemoteAddr returns the peer address as host:port, or "" before Connect.
func (s *Session) RemoteAddr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.addr
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// IsConnected reports whether the session is in the Connected state.
func (s *Session) IsConnected() bool {
	return s.State() == Connected
}

// SetStateListener replaces the state listener. Pass nil to clear it.
func (s *Session) SetStateListener(l StateListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners.State = l
}

// SetMessageListener replaces the message listener. Pass nil to clear it.
func (s *Session) SetMessageListener(l MessageListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners.Message = l
}

// SetDataListener replaces the data listener. Pass nil to clear it.
func (s *Session) SetDataListener(l DataListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners.Data = l
}

// SetSendListener replaces the send listener. Pass nil to clear it.
func (s *Session) SetSendListener(l SendListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners.Send = l
}

func (s *Session) readLoop() {
	defer s.teardown()

	chunk := make([]byte, s.config.ReadChunkSize)
	var acc bytes.Buffer
	for {
		if s.ctx.Err() != nil {
			return
		}

		n, err := s.conn.Read(chunk)
		if n > 0 {
			acc.Write(chunk[:n])
			if s.config.MaxBufferSize > 0 && acc.Len() > s.config.MaxBufferSize {
				s.emitReadError(&TransportError{Addr: s.addr, Op: "read", Err: ErrBufferOverflow})
				return
			}

			s.detect(&acc)
		}

		if err != nil {
			if s.ctx.Err() == nil && !errors.Is(err, io.EOF) {
				s.emitReadError(&TransportError{Addr: s.addr, Op: "read", Err: err})
			}

			return
		}
	}
}

// detect evaluates both predicates against the same buffer and clears the
// whole buffer when either fires.
func (s *Session) detect(acc *bytes.Buffer) {
	fired := false

	if text := acc.String(); s.detector.IsTextComplete(text) {
		s.log.Debug("message received", logger.Field{Key: "addr", Value: s.addr}, logger.Field{Key: "size", Value: len(text)})
		if l := s.messageListener(); l != nil {
			l.OnMessage(s.addr, text)
		}

		fired = true
	}

	if s.detector.IsBinaryComplete(acc.Bytes()) {
		data := append([]byte(nil), acc.Bytes()...)
		s.log.Debug("data received", logger.Field{Key: "addr", Value: s.addr}, logger.Field{Key: "size", Value: len(data)})
		if l := s.dataListener(); l != nil {
			l.OnData(s.addr, data)
		}

		fired = true
	}

	if fired {
		acc.Reset()
	}
}

// teardown is the only place the socket is closed.
func (s *Session) teardown() {
	s.mu.Lock()
	s.state = Closing
	s.mu.Unlock()

	s.queue.close()
	s.cancel()
	if err := s.conn.Close(); err != nil {
		s.log.Debug("close failed", logger.Field{Key: "addr", Value: s.addr}, logger.Field{Key: "error", Value: err})
	}

	s.sendWG.Wait()

	s.mu.Lock()
	s.state = Disconnected
	s.mu.Unlock()

	s.log.Info("disconnected", logger.Field{Key: "addr", Value: s.addr})
	if l := s.stateListener(); l != nil {
		l.OnDisconnected(s.addr)
	}

	close(s.done)
}

func (s *Session) sendLoop() {
	defer s.sendWG.Done()

	for {
		job, ok := s.queue.pop()
		if !ok {
			return
		}

		if delay := s.SendDelay(); delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-s.ctx.Done():
				timer.Stop()
				return
			}
		}

		payload, description, err := job.materialize()
		if err != nil {
			s.emitStateError(&TransportError{Addr: s.addr, Op: "send", Err: err})
			continue
		}

		if err := s.write(payload); err != nil {
			if s.ctx.Err() == nil {
				s.log.Warn("write failed", logger.Field{Key: "addr", Value: s.addr}, logger.Field{Key: "error", Value: err})
				s.emitStateError(&TransportError{Addr: s.addr, Op: "write", Err: err})
			}

			continue
		}

		s.log.Debug("sent", logger.Field{Key: "addr", Value: s.addr}, logger.Field{Key: "description", Value: description})
		if l := s.sendListener(); l != nil {
			l.OnSent(s.addr, description)
		}
	}
}

func (s *Session) write(payload []byte) error {
	if s.config.WriteTimeout > 0 {
		if err := s.conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout)); err != nil {
			return err
		}

		defer func() {
			_ = s.conn.SetWriteDeadline(time.Time{})
		}()
	}

	_, err := s.conn.Write(payload)
	return err
}

func (s *Session) emitStateError(err error) {
	if l := s.stateListener(); l != nil {
		l.OnError(s.RemoteAddr(), err)
	}
}

// emitReadError reports a read-side failure on every error channel, since
// it ends both the text and the binary stream.
func (s *Session) emitReadError(err error) {
	s.log.Error("read failed", logger.Field{Key: "addr", Value: s.addr}, logger.Field{Key: "error", Value: err})
	s.emitStateError(err)
	if l := s.messageListener(); l != nil {
		l.OnError(s.addr, err)
	}

	if l := s.dataListener(); l != nil {
		l.OnError(s.addr, err)
	}
}

func (s *Session) stateListener() StateListener {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listeners.State
}

func (s *Session) messageListener() MessageListener {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listeners.Message
}

func (s *Session) dataListener() DataListener {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listeners.Data
}

func (s *Session) sendListener() SendListener {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listeners.Send
}
