// Package wsbridge lets WebSocket clients join a tcpserver. Each upgraded
// connection is exposed as a byte stream and adopted by the server, so it is
// framed, tracked and addressed exactly like an accepted TCP connection.
package wsbridge

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/cyberinferno/go-tcpsession/logger"
	"github.com/cyberinferno/go-tcpsession/tcpserver"
	"nhooyr.io/websocket"
)

// Options configures Handler.
type Options struct {
	// Accept is passed to websocket.Accept; nil uses the library defaults,
	// which reject cross-origin requests.
	Accept *websocket.AcceptOptions
	// Text carries the stream in text messages instead of binary ones.
	Text bool
	// Logger receives upgrade failures; nil disables logging.
	Logger logger.Logger
}

// Handler returns an http.Handler that upgrades requests and adopts the
// connections into server. The request's RemoteAddr becomes the session's
// peer address. A request arriving while the server is stopped is closed
// with StatusTryAgainLater. ServeHTTP returns once the session has ended.
func Handler(server *tcpserver.Server, opts Options) http.Handler {
	log := opts.Logger
	if log == nil {
		log = logger.NewNopLogger()
	}

	msgType := websocket.MessageBinary
	if opts.Text {
		msgType = websocket.MessageText
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, opts.Accept)
		if err != nil {
			log.Warn("websocket upgrade failed", logger.Field{Key: "remote", Value: r.RemoteAddr}, logger.Field{Key: "error", Value: err})
			return
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		conn := &peerConn{Conn: websocket.NetConn(ctx, c, msgType), remote: peerAddr(r.RemoteAddr)}
		session, err := server.Adopt(conn)
		if err != nil {
			if errors.Is(err, tcpserver.ErrNotStarted) {
				_ = c.Close(websocket.StatusTryAgainLater, "server not started")
			} else {
				_ = c.Close(websocket.StatusInternalError, "adopt failed")
			}

			log.Warn("websocket adopt failed", logger.Field{Key: "remote", Value: r.RemoteAddr}, logger.Field{Key: "error", Value: err})
			return
		}

		<-session.Done()
	})
}

// peerConn reports the HTTP peer as the remote address.
type peerConn struct {
	net.Conn
	remote net.Addr
}

func (c *peerConn) RemoteAddr() net.Addr {
	return c.remote
}

func peerAddr(s string) net.Addr {
	if addr, err := net.ResolveTCPAddr("tcp", s); err == nil {
		return addr
	}

	return rawAddr(s)
}

type rawAddr string

func (a rawAddr) Network() string { return "websocket" }
func (a rawAddr) String() string  { return string(a) }
