package main

import (
	"errors"
	"net/http"
	"time"

	"github.com/cyberinferno/go-tcpsession/logger"
	"github.com/cyberinferno/go-tcpsession/tcpserver"
	"github.com/cyberinferno/go-tcpsession/wsbridge"
)

// newWSServer serves the WebSocket ingress on addr in the background. A
// listen failure is delivered on fatal.
func newWSServer(addr string, server *tcpserver.Server, log logger.Logger, fatal chan<- error) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/ws", wsbridge.Handler(server, wsbridge.Options{Logger: log}))

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("websocket ingress listening", logger.Field{Key: "addr", Value: addr})
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("websocket ingress failed", logger.Field{Key: "error", Value: err})
			select {
			case fatal <- err:
			default:
			}
		}
	}()

	return httpServer
}
